package port

import "context"

// Unlock 释放 OrderLocker 获得的锁
type Unlock func()

// OrderLocker 为同一个订单上的支付流程提供互斥。
// Lock 阻塞直到拿到锁或 ctx 结束。
type OrderLocker interface {
	Lock(ctx context.Context, orderID string) (Unlock, error)
}
