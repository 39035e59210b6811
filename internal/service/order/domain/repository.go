// internal/service/order/domain/repository.go
package domain

import "context"

// OrderRepository 定义了订单聚合的持久化接口。
// 它位于领域层，但由基础设施层实现。查询不到时返回 ErrOrderNotFound。
type OrderRepository interface {
	// Save 保存一个订单聚合及其明细（用于创建）。
	Save(ctx context.Context, order *Order) error

	// UpdateStatus 只更新状态和更新时间。
	UpdateStatus(ctx context.Context, id string, status OrderStatus) error

	FindByID(ctx context.Context, id string) (*Order, error)

	// FindAll 按创建时间倒序返回全部订单。
	FindAll(ctx context.Context) ([]*Order, error)

	// FindByMember 按创建时间倒序返回某会员的订单。
	FindByMember(ctx context.Context, memberID int64) ([]*Order, error)
}

// PaymentRepository 定义了支付聚合的持久化接口。
// 同一个 OrderID 只允许一条记录，重复创建返回 ErrDuplicatePayment。
type PaymentRepository interface {
	Create(ctx context.Context, payment *Payment) error

	UpdateStatus(ctx context.Context, id string, status PaymentStatus) error

	// FindByID 查询不到时返回 ErrPaymentNotFound。
	FindByID(ctx context.Context, id string) (*Payment, error)

	// FindByOrderID 查询不到时返回 ErrPaymentNotFound。
	FindByOrderID(ctx context.Context, orderID string) (*Payment, error)
}
