// internal/service/order/domain/state.go
package domain

// OrderStatus 定义了订单的生命周期状态
type OrderStatus string

const (
	OrderStatusOrdered   OrderStatus = "ORDERED"   // 已下单，等待支付
	OrderStatusPaid      OrderStatus = "PAID"      // 已支付
	OrderStatusCancelled OrderStatus = "CANCELLED" // 已取消
	OrderStatusFailed    OrderStatus = "FAILED"    // 库存不足或支付流程失败
)

// IsFinal 判断订单是否已处于终态
func (s OrderStatus) IsFinal() bool {
	switch s {
	case OrderStatusPaid, OrderStatusCancelled, OrderStatusFailed:
		return true
	}
	return false
}

func (s OrderStatus) IsValid() bool {
	switch s {
	case OrderStatusOrdered, OrderStatusPaid, OrderStatusCancelled, OrderStatusFailed:
		return true
	}
	return false
}

// ParseOrderStatus 把外部输入转换为 OrderStatus
func ParseOrderStatus(s string) (OrderStatus, error) {
	status := OrderStatus(s)
	if !status.IsValid() {
		return "", ErrInvalidStatus
	}
	return status, nil
}

// PaymentStatus 定义了支付记录的状态
type PaymentStatus string

const (
	PaymentStatusRequested PaymentStatus = "REQUESTED"
	PaymentStatusSuccess   PaymentStatus = "SUCCESS"
	PaymentStatusFailed    PaymentStatus = "FAILED"

	// PaymentStatusNotRequested 只用于查询结果，表示该订单还没有支付记录，从不落库
	PaymentStatusNotRequested PaymentStatus = "NOT_REQUESTED"
)

func (s PaymentStatus) IsValid() bool {
	switch s {
	case PaymentStatusRequested, PaymentStatusSuccess, PaymentStatusFailed:
		return true
	}
	return false
}
