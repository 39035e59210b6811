// internal/service/order/domain/order.go
package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// OrderItem 是订单明细值对象，随订单一起创建，之后不可变
type OrderItem struct {
	ProductID int64
	Quantity  int
	Price     decimal.Decimal
}

// Order 是订单聚合的根实体
type Order struct {
	ID         string
	MemberID   int64
	Address    string
	Status     OrderStatus
	TotalPrice decimal.Decimal
	// TraceID 是创建链路的关联标识，支付链路沿用它
	TraceID   string
	Items     []OrderItem
	CreatedAt time.Time
	UpdatedAt time.Time
}

// NewOrder 校验输入并创建一个 ORDERED 状态的新订单
func NewOrder(memberID int64, address string, items []OrderItem, totalPrice decimal.Decimal, traceID string) (*Order, error) {
	if memberID <= 0 {
		return nil, fmt.Errorf("%w: memberId must be positive", ErrInvalidOrder)
	}
	if len(items) == 0 {
		return nil, fmt.Errorf("%w: at least one item is required", ErrInvalidOrder)
	}
	for i, item := range items {
		if item.Quantity <= 0 {
			return nil, fmt.Errorf("%w: item %d quantity must be positive", ErrInvalidOrder, i)
		}
		if item.Price.IsNegative() {
			return nil, fmt.Errorf("%w: item %d price must not be negative", ErrInvalidOrder, i)
		}
		if !withinMoneyScale(item.Price) {
			return nil, fmt.Errorf("%w: item %d price has more than %d decimal places", ErrInvalidOrder, i, MoneyScale)
		}
	}
	if totalPrice.IsNegative() {
		return nil, fmt.Errorf("%w: totalPrice must not be negative", ErrInvalidOrder)
	}
	if !withinMoneyScale(totalPrice) {
		return nil, fmt.Errorf("%w: totalPrice has more than %d decimal places", ErrInvalidOrder, MoneyScale)
	}

	now := time.Now().UTC()
	owned := make([]OrderItem, len(items))
	copy(owned, items)

	return &Order{
		ID:         uuid.NewString(),
		MemberID:   memberID,
		Address:    address,
		Status:     OrderStatusOrdered,
		TotalPrice: totalPrice,
		TraceID:    traceID,
		Items:      owned,
		CreatedAt:  now,
		UpdatedAt:  now,
	}, nil
}

// UpdateStatus 无条件修改状态，合法性由调用方判断
func (o *Order) UpdateStatus(status OrderStatus) {
	o.Status = status
	o.UpdatedAt = time.Now().UTC()
}

func (o *Order) IsFinal() bool {
	return o.Status.IsFinal()
}
