package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const (
	PaymentMethodCard = "CARD"
	PaymentMethodCash = "CASH"
)

// SupportedPaymentMethods 返回前端可选的支付方式
func SupportedPaymentMethods() []string {
	return []string{PaymentMethodCard, PaymentMethodCash}
}

// Payment 是支付聚合，通过 OrderID 关联订单，每个订单最多一条
type Payment struct {
	ID          string
	OrderID     string
	Status      PaymentStatus
	PaidAmount  decimal.Decimal
	Method      string
	RequestedAt time.Time
}

func NewPayment(orderID string, amount decimal.Decimal, method string) *Payment {
	return &Payment{
		ID:          uuid.NewString(),
		OrderID:     orderID,
		Status:      PaymentStatusRequested,
		PaidAmount:  amount,
		Method:      method,
		RequestedAt: time.Now().UTC(),
	}
}

func (p *Payment) UpdateStatus(status PaymentStatus) {
	p.Status = status
}
