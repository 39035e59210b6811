// internal/service/order/application/dto.go
package application

import (
	"time"

	"orderpay/internal/service/order/domain"
)

// OrderItemRequest 是下单请求中的一条明细
type OrderItemRequest struct {
	ProductID int64        `json:"productId"`
	Quantity  int          `json:"quantity"`
	Price     domain.Money `json:"price"`
}

// CreateOrderRequest 是创建订单用例的输入数据
type CreateOrderRequest struct {
	MemberID   int64              `json:"memberId"`
	Address    string             `json:"address"`
	TotalPrice domain.Money       `json:"totalPrice"`
	Items      []OrderItemRequest `json:"items"`
}

func (req *CreateOrderRequest) toDomainItems() []domain.OrderItem {
	items := make([]domain.OrderItem, 0, len(req.Items))
	for _, it := range req.Items {
		items = append(items, domain.OrderItem{ProductID: it.ProductID, Quantity: it.Quantity, Price: it.Price.Decimal})
	}
	return items
}

type OrderItemResponse struct {
	ProductID int64        `json:"productId"`
	Quantity  int          `json:"quantity"`
	Price     domain.Money `json:"price"`
}

// OrderResponse 是订单查询的输出数据
type OrderResponse struct {
	OrderID    string              `json:"orderId"`
	MemberID   int64               `json:"memberId"`
	Address    string              `json:"address"`
	Status     domain.OrderStatus  `json:"status"`
	TotalPrice domain.Money        `json:"totalPrice"`
	TraceID    string              `json:"traceId,omitempty"`
	Items      []OrderItemResponse `json:"items,omitempty"`
	CreatedAt  time.Time           `json:"createdAt"`
	UpdatedAt  time.Time           `json:"updatedAt"`
}

func toOrderResponse(o *domain.Order) *OrderResponse {
	items := make([]OrderItemResponse, 0, len(o.Items))
	for _, it := range o.Items {
		items = append(items, OrderItemResponse{ProductID: it.ProductID, Quantity: it.Quantity, Price: domain.NewMoney(it.Price)})
	}
	return &OrderResponse{
		OrderID:    o.ID,
		MemberID:   o.MemberID,
		Address:    o.Address,
		Status:     o.Status,
		TotalPrice: domain.NewMoney(o.TotalPrice),
		TraceID:    o.TraceID,
		Items:      items,
		CreatedAt:  o.CreatedAt,
		UpdatedAt:  o.UpdatedAt,
	}
}

// OrderSummaryResponse 是订单列表中的一行
type OrderSummaryResponse struct {
	OrderID    string             `json:"orderId"`
	MemberID   int64              `json:"memberId"`
	Status     domain.OrderStatus `json:"status"`
	TotalPrice domain.Money       `json:"totalPrice"`
	CreatedAt  time.Time          `json:"createdAt"`
}

func toOrderSummary(o *domain.Order) *OrderSummaryResponse {
	return &OrderSummaryResponse{
		OrderID:    o.ID,
		MemberID:   o.MemberID,
		Status:     o.Status,
		TotalPrice: domain.NewMoney(o.TotalPrice),
		CreatedAt:  o.CreatedAt,
	}
}

// PayRequest 是手动支付用例的输入数据
type PayRequest struct {
	Method string `json:"method"`
}

// PaymentResult 是支付用例的输出。
// 支付流程内部失败并已补偿时 OrderStatus 为 FAILED，调用方仍然收到成功响应。
type PaymentResult struct {
	OrderID     string             `json:"orderId"`
	PaymentID   string             `json:"paymentId,omitempty"`
	OrderStatus domain.OrderStatus `json:"orderStatus"`
}

type PaymentResponse struct {
	PaymentID   string               `json:"paymentId"`
	OrderID     string               `json:"orderId"`
	Status      domain.PaymentStatus `json:"status"`
	PaidAmount  domain.Money         `json:"paidAmount"`
	Method      string               `json:"method"`
	RequestedAt time.Time            `json:"requestedAt"`
}

func toPaymentResponse(p *domain.Payment) *PaymentResponse {
	return &PaymentResponse{
		PaymentID:   p.ID,
		OrderID:     p.OrderID,
		Status:      p.Status,
		PaidAmount:  domain.NewMoney(p.PaidAmount),
		Method:      p.Method,
		RequestedAt: p.RequestedAt,
	}
}

type PaymentStatusResponse struct {
	OrderID string               `json:"orderId"`
	Status  domain.PaymentStatus `json:"status"`
}
