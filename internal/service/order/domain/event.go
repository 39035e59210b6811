// internal/service/order/domain/event.go
package domain

import (
	"strconv"
	"time"
)

const (
	TopicOrderCreated      = "order.created"
	TopicPaymentCompleted  = "payment.completed"
	TopicPaymentFailed     = "payment.failed"
	TopicPointChanged      = "point.changed"
	TopicDeliveryStarted   = "delivery.started"
	TopicInventoryReserved = "inventory.reserved"
	TopicInventoryFailed   = "inventory.failed"

	PointChangeSave = "SAVE"

	// PaymentFailureReason 是支付补偿时对外发布的固定原因
	PaymentFailureReason = "payment system error"
)

// Event 是本服务发布的领域事件。
// 每种事件固定对应一个 topic 和一个分区 key，集合是封闭的。
type Event interface {
	Topic() string
	Key() string
	event()
}

// OrderCreatedItem 是 OrderCreated 中的订单明细
type OrderCreatedItem struct {
	ProductID int64 `json:"productId"`
	Quantity  int   `json:"quantity"`
	Price     Money `json:"price"`
}

// OrderCreated 在订单落库后广播给库存等下游服务
type OrderCreated struct {
	OrderID    string             `json:"orderId"`
	MemberID   int64              `json:"memberId"`
	TotalPrice Money              `json:"totalPrice"`
	Address    string             `json:"address"`
	Items      []OrderCreatedItem `json:"items"`
	CreatedAt  time.Time          `json:"createdAt"`
	TraceID    string             `json:"traceId"`
}

func (e OrderCreated) Topic() string { return TopicOrderCreated }
func (e OrderCreated) Key() string   { return e.OrderID }
func (OrderCreated) event()          {}

// NewOrderCreated 由订单快照构造事件，traceID 可以与订单上保存的不同 (重发场景)
func NewOrderCreated(o *Order, traceID string) OrderCreated {
	items := make([]OrderCreatedItem, 0, len(o.Items))
	for _, it := range o.Items {
		items = append(items, OrderCreatedItem{ProductID: it.ProductID, Quantity: it.Quantity, Price: NewMoney(it.Price)})
	}
	return OrderCreated{
		OrderID:    o.ID,
		MemberID:   o.MemberID,
		TotalPrice: NewMoney(o.TotalPrice),
		Address:    o.Address,
		Items:      items,
		CreatedAt:  o.CreatedAt,
		TraceID:    traceID,
	}
}

type PaymentCompleted struct {
	OrderID    string    `json:"orderId"`
	PaymentID  string    `json:"paymentId"`
	PaidAmount Money     `json:"paidAmount"`
	Method     string    `json:"method"`
	Timestamp  time.Time `json:"timestamp"`
	TraceID    string    `json:"traceId"`
}

func (e PaymentCompleted) Topic() string { return TopicPaymentCompleted }
func (e PaymentCompleted) Key() string   { return e.OrderID }
func (PaymentCompleted) event()          {}

type PaymentFailed struct {
	OrderID   string    `json:"orderId"`
	Reason    string    `json:"reason"`
	Timestamp time.Time `json:"timestamp"`
	TraceID   string    `json:"traceId"`
}

func (e PaymentFailed) Topic() string { return TopicPaymentFailed }
func (e PaymentFailed) Key() string   { return e.OrderID }
func (PaymentFailed) event()          {}

// PointChanged 按会员分区，保证同一会员的积分变更有序
type PointChanged struct {
	MemberID   int64     `json:"memberId"`
	OrderID    string    `json:"orderId"`
	ChangeType string    `json:"changeType"`
	Amount     Money     `json:"amount"`
	Reason     string    `json:"reason"`
	Timestamp  time.Time `json:"timestamp"`
	TraceID    string    `json:"traceId"`
}

func (e PointChanged) Topic() string { return TopicPointChanged }
func (e PointChanged) Key() string   { return strconv.FormatInt(e.MemberID, 10) }
func (PointChanged) event()          {}

type DeliveryStarted struct {
	OrderID        string    `json:"orderId"`
	DeliveryID     string    `json:"deliveryId"`
	TrackingNumber string    `json:"trackingNumber"`
	Company        string    `json:"company"`
	StartedAt      time.Time `json:"startedAt"`
	TraceID        string    `json:"traceId"`
}

func (e DeliveryStarted) Topic() string { return TopicDeliveryStarted }
func (e DeliveryStarted) Key() string   { return e.OrderID }
func (DeliveryStarted) event()          {}

// InventoryReserved 由库存服务发布，本服务只记录日志
type InventoryReserved struct {
	OrderID   string `json:"orderId"`
	ProductID int64  `json:"productId"`
	Reserved  bool   `json:"reserved"`
	Timestamp string `json:"timestamp"`
	TraceID   string `json:"traceId"`
}

// InventoryFailed 由库存服务发布，触发订单补偿为 FAILED
type InventoryFailed struct {
	OrderID   string `json:"orderId"`
	ProductID int64  `json:"productId"`
	Reason    string `json:"reason"`
	Timestamp string `json:"timestamp"`
	TraceID   string `json:"traceId"`
}
