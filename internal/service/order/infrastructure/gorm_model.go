package infrastructure

import (
	"time"

	"github.com/shopspring/decimal"
)

// OrderModel 对应数据库中的 orders 表
type OrderModel struct {
	ID         string           `gorm:"primaryKey;size:36"`
	MemberID   int64            `gorm:"index"`
	Address    string           `gorm:"size:255"`
	Status     string           `gorm:"size:16;index"`
	TotalPrice decimal.Decimal  `gorm:"type:decimal(15,2)"`
	TraceID    string           `gorm:"size:64"`
	Items      []OrderItemModel `gorm:"foreignKey:OrderID;constraint:OnDelete:CASCADE"`
	CreatedAt  time.Time        `gorm:"index"`
	UpdatedAt  time.Time
}

func (OrderModel) TableName() string {
	return "orders"
}

// OrderItemModel 对应数据库中的 order_items 表
type OrderItemModel struct {
	ID        uint            `gorm:"primaryKey"`
	OrderID   string          `gorm:"size:36;index"`
	ProductID int64
	Quantity  int
	Price     decimal.Decimal `gorm:"type:decimal(15,2)"`
}

func (OrderItemModel) TableName() string {
	return "order_items"
}

// PaymentModel 对应数据库中的 payments 表，order_id 上的唯一索引保证一单一付
type PaymentModel struct {
	ID          string          `gorm:"primaryKey;size:36"`
	OrderID     string          `gorm:"size:36;uniqueIndex"`
	Status      string          `gorm:"size:16"`
	PaidAmount  decimal.Decimal `gorm:"type:decimal(15,2)"`
	Method      string          `gorm:"size:32"`
	RequestedAt time.Time
	UpdatedAt   time.Time
}

func (PaymentModel) TableName() string {
	return "payments"
}

// OutboxEventModel 对应 outbox_events 表，保存发布失败、等待重发的事件
type OutboxEventModel struct {
	ID         uint   `gorm:"primaryKey"`
	Topic      string `gorm:"size:128"`
	MessageKey string `gorm:"size:64"`
	Payload    string `gorm:"type:text"`
	Status     string `gorm:"size:16;index"`
	Attempts   int
	LastError  string `gorm:"size:1024"`
	CreatedAt  time.Time
	UpdatedAt  time.Time
	SentAt     *time.Time
}

func (OutboxEventModel) TableName() string {
	return "outbox_events"
}

// SagaLogModel 对应 saga_logs 表
type SagaLogModel struct {
	ID        uint   `gorm:"primaryKey"`
	SagaID    string `gorm:"size:36;index"`
	OrderID   string `gorm:"size:36;index"`
	Step      string `gorm:"size:64"`
	Status    string `gorm:"size:32"`
	Detail    string `gorm:"size:1024"`
	TraceID   string `gorm:"size:64"`
	SpanID    string `gorm:"size:32"`
	CreatedAt time.Time
}

func (SagaLogModel) TableName() string {
	return "saga_logs"
}

// AllModels 返回需要自动迁移的全部模型
func AllModels() []interface{} {
	return []interface{}{
		&OrderModel{},
		&OrderItemModel{},
		&PaymentModel{},
		&OutboxEventModel{},
		&SagaLogModel{},
	}
}
