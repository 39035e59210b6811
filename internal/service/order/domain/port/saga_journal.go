package port

import (
	"context"
	"time"
)

// SagaRecord 是支付 saga 的一条执行记录
type SagaRecord struct {
	SagaID    string
	OrderID   string
	Step      string
	Status    string
	Detail    string
	TraceID   string
	SpanID    string
	CreatedAt time.Time
}

// SagaJournal 追加并查询 saga 执行记录
type SagaJournal interface {
	Append(ctx context.Context, record SagaRecord) error
	FindByOrder(ctx context.Context, orderID string) ([]SagaRecord, error)
}
