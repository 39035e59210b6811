package infrastructure

import (
	"context"
	"sync"

	"github.com/pkg/errors"
	"gorm.io/gorm"

	"orderpay/internal/service/order/domain/port"
)

// GormSagaJournal 把支付 saga 的每一步写入 saga_logs 表
type GormSagaJournal struct {
	db *gorm.DB
}

func NewGormSagaJournal(db *gorm.DB) *GormSagaJournal {
	return &GormSagaJournal{db: db}
}

func (j *GormSagaJournal) Append(ctx context.Context, record port.SagaRecord) error {
	model := &SagaLogModel{
		SagaID:    record.SagaID,
		OrderID:   record.OrderID,
		Step:      record.Step,
		Status:    record.Status,
		Detail:    record.Detail,
		TraceID:   record.TraceID,
		SpanID:    record.SpanID,
		CreatedAt: record.CreatedAt,
	}
	if err := j.db.WithContext(ctx).Create(model).Error; err != nil {
		return errors.Wrapf(err, "append saga log %s/%s", record.SagaID, record.Step)
	}
	return nil
}

func (j *GormSagaJournal) FindByOrder(ctx context.Context, orderID string) ([]port.SagaRecord, error) {
	var models []SagaLogModel
	err := j.db.WithContext(ctx).Where("order_id = ?", orderID).Order("id asc").Find(&models).Error
	if err != nil {
		return nil, errors.Wrapf(err, "find saga logs of order %s", orderID)
	}
	out := make([]port.SagaRecord, 0, len(models))
	for i := range models {
		out = append(out, toSagaRecord(&models[i]))
	}
	return out, nil
}

// MemorySagaJournal 是 SagaJournal 的内存实现
type MemorySagaJournal struct {
	mu      sync.Mutex
	records []port.SagaRecord
}

func NewMemorySagaJournal() *MemorySagaJournal {
	return &MemorySagaJournal{}
}

func (j *MemorySagaJournal) Append(_ context.Context, record port.SagaRecord) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.records = append(j.records, record)
	return nil
}

func (j *MemorySagaJournal) FindByOrder(_ context.Context, orderID string) ([]port.SagaRecord, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	var out []port.SagaRecord
	for _, r := range j.records {
		if r.OrderID == orderID {
			out = append(out, r)
		}
	}
	return out, nil
}
