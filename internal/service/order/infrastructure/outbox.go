package infrastructure

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/pkg/errors"
	"gorm.io/gorm"

	"orderpay/internal/service/order/domain"
)

const (
	OutboxStatusPending = "PENDING"
	OutboxStatusSent    = "SENT"

	maxErrorLength = 1000
)

// OutboxMessage 是一条等待重发的事件，Payload 已经是最终的消息体
type OutboxMessage struct {
	ID        uint
	Topic     string
	Key       string
	Payload   []byte
	Attempts  int
	LastError string
	CreatedAt time.Time
}

// OutboxStore 既是发布失败时的暂存端口，也是后台重发任务的数据源
type OutboxStore interface {
	Park(ctx context.Context, event domain.Event, cause error) error
	FetchPending(ctx context.Context, limit int) ([]OutboxMessage, error)
	MarkSent(ctx context.Context, id uint) error
	MarkFailed(ctx context.Context, id uint, cause error) error
}

func truncateError(err error) string {
	if err == nil {
		return ""
	}
	msg := err.Error()
	if len(msg) > maxErrorLength {
		msg = msg[:maxErrorLength]
	}
	return msg
}

// GormOutboxStore 把待重发事件保存在 outbox_events 表
type GormOutboxStore struct {
	db *gorm.DB
}

func NewGormOutboxStore(db *gorm.DB) *GormOutboxStore {
	return &GormOutboxStore{db: db}
}

func (s *GormOutboxStore) Park(ctx context.Context, event domain.Event, cause error) error {
	payload, err := encodeEvent(event)
	if err != nil {
		return err
	}
	model := &OutboxEventModel{
		Topic:      event.Topic(),
		MessageKey: event.Key(),
		Payload:    string(payload),
		Status:     OutboxStatusPending,
		LastError:  truncateError(cause),
	}
	if err := s.db.WithContext(ctx).Create(model).Error; err != nil {
		return errors.Wrapf(err, "park %s event", event.Topic())
	}
	return nil
}

func (s *GormOutboxStore) FetchPending(ctx context.Context, limit int) ([]OutboxMessage, error) {
	var models []OutboxEventModel
	err := s.db.WithContext(ctx).
		Where("status = ?", OutboxStatusPending).
		Order("id asc").
		Limit(limit).
		Find(&models).Error
	if err != nil {
		return nil, errors.Wrap(err, "fetch pending outbox events")
	}
	out := make([]OutboxMessage, 0, len(models))
	for _, m := range models {
		out = append(out, OutboxMessage{
			ID:        m.ID,
			Topic:     m.Topic,
			Key:       m.MessageKey,
			Payload:   []byte(m.Payload),
			Attempts:  m.Attempts,
			LastError: m.LastError,
			CreatedAt: m.CreatedAt,
		})
	}
	return out, nil
}

func (s *GormOutboxStore) MarkSent(ctx context.Context, id uint) error {
	sentAt := now()
	err := s.db.WithContext(ctx).Model(&OutboxEventModel{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":  OutboxStatusSent,
			"sent_at": &sentAt,
		}).Error
	return errors.Wrapf(err, "mark outbox event %d sent", id)
}

func (s *GormOutboxStore) MarkFailed(ctx context.Context, id uint, cause error) error {
	err := s.db.WithContext(ctx).Model(&OutboxEventModel{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"attempts":   gorm.Expr("attempts + 1"),
			"last_error": truncateError(cause),
		}).Error
	return errors.Wrapf(err, "mark outbox event %d failed", id)
}

// MemoryOutboxStore 是 OutboxStore 的内存实现
type MemoryOutboxStore struct {
	mu     sync.Mutex
	nextID uint
	rows   map[uint]*memoryOutboxRow
}

type memoryOutboxRow struct {
	OutboxMessage
	status string
}

func NewMemoryOutboxStore() *MemoryOutboxStore {
	return &MemoryOutboxStore{rows: make(map[uint]*memoryOutboxRow)}
}

func (s *MemoryOutboxStore) Park(_ context.Context, event domain.Event, cause error) error {
	payload, err := encodeEvent(event)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	s.rows[s.nextID] = &memoryOutboxRow{
		OutboxMessage: OutboxMessage{
			ID:        s.nextID,
			Topic:     event.Topic(),
			Key:       event.Key(),
			Payload:   payload,
			LastError: truncateError(cause),
			CreatedAt: now(),
		},
		status: OutboxStatusPending,
	}
	return nil
}

func (s *MemoryOutboxStore) FetchPending(_ context.Context, limit int) ([]OutboxMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]OutboxMessage, 0)
	for _, row := range s.rows {
		if row.status == OutboxStatusPending {
			out = append(out, row.OutboxMessage)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryOutboxStore) MarkSent(_ context.Context, id uint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if row, ok := s.rows[id]; ok {
		row.status = OutboxStatusSent
	}
	return nil
}

func (s *MemoryOutboxStore) MarkFailed(_ context.Context, id uint, cause error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if row, ok := s.rows[id]; ok {
		row.Attempts++
		row.LastError = truncateError(cause)
	}
	return nil
}
