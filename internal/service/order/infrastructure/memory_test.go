package infrastructure

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"github.com/pkg/errors"
	"github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"orderpay/internal/service/order/domain"
)

func TestMemoryOrderRepositoryIsolation(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryOrderRepository()
	o := newTestOrder(t, 1, "24")
	require.NoError(t, repo.Save(ctx, o))

	o.Status = domain.OrderStatusPaid
	got, err := repo.FindByID(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusOrdered, got.Status, "caller mutations do not leak into the store")

	got.Items[0].Quantity = 999
	again, err := repo.FindByID(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, again.Items[0].Quantity)
}

func TestMemoryOrderRepositoryUpdateAndList(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryOrderRepository()
	a := newTestOrder(t, 1, "1")
	b := newTestOrder(t, 2, "2")
	require.NoError(t, repo.Save(ctx, a))
	require.NoError(t, repo.Save(ctx, b))

	require.NoError(t, repo.UpdateStatus(ctx, a.ID, domain.OrderStatusCancelled))
	assert.ErrorIs(t, repo.UpdateStatus(ctx, "missing", domain.OrderStatusPaid), domain.ErrOrderNotFound)

	all, err := repo.FindAll(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	mine, err := repo.FindByMember(ctx, 1)
	require.NoError(t, err)
	require.Len(t, mine, 1)
	assert.Equal(t, domain.OrderStatusCancelled, mine[0].Status)
}

func TestMemoryPaymentRepositoryConcurrentCreate(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryPaymentRepository()

	var wg sync.WaitGroup
	var mu sync.Mutex
	created, dup := 0, 0
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := repo.Create(ctx, domain.NewPayment("order-1", decimal.NewFromInt(1), "CARD"))
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				created++
			} else if errors.Is(err, domain.ErrDuplicatePayment) {
				dup++
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, created)
	assert.Equal(t, 15, dup)
	assert.Equal(t, 1, repo.Count())
}

func TestMemoryOutboxStore(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryOutboxStore()
	require.NoError(t, store.Park(ctx, domain.PaymentFailed{OrderID: "o-1"}, errors.New("down")))
	require.NoError(t, store.Park(ctx, domain.PaymentFailed{OrderID: "o-2"}, errors.New("down")))

	pending, err := store.FetchPending(ctx, 1)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "o-1", pending[0].Key)

	require.NoError(t, store.MarkSent(ctx, pending[0].ID))
	pending, err = store.FetchPending(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "o-2", pending[0].Key)
}

type recordingWriter struct {
	mu   sync.Mutex
	msgs []kafka.Message
	err  error
}

func (w *recordingWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func TestKafkaEventPublisherKeysAndTopics(t *testing.T) {
	w := &recordingWriter{}
	p := NewKafkaEventPublisher(w)
	ctx := context.Background()

	require.NoError(t, p.Publish(ctx, domain.PaymentCompleted{OrderID: "o-1", PaymentID: "p-1", PaidAmount: domain.NewMoney(decimal.NewFromInt(5))}))
	require.NoError(t, p.Publish(ctx, domain.PointChanged{MemberID: 77, OrderID: "o-1", Amount: domain.NewMoney(decimal.NewFromInt(1))}))

	require.Len(t, w.msgs, 2)
	assert.Equal(t, domain.TopicPaymentCompleted, w.msgs[0].Topic)
	assert.Equal(t, []byte("o-1"), w.msgs[0].Key)
	assert.Equal(t, domain.TopicPointChanged, w.msgs[1].Topic)
	assert.Equal(t, []byte("77"), w.msgs[1].Key)

	var body map[string]any
	require.NoError(t, json.Unmarshal(w.msgs[0].Value, &body))
	assert.Equal(t, "p-1", body["paymentId"])
	assert.Equal(t, float64(5), body["paidAmount"])
}

func TestKafkaEventPublisherReturnsWriteError(t *testing.T) {
	w := &recordingWriter{err: errors.New("no brokers")}
	p := NewKafkaEventPublisher(w)
	err := p.Publish(context.Background(), domain.PaymentFailed{OrderID: "o-1"})
	assert.ErrorContains(t, err, "no brokers")
}
