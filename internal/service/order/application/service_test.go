package application

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace/noop"

	"orderpay/internal/service/order/domain"
	"orderpay/internal/service/order/domain/port"
	"orderpay/internal/service/order/infrastructure"
	"orderpay/internal/service/order/infrastructure/adapter"
)

var errBroker = errors.New("broker unavailable")

// fakePublisher 记录已发布事件，并可以让指定 topic 的发布失败
type fakePublisher struct {
	mu     sync.Mutex
	events []domain.Event
	failOn map[string]bool
}

func newFakePublisher(failTopics ...string) *fakePublisher {
	p := &fakePublisher{failOn: make(map[string]bool)}
	for _, t := range failTopics {
		p.failOn[t] = true
	}
	return p
}

func (p *fakePublisher) Publish(_ context.Context, event domain.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.failOn[event.Topic()] {
		return errBroker
	}
	p.events = append(p.events, event)
	return nil
}

func (p *fakePublisher) topics() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.events))
	for _, e := range p.events {
		out = append(out, e.Topic())
	}
	return out
}

func (p *fakePublisher) byTopic(topic string) []domain.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []domain.Event
	for _, e := range p.events {
		if e.Topic() == topic {
			out = append(out, e)
		}
	}
	return out
}

type fixture struct {
	orders    *infrastructure.MemoryOrderRepository
	payments  *infrastructure.MemoryPaymentRepository
	outbox    *infrastructure.MemoryOutboxStore
	journal   *infrastructure.MemorySagaJournal
	publisher *fakePublisher
	orderSvc  *OrderApplicationService
	paySvc    *PaymentApplicationService
}

func newFixture(t *testing.T, publisher *fakePublisher, opts PaymentOptions) *fixture {
	t.Helper()
	points, err := adapter.NewCelPointPolicy("")
	require.NoError(t, err)

	f := &fixture{
		orders:    infrastructure.NewMemoryOrderRepository(),
		payments:  infrastructure.NewMemoryPaymentRepository(),
		outbox:    infrastructure.NewMemoryOutboxStore(),
		journal:   infrastructure.NewMemorySagaJournal(),
		publisher: publisher,
	}
	tracer := noop.NewTracerProvider().Tracer("test")
	locker := adapter.NewLocalOrderLocker()
	f.orderSvc = NewOrderApplicationService(f.orders, publisher, f.outbox, locker, tracer)
	f.paySvc = NewPaymentApplicationService(f.orders, f.payments, publisher, f.outbox,
		locker, points, f.journal, tracer, opts)
	return f
}

func createReq(total string) *CreateOrderRequest {
	return &CreateOrderRequest{
		MemberID:   7,
		Address:    "Seoul",
		TotalPrice: domain.NewMoney(decimal.RequireFromString(total)),
		Items: []OrderItemRequest{
			{ProductID: 1, Quantity: 2, Price: domain.NewMoney(decimal.RequireFromString("10000"))},
			{ProductID: 2, Quantity: 1, Price: domain.NewMoney(decimal.RequireFromString("5000"))},
		},
	}
}

func (f *fixture) mustCreate(t *testing.T, total string) *OrderResponse {
	t.Helper()
	resp, err := f.orderSvc.CreateOrder(context.Background(), createReq(total))
	require.NoError(t, err)
	return resp
}

func (f *fixture) status(t *testing.T, orderID string) domain.OrderStatus {
	t.Helper()
	o, err := f.orders.FindByID(context.Background(), orderID)
	require.NoError(t, err)
	return o.Status
}

func TestCreateOrderPersistsAndPublishes(t *testing.T) {
	f := newFixture(t, newFakePublisher(), PaymentOptions{})

	resp := f.mustCreate(t, "25000")
	assert.Equal(t, domain.OrderStatusOrdered, resp.Status)
	assert.NotEmpty(t, resp.OrderID)
	assert.NotEmpty(t, resp.TraceID)
	assert.Len(t, resp.Items, 2)

	created := f.publisher.byTopic(domain.TopicOrderCreated)
	require.Len(t, created, 1)
	evt := created[0].(domain.OrderCreated)
	assert.Equal(t, resp.OrderID, evt.Key())
	assert.Equal(t, resp.TraceID, evt.TraceID)
	assert.True(t, evt.TotalPrice.Equal(decimal.NewFromInt(25000)))
	assert.Len(t, evt.Items, 2)
}

func TestCreateOrderRejectsInvalidInput(t *testing.T) {
	f := newFixture(t, newFakePublisher(), PaymentOptions{})
	req := createReq("100")
	req.Items = nil

	_, err := f.orderSvc.CreateOrder(context.Background(), req)
	assert.ErrorIs(t, err, domain.ErrInvalidOrder)
	assert.Empty(t, f.publisher.topics())
}

func TestCreateOrderParksEventWhenBrokerDown(t *testing.T) {
	f := newFixture(t, newFakePublisher(domain.TopicOrderCreated), PaymentOptions{})

	resp, err := f.orderSvc.CreateOrder(context.Background(), createReq("100"))
	require.ErrorIs(t, err, domain.ErrEventNotPublished)
	require.NotNil(t, resp)
	assert.Contains(t, err.Error(), resp.OrderID)

	assert.Equal(t, domain.OrderStatusOrdered, f.status(t, resp.OrderID), "order is not rolled back")
	pending, err := f.outbox.FetchPending(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, domain.TopicOrderCreated, pending[0].Topic)
	assert.Equal(t, resp.OrderID, pending[0].Key)
}

func TestCreateOrderWithoutOutboxReturnsPublishError(t *testing.T) {
	pub := newFakePublisher(domain.TopicOrderCreated)
	svc := NewOrderApplicationService(infrastructure.NewMemoryOrderRepository(), pub, nil, adapter.NewLocalOrderLocker(), noop.NewTracerProvider().Tracer("test"))

	resp, err := svc.CreateOrder(context.Background(), createReq("100"))
	assert.ErrorIs(t, err, errBroker)
	assert.NotErrorIs(t, err, domain.ErrEventNotPublished)
	assert.NotNil(t, resp)
}

func TestListOrdersFiltersByMember(t *testing.T) {
	f := newFixture(t, newFakePublisher(), PaymentOptions{})
	f.mustCreate(t, "1")
	other := createReq("2")
	other.MemberID = 99
	_, err := f.orderSvc.CreateOrder(context.Background(), other)
	require.NoError(t, err)

	all, err := f.orderSvc.ListOrders(context.Background(), nil)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	member := int64(99)
	mine, err := f.orderSvc.ListOrders(context.Background(), &member)
	require.NoError(t, err)
	require.Len(t, mine, 1)
	assert.Equal(t, int64(99), mine[0].MemberID)
}

func TestGetOrderNotFound(t *testing.T) {
	f := newFixture(t, newFakePublisher(), PaymentOptions{})
	_, err := f.orderSvc.GetOrder(context.Background(), "missing")
	assert.ErrorIs(t, err, domain.ErrOrderNotFound)
}

func TestCancelOrder(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, newFakePublisher(), PaymentOptions{})
	order := f.mustCreate(t, "100")

	require.NoError(t, f.orderSvc.CancelOrder(ctx, order.OrderID))
	assert.Equal(t, domain.OrderStatusCancelled, f.status(t, order.OrderID))
	assert.Equal(t, []string{domain.TopicOrderCreated}, f.publisher.topics(), "cancel publishes nothing")

	err := f.orderSvc.CancelOrder(ctx, order.OrderID)
	assert.ErrorIs(t, err, domain.ErrInvalidStateTransition)
	assert.ErrorIs(t, f.orderSvc.CancelOrder(ctx, "missing"), domain.ErrOrderNotFound)
}

func TestCancelPaidOrderIsRejected(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, newFakePublisher(), PaymentOptions{})
	order := f.mustCreate(t, "100")
	_, err := f.paySvc.Pay(ctx, order.OrderID, &PayRequest{Method: "CARD"})
	require.NoError(t, err)

	assert.ErrorIs(t, f.orderSvc.CancelOrder(ctx, order.OrderID), domain.ErrInvalidStateTransition)
	assert.Equal(t, domain.OrderStatusPaid, f.status(t, order.OrderID))
}

func TestChangeStatusBypassesStateMachine(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, newFakePublisher(), PaymentOptions{})
	order := f.mustCreate(t, "100")
	require.NoError(t, f.orderSvc.CancelOrder(ctx, order.OrderID))

	require.NoError(t, f.orderSvc.ChangeStatus(ctx, order.OrderID, "ORDERED"))
	assert.Equal(t, domain.OrderStatusOrdered, f.status(t, order.OrderID))

	assert.ErrorIs(t, f.orderSvc.ChangeStatus(ctx, order.OrderID, "SHIPPED"), domain.ErrInvalidStatus)
	assert.ErrorIs(t, f.orderSvc.ChangeStatus(ctx, "missing", "PAID"), domain.ErrOrderNotFound)
}

func TestResendOrderCreatedUsesFreshTraceID(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, newFakePublisher(), PaymentOptions{})
	order := f.mustCreate(t, "100")

	require.NoError(t, f.orderSvc.ResendOrderCreated(ctx, order.OrderID))
	created := f.publisher.byTopic(domain.TopicOrderCreated)
	require.Len(t, created, 2)
	resent := created[1].(domain.OrderCreated)
	assert.NotEqual(t, order.TraceID, resent.TraceID)

	stored, err := f.orders.FindByID(ctx, order.OrderID)
	require.NoError(t, err)
	assert.Equal(t, order.TraceID, stored.TraceID, "resend does not persist the new trace id")

	assert.ErrorIs(t, f.orderSvc.ResendOrderCreated(ctx, "missing"), domain.ErrOrderNotFound)
}

func TestInventoryFailedMarksOrderFailedIdempotently(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, newFakePublisher(), PaymentOptions{})
	order := f.mustCreate(t, "100")
	evt := &domain.InventoryFailed{OrderID: order.OrderID, ProductID: 1, Reason: "out of stock"}

	require.NoError(t, f.orderSvc.HandleInventoryFailed(ctx, evt))
	assert.Equal(t, domain.OrderStatusFailed, f.status(t, order.OrderID))

	require.NoError(t, f.orderSvc.HandleInventoryFailed(ctx, evt), "redelivery is a no-op")
	assert.Equal(t, domain.OrderStatusFailed, f.status(t, order.OrderID))
}

func TestInventoryFailedForUnknownOrderIsAcknowledged(t *testing.T) {
	f := newFixture(t, newFakePublisher(), PaymentOptions{})
	err := f.orderSvc.HandleInventoryFailed(context.Background(), &domain.InventoryFailed{OrderID: "missing"})
	assert.NoError(t, err)
}

func TestInventoryFailedDoesNotReopenFinalOrders(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, newFakePublisher(), PaymentOptions{})
	paid := f.mustCreate(t, "100")
	_, err := f.paySvc.Pay(ctx, paid.OrderID, &PayRequest{Method: "CARD"})
	require.NoError(t, err)

	require.NoError(t, f.orderSvc.HandleInventoryFailed(ctx, &domain.InventoryFailed{OrderID: paid.OrderID}))
	assert.Equal(t, domain.OrderStatusPaid, f.status(t, paid.OrderID))
}

func TestInventoryReservedDoesNotMutate(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, newFakePublisher(), PaymentOptions{})
	order := f.mustCreate(t, "100")

	require.NoError(t, f.orderSvc.HandleInventoryReserved(ctx, &domain.InventoryReserved{OrderID: order.OrderID, Reserved: true}))
	assert.Equal(t, domain.OrderStatusOrdered, f.status(t, order.OrderID))
	assert.Equal(t, 0, f.payments.Count())
}

// gatedOrderRepo 在第一次 FindByID 时停住，直到测试关闭 release
type gatedOrderRepo struct {
	domain.OrderRepository
	once    sync.Once
	entered chan struct{}
	release chan struct{}
}

func (r *gatedOrderRepo) FindByID(ctx context.Context, id string) (*domain.Order, error) {
	r.once.Do(func() {
		close(r.entered)
		<-r.release
	})
	return r.OrderRepository.FindByID(ctx, id)
}

// lockSpy 在每次尝试加锁前通知测试
type lockSpy struct {
	port.OrderLocker
	attempts chan string
}

func (l *lockSpy) Lock(ctx context.Context, orderID string) (port.Unlock, error) {
	l.attempts <- orderID
	return l.OrderLocker.Lock(ctx, orderID)
}

func TestOrderWritesSerializeWithPayment(t *testing.T) {
	cases := []struct {
		name  string
		write func(ctx context.Context, svc *OrderApplicationService, orderID string) error
		want  domain.OrderStatus
	}{
		{
			name: "cancel",
			write: func(ctx context.Context, svc *OrderApplicationService, orderID string) error {
				return svc.CancelOrder(ctx, orderID)
			},
			want: domain.OrderStatusCancelled,
		},
		{
			name: "inventory failed",
			write: func(ctx context.Context, svc *OrderApplicationService, orderID string) error {
				return svc.HandleInventoryFailed(ctx, &domain.InventoryFailed{OrderID: orderID, Reason: "out of stock"})
			},
			want: domain.OrderStatusFailed,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ctx := context.Background()
			orders := infrastructure.NewMemoryOrderRepository()
			order, err := domain.NewOrder(7, "Seoul", []domain.OrderItem{
				{ProductID: 1, Quantity: 1, Price: decimal.NewFromInt(100)},
			}, decimal.NewFromInt(100), "t")
			require.NoError(t, err)
			require.NoError(t, orders.Save(ctx, order))

			gated := &gatedOrderRepo{OrderRepository: orders, entered: make(chan struct{}), release: make(chan struct{})}
			locker := &lockSpy{OrderLocker: adapter.NewLocalOrderLocker(), attempts: make(chan string, 4)}
			payments := infrastructure.NewMemoryPaymentRepository()
			publisher := newFakePublisher()
			points, err := adapter.NewCelPointPolicy("")
			require.NoError(t, err)
			tracer := noop.NewTracerProvider().Tracer("test")
			orderSvc := NewOrderApplicationService(gated, publisher, nil, locker, tracer)
			paySvc := NewPaymentApplicationService(gated, payments, publisher, nil, locker, points, nil, tracer, PaymentOptions{})

			// 订单写入先拿到锁，停在读取状态之后
			writeErr := make(chan error, 1)
			go func() { writeErr <- tc.write(ctx, orderSvc, order.ID) }()
			<-locker.attempts
			<-gated.entered

			payErr := make(chan error, 1)
			go func() {
				_, err := paySvc.Pay(ctx, order.ID, &PayRequest{Method: domain.PaymentMethodCard})
				payErr <- err
			}()
			<-locker.attempts
			time.Sleep(20 * time.Millisecond)
			close(gated.release)

			require.NoError(t, <-writeErr)
			assert.ErrorIs(t, <-payErr, domain.ErrOrderNotPayable)

			got, err := orders.FindByID(ctx, order.ID)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got.Status)
			_, err = payments.FindByOrderID(ctx, order.ID)
			assert.ErrorIs(t, err, domain.ErrPaymentNotFound)
			assert.Empty(t, publisher.byTopic(domain.TopicPaymentCompleted))
		})
	}
}

func TestCancelOrderFailsWhenLockUnavailable(t *testing.T) {
	f := newFixture(t, newFakePublisher(), PaymentOptions{})
	order := f.mustCreate(t, "100")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := f.orderSvc.CancelOrder(ctx, order.OrderID)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, domain.OrderStatusOrdered, f.status(t, order.OrderID))
}
