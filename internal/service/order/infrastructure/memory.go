package infrastructure

import (
	"context"
	"sort"
	"sync"
	"time"

	"orderpay/internal/service/order/domain"
)

// MemoryOrderRepository 是不依赖数据库的 OrderRepository 实现，用于本地运行和测试。
// 读写都会复制聚合，调用方拿到的对象不会和存储共享状态。
type MemoryOrderRepository struct {
	mu     sync.RWMutex
	orders map[string]*domain.Order
}

func NewMemoryOrderRepository() *MemoryOrderRepository {
	return &MemoryOrderRepository{orders: make(map[string]*domain.Order)}
}

func (r *MemoryOrderRepository) Save(_ context.Context, order *domain.Order) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.orders[order.ID] = cloneOrder(order)
	return nil
}

func (r *MemoryOrderRepository) UpdateStatus(_ context.Context, id string, status domain.OrderStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.orders[id]
	if !ok {
		return domain.ErrOrderNotFound
	}
	o.UpdateStatus(status)
	return nil
}

func (r *MemoryOrderRepository) FindByID(_ context.Context, id string) (*domain.Order, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	o, ok := r.orders[id]
	if !ok {
		return nil, domain.ErrOrderNotFound
	}
	return cloneOrder(o), nil
}

func (r *MemoryOrderRepository) FindAll(_ context.Context) ([]*domain.Order, error) {
	return r.filter(func(*domain.Order) bool { return true }), nil
}

func (r *MemoryOrderRepository) FindByMember(_ context.Context, memberID int64) ([]*domain.Order, error) {
	return r.filter(func(o *domain.Order) bool { return o.MemberID == memberID }), nil
}

func (r *MemoryOrderRepository) filter(keep func(*domain.Order) bool) []*domain.Order {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*domain.Order, 0, len(r.orders))
	for _, o := range r.orders {
		if keep(o) {
			out = append(out, cloneOrder(o))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}

func cloneOrder(o *domain.Order) *domain.Order {
	c := *o
	c.Items = make([]domain.OrderItem, len(o.Items))
	copy(c.Items, o.Items)
	return &c
}

// MemoryPaymentRepository 是 PaymentRepository 的内存实现，按 OrderID 维护唯一性
type MemoryPaymentRepository struct {
	mu      sync.RWMutex
	byID    map[string]*domain.Payment
	byOrder map[string]string
}

func NewMemoryPaymentRepository() *MemoryPaymentRepository {
	return &MemoryPaymentRepository{
		byID:    make(map[string]*domain.Payment),
		byOrder: make(map[string]string),
	}
}

func (r *MemoryPaymentRepository) Create(_ context.Context, payment *domain.Payment) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.byOrder[payment.OrderID]; exists {
		return domain.ErrDuplicatePayment
	}
	if _, exists := r.byID[payment.ID]; exists {
		return domain.ErrDuplicatePayment
	}
	c := *payment
	r.byID[payment.ID] = &c
	r.byOrder[payment.OrderID] = payment.ID
	return nil
}

func (r *MemoryPaymentRepository) UpdateStatus(_ context.Context, id string, status domain.PaymentStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.byID[id]
	if !ok {
		return domain.ErrPaymentNotFound
	}
	p.UpdateStatus(status)
	return nil
}

func (r *MemoryPaymentRepository) FindByID(_ context.Context, id string) (*domain.Payment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.byID[id]
	if !ok {
		return nil, domain.ErrPaymentNotFound
	}
	c := *p
	return &c, nil
}

func (r *MemoryPaymentRepository) FindByOrderID(ctx context.Context, orderID string) (*domain.Payment, error) {
	r.mu.RLock()
	id, ok := r.byOrder[orderID]
	r.mu.RUnlock()
	if !ok {
		return nil, domain.ErrPaymentNotFound
	}
	return r.FindByID(ctx, id)
}

// Count 返回已保存的支付记录数
func (r *MemoryPaymentRepository) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byID)
}

func now() time.Time {
	return time.Now().UTC()
}
