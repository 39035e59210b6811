package infrastructure

import (
	"context"
	"time"

	gomysql "github.com/go-sql-driver/mysql"
	"github.com/pkg/errors"
	"gorm.io/gorm"

	"orderpay/internal/service/order/domain"
)

// GormOrderRepository 是 OrderRepository 的 GORM 实现
type GormOrderRepository struct {
	db *gorm.DB
}

func NewGormOrderRepository(db *gorm.DB) *GormOrderRepository {
	return &GormOrderRepository{db: db}
}

// Save 在一个事务里写入订单和明细
func (r *GormOrderRepository) Save(ctx context.Context, order *domain.Order) error {
	model := FromDomainOrder(order)
	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		return errors.Wrapf(err, "save order %s", order.ID)
	}
	return nil
}

func (r *GormOrderRepository) UpdateStatus(ctx context.Context, id string, status domain.OrderStatus) error {
	res := r.db.WithContext(ctx).Model(&OrderModel{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":     string(status),
			"updated_at": time.Now().UTC(),
		})
	if res.Error != nil {
		return errors.Wrapf(res.Error, "update order %s status", id)
	}
	if res.RowsAffected == 0 {
		return domain.ErrOrderNotFound
	}
	return nil
}

func (r *GormOrderRepository) FindByID(ctx context.Context, id string) (*domain.Order, error) {
	var model OrderModel
	err := r.db.WithContext(ctx).Preload("Items").Where("id = ?", id).First(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrOrderNotFound
		}
		return nil, errors.Wrapf(err, "find order %s", id)
	}
	return ToDomainOrder(&model), nil
}

func (r *GormOrderRepository) FindAll(ctx context.Context) ([]*domain.Order, error) {
	var models []OrderModel
	if err := r.db.WithContext(ctx).Preload("Items").Order("created_at desc").Find(&models).Error; err != nil {
		return nil, errors.Wrap(err, "list orders")
	}
	return toDomainOrders(models), nil
}

func (r *GormOrderRepository) FindByMember(ctx context.Context, memberID int64) ([]*domain.Order, error) {
	var models []OrderModel
	err := r.db.WithContext(ctx).Preload("Items").
		Where("member_id = ?", memberID).
		Order("created_at desc").
		Find(&models).Error
	if err != nil {
		return nil, errors.Wrapf(err, "list orders of member %d", memberID)
	}
	return toDomainOrders(models), nil
}

func toDomainOrders(models []OrderModel) []*domain.Order {
	orders := make([]*domain.Order, 0, len(models))
	for i := range models {
		orders = append(orders, ToDomainOrder(&models[i]))
	}
	return orders
}

// GormPaymentRepository 是 PaymentRepository 的 GORM 实现
type GormPaymentRepository struct {
	db *gorm.DB
}

func NewGormPaymentRepository(db *gorm.DB) *GormPaymentRepository {
	return &GormPaymentRepository{db: db}
}

// Create 插入支付记录，order_id 唯一索引冲突时返回 domain.ErrDuplicatePayment
func (r *GormPaymentRepository) Create(ctx context.Context, payment *domain.Payment) error {
	model := FromDomainPayment(payment)
	model.UpdatedAt = model.RequestedAt
	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		if isDuplicateKey(err) {
			return domain.ErrDuplicatePayment
		}
		return errors.Wrapf(err, "create payment for order %s", payment.OrderID)
	}
	return nil
}

func (r *GormPaymentRepository) UpdateStatus(ctx context.Context, id string, status domain.PaymentStatus) error {
	res := r.db.WithContext(ctx).Model(&PaymentModel{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":     string(status),
			"updated_at": time.Now().UTC(),
		})
	if res.Error != nil {
		return errors.Wrapf(res.Error, "update payment %s status", id)
	}
	if res.RowsAffected == 0 {
		return domain.ErrPaymentNotFound
	}
	return nil
}

func (r *GormPaymentRepository) FindByID(ctx context.Context, id string) (*domain.Payment, error) {
	return r.findOne(ctx, "id = ?", id)
}

func (r *GormPaymentRepository) FindByOrderID(ctx context.Context, orderID string) (*domain.Payment, error) {
	return r.findOne(ctx, "order_id = ?", orderID)
}

func (r *GormPaymentRepository) findOne(ctx context.Context, query string, arg string) (*domain.Payment, error) {
	var model PaymentModel
	err := r.db.WithContext(ctx).Where(query, arg).First(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrPaymentNotFound
		}
		return nil, errors.Wrap(err, "find payment")
	}
	return ToDomainPayment(&model), nil
}

// isDuplicateKey 识别唯一键冲突，未开启 TranslateError 时退回到 MySQL 错误码
func isDuplicateKey(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var myErr *gomysql.MySQLError
	if errors.As(err, &myErr) && myErr.Number == 1062 {
		return true
	}
	return false
}
