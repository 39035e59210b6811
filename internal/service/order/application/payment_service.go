// internal/service/order/application/payment_service.go
package application

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"orderpay/internal/pkg/logger"
	"orderpay/internal/service/order/application/saga"
	"orderpay/internal/service/order/domain"
	"orderpay/internal/service/order/domain/port"
)

// 支付 saga 的步骤名，同时用作 span 名和 saga_logs.step
const (
	StepPersistPayment          = "persist-payment"
	StepMarkOrderPaid           = "mark-order-paid"
	StepPublishPaymentCompleted = "publish-payment-completed"
	StepPublishPointChanged     = "publish-point-changed"
	StepPublishDeliveryStarted  = "publish-delivery-started"
)

const (
	// paySagaPublishes 是一次支付在锁内最多的发布次数：三个成功事件，或失败时的 PaymentFailed
	paySagaPublishes = 4
	// payLockStoreMargin 覆盖锁内的存储读写
	payLockStoreMargin = 10 * time.Second

	pointChangeReason      = "order reward points"
	defaultDeliveryCompany = "DEFAULT_COURIER"
	trackingNumberLength   = 12
)

// ConflictPolicy 决定并发重复支付时失败一方得到的结果
type ConflictPolicy string

const (
	// ConflictReject 返回 ErrPaymentAlreadyRequested
	ConflictReject ConflictPolicy = "reject"
	// ConflictExisting 返回先到请求已经创建的支付记录
	ConflictExisting ConflictPolicy = "existing"
)

// PayLockTTL 返回带租期的订单锁 (Redis) 至少需要的 TTL，
// 保证每次发布都耗尽重试之前锁不会过期。writeBudget 是单次发布的最长阻塞时间。
func PayLockTTL(writeBudget time.Duration) time.Duration {
	return paySagaPublishes*writeBudget + payLockStoreMargin
}

// PaymentOptions 控制支付流程中可配置的部分
type PaymentOptions struct {
	ConflictPolicy  ConflictPolicy
	DeliveryCompany string
}

// PaymentApplicationService 编排手动支付 saga 以及支付记录的查询和状态调整
type PaymentApplicationService struct {
	orderRepo   domain.OrderRepository
	paymentRepo domain.PaymentRepository
	publisher   port.EventPublisher
	parker      port.EventParker
	locker      port.OrderLocker
	points      port.PointPolicy
	journal     port.SagaJournal
	tracer      trace.Tracer
	opts        PaymentOptions
}

// NewPaymentApplicationService 创建支付应用服务，parker 和 journal 可以为 nil
func NewPaymentApplicationService(
	orderRepo domain.OrderRepository,
	paymentRepo domain.PaymentRepository,
	publisher port.EventPublisher,
	parker port.EventParker,
	locker port.OrderLocker,
	points port.PointPolicy,
	journal port.SagaJournal,
	tracer trace.Tracer,
	opts PaymentOptions,
) *PaymentApplicationService {
	if opts.ConflictPolicy == "" {
		opts.ConflictPolicy = ConflictReject
	}
	if opts.DeliveryCompany == "" {
		opts.DeliveryCompany = defaultDeliveryCompany
	}
	return &PaymentApplicationService{
		orderRepo:   orderRepo,
		paymentRepo: paymentRepo,
		publisher:   publisher,
		parker:      parker,
		locker:      locker,
		points:      points,
		journal:     journal,
		tracer:      tracer,
		opts:        opts,
	}
}

// Pay 执行手动支付。
// 前置条件按顺序检查: 订单存在、未支付、不是 CANCELLED/FAILED、没有支付记录。
// 之后的步骤中任何失败都会把订单补偿为 FAILED 并发布 PaymentFailed，调用方仍然得到 nil error，
// 只有补偿本身失败时才返回错误。
func (s *PaymentApplicationService) Pay(ctx context.Context, orderID string, req *PayRequest) (*PaymentResult, error) {
	ctx, span := s.tracer.Start(ctx, "app.Pay", trace.WithAttributes(attribute.String("order.id", orderID)))
	defer span.End()

	method := domain.PaymentMethodCard
	if req != nil && strings.TrimSpace(req.Method) != "" {
		method = strings.TrimSpace(req.Method)
	}
	span.SetAttributes(attribute.String("payment.method", method))

	unlock, err := s.locker.Lock(ctx, orderID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to acquire order lock")
		return nil, fmt.Errorf("lock order %s: %w", orderID, err)
	}
	defer unlock()

	order, err := s.checkPayable(ctx, orderID)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	payment := domain.NewPayment(order.ID, order.TotalPrice, method)
	payment.UpdateStatus(domain.PaymentStatusSuccess)
	span.SetAttributes(attribute.String("payment.id", payment.ID))

	res, err := s.buildSaga(order, payment).Execute(ctx)
	if err != nil {
		if errors.Is(err, domain.ErrDuplicatePayment) {
			return s.resolveConflict(ctx, order)
		}
		paymentSagas.WithLabelValues(outcomeCompensationFailed).Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, "payment compensation failed")
		logger.Ctx(ctx).Error().Err(err).Str("order", order.ID).Msg("🚨 payment compensation failed, manual intervention required")
		return nil, err
	}

	result := &PaymentResult{OrderID: order.ID, OrderStatus: domain.OrderStatusPaid}
	if res.StepCompleted(StepPersistPayment) {
		result.PaymentID = payment.ID
	}
	if !res.Succeeded() {
		paymentSagas.WithLabelValues(outcomeCompensated).Inc()
		result.OrderStatus = domain.OrderStatusFailed
		span.SetStatus(codes.Error, "payment compensated at "+res.FailedStep)
		return result, nil
	}

	paymentSagas.WithLabelValues(outcomePaid).Inc()
	logger.Ctx(ctx).Info().Str("order", order.ID).Str("payment", payment.ID).Msg("✅ order paid")
	return result, nil
}

func (s *PaymentApplicationService) checkPayable(ctx context.Context, orderID string) (*domain.Order, error) {
	order, err := s.orderRepo.FindByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	switch order.Status {
	case domain.OrderStatusPaid:
		return nil, domain.ErrAlreadyPaid
	case domain.OrderStatusCancelled, domain.OrderStatusFailed:
		return nil, fmt.Errorf("%w: order is %s", domain.ErrOrderNotPayable, order.Status)
	}
	_, err = s.paymentRepo.FindByOrderID(ctx, orderID)
	if err == nil {
		return nil, domain.ErrPaymentAlreadyRequested
	}
	if !errors.Is(err, domain.ErrPaymentNotFound) {
		return nil, err
	}
	return order, nil
}

func (s *PaymentApplicationService) buildSaga(order *domain.Order, payment *domain.Payment) *saga.Saga {
	traceID := order.TraceID

	return saga.New(order.ID, s.journal, s.tracer).
		AddStep(StepPersistPayment, func(ctx context.Context) error {
			err := s.paymentRepo.Create(ctx, payment)
			if errors.Is(err, domain.ErrDuplicatePayment) {
				return saga.Abort(err)
			}
			return err
		}).
		AddStep(StepMarkOrderPaid, func(ctx context.Context) error {
			return s.orderRepo.UpdateStatus(ctx, order.ID, domain.OrderStatusPaid)
		}).
		AddStep(StepPublishPaymentCompleted, func(ctx context.Context) error {
			return s.publisher.Publish(ctx, domain.PaymentCompleted{
				OrderID:    order.ID,
				PaymentID:  payment.ID,
				PaidAmount: domain.NewMoney(payment.PaidAmount),
				Method:     payment.Method,
				Timestamp:  time.Now().UTC(),
				TraceID:    traceID,
			})
		}).
		AddStep(StepPublishPointChanged, func(ctx context.Context) error {
			amount, err := s.points.Calculate(ctx, order)
			if err != nil {
				return err
			}
			return s.publisher.Publish(ctx, domain.PointChanged{
				MemberID:   order.MemberID,
				OrderID:    order.ID,
				ChangeType: domain.PointChangeSave,
				Amount:     domain.NewMoney(amount),
				Reason:     pointChangeReason,
				Timestamp:  time.Now().UTC(),
				TraceID:    traceID,
			})
		}).
		AddStep(StepPublishDeliveryStarted, func(ctx context.Context) error {
			return s.publisher.Publish(ctx, domain.DeliveryStarted{
				OrderID:        order.ID,
				DeliveryID:     uuid.NewString(),
				TrackingNumber: newTrackingNumber(),
				Company:        s.opts.DeliveryCompany,
				StartedAt:      time.Now().UTC(),
				TraceID:        traceID,
			})
		}).
		AddCompensation(func(ctx context.Context, failedStep string, cause error) error {
			return s.compensate(ctx, order, traceID)
		})
}

// compensate 把订单置为 FAILED 并发布 PaymentFailed。
// 请求被取消时补偿仍然要完成，所以脱离调用方的取消信号。
func (s *PaymentApplicationService) compensate(ctx context.Context, order *domain.Order, traceID string) error {
	ctx = context.WithoutCancel(ctx)

	if err := s.orderRepo.UpdateStatus(ctx, order.ID, domain.OrderStatusFailed); err != nil {
		return fmt.Errorf("mark order %s failed: %w", order.ID, err)
	}
	_, err := publishOrPark(ctx, s.publisher, s.parker, domain.PaymentFailed{
		OrderID:   order.ID,
		Reason:    domain.PaymentFailureReason,
		Timestamp: time.Now().UTC(),
		TraceID:   traceID,
	})
	if err != nil {
		return fmt.Errorf("publish PaymentFailed for order %s: %w", order.ID, err)
	}
	logger.Ctx(ctx).Warn().Str("order", order.ID).Msg("🛑 payment compensated, order marked FAILED")
	return nil
}

// resolveConflict 处理另一个请求已经抢先写入支付记录的情况
func (s *PaymentApplicationService) resolveConflict(ctx context.Context, order *domain.Order) (*PaymentResult, error) {
	paymentSagas.WithLabelValues(outcomeConflict).Inc()
	logger.Ctx(ctx).Warn().Str("order", order.ID).Str("policy", string(s.opts.ConflictPolicy)).Msg("concurrent payment detected")

	if s.opts.ConflictPolicy != ConflictExisting {
		return nil, domain.ErrPaymentAlreadyRequested
	}
	existing, err := s.paymentRepo.FindByOrderID(ctx, order.ID)
	if err != nil {
		return nil, err
	}
	current, err := s.orderRepo.FindByID(ctx, order.ID)
	if err != nil {
		return nil, err
	}
	return &PaymentResult{OrderID: order.ID, PaymentID: existing.ID, OrderStatus: current.Status}, nil
}

func (s *PaymentApplicationService) GetPayment(ctx context.Context, paymentID string) (*PaymentResponse, error) {
	payment, err := s.paymentRepo.FindByID(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	return toPaymentResponse(payment), nil
}

// GetPaymentStatusByOrder 返回订单的支付状态，没有支付记录时返回 NOT_REQUESTED (不校验订单是否存在)
func (s *PaymentApplicationService) GetPaymentStatusByOrder(ctx context.Context, orderID string) (*PaymentStatusResponse, error) {
	payment, err := s.paymentRepo.FindByOrderID(ctx, orderID)
	if errors.Is(err, domain.ErrPaymentNotFound) {
		return &PaymentStatusResponse{OrderID: orderID, Status: domain.PaymentStatusNotRequested}, nil
	}
	if err != nil {
		return nil, err
	}
	return &PaymentStatusResponse{OrderID: orderID, Status: payment.Status}, nil
}

// CancelPayment 把支付记录置为 FAILED，不影响订单，也不发布事件
func (s *PaymentApplicationService) CancelPayment(ctx context.Context, paymentID string) (*PaymentResponse, error) {
	return s.transitionPayment(ctx, "app.CancelPayment", paymentID, domain.PaymentStatusFailed)
}

// RetryPayment 把支付记录置为 SUCCESS，不影响订单，也不发布事件
func (s *PaymentApplicationService) RetryPayment(ctx context.Context, paymentID string) (*PaymentResponse, error) {
	return s.transitionPayment(ctx, "app.RetryPayment", paymentID, domain.PaymentStatusSuccess)
}

func (s *PaymentApplicationService) transitionPayment(ctx context.Context, op, paymentID string, target domain.PaymentStatus) (*PaymentResponse, error) {
	ctx, span := s.tracer.Start(ctx, op, trace.WithAttributes(
		attribute.String("payment.id", paymentID),
		attribute.String("payment.target_status", string(target)),
	))
	defer span.End()

	payment, err := s.paymentRepo.FindByID(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	if payment.Status == target {
		return nil, fmt.Errorf("%w: payment is already %s", domain.ErrInvalidStateTransition, target)
	}
	if err := s.paymentRepo.UpdateStatus(ctx, paymentID, target); err != nil {
		span.RecordError(err)
		return nil, err
	}
	logger.Ctx(ctx).Info().
		Str("payment", paymentID).
		Str("order", payment.OrderID).
		Str("from", string(payment.Status)).
		Str("to", string(target)).
		Msg("payment status changed")
	payment.UpdateStatus(target)
	return toPaymentResponse(payment), nil
}

func (s *PaymentApplicationService) PaymentMethods() []string {
	return domain.SupportedPaymentMethods()
}

func newTrackingNumber() string {
	return strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", ""))[:trackingNumberLength]
}
