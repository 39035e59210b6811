// internal/service/order/application/service.go
package application

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"orderpay/internal/pkg/logger"
	"orderpay/internal/service/order/domain"
	"orderpay/internal/service/order/domain/port"
)

// OrderApplicationService 负责订单的创建、查询、取消以及库存事件的处理。
type OrderApplicationService struct {
	orderRepo domain.OrderRepository
	publisher port.EventPublisher
	parker    port.EventParker
	// locker 必须与支付服务共用，订单状态的读改写和支付 saga 在同一把锁下互斥
	locker    port.OrderLocker
	tracer    trace.Tracer
}

// NewOrderApplicationService 创建订单应用服务，parker 可以为 nil (不启用 outbox)
func NewOrderApplicationService(orderRepo domain.OrderRepository, publisher port.EventPublisher, parker port.EventParker, locker port.OrderLocker, tracer trace.Tracer) *OrderApplicationService {
	return &OrderApplicationService{
		orderRepo: orderRepo,
		publisher: publisher,
		parker:    parker,
		locker:    locker,
		tracer:    tracer,
	}
}

// lockOrder 获取订单锁，失败时记录到 span
func (s *OrderApplicationService) lockOrder(ctx context.Context, span trace.Span, orderID string) (port.Unlock, error) {
	unlock, err := s.locker.Lock(ctx, orderID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to acquire order lock")
		return nil, fmt.Errorf("lock order %s: %w", orderID, err)
	}
	return unlock, nil
}

// CreateOrder 保存订单并同步发布 OrderCreated。
// 发布失败但事件已进入 outbox 时，返回订单信息和 ErrEventNotPublished，订单不会回滚。
func (s *OrderApplicationService) CreateOrder(ctx context.Context, req *CreateOrderRequest) (*OrderResponse, error) {
	ctx, span := s.tracer.Start(ctx, "app.CreateOrder")
	defer span.End()

	traceID := uuid.NewString()
	order, err := domain.NewOrder(req.MemberID, req.Address, req.toDomainItems(), req.TotalPrice.Decimal, traceID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "invalid order request")
		return nil, err
	}
	span.SetAttributes(
		attribute.String("order.id", order.ID),
		attribute.Int64("member.id", order.MemberID),
		attribute.String("order.trace_id", traceID),
	)

	if err := s.orderRepo.Save(ctx, order); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to save order")
		logger.Ctx(ctx).Error().Err(err).Str("order", order.ID).Msg("failed to save order")
		return nil, err
	}
	span.AddEvent("Order saved with ORDERED status.")

	parked, err := publishOrPark(ctx, s.publisher, s.parker, domain.NewOrderCreated(order, traceID))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to publish OrderCreated")
		return toOrderResponse(order), fmt.Errorf("order %s saved: %w", order.ID, err)
	}
	if parked {
		span.SetStatus(codes.Error, "OrderCreated parked in outbox")
		return toOrderResponse(order), fmt.Errorf("order %s saved: %w", order.ID, domain.ErrEventNotPublished)
	}

	logger.Ctx(ctx).Info().Str("order", order.ID).Int64("member", order.MemberID).Msg("order created")
	return toOrderResponse(order), nil
}

func (s *OrderApplicationService) GetOrder(ctx context.Context, orderID string) (*OrderResponse, error) {
	order, err := s.orderRepo.FindByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	return toOrderResponse(order), nil
}

// ListOrders 返回全部订单，memberID 非空时只返回该会员的订单
func (s *OrderApplicationService) ListOrders(ctx context.Context, memberID *int64) ([]*OrderSummaryResponse, error) {
	var (
		orders []*domain.Order
		err    error
	)
	if memberID != nil {
		orders, err = s.orderRepo.FindByMember(ctx, *memberID)
	} else {
		orders, err = s.orderRepo.FindAll(ctx)
	}
	if err != nil {
		return nil, err
	}
	out := make([]*OrderSummaryResponse, 0, len(orders))
	for _, o := range orders {
		out = append(out, toOrderSummary(o))
	}
	return out, nil
}

// CancelOrder 取消一个尚未进入终态的订单，不发布事件。
// 持有订单锁完成检查和写入，不会覆盖并发支付已经写入的 PAID。
func (s *OrderApplicationService) CancelOrder(ctx context.Context, orderID string) error {
	ctx, span := s.tracer.Start(ctx, "app.CancelOrder", trace.WithAttributes(attribute.String("order.id", orderID)))
	defer span.End()

	unlock, err := s.lockOrder(ctx, span, orderID)
	if err != nil {
		return err
	}
	defer unlock()

	order, err := s.orderRepo.FindByID(ctx, orderID)
	if err != nil {
		return err
	}
	if order.IsFinal() {
		return fmt.Errorf("%w: cannot cancel order in %s status", domain.ErrInvalidStateTransition, order.Status)
	}
	if err := s.orderRepo.UpdateStatus(ctx, orderID, domain.OrderStatusCancelled); err != nil {
		span.RecordError(err)
		return err
	}
	logger.Ctx(ctx).Info().Str("order", orderID).Msg("order cancelled")
	return nil
}

// ChangeStatus 是管理员接口：无条件把订单设置为任意合法状态，绕过所有状态机校验
func (s *OrderApplicationService) ChangeStatus(ctx context.Context, orderID string, status string) error {
	ctx, span := s.tracer.Start(ctx, "app.ChangeStatus", trace.WithAttributes(
		attribute.String("order.id", orderID),
		attribute.String("order.status", status),
	))
	defer span.End()

	target, err := domain.ParseOrderStatus(status)
	if err != nil {
		return err
	}
	order, err := s.orderRepo.FindByID(ctx, orderID)
	if err != nil {
		return err
	}
	if err := s.orderRepo.UpdateStatus(ctx, orderID, target); err != nil {
		span.RecordError(err)
		return err
	}
	logger.Ctx(ctx).Warn().
		Str("order", orderID).
		Str("from", string(order.Status)).
		Str("to", string(target)).
		Msg("order status overridden by admin")
	return nil
}

// ResendOrderCreated 用新的 traceId 重新发布 OrderCreated，新 traceId 不落库
func (s *OrderApplicationService) ResendOrderCreated(ctx context.Context, orderID string) error {
	ctx, span := s.tracer.Start(ctx, "app.ResendOrderCreated", trace.WithAttributes(attribute.String("order.id", orderID)))
	defer span.End()

	order, err := s.orderRepo.FindByID(ctx, orderID)
	if err != nil {
		return err
	}
	if err := s.publisher.Publish(ctx, domain.NewOrderCreated(order, uuid.NewString())); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to resend OrderCreated")
		return err
	}
	return nil
}

// HandleInventoryReserved 只记录日志：支付仍然由客户端显式触发
func (s *OrderApplicationService) HandleInventoryReserved(ctx context.Context, event *domain.InventoryReserved) error {
	logger.Ctx(ctx).Info().
		Str("order", event.OrderID).
		Int64("product", event.ProductID).
		Bool("reserved", event.Reserved).
		Str("event_trace_id", event.TraceID).
		Msg("inventory reserved")
	return nil
}

// HandleInventoryFailed 把仍在 ORDERED 的订单补偿为 FAILED。
// 订单不存在时静默确认；已经是终态的订单不再改变，重复消费是幂等的。
// 与 Pay 共用订单锁，拿不到锁时返回错误交给消费端重试。
func (s *OrderApplicationService) HandleInventoryFailed(ctx context.Context, event *domain.InventoryFailed) error {
	ctx, span := s.tracer.Start(ctx, "app.HandleInventoryFailed", trace.WithSpanKind(trace.SpanKindConsumer))
	defer span.End()
	span.SetAttributes(
		attribute.String("order.id", event.OrderID),
		attribute.Int64("product.id", event.ProductID),
	)

	unlock, err := s.lockOrder(ctx, span, event.OrderID)
	if err != nil {
		return err
	}
	defer unlock()

	order, err := s.orderRepo.FindByID(ctx, event.OrderID)
	if errors.Is(err, domain.ErrOrderNotFound) {
		logger.Ctx(ctx).Info().Str("order", event.OrderID).Msg("inventory failure for unknown order, ignoring")
		return nil
	}
	if err != nil {
		span.RecordError(err)
		return err
	}

	switch order.Status {
	case domain.OrderStatusFailed:
		return nil
	case domain.OrderStatusOrdered:
	default:
		logger.Ctx(ctx).Warn().
			Str("order", order.ID).
			Str("status", string(order.Status)).
			Str("reason", event.Reason).
			Msg("inventory failure for order already in final status, ignoring")
		return nil
	}

	if err := s.orderRepo.UpdateStatus(ctx, order.ID, domain.OrderStatusFailed); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to mark order as FAILED")
		return err
	}
	logger.Ctx(ctx).Warn().
		Str("order", order.ID).
		Int64("product", event.ProductID).
		Str("reason", event.Reason).
		Msg("order marked FAILED after inventory failure")
	return nil
}
