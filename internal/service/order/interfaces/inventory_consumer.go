// internal/service/order/interfaces/inventory_consumer.go
package interfaces

import (
	"context"
	"encoding/json"
	"time"

	"github.com/pkg/errors"
	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"orderpay/internal/pkg/logger"
	"orderpay/internal/pkg/mq"
	"orderpay/internal/service/order/domain"
)

const fetchRetryDelay = time.Second

// InventoryEventHandler 是库存事件的应用层入口
type InventoryEventHandler interface {
	HandleInventoryReserved(ctx context.Context, event *domain.InventoryReserved) error
	HandleInventoryFailed(ctx context.Context, event *domain.InventoryFailed) error
}

// InventoryConsumerAdapter 是一个驱动适配器，它监听库存结果主题并驱动应用服务。
// 每个 reader 串行处理自己分到的分区，同一订单的事件按发布顺序处理。
type InventoryConsumerAdapter struct {
	readers        []mq.Reader
	handler        InventoryEventHandler
	failureHandler *mq.FailureHandler
	tracer         trace.Tracer
}

func NewInventoryConsumerAdapter(readers []mq.Reader, handler InventoryEventHandler, failureHandler *mq.FailureHandler, tracer trace.Tracer) *InventoryConsumerAdapter {
	return &InventoryConsumerAdapter{
		readers:        readers,
		handler:        handler,
		failureHandler: failureHandler,
		tracer:         tracer,
	}
}

// Run 为每个 reader 启动一个消费循环，阻塞到 ctx 结束
func (a *InventoryConsumerAdapter) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, r := range a.readers {
		r := r
		g.Go(func() error { return a.consume(ctx, r) })
	}
	logger.Ctx(ctx).Info().Int("readers", len(a.readers)).Msg("✅ Inventory Consumer Adapter started.")
	return g.Wait()
}

// Close 关闭所有 reader，未提交的消息会在下次分配分区时重新投递
func (a *InventoryConsumerAdapter) Close() error {
	var firstErr error
	for _, r := range a.readers {
		if err := r.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (a *InventoryConsumerAdapter) consume(ctx context.Context, reader mq.Reader) error {
	for {
		msg, err := reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				logger.Ctx(ctx).Info().Msg("🛑 Inventory Consumer Adapter shutting down.")
				return nil
			}
			logger.Ctx(ctx).Error().Err(err).Msg("could not fetch message, retrying")
			if err := sleepCtx(ctx, fetchRetryDelay); err != nil {
				return nil
			}
			continue
		}

		msgCtx := mq.ExtractTraceContext(ctx, msg.Headers)
		if !a.settle(msgCtx, msg) {
			return nil
		}

		// 只有处理成功或已经进入死信主题的消息才会提交
		if err := reader.CommitMessages(ctx, msg); err != nil {
			logger.Ctx(ctx).Error().Err(err).
				Str("topic", msg.Topic).
				Int64("offset", msg.Offset).
				Msg("failed to commit message")
		}
	}
}

// settle 反复交给 FailureHandler 直到消息可以提交；ctx 结束时返回 false
func (a *InventoryConsumerAdapter) settle(ctx context.Context, msg kafka.Message) bool {
	for {
		err := a.failureHandler.Process(ctx, msg, a.processMessage)
		if err == nil {
			return true
		}
		if ctx.Err() != nil {
			return false
		}
		logger.Ctx(ctx).Error().Err(err).
			Str("topic", msg.Topic).
			Int64("offset", msg.Offset).
			Msg("message could not be settled, holding offset")
		if sleepCtx(ctx, fetchRetryDelay) != nil {
			return false
		}
	}
}

func (a *InventoryConsumerAdapter) processMessage(ctx context.Context, msg kafka.Message) error {
	ctx, span := a.tracer.Start(ctx, "consume."+msg.Topic, trace.WithSpanKind(trace.SpanKindConsumer))
	defer span.End()
	span.SetAttributes(
		attribute.String("messaging.system", "kafka"),
		attribute.String("messaging.destination", msg.Topic),
		attribute.Int("messaging.kafka.partition", msg.Partition),
		attribute.Int64("messaging.kafka.offset", msg.Offset),
	)

	switch msg.Topic {
	case domain.TopicInventoryReserved:
		var event domain.InventoryReserved
		if err := json.Unmarshal(msg.Value, &event); err != nil {
			span.RecordError(err)
			return mq.Permanent(errors.Wrap(err, "decode InventoryReserved"))
		}
		return a.handler.HandleInventoryReserved(ctx, &event)
	case domain.TopicInventoryFailed:
		var event domain.InventoryFailed
		if err := json.Unmarshal(msg.Value, &event); err != nil {
			span.RecordError(err)
			return mq.Permanent(errors.Wrap(err, "decode InventoryFailed"))
		}
		if event.OrderID == "" {
			return mq.Permanent(errors.New("InventoryFailed without orderId"))
		}
		if err := a.handler.HandleInventoryFailed(ctx, &event); err != nil {
			span.RecordError(err)
			return err
		}
		return nil
	default:
		return mq.Permanent(errors.Errorf("unexpected topic %q", msg.Topic))
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
