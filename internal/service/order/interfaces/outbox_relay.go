package interfaces

import (
	"context"
	"time"

	"orderpay/internal/pkg/logger"
	"orderpay/internal/service/order/infrastructure"
)

const defaultRelayBatch = 100

// RawPublisher 按已经编码好的 topic/key/payload 发布消息
type RawPublisher interface {
	PublishRaw(ctx context.Context, topic, key string, payload []byte) error
}

// OutboxRelay 定时扫描 outbox 中待发送的事件并重新发布
type OutboxRelay struct {
	store     infrastructure.OutboxStore
	publisher RawPublisher
	interval  time.Duration
	batchSize int
}

func NewOutboxRelay(store infrastructure.OutboxStore, publisher RawPublisher, interval time.Duration, batchSize int) *OutboxRelay {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	if batchSize <= 0 {
		batchSize = defaultRelayBatch
	}
	return &OutboxRelay{store: store, publisher: publisher, interval: interval, batchSize: batchSize}
}

// Run 每个周期执行一次 RelayOnce，直到 ctx 结束
func (r *OutboxRelay) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	logger.Ctx(ctx).Info().Dur("interval", r.interval).Msg("✅ Outbox relay started.")

	for {
		select {
		case <-ctx.Done():
			logger.Ctx(ctx).Info().Msg("🛑 Outbox relay shutting down.")
			return nil
		case <-ticker.C:
			if _, err := r.RelayOnce(ctx); err != nil && ctx.Err() == nil {
				logger.Ctx(ctx).Error().Err(err).Msg("outbox relay cycle failed")
			}
		}
	}
}

// RelayOnce 发布一批待发送事件，返回成功发布的数量。
// 单条发布失败只记录失败次数，不影响同一批次的其他事件。
func (r *OutboxRelay) RelayOnce(ctx context.Context) (int, error) {
	pending, err := r.store.FetchPending(ctx, r.batchSize)
	if err != nil {
		return 0, err
	}

	sent := 0
	for _, msg := range pending {
		if err := r.publisher.PublishRaw(ctx, msg.Topic, msg.Key, msg.Payload); err != nil {
			logger.Ctx(ctx).Warn().Err(err).
				Uint("outbox_id", msg.ID).
				Str("topic", msg.Topic).
				Int("attempts", msg.Attempts+1).
				Msg("outbox event still not publishable")
			if markErr := r.store.MarkFailed(ctx, msg.ID, err); markErr != nil {
				return sent, markErr
			}
			continue
		}
		if err := r.store.MarkSent(ctx, msg.ID); err != nil {
			// 已发布但未标记，下个周期会重复发送，下游按幂等处理
			return sent, err
		}
		sent++
	}
	if sent > 0 {
		logger.Ctx(ctx).Info().Int("sent", sent).Msg("outbox events relayed")
	}
	return sent, nil
}
