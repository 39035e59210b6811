// internal/service/order/interfaces/dlt_handler.go
package interfaces

import (
	"context"

	"github.com/segmentio/kafka-go"
	"golang.org/x/sync/errgroup"

	"orderpay/internal/pkg/logger"
	"orderpay/internal/pkg/mq"
)

// DltConsumerAdapter 监听死信队列并记录日志
type DltConsumerAdapter struct {
	readers []mq.Reader
}

func NewDltConsumerAdapter(readers ...mq.Reader) *DltConsumerAdapter {
	return &DltConsumerAdapter{readers: readers}
}

func (a *DltConsumerAdapter) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, r := range a.readers {
		r := r
		g.Go(func() error { return a.consume(ctx, r) })
	}
	logger.Ctx(ctx).Info().Int("readers", len(a.readers)).Msg("✅ DLT Consumer Adapter started.")
	return g.Wait()
}

func (a *DltConsumerAdapter) Close() error {
	var firstErr error
	for _, r := range a.readers {
		if err := r.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (a *DltConsumerAdapter) consume(ctx context.Context, reader mq.Reader) error {
	for {
		msg, err := reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				logger.Ctx(ctx).Info().Msg("🛑 DLT Consumer Adapter shutting down.")
				return nil
			}
			logger.Ctx(ctx).Error().Err(err).Msg("could not fetch dead letter, retrying")
			if sleepCtx(ctx, fetchRetryDelay) != nil {
				return nil
			}
			continue
		}

		logDeadLetter(mq.ExtractTraceContext(ctx, msg.Headers), msg)

		// DLT 中的消息记录日志后直接提交
		if err := reader.CommitMessages(ctx, msg); err != nil {
			logger.Ctx(ctx).Error().Err(err).Int64("offset", msg.Offset).Msg("failed to commit dead letter")
		}
	}
}

func logDeadLetter(ctx context.Context, msg kafka.Message) {
	logger.Ctx(ctx).Error().
		Str("reason", "dead_letter_message_received").
		Str("dlt", msg.Topic).
		Str("original_topic", mq.HeaderValue(msg.Headers, mq.HeaderOriginalTopic)).
		Str("original_partition", mq.HeaderValue(msg.Headers, mq.HeaderOriginalPartition)).
		Str("original_offset", mq.HeaderValue(msg.Headers, mq.HeaderOriginalOffset)).
		Str("exception_fqcn", mq.HeaderValue(msg.Headers, mq.HeaderExceptionFqcn)).
		Str("exception_message", mq.HeaderValue(msg.Headers, mq.HeaderExceptionMessage)).
		Str("key", string(msg.Key)).
		Str("value", string(msg.Value)).
		Msg("🚨 CRITICAL: Dead letter message received")
}
