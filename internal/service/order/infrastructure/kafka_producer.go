package infrastructure

import (
	"context"
	"encoding/json"

	"github.com/pkg/errors"

	"orderpay/internal/pkg/logger"
	"orderpay/internal/pkg/mq"
	"orderpay/internal/service/order/domain"
)

// KafkaEventPublisher 是 port.EventPublisher 的 Kafka 实现。
// 所有 topic 共用一个未绑定 Topic 的 writer，分区由消息 key 决定。
type KafkaEventPublisher struct {
	writer mq.Writer
}

func NewKafkaEventPublisher(writer mq.Writer) *KafkaEventPublisher {
	return &KafkaEventPublisher{writer: writer}
}

func (p *KafkaEventPublisher) Publish(ctx context.Context, event domain.Event) error {
	payload, err := encodeEvent(event)
	if err != nil {
		return err
	}
	if err := p.PublishRaw(ctx, event.Topic(), event.Key(), payload); err != nil {
		logger.Ctx(ctx).Error().Err(err).
			Str("topic", event.Topic()).
			Str("key", event.Key()).
			Msg("failed to publish event")
		return err
	}
	logger.Ctx(ctx).Debug().Str("topic", event.Topic()).Str("key", event.Key()).Msg("event published")
	return nil
}

// PublishRaw 发布已经编码好的消息体，供 outbox 重发使用
func (p *KafkaEventPublisher) PublishRaw(ctx context.Context, topic, key string, payload []byte) error {
	return mq.ProduceMessage(ctx, p.writer, topic, []byte(key), payload)
}

func encodeEvent(event domain.Event) ([]byte, error) {
	payload, err := json.Marshal(event)
	if err != nil {
		return nil, errors.Wrapf(err, "marshal %s event", event.Topic())
	}
	return payload, nil
}
