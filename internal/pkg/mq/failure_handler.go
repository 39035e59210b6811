// internal/pkg/mq/failure_handler.go
package mq

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/pkg/errors"
	"github.com/segmentio/kafka-go"

	"orderpay/internal/pkg/logger"
)

const (
	// DLTSuffix 死信主题后缀，例如 inventory.failed -> inventory.failed.dlq
	DLTSuffix = ".dlq"

	HeaderOriginalTopic     = "x-original-topic"
	HeaderOriginalPartition = "x-original-partition"
	HeaderOriginalOffset    = "x-original-offset"
	HeaderExceptionFqcn     = "x-exception-fqcn"
	HeaderExceptionMessage  = "x-exception-message"
)

// DLTTopic 返回 topic 对应的死信主题
func DLTTopic(topic string) string {
	return topic + DLTSuffix
}

type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }
func (e *permanentError) Cause() error  { return e.err }

// Permanent 标记一个不值得重试的错误 (例如消息体无法反序列化)，
// FailureHandler 会直接把消息转入死信主题。
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent 判断错误链中是否含有 Permanent 标记
func IsPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}

// ProcessFunc 是单条消息的业务处理函数
type ProcessFunc func(ctx context.Context, msg kafka.Message) error

// FailureHandler 负责消费失败后的固定间隔重试和死信投递
type FailureHandler struct {
	dltWriter  Writer
	maxRetries int
	backoff    time.Duration
}

// NewFailureHandler 创建 FailureHandler。
// maxRetries 是首次失败之后的重试次数，backoff 是每次重试前的固定等待时间。
func NewFailureHandler(dltWriter Writer, maxRetries int, backoff time.Duration) *FailureHandler {
	if maxRetries < 0 {
		maxRetries = 0
	}
	return &FailureHandler{
		dltWriter:  dltWriter,
		maxRetries: maxRetries,
		backoff:    backoff,
	}
}

// Process 执行 fn，失败时按固定间隔重试，重试耗尽或遇到 Permanent 错误时投递到死信主题。
// 返回 nil 表示该消息可以提交 offset；返回错误时调用方不应提交。
func (h *FailureHandler) Process(ctx context.Context, msg kafka.Message, fn ProcessFunc) error {
	var err error
	for attempt := 0; ; attempt++ {
		err = fn(ctx, msg)
		if err == nil {
			messagesConsumed.WithLabelValues(msg.Topic, "ok").Inc()
			return nil
		}
		if IsPermanent(err) || attempt >= h.maxRetries {
			break
		}

		messageRetries.WithLabelValues(msg.Topic).Inc()
		logger.Ctx(ctx).Warn().Err(err).
			Str("topic", msg.Topic).
			Int("partition", msg.Partition).
			Int64("offset", msg.Offset).
			Int("attempt", attempt+1).
			Msg("message processing failed, retrying")

		if err := sleep(ctx, h.backoff); err != nil {
			return err
		}
	}

	messagesConsumed.WithLabelValues(msg.Topic, "dead_letter").Inc()
	return h.Handle(ctx, msg, err)
}

// Handle 把处理失败的消息连同失败原因一起写入死信主题
func (h *FailureHandler) Handle(ctx context.Context, msg kafka.Message, cause error) error {
	dlt := DLTTopic(msg.Topic)

	headers := make([]kafka.Header, 0, len(msg.Headers)+5)
	for _, hd := range msg.Headers {
		switch hd.Key {
		case HeaderOriginalTopic, HeaderOriginalPartition, HeaderOriginalOffset,
			HeaderExceptionFqcn, HeaderExceptionMessage:
			continue
		}
		headers = append(headers, hd)
	}
	headers = append(headers,
		kafka.Header{Key: HeaderOriginalTopic, Value: []byte(msg.Topic)},
		kafka.Header{Key: HeaderOriginalPartition, Value: []byte(strconv.Itoa(msg.Partition))},
		kafka.Header{Key: HeaderOriginalOffset, Value: []byte(strconv.FormatInt(msg.Offset, 10))},
		kafka.Header{Key: HeaderExceptionFqcn, Value: []byte(errorType(cause))},
		kafka.Header{Key: HeaderExceptionMessage, Value: []byte(cause.Error())},
	)

	dltMsg := kafka.Message{
		Topic:   dlt,
		Key:     msg.Key,
		Value:   msg.Value,
		Headers: headers,
		Time:    time.Now(),
	}
	if err := h.dltWriter.WriteMessages(ctx, dltMsg); err != nil {
		logger.Ctx(ctx).Error().Err(err).
			Str("topic", msg.Topic).
			Int64("offset", msg.Offset).
			Msg("failed to publish message to dead letter topic")
		return errors.Wrapf(err, "publish to %s", dlt)
	}

	deadLetters.WithLabelValues(msg.Topic).Inc()
	logger.Ctx(ctx).Error().Err(cause).
		Str("topic", msg.Topic).
		Str("dlt", dlt).
		Int("partition", msg.Partition).
		Int64("offset", msg.Offset).
		Msg("🚨 message moved to dead letter topic")
	return nil
}

func errorType(err error) string {
	return fmt.Sprintf("%T", errors.Cause(err))
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
