// internal/pkg/mq/kafka.go
package mq

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
)

const (
	defaultMaxAttempts = 3
	writeTimeout       = 10 * time.Second
	writeBackoffMax    = time.Second
)

// Writer 是 *kafka.Writer 的最小抽象，方便在测试中替换
type Writer interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

// Reader 是消费循环依赖的 *kafka.Reader 方法集合
type Reader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// NewKafkaWriter 创建一个同步写入的 Writer。
// topic 为空时由每条消息自己指定 Topic。
// 同一个 key 总是路由到同一个分区 (Hash)，并等待所有 ISR 副本确认。
func NewKafkaWriter(brokers []string, topic string, maxAttempts int) *kafka.Writer {
	maxAttempts = normalizeAttempts(maxAttempts)
	return &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireAll,
		MaxAttempts:            maxAttempts,
		WriteTimeout:           writeTimeout,
		WriteBackoffMin:        100 * time.Millisecond,
		WriteBackoffMax:        writeBackoffMax,
		BatchTimeout:           10 * time.Millisecond,
		AllowAutoTopicCreation: true,
	}
}

// WriteBudget 是一次 WriteMessages 在所有重试耗尽前可能阻塞的最长时间
func WriteBudget(maxAttempts int) time.Duration {
	return time.Duration(normalizeAttempts(maxAttempts)) * (writeTimeout + writeBackoffMax)
}

func normalizeAttempts(maxAttempts int) int {
	if maxAttempts <= 0 {
		return defaultMaxAttempts
	}
	return maxAttempts
}

// NewKafkaReader 创建一个消费者组 Reader，offset 只在显式 CommitMessages 时提交
func NewKafkaReader(brokers []string, topic, groupID string) *kafka.Reader {
	return kafka.NewReader(kafka.ReaderConfig{
		Brokers:        brokers,
		Topic:          topic,
		GroupID:        groupID,
		MinBytes:       1,
		MaxBytes:       10e6,
		MaxWait:        500 * time.Millisecond,
		StartOffset:    kafka.FirstOffset,
		CommitInterval: 0,
	})
}

// ProduceMessage 注入链路上下文后把消息写入 topic，writer 不能绑定 Topic
func ProduceMessage(ctx context.Context, writer Writer, topic string, key, value []byte) error {
	msg := kafka.Message{
		Topic: topic,
		Key:   key,
		Value: value,
		Time:  time.Now(),
	}
	InjectTraceContext(ctx, &msg.Headers)

	if err := writer.WriteMessages(ctx, msg); err != nil {
		messagesFailed.WithLabelValues(topic).Inc()
		return errors.Wrapf(err, "produce to %s", topic)
	}
	messagesProduced.WithLabelValues(topic).Inc()
	return nil
}

// KafkaHeaderCarrier 让 Kafka 消息头可以作为 OpenTelemetry 的 TextMapCarrier 使用
type KafkaHeaderCarrier []kafka.Header

func (c *KafkaHeaderCarrier) Get(key string) string {
	for _, h := range *c {
		if h.Key == key {
			return string(h.Value)
		}
	}
	return ""
}

func (c *KafkaHeaderCarrier) Set(key, value string) {
	for i, h := range *c {
		if h.Key == key {
			(*c)[i].Value = []byte(value)
			return
		}
	}
	*c = append(*c, kafka.Header{Key: key, Value: []byte(value)})
}

func (c *KafkaHeaderCarrier) Keys() []string {
	keys := make([]string, 0, len(*c))
	for _, h := range *c {
		keys = append(keys, h.Key)
	}
	return keys
}

// InjectTraceContext 把 ctx 中的链路信息写入消息头
func InjectTraceContext(ctx context.Context, headers *[]kafka.Header) {
	carrier := KafkaHeaderCarrier(*headers)
	otel.GetTextMapPropagator().Inject(ctx, &carrier)
	*headers = carrier
}

// ExtractTraceContext 从消息头恢复上游的链路上下文
func ExtractTraceContext(ctx context.Context, headers []kafka.Header) context.Context {
	carrier := KafkaHeaderCarrier(headers)
	return otel.GetTextMapPropagator().Extract(ctx, &carrier)
}

// HeaderValue 返回第一个匹配 key 的消息头
func HeaderValue(headers []kafka.Header, key string) string {
	for _, h := range headers {
		if h.Key == key {
			return string(h.Value)
		}
	}
	return ""
}
