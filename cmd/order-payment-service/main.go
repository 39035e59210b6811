// cmd/order-payment-service/main.go
package main

import (
	"context"
	"net/http"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"

	"orderpay/internal/pkg/bootstrap"
	"orderpay/internal/pkg/config"
	"orderpay/internal/pkg/logger"
	"orderpay/internal/pkg/mq"
	"orderpay/internal/pkg/redis"
	"orderpay/internal/service/order/application"
	"orderpay/internal/service/order/domain"
	"orderpay/internal/service/order/domain/port"
	"orderpay/internal/service/order/infrastructure"
	"orderpay/internal/service/order/infrastructure/adapter"
	"orderpay/internal/service/order/interfaces"
	"orderpay/internal/zookeeper"
)

// stores 是按 storage.driver 选出的一组存储实现
type stores struct {
	orders   domain.OrderRepository
	payments domain.PaymentRepository
	outbox   infrastructure.OutboxStore
	journal  port.SagaJournal
	close    func() error
}

// main 函数是应用的"组装根" (Composition Root)
// 它的核心职责是：创建并组装所有依赖项，然后启动应用。
func main() {
	cfg, err := config.Load("")
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	logger.Init(cfg.App.Name, cfg.App.LogLevel)

	if err := run(cfg); err != nil {
		log.Fatal().Err(err).Msg("service exited with error")
	}
}

func run(cfg *config.Config) error {
	ctx := context.Background()
	tracer := otel.Tracer(cfg.App.Name)
	var closers []func() error

	st, err := openStores(cfg)
	if err != nil {
		return err
	}
	closers = append(closers, st.close)

	locker, lockCloser, err := newOrderLocker(ctx, cfg)
	if err != nil {
		return err
	}
	closers = append(closers, lockCloser)

	points, err := adapter.NewCelPointPolicy(cfg.Payment.PointRule)
	if err != nil {
		return err
	}

	kafkaCfg := cfg.Infra.Kafka
	// 一个不绑定 topic 的 Writer 同时服务业务事件和死信
	writer := mq.NewKafkaWriter(kafkaCfg.Brokers, "", kafkaCfg.MaxAttempts)
	publisher := infrastructure.NewKafkaEventPublisher(writer)

	var parker port.EventParker
	if cfg.Outbox.Enabled {
		parker = st.outbox
	}

	orderSvc := application.NewOrderApplicationService(st.orders, publisher, parker, locker, tracer)
	paymentSvc := application.NewPaymentApplicationService(
		st.orders, st.payments, publisher, parker, locker, points, st.journal, tracer,
		application.PaymentOptions{
			ConflictPolicy:  application.ConflictPolicy(cfg.Payment.ConflictPolicy),
			DeliveryCompany: cfg.Payment.DeliveryCompany,
		},
	)

	concurrency := kafkaCfg.Concurrency
	if concurrency <= 0 {
		concurrency = 1
	}
	var inventoryReaders []mq.Reader
	for _, topic := range []string{domain.TopicInventoryReserved, domain.TopicInventoryFailed} {
		for i := 0; i < concurrency; i++ {
			inventoryReaders = append(inventoryReaders, mq.NewKafkaReader(kafkaCfg.Brokers, topic, kafkaCfg.ConsumerGroup))
		}
	}
	inventoryConsumer := interfaces.NewInventoryConsumerAdapter(
		inventoryReaders,
		orderSvc,
		mq.NewFailureHandler(writer, kafkaCfg.MaxRetries, kafkaCfg.RetryBackoff),
		tracer,
	)
	dltConsumer := interfaces.NewDltConsumerAdapter(
		mq.NewKafkaReader(kafkaCfg.Brokers, mq.DLTTopic(domain.TopicInventoryReserved), kafkaCfg.ConsumerGroup+"-dlt"),
		mq.NewKafkaReader(kafkaCfg.Brokers, mq.DLTTopic(domain.TopicInventoryFailed), kafkaCfg.ConsumerGroup+"-dlt"),
	)
	closers = append(closers, writer.Close, inventoryConsumer.Close, dltConsumer.Close)

	runners := []bootstrap.Runner{inventoryConsumer.Run, dltConsumer.Run}
	if cfg.Outbox.Enabled {
		relay := interfaces.NewOutboxRelay(st.outbox, publisher, cfg.Outbox.PollInterval, cfg.Outbox.BatchSize)
		runners = append(runners, relay.Run)
	}

	httpHandler := interfaces.NewOrderHandler(orderSvc, paymentSvc, tracer)

	log.Info().
		Str("storage", cfg.Storage.Driver).
		Str("lock", cfg.Lock.Backend).
		Str("conflictPolicy", cfg.Payment.ConflictPolicy).
		Bool("outbox", cfg.Outbox.Enabled).
		Msg("✅ order payment service assembled")

	return bootstrap.StartService(bootstrap.AppInfo{
		Config:           cfg,
		RegisterHandlers: func(mux *http.ServeMux) { httpHandler.RegisterRoutes(mux) },
		Runners:          runners,
		Closers:          closers,
	})
}

func openStores(cfg *config.Config) (*stores, error) {
	if cfg.Storage.Driver == config.StorageMemory {
		log.Warn().Msg("using in-memory storage, data is lost on restart")
		return &stores{
			orders:   infrastructure.NewMemoryOrderRepository(),
			payments: infrastructure.NewMemoryPaymentRepository(),
			outbox:   infrastructure.NewMemoryOutboxStore(),
			journal:  infrastructure.NewMemorySagaJournal(),
			close:    func() error { return nil },
		}, nil
	}

	db, err := infrastructure.OpenMySQL(cfg.Infra.MySQL.FormatDSN())
	if err != nil {
		return nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, errors.Wrap(err, "get sql.DB")
	}
	return &stores{
		orders:   infrastructure.NewGormOrderRepository(db),
		payments: infrastructure.NewGormPaymentRepository(db),
		outbox:   infrastructure.NewGormOutboxStore(db),
		journal:  infrastructure.NewGormSagaJournal(db),
		close:    sqlDB.Close,
	}, nil
}

func newOrderLocker(ctx context.Context, cfg *config.Config) (port.OrderLocker, func() error, error) {
	switch cfg.Lock.Backend {
	case config.LockRedis:
		client, err := redis.NewClient(ctx, cfg.Infra.Redis.Addrs, cfg.Infra.Redis.Password)
		if err != nil {
			return nil, nil, err
		}
		ttl := cfg.Infra.Redis.LockTTL
		if minTTL := application.PayLockTTL(mq.WriteBudget(cfg.Infra.Kafka.MaxAttempts)); ttl < minTTL {
			if ttl > 0 {
				log.Warn().Dur("configured", ttl).Dur("min", minTTL).Msg("redis lock TTL shorter than the pay saga publish budget, raising it")
			}
			ttl = minTTL
		}
		locker, err := adapter.NewRedisOrderLocker(client, ttl)
		if err != nil {
			_ = client.Close()
			return nil, nil, err
		}
		return locker, client.Close, nil
	case config.LockZookeeper:
		conn, err := zookeeper.Connect(cfg.Infra.Zookeeper.Servers, cfg.Infra.Zookeeper.SessionTimeout)
		if err != nil {
			return nil, nil, err
		}
		locker := adapter.NewZookeeperOrderLocker(conn, cfg.Infra.Zookeeper.LockTimeout)
		return locker, func() error { conn.Close(); return nil }, nil
	default:
		return adapter.NewLocalOrderLocker(), func() error { return nil }, nil
	}
}
