package adapter

import (
	"context"
	"time"

	"orderpay/internal/pkg/logger"
	"orderpay/internal/service/order/domain/port"
	"orderpay/internal/zookeeper"
)

// ZookeeperOrderLocker 基于 zookeeper.DistributedLock 实现 port.OrderLocker
type ZookeeperOrderLocker struct {
	conn    *zookeeper.Conn
	timeout time.Duration
}

func NewZookeeperOrderLocker(conn *zookeeper.Conn, timeout time.Duration) *ZookeeperOrderLocker {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &ZookeeperOrderLocker{conn: conn, timeout: timeout}
}

func (a *ZookeeperOrderLocker) Lock(ctx context.Context, orderID string) (port.Unlock, error) {
	lock, err := zookeeper.NewDistributedLock(a.conn, orderID)
	if err != nil {
		return nil, err
	}

	waitCtx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()
	if err := lock.Lock(waitCtx); err != nil {
		return nil, err
	}

	return func() {
		if err := lock.Unlock(); err != nil {
			logger.Ctx(ctx).Error().Err(err).Str("order", orderID).Msg("failed to release zookeeper order lock")
		}
	}, nil
}
