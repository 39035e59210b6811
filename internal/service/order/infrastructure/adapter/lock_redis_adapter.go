package adapter

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"orderpay/internal/pkg/logger"
	"orderpay/internal/pkg/redis"
	"orderpay/internal/service/order/domain/port"
)

const (
	releaseLockScriptName = "release_order_lock"
	lockRetryInterval     = 50 * time.Millisecond
	defaultLockTTL        = 2 * time.Minute
)

// RedisOrderLocker 是 port.OrderLocker 的 Redis 实现 (SET NX PX + 校验 token 的释放脚本)
type RedisOrderLocker struct {
	redisClient *redis.Client
	ttl         time.Duration
}

// NewRedisOrderLocker 创建锁适配器，并在创建时加载释放锁的 Lua 脚本
func NewRedisOrderLocker(redisClient *redis.Client, ttl time.Duration) (*RedisOrderLocker, error) {
	if err := redisClient.LoadScriptFromContent(releaseLockScriptName, releaseLockScript); err != nil {
		return nil, fmt.Errorf("failed to load order lock script: %w", err)
	}
	if ttl <= 0 {
		ttl = defaultLockTTL
	}
	return &RedisOrderLocker{redisClient: redisClient, ttl: ttl}, nil
}

func (a *RedisOrderLocker) Lock(ctx context.Context, orderID string) (port.Unlock, error) {
	key := fmt.Sprintf("order:lock:{%s}", orderID)
	token := uuid.NewString()

	ticker := time.NewTicker(lockRetryInterval)
	defer ticker.Stop()
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		ok, err := a.redisClient.GetClient().SetNX(ctx, key, token, a.ttl).Result()
		if err != nil {
			return nil, errors.Wrapf(err, "acquire redis lock for order %s", orderID)
		}
		if ok {
			return func() { a.release(key, token) }, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

func (a *RedisOrderLocker) release(key, token string) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	res, err := a.redisClient.RunScript(ctx, releaseLockScriptName, []string{key}, token)
	if err != nil {
		logger.Ctx(ctx).Error().Err(err).Str("key", key).Msg("failed to release redis order lock")
		return
	}
	if n, ok := res.(int64); ok && n == 0 {
		// 锁已过期并可能被其他请求持有，互斥在这段时间内失效
		logger.Ctx(ctx).Error().Str("key", key).Dur("ttl", a.ttl).Msg("🚨 redis order lock expired before release")
	}
}

var releaseLockScript = `
-- KEYS[1]: 订单锁的 Key, 例如: order:lock:{<orderId>}
-- ARGV[1]: 加锁时写入的 token

if redis.call('get', KEYS[1]) == ARGV[1] then
    return redis.call('del', KEYS[1])
end
return 0
`
