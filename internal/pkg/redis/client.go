// internal/pkg/redis/client.go
package redis

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	goredis "github.com/redis/go-redis/v9"

	"orderpay/internal/pkg/logger"
)

// Client 封装了 go-redis 客户端，并缓存按名称加载的 Lua 脚本
type Client struct {
	rdb     goredis.UniversalClient
	scripts map[string]*goredis.Script
	mu      sync.RWMutex
}

// NewClient 根据地址列表创建客户端：单个地址为单机模式，多个地址为集群模式
func NewClient(ctx context.Context, addrs []string, password string) (*Client, error) {
	if len(addrs) == 0 {
		return nil, errors.New("redis addrs must not be empty")
	}
	rdb := goredis.NewUniversalClient(&goredis.UniversalOptions{
		Addrs:        addrs,
		Password:     password,
		DialTimeout:  3 * time.Second,
		ReadTimeout:  time.Second,
		WriteTimeout: time.Second,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, errors.Wrap(err, "ping redis")
	}

	logger.Ctx(ctx).Info().Strs("addrs", addrs).Msg("✅ Successfully connected to Redis.")
	return NewFromUniversal(rdb), nil
}

// NewFromUniversal 包装一个已经创建好的 go-redis 客户端
func NewFromUniversal(rdb goredis.UniversalClient) *Client {
	return &Client{
		rdb:     rdb,
		scripts: make(map[string]*goredis.Script),
	}
}

// LoadScriptFromContent 以 name 注册一段 Lua 脚本
func (c *Client) LoadScriptFromContent(name, content string) error {
	if content == "" {
		return errors.Errorf("script %s is empty", name)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.scripts[name] = goredis.NewScript(content)
	return nil
}

// RunScript 执行已注册的脚本，优先走 EVALSHA
func (c *Client) RunScript(ctx context.Context, name string, keys []string, args ...interface{}) (interface{}, error) {
	c.mu.RLock()
	script, ok := c.scripts[name]
	c.mu.RUnlock()
	if !ok {
		return nil, errors.Errorf("script %s not loaded", name)
	}
	res, err := script.Run(ctx, c.rdb, keys, args...).Result()
	if err != nil && !errors.Is(err, goredis.Nil) {
		return nil, errors.Wrapf(err, "run script %s", name)
	}
	return res, nil
}

// GetClient 暴露底层客户端，用于 SetNX 等简单命令
func (c *Client) GetClient() goredis.UniversalClient {
	return c.rdb
}

func (c *Client) Close() error {
	return c.rdb.Close()
}
