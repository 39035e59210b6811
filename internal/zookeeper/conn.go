// internal/zookeeper/conn.go
package zookeeper

import (
	"time"

	"github.com/go-zookeeper/zk"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// Conn 包装 *zk.Conn，锁实现只依赖这里暴露的方法
type Conn struct {
	*zk.Conn
}

// Connect 连接 ZooKeeper 集群，并等待会话建立
func Connect(servers []string, sessionTimeout time.Duration) (*Conn, error) {
	if len(servers) == 0 {
		return nil, errors.New("zookeeper servers must not be empty")
	}
	c, events, err := zk.Connect(servers, sessionTimeout, zk.WithLogInfo(false))
	if err != nil {
		return nil, errors.Wrap(err, "connect zookeeper")
	}

	timeout := time.After(sessionTimeout)
	for {
		select {
		case ev := <-events:
			if ev.State == zk.StateHasSession {
				log.Info().Strs("servers", servers).Msg("✅ Successfully connected to ZooKeeper.")
				go drain(events)
				return &Conn{Conn: c}, nil
			}
		case <-timeout:
			c.Close()
			return nil, errors.Errorf("zookeeper session not established within %s", sessionTimeout)
		}
	}
}

func drain(events <-chan zk.Event) {
	for ev := range events {
		if ev.State == zk.StateExpired || ev.State == zk.StateDisconnected {
			log.Warn().Str("state", ev.State.String()).Msg("zookeeper session state changed")
		}
	}
}
