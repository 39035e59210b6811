package adapter

import (
	"context"
	"sync"

	"orderpay/internal/service/order/domain/port"
)

// LocalOrderLocker 是进程内的 port.OrderLocker 实现，只适用于单实例部署
type LocalOrderLocker struct {
	mu    sync.Mutex
	locks map[string]*localLock
}

type localLock struct {
	ch   chan struct{}
	refs int
}

func NewLocalOrderLocker() *LocalOrderLocker {
	return &LocalOrderLocker{locks: make(map[string]*localLock)}
}

func (l *LocalOrderLocker) Lock(ctx context.Context, orderID string) (port.Unlock, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	l.mu.Lock()
	e, ok := l.locks[orderID]
	if !ok {
		e = &localLock{ch: make(chan struct{}, 1)}
		l.locks[orderID] = e
	}
	e.refs++
	l.mu.Unlock()

	select {
	case e.ch <- struct{}{}:
		var once sync.Once
		return func() {
			once.Do(func() {
				<-e.ch
				l.release(orderID, e)
			})
		}, nil
	case <-ctx.Done():
		l.release(orderID, e)
		return nil, ctx.Err()
	}
}

func (l *LocalOrderLocker) release(orderID string, e *localLock) {
	l.mu.Lock()
	defer l.mu.Unlock()
	e.refs--
	if e.refs == 0 {
		delete(l.locks, orderID)
	}
}

// size 返回仍被持有或等待中的锁数量
func (l *LocalOrderLocker) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}
