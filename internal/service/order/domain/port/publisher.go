package port

import (
	"context"

	"orderpay/internal/service/order/domain"
)

// EventPublisher 是领域事件的出站端口。
// Publish 返回 nil 表示 broker 已经确认写入。
type EventPublisher interface {
	Publish(ctx context.Context, event domain.Event) error
}

// EventParker 在发布失败时把事件暂存起来，由后台任务重发。
type EventParker interface {
	Park(ctx context.Context, event domain.Event, cause error) error
}
