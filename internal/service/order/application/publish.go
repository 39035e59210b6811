package application

import (
	"context"

	"github.com/pkg/errors"

	"orderpay/internal/pkg/logger"
	"orderpay/internal/service/order/domain"
	"orderpay/internal/service/order/domain/port"
)

// publishOrPark 发布事件，失败时交给 parker 暂存。
// parked 为 true 表示事件没有到达 broker，但已经可靠地保存待重发。
func publishOrPark(ctx context.Context, publisher port.EventPublisher, parker port.EventParker, event domain.Event) (parked bool, err error) {
	pubErr := publisher.Publish(ctx, event)
	if pubErr == nil {
		return false, nil
	}
	if parker == nil {
		return false, pubErr
	}
	if parkErr := parker.Park(ctx, event, pubErr); parkErr != nil {
		logger.Ctx(ctx).Error().Err(parkErr).
			Str("topic", event.Topic()).
			Str("key", event.Key()).
			Msg("CRITICAL: event could neither be published nor parked")
		return false, errors.Wrapf(pubErr, "park failed (%v)", parkErr)
	}
	logger.Ctx(ctx).Warn().Err(pubErr).
		Str("topic", event.Topic()).
		Str("key", event.Key()).
		Msg("event parked in outbox for redelivery")
	return true, nil
}
