package port

import (
	"context"

	"github.com/shopspring/decimal"

	"orderpay/internal/service/order/domain"
)

// PointPolicy 计算一笔已支付订单应累积的积分
type PointPolicy interface {
	Calculate(ctx context.Context, order *domain.Order) (decimal.Decimal, error)
}
