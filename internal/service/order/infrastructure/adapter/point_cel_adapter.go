package adapter

import (
	"context"

	"github.com/google/cel-go/cel"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"orderpay/internal/service/order/domain"
)

// DefaultPointRule 按订单金额的 10% 累积积分
const DefaultPointRule = "0.1"

// CelPointPolicy 用 CEL 表达式计算积分，实现 port.PointPolicy。
// 表达式返回积分比例，可以使用 totalPrice (double，只用于条件判断)、memberId (int)、itemCount (int)。
// 积分 = 订单金额 × 比例，乘法在 decimal 上完成。
type CelPointPolicy struct {
	expr    string
	program cel.Program
}

// NewCelPointPolicy 在启动时编译表达式，语法或类型错误会直接返回
func NewCelPointPolicy(expr string) (*CelPointPolicy, error) {
	if expr == "" {
		expr = DefaultPointRule
	}
	env, err := cel.NewEnv(
		cel.Variable("totalPrice", cel.DoubleType),
		cel.Variable("memberId", cel.IntType),
		cel.Variable("itemCount", cel.IntType),
	)
	if err != nil {
		return nil, errors.Wrap(err, "create cel env")
	}
	ast, iss := env.Compile(expr)
	if iss != nil && iss.Err() != nil {
		return nil, errors.Wrapf(iss.Err(), "compile point rule %q", expr)
	}
	outType := ast.OutputType()
	if !outType.IsExactType(cel.DoubleType) && !outType.IsExactType(cel.IntType) && !outType.IsExactType(cel.UintType) {
		return nil, errors.Errorf("point rule %q must evaluate to a number, got %s", expr, outType)
	}
	prg, err := env.Program(ast)
	if err != nil {
		return nil, errors.Wrapf(err, "build point rule %q", expr)
	}
	return &CelPointPolicy{expr: expr, program: prg}, nil
}

// Calculate 返回保留两位小数 (四舍五入) 的积分，负比例按 0 处理
func (p *CelPointPolicy) Calculate(_ context.Context, order *domain.Order) (decimal.Decimal, error) {
	total, _ := order.TotalPrice.Float64()
	out, _, err := p.program.Eval(map[string]interface{}{
		"totalPrice": total,
		"memberId":   order.MemberID,
		"itemCount":  int64(len(order.Items)),
	})
	if err != nil {
		return decimal.Zero, errors.Wrapf(err, "evaluate point rule %q", p.expr)
	}

	var rate decimal.Decimal
	switch v := out.Value().(type) {
	case float64:
		// NewFromFloat 取最短十进制表示，0.1 得到的就是 0.1
		rate = decimal.NewFromFloat(v)
	case int64:
		rate = decimal.NewFromInt(v)
	case uint64:
		rate = decimal.NewFromInt(int64(v))
	default:
		return decimal.Zero, errors.Errorf("point rule %q returned %T", p.expr, v)
	}
	if rate.IsNegative() {
		return decimal.Zero, nil
	}
	return order.TotalPrice.Mul(rate).Round(domain.MoneyScale), nil
}
