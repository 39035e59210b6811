package domain

import "github.com/shopspring/decimal"

// Money 是事件和接口中的金额，JSON 中编码为不带引号的数字，下游按数字解析
type Money struct {
	decimal.Decimal
}

func NewMoney(d decimal.Decimal) Money { return Money{Decimal: d} }

func (m Money) MarshalJSON() ([]byte, error) {
	return []byte(m.Decimal.String()), nil
}

func (m *Money) UnmarshalJSON(b []byte) error {
	return m.Decimal.UnmarshalJSON(b)
}

// MoneyScale 是金额允许的小数位数，与存储列 decimal(15,2) 一致
const MoneyScale = 2

func withinMoneyScale(d decimal.Decimal) bool {
	return d.Equal(d.Round(MoneyScale))
}
