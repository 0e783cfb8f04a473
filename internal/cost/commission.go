// Package cost 提供可插拔的交易成本模型（手续费 + 滑点）。
// 模型一经构造即不可变，可在并发回测间只读共享。
package cost

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// CommissionKind 枚举手续费模型族。
type CommissionKind int8

const (
	CommissionZero CommissionKind = iota
	CommissionFixed
	CommissionPercentage
	CommissionPerShare
)

func (k CommissionKind) String() string {
	switch k {
	case CommissionZero:
		return "zero"
	case CommissionFixed:
		return "fixed"
	case CommissionPercentage:
		return "percentage"
	case CommissionPerShare:
		return "per_share"
	default:
		return "unknown"
	}
}

// Commission 为封闭的手续费模型变体，参数在构造期校验。
// maxFee 为零值表示不设上限。
type Commission struct {
	kind   CommissionKind
	fee    decimal.Decimal
	bps    decimal.Decimal
	minFee decimal.Decimal
	maxFee decimal.Decimal
	hasMax bool
}

// ZeroCommission 不收取任何手续费。
func ZeroCommission() Commission {
	return Commission{kind: CommissionZero}
}

// FixedPerTrade 每笔固定费用。
func FixedPerTrade(fee float64) (Commission, error) {
	if fee < 0 {
		return Commission{}, fmt.Errorf("fixed commission: fee 不能为负 (%v)", fee)
	}
	return Commission{kind: CommissionFixed, fee: decimal.NewFromFloat(fee)}, nil
}

// Percentage 按成交额的基点收费，带下限与可选上限：
// commission = clamp(tradeValue*bps/10000, min, max)。
// maxFee<=0 视为不设上限。
func Percentage(bps, minFee, maxFee float64) (Commission, error) {
	if bps < 0 {
		return Commission{}, fmt.Errorf("percentage commission: bps 不能为负 (%v)", bps)
	}
	if minFee < 0 {
		return Commission{}, fmt.Errorf("percentage commission: minFee 不能为负 (%v)", minFee)
	}
	c := Commission{
		kind:   CommissionPercentage,
		bps:    decimal.NewFromFloat(bps),
		minFee: decimal.NewFromFloat(minFee),
	}
	if maxFee > 0 {
		if maxFee < minFee {
			return Commission{}, fmt.Errorf("percentage commission: maxFee(%v) < minFee(%v)", maxFee, minFee)
		}
		c.maxFee = decimal.NewFromFloat(maxFee)
		c.hasMax = true
	}
	return c, nil
}

// PerShare 按股数收费，带下限与可选上限。maxFee<=0 视为不设上限。
func PerShare(feePerShare, minFee, maxFee float64) (Commission, error) {
	if feePerShare < 0 {
		return Commission{}, fmt.Errorf("per-share commission: feePerShare 不能为负 (%v)", feePerShare)
	}
	if minFee < 0 {
		return Commission{}, fmt.Errorf("per-share commission: minFee 不能为负 (%v)", minFee)
	}
	c := Commission{
		kind:   CommissionPerShare,
		fee:    decimal.NewFromFloat(feePerShare),
		minFee: decimal.NewFromFloat(minFee),
	}
	if maxFee > 0 {
		if maxFee < minFee {
			return Commission{}, fmt.Errorf("per-share commission: maxFee(%v) < minFee(%v)", maxFee, minFee)
		}
		c.maxFee = decimal.NewFromFloat(maxFee)
		c.hasMax = true
	}
	return c, nil
}

// Kind 返回模型族。
func (c Commission) Kind() CommissionKind { return c.kind }

var bpsDivisor = decimal.NewFromInt(10000)

// Calc 计算一笔成交的手续费（美元，≥0）。qty 为股数，price 为成交价。
func (c Commission) Calc(qty int64, price float64) decimal.Decimal {
	if qty <= 0 || price <= 0 {
		return decimal.Zero
	}
	switch c.kind {
	case CommissionFixed:
		return c.fee
	case CommissionPercentage:
		tradeValue := decimal.NewFromInt(qty).Mul(decimal.NewFromFloat(price))
		fee := tradeValue.Mul(c.bps).Div(bpsDivisor)
		return c.clamp(fee)
	case CommissionPerShare:
		fee := decimal.NewFromInt(qty).Mul(c.fee)
		return c.clamp(fee)
	default:
		return decimal.Zero
	}
}

func (c Commission) clamp(fee decimal.Decimal) decimal.Decimal {
	if fee.LessThan(c.minFee) {
		fee = c.minFee
	}
	if c.hasMax && fee.GreaterThan(c.maxFee) {
		fee = c.maxFee
	}
	return fee
}
