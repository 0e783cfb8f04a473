package cost

import (
	"fmt"

	"github.com/shopspring/decimal"

	"riptide/internal/market"
)

// SlippageKind 枚举滑点模型族。
type SlippageKind int8

const (
	SlippageNone SlippageKind = iota
	SlippageFixedBPS
	SlippageVolumeBased
	SlippageSpreadBased
)

func (k SlippageKind) String() string {
	switch k {
	case SlippageNone:
		return "none"
	case SlippageFixedBPS:
		return "fixed_bps"
	case SlippageVolumeBased:
		return "volume_based"
	case SlippageSpreadBased:
		return "spread_based"
	default:
		return "unknown"
	}
}

// Slippage 为封闭的滑点模型变体。
// Rate 返回带方向的小数费率：正值表示对订单不利（买方付更高价 / 卖方收更低价）。
type Slippage struct {
	kind         SlippageKind
	baseBPS      decimal.Decimal
	scaleFactor  decimal.Decimal
	minSpreadBPS decimal.Decimal
	multiplier   decimal.Decimal
}

// NoSlippage 完全不计滑点。
func NoSlippage() Slippage {
	return Slippage{kind: SlippageNone}
}

// FixedBPS 固定基点滑点。
func FixedBPS(bps float64) (Slippage, error) {
	if bps < 0 {
		return Slippage{}, fmt.Errorf("fixed slippage: bps 不能为负 (%v)", bps)
	}
	return Slippage{kind: SlippageFixedBPS, baseBPS: decimal.NewFromFloat(bps)}, nil
}

// VolumeBased 随订单量占平均量的比例放大：
// rate = base + (qty/avgVolume)*scaleFactor；平均量未知时退回 base。
func VolumeBased(baseBPS, scaleFactor float64) (Slippage, error) {
	if baseBPS < 0 {
		return Slippage{}, fmt.Errorf("volume slippage: baseBPS 不能为负 (%v)", baseBPS)
	}
	if scaleFactor < 0 {
		return Slippage{}, fmt.Errorf("volume slippage: scaleFactor 不能为负 (%v)", scaleFactor)
	}
	return Slippage{
		kind:        SlippageVolumeBased,
		baseBPS:     decimal.NewFromFloat(baseBPS),
		scaleFactor: decimal.NewFromFloat(scaleFactor),
	}, nil
}

// SpreadBased 用 K 线振幅估算价差（(high-low)/mid*0.5），下限 minSpreadBPS，
// 再乘 multiplier，订单承担半个价差。
func SpreadBased(minSpreadBPS, multiplier float64) (Slippage, error) {
	if minSpreadBPS < 0 {
		return Slippage{}, fmt.Errorf("spread slippage: minSpreadBPS 不能为负 (%v)", minSpreadBPS)
	}
	if multiplier < 0 {
		return Slippage{}, fmt.Errorf("spread slippage: multiplier 不能为负 (%v)", multiplier)
	}
	return Slippage{
		kind:         SlippageSpreadBased,
		minSpreadBPS: decimal.NewFromFloat(minSpreadBPS),
		multiplier:   decimal.NewFromFloat(multiplier),
	}, nil
}

// Kind 返回模型族。
func (s Slippage) Kind() SlippageKind { return s.kind }

var half = decimal.NewFromFloat(0.5)

// Rate 计算带方向的小数滑点率。buy=true 时正值抬高买价，
// buy=false 时正值压低卖价；符号由调用方按方向施加。
func (s Slippage) Rate(buy bool, qty int64, c market.Candle, avgVolume float64) decimal.Decimal {
	_ = buy // 方向不改变幅度，只改变施加方式
	switch s.kind {
	case SlippageFixedBPS:
		return s.baseBPS.Div(bpsDivisor)
	case SlippageVolumeBased:
		base := s.baseBPS.Div(bpsDivisor)
		if avgVolume <= 0 || qty <= 0 {
			return base
		}
		ratio := decimal.NewFromInt(qty).Div(decimal.NewFromFloat(avgVolume))
		return base.Add(ratio.Mul(s.scaleFactor).Div(bpsDivisor))
	case SlippageSpreadBased:
		mid := c.Mid()
		spread := decimal.Zero
		if mid > 0 && c.High >= c.Low {
			rng := decimal.NewFromFloat(c.High - c.Low)
			spread = rng.Div(decimal.NewFromFloat(mid)).Mul(half)
		}
		floor := s.minSpreadBPS.Div(bpsDivisor)
		if spread.LessThan(floor) {
			spread = floor
		}
		// 订单承担半个价差
		return spread.Mul(s.multiplier).Mul(half)
	default:
		return decimal.Zero
	}
}
