package engine

import (
	"fmt"

	"github.com/shopspring/decimal"

	"riptide/internal/cost"
	"riptide/internal/market"
)

// ErrUnsupportedOrderType 表示订单类型未被模拟器支持，对该 run 是致命错误。
var ErrUnsupportedOrderType = fmt.Errorf("不支持的订单类型")

// FillConfig 控制成交模拟行为。
type FillConfig struct {
	// FillOnClose 为 true 时市价单以收盘价为基准，否则用开盘价。
	FillOnClose bool
	// RejectPartialFills 为 true 时，订单量超过流动性上限直接不成交。
	RejectPartialFills bool
	// MaxOrderSizePct 为单笔订单量占当根成交量的上限（0 表示不限制）。
	MaxOrderSizePct float64
}

// FillSimulator 把一张订单 + 当前 K 线（+ 可选平均量）转换为零或一笔成交。
// 条件不满足时返回 nil 成交而非错误。
type FillSimulator struct {
	cfg        FillConfig
	commission cost.Commission
	slippage   cost.Slippage
}

func NewFillSimulator(cfg FillConfig, commission cost.Commission, slippage cost.Slippage) *FillSimulator {
	return &FillSimulator{cfg: cfg, commission: commission, slippage: slippage}
}

// Simulate 按订单类型撮合。返回 (nil, nil) 表示本根 K 线未满足成交条件。
func (f *FillSimulator) Simulate(order Order, c market.Candle, avgVolume float64) (*Fill, error) {
	if order.Quantity <= 0 {
		return nil, fmt.Errorf("订单 %s 数量非法: %d", order.ID, order.Quantity)
	}
	if order.Side != Buy && order.Side != Sell {
		return nil, fmt.Errorf("订单 %s 方向非法", order.ID)
	}
	switch order.Type {
	case Market:
		return f.fillMarket(order, c, avgVolume)
	case Limit:
		return f.fillLimit(order, c)
	case Stop:
		return f.fillStop(order, c, avgVolume)
	case StopLimit:
		if !stopTriggered(order, c) {
			return nil, nil
		}
		return f.fillLimit(order, c)
	default:
		return nil, fmt.Errorf("%w: %s (order=%s)", ErrUnsupportedOrderType, order.Type, order.ID)
	}
}

func (f *FillSimulator) fillMarket(order Order, c market.Candle, avgVolume float64) (*Fill, error) {
	base := c.Close
	if !f.cfg.FillOnClose {
		base = c.Open
	}
	if f.liquidityExceeded(order, c) {
		return nil, nil
	}
	return f.buildFill(order, c, base, avgVolume), nil
}

func (f *FillSimulator) fillLimit(order Order, c market.Candle) (*Fill, error) {
	if order.LimitPrice <= 0 {
		return nil, fmt.Errorf("限价单 %s 缺少限价", order.ID)
	}
	var price float64
	switch order.Side {
	case Buy:
		if c.Low > order.LimitPrice {
			return nil, nil
		}
		// 保守成交价：不优于限价，也不优于收盘
		price = minFloat(order.LimitPrice, c.Close)
	case Sell:
		if c.High < order.LimitPrice {
			return nil, nil
		}
		price = maxFloat(order.LimitPrice, c.Close)
	}
	// 限价由交易者指定，不再叠加滑点
	commission := f.commission.Calc(order.Quantity, price)
	return &Fill{
		OrderID:    order.ID,
		Symbol:     order.Symbol,
		Side:       order.Side,
		Quantity:   order.Quantity,
		Price:      price,
		Commission: decToFloat(commission),
		Timestamp:  c.Timestamp(),
	}, nil
}

func (f *FillSimulator) fillStop(order Order, c market.Candle, avgVolume float64) (*Fill, error) {
	if order.StopPrice <= 0 {
		return nil, fmt.Errorf("止损单 %s 缺少触发价", order.ID)
	}
	if !stopTriggered(order, c) {
		return nil, nil
	}
	// 触发后按市价成交，价格取 stop 与 close 中对订单更不利者
	var base float64
	if order.Side == Buy {
		base = maxFloat(order.StopPrice, c.Close)
	} else {
		base = minFloat(order.StopPrice, c.Close)
	}
	return f.buildFill(order, c, base, avgVolume), nil
}

func stopTriggered(order Order, c market.Candle) bool {
	if order.StopPrice <= 0 {
		return false
	}
	if order.Side == Buy {
		return c.High >= order.StopPrice
	}
	return c.Low <= order.StopPrice
}

// buildFill 施加滑点后生成成交：买方付更高价，卖方收更低价。
func (f *FillSimulator) buildFill(order Order, c market.Candle, base float64, avgVolume float64) *Fill {
	rate := f.slippage.Rate(order.Side == Buy, order.Quantity, c, avgVolume)
	basePrice := decimal.NewFromFloat(base)
	var adj decimal.Decimal
	if order.Side == Buy {
		adj = basePrice.Mul(decimal.NewFromInt(1).Add(rate))
	} else {
		adj = basePrice.Mul(decimal.NewFromInt(1).Sub(rate))
	}
	qty := decimal.NewFromInt(order.Quantity)
	slipCost := adj.Sub(basePrice).Abs().Mul(qty)
	commission := f.commission.Calc(order.Quantity, decToFloat(adj))
	return &Fill{
		OrderID:      order.ID,
		Symbol:       order.Symbol,
		Side:         order.Side,
		Quantity:     order.Quantity,
		Price:        decToFloat(adj),
		Commission:   decToFloat(commission),
		SlippageCost: decToFloat(slipCost),
		Timestamp:    c.Timestamp(),
	}
}

func (f *FillSimulator) liquidityExceeded(order Order, c market.Candle) bool {
	if !f.cfg.RejectPartialFills || f.cfg.MaxOrderSizePct <= 0 || c.Volume <= 0 {
		return false
	}
	return float64(order.Quantity) > f.cfg.MaxOrderSizePct*c.Volume
}

func decToFloat(d decimal.Decimal) float64 {
	f, _ := d.Float64()
	return f
}

func minFloat(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}

func maxFloat(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}
