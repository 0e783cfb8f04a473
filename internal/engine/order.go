// Package engine 实现事件驱动的回测核心：
// 事件队列保证因果时序，成交模拟器按订单类型撮合，
// 账本负责现金/持仓/盈亏的精确记账，分析器从资金曲线推导绩效指标。
package engine

import (
	"context"
	"time"

	"riptide/internal/market"
)

// Side 表示订单方向。
type Side int8

const (
	Buy Side = iota + 1
	Sell
)

func (s Side) String() string {
	switch s {
	case Buy:
		return "BUY"
	case Sell:
		return "SELL"
	default:
		return "UNKNOWN"
	}
}

// OrderType 表示订单类型。
type OrderType int8

const (
	Market OrderType = iota + 1
	Limit
	Stop
	StopLimit
)

func (t OrderType) String() string {
	switch t {
	case Market:
		return "MARKET"
	case Limit:
		return "LIMIT"
	case Stop:
		return "STOP"
	case StopLimit:
		return "STOP_LIMIT"
	default:
		return "UNKNOWN"
	}
}

// TimeInForce 订单有效期。
type TimeInForce string

const (
	TIFGoodTillCancel TimeInForce = "GTC"
	TIFDay            TimeInForce = "DAY"
)

// Order 由编排器根据信号创建，创建后不可变，只被成交模拟器消费一次。
type Order struct {
	ID         string      `json:"id"`
	Symbol     string      `json:"symbol"`
	Side       Side        `json:"side"`
	Quantity   int64       `json:"quantity"`
	Type       OrderType   `json:"type"`
	LimitPrice float64     `json:"limit_price,omitempty"`
	StopPrice  float64     `json:"stop_price,omitempty"`
	TIF        TimeInForce `json:"tif"`
	CreatedAt  time.Time   `json:"created_at"`
	Strategy   string      `json:"strategy"`
}

// Fill 是成交回报，也是唯一允许改变账本状态的输入。
// Price 为滑点调整后的成交价；SlippageCost 为滑点造成的美元成本（审计用）。
type Fill struct {
	OrderID      string    `json:"order_id"`
	Symbol       string    `json:"symbol"`
	Side         Side      `json:"side"`
	Quantity     int64     `json:"quantity"`
	Price        float64   `json:"price"`
	Commission   float64   `json:"commission"`
	SlippageCost float64   `json:"slippage_cost"`
	Timestamp    time.Time `json:"timestamp"`
}

// Action 表示策略的决策动作。
type Action string

const (
	ActionBuy  Action = "BUY"
	ActionSell Action = "SELL"
	ActionHold Action = "HOLD"
)

// Signal 为策略输出；HOLD 永远不会生成订单。
type Signal struct {
	Symbol     string   `json:"symbol"`
	Action     Action   `json:"action"`
	Confidence float64  `json:"confidence"`
	Reasons    []string `json:"reasons,omitempty"`
}

// Strategy 是编排器消费的外部策略契约。
// OnBar 只会收到当前模拟时刻及之前的 K 线，保证无前视。
type Strategy interface {
	Initialize(ctx context.Context) error
	OnBar(ctx context.Context, symbol string, candle market.Candle, history []market.Candle) (*Signal, error)
	OnFill(fill Fill)
	Finalize() error
	Name() string
}
