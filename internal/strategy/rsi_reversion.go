package strategy

import (
	"context"
	"fmt"

	talib "github.com/markcheno/go-talib"
	"github.com/tidwall/gjson"

	"riptide/internal/engine"
	"riptide/internal/market"
)

const rsiReversionSchema = `{
	"type": "object",
	"properties": {
		"period": {"type": "integer", "minimum": 2},
		"oversold": {"type": "number", "minimum": 1, "maximum": 50},
		"overbought": {"type": "number", "minimum": 50, "maximum": 99}
	},
	"additionalProperties": false
}`

// RSIReversion 超卖买入、超买卖出的均值回归策略。
type RSIReversion struct {
	period     int
	oversold   float64
	overbought float64
}

// RSIReversionFactory 返回 rsi_reversion 的注册项。
func RSIReversionFactory() Factory {
	return Factory{
		Name:        "rsi_reversion",
		Description: "RSI 超买超卖均值回归",
		Schema:      rsiReversionSchema,
		New:         NewRSIReversion,
	}
}

// NewRSIReversion 从 JSON 参数构造，默认 period=14 oversold=30 overbought=70。
func NewRSIReversion(params []byte) (engine.Strategy, error) {
	period, oversold, overbought := 14, 30.0, 70.0
	if len(params) > 0 {
		if v := gjson.GetBytes(params, "period"); v.Exists() {
			period = int(v.Int())
		}
		if v := gjson.GetBytes(params, "oversold"); v.Exists() {
			oversold = v.Float()
		}
		if v := gjson.GetBytes(params, "overbought"); v.Exists() {
			overbought = v.Float()
		}
	}
	if period < 2 || oversold <= 0 || overbought <= oversold {
		return nil, fmt.Errorf("rsi_reversion 参数非法: period=%d oversold=%v overbought=%v",
			period, oversold, overbought)
	}
	return &RSIReversion{period: period, oversold: oversold, overbought: overbought}, nil
}

func (s *RSIReversion) Name() string { return "rsi_reversion" }

func (s *RSIReversion) Initialize(context.Context) error { return nil }

func (s *RSIReversion) OnBar(_ context.Context, symbol string, _ market.Candle, history []market.Candle) (*engine.Signal, error) {
	if len(history) < s.period+1 {
		return nil, nil
	}
	closes := market.Closes(history)
	rsi := talib.Rsi(closes, s.period)
	cur := rsi[len(rsi)-1]

	switch {
	case cur <= s.oversold:
		return &engine.Signal{
			Symbol:     symbol,
			Action:     engine.ActionBuy,
			Confidence: (s.oversold - cur + 10) / (s.oversold + 10),
			Reasons:    []string{fmt.Sprintf("RSI%d=%.1f 低于 %.0f", s.period, cur, s.oversold)},
		}, nil
	case cur >= s.overbought:
		return &engine.Signal{
			Symbol:     symbol,
			Action:     engine.ActionSell,
			Confidence: (cur - s.overbought + 10) / (100 - s.overbought + 10),
			Reasons:    []string{fmt.Sprintf("RSI%d=%.1f 高于 %.0f", s.period, cur, s.overbought)},
		}, nil
	default:
		return &engine.Signal{Symbol: symbol, Action: engine.ActionHold}, nil
	}
}

func (s *RSIReversion) OnFill(engine.Fill) {}

func (s *RSIReversion) Finalize() error { return nil }
