package strategy

import (
	"context"
	"fmt"

	talib "github.com/markcheno/go-talib"
	"github.com/tidwall/gjson"

	"riptide/internal/engine"
	"riptide/internal/market"
)

const smaCrossSchema = `{
	"type": "object",
	"properties": {
		"fast": {"type": "integer", "minimum": 2},
		"slow": {"type": "integer", "minimum": 3}
	},
	"additionalProperties": false
}`

// SMACross 快慢均线金叉买入、死叉卖出。
type SMACross struct {
	fast int
	slow int
}

// SMACrossFactory 返回 sma_cross 的注册项。
func SMACrossFactory() Factory {
	return Factory{
		Name:        "sma_cross",
		Description: "快慢简单均线交叉",
		Schema:      smaCrossSchema,
		New:         NewSMACross,
	}
}

// NewSMACross 从 JSON 参数构造，默认 fast=10 slow=30。
func NewSMACross(params []byte) (engine.Strategy, error) {
	fast, slow := 10, 30
	if len(params) > 0 {
		if v := gjson.GetBytes(params, "fast"); v.Exists() {
			fast = int(v.Int())
		}
		if v := gjson.GetBytes(params, "slow"); v.Exists() {
			slow = int(v.Int())
		}
	}
	if fast < 2 || slow <= fast {
		return nil, fmt.Errorf("sma_cross 参数非法: fast=%d slow=%d", fast, slow)
	}
	return &SMACross{fast: fast, slow: slow}, nil
}

func (s *SMACross) Name() string { return "sma_cross" }

func (s *SMACross) Initialize(context.Context) error { return nil }

func (s *SMACross) OnBar(_ context.Context, symbol string, _ market.Candle, history []market.Candle) (*engine.Signal, error) {
	if len(history) < s.slow+1 {
		return nil, nil
	}
	closes := market.Closes(history)
	fastMA := talib.Sma(closes, s.fast)
	slowMA := talib.Sma(closes, s.slow)
	n := len(closes) - 1
	prevFast, prevSlow := fastMA[n-1], slowMA[n-1]
	curFast, curSlow := fastMA[n], slowMA[n]

	switch {
	case prevFast <= prevSlow && curFast > curSlow:
		return &engine.Signal{
			Symbol:     symbol,
			Action:     engine.ActionBuy,
			Confidence: crossConfidence(curFast, curSlow),
			Reasons:    []string{fmt.Sprintf("SMA%d 上穿 SMA%d", s.fast, s.slow)},
		}, nil
	case prevFast >= prevSlow && curFast < curSlow:
		return &engine.Signal{
			Symbol:     symbol,
			Action:     engine.ActionSell,
			Confidence: crossConfidence(curSlow, curFast),
			Reasons:    []string{fmt.Sprintf("SMA%d 下穿 SMA%d", s.fast, s.slow)},
		}, nil
	default:
		return &engine.Signal{Symbol: symbol, Action: engine.ActionHold}, nil
	}
}

func (s *SMACross) OnFill(engine.Fill) {}

func (s *SMACross) Finalize() error { return nil }

// crossConfidence 用均线间距占慢线的比例粗略表示信号强度。
func crossConfidence(above, below float64) float64 {
	if below <= 0 {
		return 0.5
	}
	gap := (above - below) / below
	conf := 0.5 + gap*10
	if conf > 1 {
		conf = 1
	}
	if conf < 0 {
		conf = 0
	}
	return conf
}
