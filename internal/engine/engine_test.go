package engine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"riptide/internal/cost"
	"riptide/internal/market"
)

type fakeProvider struct {
	candles   []market.Candle
	avgVolume float64
}

func (p *fakeProvider) GetHistoricalData(_ context.Context, _, _ string, start, end int64) ([]market.Candle, error) {
	var out []market.Candle
	for _, c := range p.candles {
		if c.CloseTime >= start && c.CloseTime <= end {
			out = append(out, c)
		}
	}
	return out, nil
}

func (p *fakeProvider) GetAverageVolume(context.Context, string, string, int) (float64, error) {
	return p.avgVolume, nil
}

// scriptedStrategy emits a fixed action per bar index and records what it saw.
type scriptedStrategy struct {
	actions      []Action
	bar          int
	historyLens  []int
	fills        []Fill
	finalizeErr  error
	initializeOK bool
}

func (s *scriptedStrategy) Name() string { return "scripted" }

func (s *scriptedStrategy) Initialize(context.Context) error {
	s.initializeOK = true
	return nil
}

func (s *scriptedStrategy) OnBar(_ context.Context, symbol string, _ market.Candle, history []market.Candle) (*Signal, error) {
	s.historyLens = append(s.historyLens, len(history))
	action := ActionHold
	if s.bar < len(s.actions) {
		action = s.actions[s.bar]
	}
	s.bar++
	return &Signal{Symbol: symbol, Action: action, Confidence: 1}, nil
}

func (s *scriptedStrategy) OnFill(f Fill) { s.fills = append(s.fills, f) }

func (s *scriptedStrategy) Finalize() error { return s.finalizeErr }

func dailyCandles(start time.Time, closes ...float64) []market.Candle {
	out := make([]market.Candle, len(closes))
	for i, c := range closes {
		open := c
		if i > 0 {
			open = closes[i-1]
		}
		high := maxFloat(open, c) * 1.01
		low := minFloat(open, c) * 0.99
		openTime := start.Add(time.Duration(i) * 24 * time.Hour)
		out[i] = market.Candle{
			Symbol:    "BTCUSDT",
			OpenTime:  openTime.UnixMilli(),
			CloseTime: openTime.Add(24*time.Hour - time.Millisecond).UnixMilli(),
			Open:      open, High: high, Low: low, Close: c,
			Volume: 1_000_000,
		}
	}
	return out
}

func testEngineConfig(start time.Time, days int) Config {
	return Config{
		Symbol:         "BTCUSDT",
		Timeframe:      "1d",
		InitialCapital: 100000,
		Start:          start,
		End:            start.Add(time.Duration(days) * 24 * time.Hour),
		Commission:     cost.ZeroCommission(),
		Slippage:       cost.NoSlippage(),
		FillOnClose:    true,
	}
}

func TestEngine_New_Validation(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	provider := &fakeProvider{}
	strat := &scriptedStrategy{}

	_, err := New(Config{}, provider, strat)
	assert.Error(t, err)

	cfg := testEngineConfig(start, 10)
	_, err = New(cfg, nil, strat)
	assert.Error(t, err)
	_, err = New(cfg, provider, nil)
	assert.Error(t, err)

	bad := testEngineConfig(start, 10)
	bad.InitialCapital = 0
	_, err = New(bad, provider, strat)
	assert.Error(t, err)

	bad = testEngineConfig(start, 10)
	bad.End = bad.Start
	_, err = New(bad, provider, strat)
	assert.Error(t, err)
}

func TestEngine_Run_BuySellRoundTrip(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	candles := dailyCandles(start, 50, 50, 50, 55, 55)
	provider := &fakeProvider{candles: candles, avgVolume: 1_000_000}

	strat := &scriptedStrategy{actions: []Action{ActionHold, ActionBuy, ActionHold, ActionSell, ActionHold}}
	cfg := testEngineConfig(start, 5)
	cfg.PositionSizePct = 1.0

	eng, err := New(cfg, provider, strat)
	assert.NoError(t, err)

	result, err := eng.Run(context.Background())
	assert.NoError(t, err)
	assert.True(t, strat.initializeOK)

	// buy on day 2 at 50 with full cash → 2000 shares; sell on day 4 at 55
	assert.Len(t, result.Trades, 1)
	tr := result.Trades[0]
	assert.Equal(t, int64(2000), tr.Quantity)
	assert.Equal(t, 50.0, tr.EntryPrice)
	assert.Equal(t, 55.0, tr.ExitPrice)
	assert.Equal(t, "signal", tr.ExitReason)
	assert.InDelta(t, 10000.0, tr.NetPnL, 1e-9)

	assert.InDelta(t, 110000.0, result.Metrics.FinalEquity, 1e-6)
	assert.InDelta(t, 10.0, result.Metrics.TotalReturnPct, 1e-6)
	assert.Equal(t, 1, result.Metrics.TotalTrades)
	assert.InDelta(t, 100.0, result.Metrics.WinRate, 1e-9)

	// one curve point per candle
	assert.Len(t, result.Curve, len(candles))
	assert.Len(t, strat.fills, 2)
	assert.Empty(t, result.Errors)
}

func TestEngine_Run_NoLookahead(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	candles := dailyCandles(start, 50, 51, 52, 53)
	provider := &fakeProvider{candles: candles}
	strat := &scriptedStrategy{}

	eng, err := New(testEngineConfig(start, 4), provider, strat)
	assert.NoError(t, err)
	_, err = eng.Run(context.Background())
	assert.NoError(t, err)

	// bar i only ever sees i+1 candles
	assert.Equal(t, []int{1, 2, 3, 4}, strat.historyLens)
}

func TestEngine_Run_ForceCloseAtEnd(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	candles := dailyCandles(start, 50, 50, 60)
	provider := &fakeProvider{candles: candles}
	strat := &scriptedStrategy{actions: []Action{ActionBuy, ActionHold, ActionHold}}

	cfg := testEngineConfig(start, 3)
	eng, err := New(cfg, provider, strat)
	assert.NoError(t, err)

	result, err := eng.Run(context.Background())
	assert.NoError(t, err)

	assert.Len(t, result.Trades, 1)
	assert.Equal(t, "end_of_data", result.Trades[0].ExitReason)
	assert.Equal(t, 60.0, result.Trades[0].ExitPrice)
}

func TestEngine_Run_CostsFlowThrough(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	candles := dailyCandles(start, 50, 50, 55)
	provider := &fakeProvider{candles: candles, avgVolume: 1_000_000}

	commission, err := cost.Percentage(10, 1, 0)
	assert.NoError(t, err)
	slippage, err := cost.FixedBPS(10)
	assert.NoError(t, err)

	strat := &scriptedStrategy{actions: []Action{ActionBuy, ActionHold, ActionSell}}
	cfg := testEngineConfig(start, 3)
	cfg.Commission = commission
	cfg.Slippage = slippage

	eng, err := New(cfg, provider, strat)
	assert.NoError(t, err)

	result, err := eng.Run(context.Background())
	assert.NoError(t, err)
	assert.Len(t, result.Trades, 1)

	tr := result.Trades[0]
	assert.Greater(t, tr.Costs, 0.0)
	assert.Less(t, tr.NetPnL, tr.GrossPnL)
	assert.Greater(t, result.Metrics.TotalCommission, 0.0)
	assert.Greater(t, result.Metrics.TotalSlippage, 0.0)
}

func TestEngine_Run_EmptyRangeFails(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	provider := &fakeProvider{}
	strat := &scriptedStrategy{}

	eng, err := New(testEngineConfig(start, 5), provider, strat)
	assert.NoError(t, err)
	_, err = eng.Run(context.Background())
	assert.Error(t, err, "no candles in range is fatal for the run")
}

func TestEngine_Run_ContextCancelled(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	provider := &fakeProvider{candles: dailyCandles(start, 50, 51, 52)}
	strat := &scriptedStrategy{}

	eng, err := New(testEngineConfig(start, 3), provider, strat)
	assert.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = eng.Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}
