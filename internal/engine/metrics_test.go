package engine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestAnalyze_DegenerateInput(t *testing.T) {
	m := Analyze(AnalyzerInput{InitialCapital: 100000})
	assert.Zero(t, m.TotalReturnPct)
	assert.Zero(t, m.SharpeRatio)
	assert.Zero(t, m.MaxDrawdownPct)
	assert.Zero(t, m.TotalTrades)
	assert.Zero(t, m.WinRate)
}

func TestAnalyze_SingleRoundTrip(t *testing.T) {
	t0 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	curve := []EquityPoint{
		{Time: t0, Equity: 100000},
		{Time: t0.Add(24 * time.Hour), Equity: 100200, StepReturn: 0.002},
		{Time: t0.Add(48 * time.Hour), Equity: 100500, StepReturn: 0.00299},
	}
	trades := []Trade{{
		Symbol: "BTCUSDT", Quantity: 100,
		EntryPrice: 50, ExitPrice: 55,
		GrossPnL: 500, Costs: 10, NetPnL: 490, ReturnPct: 9.8,
	}}

	m := Analyze(AnalyzerInput{
		InitialCapital:  100000,
		Curve:           curve,
		Trades:          trades,
		TotalCommission: 7,
		TotalSlippage:   3,
		Start:           t0,
		End:             t0.Add(48 * time.Hour),
	})

	assert.InDelta(t, 100500.0, m.FinalEquity, 1e-9)
	assert.InDelta(t, 500.0, m.TotalReturnUSD, 1e-9)
	assert.InDelta(t, 0.5, m.TotalReturnPct, 1e-9)
	assert.Equal(t, 1, m.TotalTrades)
	assert.Equal(t, 1, m.WinningTrades)
	assert.Zero(t, m.LosingTrades)
	assert.InDelta(t, 100.0, m.WinRate, 1e-9)
	assert.InDelta(t, 490.0, m.AvgWinUSD, 1e-9)
	assert.InDelta(t, 490.0, m.LargestWinUSD, 1e-9)
	assert.InDelta(t, 490.0, m.Expectancy, 1e-9)
	assert.InDelta(t, 7.0, m.TotalCommission, 1e-9)
	assert.InDelta(t, 3.0, m.TotalSlippage, 1e-9)
	assert.Zero(t, m.ProfitFactor, "no losses means profit factor stays unset")
}

func TestAnalyze_TradeQuality(t *testing.T) {
	trades := []Trade{
		{NetPnL: 100, ReturnPct: 2},
		{NetPnL: 200, ReturnPct: 4},
		{NetPnL: -50, ReturnPct: -1},
		{NetPnL: -150, ReturnPct: -3},
	}
	m := Analyze(AnalyzerInput{InitialCapital: 100000, Trades: trades})

	assert.Equal(t, 4, m.TotalTrades)
	assert.Equal(t, 2, m.WinningTrades)
	assert.Equal(t, 2, m.LosingTrades)
	assert.InDelta(t, 50.0, m.WinRate, 1e-9)
	assert.InDelta(t, 300.0, m.GrossProfit, 1e-9)
	assert.InDelta(t, 200.0, m.GrossLoss, 1e-9)
	assert.InDelta(t, 1.5, m.ProfitFactor, 1e-9)
	assert.InDelta(t, 150.0, m.AvgWinUSD, 1e-9)
	assert.InDelta(t, -100.0, m.AvgLossUSD, 1e-9)
	assert.InDelta(t, 1.5, m.PayoffRatio, 1e-9)
	assert.InDelta(t, 25.0, m.Expectancy, 1e-9)
	assert.InDelta(t, 200.0, m.LargestWinUSD, 1e-9)
	assert.InDelta(t, -150.0, m.LargestLossUSD, 1e-9)
	assert.Equal(t, 2, m.LongestWinStreak)
	assert.Equal(t, 2, m.LongestLossStreak)
}

func TestAnalyze_ZeroPnLTradeFreezesStreaks(t *testing.T) {
	trades := []Trade{
		{NetPnL: 100},
		{NetPnL: 0},
		{NetPnL: 100},
		{NetPnL: 100},
	}
	m := Analyze(AnalyzerInput{InitialCapital: 100000, Trades: trades})

	assert.Equal(t, 3, m.WinningTrades)
	assert.Zero(t, m.LosingTrades)
	assert.Equal(t, 3, m.LongestWinStreak, "break-even trades neither extend nor reset streaks")
}

func TestDrawdownStats(t *testing.T) {
	t0 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	day := 24 * time.Hour
	curve := []EquityPoint{
		{Time: t0, Equity: 100000},
		{Time: t0.Add(1 * day), Equity: 110000},
		{Time: t0.Add(2 * day), Equity: 99000},
		{Time: t0.Add(3 * day), Equity: 104500},
		{Time: t0.Add(4 * day), Equity: 112000},
	}
	maxDD, maxDays := drawdownStats(curve)
	assert.InDelta(t, (99000.0-110000.0)/110000.0, maxDD, 1e-9)
	assert.InDelta(t, 2.0, maxDays, 1e-9, "underwater from the day-1 peak through day 3")
}

func TestSampleStdev(t *testing.T) {
	assert.Zero(t, sampleStdev(nil))
	assert.Zero(t, sampleStdev([]float64{0.01}))
	// n-1 denominator: stdev of {1,2,3} = 1
	assert.InDelta(t, 1.0, sampleStdev([]float64{1, 2, 3}), 1e-9)
}
