package engine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func fillAt(side Side, qty int64, price float64, ts time.Time) Fill {
	return Fill{
		OrderID: "f1", Symbol: "BTCUSDT", Side: side,
		Quantity: qty, Price: price, Timestamp: ts,
	}
}

func TestLedger_New(t *testing.T) {
	_, err := NewLedger(0)
	assert.Error(t, err)
	_, err = NewLedger(-100)
	assert.Error(t, err)

	l, err := NewLedger(100000)
	assert.NoError(t, err)
	assert.Equal(t, 100000.0, l.Cash())
	assert.Equal(t, 100000.0, l.Equity())
	assert.Equal(t, 100000.0, l.InitialCapital())
}

func TestLedger_BuyThenSellRoundTrip(t *testing.T) {
	l, err := NewLedger(100000)
	assert.NoError(t, err)
	t0 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	buy := fillAt(Buy, 100, 50, t0)
	buy.Commission = 5
	buy.SlippageCost = 2
	assert.NoError(t, l.ApplyFill(buy, ""))
	assert.InDelta(t, 100000-5000-5, l.Cash(), 1e-9)

	pos, ok := l.Position("BTCUSDT")
	assert.True(t, ok)
	assert.Equal(t, int64(100), pos.Quantity)
	assert.Equal(t, 50.0, pos.AvgEntryPrice)
	assert.InDelta(t, 100000-5, l.Equity(), 1e-9, "equity drops only by costs at entry")

	sell := fillAt(Sell, 100, 55, t0.Add(24*time.Hour))
	sell.Commission = 5
	sell.SlippageCost = 1
	assert.NoError(t, l.ApplyFill(sell, "signal"))

	_, ok = l.Position("BTCUSDT")
	assert.False(t, ok, "full exit removes the position")
	assert.InDelta(t, 100000-5005+5500-5, l.Cash(), 1e-9)

	trades := l.Trades()
	assert.Len(t, trades, 1)
	tr := trades[0]
	assert.Equal(t, "signal", tr.ExitReason)
	assert.InDelta(t, 500.0, tr.GrossPnL, 1e-9)
	// exit commission + exit slippage + entry commission + entry slippage
	assert.InDelta(t, 5+1+5+2, tr.Costs, 1e-9)
	assert.InDelta(t, 500-13, tr.NetPnL, 1e-9)
	assert.InDelta(t, 487.0/5000*100, tr.ReturnPct, 1e-9)
	assert.Equal(t, 24*time.Hour, tr.Holding)

	commission, slippage := l.CostTotals()
	assert.InDelta(t, 10.0, commission, 1e-9)
	assert.InDelta(t, 3.0, slippage, 1e-9)
}

func TestLedger_InsufficientFundsLeavesStateUntouched(t *testing.T) {
	l, err := NewLedger(1000)
	assert.NoError(t, err)
	t0 := time.Now()

	err = l.ApplyFill(fillAt(Buy, 100, 50, t0), "")
	assert.ErrorIs(t, err, ErrInsufficientFunds)
	assert.Equal(t, 1000.0, l.Cash())
	assert.Empty(t, l.OpenPositions())
}

func TestLedger_OversellLeavesStateUntouched(t *testing.T) {
	l, err := NewLedger(100000)
	assert.NoError(t, err)
	t0 := time.Now()

	err = l.ApplyFill(fillAt(Sell, 10, 50, t0), "")
	assert.ErrorIs(t, err, ErrOversell, "selling with no position")

	assert.NoError(t, l.ApplyFill(fillAt(Buy, 10, 50, t0), ""))
	err = l.ApplyFill(fillAt(Sell, 11, 50, t0), "")
	assert.ErrorIs(t, err, ErrOversell)

	pos, ok := l.Position("BTCUSDT")
	assert.True(t, ok)
	assert.Equal(t, int64(10), pos.Quantity)
	assert.InDelta(t, 100000-500, l.Cash(), 1e-9)
}

func TestLedger_ScaleInRecomputesVWAP(t *testing.T) {
	l, err := NewLedger(100000)
	assert.NoError(t, err)
	t0 := time.Now()

	assert.NoError(t, l.ApplyFill(fillAt(Buy, 100, 50, t0), ""))
	assert.NoError(t, l.ApplyFill(fillAt(Buy, 100, 60, t0), ""))

	pos, ok := l.Position("BTCUSDT")
	assert.True(t, ok)
	assert.Equal(t, int64(200), pos.Quantity)
	assert.InDelta(t, 55.0, pos.AvgEntryPrice, 1e-9)
}

func TestLedger_PartialExitProRatesEntryCosts(t *testing.T) {
	l, err := NewLedger(100000)
	assert.NoError(t, err)
	t0 := time.Now()

	buy := fillAt(Buy, 100, 50, t0)
	buy.Commission = 10
	buy.SlippageCost = 4
	assert.NoError(t, l.ApplyFill(buy, ""))

	sell := fillAt(Sell, 50, 60, t0.Add(time.Hour))
	assert.NoError(t, l.ApplyFill(sell, "signal"))

	trades := l.Trades()
	assert.Len(t, trades, 1)
	// half the position closed → half the entry costs attributed
	assert.InDelta(t, 7.0, trades[0].Costs, 1e-9)
	assert.InDelta(t, 500-7, trades[0].NetPnL, 1e-9)

	pos, ok := l.Position("BTCUSDT")
	assert.True(t, ok)
	assert.Equal(t, int64(50), pos.Quantity)
	assert.InDelta(t, 5.0, pos.EntryCommission, 1e-9)
	assert.InDelta(t, 2.0, pos.EntrySlippage, 1e-9)
}

func TestLedger_MarkPricesCurve(t *testing.T) {
	l, err := NewLedger(100000)
	assert.NoError(t, err)
	t0 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	assert.NoError(t, l.ApplyFill(fillAt(Buy, 100, 50, t0), ""))

	l.MarkPrices(map[string]float64{"BTCUSDT": 50}, t0)
	l.MarkPrices(map[string]float64{"BTCUSDT": 60}, t0.Add(24*time.Hour))
	l.MarkPrices(map[string]float64{"BTCUSDT": 54}, t0.Add(48*time.Hour))

	curve := l.Curve()
	assert.Len(t, curve, 3)

	// equity == cash + positions at every point
	for _, p := range curve {
		assert.InDelta(t, p.Equity, p.Cash+p.PositionsValue, 1e-9)
	}
	assert.InDelta(t, 100000.0, curve[0].Equity, 1e-9)
	assert.InDelta(t, 101000.0, curve[1].Equity, 1e-9)
	assert.InDelta(t, 0.01, curve[1].StepReturn, 1e-9)
	assert.InDelta(t, 0.01, curve[1].CumReturn, 1e-9)
	assert.Zero(t, curve[1].Drawdown)

	// mark-down from the peak shows as negative drawdown
	assert.InDelta(t, 100400.0, curve[2].Equity, 1e-9)
	assert.InDelta(t, (100400.0-101000.0)/101000.0, curve[2].Drawdown, 1e-9)
}

func TestLedger_InvalidFills(t *testing.T) {
	l, err := NewLedger(100000)
	assert.NoError(t, err)
	t0 := time.Now()

	assert.Error(t, l.ApplyFill(fillAt(Buy, 0, 50, t0), ""))
	assert.Error(t, l.ApplyFill(fillAt(Buy, 10, 0, t0), ""))
	assert.Error(t, l.ApplyFill(fillAt(Buy, 10, -5, t0), ""))

	bad := fillAt(Buy, 10, 50, t0)
	bad.Side = 0
	assert.Error(t, l.ApplyFill(bad, ""))
}
