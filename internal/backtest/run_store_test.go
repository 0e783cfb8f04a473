package backtest

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func newTestStore(t *testing.T) *ResultStore {
	t.Helper()
	store, err := NewResultStore(filepath.Join(t.TempDir(), "runs.db"))
	assert.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func sampleRun(id string) Run {
	return Run{
		ID:             id,
		Symbol:         "BTCUSDT",
		Profile:        "btc_sma_daily",
		Strategy:       "sma_cross",
		Status:         RunStatusPending,
		StartTS:        1704067200000,
		EndTS:          1706745600000,
		Timeframe:      "1d",
		InitialCapital: 100000,
		Config: RunConfig{
			Strategy:       "sma_cross",
			Symbol:         "BTCUSDT",
			Timeframe:      "1d",
			StartTS:        1704067200000,
			EndTS:          1706745600000,
			InitialCapital: 100000,
			FillOnClose:    true,
		},
	}
}

func TestResultStore_InsertAndGetRun(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	assert.NoError(t, store.InsertRun(ctx, sampleRun("run-1")))

	got, err := store.GetRun(ctx, "run-1")
	assert.NoError(t, err)
	assert.Equal(t, "run-1", got.ID)
	assert.Equal(t, RunStatusPending, got.Status)
	assert.Equal(t, "sma_cross", got.Config.Strategy)
	assert.True(t, got.Config.FillOnClose)
	assert.False(t, got.CreatedAt.IsZero())
	assert.True(t, got.CompletedAt.IsZero(), "pending run has no completion time")

	_, err = store.GetRun(ctx, "missing")
	assert.ErrorIs(t, err, sql.ErrNoRows)
}

func TestResultStore_UpdateRunSummary(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	assert.NoError(t, store.InsertRun(ctx, sampleRun("run-1")))

	stats := RunStats{Snapshots: 31, FinishedAt: time.Now()}
	stats.FinalEquity = 110000
	stats.TotalReturnPct = 10
	stats.WinRate = 100
	stats.MaxDrawdownPct = -0.05
	stats.TotalTrades = 1

	assert.NoError(t, store.UpdateRunSummary(ctx, "run-1", RunStatusDone, stats, "完成"))

	got, err := store.GetRun(ctx, "run-1")
	assert.NoError(t, err)
	assert.Equal(t, RunStatusDone, got.Status)
	assert.Equal(t, 110000.0, got.FinalEquity)
	assert.Equal(t, 10.0, got.ReturnPct)
	assert.Equal(t, 1, got.Trades)
	assert.Equal(t, "完成", got.Message)
	assert.Equal(t, 31, got.Stats.Snapshots)
	assert.False(t, got.CompletedAt.IsZero())
}

func TestResultStore_StatusTransitions(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	assert.NoError(t, store.InsertRun(ctx, sampleRun("run-1")))
	assert.NoError(t, store.UpdateRunStatus(ctx, "run-1", RunStatusRunning, "推演中 10%"))

	got, err := store.GetRun(ctx, "run-1")
	assert.NoError(t, err)
	assert.Equal(t, RunStatusRunning, got.Status)
	assert.True(t, got.CompletedAt.IsZero(), "running is not a terminal state")

	assert.NoError(t, store.UpdateRunStatus(ctx, "run-1", RunStatusFailed, "boom"))
	got, err = store.GetRun(ctx, "run-1")
	assert.NoError(t, err)
	assert.Equal(t, RunStatusFailed, got.Status)
	assert.False(t, got.CompletedAt.IsZero())
}

func TestResultStore_ListRunsNewestFirst(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	assert.NoError(t, store.InsertRun(ctx, sampleRun("run-a")))
	time.Sleep(5 * time.Millisecond)
	assert.NoError(t, store.InsertRun(ctx, sampleRun("run-b")))

	runs, err := store.ListRuns(ctx, 10)
	assert.NoError(t, err)
	assert.Len(t, runs, 2)
	assert.Equal(t, "run-b", runs[0].ID)
	assert.Equal(t, "run-a", runs[1].ID)

	runs, err = store.ListRuns(ctx, 1)
	assert.NoError(t, err)
	assert.Len(t, runs, 1)
}

func TestResultStore_TradesAndSnapshots(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	assert.NoError(t, store.InsertRun(ctx, sampleRun("run-1")))

	entry := time.Date(2024, 1, 5, 0, 0, 0, 0, time.UTC)
	exit := entry.Add(72 * time.Hour)
	trades := []TradeRecord{{
		Symbol:     "BTCUSDT",
		EntryTime:  entry,
		ExitTime:   exit,
		EntryPrice: 50,
		ExitPrice:  55,
		Quantity:   100,
		ExitReason: "signal",
		GrossPnL:   500,
		Costs:      10,
		NetPnL:     490,
		ReturnPct:  9.8,
		HoldingMs:  exit.Sub(entry).Milliseconds(),
	}}
	assert.NoError(t, store.InsertTrades(ctx, "run-1", trades))

	snaps := []Snapshot{
		{TS: entry.UnixMilli(), Equity: 100000, Cash: 95000, PositionsValue: 5000},
		{TS: exit.UnixMilli(), Equity: 100490, Cash: 100490},
	}
	assert.NoError(t, store.InsertSnapshots(ctx, "run-1", snaps))

	gotTrades, err := store.ListTrades(ctx, "run-1", 0)
	assert.NoError(t, err)
	assert.Len(t, gotTrades, 1)
	assert.Equal(t, "run-1", gotTrades[0].RunID)
	assert.Equal(t, int64(100), gotTrades[0].Quantity)
	assert.Equal(t, entry.UnixMilli(), gotTrades[0].EntryTime.UnixMilli())
	assert.Equal(t, exit.Sub(entry).Milliseconds(), gotTrades[0].HoldingMs)

	gotSnaps, err := store.ListSnapshots(ctx, "run-1", 0)
	assert.NoError(t, err)
	assert.Len(t, gotSnaps, 2)
	assert.Equal(t, entry.UnixMilli(), gotSnaps[0].TS, "snapshots come back in time order")
	assert.Equal(t, 100490.0, gotSnaps[1].Equity)

	// empty batches are a no-op
	assert.NoError(t, store.InsertTrades(ctx, "run-1", nil))
	assert.NoError(t, store.InsertSnapshots(ctx, "run-1", nil))
}

func TestNewResultStore_RejectsEmptyPath(t *testing.T) {
	_, err := NewResultStore("")
	assert.Error(t, err)
}
