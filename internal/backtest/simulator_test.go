package backtest

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"

	"riptide/internal/config"
	"riptide/internal/market"
	"riptide/internal/strategy"
)

func newTestSimulator(t *testing.T) *Simulator {
	t.Helper()
	dir := t.TempDir()
	candles, err := market.NewStore(dir)
	assert.NoError(t, err)
	t.Cleanup(func() { candles.Close() })

	results, err := NewResultStore(filepath.Join(dir, "runs.db"))
	assert.NoError(t, err)
	t.Cleanup(func() { results.Close() })

	registry, err := strategy.DefaultRegistry()
	assert.NoError(t, err)

	sim, err := NewSimulator(SimulatorConfig{
		CandleStore: candles,
		ResultStore: results,
		Registry:    registry,
		Defaults: config.BacktestConfig{
			InitialCapital:    100000,
			FillOnClose:       true,
			MaxOrderSizePct:   0.1,
			PositionSizePct:   0.95,
			AvgVolumeLookback: 20,
			Commission:        config.CommissionConfig{Model: "zero"},
			Slippage:          config.SlippageConfig{Model: "none"},
		},
		MaxConcurrent: 1,
	})
	assert.NoError(t, err)
	return sim
}

const (
	dayMs   = int64(24 * 60 * 60 * 1000)
	startTS = int64(1704067200000) // 2024-01-01T00:00:00Z
)

func TestNewSimulator_RequiresCoreDeps(t *testing.T) {
	_, err := NewSimulator(SimulatorConfig{})
	assert.Error(t, err)
}

func TestResolveConfig_MergesDefaults(t *testing.T) {
	sim := newTestSimulator(t)

	cfg, err := sim.ResolveConfig(RunRequest{
		Strategy: "sma_cross",
		Symbol:   "btcusdt",
		StartTS:  startTS,
		EndTS:    startTS + 30*dayMs,
	})
	assert.NoError(t, err)

	assert.Equal(t, "BTCUSDT", cfg.Symbol, "symbols are normalized to upper case")
	assert.Equal(t, "1d", cfg.Timeframe, "timeframe falls back to daily")
	assert.Equal(t, 100000.0, cfg.InitialCapital)
	assert.True(t, cfg.FillOnClose)
	assert.Equal(t, 0.1, cfg.MaxOrderSizePct)
	assert.Equal(t, 0.95, cfg.PositionSizePct)
	assert.Equal(t, 20, cfg.AvgVolumeLookback)
	assert.Equal(t, "zero", cfg.Commission.Model)
}

func TestResolveConfig_RequestOverridesWin(t *testing.T) {
	sim := newTestSimulator(t)

	fillOnClose := false
	cfg, err := sim.ResolveConfig(RunRequest{
		Strategy:        "sma_cross",
		Symbol:          "BTCUSDT",
		Timeframe:       "4H",
		StartTS:         startTS,
		EndTS:           startTS + 30*dayMs,
		InitialCapital:  25000,
		FillOnClose:     &fillOnClose,
		PositionSizePct: 0.5,
		Commission:      &config.CommissionConfig{Model: "fixed", Fee: 1},
	})
	assert.NoError(t, err)

	assert.Equal(t, "4h", cfg.Timeframe)
	assert.Equal(t, 25000.0, cfg.InitialCapital)
	assert.False(t, cfg.FillOnClose, "explicit false beats the default")
	assert.Equal(t, 0.5, cfg.PositionSizePct)
	assert.Equal(t, "fixed", cfg.Commission.Model)
}

func TestResolveConfig_AlignsRangeToTimeframe(t *testing.T) {
	sim := newTestSimulator(t)

	cfg, err := sim.ResolveConfig(RunRequest{
		Strategy: "sma_cross",
		Symbol:   "BTCUSDT",
		StartTS:  startTS + 5000,
		EndTS:    startTS + 10*dayMs + 7000,
	})
	assert.NoError(t, err)
	assert.Equal(t, startTS, cfg.StartTS)
	assert.Equal(t, startTS+10*dayMs, cfg.EndTS)
}

func TestResolveConfig_Rejections(t *testing.T) {
	sim := newTestSimulator(t)
	valid := RunRequest{
		Strategy: "sma_cross",
		Symbol:   "BTCUSDT",
		StartTS:  startTS,
		EndTS:    startTS + 30*dayMs,
	}

	req := valid
	req.Strategy = ""
	_, err := sim.ResolveConfig(req)
	assert.Error(t, err)

	req = valid
	req.Symbol = ""
	_, err = sim.ResolveConfig(req)
	assert.Error(t, err)

	req = valid
	req.Timeframe = "2d"
	_, err = sim.ResolveConfig(req)
	assert.Error(t, err)

	req = valid
	req.EndTS = req.StartTS
	_, err = sim.ResolveConfig(req)
	assert.Error(t, err)

	req = valid
	req.Strategy = "unknown_strategy"
	_, err = sim.ResolveConfig(req)
	assert.Error(t, err)

	req = valid
	req.Params = []byte(`{"fast": "nope"}`)
	_, err = sim.ResolveConfig(req)
	assert.Error(t, err, "strategy params are validated at submit time")

	req = valid
	req.Commission = &config.CommissionConfig{Model: "percentage", BPS: -5}
	_, err = sim.ResolveConfig(req)
	assert.Error(t, err, "cost models are validated at submit time")

	req = valid
	req.Profile = "does_not_exist"
	_, err = sim.ResolveConfig(req)
	assert.Error(t, err, "profiles require a loader")
}

func TestExpandParamSets(t *testing.T) {
	base := RunConfig{
		Strategy: "sma_cross",
		Params:   []byte(`{"fast": 10, "slow": 30}`),
	}

	sets, err := expandParamSets(base, []map[string]any{
		{"fast": 5},
		{"fast": 8, "slow": 40},
	}, nil)
	assert.NoError(t, err)
	assert.Len(t, sets, 2)
	assert.JSONEq(t, `{"fast": 5, "slow": 30}`, string(sets[0]))
	assert.JSONEq(t, `{"fast": 8, "slow": 40}`, string(sets[1]))

	// no explicit sets and no profile → the base params alone
	sets, err = expandParamSets(base, nil, nil)
	assert.NoError(t, err)
	assert.Len(t, sets, 1)
	assert.JSONEq(t, `{"fast": 10, "slow": 30}`, string(sets[0]))
}
