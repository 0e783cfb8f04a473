package config

import "strings"

// 默认值常量
const (
	defaultAppEnv            = "dev"
	defaultAppLogLevel       = "info"
	defaultAppHTTPAddr       = ":9982"
	defaultAppLogPath        = "/data/logs/riptide.log"
	defaultMarketREST        = "https://fapi.binance.com"
	defaultMarketTimeout     = 15
	defaultMarketDataDir     = "/data/db"
	defaultInitialCapital    = 100000
	defaultMaxOrderSizePct   = 0.1
	defaultPositionSizePct   = 0.95
	defaultAvgVolumeLookback = 20
	defaultMaxConcurrent     = 2
	defaultRunDBPath         = "/data/db/runs.db"
	defaultReportDir         = "/data/reports"
	defaultProfilesPath      = "configs/profiles.yaml"
)

// applyDefaults 为所有子配置应用默认值。
func (c *Config) applyDefaults(keys keySet) {
	c.App.applyDefaults(keys)
	c.Market.applyDefaults(keys)
	c.Backtest.applyDefaults(keys)
}

func (a *AppConfig) applyDefaults(keys keySet) {
	if a == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("app.env", &a.Env, defaultAppEnv),
		stringFieldDefault("app.log_level", &a.LogLevel, defaultAppLogLevel),
		stringFieldDefault("app.http_addr", &a.HTTPAddr, defaultAppHTTPAddr),
		stringFieldDefault("app.log_path", &a.LogPath, defaultAppLogPath),
	)
}

func (m *MarketConfig) applyDefaults(keys keySet) {
	if m == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("market.rest_base_url", &m.RESTBaseURL, defaultMarketREST),
		stringFieldDefault("market.data_dir", &m.DataDir, defaultMarketDataDir),
		fieldDefault{
			key:   "market.timeout_seconds",
			need:  func() bool { return m.TimeoutSeconds <= 0 },
			apply: func() { m.TimeoutSeconds = defaultMarketTimeout },
		},
	)
}

func (b *BacktestConfig) applyDefaults(keys keySet) {
	if b == nil {
		return
	}
	applyFieldDefaults(keys,
		fieldDefault{
			key:   "backtest.initial_capital",
			need:  func() bool { return b.InitialCapital <= 0 },
			apply: func() { b.InitialCapital = defaultInitialCapital },
		},
		boolFieldDefault("backtest.fill_on_close", &b.FillOnClose, true),
		fieldDefault{
			key:   "backtest.max_order_size_pct",
			need:  func() bool { return b.MaxOrderSizePct <= 0 || b.MaxOrderSizePct > 1 },
			apply: func() { b.MaxOrderSizePct = defaultMaxOrderSizePct },
		},
		fieldDefault{
			key:   "backtest.position_size_pct",
			need:  func() bool { return b.PositionSizePct <= 0 || b.PositionSizePct > 1 },
			apply: func() { b.PositionSizePct = defaultPositionSizePct },
		},
		fieldDefault{
			key:   "backtest.avg_volume_lookback",
			need:  func() bool { return b.AvgVolumeLookback <= 0 },
			apply: func() { b.AvgVolumeLookback = defaultAvgVolumeLookback },
		},
		fieldDefault{
			key:   "backtest.max_concurrent",
			need:  func() bool { return b.MaxConcurrent <= 0 },
			apply: func() { b.MaxConcurrent = defaultMaxConcurrent },
		},
		stringFieldDefault("backtest.run_db_path", &b.RunDBPath, defaultRunDBPath),
		stringFieldDefault("backtest.report_dir", &b.ReportDir, defaultReportDir),
		stringFieldDefault("backtest.profiles_path", &b.ProfilesPath, defaultProfilesPath),
		stringFieldDefault("backtest.commission.model", &b.Commission.Model, "zero"),
		stringFieldDefault("backtest.slippage.model", &b.Slippage.Model, "none"),
	)
}

// Helper functions

func applyFieldDefaults(keys keySet, defs ...fieldDefault) {
	for _, def := range defs {
		if def.apply == nil {
			continue
		}
		if def.key != "" && keys.isSet(def.key) {
			continue
		}
		if def.need != nil && !def.need() {
			continue
		}
		def.apply()
	}
}

func stringFieldDefault(key string, target *string, def string) fieldDefault {
	return fieldDefault{
		key: key,
		need: func() bool {
			return target != nil && strings.TrimSpace(*target) == ""
		},
		apply: func() {
			if target != nil {
				*target = def
			}
		},
	}
}

func boolFieldDefault(key string, target *bool, def bool) fieldDefault {
	return fieldDefault{
		key:  key,
		need: func() bool { return target != nil },
		apply: func() {
			if target != nil {
				*target = def
			}
		},
	}
}
