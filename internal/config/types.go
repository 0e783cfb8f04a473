package config

import (
	"strings"

	"riptide/internal/cost"
)

// Config 是 Riptide 的主配置载体。
type Config struct {
	App      AppConfig      `toml:"app"`
	Market   MarketConfig   `toml:"market"`
	Backtest BacktestConfig `toml:"backtest"`
}

type AppConfig struct {
	Env      string `toml:"env"`
	LogLevel string `toml:"log_level"`
	HTTPAddr string `toml:"http_addr"`
	LogPath  string `toml:"log_path"`
}

// MarketConfig 描述历史行情的来源与本地存储。
type MarketConfig struct {
	RESTBaseURL    string `toml:"rest_base_url"`
	DataDir        string `toml:"data_dir"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
}

// BacktestConfig 控制回测撮合与资金的缺省行为。
type BacktestConfig struct {
	InitialCapital     float64          `toml:"initial_capital"`
	FillOnClose        bool             `toml:"fill_on_close"`
	RejectPartialFills bool             `toml:"reject_partial_fills"`
	MaxOrderSizePct    float64          `toml:"max_order_size_pct"` // 单笔最多吃掉的成交量比例 0~1
	PositionSizePct    float64          `toml:"position_size_pct"`  // 开仓动用现金比例 0~1
	AvgVolumeLookback  int              `toml:"avg_volume_lookback"`
	MaxConcurrent      int              `toml:"max_concurrent"` // 同时运行的回测数
	RunDBPath          string           `toml:"run_db_path"`
	ReportDir          string           `toml:"report_dir"`
	ProfilesPath       string           `toml:"profiles_path"`
	Commission         CommissionConfig `toml:"commission"`
	Slippage           SlippageConfig   `toml:"slippage"`
}

// CommissionConfig 以名字+参数的形式描述佣金模型。
type CommissionConfig struct {
	Model  string  `toml:"model"` // zero | fixed | percentage | per_share
	Fee    float64 `toml:"fee"`
	BPS    float64 `toml:"bps"`
	MinFee float64 `toml:"min_fee"`
	MaxFee float64 `toml:"max_fee"` // <=0 表示无上限
}

// Build 把配置翻译成佣金模型，非法参数直接报错。
func (c CommissionConfig) Build() (cost.Commission, error) {
	switch strings.ToLower(strings.TrimSpace(c.Model)) {
	case "", "zero":
		return cost.ZeroCommission(), nil
	case "fixed":
		return cost.FixedPerTrade(c.Fee)
	case "percentage":
		return cost.Percentage(c.BPS, c.MinFee, c.MaxFee)
	case "per_share":
		return cost.PerShare(c.Fee, c.MinFee, c.MaxFee)
	default:
		return cost.Commission{}, errUnknownCommission(c.Model)
	}
}

// SlippageConfig 以名字+参数的形式描述滑点模型。
type SlippageConfig struct {
	Model        string  `toml:"model"` // none | fixed_bps | volume_based | spread_based
	BPS          float64 `toml:"bps"`
	ScaleFactor  float64 `toml:"scale_factor"`
	MinSpreadBPS float64 `toml:"min_spread_bps"`
	Multiplier   float64 `toml:"multiplier"`
}

// Build 把配置翻译成滑点模型，非法参数直接报错。
func (s SlippageConfig) Build() (cost.Slippage, error) {
	switch strings.ToLower(strings.TrimSpace(s.Model)) {
	case "", "none":
		return cost.NoSlippage(), nil
	case "fixed_bps":
		return cost.FixedBPS(s.BPS)
	case "volume_based":
		return cost.VolumeBased(s.BPS, s.ScaleFactor)
	case "spread_based":
		return cost.SpreadBased(s.MinSpreadBPS, s.Multiplier)
	default:
		return cost.Slippage{}, errUnknownSlippage(s.Model)
	}
}

// keySet 用于追踪配置文件中显式设置的字段路径。
type keySet map[string]struct{}

func (k keySet) mark(path string) {
	path = strings.ToLower(strings.TrimSpace(path))
	if path == "" {
		return
	}
	k[path] = struct{}{}
}

func (k keySet) isSet(path string) bool {
	if len(k) == 0 {
		return false
	}
	path = strings.ToLower(strings.TrimSpace(path))
	if path == "" {
		return false
	}
	_, ok := k[path]
	return ok
}

// fieldDefault 描述单个字段的默认值设置规则。
type fieldDefault struct {
	key   string
	need  func() bool
	apply func()
}
