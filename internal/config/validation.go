package config

import (
	"fmt"
	"strings"
)

// validate 对配置进行基础校验，启动期直接失败。
func validate(c *Config) error {
	if err := c.App.validate(); err != nil {
		return err
	}
	if err := c.Market.validate(); err != nil {
		return err
	}
	if err := c.Backtest.validate(); err != nil {
		return err
	}
	return nil
}

func (a *AppConfig) validate() error {
	switch strings.ToLower(strings.TrimSpace(a.LogLevel)) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("app.log_level must be one of debug/info/warn/error, got %s", a.LogLevel)
	}
	if strings.TrimSpace(a.HTTPAddr) == "" {
		return fmt.Errorf("app.http_addr cannot be empty")
	}
	return nil
}

func (m *MarketConfig) validate() error {
	if strings.TrimSpace(m.RESTBaseURL) == "" {
		return fmt.Errorf("market.rest_base_url cannot be empty")
	}
	if strings.TrimSpace(m.DataDir) == "" {
		return fmt.Errorf("market.data_dir cannot be empty")
	}
	if m.TimeoutSeconds <= 0 {
		return fmt.Errorf("market.timeout_seconds must be > 0")
	}
	return nil
}

func (b *BacktestConfig) validate() error {
	if b.InitialCapital <= 0 {
		return fmt.Errorf("backtest.initial_capital must be > 0")
	}
	if b.MaxOrderSizePct <= 0 || b.MaxOrderSizePct > 1 {
		return fmt.Errorf("backtest.max_order_size_pct must be in (0, 1]")
	}
	if b.PositionSizePct <= 0 || b.PositionSizePct > 1 {
		return fmt.Errorf("backtest.position_size_pct must be in (0, 1]")
	}
	if b.AvgVolumeLookback <= 0 {
		return fmt.Errorf("backtest.avg_volume_lookback must be > 0")
	}
	if b.MaxConcurrent <= 0 {
		return fmt.Errorf("backtest.max_concurrent must be > 0")
	}
	// 模型参数的细校验交给 cost 包的构造函数。
	if _, err := b.Commission.Build(); err != nil {
		return err
	}
	if _, err := b.Slippage.Build(); err != nil {
		return err
	}
	return nil
}

// IsValidInterval 简易校验：以数字开头，以 m/h/d 结尾
func IsValidInterval(s string) bool {
	if len(s) < 2 {
		return false
	}
	suf := s[len(s)-1]
	if suf != 'm' && suf != 'h' && suf != 'd' {
		return false
	}
	for i := 0; i < len(s)-1; i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}
