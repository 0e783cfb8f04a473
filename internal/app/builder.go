package app

import (
	"context"
	"fmt"
	"time"

	"riptide/internal/backtest"
	"riptide/internal/config"
	"riptide/internal/config/loader"
	"riptide/internal/logger"
	"riptide/internal/market"
	"riptide/internal/strategy"
)

// AppBuilder 将依赖装配过程拆成可替换的小函数，测试时按需覆盖。
type AppBuilder struct {
	cfg *config.Config

	candleStoreFn func(config.MarketConfig) (*market.Store, error)
	sourceFn      func(config.MarketConfig) market.CandleSource
	resultStoreFn func(config.BacktestConfig) (*backtest.ResultStore, error)
	registryFn    func() (*strategy.Registry, error)
	profilesFn    func(config.BacktestConfig) (*loader.ProfileLoader, error)
	reporterFn    func(config.BacktestConfig) (*backtest.Reporter, error)
}

type AppBuilderOption func(*AppBuilder)

func NewAppBuilder(cfg *config.Config, opts ...AppBuilderOption) *AppBuilder {
	b := &AppBuilder{
		cfg:           cfg,
		candleStoreFn: buildCandleStore,
		sourceFn:      buildCandleSource,
		resultStoreFn: buildResultStore,
		registryFn:    strategy.DefaultRegistry,
		profilesFn:    buildProfileLoader,
		reporterFn:    buildReporter,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(b)
		}
	}
	return b
}

func buildCandleStore(cfg config.MarketConfig) (*market.Store, error) {
	return market.NewStore(cfg.DataDir)
}

func buildCandleSource(cfg config.MarketConfig) market.CandleSource {
	return market.NewBinanceSource(cfg.RESTBaseURL, time.Duration(cfg.TimeoutSeconds)*time.Second)
}

func buildResultStore(cfg config.BacktestConfig) (*backtest.ResultStore, error) {
	return backtest.NewResultStore(cfg.RunDBPath)
}

func buildProfileLoader(cfg config.BacktestConfig) (*loader.ProfileLoader, error) {
	return loader.NewProfileLoader(cfg.ProfilesPath)
}

func buildReporter(cfg config.BacktestConfig) (*backtest.Reporter, error) {
	return backtest.NewReporter(cfg.ReportDir)
}

func (b *AppBuilder) Build(ctx context.Context) (*App, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if b.cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	cfg := b.cfg
	logger.SetLevel(cfg.App.LogLevel)

	candles, err := b.candleStoreFn(cfg.Market)
	if err != nil {
		return nil, fmt.Errorf("初始化行情存储失败: %w", err)
	}
	source := b.sourceFn(cfg.Market)
	fetcher, err := market.NewService(candles, source)
	if err != nil {
		candles.Close()
		return nil, err
	}
	results, err := b.resultStoreFn(cfg.Backtest)
	if err != nil {
		candles.Close()
		return nil, fmt.Errorf("初始化结果存储失败: %w", err)
	}
	registry, err := b.registryFn()
	if err != nil {
		results.Close()
		candles.Close()
		return nil, err
	}
	logger.Infof("✓ 已注册 %d 个策略: %v", len(registry.Names()), registry.Names())

	// profiles 缺失不阻塞启动：纯 API 提交仍然可用。
	profiles, err := b.profilesFn(cfg.Backtest)
	if err != nil {
		logger.Warnf("profile 加载失败（按无 profile 继续）: %v", err)
		profiles = nil
	} else {
		logger.Infof("✓ 已加载 %d 个 profile: %v", len(profiles.Snapshot().Profiles), profiles.Snapshot().Names())
	}

	reporter, err := b.reporterFn(cfg.Backtest)
	if err != nil {
		logger.Warnf("报表目录不可用（跳过报表生成）: %v", err)
		reporter = nil
	}

	sim, err := backtest.NewSimulator(backtest.SimulatorConfig{
		CandleStore:   candles,
		ResultStore:   results,
		Fetcher:       fetcher,
		Registry:      registry,
		Profiles:      profiles,
		Defaults:      cfg.Backtest,
		Reporter:      reporter,
		MaxConcurrent: cfg.Backtest.MaxConcurrent,
	})
	if err != nil {
		results.Close()
		candles.Close()
		return nil, err
	}
	batch, err := backtest.NewBatchRunner(sim, cfg.Backtest.MaxConcurrent)
	if err != nil {
		results.Close()
		candles.Close()
		return nil, err
	}
	server, err := backtest.NewHTTPServer(backtest.HTTPConfig{
		Addr:        cfg.App.HTTPAddr,
		Svc:         fetcher,
		CandleStore: candles,
		Simulator:   sim,
		Batch:       batch,
		Results:     results,
		Profiles:    profiles,
		Reporter:    reporter,
	})
	if err != nil {
		results.Close()
		candles.Close()
		return nil, err
	}

	return &App{
		cfg:      cfg,
		candles:  candles,
		results:  results,
		profiles: profiles,
		sim:      sim,
		server:   server,
	}, nil
}
