package backtest

import (
	"context"
	"fmt"
	"strings"
	"time"

	"riptide/internal/config"
	"riptide/internal/config/loader"
	"riptide/internal/cost"
	"riptide/internal/engine"
	"riptide/internal/logger"
	"riptide/internal/market"
	"riptide/internal/strategy"

	"github.com/google/uuid"
)

type SimulatorConfig struct {
	CandleStore   *market.Store
	ResultStore   *ResultStore
	Fetcher       *market.Service
	Registry      *strategy.Registry
	Profiles      *loader.ProfileLoader
	Defaults      config.BacktestConfig
	Reporter      *Reporter
	MaxConcurrent int
}

// Simulator 负责把提交的回测请求推演为资金曲线并落盘。
type Simulator struct {
	store    *market.Store
	results  *ResultStore
	fetcher  *market.Service
	registry *strategy.Registry
	profiles *loader.ProfileLoader
	defaults config.BacktestConfig
	reporter *Reporter

	sem     chan struct{}
	baseCtx context.Context
}

func NewSimulator(cfg SimulatorConfig) (*Simulator, error) {
	if cfg.CandleStore == nil {
		return nil, fmt.Errorf("candle store 不能为空")
	}
	if cfg.ResultStore == nil {
		return nil, fmt.Errorf("result store 不能为空")
	}
	if cfg.Registry == nil {
		return nil, fmt.Errorf("strategy registry 不能为空")
	}
	maxConcurrent := cfg.MaxConcurrent
	if maxConcurrent <= 0 {
		maxConcurrent = 1
	}
	return &Simulator{
		store:    cfg.CandleStore,
		results:  cfg.ResultStore,
		fetcher:  cfg.Fetcher,
		registry: cfg.Registry,
		profiles: cfg.Profiles,
		defaults: cfg.Defaults,
		reporter: cfg.Reporter,
		sem:      make(chan struct{}, maxConcurrent),
		baseCtx:  context.Background(),
	}, nil
}

func (s *Simulator) SetContext(ctx context.Context) {
	if ctx != nil {
		s.baseCtx = ctx
	}
}

func (s *Simulator) ctx() context.Context {
	if s.baseCtx != nil {
		return s.baseCtx
	}
	return context.Background()
}

// ResolveConfig 把请求与 profile、全局默认值合并为一份完整参数快照。
// 全部校验在这里完成：入库的 run 一定携带可重放的合法配置。
func (s *Simulator) ResolveConfig(req RunRequest) (RunConfig, error) {
	cfg := RunConfig{
		Profile:            strings.TrimSpace(req.Profile),
		Strategy:           strings.TrimSpace(req.Strategy),
		Params:             req.Params,
		Symbol:             strings.ToUpper(strings.TrimSpace(req.Symbol)),
		Timeframe:          strings.ToLower(strings.TrimSpace(req.Timeframe)),
		InitialCapital:     req.InitialCapital,
		FillOnClose:        s.defaults.FillOnClose,
		RejectPartialFills: s.defaults.RejectPartialFills,
		MaxOrderSizePct:    req.MaxOrderSizePct,
		PositionSizePct:    req.PositionSizePct,
		AvgVolumeLookback:  s.defaults.AvgVolumeLookback,
		Commission:         s.defaults.Commission,
		Slippage:           s.defaults.Slippage,
		Notes:              strings.TrimSpace(req.Notes),
	}
	if cfg.Profile != "" {
		if s.profiles == nil {
			return RunConfig{}, fmt.Errorf("profile loader 未启用")
		}
		prof, ok := s.profiles.Get(cfg.Profile)
		if !ok {
			return RunConfig{}, fmt.Errorf("未知 profile: %s", cfg.Profile)
		}
		if cfg.Strategy == "" {
			cfg.Strategy = prof.Strategy
		}
		if cfg.Symbol == "" {
			cfg.Symbol = prof.Symbol
		}
		if cfg.Timeframe == "" {
			cfg.Timeframe = prof.Timeframe
		}
		if len(cfg.Params) == 0 {
			raw, err := prof.ParamsJSON()
			if err != nil {
				return RunConfig{}, err
			}
			cfg.Params = raw
		}
	}
	if cfg.Strategy == "" {
		return RunConfig{}, fmt.Errorf("strategy 不能为空")
	}
	if cfg.Symbol == "" {
		return RunConfig{}, fmt.Errorf("symbol 不能为空")
	}
	if cfg.Timeframe == "" {
		cfg.Timeframe = "1d"
	}
	tf, err := market.ParseTimeframe(cfg.Timeframe)
	if err != nil {
		return RunConfig{}, err
	}
	cfg.StartTS, cfg.EndTS = tf.AlignRange(req.StartTS, req.EndTS)
	if cfg.StartTS <= 0 || cfg.EndTS <= cfg.StartTS {
		return RunConfig{}, fmt.Errorf("start/end 非法: %d ~ %d", req.StartTS, req.EndTS)
	}
	if cfg.InitialCapital <= 0 {
		cfg.InitialCapital = s.defaults.InitialCapital
	}
	if req.FillOnClose != nil {
		cfg.FillOnClose = *req.FillOnClose
	}
	if req.RejectPartialFills != nil {
		cfg.RejectPartialFills = *req.RejectPartialFills
	}
	if cfg.MaxOrderSizePct <= 0 || cfg.MaxOrderSizePct > 1 {
		cfg.MaxOrderSizePct = s.defaults.MaxOrderSizePct
	}
	if cfg.PositionSizePct <= 0 || cfg.PositionSizePct > 1 {
		cfg.PositionSizePct = s.defaults.PositionSizePct
	}
	if req.Commission != nil {
		cfg.Commission = *req.Commission
	}
	if req.Slippage != nil {
		cfg.Slippage = *req.Slippage
	}
	// 即刻捕获非法模型参数与策略参数，而不是等后台 run 失败。
	if _, _, err := buildCostModels(cfg); err != nil {
		return RunConfig{}, err
	}
	if _, err := s.registry.New(cfg.Strategy, cfg.Params); err != nil {
		return RunConfig{}, err
	}
	return cfg, nil
}

// StartRun 创建回测任务并立即返回，推演过程在后台进行。
func (s *Simulator) StartRun(req RunRequest) (Run, error) {
	cfg, err := s.ResolveConfig(req)
	if err != nil {
		return Run{}, err
	}
	run := Run{
		ID:             uuid.NewString(),
		Symbol:         cfg.Symbol,
		Profile:        cfg.Profile,
		Strategy:       cfg.Strategy,
		Status:         RunStatusPending,
		StartTS:        cfg.StartTS,
		EndTS:          cfg.EndTS,
		Timeframe:      cfg.Timeframe,
		InitialCapital: cfg.InitialCapital,
		FinalEquity:    cfg.InitialCapital,
		Config:         cfg,
	}
	if err := s.results.InsertRun(s.ctx(), run); err != nil {
		return Run{}, err
	}
	go s.runLoop(run.ID, cfg)
	return run, nil
}

func (s *Simulator) runLoop(runID string, cfg RunConfig) {
	select {
	case s.sem <- struct{}{}:
	default:
		logger.Warnf("[backtest] run %s 等待可用 worker", runID)
		s.sem <- struct{}{}
	}
	defer func() { <-s.sem }()

	ctx := s.ctx()
	s.results.UpdateRunStatus(ctx, runID, RunStatusRunning, "准备数据…")
	if err := s.execute(ctx, runID, cfg); err != nil {
		logger.Warnf("[backtest] run %s 失败: %v", runID, err)
		_ = s.results.UpdateRunStatus(ctx, runID, RunStatusFailed, err.Error())
	}
}

// buildEngine 将参数快照翻译为一台就绪的引擎，必要时先补齐数据。
func (s *Simulator) buildEngine(ctx context.Context, cfg RunConfig) (*engine.Engine, error) {
	commission, slippage, err := buildCostModels(cfg)
	if err != nil {
		return nil, err
	}
	strat, err := s.registry.New(cfg.Strategy, cfg.Params)
	if err != nil {
		return nil, err
	}
	if s.fetcher != nil {
		if err := s.fetcher.Ensure(ctx, cfg.Symbol, cfg.Timeframe, cfg.StartTS, cfg.EndTS); err != nil {
			return nil, fmt.Errorf("数据准备失败: %w", err)
		}
	}
	return engine.New(engine.Config{
		Symbol:             cfg.Symbol,
		Timeframe:          cfg.Timeframe,
		InitialCapital:     cfg.InitialCapital,
		Start:              time.UnixMilli(cfg.StartTS).UTC(),
		End:                time.UnixMilli(cfg.EndTS).UTC(),
		Commission:         commission,
		Slippage:           slippage,
		FillOnClose:        cfg.FillOnClose,
		RejectPartialFills: cfg.RejectPartialFills,
		MaxOrderSizePct:    cfg.MaxOrderSizePct,
		PositionSizePct:    cfg.PositionSizePct,
		AvgVolumeLookback:  cfg.AvgVolumeLookback,
		Strategy:           cfg.Strategy,
	}, s.store, strat)
}

// Execute 同步执行一次回测并返回完整结果，供批量扫描复用。
func (s *Simulator) Execute(ctx context.Context, cfg RunConfig) (*engine.Result, error) {
	eng, err := s.buildEngine(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return eng.Run(ctx)
}

func (s *Simulator) execute(ctx context.Context, runID string, cfg RunConfig) error {
	eng, err := s.buildEngine(ctx, cfg)
	if err != nil {
		return err
	}
	lastPct := -1
	eng.SetProgress(func(done, total int) {
		if total <= 0 {
			return
		}
		pct := done * 100 / total
		// 每 10% 刷新一次状态，避免把 SQLite 写穿。
		if pct/10 == lastPct/10 && pct != 100 {
			return
		}
		lastPct = pct
		_ = s.results.UpdateRunStatus(ctx, runID, RunStatusRunning, fmt.Sprintf("推演中 %d%%", pct))
	})

	result, err := eng.Run(ctx)
	if err != nil {
		return err
	}
	return s.persist(ctx, runID, result)
}

func (s *Simulator) persist(ctx context.Context, runID string, result *engine.Result) error {
	trades := make([]TradeRecord, 0, len(result.Trades))
	for _, t := range result.Trades {
		trades = append(trades, tradeRecordFrom(runID, t))
	}
	if err := s.results.InsertTrades(ctx, runID, trades); err != nil {
		return fmt.Errorf("写入交易失败: %w", err)
	}
	snaps := make([]Snapshot, 0, len(result.Curve))
	for _, p := range result.Curve {
		snaps = append(snaps, snapshotFrom(runID, p))
	}
	if err := s.results.InsertSnapshots(ctx, runID, snaps); err != nil {
		return fmt.Errorf("写入资金曲线失败: %w", err)
	}
	stats := RunStats{
		Metrics:    result.Metrics,
		Snapshots:  len(snaps),
		Errors:     result.Errors,
		FinishedAt: time.Now().UTC(),
	}
	message := "完成"
	if len(result.Errors) > 0 {
		message = fmt.Sprintf("完成（策略错误 %d 条）", len(result.Errors))
	}
	if err := s.results.UpdateRunSummary(ctx, runID, RunStatusDone, stats, message); err != nil {
		return err
	}
	if s.reporter != nil {
		run, err := s.results.GetRun(ctx, runID)
		if err == nil {
			if path, err := s.reporter.Write(run, snaps, trades); err != nil {
				logger.Warnf("[backtest] run %s 报表生成失败: %v", runID, err)
			} else {
				logger.Infof("[backtest] run %s 报表: %s", runID, path)
			}
		}
	}
	logger.Infof("[backtest] run %s 完成: equity=%.2f return=%.2f%% trades=%d",
		runID, result.Metrics.FinalEquity, result.Metrics.TotalReturnPct, result.Metrics.TotalTrades)
	return nil
}

func buildCostModels(cfg RunConfig) (cost.Commission, cost.Slippage, error) {
	commission, err := cfg.Commission.Build()
	if err != nil {
		return cost.Commission{}, cost.Slippage{}, err
	}
	slippage, err := cfg.Slippage.Build()
	if err != nil {
		return cost.Commission{}, cost.Slippage{}, err
	}
	return commission, slippage, nil
}
