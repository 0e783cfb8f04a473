package engine

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"

	"riptide/internal/cost"
	"riptide/internal/logger"
	"riptide/internal/market"
)

// Config 描述单次回测的参数，构造期校验、运行期只读。
type Config struct {
	Symbol         string    `json:"symbol"`
	Timeframe      string    `json:"timeframe"`
	InitialCapital float64   `json:"initial_capital"`
	Start          time.Time `json:"start"`
	End            time.Time `json:"end"`

	Commission cost.Commission `json:"-"`
	Slippage   cost.Slippage   `json:"-"`

	// FillOnClose 为 true 时市价单以收盘价成交。
	FillOnClose bool `json:"fill_on_close"`
	// RejectPartialFills + MaxOrderSizePct 共同构成流动性上限。
	RejectPartialFills bool    `json:"reject_partial_fills"`
	MaxOrderSizePct    float64 `json:"max_order_size_pct"`

	// PositionSizePct 为开仓动用现金的比例，(0,1]，默认 0.95。
	PositionSizePct float64 `json:"position_size_pct"`
	// AvgVolumeLookback 为平均量回看根数，供量比滑点模型使用。
	AvgVolumeLookback int `json:"avg_volume_lookback"`

	Strategy string `json:"strategy"`
}

func (c *Config) validate() error {
	if c.Symbol == "" {
		return fmt.Errorf("symbol 不能为空")
	}
	if c.Timeframe == "" {
		return fmt.Errorf("timeframe 不能为空")
	}
	if c.InitialCapital <= 0 {
		return fmt.Errorf("初始资金必须为正: %v", c.InitialCapital)
	}
	if c.Start.IsZero() || c.End.IsZero() || !c.End.After(c.Start) {
		return fmt.Errorf("start/end 非法: %s ~ %s", c.Start, c.End)
	}
	if c.MaxOrderSizePct < 0 {
		return fmt.Errorf("maxOrderSizePct 不能为负: %v", c.MaxOrderSizePct)
	}
	if c.PositionSizePct < 0 || c.PositionSizePct > 1 {
		return fmt.Errorf("positionSizePct 必须在 (0,1]: %v", c.PositionSizePct)
	}
	if c.PositionSizePct == 0 {
		c.PositionSizePct = 0.95
	}
	if c.AvgVolumeLookback <= 0 {
		c.AvgVolumeLookback = 20
	}
	return nil
}

// Engine 将事件队列、成交模拟器、成本模型与账本编排为一条回放循环。
// 单次 run 内严格单线程；多个 run 各持独立实例，可安全并行。
type Engine struct {
	cfg      Config
	provider market.HistoryProvider
	strat    Strategy

	progress func(done, total int)
}

// New 通过构造注入全部依赖，不读取任何全局状态。
func New(cfg Config, provider market.HistoryProvider, strat Strategy) (*Engine, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if provider == nil {
		return nil, fmt.Errorf("history provider 不能为空")
	}
	if strat == nil {
		return nil, fmt.Errorf("strategy 不能为空")
	}
	if cfg.Strategy == "" {
		cfg.Strategy = strat.Name()
	}
	return &Engine{cfg: cfg, provider: provider, strat: strat}, nil
}

// SetProgress 注册进度回调（可选）。
func (e *Engine) SetProgress(fn func(done, total int)) {
	e.progress = fn
}

// Run 对整个区间执行回放。数据错误与执行错误均中止本次 run；
// 未成交（限价未触发、超出流动性上限）不是错误。
func (e *Engine) Run(ctx context.Context) (*Result, error) {
	startedAt := time.Now()

	candles, err := e.provider.GetHistoricalData(ctx,
		e.cfg.Symbol, e.cfg.Timeframe, e.cfg.Start.UnixMilli(), e.cfg.End.UnixMilli())
	if err != nil {
		return nil, fmt.Errorf("加载 %s %s 历史数据失败: %w", e.cfg.Symbol, e.cfg.Timeframe, err)
	}
	if len(candles) == 0 {
		return nil, fmt.Errorf("%s %s 在 %s ~ %s 内无数据",
			e.cfg.Symbol, e.cfg.Timeframe,
			e.cfg.Start.Format(time.RFC3339), e.cfg.End.Format(time.RFC3339))
	}

	avgVolume, err := e.provider.GetAverageVolume(ctx, e.cfg.Symbol, e.cfg.Timeframe, e.cfg.AvgVolumeLookback)
	if err != nil {
		logger.Warnf("[engine] %s 平均量不可用，滑点退回基础费率: %v", e.cfg.Symbol, err)
		avgVolume = 0
	}

	ledger, err := NewLedger(e.cfg.InitialCapital)
	if err != nil {
		return nil, err
	}
	fills := NewFillSimulator(FillConfig{
		FillOnClose:        e.cfg.FillOnClose,
		RejectPartialFills: e.cfg.RejectPartialFills,
		MaxOrderSizePct:    e.cfg.MaxOrderSizePct,
	}, e.cfg.Commission, e.cfg.Slippage)
	queue := NewEventQueue()

	if err := e.strat.Initialize(ctx); err != nil {
		return nil, fmt.Errorf("策略初始化失败: %w", err)
	}

	var runErrors []string
	progressStep := len(candles) / 20
	if progressStep < 10 {
		progressStep = 10
	}

	for i := range candles {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}
		candle := candles[i]
		ts := candle.Timestamp()

		queue.Push(&Event{Time: ts, Kind: KindMarketData, Symbol: candle.Symbol, Candle: &candle})
		_ = queue.Pop()

		// 策略只能看到当前及更早的 K 线
		signal, err := e.strat.OnBar(ctx, e.cfg.Symbol, candle, candles[:i+1])
		if err != nil {
			logger.Warnf("[engine] %s @%s 策略决策失败: %v", e.cfg.Symbol, ts.Format(time.RFC3339), err)
			runErrors = append(runErrors, fmt.Sprintf("%s: %v", ts.Format(time.RFC3339), err))
			signal = nil
		}

		if signal != nil && signal.Action != ActionHold {
			queue.Push(&Event{Time: ts, Kind: KindSignal, Symbol: e.cfg.Symbol, Signal: signal})
			_ = queue.Pop()
			if order := e.orderFromSignal(signal, candle, ledger); order != nil {
				queue.Push(&Event{Time: ts, Kind: KindOrder, Symbol: order.Symbol, Order: order})
				_ = queue.Pop()
				fill, err := fills.Simulate(*order, candle, avgVolume)
				if err != nil {
					return nil, fmt.Errorf("成交模拟失败 (%s @%s): %w", order.Symbol, ts.Format(time.RFC3339), err)
				}
				if fill != nil {
					queue.Push(&Event{Time: ts, Kind: KindFill, Symbol: fill.Symbol, Fill: fill})
					_ = queue.Pop()
					if err := ledger.ApplyFill(*fill, "signal"); err != nil {
						return nil, fmt.Errorf("记账失败: %w", err)
					}
					e.strat.OnFill(*fill)
				}
			}
		}

		ledger.MarkPrices(map[string]float64{e.cfg.Symbol: candle.Close}, ts)

		if err := queue.ValidateChronology(); err != nil {
			return nil, fmt.Errorf("时序完整性校验失败: %w", err)
		}
		if e.progress != nil && ((i+1)%progressStep == 0 || i == len(candles)-1) {
			e.progress(i+1, len(candles))
		}
	}

	// 区间结束强制平仓，保证每笔持仓都有对应的 Trade 记录
	if pos, ok := ledger.Position(e.cfg.Symbol); ok && pos.Quantity > 0 {
		last := candles[len(candles)-1]
		order := &Order{
			ID:        uuid.NewString(),
			Symbol:    e.cfg.Symbol,
			Side:      Sell,
			Quantity:  pos.Quantity,
			Type:      Market,
			TIF:       TIFGoodTillCancel,
			CreatedAt: last.Timestamp(),
			Strategy:  e.cfg.Strategy,
		}
		fill, err := fills.Simulate(*order, last, avgVolume)
		if err != nil {
			return nil, fmt.Errorf("收盘平仓失败: %w", err)
		}
		if fill != nil {
			if err := ledger.ApplyFill(*fill, "end_of_data"); err != nil {
				return nil, fmt.Errorf("收盘平仓记账失败: %w", err)
			}
			e.strat.OnFill(*fill)
		}
	}

	if err := e.strat.Finalize(); err != nil {
		logger.Warnf("[engine] 策略收尾失败: %v", err)
		runErrors = append(runErrors, fmt.Sprintf("finalize: %v", err))
	}

	commission, slippage := ledger.CostTotals()
	metrics := Analyze(AnalyzerInput{
		InitialCapital:  e.cfg.InitialCapital,
		Curve:           ledger.Curve(),
		Trades:          ledger.Trades(),
		TotalCommission: commission,
		TotalSlippage:   slippage,
		Start:           e.cfg.Start,
		End:             e.cfg.End,
	})

	return &Result{
		Config:    e.cfg,
		Duration:  time.Since(startedAt),
		Metrics:   metrics,
		Trades:    ledger.Trades(),
		Curve:     ledger.Curve(),
		Drawdowns: buildDrawdowns(ledger.Curve()),
		Bars:      buildBarStats(ledger.Curve()),
		Errors:    runErrors,
	}, nil
}

// orderFromSignal 把非 HOLD 信号转换为订单：
// 买入按可用现金比例定量；卖出整仓了结。无可行数量时返回 nil。
func (e *Engine) orderFromSignal(signal *Signal, candle market.Candle, ledger *Ledger) *Order {
	refPrice := candle.Close
	if !e.cfg.FillOnClose {
		refPrice = candle.Open
	}
	if refPrice <= 0 {
		return nil
	}
	var side Side
	var qty int64
	switch signal.Action {
	case ActionBuy:
		if _, held := ledger.Position(e.cfg.Symbol); held {
			return nil
		}
		side = Buy
		qty = int64(math.Floor(ledger.Cash() * e.cfg.PositionSizePct / refPrice))
	case ActionSell:
		pos, held := ledger.Position(e.cfg.Symbol)
		if !held {
			return nil
		}
		side = Sell
		qty = pos.Quantity
	default:
		return nil
	}
	if qty <= 0 {
		return nil
	}
	return &Order{
		ID:        uuid.NewString(),
		Symbol:    e.cfg.Symbol,
		Side:      side,
		Quantity:  qty,
		Type:      Market,
		TIF:       TIFGoodTillCancel,
		CreatedAt: candle.Timestamp(),
		Strategy:  e.cfg.Strategy,
	}
}
