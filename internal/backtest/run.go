// Package backtest 把回测引擎包装成可提交、可查询的后台服务：
// 任务入库、后台推演、结果与资金曲线落盘、HTTP 查询与报表。
package backtest

import (
	"encoding/json"
	"time"

	"riptide/internal/config"
	"riptide/internal/engine"
)

const (
	RunStatusPending = "pending"
	RunStatusRunning = "running"
	RunStatusDone    = "done"
	RunStatusFailed  = "failed"
)

// RunConfig 记录本次回测的参数快照，便于重放。
type RunConfig struct {
	Profile            string                  `json:"profile,omitempty"`
	Strategy           string                  `json:"strategy"`
	Params             json.RawMessage         `json:"params,omitempty"`
	Symbol             string                  `json:"symbol"`
	Timeframe          string                  `json:"timeframe"`
	StartTS            int64                   `json:"start_ts"`
	EndTS              int64                   `json:"end_ts"`
	InitialCapital     float64                 `json:"initial_capital"`
	FillOnClose        bool                    `json:"fill_on_close"`
	RejectPartialFills bool                    `json:"reject_partial_fills"`
	MaxOrderSizePct    float64                 `json:"max_order_size_pct"`
	PositionSizePct    float64                 `json:"position_size_pct"`
	AvgVolumeLookback  int                     `json:"avg_volume_lookback"`
	Commission         config.CommissionConfig `json:"commission"`
	Slippage           config.SlippageConfig   `json:"slippage"`
	Notes              string                  `json:"notes,omitempty"`
}

// RunStats 汇总收益与风控指标，供前端展示。
type RunStats struct {
	engine.Metrics
	Snapshots  int       `json:"snapshots"`
	Errors     []string  `json:"errors,omitempty"`
	FinishedAt time.Time `json:"finished_at"`
}

// Run 表示一次回测任务。
type Run struct {
	ID             string    `json:"id"`
	Symbol         string    `json:"symbol"`
	Profile        string    `json:"profile,omitempty"`
	Strategy       string    `json:"strategy"`
	Status         string    `json:"status"`
	StartTS        int64     `json:"start_ts"`
	EndTS          int64     `json:"end_ts"`
	Timeframe      string    `json:"timeframe"`
	InitialCapital float64   `json:"initial_capital"`
	FinalEquity    float64   `json:"final_equity"`
	ReturnPct      float64   `json:"return_pct"`
	WinRate        float64   `json:"win_rate"`
	MaxDrawdownPct float64   `json:"max_drawdown_pct"`
	Trades         int       `json:"trades"`
	Message        string    `json:"message"`
	Config         RunConfig `json:"config"`
	Stats          RunStats  `json:"stats"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
	CompletedAt    time.Time `json:"completed_at"`
}

// TradeRecord 是入库后的已平仓交易。
type TradeRecord struct {
	ID         int64     `json:"id"`
	RunID      string    `json:"run_id"`
	Symbol     string    `json:"symbol"`
	EntryTime  time.Time `json:"entry_time"`
	ExitTime   time.Time `json:"exit_time"`
	EntryPrice float64   `json:"entry_price"`
	ExitPrice  float64   `json:"exit_price"`
	Quantity   int64     `json:"quantity"`
	ExitReason string    `json:"exit_reason"`
	GrossPnL   float64   `json:"gross_pnl"`
	Costs      float64   `json:"costs"`
	NetPnL     float64   `json:"net_pnl"`
	ReturnPct  float64   `json:"return_pct"`
	HoldingMs  int64     `json:"holding_ms"`
}

// Snapshot 保存资金曲线上的一个点。
type Snapshot struct {
	ID             int64   `json:"id"`
	RunID          string  `json:"run_id"`
	TS             int64   `json:"ts"`
	Equity         float64 `json:"equity"`
	Cash           float64 `json:"cash"`
	PositionsValue float64 `json:"positions_value"`
	StepReturn     float64 `json:"step_return"`
	CumReturn      float64 `json:"cum_return"`
	Drawdown       float64 `json:"drawdown"`
}

// RunRequest 为 HTTP 提交使用。profile 与 strategy 至少给出其一，
// 显式字段覆盖 profile 中的同名设置。
type RunRequest struct {
	Profile            string                   `json:"profile"`
	Strategy           string                   `json:"strategy"`
	Params             json.RawMessage          `json:"params"`
	Symbol             string                   `json:"symbol"`
	Timeframe          string                   `json:"timeframe"`
	StartTS            int64                    `json:"start_ts" binding:"required"`
	EndTS              int64                    `json:"end_ts" binding:"required"`
	InitialCapital     float64                  `json:"initial_capital"`
	FillOnClose        *bool                    `json:"fill_on_close"`
	RejectPartialFills *bool                    `json:"reject_partial_fills"`
	MaxOrderSizePct    float64                  `json:"max_order_size_pct"`
	PositionSizePct    float64                  `json:"position_size_pct"`
	Commission         *config.CommissionConfig `json:"commission"`
	Slippage           *config.SlippageConfig   `json:"slippage"`
	Notes              string                   `json:"notes"`
}

func tradeRecordFrom(runID string, t engine.Trade) TradeRecord {
	return TradeRecord{
		RunID:      runID,
		Symbol:     t.Symbol,
		EntryTime:  t.EntryTime,
		ExitTime:   t.ExitTime,
		EntryPrice: t.EntryPrice,
		ExitPrice:  t.ExitPrice,
		Quantity:   t.Quantity,
		ExitReason: t.ExitReason,
		GrossPnL:   t.GrossPnL,
		Costs:      t.Costs,
		NetPnL:     t.NetPnL,
		ReturnPct:  t.ReturnPct,
		HoldingMs:  t.Holding.Milliseconds(),
	}
}

func snapshotFrom(runID string, p engine.EquityPoint) Snapshot {
	return Snapshot{
		RunID:          runID,
		TS:             p.Time.UnixMilli(),
		Equity:         p.Equity,
		Cash:           p.Cash,
		PositionsValue: p.PositionsValue,
		StepReturn:     p.StepReturn,
		CumReturn:      p.CumReturn,
		Drawdown:       p.Drawdown,
	}
}
