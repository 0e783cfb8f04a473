package engine

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

var (
	// ErrInsufficientFunds 买入成本超过可用现金。
	ErrInsufficientFunds = errors.New("现金不足")
	// ErrOversell 卖出数量超过当前持仓。
	ErrOversell = errors.New("卖出超过持仓")
)

// Position 是持仓的对外只读快照。
type Position struct {
	Symbol          string    `json:"symbol"`
	Quantity        int64     `json:"quantity"`
	AvgEntryPrice   float64   `json:"avg_entry_price"`
	MarkPrice       float64   `json:"mark_price"`
	MarketValue     float64   `json:"market_value"`
	UnrealizedPnL   float64   `json:"unrealized_pnl"`
	RealizedPnL     float64   `json:"realized_pnl"`
	EntryTime       time.Time `json:"entry_time"`
	EntryCommission float64   `json:"entry_commission"`
	EntrySlippage   float64   `json:"entry_slippage"`
}

// Trade 记录一次完整或部分平仓的往返，生成后不可变。
type Trade struct {
	Symbol     string        `json:"symbol"`
	EntryTime  time.Time     `json:"entry_time"`
	ExitTime   time.Time     `json:"exit_time"`
	EntryPrice float64       `json:"entry_price"`
	ExitPrice  float64       `json:"exit_price"`
	Quantity   int64         `json:"quantity"`
	ExitReason string        `json:"exit_reason"`
	GrossPnL   float64       `json:"gross_pnl"`
	Costs      float64       `json:"costs"`
	NetPnL     float64       `json:"net_pnl"`
	ReturnPct  float64       `json:"return_pct"`
	Holding    time.Duration `json:"holding"`
}

// EquityPoint 每个模拟步记录一点，序列即所有下游分析的标准时间序列。
type EquityPoint struct {
	Time           time.Time `json:"time"`
	Equity         float64   `json:"equity"`
	Cash           float64   `json:"cash"`
	PositionsValue float64   `json:"positions_value"`
	StepReturn     float64   `json:"step_return"`
	CumReturn      float64   `json:"cum_return"`
	Drawdown       float64   `json:"drawdown"`
}

// 内部持仓以 decimal 记账，保证逐笔对账到分。
type position struct {
	symbol          string
	qty             int64
	avgEntry        decimal.Decimal
	mark            decimal.Decimal
	realized        decimal.Decimal
	entryTime       time.Time
	entryCommission decimal.Decimal
	entrySlippage   decimal.Decimal
}

func (p *position) marketValue() decimal.Decimal {
	return decimal.NewFromInt(p.qty).Mul(p.mark)
}

func (p *position) unrealized() decimal.Decimal {
	return decimal.NewFromInt(p.qty).Mul(p.mark.Sub(p.avgEntry))
}

// Ledger 是现金、持仓、平仓记录与资金曲线的唯一权威。
// 所有现金变动必须来自一笔 Fill；快照之外不做任何 I/O。
type Ledger struct {
	initial decimal.Decimal
	cash    decimal.Decimal

	positions map[string]*position
	trades    []Trade
	curve     []EquityPoint

	peak       decimal.Decimal
	lastEquity decimal.Decimal

	totalCommission decimal.Decimal
	totalSlippage   decimal.Decimal
}

func NewLedger(initialCapital float64) (*Ledger, error) {
	if initialCapital <= 0 {
		return nil, fmt.Errorf("初始资金必须为正: %v", initialCapital)
	}
	initial := decimal.NewFromFloat(initialCapital)
	return &Ledger{
		initial:    initial,
		cash:       initial,
		positions:  make(map[string]*position),
		peak:       initial,
		lastEquity: initial,
	}, nil
}

// ApplyFill 将一笔成交记入账本。任何校验失败都发生在状态变更之前。
// exitReason 仅在卖出平仓时写入 Trade 记录。
func (l *Ledger) ApplyFill(f Fill, exitReason string) error {
	if f.Quantity <= 0 {
		return fmt.Errorf("fill %s 数量非法: %d", f.OrderID, f.Quantity)
	}
	price := decimal.NewFromFloat(f.Price)
	if price.Sign() <= 0 {
		return fmt.Errorf("fill %s 价格非法: %v", f.OrderID, f.Price)
	}
	commission := decimal.NewFromFloat(f.Commission)
	slippage := decimal.NewFromFloat(f.SlippageCost)
	qty := decimal.NewFromInt(f.Quantity)

	switch f.Side {
	case Buy:
		// 成交价已含滑点，现金校验 = 名义 + 手续费
		cost := qty.Mul(price).Add(commission)
		if cost.GreaterThan(l.cash) {
			return fmt.Errorf("%w: %s %s 需要 %s，现金 %s (qty=%d price=%v)",
				ErrInsufficientFunds, f.Symbol, f.Timestamp.Format(time.RFC3339),
				cost.StringFixed(2), l.cash.StringFixed(2), f.Quantity, f.Price)
		}
		l.cash = l.cash.Sub(cost)
		pos, ok := l.positions[f.Symbol]
		if !ok {
			l.positions[f.Symbol] = &position{
				symbol:          f.Symbol,
				qty:             f.Quantity,
				avgEntry:        price,
				mark:            price,
				entryTime:       f.Timestamp,
				entryCommission: commission,
				entrySlippage:   slippage,
			}
		} else {
			// 加仓：重算量加权平均入场价
			oldQty := decimal.NewFromInt(pos.qty)
			newQty := oldQty.Add(qty)
			pos.avgEntry = oldQty.Mul(pos.avgEntry).Add(qty.Mul(price)).Div(newQty)
			pos.qty += f.Quantity
			pos.mark = price
			pos.entryCommission = pos.entryCommission.Add(commission)
			pos.entrySlippage = pos.entrySlippage.Add(slippage)
		}
	case Sell:
		pos, ok := l.positions[f.Symbol]
		if !ok || f.Quantity > pos.qty {
			held := int64(0)
			if ok {
				held = pos.qty
			}
			return fmt.Errorf("%w: %s %s 卖出 %d，持仓 %d",
				ErrOversell, f.Symbol, f.Timestamp.Format(time.RFC3339), f.Quantity, held)
		}
		proceeds := qty.Mul(price).Sub(commission)
		l.cash = l.cash.Add(proceeds)

		realized := qty.Mul(price.Sub(pos.avgEntry))
		pos.realized = pos.realized.Add(realized)

		// 入场成本按平仓比例分摊
		closeRatio := qty.Div(decimal.NewFromInt(pos.qty))
		entryCommShare := pos.entryCommission.Mul(closeRatio)
		entrySlipShare := pos.entrySlippage.Mul(closeRatio)
		costs := commission.Add(slippage).Add(entryCommShare).Add(entrySlipShare)
		net := realized.Sub(costs)

		basis := qty.Mul(pos.avgEntry)
		returnPct := decimal.Zero
		if basis.Sign() > 0 {
			returnPct = net.Div(basis).Mul(decimal.NewFromInt(100))
		}
		l.trades = append(l.trades, Trade{
			Symbol:     f.Symbol,
			EntryTime:  pos.entryTime,
			ExitTime:   f.Timestamp,
			EntryPrice: decToFloat(pos.avgEntry),
			ExitPrice:  f.Price,
			Quantity:   f.Quantity,
			ExitReason: exitReason,
			GrossPnL:   decToFloat(realized),
			Costs:      decToFloat(costs),
			NetPnL:     decToFloat(net),
			ReturnPct:  decToFloat(returnPct),
			Holding:    f.Timestamp.Sub(pos.entryTime),
		})

		pos.qty -= f.Quantity
		pos.mark = price
		pos.entryCommission = pos.entryCommission.Sub(entryCommShare)
		pos.entrySlippage = pos.entrySlippage.Sub(entrySlipShare)
		if pos.qty == 0 {
			delete(l.positions, f.Symbol)
		}
	default:
		return fmt.Errorf("fill %s 方向非法", f.OrderID)
	}

	l.totalCommission = l.totalCommission.Add(commission)
	l.totalSlippage = l.totalSlippage.Add(slippage)
	return nil
}

// MarkPrices 以当前价格重估持仓并追加一个资金曲线点。
// 即使本步没有任何成交也必须调用一次，保证每根 K 线恰好一个点。
func (l *Ledger) MarkPrices(prices map[string]float64, ts time.Time) {
	for sym, pos := range l.positions {
		if price, ok := prices[sym]; ok && price > 0 {
			pos.mark = decimal.NewFromFloat(price)
		}
	}
	posValue := decimal.Zero
	for _, pos := range l.positions {
		posValue = posValue.Add(pos.marketValue())
	}
	equity := l.cash.Add(posValue)
	if equity.GreaterThan(l.peak) {
		l.peak = equity
	}
	stepReturn := decimal.Zero
	if l.lastEquity.Sign() > 0 {
		stepReturn = equity.Div(l.lastEquity).Sub(decimal.NewFromInt(1))
	}
	cumReturn := decimal.Zero
	if l.initial.Sign() > 0 {
		cumReturn = equity.Div(l.initial).Sub(decimal.NewFromInt(1))
	}
	drawdown := decimal.Zero
	if l.peak.Sign() > 0 {
		drawdown = equity.Sub(l.peak).Div(l.peak)
	}
	l.curve = append(l.curve, EquityPoint{
		Time:           ts,
		Equity:         decToFloat(equity),
		Cash:           decToFloat(l.cash),
		PositionsValue: decToFloat(posValue),
		StepReturn:     decToFloat(stepReturn),
		CumReturn:      decToFloat(cumReturn),
		Drawdown:       decToFloat(drawdown),
	})
	l.lastEquity = equity
}

// Cash 返回当前现金。
func (l *Ledger) Cash() float64 { return decToFloat(l.cash) }

// Equity 返回现金 + 持仓市值。
func (l *Ledger) Equity() float64 {
	posValue := decimal.Zero
	for _, pos := range l.positions {
		posValue = posValue.Add(pos.marketValue())
	}
	return decToFloat(l.cash.Add(posValue))
}

// InitialCapital 返回初始资金。
func (l *Ledger) InitialCapital() float64 { return decToFloat(l.initial) }

// Position 返回某 symbol 的持仓快照。
func (l *Ledger) Position(symbol string) (Position, bool) {
	pos, ok := l.positions[symbol]
	if !ok {
		return Position{}, false
	}
	return Position{
		Symbol:          pos.symbol,
		Quantity:        pos.qty,
		AvgEntryPrice:   decToFloat(pos.avgEntry),
		MarkPrice:       decToFloat(pos.mark),
		MarketValue:     decToFloat(pos.marketValue()),
		UnrealizedPnL:   decToFloat(pos.unrealized()),
		RealizedPnL:     decToFloat(pos.realized),
		EntryTime:       pos.entryTime,
		EntryCommission: decToFloat(pos.entryCommission),
		EntrySlippage:   decToFloat(pos.entrySlippage),
	}, true
}

// OpenPositions 返回所有持仓快照。
func (l *Ledger) OpenPositions() []Position {
	out := make([]Position, 0, len(l.positions))
	for sym := range l.positions {
		if snap, ok := l.Position(sym); ok {
			out = append(out, snap)
		}
	}
	return out
}

// Trades 返回已平仓记录（按平仓时间追加序）。
func (l *Ledger) Trades() []Trade { return l.trades }

// Curve 返回资金曲线。
func (l *Ledger) Curve() []EquityPoint { return l.curve }

// CostTotals 返回累计手续费与滑点成本。
func (l *Ledger) CostTotals() (commission, slippage float64) {
	return decToFloat(l.totalCommission), decToFloat(l.totalSlippage)
}
