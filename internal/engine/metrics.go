package engine

import (
	"math"
	"time"
)

const tradingDaysPerYear = 252.0

// Metrics 是绩效分析的固定输出记录。
// 退化输入（无交易 / 空曲线）返回全零记录，绝不 panic。
type Metrics struct {
	TotalReturnPct float64 `json:"total_return_pct"`
	TotalReturnUSD float64 `json:"total_return_usd"`
	CAGR           float64 `json:"cagr"`
	FinalEquity    float64 `json:"final_equity"`

	AnnualVolatility float64 `json:"annual_volatility"`
	SharpeRatio      float64 `json:"sharpe_ratio"`
	SortinoRatio     float64 `json:"sortino_ratio"`
	CalmarRatio      float64 `json:"calmar_ratio"`

	MaxDrawdownPct  float64 `json:"max_drawdown_pct"`
	MaxDrawdownDays float64 `json:"max_drawdown_days"`

	TotalTrades   int     `json:"total_trades"`
	WinningTrades int     `json:"winning_trades"`
	LosingTrades  int     `json:"losing_trades"`
	WinRate       float64 `json:"win_rate"`

	AvgWinUSD      float64 `json:"avg_win_usd"`
	AvgLossUSD     float64 `json:"avg_loss_usd"`
	AvgWinPct      float64 `json:"avg_win_pct"`
	AvgLossPct     float64 `json:"avg_loss_pct"`
	LargestWinUSD  float64 `json:"largest_win_usd"`
	LargestLossUSD float64 `json:"largest_loss_usd"`

	GrossProfit  float64 `json:"gross_profit"`
	GrossLoss    float64 `json:"gross_loss"`
	ProfitFactor float64 `json:"profit_factor"`
	PayoffRatio  float64 `json:"payoff_ratio"`
	Expectancy   float64 `json:"expectancy"`

	LongestWinStreak  int `json:"longest_win_streak"`
	LongestLossStreak int `json:"longest_loss_streak"`

	TotalCommission float64 `json:"total_commission"`
	TotalSlippage   float64 `json:"total_slippage"`
	TradingDays     int     `json:"trading_days"`
}

// AnalyzerInput 聚合分析所需的全部输入；分析是纯函数，无外部依赖。
type AnalyzerInput struct {
	InitialCapital  float64
	Curve           []EquityPoint
	Trades          []Trade
	TotalCommission float64
	TotalSlippage   float64
	Start           time.Time
	End             time.Time
}

// Analyze 从资金曲线与平仓记录推导收益、风险与交易质量指标。
func Analyze(in AnalyzerInput) Metrics {
	var m Metrics
	m.TotalCommission = in.TotalCommission
	m.TotalSlippage = in.TotalSlippage

	if len(in.Curve) == 0 && len(in.Trades) == 0 {
		return m
	}

	if len(in.Curve) > 0 && in.InitialCapital > 0 {
		final := in.Curve[len(in.Curve)-1].Equity
		m.FinalEquity = final
		m.TotalReturnUSD = final - in.InitialCapital
		m.TotalReturnPct = m.TotalReturnUSD / in.InitialCapital * 100

		calendarDays := in.End.Sub(in.Start).Hours() / 24
		if calendarDays > 0 {
			m.TradingDays = int(math.Floor(calendarDays * tradingDaysPerYear / 365))
		}
		if m.TradingDays > 0 && final > 0 {
			years := float64(m.TradingDays) / tradingDaysPerYear
			m.CAGR = math.Pow(final/in.InitialCapital, 1/years) - 1
		}

		returns := stepReturns(in.Curve)
		mean := meanOf(returns)
		vol := sampleStdev(returns)
		m.AnnualVolatility = vol * math.Sqrt(tradingDaysPerYear)
		annMean := mean * tradingDaysPerYear
		if m.AnnualVolatility > 0 {
			m.SharpeRatio = annMean / m.AnnualVolatility
		}
		downside := sampleStdev(negativesOf(returns)) * math.Sqrt(tradingDaysPerYear)
		if downside > 0 {
			m.SortinoRatio = annMean / downside
		}

		m.MaxDrawdownPct, m.MaxDrawdownDays = drawdownStats(in.Curve)
		if m.MaxDrawdownPct < 0 {
			m.CalmarRatio = m.CAGR / math.Abs(m.MaxDrawdownPct)
		}
	}

	analyzeTrades(&m, in.Trades)
	return m
}

func stepReturns(curve []EquityPoint) []float64 {
	out := make([]float64, 0, len(curve))
	for _, p := range curve {
		out = append(out, p.StepReturn)
	}
	return out
}

func negativesOf(values []float64) []float64 {
	var out []float64
	for _, v := range values {
		if v < 0 {
			out = append(out, v)
		}
	}
	return out
}

func meanOf(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

// sampleStdev 使用 n-1 分母；样本不足时返回 0。
func sampleStdev(values []float64) float64 {
	n := len(values)
	if n < 2 {
		return 0
	}
	mean := meanOf(values)
	sum := 0.0
	for _, v := range values {
		d := v - mean
		sum += d * d
	}
	return math.Sqrt(sum / float64(n-1))
}

// drawdownStats 返回最深回撤（负数小数）与最长回撤天数。
func drawdownStats(curve []EquityPoint) (maxDD, maxDays float64) {
	if len(curve) == 0 {
		return 0, 0
	}
	peak := curve[0].Equity
	peakTime := curve[0].Time
	for _, p := range curve {
		if p.Equity >= peak {
			peak = p.Equity
			peakTime = p.Time
			continue
		}
		if peak > 0 {
			dd := (p.Equity - peak) / peak
			if dd < maxDD {
				maxDD = dd
			}
		}
		days := p.Time.Sub(peakTime).Hours() / 24
		if days > maxDays {
			maxDays = days
		}
	}
	return maxDD, maxDays
}

func analyzeTrades(m *Metrics, trades []Trade) {
	m.TotalTrades = len(trades)
	if len(trades) == 0 {
		return
	}
	var grossProfit, grossLoss, totalNet float64
	var winPctSum, lossPctSum float64
	winStreak, lossStreak := 0, 0
	for _, t := range trades {
		totalNet += t.NetPnL
		switch {
		case t.NetPnL > 0:
			m.WinningTrades++
			grossProfit += t.NetPnL
			winPctSum += t.ReturnPct
			if t.NetPnL > m.LargestWinUSD {
				m.LargestWinUSD = t.NetPnL
			}
			winStreak++
			lossStreak = 0
			if winStreak > m.LongestWinStreak {
				m.LongestWinStreak = winStreak
			}
		case t.NetPnL < 0:
			m.LosingTrades++
			grossLoss += math.Abs(t.NetPnL)
			lossPctSum += t.ReturnPct
			if t.NetPnL < m.LargestLossUSD {
				m.LargestLossUSD = t.NetPnL
			}
			lossStreak++
			winStreak = 0
			if lossStreak > m.LongestLossStreak {
				m.LongestLossStreak = lossStreak
			}
		default:
			// 零盈亏交易既不延续也不打断连胜/连败
		}
	}
	m.WinRate = float64(m.WinningTrades) / float64(m.TotalTrades) * 100
	m.GrossProfit = grossProfit
	m.GrossLoss = grossLoss
	if m.WinningTrades > 0 {
		m.AvgWinUSD = grossProfit / float64(m.WinningTrades)
		m.AvgWinPct = winPctSum / float64(m.WinningTrades)
	}
	if m.LosingTrades > 0 {
		m.AvgLossUSD = -grossLoss / float64(m.LosingTrades)
		m.AvgLossPct = lossPctSum / float64(m.LosingTrades)
	}
	if grossLoss > 0 {
		m.ProfitFactor = grossProfit / grossLoss
	}
	if m.AvgLossUSD != 0 {
		m.PayoffRatio = m.AvgWinUSD / math.Abs(m.AvgLossUSD)
	}
	m.Expectancy = totalNet / float64(m.TotalTrades)
}
