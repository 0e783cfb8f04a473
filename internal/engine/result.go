package engine

import "time"

// DrawdownPoint 记录某时刻相对历史峰值的回撤与持续天数。
type DrawdownPoint struct {
	Time     time.Time `json:"time"`
	Drawdown float64   `json:"drawdown"`
	Days     float64   `json:"days"`
}

// BarStats 按 K 线粒度统计的摘要。
type BarStats struct {
	BestDayPct   float64   `json:"best_day_pct"`
	BestDayTime  time.Time `json:"best_day_time"`
	WorstDayPct  float64   `json:"worst_day_pct"`
	WorstDayTime time.Time `json:"worst_day_time"`
	PositiveDays int       `json:"positive_days"`
	NegativeDays int       `json:"negative_days"`
}

// Result 是单次回测的完整输出。
type Result struct {
	Config    Config          `json:"config"`
	Duration  time.Duration   `json:"duration"`
	Metrics   Metrics         `json:"metrics"`
	Trades    []Trade         `json:"trades"`
	Curve     []EquityPoint   `json:"equity_curve"`
	Drawdowns []DrawdownPoint `json:"drawdown_curve"`
	Bars      BarStats        `json:"bar_stats"`
	Errors    []string        `json:"errors,omitempty"`
}

func buildDrawdowns(curve []EquityPoint) []DrawdownPoint {
	if len(curve) == 0 {
		return nil
	}
	out := make([]DrawdownPoint, 0, len(curve))
	peak := curve[0].Equity
	peakTime := curve[0].Time
	for _, p := range curve {
		if p.Equity >= peak {
			peak = p.Equity
			peakTime = p.Time
		}
		out = append(out, DrawdownPoint{
			Time:     p.Time,
			Drawdown: p.Drawdown,
			Days:     p.Time.Sub(peakTime).Hours() / 24,
		})
	}
	return out
}

func buildBarStats(curve []EquityPoint) BarStats {
	var stats BarStats
	for i, p := range curve {
		if i == 0 || p.StepReturn > stats.BestDayPct {
			stats.BestDayPct = p.StepReturn
			stats.BestDayTime = p.Time
		}
		if i == 0 || p.StepReturn < stats.WorstDayPct {
			stats.WorstDayPct = p.StepReturn
			stats.WorstDayTime = p.Time
		}
		if p.StepReturn > 0 {
			stats.PositiveDays++
		} else if p.StepReturn < 0 {
			stats.NegativeDays++
		}
	}
	return stats
}
