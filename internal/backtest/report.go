package backtest

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"
	"github.com/go-echarts/go-echarts/v2/types"
)

const (
	reportBackground  = "#060c1b"
	reportTextPrimary = "#eceff4"
	reportTextMuted   = "#9ca3af"
	reportEquityColor = "#3b82f6"
	reportDrawColor   = "#f87171"
	reportWinColor    = "#34d399"
	reportLossColor   = "#f87171"

	reportChartWidthPx  = 1400
	reportChartHeightPx = 420
)

// Reporter 把一次 run 渲染为单页 HTML：资金曲线、回撤曲线与逐笔盈亏。
type Reporter struct {
	dir string
}

func NewReporter(dir string) (*Reporter, error) {
	if dir == "" {
		return nil, fmt.Errorf("report dir 不能为空")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return &Reporter{dir: dir}, nil
}

// Path 返回某个 run 的报表文件路径（不保证存在）。
func (r *Reporter) Path(runID string) string {
	return filepath.Join(r.dir, fmt.Sprintf("run_%s.html", runID))
}

// Write 渲染并写入报表，返回文件路径。
func (r *Reporter) Write(run Run, snaps []Snapshot, trades []TradeRecord) (string, error) {
	if len(snaps) == 0 {
		return "", fmt.Errorf("run %s 没有资金曲线数据", run.ID)
	}
	page := components.NewPage()
	page.SetLayout(components.PageFlexLayout)
	page.PageTitle = fmt.Sprintf("%s %s backtest", run.Symbol, run.Strategy)

	xAxis := make([]string, len(snaps))
	for i, s := range snaps {
		xAxis[i] = time.UnixMilli(s.TS).UTC().Format("2006-01-02 15:04")
	}
	page.AddCharts(
		r.equityChart(run, xAxis, snaps),
		r.drawdownChart(run, xAxis, snaps),
	)
	if len(trades) > 0 {
		page.AddCharts(r.tradeChart(run, trades))
	}

	path := r.Path(run.ID)
	f, err := os.Create(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	if err := page.Render(f); err != nil {
		return "", err
	}
	return path, nil
}

func (r *Reporter) baseInit() opts.Initialization {
	return opts.Initialization{
		Theme:           types.ThemeWesteros,
		Width:           fmt.Sprintf("%dpx", reportChartWidthPx),
		Height:          fmt.Sprintf("%dpx", reportChartHeightPx),
		BackgroundColor: reportBackground,
	}
}

func (r *Reporter) equityChart(run Run, xAxis []string, snaps []Snapshot) *charts.Line {
	line := charts.NewLine()
	subtitle := fmt.Sprintf("return %.2f%% | max drawdown %.2f%% | trades %d",
		run.Stats.TotalReturnPct, run.Stats.MaxDrawdownPct, run.Stats.TotalTrades)
	line.SetGlobalOptions(
		charts.WithInitializationOpts(r.baseInit()),
		charts.WithTitleOpts(opts.Title{
			Title:         fmt.Sprintf("Equity %s %s", run.Symbol, run.Timeframe),
			Subtitle:      subtitle,
			Left:          "left",
			TitleStyle:    &opts.TextStyle{Color: reportTextPrimary, FontSize: 18},
			SubtitleStyle: &opts.TextStyle{Color: reportTextMuted},
		}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithDataZoomOpts(opts.DataZoom{Type: "slider", XAxisIndex: []int{0}}),
		charts.WithXAxisOpts(opts.XAxis{
			Type:      "category",
			AxisLabel: &opts.AxisLabel{Color: reportTextMuted},
		}),
		charts.WithYAxisOpts(opts.YAxis{
			Scale:     opts.Bool(true),
			AxisLabel: &opts.AxisLabel{Color: reportTextMuted},
			SplitLine: &opts.SplitLine{Show: opts.Bool(true), LineStyle: &opts.LineStyle{Color: reportTextMuted, Opacity: opts.Float(0.2)}},
		}),
	)
	equity := make([]opts.LineData, len(snaps))
	for i, s := range snaps {
		equity[i] = opts.LineData{Value: s.Equity}
	}
	line.SetXAxis(xAxis)
	line.AddSeries("Equity", equity,
		charts.WithLineStyleOpts(opts.LineStyle{Color: reportEquityColor, Width: 2}),
		charts.WithLineChartOpts(opts.LineChart{ShowSymbol: opts.Bool(false)}),
	)
	return line
}

func (r *Reporter) drawdownChart(run Run, xAxis []string, snaps []Snapshot) *charts.Line {
	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(r.baseInit()),
		charts.WithTitleOpts(opts.Title{
			Title:      "Drawdown %",
			Left:       "left",
			TitleStyle: &opts.TextStyle{Color: reportTextPrimary},
		}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithXAxisOpts(opts.XAxis{
			Type:      "category",
			AxisLabel: &opts.AxisLabel{Show: opts.Bool(false)},
		}),
		charts.WithYAxisOpts(opts.YAxis{
			AxisLabel: &opts.AxisLabel{Color: reportTextMuted},
			SplitLine: &opts.SplitLine{Show: opts.Bool(true), LineStyle: &opts.LineStyle{Color: reportTextMuted, Opacity: opts.Float(0.15)}},
		}),
	)
	dd := make([]opts.LineData, len(snaps))
	for i, s := range snaps {
		dd[i] = opts.LineData{Value: -s.Drawdown}
	}
	line.SetXAxis(xAxis)
	line.AddSeries("Drawdown", dd,
		charts.WithLineStyleOpts(opts.LineStyle{Color: reportDrawColor, Width: 2}),
		charts.WithLineChartOpts(opts.LineChart{ShowSymbol: opts.Bool(false)}),
		charts.WithAreaStyleOpts(opts.AreaStyle{Opacity: opts.Float(0.25)}),
	)
	return line
}

func (r *Reporter) tradeChart(run Run, trades []TradeRecord) *charts.Bar {
	bar := charts.NewBar()
	bar.SetGlobalOptions(
		charts.WithInitializationOpts(r.baseInit()),
		charts.WithTitleOpts(opts.Title{
			Title:      "Trade PnL",
			Left:       "left",
			TitleStyle: &opts.TextStyle{Color: reportTextPrimary},
		}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithXAxisOpts(opts.XAxis{AxisLabel: &opts.AxisLabel{Color: reportTextMuted}}),
		charts.WithYAxisOpts(opts.YAxis{
			AxisLabel: &opts.AxisLabel{Color: reportTextMuted},
			SplitLine: &opts.SplitLine{Show: opts.Bool(true), LineStyle: &opts.LineStyle{Color: reportTextMuted, Opacity: opts.Float(0.15)}},
		}),
	)
	xAxis := make([]string, len(trades))
	data := make([]opts.BarData, len(trades))
	for i, t := range trades {
		xAxis[i] = t.ExitTime.UTC().Format("01-02 15:04")
		color := reportLossColor
		if t.NetPnL >= 0 {
			color = reportWinColor
		}
		data[i] = opts.BarData{
			Value:     t.NetPnL,
			ItemStyle: &opts.ItemStyle{Color: color, Opacity: opts.Float(0.8)},
		}
	}
	bar.SetXAxis(xAxis)
	bar.AddSeries("Net PnL", data)
	return bar
}
