package market

import "context"

// FetchRequest 描述一次远端 K 线请求。
type FetchRequest struct {
	Symbol   string
	Interval string
	Start    int64 // Unix ms
	End      int64 // Unix ms（可选；0 表示不限制）
	Limit    int
}

// CandleSource 统一不同交易所/数据源的拉取行为。
type CandleSource interface {
	Fetch(ctx context.Context, req FetchRequest) ([]Candle, error)
	Name() string
}

// HistoryProvider 为回测引擎提供历史数据；引擎自身从不主动拉取远端。
type HistoryProvider interface {
	// GetHistoricalData 返回 [start,end]（毫秒，按 close_time 计）内按时间升序的 K 线。
	GetHistoricalData(ctx context.Context, symbol, timeframe string, start, end int64) ([]Candle, error)
	// GetAverageVolume 返回 lookbackDays 天内的平均单根成交量；无数据时返回 0。
	GetAverageVolume(ctx context.Context, symbol, timeframe string, lookbackDays int) (float64, error)
}
