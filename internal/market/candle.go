package market

import "time"

// Candle 表示单根 K 线，是整个回测的时钟单位。
// 同一 symbol 在同一 open_time 只允许存在一根；字段在写入后不可变。
type Candle struct {
	Symbol    string  `json:"symbol"`
	OpenTime  int64   `json:"open_time"`
	CloseTime int64   `json:"close_time"`
	Open      float64 `json:"open"`
	High      float64 `json:"high"`
	Low       float64 `json:"low"`
	Close     float64 `json:"close"`
	Volume    float64 `json:"volume"`
	Trades    int64   `json:"trades"`
}

// Timestamp 返回 close_time 对应的时间（回测以收盘时刻为决策点）。
func (c Candle) Timestamp() time.Time {
	return time.UnixMilli(c.CloseTime)
}

// Mid 返回 (high+low)/2，用于估算半价差。
func (c Candle) Mid() float64 {
	return (c.High + c.Low) / 2
}

// Valid 检查 OHLC 为正、量非负、区间自洽。
func (c Candle) Valid() bool {
	if c.Open <= 0 || c.High <= 0 || c.Low <= 0 || c.Close <= 0 {
		return false
	}
	if c.Volume < 0 {
		return false
	}
	if c.High < c.Low {
		return false
	}
	return c.OpenTime <= c.CloseTime
}

// Closes 抽取收盘价序列，供指标计算使用。
func Closes(candles []Candle) []float64 {
	out := make([]float64, len(candles))
	for i, c := range candles {
		out[i] = c.Close
	}
	return out
}
