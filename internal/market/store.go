package market

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// Store 基于 SQLite 缓存历史 K 线，并实现 HistoryProvider。
type Store struct {
	mu   sync.Mutex
	db   *sql.DB
	path string
}

// IntegrityReport 汇总某 symbol@timeframe 区间内的数据完整度。
type IntegrityReport struct {
	Symbol    string `json:"symbol"`
	Timeframe string `json:"timeframe"`
	Expected  int64  `json:"expected"`
	Present   int64  `json:"present"`
}

func (r IntegrityReport) Complete() bool {
	return r.Expected > 0 && r.Present >= r.Expected
}

func NewStore(root string) (*Store, error) {
	if root == "" {
		return nil, fmt.Errorf("data root 不能为空")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, err
	}
	path := filepath.Join(root, "candles.db")
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&cache=shared", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if err := ensureCandleSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{db: db, path: path}, nil
}

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

func ensureCandleSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS candles (
			symbol TEXT NOT NULL,
			timeframe TEXT NOT NULL,
			open_time INTEGER NOT NULL,
			close_time INTEGER NOT NULL,
			open REAL NOT NULL,
			high REAL NOT NULL,
			low REAL NOT NULL,
			close REAL NOT NULL,
			volume REAL NOT NULL,
			trades INTEGER NOT NULL DEFAULT 0,
			PRIMARY KEY(symbol, timeframe, open_time)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_candles_close ON candles(symbol, timeframe, close_time);`,
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

func storeKey(symbol, timeframe string) (string, string, error) {
	if symbol == "" || timeframe == "" {
		return "", "", fmt.Errorf("symbol/timeframe 不能为空")
	}
	return strings.ToUpper(symbol), strings.ToLower(timeframe), nil
}

// InsertCandles 批量写入 K 线（重复 open_time 将被覆盖）。
func (s *Store) InsertCandles(ctx context.Context, symbol, timeframe string, candles []Candle) (int, error) {
	if len(candles) == 0 {
		return 0, nil
	}
	sym, tf, err := storeKey(symbol, timeframe)
	if err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO candles (symbol, timeframe, open_time, close_time, open, high, low, close, volume, trades)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(symbol, timeframe, open_time) DO UPDATE SET
			close_time=excluded.close_time, open=excluded.open, high=excluded.high,
			low=excluded.low, close=excluded.close, volume=excluded.volume, trades=excluded.trades`)
	if err != nil {
		_ = tx.Rollback()
		return 0, err
	}
	defer stmt.Close()
	count := 0
	for _, c := range candles {
		if !c.Valid() {
			continue
		}
		if _, err := stmt.ExecContext(ctx, sym, tf, c.OpenTime, c.CloseTime,
			c.Open, c.High, c.Low, c.Close, c.Volume, c.Trades); err != nil {
			_ = tx.Rollback()
			return 0, err
		}
		count++
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return count, nil
}

// RangeCandles 返回 close_time 位于 [start,end] 的 K 线（升序）。
func (s *Store) RangeCandles(ctx context.Context, symbol, timeframe string, start, end int64) ([]Candle, error) {
	sym, tf, err := storeKey(symbol, timeframe)
	if err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT open_time, close_time, open, high, low, close, volume, trades
		FROM candles
		WHERE symbol=? AND timeframe=? AND close_time>=? AND close_time<=?
		ORDER BY open_time ASC`, sym, tf, start, end)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Candle
	for rows.Next() {
		c := Candle{Symbol: sym}
		if err := rows.Scan(&c.OpenTime, &c.CloseTime, &c.Open, &c.High, &c.Low, &c.Close, &c.Volume, &c.Trades); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// GetHistoricalData 实现 HistoryProvider。
func (s *Store) GetHistoricalData(ctx context.Context, symbol, timeframe string, start, end int64) ([]Candle, error) {
	return s.RangeCandles(ctx, symbol, timeframe, start, end)
}

// GetAverageVolume 实现 HistoryProvider：取最近 lookbackDays 天的单根平均量。
func (s *Store) GetAverageVolume(ctx context.Context, symbol, timeframe string, lookbackDays int) (float64, error) {
	sym, tf, err := storeKey(symbol, timeframe)
	if err != nil {
		return 0, err
	}
	if lookbackDays <= 0 {
		lookbackDays = 20
	}
	since := time.Now().Add(-time.Duration(lookbackDays) * 24 * time.Hour).UnixMilli()
	var avg sql.NullFloat64
	row := s.db.QueryRowContext(ctx, `
		SELECT AVG(volume) FROM candles
		WHERE symbol=? AND timeframe=? AND close_time>=?`, sym, tf, since)
	if err := row.Scan(&avg); err != nil {
		return 0, err
	}
	if !avg.Valid {
		return 0, nil
	}
	return avg.Float64, nil
}

// AverageVolumeBefore 取某时间点前 lookback 根 K 线的平均量，供回测避免前视。
func (s *Store) AverageVolumeBefore(ctx context.Context, symbol, timeframe string, before int64, lookback int) (float64, error) {
	sym, tf, err := storeKey(symbol, timeframe)
	if err != nil {
		return 0, err
	}
	if lookback <= 0 {
		lookback = 20
	}
	var avg sql.NullFloat64
	row := s.db.QueryRowContext(ctx, `
		SELECT AVG(volume) FROM (
			SELECT volume FROM candles
			WHERE symbol=? AND timeframe=? AND close_time<?
			ORDER BY close_time DESC LIMIT ?
		)`, sym, tf, before, lookback)
	if err := row.Scan(&avg); err != nil {
		return 0, err
	}
	if !avg.Valid {
		return 0, nil
	}
	return avg.Float64, nil
}

// CheckIntegrity 对比区间内实际与期望的 K 线数量。
func (s *Store) CheckIntegrity(ctx context.Context, symbol, timeframe string, tf Timeframe, start, end int64) (IntegrityReport, error) {
	sym, tfKey, err := storeKey(symbol, timeframe)
	if err != nil {
		return IntegrityReport{}, err
	}
	report := IntegrityReport{
		Symbol:    sym,
		Timeframe: tfKey,
		Expected:  tf.ExpectedCandles(start, end-tf.Millis()),
	}
	row := s.db.QueryRowContext(ctx, `
		SELECT COUNT(1) FROM candles
		WHERE symbol=? AND timeframe=? AND open_time>=? AND open_time<?`, sym, tfKey, start, end)
	if err := row.Scan(&report.Present); err != nil {
		return IntegrityReport{}, err
	}
	return report, nil
}
