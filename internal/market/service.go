package market

import (
	"context"
	"fmt"
	"strings"

	"golang.org/x/sync/errgroup"

	"riptide/internal/logger"
)

// Service 负责把远端 K 线补齐到本地 Store，回测前保证数据完整。
type Service struct {
	store  *Store
	source CandleSource
}

func NewService(store *Store, source CandleSource) (*Service, error) {
	if store == nil {
		return nil, fmt.Errorf("candle store 不能为空")
	}
	return &Service{store: store, source: source}, nil
}

// Backfill 按页拉取 [start,end]（open_time 毫秒）区间并写入 Store。
func (s *Service) Backfill(ctx context.Context, symbol, timeframe string, start, end int64) (int, error) {
	if s.source == nil {
		return 0, fmt.Errorf("%s %s 数据缺失，未配置拉取源", symbol, timeframe)
	}
	tf, err := ParseTimeframe(timeframe)
	if err != nil {
		return 0, err
	}
	total := 0
	cursor := start
	for cursor <= end {
		select {
		case <-ctx.Done():
			return total, ctx.Err()
		default:
		}
		batch, err := s.source.Fetch(ctx, FetchRequest{
			Symbol:   symbol,
			Interval: tf.SourceInterval,
			Start:    cursor,
			End:      end,
			Limit:    1000,
		})
		if err != nil {
			return total, err
		}
		if len(batch) == 0 {
			break
		}
		n, err := s.store.InsertCandles(ctx, symbol, timeframe, batch)
		if err != nil {
			return total, err
		}
		total += n
		last := batch[len(batch)-1].OpenTime
		next := last + tf.Millis()
		if next <= cursor {
			break
		}
		cursor = next
	}
	logger.Debugf("backfill %s %s: %d 条", strings.ToUpper(symbol), timeframe, total)
	return total, nil
}

// Ensure 校验区间完整度，缺失时触发补齐；补齐后仍缺失则报错。
func (s *Service) Ensure(ctx context.Context, symbol, timeframe string, start, end int64) error {
	tf, err := ParseTimeframe(timeframe)
	if err != nil {
		return err
	}
	report, err := s.store.CheckIntegrity(ctx, symbol, timeframe, tf, start, end)
	if err != nil {
		return err
	}
	if report.Complete() {
		return nil
	}
	logger.Infof("warmup %s %s: %d/%d，开始补齐", strings.ToUpper(symbol), timeframe, report.Present, report.Expected)
	if _, err := s.Backfill(ctx, symbol, timeframe, start, end); err != nil {
		return err
	}
	final, err := s.store.CheckIntegrity(ctx, symbol, timeframe, tf, start, end)
	if err != nil {
		return err
	}
	if !final.Complete() {
		return fmt.Errorf("%s %s 数据仍缺失: %d/%d", symbol, timeframe, final.Present, final.Expected)
	}
	return nil
}

// EnsureAll 并发补齐多个周期的数据。
func (s *Service) EnsureAll(ctx context.Context, symbol string, timeframes []string, start, end int64) error {
	group, ctx := errgroup.WithContext(ctx)
	group.SetLimit(2)
	for _, tfName := range timeframes {
		tfName := tfName
		group.Go(func() error {
			return s.Ensure(ctx, symbol, tfName, start, end)
		})
	}
	return group.Wait()
}
