package backtest

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"riptide/internal/config/loader"
	"riptide/internal/engine"
	"riptide/internal/logger"

	"golang.org/x/sync/errgroup"
)

// BatchResult 是参数扫描中单组参数的结果摘要。
type BatchResult struct {
	Params  json.RawMessage `json:"params"`
	Metrics engine.Metrics  `json:"metrics"`
	Error   string          `json:"error,omitempty"`
}

// BatchRunner 对同一策略的多组参数并行回测，用于粗粒度参数扫描。
// 每组参数各持独立引擎实例，互不共享状态。
type BatchRunner struct {
	sim      *Simulator
	parallel int
}

func NewBatchRunner(sim *Simulator, parallel int) (*BatchRunner, error) {
	if sim == nil {
		return nil, fmt.Errorf("simulator 不能为空")
	}
	if parallel <= 0 {
		parallel = 2
	}
	return &BatchRunner{sim: sim, parallel: parallel}, nil
}

// RunSweep 执行一次参数扫描：base 提供除 Params 外的全部配置，
// paramSets 的每个条目替换 Params 跑一轮。单组失败不影响其余。
func (b *BatchRunner) RunSweep(ctx context.Context, base RunConfig, paramSets [][]byte) ([]BatchResult, error) {
	if len(paramSets) == 0 {
		return nil, fmt.Errorf("参数组不能为空")
	}
	results := make([]BatchResult, len(paramSets))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(b.parallel)
	for i, params := range paramSets {
		i, params := i, params
		g.Go(func() error {
			cfg := base
			cfg.Params = params
			res, err := b.sim.Execute(gctx, cfg)
			if err != nil {
				logger.Warnf("[sweep] 参数组 %d 失败: %v", i, err)
				results[i] = BatchResult{Params: params, Error: err.Error()}
				return nil
			}
			results[i] = BatchResult{Params: params, Metrics: res.Metrics}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// expandParamSets 决定扫描的参数组：显式 param_sets 优先（在 base 参数上覆盖），
// 否则用 profile 的 variants，最后退化为单组 base 参数。
func expandParamSets(base RunConfig, explicit []map[string]any, profiles *loader.ProfileLoader) ([][]byte, error) {
	if len(explicit) > 0 {
		var baseParams map[string]any
		if len(base.Params) > 0 {
			if err := json.Unmarshal(base.Params, &baseParams); err != nil {
				return nil, fmt.Errorf("base params 非法: %w", err)
			}
		}
		out := make([][]byte, 0, len(explicit))
		for i, override := range explicit {
			merged := make(map[string]any, len(baseParams)+len(override))
			for k, v := range baseParams {
				merged[k] = v
			}
			for k, v := range override {
				merged[k] = v
			}
			raw, err := json.Marshal(merged)
			if err != nil {
				return nil, fmt.Errorf("参数组 %d 非法: %w", i, err)
			}
			out = append(out, raw)
		}
		return out, nil
	}
	if base.Profile != "" && profiles != nil {
		if prof, ok := profiles.Get(base.Profile); ok {
			return prof.VariantParamsJSON()
		}
	}
	params := base.Params
	if len(params) == 0 {
		params = []byte("{}")
	}
	return [][]byte{params}, nil
}

// RankBySharpe 按 Sharpe 降序排序（失败的组排在最后）。
func RankBySharpe(results []BatchResult) []BatchResult {
	out := make([]BatchResult, len(results))
	copy(out, results)
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Error != "" {
			return false
		}
		if out[j].Error != "" {
			return true
		}
		return out[i].Metrics.SharpeRatio > out[j].Metrics.SharpeRatio
	})
	return out
}
