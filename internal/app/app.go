// Package app 负责应用级编排：加载配置→初始化依赖→启动回测服务。
package app

import (
	"context"
	"fmt"

	"riptide/internal/backtest"
	"riptide/internal/config"
	"riptide/internal/config/loader"
	"riptide/internal/logger"
	"riptide/internal/market"

	"golang.org/x/sync/errgroup"
)

// App 聚合全部运行期组件，生命周期与进程一致。
type App struct {
	cfg *config.Config

	candles  *market.Store
	results  *backtest.ResultStore
	profiles *loader.ProfileLoader
	sim      *backtest.Simulator
	server   *backtest.HTTPServer
}

// NewApp 根据配置构建应用对象（不启动）。
func NewApp(cfg *config.Config) (*App, error) {
	if cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	logger.SetLevel(cfg.App.LogLevel)
	return buildAppWithWire(context.Background(), cfg)
}

// Run 启动 HTTP 服务并阻塞至 ctx 取消。
func (a *App) Run(ctx context.Context) error {
	if a == nil || a.cfg == nil {
		return fmt.Errorf("app not initialized")
	}
	if a.sim != nil {
		a.sim.SetContext(ctx)
	}
	logger.Infof("✓ riptide 启动: http=%s data=%s", a.cfg.App.HTTPAddr, a.cfg.Market.DataDir)

	group, ctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		if err := a.server.Start(ctx); err != nil {
			return fmt.Errorf("backtest http server error: %w", err)
		}
		return nil
	})
	err := group.Wait()
	a.Close()
	return err
}

// Close 释放存储与文件监听。
func (a *App) Close() {
	if a == nil {
		return
	}
	if a.profiles != nil {
		_ = a.profiles.Close()
	}
	if a.results != nil {
		_ = a.results.Close()
	}
	if a.candles != nil {
		_ = a.candles.Close()
	}
}

// Simulator 暴露底层模拟器（供测试与回放工具使用）。
func (a *App) Simulator() *backtest.Simulator {
	if a == nil {
		return nil
	}
	return a.sim
}
