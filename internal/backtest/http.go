package backtest

import (
	"context"
	"errors"
	"net/http"
	"os"
	"strconv"
	"time"

	"riptide/internal/config/loader"
	"riptide/internal/market"

	"github.com/gin-gonic/gin"
)

// HTTPServer 提供 Gin 接口：提交回测、查询结果、补齐数据、参数扫描。
type HTTPServer struct {
	addr     string
	svc      *market.Service
	store    *market.Store
	sim      *Simulator
	batch    *BatchRunner
	results  *ResultStore
	profiles *loader.ProfileLoader
	reporter *Reporter
	router   *gin.Engine
}

type HTTPConfig struct {
	Addr        string
	Svc         *market.Service
	CandleStore *market.Store
	Simulator   *Simulator
	Batch       *BatchRunner
	Results     *ResultStore
	Profiles    *loader.ProfileLoader
	Reporter    *Reporter
}

func NewHTTPServer(cfg HTTPConfig) (*HTTPServer, error) {
	if cfg.CandleStore == nil {
		return nil, errors.New("candle store 不能为空")
	}
	if cfg.Addr == "" {
		cfg.Addr = ":9982"
	}
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	s := &HTTPServer{
		addr:     cfg.Addr,
		svc:      cfg.Svc,
		store:    cfg.CandleStore,
		sim:      cfg.Simulator,
		batch:    cfg.Batch,
		results:  cfg.Results,
		profiles: cfg.Profiles,
		reporter: cfg.Reporter,
		router:   router,
	}
	s.registerRoutes()
	return s, nil
}

func (s *HTTPServer) registerRoutes() {
	api := s.router.Group("/api/backtest")
	api.POST("/data/backfill", s.handleBackfill)
	api.GET("/candles", s.handleCandles)
	api.GET("/profiles", s.handleProfiles)
	api.POST("/runs", s.handleRunStart)
	api.GET("/runs", s.handleRunList)
	api.GET("/runs/:id", s.handleRunDetail)
	api.GET("/runs/:id/trades", s.handleRunTrades)
	api.GET("/runs/:id/snapshots", s.handleRunSnapshots)
	api.GET("/runs/:id/report", s.handleRunReport)
	api.POST("/sweeps", s.handleSweep)
}

func (s *HTTPServer) handleBackfill(c *gin.Context) {
	if s.svc == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "数据服务未启用"})
		return
	}
	var req struct {
		Symbol    string `json:"symbol" binding:"required"`
		Timeframe string `json:"timeframe" binding:"required"`
		StartTS   int64  `json:"start_ts" binding:"required"`
		EndTS     int64  `json:"end_ts" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	inserted, err := s.svc.Backfill(c.Request.Context(), req.Symbol, req.Timeframe, req.StartTS, req.EndTS)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"inserted": inserted})
}

func (s *HTTPServer) handleCandles(c *gin.Context) {
	symbol := c.Query("symbol")
	tf := c.Query("timeframe")
	if symbol == "" || tf == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "symbol/timeframe 必填"})
		return
	}
	start, _ := strconv.ParseInt(c.Query("start_ts"), 10, 64)
	end, _ := strconv.ParseInt(c.Query("end_ts"), 10, 64)
	data, err := s.store.RangeCandles(c.Request.Context(), symbol, tf, start, end)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"candles": data})
}

func (s *HTTPServer) handleProfiles(c *gin.Context) {
	if s.profiles == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "profile loader 未启用"})
		return
	}
	snap := s.profiles.Snapshot()
	c.JSON(http.StatusOK, gin.H{"version": snap.Version, "profiles": snap.Profiles})
}

func (s *HTTPServer) handleRunStart(c *gin.Context) {
	if s.sim == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "模拟器未启用"})
		return
	}
	var req RunRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	run, err := s.sim.StartRun(req)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"run": run})
}

func (s *HTTPServer) handleRunList(c *gin.Context) {
	if s.results == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "结果存储未启用"})
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	runs, err := s.results.ListRuns(c.Request.Context(), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"runs": runs})
}

func (s *HTTPServer) handleRunDetail(c *gin.Context) {
	if s.results == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "结果存储未启用"})
		return
	}
	run, err := s.results.GetRun(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"run": run})
}

func (s *HTTPServer) handleRunTrades(c *gin.Context) {
	if s.results == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "结果存储未启用"})
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "500"))
	trades, err := s.results.ListTrades(c.Request.Context(), c.Param("id"), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"trades": trades})
}

func (s *HTTPServer) handleRunSnapshots(c *gin.Context) {
	if s.results == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "结果存储未启用"})
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "5000"))
	snaps, err := s.results.ListSnapshots(c.Request.Context(), c.Param("id"), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"snapshots": snaps})
}

func (s *HTTPServer) handleRunReport(c *gin.Context) {
	if s.results == nil || s.reporter == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "报表未启用"})
		return
	}
	id := c.Param("id")
	path := s.reporter.Path(id)
	if _, err := os.Stat(path); err != nil {
		// 报表缺失时按需重建。
		ctx := c.Request.Context()
		run, err := s.results.GetRun(ctx, id)
		if err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}
		if run.Status != RunStatusDone {
			c.JSON(http.StatusConflict, gin.H{"error": "run 尚未完成"})
			return
		}
		snaps, err := s.results.ListSnapshots(ctx, id, 0)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		trades, err := s.results.ListTrades(ctx, id, 0)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		if path, err = s.reporter.Write(run, snaps, trades); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
	}
	c.File(path)
}

func (s *HTTPServer) handleSweep(c *gin.Context) {
	if s.sim == nil || s.batch == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "参数扫描未启用"})
		return
	}
	var req struct {
		RunRequest
		ParamSets []map[string]any `json:"param_sets"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	cfg, err := s.sim.ResolveConfig(req.RunRequest)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	paramSets, err := expandParamSets(cfg, req.ParamSets, s.profiles)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	results, err := s.batch.RunSweep(c.Request.Context(), cfg, paramSets)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"results": RankBySharpe(results)})
}

// Start 启动 HTTP 服务，阻塞直到 ctx 取消或出现错误。
func (s *HTTPServer) Start(ctx context.Context) error {
	srv := &http.Server{Addr: s.addr, Handler: s.router}
	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		shCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shCtx)
		return nil
	case err := <-errCh:
		return err
	}
}
