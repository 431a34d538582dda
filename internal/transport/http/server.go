package http

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"solat/internal/backtest"
	"solat/internal/domain"
	"solat/internal/execution"
	"solat/internal/market"
)

// Server exposes the operator control surface: session safety, kill
// switch, reconciliation, ledger queries and backtest runs.
type Server struct {
	addr      string
	router    *execution.Router
	backtests *backtest.Service
	ledger    *execution.Ledger
	bars      *market.BarStore
	engine    *gin.Engine
}

type Config struct {
	Addr      string
	Router    *execution.Router
	Backtests *backtest.Service
	Ledger    *execution.Ledger
	Bars      *market.BarStore
}

func NewServer(cfg Config) (*Server, error) {
	if cfg.Router == nil {
		return nil, errors.New("execution router is required")
	}
	if cfg.Backtests == nil {
		return nil, errors.New("backtest service is required")
	}
	if cfg.Addr == "" {
		cfg.Addr = ":9991"
	}

	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())

	s := &Server{
		addr:      cfg.Addr,
		router:    cfg.Router,
		backtests: cfg.Backtests,
		ledger:    cfg.Ledger,
		bars:      cfg.Bars,
		engine:    engine,
	}
	s.registerRoutes()
	return s, nil
}

func (s *Server) registerRoutes() {
	api := s.engine.Group("/api")

	session := api.Group("/session")
	session.GET("", s.handleSession)
	session.POST("/connect", s.handleConnect)
	session.POST("/disconnect", s.handleDisconnect)
	session.POST("/arm", s.handleArm)
	session.POST("/disarm", s.handleDisarm)

	kill := api.Group("/killswitch")
	kill.GET("", s.handleKillSwitch)
	kill.POST("/activate", s.handleKillActivate)
	kill.POST("/reset", s.handleKillReset)

	api.GET("/positions", s.handlePositions)
	api.GET("/account", s.handleAccount)
	api.POST("/reconcile", s.handleReconcile)

	api.GET("/orders", s.handleOrders)
	api.GET("/orders/:id/events", s.handleOrderEvents)
	api.GET("/orders/:id/fills", s.handleOrderFills)

	api.GET("/data", s.handleDatasetInfo)
	api.GET("/candles", s.handleCandles)

	bt := api.Group("/backtest")
	bt.POST("/runs", s.handleRunStart)
	bt.GET("/runs", s.handleRunList)
	bt.GET("/runs/:id", s.handleRunDetail)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrValidation), errors.Is(err, domain.ErrDuplicateIntent):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrRiskRejected):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) handleSession(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"connected": s.router.Gate().Connected(),
		"armed":     s.router.Gate().Armed(),
		"breaker":   s.router.Breaker().State().String(),
	})
}

func (s *Server) handleConnect(c *gin.Context) {
	if err := s.router.Connect(c.Request.Context()); err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"connected": true})
}

func (s *Server) handleDisconnect(c *gin.Context) {
	s.router.Disconnect()
	c.JSON(http.StatusOK, gin.H{"connected": false})
}

func (s *Server) handleArm(c *gin.Context) {
	var req struct {
		Confirmation string `json:"confirmation" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := s.router.Arm(req.Confirmation); err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"armed": true})
}

func (s *Server) handleDisarm(c *gin.Context) {
	s.router.Disarm()
	c.JSON(http.StatusOK, gin.H{"armed": false})
}

func (s *Server) handleKillSwitch(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"kill_switch": s.router.KillSwitch().Record()})
}

func (s *Server) handleKillActivate(c *gin.Context) {
	var req struct {
		Reason string `json:"reason"`
	}
	_ = c.ShouldBindJSON(&req)
	if req.Reason == "" {
		req.Reason = execution.KillReasonManual
	}
	if err := s.router.ActivateKillSwitch(c.Request.Context(), req.Reason, time.Now().UTC()); err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"kill_switch": s.router.KillSwitch().Record()})
}

func (s *Server) handleKillReset(c *gin.Context) {
	if err := s.router.KillSwitch().Reset(c.Request.Context(), time.Now().UTC()); err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"kill_switch": s.router.KillSwitch().Record()})
}

func (s *Server) handlePositions(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"positions": s.router.Positions()})
}

func (s *Server) handleAccount(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"account": s.router.Account()})
}

func (s *Server) handleReconcile(c *gin.Context) {
	drifts, err := s.router.ReconcileNow(c.Request.Context())
	if err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"drifts": drifts})
}

func (s *Server) handleOrders(c *gin.Context) {
	if s.ledger == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "ledger not enabled"})
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))
	orders, err := s.ledger.Orders(c.Request.Context(), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"orders": orders})
}

func (s *Server) orderID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid order id"})
		return uuid.Nil, false
	}
	return id, true
}

func (s *Server) handleOrderEvents(c *gin.Context) {
	if s.ledger == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "ledger not enabled"})
		return
	}
	id, ok := s.orderID(c)
	if !ok {
		return
	}
	events, err := s.ledger.Events(c.Request.Context(), id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"events": events})
}

func (s *Server) handleOrderFills(c *gin.Context) {
	if s.ledger == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "ledger not enabled"})
		return
	}
	id, ok := s.orderID(c)
	if !ok {
		return
	}
	fills, err := s.ledger.Fills(c.Request.Context(), id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"fills": fills})
}

func (s *Server) handleDatasetInfo(c *gin.Context) {
	if s.bars == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "bar store not enabled"})
		return
	}
	symbol := c.Query("symbol")
	tfRaw := c.Query("timeframe")
	if symbol == "" || tfRaw == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "symbol and timeframe are required"})
		return
	}
	tf, err := domain.ParseTimeframe(tfRaw)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	info, err := s.bars.Info(c.Request.Context(), symbol, tf)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"dataset": info})
}

func (s *Server) handleCandles(c *gin.Context) {
	if s.bars == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "bar store not enabled"})
		return
	}
	symbol := c.Query("symbol")
	tfRaw := c.Query("timeframe")
	if symbol == "" || tfRaw == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "symbol and timeframe are required"})
		return
	}
	tf, err := domain.ParseTimeframe(tfRaw)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	startTS, _ := strconv.ParseInt(c.Query("start_ts"), 10, 64)
	endTS, _ := strconv.ParseInt(c.Query("end_ts"), 10, 64)

	var bars []domain.Bar
	if startTS == 0 && endTS == 0 {
		bars, err = s.bars.AllBars(c.Request.Context(), symbol, tf)
	} else {
		bars, err = s.bars.RangeBars(c.Request.Context(), symbol, tf, time.Unix(startTS, 0).UTC(), time.Unix(endTS, 0).UTC())
	}
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"candles": bars})
}

func (s *Server) handleRunStart(c *gin.Context) {
	var req backtest.RunRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	id, err := s.backtests.RunBacktest(c.Request.Context(), req)
	if err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"run_id": id})
}

func (s *Server) handleRunList(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	runs, err := s.backtests.Runs().ListRuns(c.Request.Context(), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"runs": runs})
}

func (s *Server) handleRunDetail(c *gin.Context) {
	run, err := s.backtests.Runs().GetRun(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"run": run})
}

// Handler exposes the gin engine for tests.
func (s *Server) Handler() http.Handler { return s.engine }

// Start serves until ctx is cancelled or the listener fails.
func (s *Server) Start(ctx context.Context) error {
	srv := &http.Server{Addr: s.addr, Handler: s.engine}
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
