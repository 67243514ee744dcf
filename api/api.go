// Package api exposes the hybrid orchestrator over HTTP with gin, using
// the same gin.H/c.Param/c.ShouldBindJSON idiom for strategy CRUD, re-themed
// onto Specs, watchlist management, gate status, backtests, and the
// event stream.
package api

import (
	"context"
	"net/http"
	"time"

	"hybridtrader/backtest"
	"hybridtrader/fetch"
	"hybridtrader/orchestrator"
	"hybridtrader/spec"
	"hybridtrader/store"

	"github.com/gin-gonic/gin"
)

// Server wires the orchestrator, Spec store, and history fetcher to a
// gin.Engine.
type Server struct {
	orc   *orchestrator.Orchestrator
	store *store.SpecStore
	fetch *fetch.Client
}

// NewServer builds a Server ready to have its routes registered.
func NewServer(orc *orchestrator.Orchestrator, st *store.SpecStore, fc *fetch.Client) *Server {
	return &Server{orc: orc, store: st, fetch: fc}
}

// Register attaches every route to router.
func (s *Server) Register(router gin.IRouter) {
	router.GET("/healthz", s.handleHealthz)
	router.GET("/specs/:ticker", s.handleListSpecs)
	router.POST("/specs", s.handleCreateSpec)
	router.POST("/specs/:id/activate", s.handleActivateSpec)
	router.POST("/watchlist", s.handleWatch)
	router.DELETE("/watchlist/:ticker", s.handleUnwatch)
	router.GET("/mode/:ticker", s.handleMode)
	router.POST("/resume/:ticker", s.handleResume)
	router.POST("/backtests/:id", s.handleRunBacktest)
	router.GET("/events", s.handleEvents)
	RegisterWebsocket(router, s.orc.Events())
}

func (s *Server) handleHealthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) handleListSpecs(c *gin.Context) {
	ticker := c.Param("ticker")
	specs, err := s.store.List(ticker)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"specs": specs})
}

type createSpecRequest struct {
	Ticker           string                 `json:"ticker"`
	Timeframe        string                 `json:"timeframe"`
	DataRequirements spec.DataRequirements  `json:"data_requirements"`
	Signals          []spec.Signal          `json:"signals"`
	RiskParams       spec.RiskParameters    `json:"risk_params"`
	SourceQuery      string                 `json:"source_query"`
	TTLSeconds       int                    `json:"ttl_seconds"`
}

// handleCreateSpec accepts a manually-authored Spec, compiling and
// persisting it with the "manual" Source variant, letting an operator
// post JSON the same way the LLM planner would produce one.
func (s *Server) handleCreateSpec(c *gin.Context) {
	var req createSpecRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	ttl := time.Duration(req.TTLSeconds) * time.Second
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	st, err := spec.New(req.Ticker, req.Timeframe, req.DataRequirements, req.Signals, req.RiskParams, req.SourceQuery, spec.SourceManual, ttl)
	if err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
		return
	}
	if err := s.store.Create(st); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"spec": st})
}

func (s *Server) handleActivateSpec(c *gin.Context) {
	id := c.Param("id")
	st, err := s.store.Get(id)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "spec not found"})
		return
	}
	if err := s.store.SetActive(st.Ticker, id); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"activated": id})
}

func (s *Server) handleWatch(c *gin.Context) {
	var req struct {
		Ticker string `json:"ticker"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || req.Ticker == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "ticker is required"})
		return
	}
	s.orc.Watch(req.Ticker)
	c.JSON(http.StatusOK, gin.H{"watching": req.Ticker})
}

func (s *Server) handleUnwatch(c *gin.Context) {
	ticker := c.Param("ticker")
	s.orc.Unwatch(ticker)
	c.JSON(http.StatusOK, gin.H{"unwatched": ticker})
}

func (s *Server) handleMode(c *gin.Context) {
	ticker := c.Param("ticker")
	c.JSON(http.StatusOK, gin.H{"ticker": ticker, "mode": s.orc.Mode(ticker)})
}

func (s *Server) handleResume(c *gin.Context) {
	ticker := c.Param("ticker")
	if err := s.orc.Resume(ticker); err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"resumed": ticker})
}

func (s *Server) handleRunBacktest(c *gin.Context) {
	id := c.Param("id")
	st, err := s.store.Get(id)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "spec not found"})
		return
	}

	var req struct {
		InitialCapital float64 `json:"initial_capital"`
		Slippage       float64 `json:"slippage"`
		CommissionRate float64 `json:"commission_rate"`
	}
	_ = c.ShouldBindJSON(&req)
	if req.InitialCapital <= 0 {
		req.InitialCapital = 100000
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 30*time.Second)
	defer cancel()

	result, err := s.orc.RunBacktestWithEscalation(ctx, st, s.fetch.FetchRange, backtest.Config{
		InitialCapital: req.InitialCapital,
		Slippage:       req.Slippage,
		CommissionRate: req.CommissionRate,
	})
	if err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"result": result})
}

// handleEvents serves the bounded in-memory ring for polling clients,
// alongside RegisterWebsocket's live push.
func (s *Server) handleEvents(c *gin.Context) {
	n := 100
	events := s.orc.Events().Recent(n)
	c.JSON(http.StatusOK, gin.H{"events": events})
}
