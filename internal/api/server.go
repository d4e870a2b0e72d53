// Package api exposes the simulation controller over HTTP.
package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"greencart-sim/internal/broadcast"
	"greencart-sim/internal/sim"
)

// Options wires a Server. Controller is required.
type Options struct {
	Addr       string
	Controller *sim.Controller
	Gatherer   prometheus.Gatherer
	Logger     *slog.Logger
	Conn       broadcast.ConnOptions
}

type Server struct {
	ctl     *sim.Controller
	log     *slog.Logger
	conn    broadcast.ConnOptions
	engine  *gin.Engine
	srv     *http.Server
	started time.Time

	// cancelled on Shutdown to close websocket connections
	wsCtx    context.Context
	wsCancel context.CancelFunc
}

func NewServer(opts Options) *Server {
	s := &Server{
		ctl:     opts.Controller,
		log:     opts.Logger,
		conn:    opts.Conn,
		started: time.Now(),
	}
	s.wsCtx, s.wsCancel = context.WithCancel(context.Background())
	if s.log == nil {
		s.log = slog.Default()
	}
	if s.conn.Logger == nil {
		s.conn.Logger = s.log
	}

	r := gin.New()
	r.Use(gin.Recovery(), requestLogger(s.log))
	s.routes(r, opts.Gatherer)
	s.engine = r
	s.srv = &http.Server{
		Addr:              opts.Addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

func (s *Server) routes(r *gin.Engine, g prometheus.Gatherer) {
	r.GET("/api/health", s.handleHealth)
	if g != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(g, promhttp.HandlerOpts{})))
	}
	r.GET("/ws", actor(), s.handleWebsocket)

	sims := r.Group("/api/simulations", actor())
	sims.POST("/start", requireRole(RoleAdmin, RoleManager), s.handleStart)
	sims.GET("", requireRole(RoleAdmin, RoleManager), s.handleList)
	sims.GET("/:runId", requireRole(RoleAdmin, RoleManager), s.handleGet)
	sims.POST("/:runId/stop", requireRole(RoleAdmin, RoleManager), s.handleStop)
	sims.GET("/:runId/status", requireRole(RoleAdmin, RoleManager, RoleDispatcher), s.handleStatus)
	sims.GET("/:runId/results", requireRole(RoleAdmin, RoleManager, RoleDispatcher), s.handleResults)
}

// Handler returns the HTTP handler, mainly for tests.
func (s *Server) Handler() http.Handler { return s.engine }

// Start listens on the configured address until Shutdown is called.
func (s *Server) Start() error {
	s.log.Info("api listening", "addr", s.srv.Addr)
	if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting connections and waits for in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	s.wsCancel()
	return s.srv.Shutdown(ctx)
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":     "ok",
		"activeRuns": len(s.ctl.ActiveRuns()),
		"uptime":     time.Since(s.started).Round(time.Second).String(),
	})
}

func (s *Server) handleWebsocket(c *gin.Context) {
	if err := broadcast.Serve(s.wsCtx, s.ctl.Hub(), c.Writer, c.Request, s.conn, c.Query("runId")); err != nil {
		s.log.Warn("websocket upgrade failed", "err", err)
	}
}
