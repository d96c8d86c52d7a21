// Package server exposes the dashboard HTTP API and the websocket feed.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/suhyunle/coin-trader/internal/domain"
	"github.com/suhyunle/coin-trader/internal/server/handler"
	"github.com/suhyunle/coin-trader/internal/server/middleware"
	"github.com/suhyunle/coin-trader/internal/server/ws"
)

// Config holds the HTTP server settings.
type Config struct {
	Addr        string
	CORSOrigins []string
	// APIKey guards the mutating routes. Empty disables auth.
	APIKey string
	// RateLimit caps requests per client IP per minute when a limiter is
	// supplied. Zero disables it.
	RateLimit int
}

// Handlers groups the route handlers. Reports may be nil.
type Handlers struct {
	Health  *handler.HealthHandler
	Status  *handler.StatusHandler
	History *handler.HistoryHandler
	Control *handler.ControlHandler
	Reports *handler.ReportHandler
}

// Server is the dashboard API server.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer registers every route and wraps the mux in CORS, logging and
// optional rate limiting. Only POST routes require the API key.
func NewServer(cfg Config, h Handlers, hub *ws.Hub, limiter domain.RateLimiter, logger *slog.Logger) *Server {
	logger = logger.With(slog.String("component", "http"))
	mux := http.NewServeMux()
	auth := middleware.Auth(cfg.APIKey)

	mux.HandleFunc("GET /api/health", h.Health.HealthCheck)
	mux.HandleFunc("GET /api/status", h.Status.GetStatus)
	mux.HandleFunc("GET /api/position", h.Status.GetPosition)
	mux.HandleFunc("GET /api/events", h.Status.ListEvents)
	mux.HandleFunc("GET /api/trades", h.History.ListTrades)
	mux.HandleFunc("GET /api/candles", h.History.ListCandles)
	mux.HandleFunc("GET /api/audit", h.History.ListAudit)
	if h.Reports != nil {
		mux.HandleFunc("GET /api/reports", h.Reports.ListReports)
	}

	mux.Handle("POST /api/auto", auth(http.HandlerFunc(h.Control.SetAuto)))
	mux.Handle("POST /api/kill", auth(http.HandlerFunc(h.Control.Kill)))
	mux.Handle("POST /api/kill/reset", auth(http.HandlerFunc(h.Control.ResetKill)))

	if hub != nil {
		mux.HandleFunc("GET /ws", hub.HandleWS)
	}

	var root http.Handler = mux
	root = middleware.RateLimit(limiter, cfg.RateLimit, time.Minute)(root)
	root = middleware.Logging(logger)(root)
	root = middleware.CORS(cfg.CORSOrigins)(root)

	return &Server{
		httpServer: &http.Server{
			Addr:              cfg.Addr,
			Handler:           root,
			ReadHeaderTimeout: 5 * time.Second,
			ReadTimeout:       15 * time.Second,
			WriteTimeout:      30 * time.Second,
			IdleTimeout:       60 * time.Second,
		},
		logger: logger,
	}
}

// Handler returns the wrapped root handler.
func (s *Server) Handler() http.Handler { return s.httpServer.Handler }

// Start blocks serving requests until Shutdown.
func (s *Server) Start() error {
	s.logger.Info("listening", slog.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server: listen: %w", err)
	}
	return nil
}

// Shutdown drains in-flight requests until ctx expires.
func (s *Server) Shutdown(ctx context.Context) error {
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}

// Run serves until ctx is cancelled, then shuts down with a grace period.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() { errCh <- s.Start() }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		return s.Shutdown(shutdownCtx)
	}
}
