// Package api exposes the engine over HTTP.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/newthinker/arena/internal/api/handler"
	"github.com/newthinker/arena/internal/api/middleware"
	"github.com/newthinker/arena/internal/api/response"
	"github.com/newthinker/arena/internal/metrics"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// BasePath prefixes every trading route.
const BasePath = "/api/trading"

// Server represents the HTTP server
type Server struct {
	httpServer *http.Server
	logger     *zap.Logger
	router     *mux.Router
	started    time.Time
	version    string
}

// Config holds server configuration
type Config struct {
	Host        string
	Port        int
	APIKey      string
	MetricsPath string
	Version     string
}

// Dependencies are the handlers and collectors the server mounts.
// Metrics is optional.
type Dependencies struct {
	Handler *handler.Handler
	Metrics *metrics.Registry
}

// NewServer creates a new HTTP server
func NewServer(cfg Config, deps Dependencies, logger *zap.Logger) (*Server, error) {
	if deps.Handler == nil {
		return nil, errors.New("api handler is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	r := mux.NewRouter()
	s := &Server{
		httpServer: &http.Server{
			Addr:        fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
			Handler:     r,
			ReadTimeout: 15 * time.Second,
			// no write timeout: watchlist streams outlive any fixed bound
			IdleTimeout: 60 * time.Second,
		},
		logger:  logger,
		router:  r,
		started: time.Now(),
		version: cfg.Version,
	}

	r.Use(metrics.LoggingMiddleware(logger))
	if deps.Metrics != nil {
		r.Use(metrics.HTTPMiddleware(deps.Metrics))
		path := cfg.MetricsPath
		if path == "" {
			path = "/metrics"
		}
		r.Handle(path, promhttp.HandlerFor(deps.Metrics, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	}
	r.HandleFunc("/api/health", s.handleHealth).Methods(http.MethodGet)

	api := r.PathPrefix(BasePath).Subrouter()
	api.Use(middleware.APIKeyAuth(cfg.APIKey), middleware.User)
	deps.Handler.Register(api)

	return s, nil
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Addr is the configured listen address.
func (s *Server) Addr() string {
	return s.httpServer.Addr
}

// Start starts the HTTP server
func (s *Server) Start() error {
	s.logger.Info("starting HTTP server", zap.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP server")
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	response.JSON(w, http.StatusOK, map[string]any{
		"status":         "ok",
		"version":        s.version,
		"uptime_seconds": int64(time.Since(s.started).Seconds()),
	})
}
