// Package server provides the HTTP server of the edge server.
package server

import (
	"context"
	"fmt"
	"net/http"

	"github.com/devrev/tierroute/internal/config"
	apperrors "github.com/devrev/tierroute/internal/errors"
	"github.com/devrev/tierroute/internal/handler"
	"github.com/devrev/tierroute/internal/health"
	"github.com/devrev/tierroute/internal/metrics"
	"github.com/devrev/tierroute/internal/middleware"
	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

// Server represents the HTTP server.
type Server struct {
	router       *mux.Router
	httpServer   *http.Server
	handlers     *handler.Handlers
	healthCheck  *health.HealthChecker
	errorHandler *apperrors.Handler
	metrics      *metrics.Metrics
	logger       *zap.Logger
	cfg          *config.Config
}

// NewServer creates a new HTTP server. Metrics may be nil.
func NewServer(cfg *config.Config, handlers *handler.Handlers, healthCheck *health.HealthChecker, errorHandler *apperrors.Handler, m *metrics.Metrics, logger *zap.Logger) *Server {
	router := mux.NewRouter()

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	s := &Server{
		router:       router,
		httpServer:   httpServer,
		handlers:     handlers,
		healthCheck:  healthCheck,
		errorHandler: errorHandler,
		metrics:      m,
		logger:       logger,
		cfg:          cfg,
	}
	s.setupRoutes()
	return s
}

// setupRoutes configures all HTTP routes.
func (s *Server) setupRoutes() {
	middlewareChain := []func(http.Handler) http.Handler{
		middleware.Recovery(s.logger),
		middleware.RequestID,
		middleware.Logging(s.logger),
	}
	if s.metrics != nil {
		middlewareChain = append(middlewareChain, middleware.Metrics(s.metrics))
	}

	if s.cfg.RateLimiter.Enabled {
		rateLimiter := middleware.NewRateLimiter(
			s.cfg.RateLimiter.RequestsPerSecond,
			s.cfg.RateLimiter.BurstSize,
			s.logger,
		)
		middlewareChain = append(middlewareChain, rateLimiter.Limit)
	}

	s.router.Use(middleware.Chain(middlewareChain...))

	// Probes
	s.router.HandleFunc("/health", s.healthCheck.LivenessHandler).Methods(http.MethodGet)
	s.router.HandleFunc("/ready", s.healthCheck.ReadinessHandler).Methods(http.MethodGet)

	v1 := s.router.PathPrefix("/v1").Subrouter()
	v1.HandleFunc("/heartbeat", s.handlers.Heartbeat).Methods(http.MethodPost)
	v1.HandleFunc("/query", s.handlers.Query).Methods(http.MethodPost)
	v1.HandleFunc("/devices", s.handlers.ListDevices).Methods(http.MethodGet)
	v1.HandleFunc("/devices/{device_id}", s.handlers.GetDevice).Methods(http.MethodGet)
	v1.HandleFunc("/cache/stats", s.handlers.CacheStats).Methods(http.MethodGet)

	s.router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.errorHandler.WriteErrorResponse(w, r, http.StatusNotFound, apperrors.ErrorResponse{
			ErrorCode: apperrors.ErrCodeMalformedInput.String(),
			Message:   "endpoint not found",
		})
	})

	s.router.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.errorHandler.WriteErrorResponse(w, r, http.StatusMethodNotAllowed, apperrors.ErrorResponse{
			ErrorCode: apperrors.ErrCodeMalformedInput.String(),
			Message:   "method not allowed",
		})
	})
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	s.logger.Info("Starting HTTP server",
		zap.Int("port", s.cfg.Server.Port),
	)

	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down HTTP server")
	return s.httpServer.Shutdown(ctx)
}

// GetHandler returns the http.Handler for the server.
func (s *Server) GetHandler() http.Handler {
	return s.router
}
