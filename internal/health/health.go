// Package health provides health check endpoints for the edge server.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/devrev/tierroute/internal/metrics"
	"go.uber.org/zap"
)

// Pinger is a dependency whose availability gates readiness
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingFunc adapts a function to Pinger
type PingFunc func(ctx context.Context) error

// Ping calls f
func (f PingFunc) Ping(ctx context.Context) error { return f(ctx) }

// Config holds health check configuration
type Config struct {
	Interval time.Duration
	Timeout  time.Duration
}

// HealthChecker runs readiness checks and publishes the result
type HealthChecker struct {
	config   *Config
	checks   map[string]Pinger
	metrics  *metrics.Metrics
	grpc     *GRPCServer
	clock    clock.Clock
	logger   *zap.Logger
	mu       sync.RWMutex
	ready    bool
	draining bool
	results  map[string]string
}

// HealthStatus represents the health status response
type HealthStatus struct {
	Status    string            `json:"status"`
	Timestamp int64             `json:"timestamp"`
	Checks    map[string]string `json:"checks,omitempty"`
}

// NewHealthChecker creates a new health checker. Metrics and grpc may be nil.
func NewHealthChecker(cfg *Config, m *metrics.Metrics, grpc *GRPCServer, logger *zap.Logger) *HealthChecker {
	if cfg == nil {
		cfg = &Config{}
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 5 * time.Second
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 2 * time.Second
	}
	return &HealthChecker{
		config:  cfg,
		checks:  make(map[string]Pinger),
		metrics: m,
		grpc:    grpc,
		clock:   clock.New(),
		logger:  logger,
	}
}

// AddCheck registers a named readiness dependency
func (h *HealthChecker) AddCheck(name string, p Pinger) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.checks[name] = p
}

// Check runs every check once and publishes the result
func (h *HealthChecker) Check(ctx context.Context) bool {
	h.mu.RLock()
	names := make([]string, 0, len(h.checks))
	checks := make(map[string]Pinger, len(h.checks))
	for name, p := range h.checks {
		names = append(names, name)
		checks[name] = p
	}
	h.mu.RUnlock()
	sort.Strings(names)

	ctx, cancel := context.WithTimeout(ctx, h.config.Timeout)
	defer cancel()

	results := make(map[string]string, len(names))
	healthy := true
	for _, name := range names {
		if err := checks[name].Ping(ctx); err != nil {
			h.logger.Warn("Health check failed",
				zap.String("check", name),
				zap.Error(err))
			results[name] = "unhealthy: " + err.Error()
			healthy = false
			continue
		}
		results[name] = "healthy"
	}

	h.mu.Lock()
	if h.draining {
		healthy = false
	}
	h.ready = healthy
	h.results = results
	h.mu.Unlock()

	h.publish(healthy)
	return healthy
}

func (h *HealthChecker) publish(healthy bool) {
	if h.metrics != nil {
		h.metrics.SetHealthStatus(healthy)
	}
	if h.grpc != nil {
		h.grpc.SetServing(healthy)
	}
}

// Run checks periodically until ctx is done
func (h *HealthChecker) Run(ctx context.Context) error {
	h.Check(ctx)

	ticker := h.clock.Ticker(h.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			h.Check(ctx)
		}
	}
}

// Drain marks the server not ready for the rest of its life
func (h *HealthChecker) Drain() {
	h.mu.Lock()
	h.draining = true
	h.ready = false
	h.mu.Unlock()

	h.publish(false)
}

// IsReady returns the current readiness status
func (h *HealthChecker) IsReady() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.ready
}

// LivenessHandler handles GET /health requests
func (h *HealthChecker) LivenessHandler(w http.ResponseWriter, r *http.Request) {
	writeStatus(w, http.StatusOK, HealthStatus{
		Status:    "alive",
		Timestamp: h.clock.Now().Unix(),
	})
}

// ReadinessHandler handles GET /ready requests. Every call runs the checks afresh.
func (h *HealthChecker) ReadinessHandler(w http.ResponseWriter, r *http.Request) {
	healthy := h.Check(r.Context())

	h.mu.RLock()
	checks := h.results
	h.mu.RUnlock()

	status := HealthStatus{
		Timestamp: h.clock.Now().Unix(),
		Checks:    checks,
	}
	if healthy {
		status.Status = "ready"
		writeStatus(w, http.StatusOK, status)
		return
	}
	status.Status = "not_ready"
	writeStatus(w, http.StatusServiceUnavailable, status)
}

func writeStatus(w http.ResponseWriter, code int, status HealthStatus) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(status)
}
