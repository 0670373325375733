package metrics

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// ServerConfig holds the listen address and paths for the metrics server.
// Empty paths fall back to /metrics and /health.
type ServerConfig struct {
	Port        int
	MetricsPath string
	HealthPath  string
}

// Check is the outcome of a single readiness probe.
type Check struct {
	Healthy bool   `json:"healthy"`
	Detail  string `json:"detail,omitempty"`
}

// HealthChecker probes one dependency. The wiring layer registers one per
// external dependency the engine cannot run without: a ledger ping, broker
// reachability.
type HealthChecker func() Check

// Server exposes the Prometheus registry plus health endpoints for the
// execution engine. /health reports per-dependency detail, /ready is the
// boolean form for orchestrators, /live only proves the process is up.
type Server struct {
	cfg        ServerConfig
	httpServer *http.Server
	startedAt  time.Time
	logger     *slog.Logger

	mu       sync.RWMutex
	checkers map[string]HealthChecker
}

// NewServer builds the server. Call RegisterHealthCheck before Start so the
// first probe already sees every dependency.
func NewServer(cfg ServerConfig, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.MetricsPath == "" {
		cfg.MetricsPath = "/metrics"
	}
	if cfg.HealthPath == "" {
		cfg.HealthPath = "/health"
	}

	s := &Server{
		cfg:       cfg,
		startedAt: time.Now(),
		logger:    logger,
		checkers:  make(map[string]HealthChecker),
	}

	mux := http.NewServeMux()
	mux.Handle(cfg.MetricsPath, promhttp.Handler())
	mux.HandleFunc(cfg.HealthPath, s.handleHealth)
	mux.HandleFunc("/ready", s.handleReady)
	mux.HandleFunc("/live", s.handleLive)

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// RegisterHealthCheck registers a named dependency probe. Re-registering a
// name replaces the previous checker.
func (s *Server) RegisterHealthCheck(name string, checker HealthChecker) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.checkers[name] = checker
}

// Start begins serving in the background.
func (s *Server) Start() error {
	s.logger.Info("starting metrics server",
		"port", s.cfg.Port,
		"metrics_path", s.cfg.MetricsPath,
		"health_path", s.cfg.HealthPath,
	)

	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("metrics server error", "err", err)
		}
	}()

	return nil
}

// Shutdown stops the server, honoring the context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down metrics server")
	return s.httpServer.Shutdown(ctx)
}

// runChecks probes every registered dependency. Checkers run outside the
// lock; a slow ledger ping must not block registration.
func (s *Server) runChecks() (map[string]Check, bool) {
	s.mu.RLock()
	checkers := make(map[string]HealthChecker, len(s.checkers))
	for name, c := range s.checkers {
		checkers[name] = c
	}
	s.mu.RUnlock()

	checks := make(map[string]Check, len(checkers))
	healthy := true
	for name, checker := range checkers {
		check := checker()
		checks[name] = check
		if !check.Healthy {
			healthy = false
		}
	}
	return checks, healthy
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	checks, healthy := s.runChecks()

	status := "ok"
	code := http.StatusOK
	if !healthy {
		status = "degraded"
		code = http.StatusServiceUnavailable
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(struct {
		Service       string           `json:"service"`
		Status        string           `json:"status"`
		UptimeSeconds int64            `json:"uptime_seconds"`
		Checks        map[string]Check `json:"checks"`
	}{
		Service:       "execd",
		Status:        status,
		UptimeSeconds: int64(s.Uptime().Seconds()),
		Checks:        checks,
	})
}

func (s *Server) handleReady(w http.ResponseWriter, _ *http.Request) {
	if _, healthy := s.runChecks(); !healthy {
		http.Error(w, "not ready", http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}

func (s *Server) handleLive(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("alive"))
}

// Uptime returns how long the server has been running.
func (s *Server) Uptime() time.Duration {
	return time.Since(s.startedAt)
}
