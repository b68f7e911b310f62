// Package api exposes the metrics aggregator over HTTP for hosts and operators.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/ipfs-kit/perfmetrics/internal/metrics"
	"github.com/ipfs-kit/perfmetrics/pkg/errors"
)

// MetricsSource is the aggregator surface the API reads and records into.
type MetricsSource interface {
	ID() string
	SessionDuration() time.Duration
	GetOperationStats(operation string) metrics.OperationStats
	GetAllOperationStats() map[string]metrics.OperationStats
	OperationCounts() map[string]int64
	CacheSummary() metrics.CacheSummary
	BandwidthTotals() metrics.BandwidthTotals
	Errors() metrics.ErrorSummary
	AnalyzeMetrics() metrics.Analysis
	Reset()
	RecordOperationTime(operation string, elapsed time.Duration)
	RecordBandwidthUsage(direction metrics.Direction, size int64, source string) error
}

// HealthCheck probes one dependency, e.g. an archive backend.
type HealthCheck func(ctx context.Context) error

// Server provides the HTTP API
type Server struct {
	httpServer *http.Server
	router     *mux.Router
	handler    http.Handler
	source     MetricsSource
	exporter   *metrics.Exporter
	logger     *zap.Logger
	config     ServerConfig

	checksMu sync.RWMutex
	checks   map[string]HealthCheck
}

// ServerConfig configures the API server
type ServerConfig struct {
	Address      string        `yaml:"address" json:"address"`
	ReadTimeout  time.Duration `yaml:"read_timeout" json:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout" json:"write_timeout"`
	IdleTimeout  time.Duration `yaml:"idle_timeout" json:"idle_timeout"`

	// EnableCORS enables Cross-Origin Resource Sharing
	EnableCORS bool `yaml:"enable_cors" json:"enable_cors"`

	// EnableProfiling mounts pprof and runtime stats under /debug.
	EnableProfiling bool `yaml:"enable_profiling" json:"enable_profiling"`

	// CheckTimeout bounds each health check.
	CheckTimeout time.Duration `yaml:"check_timeout" json:"check_timeout"`
}

// DefaultServerConfig returns default server configuration
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Address:      "127.0.0.1:8090",
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
		CheckTimeout: 3 * time.Second,
	}
}

// NewServer creates a new API server. exporter may be nil, in which case /metrics is not served.
func NewServer(config ServerConfig, source MetricsSource, exporter *metrics.Exporter, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.CheckTimeout <= 0 {
		config.CheckTimeout = DefaultServerConfig().CheckTimeout
	}

	s := &Server{
		source:   source,
		exporter: exporter,
		logger:   logger.With(zap.String("component", "api")),
		config:   config,
		checks:   make(map[string]HealthCheck),
	}

	r := mux.NewRouter()
	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.respondError(w, http.StatusNotFound, "not found")
	})
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.respondError(w, http.StatusMethodNotAllowed, "method not allowed")
	})

	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/health/live", s.handleLiveness).Methods(http.MethodGet)
	r.HandleFunc("/stats", s.handleStats).Methods(http.MethodGet)
	r.HandleFunc("/stats/{operation}", s.handleOperationStats).Methods(http.MethodGet)
	r.HandleFunc("/analysis", s.handleAnalysis).Methods(http.MethodGet)
	r.HandleFunc("/reset", s.handleReset).Methods(http.MethodPost)
	r.HandleFunc("/info", s.handleInfo).Methods(http.MethodGet)
	if exporter != nil {
		r.HandleFunc("/metrics", s.handleMetrics).Methods(http.MethodGet)
	}
	if config.EnableProfiling {
		s.mountProfiling(r)
	}

	r.Use(s.loggingMiddleware, s.timingMiddleware)
	s.router = r

	// CORS wraps the router from outside: preflight OPTIONS requests match no
	// route, so router middleware would never see them.
	s.handler = r
	if config.EnableCORS {
		s.handler = corsMiddleware(r)
	}

	s.httpServer = &http.Server{
		Addr:              config.Address,
		Handler:           s.handler,
		ReadHeaderTimeout: config.ReadTimeout,
		ReadTimeout:       config.ReadTimeout,
		WriteTimeout:      config.WriteTimeout,
		IdleTimeout:       config.IdleTimeout,
	}

	return s
}

// Handler returns the router with all middleware applied.
func (s *Server) Handler() http.Handler { return s.handler }

// AddCheck registers a named dependency check reported by /health.
func (s *Server) AddCheck(name string, check HealthCheck) {
	s.checksMu.Lock()
	defer s.checksMu.Unlock()
	s.checks[name] = check
}

// Start serves until Shutdown is called; it then returns http.ErrServerClosed.
func (s *Server) Start() error {
	s.logger.Info("starting API server", zap.String("addr", s.config.Address))
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return errors.Wrap(err, errors.ErrCodeServerStart, "API server failed").
			WithComponent("api").
			WithDetail("addr", s.config.Address)
	}
	return http.ErrServerClosed
}

// StartBackground starts the server in a background goroutine
func (s *Server) StartBackground() {
	go func() {
		if err := s.Start(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("API server error", zap.Error(err))
		}
	}()
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down API server")
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.checksMu.RLock()
	names := make([]string, 0, len(s.checks))
	for name := range s.checks {
		names = append(names, name)
	}
	checks := make(map[string]HealthCheck, len(s.checks))
	for name, c := range s.checks {
		checks[name] = c
	}
	s.checksMu.RUnlock()
	sort.Strings(names)

	status := "healthy"
	results := make(map[string]string, len(names))
	for _, name := range names {
		ctx, cancel := context.WithTimeout(r.Context(), s.config.CheckTimeout)
		err := checks[name](ctx)
		cancel()
		if err != nil {
			status = "degraded"
			results[name] = err.Error()
			s.logger.Warn("health check failed", zap.String("check", name), zap.Error(err))
			continue
		}
		results[name] = "ok"
	}

	statusCode := http.StatusOK
	if status == "degraded" {
		statusCode = http.StatusPartialContent
	}

	s.respondJSON(w, statusCode, map[string]interface{}{
		"status":           status,
		"instance":         s.source.ID(),
		"session_duration": s.source.SessionDuration().Seconds(),
		"checks":           results,
		"timestamp":        time.Now(),
	})
}

func (s *Server) handleLiveness(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"alive":     true,
		"timestamp": time.Now(),
	})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"operations": s.source.GetAllOperationStats(),
		"counts":     s.source.OperationCounts(),
		"cache":      s.source.CacheSummary(),
		"bandwidth":  s.source.BandwidthTotals(),
		"errors":     s.source.Errors(),
		"timestamp":  time.Now(),
	})
}

func (s *Server) handleOperationStats(w http.ResponseWriter, r *http.Request) {
	// An operation never recorded reports {"count":0}, same as one with no retained samples.
	s.respondJSON(w, http.StatusOK, s.source.GetOperationStats(mux.Vars(r)["operation"]))
}

func (s *Server) handleAnalysis(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, s.source.AnalyzeMetrics())
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	s.source.Reset()
	s.logger.Info("metrics reset via API", zap.String("remote", r.RemoteAddr))
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"reset":     true,
		"timestamp": time.Now(),
	})
}

func (s *Server) handleInfo(w http.ResponseWriter, r *http.Request) {
	var endpoints []string
	_ = s.router.Walk(func(route *mux.Route, router *mux.Router, ancestors []*mux.Route) error {
		tpl, err := route.GetPathTemplate()
		if err != nil {
			return nil
		}
		methods, _ := route.GetMethods()
		endpoints = append(endpoints, strings.Join(methods, ",")+" "+tpl)
		return nil
	})

	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"service":   "perfmetricsd",
		"instance":  s.source.ID(),
		"endpoints": endpoints,
		"timestamp": time.Now(),
	})
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	body := s.exporter.GenerateLatest()
	w.Header().Set("Content-Type", metrics.TextContentType)
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(body); err != nil {
		s.logger.Debug("failed to write metrics response", zap.Error(err))
	}
}

func (s *Server) respondJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.Error("error encoding JSON response", zap.Error(err))
	}
}

func (s *Server) respondError(w http.ResponseWriter, statusCode int, message string) {
	s.respondJSON(w, statusCode, map[string]interface{}{
		"error":     message,
		"timestamp": time.Now(),
	})
}
