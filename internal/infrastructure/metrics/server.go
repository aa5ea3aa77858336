// Package metrics serves Prometheus metrics and the risk snapshot surface
package metrics

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"risk_engine/internal/core"
	"risk_engine/internal/index"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Server handles Prometheus metrics export plus the read-only diagnostic
// endpoints for the risk indices
type Server struct {
	port     int
	logger   core.ILogger
	registry *index.Registry
	health   core.IHealthMonitor
	srv      *http.Server
}

// NewServer creates a new metrics server. registry and health are optional;
// their endpoints return 404 when absent.
func NewServer(port int, logger core.ILogger, registry *index.Registry, health core.IHealthMonitor) *Server {
	return &Server{
		port:     port,
		logger:   logger.WithField("component", "metrics_server"),
		registry: registry,
		health:   health,
	}
}

// Start starts the metrics HTTP server
func (s *Server) Start() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	if s.registry != nil {
		mux.HandleFunc("/debug/risk", s.handleRiskSnapshot)
	}
	if s.health != nil {
		mux.HandleFunc("/healthz", s.handleHealth)
	}

	s.srv = &http.Server{
		Addr:    fmt.Sprintf(":%d", s.port),
		Handler: mux,
	}

	go func() {
		s.logger.Info("Starting metrics server", "port", s.port)
		if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("Metrics server failed", "error", err)
		}
	}()
}

// handleRiskSnapshot dumps every symbol index: entries plus per-dimension
// bucket trees with counts. Reads only; safe alongside the evaluation loop.
func (s *Server) handleRiskSnapshot(w http.ResponseWriter, _ *http.Request) {
	snaps := s.registry.Snapshots()
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(snaps); err != nil {
		s.logger.Warn("Failed to encode risk snapshot", "error", err)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	status := s.health.GetStatus()
	w.Header().Set("Content-Type", "application/json")
	if !s.health.IsHealthy() {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	if err := json.NewEncoder(w).Encode(status); err != nil {
		s.logger.Warn("Failed to encode health status", "error", err)
	}
}

// Stop gracefully stops the metrics server
func (s *Server) Stop(ctx context.Context) error {
	if s.srv == nil {
		return nil
	}
	s.logger.Info("Stopping metrics server")
	return s.srv.Shutdown(ctx)
}
