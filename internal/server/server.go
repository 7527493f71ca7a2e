// Package server implements the HTTP server for metrics and health checks.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// DefaultMetricsPath is where metrics are served when no path is configured.
const DefaultMetricsPath = "/metrics"

// HealthChecker interface for checking component health.
type HealthChecker interface {
	Liveness() bool
	Readiness(ctx context.Context) bool
	GetStatus() map[string]string
}

// Config contains HTTP server configuration.
type Config struct {
	Addr        string
	MetricsPath string
}

// Server represents the HTTP server for health and metrics.
type Server struct {
	httpServer *http.Server
	listener   net.Listener
	logger     *zap.Logger
	done       chan struct{}
}

// NewServer creates a new HTTP server.
func NewServer(
	config Config,
	healthChecker HealthChecker,
	registry *prometheus.Registry,
	logger *zap.Logger,
) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	metricsPath := config.MetricsPath
	if metricsPath == "" {
		metricsPath = DefaultMetricsPath
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/health/live", LivenessHandler(healthChecker, logger))
	mux.HandleFunc("/health/ready", ReadinessHandler(healthChecker, logger))
	mux.Handle(metricsPath, promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	return &Server{
		httpServer: &http.Server{
			Addr:         config.Addr,
			Handler:      mux,
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 10 * time.Second,
		},
		logger: logger,
		done:   make(chan struct{}),
	}
}

// Start binds the listen address and serves in the background. A bind
// failure is returned to the caller.
func (s *Server) Start() error {
	listener, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.httpServer.Addr, err)
	}
	s.listener = listener

	s.logger.Info("starting metrics server", zap.String("addr", listener.Addr().String()))
	go func() {
		defer close(s.done)
		if err := s.httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("metrics server failed", zap.Error(err))
		}
	}()

	return nil
}

// Addr returns the bound address, or the configured one before Start.
func (s *Server) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.httpServer.Addr
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Debug("shutting down metrics server")

	if err := s.httpServer.Shutdown(ctx); err != nil {
		s.logger.Error("error shutting down server", zap.Error(err))
		return err
	}
	if s.listener != nil {
		<-s.done
	}
	return nil
}
