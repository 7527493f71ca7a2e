package server

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

func testRegistry() *prometheus.Registry {
	registry := prometheus.NewRegistry()
	counter := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "test_metric_total",
		Help: "Test metric",
	})
	registry.MustRegister(counter)
	counter.Inc()
	return registry
}

func TestServer_Routes(t *testing.T) {
	health := NewRunHealth("run-1")
	health.SetPhase(PhaseRunning, nil)

	tests := []struct {
		name       string
		path       string
		config     Config
		statusCode int
		contains   string
	}{
		{name: "default metrics path", path: "/metrics", statusCode: http.StatusOK, contains: "test_metric_total 1"},
		{name: "custom metrics path", path: "/prom", config: Config{MetricsPath: "/prom"}, statusCode: http.StatusOK, contains: "test_metric_total"},
		{name: "liveness", path: "/health/live", statusCode: http.StatusOK, contains: `"alive"`},
		{name: "readiness", path: "/health/ready", statusCode: http.StatusOK, contains: `"run-1"`},
		{name: "unknown", path: "/nope", statusCode: http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := NewServer(tt.config, health, testRegistry(), zap.NewNop())

			req := httptest.NewRequest(http.MethodGet, tt.path, nil)
			w := httptest.NewRecorder()
			server.httpServer.Handler.ServeHTTP(w, req)

			if w.Code != tt.statusCode {
				t.Errorf("status code = %d, want %d", w.Code, tt.statusCode)
			}
			if tt.contains != "" && !strings.Contains(w.Body.String(), tt.contains) {
				t.Errorf("body does not contain %q:\n%s", tt.contains, w.Body.String())
			}
		})
	}
}

func TestServer_StartAndShutdown(t *testing.T) {
	server := NewServer(Config{Addr: "127.0.0.1:0"}, NewRunHealth("run"), testRegistry(), zap.NewNop())

	if err := server.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	resp, err := http.Get("http://" + server.Addr() + "/metrics")
	if err != nil {
		t.Fatalf("GET /metrics error = %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK || !strings.Contains(string(body), "test_metric_total") {
		t.Errorf("GET /metrics = %d\n%s", resp.StatusCode, body)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		t.Errorf("Shutdown() error = %v", err)
	}

	if _, err := http.Get("http://" + server.Addr() + "/metrics"); err == nil {
		t.Error("server still answering after Shutdown")
	}
}

func TestServer_StartBindFailure(t *testing.T) {
	first := NewServer(Config{Addr: "127.0.0.1:0"}, NewRunHealth("a"), testRegistry(), zap.NewNop())
	if err := first.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer first.Shutdown(context.Background())

	second := NewServer(Config{Addr: first.Addr()}, NewRunHealth("b"), testRegistry(), zap.NewNop())
	if err := second.Start(); err == nil {
		second.Shutdown(context.Background())
		t.Fatal("expected bind error for an address already in use")
	}
}

func TestServer_ShutdownWithoutStart(t *testing.T) {
	server := NewServer(Config{Addr: "127.0.0.1:0"}, NewRunHealth("run"), testRegistry(), nil)
	if err := server.Shutdown(context.Background()); err != nil {
		t.Errorf("Shutdown() error = %v", err)
	}
	if server.Addr() != "127.0.0.1:0" {
		t.Errorf("Addr() = %s", server.Addr())
	}
}
