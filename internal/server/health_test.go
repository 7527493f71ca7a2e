package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"go.uber.org/zap"
)

// mockHealthChecker implements HealthChecker for testing
type mockHealthChecker struct {
	liveness  bool
	readiness bool
	status    map[string]string
}

func (m *mockHealthChecker) Liveness() bool {
	return m.liveness
}

func (m *mockHealthChecker) Readiness(ctx context.Context) bool {
	return m.readiness
}

func (m *mockHealthChecker) GetStatus() map[string]string {
	return m.status
}

func decodeHealth(t *testing.T, w *httptest.ResponseRecorder) HealthResponse {
	t.Helper()
	var response HealthResponse
	if err := json.NewDecoder(w.Body).Decode(&response); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	return response
}

func TestLivenessHandler(t *testing.T) {
	tests := []struct {
		name       string
		liveness   bool
		statusCode int
		status     string
	}{
		{name: "alive", liveness: true, statusCode: http.StatusOK, status: "alive"},
		{name: "not alive", liveness: false, statusCode: http.StatusServiceUnavailable, status: "not alive"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler := LivenessHandler(&mockHealthChecker{liveness: tt.liveness}, zap.NewNop())
			req := httptest.NewRequest(http.MethodGet, "/health/live", nil)
			w := httptest.NewRecorder()

			handler(w, req)

			if w.Code != tt.statusCode {
				t.Errorf("status code = %d, want %d", w.Code, tt.statusCode)
			}
			if ct := w.Header().Get("Content-Type"); ct != "application/json" {
				t.Errorf("Content-Type = %s", ct)
			}
			if response := decodeHealth(t, w); response.Status != tt.status {
				t.Errorf("status = %s, want %s", response.Status, tt.status)
			}
		})
	}
}

func TestReadinessHandler(t *testing.T) {
	tests := []struct {
		name       string
		readiness  bool
		statusCode int
		status     string
	}{
		{name: "ready", readiness: true, statusCode: http.StatusOK, status: "ready"},
		{name: "not ready", readiness: false, statusCode: http.StatusServiceUnavailable, status: "not ready"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			checker := &mockHealthChecker{
				readiness: tt.readiness,
				status:    map[string]string{"phase": "running", "run_id": "abc"},
			}
			handler := ReadinessHandler(checker, zap.NewNop())
			req := httptest.NewRequest(http.MethodGet, "/health/ready", nil)
			w := httptest.NewRecorder()

			handler(w, req)

			if w.Code != tt.statusCode {
				t.Errorf("status code = %d, want %d", w.Code, tt.statusCode)
			}
			response := decodeHealth(t, w)
			if response.Status != tt.status {
				t.Errorf("status = %s, want %s", response.Status, tt.status)
			}
			if len(response.Checks) != 2 {
				t.Errorf("len(checks) = %d, want 2", len(response.Checks))
			}
		})
	}
}

func TestRunHealth_Phases(t *testing.T) {
	health := NewRunHealth("run-42")
	ctx := context.Background()

	steps := []struct {
		phase string
		err   error
		live  bool
		ready bool
	}{
		{phase: PhaseStarting, live: true, ready: false},
		{phase: PhaseRunning, live: true, ready: true},
		{phase: PhaseFinished, live: true, ready: false},
		{phase: PhaseFailed, err: errors.New("write failed"), live: false, ready: false},
	}

	for _, step := range steps {
		t.Run(step.phase, func(t *testing.T) {
			health.SetPhase(step.phase, step.err)

			if health.Liveness() != step.live {
				t.Errorf("Liveness() = %v, want %v", health.Liveness(), step.live)
			}
			if health.Readiness(ctx) != step.ready {
				t.Errorf("Readiness() = %v, want %v", health.Readiness(ctx), step.ready)
			}

			status := health.GetStatus()
			if status["run_id"] != "run-42" || status["phase"] != step.phase {
				t.Errorf("GetStatus() = %v", status)
			}
			if step.err != nil && status["error"] != step.err.Error() {
				t.Errorf("error = %q, want %q", status["error"], step.err.Error())
			}
		})
	}
}
