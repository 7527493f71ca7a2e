package server

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Run phases reported by RunHealth.
const (
	PhaseStarting = "starting"
	PhaseRunning  = "running"
	PhaseFinished = "finished"
	PhaseFailed   = "failed"
)

// Ensure implementation satisfies interface at compile time.
var _ HealthChecker = (*RunHealth)(nil)

// HealthResponse represents the health check response.
type HealthResponse struct {
	Status    string            `json:"status"`
	Timestamp string            `json:"timestamp"`
	Checks    map[string]string `json:"checks,omitempty"`
}

// RunHealth tracks the phase of a reblocking run. The process is live until
// the run fails and ready only while records are flowing.
type RunHealth struct {
	mu      sync.RWMutex
	runID   string
	phase   string
	started time.Time
	err     error
}

// NewRunHealth returns a RunHealth in the starting phase.
func NewRunHealth(runID string) *RunHealth {
	return &RunHealth{runID: runID, phase: PhaseStarting, started: time.Now()}
}

// SetPhase records a phase transition. err is kept for PhaseFailed.
func (h *RunHealth) SetPhase(phase string, err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.phase = phase
	h.err = err
}

// Phase returns the current phase.
func (h *RunHealth) Phase() string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.phase
}

// Liveness reports false once the run has failed.
func (h *RunHealth) Liveness() bool {
	return h.Phase() != PhaseFailed
}

// Readiness reports whether records are flowing.
func (h *RunHealth) Readiness(ctx context.Context) bool {
	return h.Phase() == PhaseRunning
}

// GetStatus returns the details shown by the readiness probe.
func (h *RunHealth) GetStatus() map[string]string {
	h.mu.RLock()
	defer h.mu.RUnlock()

	status := map[string]string{
		"run_id": h.runID,
		"phase":  h.phase,
		"uptime": time.Since(h.started).Truncate(time.Second).String(),
	}
	if h.err != nil {
		status["error"] = h.err.Error()
	}
	return status
}

// LivenessHandler returns a handler for liveness probes.
func LivenessHandler(checker HealthChecker, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status := "alive"
		statusCode := http.StatusOK

		if !checker.Liveness() {
			status = "not alive"
			statusCode = http.StatusServiceUnavailable
		}

		writeHealth(w, statusCode, HealthResponse{
			Status:    status,
			Timestamp: time.Now().UTC().Format(time.RFC3339),
		}, logger)
	}
}

// ReadinessHandler returns a handler for readiness probes.
func ReadinessHandler(checker HealthChecker, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status := "ready"
		statusCode := http.StatusOK

		if !checker.Readiness(r.Context()) {
			status = "not ready"
			statusCode = http.StatusServiceUnavailable
		}

		writeHealth(w, statusCode, HealthResponse{
			Status:    status,
			Timestamp: time.Now().UTC().Format(time.RFC3339),
			Checks:    checker.GetStatus(),
		}, logger)
	}
}

func writeHealth(w http.ResponseWriter, statusCode int, response HealthResponse, logger *zap.Logger) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(response); err != nil {
		logger.Error("failed to encode health response", zap.Error(err))
	}
}
