package http

import (
	"context"
	"net/http"
	"runtime"
	"time"

	"emotion-detector/pkg/errors"
	"emotion-detector/pkg/model"
	"emotion-detector/pkg/version"
)

// HealthStatus represents the health status of the service
type HealthStatus struct {
	Status    string                 `json:"status"`
	Timestamp string                 `json:"timestamp"`
	Uptime    string                 `json:"uptime"`
	Version   string                 `json:"version"`
	Checks    map[string]CheckResult `json:"checks"`
	System    SystemInfo             `json:"system"`
}

// CheckResult represents an individual health check result
type CheckResult struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// SystemInfo contains system resource information
type SystemInfo struct {
	GoRoutines int    `json:"goroutines"`
	MemoryMB   uint64 `json:"memory_mb"`
	CPUCount   int    `json:"cpu_count"`
}

// HealthHandler reports the model state and decoder availability. A failed
// model makes the service unhealthy; a missing ffmpeg only degrades it,
// since WAV uploads still work.
func (s *Server) HealthHandler(w http.ResponseWriter, r *http.Request) {
	health := HealthStatus{
		Status:    "healthy",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Uptime:    time.Since(s.startTime).Round(time.Second).String(),
		Version:   version.Version,
		Checks:    make(map[string]CheckResult),
	}

	modelCheck := s.modelCheck()
	health.Checks["model"] = modelCheck
	switch modelCheck.Status {
	case "unhealthy":
		health.Status = "unhealthy"
	case "degraded":
		health.Status = "degraded"
	}

	if s.deps.Decoder != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if s.deps.Decoder.Available(ctx) {
			health.Checks["ffmpeg"] = CheckResult{Status: "healthy", Message: "ffmpeg available"}
		} else {
			health.Checks["ffmpeg"] = CheckResult{Status: "degraded", Message: "ffmpeg not found; only WAV uploads can be decoded"}
			if health.Status == "healthy" {
				health.Status = "degraded"
			}
		}
	}

	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	health.System.GoRoutines = runtime.NumGoroutine()
	health.System.MemoryMB = m.Alloc / 1024 / 1024
	health.System.CPUCount = runtime.NumCPU()

	statusCode := http.StatusOK
	if health.Status == "unhealthy" {
		statusCode = http.StatusServiceUnavailable
	}
	writeJSON(w, statusCode, health)
}

func (s *Server) modelCheck() CheckResult {
	if s.deps.Model == nil {
		return CheckResult{Status: "unhealthy", Message: "model loader not configured"}
	}

	switch state := s.deps.Model.State(); state {
	case model.StateReady:
		return CheckResult{Status: "healthy", Message: "model ready"}
	case model.StateFailed:
		_, err := s.deps.Model.Model()
		return CheckResult{Status: "unhealthy", Message: errors.UserMessage(err)}
	default:
		return CheckResult{Status: "degraded", Message: "model " + state.String()}
	}
}

// LivenessHandler handles kubernetes liveness probe
func (s *Server) LivenessHandler(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

// ReadinessHandler reports ready only once the model is loaded
func (s *Server) ReadinessHandler(w http.ResponseWriter, r *http.Request) {
	if s.deps.Model != nil && s.deps.Model.State() == model.StateReady {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ready"))
		return
	}
	w.WriteHeader(http.StatusServiceUnavailable)
	w.Write([]byte("not ready"))
}
