package api

import (
	"net/http"
	"time"

	"github.com/onnwee/streamrank/internal/health"
)

// readinessTimeout bounds all dependency checks of one /ready request.
const readinessTimeout = 5 * time.Second

// HealthHandlers provides health and readiness check endpoints for Kubernetes probes.
type HealthHandlers struct {
	dbChecker    health.Checker
	redisChecker health.Checker
	timeout      time.Duration
}

// HealthHandlersConfig configures the health check handlers. Nil checkers
// mean the in-memory store is in use and are reported as ok.
type HealthHandlersConfig struct {
	DBChecker    health.Checker
	RedisChecker health.Checker
	Timeout      time.Duration
}

// NewHealthHandlers creates a new health check handler.
func NewHealthHandlers(config HealthHandlersConfig) *HealthHandlers {
	timeout := config.Timeout
	if timeout <= 0 {
		timeout = readinessTimeout
	}
	return &HealthHandlers{
		dbChecker:    config.DBChecker,
		redisChecker: config.RedisChecker,
		timeout:      timeout,
	}
}

// HealthResponse represents the JSON response for health checks.
type HealthResponse struct {
	Status    string            `json:"status"`
	Checks    map[string]string `json:"checks"`
	Timestamp string            `json:"timestamp"`
}

// Health handles GET /health (liveness probe).
func (h *HealthHandlers) Health(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeErr(w, r, ErrCodeMethodNotAllowed, "Method not allowed")
		return
	}

	writeJSON(w, r, http.StatusOK, HealthResponse{
		Status:    "healthy",
		Checks:    map[string]string{"runtime": health.StatusOK},
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

// Ready handles GET /ready (readiness probe). The candidate database is
// critical; the signals cache only degrades ranking quality when down, so a
// failing Redis is reported without failing the probe.
func (h *HealthHandlers) Ready(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeErr(w, r, ErrCodeMethodNotAllowed, "Method not allowed")
		return
	}

	var checks []health.Check
	if h.dbChecker != nil {
		checks = append(checks, health.Check{Name: "database", Checker: h.dbChecker, Critical: true})
	}
	if h.redisChecker != nil {
		checks = append(checks, health.Check{Name: "redis", Checker: h.redisChecker})
	}
	report := health.Run(r.Context(), checks, h.timeout)

	for _, name := range []string{"database", "redis"} {
		if _, ok := report.Results[name]; !ok {
			report.Results[name] = health.StatusOK
		}
	}
	// The Prometheus registry is created at startup and always available.
	report.Results["metrics"] = health.StatusOK

	status, code := "healthy", http.StatusOK
	if !report.Healthy {
		status, code = "unhealthy", http.StatusServiceUnavailable
	}

	writeJSON(w, r, code, HealthResponse{
		Status:    status,
		Checks:    report.Results,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}
