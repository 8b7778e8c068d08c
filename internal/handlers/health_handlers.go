package handlers

import (
	"context"
	"net/http"
	"runtime"
	"time"

	"stockwatch/internal/jobs/background"

	"github.com/labstack/echo/v4"
)

// Pinger is a dependency whose reachability health checks report on.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingFunc adapts a function to Pinger.
type PingFunc func(ctx context.Context) error

func (f PingFunc) Ping(ctx context.Context) error { return f(ctx) }

// HealthHandlers handles health check and monitoring endpoints
type HealthHandlers struct {
	checks    map[string]Pinger
	scheduler *background.SyncScheduler
	startedAt time.Time
	timeout   time.Duration
}

// NewHealthHandlers creates a new health handlers instance. checks maps a
// service name ("redis", "postgres") to its probe.
func NewHealthHandlers(checks map[string]Pinger, scheduler *background.SyncScheduler) *HealthHandlers {
	return &HealthHandlers{
		checks:    checks,
		scheduler: scheduler,
		startedAt: time.Now().UTC(),
		timeout:   3 * time.Second,
	}
}

// HealthStatus represents the overall health status
type HealthStatus struct {
	Status     string                 `json:"status"`
	Timestamp  string                 `json:"timestamp"`
	Services   map[string]string      `json:"services"`
	Uptime     string                 `json:"uptime"`
	Goroutines int                    `json:"goroutines"`
	Scheduler  map[string]interface{} `json:"scheduler,omitempty"`
}

// HealthCheck performs dependency checks and includes scheduler state
func (h *HealthHandlers) HealthCheck(c echo.Context) error {
	health := &HealthStatus{
		Status:     "healthy",
		Timestamp:  time.Now().UTC().Format(time.RFC3339),
		Services:   h.runChecks(c.Request().Context()),
		Uptime:     time.Since(h.startedAt).Round(time.Second).String(),
		Goroutines: runtime.NumGoroutine(),
	}
	for _, state := range health.Services {
		if state != "healthy" {
			health.Status = "degraded"
		}
	}
	if h.scheduler != nil {
		health.Scheduler = h.scheduler.Status()
	}

	statusCode := http.StatusOK
	if health.Status == "degraded" {
		statusCode = http.StatusServiceUnavailable
	}

	return c.JSON(statusCode, health)
}

// LivenessCheck determines if the application is running (basic liveness probe)
func (h *HealthHandlers) LivenessCheck(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status":    "alive",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

func (h *HealthHandlers) runChecks(ctx context.Context) map[string]string {
	results := make(map[string]string, len(h.checks))
	for name, check := range h.checks {
		cctx, cancel := context.WithTimeout(ctx, h.timeout)
		if err := check.Ping(cctx); err != nil {
			results[name] = "unhealthy: " + err.Error()
		} else {
			results[name] = "healthy"
		}
		cancel()
	}
	return results
}
