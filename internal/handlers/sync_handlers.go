package handlers

import (
	"net/http"

	"stockwatch/internal/jobs/background"
	"stockwatch/internal/services"

	"github.com/labstack/echo/v4"
)

// SyncHandlers exposes the scheduler to the host app lifecycle.
type SyncHandlers struct {
	scheduler *background.SyncScheduler
}

func NewSyncHandlers(scheduler *background.SyncScheduler) *SyncHandlers {
	return &SyncHandlers{scheduler: scheduler}
}

type cycleResponse struct {
	Trigger   background.Trigger       `json:"trigger"`
	Dropped   bool                     `json:"dropped"`
	Passes    []*services.PassResult   `json:"passes"`
	Mirrors   []*services.MirrorResult `json:"mirrors,omitempty"`
	Throttled []string                 `json:"throttled,omitempty"`
	Errors    map[string]string        `json:"errors,omitempty"`
}

// Foreground handles POST /v1/lifecycle/foreground. A cycle already in
// progress makes this a no-op reported as dropped.
func (h *SyncHandlers) Foreground(c echo.Context) error {
	// The pass itself detaches from cancellation; the request context still
	// carries the caller's values into logs.
	report := h.scheduler.OnForeground(c.Request().Context())

	resp := cycleResponse{
		Trigger:   report.Trigger,
		Dropped:   report.Dropped,
		Passes:    report.Passes,
		Mirrors:   report.Mirrors,
		Throttled: report.Throttled,
	}
	if len(report.Errors) > 0 {
		resp.Errors = make(map[string]string, len(report.Errors))
		for backend, err := range report.Errors {
			resp.Errors[backend] = err.Error()
		}
	}

	status := http.StatusOK
	if report.Dropped {
		status = http.StatusAccepted
	}
	return c.JSON(status, resp)
}

// Status handles GET /v1/lifecycle/status
func (h *SyncHandlers) Status(c echo.Context) error {
	return c.JSON(http.StatusOK, h.scheduler.Status())
}
