package handlers

import (
	"context"
	"net/http"

	"stockwatch/internal/caching"
	"stockwatch/internal/repositories"
	"stockwatch/internal/services"

	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"
)

// BackendStores is what the HTTP surface needs from one backend.
type BackendStores struct {
	Items  repositories.ItemStore
	Alerts *services.StockAlertManager
}

// Registry maps a backend name ("local", "remote") to its stores.
type Registry map[string]*BackendStores

func (r Registry) lookup(c echo.Context) (string, *BackendStores, error) {
	name := c.Param("backend")
	stores, ok := r[name]
	if !ok {
		return name, nil, echo.NewHTTPError(http.StatusNotFound, "Unknown backend")
	}
	return name, stores, nil
}

// invalidate is best effort; a failed signal only delays client refreshes.
func invalidate(ctx context.Context, inv caching.Invalidator, backend string, collections ...caching.Collection) {
	if inv == nil || len(collections) == 0 {
		return
	}
	if err := inv.Invalidate(ctx, backend, collections...); err != nil {
		log.WithError(err).WithField("backend", backend).Warn("Cache invalidation failed")
	}
}
