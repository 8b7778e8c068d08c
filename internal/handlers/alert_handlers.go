package handlers

import (
	"net/http"
	"time"

	"stockwatch/internal/caching"
	"stockwatch/internal/common"
	"stockwatch/internal/models"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// DefaultAlertCacheTTL bounds how long a cached alert list is served.
const DefaultAlertCacheTTL = 5 * time.Minute

// AlertHandlers serves low-stock alerts to the UI.
type AlertHandlers struct {
	backends Registry
	cache    caching.CacheService
	ttl      time.Duration
}

// NewAlertHandlers creates alert handlers. cache may be nil, in which case
// every read goes to the store.
func NewAlertHandlers(backends Registry, cache caching.CacheService, ttl time.Duration) *AlertHandlers {
	if ttl <= 0 {
		ttl = DefaultAlertCacheTTL
	}
	return &AlertHandlers{backends: backends, cache: cache, ttl: ttl}
}

// ListAlerts handles GET /v1/:backend/alerts
func (h *AlertHandlers) ListAlerts(c echo.Context) error {
	ctx := c.Request().Context()

	backend, stores, err := h.backends.lookup(c)
	if err != nil {
		return err
	}

	if h.cache != nil {
		cached, err := h.cache.GetAlerts(ctx, backend)
		if err != nil {
			log.WithError(err).WithField("backend", backend).Warn("Alert cache read failed")
		} else if cached != nil {
			return c.JSON(http.StatusOK, map[string]interface{}{
				"alerts": cached,
				"cached": true,
			})
		}
	}

	alerts, err := stores.Alerts.ListAlerts(ctx)
	if err != nil {
		log.WithError(err).WithField("backend", backend).Error("Failed to list alerts")
		return common.SendServerError(c, "Failed to list alerts")
	}
	if alerts == nil {
		alerts = []*models.Alert{}
	}

	if h.cache != nil {
		if err := h.cache.SetAlerts(ctx, backend, alerts, h.ttl); err != nil {
			log.WithError(err).WithField("backend", backend).Warn("Alert cache write failed")
		}
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"alerts": alerts,
		"cached": false,
	})
}

// AcknowledgeAlert handles POST /v1/:backend/alerts/:id/acknowledge
func (h *AlertHandlers) AcknowledgeAlert(c echo.Context) error {
	ctx := c.Request().Context()

	backend, stores, err := h.backends.lookup(c)
	if err != nil {
		return err
	}

	itemID := c.Param("id")
	if itemID == "" {
		return common.SendValidationError(c, "id", "Item ID is required")
	}

	if err := stores.Alerts.Acknowledge(ctx, itemID); err != nil {
		if errors.Is(err, models.ErrAlertNotFound) {
			return common.SendNotFoundError(c, "Alert")
		}
		log.WithError(err).WithFields(log.Fields{"backend": backend, "item_id": itemID}).Error("Failed to acknowledge alert")
		return common.SendServerError(c, "Failed to acknowledge alert")
	}

	subject, _ := common.SubjectFromContext(ctx)
	log.WithFields(log.Fields{"backend": backend, "item_id": itemID, "subject": subject}).Info("Alert acknowledged")

	invalidate(ctx, h.cache, backend, caching.CollectionAlerts)

	return c.JSON(http.StatusOK, map[string]string{
		"message": "Alert acknowledged",
		"item_id": itemID,
	})
}
