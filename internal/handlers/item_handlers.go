package handlers

import (
	"encoding/json"
	"net/http"

	"stockwatch/internal/caching"
	"stockwatch/internal/common"
	"stockwatch/internal/models"
	"stockwatch/internal/services"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// ItemHandlers covers the add, edit and remove flows of the host app.
type ItemHandlers struct {
	backends    Registry
	invalidator caching.Invalidator
	clock       common.Clock
}

func NewItemHandlers(backends Registry, invalidator caching.Invalidator, clock common.Clock) *ItemHandlers {
	return &ItemHandlers{backends: backends, invalidator: invalidator, clock: clock}
}

// PutItemRequest is the item payload. ConsumptionRate is kept raw because
// clients send it either as an object or as text like "2/day".
type PutItemRequest struct {
	Name            string          `json:"name"`
	Quantity        *int            `json:"quantity"`
	ConsumptionRate json.RawMessage `json:"consumption_rate"`
	MinStockLevel   *int            `json:"min_stock_level"`
}

// GetItem handles GET /v1/:backend/items/:id
func (h *ItemHandlers) GetItem(c echo.Context) error {
	ctx := c.Request().Context()

	backend, stores, err := h.backends.lookup(c)
	if err != nil {
		return err
	}

	item, err := stores.Items.GetOne(ctx, c.Param("id"))
	if err != nil {
		if errors.Is(err, models.ErrItemNotFound) {
			return common.SendNotFoundError(c, "Item")
		}
		log.WithError(err).WithField("backend", backend).Error("Failed to get item")
		return common.SendServerError(c, "Failed to get item")
	}

	return c.JSON(http.StatusOK, item)
}

// PutItem handles PUT /v1/:backend/items/:id. It creates or replaces the item
// and re-evaluates its alert straight away.
func (h *ItemHandlers) PutItem(c echo.Context) error {
	ctx := c.Request().Context()

	backend, stores, err := h.backends.lookup(c)
	if err != nil {
		return err
	}

	itemID := c.Param("id")
	if itemID == "" {
		return common.SendValidationError(c, "id", "Item ID is required")
	}

	var req PutItemRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid request format")
	}
	if req.Quantity == nil {
		return common.SendValidationError(c, "quantity", "Quantity is required")
	}
	if *req.Quantity < 0 {
		return common.SendValidationError(c, "quantity", "Quantity cannot be negative")
	}
	if req.MinStockLevel != nil && *req.MinStockLevel < 0 {
		return common.SendValidationError(c, "min_stock_level", "Min stock level cannot be negative")
	}

	rate, err := models.ParseConsumptionRate(req.ConsumptionRate)
	if err != nil {
		return common.SendValidationError(c, "consumption_rate", err.Error())
	}

	now := h.clock.Now()
	item := &models.Item{
		ID:              itemID,
		Name:            req.Name,
		Quantity:        *req.Quantity,
		ConsumptionRate: rate,
		MinStockLevel:   req.MinStockLevel,
		LastUpdated:     now,
		LastDecremented: now,
	}

	// An edit keeps the decrement anchor so consumption already under way is
	// not forgotten.
	existing, err := stores.Items.GetOne(ctx, itemID)
	switch {
	case err == nil:
		if !existing.LastDecremented.IsZero() {
			item.LastDecremented = existing.LastDecremented
		}
	case errors.Is(err, models.ErrItemNotFound):
	default:
		log.WithError(err).WithField("backend", backend).Error("Failed to read item")
		return common.SendServerError(c, "Failed to save item")
	}

	if err := stores.Items.Put(ctx, item); err != nil {
		log.WithError(err).WithFields(log.Fields{"backend": backend, "item_id": itemID}).Error("Failed to save item")
		return common.SendServerError(c, "Failed to save item")
	}

	collections := []caching.Collection{caching.CollectionItems}

	threshold := item.Threshold(stores.Alerts.DefaultThreshold())
	action, err := stores.Alerts.CheckAndUpdateAlert(ctx, services.AlertCheck{
		ItemID:    item.ID,
		Quantity:  &item.Quantity,
		Name:      &item.Name,
		Threshold: &threshold,
	})
	if err != nil {
		log.WithError(err).WithFields(log.Fields{"backend": backend, "item_id": itemID}).Warn("Alert check failed after item save")
	}
	if action.Changed() {
		collections = append(collections, caching.CollectionAlerts)
	}

	invalidate(ctx, h.invalidator, backend, collections...)

	return c.JSON(http.StatusOK, map[string]interface{}{
		"item":         item,
		"alert_action": action,
	})
}

// DeleteItem handles DELETE /v1/:backend/items/:id
func (h *ItemHandlers) DeleteItem(c echo.Context) error {
	ctx := c.Request().Context()

	backend, stores, err := h.backends.lookup(c)
	if err != nil {
		return err
	}

	itemID := c.Param("id")
	if _, err := stores.Items.GetOne(ctx, itemID); err != nil {
		if errors.Is(err, models.ErrItemNotFound) {
			return common.SendNotFoundError(c, "Item")
		}
		log.WithError(err).WithField("backend", backend).Error("Failed to read item")
		return common.SendServerError(c, "Failed to delete item")
	}

	if err := stores.Items.Delete(ctx, itemID); err != nil {
		log.WithError(err).WithFields(log.Fields{"backend": backend, "item_id": itemID}).Error("Failed to delete item")
		return common.SendServerError(c, "Failed to delete item")
	}

	collections := []caching.Collection{caching.CollectionItems}
	action, err := stores.Alerts.Retract(ctx, itemID)
	if err != nil {
		log.WithError(err).WithFields(log.Fields{"backend": backend, "item_id": itemID}).Warn("Failed to retract alert")
	}
	if action.Changed() {
		collections = append(collections, caching.CollectionAlerts)
	}

	invalidate(ctx, h.invalidator, backend, collections...)

	return c.NoContent(http.StatusNoContent)
}
