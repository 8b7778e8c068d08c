package services

import (
	"context"
	"fmt"

	"stockwatch/internal/common"
	"stockwatch/internal/metrics"
	"stockwatch/internal/models"
	"stockwatch/internal/repositories"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// AlertCheck carries the inputs of a stock check. Any nil field is looked up
// from the item store.
type AlertCheck struct {
	ItemID    string
	Quantity  *int
	Name      *string
	Threshold *int
}

// StockAlertManager keeps one backend's alert records in line with item
// quantities. An acknowledged alert is left alone while stock stays low and
// is deleted once stock recovers, so the next shortage raises a fresh one.
type StockAlertManager struct {
	backend          string
	items            repositories.ItemStore
	alerts           repositories.AlertStore
	clock            common.Clock
	defaultThreshold int
	metrics          *metrics.Metrics
}

func NewStockAlertManager(backend string, items repositories.ItemStore, alerts repositories.AlertStore,
	clock common.Clock, defaultThreshold int, m *metrics.Metrics) *StockAlertManager {
	if defaultThreshold < 0 {
		defaultThreshold = models.DefaultMinStockLevel
	}
	return &StockAlertManager{
		backend:          backend,
		items:            items,
		alerts:           alerts,
		clock:            clock,
		defaultThreshold: defaultThreshold,
		metrics:          m,
	}
}

// DefaultThreshold is used for items without a min stock level.
func (m *StockAlertManager) DefaultThreshold() int {
	return m.defaultThreshold
}

// CheckAndUpdateAlert applies the alert state machine for one item. It is
// idempotent for a given quantity and threshold.
func (m *StockAlertManager) CheckAndUpdateAlert(ctx context.Context, check AlertCheck) (models.AlertAction, error) {
	if check.Quantity == nil || check.Name == nil || check.Threshold == nil {
		item, err := m.items.GetOne(ctx, check.ItemID)
		if errors.Is(err, models.ErrItemNotFound) {
			return m.Retract(ctx, check.ItemID)
		}
		if err != nil {
			return models.AlertActionNone, errors.Wrapf(err, "look up item %s", check.ItemID)
		}
		if check.Quantity == nil {
			check.Quantity = &item.Quantity
		}
		if check.Name == nil {
			check.Name = &item.Name
		}
		if check.Threshold == nil {
			threshold := item.Threshold(m.defaultThreshold)
			check.Threshold = &threshold
		}
	}

	existing, err := m.alerts.Get(ctx, check.ItemID)
	if err != nil && !errors.Is(err, models.ErrAlertNotFound) {
		return models.AlertActionNone, alertError("read", check.ItemID, err)
	}
	if errors.Is(err, models.ErrAlertNotFound) {
		existing = nil
	}

	quantity, threshold := *check.Quantity, *check.Threshold
	action := models.AlertActionNone

	switch {
	case quantity > threshold:
		if existing == nil {
			return models.AlertActionNone, nil
		}
		if err := m.alerts.Delete(ctx, check.ItemID); err != nil {
			return models.AlertActionNone, alertError("delete", check.ItemID, err)
		}
		action = models.AlertActionDeleted

	case existing == nil:
		name := *check.Name
		if name == "" {
			name = check.ItemID
		}
		alert := &models.Alert{
			ID:        check.ItemID,
			ItemID:    check.ItemID,
			ItemName:  name,
			Quantity:  quantity,
			Timestamp: m.clock.Now(),
		}
		if err := m.alerts.Upsert(ctx, alert); err != nil {
			return models.AlertActionNone, alertError("create", check.ItemID, err)
		}
		action = models.AlertActionCreated

	case existing.Acknowledged:
		action = models.AlertActionSuppressed

	default:
		existing.Quantity = quantity
		existing.Timestamp = m.clock.Now()
		if err := m.alerts.Upsert(ctx, existing); err != nil {
			return models.AlertActionNone, alertError("update", check.ItemID, err)
		}
		action = models.AlertActionUpdated
	}

	m.metrics.AlertAction(m.backend, string(action))
	log.WithFields(log.Fields{
		"backend":   m.backend,
		"item_id":   check.ItemID,
		"quantity":  quantity,
		"threshold": threshold,
		"action":    action,
	}).Debug("Stock alert checked")
	return action, nil
}

// Retract deletes any alert left behind for an item that no longer exists.
func (m *StockAlertManager) Retract(ctx context.Context, itemID string) (models.AlertAction, error) {
	_, err := m.alerts.Get(ctx, itemID)
	if errors.Is(err, models.ErrAlertNotFound) {
		return models.AlertActionNone, nil
	}
	if err != nil {
		return models.AlertActionNone, alertError("read", itemID, err)
	}
	if err := m.alerts.Delete(ctx, itemID); err != nil {
		return models.AlertActionNone, alertError("delete", itemID, err)
	}
	m.metrics.AlertAction(m.backend, string(models.AlertActionDeleted))
	return models.AlertActionDeleted, nil
}

// Acknowledge marks the item's alert as seen by a person.
func (m *StockAlertManager) Acknowledge(ctx context.Context, itemID string) error {
	return m.alerts.Acknowledge(ctx, itemID)
}

func (m *StockAlertManager) ListAlerts(ctx context.Context) ([]*models.Alert, error) {
	return m.alerts.List(ctx)
}

func alertError(op, itemID string, err error) error {
	return fmt.Errorf("%w: %s alert %s: %w", models.ErrAlertWrite, op, itemID, err)
}
