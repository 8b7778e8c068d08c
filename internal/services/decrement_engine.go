package services

import (
	"context"
	"fmt"
	"time"

	"stockwatch/internal/metrics"
	"stockwatch/internal/models"
	"stockwatch/internal/repositories"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"
)

// DefaultCallTimeout bounds each store call made during a pass.
const DefaultCallTimeout = 15 * time.Second

// AffectedItem is an item whose quantity a pass lowered and persisted.
type AffectedItem struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	NewQuantity int    `json:"new_quantity"`
}

// PassResult summarizes one decrement pass over one backend.
type PassResult struct {
	RunID         uuid.UUID        `json:"run_id"`
	Backend       string           `json:"backend"`
	RanAt         time.Time        `json:"ran_at"`
	UpdatedCount  int              `json:"updated_count"`
	Written       int              `json:"written"`
	AffectedItems []AffectedItem   `json:"affected_items"`
	Skipped       []string         `json:"skipped,omitempty"`
	Stale         []string         `json:"stale,omitempty"`
	Failed        map[string]error `json:"-"`
	AlertsChanged bool             `json:"alerts_changed"`
}

// Err reports the items whose writes failed, if any. Stale items are not
// failures.
func (r *PassResult) Err() error {
	if len(r.Failed) == 0 {
		return nil
	}
	return &models.PartialBatchWriteError{Failed: r.Failed}
}

// DecrementEngine lowers item quantities by elapsed consumption on a single
// backend and keeps that backend's alerts in step.
type DecrementEngine struct {
	backend     string
	store       repositories.ItemStore
	alerts      *StockAlertManager
	metrics     *metrics.Metrics
	callTimeout time.Duration
}

// NewDecrementEngine binds an engine to a backend. A nil store makes every
// pass fail with models.ErrStoreUnavailable.
func NewDecrementEngine(backend string, store repositories.ItemStore, alerts *StockAlertManager, m *metrics.Metrics) *DecrementEngine {
	return &DecrementEngine{
		backend:     backend,
		store:       store,
		alerts:      alerts,
		metrics:     m,
		callTimeout: DefaultCallTimeout,
	}
}

// WithCallTimeout overrides DefaultCallTimeout.
func (e *DecrementEngine) WithCallTimeout(d time.Duration) *DecrementEngine {
	if d > 0 {
		e.callTimeout = d
	}
	return e
}

func (e *DecrementEngine) Backend() string {
	return e.backend
}

// RunDecrementPass evaluates every consumable item against now, writes the
// staged updates as one batch and then checks alerts for each item whose
// quantity went down. Once started, the pass ignores cancellation of ctx so
// that quantities and decrement anchors are never left half-applied; each
// store call is still bounded by the call timeout.
func (e *DecrementEngine) RunDecrementPass(ctx context.Context, now time.Time) (*PassResult, error) {
	if e.store == nil {
		return nil, errors.Wrapf(models.ErrStoreUnavailable, "backend %s not configured", e.backend)
	}

	ctx = context.WithoutCancel(ctx)
	started := time.Now()
	result := &PassResult{
		RunID:   uuid.New(),
		Backend: e.backend,
		RanAt:   now,
		Failed:  make(map[string]error),
	}
	logger := log.WithFields(log.Fields{"backend": e.backend, "run_id": result.RunID})

	items, err := e.listConsumable(ctx)
	if err != nil {
		e.metrics.ObservePass(e.backend, "unavailable", time.Since(started))
		return nil, fmt.Errorf("%w: %s: %w", models.ErrStoreUnavailable, e.backend, err)
	}

	byID := make(map[string]*models.Item, len(items))
	var updates []*models.ItemUpdate
	pending := make(map[string]AffectedItem)

	for _, item := range items {
		if !item.IsConsumable() {
			continue
		}
		periods, err := ComputePeriodsElapsed(*item.ConsumptionRate, item.DecrementAnchor(), now)
		if err != nil {
			logger.WithField("item_id", item.ID).WithError(err).Warn("Skipping item with malformed consumption rate")
			result.Skipped = append(result.Skipped, item.ID)
			e.metrics.ItemSkipped(e.backend, "malformed_rate")
			continue
		}
		if periods == 0 {
			continue
		}

		byID[item.ID] = item
		newQuantity := applyConsumption(item.Quantity, item.ConsumptionRate.Amount, periods)
		if newQuantity < item.Quantity {
			stamp := now
			updates = append(updates, &models.ItemUpdate{
				ID:              item.ID,
				Quantity:        &newQuantity,
				LastDecremented: now,
				LastUpdated:     &stamp,
			})
			pending[item.ID] = AffectedItem{ID: item.ID, Name: item.Name, NewQuantity: newQuantity}
			continue
		}
		// Nothing consumed after rounding; move the anchor so the same window
		// is not evaluated again.
		updates = append(updates, &models.ItemUpdate{ID: item.ID, LastDecremented: now})
	}

	if len(updates) == 0 {
		e.metrics.ObservePass(e.backend, "ok", time.Since(started))
		logger.WithField("evaluated", len(items)).Debug("Decrement pass found nothing due")
		return result, nil
	}

	batch, err := e.upsertMany(ctx, updates)
	if err != nil {
		logger.WithError(err).Warn("Batch write failed")
	}
	if batch == nil {
		if err == nil {
			err = errors.New("store returned no batch result")
		}
		batch = &models.BatchResult{}
		for _, u := range updates {
			batch.MarkFailed(u.ID, err)
		}
	}

	for id, werr := range batch.Failed {
		if errors.Is(werr, models.ErrStaleItem) {
			result.Stale = append(result.Stale, id)
			continue
		}
		result.Failed[id] = werr
		logger.WithField("item_id", id).WithError(werr).Warn("Item update not persisted, will retry next pass")
	}
	for _, id := range batch.Written {
		if affected, ok := pending[id]; ok {
			result.AffectedItems = append(result.AffectedItems, affected)
		}
	}
	result.Written = len(batch.Written)
	result.UpdatedCount = len(result.AffectedItems)
	e.metrics.ItemsDecremented(e.backend, result.UpdatedCount)
	e.metrics.ItemWritesFailed(e.backend, len(result.Failed))

	e.checkAlerts(ctx, logger, result, byID)

	outcome := "ok"
	if len(result.Failed) > 0 {
		outcome = "partial"
	}
	e.metrics.ObservePass(e.backend, outcome, time.Since(started))
	logger.WithFields(log.Fields{
		"evaluated": len(items),
		"updated":   result.UpdatedCount,
		"failed":    len(result.Failed),
		"stale":     len(result.Stale),
	}).Info("Decrement pass completed")

	return result, nil
}

func (e *DecrementEngine) checkAlerts(ctx context.Context, logger *log.Entry, result *PassResult, byID map[string]*models.Item) {
	if e.alerts == nil {
		return
	}

	for _, affected := range result.AffectedItems {
		item := byID[affected.ID]
		quantity, name := affected.NewQuantity, affected.Name
		threshold := item.Threshold(e.alerts.DefaultThreshold())

		callCtx, cancel := context.WithTimeout(ctx, e.callTimeout)
		action, err := e.alerts.CheckAndUpdateAlert(callCtx, AlertCheck{
			ItemID:    affected.ID,
			Quantity:  &quantity,
			Name:      &name,
			Threshold: &threshold,
		})
		cancel()
		if err != nil {
			logger.WithField("item_id", affected.ID).WithError(err).Warn("Alert check failed")
			continue
		}
		if action.Changed() {
			result.AlertsChanged = true
		}
	}

	for _, id := range result.Stale {
		callCtx, cancel := context.WithTimeout(ctx, e.callTimeout)
		action, err := e.alerts.Retract(callCtx, id)
		cancel()
		if err != nil {
			logger.WithField("item_id", id).WithError(err).Warn("Failed to retract alert for removed item")
			continue
		}
		if action.Changed() {
			result.AlertsChanged = true
		}
	}
}

func (e *DecrementEngine) listConsumable(ctx context.Context) ([]*models.Item, error) {
	callCtx, cancel := context.WithTimeout(ctx, e.callTimeout)
	defer cancel()
	return e.store.ListConsumable(callCtx)
}

func (e *DecrementEngine) upsertMany(ctx context.Context, updates []*models.ItemUpdate) (*models.BatchResult, error) {
	callCtx, cancel := context.WithTimeout(ctx, e.callTimeout)
	defer cancel()
	return e.store.UpsertMany(callCtx, updates)
}

// applyConsumption subtracts periods×amount from quantity, rounds to the
// nearest whole unit and clamps at zero.
func applyConsumption(quantity int, amount decimal.Decimal, periods int64) int {
	consumed := amount.Mul(decimal.NewFromInt(periods))
	remaining := decimal.NewFromInt(int64(quantity)).Sub(consumed).Round(0)
	if remaining.IsNegative() {
		return 0
	}
	return int(remaining.IntPart())
}
