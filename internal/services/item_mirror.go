package services

import (
	"context"
	"time"

	"stockwatch/internal/models"
	"stockwatch/internal/repositories"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// MirrorResult reports what a mirror write changed on the target backend.
type MirrorResult struct {
	Target        string           `json:"target"`
	Mirrored      int              `json:"mirrored"`
	Missing       int              `json:"missing"`
	Kept          int              `json:"kept"`
	Failed        map[string]error `json:"-"`
	AlertsChanged bool             `json:"alerts_changed"`
}

// ItemMirror copies the quantities lowered by a pass on one backend into
// another backend's store. Items missing from the target are left alone.
type ItemMirror struct {
	target  string
	store   repositories.ItemStore
	alerts  *StockAlertManager
	timeout time.Duration
}

func NewItemMirror(target string, store repositories.ItemStore, alerts *StockAlertManager) *ItemMirror {
	return &ItemMirror{target: target, store: store, alerts: alerts, timeout: DefaultCallTimeout}
}

func (m *ItemMirror) Target() string {
	return m.target
}

// Mirror lowers the target's copy of every affected item of source to the
// source quantity and moves its decrement anchor to the source pass time, then
// re-checks the target's alerts for the items whose quantity changed. A target
// already at or below the source quantity keeps its own quantity, since the
// engine never raises stock.
func (m *ItemMirror) Mirror(ctx context.Context, source *PassResult) (*MirrorResult, error) {
	out := &MirrorResult{Target: m.target, Failed: make(map[string]error)}
	if source == nil || len(source.AffectedItems) == 0 {
		return out, nil
	}
	if m.store == nil {
		return nil, errors.Wrapf(models.ErrStoreUnavailable, "mirror target %s not configured", m.target)
	}

	ctx = context.WithoutCancel(ctx)
	logger := log.WithFields(log.Fields{"source": source.Backend, "target": m.target, "run_id": source.RunID})

	updates := make([]*models.ItemUpdate, 0, len(source.AffectedItems))
	lowered := make(map[string]AffectedItem, len(source.AffectedItems))
	for _, affected := range source.AffectedItems {
		callCtx, cancel := context.WithTimeout(ctx, m.timeout)
		current, err := m.store.GetOne(callCtx, affected.ID)
		cancel()
		switch {
		case errors.Is(err, models.ErrItemNotFound):
			out.Missing++
			continue
		case err != nil:
			out.Failed[affected.ID] = err
			logger.WithField("item_id", affected.ID).WithError(err).Warn("Mirror read failed")
			continue
		}

		update := &models.ItemUpdate{ID: affected.ID, LastDecremented: source.RanAt}
		switch {
		case current.Quantity > affected.NewQuantity:
			quantity, stamp := affected.NewQuantity, source.RanAt
			update.Quantity = &quantity
			update.LastUpdated = &stamp
			lowered[affected.ID] = affected
		case current.Quantity == affected.NewQuantity && current.DecrementAnchor().Before(source.RanAt):
			// Same stock, older anchor: only the anchor catches up.
		default:
			out.Kept++
			continue
		}
		updates = append(updates, update)
	}
	if len(updates) == 0 {
		logger.WithFields(log.Fields{"missing": out.Missing, "kept": out.Kept, "failed": len(out.Failed)}).Debug("Mirror had nothing to write")
		return out, nil
	}

	callCtx, cancel := context.WithTimeout(ctx, m.timeout)
	batch, err := m.store.UpsertMany(callCtx, updates)
	cancel()
	if batch == nil {
		return nil, errors.Wrap(err, "mirror write")
	}
	if err != nil {
		logger.WithError(err).Warn("Mirror batch failed")
	}

	for id, werr := range batch.Failed {
		if errors.Is(werr, models.ErrStaleItem) {
			out.Missing++
			continue
		}
		out.Failed[id] = werr
		logger.WithField("item_id", id).WithError(werr).Warn("Mirror write failed")
	}
	out.Mirrored = len(batch.Written)

	if m.alerts != nil {
		for _, id := range batch.Written {
			affected, ok := lowered[id]
			if !ok {
				continue
			}
			quantity, name := affected.NewQuantity, affected.Name

			callCtx, cancel := context.WithTimeout(ctx, m.timeout)
			action, err := m.alerts.CheckAndUpdateAlert(callCtx, AlertCheck{ItemID: id, Quantity: &quantity, Name: &name})
			cancel()
			if err != nil {
				logger.WithField("item_id", id).WithError(err).Warn("Alert check after mirror failed")
				continue
			}
			if action.Changed() {
				out.AlertsChanged = true
			}
		}
	}

	logger.WithFields(log.Fields{"mirrored": out.Mirrored, "missing": out.Missing, "kept": out.Kept, "failed": len(out.Failed)}).Info("Mirror write completed")
	return out, nil
}
