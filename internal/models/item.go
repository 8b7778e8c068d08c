package models

import (
	"time"
)

// DefaultMinStockLevel is used when an item has no threshold of its own.
const DefaultMinStockLevel = 10

// Item is a tracked product. ID comes from the scanned code or manual entry.
type Item struct {
	ID              string           `json:"id"`
	Name            string           `json:"name,omitempty"`
	Quantity        int              `json:"quantity"`
	ConsumptionRate *ConsumptionRate `json:"consumption_rate,omitempty"`
	MinStockLevel   *int             `json:"min_stock_level,omitempty"`
	LastUpdated     time.Time        `json:"last_updated"`
	// LastDecremented anchors the next elapsed-time computation. The zero
	// value is treated as the Unix epoch.
	LastDecremented time.Time `json:"last_decremented,omitempty"`
}

// IsConsumable reports whether the decrement engine should look at the item.
func (i *Item) IsConsumable() bool {
	return i.ConsumptionRate != nil && i.Quantity > 0
}

// Threshold returns the item's low-stock threshold, falling back to def.
func (i *Item) Threshold(def int) int {
	if i.MinStockLevel != nil && *i.MinStockLevel >= 0 {
		return *i.MinStockLevel
	}
	return def
}

// DecrementAnchor is the time elapsed periods are counted from.
func (i *Item) DecrementAnchor() time.Time {
	if i.LastDecremented.IsZero() {
		return time.Unix(0, 0).UTC()
	}
	return i.LastDecremented
}

// ItemUpdate is a staged partial write produced by a decrement pass. A nil
// Quantity means only LastDecremented moves.
type ItemUpdate struct {
	ID              string
	Quantity        *int
	LastDecremented time.Time
	LastUpdated     *time.Time
}

// BatchResult lists the outcome of UpsertMany. Written holds IDs that were
// persisted, Failed holds the rest keyed by ID. A failure wrapping
// ErrStaleItem means the record vanished before the write.
type BatchResult struct {
	Written []string
	Failed  map[string]error
}

// Err returns a *PartialBatchWriteError when anything failed.
func (r *BatchResult) Err() error {
	if len(r.Failed) == 0 {
		return nil
	}
	return &PartialBatchWriteError{Failed: r.Failed}
}

// MarkWritten records a persisted update.
func (r *BatchResult) MarkWritten(id string) {
	r.Written = append(r.Written, id)
}

// MarkFailed records a failed update.
func (r *BatchResult) MarkFailed(id string, err error) {
	if r.Failed == nil {
		r.Failed = make(map[string]error)
	}
	r.Failed[id] = err
}
