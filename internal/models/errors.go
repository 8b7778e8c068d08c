package models

import (
	"fmt"
	"sort"
	"strings"

	"github.com/pkg/errors"
)

var (
	// ErrMalformedRate marks a consumption rate with a non-positive amount or
	// period, or an unrecognized unit. Items carrying one are skipped.
	ErrMalformedRate = errors.New("malformed consumption rate")

	// ErrStoreUnavailable is returned when a backend cannot be reached or was
	// never configured. The whole pass for that backend is skipped.
	ErrStoreUnavailable = errors.New("item store unavailable")

	// ErrPartialBatchWrite is matched by *PartialBatchWriteError.
	ErrPartialBatchWrite = errors.New("partial batch write")

	// ErrAlertWrite wraps a failed alert upsert or delete. The item update
	// that triggered the check stays persisted.
	ErrAlertWrite = errors.New("alert write failed")

	// ErrStaleItem marks a staged update whose item was removed after listing.
	ErrStaleItem = errors.New("item disappeared before update")

	// ErrItemNotFound is returned when a store holds no item with the ID.
	ErrItemNotFound = errors.New("item not found")

	// ErrAlertNotFound is returned when a store holds no alert for the item.
	ErrAlertNotFound = errors.New("alert not found")
)

// PartialBatchWriteError reports the items of a batch that failed to persist.
// Items not listed were written and are never rolled back.
type PartialBatchWriteError struct {
	Failed map[string]error
}

func (e *PartialBatchWriteError) Error() string {
	ids := make([]string, 0, len(e.Failed))
	for id := range e.Failed {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	parts := make([]string, 0, len(ids))
	for _, id := range ids {
		parts = append(parts, fmt.Sprintf("%s: %v", id, e.Failed[id]))
	}
	return fmt.Sprintf("%d item(s) failed to persist: %s", len(ids), strings.Join(parts, "; "))
}

func (e *PartialBatchWriteError) Is(target error) bool {
	return target == ErrPartialBatchWrite
}
