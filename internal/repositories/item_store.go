package repositories

import (
	"context"

	"stockwatch/internal/models"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// ItemStore is one persistence backend for items. Local and Remote backends
// implement it with their own timestamp encodings; callers only see time.Time.
type ItemStore interface {
	// ListConsumable returns items with a consumption rate and quantity > 0.
	ListConsumable(ctx context.Context) ([]*models.Item, error)
	// GetOne returns models.ErrItemNotFound when the item does not exist.
	GetOne(ctx context.Context, id string) (*models.Item, error)
	// UpsertMany applies staged updates. Updates for vanished items fail with
	// models.ErrStaleItem and never recreate the record. The returned error is
	// set only when the batch as a whole could not be applied; the result
	// still lists every item's outcome.
	UpsertMany(ctx context.Context, updates []*models.ItemUpdate) (*models.BatchResult, error)
	Put(ctx context.Context, item *models.Item) error
	Delete(ctx context.Context, id string) error
}

// AlertStore persists low-stock alerts keyed by item ID.
type AlertStore interface {
	// Get returns models.ErrAlertNotFound when no alert exists.
	Get(ctx context.Context, itemID string) (*models.Alert, error)
	// Upsert writes the alert, keeping an acknowledged flag already stored.
	Upsert(ctx context.Context, alert *models.Alert) error
	Delete(ctx context.Context, itemID string) error
	// Acknowledge returns models.ErrAlertNotFound when no alert exists.
	Acknowledge(ctx context.Context, itemID string) error
	List(ctx context.Context) ([]*models.Alert, error)
}

// Database is the subset of *pgxpool.Pool the PostgreSQL stores use, so that
// pgxmock can stand in for it.
type Database interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
}
