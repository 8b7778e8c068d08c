package repositories

import (
	"context"
	"time"

	"stockwatch/internal/models"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

const itemColumns = `id, name, quantity, rate_amount::text, rate_period, rate_unit, min_stock_level, last_updated, last_decremented`

const (
	listConsumableItemsSQL = `SELECT ` + itemColumns + ` FROM items WHERE rate_unit IS NOT NULL AND quantity > 0 ORDER BY id`
	getItemSQL             = `SELECT ` + itemColumns + ` FROM items WHERE id = $1`
	updateItemQuantitySQL  = `UPDATE items SET quantity = $2, last_decremented = $3, last_updated = $4 WHERE id = $1`
	updateItemAnchorSQL    = `UPDATE items SET last_decremented = $2 WHERE id = $1`
	putItemSQL             = `INSERT INTO items (id, name, quantity, rate_amount, rate_period, rate_unit, min_stock_level, last_updated, last_decremented)
		VALUES ($1, $2, $3, $4::text::numeric, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			quantity = EXCLUDED.quantity,
			rate_amount = EXCLUDED.rate_amount,
			rate_period = EXCLUDED.rate_period,
			rate_unit = EXCLUDED.rate_unit,
			min_stock_level = EXCLUDED.min_stock_level,
			last_updated = EXCLUDED.last_updated,
			last_decremented = EXCLUDED.last_decremented`
	deleteItemSQL = `DELETE FROM items WHERE id = $1`
)

type postgresItemStore struct {
	db Database
}

// NewPostgresItemStore returns the remote item store. Consumable filtering
// runs in SQL and a batch of updates is applied in one transaction.
func NewPostgresItemStore(db Database) ItemStore {
	return &postgresItemStore{db: db}
}

func (s *postgresItemStore) ListConsumable(ctx context.Context) ([]*models.Item, error) {
	rows, err := s.db.Query(ctx, listConsumableItemsSQL)
	if err != nil {
		return nil, errors.Wrap(err, "list consumable items")
	}
	defer rows.Close()

	var items []*models.Item
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, errors.Wrap(err, "scan item")
		}
		items = append(items, item)
	}
	return items, errors.Wrap(rows.Err(), "iterate items")
}

func (s *postgresItemStore) GetOne(ctx context.Context, id string) (*models.Item, error) {
	item, err := scanItem(s.db.QueryRow(ctx, getItemSQL, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, models.ErrItemNotFound
	}
	if err != nil {
		return nil, errors.Wrapf(err, "get item %s", id)
	}
	return item, nil
}

func (s *postgresItemStore) UpsertMany(ctx context.Context, updates []*models.ItemUpdate) (*models.BatchResult, error) {
	result := &models.BatchResult{}
	if len(updates) == 0 {
		return result, nil
	}

	failAll := func(err error) (*models.BatchResult, error) {
		failed := &models.BatchResult{}
		for _, u := range updates {
			failed.MarkFailed(u.ID, err)
		}
		return failed, err
	}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return failAll(errors.Wrap(err, "begin batch"))
	}

	for _, u := range updates {
		var tag pgconn.CommandTag
		if u.Quantity != nil && u.LastUpdated != nil {
			tag, err = tx.Exec(ctx, updateItemQuantitySQL, u.ID, *u.Quantity, u.LastDecremented, *u.LastUpdated)
		} else {
			tag, err = tx.Exec(ctx, updateItemAnchorSQL, u.ID, u.LastDecremented)
		}
		if err != nil {
			_ = tx.Rollback(ctx)
			return failAll(errors.Wrapf(err, "update item %s", u.ID))
		}
		if tag.RowsAffected() == 0 {
			result.MarkFailed(u.ID, errors.Wrapf(models.ErrStaleItem, "item %s", u.ID))
			continue
		}
		result.MarkWritten(u.ID)
	}

	if err := tx.Commit(ctx); err != nil {
		return failAll(errors.Wrap(err, "commit batch"))
	}
	return result, nil
}

func (s *postgresItemStore) Put(ctx context.Context, item *models.Item) error {
	var (
		amount *string
		period *int
		unit   *string
	)
	if r := item.ConsumptionRate; r != nil {
		a, p, u := r.Amount.String(), r.Period, string(r.Unit)
		amount, period, unit = &a, &p, &u
	}
	var lastDecremented *time.Time
	if !item.LastDecremented.IsZero() {
		lastDecremented = &item.LastDecremented
	}

	_, err := s.db.Exec(ctx, putItemSQL,
		item.ID, item.Name, item.Quantity,
		amount, period, unit,
		item.MinStockLevel, item.LastUpdated, lastDecremented,
	)
	return errors.Wrapf(err, "put item %s", item.ID)
}

func (s *postgresItemStore) Delete(ctx context.Context, id string) error {
	_, err := s.db.Exec(ctx, deleteItemSQL, id)
	return errors.Wrapf(err, "delete item %s", id)
}

func scanItem(row pgx.Row) (*models.Item, error) {
	var (
		item            models.Item
		name            *string
		amount          *string
		period          *int
		unit            *string
		lastDecremented *time.Time
	)
	err := row.Scan(&item.ID, &name, &item.Quantity, &amount, &period, &unit,
		&item.MinStockLevel, &item.LastUpdated, &lastDecremented)
	if err != nil {
		return nil, err
	}

	if name != nil {
		item.Name = *name
	}
	if lastDecremented != nil {
		item.LastDecremented = *lastDecremented
	}
	if unit != nil {
		rate := &models.ConsumptionRate{Unit: models.RateUnit(*unit)}
		if amount != nil {
			if d, err := decimal.NewFromString(*amount); err == nil {
				rate.Amount = d
			}
		}
		if period != nil {
			rate.Period = *period
		}
		item.ConsumptionRate = rate
	}
	return &item, nil
}
