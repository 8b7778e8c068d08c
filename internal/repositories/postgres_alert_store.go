package repositories

import (
	"context"

	"stockwatch/internal/models"

	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"
)

const (
	getAlertSQL    = `SELECT id, item_id, item_name, quantity, alerted_at, acknowledged FROM low_stock_alerts WHERE id = $1`
	listAlertsSQL  = `SELECT id, item_id, item_name, quantity, alerted_at, acknowledged FROM low_stock_alerts ORDER BY id`
	upsertAlertSQL = `INSERT INTO low_stock_alerts (id, item_id, item_name, quantity, alerted_at, acknowledged)
		VALUES ($1, $1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE SET
			quantity = EXCLUDED.quantity,
			alerted_at = EXCLUDED.alerted_at,
			acknowledged = low_stock_alerts.acknowledged OR EXCLUDED.acknowledged`
	deleteAlertSQL      = `DELETE FROM low_stock_alerts WHERE id = $1`
	acknowledgeAlertSQL = `UPDATE low_stock_alerts SET acknowledged = TRUE WHERE id = $1`
)

type postgresAlertStore struct {
	db Database
}

// NewPostgresAlertStore returns the remote alert store.
func NewPostgresAlertStore(db Database) AlertStore {
	return &postgresAlertStore{db: db}
}

func (s *postgresAlertStore) Get(ctx context.Context, itemID string) (*models.Alert, error) {
	alert, err := scanAlert(s.db.QueryRow(ctx, getAlertSQL, itemID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, models.ErrAlertNotFound
	}
	if err != nil {
		return nil, errors.Wrapf(err, "get alert %s", itemID)
	}
	return alert, nil
}

func (s *postgresAlertStore) Upsert(ctx context.Context, alert *models.Alert) error {
	_, err := s.db.Exec(ctx, upsertAlertSQL,
		alert.ItemID, alert.ItemName, alert.Quantity, alert.Timestamp, alert.Acknowledged)
	return errors.Wrapf(err, "upsert alert %s", alert.ItemID)
}

func (s *postgresAlertStore) Delete(ctx context.Context, itemID string) error {
	_, err := s.db.Exec(ctx, deleteAlertSQL, itemID)
	return errors.Wrapf(err, "delete alert %s", itemID)
}

func (s *postgresAlertStore) Acknowledge(ctx context.Context, itemID string) error {
	tag, err := s.db.Exec(ctx, acknowledgeAlertSQL, itemID)
	if err != nil {
		return errors.Wrapf(err, "acknowledge alert %s", itemID)
	}
	if tag.RowsAffected() == 0 {
		return models.ErrAlertNotFound
	}
	return nil
}

func (s *postgresAlertStore) List(ctx context.Context) ([]*models.Alert, error) {
	rows, err := s.db.Query(ctx, listAlertsSQL)
	if err != nil {
		return nil, errors.Wrap(err, "list alerts")
	}
	defer rows.Close()

	var alerts []*models.Alert
	for rows.Next() {
		alert, err := scanAlert(rows)
		if err != nil {
			return nil, errors.Wrap(err, "scan alert")
		}
		alerts = append(alerts, alert)
	}
	return alerts, errors.Wrap(rows.Err(), "iterate alerts")
}

func scanAlert(row pgx.Row) (*models.Alert, error) {
	alert := &models.Alert{}
	err := row.Scan(&alert.ID, &alert.ItemID, &alert.ItemName, &alert.Quantity, &alert.Timestamp, &alert.Acknowledged)
	if err != nil {
		return nil, err
	}
	return alert, nil
}
