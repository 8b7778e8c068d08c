package memory

import (
	"context"
	"sort"
	"sync"

	"stockwatch/internal/models"
	"stockwatch/internal/repositories"
)

// AlertStore keeps alerts in process memory.
type AlertStore struct {
	mu      sync.RWMutex
	alerts  map[string]models.Alert
	failErr error
	writes  int
}

func NewAlertStore() *AlertStore {
	return &AlertStore{alerts: make(map[string]models.Alert)}
}

var _ repositories.AlertStore = (*AlertStore)(nil)

// FailWrites makes Upsert and Delete return err until cleared with nil.
func (s *AlertStore) FailWrites(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failErr = err
}

// Writes counts successful Upsert and Delete calls.
func (s *AlertStore) Writes() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.writes
}

func (s *AlertStore) Get(ctx context.Context, itemID string) (*models.Alert, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	alert, ok := s.alerts[itemID]
	if !ok {
		return nil, models.ErrAlertNotFound
	}
	return &alert, nil
}

func (s *AlertStore) Upsert(ctx context.Context, alert *models.Alert) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failErr != nil {
		return s.failErr
	}

	stored := *alert
	stored.ID = alert.ItemID
	if existing, ok := s.alerts[alert.ItemID]; ok {
		stored.ItemName = existing.ItemName
		stored.Acknowledged = existing.Acknowledged || alert.Acknowledged
	}
	s.alerts[alert.ItemID] = stored
	s.writes++
	return nil
}

func (s *AlertStore) Delete(ctx context.Context, itemID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failErr != nil {
		return s.failErr
	}
	delete(s.alerts, itemID)
	s.writes++
	return nil
}

func (s *AlertStore) Acknowledge(ctx context.Context, itemID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	alert, ok := s.alerts[itemID]
	if !ok {
		return models.ErrAlertNotFound
	}
	alert.Acknowledged = true
	s.alerts[itemID] = alert
	return nil
}

func (s *AlertStore) List(ctx context.Context) ([]*models.Alert, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]string, 0, len(s.alerts))
	for id := range s.alerts {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	alerts := make([]*models.Alert, 0, len(ids))
	for _, id := range ids {
		alert := s.alerts[id]
		alerts = append(alerts, &alert)
	}
	return alerts, nil
}
