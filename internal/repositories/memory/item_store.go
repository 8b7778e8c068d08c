package memory

import (
	"context"
	"sort"
	"sync"

	"stockwatch/internal/models"
	"stockwatch/internal/repositories"

	"github.com/pkg/errors"
)

// ItemStore keeps items in process memory. Writes are applied one at a time,
// like the on-device store, and individual IDs can be made to fail.
type ItemStore struct {
	mu      sync.RWMutex
	items   map[string]models.Item
	failIDs map[string]error
	listErr error
	writes  int
}

// NewItemStore creates an empty in-memory item store.
func NewItemStore() *ItemStore {
	return &ItemStore{
		items:   make(map[string]models.Item),
		failIDs: make(map[string]error),
	}
}

var _ repositories.ItemStore = (*ItemStore)(nil)

// FailWrites makes updates to id fail with err until cleared with a nil err.
func (s *ItemStore) FailWrites(id string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		delete(s.failIDs, id)
		return
	}
	s.failIDs[id] = err
}

// FailList makes ListConsumable return err until cleared with nil.
func (s *ItemStore) FailList(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listErr = err
}

// Writes counts successful item writes, including Put.
func (s *ItemStore) Writes() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.writes
}

func (s *ItemStore) ListConsumable(ctx context.Context) ([]*models.Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.listErr != nil {
		return nil, s.listErr
	}

	ids := make([]string, 0, len(s.items))
	for id := range s.items {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var items []*models.Item
	for _, id := range ids {
		item := copyItem(s.items[id])
		if item.IsConsumable() {
			items = append(items, item)
		}
	}
	return items, nil
}

func (s *ItemStore) GetOne(ctx context.Context, id string) (*models.Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	item, ok := s.items[id]
	if !ok {
		return nil, models.ErrItemNotFound
	}
	return copyItem(item), nil
}

func (s *ItemStore) UpsertMany(ctx context.Context, updates []*models.ItemUpdate) (*models.BatchResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	result := &models.BatchResult{}
	for _, u := range updates {
		if err, ok := s.failIDs[u.ID]; ok {
			result.MarkFailed(u.ID, err)
			continue
		}
		item, ok := s.items[u.ID]
		if !ok {
			result.MarkFailed(u.ID, errors.Wrapf(models.ErrStaleItem, "item %s", u.ID))
			continue
		}
		item.LastDecremented = u.LastDecremented
		if u.Quantity != nil {
			item.Quantity = *u.Quantity
		}
		if u.LastUpdated != nil {
			item.LastUpdated = *u.LastUpdated
		}
		s.items[u.ID] = item
		s.writes++
		result.MarkWritten(u.ID)
	}
	return result, nil
}

func (s *ItemStore) Put(ctx context.Context, item *models.Item) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items[item.ID] = *copyItem(*item)
	s.writes++
	return nil
}

func (s *ItemStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.items, id)
	return nil
}

func copyItem(item models.Item) *models.Item {
	if item.ConsumptionRate != nil {
		rate := *item.ConsumptionRate
		item.ConsumptionRate = &rate
	}
	if item.MinStockLevel != nil {
		level := *item.MinStockLevel
		item.MinStockLevel = &level
	}
	return &item
}
