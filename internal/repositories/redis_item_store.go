package repositories

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"stockwatch/internal/metrics"
	"stockwatch/internal/models"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"
)

// Local timestamps are stored as RFC3339 strings with nanoseconds.
const redisTimeLayout = time.RFC3339Nano

// updateIfExists applies HSET only to an existing hash so that a staged
// update never resurrects an item removed in the meantime.
var updateIfExists = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
	return 0
end
redis.call('HSET', KEYS[1], unpack(ARGV))
return 1
`)

type redisItemStore struct {
	client    *redis.Client
	namespace string
	backend   string
	metrics   *metrics.Metrics
}

// NewRedisItemStore returns the on-device item store. Items live in hashes
// under "<namespace>:item:<id>" with an index set "<namespace>:items".
// Writes are applied one item at a time. Records that cannot be decoded are
// left out of listings and counted against backend.
func NewRedisItemStore(client *redis.Client, namespace, backend string, m *metrics.Metrics) ItemStore {
	return &redisItemStore{client: client, namespace: namespace, backend: backend, metrics: m}
}

func (s *redisItemStore) itemKey(id string) string {
	return fmt.Sprintf("%s:item:%s", s.namespace, id)
}

func (s *redisItemStore) indexKey() string {
	return s.namespace + ":items"
}

func (s *redisItemStore) ListConsumable(ctx context.Context) ([]*models.Item, error) {
	ids, err := s.client.SMembers(ctx, s.indexKey()).Result()
	if err != nil {
		return nil, errors.Wrap(err, "list item ids")
	}
	if len(ids) == 0 {
		return nil, nil
	}

	cmds := make([]*redis.MapStringStringCmd, len(ids))
	_, err = s.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, id := range ids {
			cmds[i] = pipe.HGetAll(ctx, s.itemKey(id))
		}
		return nil
	})
	if err != nil {
		return nil, errors.Wrap(err, "load items")
	}

	var items []*models.Item
	for i, cmd := range cmds {
		fields := cmd.Val()
		if len(fields) == 0 {
			continue // removed between SMEMBERS and HGETALL
		}
		item, err := itemFromHash(fields)
		if err != nil {
			log.WithError(err).WithFields(log.Fields{"backend": s.backend, "item_id": ids[i]}).Warn("Skipping undecodable item")
			s.metrics.ItemSkipped(s.backend, "corrupt_record")
			continue
		}
		if item.IsConsumable() {
			items = append(items, item)
		}
	}
	return items, nil
}

func (s *redisItemStore) GetOne(ctx context.Context, id string) (*models.Item, error) {
	fields, err := s.client.HGetAll(ctx, s.itemKey(id)).Result()
	if err != nil {
		return nil, errors.Wrapf(err, "get item %s", id)
	}
	if len(fields) == 0 {
		return nil, models.ErrItemNotFound
	}
	return itemFromHash(fields)
}

func (s *redisItemStore) UpsertMany(ctx context.Context, updates []*models.ItemUpdate) (*models.BatchResult, error) {
	result := &models.BatchResult{}
	for _, u := range updates {
		args := []any{"last_decremented", u.LastDecremented.UTC().Format(redisTimeLayout)}
		if u.Quantity != nil {
			args = append(args, "quantity", strconv.Itoa(*u.Quantity))
		}
		if u.LastUpdated != nil {
			args = append(args, "last_updated", u.LastUpdated.UTC().Format(redisTimeLayout))
		}

		applied, err := updateIfExists.Run(ctx, s.client, []string{s.itemKey(u.ID)}, args...).Int()
		switch {
		case err != nil:
			result.MarkFailed(u.ID, errors.Wrapf(err, "update item %s", u.ID))
		case applied == 0:
			result.MarkFailed(u.ID, errors.Wrapf(models.ErrStaleItem, "item %s", u.ID))
		default:
			result.MarkWritten(u.ID)
		}
	}
	return result, nil
}

func (s *redisItemStore) Put(ctx context.Context, item *models.Item) error {
	key := s.itemKey(item.ID)
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, key)
		pipe.HSet(ctx, key, itemToHash(item))
		pipe.SAdd(ctx, s.indexKey(), item.ID)
		return nil
	})
	return errors.Wrapf(err, "put item %s", item.ID)
}

func (s *redisItemStore) Delete(ctx context.Context, id string) error {
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, s.itemKey(id))
		pipe.SRem(ctx, s.indexKey(), id)
		return nil
	})
	return errors.Wrapf(err, "delete item %s", id)
}

func itemToHash(item *models.Item) map[string]any {
	fields := map[string]any{
		"id":           item.ID,
		"name":         item.Name,
		"quantity":     strconv.Itoa(item.Quantity),
		"last_updated": item.LastUpdated.UTC().Format(redisTimeLayout),
	}
	if !item.LastDecremented.IsZero() {
		fields["last_decremented"] = item.LastDecremented.UTC().Format(redisTimeLayout)
	}
	if item.MinStockLevel != nil {
		fields["min_stock_level"] = strconv.Itoa(*item.MinStockLevel)
	}
	if r := item.ConsumptionRate; r != nil {
		fields["rate_amount"] = r.Amount.String()
		fields["rate_period"] = strconv.Itoa(r.Period)
		fields["rate_unit"] = string(r.Unit)
	}
	return fields
}

func itemFromHash(fields map[string]string) (*models.Item, error) {
	item := &models.Item{ID: fields["id"], Name: fields["name"]}

	qty, err := strconv.Atoi(fields["quantity"])
	if err != nil {
		return nil, errors.Wrap(err, "quantity")
	}
	item.Quantity = qty

	if item.LastUpdated, err = parseRedisTime(fields["last_updated"]); err != nil {
		return nil, errors.Wrap(err, "last_updated")
	}
	if item.LastDecremented, err = parseRedisTime(fields["last_decremented"]); err != nil {
		return nil, errors.Wrap(err, "last_decremented")
	}

	if v, ok := fields["min_stock_level"]; ok && v != "" {
		level, err := strconv.Atoi(v)
		if err != nil {
			return nil, errors.Wrap(err, "min_stock_level")
		}
		item.MinStockLevel = &level
	}

	// A stored rate that does not parse is kept with zero values so the
	// engine reports it as malformed instead of silently treating the item
	// as non-depleting.
	if unit := fields["rate_unit"]; unit != "" {
		rate := &models.ConsumptionRate{Unit: models.RateUnit(unit)}
		if amount, err := decimal.NewFromString(fields["rate_amount"]); err == nil {
			rate.Amount = amount
		}
		if period, err := strconv.Atoi(fields["rate_period"]); err == nil {
			rate.Period = period
		}
		item.ConsumptionRate = rate
	}
	return item, nil
}

func parseRedisTime(v string) (time.Time, error) {
	if v == "" {
		return time.Time{}, nil
	}
	return time.Parse(redisTimeLayout, v)
}
