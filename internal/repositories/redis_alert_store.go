package repositories

import (
	"context"
	"fmt"
	"sort"
	"strconv"

	"stockwatch/internal/models"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

// upsertAlert refreshes the snapshot fields. "acknowledged" can only be
// raised, never cleared, and item_name is denormalized at creation and kept.
var upsertAlert = redis.NewScript(`
redis.call('HSET', KEYS[1], 'id', ARGV[1], 'item_id', ARGV[1], 'quantity', ARGV[3], 'timestamp', ARGV[4])
redis.call('HSETNX', KEYS[1], 'item_name', ARGV[2])
if ARGV[5] == '1' then
	redis.call('HSET', KEYS[1], 'acknowledged', '1')
else
	redis.call('HSETNX', KEYS[1], 'acknowledged', '0')
end
redis.call('SADD', KEYS[2], ARGV[1])
return 1
`)

var acknowledgeAlert = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
	return 0
end
redis.call('HSET', KEYS[1], 'acknowledged', '1')
return 1
`)

type redisAlertStore struct {
	client    *redis.Client
	namespace string
}

// NewRedisAlertStore returns the on-device alert store.
func NewRedisAlertStore(client *redis.Client, namespace string) AlertStore {
	return &redisAlertStore{client: client, namespace: namespace}
}

func (s *redisAlertStore) alertKey(id string) string {
	return fmt.Sprintf("%s:alert:%s", s.namespace, id)
}

func (s *redisAlertStore) indexKey() string {
	return s.namespace + ":alerts"
}

func (s *redisAlertStore) Get(ctx context.Context, itemID string) (*models.Alert, error) {
	fields, err := s.client.HGetAll(ctx, s.alertKey(itemID)).Result()
	if err != nil {
		return nil, errors.Wrapf(err, "get alert %s", itemID)
	}
	if len(fields) == 0 {
		return nil, models.ErrAlertNotFound
	}
	return alertFromHash(fields)
}

func (s *redisAlertStore) Upsert(ctx context.Context, alert *models.Alert) error {
	err := upsertAlert.Run(ctx, s.client,
		[]string{s.alertKey(alert.ItemID), s.indexKey()},
		alert.ItemID,
		alert.ItemName,
		strconv.Itoa(alert.Quantity),
		alert.Timestamp.UTC().Format(redisTimeLayout),
		boolFlag(alert.Acknowledged),
	).Err()
	return errors.Wrapf(err, "upsert alert %s", alert.ItemID)
}

func (s *redisAlertStore) Delete(ctx context.Context, itemID string) error {
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, s.alertKey(itemID))
		pipe.SRem(ctx, s.indexKey(), itemID)
		return nil
	})
	return errors.Wrapf(err, "delete alert %s", itemID)
}

func (s *redisAlertStore) Acknowledge(ctx context.Context, itemID string) error {
	applied, err := acknowledgeAlert.Run(ctx, s.client, []string{s.alertKey(itemID)}).Int()
	if err != nil {
		return errors.Wrapf(err, "acknowledge alert %s", itemID)
	}
	if applied == 0 {
		return models.ErrAlertNotFound
	}
	return nil
}

func (s *redisAlertStore) List(ctx context.Context) ([]*models.Alert, error) {
	ids, err := s.client.SMembers(ctx, s.indexKey()).Result()
	if err != nil {
		return nil, errors.Wrap(err, "list alert ids")
	}
	sort.Strings(ids)

	if len(ids) == 0 {
		return []*models.Alert{}, nil
	}

	cmds := make([]*redis.MapStringStringCmd, len(ids))
	_, err = s.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, id := range ids {
			cmds[i] = pipe.HGetAll(ctx, s.alertKey(id))
		}
		return nil
	})
	if err != nil {
		return nil, errors.Wrap(err, "load alerts")
	}

	alerts := make([]*models.Alert, 0, len(ids))
	for i, cmd := range cmds {
		fields := cmd.Val()
		if len(fields) == 0 {
			continue // deleted between SMEMBERS and HGETALL
		}
		alert, err := alertFromHash(fields)
		if err != nil {
			return nil, errors.Wrapf(err, "decode alert %s", ids[i])
		}
		alerts = append(alerts, alert)
	}
	return alerts, nil
}

func alertFromHash(fields map[string]string) (*models.Alert, error) {
	qty, err := strconv.Atoi(fields["quantity"])
	if err != nil {
		return nil, errors.Wrap(err, "quantity")
	}
	ts, err := parseRedisTime(fields["timestamp"])
	if err != nil {
		return nil, errors.Wrap(err, "timestamp")
	}
	return &models.Alert{
		ID:           fields["id"],
		ItemID:       fields["item_id"],
		ItemName:     fields["item_name"],
		Quantity:     qty,
		Timestamp:    ts,
		Acknowledged: fields["acknowledged"] == "1",
	}, nil
}

func boolFlag(b bool) string {
	if b {
		return "1"
	}
	return "0"
}
