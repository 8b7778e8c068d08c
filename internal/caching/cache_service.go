package caching

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"stockwatch/internal/models"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
)

// InvalidationChannel is the pub/sub channel UI clients listen on.
const InvalidationChannel = "stockwatch:invalidations"

const keyPrefix = "stockwatch:cache"

// Collection names a logical set of records a client may have cached.
type Collection string

const (
	CollectionItems  Collection = "items"
	CollectionAlerts Collection = "alerts"
)

// Invalidation is the message published after records change.
type Invalidation struct {
	Backend     string       `json:"backend"`
	Collections []Collection `json:"collections"`
	At          time.Time    `json:"at"`
}

// Invalidator signals that cached collections of a backend are stale.
type Invalidator interface {
	Invalidate(ctx context.Context, backend string, collections ...Collection) error
}

type CacheService interface {
	Invalidator

	// GetAlerts returns nil, nil on a cache miss.
	GetAlerts(ctx context.Context, backend string) ([]*models.Alert, error)
	SetAlerts(ctx context.Context, backend string, alerts []*models.Alert, ttl time.Duration) error

	Ping(ctx context.Context) error
}

type redisCacheService struct {
	client *redis.Client
}

func NewRedisCacheService(client *redis.Client) CacheService {
	return &redisCacheService{client: client}
}

// NewRedisClient builds a client from an address that may carry a redis://
// or rediss:// scheme.
func NewRedisClient(addr, password string, db int) *redis.Client {
	parsedAddr := strings.TrimPrefix(strings.TrimPrefix(addr, "redis://"), "rediss://")

	client := redis.NewClient(&redis.Options{
		Addr:     parsedAddr,
		Password: password,
		DB:       db,
	})

	if err := client.Ping(context.Background()).Err(); err != nil {
		log.WithError(err).WithField("addr", parsedAddr).Warn("Redis ping failed on initialization")
	} else {
		log.WithField("addr", parsedAddr).Debug("Redis connection established")
	}
	return client
}

func collectionKey(backend string, c Collection) string {
	return fmt.Sprintf("%s:%s:%s", keyPrefix, backend, c)
}

func (r *redisCacheService) GetAlerts(ctx context.Context, backend string) ([]*models.Alert, error) {
	data, err := r.client.Get(ctx, collectionKey(backend, CollectionAlerts)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, nil // cache miss
		}
		return nil, err
	}

	var alerts []*models.Alert
	if err := json.Unmarshal(data, &alerts); err != nil {
		return nil, err
	}
	return alerts, nil
}

func (r *redisCacheService) SetAlerts(ctx context.Context, backend string, alerts []*models.Alert, ttl time.Duration) error {
	if alerts == nil {
		alerts = []*models.Alert{}
	}
	data, err := json.Marshal(alerts)
	if err != nil {
		return err
	}
	return r.client.Set(ctx, collectionKey(backend, CollectionAlerts), data, ttl).Err()
}

// Invalidate drops every cached key of the given collections and publishes an
// Invalidation so connected clients refetch.
func (r *redisCacheService) Invalidate(ctx context.Context, backend string, collections ...Collection) error {
	if len(collections) == 0 {
		return nil
	}

	var keys []string
	for _, c := range collections {
		matched, err := r.client.Keys(ctx, collectionKey(backend, c)+"*").Result()
		if err != nil {
			return errors.Wrapf(err, "scan cache keys for %s/%s", backend, c)
		}
		keys = append(keys, matched...)
	}
	if len(keys) > 0 {
		if err := r.client.Del(ctx, keys...).Err(); err != nil {
			return errors.Wrap(err, "delete cache keys")
		}
	}

	msg, err := json.Marshal(Invalidation{Backend: backend, Collections: collections, At: time.Now().UTC()})
	if err != nil {
		return err
	}
	return errors.Wrap(r.client.Publish(ctx, InvalidationChannel, msg).Err(), "publish invalidation")
}

func (r *redisCacheService) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}
