package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hervehildenbrand/bgp-explain/pkg/logging"
	"github.com/hervehildenbrand/bgp-explain/pkg/models"
	"github.com/hervehildenbrand/bgp-explain/pkg/rib"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// CacheTTL is how long a retrieved snapshot stays cached.
const CacheTTL = 48 * time.Hour

const keyPrefix = "bgp-explain:snapshot"

// RedisCache keeps retrieved snapshots so repeated runs over the same
// incident skip the archive.
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
	logger *zap.Logger
}

// NewRedisCache connects to Redis and checks the connection.
func NewRedisCache(ctx context.Context, url string, logger *zap.Logger) (*RedisCache, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opt)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return &RedisCache{
		client: client,
		ttl:    CacheTTL,
		logger: logging.OrNop(logger).Named("cache"),
	}, nil
}

// CacheKey identifies an incident snapshot by target, start and the end of
// its after window.
func CacheKey(event models.Event) string {
	w := rib.ComputeWindows(event.Start, event.End)
	return fmt.Sprintf("%s:%s:%d:%d", keyPrefix, event.Target(), event.Start.Unix(), w.AfterUntil.Unix())
}

type cachedSnapshot struct {
	History rib.Table    `json:"history"`
	Before  rib.Table    `json:"before"`
	After   rib.Table    `json:"after"`
	Tagged  []rib.Tagged `json:"tagged,omitempty"`
}

func encodeCached(snap rib.Snapshot) ([]byte, error) {
	return json.Marshal(cachedSnapshot{History: snap.History, Before: snap.Before, After: snap.After, Tagged: snap.Tagged})
}

func decodeCached(data []byte) (rib.Snapshot, error) {
	var c cachedSnapshot
	if err := json.Unmarshal(data, &c); err != nil {
		return rib.Snapshot{}, err
	}
	snap := rib.Snapshot{History: c.History, Before: c.Before, After: c.After, Tagged: c.Tagged}
	if snap.History == nil {
		snap.History = rib.New()
	}
	if snap.Before == nil {
		snap.Before = rib.New()
	}
	if snap.After == nil {
		snap.After = rib.New()
	}
	return snap, nil
}

// Get returns the cached snapshot. A miss returns ErrSnapshotMissing.
func (c *RedisCache) Get(ctx context.Context, event models.Event) (rib.Snapshot, error) {
	key := CacheKey(event)
	data, err := c.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return rib.Snapshot{}, ErrSnapshotMissing
	}
	if err != nil {
		return rib.Snapshot{}, fmt.Errorf("redis get %s: %w", key, err)
	}
	snap, err := decodeCached(data)
	if err != nil {
		return rib.Snapshot{}, fmt.Errorf("decode cached %s: %w", key, err)
	}
	c.logger.Debug("snapshot cache hit", zap.String("key", key))
	return snap, nil
}

// Put stores a snapshot.
func (c *RedisCache) Put(ctx context.Context, event models.Event, snap rib.Snapshot) error {
	data, err := encodeCached(snap)
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	key := CacheKey(event)
	if err := c.client.Set(ctx, key, data, c.ttl).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", key, err)
	}
	return nil
}

// Close releases the connection.
func (c *RedisCache) Close() error {
	return c.client.Close()
}
