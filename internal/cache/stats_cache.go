// Package cache keeps hot dashboard reads off the clinic database.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/cdcenter/agenda-notifier/internal/appointment"
)

// ErrMiss is returned when the key is absent or expired.
var ErrMiss = errors.New("cache: miss")

const statsKey = "agenda:stats"

// StatsCache is the dashboard counter cache. Nil-safe wrappers in callers
// keep Redis optional.
type StatsCache interface {
	GetStats(ctx context.Context) (appointment.Stats, error)
	SetStats(ctx context.Context, stats appointment.Stats) error
	Invalidate(ctx context.Context) error
}

// RedisStatsCache stores the stats payload as JSON under a TTL.
type RedisStatsCache struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewRedisStatsCache(rdb *redis.Client, ttl time.Duration) *RedisStatsCache {
	return &RedisStatsCache{rdb: rdb, ttl: ttl}
}

var _ StatsCache = (*RedisStatsCache)(nil)

func (c *RedisStatsCache) GetStats(ctx context.Context) (appointment.Stats, error) {
	raw, err := c.rdb.Get(ctx, statsKey).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return appointment.Stats{}, ErrMiss
		}
		return appointment.Stats{}, fmt.Errorf("cache: get stats: %w", err)
	}
	var stats appointment.Stats
	if err := json.Unmarshal(raw, &stats); err != nil {
		return appointment.Stats{}, fmt.Errorf("cache: decode stats: %w", err)
	}
	return stats, nil
}

func (c *RedisStatsCache) SetStats(ctx context.Context, stats appointment.Stats) error {
	b, err := json.Marshal(stats)
	if err != nil {
		return fmt.Errorf("cache: encode stats: %w", err)
	}
	if err := c.rdb.Set(ctx, statsKey, b, c.ttl).Err(); err != nil {
		return fmt.Errorf("cache: set stats: %w", err)
	}
	return nil
}

// Invalidate drops the cached counters; called after a confirmation so the
// dashboard never shows a stale pending count.
func (c *RedisStatsCache) Invalidate(ctx context.Context) error {
	if err := c.rdb.Del(ctx, statsKey).Err(); err != nil {
		return fmt.Errorf("cache: invalidate stats: %w", err)
	}
	return nil
}
