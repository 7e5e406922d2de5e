// Package cache implements a read-through TTL cache on top of the key-value Store.
//
// Prefix invalidation works without key enumeration: every prefix owns a generation
// counter that is embedded in entry keys. Invalidate bumps the counter, which makes
// all earlier entries under the prefix unreachable; they then expire by TTL.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"sync/atomic"
	"time"

	"worldvote/internal/metrics"
	"worldvote/shared/database"
	"worldvote/shared/interfaces"
	"worldvote/shared/models"

	"go.uber.org/zap"
)

// Class is a key class with its own TTL.
type Class string

const (
	ClassAttributes Class = "attributes"
	ClassDecision   Class = "decision"
	ClassTally      Class = "tally"
	ClassScene      Class = "scene"
)

// Policy maps a key class to its TTL.
type Policy map[Class]time.Duration

// DefaultPolicy returns the standard staleness windows.
func DefaultPolicy() Policy {
	return Policy{
		ClassAttributes: 5 * time.Minute,
		ClassDecision:   10 * time.Minute,
		ClassTally:      30 * time.Minute,
		ClassScene:      time.Hour,
	}
}

// TTL returns the TTL for class, falling back to the default policy.
func (p Policy) TTL(class Class) time.Duration {
	if ttl, ok := p[class]; ok && ttl > 0 {
		return ttl
	}
	return DefaultPolicy()[class]
}

type entry struct {
	ExpiresAt time.Time       `json:"expiresAt"`
	Value     json.RawMessage `json:"value"`
}

// Stats is a snapshot of the cache counters.
type Stats struct {
	Hits    int64   `json:"hits"`
	Misses  int64   `json:"misses"`
	HitRate float64 `json:"hitRate"`
}

// Cache is a read-through cache. It is safe for concurrent use.
type Cache struct {
	store   interfaces.Store
	keys    database.Keys
	policy  Policy
	metrics *metrics.Metrics
	logger  *zap.Logger
	now     func() time.Time

	hits   atomic.Int64
	misses atomic.Int64
}

// New creates a Cache.
func New(store interfaces.Store, keys database.Keys, policy Policy, m *metrics.Metrics, logger *zap.Logger) *Cache {
	if policy == nil {
		policy = DefaultPolicy()
	}
	if m == nil {
		m = metrics.New(nil)
	}
	return &Cache{
		store:   store,
		keys:    keys,
		policy:  policy,
		metrics: m,
		logger:  logger.Named("Cache"),
		now:     time.Now,
	}
}

// WithClock overrides the clock used for payload expiry.
func (c *Cache) WithClock(now func() time.Time) *Cache {
	c.now = now
	return c
}

// GetOrSet returns the cached value for (prefix, key) if present and unexpired;
// otherwise it calls fetch, stores the result for the class TTL and returns it.
// Cache failures never fail the call: they are logged and fetch is used.
func GetOrSet[T any](ctx context.Context, c *Cache, class Class, prefix, key string, fetch func(ctx context.Context) (T, error)) (T, error) {
	entryKey, genErr := c.entryKey(ctx, prefix, key)
	if genErr == nil {
		var cached T
		if ok := c.read(ctx, class, entryKey, &cached); ok {
			return cached, nil
		}
	}
	c.misses.Add(1)
	c.metrics.CacheMisses.WithLabelValues(string(class)).Inc()

	value, err := fetch(ctx)
	if err != nil {
		var zero T
		return zero, err
	}
	if genErr == nil {
		c.write(ctx, class, entryKey, value)
	}
	return value, nil
}

// Invalidate makes every entry cached under prefix unreachable.
func (c *Cache) Invalidate(ctx context.Context, prefix string) {
	if _, err := c.store.IncrBy(ctx, c.keys.CacheGeneration(prefix), 1); err != nil {
		c.metrics.CacheErrors.WithLabelValues("invalidate").Inc()
		c.logger.Warn("Cache invalidation failed", zap.String("prefix", prefix), zap.Error(err))
		return
	}
	c.logger.Debug("Cache prefix invalidated", zap.String("prefix", prefix))
}

// Stats returns the hit/miss counters of this instance.
func (c *Cache) Stats() Stats {
	hits, misses := c.hits.Load(), c.misses.Load()
	s := Stats{Hits: hits, Misses: misses}
	if total := hits + misses; total > 0 {
		s.HitRate = float64(hits) / float64(total)
	}
	return s
}

func (c *Cache) entryKey(ctx context.Context, prefix, key string) (string, error) {
	var gen int64
	raw, err := c.store.Get(ctx, c.keys.CacheGeneration(prefix))
	switch {
	case err == nil:
		gen, err = strconv.ParseInt(string(raw), 10, 64)
		if err != nil {
			c.logger.Warn("Corrupted cache generation, bypassing cache", zap.String("prefix", prefix), zap.Error(err))
			return "", models.ErrCorruptedRecord
		}
	case errors.Is(err, models.ErrNotFound):
	default:
		c.metrics.CacheErrors.WithLabelValues("generation").Inc()
		c.logger.Warn("Cache generation read failed, bypassing cache", zap.String("prefix", prefix), zap.Error(err))
		return "", err
	}
	return c.keys.CacheEntry(prefix, gen, key), nil
}

func (c *Cache) read(ctx context.Context, class Class, entryKey string, dst interface{}) bool {
	var e entry
	err := database.LoadRecord(ctx, c.store, entryKey, database.KindCacheEntry, &e)
	if err != nil {
		if !errors.Is(err, models.ErrNotFound) {
			c.metrics.CacheErrors.WithLabelValues("read").Inc()
			c.logger.Warn("Cache read failed", zap.String("key", entryKey), zap.Error(err))
		}
		return false
	}
	if !c.now().Before(e.ExpiresAt) {
		return false
	}
	if err := json.Unmarshal(e.Value, dst); err != nil {
		c.metrics.CacheErrors.WithLabelValues("decode").Inc()
		c.logger.Warn("Cached value does not decode, treating as miss", zap.String("key", entryKey), zap.Error(err))
		return false
	}
	c.hits.Add(1)
	c.metrics.CacheHits.WithLabelValues(string(class)).Inc()
	return true
}

func (c *Cache) write(ctx context.Context, class Class, entryKey string, value interface{}) {
	ttl := c.policy.TTL(class)
	raw, err := json.Marshal(value)
	if err != nil {
		c.logger.Warn("Value is not cacheable", zap.String("key", entryKey), zap.Error(err))
		return
	}
	e := entry{ExpiresAt: c.now().Add(ttl), Value: raw}
	if err := database.SaveRecord(ctx, c.store, entryKey, database.KindCacheEntry, e, ttl); err != nil {
		c.metrics.CacheErrors.WithLabelValues("write").Inc()
		c.logger.Warn("Cache write failed", zap.String("key", entryKey), zap.Error(err))
	}
}
