package cache_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"worldvote/internal/cache"
	"worldvote/internal/metrics"
	"worldvote/shared/database"
	"worldvote/shared/interfaces/mocks"
	"worldvote/shared/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type payload struct {
	Value int `json:"value"`
}

func newCache(store *database.MemoryStore, now func() time.Time) *cache.Cache {
	c := cache.New(store, database.NewKeys("test"), cache.DefaultPolicy(), metrics.New(nil), zap.NewNop())
	if now != nil {
		c.WithClock(now)
	}
	return c
}

func TestGetOrSet_ReadThrough(t *testing.T) {
	ctx := context.Background()
	c := newCache(database.NewMemoryStore(), nil)

	calls := 0
	fetch := func(context.Context) (payload, error) {
		calls++
		return payload{Value: 42}, nil
	}

	got, err := cache.GetOrSet(ctx, c, cache.ClassAttributes, "world", "state", fetch)
	require.NoError(t, err)
	assert.Equal(t, 42, got.Value)

	got, err = cache.GetOrSet(ctx, c, cache.ClassAttributes, "world", "state", fetch)
	require.NoError(t, err)
	assert.Equal(t, 42, got.Value)
	assert.Equal(t, 1, calls, "second read must be served from cache")

	stats := c.Stats()
	assert.Equal(t, int64(1), stats.Hits)
	assert.Equal(t, int64(1), stats.Misses)
	assert.InDelta(t, 0.5, stats.HitRate, 0.001)
}

func TestGetOrSet_ExpiresByEmbeddedTimestamp(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC)
	c := newCache(database.NewMemoryStore(), func() time.Time { return now })

	calls := 0
	fetch := func(context.Context) (payload, error) {
		calls++
		return payload{Value: calls}, nil
	}

	_, err := cache.GetOrSet(ctx, c, cache.ClassAttributes, "world", "state", fetch)
	require.NoError(t, err)

	now = now.Add(5*time.Minute + time.Second)
	got, err := cache.GetOrSet(ctx, c, cache.ClassAttributes, "world", "state", fetch)
	require.NoError(t, err)
	assert.Equal(t, 2, got.Value)
}

func TestInvalidate(t *testing.T) {
	ctx := context.Background()
	c := newCache(database.NewMemoryStore(), nil)

	value := 1
	fetch := func(context.Context) (payload, error) { return payload{Value: value}, nil }

	_, err := cache.GetOrSet(ctx, c, cache.ClassTally, "tally:d1", "counts", fetch)
	require.NoError(t, err)
	_, err = cache.GetOrSet(ctx, c, cache.ClassTally, "tally:d2", "counts", fetch)
	require.NoError(t, err)

	value = 2
	c.Invalidate(ctx, "tally:d1")

	got, err := cache.GetOrSet(ctx, c, cache.ClassTally, "tally:d1", "counts", fetch)
	require.NoError(t, err)
	assert.Equal(t, 2, got.Value, "invalidated prefix must refetch")

	got, err = cache.GetOrSet(ctx, c, cache.ClassTally, "tally:d2", "counts", fetch)
	require.NoError(t, err)
	assert.Equal(t, 1, got.Value, "other prefixes stay cached")
}

func TestGetOrSet_FetchErrorNotCached(t *testing.T) {
	ctx := context.Background()
	c := newCache(database.NewMemoryStore(), nil)

	_, err := cache.GetOrSet(ctx, c, cache.ClassDecision, "decision", "current", func(context.Context) (payload, error) {
		return payload{}, models.ErrNotFound
	})
	assert.ErrorIs(t, err, models.ErrNotFound)

	got, err := cache.GetOrSet(ctx, c, cache.ClassDecision, "decision", "current", func(context.Context) (payload, error) {
		return payload{Value: 7}, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 7, got.Value)
}

func TestGetOrSet_StoreFailureFallsThrough(t *testing.T) {
	ctx := context.Background()
	store := new(mocks.Store)
	storeErr := errors.Join(models.ErrStoreUnavailable, errors.New("connection refused"))
	store.On("Get", mock.Anything, mock.Anything).Return(nil, storeErr)
	store.On("IncrBy", mock.Anything, mock.Anything, int64(1)).Return(int64(0), storeErr)

	c := cache.New(store, database.NewKeys("test"), nil, metrics.New(nil), zap.NewNop())

	got, err := cache.GetOrSet(ctx, c, cache.ClassAttributes, "world", "state", func(context.Context) (payload, error) {
		return payload{Value: 3}, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, got.Value)

	// Invalidation failures are logged, not returned.
	c.Invalidate(ctx, "world")
	store.AssertNotCalled(t, "Set", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestPolicyTTL(t *testing.T) {
	p := cache.Policy{cache.ClassTally: time.Minute}
	assert.Equal(t, time.Minute, p.TTL(cache.ClassTally))
	assert.Equal(t, time.Hour, p.TTL(cache.ClassScene))
}
