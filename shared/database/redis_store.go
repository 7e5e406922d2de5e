package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"worldvote/shared/interfaces"
	"worldvote/shared/models"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Compile-time check to ensure redisStore implements Store
var _ interfaces.Store = (*redisStore)(nil)

type redisStore struct {
	client    redis.UniversalClient
	logger    *zap.Logger
	opTimeout time.Duration
}

// NewRedisStore creates a Redis-backed Store. Every operation runs with opTimeout
// so that a stalled connection fails fast instead of blocking a resolution cycle.
func NewRedisStore(client redis.UniversalClient, opTimeout time.Duration, logger *zap.Logger) interfaces.Store {
	if opTimeout <= 0 {
		opTimeout = 2 * time.Second
	}
	return &redisStore{
		client:    client,
		logger:    logger.Named("RedisStore"),
		opTimeout: opTimeout,
	}
}

func (r *redisStore) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, r.opTimeout)
}

// unavailable wraps a transport error so callers can treat it as retryable.
func (r *redisStore) unavailable(op, key string, err error) error {
	r.logger.Error("Redis operation failed", zap.String("op", op), zap.String("key", key), zap.Error(err))
	return fmt.Errorf("%w: %s %s: %v", models.ErrStoreUnavailable, op, key, err)
}

func (r *redisStore) Get(ctx context.Context, key string) ([]byte, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	val, err := r.client.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, models.ErrNotFound
		}
		return nil, r.unavailable("GET", key, err)
	}
	return val, nil
}

func (r *redisStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	if ttl < 0 {
		ttl = 0
	}
	if err := r.client.Set(ctx, key, value, ttl).Err(); err != nil {
		return r.unavailable("SET", key, err)
	}
	return nil
}

func (r *redisStore) SetNX(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	if ttl < 0 {
		ttl = 0
	}
	created, err := r.client.SetNX(ctx, key, value, ttl).Result()
	if err != nil {
		return false, r.unavailable("SETNX", key, err)
	}
	r.logger.Debug("SETNX", zap.String("key", key), zap.Bool("created", created))
	return created, nil
}

func (r *redisStore) Del(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	if err := r.client.Del(ctx, keys...).Err(); err != nil {
		return r.unavailable("DEL", keys[0], err)
	}
	return nil
}

func (r *redisStore) Expire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	ok, err := r.client.Expire(ctx, key, ttl).Result()
	if err != nil {
		return false, r.unavailable("EXPIRE", key, err)
	}
	return ok, nil
}

func (r *redisStore) IncrBy(ctx context.Context, key string, delta int64) (int64, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	n, err := r.client.IncrBy(ctx, key, delta).Result()
	if err != nil {
		return 0, r.unavailable("INCRBY", key, err)
	}
	return n, nil
}

func (r *redisStore) Ping(ctx context.Context) error {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	if err := r.client.Ping(ctx).Err(); err != nil {
		return r.unavailable("PING", "", err)
	}
	return nil
}
