package interfaces

import (
	"context"
	"time"
)

// Store is the narrow key-value contract the engine is built on.
// It deliberately has no list, set, range or multi-key transaction primitives:
// ranking and indexing are layered on top of scalar keys.
//
// Implementations return models.ErrNotFound for a missing key on Get and
// wrap transport failures in models.ErrStoreUnavailable.
//
//go:generate mockery --name Store --output ./mocks --outpkg mocks --case=underscore
type Store interface {
	// Get returns the raw value stored at key.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set stores value at key. ttl <= 0 means no expiry.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// SetNX atomically stores value only if key does not exist.
	// Returns true if the value was written.
	SetNX(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error)

	// Del removes the keys. Missing keys are ignored.
	Del(ctx context.Context, keys ...string) error

	// Expire sets a TTL on an existing key. Returns false if the key does not exist.
	Expire(ctx context.Context, key string, ttl time.Duration) (bool, error)

	// IncrBy atomically adds delta to the integer at key (missing = 0) and returns the new value.
	IncrBy(ctx context.Context, key string, delta int64) (int64, error)

	// Ping checks that the store is reachable.
	Ping(ctx context.Context) error
}
