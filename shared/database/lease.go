package database

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"worldvote/shared/interfaces"
	"worldvote/shared/models"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	leaseRetryMin = 2 * time.Millisecond
	leaseRetryMax = 50 * time.Millisecond
)

// Lease is an advisory lock with an expiry, held by whoever created its key.
// It is not a mutex: if the TTL runs out before Release, another holder may start.
type Lease struct {
	store  interfaces.Store
	key    string
	token  string
	logger *zap.Logger
}

// AcquireLease creates key with a random token. If the key already exists the
// lease is held elsewhere and models.ErrLeaseHeld is returned.
func AcquireLease(ctx context.Context, store interfaces.Store, key string, ttl time.Duration, logger *zap.Logger) (*Lease, error) {
	token := uuid.NewString()
	ok, err := store.SetNX(ctx, key, []byte(token), ttl)
	if err != nil {
		return nil, fmt.Errorf("acquire lease %s: %w", key, err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", models.ErrLeaseHeld, key)
	}
	return &Lease{store: store, key: key, token: token, logger: logger}, nil
}

// AcquireLeaseWait retries AcquireLease with a growing pause until it succeeds,
// wait elapses or ctx is done. A timeout is reported as models.ErrLeaseHeld.
func AcquireLeaseWait(ctx context.Context, store interfaces.Store, key string, ttl, wait time.Duration, logger *zap.Logger) (*Lease, error) {
	deadline := time.Now().Add(wait)
	pause := leaseRetryMin
	for {
		lease, err := AcquireLease(ctx, store, key, ttl, logger)
		if err == nil || !errors.Is(err, models.ErrLeaseHeld) {
			return lease, err
		}
		if !time.Now().Add(pause).Before(deadline) {
			return nil, err
		}
		// Случайный сдвиг, чтобы ожидающие не просыпались одновременно.
		t := time.NewTimer(pause/2 + time.Duration(rand.Int63n(int64(pause/2+1))))
		select {
		case <-ctx.Done():
			t.Stop()
			return nil, fmt.Errorf("wait for lease %s: %w", key, ctx.Err())
		case <-t.C:
		}
		if pause *= 2; pause > leaseRetryMax {
			pause = leaseRetryMax
		}
	}
}

// WithLease runs fn while holding key. The lease is released even if ctx is
// cancelled while fn runs.
func WithLease(ctx context.Context, store interfaces.Store, key string, ttl, wait time.Duration, logger *zap.Logger, fn func(ctx context.Context) error) error {
	lease, err := AcquireLeaseWait(ctx, store, key, ttl, wait, logger)
	if err != nil {
		return err
	}
	defer func() {
		if relErr := lease.Release(context.WithoutCancel(ctx)); relErr != nil {
			logger.Error("Failed to release lease", zap.String("key", key), zap.Error(relErr))
		}
	}()
	return fn(ctx)
}

// Release deletes the lease key if it still carries this lease's token.
// A lease that already expired (or was taken over) is left alone.
func (l *Lease) Release(ctx context.Context) error {
	raw, err := l.store.Get(ctx, l.key)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			l.logger.Warn("Lease expired before release", zap.String("key", l.key))
			return nil
		}
		return fmt.Errorf("read lease %s: %w", l.key, err)
	}
	if string(raw) != l.token {
		l.logger.Warn("Lease was taken over by another holder, not releasing", zap.String("key", l.key))
		return nil
	}
	if err := l.store.Del(ctx, l.key); err != nil {
		return fmt.Errorf("release lease %s: %w", l.key, err)
	}
	return nil
}

// Token identifies this holder.
func (l *Lease) Token() string { return l.token }
