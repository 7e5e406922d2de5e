package database

import (
	"context"
	"strconv"
	"sync"
	"time"

	"worldvote/shared/interfaces"
	"worldvote/shared/models"
)

var _ interfaces.Store = (*MemoryStore)(nil)

type memoryItem struct {
	value     []byte
	expiresAt time.Time
}

func (i memoryItem) expired(now time.Time) bool {
	return !i.expiresAt.IsZero() && !now.Before(i.expiresAt)
}

// MemoryStore is an in-process Store with Redis-compatible semantics for the
// operations the engine uses. It backs unit tests and STORE_DRIVER=memory.
type MemoryStore struct {
	mu    sync.Mutex
	items map[string]memoryItem
	now   func() time.Time
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{items: make(map[string]memoryItem), now: time.Now}
}

// WithClock replaces the clock used for TTL evaluation.
func (m *MemoryStore) WithClock(now func() time.Time) *MemoryStore {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = now
	return m
}

// lookup must be called with mu held.
func (m *MemoryStore) lookup(key string) (memoryItem, bool) {
	item, ok := m.items[key]
	if !ok {
		return memoryItem{}, false
	}
	if item.expired(m.now()) {
		delete(m.items, key)
		return memoryItem{}, false
	}
	return item, true
}

func (m *MemoryStore) expiry(ttl time.Duration) time.Time {
	if ttl <= 0 {
		return time.Time{}
	}
	return m.now().Add(ttl)
}

func (m *MemoryStore) Get(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	item, ok := m.lookup(key)
	if !ok {
		return nil, models.ErrNotFound
	}
	out := make([]byte, len(item.value))
	copy(out, item.value)
	return out, nil
}

func (m *MemoryStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	buf := make([]byte, len(value))
	copy(buf, value)
	m.items[key] = memoryItem{value: buf, expiresAt: m.expiry(ttl)}
	return nil
}

func (m *MemoryStore) SetNX(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.lookup(key); ok {
		return false, nil
	}
	buf := make([]byte, len(value))
	copy(buf, value)
	m.items[key] = memoryItem{value: buf, expiresAt: m.expiry(ttl)}
	return true, nil
}

func (m *MemoryStore) Del(ctx context.Context, keys ...string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, k := range keys {
		delete(m.items, k)
	}
	return nil
}

func (m *MemoryStore) Expire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	item, ok := m.lookup(key)
	if !ok {
		return false, nil
	}
	if ttl <= 0 {
		// Redis deletes the key on a non-positive expire.
		delete(m.items, key)
		return true, nil
	}
	item.expiresAt = m.expiry(ttl)
	m.items[key] = item
	return true, nil
}

func (m *MemoryStore) IncrBy(ctx context.Context, key string, delta int64) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	var current int64
	item, ok := m.lookup(key)
	if ok {
		n, err := strconv.ParseInt(string(item.value), 10, 64)
		if err != nil {
			return 0, models.ErrCorruptedRecord
		}
		current = n
	}
	current += delta
	item.value = []byte(strconv.FormatInt(current, 10))
	m.items[key] = item
	return current, nil
}

func (m *MemoryStore) Ping(ctx context.Context) error {
	return ctx.Err()
}

// Len returns the number of live keys. Test helper.
func (m *MemoryStore) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for k := range m.items {
		if _, ok := m.lookup(k); ok {
			n++
		}
	}
	return n
}
