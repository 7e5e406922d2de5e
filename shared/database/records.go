package database

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"worldvote/shared/interfaces"
	"worldvote/shared/models"
)

// RecordKind tags the shape stored under a key.
type RecordKind string

const (
	KindWorldState   RecordKind = "world_state"
	KindWorldHistory RecordKind = "world_history"
	KindVote         RecordKind = "vote"
	KindVoteResult   RecordKind = "vote_result"
	KindProfile      RecordKind = "profile"
	KindVoteHistory  RecordKind = "vote_history"
	KindLeaderboard  RecordKind = "leaderboard"
	KindDecision     RecordKind = "decision"
	KindCacheEntry   RecordKind = "cache_entry"
	KindMarker       RecordKind = "marker"
)

// currentSchema is the schema version written for each kind. Bump a kind's version
// when its shape changes and teach DecodeRecord to upgrade older payloads.
var currentSchema = map[RecordKind]int{
	KindWorldState:   1,
	KindWorldHistory: 1,
	KindVote:         1,
	KindVoteResult:   1,
	KindProfile:      1,
	KindVoteHistory:  1,
	KindLeaderboard:  1,
	KindDecision:     1,
	KindCacheEntry:   1,
	KindMarker:       1,
}

type envelope struct {
	Kind    RecordKind      `json:"kind"`
	Schema  int             `json:"schema"`
	SavedAt time.Time       `json:"savedAt"`
	Data    json.RawMessage `json:"data"`
}

// EncodeRecord serializes v inside a kind/schema envelope. Timestamps are RFC3339Nano
// (encoding/json's time.Time format), so no call site formats dates by hand.
func EncodeRecord(kind RecordKind, v interface{}) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", kind, err)
	}
	return json.Marshal(envelope{
		Kind:    kind,
		Schema:  currentSchema[kind],
		SavedAt: time.Now().UTC(),
		Data:    data,
	})
}

// DecodeRecord parses an envelope of the expected kind into dst.
// Any shape mismatch is reported as models.ErrCorruptedRecord.
func DecodeRecord(raw []byte, kind RecordKind, dst interface{}) error {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return fmt.Errorf("%w: %s envelope: %v", models.ErrCorruptedRecord, kind, err)
	}
	if env.Kind != kind {
		return fmt.Errorf("%w: expected kind %s, got %q", models.ErrCorruptedRecord, kind, env.Kind)
	}
	if env.Schema > currentSchema[kind] {
		return fmt.Errorf("%w: %s schema %d is newer than supported %d", models.ErrCorruptedRecord, kind, env.Schema, currentSchema[kind])
	}
	if err := json.Unmarshal(env.Data, dst); err != nil {
		return fmt.Errorf("%w: %s data: %v", models.ErrCorruptedRecord, kind, err)
	}
	return nil
}

// DecodeRecordRaw returns the data payload without unmarshalling it, for callers
// that need field-level fallback.
func DecodeRecordRaw(raw []byte, kind RecordKind) (json.RawMessage, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("%w: %s envelope: %v", models.ErrCorruptedRecord, kind, err)
	}
	if env.Kind != kind {
		return nil, fmt.Errorf("%w: expected kind %s, got %q", models.ErrCorruptedRecord, kind, env.Kind)
	}
	return env.Data, nil
}

// LoadRecord reads key and decodes it. Missing key yields models.ErrNotFound.
func LoadRecord(ctx context.Context, store interfaces.Store, key string, kind RecordKind, dst interface{}) error {
	raw, err := store.Get(ctx, key)
	if err != nil {
		return err
	}
	return DecodeRecord(raw, kind, dst)
}

// SaveRecord encodes v and writes it in a single Set.
func SaveRecord(ctx context.Context, store interfaces.Store, key string, kind RecordKind, v interface{}, ttl time.Duration) error {
	raw, err := EncodeRecord(kind, v)
	if err != nil {
		return err
	}
	return store.Set(ctx, key, raw, ttl)
}

// CreateRecord writes v only if key is absent. Returns false when the key already existed.
func CreateRecord(ctx context.Context, store interfaces.Store, key string, kind RecordKind, v interface{}, ttl time.Duration) (bool, error) {
	raw, err := EncodeRecord(kind, v)
	if err != nil {
		return false, err
	}
	return store.SetNX(ctx, key, raw, ttl)
}

// IsNotFound is a convenience for errors.Is(err, models.ErrNotFound).
func IsNotFound(err error) bool {
	return errors.Is(err, models.ErrNotFound)
}
