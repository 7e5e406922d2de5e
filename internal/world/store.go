package world

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"worldvote/internal/cache"
	"worldvote/internal/effects"
	"worldvote/internal/metrics"
	"worldvote/shared/database"
	"worldvote/shared/interfaces"
	"worldvote/shared/models"

	"go.uber.org/zap"
)

const cachePrefix = "world"

// SeedLore is written to the lore log when the world is first created.
var SeedLore = []string{
	"The settlement was founded on the banks of a quiet river.",
	"Its people agreed that every great choice would be made together.",
	"The first council fire was lit, and the chronicle began.",
}

// DefaultState returns the zeroed world with the seed lore log.
func DefaultState(now time.Time) models.WorldState {
	lore := make([]string, len(SeedLore))
	copy(lore, SeedLore)
	return models.WorldState{
		Attributes:  models.WorldAttributes{},
		LoreLog:     lore,
		Version:     0,
		LastUpdated: now.UTC(),
	}
}

// UpdateResult describes one UpdateAttributes call.
type UpdateResult struct {
	State     models.WorldState
	Requested models.WorldAttributeEffects
	Actual    models.WorldAttributeEffects
	History   *models.WorldHistoryEntry
	// Applied is false when the call was an idempotent replay of decisionID.
	Applied bool
}

type historyRecord struct {
	Entries []models.WorldHistoryEntry `json:"entries"`
}

// Store owns the world state singleton and its history log.
type Store struct {
	store   interfaces.Store
	keys    database.Keys
	cache   *cache.Cache
	metrics *metrics.Metrics
	logger  *zap.Logger
	now     func() time.Time
}

// NewStore creates the World State Store.
func NewStore(store interfaces.Store, keys database.Keys, c *cache.Cache, m *metrics.Metrics, logger *zap.Logger) *Store {
	if m == nil {
		m = metrics.New(nil)
	}
	return &Store{
		store:   store,
		keys:    keys,
		cache:   c,
		metrics: m,
		logger:  logger.Named("WorldStore"),
		now:     time.Now,
	}
}

// WithClock overrides the clock. Test helper.
func (s *Store) WithClock(now func() time.Time) *Store {
	s.now = now
	return s
}

// Initialize creates the default world if none exists and returns the current state.
// Safe to call on every process start. A corrupted existing record is returned as an
// error rather than overwritten.
func (s *Store) Initialize(ctx context.Context) (*models.WorldState, error) {
	state := DefaultState(s.now())
	created, err := database.CreateRecord(ctx, s.store, s.keys.WorldState(), database.KindWorldState, state, 0)
	if err != nil {
		return nil, fmt.Errorf("initialize world state: %w", err)
	}
	if created {
		s.logger.Info("World state created with defaults", zap.Int("loreEntries", len(state.LoreLog)))
		s.cache.Invalidate(ctx, cachePrefix)
		return &state, nil
	}

	existing, err := s.load(ctx)
	if err != nil {
		if errors.Is(err, models.ErrCorruptedRecord) {
			s.logger.Error("CRITICAL: stored world state is corrupted, refusing to reset", zap.Error(err))
		}
		return nil, fmt.Errorf("load existing world state: %w", err)
	}
	s.logger.Info("World state loaded", zap.Int64("version", existing.Version))
	s.metrics.WorldVersion.Set(float64(existing.Version))
	return existing, nil
}

// GetCurrentState returns the current world, served from the attributes cache class.
func (s *Store) GetCurrentState(ctx context.Context) (*models.WorldState, error) {
	state, err := cache.GetOrSet(ctx, s.cache, cache.ClassAttributes, cachePrefix, "state", s.load)
	if err != nil {
		return nil, err
	}
	return state, nil
}

// UpdateAttributes applies effects to the world in a single record write and appends
// a history entry when anything actually changed. Replaying the decisionID the world
// last applied is a no-op.
func (s *Store) UpdateAttributes(ctx context.Context, fx models.WorldAttributeEffects, loreEntry, decisionID string) (*UpdateResult, error) {
	if err := effects.ValidateEffectLimits(fx); err != nil {
		return nil, err
	}

	state, err := s.load(ctx)
	if err != nil {
		return nil, fmt.Errorf("load world state for update: %w", err)
	}

	if decisionID != "" && state.LastDecisionID == decisionID {
		res := &UpdateResult{State: *state, Requested: fx, Applied: false}
		if state.PendingHistory != nil && state.PendingHistory.DecisionID == decisionID {
			res.Actual = state.PendingHistory.Changes
			res.History = state.PendingHistory
		}
		s.logger.Info("Decision already applied to world, skipping", zap.String("decisionID", decisionID), zap.Int64("version", state.Version))
		return res, nil
	}

	// Heal a torn previous write before the pending slot is reused.
	if _, err := s.repairHistory(ctx, state); err != nil {
		return nil, err
	}

	now := s.now().UTC()
	before := state.Attributes
	after, actual := effects.ApplyEffects(before, fx)

	state.Attributes = after
	if loreEntry != "" {
		state.LoreLog = appendCapped(state.LoreLog, loreEntry, models.LoreLogCap)
	}
	state.Version++
	state.LastUpdated = now
	if decisionID != "" {
		state.LastDecisionID = decisionID
	}

	var entry *models.WorldHistoryEntry
	if !actual.IsZero() {
		entry = &models.WorldHistoryEntry{
			Version:          state.Version,
			Timestamp:        now,
			DecisionID:       decisionID,
			AttributesBefore: before,
			AttributesAfter:  after,
			Changes:          actual,
			LoreEntry:        loreEntry,
		}
	}
	state.PendingHistory = entry

	if err := database.SaveRecord(ctx, s.store, s.keys.WorldState(), database.KindWorldState, state, 0); err != nil {
		return nil, fmt.Errorf("persist world state: %w", err)
	}
	s.cache.Invalidate(ctx, cachePrefix)
	s.metrics.WorldVersion.Set(float64(state.Version))

	if entry != nil {
		if err := s.appendHistory(ctx, *entry); err != nil {
			// Состояние уже сохранено; Reconcile допишет историю.
			s.logger.Error("World history append failed, pending entry kept for reconcile",
				zap.Int64("version", entry.Version), zap.Error(err))
		}
	}

	s.logger.Info("World attributes updated",
		zap.Int64("version", state.Version),
		zap.String("decisionID", decisionID),
		zap.Any("requested", fx),
		zap.Any("actual", actual),
	)
	return &UpdateResult{State: *state, Requested: fx, Actual: actual, History: entry, Applied: true}, nil
}

// GetHistory returns up to limit most recent history entries, oldest first.
// limit <= 0 returns the whole log.
func (s *Store) GetHistory(ctx context.Context, limit int) ([]models.WorldHistoryEntry, error) {
	rec, err := s.loadHistory(ctx)
	if err != nil {
		return nil, err
	}
	entries := rec.Entries
	if limit > 0 && len(entries) > limit {
		entries = entries[len(entries)-limit:]
	}
	return entries, nil
}

// Reconcile appends a pending history entry that a torn write left out of the
// history log. It reports whether a repair was made.
func (s *Store) Reconcile(ctx context.Context) (bool, error) {
	state, err := s.load(ctx)
	if err != nil {
		return false, err
	}
	return s.repairHistory(ctx, state)
}

// Reset restores the default world and clears history. The version keeps
// increasing so cached readers never see an older version number as newer.
func (s *Store) Reset(ctx context.Context) (*models.WorldState, error) {
	state := DefaultState(s.now())
	if current, err := s.load(ctx); err == nil {
		state.Version = current.Version + 1
	} else if !errors.Is(err, models.ErrNotFound) {
		s.logger.Warn("Resetting over unreadable world state", zap.Error(err))
	}

	if err := database.SaveRecord(ctx, s.store, s.keys.WorldState(), database.KindWorldState, state, 0); err != nil {
		return nil, fmt.Errorf("reset world state: %w", err)
	}
	if err := s.store.Del(ctx, s.keys.WorldHistory()); err != nil {
		return nil, fmt.Errorf("clear world history: %w", err)
	}
	s.cache.Invalidate(ctx, cachePrefix)
	s.metrics.WorldVersion.Set(float64(state.Version))
	s.logger.Warn("World state reset to defaults", zap.Int64("version", state.Version))
	return &state, nil
}

// Analysis bundles the current state with balance, trends over window and alerts.
func (s *Store) Analysis(ctx context.Context, window int) (*models.WorldAnalysis, error) {
	state, err := s.GetCurrentState(ctx)
	if err != nil {
		return nil, err
	}
	history, err := s.GetHistory(ctx, window)
	if err != nil {
		return nil, err
	}
	return &models.WorldAnalysis{
		State:        *state,
		BalanceScore: effects.BalanceScore(state.Attributes),
		Trends:       effects.Trends(history, window),
		Alerts:       effects.CriticalState(state.Attributes),
	}, nil
}

func (s *Store) repairHistory(ctx context.Context, state *models.WorldState) (bool, error) {
	if state.PendingHistory == nil {
		return false, nil
	}
	rec, err := s.loadHistory(ctx)
	if err != nil {
		return false, err
	}
	if n := len(rec.Entries); n > 0 && rec.Entries[n-1].Version >= state.PendingHistory.Version {
		return false, nil
	}
	if err := s.appendHistory(ctx, *state.PendingHistory); err != nil {
		return false, fmt.Errorf("repair world history: %w", err)
	}
	s.logger.Warn("Repaired torn world write: pending history entry appended", zap.Int64("version", state.PendingHistory.Version))
	return true, nil
}

func (s *Store) appendHistory(ctx context.Context, entry models.WorldHistoryEntry) error {
	rec, err := s.loadHistory(ctx)
	if err != nil {
		return err
	}
	if n := len(rec.Entries); n > 0 && rec.Entries[n-1].Version >= entry.Version {
		return nil
	}
	rec.Entries = append(rec.Entries, entry)
	if over := len(rec.Entries) - models.HistoryCap; over > 0 {
		rec.Entries = append([]models.WorldHistoryEntry(nil), rec.Entries[over:]...)
	}
	return database.SaveRecord(ctx, s.store, s.keys.WorldHistory(), database.KindWorldHistory, rec, 0)
}

// loadHistory treats a corrupted history log as empty: it is an audit trail, not
// the authoritative state.
func (s *Store) loadHistory(ctx context.Context) (*historyRecord, error) {
	var rec historyRecord
	err := database.LoadRecord(ctx, s.store, s.keys.WorldHistory(), database.KindWorldHistory, &rec)
	switch {
	case err == nil:
		return &rec, nil
	case errors.Is(err, models.ErrNotFound):
		return &historyRecord{}, nil
	case errors.Is(err, models.ErrCorruptedRecord):
		s.logger.Warn("World history is corrupted, starting from an empty log", zap.Error(err))
		return &historyRecord{}, nil
	default:
		return nil, fmt.Errorf("load world history: %w", err)
	}
}

type stateWire struct {
	Attributes     json.RawMessage `json:"attributes"`
	LoreLog        json.RawMessage `json:"loreLog"`
	Version        json.RawMessage `json:"version"`
	LastUpdated    json.RawMessage `json:"lastUpdated"`
	LastDecisionID string          `json:"lastDecisionId"`
	PendingHistory json.RawMessage `json:"pendingHistory"`
}

// load reads the world record bypassing the cache. Attributes and version are
// authoritative and fail loudly; lore, timestamp and pending history fall back
// to defaults with a warning.
func (s *Store) load(ctx context.Context) (*models.WorldState, error) {
	raw, err := s.store.Get(ctx, s.keys.WorldState())
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil, fmt.Errorf("world state: %w", models.ErrNotFound)
		}
		return nil, err
	}
	data, err := database.DecodeRecordRaw(raw, database.KindWorldState)
	if err != nil {
		return nil, err
	}
	var wire stateWire
	if err := json.Unmarshal(data, &wire); err != nil {
		return nil, fmt.Errorf("%w: world state: %v", models.ErrCorruptedRecord, err)
	}

	state := DefaultState(time.Time{})
	state.LastUpdated = time.Time{}

	if err := json.Unmarshal(wire.Attributes, &state.Attributes); err != nil {
		return nil, fmt.Errorf("%w: world attributes: %v", models.ErrCorruptedRecord, err)
	}
	if err := effects.ValidateAttributes(state.Attributes); err != nil {
		return nil, fmt.Errorf("%w: world attributes: %v", models.ErrCorruptedRecord, err)
	}
	if err := json.Unmarshal(wire.Version, &state.Version); err != nil {
		return nil, fmt.Errorf("%w: world version: %v", models.ErrCorruptedRecord, err)
	}

	var lore []string
	if err := json.Unmarshal(wire.LoreLog, &lore); err != nil {
		s.logger.Warn("World lore log unreadable, using seed lore", zap.Error(err))
	} else {
		state.LoreLog = lore
	}
	if err := json.Unmarshal(wire.LastUpdated, &state.LastUpdated); err != nil {
		s.logger.Warn("World timestamp unreadable, using zero time", zap.Error(err))
	}
	state.LastDecisionID = wire.LastDecisionID
	if len(wire.PendingHistory) > 0 && string(wire.PendingHistory) != "null" {
		var pending models.WorldHistoryEntry
		if err := json.Unmarshal(wire.PendingHistory, &pending); err != nil {
			s.logger.Warn("Pending history entry unreadable, dropping it", zap.Error(err))
		} else {
			state.PendingHistory = &pending
		}
	}
	return &state, nil
}

// appendCapped appends entry and keeps the newest limit items in order.
func appendCapped(log []string, entry string, limit int) []string {
	log = append(log, entry)
	if over := len(log) - limit; over > 0 {
		log = append([]string(nil), log[over:]...)
	}
	return log
}
