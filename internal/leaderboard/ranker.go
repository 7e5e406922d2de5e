// Package leaderboard ranks participants per (category, timeframe, period).
//
// Each bucket is a single index record holding every entry in rank order, so a
// bucket is always rewritten in one Set and readers never see a half-ranked list.
// Writers take a short per-bucket lock around the read-modify-write.
package leaderboard

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"worldvote/internal/effects"
	"worldvote/shared/database"
	"worldvote/shared/interfaces"
	"worldvote/shared/models"

	"go.uber.org/zap"
)

// Direction is the sort order of a category.
type Direction int

const (
	HigherIsBetter Direction = iota
	LowerIsBetter
)

var directions = map[models.LeaderboardCategory]Direction{
	models.LeaderboardTotalVotes:       HigherIsBetter,
	models.LeaderboardWinRate:          HigherIsBetter,
	models.LeaderboardCurrentStreak:    HigherIsBetter,
	models.LeaderboardLongestStreak:    HigherIsBetter,
	models.LeaderboardAchievementCount: HigherIsBetter,
	models.LeaderboardAverageImpact:    HigherIsBetter,
}

// Periodic buckets outlive their period long enough to be read back.
var bucketTTL = map[models.Timeframe]time.Duration{
	models.TimeframeAllTime: 0,
	models.TimeframeMonthly: 62 * 24 * time.Hour,
	models.TimeframeWeekly:  21 * 24 * time.Hour,
}

const (
	bucketLockTTL  = 10 * time.Second
	bucketLockWait = 10 * time.Second
)

// Update is one score to upsert.
type Update struct {
	ParticipantID string
	Category      models.LeaderboardCategory
	Timeframe     models.Timeframe
	Score         float64
	// Revision of the profile the score was derived from. An update older than
	// the stored entry is dropped; zero always applies.
	Revision      int64
}

type indexEntry struct {
	ParticipantID string    `json:"participantId"`
	Score         float64   `json:"score"`
	Rank          int       `json:"rank"`
	PreviousRank  int       `json:"previousRank,omitempty"`
	Revision      int64     `json:"revision,omitempty"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

type index struct {
	Category  models.LeaderboardCategory `json:"category"`
	Timeframe models.Timeframe           `json:"timeframe"`
	Period    string                     `json:"period,omitempty"`
	Entries   []indexEntry               `json:"entries"`
	UpdatedAt time.Time                  `json:"updatedAt"`
}

type bucket struct {
	category  models.LeaderboardCategory
	timeframe models.Timeframe
	period    string
}

// Ranker maintains the leaderboard buckets.
type Ranker struct {
	store  interfaces.Store
	keys   database.Keys
	logger *zap.Logger
	now    func() time.Time
}

// NewRanker creates a Ranker.
func NewRanker(store interfaces.Store, keys database.Keys, logger *zap.Logger) *Ranker {
	return &Ranker{
		store:  store,
		keys:   keys,
		logger: logger.Named("Leaderboard"),
		now:    time.Now,
	}
}

// WithClock overrides the clock used to pick the current period. Test helper.
func (r *Ranker) WithClock(now func() time.Time) *Ranker {
	r.now = now
	return r
}

func validate(category models.LeaderboardCategory, timeframe models.Timeframe) error {
	if !category.Valid() {
		return fmt.Errorf("%w: category %q", models.ErrUnknownMetric, category)
	}
	if !timeframe.Valid() {
		return fmt.Errorf("%w: timeframe %q", models.ErrUnknownMetric, timeframe)
	}
	return nil
}

// UpdateEntry upserts one participant's score in the current period bucket and re-ranks it.
func (r *Ranker) UpdateEntry(ctx context.Context, participantID string, category models.LeaderboardCategory, score float64, timeframe models.Timeframe) error {
	return r.UpdateEntries(ctx, []Update{{ParticipantID: participantID, Category: category, Timeframe: timeframe, Score: score}})
}

// UpdateEntries applies a batch of upserts, re-ranking each touched bucket once.
func (r *Ranker) UpdateEntries(ctx context.Context, updates []Update) error {
	now := r.now().UTC()
	grouped := make(map[bucket][]Update)
	var order []bucket
	for _, u := range updates {
		if err := validate(u.Category, u.Timeframe); err != nil {
			return err
		}
		if u.ParticipantID == "" || math.IsNaN(u.Score) || math.IsInf(u.Score, 0) {
			return fmt.Errorf("%w: leaderboard update for %q score %v", models.ErrInvalidInput, u.ParticipantID, u.Score)
		}
		b := bucket{category: u.Category, timeframe: u.Timeframe, period: u.Timeframe.PeriodKey(now)}
		if _, seen := grouped[b]; !seen {
			order = append(order, b)
		}
		grouped[b] = append(grouped[b], u)
	}

	for _, b := range order {
		if err := r.apply(ctx, b, grouped[b], now); err != nil {
			return err
		}
	}
	return nil
}

func (r *Ranker) apply(ctx context.Context, b bucket, updates []Update, now time.Time) error {
	key := r.keys.Leaderboard(string(b.category), string(b.timeframe), b.period)
	lockName := "leaderboard:" + string(b.category) + ":" + string(b.timeframe) + ":" + b.period
	return database.WithLease(ctx, r.store, r.keys.Lock(lockName), bucketLockTTL, bucketLockWait, r.logger, func(ctx context.Context) error {
		idx, err := r.load(ctx, b)
		if err != nil {
			return err
		}

		pos := make(map[string]int, len(idx.Entries))
		for i, e := range idx.Entries {
			pos[e.ParticipantID] = i
		}
		applied := 0
		for _, u := range updates {
			if i, ok := pos[u.ParticipantID]; ok {
				if u.Revision != 0 && u.Revision < idx.Entries[i].Revision {
					continue
				}
				idx.Entries[i].Score = u.Score
				idx.Entries[i].Revision = u.Revision
				idx.Entries[i].UpdatedAt = now
				applied++
				continue
			}
			pos[u.ParticipantID] = len(idx.Entries)
			idx.Entries = append(idx.Entries, indexEntry{ParticipantID: u.ParticipantID, Score: u.Score, Revision: u.Revision, UpdatedAt: now})
			applied++
		}
		if applied == 0 {
			r.logger.Debug("Leaderboard updates superseded", zap.String("key", key), zap.Int("updates", len(updates)))
			return nil
		}

		rank(idx.Entries, directions[b.category])
		idx.UpdatedAt = now

		if err := database.SaveRecord(ctx, r.store, key, database.KindLeaderboard, idx, bucketTTL[b.timeframe]); err != nil {
			return fmt.Errorf("save leaderboard %s: %w", key, err)
		}
		r.logger.Debug("Leaderboard bucket re-ranked", zap.String("key", key), zap.Int("entries", len(idx.Entries)), zap.Int("updates", applied))
		return nil
	})
}

// rank sorts entries by score in the given direction, ties by participant id, and
// assigns sequential ranks. Every entry that held a rank remembers it as PreviousRank.
func rank(entries []indexEntry, dir Direction) {
	sort.SliceStable(entries, func(i, j int) bool {
		a, b := entries[i], entries[j]
		if a.Score != b.Score {
			if dir == LowerIsBetter {
				return a.Score < b.Score
			}
			return a.Score > b.Score
		}
		return a.ParticipantID < b.ParticipantID
	})
	for i := range entries {
		entries[i].PreviousRank = entries[i].Rank
		entries[i].Rank = i + 1
	}
}

// GetLeaderboard returns the top limit entries of the current period bucket.
// limit <= 0 returns every entry.
func (r *Ranker) GetLeaderboard(ctx context.Context, category models.LeaderboardCategory, timeframe models.Timeframe, limit int) (*models.Leaderboard, error) {
	if err := validate(category, timeframe); err != nil {
		return nil, err
	}
	b := bucket{category: category, timeframe: timeframe, period: timeframe.PeriodKey(r.now())}
	idx, err := r.load(ctx, b)
	if err != nil {
		return nil, err
	}

	total := len(idx.Entries)
	n := total
	if limit > 0 && limit < n {
		n = limit
	}
	board := &models.Leaderboard{
		Category:          category,
		Timeframe:         timeframe,
		Period:            b.period,
		Entries:           make([]models.LeaderboardEntry, 0, n),
		TotalParticipants: total,
		UpdatedAt:         idx.UpdatedAt,
	}
	for _, e := range idx.Entries[:n] {
		board.Entries = append(board.Entries, models.LeaderboardEntry{
			ParticipantID: e.ParticipantID,
			Rank:          e.Rank,
			Score:         e.Score,
			Percentile:    Percentile(e.Rank, total),
			RankChange:    rankChange(e),
		})
	}
	return board, nil
}

// GetUserRank returns the participant's standing; an unranked participant is ErrNotFound.
func (r *Ranker) GetUserRank(ctx context.Context, participantID string, category models.LeaderboardCategory, timeframe models.Timeframe) (*models.UserRank, error) {
	if err := validate(category, timeframe); err != nil {
		return nil, err
	}
	idx, err := r.load(ctx, bucket{category: category, timeframe: timeframe, period: timeframe.PeriodKey(r.now())})
	if err != nil {
		return nil, err
	}
	for _, e := range idx.Entries {
		if e.ParticipantID != participantID {
			continue
		}
		return &models.UserRank{
			ParticipantID:     participantID,
			Category:          category,
			Timeframe:         timeframe,
			Rank:              e.Rank,
			Score:             e.Score,
			Percentile:        Percentile(e.Rank, len(idx.Entries)),
			TotalParticipants: len(idx.Entries),
		}, nil
	}
	return nil, fmt.Errorf("%w: %s is not ranked in %s/%s", models.ErrNotFound, participantID, category, timeframe)
}

// Percentile is (1 - (rank-1)/total) * 100 rounded to two decimals.
func Percentile(rank, total int) float64 {
	if total <= 0 || rank <= 0 {
		return 0
	}
	return effects.Round2((1 - float64(rank-1)/float64(total)) * 100)
}

func rankChange(e indexEntry) int {
	if e.PreviousRank == 0 {
		return 0
	}
	return e.PreviousRank - e.Rank
}

func (r *Ranker) load(ctx context.Context, b bucket) (*index, error) {
	key := r.keys.Leaderboard(string(b.category), string(b.timeframe), b.period)
	var idx index
	err := database.LoadRecord(ctx, r.store, key, database.KindLeaderboard, &idx)
	switch {
	case err == nil:
		return &idx, nil
	case errors.Is(err, models.ErrNotFound):
		return &index{Category: b.category, Timeframe: b.timeframe, Period: b.period}, nil
	case errors.Is(err, models.ErrCorruptedRecord):
		// Бакет можно пересобрать из профилей, поэтому начинаем заново.
		r.logger.Warn("Leaderboard bucket corrupted, rebuilding from scratch", zap.String("key", key), zap.Error(err))
		return &index{Category: b.category, Timeframe: b.timeframe, Period: b.period}, nil
	default:
		return nil, fmt.Errorf("load leaderboard %s: %w", key, err)
	}
}
