// Package achievements keeps participant profiles: vote counts, win streaks,
// average impact and unlocked achievements.
package achievements

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"worldvote/internal/effects"
	"worldvote/internal/metrics"
	"worldvote/shared/database"
	"worldvote/shared/interfaces"
	"worldvote/shared/models"

	"go.uber.org/zap"
)

const (
	// DefaultStreakGap is the longest pause between votes that keeps a streak alive.
	DefaultStreakGap = 48 * time.Hour
	// DefaultProfileTTL is refreshed on every profile write.
	DefaultProfileTTL = 365 * 24 * time.Hour

	impactDecay     = 0.9
	recentVotes     = 10
	nextAchievement = 3
	periodsKept     = 4

	profileLockTTL  = 10 * time.Second
	profileLockWait = 5 * time.Second
)

// Config holds profile policy.
type Config struct {
	ProfileTTL time.Duration
	StreakGap  time.Duration
}

// OutcomeResult describes one ApplyOutcome call.
type OutcomeResult struct {
	Profile *models.ParticipantProfile
	Awarded []models.Achievement
	// Applied is false when the outcome was already applied for this vote.
	Applied bool
}

type voteHistory struct {
	Votes []models.VoteRecord `json:"votes"`
}

type outcomeMarker struct {
	DecisionID string    `json:"decisionId"`
	Won        bool      `json:"won"`
	AppliedAt  time.Time `json:"appliedAt"`
}

type awardMarker struct {
	UnlockedAt time.Time `json:"unlockedAt"`
}

// Engine maintains participant profiles and awards achievements.
type Engine struct {
	store   interfaces.Store
	keys    database.Keys
	metrics *metrics.Metrics
	cfg     Config
	logger  *zap.Logger
	now     func() time.Time
}

// NewEngine creates an achievement Engine. Zero config values take the defaults.
func NewEngine(store interfaces.Store, keys database.Keys, m *metrics.Metrics, cfg Config, logger *zap.Logger) *Engine {
	if cfg.ProfileTTL <= 0 {
		cfg.ProfileTTL = DefaultProfileTTL
	}
	if cfg.StreakGap <= 0 {
		cfg.StreakGap = DefaultStreakGap
	}
	if m == nil {
		m = metrics.New(nil)
	}
	return &Engine{
		store:   store,
		keys:    keys,
		metrics: m,
		cfg:     cfg,
		logger:  logger.Named("Achievements"),
		now:     time.Now,
	}
}

// WithClock overrides the clock. Test helper.
func (e *Engine) WithClock(now func() time.Time) *Engine {
	e.now = now
	return e
}

// RecordVote counts a freshly accepted vote into the participant's profile, creating
// the profile on first vote, and returns the achievements it unlocked.
func (e *Engine) RecordVote(ctx context.Context, vote models.Vote) (*models.ParticipantProfile, []models.Achievement, error) {
	var (
		profile *models.ParticipantProfile
		awarded []models.Achievement
	)
	err := e.withProfileLock(ctx, vote.ParticipantID, func(ctx context.Context) error {
		var err error
		profile, err = e.loadOrCreate(ctx, vote.ParticipantID, vote.Timestamp)
		if err != nil {
			return err
		}

		profile.TotalVotes++
		if vote.Timestamp.After(profile.LastVoteDate) {
			profile.LastVoteDate = vote.Timestamp.UTC()
		}
		bumpPeriods(profile, vote.Timestamp, func(s *models.PeriodStats) { s.Votes++ })

		if err := e.appendVoteHistory(ctx, vote); err != nil {
			return err
		}
		if awarded, err = e.award(ctx, profile); err != nil {
			return err
		}
		return e.saveProfile(ctx, profile)
	})
	if err != nil {
		return nil, nil, err
	}
	e.logger.Debug("Vote counted", zap.String("participantID", vote.ParticipantID), zap.Int("totalVotes", profile.TotalVotes))
	return profile, awarded, nil
}

// ApplyOutcome updates streaks, wins and impact once a decision the participant voted
// on is resolved. The decision is recorded in the profile in the same write, so a
// retry after any failure applies the outcome exactly once.
func (e *Engine) ApplyOutcome(ctx context.Context, vote models.Vote, result *models.VoteResult) (*OutcomeResult, error) {
	var out *OutcomeResult
	err := e.withProfileLock(ctx, vote.ParticipantID, func(ctx context.Context) error {
		var err error
		out, err = e.applyOutcome(ctx, vote, result)
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (e *Engine) applyOutcome(ctx context.Context, vote models.Vote, result *models.VoteResult) (*OutcomeResult, error) {
	won := vote.OptionID == result.WinningOption.ID
	log := e.logger.With(zap.String("participantID", vote.ParticipantID), zap.String("decisionID", vote.DecisionID))

	profile, err := e.loadOrCreate(ctx, vote.ParticipantID, vote.Timestamp)
	if err != nil {
		return nil, err
	}
	if profile.OutcomeApplied(vote.DecisionID) {
		log.Info("Outcome already applied, skipping")
		return &OutcomeResult{Applied: false}, nil
	}
	// Старые решения вытеснены из профиля, для них остается маркер.
	markerKey := e.keys.Outcome(vote.DecisionID, vote.ParticipantID)
	switch _, err := e.store.Get(ctx, markerKey); {
	case err == nil:
		log.Info("Outcome already applied (marker), skipping")
		return &OutcomeResult{Applied: false}, nil
	case !errors.Is(err, models.ErrNotFound):
		return nil, fmt.Errorf("read outcome marker: %w", err)
	}

	if !profile.StreakAnchor.IsZero() && vote.Timestamp.Sub(profile.StreakAnchor) > e.cfg.StreakGap {
		log.Debug("Streak expired by inactivity", zap.Time("anchor", profile.StreakAnchor), zap.Int("streak", profile.CurrentStreak))
		profile.CurrentStreak = 0
	}
	if vote.Timestamp.After(profile.StreakAnchor) {
		profile.StreakAnchor = vote.Timestamp.UTC()
	}

	impact := 0
	if won {
		profile.WinningVotes++
		profile.CurrentStreak++
		if profile.CurrentStreak > profile.LongestStreak {
			profile.LongestStreak = profile.CurrentStreak
		}
		bumpPeriods(profile, vote.Timestamp, func(s *models.PeriodStats) { s.WinningVotes++ })
		impact = effects.TotalImpact(result.ActualChanges)
	} else {
		profile.CurrentStreak = 0
	}
	profile.AverageImpact = profile.AverageImpact*impactDecay + math.Abs(float64(impact))*(1-impactDecay)

	profile.AppliedOutcomes = append(profile.AppliedOutcomes, vote.DecisionID)
	if over := len(profile.AppliedOutcomes) - models.AppliedOutcomesCap; over > 0 {
		profile.AppliedOutcomes = append([]string(nil), profile.AppliedOutcomes[over:]...)
	}

	awarded, err := e.award(ctx, profile)
	if err != nil {
		return nil, err
	}
	if err := e.saveProfile(ctx, profile); err != nil {
		return nil, err
	}

	marker := outcomeMarker{DecisionID: vote.DecisionID, Won: won, AppliedAt: e.now().UTC()}
	if err := database.SaveRecord(ctx, e.store, markerKey, database.KindMarker, marker, e.cfg.ProfileTTL); err != nil {
		log.Warn("Failed to write outcome marker", zap.Error(err))
	}

	log.Info("Outcome applied",
		zap.Bool("won", won),
		zap.Int("currentStreak", profile.CurrentStreak),
		zap.Int("impact", impact),
		zap.Int("awarded", len(awarded)),
	)
	return &OutcomeResult{Profile: profile, Awarded: awarded, Applied: true}, nil
}

// Evaluate re-checks the catalog against the stored profile. Use it to repair an
// award whose guard was written but whose profile update was lost.
func (e *Engine) Evaluate(ctx context.Context, participantID string) ([]models.Achievement, error) {
	var awarded []models.Achievement
	err := e.withProfileLock(ctx, participantID, func(ctx context.Context) error {
		profile, err := e.GetProfile(ctx, participantID)
		if err != nil {
			return err
		}
		before := len(profile.Achievements)
		if awarded, err = e.award(ctx, profile); err != nil {
			return err
		}
		if len(profile.Achievements) == before {
			return nil
		}
		return e.saveProfile(ctx, profile)
	})
	if err != nil {
		return nil, err
	}
	return awarded, nil
}

// withProfileLock serializes read-modify-write cycles on one participant's profile.
func (e *Engine) withProfileLock(ctx context.Context, participantID string, fn func(ctx context.Context) error) error {
	if participantID == "" {
		return fmt.Errorf("%w: participant id is required", models.ErrInvalidInput)
	}
	return database.WithLease(ctx, e.store, e.keys.Lock("profile:"+participantID), profileLockTTL, profileLockWait, e.logger, fn)
}

// GetProfile returns the stored profile.
func (e *Engine) GetProfile(ctx context.Context, participantID string) (*models.ParticipantProfile, error) {
	var p models.ParticipantProfile
	if err := database.LoadRecord(ctx, e.store, e.keys.Profile(participantID), database.KindProfile, &p); err != nil {
		return nil, fmt.Errorf("profile %s: %w", participantID, err)
	}
	return &p, nil
}

// GetVoteHistory returns up to limit most recent votes, newest last.
func (e *Engine) GetVoteHistory(ctx context.Context, participantID string, limit int) ([]models.VoteRecord, error) {
	h, err := e.loadVoteHistory(ctx, participantID)
	if err != nil {
		return nil, err
	}
	votes := h.Votes
	if limit > 0 && len(votes) > limit {
		votes = votes[len(votes)-limit:]
	}
	return votes, nil
}

// GetParticipantStats returns the profile with derived statistics.
func (e *Engine) GetParticipantStats(ctx context.Context, participantID string) (*models.ParticipantStats, error) {
	profile, err := e.GetProfile(ctx, participantID)
	if err != nil {
		return nil, err
	}
	recent, err := e.GetVoteHistory(ctx, participantID, recentVotes)
	if err != nil {
		e.logger.Warn("Vote history unavailable for stats", zap.String("participantID", participantID), zap.Error(err))
		recent = nil
	}
	return &models.ParticipantStats{
		Profile:          *profile,
		WinRate:          effects.Round2(profile.WinRate()),
		AchievementCount: len(profile.Achievements),
		RecentVotes:      recent,
		NextAchievements: NextAchievements(profile, nextAchievement),
	}, nil
}

// NextAchievements returns up to n locked achievements closest to unlocking.
func NextAchievements(p *models.ParticipantProfile, n int) []models.AchievementProgress {
	var out []models.AchievementProgress
	for _, d := range Catalog {
		if p.HasAchievement(d.ID) {
			continue
		}
		out = append(out, models.AchievementProgress{
			ID:       d.ID,
			Name:     d.Name,
			Category: d.Category,
			Progress: effects.Round2(d.Progress(p)),
		})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Progress > out[j].Progress })
	if len(out) > n {
		out = out[:n]
	}
	return out
}

// award appends every newly satisfied achievement to the profile. The guard key makes
// the unlock count exactly once across concurrent evaluators; a guard that exists
// without a profile entry is a torn award and is repaired silently.
func (e *Engine) award(ctx context.Context, profile *models.ParticipantProfile) ([]models.Achievement, error) {
	var awarded []models.Achievement
	now := e.now().UTC()
	for _, def := range Eligible(profile) {
		created, err := database.CreateRecord(ctx, e.store, e.keys.AchievementGuard(profile.ParticipantID, def.ID),
			database.KindMarker, awardMarker{UnlockedAt: now}, e.cfg.ProfileTTL)
		if err != nil {
			return nil, fmt.Errorf("achievement guard %s: %w", def.ID, err)
		}
		a := models.Achievement{ID: def.ID, Category: def.Category, UnlockedAt: now}
		profile.Achievements = append(profile.Achievements, a)
		if !created {
			e.logger.Warn("Repaired achievement missing from profile", zap.String("participantID", profile.ParticipantID), zap.String("achievement", def.ID))
			continue
		}
		awarded = append(awarded, a)
		e.metrics.AchievementsAwarded.WithLabelValues(def.ID).Inc()
		e.logger.Info("Achievement unlocked", zap.String("participantID", profile.ParticipantID), zap.String("achievement", def.ID))
	}
	return awarded, nil
}

func (e *Engine) loadOrCreate(ctx context.Context, participantID string, joined time.Time) (*models.ParticipantProfile, error) {
	if participantID == "" {
		return nil, fmt.Errorf("%w: participant id is required", models.ErrInvalidInput)
	}
	p, err := e.GetProfile(ctx, participantID)
	if err == nil {
		return p, nil
	}
	if !errors.Is(err, models.ErrNotFound) {
		return nil, err
	}
	if joined.IsZero() {
		joined = e.now()
	}
	return &models.ParticipantProfile{
		ParticipantID: participantID,
		Achievements:  []models.Achievement{},
		JoinDate:      joined.UTC(),
		Periods:       map[string]models.PeriodStats{},
	}, nil
}

func (e *Engine) saveProfile(ctx context.Context, p *models.ParticipantProfile) error {
	p.Revision++
	if err := database.SaveRecord(ctx, e.store, e.keys.Profile(p.ParticipantID), database.KindProfile, p, e.cfg.ProfileTTL); err != nil {
		return fmt.Errorf("save profile %s: %w", p.ParticipantID, err)
	}
	return nil
}

func (e *Engine) loadVoteHistory(ctx context.Context, participantID string) (*voteHistory, error) {
	var h voteHistory
	err := database.LoadRecord(ctx, e.store, e.keys.VoteHistory(participantID), database.KindVoteHistory, &h)
	switch {
	case err == nil:
		return &h, nil
	case errors.Is(err, models.ErrNotFound):
		return &voteHistory{}, nil
	case errors.Is(err, models.ErrCorruptedRecord):
		e.logger.Warn("Vote history corrupted, starting over", zap.String("participantID", participantID), zap.Error(err))
		return &voteHistory{}, nil
	default:
		return nil, err
	}
}

func (e *Engine) appendVoteHistory(ctx context.Context, vote models.Vote) error {
	h, err := e.loadVoteHistory(ctx, vote.ParticipantID)
	if err != nil {
		return err
	}
	h.Votes = append(h.Votes, models.VoteRecord{DecisionID: vote.DecisionID, OptionID: vote.OptionID, VotedAt: vote.Timestamp.UTC()})
	if over := len(h.Votes) - models.VoteHistoryCap; over > 0 {
		h.Votes = append([]models.VoteRecord(nil), h.Votes[over:]...)
	}
	return database.SaveRecord(ctx, e.store, e.keys.VoteHistory(vote.ParticipantID), database.KindVoteHistory, h, e.cfg.ProfileTTL)
}

// bumpPeriods applies fn to the weekly and monthly buckets of t and drops old buckets.
func bumpPeriods(p *models.ParticipantProfile, t time.Time, fn func(*models.PeriodStats)) {
	if p.Periods == nil {
		p.Periods = map[string]models.PeriodStats{}
	}
	for _, tf := range []models.Timeframe{models.TimeframeWeekly, models.TimeframeMonthly} {
		key := tf.PeriodKey(t)
		s := p.Periods[key]
		fn(&s)
		p.Periods[key] = s
	}
	prunePeriods(p.Periods)
}

func prunePeriods(periods map[string]models.PeriodStats) {
	var weeks, months []string
	for k := range periods {
		if strings.Contains(k, "-W") {
			weeks = append(weeks, k)
		} else {
			months = append(months, k)
		}
	}
	for _, keys := range [][]string{weeks, months} {
		if len(keys) <= periodsKept {
			continue
		}
		sort.Strings(keys)
		for _, k := range keys[:len(keys)-periodsKept] {
			delete(periods, k)
		}
	}
}
