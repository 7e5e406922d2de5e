// Package engine is the collective decision engine: it wires the ledger, the world
// store, participant profiles and leaderboards into the operations the orchestration
// layer calls.
package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"worldvote/internal/achievements"
	"worldvote/internal/ballot"
	"worldvote/internal/cache"
	"worldvote/internal/config"
	"worldvote/internal/leaderboard"
	"worldvote/internal/metrics"
	"worldvote/internal/world"
	"worldvote/shared/database"
	"worldvote/shared/interfaces"
	"worldvote/shared/models"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const resolutionLock = "resolution"

// Options configures an Engine.
type Options struct {
	KeyPrefix                   string
	CachePolicy                 cache.Policy
	ProfileTTL                  time.Duration
	VoteTTL                     time.Duration
	StreakGap                   time.Duration
	LeaseTTL                    time.Duration
	LockWait                    time.Duration
	DefaultOptionID             string
	DefaultEligibleParticipants int
	LeaderboardDefaultLimit     int
	// TrendWindow is the number of history entries analysed for trends.
	TrendWindow int
}

// OptionsFromConfig maps the process configuration onto engine options.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		KeyPrefix: cfg.KeyPrefix,
		CachePolicy: cache.Policy{
			cache.ClassAttributes: cfg.CacheTTLAttributes,
			cache.ClassDecision:   cfg.CacheTTLDecision,
			cache.ClassTally:      cfg.CacheTTLTally,
			cache.ClassScene:      cfg.CacheTTLScene,
		},
		ProfileTTL:                  cfg.ProfileTTL,
		VoteTTL:                     cfg.VoteTTL,
		StreakGap:                   cfg.StreakGap,
		LeaseTTL:                    cfg.ResolutionLeaseTTL,
		LockWait:                    cfg.LockWait,
		DefaultOptionID:             cfg.DefaultOptionID,
		DefaultEligibleParticipants: cfg.DefaultEligibleParticipants,
		LeaderboardDefaultLimit:     cfg.LeaderboardDefaultLimit,
	}
}

// Engine is the explicit context object that owns every component. Create one per
// process (or per test); nothing is shared through package state.
type Engine struct {
	store        interfaces.Store
	keys         database.Keys
	cache        *cache.Cache
	world        *world.Store
	ledger       *ballot.Ledger
	achievements *achievements.Engine
	ranker       *leaderboard.Ranker
	publisher    interfaces.ResultPublisher
	archive      interfaces.ResultArchive
	metrics      *metrics.Metrics
	opts         Options
	logger       *zap.Logger
	now          func() time.Time
}

// New builds an Engine on top of store. publisher and archive are optional.
func New(store interfaces.Store, opts Options, publisher interfaces.ResultPublisher, archive interfaces.ResultArchive, m *metrics.Metrics, logger *zap.Logger) *Engine {
	if m == nil {
		m = metrics.New(nil)
	}
	if opts.LeaseTTL <= 0 {
		opts.LeaseTTL = 2 * time.Minute
	}
	if opts.LockWait <= 0 {
		opts.LockWait = 5 * time.Second
	}
	if opts.LeaderboardDefaultLimit <= 0 {
		opts.LeaderboardDefaultLimit = 10
	}
	if opts.TrendWindow <= 0 {
		opts.TrendWindow = 10
	}

	keys := database.NewKeys(opts.KeyPrefix)
	c := cache.New(store, keys, opts.CachePolicy, m, logger)
	return &Engine{
		store:  store,
		keys:   keys,
		cache:  c,
		world:  world.NewStore(store, keys, c, m, logger),
		ledger: ballot.NewLedger(store, keys, c, m, ballot.Config{VoteTTL: opts.VoteTTL, DefaultOptionID: opts.DefaultOptionID}, logger),
		achievements: achievements.NewEngine(store, keys, m, achievements.Config{
			ProfileTTL: opts.ProfileTTL,
			StreakGap:  opts.StreakGap,
		}, logger),
		ranker:    leaderboard.NewRanker(store, keys, logger),
		publisher: publisher,
		archive:   archive,
		metrics:   m,
		opts:      opts,
		logger:    logger.Named("Engine"),
		now:       time.Now,
	}
}

// WithClock overrides the clock of the engine and all of its components. Test helper.
func (e *Engine) WithClock(now func() time.Time) *Engine {
	e.now = now
	e.cache.WithClock(now)
	e.world.WithClock(now)
	e.ledger.WithClock(now)
	e.achievements.WithClock(now)
	e.ranker.WithClock(now)
	return e
}

// Initialize creates the world if needed and heals a torn world write left by a crash.
func (e *Engine) Initialize(ctx context.Context) (*models.WorldState, error) {
	state, err := e.world.Initialize(ctx)
	if err != nil {
		return nil, err
	}
	lease, err := database.AcquireLease(ctx, e.store, e.keys.Lock(resolutionLock), e.opts.LeaseTTL, e.logger)
	if errors.Is(err, models.ErrLeaseHeld) {
		// Мир сейчас меняет другой процесс, он же и допишет историю.
		e.logger.Info("World is being updated elsewhere, skipping startup reconcile")
		return state, nil
	}
	if err != nil {
		return nil, err
	}
	defer e.release(ctx, lease)

	repaired, err := e.world.Reconcile(ctx)
	if err != nil {
		return nil, fmt.Errorf("reconcile world history: %w", err)
	}
	if repaired {
		e.logger.Warn("World history repaired at startup")
	}
	return state, nil
}

// SubmitVote records a vote on a registered decision. Profile and leaderboard
// updates that follow are best-effort and never undo the recorded vote.
func (e *Engine) SubmitVote(ctx context.Context, participantID, decisionID, optionID string) (*models.Vote, error) {
	if decisionID == "" {
		current, err := e.ledger.GetCurrentDecision(ctx)
		if err != nil {
			return nil, err
		}
		decisionID = current.ID
	}
	decision, err := e.ledger.GetDecision(ctx, decisionID)
	if err != nil {
		return nil, err
	}
	vote, err := e.ledger.SubmitVoteFor(ctx, decision, participantID, optionID)
	if err != nil {
		return nil, err
	}

	profile, _, err := e.achievements.RecordVote(ctx, *vote)
	if err != nil {
		e.sideEffectFailed("record_vote", err, zap.String("participantID", participantID))
		return vote, nil
	}
	if err := e.ranker.UpdateEntries(ctx, leaderboard.UpdatesFor(profile, e.now())); err != nil {
		e.sideEffectFailed("leaderboard", err, zap.String("participantID", participantID))
	}
	return vote, nil
}

// Resolve runs one resolution cycle for a decision: tally, winner, world update,
// profile outcomes, leaderboards, publication and archiving. Cycles are serialized
// by a lease, and every step is safe to retry: a retried cycle reuses the stored
// result and skips whatever was already applied.
func (e *Engine) Resolve(ctx context.Context, decisionID string, eligible int) (result *models.VoteResult, err error) {
	start := e.now()
	outcome := "resolved"
	defer func() {
		if err != nil {
			switch {
			case errors.Is(err, models.ErrLeaseHeld):
				outcome = "lease_held"
			case errors.Is(err, models.ErrNoVotesCast):
				outcome = "no_votes"
			default:
				outcome = "error"
			}
		}
		e.metrics.Resolutions.WithLabelValues(outcome).Inc()
		e.metrics.ResolutionDuration.Observe(e.now().Sub(start).Seconds())
	}()

	lease, err := database.AcquireLease(ctx, e.store, e.keys.Lock(resolutionLock), e.opts.LeaseTTL, e.logger)
	if err != nil {
		return nil, err
	}
	defer e.release(ctx, lease)

	log := e.logger.With(zap.String("decisionID", decisionID), zap.String("lease", lease.Token()))

	decision, err := e.ledger.GetDecision(ctx, decisionID)
	if err != nil {
		return nil, err
	}
	if eligible <= 0 {
		eligible = e.opts.DefaultEligibleParticipants
	}

	result, err = e.ledger.GetResult(ctx, decisionID)
	switch {
	case err == nil:
		log.Info("Resuming resolution from stored result", zap.String("winner", result.WinningOption.ID))
	case errors.Is(err, models.ErrNotFound), errors.Is(err, models.ErrCorruptedRecord):
		result, err = e.ledger.Resolve(ctx, decision, eligible)
		if err != nil {
			return nil, err
		}
		if err := e.ledger.SaveResult(ctx, result); err != nil {
			return nil, fmt.Errorf("store result: %w", err)
		}
	default:
		return nil, fmt.Errorf("load stored result: %w", err)
	}
	if result.FallbackUsed {
		outcome = "fallback"
	}

	var historyEntry *models.WorldHistoryEntry
	if result.WorldVersion == 0 {
		upd, err := e.world.UpdateAttributes(ctx, result.AttributeChanges, result.WinningOption.Lore, decision.ID)
		if err != nil {
			return nil, fmt.Errorf("apply outcome to world: %w", err)
		}
		historyEntry = upd.History
		result.ActualChanges = upd.Actual
		result.WorldVersion = upd.State.Version
		if err := e.ledger.SaveResult(ctx, result); err != nil {
			// Мир уже обновлен; повтор не применит решение дважды.
			e.sideEffectFailed("save_result", err, zap.String("decisionID", decisionID))
		}
	}

	e.applyOutcomes(ctx, decision, result)
	e.publish(ctx, result)
	e.archiveResult(ctx, result, historyEntry)

	log.Info("Decision resolved",
		zap.String("winner", result.WinningOption.ID),
		zap.Int64("votes", result.Tally.Total),
		zap.Float64("participation", result.ParticipationRate),
		zap.Bool("fallback", result.FallbackUsed),
		zap.Int64("worldVersion", result.WorldVersion),
	)
	return result, nil
}

func (e *Engine) applyOutcomes(ctx context.Context, decision *models.Decision, result *models.VoteResult) {
	votes, err := e.ledger.Voters(ctx, decision.ID)
	if err != nil {
		e.sideEffectFailed("voters", err, zap.String("decisionID", decision.ID))
		return
	}

	now := e.now()
	var updates []leaderboard.Update
	for _, v := range votes {
		out, err := e.achievements.ApplyOutcome(ctx, v, result)
		if err != nil {
			e.sideEffectFailed("outcome", err, zap.String("participantID", v.ParticipantID))
			continue
		}
		if !out.Applied {
			continue
		}
		updates = append(updates, leaderboard.UpdatesFor(out.Profile, now)...)
	}
	if len(updates) == 0 {
		return
	}
	if err := e.ranker.UpdateEntries(ctx, updates); err != nil {
		e.sideEffectFailed("leaderboard", err, zap.String("decisionID", decision.ID))
	}
}

func (e *Engine) publish(ctx context.Context, result *models.VoteResult) {
	if e.publisher == nil {
		return
	}
	event := models.VoteResultEvent{
		EventID:     uuid.New(),
		Result:      *result,
		PublishedAt: e.now().UTC(),
	}
	if analysis, err := e.world.Analysis(ctx, e.opts.TrendWindow); err == nil {
		event.World = *analysis
	} else {
		e.logger.Warn("World analysis unavailable for result event", zap.Error(err))
	}
	if err := e.publisher.PublishVoteResult(ctx, event); err != nil {
		e.sideEffectFailed("publish", err, zap.String("decisionID", result.DecisionID))
	}
}

func (e *Engine) archiveResult(ctx context.Context, result *models.VoteResult, entry *models.WorldHistoryEntry) {
	if e.archive == nil {
		return
	}
	if err := e.archive.ArchiveResult(ctx, *result, entry); err != nil {
		e.sideEffectFailed("archive", err, zap.String("decisionID", result.DecisionID))
	}
}

func (e *Engine) release(ctx context.Context, lease *database.Lease) {
	if err := lease.Release(context.WithoutCancel(ctx)); err != nil {
		e.logger.Error("Failed to release resolution lease", zap.Error(err))
	}
}

// withWorldLease runs fn under the resolution lease, waiting up to LockWait for a
// running cycle. Every world mutation outside a cycle goes through here.
func (e *Engine) withWorldLease(ctx context.Context, fn func(ctx context.Context) error) error {
	return database.WithLease(ctx, e.store, e.keys.Lock(resolutionLock), e.opts.LeaseTTL, e.opts.LockWait, e.logger, fn)
}

func (e *Engine) sideEffectFailed(step string, err error, fields ...zap.Field) {
	e.metrics.SideEffectFailures.WithLabelValues(step).Inc()
	e.logger.Error("Best-effort step failed", append(fields, zap.String("step", step), zap.Error(err))...)
}

// GetCurrentState returns the current world.
func (e *Engine) GetCurrentState(ctx context.Context) (*models.WorldState, error) {
	return e.world.GetCurrentState(ctx)
}

// UpdateAttributes applies an administrative effect outside a decision.
// models.ErrLeaseHeld means a resolution cycle kept the world busy too long.
func (e *Engine) UpdateAttributes(ctx context.Context, fx models.WorldAttributeEffects, loreEntry string) (*world.UpdateResult, error) {
	var res *world.UpdateResult
	err := e.withWorldLease(ctx, func(ctx context.Context) error {
		var err error
		res, err = e.world.UpdateAttributes(ctx, fx, loreEntry, "")
		return err
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

// Analysis returns the world with balance, trends and alerts.
func (e *Engine) Analysis(ctx context.Context) (*models.WorldAnalysis, error) {
	return e.world.Analysis(ctx, e.opts.TrendWindow)
}

// History returns up to limit most recent world transitions.
func (e *Engine) History(ctx context.Context, limit int) ([]models.WorldHistoryEntry, error) {
	return e.world.GetHistory(ctx, limit)
}

// Reconcile repairs a torn world write.
func (e *Engine) Reconcile(ctx context.Context) (bool, error) {
	var repaired bool
	err := e.withWorldLease(ctx, func(ctx context.Context) error {
		var err error
		repaired, err = e.world.Reconcile(ctx)
		return err
	})
	return repaired, err
}

// ResetWorld restores the default world. Administration and testing only.
func (e *Engine) ResetWorld(ctx context.Context) (*models.WorldState, error) {
	var state *models.WorldState
	err := e.withWorldLease(ctx, func(ctx context.Context) error {
		var err error
		state, err = e.world.Reset(ctx)
		return err
	})
	if err != nil {
		return nil, err
	}
	return state, nil
}

// RebuildTally recomputes a decision's counters from its voter index.
func (e *Engine) RebuildTally(ctx context.Context, decisionID string) (*models.VoteTally, error) {
	decision, err := e.ledger.GetDecision(ctx, decisionID)
	if err != nil {
		return nil, err
	}
	var tally *models.VoteTally
	err = e.withWorldLease(ctx, func(ctx context.Context) error {
		tally, err = e.ledger.RebuildTally(ctx, decision)
		return err
	})
	if err != nil {
		return nil, err
	}
	return tally, nil
}

// EvaluateAchievements re-checks the catalog for one participant and refreshes
// their leaderboard entries when something was unlocked.
func (e *Engine) EvaluateAchievements(ctx context.Context, participantID string) ([]models.Achievement, error) {
	awarded, err := e.achievements.Evaluate(ctx, participantID)
	if err != nil {
		return nil, err
	}
	if len(awarded) == 0 {
		return awarded, nil
	}
	profile, err := e.achievements.GetProfile(ctx, participantID)
	if err != nil {
		return awarded, nil
	}
	if err := e.ranker.UpdateEntries(ctx, leaderboard.UpdatesFor(profile, e.now())); err != nil {
		e.sideEffectFailed("leaderboard", err, zap.String("participantID", participantID))
	}
	return awarded, nil
}

// GetParticipantStats returns the participant's profile and derived statistics.
func (e *Engine) GetParticipantStats(ctx context.Context, participantID string) (*models.ParticipantStats, error) {
	return e.achievements.GetParticipantStats(ctx, participantID)
}

// GetLeaderboard returns the top entries; limit <= 0 uses the configured default.
func (e *Engine) GetLeaderboard(ctx context.Context, category models.LeaderboardCategory, timeframe models.Timeframe, limit int) (*models.Leaderboard, error) {
	if limit <= 0 {
		limit = e.opts.LeaderboardDefaultLimit
	}
	return e.ranker.GetLeaderboard(ctx, category, timeframe, limit)
}

// GetParticipantRank returns the participant's standing in one bucket.
func (e *Engine) GetParticipantRank(ctx context.Context, participantID string, category models.LeaderboardCategory, timeframe models.Timeframe) (*models.UserRank, error) {
	return e.ranker.GetUserRank(ctx, participantID, category, timeframe)
}

// GetTally returns the live tally of a registered decision.
func (e *Engine) GetTally(ctx context.Context, decisionID string) (*models.VoteTally, error) {
	decision, err := e.ledger.GetDecision(ctx, decisionID)
	if err != nil {
		return nil, err
	}
	return e.ledger.GetTally(ctx, decision)
}

// SetCurrentDecision registers a decision and opens it for votes.
func (e *Engine) SetCurrentDecision(ctx context.Context, d *models.Decision) error {
	return e.ledger.SetCurrentDecision(ctx, d)
}

// GetCurrentDecision returns the open decision; ErrNotFound when there is none.
func (e *Engine) GetCurrentDecision(ctx context.Context) (*models.Decision, error) {
	return e.ledger.GetCurrentDecision(ctx)
}

// CacheStats reports this engine's cache hit rate.
func (e *Engine) CacheStats() cache.Stats {
	return e.cache.Stats()
}

// Ping checks the store.
func (e *Engine) Ping(ctx context.Context) error {
	return e.store.Ping(ctx)
}
