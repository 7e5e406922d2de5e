package ballot

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"worldvote/internal/cache"
	"worldvote/internal/metrics"
	"worldvote/shared/database"
	"worldvote/shared/interfaces"
	"worldvote/shared/models"

	"go.uber.org/zap"
)

// Config holds ledger policy.
type Config struct {
	// VoteTTL bounds how long votes, counters and the voter index are retained.
	// Zero keeps them forever.
	VoteTTL time.Duration
	// DefaultOptionID is used for zero-vote decisions without their own default.
	DefaultOptionID string
}

// Ledger records votes once per (participant, decision) and keeps per-option counters.
type Ledger struct {
	store   interfaces.Store
	keys    database.Keys
	cache   *cache.Cache
	metrics *metrics.Metrics
	cfg     Config
	logger  *zap.Logger
	now     func() time.Time
}

// NewLedger creates a Ledger.
func NewLedger(store interfaces.Store, keys database.Keys, c *cache.Cache, m *metrics.Metrics, cfg Config, logger *zap.Logger) *Ledger {
	if m == nil {
		m = metrics.New(nil)
	}
	return &Ledger{
		store:   store,
		keys:    keys,
		cache:   c,
		metrics: m,
		cfg:     cfg,
		logger:  logger.Named("VoteLedger"),
		now:     time.Now,
	}
}

// WithClock overrides the clock. Test helper.
func (l *Ledger) WithClock(now func() time.Time) *Ledger {
	l.now = now
	return l
}

func tallyPrefix(decisionID string) string { return "tally:" + decisionID }

// SubmitVote records the participant's vote. The vote key is written with an atomic
// create-if-absent, so concurrent submissions for the same pair produce exactly one
// vote; the losers get models.ErrDuplicateVote.
func (l *Ledger) SubmitVote(ctx context.Context, participantID, decisionID, optionID string) (*models.Vote, error) {
	if participantID == "" || decisionID == "" || optionID == "" {
		return nil, fmt.Errorf("%w: participant, decision and option are required", models.ErrInvalidInput)
	}
	log := l.logger.With(zap.String("participantID", participantID), zap.String("decisionID", decisionID))

	vote := models.Vote{
		ParticipantID: participantID,
		DecisionID:    decisionID,
		OptionID:      optionID,
		Timestamp:     l.now().UTC(),
	}
	created, err := database.CreateRecord(ctx, l.store, l.keys.Vote(decisionID, participantID), database.KindVote, vote, l.cfg.VoteTTL)
	if err != nil {
		return nil, fmt.Errorf("store vote: %w", err)
	}
	if !created {
		l.metrics.VotesDuplicate.Inc()
		log.Info("Duplicate vote rejected")
		return nil, fmt.Errorf("%w: participant %s, decision %s", models.ErrDuplicateVote, participantID, decisionID)
	}

	// Индекс голосовавших пишем до счетчиков: по нему RebuildTally может восстановить подсчет.
	slot, err := l.store.IncrBy(ctx, l.keys.VoterSeq(decisionID), 1)
	if err != nil {
		l.rollbackVote(ctx, decisionID, participantID)
		return nil, fmt.Errorf("allocate voter slot: %w", err)
	}
	if err := l.store.Set(ctx, l.keys.VoterSlot(decisionID, slot), []byte(participantID), l.cfg.VoteTTL); err != nil {
		l.rollbackVote(ctx, decisionID, participantID)
		return nil, fmt.Errorf("write voter slot: %w", err)
	}
	// Past this point the vote is indexed. A failed increment is repaired by Resolve.
	if _, err := l.store.IncrBy(ctx, l.keys.TallyOption(decisionID, optionID), 1); err != nil {
		return nil, fmt.Errorf("increment option counter: %w", err)
	}
	if _, err := l.store.IncrBy(ctx, l.keys.TallyTotal(decisionID), 1); err != nil {
		return nil, fmt.Errorf("increment total counter: %w", err)
	}
	l.expireCounters(ctx, decisionID, optionID)

	l.cache.Invalidate(ctx, tallyPrefix(decisionID))
	l.metrics.VotesAccepted.Inc()
	log.Info("Vote recorded", zap.String("optionID", optionID), zap.Int64("slot", slot))
	return &vote, nil
}

// SubmitVoteFor validates the option and voting window against the decision
// definition before recording the vote.
func (l *Ledger) SubmitVoteFor(ctx context.Context, decision *models.Decision, participantID, optionID string) (*models.Vote, error) {
	if _, ok := decision.Option(optionID); !ok {
		return nil, fmt.Errorf("%w: option %s, decision %s", models.ErrUnknownOption, optionID, decision.ID)
	}
	if !decision.AcceptsVotesAt(l.now()) {
		return nil, fmt.Errorf("%w: decision %s", models.ErrDecisionClosed, decision.ID)
	}
	switch _, err := l.store.Get(ctx, l.keys.Result(decision.ID)); {
	case err == nil:
		return nil, fmt.Errorf("%w: decision %s is already resolved", models.ErrDecisionClosed, decision.ID)
	case !errors.Is(err, models.ErrNotFound):
		return nil, fmt.Errorf("check result of %s: %w", decision.ID, err)
	}
	return l.SubmitVote(ctx, participantID, decision.ID, optionID)
}

// rollbackVote removes a vote that could not be indexed so the participant can retry.
func (l *Ledger) rollbackVote(ctx context.Context, decisionID, participantID string) {
	if err := l.store.Del(context.WithoutCancel(ctx), l.keys.Vote(decisionID, participantID)); err != nil {
		l.logger.Error("Failed to roll back unindexed vote",
			zap.String("decisionID", decisionID), zap.String("participantID", participantID), zap.Error(err))
	}
}

// GetVote returns the participant's vote on a decision.
func (l *Ledger) GetVote(ctx context.Context, decisionID, participantID string) (*models.Vote, error) {
	var vote models.Vote
	if err := database.LoadRecord(ctx, l.store, l.keys.Vote(decisionID, participantID), database.KindVote, &vote); err != nil {
		return nil, err
	}
	return &vote, nil
}

// GetTally reads the option counters of a decision; it never scans individual votes.
func (l *Ledger) GetTally(ctx context.Context, decision *models.Decision) (*models.VoteTally, error) {
	return cache.GetOrSet(ctx, l.cache, cache.ClassTally, tallyPrefix(decision.ID), "counts", func(ctx context.Context) (*models.VoteTally, error) {
		return l.readTally(ctx, decision)
	})
}

func (l *Ledger) readTally(ctx context.Context, decision *models.Decision) (*models.VoteTally, error) {
	tally := &models.VoteTally{DecisionID: decision.ID, Counts: make(map[string]int64, len(decision.Options))}
	for _, o := range decision.Options {
		n, err := l.readCounter(ctx, l.keys.TallyOption(decision.ID, o.ID))
		if err != nil {
			return nil, err
		}
		tally.Counts[o.ID] = n
		tally.Total += n
	}
	total, err := l.readCounter(ctx, l.keys.TallyTotal(decision.ID))
	if err != nil {
		return nil, err
	}
	if total != tally.Total {
		l.logger.Warn("Tally total counter disagrees with option counters",
			zap.String("decisionID", decision.ID), zap.Int64("totalCounter", total), zap.Int64("sumOfOptions", tally.Total))
	}
	return tally, nil
}

func (l *Ledger) readCounter(ctx context.Context, key string) (int64, error) {
	raw, err := l.store.Get(ctx, key)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return 0, nil
		}
		return 0, err
	}
	n, err := strconv.ParseInt(string(raw), 10, 64)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("%w: counter %s=%q", models.ErrCorruptedRecord, key, raw)
	}
	return n, nil
}

// Voters walks the voter index of a decision and returns each recorded vote in
// submission order.
func (l *Ledger) Voters(ctx context.Context, decisionID string) ([]models.Vote, error) {
	seq, err := l.readCounter(ctx, l.keys.VoterSeq(decisionID))
	if err != nil {
		return nil, err
	}
	votes := make([]models.Vote, 0, seq)
	seen := make(map[string]struct{}, seq)
	for n := int64(1); n <= seq; n++ {
		raw, err := l.store.Get(ctx, l.keys.VoterSlot(decisionID, n))
		if err != nil {
			if errors.Is(err, models.ErrNotFound) {
				l.logger.Warn("Voter slot missing", zap.String("decisionID", decisionID), zap.Int64("slot", n))
				continue
			}
			return nil, err
		}
		participantID := string(raw)
		if _, dup := seen[participantID]; dup {
			continue
		}
		seen[participantID] = struct{}{}

		vote, err := l.GetVote(ctx, decisionID, participantID)
		if err != nil {
			if errors.Is(err, models.ErrNotFound) || errors.Is(err, models.ErrCorruptedRecord) {
				l.logger.Warn("Indexed vote unreadable, skipping", zap.String("participantID", participantID), zap.Error(err))
				continue
			}
			return nil, err
		}
		votes = append(votes, *vote)
	}
	return votes, nil
}

// RebuildTally recomputes the counters from the voter index. It repairs counters
// left short by a failure between the vote write and the increments.
func (l *Ledger) RebuildTally(ctx context.Context, decision *models.Decision) (*models.VoteTally, error) {
	votes, err := l.Voters(ctx, decision.ID)
	if err != nil {
		return nil, err
	}
	tally := &models.VoteTally{DecisionID: decision.ID, Counts: make(map[string]int64, len(decision.Options))}
	for _, o := range decision.Options {
		tally.Counts[o.ID] = 0
	}
	for _, v := range votes {
		if _, ok := tally.Counts[v.OptionID]; !ok {
			l.logger.Warn("Vote for unknown option ignored in rebuild", zap.String("optionID", v.OptionID))
			continue
		}
		tally.Counts[v.OptionID]++
		tally.Total++
	}
	for id, n := range tally.Counts {
		if err := l.store.Set(ctx, l.keys.TallyOption(decision.ID, id), []byte(strconv.FormatInt(n, 10)), l.cfg.VoteTTL); err != nil {
			return nil, err
		}
	}
	if err := l.store.Set(ctx, l.keys.TallyTotal(decision.ID), []byte(strconv.FormatInt(tally.Total, 10)), l.cfg.VoteTTL); err != nil {
		return nil, err
	}
	l.cache.Invalidate(ctx, tallyPrefix(decision.ID))
	l.logger.Info("Tally rebuilt from voter index", zap.String("decisionID", decision.ID), zap.Int64("total", tally.Total))
	return tally, nil
}

// Resolve tallies the decision from the counters (never from cache) and picks the winner.
// Counters that disagree with the voter index are rebuilt from it first.
func (l *Ledger) Resolve(ctx context.Context, decision *models.Decision, eligible int) (*models.VoteResult, error) {
	tally, err := l.readTally(ctx, decision)
	if err != nil {
		return nil, fmt.Errorf("tally decision %s: %w", decision.ID, err)
	}
	stale, err := l.countersStale(ctx, decision.ID, tally)
	if err != nil {
		return nil, fmt.Errorf("check counters of %s: %w", decision.ID, err)
	}
	if stale {
		l.logger.Warn("Tally counters disagree with voter index, rebuilding", zap.String("decisionID", decision.ID), zap.Int64("total", tally.Total))
		if tally, err = l.RebuildTally(ctx, decision); err != nil {
			return nil, fmt.Errorf("rebuild tally of %s: %w", decision.ID, err)
		}
	}
	return Resolve(*decision, *tally, eligible, l.cfg.DefaultOptionID, l.now())
}

// countersStale compares the counters with the number of handed out voter slots.
// A slot whose vote was rolled back also shows up here; rebuilding is harmless then.
func (l *Ledger) countersStale(ctx context.Context, decisionID string, tally *models.VoteTally) (bool, error) {
	total, err := l.readCounter(ctx, l.keys.TallyTotal(decisionID))
	if err != nil {
		return false, err
	}
	seq, err := l.readCounter(ctx, l.keys.VoterSeq(decisionID))
	if err != nil {
		return false, err
	}
	return seq != total || total != tally.Total, nil
}

// SaveResult stores the outcome of a decision so retries can reuse it.
func (l *Ledger) SaveResult(ctx context.Context, result *models.VoteResult) error {
	return database.SaveRecord(ctx, l.store, l.keys.Result(result.DecisionID), database.KindVoteResult, result, l.cfg.VoteTTL)
}

// GetResult returns the stored outcome of a decision.
func (l *Ledger) GetResult(ctx context.Context, decisionID string) (*models.VoteResult, error) {
	var result models.VoteResult
	if err := database.LoadRecord(ctx, l.store, l.keys.Result(decisionID), database.KindVoteResult, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

func (l *Ledger) expireCounters(ctx context.Context, decisionID, optionID string) {
	if l.cfg.VoteTTL <= 0 {
		return
	}
	for _, key := range []string{
		l.keys.TallyOption(decisionID, optionID),
		l.keys.TallyTotal(decisionID),
		l.keys.VoterSeq(decisionID),
	} {
		if _, err := l.store.Expire(ctx, key, l.cfg.VoteTTL); err != nil {
			l.logger.Warn("Failed to set counter TTL", zap.String("key", key), zap.Error(err))
		}
	}
}
