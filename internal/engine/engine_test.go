package engine_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"worldvote/internal/engine"
	"worldvote/internal/metrics"
	"worldvote/shared/database"
	"worldvote/shared/interfaces/mocks"
	"worldvote/shared/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"go.uber.org/zap"
)

func harvest() *models.Decision {
	return &models.Decision{
		ID:    "d-harvest",
		Title: "What to do with the harvest surplus",
		Options: []models.Option{
			{ID: "store", Label: "Store it", Effects: models.WorldAttributeEffects{Stability: 2}, Lore: "The granaries were filled."},
			{ID: "trade", Label: "Trade it", Effects: models.WorldAttributeEffects{Prosperity: 3, Harmony: -1}, Lore: "Caravans left at dawn."},
		},
	}
}

type EngineSuite struct {
	suite.Suite
	ctx       context.Context
	mem       *database.MemoryStore
	publisher *mocks.ResultPublisher
	archive   *mocks.ResultArchive
	engine    *engine.Engine
	now       time.Time
}

func (s *EngineSuite) SetupTest() {
	s.ctx = context.Background()
	s.now = time.Date(2026, 10, 15, 9, 0, 0, 0, time.UTC)
	s.mem = database.NewMemoryStore().WithClock(func() time.Time { return s.now })
	s.publisher = new(mocks.ResultPublisher)
	s.archive = new(mocks.ResultArchive)

	opts := engine.Options{KeyPrefix: "t", DefaultEligibleParticipants: 10}
	s.engine = engine.New(s.mem, opts, s.publisher, s.archive, metrics.New(nil), zap.NewNop()).
		WithClock(func() time.Time { return s.now })

	_, err := s.engine.Initialize(s.ctx)
	s.Require().NoError(err)
	s.Require().NoError(s.engine.SetCurrentDecision(s.ctx, harvest()))
}

func (s *EngineSuite) vote(pid, option string) {
	_, err := s.engine.SubmitVote(s.ctx, pid, "d-harvest", option)
	s.Require().NoError(err)
}

func (s *EngineSuite) expectSideEffects() {
	s.publisher.On("PublishVoteResult", mock.Anything, mock.MatchedBy(func(ev models.VoteResultEvent) bool {
		return ev.Result.DecisionID == "d-harvest"
	})).Return(nil)
	s.archive.On("ArchiveResult", mock.Anything, mock.AnythingOfType("models.VoteResult"), mock.Anything).Return(nil)
}

func (s *EngineSuite) TestFullCycle() {
	s.vote("p1", "trade")
	s.vote("p2", "trade")
	s.vote("p3", "store")
	s.expectSideEffects()

	s.now = s.now.Add(time.Hour)
	res, err := s.engine.Resolve(s.ctx, "d-harvest", 0)
	s.Require().NoError(err)
	s.Equal("trade", res.WinningOption.ID)
	s.Equal(int64(3), res.Tally.Total)
	s.Equal(0.3, res.ParticipationRate, "default eligible estimate is used")
	s.Equal(models.WorldAttributeEffects{Prosperity: 3, Harmony: -1}, res.ActualChanges)
	s.Equal(int64(1), res.WorldVersion)

	state, err := s.engine.GetCurrentState(s.ctx)
	s.Require().NoError(err)
	s.Equal(3, state.Attributes.Prosperity)
	s.Equal(-1, state.Attributes.Harmony)
	s.Equal("Caravans left at dawn.", state.LoreLog[len(state.LoreLog)-1])

	winner, err := s.engine.GetParticipantStats(s.ctx, "p1")
	s.Require().NoError(err)
	s.Equal(1, winner.Profile.WinningVotes)
	s.Equal(1, winner.Profile.CurrentStreak)
	s.Equal(1.0, winner.WinRate)

	loser, err := s.engine.GetParticipantStats(s.ctx, "p3")
	s.Require().NoError(err)
	s.Equal(0, loser.Profile.WinningVotes)
	s.Equal(0, loser.Profile.CurrentStreak)

	board, err := s.engine.GetLeaderboard(s.ctx, models.LeaderboardWinRate, models.TimeframeAllTime, 0)
	s.Require().NoError(err)
	s.Require().Len(board.Entries, 3)
	s.Equal("p1", board.Entries[0].ParticipantID)
	s.Equal("p2", board.Entries[1].ParticipantID)
	s.Equal("p3", board.Entries[2].ParticipantID)

	rank, err := s.engine.GetParticipantRank(s.ctx, "p3", models.LeaderboardWinRate, models.TimeframeAllTime)
	s.Require().NoError(err)
	s.Equal(3, rank.Rank)
	s.Equal(33.33, rank.Percentile)

	s.publisher.AssertNumberOfCalls(s.T(), "PublishVoteResult", 1)
	s.archive.AssertNumberOfCalls(s.T(), "ArchiveResult", 1)
}

func (s *EngineSuite) TestResolveRetryIsIdempotent() {
	s.vote("p1", "store")
	s.vote("p2", "trade")
	s.expectSideEffects()

	first, err := s.engine.Resolve(s.ctx, "d-harvest", 2)
	s.Require().NoError(err)
	s.Equal("store", first.WinningOption.ID, "tie goes to the first listed option")

	second, err := s.engine.Resolve(s.ctx, "d-harvest", 2)
	s.Require().NoError(err)
	s.Equal(first.WinningOption.ID, second.WinningOption.ID)
	s.Equal(first.WorldVersion, second.WorldVersion)

	state, err := s.engine.GetCurrentState(s.ctx)
	s.Require().NoError(err)
	s.Equal(int64(1), state.Version, "world applied once")
	s.Equal(2, state.Attributes.Stability)

	stats, err := s.engine.GetParticipantStats(s.ctx, "p1")
	s.Require().NoError(err)
	s.Equal(1, stats.Profile.WinningVotes, "outcome counted once")
}

func (s *EngineSuite) TestResolveLeaseHeld() {
	s.vote("p1", "store")
	ok, err := s.mem.SetNX(s.ctx, database.NewKeys("t").Lock("resolution"), []byte("other"), time.Minute)
	s.Require().NoError(err)
	s.Require().True(ok)

	_, err = s.engine.Resolve(s.ctx, "d-harvest", 1)
	s.ErrorIs(err, models.ErrLeaseHeld)
	s.True(models.IsRetryable(err))

	state, err := s.engine.GetCurrentState(s.ctx)
	s.Require().NoError(err)
	s.Equal(int64(0), state.Version)
	s.publisher.AssertNotCalled(s.T(), "PublishVoteResult", mock.Anything, mock.Anything)

	// The foreign lease is still in place: release only deletes our own token.
	raw, err := s.mem.Get(s.ctx, database.NewKeys("t").Lock("resolution"))
	s.Require().NoError(err)
	s.Equal("other", string(raw))
}

func (s *EngineSuite) TestResolveWithoutVotesReleasesLease() {
	_, err := s.engine.Resolve(s.ctx, "d-harvest", 5)
	s.ErrorIs(err, models.ErrNoVotesCast)

	s.vote("p1", "trade")
	s.expectSideEffects()
	res, err := s.engine.Resolve(s.ctx, "d-harvest", 5)
	s.Require().NoError(err, "lease must have been released after the failed cycle")
	s.Equal("trade", res.WinningOption.ID)
}

func (s *EngineSuite) TestSideEffectFailuresDoNotFailResolution() {
	s.vote("p1", "trade")
	s.publisher.On("PublishVoteResult", mock.Anything, mock.Anything).Return(errors.New("channel closed"))
	s.archive.On("ArchiveResult", mock.Anything, mock.Anything, mock.Anything).Return(errors.New("connection refused"))

	res, err := s.engine.Resolve(s.ctx, "d-harvest", 1)
	s.Require().NoError(err)
	s.Equal(int64(1), res.WorldVersion)
}

func (s *EngineSuite) TestSubmitVote() {
	_, err := s.engine.SubmitVote(s.ctx, "p1", "", "store")
	s.Require().NoError(err, "empty decision id targets the current decision")

	_, err = s.engine.SubmitVote(s.ctx, "p1", "d-harvest", "trade")
	s.ErrorIs(err, models.ErrDuplicateVote)

	_, err = s.engine.SubmitVote(s.ctx, "p2", "d-unknown", "trade")
	s.ErrorIs(err, models.ErrNotFound)

	_, err = s.engine.SubmitVote(s.ctx, "p2", "d-harvest", "burn")
	s.ErrorIs(err, models.ErrUnknownOption)

	stats, err := s.engine.GetParticipantStats(s.ctx, "p1")
	s.Require().NoError(err)
	s.Equal(1, stats.Profile.TotalVotes)
	s.Equal(1, stats.AchievementCount)

	tally, err := s.engine.GetTally(s.ctx, "d-harvest")
	s.Require().NoError(err)
	s.Equal(int64(1), tally.Total)

	board, err := s.engine.GetLeaderboard(s.ctx, models.LeaderboardTotalVotes, models.TimeframeWeekly, 0)
	s.Require().NoError(err)
	s.Require().Len(board.Entries, 1)
	s.Equal("2026-W42", board.Period)
}

func (s *EngineSuite) TestUpdateAttributesAndAnalysis() {
	res, err := s.engine.UpdateAttributes(s.ctx, models.WorldAttributeEffects{Harmony: -3}, "A quarrel split the council.")
	s.Require().NoError(err)
	s.True(res.Applied)

	_, err = s.engine.UpdateAttributes(s.ctx, models.WorldAttributeEffects{Harmony: -4}, "")
	s.ErrorIs(err, models.ErrValidation)

	analysis, err := s.engine.Analysis(s.ctx)
	s.Require().NoError(err)
	s.Equal(-3, analysis.State.Attributes.Harmony)

	history, err := s.engine.History(s.ctx, 0)
	s.Require().NoError(err)
	s.Len(history, 1)
}

func TestEngineSuite(t *testing.T) {
	suite.Run(t, new(EngineSuite))
}

func TestEngine_NoCurrentDecision(t *testing.T) {
	ctx := context.Background()
	e := engine.New(database.NewMemoryStore(), engine.Options{}, nil, nil, nil, zap.NewNop())
	_, err := e.Initialize(ctx)
	require.NoError(t, err)

	_, err = e.GetCurrentDecision(ctx)
	assert.ErrorIs(t, err, models.ErrNotFound)
	_, err = e.SubmitVote(ctx, "p1", "", "a")
	assert.ErrorIs(t, err, models.ErrNotFound)
	assert.NoError(t, e.Ping(ctx))
}
