package engine_test

import (
	"fmt"
	"sync"
	"time"

	"worldvote/internal/engine"
	"worldvote/internal/metrics"
	"worldvote/shared/database"
	"worldvote/shared/models"

	"go.uber.org/zap"
)

func (s *EngineSuite) TestConcurrentVotesAreAllRanked() {
	const voters = 50
	var wg sync.WaitGroup
	for i := 0; i < voters; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := s.engine.SubmitVote(s.ctx, fmt.Sprintf("p%02d", i), "d-harvest", "store")
			s.NoError(err)
		}(i)
	}
	wg.Wait()

	tally, err := s.engine.GetTally(s.ctx, "d-harvest")
	s.Require().NoError(err)
	s.Equal(int64(voters), tally.Total)

	for _, tf := range models.AllTimeframes {
		board, err := s.engine.GetLeaderboard(s.ctx, models.LeaderboardTotalVotes, tf, 1000)
		s.Require().NoError(err)
		s.Equal(voters, board.TotalParticipants, "timeframe %s", tf)
		for i, e := range board.Entries {
			s.Equal(i+1, e.Rank)
		}
	}
}

func (s *EngineSuite) TestConcurrentVotesOfOneParticipant() {
	const decisions = 4
	for i := 0; i < decisions; i++ {
		d := harvest()
		d.ID = fmt.Sprintf("d%d", i)
		s.Require().NoError(s.engine.SetCurrentDecision(s.ctx, d))
	}

	var wg sync.WaitGroup
	for i := 0; i < decisions; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := s.engine.SubmitVote(s.ctx, "alice", fmt.Sprintf("d%d", i), "trade")
			s.NoError(err)
		}(i)
	}
	wg.Wait()

	stats, err := s.engine.GetParticipantStats(s.ctx, "alice")
	s.Require().NoError(err)
	s.Equal(decisions, stats.Profile.TotalVotes)

	rank, err := s.engine.GetParticipantRank(s.ctx, "alice", models.LeaderboardTotalVotes, models.TimeframeAllTime)
	s.Require().NoError(err)
	s.Equal(float64(decisions), rank.Score, "the newest profile revision wins the bucket")
}

func (s *EngineSuite) TestConcurrentAdminUpdatesAreSerialized() {
	const updates = 5
	var wg sync.WaitGroup
	for i := 0; i < updates; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.engine.UpdateAttributes(s.ctx, models.WorldAttributeEffects{Knowledge: 1}, "")
			s.NoError(err)
		}()
	}
	wg.Wait()

	state, err := s.engine.GetCurrentState(s.ctx)
	s.Require().NoError(err)
	s.Equal(updates, state.Attributes.Knowledge)
	s.Equal(int64(updates), state.Version)

	history, err := s.engine.History(s.ctx, 0)
	s.Require().NoError(err)
	s.Len(history, updates)
}

func (s *EngineSuite) TestAdminUpdatesWaitForResolution() {
	e := engine.New(s.mem, engine.Options{KeyPrefix: "t", LockWait: 20 * time.Millisecond}, nil, nil, metrics.New(nil), zap.NewNop())
	ok, err := s.mem.SetNX(s.ctx, database.NewKeys("t").Lock("resolution"), []byte("cycle"), time.Minute)
	s.Require().NoError(err)
	s.Require().True(ok)

	_, err = e.UpdateAttributes(s.ctx, models.WorldAttributeEffects{Stability: 1}, "")
	s.ErrorIs(err, models.ErrLeaseHeld)
	_, err = e.ResetWorld(s.ctx)
	s.ErrorIs(err, models.ErrLeaseHeld)

	state, err := s.engine.GetCurrentState(s.ctx)
	s.Require().NoError(err)
	s.Equal(int64(0), state.Version)
}

func (s *EngineSuite) TestVotesRejectedAfterResolution() {
	s.vote("p1", "trade")
	s.expectSideEffects()
	_, err := s.engine.Resolve(s.ctx, "d-harvest", 1)
	s.Require().NoError(err)

	_, err = s.engine.SubmitVote(s.ctx, "p2", "d-harvest", "store")
	s.ErrorIs(err, models.ErrDecisionClosed)

	tally, err := s.engine.GetTally(s.ctx, "d-harvest")
	s.Require().NoError(err)
	s.Equal(int64(1), tally.Total)
}

func (s *EngineSuite) TestRebuildTallyAndEvaluate() {
	s.vote("p1", "trade")
	s.vote("p2", "trade")
	_, err := s.mem.IncrBy(s.ctx, database.NewKeys("t").TallyOption("d-harvest", "trade"), -2)
	s.Require().NoError(err)

	tally, err := s.engine.RebuildTally(s.ctx, "d-harvest")
	s.Require().NoError(err)
	s.Equal(int64(2), tally.Counts["trade"])

	awarded, err := s.engine.EvaluateAchievements(s.ctx, "p1")
	s.Require().NoError(err)
	s.Empty(awarded, "first_vote was already unlocked")

	_, err = s.engine.EvaluateAchievements(s.ctx, "nobody")
	s.ErrorIs(err, models.ErrNotFound)
}
