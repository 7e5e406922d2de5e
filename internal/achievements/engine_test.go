package achievements_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"worldvote/internal/achievements"
	"worldvote/internal/metrics"
	"worldvote/shared/database"
	"worldvote/shared/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var t0 = time.Date(2026, 10, 5, 10, 0, 0, 0, time.UTC)

type fixture struct {
	mem    *database.MemoryStore
	keys   database.Keys
	engine *achievements.Engine
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{mem: database.NewMemoryStore(), keys: database.NewKeys("t")}
	f.engine = achievements.NewEngine(f.mem, f.keys, metrics.New(nil), achievements.Config{}, zap.NewNop()).
		WithClock(func() time.Time { return t0 })
	return f
}

func result(decisionID, winner string, actual models.WorldAttributeEffects) *models.VoteResult {
	return &models.VoteResult{
		DecisionID:    decisionID,
		WinningOption: models.Option{ID: winner},
		ActualChanges: actual,
	}
}

// vote records and resolves one vote for pid.
func (f *fixture) vote(t *testing.T, pid, decisionID string, at time.Time, won bool) *achievements.OutcomeResult {
	t.Helper()
	ctx := context.Background()
	v := models.Vote{ParticipantID: pid, DecisionID: decisionID, OptionID: "a", Timestamp: at}
	_, _, err := f.engine.RecordVote(ctx, v)
	require.NoError(t, err)

	winner := "b"
	if won {
		winner = "a"
	}
	out, err := f.engine.ApplyOutcome(ctx, v, result(decisionID, winner, models.WorldAttributeEffects{Stability: 2, Harmony: -1}))
	require.NoError(t, err)
	return out
}

func TestStreaks(t *testing.T) {
	f := newFixture(t)

	for i := 0; i < 3; i++ {
		out := f.vote(t, "p1", fmt.Sprintf("d%d", i), t0.Add(time.Duration(i)*time.Hour), true)
		require.True(t, out.Applied)
	}
	p, err := f.engine.GetProfile(context.Background(), "p1")
	require.NoError(t, err)
	assert.Equal(t, 3, p.CurrentStreak)
	assert.Equal(t, 3, p.LongestStreak)
	assert.True(t, p.HasAchievement("hot_streak"))

	out := f.vote(t, "p1", "d3", t0.Add(3*time.Hour), false)
	assert.Equal(t, 0, out.Profile.CurrentStreak)
	assert.Equal(t, 3, out.Profile.LongestStreak)

	out = f.vote(t, "p1", "d4", t0.Add(3*time.Hour+72*time.Hour), true)
	assert.Equal(t, 1, out.Profile.CurrentStreak)
	assert.Equal(t, 3, out.Profile.LongestStreak)
}

func TestStreaks_GapResetsEvenAfterWins(t *testing.T) {
	f := newFixture(t)
	f.vote(t, "p1", "d0", t0, true)
	f.vote(t, "p1", "d1", t0.Add(24*time.Hour), true)
	out := f.vote(t, "p1", "d2", t0.Add(24*time.Hour+49*time.Hour), true)
	assert.Equal(t, 1, out.Profile.CurrentStreak, "a pause longer than 48h breaks the streak")
	assert.Equal(t, 2, out.Profile.LongestStreak)
}

func TestApplyOutcome_Idempotent(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	v := models.Vote{ParticipantID: "p1", DecisionID: "d1", OptionID: "a", Timestamp: t0}
	_, _, err := f.engine.RecordVote(ctx, v)
	require.NoError(t, err)

	res := result("d1", "a", models.WorldAttributeEffects{Prosperity: 3})
	first, err := f.engine.ApplyOutcome(ctx, v, res)
	require.NoError(t, err)
	require.True(t, first.Applied)

	second, err := f.engine.ApplyOutcome(ctx, v, res)
	require.NoError(t, err)
	assert.False(t, second.Applied)

	p, err := f.engine.GetProfile(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, 1, p.WinningVotes)
	assert.Equal(t, 1, p.CurrentStreak)
	assert.InDelta(t, 0.3, p.AverageImpact, 1e-9)
}

func TestAverageImpact(t *testing.T) {
	f := newFixture(t)
	// Winning impact |2| + |-1| = 3 each time; a loss contributes 0.
	f.vote(t, "p1", "d0", t0, true)
	f.vote(t, "p1", "d1", t0.Add(time.Hour), true)
	out := f.vote(t, "p1", "d2", t0.Add(2*time.Hour), false)

	want := 0.0
	for _, impact := range []float64{3, 3, 0} {
		want = want*0.9 + impact*0.1
	}
	assert.InDelta(t, want, out.Profile.AverageImpact, 1e-9)
}

func TestAward_Idempotent(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	profile, awarded, err := f.engine.RecordVote(ctx, models.Vote{ParticipantID: "p1", DecisionID: "d1", OptionID: "a", Timestamp: t0})
	require.NoError(t, err)
	require.Len(t, awarded, 1)
	assert.Equal(t, "first_vote", awarded[0].ID)
	assert.Len(t, profile.Achievements, 1)

	again, err := f.engine.Evaluate(ctx, "p1")
	require.NoError(t, err)
	assert.Empty(t, again)

	p, err := f.engine.GetProfile(ctx, "p1")
	require.NoError(t, err)
	assert.Len(t, p.Achievements, 1, "re-evaluation never duplicates an achievement")
}

func TestAward_RepairsTornAward(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	// Guard present, profile entry missing: the process died between the two writes.
	_, err := f.mem.SetNX(ctx, f.keys.AchievementGuard("p1", "first_vote"), []byte(`{}`), 0)
	require.NoError(t, err)

	profile, awarded, err := f.engine.RecordVote(ctx, models.Vote{ParticipantID: "p1", DecisionID: "d1", OptionID: "a", Timestamp: t0})
	require.NoError(t, err)
	assert.Empty(t, awarded, "a repaired award is not announced again")
	assert.True(t, profile.HasAchievement("first_vote"))
}

func TestRecordVote_HistoryAndPeriods(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	for i := 0; i < models.VoteHistoryCap+5; i++ {
		_, _, err := f.engine.RecordVote(ctx, models.Vote{
			ParticipantID: "p1",
			DecisionID:    fmt.Sprintf("d%03d", i),
			OptionID:      "a",
			Timestamp:     t0.Add(time.Duration(i) * time.Minute),
		})
		require.NoError(t, err)
	}

	history, err := f.engine.GetVoteHistory(ctx, "p1", 0)
	require.NoError(t, err)
	require.Len(t, history, models.VoteHistoryCap)
	assert.Equal(t, "d005", history[0].DecisionID)

	p, err := f.engine.GetProfile(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, models.VoteHistoryCap+5, p.TotalVotes)
	assert.Equal(t, models.VoteHistoryCap+5, p.Periods["2026-W41"].Votes)
	assert.Equal(t, models.VoteHistoryCap+5, p.Periods["2026-10"].Votes)
	assert.True(t, p.HasAchievement("centurion"))
}

func TestGetParticipantStats(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	_, err := f.engine.GetParticipantStats(ctx, "ghost")
	assert.ErrorIs(t, err, models.ErrNotFound)

	f.vote(t, "p1", "d0", t0, true)
	f.vote(t, "p1", "d1", t0.Add(time.Hour), false)
	f.vote(t, "p1", "d2", t0.Add(2*time.Hour), true)

	stats, err := f.engine.GetParticipantStats(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, 0.67, stats.WinRate)
	assert.Equal(t, 1, stats.AchievementCount)
	assert.Len(t, stats.RecentVotes, 3)
	require.NotEmpty(t, stats.NextAchievements)
	for i := 1; i < len(stats.NextAchievements); i++ {
		assert.GreaterOrEqual(t, stats.NextAchievements[i-1].Progress, stats.NextAchievements[i].Progress)
	}
}
