package leaderboard

import (
	"time"

	"worldvote/internal/effects"
	"worldvote/shared/models"
)

// ScoresFromStats derives the per-category scores of a profile for a timeframe.
// Periodic timeframes count only votes cast in the current period; a participant
// without such votes is not ranked there and gets nil.
func ScoresFromStats(p *models.ParticipantProfile, timeframe models.Timeframe, now time.Time) map[models.LeaderboardCategory]float64 {
	votes, wins := p.TotalVotes, p.WinningVotes
	if timeframe != models.TimeframeAllTime {
		s := p.Periods[timeframe.PeriodKey(now)]
		votes, wins = s.Votes, s.WinningVotes
		if votes == 0 {
			return nil
		}
	}
	winRate := 0.0
	if votes > 0 {
		winRate = effects.Round2(float64(wins) / float64(votes))
	}
	return map[models.LeaderboardCategory]float64{
		models.LeaderboardTotalVotes:       float64(votes),
		models.LeaderboardWinRate:          winRate,
		models.LeaderboardCurrentStreak:    float64(p.CurrentStreak),
		models.LeaderboardLongestStreak:    float64(p.LongestStreak),
		models.LeaderboardAchievementCount: float64(len(p.Achievements)),
		models.LeaderboardAverageImpact:    effects.Round2(p.AverageImpact),
	}
}

// UpdatesFor builds the batch that refreshes every bucket a profile belongs to.
func UpdatesFor(p *models.ParticipantProfile, now time.Time) []Update {
	var out []Update
	for _, tf := range models.AllTimeframes {
		scores := ScoresFromStats(p, tf, now)
		for _, category := range models.AllLeaderboardCategories {
			score, ok := scores[category]
			if !ok {
				continue
			}
			out = append(out, Update{ParticipantID: p.ParticipantID, Category: category, Timeframe: tf, Score: score, Revision: p.Revision})
		}
	}
	return out
}
