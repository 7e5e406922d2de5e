package models

import (
	"fmt"
	"time"
)

// LeaderboardCategory is a scoring axis.
type LeaderboardCategory string

const (
	LeaderboardTotalVotes       LeaderboardCategory = "total_votes"
	LeaderboardWinRate          LeaderboardCategory = "win_rate"
	LeaderboardCurrentStreak    LeaderboardCategory = "current_streak"
	LeaderboardLongestStreak    LeaderboardCategory = "longest_streak"
	LeaderboardAchievementCount LeaderboardCategory = "achievement_count"
	LeaderboardAverageImpact    LeaderboardCategory = "average_impact"
)

// AllLeaderboardCategories lists every category in display order.
var AllLeaderboardCategories = []LeaderboardCategory{
	LeaderboardTotalVotes,
	LeaderboardWinRate,
	LeaderboardCurrentStreak,
	LeaderboardLongestStreak,
	LeaderboardAchievementCount,
	LeaderboardAverageImpact,
}

// Timeframe is the ranking window.
type Timeframe string

const (
	TimeframeAllTime Timeframe = "all_time"
	TimeframeMonthly Timeframe = "monthly"
	TimeframeWeekly  Timeframe = "weekly"
)

// AllTimeframes lists every timeframe.
var AllTimeframes = []Timeframe{TimeframeAllTime, TimeframeMonthly, TimeframeWeekly}

// LeaderboardEntry is a participant's position in one (category, timeframe).
type LeaderboardEntry struct {
	ParticipantID string  `json:"participantId"`
	Rank          int     `json:"rank"`
	Score         float64 `json:"score"`
	Percentile    float64 `json:"percentile"`
	RankChange    int     `json:"rankChange"`
}

// Leaderboard is a ranked page of one bucket.
type Leaderboard struct {
	Category          LeaderboardCategory `json:"category"`
	Timeframe         Timeframe           `json:"timeframe"`
	Period            string              `json:"period"`
	Entries           []LeaderboardEntry  `json:"entries"`
	TotalParticipants int                 `json:"totalParticipants"`
	UpdatedAt         time.Time           `json:"updatedAt"`
}

// UserRank is a participant's standing in one bucket.
type UserRank struct {
	ParticipantID     string              `json:"participantId"`
	Category          LeaderboardCategory `json:"category"`
	Timeframe         Timeframe           `json:"timeframe"`
	Rank              int                 `json:"rank"`
	Score             float64             `json:"score"`
	Percentile        float64             `json:"percentile"`
	TotalParticipants int                 `json:"totalParticipants"`
}

// PeriodKey returns the bucket key of t for the timeframe: "" for all_time,
// "2026-10" for monthly and the ISO week ("2026-W42") for weekly.
func (tf Timeframe) PeriodKey(t time.Time) string {
	t = t.UTC()
	switch tf {
	case TimeframeMonthly:
		return t.Format("2006-01")
	case TimeframeWeekly:
		year, week := t.ISOWeek()
		return fmt.Sprintf("%d-W%02d", year, week)
	default:
		return ""
	}
}

// Valid reports whether tf is a known timeframe.
func (tf Timeframe) Valid() bool {
	for _, v := range AllTimeframes {
		if v == tf {
			return true
		}
	}
	return false
}

// Valid reports whether c is a known category.
func (c LeaderboardCategory) Valid() bool {
	for _, v := range AllLeaderboardCategories {
		if v == c {
			return true
		}
	}
	return false
}
