package models

import "time"

// VoteHistoryCap limits the per-participant vote history record.
const VoteHistoryCap = 100

// AchievementCategory groups achievements for display.
type AchievementCategory string

const (
	CategoryParticipation AchievementCategory = "participation"
	CategoryStreak        AchievementCategory = "streak"
	CategoryAccuracy      AchievementCategory = "accuracy"
	CategoryImpact        AchievementCategory = "impact"
)

// Achievement is an unlocked badge.
type Achievement struct {
	ID         string              `json:"id"`
	Category   AchievementCategory `json:"category"`
	UnlockedAt time.Time           `json:"unlockedAt"`
}

// PeriodStats counts activity inside one leaderboard period (e.g. "2026-W42").
type PeriodStats struct {
	Votes        int `json:"votes"`
	WinningVotes int `json:"winningVotes"`
}

// ParticipantProfile holds per-participant running statistics.
type ParticipantProfile struct {
	ParticipantID string                 `json:"participantId"`
	TotalVotes    int                    `json:"totalVotes"`
	WinningVotes  int                    `json:"winningVotes"`
	CurrentStreak int                    `json:"currentStreak"`
	LongestStreak int                    `json:"longestStreak"`
	AverageImpact float64                `json:"averageImpact"`
	Achievements  []Achievement          `json:"achievements"`
	JoinDate      time.Time              `json:"joinDate"`
	LastVoteDate  time.Time              `json:"lastVoteDate"`
	StreakAnchor  time.Time              `json:"streakAnchor,omitempty"`
	Periods       map[string]PeriodStats `json:"periods,omitempty"`

	// AppliedOutcomes lists the most recent decisions whose outcome is counted.
	AppliedOutcomes []string `json:"appliedOutcomes,omitempty"`
	// Revision grows with every saved change; leaderboards use it to drop stale scores.
	Revision        int64    `json:"revision"`
}

// AppliedOutcomesCap bounds ParticipantProfile.AppliedOutcomes.
const AppliedOutcomesCap = 64

// OutcomeApplied reports whether the outcome of decisionID is already counted.
func (p *ParticipantProfile) OutcomeApplied(decisionID string) bool {
	for _, id := range p.AppliedOutcomes {
		if id == decisionID {
			return true
		}
	}
	return false
}

// HasAchievement reports whether id is already unlocked.
func (p *ParticipantProfile) HasAchievement(id string) bool {
	for _, a := range p.Achievements {
		if a.ID == id {
			return true
		}
	}
	return false
}

// WinRate returns winningVotes/totalVotes, 0 without votes.
func (p *ParticipantProfile) WinRate() float64 {
	if p.TotalVotes == 0 {
		return 0
	}
	return float64(p.WinningVotes) / float64(p.TotalVotes)
}

// VoteRecord is one entry of a participant's vote history.
type VoteRecord struct {
	DecisionID string    `json:"decisionId"`
	OptionID   string    `json:"optionId"`
	VotedAt    time.Time `json:"votedAt"`
}

// AchievementProgress describes a not yet unlocked achievement.
type AchievementProgress struct {
	ID       string              `json:"id"`
	Name     string              `json:"name"`
	Category AchievementCategory `json:"category"`
	Progress float64             `json:"progress"`
}

// ParticipantStats is the profile plus derived statistics.
type ParticipantStats struct {
	Profile          ParticipantProfile    `json:"profile"`
	WinRate          float64               `json:"winRate"`
	AchievementCount int                   `json:"achievementCount"`
	RecentVotes      []VoteRecord          `json:"recentVotes"`
	NextAchievements []AchievementProgress `json:"nextAchievements,omitempty"`
}
