package database

import (
	"fmt"
	"strings"
)

// Keys builds the logical key namespace under a common prefix.
type Keys struct {
	prefix string
}

// NewKeys returns a key builder. An empty prefix is allowed.
func NewKeys(prefix string) Keys {
	prefix = strings.TrimSuffix(prefix, ":")
	if prefix != "" {
		prefix += ":"
	}
	return Keys{prefix: prefix}
}

func (k Keys) join(parts ...string) string {
	return k.prefix + strings.Join(parts, ":")
}

func (k Keys) WorldState() string { return k.join("world", "state") }
func (k Keys) WorldHistory() string { return k.join("world", "history") }

func (k Keys) Vote(decisionID, participantID string) string {
	return k.join("votes", decisionID, "p", participantID)
}

func (k Keys) TallyOption(decisionID, optionID string) string {
	return k.join("votes", decisionID, "tally", optionID)
}

func (k Keys) TallyTotal(decisionID string) string { return k.join("votes", decisionID, "total") }

// VoterSeq is the counter that hands out voter index slots.
func (k Keys) VoterSeq(decisionID string) string { return k.join("votes", decisionID, "seq") }

func (k Keys) VoterSlot(decisionID string, n int64) string {
	return k.join("votes", decisionID, "voter", fmt.Sprintf("%d", n))
}

func (k Keys) Result(decisionID string) string { return k.join("result", decisionID) }

func (k Keys) Outcome(decisionID, participantID string) string {
	return k.join("outcome", decisionID, participantID)
}

func (k Keys) Profile(participantID string) string { return k.join("profile", participantID) }

func (k Keys) VoteHistory(participantID string) string {
	return k.join("profile", participantID, "votes")
}

func (k Keys) AchievementGuard(participantID, achievementID string) string {
	return k.join("achievement", participantID, achievementID)
}

func (k Keys) Leaderboard(category, timeframe, period string) string {
	if period == "" {
		return k.join("leaderboard", category, timeframe)
	}
	return k.join("leaderboard", category, timeframe, period)
}

func (k Keys) CurrentDecision() string { return k.join("decision", "current") }
func (k Keys) Decision(decisionID string) string { return k.join("decision", decisionID) }
func (k Keys) Lock(name string) string { return k.join("lock", name) }

func (k Keys) CacheGeneration(prefix string) string { return k.join("cache", "gen", prefix) }

func (k Keys) CacheEntry(prefix string, generation int64, key string) string {
	return k.join("cache", prefix, fmt.Sprintf("g%d", generation), key)
}
