package achievements

import (
	"fmt"

	"worldvote/shared/models"
)

// Metric is a profile statistic a condition is evaluated against.
type Metric string

const (
	MetricTotalVotes    Metric = "total_votes"
	MetricWinningVotes  Metric = "winning_votes"
	MetricCurrentStreak Metric = "current_streak"
	MetricLongestStreak Metric = "longest_streak"
	MetricWinRate       Metric = "win_rate"
	MetricAverageImpact Metric = "average_impact"
)

// Comparison is the operator applied between a metric and the threshold.
type Comparison string

const (
	AtLeast     Comparison = ">="
	GreaterThan Comparison = ">"
)

// Condition is one requirement of an achievement.
type Condition struct {
	Metric     Metric     `json:"metric"`
	Comparison Comparison `json:"comparison"`
	Threshold  float64    `json:"threshold"`
}

// Definition is an achievement with all the conditions that unlock it.
type Definition struct {
	ID         string                     `json:"id"`
	Name       string                     `json:"name"`
	Category   models.AchievementCategory `json:"category"`
	Conditions []Condition                `json:"conditions"`
}

// Catalog is evaluated in order; awards are reported in this order too.
var Catalog = []Definition{
	{ID: "first_vote", Name: "First Voice", Category: models.CategoryParticipation,
		Conditions: []Condition{{MetricTotalVotes, AtLeast, 1}}},
	{ID: "dedicated_voter", Name: "Dedicated Voter", Category: models.CategoryParticipation,
		Conditions: []Condition{{MetricTotalVotes, AtLeast, 10}}},
	{ID: "veteran", Name: "Veteran", Category: models.CategoryParticipation,
		Conditions: []Condition{{MetricTotalVotes, AtLeast, 50}}},
	{ID: "centurion", Name: "Centurion", Category: models.CategoryParticipation,
		Conditions: []Condition{{MetricTotalVotes, AtLeast, 100}}},

	{ID: "hot_streak", Name: "Hot Streak", Category: models.CategoryStreak,
		Conditions: []Condition{{MetricCurrentStreak, AtLeast, 3}}},
	{ID: "unstoppable", Name: "Unstoppable", Category: models.CategoryStreak,
		Conditions: []Condition{{MetricCurrentStreak, AtLeast, 7}}},
	{ID: "legendary_streak", Name: "Legendary Streak", Category: models.CategoryStreak,
		Conditions: []Condition{{MetricLongestStreak, AtLeast, 15}}},

	{ID: "oracle", Name: "Oracle", Category: models.CategoryAccuracy,
		Conditions: []Condition{{MetricWinRate, AtLeast, 0.7}, {MetricTotalVotes, AtLeast, 10}}},

	{ID: "world_shaper", Name: "World Shaper", Category: models.CategoryImpact,
		Conditions: []Condition{{MetricAverageImpact, AtLeast, 1.5}, {MetricTotalVotes, AtLeast, 5}}},
}

// Lookup returns the catalog definition with the given id.
func Lookup(id string) (Definition, bool) {
	for _, d := range Catalog {
		if d.ID == id {
			return d, true
		}
	}
	return Definition{}, false
}

// MetricValue reads a metric from the profile.
func MetricValue(p *models.ParticipantProfile, m Metric) (float64, error) {
	switch m {
	case MetricTotalVotes:
		return float64(p.TotalVotes), nil
	case MetricWinningVotes:
		return float64(p.WinningVotes), nil
	case MetricCurrentStreak:
		return float64(p.CurrentStreak), nil
	case MetricLongestStreak:
		return float64(p.LongestStreak), nil
	case MetricWinRate:
		return p.WinRate(), nil
	case MetricAverageImpact:
		return p.AverageImpact, nil
	default:
		return 0, fmt.Errorf("%w: achievement metric %q", models.ErrUnknownMetric, m)
	}
}

// Met reports whether the profile satisfies the condition. Unknown metrics never match.
func (c Condition) Met(p *models.ParticipantProfile) bool {
	v, err := MetricValue(p, c.Metric)
	if err != nil {
		return false
	}
	switch c.Comparison {
	case GreaterThan:
		return v > c.Threshold
	case AtLeast:
		return v >= c.Threshold
	default:
		return false
	}
}

// Met reports whether every condition holds.
func (d Definition) Met(p *models.ParticipantProfile) bool {
	for _, c := range d.Conditions {
		if !c.Met(p) {
			return false
		}
	}
	return len(d.Conditions) > 0
}

// Progress is the fraction of the way to unlocking, the minimum across conditions.
func (d Definition) Progress(p *models.ParticipantProfile) float64 {
	progress := 1.0
	for _, c := range d.Conditions {
		v, err := MetricValue(p, c.Metric)
		if err != nil || c.Threshold <= 0 {
			continue
		}
		if f := v / c.Threshold; f < progress {
			progress = f
		}
	}
	if progress < 0 {
		progress = 0
	}
	return progress
}

// Eligible returns the definitions the profile satisfies but does not hold yet.
func Eligible(p *models.ParticipantProfile) []Definition {
	var out []Definition
	for _, d := range Catalog {
		if !p.HasAchievement(d.ID) && d.Met(p) {
			out = append(out, d)
		}
	}
	return out
}
