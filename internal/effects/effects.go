// Package effects holds the pure, side-effect-free arithmetic over world attributes:
// bounded application of deltas, balance scoring, trend analysis and critical-state detection.
package effects

import (
	"math"

	"worldvote/shared/models"
)

// Trend thresholds.
const (
	trendThreshold = 0.5

	extremeThreshold = -7
	highThreshold    = -4
)

// maxStdDev is the largest population standard deviation four values in
// [AttributeMin, AttributeMax] can have: two at each bound.
var maxStdDev = float64(models.AttributeMax-models.AttributeMin) / 2

// ApplyEffects adds effects to current, clamping each attribute to its bounds.
// It returns the new attributes and the effect that was actually applied, which
// differs from the requested one whenever clamping truncated it. Callers persist actual.
func ApplyEffects(current models.WorldAttributes, effects models.WorldAttributeEffects) (models.WorldAttributes, models.WorldAttributeEffects) {
	next := current
	var actual models.WorldAttributeEffects
	for _, attr := range models.AllAttributes {
		before := current.Get(attr)
		bounded := clamp(before+effects.Get(attr), models.AttributeMin, models.AttributeMax)
		next.Set(attr, bounded)
		actual.Set(attr, bounded-before)
	}
	return next, actual
}

// ValidateEffectLimits rejects any effect outside [EffectMin, EffectMax]. It never clamps.
func ValidateEffectLimits(effects models.WorldAttributeEffects) error {
	for _, attr := range models.AllAttributes {
		v := effects.Get(attr)
		if v < models.EffectMin || v > models.EffectMax {
			return &models.ValidationError{Field: string(attr), Value: v, Min: models.EffectMin, Max: models.EffectMax}
		}
	}
	return nil
}

// ValidateAttributes rejects any attribute outside [AttributeMin, AttributeMax].
func ValidateAttributes(attrs models.WorldAttributes) error {
	for _, attr := range models.AllAttributes {
		v := attrs.Get(attr)
		if v < models.AttributeMin || v > models.AttributeMax {
			return &models.ValidationError{Field: string(attr), Value: v, Min: models.AttributeMin, Max: models.AttributeMax}
		}
	}
	return nil
}

// BalanceScore returns 1 - stddev/maxStdDev rounded to two decimals.
// 1.0 means all attributes are equal.
func BalanceScore(attrs models.WorldAttributes) float64 {
	values := attrs.Values()
	var sum float64
	for _, v := range values {
		sum += float64(v)
	}
	mean := sum / float64(len(values))

	var variance float64
	for _, v := range values {
		d := float64(v) - mean
		variance += d * d
	}
	stdDev := math.Sqrt(variance / float64(len(values)))

	score := 1 - stdDev/maxStdDev
	if score < 0 {
		score = 0
	}
	return Round2(score)
}

// AttributeTrend sums the attribute's recorded change over the last window history
// entries (oldest first in history) and classifies the direction. Strength is
// measured against the full window even when fewer entries exist.
func AttributeTrend(attr models.Attribute, history []models.WorldHistoryEntry, window int) models.AttributeTrend {
	trend := models.AttributeTrend{Attribute: attr, Direction: models.TrendStable}
	if window <= 0 || len(history) == 0 {
		return trend
	}
	n := window
	if n > len(history) {
		n = len(history)
	}

	sum := 0
	for _, entry := range history[len(history)-n:] {
		sum += entry.Changes.Get(attr)
	}
	trend.Sum = sum

	switch {
	case float64(sum) > trendThreshold:
		trend.Direction = models.TrendRising
	case float64(sum) < -trendThreshold:
		trend.Direction = models.TrendFalling
	}
	trend.Strength = Round2(math.Min(1, math.Abs(float64(sum))/float64(window*models.EffectMax)))
	return trend
}

// Trends computes AttributeTrend for every attribute in canonical order.
func Trends(history []models.WorldHistoryEntry, window int) []models.AttributeTrend {
	out := make([]models.AttributeTrend, 0, len(models.AllAttributes))
	for _, attr := range models.AllAttributes {
		out = append(out, AttributeTrend(attr, history, window))
	}
	return out
}

var remediationHints = map[models.Attribute]string{
	models.AttributeStability:  "Favor options that strengthen institutions and order.",
	models.AttributeProsperity: "Favor options that invest in trade and production.",
	models.AttributeKnowledge:  "Favor options that fund learning and exploration.",
	models.AttributeHarmony:    "Favor options that reconcile factions and communities.",
}

// CriticalState flags attributes at or below -7 as extreme and at or below -4 as high.
func CriticalState(attrs models.WorldAttributes) []models.CriticalAlert {
	var alerts []models.CriticalAlert
	for _, attr := range models.AllAttributes {
		v := attrs.Get(attr)
		var sev models.Severity
		switch {
		case v <= extremeThreshold:
			sev = models.SeverityExtreme
		case v <= highThreshold:
			sev = models.SeverityHigh
		default:
			continue
		}
		alerts = append(alerts, models.CriticalAlert{
			Attribute: attr,
			Value:     v,
			Severity:  sev,
			Hint:      remediationHints[attr],
		})
	}
	return alerts
}

// TotalImpact is the sum of absolute attribute changes.
func TotalImpact(changes models.WorldAttributeEffects) int {
	total := 0
	for _, attr := range models.AllAttributes {
		v := changes.Get(attr)
		if v < 0 {
			v = -v
		}
		total += v
	}
	return total
}

// Round2 rounds to two decimal places.
func Round2(v float64) float64 {
	return math.Round(v*100) / 100
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
