package models

import "time"

// Attribute bounds.
const (
	AttributeMin = -10
	AttributeMax = 10
	EffectMin    = -3
	EffectMax    = 3

	LoreLogCap = 50
	HistoryCap = 100
)

// Attribute names a single world trait.
type Attribute string

const (
	AttributeStability  Attribute = "stability"
	AttributeProsperity Attribute = "prosperity"
	AttributeKnowledge  Attribute = "knowledge"
	AttributeHarmony    Attribute = "harmony"
)

// AllAttributes is the canonical attribute order used for iteration and output.
var AllAttributes = []Attribute{
	AttributeStability,
	AttributeProsperity,
	AttributeKnowledge,
	AttributeHarmony,
}

// WorldAttributes holds the four civilization traits, each in [-10,10].
type WorldAttributes struct {
	Stability  int `json:"stability"`
	Prosperity int `json:"prosperity"`
	Knowledge  int `json:"knowledge"`
	Harmony    int `json:"harmony"`
}

// Get returns the value for the given attribute.
func (a WorldAttributes) Get(attr Attribute) int {
	switch attr {
	case AttributeStability:
		return a.Stability
	case AttributeProsperity:
		return a.Prosperity
	case AttributeKnowledge:
		return a.Knowledge
	case AttributeHarmony:
		return a.Harmony
	}
	return 0
}

// Set assigns the value for the given attribute.
func (a *WorldAttributes) Set(attr Attribute, v int) {
	switch attr {
	case AttributeStability:
		a.Stability = v
	case AttributeProsperity:
		a.Prosperity = v
	case AttributeKnowledge:
		a.Knowledge = v
	case AttributeHarmony:
		a.Harmony = v
	}
}

// Values returns the attributes in canonical order.
func (a WorldAttributes) Values() []int {
	return []int{a.Stability, a.Prosperity, a.Knowledge, a.Harmony}
}

// WorldAttributeEffects is a delta vector applied to WorldAttributes. Fields are in [-3,3]
// when authored; actual (post-clamp) effects may be smaller.
type WorldAttributeEffects struct {
	Stability  int `json:"stability" yaml:"stability"`
	Prosperity int `json:"prosperity" yaml:"prosperity"`
	Knowledge  int `json:"knowledge" yaml:"knowledge"`
	Harmony    int `json:"harmony" yaml:"harmony"`
}

// Get returns the delta for the given attribute.
func (e WorldAttributeEffects) Get(attr Attribute) int {
	return WorldAttributes(e).Get(attr)
}

// Set assigns the delta for the given attribute.
func (e *WorldAttributeEffects) Set(attr Attribute, v int) {
	(*WorldAttributes)(e).Set(attr, v)
}

// IsZero reports whether no attribute changes.
func (e WorldAttributeEffects) IsZero() bool {
	return e == WorldAttributeEffects{}
}

// WorldState is the single versioned world record.
type WorldState struct {
	Attributes     WorldAttributes    `json:"attributes"`
	LoreLog        []string           `json:"loreLog"`
	Version        int64              `json:"version"`
	LastUpdated    time.Time          `json:"lastUpdated"`
	LastDecisionID string             `json:"lastDecisionId,omitempty"`
	PendingHistory *WorldHistoryEntry `json:"pendingHistory,omitempty"`
}

// WorldHistoryEntry is an immutable audit record of one world transition.
type WorldHistoryEntry struct {
	Version          int64                 `json:"version"`
	Timestamp        time.Time             `json:"timestamp"`
	DecisionID       string                `json:"decisionId,omitempty"`
	AttributesBefore WorldAttributes       `json:"attributesBefore"`
	AttributesAfter  WorldAttributes       `json:"attributesAfter"`
	Changes          WorldAttributeEffects `json:"changes"`
	LoreEntry        string                `json:"loreEntry,omitempty"`
}

// TrendDirection classifies the recent movement of an attribute.
type TrendDirection string

const (
	TrendRising  TrendDirection = "rising"
	TrendFalling TrendDirection = "falling"
	TrendStable  TrendDirection = "stable"
)

// AttributeTrend is the trend of one attribute over a history window.
type AttributeTrend struct {
	Attribute Attribute      `json:"attribute"`
	Direction TrendDirection `json:"direction"`
	Strength  float64        `json:"strength"`
	Sum       int            `json:"sum"`
}

// Severity of a critical attribute.
type Severity string

const (
	SeverityHigh    Severity = "high"
	SeverityExtreme Severity = "extreme"
)

// CriticalAlert flags an attribute in a dangerous range.
type CriticalAlert struct {
	Attribute Attribute `json:"attribute"`
	Value     int       `json:"value"`
	Severity  Severity  `json:"severity"`
	Hint      string    `json:"hint"`
}

// WorldAnalysis bundles derived world metrics for read-only consumers.
type WorldAnalysis struct {
	State        WorldState       `json:"state"`
	BalanceScore float64          `json:"balanceScore"`
	Trends       []AttributeTrend `json:"trends"`
	Alerts       []CriticalAlert  `json:"alerts"`
}
