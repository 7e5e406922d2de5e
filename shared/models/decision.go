package models

import "time"

// Option is one choice of a decision with its authored effect vector.
type Option struct {
	ID      string                `json:"id" yaml:"id" validate:"required"`
	Label   string                `json:"label" yaml:"label"`
	Effects WorldAttributeEffects `json:"effects" yaml:"effects"`
	Lore    string                `json:"lore,omitempty" yaml:"lore,omitempty"`
}

// Decision is a presented multiple-choice question.
type Decision struct {
	ID              string    `json:"id" yaml:"id" validate:"required,ne=current"`
	Title           string    `json:"title" yaml:"title"`
	Options         []Option  `json:"options" yaml:"options" validate:"min=2,unique=ID,dive"`
	DefaultOptionID string    `json:"defaultOptionId,omitempty" yaml:"defaultOptionId,omitempty"`
	OpensAt         time.Time `json:"opensAt,omitempty" yaml:"opensAt,omitempty"`
	ClosesAt        time.Time `json:"closesAt,omitempty" yaml:"closesAt,omitempty"`
}

// Option returns the option with the given id.
func (d *Decision) Option(id string) (Option, bool) {
	for _, o := range d.Options {
		if o.ID == id {
			return o, true
		}
	}
	return Option{}, false
}

// AcceptsVotesAt reports whether the voting window is open at t. Zero bounds are unbounded.
func (d *Decision) AcceptsVotesAt(t time.Time) bool {
	if !d.OpensAt.IsZero() && t.Before(d.OpensAt) {
		return false
	}
	if !d.ClosesAt.IsZero() && !t.Before(d.ClosesAt) {
		return false
	}
	return true
}

// Vote is one participant's immutable choice.
type Vote struct {
	ParticipantID string    `json:"participantId"`
	DecisionID    string    `json:"decisionId"`
	OptionID      string    `json:"optionId"`
	Timestamp     time.Time `json:"timestamp"`
}

// VoteTally aggregates the votes of one decision.
type VoteTally struct {
	DecisionID string           `json:"decisionId"`
	Counts     map[string]int64 `json:"counts"`
	Total      int64            `json:"total"`
}

// VoteResult is the outcome of a resolution cycle, consumed read-only downstream.
type VoteResult struct {
	DecisionID        string                `json:"decisionId"`
	WinningOption     Option                `json:"winningOption"`
	Tally             VoteTally             `json:"tally"`
	AttributeChanges  WorldAttributeEffects `json:"attributeChanges"`
	ActualChanges     WorldAttributeEffects `json:"actualChanges"`
	ParticipationRate float64               `json:"participationRate"`
	Summary           string                `json:"summary"`
	FallbackUsed      bool                  `json:"fallbackUsed,omitempty"`
	ResolvedAt        time.Time             `json:"resolvedAt"`
	WorldVersion      int64                 `json:"worldVersion,omitempty"`
}
