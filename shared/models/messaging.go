package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// CommandType определяет тип команды, приходящей от слоя оркестрации.
type CommandType string

const (
	CommandSubmitVote      CommandType = "submit_vote"
	CommandResolveDecision CommandType = "resolve_decision"
	CommandSetDecision     CommandType = "set_decision"
)

// CommandEnvelope is the message shape accepted on the commands queue.
type CommandEnvelope struct {
	CommandID uuid.UUID       `json:"command_id"`
	Type      CommandType     `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	SentAt    time.Time       `json:"sent_at"`
}

// SubmitVotePayload is the payload of CommandSubmitVote. An empty DecisionID
// targets the current decision.
type SubmitVotePayload struct {
	ParticipantID string `json:"participant_id" validate:"required"`
	DecisionID    string `json:"decision_id"`
	OptionID      string `json:"option_id" validate:"required"`
}

// ResolveDecisionPayload is the payload of CommandResolveDecision.
// EligibleParticipants 0 means "use the configured estimate".
type ResolveDecisionPayload struct {
	DecisionID           string `json:"decision_id" validate:"required"`
	EligibleParticipants int    `json:"eligible_participants" validate:"gte=0"`
}

// SetDecisionPayload is the payload of CommandSetDecision.
type SetDecisionPayload struct {
	Decision Decision `json:"decision"`
}

// VoteResultEvent is published after a successful resolution cycle.
type VoteResultEvent struct {
	EventID     uuid.UUID     `json:"event_id"`
	Result      VoteResult    `json:"result"`
	World       WorldAnalysis `json:"world"`
	PublishedAt time.Time     `json:"published_at"`
}
