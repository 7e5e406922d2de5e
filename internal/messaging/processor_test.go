package messaging_test

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"worldvote/internal/messaging"
	"worldvote/internal/messaging/mocks"
	"worldvote/shared/models"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func command(t *testing.T, typ models.CommandType, payload any) []byte {
	t.Helper()
	raw, err := json.Marshal(payload)
	require.NoError(t, err)
	body, err := json.Marshal(models.CommandEnvelope{
		CommandID: uuid.New(),
		Type:      typ,
		Payload:   raw,
		SentAt:    time.Now().UTC(),
	})
	require.NoError(t, err)
	return body
}

func TestProcessSubmitVote(t *testing.T) {
	handler := new(mocks.CommandHandler)
	p := messaging.NewCommandProcessor(handler, zap.NewNop())

	handler.On("SubmitVote", mock.Anything, "p1", "d1", "o1").Return(&models.Vote{ParticipantID: "p1"}, nil).Once()

	err := p.Process(context.Background(), command(t, models.CommandSubmitVote, models.SubmitVotePayload{
		ParticipantID: "p1", DecisionID: "d1", OptionID: "o1",
	}))
	assert.NoError(t, err)
	handler.AssertExpectations(t)
}

func TestProcessDuplicateVoteIsNotRetried(t *testing.T) {
	handler := new(mocks.CommandHandler)
	p := messaging.NewCommandProcessor(handler, zap.NewNop())

	handler.On("SubmitVote", mock.Anything, "p1", "d1", "o1").
		Return(nil, fmt.Errorf("submit: %w", models.ErrDuplicateVote)).Once()

	err := p.Process(context.Background(), command(t, models.CommandSubmitVote, models.SubmitVotePayload{
		ParticipantID: "p1", DecisionID: "d1", OptionID: "o1",
	}))
	assert.NoError(t, err)
	handler.AssertExpectations(t)
}

func TestProcessResolveRetryableError(t *testing.T) {
	handler := new(mocks.CommandHandler)
	p := messaging.NewCommandProcessor(handler, zap.NewNop())

	handler.On("Resolve", mock.Anything, "d1", 40).Return(nil, models.ErrLeaseHeld).Once()

	err := p.Process(context.Background(), command(t, models.CommandResolveDecision, models.ResolveDecisionPayload{
		DecisionID: "d1", EligibleParticipants: 40,
	}))
	assert.ErrorIs(t, err, models.ErrLeaseHeld)
	handler.AssertExpectations(t)
}

func TestProcessResolveSuccess(t *testing.T) {
	handler := new(mocks.CommandHandler)
	p := messaging.NewCommandProcessor(handler, zap.NewNop())

	result := &models.VoteResult{DecisionID: "d1", WinningOption: models.Option{ID: "o2"}}
	handler.On("Resolve", mock.Anything, "d1", 0).Return(result, nil).Once()

	err := p.Process(context.Background(), command(t, models.CommandResolveDecision, models.ResolveDecisionPayload{DecisionID: "d1"}))
	assert.NoError(t, err)
	handler.AssertExpectations(t)
}

func TestProcessSetDecision(t *testing.T) {
	handler := new(mocks.CommandHandler)
	p := messaging.NewCommandProcessor(handler, zap.NewNop())

	handler.On("SetCurrentDecision", mock.Anything, mock.MatchedBy(func(d *models.Decision) bool {
		return d.ID == "d7" && len(d.Options) == 2
	})).Return(nil).Once()

	err := p.Process(context.Background(), command(t, models.CommandSetDecision, models.SetDecisionPayload{
		Decision: models.Decision{ID: "d7", Options: []models.Option{{ID: "a"}, {ID: "b"}}},
	}))
	assert.NoError(t, err)
	handler.AssertExpectations(t)
}

func TestProcessMalformed(t *testing.T) {
	handler := new(mocks.CommandHandler)
	p := messaging.NewCommandProcessor(handler, zap.NewNop())

	tests := []struct {
		name string
		body []byte
	}{
		{"not json", []byte("{{")},
		{"unknown type", command(t, models.CommandType("explode"), map[string]string{})},
		{"bad payload", []byte(`{"command_id":"` + uuid.NewString() + `","type":"submit_vote","payload":"oops"}`)},
		{"vote without participant", command(t, models.CommandSubmitVote, models.SubmitVotePayload{DecisionID: "d1", OptionID: "o1"})},
		{"resolve without decision", command(t, models.CommandResolveDecision, models.ResolveDecisionPayload{})},
		{"negative eligible", command(t, models.CommandResolveDecision, models.ResolveDecisionPayload{DecisionID: "d1", EligibleParticipants: -1})},
		{"single option decision", command(t, models.CommandSetDecision, models.SetDecisionPayload{
			Decision: models.Decision{ID: "d8", Options: []models.Option{{ID: "a"}}},
		})},
		{"repeated option", command(t, models.CommandSetDecision, models.SetDecisionPayload{
			Decision: models.Decision{ID: "d8", Options: []models.Option{{ID: "a"}, {ID: "a"}}},
		})},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := p.Process(context.Background(), tt.body)
			assert.ErrorIs(t, err, models.ErrInvalidInput)
		})
	}
	handler.AssertNotCalled(t, "SubmitVote", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	handler.AssertNotCalled(t, "Resolve", mock.Anything, mock.Anything, mock.Anything)
	handler.AssertNotCalled(t, "SetCurrentDecision", mock.Anything, mock.Anything)
}

func TestProcessCorruptedRecordLoggedAsError(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	handler := new(mocks.CommandHandler)
	p := messaging.NewCommandProcessor(handler, zap.New(core))

	handler.On("Resolve", mock.Anything, "d1", 0).
		Return(nil, fmt.Errorf("load world state: %w", models.ErrCorruptedRecord)).Once()

	err := p.Process(context.Background(), command(t, models.CommandResolveDecision, models.ResolveDecisionPayload{DecisionID: "d1"}))
	assert.NoError(t, err, "retrying cannot fix a corrupted record")

	entries := logs.FilterLevelExact(zap.ErrorLevel).All()
	require.Len(t, entries, 1)
	assert.Contains(t, entries[0].Message, "corrupted record")
	handler.AssertExpectations(t)
}
