package mocks

import (
	"context"

	"worldvote/shared/models"

	"github.com/stretchr/testify/mock"
)

// Mock CommandHandler
type CommandHandler struct {
	mock.Mock
}

func (m *CommandHandler) SubmitVote(ctx context.Context, participantID, decisionID, optionID string) (*models.Vote, error) {
	args := m.Called(ctx, participantID, decisionID, optionID)
	if v := args.Get(0); v != nil {
		return v.(*models.Vote), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *CommandHandler) Resolve(ctx context.Context, decisionID string, eligible int) (*models.VoteResult, error) {
	args := m.Called(ctx, decisionID, eligible)
	if v := args.Get(0); v != nil {
		return v.(*models.VoteResult), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *CommandHandler) SetCurrentDecision(ctx context.Context, d *models.Decision) error {
	args := m.Called(ctx, d)
	return args.Error(0)
}
