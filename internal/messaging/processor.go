// Package messaging connects the engine to RabbitMQ: vote results go out on a
// results queue, orchestration commands come in on a commands queue.
package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"worldvote/shared/models"

	"go.uber.org/zap"
)

const commandTimeout = 30 * time.Second

// CommandHandler is the part of the engine commands are dispatched to.
//
//go:generate mockery --name CommandHandler --output ./mocks --outpkg mocks --case=underscore
type CommandHandler interface {
	SubmitVote(ctx context.Context, participantID, decisionID, optionID string) (*models.Vote, error)
	Resolve(ctx context.Context, decisionID string, eligible int) (*models.VoteResult, error)
	SetCurrentDecision(ctx context.Context, d *models.Decision) error
}

// CommandProcessor decodes and executes one command message.
type CommandProcessor struct {
	handler CommandHandler
	logger  *zap.Logger
}

// NewCommandProcessor creates a CommandProcessor.
func NewCommandProcessor(handler CommandHandler, logger *zap.Logger) *CommandProcessor {
	return &CommandProcessor{handler: handler, logger: logger.Named("CommandProcessor")}
}

// Process executes the command in body. Outcomes that retrying cannot change
// (duplicate vote, no votes, validation, corrupted records) are logged and reported
// as nil; the returned error is non-nil only for malformed messages and retryable
// failures.
func (p *CommandProcessor) Process(ctx context.Context, body []byte) error {
	var cmd models.CommandEnvelope
	if err := json.Unmarshal(body, &cmd); err != nil {
		return fmt.Errorf("%w: command envelope: %v", models.ErrInvalidInput, err)
	}
	log := p.logger.With(zap.String("commandID", cmd.CommandID.String()), zap.String("type", string(cmd.Type)))

	ctx, cancel := context.WithTimeout(ctx, commandTimeout)
	defer cancel()

	var err error
	switch cmd.Type {
	case models.CommandSubmitVote:
		var payload models.SubmitVotePayload
		if err := decodePayload(cmd.Payload, &payload); err != nil {
			return fmt.Errorf("submit_vote payload: %w", err)
		}
		_, err = p.handler.SubmitVote(ctx, payload.ParticipantID, payload.DecisionID, payload.OptionID)

	case models.CommandResolveDecision:
		var payload models.ResolveDecisionPayload
		if err := decodePayload(cmd.Payload, &payload); err != nil {
			return fmt.Errorf("resolve_decision payload: %w", err)
		}
		var result *models.VoteResult
		result, err = p.handler.Resolve(ctx, payload.DecisionID, payload.EligibleParticipants)
		if err == nil {
			log.Info("Decision resolved by command", zap.String("winner", result.WinningOption.ID))
		}

	case models.CommandSetDecision:
		var payload models.SetDecisionPayload
		if err := decodePayload(cmd.Payload, &payload); err != nil {
			return fmt.Errorf("set_decision payload: %w", err)
		}
		err = p.handler.SetCurrentDecision(ctx, &payload.Decision)

	default:
		return fmt.Errorf("%w: unknown command type %q", models.ErrInvalidInput, cmd.Type)
	}

	switch {
	case err == nil:
		log.Debug("Command processed")
		return nil
	case models.IsRetryable(err):
		log.Warn("Command failed, will be retried", zap.Error(err))
		return err
	case errors.Is(err, context.DeadlineExceeded):
		log.Warn("Command timed out, will be retried", zap.Error(err))
		return err
	case errors.Is(err, models.ErrCorruptedRecord):
		log.Error("CRITICAL: command hit a corrupted record, needs manual repair", zap.Error(err))
		return nil
	default:
		// Повтор не изменит результат: дубликат голоса, нет голосов, ошибка валидации.
		log.Info("Command rejected", zap.Error(err))
		return nil
	}
}

func decodePayload(raw json.RawMessage, v any) error {
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("%w: %v", models.ErrInvalidInput, err)
	}
	return models.ValidateStruct(v)
}
