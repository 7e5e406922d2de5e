package ballot

import (
	"context"
	"fmt"

	"worldvote/internal/cache"
	"worldvote/shared/database"
	"worldvote/shared/models"

	"go.uber.org/zap"
)

const decisionPrefix = "decision"

type currentPointer struct {
	DecisionID string `json:"decisionId"`
}

// SetCurrentDecision validates and stores the decision, then makes it the one
// votes are collected for.
func (l *Ledger) SetCurrentDecision(ctx context.Context, d *models.Decision) error {
	if err := ValidateDecision(d); err != nil {
		return err
	}
	if err := database.SaveRecord(ctx, l.store, l.keys.Decision(d.ID), database.KindDecision, d, l.cfg.VoteTTL); err != nil {
		return fmt.Errorf("store decision %s: %w", d.ID, err)
	}
	if err := database.SaveRecord(ctx, l.store, l.keys.CurrentDecision(), database.KindDecision, currentPointer{DecisionID: d.ID}, 0); err != nil {
		return fmt.Errorf("point current decision to %s: %w", d.ID, err)
	}
	l.cache.Invalidate(ctx, decisionPrefix)
	l.logger.Info("Current decision set", zap.String("decisionID", d.ID), zap.Int("options", len(d.Options)))
	return nil
}

// GetCurrentDecision returns the decision votes are currently collected for.
func (l *Ledger) GetCurrentDecision(ctx context.Context) (*models.Decision, error) {
	ptr, err := cache.GetOrSet(ctx, l.cache, cache.ClassDecision, decisionPrefix, "current", func(ctx context.Context) (*currentPointer, error) {
		var p currentPointer
		if err := database.LoadRecord(ctx, l.store, l.keys.CurrentDecision(), database.KindDecision, &p); err != nil {
			return nil, err
		}
		return &p, nil
	})
	if err != nil {
		return nil, fmt.Errorf("current decision: %w", err)
	}
	return l.GetDecision(ctx, ptr.DecisionID)
}

// GetDecision returns a stored decision by id.
func (l *Ledger) GetDecision(ctx context.Context, decisionID string) (*models.Decision, error) {
	return cache.GetOrSet(ctx, l.cache, cache.ClassDecision, decisionPrefix, decisionID, func(ctx context.Context) (*models.Decision, error) {
		var d models.Decision
		if err := database.LoadRecord(ctx, l.store, l.keys.Decision(decisionID), database.KindDecision, &d); err != nil {
			return nil, fmt.Errorf("decision %s: %w", decisionID, err)
		}
		return &d, nil
	})
}
