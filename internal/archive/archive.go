// Package archive keeps a durable Postgres copy of every resolved decision and
// world transition. The key-value store stays authoritative; the archive is
// written after the fact and tolerates replays.
package archive

import (
	"context"
	"errors"
	"fmt"
	"time"

	"worldvote/shared/interfaces"
	"worldvote/shared/models"

	"github.com/georgysavva/scany/v2/pgxscan"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

const (
	insertResultQuery = `
        INSERT INTO vote_results (decision_id, winning_option_id, winning_label, tally, actual_changes,
                                  participation_rate, fallback_used, summary, world_version, resolved_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
        ON CONFLICT (decision_id) DO NOTHING
    `
	insertHistoryQuery = `
        INSERT INTO world_history (version, decision_id, attributes_before, attributes_after, changes, lore_entry, recorded_at)
        VALUES ($1, NULLIF($2, ''), $3, $4, $5, $6, $7)
        ON CONFLICT (version) DO NOTHING
    `
	listResultsQuery = `
        SELECT decision_id, winning_option_id, winning_label, tally, actual_changes,
               participation_rate, fallback_used, summary, world_version, resolved_at, archived_at
        FROM vote_results
        ORDER BY resolved_at DESC
        LIMIT $1
    `
	getResultQuery = `
        SELECT decision_id, winning_option_id, winning_label, tally, actual_changes,
               participation_rate, fallback_used, summary, world_version, resolved_at, archived_at
        FROM vote_results
        WHERE decision_id = $1
    `
)

const defaultListLimit = 20

var _ interfaces.ResultArchive = (*Archive)(nil)

// ArchivedResult is one row of vote_results.
type ArchivedResult struct {
	DecisionID        string                       `db:"decision_id" json:"decisionId"`
	WinningOptionID   string                       `db:"winning_option_id" json:"winningOptionId"`
	WinningLabel      string                       `db:"winning_label" json:"winningLabel"`
	Tally             models.VoteTally             `db:"tally" json:"tally"`
	ActualChanges     models.WorldAttributeEffects `db:"actual_changes" json:"actualChanges"`
	ParticipationRate float64                      `db:"participation_rate" json:"participationRate"`
	FallbackUsed      bool                         `db:"fallback_used" json:"fallbackUsed"`
	Summary           string                       `db:"summary" json:"summary"`
	WorldVersion      int64                        `db:"world_version" json:"worldVersion"`
	ResolvedAt        time.Time                    `db:"resolved_at" json:"resolvedAt"`
	ArchivedAt        time.Time                    `db:"archived_at" json:"archivedAt"`
}

// Archive writes resolution results to Postgres.
type Archive struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// New creates an Archive on an open pool. Call Migrate first.
func New(pool *pgxpool.Pool, logger *zap.Logger) *Archive {
	return &Archive{pool: pool, logger: logger.Named("ResultArchive")}
}

// ArchiveResult stores result and, when not nil, the world history entry it produced.
// Replaying the same decision or version is a no-op.
func (a *Archive) ArchiveResult(ctx context.Context, result models.VoteResult, entry *models.WorldHistoryEntry) error {
	log := a.logger.With(zap.String("decisionID", result.DecisionID))

	tx, err := a.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("archive %s: begin tx: %w", result.DecisionID, err)
	}
	defer func() {
		// после Commit это no-op
		_ = tx.Rollback(ctx)
	}()

	inserted, err := insertResult(ctx, tx, result)
	if err != nil {
		return err
	}
	if !inserted {
		log.Info("Result already archived, skipping")
	}
	if entry != nil {
		if err := insertHistory(ctx, tx, entry); err != nil {
			return err
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("archive %s: commit: %w", result.DecisionID, err)
	}
	log.Debug("Result archived", zap.Bool("withHistory", entry != nil))
	return nil
}

func insertResult(ctx context.Context, q interfaces.DBTX, r models.VoteResult) (bool, error) {
	tag, err := q.Exec(ctx, insertResultQuery,
		r.DecisionID, r.WinningOption.ID, r.WinningOption.Label, r.Tally, r.ActualChanges,
		r.ParticipationRate, r.FallbackUsed, r.Summary, r.WorldVersion, r.ResolvedAt,
	)
	if err != nil {
		return false, fmt.Errorf("insert vote result %s: %w", r.DecisionID, err)
	}
	return tag.RowsAffected() > 0, nil
}

func insertHistory(ctx context.Context, q interfaces.DBTX, e *models.WorldHistoryEntry) error {
	_, err := q.Exec(ctx, insertHistoryQuery,
		e.Version, e.DecisionID, e.AttributesBefore, e.AttributesAfter, e.Changes, e.LoreEntry, e.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("insert world history v%d: %w", e.Version, err)
	}
	return nil
}

// ListResults returns the most recently resolved decisions first.
func (a *Archive) ListResults(ctx context.Context, limit int) ([]ArchivedResult, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	var rows []ArchivedResult
	if err := pgxscan.Select(ctx, a.pool, &rows, listResultsQuery, limit); err != nil {
		a.logger.Error("Error listing archived results", zap.Error(err))
		return nil, fmt.Errorf("list archived results: %w", err)
	}
	return rows, nil
}

// GetResult returns the archived result of one decision.
func (a *Archive) GetResult(ctx context.Context, decisionID string) (*ArchivedResult, error) {
	var row ArchivedResult
	if err := pgxscan.Get(ctx, a.pool, &row, getResultQuery, decisionID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, models.ErrNotFound
		}
		return nil, fmt.Errorf("get archived result %s: %w", decisionID, err)
	}
	return &row, nil
}

// Ping checks the database connection.
func (a *Archive) Ping(ctx context.Context) error {
	return a.pool.Ping(ctx)
}
