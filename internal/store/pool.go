package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/atlas-desktop/strategy-engine/internal/pipelineerr"
	"github.com/atlas-desktop/strategy-engine/pkg/types"
)

// CountActive returns the number of strategies currently in status=ACTIVE.
func (s *Store) CountActive(ctx context.Context) (int, error) {
	var count int
	err := s.pool.QueryRow(ctx, `SELECT count(*) FROM strategies WHERE status = 'ACTIVE'`).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("store: count active: %w", err)
	}
	return count, nil
}

// WorstActive returns the id and score of the lowest-scored ACTIVE
// strategy, or pipelineerr.ErrNotFound if the pool is empty.
func (s *Store) WorstActive(ctx context.Context) (id string, score float64, err error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, score_backtest FROM strategies
		WHERE status = 'ACTIVE'
		ORDER BY score_backtest ASC, id ASC
		LIMIT 1
	`)
	if scanErr := row.Scan(&id, &score); scanErr != nil {
		if scanErr == pgx.ErrNoRows {
			return "", 0, pipelineerr.ErrNotFound
		}
		return "", 0, fmt.Errorf("store: worst active: %w", scanErr)
	}
	return id, score, nil
}

// AdmitToPool transitions id to ACTIVE with the given score inside its own
// transaction, matching §4.8's "all operations are done under a
// transaction so admission/eviction is observed atomically".
func (s *Store) AdmitToPool(ctx context.Context, id string, score float64) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("store: admit: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `
		UPDATE strategies
		SET status = 'ACTIVE', score_backtest = $2, last_backtested_at = now(),
			processing_by = NULL, processing_started_at = NULL, updated_at = now()
		WHERE id = $1
	`, id, score); err != nil {
		return fmt.Errorf("store: admit: update: %w", err)
	}
	return tx.Commit(ctx)
}

// EvictAndAdmit atomically retires evictID and admits candidateID with
// candidateScore in the same transaction, so a concurrent reader never
// observes the pool over max_size or missing the candidate entirely.
func (s *Store) EvictAndAdmit(ctx context.Context, evictID, candidateID string, candidateScore float64) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("store: evict-and-admit: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `
		UPDATE strategies
		SET status = 'RETIRED', retired_at = now(), retired_reason = 'evicted: displaced by higher-scoring candidate',
			processing_by = NULL, processing_started_at = NULL, updated_at = now()
		WHERE id = $1
	`, evictID); err != nil {
		return fmt.Errorf("store: evict-and-admit: evict: %w", err)
	}

	if _, err := tx.Exec(ctx, `
		UPDATE strategies
		SET status = 'ACTIVE', score_backtest = $2, last_backtested_at = now(),
			processing_by = NULL, processing_started_at = NULL, updated_at = now()
		WHERE id = $1
	`, candidateID, candidateScore); err != nil {
		return fmt.Errorf("store: evict-and-admit: admit: %w", err)
	}

	return tx.Commit(ctx)
}

// RetireStrategy transitions id straight to RETIRED with reason, used for
// pool-reject and below-floor candidates that never enter ACTIVE.
func (s *Store) RetireStrategy(ctx context.Context, id, reason string) error {
	return s.UpdateStrategyStatus(ctx, id, types.StatusRetired, reason)
}
