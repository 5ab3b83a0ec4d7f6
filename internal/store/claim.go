package store

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/atlas-desktop/strategy-engine/internal/pipelineerr"
	"github.com/atlas-desktop/strategy-engine/pkg/types"
)

// WorkQueue distinguishes the two selection orders a worker claims from:
// NEW-WORK processes VALIDATED strategies FIFO by creation time, RE-WORK
// processes ACTIVE strategies due for retest, prioritized ahead of new work.
type WorkQueue int

const (
	QueueNewWork WorkQueue = iota
	QueueReWork
)

// Claim atomically assigns one available row of the given queue to
// processID, setting processing_by/processing_started_at so no other
// process can claim the same row concurrently. Returns pipelineerr.ErrNotFound
// when nothing is available.
func (s *Store) Claim(ctx context.Context, queue WorkQueue, processID string, retestInterval time.Duration) (*types.Strategy, error) {
	var query string
	var args []any

	switch queue {
	case QueueNewWork:
		query = `
			UPDATE strategies SET processing_by = $1, processing_started_at = now()
			WHERE id = (
				SELECT id FROM strategies
				WHERE status = 'VALIDATED' AND processing_by IS NULL
				ORDER BY created_at ASC
				FOR UPDATE SKIP LOCKED
				LIMIT 1
			)
			RETURNING id
		`
		args = []any{processID}
	case QueueReWork:
		query = `
			UPDATE strategies SET processing_by = $1, processing_started_at = now()
			WHERE id = (
				SELECT id FROM strategies
				WHERE status = 'ACTIVE' AND processing_by IS NULL
					AND (last_backtested_at IS NULL OR last_backtested_at < now() - $2::interval)
				ORDER BY last_backtested_at ASC NULLS FIRST
				FOR UPDATE SKIP LOCKED
				LIMIT 1
			)
			RETURNING id
		`
		args = []any{processID, retestInterval}
	default:
		return nil, fmt.Errorf("store: unknown queue %d", queue)
	}

	row := s.pool.QueryRow(ctx, query, args...)
	var id string
	if err := row.Scan(&id); err == pgx.ErrNoRows {
		return nil, pipelineerr.ErrNotFound
	} else if err != nil {
		return nil, fmt.Errorf("store: claim: %w", err)
	}

	if s.accelerator != nil {
		// Postgres already owns the lease; this only posts an advisory
		// marker after the row-level claim. Claim itself never reads the
		// marker before running its SQL.
		if _, err := s.accelerator.TryAcquire(ctx, id, processID); err != nil {
			s.logger.Warn("lease accelerator mark failed, claim still authoritative", zap.String("strategyId", id))
		}
	}

	return s.GetStrategy(ctx, id)
}

// Release clears a claimed row's lease without changing its status, used
// when a worker finishes processing successfully and moves the strategy to
// its next state via a separate status update.
func (s *Store) Release(ctx context.Context, id, processID string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE strategies SET processing_by = NULL, processing_started_at = NULL, updated_at = now()
		WHERE id = $1 AND processing_by = $2
	`, id, processID)
	if err != nil {
		return fmt.Errorf("store: release: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return pipelineerr.ErrStaleClaim
	}
	if s.accelerator != nil {
		_ = s.accelerator.Release(ctx, id, processID)
	}
	return nil
}

// MarkFailed releases a claimed row and transitions it to FAILED, recording
// reason. Used when a worker's evaluation raises an unrecoverable error
// rather than producing a scoring judgment.
func (s *Store) MarkFailed(ctx context.Context, id, processID, reason string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE strategies
		SET status = 'FAILED', retired_reason = $3,
			processing_by = NULL, processing_started_at = NULL, updated_at = now()
		WHERE id = $1 AND processing_by = $2
	`, id, processID, reason)
	if err != nil {
		return fmt.Errorf("store: mark failed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return pipelineerr.ErrStaleClaim
	}
	if s.accelerator != nil {
		_ = s.accelerator.Release(ctx, id, processID)
	}
	return nil
}

// DeleteStrategy removes a claimed row outright rather than transitioning
// it to FAILED, matching spec §4.1's mark_failed(delete=true) path: used
// for strategies whose code cannot even be loaded (§7 LoaderError), where
// retaining a FAILED row with unparseable code serves no downstream reader.
func (s *Store) DeleteStrategy(ctx context.Context, id, processID string) error {
	tag, err := s.pool.Exec(ctx, `
		DELETE FROM strategies WHERE id = $1 AND processing_by = $2
	`, id, processID)
	if err != nil {
		return fmt.Errorf("store: delete strategy: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return pipelineerr.ErrStaleClaim
	}
	if s.accelerator != nil {
		_ = s.accelerator.Release(ctx, id, processID)
	}
	return nil
}

// ReleaseAllByProcess clears every lease held by processID, used on
// SIGINT/SIGTERM so in-flight claims don't strand until stale-lease reaping.
func (s *Store) ReleaseAllByProcess(ctx context.Context, processID string) (int64, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE strategies SET processing_by = NULL, processing_started_at = NULL, updated_at = now()
		WHERE processing_by = $1
	`, processID)
	if err != nil {
		return 0, fmt.Errorf("store: release all by process: %w", err)
	}
	return tag.RowsAffected(), nil
}

// ReapStaleLeases clears leases whose processing_started_at is older than
// staleAfter, returning how many rows were reaped. Run periodically by the
// scheduler to recover from a crashed worker that never released.
func (s *Store) ReapStaleLeases(ctx context.Context, staleAfter time.Duration) (int64, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE strategies SET processing_by = NULL, processing_started_at = NULL, updated_at = now()
		WHERE processing_by IS NOT NULL AND processing_started_at < now() - $1::interval
	`, staleAfter)
	if err != nil {
		return 0, fmt.Errorf("store: reap stale leases: %w", err)
	}
	return tag.RowsAffected(), nil
}

// CountAvailable returns how many rows are currently claimable from queue,
// used by the orchestrator to decide whether to grow into its elastic slot
// and by CalculateBackpressureCooldown to size the cooldown.
func (s *Store) CountAvailable(ctx context.Context, queue WorkQueue, retestInterval time.Duration) (int, error) {
	var query string
	var args []any
	switch queue {
	case QueueNewWork:
		query = `SELECT count(*) FROM strategies WHERE status = 'VALIDATED' AND processing_by IS NULL`
	case QueueReWork:
		query = `
			SELECT count(*) FROM strategies
			WHERE status = 'ACTIVE' AND processing_by IS NULL
				AND (last_backtested_at IS NULL OR last_backtested_at < now() - $1::interval)
		`
		args = []any{retestInterval}
	default:
		return 0, fmt.Errorf("store: unknown queue %d", queue)
	}

	var count int
	if err := s.pool.QueryRow(ctx, query, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("store: count available: %w", err)
	}
	return count, nil
}

// CalculateBackpressureCooldown is a monotone function of queue depth: an
// empty queue gets the maximum cooldown between claim attempts (there is
// nothing to do), while a queue at or above minQueue gets no cooldown at
// all. The curve is linear between depth 0 and minQueue. This
// governs how long the dispatch loop waits when there's simply no work
// available, distinct from CalculateDownstreamBackpressureCooldown below.
func CalculateBackpressureCooldown(queueDepth, minQueue int, maxCooldown time.Duration) time.Duration {
	if queueDepth <= 0 {
		return maxCooldown
	}
	if queueDepth >= minQueue {
		return 0
	}
	fraction := 1.0 - float64(queueDepth)/float64(minQueue)
	fraction = math.Max(0, math.Min(1, fraction))
	return time.Duration(fraction * float64(maxCooldown))
}

// CalculateDownstreamBackpressureCooldown implements the pool-fullness
// throttle: once the ACTIVE pool is at or above poolMaxSize, the dispatch
// loop sleeps base + inc*(activeCount-poolMaxSize), capped at maxCooldown,
// so it stops generating more candidates than the pool can absorb. Returns
// zero when the pool has room.
func CalculateDownstreamBackpressureCooldown(activeCount, poolMaxSize int, base, inc, maxCooldown time.Duration) time.Duration {
	if activeCount < poolMaxSize {
		return 0
	}
	overflow := activeCount - poolMaxSize
	cooldown := base + time.Duration(overflow)*inc
	if cooldown > maxCooldown {
		return maxCooldown
	}
	return cooldown
}
