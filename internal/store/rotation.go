package store

import (
	"context"
	"fmt"

	"github.com/atlas-desktop/strategy-engine/pkg/types"
)

// ActiveCandidate is one row of the ACTIVE leaderboard ordered for rotation
// selection: best score_backtest first.
type ActiveCandidate struct {
	ID    string
	Score float64
}

// ListActiveByScore returns every ACTIVE strategy ordered by score_backtest
// descending, the order the rotator promotes from when a LIVE slot frees up.
func (s *Store) ListActiveByScore(ctx context.Context) ([]ActiveCandidate, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, score_backtest FROM strategies
		WHERE status = 'ACTIVE'
		ORDER BY score_backtest DESC, id ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("store: list active by score: %w", err)
	}
	defer rows.Close()

	var out []ActiveCandidate
	for rows.Next() {
		var c ActiveCandidate
		var score *float64
		if err := rows.Scan(&c.ID, &score); err != nil {
			return nil, fmt.Errorf("store: scan active candidate: %w", err)
		}
		if score != nil {
			c.Score = *score
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// CountLive returns how many strategies currently hold status=LIVE.
func (s *Store) CountLive(ctx context.Context) (int, error) {
	var count int
	if err := s.pool.QueryRow(ctx, `SELECT count(*) FROM strategies WHERE status = 'LIVE'`).Scan(&count); err != nil {
		return 0, fmt.Errorf("store: count live: %w", err)
	}
	return count, nil
}

// PromoteToLive transitions an ACTIVE strategy to LIVE and assigns it the
// given subaccount, inside its own transaction so a concurrent rotator pass
// never observes a half-applied promotion.
func (s *Store) PromoteToLive(ctx context.Context, id, subaccountID string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("store: promote to live: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `
		UPDATE strategies
		SET status = 'LIVE', subaccount_id = $2, updated_at = now()
		WHERE id = $1 AND status = 'ACTIVE'
	`, id, subaccountID)
	if err != nil {
		return fmt.Errorf("store: promote to live: update: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("store: promote to live: %s is not ACTIVE", id)
	}
	return tx.Commit(ctx)
}

// DemoteFromLive transitions a LIVE strategy back to ACTIVE, releasing its
// subaccount assignment. The executor's Store interface declares it; no
// code in this repository calls it.
func (s *Store) DemoteFromLive(ctx context.Context, id string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE strategies
		SET status = 'ACTIVE', subaccount_id = NULL, updated_at = now()
		WHERE id = $1 AND status = 'LIVE'
	`, id)
	if err != nil {
		return fmt.Errorf("store: demote from live: %w", err)
	}
	return nil
}

// LiveStrategyDetail is the subset of a LIVE strategy's fields the executor
// needs to evaluate and trade it, without loading the full row.
type LiveStrategyDetail struct {
	ID               string
	Code             []byte
	Timeframe        types.Timeframe
	BacktestPairs    []string
	Parameters       types.StrategyParameter
	SubaccountID     string
}

// ListLiveStrategyDetails returns every LIVE strategy's executor-relevant
// fields in one query, avoiding N+1 GetStrategy calls on each executor tick.
func (s *Store) ListLiveStrategyDetails(ctx context.Context) ([]LiveStrategyDetail, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, code, timeframe, backtest_pairs, sl_pct, tp_pct, leverage, exit_bars, subaccount_id
		FROM strategies WHERE status = 'LIVE'
	`)
	if err != nil {
		return nil, fmt.Errorf("store: list live strategy details: %w", err)
	}
	defer rows.Close()

	var out []LiveStrategyDetail
	for rows.Next() {
		var d LiveStrategyDetail
		var subaccount *string
		if err := rows.Scan(&d.ID, &d.Code, &d.Timeframe, &d.BacktestPairs,
			&d.Parameters.StopLossPct, &d.Parameters.TakeProfitPct,
			&d.Parameters.Leverage, &d.Parameters.ExitBars, &subaccount); err != nil {
			return nil, fmt.Errorf("store: scan live strategy detail: %w", err)
		}
		if subaccount != nil {
			d.SubaccountID = *subaccount
		}
		out = append(out, d)
	}
	return out, rows.Err()
}
