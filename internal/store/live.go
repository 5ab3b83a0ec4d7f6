package store

import (
	"context"
	"fmt"
	"time"

	"github.com/atlas-desktop/strategy-engine/pkg/types"
)

// ListLiveStrategies returns every strategy currently in LIVE status, the
// set the scheduler's live-metric refresh sweeps each tick.
func (s *Store) ListLiveStrategies(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx, `SELECT id FROM strategies WHERE status = 'LIVE'`)
	if err != nil {
		return nil, fmt.Errorf("store: list live strategies: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("store: scan live strategy id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// TradesSince returns a strategy's realized trades with entry_time at or
// after since, ordered oldest-first.
func (s *Store) TradesSince(ctx context.Context, strategyID string, since time.Time) ([]types.Trade, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, strategy_id, symbol, side, entry_time, exit_time, pnl_usd, pnl_pct
		FROM trades
		WHERE strategy_id = $1 AND entry_time >= $2
		ORDER BY entry_time ASC
	`, strategyID, since)
	if err != nil {
		return nil, fmt.Errorf("store: trades since: %w", err)
	}
	defer rows.Close()

	var out []types.Trade
	for rows.Next() {
		var t types.Trade
		if err := rows.Scan(&t.ID, &t.StrategyID, &t.Symbol, &t.Side, &t.EntryTime, &t.ExitTime, &t.PnLUSD, &t.PnLPct); err != nil {
			return nil, fmt.Errorf("store: scan trade: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// LiveMetricsUpdate is the set of live-performance fields the scheduler
// recomputes from realized trades on each refresh tick.
type LiveMetricsUpdate struct {
	Score          float64
	WinRate        float64
	Expectancy     float64
	Sharpe         float64
	MaxDrawdown    float64
	TotalTrades    int
	DegradationPct float64
}

// UpdateLiveMetrics persists a refreshed live-performance snapshot for a
// LIVE strategy.
func (s *Store) UpdateLiveMetrics(ctx context.Context, id string, m LiveMetricsUpdate) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE strategies
		SET score_live = $2, win_rate_live = $3, expectancy_live = $4,
			sharpe_live = $5, max_drawdown_live = $6, total_trades_live = $7,
			live_degradation_pct = $8, last_live_update = now(), updated_at = now()
		WHERE id = $1
	`, id, m.Score, m.WinRate, m.Expectancy, m.Sharpe, m.MaxDrawdown, m.TotalTrades, m.DegradationPct)
	if err != nil {
		return fmt.Errorf("store: update live metrics: %w", err)
	}
	return nil
}
