// Package store is the pgx-backed relational store for strategies,
// backtest results, trades, and credentials, plus the Work-Claim Layer that
// gives every lifecycle transition atomic cross-process semantics.
package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/atlas-desktop/strategy-engine/internal/pipelineerr"
	"github.com/atlas-desktop/strategy-engine/pkg/types"
)

// Store wraps a pgx connection pool with the entity operations the pipeline
// needs. Every method is safe for concurrent use by multiple goroutines and
// processes, since atomicity is enforced at the row level in Postgres.
type Store struct {
	pool        *pgxpool.Pool
	logger      *zap.Logger
	accelerator *LeaseAccelerator
}

// Open connects to dsn and returns a ready Store.
func Open(ctx context.Context, dsn string, maxConns int32, logger *zap.Logger) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("store: parse dsn: %w", err)
	}
	cfg.MaxConns = maxConns

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("store: connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("store: ping: %w", err)
	}

	return &Store{pool: pool, logger: logger.Named("store")}, nil
}

// WithAccelerator attaches a Redis-backed LeaseAccelerator that Claim marks
// alongside every successful row-level claim, and Release/MarkFailed clear
// alongside every lease release. Optional: a Store with no accelerator
// attached behaves identically, just without the advisory short-circuit.
func (s *Store) WithAccelerator(a *LeaseAccelerator) *Store {
	s.accelerator = a
	return s
}

// Close releases the underlying connection pool.
func (s *Store) Close() {
	s.pool.Close()
	if s.accelerator != nil {
		_ = s.accelerator.Close()
	}
}

// Healthy reports whether the store can currently reach Postgres.
func (s *Store) Healthy(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// InsertStrategy persists a newly generated strategy row.
func (s *Store) InsertStrategy(ctx context.Context, strat *types.Strategy) error {
	metrics, err := json.Marshal(strat.ParametricBacktestMetrics)
	if err != nil {
		return fmt.Errorf("store: marshal parametric metrics: %w", err)
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO strategies (
			id, name, kind, timeframe, code, pattern_coins, backtest_pairs,
			optimal_timeframe, sl_pct, tp_pct, leverage, exit_bars, status,
			generation_mode, template_id, pattern_ids, parametric_backtest_metrics,
			created_at, updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19)
	`,
		strat.ID, strat.Name, strat.Kind, strat.Timeframe, strat.Code,
		strat.PatternCoins, strat.BacktestPairs, strat.OptimalTimeframe,
		strat.Parameters.StopLossPct, strat.Parameters.TakeProfitPct,
		strat.Parameters.Leverage, strat.Parameters.ExitBars, strat.Status,
		strat.GenerationMode, strat.TemplateID, strat.PatternIDs, metrics,
		strat.CreatedAt, strat.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("store: insert strategy: %w", err)
	}
	return nil
}

// GetStrategy loads a strategy by ID.
func (s *Store) GetStrategy(ctx context.Context, id string) (*types.Strategy, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, name, kind, timeframe, code, pattern_coins, backtest_pairs,
			optimal_timeframe, sl_pct, tp_pct, leverage, exit_bars, status,
			processing_by, processing_started_at, score_backtest,
			score_live, win_rate_live, expectancy_live, sharpe_live,
			max_drawdown_live, total_trades_live, total_pnl_live,
			last_live_update, live_degradation_pct, last_backtested_at,
			subaccount_id, retired_at, retired_reason, template_id, pattern_ids,
			generation_mode, created_at, updated_at
		FROM strategies WHERE id = $1
	`, id)

	var strat types.Strategy
	var totalPnl *decimal.Decimal
	err := row.Scan(
		&strat.ID, &strat.Name, &strat.Kind, &strat.Timeframe, &strat.Code,
		&strat.PatternCoins, &strat.BacktestPairs, &strat.OptimalTimeframe,
		&strat.Parameters.StopLossPct, &strat.Parameters.TakeProfitPct,
		&strat.Parameters.Leverage, &strat.Parameters.ExitBars, &strat.Status,
		&strat.ProcessingBy, &strat.ProcessingStartedAt, &strat.ScoreBacktest,
		&strat.ScoreLive, &strat.WinRateLive, &strat.ExpectancyLive, &strat.SharpeLive,
		&strat.MaxDrawdownLive, &strat.TotalTradesLive, &totalPnl,
		&strat.LastLiveUpdate, &strat.LiveDegradationPct, &strat.LastBacktestedAt,
		&strat.SubaccountID, &strat.RetiredAt, &strat.RetiredReason, &strat.TemplateID, &strat.PatternIDs,
		&strat.GenerationMode, &strat.CreatedAt, &strat.UpdatedAt,
	)
	if err == pgx.ErrNoRows {
		return nil, pipelineerr.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: get strategy: %w", err)
	}
	strat.TotalPnlLive = totalPnl
	return &strat, nil
}

// SetBacktestPairs records the coin-selection survivors and the optimal
// timeframe discovered for a strategy, independent of its status transition.
func (s *Store) SetBacktestPairs(ctx context.Context, id string, pairs []string, optimalTimeframe types.Timeframe) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE strategies SET backtest_pairs = $2, optimal_timeframe = $3, updated_at = now()
		WHERE id = $1
	`, id, pairs, optimalTimeframe)
	if err != nil {
		return fmt.Errorf("store: set backtest pairs: %w", err)
	}
	return nil
}

// UpdateStrategyCode overwrites a strategy's code blob, used by the
// parametric-multiplier promotion to rewrite a parent with its best
// surviving tuple's parameters.
func (s *Store) UpdateStrategyCode(ctx context.Context, id string, code []byte) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE strategies SET code = $2, updated_at = now()
		WHERE id = $1
	`, id, code)
	if err != nil {
		return fmt.Errorf("store: update strategy code: %w", err)
	}
	return nil
}

// UpdateStrategyStatus transitions a strategy's lifecycle status and clears
// its lease, used by terminal transitions (VALIDATED, RETIRED, FAILED) that
// are not part of the claim/release/fail cycle itself.
func (s *Store) UpdateStrategyStatus(ctx context.Context, id string, status types.StrategyStatus, reason string) error {
	now := time.Now()
	var retiredAt *time.Time
	if status == types.StatusRetired {
		retiredAt = &now
	}
	_, err := s.pool.Exec(ctx, `
		UPDATE strategies
		SET status = $2, retired_at = COALESCE($3, retired_at),
			retired_reason = CASE WHEN $2 = 'RETIRED' THEN $4 ELSE retired_reason END,
			processing_by = NULL, processing_started_at = NULL,
			updated_at = now()
		WHERE id = $1
	`, id, status, retiredAt, reason)
	if err != nil {
		return fmt.Errorf("store: update strategy status: %w", err)
	}
	return nil
}

// SetStrategyBacktestScore records the score_backtest/last_backtested_at
// fields without changing status. The pool manager does not use it; it
// writes these fields through AdmitToPool and EvictAndAdmit.
func (s *Store) SetStrategyBacktestScore(ctx context.Context, id string, score float64) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE strategies
		SET score_backtest = $2, last_backtested_at = now(), updated_at = now()
		WHERE id = $1
	`, id, score)
	if err != nil {
		return fmt.Errorf("store: set backtest score: %w", err)
	}
	return nil
}

// InsertBacktestResult persists one training/holdout evaluation row.
func (s *Store) InsertBacktestResult(ctx context.Context, r *types.BacktestResult) error {
	perSymbol, err := json.Marshal(r.PerSymbolResults)
	if err != nil {
		return fmt.Errorf("store: marshal per-symbol results: %w", err)
	}
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO backtest_results (
			id, strategy_id, period_type, period_days, start_date, end_date,
			total_trades, win_rate, sharpe_ratio, expectancy, max_drawdown,
			total_return_pct, final_equity, symbols_tested, timeframe_tested,
			is_optimal_tf, per_symbol_results, recent_result_id,
			weighted_sharpe, weighted_sharpe_pure, weighted_expectancy,
			weighted_win_rate, weighted_walk_forward_stability,
			weighted_max_drawdown, recency_ratio, recency_penalty,
			walk_forward_stability, created_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,
			$19,$20,$21,$22,$23,$24,$25,$26,$27,$28)
	`,
		r.ID, r.StrategyID, r.PeriodType, r.PeriodDays, r.StartDate, r.EndDate,
		r.TotalTrades, r.WinRate, r.SharpeRatio, r.Expectancy, r.MaxDrawdown,
		r.TotalReturnPct, r.FinalEquity, r.SymbolsTested, r.TimeframeTested,
		r.IsOptimalTF, perSymbol, r.RecentResultID,
		r.WeightedSharpe, r.WeightedSharpePure, r.WeightedExpectancy,
		r.WeightedWinRate, r.WeightedWalkForwardStability, r.WeightedMaxDrawdown,
		r.RecencyRatio, r.RecencyPenalty, r.WalkForwardStability, time.Now(),
	)
	if err != nil {
		return fmt.Errorf("store: insert backtest result: %w", err)
	}
	return nil
}

// LatestBacktestResult returns the most recent result of the given period
// type for a strategy.
func (s *Store) LatestBacktestResult(ctx context.Context, strategyID string, periodType types.PeriodType) (*types.BacktestResult, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, strategy_id, period_type, period_days, start_date, end_date,
			total_trades, win_rate, sharpe_ratio, expectancy, max_drawdown,
			total_return_pct, final_equity, symbols_tested, timeframe_tested,
			is_optimal_tf, weighted_sharpe, weighted_sharpe_pure,
			weighted_expectancy, weighted_win_rate, weighted_walk_forward_stability,
			weighted_max_drawdown, recency_ratio, recency_penalty,
			walk_forward_stability, created_at
		FROM backtest_results
		WHERE strategy_id = $1 AND period_type = $2
		ORDER BY created_at DESC LIMIT 1
	`, strategyID, periodType)

	var r types.BacktestResult
	err := row.Scan(
		&r.ID, &r.StrategyID, &r.PeriodType, &r.PeriodDays, &r.StartDate, &r.EndDate,
		&r.TotalTrades, &r.WinRate, &r.SharpeRatio, &r.Expectancy, &r.MaxDrawdown,
		&r.TotalReturnPct, &r.FinalEquity, &r.SymbolsTested, &r.TimeframeTested,
		&r.IsOptimalTF, &r.WeightedSharpe, &r.WeightedSharpePure,
		&r.WeightedExpectancy, &r.WeightedWinRate, &r.WeightedWalkForwardStability,
		&r.WeightedMaxDrawdown, &r.RecencyRatio, &r.RecencyPenalty,
		&r.WalkForwardStability, &r.CreatedAt,
	)
	if err == pgx.ErrNoRows {
		return nil, pipelineerr.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: latest backtest result: %w", err)
	}
	return &r, nil
}

// InsertTrade persists a realized trade.
func (s *Store) InsertTrade(ctx context.Context, t *types.Trade) error {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO trades (id, strategy_id, symbol, side, entry_time, exit_time, pnl_usd, pnl_pct)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
	`, t.ID, t.StrategyID, t.Symbol, t.Side, t.EntryTime, t.ExitTime, t.PnLUSD, t.PnLPct)
	if err != nil {
		return fmt.Errorf("store: insert trade: %w", err)
	}
	return nil
}

// ActiveCredentials returns credentials eligible for live-order routing:
// active and not expired.
func (s *Store) ActiveCredentials(ctx context.Context) ([]types.Credential, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, subaccount_id, api_key_ref, api_secret_ref, is_active, expires_at, created_at
		FROM credentials
		WHERE is_active AND (expires_at IS NULL OR expires_at > now())
		ORDER BY subaccount_id
	`)
	if err != nil {
		return nil, fmt.Errorf("store: active credentials: %w", err)
	}
	defer rows.Close()

	var out []types.Credential
	for rows.Next() {
		var c types.Credential
		if err := rows.Scan(&c.ID, &c.SubaccountID, &c.APIKeyRef, &c.APISecretRef, &c.IsActive, &c.ExpiresAt, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("store: scan credential: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// InsertPipelineMetricsSnapshot appends an observability snapshot row.
func (s *Store) InsertPipelineMetricsSnapshot(ctx context.Context, snap *types.PipelineMetricsSnapshot) error {
	depths, err := json.Marshal(snap.QueueDepths)
	if err != nil {
		return fmt.Errorf("store: marshal queue depths: %w", err)
	}
	if snap.ID == "" {
		snap.ID = uuid.NewString()
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO pipeline_metrics_snapshots (id, taken_at, queue_depths, pool_utilization, active_workers)
		VALUES ($1,$2,$3,$4,$5)
	`, snap.ID, snap.TakenAt, depths, snap.PoolUtilization, snap.ActiveWorkers)
	if err != nil {
		return fmt.Errorf("store: insert metrics snapshot: %w", err)
	}
	return nil
}
