// Package orchestrator runs the Backtester Orchestrator: a fixed pool of
// NEW-WORK workers plus one elastic worker that prefers due RE-WORK,
// claiming rows from the Work-Claim Layer and driving each strategy through
// coin selection, training/holdout evaluation, walk-forward stability,
// scoring, and active-pool admission.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/atlas-desktop/strategy-engine/internal/backtester"
	"github.com/atlas-desktop/strategy-engine/internal/cache"
	"github.com/atlas-desktop/strategy-engine/internal/coins"
	"github.com/atlas-desktop/strategy-engine/internal/evaluator"
	"github.com/atlas-desktop/strategy-engine/internal/loader"
	"github.com/atlas-desktop/strategy-engine/internal/parametric"
	"github.com/atlas-desktop/strategy-engine/internal/pipelineerr"
	"github.com/atlas-desktop/strategy-engine/internal/pool"
	"github.com/atlas-desktop/strategy-engine/internal/promotion"
	"github.com/atlas-desktop/strategy-engine/internal/risk"
	"github.com/atlas-desktop/strategy-engine/internal/scorer"
	"github.com/atlas-desktop/strategy-engine/internal/store"
	"github.com/atlas-desktop/strategy-engine/pkg/types"
)

// Store is the narrow persistence surface the orchestrator drives directly;
// pool admission itself goes through a *pool.Manager built on the store's
// own, separately-scoped pool.Store interface.
type Store interface {
	Claim(ctx context.Context, queue store.WorkQueue, processID string, retestInterval time.Duration) (*types.Strategy, error)
	MarkFailed(ctx context.Context, id, processID, reason string) error
	DeleteStrategy(ctx context.Context, id, processID string) error
	ReleaseAllByProcess(ctx context.Context, processID string) (int64, error)
	CountAvailable(ctx context.Context, queue store.WorkQueue, retestInterval time.Duration) (int, error)
	CountActive(ctx context.Context) (int, error)
	SetBacktestPairs(ctx context.Context, id string, pairs []string, optimalTimeframe types.Timeframe) error
	UpdateStrategyStatus(ctx context.Context, id string, status types.StrategyStatus, reason string) error
	UpdateStrategyCode(ctx context.Context, id string, code []byte) error
	InsertBacktestResult(ctx context.Context, r *types.BacktestResult) error
	InsertStrategy(ctx context.Context, strat *types.Strategy) error
}

// Config holds every tunable the orchestrator's dispatch loop and per-
// strategy pipeline need, assembled from the configuration surface's
// orchestrator/active_pool/backpressure/coin_select/risk sections.
type Config struct {
	BaseWorkers             int
	RetestInterval          time.Duration
	BackpressureMinQueue    int
	BackpressureMaxCooldown time.Duration

	ActivePoolMaxSize int
	Downstream        types.BackpressureConfig

	TrainingPeriodDays  int
	HoldoutPeriodDays   int
	TargetCoinCount     int
	CoinSelect          types.CoinSelectConfig
	MinCoverageFraction float64

	MinBarsNormal int

	RiskBufferPct      float64
	DefaultMaxLeverage int

	ParametricAdmission parametric.AdmissionConfig
	ParametricEnabled   bool
}

// Deps bundles the already-constructed collaborators the orchestrator
// drives: the cache reader, the pool leaderboard manager, the scorer, and
// one shared backtest engine used for every training/holdout/walk-forward
// run (the engine itself is stateless per call).
type Deps struct {
	Store     Store
	Cache     *cache.Reader
	Pool      *pool.Manager
	Scorer    *scorer.BacktestScorer
	Engine    *backtester.Engine
	EvalCfg   evaluator.Config
	Liquidity coins.LiquiditySet
}

// Orchestrator drives the claim/evaluate/score/admit lifecycle for one
// running process. Multiple Orchestrator instances (different processes,
// different hosts) may run against the same store concurrently; the
// Work-Claim Layer is what keeps them from double-processing a strategy.
type Orchestrator struct {
	deps      Deps
	cfg       Config
	logger    *zap.Logger
	processID string
}

// New builds an Orchestrator. processID identifies this running process in
// the processing_by column and must be unique across concurrently running
// processes (a hostname+pid composite is typical).
func New(deps Deps, cfg Config, logger *zap.Logger, processID string) *Orchestrator {
	return &Orchestrator{deps: deps, cfg: cfg, logger: logger.Named("orchestrator"), processID: processID}
}

// Run starts cfg.BaseWorkers NEW-WORK workers plus one elastic worker that
// prefers RE-WORK, and blocks until ctx is cancelled. On return every
// worker has released any lease it was holding.
func (o *Orchestrator) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for i := 0; i < o.cfg.BaseWorkers; i++ {
		wg.Add(1)
		workerID := fmt.Sprintf("%s-new-%d", o.processID, i)
		go func() {
			defer wg.Done()
			o.workerLoop(ctx, workerID, false)
		}()
	}

	wg.Add(1)
	elasticID := o.processID + "-elastic"
	go func() {
		defer wg.Done()
		o.workerLoop(ctx, elasticID, true)
	}()

	<-ctx.Done()
	wg.Wait()
	o.logger.Info("all workers stopped")
}

func (o *Orchestrator) workerLoop(ctx context.Context, workerID string, elastic bool) {
	defer func() {
		releaseCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		n, err := o.deps.Store.ReleaseAllByProcess(releaseCtx, workerID)
		if err != nil {
			o.logger.Warn("release claims on shutdown failed", zap.String("worker", workerID), zap.Error(err))
		} else if n > 0 {
			o.logger.Info("released claims on shutdown", zap.String("worker", workerID), zap.Int64("count", n))
		}
	}()

	for {
		if ctx.Err() != nil {
			return
		}

		if cooldown := o.downstreamCooldown(ctx); cooldown > 0 {
			if !sleepCtx(ctx, cooldown) {
				return
			}
			continue
		}

		queue := store.QueueNewWork
		if elastic {
			if due, err := o.deps.Store.CountAvailable(ctx, store.QueueReWork, o.cfg.RetestInterval); err == nil && due > 0 {
				queue = store.QueueReWork
			}
		}

		strat, err := o.deps.Store.Claim(ctx, queue, workerID, o.cfg.RetestInterval)
		if err != nil {
			if errors.Is(err, pipelineerr.ErrNotFound) {
				depth, _ := o.deps.Store.CountAvailable(ctx, queue, o.cfg.RetestInterval)
				cooldown := store.CalculateBackpressureCooldown(depth, o.cfg.BackpressureMinQueue, o.cfg.BackpressureMaxCooldown)
				if !sleepCtx(ctx, cooldown) {
					return
				}
				continue
			}
			o.logger.Error("claim failed", zap.String("worker", workerID), zap.Error(err))
			if !sleepCtx(ctx, time.Second) {
				return
			}
			continue
		}

		if queue == store.QueueReWork {
			o.processReWork(ctx, workerID, strat)
		} else {
			o.processNewWork(ctx, workerID, strat)
		}
	}
}

func (o *Orchestrator) downstreamCooldown(ctx context.Context) time.Duration {
	active, err := o.deps.Store.CountActive(ctx)
	if err != nil {
		return 0
	}
	return store.CalculateDownstreamBackpressureCooldown(
		active, o.cfg.ActivePoolMaxSize,
		o.cfg.Downstream.BaseCooldown, o.cfg.Downstream.CooldownIncrement, o.cfg.Downstream.MaxCooldown,
	)
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return true
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// processNewWork runs the full §4.9 NEW-WORK pipeline for one freshly
// VALIDATED strategy: coin selection, training/holdout evaluation,
// walk-forward stability, scoring, pool admission, and (when the strategy
// clears the gate and parametric search is enabled) the parametric-
// multiplier promotion that can spawn new GENERATED children.
func (o *Orchestrator) processNewWork(ctx context.Context, workerID string, strat *types.Strategy) {
	log := o.logger.With(zap.String("strategyId", strat.ID), zap.String("worker", workerID))

	inst, err := loader.Load(strat.Name, strat.Code)
	if err != nil {
		o.failLoaderError(ctx, strat.ID, workerID, err, log)
		return
	}

	candidates := strat.PatternCoins
	if len(candidates) == 0 {
		candidates, err = o.deps.Cache.ListCachedSymbols(strat.Timeframe)
		if err != nil {
			o.fail(ctx, strat.ID, workerID, fmt.Sprintf("listing cached symbols: %s", err), log)
			return
		}
	}

	coinCfg := coins.Config{
		TargetCount:         o.cfg.TargetCoinCount,
		MinCount:            o.cfg.CoinSelect.MinCount,
		FullPeriodDays:      o.cfg.TrainingPeriodDays,
		HoldoutDays:         o.cfg.HoldoutPeriodDays,
		MinCoverageFraction: o.cfg.MinCoverageFraction,
		Timeframe:           strat.Timeframe,
	}
	selected, err := coins.Select(o.deps.Cache, o.deps.Liquidity, candidates, coinCfg)
	if err != nil {
		var rejected *coins.ErrRejected
		if errors.As(err, &rejected) {
			o.retire(ctx, strat.ID, rejected.Error(), log)
			return
		}
		o.fail(ctx, strat.ID, workerID, fmt.Sprintf("coin selection: %s", err), log)
		return
	}

	if err := o.deps.Store.SetBacktestPairs(ctx, strat.ID, selected.Symbols, strat.Timeframe); err != nil {
		o.fail(ctx, strat.ID, workerID, fmt.Sprintf("persisting backtest pairs: %s", err), log)
		return
	}

	trainingData, holdoutData, combined, err := o.readPeriods(selected.Symbols, strat.Timeframe)
	if err != nil {
		o.retire(ctx, strat.ID, err.Error(), log)
		return
	}

	result, err := evaluator.Evaluate(ctx, o.deps.EvalCfg, o.deps.Engine, o.deps.Engine, inst, strat.Parameters, trainingData, holdoutData, strat.Timeframe)
	if err != nil {
		o.retire(ctx, strat.ID, fmt.Sprintf("evaluation: %s", err), log)
		return
	}

	if !result.Outcome.Passed {
		o.retire(ctx, strat.ID, result.Outcome.Reason, log)
		return
	}

	if stability, ok := computeWalkForwardStability(ctx, o.deps.Engine, inst, strat.Parameters, trainingData, strat.Timeframe); ok {
		result.Training.WalkForwardStability = stability
	}
	result.Training.IsOptimalTF = true
	result.Training.StrategyID = strat.ID
	result.Holdout.StrategyID = strat.ID

	if err := o.deps.Store.InsertBacktestResult(ctx, result.Training); err != nil {
		o.fail(ctx, strat.ID, workerID, fmt.Sprintf("persisting training result: %s", err), log)
		return
	}
	if err := o.deps.Store.InsertBacktestResult(ctx, result.Holdout); err != nil {
		o.fail(ctx, strat.ID, workerID, fmt.Sprintf("persisting holdout result: %s", err), log)
		return
	}

	score := o.deps.Scorer.ScoreFromBacktestResult(result.Training, result.Outcome.Degradation)
	outcome, err := o.deps.Pool.TryEnterPool(ctx, strat.ID, score)
	if err != nil {
		o.fail(ctx, strat.ID, workerID, fmt.Sprintf("pool admission: %s", err), log)
		return
	}

	log.Info("new-work complete", zap.Float64("score", score), zap.Bool("admitted", outcome.Admitted))
	if !outcome.Admitted || !o.cfg.ParametricEnabled {
		return
	}

	o.runParametricPromotion(ctx, workerID, strat, inst, combined, holdoutData, log)
}

// processReWork re-evaluates an already-ACTIVE strategy on its existing
// coin set and optimal timeframe (always the strategy's own Timeframe;
// multi-timeframe search is not part of this pipeline), feeding the result
// into the leaderboard's retest revalidation. No parametric search runs
// here — only NEW-WORK mints new tuples.
func (o *Orchestrator) processReWork(ctx context.Context, workerID string, strat *types.Strategy) {
	log := o.logger.With(zap.String("strategyId", strat.ID), zap.String("worker", workerID))

	inst, err := loader.Load(strat.Name, strat.Code)
	if err != nil {
		o.failLoaderError(ctx, strat.ID, workerID, err, log)
		return
	}
	if len(strat.BacktestPairs) == 0 {
		o.retire(ctx, strat.ID, "retest: no coin pairs recorded from prior backtest", log)
		return
	}

	trainingData, holdoutData, _, err := o.readPeriods(strat.BacktestPairs, strat.Timeframe)
	if err != nil {
		o.retire(ctx, strat.ID, err.Error(), log)
		return
	}

	result, err := evaluator.Evaluate(ctx, o.deps.EvalCfg, o.deps.Engine, o.deps.Engine, inst, strat.Parameters, trainingData, holdoutData, strat.Timeframe)
	if err != nil {
		o.retire(ctx, strat.ID, fmt.Sprintf("retest evaluation: %s", err), log)
		return
	}

	if !result.Outcome.Passed {
		o.retire(ctx, strat.ID, result.Outcome.Reason, log)
		return
	}

	if stability, ok := computeWalkForwardStability(ctx, o.deps.Engine, inst, strat.Parameters, trainingData, strat.Timeframe); ok {
		result.Training.WalkForwardStability = stability
	}
	result.Training.IsOptimalTF = true
	result.Training.StrategyID = strat.ID
	result.Holdout.StrategyID = strat.ID

	if err := o.deps.Store.InsertBacktestResult(ctx, result.Training); err != nil {
		o.fail(ctx, strat.ID, workerID, fmt.Sprintf("persisting retest training result: %s", err), log)
		return
	}
	if err := o.deps.Store.InsertBacktestResult(ctx, result.Holdout); err != nil {
		o.fail(ctx, strat.ID, workerID, fmt.Sprintf("persisting retest holdout result: %s", err), log)
		return
	}

	score := o.deps.Scorer.ScoreFromBacktestResult(result.Training, result.Outcome.Degradation)
	outcome, err := o.deps.Pool.RevalidateAfterRetest(ctx, strat.ID, score)
	if err != nil {
		o.fail(ctx, strat.ID, workerID, fmt.Sprintf("pool revalidation: %s", err), log)
		return
	}
	log.Info("re-work complete", zap.Float64("score", score), zap.Bool("admitted", outcome.Admitted))
}

// readPeriods reads the combined training+holdout window from the cache
// and splits it into the non-overlapping training and holdout slices the
// evaluator expects: the reader's own dual-period split returns "full" (the
// whole combined window) and "recent" (the trailing holdout tail of that
// same window), so the training slice is whatever of "full" sits before
// that tail.
func (o *Orchestrator) readPeriods(symbols []string, timeframe types.Timeframe) (training, holdout, full map[string][]types.OHLCV, err error) {
	totalDays := o.cfg.TrainingPeriodDays + o.cfg.HoldoutPeriodDays
	full, recent, skipped := o.deps.Cache.ReadMultiSymbolDualPeriods(symbols, timeframe, totalDays, o.cfg.HoldoutPeriodDays, time.Time{}, o.cfg.MinCoverageFraction)
	if len(full) < o.cfg.CoinSelect.MinCount {
		return nil, nil, nil, fmt.Errorf("insufficient cached coverage: %d of %d minimum symbols survived (%d skipped)", len(full), o.cfg.CoinSelect.MinCount, len(skipped))
	}

	training = make(map[string][]types.OHLCV, len(full))
	for symbol, bars := range full {
		rec := recent[symbol]
		cut := len(bars) - len(rec)
		if cut < 0 {
			cut = 0
		}
		training[symbol] = bars[:cut]
	}
	return training, recent, full, nil
}

// runParametricPromotion builds the entry list from the strategy's own
// signal evaluation over the combined window, runs the parametric kernel
// over the timeframe's tuple grid, and promotes survivors: the best
// rewrites the parent's code in place, the rest spawn independent
// GENERATED children after a holdout re-check (§4.11).
func (o *Orchestrator) runParametricPromotion(ctx context.Context, workerID string, strat *types.Strategy, inst *loader.Instance, combined, holdoutData map[string][]types.OHLCV, log *zap.Logger) {
	entries := collectEntries(inst, combined, strat.Parameters, o.cfg.MinBarsNormal)
	if len(entries) == 0 {
		return
	}

	tuples := parametric.TuplesForTimeframe(strat.Timeframe)
	if len(tuples) == 0 {
		return
	}

	maxLeverages := map[string]int{strat.ID: o.cfg.DefaultMaxLeverage}
	safeLeverage := func(slPct float64, maxLeverage int) int {
		return risk.SafeLeverage(slPct, maxLeverage, o.cfg.RiskBufferPct)
	}

	results, err := parametric.Evaluate(entries, combined, tuples, maxLeverages, safeLeverage, strat.Timeframe, o.cfg.ParametricAdmission, parametric.DefaultScoreWeights)
	if err != nil || len(results) == 0 {
		return
	}

	recheck := func(params types.StrategyParameter) (bool, string) {
		holdoutResult, _, runErr := o.deps.Engine.Run(ctx, inst, params, holdoutData, strat.Timeframe, types.PeriodHoldout)
		if runErr != nil {
			return false, runErr.Error()
		}
		if holdoutResult.TotalTrades < o.deps.EvalCfg.MinHoldoutTrades {
			return false, "insufficient holdout trades"
		}
		if holdoutResult.SharpeRatio < o.deps.EvalCfg.HoldoutMinSharpe {
			return false, "holdout sharpe below minimum"
		}
		return true, ""
	}

	rewrittenCode, children, err := promotion.Promote(strat, results, recheck)
	if err != nil {
		log.Warn("parametric promotion skipped", zap.Error(err))
		return
	}

	if err := o.deps.Store.UpdateStrategyCode(ctx, strat.ID, rewrittenCode); err != nil {
		log.Warn("failed to rewrite parent code after promotion", zap.Error(err))
	}

	now := time.Now()
	for i := range children {
		children[i].Status = types.StatusGenerated
		children[i].CreatedAt = now
		children[i].UpdatedAt = now
		if err := o.deps.Store.InsertStrategy(ctx, &children[i]); err != nil {
			log.Warn("failed to insert promoted child strategy", zap.String("childId", children[i].ID), zap.Error(err))
		}
	}
	log.Info("parametric promotion complete", zap.Int("survivors", len(results)), zap.Int("children", len(children)))
}

// failLoaderError implements spec §7's LoaderError path: the row is deleted
// outright (mark_failed(delete=true)) rather than transitioned to FAILED,
// since unparseable code has no value to a downstream reader.
func (o *Orchestrator) failLoaderError(ctx context.Context, id, workerID string, loadErr error, log *zap.Logger) {
	if err := o.deps.Store.DeleteStrategy(ctx, id, workerID); err != nil {
		log.Error("delete unparseable strategy failed", zap.Error(err), zap.NamedError("loaderError", loadErr))
		return
	}
	log.Warn("strategy deleted: loader error", zap.Error(loadErr))
}

func (o *Orchestrator) fail(ctx context.Context, id, workerID, reason string, log *zap.Logger) {
	if err := o.deps.Store.MarkFailed(ctx, id, workerID, reason); err != nil {
		log.Error("mark failed also failed", zap.Error(err), zap.String("reason", reason))
		return
	}
	log.Warn("strategy failed", zap.String("reason", reason))
}

func (o *Orchestrator) retire(ctx context.Context, id, reason string, log *zap.Logger) {
	if err := o.deps.Store.UpdateStrategyStatus(ctx, id, types.StatusRetired, reason); err != nil {
		log.Error("retire also failed", zap.Error(err), zap.String("reason", reason))
		return
	}
	log.Info("strategy retired", zap.String("reason", reason))
}

// collectEntries replays a strategy's own signal evaluation across bars to
// produce the entry list the parametric kernel scores tuples against,
// without re-running the backtest engine's position-management machinery
// for every candidate tuple.
func collectEntries(strategy backtester.StrategyCapability, bars map[string][]types.OHLCV, params types.StrategyParameter, minBars int) []parametric.Entry {
	var entries []parametric.Entry
	for symbol, series := range bars {
		if len(series) < minBars {
			continue
		}
		for i := minBars - 1; i < len(series)-1; i++ {
			direction, ok := strategy.Evaluate(symbol, series[:i+1], params)
			if !ok || direction == types.DirectionClose {
				continue
			}
			entries = append(entries, parametric.Entry{Symbol: symbol, Index: i, Direction: direction})
		}
	}
	sort.Slice(entries, func(a, b int) bool {
		if entries[a].Symbol != entries[b].Symbol {
			return entries[a].Symbol < entries[b].Symbol
		}
		return entries[a].Index < entries[b].Index
	})
	return entries
}
