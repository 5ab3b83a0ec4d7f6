// Package scheduler runs the periodic maintenance loops that keep the rest
// of the pipeline healthy: reaping stale work-claim leases left behind by a
// crashed orchestrator worker, refreshing LIVE strategies' realized-trade
// scores, watching cache freshness, and appending observability snapshots.
package scheduler

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/atlas-desktop/strategy-engine/internal/cache"
	"github.com/atlas-desktop/strategy-engine/internal/scorer"
	"github.com/atlas-desktop/strategy-engine/internal/store"
	"github.com/atlas-desktop/strategy-engine/pkg/types"
	"github.com/atlas-desktop/strategy-engine/pkg/utils"
)

// Store is the persistence surface the scheduler drives.
type Store interface {
	ReapStaleLeases(ctx context.Context, staleAfter time.Duration) (int64, error)
	ListLiveStrategies(ctx context.Context) ([]string, error)
	TradesSince(ctx context.Context, strategyID string, since time.Time) ([]types.Trade, error)
	UpdateLiveMetrics(ctx context.Context, id string, m store.LiveMetricsUpdate) error
	LatestBacktestResult(ctx context.Context, strategyID string, periodType types.PeriodType) (*types.BacktestResult, error)
	CountAvailable(ctx context.Context, queue store.WorkQueue, retestInterval time.Duration) (int, error)
	CountActive(ctx context.Context) (int, error)
	InsertPipelineMetricsSnapshot(ctx context.Context, snap *types.PipelineMetricsSnapshot) error
}

type Config struct {
	StaleLeaseAfter time.Duration
	RetestInterval  time.Duration
	types.SchedulerConfig
}

type Deps struct {
	Store     Store
	Cache     *cache.Reader
	LiveScore *scorer.LiveScorer
}

type Scheduler struct {
	deps   Deps
	cfg    Config
	logger *zap.Logger
}

func New(deps Deps, cfg Config, logger *zap.Logger) *Scheduler {
	return &Scheduler{deps: deps, cfg: cfg, logger: logger.Named("scheduler")}
}

// Run blocks, driving the four maintenance loops on their own tickers
// until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) {
	var wg sync.WaitGroup
	loops := []struct {
		name     string
		interval time.Duration
		tick     func(context.Context)
	}{
		{"reap", s.cfg.ReapInterval, s.reapTick},
		{"live-metrics", s.cfg.LiveMetricsInterval, s.liveMetricsTick},
		{"cache-freshness", s.cfg.CacheFreshnessInterval, s.cacheFreshnessTick},
		{"snapshot", s.cfg.LogInterval, s.snapshotTick},
	}

	for _, l := range loops {
		wg.Add(1)
		go func(name string, interval time.Duration, tick func(context.Context)) {
			defer wg.Done()
			s.runLoop(ctx, name, interval, tick)
		}(l.name, l.interval, l.tick)
	}

	wg.Wait()
	s.logger.Info("all loops stopped")
}

func (s *Scheduler) runLoop(ctx context.Context, name string, interval time.Duration, tick func(context.Context)) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			tick(ctx)
		}
	}
}

func (s *Scheduler) reapTick(ctx context.Context) {
	n, err := s.deps.Store.ReapStaleLeases(ctx, s.cfg.StaleLeaseAfter)
	if err != nil {
		s.logger.Error("reap stale leases failed", zap.Error(err))
		return
	}
	if n > 0 {
		s.logger.Info("reaped stale leases", zap.Int64("count", n))
	}
}

func (s *Scheduler) liveMetricsTick(ctx context.Context) {
	ids, err := s.deps.Store.ListLiveStrategies(ctx)
	if err != nil {
		s.logger.Error("list live strategies failed", zap.Error(err))
		return
	}

	since := timeNow().Add(-s.cfg.LiveMetricsWindow)
	for _, id := range ids {
		if err := s.refreshLiveMetrics(ctx, id, since); err != nil {
			s.logger.Warn("live metrics refresh failed", zap.String("strategyId", id), zap.Error(err))
		}
	}
}

func (s *Scheduler) refreshLiveMetrics(ctx context.Context, id string, since time.Time) error {
	trades, err := s.deps.Store.TradesSince(ctx, id, since)
	if err != nil {
		return err
	}
	if len(trades) < s.cfg.MinTradesForScore {
		return nil
	}

	pnls := make([]float64, len(trades))
	equity := make([]float64, 0, len(trades)+1)
	equity = append(equity, 1.0)
	running := 1.0
	for i, t := range trades {
		pct, _ := t.PnLPct.Float64()
		pnls[i] = pct
		running += pct
		equity = append(equity, running)
	}

	maxDrawdown := peakToTroughDrawdown(equity)
	spanDays := int(trades[len(trades)-1].EntryTime.Sub(trades[0].EntryTime).Hours() / 24)

	degradation := 0.0
	if baseline, err := s.deps.Store.LatestBacktestResult(ctx, id, types.PeriodTraining); err == nil && baseline != nil && baseline.Expectancy > 0 {
		liveExpectancy := utils.CalculateMean(pnls)
		degradation = (baseline.Expectancy - liveExpectancy) / baseline.Expectancy
	}

	score, err := s.deps.LiveScore.ScoreFromTrades(pnls, maxDrawdown, degradation, spanDays)
	if err != nil {
		return nil
	}

	return s.deps.Store.UpdateLiveMetrics(ctx, id, store.LiveMetricsUpdate{
		Score:          score,
		WinRate:        utils.CalculateWinRate(pnls),
		Expectancy:     utils.CalculateMean(pnls),
		Sharpe:         utils.CalculateSharpe(pnls, float64(len(pnls))/float64(maxInt(spanDays, 1))),
		MaxDrawdown:    maxDrawdown,
		TotalTrades:    len(trades),
		DegradationPct: degradation,
	})
}

func peakToTroughDrawdown(equity []float64) float64 {
	peak := equity[0]
	worst := 0.0
	for _, v := range equity {
		if v > peak {
			peak = v
		}
		if peak > 0 {
			if dd := (peak - v) / peak; dd > worst {
				worst = dd
			}
		}
	}
	return worst
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

func (s *Scheduler) cacheFreshnessTick(ctx context.Context) {
	symbols, err := s.deps.Cache.ListCachedSymbols("")
	if err != nil {
		s.logger.Error("list cached symbols failed", zap.Error(err))
		return
	}

	stale := 0
	for _, symbol := range symbols {
		tfs, err := s.deps.Cache.ListCachedTimeframes(symbol)
		if err != nil {
			continue
		}
		for _, tf := range tfs {
			info, err := s.deps.Cache.GetCacheInfo(symbol, tf)
			if err != nil {
				continue
			}
			if timeNow().Sub(info.End) > s.cfg.CacheFreshnessInterval*4 {
				stale++
			}
		}
	}
	if stale > 0 {
		s.logger.Warn("stale cache series detected", zap.Int("count", stale))
	}
}

func (s *Scheduler) snapshotTick(ctx context.Context) {
	newWork, err := s.deps.Store.CountAvailable(ctx, store.QueueNewWork, s.cfg.RetestInterval)
	if err != nil {
		s.logger.Error("count new work failed", zap.Error(err))
		return
	}
	reWork, err := s.deps.Store.CountAvailable(ctx, store.QueueReWork, s.cfg.RetestInterval)
	if err != nil {
		s.logger.Error("count re-work failed", zap.Error(err))
		return
	}
	active, err := s.deps.Store.CountActive(ctx)
	if err != nil {
		s.logger.Error("count active failed", zap.Error(err))
		return
	}

	snap := &types.PipelineMetricsSnapshot{
		TakenAt: timeNow(),
		QueueDepths: map[string]int{
			"new_work": newWork,
			"re_work":  reWork,
		},
		PoolUtilization: float64(active) / float64(maxInt(1, active+newWork+reWork)),
		ActiveWorkers:   active,
	}
	if err := s.deps.Store.InsertPipelineMetricsSnapshot(ctx, snap); err != nil {
		s.logger.Error("insert metrics snapshot failed", zap.Error(err))
		return
	}
	s.logger.Info("pipeline snapshot", zap.Int("newWork", newWork), zap.Int("reWork", reWork), zap.Int("active", active))
}

func timeNow() time.Time {
	return time.Now()
}
