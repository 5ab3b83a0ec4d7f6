// Command backtester runs the Backtester Orchestrator process (§4.9): a
// fixed worker pool plus one elastic slot that claims VALIDATED strategies
// and due ACTIVE retests from the Work-Claim Layer, evaluates them through
// the training/holdout anti-overfit gate, and admits survivors into the
// bounded ACTIVE pool.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/atlas-desktop/strategy-engine/internal/backtester"
	"github.com/atlas-desktop/strategy-engine/internal/cache"
	"github.com/atlas-desktop/strategy-engine/internal/config"
	"github.com/atlas-desktop/strategy-engine/internal/evaluator"
	"github.com/atlas-desktop/strategy-engine/internal/obslog"
	"github.com/atlas-desktop/strategy-engine/internal/orchestrator"
	"github.com/atlas-desktop/strategy-engine/internal/parametric"
	"github.com/atlas-desktop/strategy-engine/internal/pool"
	"github.com/atlas-desktop/strategy-engine/internal/scorer"
	"github.com/atlas-desktop/strategy-engine/internal/store"
	"github.com/atlas-desktop/strategy-engine/internal/venue"
)

func main() {
	configPath := flag.String("config", envOrDefault("STRATEGY_ENGINE_CONFIG", "config.yaml"), "path to the YAML configuration file")
	devLog := flag.Bool("dev", false, "use a console log encoder instead of JSON")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "backtester: config: %v\n", err)
		os.Exit(1)
	}

	logger := obslog.New("info", *devLog)
	defer logger.Sync()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := store.Open(ctx, cfg.Store.DSN, cfg.Store.MaxConns, logger)
	if err != nil {
		logger.Fatal("connect to store", zap.Error(err))
	}
	defer db.Close()
	if cfg.Store.RedisAddr != "" {
		db = db.WithAccelerator(store.NewLeaseAccelerator(cfg.Store.RedisAddr, cfg.Store.LeaseTTL))
	}

	reader := cache.New(cfg.Cache.RootDir)

	liquidity := venue.NewLiquiditySet(
		venue.New(logger, venue.Config{
			BaseURL:        cfg.Venue.BaseURL,
			DryRun:         true, // the orchestrator only ever reads prices, never trades
			RateLimitRPS:   cfg.Venue.RateLimitRPS,
			RateLimitBurst: cfg.Venue.RateLimitBurst,
			RequestTimeout: cfg.Venue.RequestTimeout,
		}, venue.Signer{}, nil, nil),
		logger,
	)
	if err := liquidity.Refresh(ctx); err != nil {
		logger.Warn("initial liquidity snapshot failed, scroll-down will reject everything until it refreshes", zap.Error(err))
	}
	go liquidity.RunRefreshLoop(ctx, cfg.Scheduler.CacheFreshnessInterval)

	poolMgr := pool.NewManager(db, pool.Config{
		MaxSize:       cfg.ActivePool.MaxSize,
		MinScoreEntry: cfg.ActivePool.MinScoreEntry,
	})

	backtestScorer := scorer.NewBacktestScorer(scorer.Weights{
		Expectancy: cfg.Scorer.WeightExpectancy,
		Sharpe:     cfg.Scorer.WeightSharpe,
		WinRate:    cfg.Scorer.WeightWinRate,
		Drawdown:   cfg.Scorer.WeightDrawdown,
		Robustness: cfg.Scorer.WeightRobustness,
		Recency:    cfg.Scorer.WeightRecency,
	})

	engine := backtester.NewEngine(logger, backtester.Config{
		InitialCapital:  decimal.NewFromFloat(cfg.BacktestEngine.InitialCapital),
		CommissionRate:  decimal.NewFromFloat(cfg.BacktestEngine.CommissionRate),
		SlippagePct:     decimal.NewFromFloat(cfg.BacktestEngine.SlippagePct),
		RiskPerTradePct: cfg.Risk.RiskPerTradePct,
		MinBars:         cfg.Orchestrator.MinBarsNormal,
		MaxPositions:    cfg.BacktestEngine.MaxPositions,
	})

	processID := fmt.Sprintf("backtester-%s", uuid.NewString()[:8])
	orch := orchestrator.New(orchestrator.Deps{
		Store:     db,
		Cache:     reader,
		Pool:      poolMgr,
		Scorer:    backtestScorer,
		Engine:    engine,
		Liquidity: liquidity,
		EvalCfg: evaluator.Config{
			MinSharpe:            cfg.AntiOverfit.MinSharpe,
			HoldoutMinSharpe:     cfg.AntiOverfit.HoldoutMinSharpe,
			MaxDegradation:       cfg.AntiOverfit.MaxDegradation,
			MinHoldoutTrades:     cfg.AntiOverfit.MinHoldoutTrades,
			HoldoutRecencyWeight: cfg.AntiOverfit.HoldoutRecencyWeight,
		},
	}, orchestrator.Config{
		BaseWorkers:             cfg.Orchestrator.BaseWorkers,
		RetestInterval:          cfg.Orchestrator.RetestInterval,
		BackpressureMinQueue:    cfg.Orchestrator.BackpressureMinQueue,
		BackpressureMaxCooldown: cfg.Orchestrator.BackpressureMaxCooldown,
		ActivePoolMaxSize:       cfg.ActivePool.MaxSize,
		Downstream:              cfg.Backpressure,
		TrainingPeriodDays:      cfg.Orchestrator.TrainingPeriodDays,
		HoldoutPeriodDays:       cfg.Orchestrator.HoldoutPeriodDays,
		TargetCoinCount:         cfg.Orchestrator.TargetCoinCount,
		CoinSelect:              cfg.CoinSelect,
		MinCoverageFraction:     cfg.Cache.MinCoverageFraction,
		MinBarsNormal:           cfg.Orchestrator.MinBarsNormal,
		RiskBufferPct:           cfg.Risk.LiquidationBufferPct,
		DefaultMaxLeverage:      cfg.Risk.DefaultMaxLeverage,
		ParametricEnabled:       cfg.Parametric.Enabled,
		ParametricAdmission: parametric.AdmissionConfig{
			MinSharpe:     cfg.Thresholds.MinSharpe,
			MinWinRate:    cfg.Thresholds.MinWinRate,
			MinExpectancy: cfg.Thresholds.MinExpectancy,
			MaxDrawdown:   cfg.Thresholds.MaxDrawdown,
			MinTrades:     cfg.Thresholds.MinTotalTrades,
		},
	}, logger, processID)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	done := make(chan struct{})
	go func() {
		orch.Run(ctx)
		close(done)
	}()

	logger.Info("backtester orchestrator started",
		zap.String("processId", processID),
		zap.Int("baseWorkers", cfg.Orchestrator.BaseWorkers),
	)

	<-sigCh
	logger.Info("shutdown signal received")
	cancel()

	select {
	case <-done:
	case <-time.After(30 * time.Second):
		logger.Warn("workers did not stop within grace period")
	}
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
