// Command scheduler runs the periodic maintenance loops (§4.1/§4.2): stale
// work-claim lease reaping, LIVE strategy realized-metric refresh, cache
// freshness checks, and pipeline observability snapshots.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/atlas-desktop/strategy-engine/internal/cache"
	"github.com/atlas-desktop/strategy-engine/internal/config"
	"github.com/atlas-desktop/strategy-engine/internal/obslog"
	"github.com/atlas-desktop/strategy-engine/internal/scheduler"
	"github.com/atlas-desktop/strategy-engine/internal/scorer"
	"github.com/atlas-desktop/strategy-engine/internal/store"
)

func main() {
	configPath := flag.String("config", envOrDefault("STRATEGY_ENGINE_CONFIG", "config.yaml"), "path to the YAML configuration file")
	devLog := flag.Bool("dev", false, "use a console log encoder instead of JSON")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "scheduler: config: %v\n", err)
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

	reader := cache.New(cfg.Cache.RootDir)

	liveScorer := scorer.NewLiveScorer(scorer.Weights{
		Expectancy: cfg.Scorer.WeightExpectancy,
		Sharpe:     cfg.Scorer.WeightSharpe,
		WinRate:    cfg.Scorer.WeightWinRate,
		Drawdown:   cfg.Scorer.WeightDrawdown,
		Robustness: cfg.Scorer.WeightRobustness,
		Recency:    cfg.Scorer.WeightRecency,
	}, cfg.Scheduler.MinTradesForScore, cfg.Scheduler.MinTradesForFrequency, cfg.Scheduler.MinDaysForFrequency)

	sched := scheduler.New(scheduler.Deps{
		Store:     db,
		Cache:     reader,
		LiveScore: liveScorer,
	}, scheduler.Config{
		StaleLeaseAfter: cfg.Store.StaleLeaseAfter,
		RetestInterval:  cfg.Orchestrator.RetestInterval,
		SchedulerConfig: cfg.Scheduler,
	}, logger)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	done := make(chan struct{})
	go func() {
		sched.Run(ctx)
		close(done)
	}()

	logger.Info("scheduler started")

	<-sigCh
	logger.Info("shutdown signal received")
	cancel()
	<-done
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
