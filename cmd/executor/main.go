// Command executor runs the Live Execution Core (§4.10-4.13): per LIVE
// strategy it evaluates entry/exit signals, sizes and places orders through
// its assigned subaccount, and drives the trailing-stop state machine.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/atlas-desktop/strategy-engine/internal/cache"
	"github.com/atlas-desktop/strategy-engine/internal/config"
	"github.com/atlas-desktop/strategy-engine/internal/executor"
	"github.com/atlas-desktop/strategy-engine/internal/obslog"
	"github.com/atlas-desktop/strategy-engine/internal/risk"
	"github.com/atlas-desktop/strategy-engine/internal/store"
	"github.com/atlas-desktop/strategy-engine/internal/trailing"
	"github.com/atlas-desktop/strategy-engine/internal/venue"
	"github.com/atlas-desktop/strategy-engine/pkg/types"
)

func main() {
	configPath := flag.String("config", envOrDefault("STRATEGY_ENGINE_CONFIG", "config.yaml"), "path to the YAML configuration file")
	devLog := flag.Bool("dev", false, "use a console log encoder instead of JSON")
	startEquity := flag.Float64("start-equity", 10000, "portfolio starting equity used by the emergency-stop drawdown check")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "executor: config: %v\n", err)
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

	creds, err := db.ActiveCredentials(ctx)
	if err != nil {
		logger.Fatal("load active credentials", zap.Error(err))
	}
	bySubaccount := make(map[string]types.Credential, len(creds))
	for _, c := range creds {
		bySubaccount[c.SubaccountID] = c
	}

	clientFactory := func(subaccountID string) (executor.VenueClient, error) {
		cred, ok := bySubaccount[subaccountID]
		if !ok {
			return nil, fmt.Errorf("executor: no credential on file for subaccount %s", subaccountID)
		}
		return venue.New(logger, venue.Config{
			BaseURL:        cfg.Venue.BaseURL,
			DryRun:         cfg.Venue.DryRun,
			RateLimitRPS:   cfg.Venue.RateLimitRPS,
			RateLimitBurst: cfg.Venue.RateLimitBurst,
			RequestTimeout: cfg.Venue.RequestTimeout,
		}, venue.Signer{
			APIKey:    cred.APIKeyRef,
			APISecret: cred.APISecretRef,
		}, nil, nil), nil
	}

	exec := executor.New(executor.Deps{
		Store:       db,
		Cache:       reader,
		NewClient:   clientFactory,
		StartEquity: decimal.NewFromFloat(*startEquity),
	}, executor.Config{
		Interval: cfg.Executor.TickInterval,
		Risk: risk.Config{
			RiskPerTradePct:         cfg.Risk.RiskPerTradePct,
			LiquidationBufferPct:    cfg.Risk.LiquidationBufferPct,
			MaxOpenPositionsPerSub:  cfg.Risk.MaxOpenPositionsPerSub,
			MaxPortfolioDrawdownPct: cfg.Risk.MaxPortfolioDrawdownPct,
			MaxConsecutiveLosses:    cfg.Risk.MaxConsecutiveLosses,
		},
		Trailing: trailing.Config{
			Enabled:            true,
			ActivationPct:      cfg.Trailing.ActivationPct,
			TrailPct:           cfg.Trailing.TrailPct,
			BreakevenBufferPct: cfg.Trailing.BreakevenBufferPct,
			MinAdjustmentPct:   cfg.Trailing.MinAdjustmentPct,
			UpdateCooldown:     cfg.Trailing.UpdateCooldown,
		},
		MinBars:       cfg.Orchestrator.MinBarsNormal,
		DefaultMaxLev: cfg.Risk.DefaultMaxLeverage,
	}, logger)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	done := make(chan struct{})
	go func() {
		exec.Run(ctx)
		close(done)
	}()

	logger.Info("executor started", zap.Int("subaccounts", len(bySubaccount)))

	<-sigCh
	logger.Info("shutdown signal received, tripping kill switch before exit")
	exec.TripKillSwitch()
	cancel()
	<-done
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
