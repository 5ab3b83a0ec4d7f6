// Command rotator runs the ACTIVE -> LIVE rotation loop, promoting the
// best-scoring ACTIVE pool members into free LIVE slots and assigning each
// a subaccount to trade from.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/atlas-desktop/strategy-engine/internal/config"
	"github.com/atlas-desktop/strategy-engine/internal/obslog"
	"github.com/atlas-desktop/strategy-engine/internal/rotator"
	"github.com/atlas-desktop/strategy-engine/internal/store"
	"github.com/atlas-desktop/strategy-engine/internal/venue"
)

func main() {
	configPath := flag.String("config", envOrDefault("STRATEGY_ENGINE_CONFIG", "config.yaml"), "path to the YAML configuration file")
	devLog := flag.Bool("dev", false, "use a console log encoder instead of JSON")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "rotator: config: %v\n", err)
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

	subs, err := venue.NewSubaccountManager(ctx, db)
	if err != nil {
		logger.Fatal("load subaccount credentials", zap.Error(err))
	}

	rot := rotator.New(rotator.Deps{
		Store:       db,
		Subaccounts: subs,
	}, rotator.Config{
		MaxLive:  cfg.Rotator.MaxLive,
		Interval: cfg.Rotator.Interval,
	}, logger)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	done := make(chan struct{})
	go func() {
		rot.Run(ctx)
		close(done)
	}()

	logger.Info("rotator started", zap.Int("maxLive", cfg.Rotator.MaxLive))

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
