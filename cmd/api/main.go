// Command api runs the admin/observability HTTP, WebSocket, and Prometheus
// metrics server: a read-only window onto pipeline state for dashboards and
// on-call tooling.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/atlas-desktop/strategy-engine/internal/api"
	"github.com/atlas-desktop/strategy-engine/internal/config"
	"github.com/atlas-desktop/strategy-engine/internal/obslog"
	"github.com/atlas-desktop/strategy-engine/internal/store"
)

func main() {
	configPath := flag.String("config", envOrDefault("STRATEGY_ENGINE_CONFIG", "config.yaml"), "path to the YAML configuration file")
	devLog := flag.Bool("dev", false, "use a console log encoder instead of JSON")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "api: config: %v\n", err)
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

	srv := api.New(logger, cfg.Server, cfg.Orchestrator.RetestInterval, db)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("shutdown signal received")
		cancel()
	}()

	if err := srv.Start(ctx); err != nil {
		logger.Fatal("admin server stopped with error", zap.Error(err))
	}
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
