// Package rotator runs the ACTIVE -> LIVE rotation loop: on each tick it
// fills the LIVE roster's free slots with the best-scoring ACTIVE
// strategies, assigning each a subaccount to trade from. It does not demote
// or replace a LIVE strategy, whatever its score relative to ACTIVE ones.
package rotator

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/atlas-desktop/strategy-engine/internal/store"
	"github.com/atlas-desktop/strategy-engine/internal/venue"
)

// Store is the persistence surface the rotator drives.
type Store interface {
	ListActiveByScore(ctx context.Context) ([]store.ActiveCandidate, error)
	CountLive(ctx context.Context) (int, error)
	PromoteToLive(ctx context.Context, id, subaccountID string) error
}

type Config struct {
	MaxLive  int
	Interval time.Duration
}

type Deps struct {
	Store       Store
	Subaccounts *venue.SubaccountManager
}

type Rotator struct {
	deps   Deps
	cfg    Config
	logger *zap.Logger
}

func New(deps Deps, cfg Config, logger *zap.Logger) *Rotator {
	return &Rotator{deps: deps, cfg: cfg, logger: logger.Named("rotator")}
}

func (r *Rotator) Run(ctx context.Context) {
	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("rotator stopped")
			return
		case <-ticker.C:
			r.tick(ctx)
		}
	}
}

func (r *Rotator) tick(ctx context.Context) {
	liveCount, err := r.deps.Store.CountLive(ctx)
	if err != nil {
		r.logger.Error("count live failed", zap.Error(err))
		return
	}
	free := r.cfg.MaxLive - liveCount
	if free <= 0 {
		return
	}

	candidates, err := r.deps.Store.ListActiveByScore(ctx)
	if err != nil {
		r.logger.Error("list active by score failed", zap.Error(err))
		return
	}

	promoted := 0
	for _, c := range candidates {
		if promoted >= free {
			return
		}
		if r.promote(ctx, c) {
			promoted++
		}
	}
}

func (r *Rotator) promote(ctx context.Context, c store.ActiveCandidate) bool {
	cred, err := r.deps.Subaccounts.Acquire(c.ID)
	if err != nil {
		r.logger.Warn("no subaccount available for promotion", zap.Error(err))
		return false
	}

	if err := r.deps.Store.PromoteToLive(ctx, c.ID, cred.SubaccountID); err != nil {
		r.logger.Error("promote to live failed", zap.String("strategyId", c.ID), zap.Error(err))
		r.deps.Subaccounts.Release(cred.SubaccountID, c.ID)
		return false
	}

	r.logger.Info("promoted strategy to live",
		zap.String("strategyId", c.ID), zap.Float64("score", c.Score), zap.String("subaccount", cred.SubaccountID))
	return true
}
