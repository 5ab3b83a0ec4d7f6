// Package trailing implements the per-position trailing-stop state
// machine: dormant until price crosses an activation threshold, then
// tracking a high-water mark and replacing the stop-loss order whenever
// the candidate improves on the current one by enough to justify the
// round trip to the venue.
package trailing

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/atlas-desktop/strategy-engine/pkg/types"
)

// Executor is the narrow venue capability the service needs to perform an
// atomic stop-loss replacement: place the new trigger order first, and
// only cancel the old one if placement succeeded.
type Executor interface {
	PlaceTriggerOrder(ctx context.Context, symbol string, side types.PositionSide, triggerPrice decimal.Decimal, kind string) (orderID string, err error)
	CancelOrder(ctx context.Context, orderID string) error
}

// Config holds the trailing tunables from the risk.trailing configuration
// section.
type Config struct {
	Enabled            bool
	ActivationPct      float64
	TrailPct           float64
	BreakevenBufferPct float64
	MinAdjustmentPct   float64
	UpdateCooldown     time.Duration
}

// Position is one tracked (symbol, subaccount) trailing-stop state
// machine.
type Position struct {
	Symbol           string
	Side             types.PositionSide
	EntryPrice       decimal.Decimal
	ActivationPrice  decimal.Decimal
	Size             decimal.Decimal
	HighWaterMark    decimal.Decimal
	CurrentSLPrice   decimal.Decimal
	CurrentSLOrderID string
	IsActive         bool
	LastUpdateTime   time.Time
}

// Service owns every live position's trailing state for one executor
// process. Updates are O(positions) per price tick and guarded by a
// single mutex, tolerant to write contention (matching the concurrency
// model's stated policy for this shared map).
type Service struct {
	cfg      Config
	executor Executor

	mu        sync.Mutex
	positions map[string]*Position // keyed by symbol; one subaccount per process
}

func NewService(cfg Config, executor Executor) *Service {
	return &Service{cfg: cfg, executor: executor, positions: make(map[string]*Position)}
}

// Register starts tracking a new live position. initialSL is the stop
// placed at entry time, before any trailing activity.
func (s *Service) Register(symbol string, side types.PositionSide, entry, size, initialSL decimal.Decimal, initialSLOrderID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	activation := entry.Mul(decimal.NewFromFloat(1 + s.cfg.ActivationPct))
	if side == types.PositionSideShort {
		activation = entry.Mul(decimal.NewFromFloat(1 - s.cfg.ActivationPct))
	}

	s.positions[symbol] = &Position{
		Symbol:           symbol,
		Side:             side,
		EntryPrice:       entry,
		ActivationPrice:  activation,
		Size:             size,
		CurrentSLPrice:   initialSL,
		CurrentSLOrderID: initialSLOrderID,
	}
}

// Unregister stops tracking a position, called when it closes.
func (s *Service) Unregister(symbol string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.positions, symbol)
}

// OnPriceUpdate drives the dormant->active transition and, once active,
// evaluates whether the stop should move. It performs at most one atomic
// SL replacement per call.
func (s *Service) OnPriceUpdate(ctx context.Context, symbol string, price decimal.Decimal) error {
	s.mu.Lock()
	pos, ok := s.positions[symbol]
	if !ok {
		s.mu.Unlock()
		return nil
	}

	if !pos.IsActive {
		crossed := (pos.Side == types.PositionSideLong && price.GreaterThanOrEqual(pos.ActivationPrice)) ||
			(pos.Side == types.PositionSideShort && price.LessThanOrEqual(pos.ActivationPrice))
		if !crossed {
			s.mu.Unlock()
			return nil
		}
		pos.IsActive = true
		pos.HighWaterMark = price
		s.mu.Unlock()
		return nil
	}

	improved := (pos.Side == types.PositionSideLong && price.GreaterThan(pos.HighWaterMark)) ||
		(pos.Side == types.PositionSideShort && price.LessThan(pos.HighWaterMark))
	if improved {
		pos.HighWaterMark = price
	}

	candidate := candidateStop(pos, s.cfg)
	significant := isSignificantImprovement(pos, candidate, s.cfg.MinAdjustmentPct)
	withinCooldown := s.cfg.UpdateCooldown > 0 && !pos.LastUpdateTime.IsZero() && time.Since(pos.LastUpdateTime) < s.cfg.UpdateCooldown

	if !significant || withinCooldown {
		s.mu.Unlock()
		return nil
	}

	oldOrderID := pos.CurrentSLOrderID
	s.mu.Unlock()

	newOrderID, err := s.executor.PlaceTriggerOrder(ctx, symbol, pos.Side, candidate, "sl")
	if err != nil {
		// Previous SL remains in place: the safer outcome on a failed replace.
		return fmt.Errorf("trailing: place replacement SL for %s: %w", symbol, err)
	}
	if oldOrderID != "" {
		if err := s.executor.CancelOrder(ctx, oldOrderID); err != nil {
			return fmt.Errorf("trailing: cancel stale SL for %s: %w", symbol, err)
		}
	}

	s.mu.Lock()
	pos.CurrentSLPrice = candidate
	pos.CurrentSLOrderID = newOrderID
	pos.LastUpdateTime = time.Now()
	s.mu.Unlock()
	return nil
}

// candidateStop computes the new SL candidate per §4.12's long/short
// formulas, without touching the position.
func candidateStop(pos *Position, cfg Config) decimal.Decimal {
	if pos.Side == types.PositionSideLong {
		trailCandidate := pos.HighWaterMark.Mul(decimal.NewFromFloat(1 - cfg.TrailPct))
		breakeven := pos.EntryPrice.Mul(decimal.NewFromFloat(1 + cfg.BreakevenBufferPct))
		if trailCandidate.GreaterThan(breakeven) {
			return trailCandidate
		}
		return breakeven
	}
	trailCandidate := pos.HighWaterMark.Mul(decimal.NewFromFloat(1 + cfg.TrailPct))
	breakeven := pos.EntryPrice.Mul(decimal.NewFromFloat(1 - cfg.BreakevenBufferPct))
	if trailCandidate.LessThan(breakeven) {
		return trailCandidate
	}
	return breakeven
}

// isSignificantImprovement reports whether candidate improves the current
// SL by at least minAdjustmentPct, measured as a fraction of the current
// SL price.
func isSignificantImprovement(pos *Position, candidate decimal.Decimal, minAdjustmentPct float64) bool {
	if pos.CurrentSLPrice.IsZero() {
		return true
	}
	var improvement decimal.Decimal
	if pos.Side == types.PositionSideLong {
		improvement = candidate.Sub(pos.CurrentSLPrice)
	} else {
		improvement = pos.CurrentSLPrice.Sub(candidate)
	}
	if improvement.Sign() <= 0 {
		return false
	}
	pct, _ := improvement.Div(pos.CurrentSLPrice).Float64()
	return pct >= minAdjustmentPct
}

// Snapshot returns a copy of a tracked position's state for observability,
// or ok=false if untracked.
func (s *Service) Snapshot(symbol string) (Position, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	pos, ok := s.positions[symbol]
	if !ok {
		return Position{}, false
	}
	return *pos, true
}
