// Package pool implements the ACTIVE-pool leaderboard: a bounded-size
// priority collection over strategies with atomic admission and eviction.
package pool

import (
	"context"
	"errors"
	"fmt"

	"github.com/atlas-desktop/strategy-engine/internal/pipelineerr"
)

// Store is the narrow persistence surface the pool manager needs.
type Store interface {
	CountActive(ctx context.Context) (int, error)
	WorstActive(ctx context.Context) (id string, score float64, err error)
	AdmitToPool(ctx context.Context, id string, score float64) error
	EvictAndAdmit(ctx context.Context, evictID, candidateID string, candidateScore float64) error
	RetireStrategy(ctx context.Context, id, reason string) error
}

// Config holds the leaderboard's tunables.
type Config struct {
	MaxSize       int
	MinScoreEntry float64
}

// Manager implements try_enter_pool / revalidate_after_retest.
type Manager struct {
	store Store
	cfg   Config
}

func NewManager(store Store, cfg Config) *Manager {
	return &Manager{store: store, cfg: cfg}
}

// Outcome describes what happened to a candidate after a pool operation.
type Outcome struct {
	Admitted bool
	Reason   string
}

// TryEnterPool implements §4.8's admission rule: below the entry floor is
// an immediate retire; below max_size is a free admit; at capacity the
// candidate only displaces the current worst member, and only on a strict
// improvement (ties never evict).
func (m *Manager) TryEnterPool(ctx context.Context, id string, score float64) (*Outcome, error) {
	if score < m.cfg.MinScoreEntry {
		reason := fmt.Sprintf("score %.1f below pool minimum %.1f", score, m.cfg.MinScoreEntry)
		if err := m.store.RetireStrategy(ctx, id, reason); err != nil {
			return nil, err
		}
		return &Outcome{Admitted: false, Reason: reason}, nil
	}

	count, err := m.store.CountActive(ctx)
	if err != nil {
		return nil, fmt.Errorf("pool: count active: %w", err)
	}
	if count < m.cfg.MaxSize {
		if err := m.store.AdmitToPool(ctx, id, score); err != nil {
			return nil, err
		}
		return &Outcome{Admitted: true}, nil
	}

	worstID, worstScore, err := m.store.WorstActive(ctx)
	if err != nil && !errors.Is(err, pipelineerr.ErrNotFound) {
		return nil, fmt.Errorf("pool: worst active: %w", err)
	}

	if err == nil && score > worstScore {
		if err := m.store.EvictAndAdmit(ctx, worstID, id, score); err != nil {
			return nil, err
		}
		return &Outcome{Admitted: true}, nil
	}

	reason := fmt.Sprintf("score %.1f <= pool minimum %.1f", score, worstScore)
	if err := m.store.RetireStrategy(ctx, id, reason); err != nil {
		return nil, err
	}
	return &Outcome{Admitted: false, Reason: reason}, nil
}

// RevalidateAfterRetest re-applies the same floor/leaderboard check to a
// strategy that is already a pool member being re-scored after a
// re-backtest. Its own current ACTIVE row still counts toward CountActive,
// so a strategy revalidating itself never spuriously frees a slot.
func (m *Manager) RevalidateAfterRetest(ctx context.Context, id string, newScore float64) (*Outcome, error) {
	if newScore < m.cfg.MinScoreEntry {
		reason := fmt.Sprintf("score %.1f below pool minimum %.1f on retest", newScore, m.cfg.MinScoreEntry)
		if err := m.store.RetireStrategy(ctx, id, reason); err != nil {
			return nil, err
		}
		return &Outcome{Admitted: false, Reason: reason}, nil
	}

	count, err := m.store.CountActive(ctx)
	if err != nil {
		return nil, fmt.Errorf("pool: count active: %w", err)
	}

	worstID, worstScore, err := m.store.WorstActive(ctx)
	if err != nil && !errors.Is(err, pipelineerr.ErrNotFound) {
		return nil, fmt.Errorf("pool: worst active: %w", err)
	}

	// If this strategy itself is currently the worst member, comparing
	// against itself would always pass; re-scoring it simply updates its
	// score in place.
	if err == nil && worstID == id {
		if admitErr := m.store.AdmitToPool(ctx, id, newScore); admitErr != nil {
			return nil, admitErr
		}
		return &Outcome{Admitted: true}, nil
	}

	if err == nil && count >= m.cfg.MaxSize && newScore <= worstScore {
		reason := fmt.Sprintf("score %.1f <= pool minimum %.1f on retest", newScore, worstScore)
		if err := m.store.RetireStrategy(ctx, id, reason); err != nil {
			return nil, err
		}
		return &Outcome{Admitted: false, Reason: reason}, nil
	}

	if admitErr := m.store.AdmitToPool(ctx, id, newScore); admitErr != nil {
		return nil, admitErr
	}
	return &Outcome{Admitted: true}, nil
}
