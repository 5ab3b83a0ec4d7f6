package venue

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// LiquiditySet implements internal/coins.LiquiditySet (and the identical
// capability the orchestrator needs for §4.6 filter 1) by periodically
// snapshotting the venue's all-mids response — its key set is exactly the
// venue's actively tradable symbols. Safe for concurrent use; Refresh may
// run from the Scheduler's own loop while IsActive is queried from the
// orchestrator's workers.
type LiquiditySet struct {
	client *Client
	logger *zap.Logger

	mu     sync.RWMutex
	active map[string]struct{}
}

// NewLiquiditySet builds a set with nothing loaded yet; call Refresh once
// before first use (and periodically afterward, e.g. from the Scheduler).
func NewLiquiditySet(client *Client, logger *zap.Logger) *LiquiditySet {
	return &LiquiditySet{client: client, logger: logger.Named("liquidity"), active: make(map[string]struct{})}
}

// Refresh re-fetches the venue's all-mids snapshot and replaces the active
// set atomically. A fetch failure leaves the previous snapshot in place
// rather than emptying the set out from under concurrent readers.
func (l *LiquiditySet) Refresh(ctx context.Context) error {
	mids, err := l.client.GetAllMids(ctx)
	if err != nil {
		l.logger.Warn("refresh failed, keeping previous snapshot", zap.Error(err))
		return err
	}

	next := make(map[string]struct{}, len(mids))
	for symbol := range mids {
		next[symbol] = struct{}{}
	}

	l.mu.Lock()
	l.active = next
	l.mu.Unlock()
	return nil
}

// IsActive reports whether symbol was present in the most recent all-mids
// snapshot. Before the first successful Refresh, everything is inactive.
func (l *LiquiditySet) IsActive(symbol string) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	_, ok := l.active[symbol]
	return ok
}

// RunRefreshLoop blocks, refreshing on interval until ctx is cancelled.
// Intended to be started once at process boot alongside an initial
// synchronous Refresh.
func (l *LiquiditySet) RunRefreshLoop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_ = l.Refresh(ctx)
		}
	}
}
