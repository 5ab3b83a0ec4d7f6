// Package coins implements the "scroll-down" coin-set selection routine:
// given an ordered candidate list it picks up to target_count survivors by
// applying liquidity, cache-existence and coverage filters in order,
// walking the whole candidate list rather than stopping at the first
// failure so lower-ranked candidates still get a chance.
package coins

import (
	"fmt"
	"time"

	"github.com/atlas-desktop/strategy-engine/internal/cache"
	"github.com/atlas-desktop/strategy-engine/pkg/types"
)

// LiquiditySet reports whether a symbol is in the venue's active trading
// set. Implemented by the venue's asset-metadata cache.
type LiquiditySet interface {
	IsActive(symbol string) bool
}

// Config parameterizes one selection call.
type Config struct {
	TargetCount         int
	MinCount            int
	FullPeriodDays      int
	HoldoutDays         int
	MinCoverageFraction float64
	Timeframe           types.Timeframe
	EndDate             time.Time
}

// Result is the outcome of a selection pass.
type Result struct {
	Symbols []string
	Skipped []cache.SkipReason
	Reason  string // not set by Select: a rejected selection returns a nil Result and *ErrRejected
}

// ErrRejected reports a selection that didn't reach MinCount survivors.
type ErrRejected struct {
	Reason  string
	Skipped []cache.SkipReason
}

func (e *ErrRejected) Error() string {
	return fmt.Sprintf("coins: %s", e.Reason)
}

// Select runs the unified scroll-down routine over candidates (already in
// rank order: pattern edge or venue volume) using reader for cache/coverage
// checks and liquidity for the active-set check. The same routine serves
// both AI (volume-ordered) and pattern (edge-ordered) strategies so the
// coins backtested are always the coins later traded live.
func Select(reader *cache.Reader, liquidity LiquiditySet, candidates []string, cfg Config) (*Result, error) {
	totalDays := cfg.FullPeriodDays + cfg.HoldoutDays

	var survivors []string
	var skipped []cache.SkipReason

	for _, symbol := range candidates {
		if liquidity != nil && !liquidity.IsActive(symbol) {
			skipped = append(skipped, cache.SkipReason{Symbol: symbol, Reason: "insufficient_liquidity"})
			continue
		}

		info, err := reader.GetCacheInfo(symbol, cfg.Timeframe)
		if err != nil {
			skipped = append(skipped, cache.SkipReason{Symbol: symbol, Reason: "insufficient_cache"})
			continue
		}

		var coverage float64
		if totalDays > 0 {
			coverage = float64(info.Days) / float64(totalDays)
		}
		if coverage < cfg.MinCoverageFraction {
			skipped = append(skipped, cache.SkipReason{
				Symbol: symbol,
				Reason: fmt.Sprintf("insufficient_coverage: %dd < %dd (%.0f%%)", info.Days, totalDays, coverage*100),
			})
			continue
		}

		survivors = append(survivors, symbol)
	}

	if len(survivors) < cfg.MinCount {
		return nil, &ErrRejected{
			Reason:  fmt.Sprintf("only %d of %d minimum candidates survived", len(survivors), cfg.MinCount),
			Skipped: skipped,
		}
	}

	if cfg.TargetCount > 0 && len(survivors) > cfg.TargetCount {
		survivors = survivors[:cfg.TargetCount]
	}

	return &Result{Symbols: survivors, Skipped: skipped}, nil
}
