// Package cache is the read-only OHLCV cache reader. It never downloads
// data: a missing file is a pipelineerr.ErrCacheNotFound, not a fetch
// trigger. Fast-fail over convenience, so backtests stay deterministic and
// network-independent.
package cache

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/atlas-desktop/strategy-engine/internal/pipelineerr"
	"github.com/atlas-desktop/strategy-engine/pkg/types"
)

// Reader reads cached {symbol}_{timeframe}.json OHLCV files from rootDir.
type Reader struct {
	rootDir string
}

// New builds a Reader rooted at rootDir. rootDir itself is not required to
// exist yet — individual reads fail with ErrCacheNotFound, matching the
// original's fail-fast posture rather than erroring at construction time.
func New(rootDir string) *Reader {
	return &Reader{rootDir: rootDir}
}

func (r *Reader) path(symbol string, timeframe types.Timeframe) string {
	return filepath.Join(r.rootDir, fmt.Sprintf("%s_%s.json", symbol, timeframe))
}

// CacheInfo describes a cached series without loading its bars into the
// caller's working set.
type CacheInfo struct {
	Symbol    string
	Timeframe types.Timeframe
	Candles   int
	Start     time.Time
	End       time.Time
	Days      int
}

func (r *Reader) load(symbol string, timeframe types.Timeframe) ([]types.OHLCV, error) {
	data, err := os.ReadFile(r.path(symbol, timeframe))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, pipelineerr.ErrCacheNotFound
		}
		return nil, fmt.Errorf("cache: read %s/%s: %w", symbol, timeframe, err)
	}

	var bars []types.OHLCV
	if err := json.Unmarshal(data, &bars); err != nil {
		return nil, fmt.Errorf("cache: parse %s/%s: %w", symbol, timeframe, err)
	}
	sort.Slice(bars, func(i, j int) bool { return bars[i].Timestamp.Before(bars[j].Timestamp) })
	return bars, nil
}

// Read returns OHLCV bars for symbol/timeframe, optionally windowed to the
// trailing `days` ending at endDate (zero endDate means the series' own
// latest bar).
func (r *Reader) Read(symbol string, timeframe types.Timeframe, days int, endDate time.Time) ([]types.OHLCV, error) {
	bars, err := r.load(symbol, timeframe)
	if err != nil {
		return nil, err
	}
	if len(bars) == 0 {
		return bars, nil
	}

	if !endDate.IsZero() {
		filtered := bars[:0:0]
		for _, b := range bars {
			if !b.Timestamp.After(endDate) {
				filtered = append(filtered, b)
			}
		}
		bars = filtered
	}
	if days > 0 && len(bars) > 0 {
		dataEnd := bars[len(bars)-1].Timestamp
		start := dataEnd.AddDate(0, 0, -days)
		filtered := bars[:0:0]
		for _, b := range bars {
			if !b.Timestamp.Before(start) {
				filtered = append(filtered, b)
			}
		}
		bars = filtered
	}
	return bars, nil
}

// coveredDays computes last_ts - first_ts, in whole days, matching the
// original's _calculate_data_days.
func coveredDays(bars []types.OHLCV) int {
	if len(bars) == 0 {
		return 0
	}
	first := bars[0].Timestamp
	last := bars[len(bars)-1].Timestamp
	return int(last.Sub(first).Hours() / 24)
}

// ReadDualPeriods reads the full training-period window plus the trailing
// holdout window carved out of its tail, matching the original's
// read_dual_periods (same underlying file, two slices of it).
func (r *Reader) ReadDualPeriods(symbol string, timeframe types.Timeframe, fullPeriodDays, recentPeriodDays int, endDate time.Time) (full, recent []types.OHLCV, err error) {
	full, err = r.Read(symbol, timeframe, fullPeriodDays, endDate)
	if err != nil {
		return nil, nil, err
	}
	if len(full) == 0 {
		return full, full, nil
	}

	dataEnd := full[len(full)-1].Timestamp
	recentStart := dataEnd.AddDate(0, 0, -recentPeriodDays)
	recent = full[:0:0]
	for _, b := range full {
		if !b.Timestamp.Before(recentStart) {
			recent = append(recent, b)
		}
	}
	return full, recent, nil
}

// SkipReason explains why a symbol was excluded from a multi-symbol read.
type SkipReason struct {
	Symbol string
	Reason string
}

// ReadMultiSymbolDualPeriods reads dual periods for every symbol, rejecting
// (not early-breaking — the full list is always evaluated) any whose
// coverage fraction over fullPeriodDays is below minCoverageFraction.
func (r *Reader) ReadMultiSymbolDualPeriods(
	symbols []string,
	timeframe types.Timeframe,
	fullPeriodDays, recentPeriodDays int,
	endDate time.Time,
	minCoverageFraction float64,
) (full, recent map[string][]types.OHLCV, skipped []SkipReason) {
	full = make(map[string][]types.OHLCV)
	recent = make(map[string][]types.OHLCV)

	for _, symbol := range symbols {
		fullBars, recentBars, err := r.ReadDualPeriods(symbol, timeframe, fullPeriodDays, recentPeriodDays, endDate)
		if err != nil {
			skipped = append(skipped, SkipReason{Symbol: symbol, Reason: "not cached"})
			continue
		}
		if len(fullBars) == 0 {
			skipped = append(skipped, SkipReason{Symbol: symbol, Reason: "empty"})
			continue
		}

		actualDays := coveredDays(fullBars)
		var coverage float64
		if fullPeriodDays > 0 {
			coverage = float64(actualDays) / float64(fullPeriodDays)
		}
		if coverage < minCoverageFraction {
			skipped = append(skipped, SkipReason{
				Symbol: symbol,
				Reason: fmt.Sprintf("%dd < %dd (%.0f%%)", actualDays, fullPeriodDays, coverage*100),
			})
			continue
		}

		full[symbol] = fullBars
		recent[symbol] = recentBars
	}

	return full, recent, skipped
}

// ListCachedSymbols lists every symbol with a cached file, optionally
// filtered to one timeframe.
func (r *Reader) ListCachedSymbols(timeframe types.Timeframe) ([]string, error) {
	entries, err := os.ReadDir(r.rootDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("cache: list dir: %w", err)
	}

	seen := make(map[string]struct{})
	for _, e := range entries {
		name := strings.TrimSuffix(e.Name(), ".json")
		parts := strings.SplitN(name, "_", 2)
		if len(parts) != 2 {
			continue
		}
		if timeframe != "" && types.Timeframe(parts[1]) != timeframe {
			continue
		}
		seen[parts[0]] = struct{}{}
	}

	out := make([]string, 0, len(seen))
	for s := range seen {
		out = append(out, s)
	}
	sort.Strings(out)
	return out, nil
}

// ListCachedTimeframes lists every timeframe cached for symbol.
func (r *Reader) ListCachedTimeframes(symbol string) ([]types.Timeframe, error) {
	entries, err := os.ReadDir(r.rootDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("cache: list dir: %w", err)
	}

	var out []types.Timeframe
	prefix := symbol + "_"
	for _, e := range entries {
		name := strings.TrimSuffix(e.Name(), ".json")
		if !strings.HasPrefix(name, prefix) {
			continue
		}
		out = append(out, types.Timeframe(strings.TrimPrefix(name, prefix)))
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

// GetCacheInfo returns metadata about a cached series without the caller
// holding onto the bars, or ErrCacheNotFound if no file exists.
func (r *Reader) GetCacheInfo(symbol string, timeframe types.Timeframe) (*CacheInfo, error) {
	bars, err := r.load(symbol, timeframe)
	if err != nil {
		return nil, err
	}
	info := &CacheInfo{Symbol: symbol, Timeframe: timeframe, Candles: len(bars)}
	if len(bars) > 0 {
		info.Start = bars[0].Timestamp
		info.End = bars[len(bars)-1].Timestamp
		info.Days = coveredDays(bars)
	}
	return info, nil
}
