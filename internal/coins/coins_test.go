package coins

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/atlas-desktop/strategy-engine/internal/cache"
	"github.com/atlas-desktop/strategy-engine/pkg/types"
)

type fakeLiquidity struct {
	active map[string]bool
}

func (f fakeLiquidity) IsActive(symbol string) bool { return f.active[symbol] }

func writeCacheFile(t *testing.T, dir, symbol string, timeframe types.Timeframe, days int) {
	t.Helper()
	start := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	var bars []types.OHLCV
	for i := 0; i < days; i++ {
		bars = append(bars, types.OHLCV{
			Timestamp: start.AddDate(0, 0, i),
			Open:      decimal.NewFromInt(100),
			High:      decimal.NewFromInt(101),
			Low:       decimal.NewFromInt(99),
			Close:     decimal.NewFromInt(100),
			Volume:    decimal.NewFromInt(1000),
		})
	}
	data, err := json.Marshal(bars)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	path := filepath.Join(dir, symbol+"_"+string(timeframe)+".json")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func TestSelectScrollsDownWithoutEarlyBreak(t *testing.T) {
	dir := t.TempDir()
	writeCacheFile(t, dir, "AAA", types.Timeframe1h, 5)   // fails liquidity
	writeCacheFile(t, dir, "BBB", types.Timeframe1h, 5)   // fails coverage
	writeCacheFile(t, dir, "CCC", types.Timeframe1h, 100) // survives

	reader := cache.New(dir)
	liquidity := fakeLiquidity{active: map[string]bool{"BBB": true, "CCC": true}}

	cfg := Config{
		TargetCount:         5,
		MinCount:            1,
		FullPeriodDays:      90,
		HoldoutDays:         10,
		MinCoverageFraction: 0.9,
		Timeframe:           types.Timeframe1h,
	}

	result, err := Select(reader, liquidity, []string{"AAA", "BBB", "CCC"}, cfg)
	if err != nil {
		t.Fatalf("unexpected rejection: %v", err)
	}
	if len(result.Symbols) != 1 || result.Symbols[0] != "CCC" {
		t.Fatalf("expected only CCC to survive, got %v", result.Symbols)
	}
	if len(result.Skipped) != 2 {
		t.Fatalf("expected 2 skip reasons (no early break), got %d: %v", len(result.Skipped), result.Skipped)
	}
}

func TestSelectRejectsBelowMinCount(t *testing.T) {
	dir := t.TempDir()
	reader := cache.New(dir)
	cfg := Config{TargetCount: 5, MinCount: 2, FullPeriodDays: 90, HoldoutDays: 10, MinCoverageFraction: 0.9, Timeframe: types.Timeframe1h}

	_, err := Select(reader, fakeLiquidity{}, []string{"XXX"}, cfg)
	if err == nil {
		t.Fatal("expected rejection when no candidates survive")
	}
}
