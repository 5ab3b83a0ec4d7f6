package cache

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/atlas-desktop/strategy-engine/internal/pipelineerr"
	"github.com/atlas-desktop/strategy-engine/pkg/types"
)

func writeFixture(t *testing.T, dir, symbol string, tf types.Timeframe, days int) {
	t.Helper()
	var bars []types.OHLCV
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < days; i++ {
		ts := start.AddDate(0, 0, i)
		bars = append(bars, types.OHLCV{
			Timestamp: ts,
			Open:      decimal.NewFromInt(100),
			High:      decimal.NewFromInt(105),
			Low:       decimal.NewFromInt(95),
			Close:     decimal.NewFromInt(101),
			Volume:    decimal.NewFromInt(1000),
		})
	}
	data, err := json.Marshal(bars)
	if err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(dir, symbol+"_"+string(tf)+".json")
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatal(err)
	}
}

func TestReadCacheNotFound(t *testing.T) {
	r := New(t.TempDir())
	_, err := r.Read("BTC", types.Timeframe1h, 0, time.Time{})
	if err != pipelineerr.ErrCacheNotFound {
		t.Fatalf("expected ErrCacheNotFound, got %v", err)
	}
}

func TestReadDualPeriods(t *testing.T) {
	dir := t.TempDir()
	writeFixture(t, dir, "BTC", types.Timeframe1d, 180)
	r := New(dir)

	full, recent, err := r.ReadDualPeriods("BTC", types.Timeframe1d, 180, 60, time.Time{})
	if err != nil {
		t.Fatal(err)
	}
	if len(full) == 0 {
		t.Fatal("expected full period bars")
	}
	if len(recent) == 0 || len(recent) >= len(full) {
		t.Fatalf("expected recent to be a strict tail slice of full, got %d/%d", len(recent), len(full))
	}
}

func TestReadMultiSymbolDualPeriodsRejectsLowCoverageWithoutEarlyBreak(t *testing.T) {
	dir := t.TempDir()
	writeFixture(t, dir, "BTC", types.Timeframe1d, 180)
	writeFixture(t, dir, "ETH", types.Timeframe1d, 10)
	writeFixture(t, dir, "SOL", types.Timeframe1d, 175)

	r := New(dir)
	full, _, skipped := r.ReadMultiSymbolDualPeriods(
		[]string{"BTC", "ETH", "SOL", "DOGE"}, types.Timeframe1d, 180, 60, time.Time{}, 0.90,
	)

	if _, ok := full["BTC"]; !ok {
		t.Error("expected BTC to survive coverage filter")
	}
	if _, ok := full["ETH"]; ok {
		t.Error("expected ETH to be rejected for low coverage")
	}
	if len(skipped) != 2 {
		t.Fatalf("expected ETH (low coverage) and DOGE (not cached) both evaluated, got %d skips: %+v", len(skipped), skipped)
	}
}

func TestGetCacheInfo(t *testing.T) {
	dir := t.TempDir()
	writeFixture(t, dir, "BTC", types.Timeframe1d, 30)
	r := New(dir)

	info, err := r.GetCacheInfo("BTC", types.Timeframe1d)
	if err != nil {
		t.Fatal(err)
	}
	if info.Candles != 30 {
		t.Fatalf("expected 30 candles, got %d", info.Candles)
	}
	if info.Days != 29 {
		t.Fatalf("expected 29 covered days (last-first), got %d", info.Days)
	}
}

func TestListCachedSymbols(t *testing.T) {
	dir := t.TempDir()
	writeFixture(t, dir, "BTC", types.Timeframe1d, 5)
	writeFixture(t, dir, "ETH", types.Timeframe1h, 5)
	r := New(dir)

	symbols, err := r.ListCachedSymbols("")
	if err != nil {
		t.Fatal(err)
	}
	if len(symbols) != 2 {
		t.Fatalf("expected 2 symbols, got %v", symbols)
	}

	tfs, err := r.ListCachedTimeframes("BTC")
	if err != nil {
		t.Fatal(err)
	}
	if len(tfs) != 1 || tfs[0] != types.Timeframe1d {
		t.Fatalf("expected [1d], got %v", tfs)
	}
}
