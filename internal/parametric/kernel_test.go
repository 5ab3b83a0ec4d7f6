package parametric

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/atlas-desktop/strategy-engine/pkg/types"
)

func bar(ts time.Time, o, h, l, c float64) types.OHLCV {
	return types.OHLCV{
		Timestamp: ts,
		Open:      decimal.NewFromFloat(o),
		High:      decimal.NewFromFloat(h),
		Low:       decimal.NewFromFloat(l),
		Close:     decimal.NewFromFloat(c),
		Volume:    decimal.NewFromFloat(1000),
	}
}

func buildSeries() []types.OHLCV {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	prices := [][4]float64{
		{100, 101, 99, 100},
		{100, 103, 99, 102},
		{102, 106, 101, 105},
		{105, 108, 103, 107},
		{107, 110, 105, 109},
		{109, 112, 107, 111},
		{111, 113, 108, 110},
		{110, 111, 95, 96},
		{96, 97, 90, 92},
		{92, 95, 90, 94},
	}
	var series []types.OHLCV
	for i, p := range prices {
		series = append(series, bar(base.Add(time.Duration(i)*time.Hour), p[0], p[1], p[2], p[3]))
	}
	return series
}

func TestEvaluateIsOrderInsensitiveInTupleDimension(t *testing.T) {
	bars := map[string][]types.OHLCV{"BTCUSD": buildSeries()}
	entries := []Entry{{Symbol: "BTCUSD", Index: 1, Direction: types.DirectionLong}}
	tuples := Tuples([]float64{0.02, 0.05}, []float64{0, 0.04}, []int{3, 5}, []int{0, 4})

	admission := AdmissionConfig{MinSharpe: -100, MinWinRate: 0, MinExpectancy: -1, MaxDrawdown: 1, MinTrades: 0}

	forward, err := Evaluate(entries, bars, tuples, nil, nil, types.Timeframe1h, admission, DefaultScoreWeights)
	if err != nil {
		t.Fatalf("forward evaluate: %v", err)
	}

	reversed := make([]Tuple, len(tuples))
	for i, tp := range tuples {
		reversed[len(tuples)-1-i] = tp
	}
	backward, err := Evaluate(entries, bars, reversed, nil, nil, types.Timeframe1h, admission, DefaultScoreWeights)
	if err != nil {
		t.Fatalf("backward evaluate: %v", err)
	}

	byTuple := func(results []TupleResult) map[Tuple]TupleResult {
		m := make(map[Tuple]TupleResult, len(results))
		for _, r := range results {
			m[r.Tuple] = r
		}
		return m
	}
	fwdMap, bwdMap := byTuple(forward), byTuple(backward)
	if len(fwdMap) != len(bwdMap) {
		t.Fatalf("result set sizes differ: %d vs %d", len(fwdMap), len(bwdMap))
	}
	for tuple, fr := range fwdMap {
		br, ok := bwdMap[tuple]
		if !ok {
			t.Fatalf("tuple %+v missing from reversed-order results", tuple)
		}
		if fr.TotalTrades != br.TotalTrades || fr.SharpeRatio != br.SharpeRatio || fr.Expectancy != br.Expectancy {
			t.Fatalf("metrics differ by evaluation order for tuple %+v: %+v vs %+v", tuple, fr, br)
		}
	}
}

func TestTuplesExcludesInvalidNoExitCombination(t *testing.T) {
	tuples := Tuples([]float64{0.01}, []float64{0}, []int{5}, []int{0})
	if len(tuples) != 0 {
		t.Fatalf("expected tp=0 and exit_bars=0 to be excluded, got %v", tuples)
	}
}

func TestSimulateExitFavorsStopLossOnAmbiguousBar(t *testing.T) {
	series := buildSeries()
	tuple := Tuple{SLPct: 0.005, TPPct: 0.02, Leverage: 1, ExitBars: 0}
	pct, ok := simulateExit(series, 0, types.DirectionLong, tuple)
	if !ok {
		t.Fatal("expected an exit to be found")
	}
	// Entry at bar0 close=100: sl=99.5, tp=102. Bar1 has low=99,high=103, so
	// both SL and TP are touched there -- SL wins, a negative return.
	if pct >= 0 {
		t.Fatalf("expected a negative return from the SL winning the ambiguous bar, got %v", pct)
	}
}

func TestAbsoluteGridsCoverAllTimeframes(t *testing.T) {
	for _, tf := range types.Timeframes {
		tuples := TuplesForTimeframe(tf)
		if len(tuples) == 0 {
			t.Fatalf("no tuples generated for timeframe %s", tf)
		}
	}
}
