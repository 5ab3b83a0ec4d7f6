// Package parametric is the Parametric Kernel: given one strategy's
// already-computed entry signals and the aligned OHLC series, it evaluates
// many (sl_pct, tp_pct, leverage, exit_bars) tuples without re-running the
// strategy's indicator pass, and returns per-tuple aggregate metrics.
package parametric

import (
	"fmt"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/atlas-desktop/strategy-engine/pkg/types"
	"github.com/atlas-desktop/strategy-engine/pkg/utils"
)

// Tuple is one candidate parameter combination. TPPct == 0 means "no take
// profit"; ExitBars == 0 means "no time-exit". At least one of the two
// must be set (enforced by Tuples()).
type Tuple struct {
	SLPct    float64
	TPPct    float64
	Leverage int
	ExitBars int
}

// Entry is one pre-computed signal the strategy's own evaluation already
// produced: a symbol, the bar index it fires on, and a direction.
type Entry struct {
	Symbol    string
	Index     int
	Direction types.SignalDirection
}

// TupleResult is one row of the kernel's output. Tuple.Leverage here is
// the derated, per-symbol-capped leverage evaluateTuple computed for this
// tuple (§4.4 step 2 / §4.10), not the raw requested value from the input
// tuple list -- promotion writes this field straight back into a
// strategy's code, so it must already respect the venue cap and the
// liquidation-safety margin.
type TupleResult struct {
	Tuple
	TotalTrades int
	WinRate     float64
	SharpeRatio float64
	Expectancy  float64
	MaxDrawdown float64
	TotalReturn float64
	Score       float64
}

// AdmissionConfig is the post-evaluation filter (§4.4 "Admission filter").
type AdmissionConfig struct {
	MinSharpe     float64
	MinWinRate    float64
	MinExpectancy float64
	MaxDrawdown   float64
	MinTrades     int
}

func admits(r TupleResult, cfg AdmissionConfig) bool {
	return r.SharpeRatio >= cfg.MinSharpe &&
		r.WinRate >= cfg.MinWinRate &&
		r.Expectancy >= cfg.MinExpectancy &&
		r.MaxDrawdown <= cfg.MaxDrawdown &&
		r.TotalTrades >= cfg.MinTrades
}

// ScoreWeights weight the parametric ranking formula (sharpe, expectancy,
// inverse drawdown), distinct from the full Scorer used downstream on
// promoted strategies — this ranking only orders survivors within one
// kernel call.
type ScoreWeights struct {
	Sharpe     float64
	Expectancy float64
	Drawdown   float64
}

// DefaultScoreWeights weights sharpe and expectancy equally and drawdown at
// half their weight.
var DefaultScoreWeights = ScoreWeights{Sharpe: 0.4, Expectancy: 0.4, Drawdown: 0.2}

func rank(r TupleResult, w ScoreWeights) float64 {
	invDD := 1 - r.MaxDrawdown
	if invDD < 0 {
		invDD = 0
	}
	return w.Sharpe*r.SharpeRatio + w.Expectancy*r.Expectancy*10 + w.Drawdown*invDD
}

// Evaluate runs every tuple against every entry independently — no tuple's
// outcome depends on another's — which is what makes the output
// order-insensitive in the tuple dimension (the testable property in §8).
func Evaluate(
	entries []Entry,
	bars map[string][]types.OHLCV,
	tuples []Tuple,
	maxLeverages map[string]int,
	safeLeverage func(slPct float64, maxLeverage int) int,
	timeframe types.Timeframe,
	admission AdmissionConfig,
	weights ScoreWeights,
) ([]TupleResult, error) {
	if len(tuples) == 0 {
		return nil, fmt.Errorf("parametric: no tuples to evaluate")
	}

	results := make([]TupleResult, 0, len(tuples))
	for _, tuple := range tuples {
		r := evaluateTuple(entries, bars, tuple, maxLeverages, safeLeverage, timeframe)
		if admits(r, admission) {
			r.Score = rank(r, weights)
			results = append(results, r)
		}
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})
	return results, nil
}

func evaluateTuple(
	entries []Entry,
	bars map[string][]types.OHLCV,
	tuple Tuple,
	maxLeverages map[string]int,
	safeLeverage func(float64, int) int,
	timeframe types.Timeframe,
) TupleResult {
	var pnls []float64
	var equity = decimal.NewFromInt(1)
	var equityCurve []decimal.Decimal
	peak := equity

	for _, e := range entries {
		series, ok := bars[e.Symbol]
		if !ok || e.Index >= len(series) {
			continue
		}
		entryBar := series[e.Index]
		pnlPct, ok := simulateExit(series, e.Index, e.Direction, tuple)
		if !ok {
			continue
		}
		_ = entryBar
		pnls = append(pnls, pnlPct)

		equity = equity.Mul(decimal.NewFromFloat(1 + pnlPct))
		equityCurve = append(equityCurve, equity)
		if equity.GreaterThan(peak) {
			peak = equity
		}
	}

	leverage := tuple.Leverage
	for _, lev := range maxLeverages {
		if safeLeverage != nil {
			safe := safeLeverage(tuple.SLPct, lev)
			if safe < leverage {
				leverage = safe
			}
		} else if lev < leverage {
			leverage = lev
		}
	}

	totalTrades := len(pnls)
	var tradesPerDay float64
	if totalTrades > 0 {
		tradesPerDay = estimateTradesPerDay(entries, bars, timeframe)
	}

	finalEquity := decimal.NewFromInt(1)
	if len(equityCurve) > 0 {
		finalEquity = equityCurve[len(equityCurve)-1]
	}
	totalReturn, _ := finalEquity.Sub(decimal.NewFromInt(1)).Float64()

	var expectancy float64
	if totalTrades > 0 {
		var sum float64
		for _, p := range pnls {
			sum += p
		}
		expectancy = sum / float64(totalTrades)
	}

	derated := tuple
	derated.Leverage = leverage

	return TupleResult{
		Tuple:       derated,
		TotalTrades: totalTrades,
		WinRate:     utils.CalculateWinRate(pnls),
		SharpeRatio: utils.CalculateSharpe(pnls, tradesPerDay),
		Expectancy:  expectancy,
		MaxDrawdown: utils.CalculateMaxDrawdown(equityCurve),
		TotalReturn: totalReturn,
	}
}

// simulateExit walks forward from the entry bar applying first-touch
// intrabar SL/TP (SL wins on an ambiguous bar) or a time-exit at close
// after ExitBars bars, returning the trade's pct return.
func simulateExit(series []types.OHLCV, entryIndex int, direction types.SignalDirection, tuple Tuple) (float64, bool) {
	if entryIndex+1 >= len(series) {
		return 0, false
	}
	entry := series[entryIndex].Close
	entryF, _ := entry.Float64()
	if entryF == 0 {
		return 0, false
	}

	long := direction != types.DirectionShort
	var slPrice, tpPrice decimal.Decimal
	if long {
		slPrice = entry.Mul(decimal.NewFromFloat(1 - tuple.SLPct))
		if tuple.TPPct > 0 {
			tpPrice = entry.Mul(decimal.NewFromFloat(1 + tuple.TPPct))
		}
	} else {
		slPrice = entry.Mul(decimal.NewFromFloat(1 + tuple.SLPct))
		if tuple.TPPct > 0 {
			tpPrice = entry.Mul(decimal.NewFromFloat(1 - tuple.TPPct))
		}
	}

	for i := entryIndex + 1; i < len(series); i++ {
		bar := series[i]
		barsHeld := i - entryIndex

		if long {
			if bar.Low.LessThanOrEqual(slPrice) {
				return pctReturn(entry, slPrice, long), true
			}
			if tuple.TPPct > 0 && bar.High.GreaterThanOrEqual(tpPrice) {
				return pctReturn(entry, tpPrice, long), true
			}
		} else {
			if bar.High.GreaterThanOrEqual(slPrice) {
				return pctReturn(entry, slPrice, long), true
			}
			if tuple.TPPct > 0 && bar.Low.LessThanOrEqual(tpPrice) {
				return pctReturn(entry, tpPrice, long), true
			}
		}

		if tuple.ExitBars > 0 && barsHeld >= tuple.ExitBars {
			return pctReturn(entry, bar.Close, long), true
		}
	}
	return 0, false
}

func pctReturn(entry, exit decimal.Decimal, long bool) float64 {
	diff := exit.Sub(entry)
	if !long {
		diff = diff.Neg()
	}
	pct, _ := diff.Div(entry).Float64()
	return pct
}

// estimateTradesPerDay approximates trading frequency as the entry count
// divided by the days between the earliest and latest entry bar, used only
// for Sharpe annualization inside the kernel. The backtest engine instead
// divides its trade count by the whole period's day count.
func estimateTradesPerDay(entries []Entry, bars map[string][]types.OHLCV, _ types.Timeframe) float64 {
	if len(entries) == 0 {
		return 0
	}
	var minTS, maxTS int64 = -1, -1
	for _, e := range entries {
		series, ok := bars[e.Symbol]
		if !ok || e.Index >= len(series) {
			continue
		}
		ts := series[e.Index].Timestamp.Unix()
		if minTS == -1 || ts < minTS {
			minTS = ts
		}
		if maxTS == -1 || ts > maxTS {
			maxTS = ts
		}
	}
	if minTS == -1 || maxTS <= minTS {
		return 0
	}
	days := float64(maxTS-minTS) / 86400
	if days <= 0 {
		return 0
	}
	return float64(len(entries)) / days
}

// Tuples builds the cartesian product of the four parameter lists,
// excluding the invalid combination tp_pct=0 AND exit_bars=0.
func Tuples(slPcts, tpPcts []float64, leverages, exitBars []int) []Tuple {
	var out []Tuple
	for _, sl := range slPcts {
		for _, tp := range tpPcts {
			for _, exit := range exitBars {
				if tp == 0 && exit == 0 {
					continue
				}
				for _, lev := range leverages {
					out = append(out, Tuple{SLPct: sl, TPPct: tp, Leverage: lev, ExitBars: exit})
				}
			}
		}
	}
	return out
}
