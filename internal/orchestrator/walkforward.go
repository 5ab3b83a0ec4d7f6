package orchestrator

import (
	"context"
	"math"

	"github.com/atlas-desktop/strategy-engine/internal/backtester"
	"github.com/atlas-desktop/strategy-engine/pkg/types"
)

const (
	walkForwardWindowCount     = 4
	walkForwardTrainRatio      = 0.75
	walkForwardMinWindows      = 3
	walkForwardMinSymbols      = 5
	walkForwardMinBarsPerSeries = 20
)

// walkForwardSkipped reports the two timeframes too sparse in bar count over
// the training window for a 4-window expanding split to carry any signal.
func walkForwardSkipped(tf types.Timeframe) bool {
	return tf == types.Timeframe1d || tf == types.Timeframe4h
}

// computeWalkForwardStability re-evaluates strategy over four expanding
// slices of trainingData (1/4, 2/4, 3/4, 4/4 of each symbol's bar count),
// each split 75/25 into an inner train/test span, and returns the std-dev of
// the test-span expectancy across whichever windows had enough data to
// count as valid. A window counts only once at least walkForwardMinSymbols
// symbols each contribute walkForwardMinBarsPerSeries bars to its test span
// and the resulting backtest produced at least one trade. Returns ok=false
// when fewer than walkForwardMinWindows windows qualified, or when the
// timeframe is too coarse for the split to be meaningful at all.
func computeWalkForwardStability(
	ctx context.Context,
	engine *backtester.Engine,
	strategy backtester.StrategyCapability,
	params types.StrategyParameter,
	trainingData map[string][]types.OHLCV,
	timeframe types.Timeframe,
) (float64, bool) {
	if walkForwardSkipped(timeframe) {
		return 0, false
	}

	var expectancies []float64
	for w := 1; w <= walkForwardWindowCount; w++ {
		outer := float64(w) / float64(walkForwardWindowCount)

		testData := make(map[string][]types.OHLCV)
		qualifying := 0
		for symbol, bars := range trainingData {
			span := int(float64(len(bars)) * outer)
			if span < walkForwardMinBarsPerSeries {
				continue
			}
			windowBars := bars[:span]
			cut := int(float64(span) * walkForwardTrainRatio)
			test := windowBars[cut:]
			if len(test) < walkForwardMinBarsPerSeries {
				continue
			}
			testData[symbol] = test
			qualifying++
		}
		if qualifying < walkForwardMinSymbols {
			continue
		}

		result, _, err := engine.Run(ctx, strategy, params, testData, timeframe, types.PeriodHoldout)
		if err != nil || result.TotalTrades < 1 {
			continue
		}
		expectancies = append(expectancies, result.Expectancy)
	}

	if len(expectancies) < walkForwardMinWindows {
		return 0, false
	}
	return stddev(expectancies), true
}

func stddev(values []float64) float64 {
	var mean float64
	for _, v := range values {
		mean += v
	}
	mean /= float64(len(values))

	var sumSq float64
	for _, v := range values {
		d := v - mean
		sumSq += d * d
	}
	return math.Sqrt(sumSq / float64(len(values)))
}
