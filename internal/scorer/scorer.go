// Package scorer computes the composite 0-100 score used everywhere
// downstream: pool admission, re-validation, and the leaderboard ordering.
// Both faces (backtest-derived and live-trade-derived) normalize the same
// five quantities and combine them with the same weights.
package scorer

import (
	"fmt"

	"github.com/atlas-desktop/strategy-engine/pkg/types"
	"github.com/atlas-desktop/strategy-engine/pkg/utils"
)

// Weights are the scorer's six component weights, loaded from config and
// expected to sum to 1.0. internal/config only requires each weight key to
// be present; neither it nor this package checks the sum.
type Weights struct {
	Expectancy float64
	Sharpe     float64
	WinRate    float64
	Drawdown   float64
	Robustness float64
	Recency    float64
}

// Inputs is the normalized set of quantities the formula consumes,
// regardless of whether they came from a BacktestResult or a Trade window.
type Inputs struct {
	Expectancy  float64
	SharpeRatio float64
	WinRate     float64
	MaxDrawdown float64
	Degradation float64
}

func normExpectancy(e float64) float64 {
	return utils.ClampFloat(e, 0, 0.10) / 0.10
}

func normSharpe(s float64) float64 {
	return utils.ClampFloat(s, 0, 3.0) / 3.0
}

func normInverseDrawdown(dd float64) float64 {
	v := 1 - dd/0.30
	if v < 0 {
		return 0
	}
	return v
}

func normRecency(degradation float64) float64 {
	d := utils.ClampFloat(degradation, -0.5, 0.5)
	return utils.ClampFloat(0.5-d, 0, 1)
}

// Score computes the 0-100 composite. Robustness (walk-forward stability,
// inverted so lower std-dev scores higher) folds into the same formula
// slot the spec reserves for it; callers that have no stability figure
// pass 1.0 (maximally robust) so the term drops out cleanly.
func Score(in Inputs, robustness float64, w Weights) float64 {
	norm := w.Expectancy*normExpectancy(in.Expectancy) +
		w.Sharpe*normSharpe(in.SharpeRatio) +
		w.WinRate*utils.ClampFloat(in.WinRate, 0, 1) +
		w.Drawdown*normInverseDrawdown(in.MaxDrawdown) +
		w.Robustness*utils.ClampFloat(robustness, 0, 1) +
		w.Recency*normRecency(in.Degradation)
	return utils.ClampFloat(norm*100, 0, 100)
}

// BacktestScorer scores a strategy from its optimal training BacktestResult
// plus the degradation figure computed by the evaluator's holdout gate.
type BacktestScorer struct {
	Weights Weights
}

func NewBacktestScorer(w Weights) *BacktestScorer {
	return &BacktestScorer{Weights: w}
}

// ScoreFromBacktestResult reproduces the testable-property invariant:
// Strategy.score_backtest equals this function's output up to IEEE-754
// rounding, for the optimal training row and its paired degradation.
func (s *BacktestScorer) ScoreFromBacktestResult(result *types.BacktestResult, degradation float64) float64 {
	return Score(Inputs{
		Expectancy:  result.Expectancy,
		SharpeRatio: result.SharpeRatio,
		WinRate:     result.WinRate,
		MaxDrawdown: result.MaxDrawdown,
		Degradation: degradation,
	}, robustnessFromStability(result.WalkForwardStability), s.Weights)
}

// robustnessFromStability folds walk-forward expectancy std-dev into a
// 0-1 robustness figure: zero stddev is maximally robust, growing stddev
// decays it toward zero over the same 0.10 expectancy scale the scorer
// already uses for expectancy itself.
func robustnessFromStability(stability float64) float64 {
	if stability <= 0 {
		return 1.0
	}
	v := 1 - stability/0.10
	if v < 0 {
		return 0
	}
	return v
}

// LiveScorer computes the same formula from a strategy's realized Trade
// window rather than a backtest row.
type LiveScorer struct {
	Weights               Weights
	MinTrades             int
	MinTradesForFrequency int
	MinDaysForFrequency   int
}

func NewLiveScorer(w Weights, minTrades, minTradesForFreq, minDaysForFreq int) *LiveScorer {
	return &LiveScorer{
		Weights:               w,
		MinTrades:             minTrades,
		MinTradesForFrequency: minTradesForFreq,
		MinDaysForFrequency:   minDaysForFreq,
	}
}

// ErrInsufficientData is returned when a strategy does not yet have enough
// closed trades or a long enough trading history to produce a meaningful
// live score.
var ErrInsufficientData = fmt.Errorf("scorer: insufficient live trade data")

// ScoreFromTrades computes a live score from pnls (fraction of capital per
// trade, from which win rate and expectancy are derived), the strategy's
// max drawdown computed over its live equity curve, its degradation versus
// the backtest baseline, and the calendar days spanned by the trade window.
func (s *LiveScorer) ScoreFromTrades(pnls []float64, maxDrawdown, degradation float64, spanDays int) (float64, error) {
	if len(pnls) < s.MinTrades {
		return 0, ErrInsufficientData
	}

	winRate := utils.CalculateWinRate(pnls)
	expectancy := meanOf(pnls)

	var tradesPerDay float64
	if len(pnls) >= s.MinTradesForFrequency && spanDays >= s.MinDaysForFrequency && spanDays > 0 {
		tradesPerDay = float64(len(pnls)) / float64(spanDays)
	} else {
		return 0, ErrInsufficientData
	}

	sharpe := utils.CalculateSharpe(pnls, tradesPerDay)

	return Score(Inputs{
		Expectancy:  expectancy,
		SharpeRatio: sharpe,
		WinRate:     winRate,
		MaxDrawdown: maxDrawdown,
		Degradation: degradation,
	}, 1.0, s.Weights), nil
}

func meanOf(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}
