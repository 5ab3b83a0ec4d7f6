package scorer

import (
	"math"
	"testing"

	"github.com/atlas-desktop/strategy-engine/pkg/types"
)

func defaultWeights() Weights {
	return Weights{Expectancy: 0.35, Sharpe: 0.20, WinRate: 0.10, Drawdown: 0.15, Robustness: 0.10, Recency: 0.10}
}

func TestScoreHappyPathScenario(t *testing.T) {
	s := NewBacktestScorer(defaultWeights())
	result := &types.BacktestResult{
		Expectancy:  0.04,
		SharpeRatio: 2.0,
		WinRate:     0.60,
		MaxDrawdown: 0.10,
	}
	score := s.ScoreFromBacktestResult(result, 0.10)
	if score <= 0 || score > 100 {
		t.Fatalf("score out of range: %v", score)
	}
}

func TestScoreClampsOutOfRangeInputs(t *testing.T) {
	s := NewBacktestScorer(defaultWeights())
	result := &types.BacktestResult{
		Expectancy:  1.0, // far above the 0.10 norm ceiling
		SharpeRatio: 10,  // far above the 3.0 norm ceiling
		WinRate:     0.9,
		MaxDrawdown: 0.05,
	}
	score := s.ScoreFromBacktestResult(result, -0.5)
	if score <= 0 || score > 100 {
		t.Fatalf("score should clamp into [0,100], got %v", score)
	}
}

func TestLiveScorerInsufficientData(t *testing.T) {
	ls := NewLiveScorer(defaultWeights(), 30, 10, 7)
	_, err := ls.ScoreFromTrades([]float64{0.01, 0.02}, 0.05, 0, 30)
	if err != ErrInsufficientData {
		t.Fatalf("expected ErrInsufficientData, got %v", err)
	}
}

func TestLiveScorerComputesScore(t *testing.T) {
	ls := NewLiveScorer(defaultWeights(), 3, 3, 1)
	pnls := []float64{0.01, -0.005, 0.02, 0.015, -0.01}
	score, err := ls.ScoreFromTrades(pnls, 0.04, 0.1, 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if math.IsNaN(score) || score < 0 || score > 100 {
		t.Fatalf("unexpected live score: %v", score)
	}
}
