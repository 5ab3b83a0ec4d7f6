// Package evaluator runs the training/holdout split-sample evaluation and
// anti-overfitting gate: it rejects strategies whose holdout performance
// degrades too far from training, and produces the weighted composite
// score the Scorer later normalizes to 0-100.
package evaluator

import (
	"context"
	"fmt"

	"github.com/atlas-desktop/strategy-engine/internal/backtester"
	"github.com/atlas-desktop/strategy-engine/pkg/types"
)

// Config holds the holdout-gate tunables from the configuration surface.
type Config struct {
	MinSharpe            float64
	HoldoutMinSharpe     float64
	MaxDegradation       float64
	MinHoldoutTrades     int
	HoldoutRecencyWeight float64 // w in the spec's weighted-final formula, default 0.6
}

// HoldoutOutcome is the result of the anti-overfit gate, §4.5 step 5.
type HoldoutOutcome struct {
	Passed       bool
	Reason       string
	Degradation  float64
	HoldoutBonus float64
}

// ValidateHoldout implements the holdout-gate decision tree exactly as
// spec'd, independent of any I/O so it can be exercised against the seed
// scenarios directly.
func ValidateHoldout(cfg Config, trainingSharpe float64, holdoutTrades int, holdoutSharpe float64) HoldoutOutcome {
	if trainingSharpe < cfg.MinSharpe {
		return HoldoutOutcome{Passed: false, Reason: fmt.Sprintf("training sharpe %.2f below minimum %.2f", trainingSharpe, cfg.MinSharpe)}
	}

	if holdoutTrades == 0 {
		return HoldoutOutcome{Passed: true, HoldoutBonus: -0.30}
	}

	if holdoutTrades < cfg.MinHoldoutTrades {
		return HoldoutOutcome{Passed: true, HoldoutBonus: -0.15}
	}

	var degradation float64
	if trainingSharpe != 0 {
		degradation = (trainingSharpe - holdoutSharpe) / trainingSharpe
	}

	if degradation > cfg.MaxDegradation {
		return HoldoutOutcome{
			Passed:      false,
			Reason:      fmt.Sprintf("Overfitted: holdout %.0f%% worse", degradation*100),
			Degradation: degradation,
		}
	}

	if holdoutSharpe < cfg.HoldoutMinSharpe {
		return HoldoutOutcome{
			Passed:      false,
			Reason:      fmt.Sprintf("holdout sharpe %.2f below minimum %.2f", holdoutSharpe, cfg.HoldoutMinSharpe),
			Degradation: degradation,
		}
	}

	var bonus float64
	if degradation <= 0 {
		abs := -degradation
		bonus = abs * 0.5
		if bonus > 0.20 {
			bonus = 0.20
		}
	} else {
		bonus = -0.10 * degradation
	}

	return HoldoutOutcome{Passed: true, Degradation: degradation, HoldoutBonus: bonus}
}

// WeightedScore combines training and holdout component scores using the
// recency weight and holdout bonus, per §4.5 step 6.
func WeightedScore(trainingSharpe, trainingExpectancy, trainingWinRate, holdoutSharpe, holdoutExpectancy, holdoutWinRate, recencyWeight, holdoutBonus float64) float64 {
	trainingScore := 0.5*trainingSharpe + 0.3*trainingExpectancy + 0.2*trainingWinRate
	holdoutScore := 0.5*holdoutSharpe + 0.3*holdoutExpectancy + 0.2*holdoutWinRate
	return (trainingScore*(1-recencyWeight) + holdoutScore*recencyWeight) * (1 + holdoutBonus)
}

// Result bundles everything the orchestrator needs from one evaluation.
type Result struct {
	Training      *types.BacktestResult
	Holdout       *types.BacktestResult
	Outcome       HoldoutOutcome
	WeightedFinal float64
}

// Evaluate runs the backtest engine over training and holdout frames and
// applies the anti-overfit gate. trainingData and holdoutData are already
// non-overlapping windows: the orchestrator's readPeriods cuts the holdout
// tail out of the cache reader's full-period read; the evaluator does not
// itself slice them.
func Evaluate(
	ctx context.Context,
	cfg Config,
	engine *backtester.Engine,
	holdoutEngine *backtester.Engine,
	strategy backtester.StrategyCapability,
	params types.StrategyParameter,
	trainingData, holdoutData map[string][]types.OHLCV,
	timeframe types.Timeframe,
) (*Result, error) {
	training, _, err := engine.Run(ctx, strategy, params, trainingData, timeframe, types.PeriodTraining)
	if err != nil {
		return nil, fmt.Errorf("evaluator: training run: %w", err)
	}
	if training.TotalTrades == 0 {
		return nil, fmt.Errorf("evaluator: zero trades on training window")
	}

	holdout, _, err := holdoutEngine.Run(ctx, strategy, params, holdoutData, timeframe, types.PeriodHoldout)
	if err != nil {
		return nil, fmt.Errorf("evaluator: holdout run: %w", err)
	}

	outcome := ValidateHoldout(cfg, training.SharpeRatio, holdout.TotalTrades, holdout.SharpeRatio)
	final := WeightedScore(
		training.SharpeRatio, training.Expectancy, training.WinRate,
		holdout.SharpeRatio, holdout.Expectancy, holdout.WinRate,
		cfg.HoldoutRecencyWeight, outcome.HoldoutBonus,
	)

	training.RecentResultID = &holdout.ID
	training.WeightedSharpe = final

	return &Result{Training: training, Holdout: holdout, Outcome: outcome, WeightedFinal: final}, nil
}
