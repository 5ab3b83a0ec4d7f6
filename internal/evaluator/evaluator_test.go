package evaluator

import (
	"math"
	"testing"
)

func scenarioConfig() Config {
	return Config{
		MinSharpe:            0.5,
		HoldoutMinSharpe:     0.3,
		MaxDegradation:       0.50,
		MinHoldoutTrades:     10,
		HoldoutRecencyWeight: 0.6,
	}
}

// TestHappyPathScenario1 matches the spec's seed scenario 1: training
// sharpe 2.0, holdout sharpe 1.8 => degradation 0.10, bonus -0.10*0.10 = -0.01.
func TestHappyPathScenario1(t *testing.T) {
	cfg := scenarioConfig()
	outcome := ValidateHoldout(cfg, 2.0, 40, 1.8)
	if !outcome.Passed {
		t.Fatalf("expected scenario 1 to pass, reason=%q", outcome.Reason)
	}
	if math.Abs(outcome.Degradation-0.10) > 1e-9 {
		t.Fatalf("degradation = %v, want 0.10", outcome.Degradation)
	}
	if math.Abs(outcome.HoldoutBonus-(-0.01)) > 1e-9 {
		t.Fatalf("holdout bonus = %v, want -0.01 for degradation 0.10", outcome.HoldoutBonus)
	}

	final := WeightedScore(2.0, 0.04, 0.60, 1.8, 0.035, 0.58, cfg.HoldoutRecencyWeight, outcome.HoldoutBonus)
	if final <= 1.0 {
		t.Fatalf("expected a final composite above 1.0 for the happy path, got %v", final)
	}
}

// TestOverfitRejectScenario2 matches scenario 2: training sharpe 3.0,
// holdout sharpe 1.0 => degradation 0.67 > 0.50 => rejected.
func TestOverfitRejectScenario2(t *testing.T) {
	cfg := scenarioConfig()
	outcome := ValidateHoldout(cfg, 3.0, 40, 1.0)
	if outcome.Passed {
		t.Fatal("expected scenario 2 to be rejected as overfit")
	}
	if math.Abs(outcome.Degradation-(2.0/3.0)) > 1e-6 {
		t.Fatalf("degradation = %v, want ~0.667", outcome.Degradation)
	}
}

// TestDormantHoldoutScenario3 matches scenario 3: zero holdout trades
// passes with a fixed -0.30 penalty regardless of training performance
// (as long as training clears the sharpe floor).
func TestDormantHoldoutScenario3(t *testing.T) {
	cfg := scenarioConfig()
	outcome := ValidateHoldout(cfg, 1.5, 0, 0)
	if !outcome.Passed {
		t.Fatal("zero-trade holdout should pass with a penalty, not reject")
	}
	if outcome.HoldoutBonus != -0.30 {
		t.Fatalf("holdout bonus = %v, want -0.30", outcome.HoldoutBonus)
	}
}

func TestRejectsLowTrainingSharpe(t *testing.T) {
	cfg := scenarioConfig()
	outcome := ValidateHoldout(cfg, 0.1, 50, 0.2)
	if outcome.Passed {
		t.Fatal("training sharpe below the floor must reject before holdout is even considered")
	}
}

func TestSparseHoldoutTradesPenalty(t *testing.T) {
	cfg := scenarioConfig()
	outcome := ValidateHoldout(cfg, 1.0, 5, 0.9)
	if !outcome.Passed {
		t.Fatal("sparse holdout trades should pass with a penalty")
	}
	if outcome.HoldoutBonus != -0.15 {
		t.Fatalf("holdout bonus = %v, want -0.15", outcome.HoldoutBonus)
	}
}
