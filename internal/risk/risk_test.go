package risk

import (
	"testing"

	"github.com/shopspring/decimal"

	"github.com/atlas-desktop/strategy-engine/pkg/types"
)

// TestSafeLeverageScenario5 matches the spec's seed scenario 5: sl_pct=0.12,
// desired leverage 20, asset max 40, buffer 10% => safe leverage 6.
func TestSafeLeverageScenario5(t *testing.T) {
	safe := SafeLeverage(0.12, 40, 0.10)
	if safe != 6 {
		t.Fatalf("safe leverage = %d, want 6", safe)
	}

	adjusted, reduced := ValidateAndAdjustLeverage(0.12, 20, 40, 0.10)
	if !reduced || adjusted != 6 {
		t.Fatalf("adjusted = %d reduced = %v, want 6 true", adjusted, reduced)
	}
}

func TestValidateAndAdjustLeverageIsIdempotent(t *testing.T) {
	a1, _ := ValidateAndAdjustLeverage(0.05, 25, 50, 0.10)
	a2, _ := ValidateAndAdjustLeverage(0.05, a1, 50, 0.10)
	if a1 != a2 {
		t.Fatalf("re-validating changed leverage: %d -> %d", a1, a2)
	}
	if !IsLeverageSafe(0.05, a1, 50, 0.10) {
		t.Fatalf("adjusted leverage %d should be safe", a1)
	}
}

func TestPositionSizeFixedFractional(t *testing.T) {
	balance := decimal.NewFromInt(10000)
	entry := decimal.NewFromInt(100)
	sl := decimal.NewFromInt(98)

	size, err := PositionSize(balance, entry, sl, 0.01)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// risk_dollars = 100, distance = 2 -> size = 50
	want := decimal.NewFromInt(50)
	if !size.Equal(want) {
		t.Fatalf("size = %s, want %s", size, want)
	}
}

func TestValidateSignalRejectsInvalidLong(t *testing.T) {
	entry := decimal.NewFromInt(100)
	sl := decimal.NewFromInt(105) // wrong side for long
	tp := decimal.NewFromInt(110)
	if err := ValidateSignal(types.DirectionLong, entry, sl, tp, true); err == nil {
		t.Fatal("expected rejection for sl above entry on a long")
	}
}

func TestValidateSignalAcceptsValidShort(t *testing.T) {
	entry := decimal.NewFromInt(100)
	sl := decimal.NewFromInt(105)
	tp := decimal.NewFromInt(90)
	if err := ValidateSignal(types.DirectionShort, entry, sl, tp, true); err != nil {
		t.Fatalf("unexpected rejection: %v", err)
	}
}

func TestEmergencyStateBreachesOnConsecutiveLosses(t *testing.T) {
	cfg := Config{MaxConsecutiveLosses: 3, MaxPortfolioDrawdownPct: 0.5}
	state := NewEmergencyState(cfg, decimal.NewFromInt(1000))

	state.RecordTrade(decimal.NewFromInt(-10), decimal.NewFromInt(990))
	state.RecordTrade(decimal.NewFromInt(-10), decimal.NewFromInt(980))
	if breached, _ := state.Breached(decimal.NewFromInt(980)); breached {
		t.Fatal("should not breach at 2 consecutive losses")
	}
	state.RecordTrade(decimal.NewFromInt(-10), decimal.NewFromInt(970))
	if breached, reason := state.Breached(decimal.NewFromInt(970)); !breached {
		t.Fatalf("expected breach at 3 consecutive losses, reason=%q", reason)
	}
}
