package trailing

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/atlas-desktop/strategy-engine/pkg/types"
)

type fakeExecutor struct {
	placed   int
	canceled int
	lastID   string
}

func (f *fakeExecutor) PlaceTriggerOrder(ctx context.Context, symbol string, side types.PositionSide, triggerPrice decimal.Decimal, kind string) (string, error) {
	f.placed++
	f.lastID = "sl-" + triggerPrice.String()
	return f.lastID, nil
}

func (f *fakeExecutor) CancelOrder(ctx context.Context, orderID string) error {
	f.canceled++
	return nil
}

func scenarioConfig() Config {
	return Config{
		Enabled:            true,
		ActivationPct:      0.01,
		TrailPct:           0.02,
		BreakevenBufferPct: 0.002,
		MinAdjustmentPct:   0.002,
	}
}

func d(v float64) decimal.Decimal { return decimal.NewFromFloat(v) }

// TestSeedScenario6 exercises the spec's exact worked example: entry=100,
// activation_pct=0.01, trail_pct=0.02, breakeven_buffer_pct=0.002,
// min_adjustment_pct=0.002. Price to 101 activates with no SL move; price
// to 110 replaces the stop once at max(107.8, 100.2)=107.8; a dip to 108
// causes no further change.
func TestSeedScenario6(t *testing.T) {
	exec := &fakeExecutor{}
	svc := NewService(scenarioConfig(), exec)
	svc.Register("BTCUSD", types.PositionSideLong, d(100), d(1), d(98), "initial-sl")

	if err := svc.OnPriceUpdate(context.Background(), "BTCUSD", d(101)); err != nil {
		t.Fatalf("activation update: %v", err)
	}
	if exec.placed != 0 {
		t.Fatalf("activation alone should not replace the stop, placed=%d", exec.placed)
	}
	snap, _ := svc.Snapshot("BTCUSD")
	if !snap.IsActive {
		t.Fatal("expected trailing to be active after crossing activation price")
	}

	if err := svc.OnPriceUpdate(context.Background(), "BTCUSD", d(110)); err != nil {
		t.Fatalf("trail update: %v", err)
	}
	if exec.placed != 1 || exec.canceled != 1 {
		t.Fatalf("expected exactly one replace at price=110, placed=%d canceled=%d", exec.placed, exec.canceled)
	}
	snap, _ = svc.Snapshot("BTCUSD")
	want := d(107.8)
	if !snap.CurrentSLPrice.Equal(want) {
		t.Fatalf("candidate SL = %s, want %s", snap.CurrentSLPrice, want)
	}

	if err := svc.OnPriceUpdate(context.Background(), "BTCUSD", d(108)); err != nil {
		t.Fatalf("dip update: %v", err)
	}
	if exec.placed != 1 {
		t.Fatalf("a dip below the high-water mark should not move the stop, placed=%d", exec.placed)
	}
}

func TestShortPositionTrailsDownward(t *testing.T) {
	exec := &fakeExecutor{}
	svc := NewService(scenarioConfig(), exec)
	svc.Register("ETHUSD", types.PositionSideShort, d(100), d(1), d(102), "initial-sl")

	svc.OnPriceUpdate(context.Background(), "ETHUSD", d(99))
	snap, _ := svc.Snapshot("ETHUSD")
	if !snap.IsActive {
		t.Fatal("expected short trailing to activate on a downward cross")
	}

	if err := svc.OnPriceUpdate(context.Background(), "ETHUSD", d(90)); err != nil {
		t.Fatalf("trail update: %v", err)
	}
	if exec.placed != 1 {
		t.Fatalf("expected one SL replacement, got %d", exec.placed)
	}
	snap, _ = svc.Snapshot("ETHUSD")
	// trail candidate = 90*1.02=91.8, breakeven=100*0.998=99.8; short uses min.
	want := d(91.8)
	if !snap.CurrentSLPrice.Equal(want) {
		t.Fatalf("candidate SL = %s, want %s", snap.CurrentSLPrice, want)
	}
}

func TestBelowMinAdjustmentDoesNotReplace(t *testing.T) {
	exec := &fakeExecutor{}
	cfg := scenarioConfig()
	cfg.MinAdjustmentPct = 0.15 // the 98 -> 107.8 move is a 10% improvement
	svc := NewService(cfg, exec)
	svc.Register("BTCUSD", types.PositionSideLong, d(100), d(1), d(98), "initial-sl")

	svc.OnPriceUpdate(context.Background(), "BTCUSD", d(101))
	if err := svc.OnPriceUpdate(context.Background(), "BTCUSD", d(110)); err != nil {
		t.Fatalf("update: %v", err)
	}
	if exec.placed != 0 {
		t.Fatalf("improvement below min_adjustment_pct should not replace the stop, placed=%d", exec.placed)
	}
}

func TestUnregisterStopsTracking(t *testing.T) {
	exec := &fakeExecutor{}
	svc := NewService(scenarioConfig(), exec)
	svc.Register("BTCUSD", types.PositionSideLong, d(100), d(1), d(98), "initial-sl")
	svc.Unregister("BTCUSD")

	if err := svc.OnPriceUpdate(context.Background(), "BTCUSD", d(150)); err != nil {
		t.Fatalf("update after unregister: %v", err)
	}
	if exec.placed != 0 {
		t.Fatal("expected no activity for an unregistered position")
	}
	if _, ok := svc.Snapshot("BTCUSD"); ok {
		t.Fatal("expected no snapshot after unregister")
	}
}
