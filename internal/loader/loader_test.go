package loader

import (
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/atlas-desktop/strategy-engine/pkg/types"
)

const emaCrossCode = `
kind = TRD
direction = long
family = ema_cross
fast_period = 3
slow_period = 5
sl_pct = 0.02
tp_pct = 0.04
leverage = 3
exit_bars = 24
`

func TestLoadParsesDescriptor(t *testing.T) {
	inst, err := Load("test-strategy", []byte(emaCrossCode))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if inst.Family != FamilyEMACross {
		t.Fatalf("Family = %q, want ema_cross", inst.Family)
	}
	if inst.Params.Leverage != 3 || inst.Params.ExitBars != 24 {
		t.Fatalf("unexpected params: %+v", inst.Params)
	}
}

func TestLoadRejectsUnknownFamily(t *testing.T) {
	code := strings.Replace(emaCrossCode, "family = ema_cross", "family = quantum_flux", 1)
	if _, err := Load("bad", []byte(code)); err == nil {
		t.Fatal("expected error for unknown family")
	}
}

func TestLoadRequiresExit(t *testing.T) {
	code := strings.Replace(emaCrossCode, "tp_pct = 0.04\n", "", 1)
	code = strings.Replace(code, "exit_bars = 24", "", 1)
	if _, err := Load("no-exit", []byte(code)); err == nil {
		t.Fatal("expected error when neither tp_pct nor exit_bars is set")
	}
}

func TestSubstitutePreservesFamilyAndRewritesParams(t *testing.T) {
	params := types.StrategyParameter{StopLossPct: 0.01, TakeProfitPct: 0.03, Leverage: 10, ExitBars: 48}
	out, err := Substitute([]byte(emaCrossCode), params)
	if err != nil {
		t.Fatalf("Substitute: %v", err)
	}

	inst, err := Load("promoted", out)
	if err != nil {
		t.Fatalf("reload after substitute: %v", err)
	}
	if inst.Family != FamilyEMACross || inst.FastPeriod != 3 || inst.SlowPeriod != 5 {
		t.Fatalf("substitution disturbed non-tunable fields: %+v", inst.Descriptor)
	}
	if inst.Params.Leverage != 10 || inst.Params.ExitBars != 48 {
		t.Fatalf("substitution did not apply new params: %+v", inst.Params)
	}
}

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

func TestEvalCrossSignalsOnUpwardCross(t *testing.T) {
	inst, err := Load("cross", []byte(emaCrossCode))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	prices := []float64{10, 10, 10, 10, 10, 10, 11}
	var history []types.OHLCV
	for i, p := range prices {
		history = append(history, bar(base.Add(time.Duration(i)*time.Hour), p, p+0.1, p-0.1, p))
	}

	direction, ok := inst.Evaluate("BTCUSD", history, inst.Params)
	if !ok {
		t.Fatal("expected a signal on the constructed uptrend")
	}
	if direction != types.DirectionLong {
		t.Fatalf("direction = %v, want long", direction)
	}
}
