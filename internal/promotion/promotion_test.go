package promotion

import (
	"testing"

	"github.com/atlas-desktop/strategy-engine/internal/parametric"
	"github.com/atlas-desktop/strategy-engine/pkg/types"
)

const baseCode = `
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

func TestPromoteRewritesParentAndCreatesChildren(t *testing.T) {
	parent := &types.Strategy{
		ID:   "parent-1",
		Name: "base",
		Kind: types.KindTrend,
		Code: []byte(baseCode),
	}

	survivors := []parametric.TupleResult{
		{Tuple: parametric.Tuple{SLPct: 0.015, TPPct: 0.03, Leverage: 5, ExitBars: 12}, TotalTrades: 40},
		{Tuple: parametric.Tuple{SLPct: 0.01, TPPct: 0.02, Leverage: 4, ExitBars: 8}, TotalTrades: 30},
	}

	recheck := func(params types.StrategyParameter) (bool, string) { return true, "" }

	rewritten, children, err := Promote(parent, survivors, recheck)
	if err != nil {
		t.Fatalf("Promote: %v", err)
	}
	if len(rewritten) == 0 {
		t.Fatal("expected rewritten parent code")
	}
	if len(children) != 1 {
		t.Fatalf("expected exactly 1 child from the remaining survivor, got %d", len(children))
	}
	child := children[0]
	if child.GenerationMode != types.GenerationTemplate {
		t.Fatalf("generation mode = %v, want template", child.GenerationMode)
	}
	if child.TemplateID == nil || *child.TemplateID != parent.ID {
		t.Fatal("child should point its template_id at the parent")
	}
	if child.Parameters.Leverage != 4 {
		t.Fatalf("child leverage = %d, want 4", child.Parameters.Leverage)
	}
}

func TestPromoteDropsSurvivorsThatFailRecheck(t *testing.T) {
	parent := &types.Strategy{ID: "parent-2", Kind: types.KindMomentum, Code: []byte(baseCode)}
	survivors := []parametric.TupleResult{
		{Tuple: parametric.Tuple{SLPct: 0.02, TPPct: 0.04, Leverage: 3, ExitBars: 24}},
		{Tuple: parametric.Tuple{SLPct: 0.05, TPPct: 0.08, Leverage: 2, ExitBars: 10}},
	}
	recheck := func(params types.StrategyParameter) (bool, string) { return false, "failed holdout" }

	_, children, err := Promote(parent, survivors, recheck)
	if err != nil {
		t.Fatalf("Promote: %v", err)
	}
	if len(children) != 0 {
		t.Fatalf("expected no children when recheck always fails, got %d", len(children))
	}
}
