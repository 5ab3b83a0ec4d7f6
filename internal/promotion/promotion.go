// Package promotion implements the Parametric-Multiplier Promotion: after
// the parametric kernel returns survivors for a strategy's optimal
// timeframe, the best one is written back into the parent's code and the
// rest become new independent GENERATED strategies once they clear a
// holdout re-check under their own parameters.
package promotion

import (
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/atlas-desktop/strategy-engine/internal/loader"
	"github.com/atlas-desktop/strategy-engine/internal/parametric"
	"github.com/atlas-desktop/strategy-engine/pkg/types"
)

// HoldoutRecheck re-validates a candidate tuple on the holdout window and
// reports whether it still clears the gate. Implemented by the orchestrator
// as a closure over its backtest engine; kept as a function value here so
// this package does not depend on the orchestrator.
type HoldoutRecheck func(params types.StrategyParameter) (passed bool, reason string)

// Promote rewrites the parent's code with the best survivor's parameters
// and, for each additional survivor, re-checks holdout and returns the set
// of new GENERATED children to insert. A survivor whose parameters fail to
// re-parse after substitution, or that fails its own holdout re-check, is
// dropped without affecting the parent or any other survivor.
func Promote(parent *types.Strategy, survivors []parametric.TupleResult, recheck HoldoutRecheck) (rewrittenCode []byte, children []types.Strategy, err error) {
	if len(survivors) == 0 {
		return nil, nil, fmt.Errorf("promotion: no survivors to promote")
	}

	best := survivors[0]
	bestParams := types.StrategyParameter{
		StopLossPct:   best.SLPct,
		TakeProfitPct: best.TPPct,
		Leverage:      best.Leverage,
		ExitBars:      best.ExitBars,
	}
	rewrittenCode, err = loader.Substitute(parent.Code, bestParams)
	if err != nil {
		return nil, nil, fmt.Errorf("promotion: rewriting parent code: %w", err)
	}

	for _, survivor := range survivors[1:] {
		params := types.StrategyParameter{
			StopLossPct:   survivor.SLPct,
			TakeProfitPct: survivor.TPPct,
			Leverage:      survivor.Leverage,
			ExitBars:      survivor.ExitBars,
		}

		childCode, subErr := loader.Substitute(parent.Code, params)
		if subErr != nil {
			continue
		}
		if recheck != nil {
			if passed, _ := recheck(params); !passed {
				continue
			}
		}

		children = append(children, types.Strategy{
			ID:             uuid.NewString(),
			Name:           childName(parent),
			Kind:           parent.Kind,
			Timeframe:      parent.Timeframe,
			Code:           childCode,
			PatternCoins:   parent.PatternCoins,
			BacktestPairs:  parent.BacktestPairs,
			Parameters:     params,
			Status:         types.StatusGenerated,
			GenerationMode: types.GenerationTemplate,
			TemplateID:     &parent.ID,
		})
	}

	return rewrittenCode, children, nil
}

func childName(parent *types.Strategy) string {
	family := strings.ToLower(string(parent.Kind))
	return fmt.Sprintf("%s_%s", family, uuid.NewString()[:8])
}
