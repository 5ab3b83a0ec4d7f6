package parametric

import "github.com/atlas-desktop/strategy-engine/pkg/types"

// Grid is one timeframe's absolute parameter grid: fixed lists of
// candidate stop-loss/take-profit percentages and time-exits, combined
// with the shared leverage list at Tuples() time.
type Grid struct {
	SLPcts   []float64
	TPPcts   []float64
	ExitBars []int
}

// Leverages is the shared leverage candidate list across every timeframe.
var Leverages = []int{2, 3, 5, 8, 10}

// AbsoluteGrids are the fixed per-timeframe parameter grids used in
// "absolute" parameter-space construction mode, carried over from the
// original per-timeframe grids (faster timeframes get tighter stops and
// shorter time-exits; slower ones get wider stops and longer holds).
var AbsoluteGrids = map[types.Timeframe]Grid{
	types.Timeframe5m: {
		SLPcts:   []float64{0.003, 0.005, 0.008, 0.012},
		TPPcts:   []float64{0, 0.006, 0.010, 0.016, 0.024},
		ExitBars: []int{0, 12, 24, 48},
	},
	types.Timeframe15m: {
		SLPcts:   []float64{0.005, 0.008, 0.012, 0.018},
		TPPcts:   []float64{0, 0.010, 0.016, 0.024, 0.036},
		ExitBars: []int{0, 16, 32, 64},
	},
	types.Timeframe30m: {
		SLPcts:   []float64{0.008, 0.012, 0.018, 0.025},
		TPPcts:   []float64{0, 0.016, 0.024, 0.036, 0.050},
		ExitBars: []int{0, 16, 32, 48},
	},
	types.Timeframe1h: {
		SLPcts:   []float64{0.010, 0.015, 0.022, 0.030},
		TPPcts:   []float64{0, 0.020, 0.030, 0.045, 0.060},
		ExitBars: []int{0, 12, 24, 48},
	},
	types.Timeframe4h: {
		SLPcts:   []float64{0.015, 0.022, 0.032, 0.045},
		TPPcts:   []float64{0, 0.030, 0.045, 0.065, 0.090},
		ExitBars: []int{0, 6, 12, 24},
	},
	types.Timeframe1d: {
		SLPcts:   []float64{0.025, 0.035, 0.050, 0.070},
		TPPcts:   []float64{0, 0.050, 0.075, 0.100, 0.140},
		ExitBars: []int{0, 3, 7, 14},
	},
}

// TuplesForTimeframe builds the absolute-mode tuple list for timeframe,
// excluding the invalid tp=0 AND exit=0 combination.
func TuplesForTimeframe(tf types.Timeframe) []Tuple {
	grid, ok := AbsoluteGrids[tf]
	if !ok {
		return nil
	}
	return Tuples(grid.SLPcts, grid.TPPcts, Leverages, grid.ExitBars)
}

// PatternCenteredTuples builds the "pattern-centered" parameter space:
// a narrow band explored around a validated base tuple rather than the
// full absolute grid, per §4.4's two construction modes.
func PatternCenteredTuples(base Tuple, maxLeverage int) []Tuple {
	slCandidates := centeredFloats(base.SLPct, 0.25, 3)
	tpCandidates := []float64{0}
	if base.TPPct > 0 {
		tpCandidates = centeredFloats(base.TPPct, 0.25, 3)
	}
	exitCandidates := []int{0}
	if base.ExitBars > 0 {
		exitCandidates = centeredInts(base.ExitBars, 0.25, 3)
	}
	leverages := Leverages
	if maxLeverage > 0 {
		leverages = capLeverages(Leverages, maxLeverage)
	}
	return Tuples(slCandidates, tpCandidates, leverages, exitCandidates)
}

func centeredFloats(base, spread float64, steps int) []float64 {
	if base <= 0 {
		return []float64{0}
	}
	out := make([]float64, 0, 2*steps+1)
	for i := -steps; i <= steps; i++ {
		factor := 1 + spread*float64(i)/float64(steps)
		if factor <= 0 {
			continue
		}
		out = append(out, base*factor)
	}
	return out
}

func centeredInts(base int, spread float64, steps int) []int {
	if base <= 0 {
		return []int{0}
	}
	out := make([]int, 0, 2*steps+1)
	for i := -steps; i <= steps; i++ {
		factor := 1 + spread*float64(i)/float64(steps)
		v := int(float64(base) * factor)
		if v <= 0 {
			continue
		}
		out = append(out, v)
	}
	return out
}

func capLeverages(leverages []int, max int) []int {
	var out []int
	for _, l := range leverages {
		if l <= max {
			out = append(out, l)
		}
	}
	if len(out) == 0 {
		out = []int{1}
	}
	return out
}
