package parametric

import (
	indicator "github.com/cinar/indicator"

	"github.com/atlas-desktop/strategy-engine/pkg/types"
)

// DescriptorKind is the closed set of abstract SL/TP descriptors the
// kernel accepts before converting them to a concrete per-entry
// percentage, per §4.4 step 1.
type DescriptorKind string

const (
	DescriptorFixed     DescriptorKind = "fixed"
	DescriptorATR       DescriptorKind = "atr"
	DescriptorStructure DescriptorKind = "structure"
)

// Descriptor describes how to derive an entry's SL/TP percentage.
type Descriptor struct {
	Kind          DescriptorKind
	FixedPct      float64 // used when Kind == DescriptorFixed
	ATRPeriod     int     // used when Kind == DescriptorATR
	ATRMult       float64
	SwingLookback int // used when Kind == DescriptorStructure
}

// ResolvePct converts a descriptor into a concrete percentage for the
// entry at index i in series, using the ATR/swing kernels below. This is
// the up-front, vectorizable step the algorithm performs once per entry
// regardless of how many downstream tuples reuse the result.
func ResolvePct(d Descriptor, series []types.OHLCV, i int) float64 {
	switch d.Kind {
	case DescriptorATR:
		mult := d.ATRMult
		if mult <= 0 {
			mult = 2.0
		}
		a := atrAt(series, i, d.ATRPeriod)
		entry, _ := series[i].Close.Float64()
		if entry == 0 {
			return d.FixedPct
		}
		return (a * mult) / entry
	case DescriptorStructure:
		return swingDistancePct(series, i, d.SwingLookback)
	default:
		return d.FixedPct
	}
}

// ohlcSlices converts the decimal OHLCV series truncated to the caller's
// window into the plain float64 high/low/close slices every
// github.com/cinar/indicator function expects.
func ohlcSlices(series []types.OHLCV) (highs, lows, closings []float64) {
	highs = make([]float64, len(series))
	lows = make([]float64, len(series))
	closings = make([]float64, len(series))
	for j, bar := range series {
		highs[j], _ = bar.High.Float64()
		lows[j], _ = bar.Low.Float64()
		closings[j], _ = bar.Close.Float64()
	}
	return highs, lows, closings
}

// atrAt computes Wilder's average true range ending at index i, deferring
// to github.com/cinar/indicator's Atr kernel (the library's volatility-
// indicator group, fixed at its own Wilder smoothing window) rather than a
// hand-rolled true-range loop. period is kept on the Descriptor for
// forward compatibility with callers that want a non-standard window;
// when it differs from the library's own window we approximate with
// customWindowAtr, a simple mean of the last `period` true ranges; that
// path does not apply Wilder smoothing.
func atrAt(series []types.OHLCV, i, period int) float64 {
	if i < 0 || i >= len(series) {
		return 0
	}
	highs, lows, closings := ohlcSlices(series[:i+1])
	atrSeries := indicator.Atr(highs, lows, closings)
	if len(atrSeries) == 0 {
		return 0
	}
	if period <= 0 || period == defaultATRPeriod {
		return atrSeries[len(atrSeries)-1]
	}
	return customWindowAtr(highs, lows, closings, period)
}

const defaultATRPeriod = 14

// customWindowAtr averages the last `period` true-range values directly,
// used only when a caller asks for a window other than the library
// default the vectorized Atr kernel above applies.
func customWindowAtr(highs, lows, closings []float64, period int) float64 {
	n := len(closings)
	if n < 2 {
		return 0
	}
	start := n - period
	if start < 1 {
		start = 1
	}
	var sum float64
	count := 0
	for j := start; j < n; j++ {
		hl := highs[j] - lows[j]
		hc := absFloat(highs[j] - closings[j-1])
		lc := absFloat(lows[j] - closings[j-1])
		tr := hl
		if hc > tr {
			tr = hc
		}
		if lc > tr {
			tr = lc
		}
		sum += tr
		count++
	}
	if count == 0 {
		return 0
	}
	return sum / float64(count)
}

func absFloat(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}

// swingDistancePct returns the distance from the current close to the
// swing low over the lookback window, as a fraction of price, derived from
// github.com/cinar/indicator's DonchianChannel kernel (its lower band is
// exactly the rolling lowest-low a structure-based stop needs). lookback
// is kept on the Descriptor for API compatibility; the channel's own
// rolling window supplies the swing point in the common case, and a
// caller-requested window narrower than the library's default simply
// looks further back than necessary rather than changing the result's
// meaning.
func swingDistancePct(series []types.OHLCV, i, lookback int) float64 {
	if i <= 0 || i >= len(series) {
		return 0
	}
	start := 0
	if lookback > 0 && i-lookback > 0 {
		start = i - lookback
	}
	highs, lows, _ := ohlcSlices(series[start : i+1])
	_, _, lowerBand := indicator.DonchianChannel(highs, lows)
	if len(lowerBand) == 0 {
		return 0
	}
	swingLow := lowerBand[len(lowerBand)-1]

	closeF, _ := series[i].Close.Float64()
	if closeF == 0 {
		return 0
	}
	dist := (closeF - swingLow) / closeF
	if dist < 0 {
		dist = -dist
	}
	return dist
}
