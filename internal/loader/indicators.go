package loader

import (
	"math"

	"github.com/atlas-desktop/strategy-engine/pkg/types"
)

// Evaluate computes the instance's indicator family over history and
// returns the direction it signals for the bar that just closed. history
// is the full series up to and including the current bar; callers never
// see future bars, matching the engine's no-lookahead walk.
func (inst *Instance) Evaluate(symbol string, history []types.OHLCV, params types.StrategyParameter) (types.SignalDirection, bool) {
	switch inst.Family {
	case FamilyEMACross:
		return inst.evalCross(history, ema)
	case FamilySMACross:
		return inst.evalCross(history, sma)
	case FamilyRSIOversold:
		return inst.evalRSI(history, true)
	case FamilyRSIOverbought:
		return inst.evalRSI(history, false)
	case FamilyBreakout:
		return inst.evalBreakout(history)
	case FamilyBollinger:
		return inst.evalBollinger(history)
	default:
		return "", false
	}
}

func closes(bars []types.OHLCV) []float64 {
	out := make([]float64, len(bars))
	for i, b := range bars {
		out[i], _ = b.Close.Float64()
	}
	return out
}

// sma returns the simple moving average series, padded with NaN for
// indices before the first full window so callers can index it in lockstep
// with the source series.
func sma(values []float64, period int) []float64 {
	out := make([]float64, len(values))
	var sum float64
	for i, v := range values {
		sum += v
		if i >= period {
			sum -= values[i-period]
		}
		if i >= period-1 {
			out[i] = sum / float64(period)
		} else {
			out[i] = math.NaN()
		}
	}
	return out
}

// ema returns the exponential moving average series, seeded by the simple
// average of the first window.
func ema(values []float64, period int) []float64 {
	out := make([]float64, len(values))
	if len(values) == 0 || period <= 0 {
		return out
	}
	k := 2.0 / (float64(period) + 1.0)
	var seed float64
	for i, v := range values {
		if i < period-1 {
			out[i] = math.NaN()
			seed += v
			continue
		}
		if i == period-1 {
			seed += v
			out[i] = seed / float64(period)
			continue
		}
		out[i] = v*k + out[i-1]*(1-k)
	}
	return out
}

// evalCross signals long on an upward fast/slow cross and short on a
// downward one, requiring both the current and prior bar's averages.
func (inst *Instance) evalCross(history []types.OHLCV, avg func([]float64, int) []float64) (types.SignalDirection, bool) {
	if len(history) < inst.SlowPeriod+2 {
		return "", false
	}
	c := closes(history)
	fast := avg(c, inst.FastPeriod)
	slow := avg(c, inst.SlowPeriod)
	n := len(c)
	if math.IsNaN(fast[n-1]) || math.IsNaN(slow[n-1]) || math.IsNaN(fast[n-2]) || math.IsNaN(slow[n-2]) {
		return "", false
	}

	crossedUp := fast[n-2] <= slow[n-2] && fast[n-1] > slow[n-1]
	crossedDown := fast[n-2] >= slow[n-2] && fast[n-1] < slow[n-1]

	switch {
	case crossedUp && inst.Direction != types.DirectionShort:
		return types.DirectionLong, true
	case crossedDown && inst.Direction == types.DirectionShort:
		return types.DirectionShort, true
	default:
		return "", false
	}
}

// rsi computes Wilder's RSI series: a simple average seeds the first period,
// then the Wilder smoothing recursion runs over the full history each call —
// acceptable here since the engine's per-bar cost is already O(n) and
// history windows are bounded by the cache's retention policy.
func rsi(values []float64, period int) []float64 {
	out := make([]float64, len(values))
	if len(values) <= period {
		for i := range out {
			out[i] = math.NaN()
		}
		return out
	}
	var gainSum, lossSum float64
	for i := 1; i <= period; i++ {
		diff := values[i] - values[i-1]
		if diff > 0 {
			gainSum += diff
		} else {
			lossSum -= diff
		}
		out[i-1] = math.NaN()
	}
	avgGain := gainSum / float64(period)
	avgLoss := lossSum / float64(period)
	out[period] = rsiFromAvg(avgGain, avgLoss)

	for i := period + 1; i < len(values); i++ {
		diff := values[i] - values[i-1]
		gain, loss := 0.0, 0.0
		if diff > 0 {
			gain = diff
		} else {
			loss = -diff
		}
		avgGain = (avgGain*float64(period-1) + gain) / float64(period)
		avgLoss = (avgLoss*float64(period-1) + loss) / float64(period)
		out[i] = rsiFromAvg(avgGain, avgLoss)
	}
	return out
}

func rsiFromAvg(avgGain, avgLoss float64) float64 {
	if avgLoss == 0 {
		if avgGain == 0 {
			return 50
		}
		return 100
	}
	rs := avgGain / avgLoss
	return 100 - (100 / (1 + rs))
}

func (inst *Instance) evalRSI(history []types.OHLCV, oversold bool) (types.SignalDirection, bool) {
	period := inst.RSIPeriod
	if period <= 0 {
		period = 14
	}
	if len(history) < period+2 {
		return "", false
	}
	c := closes(history)
	r := rsi(c, period)
	n := len(r)
	if math.IsNaN(r[n-1]) {
		return "", false
	}

	threshold := inst.RSIThreshold
	if oversold {
		if threshold == 0 {
			threshold = 30
		}
		if r[n-1] <= threshold {
			return types.DirectionLong, true
		}
		return "", false
	}
	if threshold == 0 {
		threshold = 70
	}
	if r[n-1] >= threshold {
		return types.DirectionShort, true
	}
	return "", false
}

// evalBreakout signals long when the close exceeds the highest high of the
// lookback window preceding it (strictly, so the breakout bar itself isn't
// counted in its own reference range).
func (inst *Instance) evalBreakout(history []types.OHLCV) (types.SignalDirection, bool) {
	lookback := inst.FastPeriod
	if lookback <= 0 {
		lookback = 20
	}
	if len(history) < lookback+1 {
		return "", false
	}
	n := len(history)
	window := history[n-1-lookback : n-1]

	hi, lo := window[0].High, window[0].Low
	for _, b := range window[1:] {
		if b.High.GreaterThan(hi) {
			hi = b.High
		}
		if b.Low.LessThan(lo) {
			lo = b.Low
		}
	}
	last := history[n-1].Close

	switch {
	case last.GreaterThan(hi) && inst.Direction != types.DirectionShort:
		return types.DirectionLong, true
	case last.LessThan(lo) && inst.Direction == types.DirectionShort:
		return types.DirectionShort, true
	default:
		return "", false
	}
}

// evalBollinger signals a reversion trade when price closes outside a
// band-width multiple of standard deviation around its moving average.
func (inst *Instance) evalBollinger(history []types.OHLCV) (types.SignalDirection, bool) {
	period := inst.BandPeriod
	if period <= 0 {
		period = 20
	}
	width := inst.BandWidth
	if width <= 0 {
		width = 2.0
	}
	if len(history) < period+1 {
		return "", false
	}
	c := closes(history)
	window := c[len(c)-period:]

	var sum float64
	for _, v := range window {
		sum += v
	}
	mean := sum / float64(period)

	var variance float64
	for _, v := range window {
		d := v - mean
		variance += d * d
	}
	stddev := math.Sqrt(variance / float64(period))

	last := c[len(c)-1]
	upper := mean + width*stddev
	lower := mean - width*stddev

	switch {
	case last < lower && inst.Direction != types.DirectionShort:
		return types.DirectionLong, true
	case last > upper && inst.Direction == types.DirectionShort:
		return types.DirectionShort, true
	default:
		return "", false
	}
}

