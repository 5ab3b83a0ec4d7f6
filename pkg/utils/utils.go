// Package utils provides shared math and formatting helpers for the strategy engine.
package utils

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// NormalizeSymbol strips venue-specific decoration (slashes, colons, quote
// suffixes) down to the bare asset code, e.g. "BTC/USDT:USDT" -> "BTC".
func NormalizeSymbol(symbol string) string {
	s := strings.ToUpper(strings.TrimSpace(symbol))
	if idx := strings.IndexAny(s, "/:"); idx >= 0 {
		s = s[:idx]
	}
	quotes := []string{"USDT", "USDC", "USD", "BUSD"}
	for _, q := range quotes {
		if strings.HasSuffix(s, q) && len(s) > len(q) {
			s = strings.TrimSuffix(s, q)
			break
		}
	}
	return s
}

// RoundToTickSize rounds a price down to the nearest tick size.
func RoundToTickSize(price, tickSize decimal.Decimal) decimal.Decimal {
	if tickSize.IsZero() {
		return price
	}
	return price.Div(tickSize).Floor().Mul(tickSize)
}

// RoundToStepSize rounds a quantity down to the nearest step size.
func RoundToStepSize(qty, stepSize decimal.Decimal) decimal.Decimal {
	if stepSize.IsZero() {
		return qty
	}
	return qty.Div(stepSize).Floor().Mul(stepSize)
}

// CalculateMean calculates the arithmetic mean of a float series.
func CalculateMean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

// CalculateStdDev calculates the sample standard deviation of a float series.
func CalculateStdDev(values []float64) float64 {
	if len(values) < 2 {
		return 0
	}
	mean := CalculateMean(values)
	sumSquares := 0.0
	for _, v := range values {
		diff := v - mean
		sumSquares += diff * diff
	}
	variance := sumSquares / float64(len(values)-1)
	return math.Sqrt(variance)
}

// CalculateSharpe annualizes a per-trade return series by sqrt(365 *
// tradesPerDay), returning 0 when the series has no variance or tradesPerDay
// is undefined (zero trading days observed).
func CalculateSharpe(tradeReturns []float64, tradesPerDay float64) float64 {
	if len(tradeReturns) < 2 || tradesPerDay <= 0 {
		return 0
	}
	mean := CalculateMean(tradeReturns)
	stdDev := CalculateStdDev(tradeReturns)
	if stdDev == 0 {
		return 0
	}
	return (mean / stdDev) * math.Sqrt(365*tradesPerDay)
}

// CalculateMaxDrawdown returns the maximum drawdown as a positive fraction of
// the running-max equity along the curve.
func CalculateMaxDrawdown(equity []decimal.Decimal) float64 {
	if len(equity) < 2 {
		return 0
	}
	maxDD := 0.0
	peak := equity[0]
	for _, v := range equity {
		if v.GreaterThan(peak) {
			peak = v
		}
		if peak.IsZero() {
			continue
		}
		dd, _ := peak.Sub(v).Div(peak).Float64()
		if dd > maxDD {
			maxDD = dd
		}
	}
	return maxDD
}

// CalculateWinRate returns the fraction of strictly positive PnL values.
func CalculateWinRate(pnls []float64) float64 {
	if len(pnls) == 0 {
		return 0
	}
	wins := 0
	for _, p := range pnls {
		if p > 0 {
			wins++
		}
	}
	return float64(wins) / float64(len(pnls))
}

// MinDecimal returns the minimum of two decimals.
func MinDecimal(a, b decimal.Decimal) decimal.Decimal {
	if a.LessThan(b) {
		return a
	}
	return b
}

// MaxDecimal returns the maximum of two decimals.
func MaxDecimal(a, b decimal.Decimal) decimal.Decimal {
	if a.GreaterThan(b) {
		return a
	}
	return b
}

// ClampFloat clamps a value between min and max.
func ClampFloat(value, min, max float64) float64 {
	if value < min {
		return min
	}
	if value > max {
		return max
	}
	return value
}

// TimeRange represents an inclusive [Start, End] time window.
type TimeRange struct {
	Start time.Time
	End   time.Time
}

// Duration returns the duration of the time range.
func (tr TimeRange) Duration() time.Duration {
	return tr.End.Sub(tr.Start)
}

// Contains reports whether t falls within the range, inclusive of both ends.
func (tr TimeRange) Contains(t time.Time) bool {
	return (t.Equal(tr.Start) || t.After(tr.Start)) && (t.Equal(tr.End) || t.Before(tr.End))
}

// FormatDuration formats a duration in human-readable form for logs.
func FormatDuration(d time.Duration) string {
	days := int(d.Hours() / 24)
	hours := int(d.Hours()) % 24
	minutes := int(d.Minutes()) % 60

	if days > 0 {
		return fmt.Sprintf("%dd %dh %dm", days, hours, minutes)
	}
	if hours > 0 {
		return fmt.Sprintf("%dh %dm", hours, minutes)
	}
	return fmt.Sprintf("%dm", minutes)
}
