// Package risk implements the pre-trade leverage-safety derating and
// fixed-fractional position sizing every live order passes through before
// it reaches the venue adapter.
package risk

import (
	"fmt"
	"math"

	"github.com/shopspring/decimal"

	"github.com/atlas-desktop/strategy-engine/pkg/types"
)

// Config holds the tunables from the risk section of the configuration
// surface.
type Config struct {
	RiskPerTradePct         float64
	LiquidationBufferPct    float64 // "b" in the spec formula, default 0.10
	MaxOpenPositionsPerSub  int
	MaxPortfolioDrawdownPct float64
	MaxConsecutiveLosses    int
}

// MaintenanceMarginRate returns 1/(2*maxLeverage), the maintenance margin
// fraction of notional for an asset with the given venue-supplied hard cap.
func MaintenanceMarginRate(maxLeverage int) float64 {
	if maxLeverage <= 0 {
		return 1
	}
	return 1 / (2 * float64(maxLeverage))
}

// LiquidationDistance returns the fraction-of-price distance to
// liquidation at the given leverage: 1/leverage - maintenanceMarginRate.
func LiquidationDistance(leverage int, maintenanceMarginRate float64) float64 {
	if leverage <= 0 {
		return 0
	}
	return 1/float64(leverage) - maintenanceMarginRate
}

// RequiredLiquidationDistance returns the liquidation distance a stop-loss
// of slPct needs, given a safety buffer b (e.g. 0.10 means the SL must sit
// at least 10% short of the liquidation price).
func RequiredLiquidationDistance(slPct, bufferPct float64) float64 {
	if bufferPct >= 1 {
		bufferPct = 0.99
	}
	return slPct / (1 - bufferPct)
}

// SafeLeverage derives the highest leverage that keeps the liquidation
// price at least bufferPct beyond a stop-loss of slPct, clamped to
// [1, maxLeverage].
func SafeLeverage(slPct float64, maxLeverage int, bufferPct float64) int {
	maintenance := MaintenanceMarginRate(maxLeverage)
	required := RequiredLiquidationDistance(slPct, bufferPct)
	denom := required + maintenance
	if denom <= 0 {
		return maxLeverage
	}
	safe := int(math.Floor(1 / denom))
	if safe < 1 {
		safe = 1
	}
	if safe > maxLeverage {
		safe = maxLeverage
	}
	return safe
}

// IsLeverageSafe reports whether leverage is at or below SafeLeverage for
// the given sl/max/buffer, matching the testable round-trip property that
// validating twice returns the same answer.
func IsLeverageSafe(slPct float64, leverage, maxLeverage int, bufferPct float64) bool {
	return leverage <= SafeLeverage(slPct, maxLeverage, bufferPct)
}

// ValidateAndAdjustLeverage derates desired down to the safe leverage when
// it exceeds it, otherwise returns desired unchanged. The return is always
// <= desired and <= maxLeverage.
func ValidateAndAdjustLeverage(slPct float64, desired, maxLeverage int, bufferPct float64) (adjusted int, wasReduced bool) {
	safe := SafeLeverage(slPct, maxLeverage, bufferPct)
	if desired > safe {
		return safe, true
	}
	if desired > maxLeverage {
		return maxLeverage, true
	}
	return desired, false
}

// PositionSize computes the fixed-fractional size: risk_dollars / |entry -
// sl|, where risk_dollars = balance * riskPerTradePct. There is no
// maximum-notional cap; fixed-fractional sizing already bounds the loss.
func PositionSize(balance, entry, stopLoss decimal.Decimal, riskPerTradePct float64) (decimal.Decimal, error) {
	diff := entry.Sub(stopLoss).Abs()
	if diff.IsZero() {
		return decimal.Zero, fmt.Errorf("risk: entry and stop-loss are equal")
	}
	riskDollars := balance.Mul(decimal.NewFromFloat(riskPerTradePct))
	return riskDollars.Div(diff), nil
}

// ValidateSignal checks the ordering invariant for a trading signal:
// long requires SL < entry < TP (if TP is set); short requires TP < entry < SL.
func ValidateSignal(direction types.SignalDirection, entry, stopLoss, takeProfit decimal.Decimal, hasTP bool) error {
	switch direction {
	case types.DirectionLong:
		if !stopLoss.LessThan(entry) {
			return fmt.Errorf("risk: long signal requires sl < entry")
		}
		if hasTP && !entry.LessThan(takeProfit) {
			return fmt.Errorf("risk: long signal requires entry < tp")
		}
	case types.DirectionShort:
		if !entry.LessThan(stopLoss) {
			return fmt.Errorf("risk: short signal requires entry < sl")
		}
		if hasTP && !takeProfit.LessThan(entry) {
			return fmt.Errorf("risk: short signal requires tp < entry")
		}
	case types.DirectionClose:
		return nil
	default:
		return fmt.Errorf("risk: unknown signal direction %q", direction)
	}
	return nil
}

// EmergencyState tracks the advisory global-safety counters the executor
// consumes before placing new orders. It does not itself block anything;
// callers check Breached() and decide policy.
type EmergencyState struct {
	cfg               Config
	consecutiveLosses int
	peakEquity        decimal.Decimal
}

func NewEmergencyState(cfg Config, startingEquity decimal.Decimal) *EmergencyState {
	return &EmergencyState{cfg: cfg, peakEquity: startingEquity}
}

// RecordTrade updates the rolling counters after a trade closes.
func (s *EmergencyState) RecordTrade(pnl decimal.Decimal, equityAfter decimal.Decimal) {
	if pnl.IsNegative() {
		s.consecutiveLosses++
	} else {
		s.consecutiveLosses = 0
	}
	if equityAfter.GreaterThan(s.peakEquity) {
		s.peakEquity = equityAfter
	}
}

// Breached reports whether an emergency-stop condition is currently active
// given the latest equity reading, and why.
func (s *EmergencyState) Breached(currentEquity decimal.Decimal) (bool, string) {
	if s.cfg.MaxConsecutiveLosses > 0 && s.consecutiveLosses >= s.cfg.MaxConsecutiveLosses {
		return true, fmt.Sprintf("consecutive losses %d >= limit %d", s.consecutiveLosses, s.cfg.MaxConsecutiveLosses)
	}
	if s.peakEquity.IsPositive() {
		drawdown, _ := s.peakEquity.Sub(currentEquity).Div(s.peakEquity).Float64()
		if s.cfg.MaxPortfolioDrawdownPct > 0 && drawdown >= s.cfg.MaxPortfolioDrawdownPct {
			return true, fmt.Sprintf("portfolio drawdown %.2f%% >= limit %.2f%%", drawdown*100, s.cfg.MaxPortfolioDrawdownPct*100)
		}
	}
	return false, ""
}
