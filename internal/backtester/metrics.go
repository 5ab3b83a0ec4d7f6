package backtester

import (
	"github.com/shopspring/decimal"

	"github.com/atlas-desktop/strategy-engine/pkg/utils"
)

// winRate, sharpeRatio and maxDrawdown delegate to the shared metric
// helpers so the engine, the parametric kernel and the scorer all compute
// these quantities identically.
func winRate(pnls []float64) float64 {
	return utils.CalculateWinRate(pnls)
}

func sharpeRatio(tradeReturns []float64, tradesPerDay float64) float64 {
	return utils.CalculateSharpe(tradeReturns, tradesPerDay)
}

func maxDrawdown(equity []decimal.Decimal) float64 {
	return utils.CalculateMaxDrawdown(equity)
}
