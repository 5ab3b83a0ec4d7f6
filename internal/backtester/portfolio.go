// Package backtester runs deterministic, shared-capital strategy
// simulations over cached OHLCV history.
package backtester

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/atlas-desktop/strategy-engine/pkg/types"
)

// position is a single open leveraged position funded out of the shared
// capital pool. Margin (not full notional) is drawn from cash so leverage
// actually changes how much capital a trade consumes.
type position struct {
	Symbol       string
	Side         types.PositionSide
	Quantity     decimal.Decimal
	EntryPrice   decimal.Decimal
	Margin       decimal.Decimal
	StopLossPx   decimal.Decimal
	TakeProfitPx decimal.Decimal
	EntryTime    time.Time
	EntryIndex   int
}

// portfolio tracks the single cash pool shared across every symbol in a
// run, matching the spec's shared-capital model: opening a position on one
// symbol reduces the capital available to every other symbol.
type portfolio struct {
	cash       decimal.Decimal
	positions  map[string]*position
	markPrices map[string]decimal.Decimal
	peakEquity decimal.Decimal
}

func newPortfolio(initialCash decimal.Decimal) *portfolio {
	return &portfolio{
		cash:       initialCash,
		positions:  make(map[string]*position),
		markPrices: make(map[string]decimal.Decimal),
		peakEquity: initialCash,
	}
}

func (p *portfolio) markPrice(symbol string, price decimal.Decimal) {
	p.markPrices[symbol] = price
}

// equity is cash plus every open position's margin and unrealized PnL at
// its last mark price.
func (p *portfolio) equity() decimal.Decimal {
	eq := p.cash
	for symbol, pos := range p.positions {
		mark, ok := p.markPrices[symbol]
		if !ok {
			mark = pos.EntryPrice
		}
		eq = eq.Add(pos.Margin).Add(unrealizedPnL(pos, mark))
	}
	return eq
}

func unrealizedPnL(pos *position, mark decimal.Decimal) decimal.Decimal {
	diff := mark.Sub(pos.EntryPrice)
	if pos.Side == types.PositionSideShort {
		diff = diff.Neg()
	}
	return diff.Mul(pos.Quantity)
}

// open draws margin from cash for a new leveraged position, scaling the
// requested quantity down if the pool can't fund it in full.
func (p *portfolio) open(symbol string, side types.PositionSide, qty, entry decimal.Decimal, leverage int, slPx, tpPx decimal.Decimal, at time.Time, index int) *position {
	if leverage < 1 {
		leverage = 1
	}
	notional := qty.Mul(entry)
	margin := notional.Div(decimal.NewFromInt(int64(leverage)))

	if margin.GreaterThan(p.cash) && margin.IsPositive() {
		scale := p.cash.Div(margin)
		qty = qty.Mul(scale)
		margin = p.cash
	}
	if qty.LessThanOrEqual(decimal.Zero) {
		return nil
	}

	p.cash = p.cash.Sub(margin)
	pos := &position{
		Symbol:       symbol,
		Side:         side,
		Quantity:     qty,
		EntryPrice:   entry,
		Margin:       margin,
		StopLossPx:   slPx,
		TakeProfitPx: tpPx,
		EntryTime:    at,
		EntryIndex:   index,
	}
	p.positions[symbol] = pos
	return pos
}

// close realizes a position's PnL at exitPrice and returns it to the
// shared cash pool.
func (p *portfolio) close(symbol string, exitPrice decimal.Decimal) decimal.Decimal {
	pos, ok := p.positions[symbol]
	if !ok {
		return decimal.Zero
	}
	pnl := unrealizedPnL(pos, exitPrice)
	p.cash = p.cash.Add(pos.Margin).Add(pnl)
	delete(p.positions, symbol)
	return pnl
}

// recordEquity samples the running peak for drawdown tracking and returns
// the current equity, used by the engine to build its equity curve.
func (p *portfolio) recordEquity() decimal.Decimal {
	eq := p.equity()
	if eq.GreaterThan(p.peakEquity) {
		p.peakEquity = eq
	}
	return eq
}
