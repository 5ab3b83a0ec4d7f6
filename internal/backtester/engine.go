package backtester

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/atlas-desktop/strategy-engine/pkg/types"
)

// StrategyCapability is the narrow surface the engine needs from loaded
// strategy code (internal/loader satisfies this without the backtester
// importing the loader package, avoiding a cycle). Evaluate is called in
// (timestamp, symbol) order, and only for a symbol with no open position,
// at least MinBars bars of history and a free position slot; it returns the
// signal the strategy wants to act on for the bar that just closed.
type StrategyCapability interface {
	Evaluate(symbol string, history []types.OHLCV, params types.StrategyParameter) (types.SignalDirection, bool)
}

// Config configures one engine run. CommissionRate and SlippagePct are
// fractions applied to the fill price on both entry and exit.
type Config struct {
	InitialCapital  decimal.Decimal
	CommissionRate  decimal.Decimal
	SlippagePct     decimal.Decimal
	RiskPerTradePct float64
	MinBars         int

	// MaxPositions bounds concurrent open positions across the whole
	// shared-capital portfolio. Zero means unbounded. When more signals
	// arrive in a bar than free slots, the deterministic timeline order
	// (timestamp asc, symbol asc) decides who gets the remaining slots.
	MaxPositions int
}

// Engine runs a single strategy over one or more symbols' cached OHLCV
// history, sharing one capital pool across all of them.
type Engine struct {
	logger *zap.Logger
	cfg    Config
}

func NewEngine(logger *zap.Logger, cfg Config) *Engine {
	return &Engine{logger: logger, cfg: cfg}
}

// barEvent is one symbol's bar placed on the merged, deterministically
// ordered timeline the engine walks.
type barEvent struct {
	symbol string
	index  int
	bar    types.OHLCV
}

// Run simulates strategy against data (keyed by symbol) and returns a
// BacktestResult for periodType plus the realized trade log. Symbols with
// fewer than cfg.MinBars candles are skipped entirely rather than
// partially evaluated.
func (e *Engine) Run(ctx context.Context, strategy StrategyCapability, params types.StrategyParameter, data map[string][]types.OHLCV, timeframe types.Timeframe, periodType types.PeriodType) (*types.BacktestResult, []types.Trade, error) {
	if strategy == nil {
		return nil, nil, fmt.Errorf("backtester: nil strategy")
	}

	var symbols []string
	for symbol, bars := range data {
		if len(bars) < e.cfg.MinBars {
			e.logger.Debug("skipping symbol: insufficient bars",
				zap.String("symbol", symbol), zap.Int("bars", len(bars)), zap.Int("minBars", e.cfg.MinBars))
			continue
		}
		symbols = append(symbols, symbol)
	}
	sort.Strings(symbols)

	timeline := mergeTimeline(symbols, data)
	if len(timeline) == 0 {
		return &types.BacktestResult{
			PeriodType:      periodType,
			TimeframeTested: timeframe,
			FinalEquity:     e.cfg.InitialCapital,
			CreatedAt:       time.Now(),
		}, nil, nil
	}

	pf := newPortfolio(e.cfg.InitialCapital)
	var trades []types.Trade
	var equityCurve []decimal.Decimal
	perSymbolPnL := make(map[string][]float64)

	for _, ev := range timeline {
		select {
		case <-ctx.Done():
			return nil, nil, ctx.Err()
		default:
		}

		pf.markPrice(ev.symbol, ev.bar.Close)

		if pos, open := pf.positions[ev.symbol]; open {
			e.manageOpenPosition(pf, pos, ev, params, &trades, perSymbolPnL)
		} else if ev.index+1 >= e.cfg.MinBars && (e.cfg.MaxPositions <= 0 || len(pf.positions) < e.cfg.MaxPositions) {
			e.maybeEnter(strategy, pf, ev, data[ev.symbol][:ev.index+1], params)
		}

		equityCurve = append(equityCurve, pf.recordEquity())
	}

	// Close anything still open at the end of the window at its last mark.
	for symbol, pos := range pf.positions {
		mark := pf.markPrices[symbol]
		pnl := pf.close(symbol, mark)
		trades = append(trades, closedTrade(pos, mark, pf.cash, pnl, timeline[len(timeline)-1].bar.Timestamp))
		perSymbolPnL[symbol] = append(perSymbolPnL[symbol], pnl.InexactFloat64())
	}

	result := e.summarize(trades, equityCurve, symbols, timeframe, periodType, perSymbolPnL, timeline)
	return result, trades, nil
}

// mergeTimeline flattens every symbol's bar series into one timeline
// ordered by (timestamp asc, symbol asc), the deterministic tie-break the
// spec requires when two symbols close a bar at the same instant.
func mergeTimeline(symbols []string, data map[string][]types.OHLCV) []barEvent {
	var timeline []barEvent
	for _, symbol := range symbols {
		for i, bar := range data[symbol] {
			timeline = append(timeline, barEvent{symbol: symbol, index: i, bar: bar})
		}
	}
	sort.SliceStable(timeline, func(i, j int) bool {
		if !timeline[i].bar.Timestamp.Equal(timeline[j].bar.Timestamp) {
			return timeline[i].bar.Timestamp.Before(timeline[j].bar.Timestamp)
		}
		return timeline[i].symbol < timeline[j].symbol
	})
	return timeline
}

func (e *Engine) maybeEnter(strategy StrategyCapability, pf *portfolio, ev barEvent, history []types.OHLCV, params types.StrategyParameter) {
	direction, ok := strategy.Evaluate(ev.symbol, history, params)
	if !ok || direction == types.DirectionClose {
		return
	}

	side := types.PositionSideLong
	if direction == types.DirectionShort {
		side = types.PositionSideShort
	}

	entry := applySlippage(ev.bar.Close, e.cfg.SlippagePct, side, true)
	slDist := entry.Mul(decimal.NewFromFloat(params.StopLossPct))
	if slDist.LessThanOrEqual(decimal.Zero) {
		return
	}

	riskAmount := pf.equity().Mul(decimal.NewFromFloat(e.cfg.RiskPerTradePct))
	qty := riskAmount.Div(slDist)
	commission := qty.Mul(entry).Mul(e.cfg.CommissionRate)
	if commission.GreaterThan(pf.cash) {
		return
	}

	var slPx, tpPx decimal.Decimal
	if side == types.PositionSideLong {
		slPx = entry.Sub(slDist)
		tpPx = entry.Add(entry.Mul(decimal.NewFromFloat(params.TakeProfitPct)))
	} else {
		slPx = entry.Add(slDist)
		tpPx = entry.Sub(entry.Mul(decimal.NewFromFloat(params.TakeProfitPct)))
	}

	pf.cash = pf.cash.Sub(commission)
	pf.open(ev.symbol, side, qty, entry, params.Leverage, slPx, tpPx, ev.bar.Timestamp, ev.index)
}

func (e *Engine) manageOpenPosition(pf *portfolio, pos *position, ev barEvent, params types.StrategyParameter, trades *[]types.Trade, perSymbolPnL map[string][]float64) {
	exitPrice, exited := barExitPrice(pos, ev.bar)
	barsHeld := ev.index - pos.EntryIndex
	if !exited && params.ExitBars > 0 && barsHeld >= params.ExitBars {
		exitPrice, exited = ev.bar.Close, true
	}
	if !exited {
		return
	}

	fillPrice := applySlippage(exitPrice, e.cfg.SlippagePct, pos.Side, false)
	commission := pos.Quantity.Mul(fillPrice).Mul(e.cfg.CommissionRate)
	pnl := pf.close(ev.symbol, fillPrice).Sub(commission)
	pf.cash = pf.cash.Sub(commission)

	*trades = append(*trades, closedTrade(pos, fillPrice, pf.cash, pnl, ev.bar.Timestamp))
	perSymbolPnL[ev.symbol] = append(perSymbolPnL[ev.symbol], pnl.InexactFloat64())
}

// barExitPrice checks whether this bar's range touched the stop-loss or
// take-profit level, favoring the stop (the conservative assumption when a
// single bar's high/low order relative to the open is unknown).
func barExitPrice(pos *position, bar types.OHLCV) (decimal.Decimal, bool) {
	if pos.Side == types.PositionSideLong {
		if bar.Low.LessThanOrEqual(pos.StopLossPx) {
			return pos.StopLossPx, true
		}
		if bar.High.GreaterThanOrEqual(pos.TakeProfitPx) {
			return pos.TakeProfitPx, true
		}
	} else {
		if bar.High.GreaterThanOrEqual(pos.StopLossPx) {
			return pos.StopLossPx, true
		}
		if bar.Low.LessThanOrEqual(pos.TakeProfitPx) {
			return pos.TakeProfitPx, true
		}
	}
	return decimal.Zero, false
}

func applySlippage(price, slippagePct decimal.Decimal, side types.PositionSide, entering bool) decimal.Decimal {
	adverse := (side == types.PositionSideLong) == entering
	factor := decimal.NewFromInt(1).Add(slippagePct)
	if !adverse {
		factor = decimal.NewFromInt(1).Sub(slippagePct)
	}
	return price.Mul(factor)
}

func closedTrade(pos *position, exitPrice, _ decimal.Decimal, pnl decimal.Decimal, exitTime time.Time) types.Trade {
	side := types.OrderSideBuy
	if pos.Side == types.PositionSideShort {
		side = types.OrderSideSell
	}
	var pnlPct float64
	if !pos.Margin.IsZero() {
		pnlPct, _ = pnl.Div(pos.Margin).Float64()
	}
	return types.Trade{
		ID:        uuid.NewString(),
		Symbol:    pos.Symbol,
		Side:      side,
		EntryTime: pos.EntryTime,
		ExitTime:  exitTime,
		PnLUSD:    pnl,
		PnLPct:    pnlPct,
	}
}

func (e *Engine) summarize(trades []types.Trade, equityCurve []decimal.Decimal, symbols []string, timeframe types.Timeframe, periodType types.PeriodType, perSymbolPnL map[string][]float64, timeline []barEvent) *types.BacktestResult {
	finalEquity := e.cfg.InitialCapital
	if len(equityCurve) > 0 {
		finalEquity = equityCurve[len(equityCurve)-1]
	}

	returns := make([]float64, 0, len(trades))
	pnls := make([]float64, 0, len(trades))
	for _, t := range trades {
		returns = append(returns, t.PnLPct)
		pnl, _ := t.PnLUSD.Float64()
		pnls = append(pnls, pnl)
	}

	start := timeline[0].bar.Timestamp
	end := timeline[len(timeline)-1].bar.Timestamp
	periodDays := int(end.Sub(start).Hours()/24) + 1
	var tradesPerDay float64
	if periodDays > 0 {
		tradesPerDay = float64(len(trades)) / float64(periodDays)
	}

	perSymbolResults := make(map[string]map[string]float64, len(perSymbolPnL))
	for symbol, pnl := range perSymbolPnL {
		perSymbolResults[symbol] = map[string]float64{
			"trades":  float64(len(pnl)),
			"winRate": winRate(pnl),
		}
	}

	var expectancy float64
	if len(pnls) > 0 {
		sum := 0.0
		for _, p := range pnls {
			sum += p
		}
		expectancy = sum / float64(len(pnls))
	}

	totalReturnPct, _ := finalEquity.Sub(e.cfg.InitialCapital).Div(e.cfg.InitialCapital).Float64()

	return &types.BacktestResult{
		PeriodType:       periodType,
		PeriodDays:       periodDays,
		StartDate:        start,
		EndDate:          end,
		TotalTrades:      len(trades),
		WinRate:          winRate(returns),
		SharpeRatio:      sharpeRatio(returns, tradesPerDay),
		Expectancy:       expectancy,
		MaxDrawdown:      maxDrawdown(equityCurve),
		TotalReturnPct:   totalReturnPct,
		FinalEquity:      finalEquity,
		SymbolsTested:    symbols,
		TimeframeTested:  timeframe,
		PerSymbolResults: perSymbolResults,
		CreatedAt:        time.Now(),
	}
}
