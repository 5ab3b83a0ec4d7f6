// Package executor runs the Live Execution Core: for every LIVE strategy it
// evaluates entry/exit signals against recent cached bars, sizes and places
// orders through its assigned subaccount, and drives that position's
// trailing-stop state machine on each price tick.
package executor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/atlas-desktop/strategy-engine/internal/cache"
	"github.com/atlas-desktop/strategy-engine/internal/loader"
	"github.com/atlas-desktop/strategy-engine/internal/risk"
	"github.com/atlas-desktop/strategy-engine/internal/store"
	"github.com/atlas-desktop/strategy-engine/internal/trailing"
	"github.com/atlas-desktop/strategy-engine/internal/venue"
	"github.com/atlas-desktop/strategy-engine/pkg/types"
)

// Store is the persistence surface the executor drives.
type Store interface {
	ListLiveStrategyDetails(ctx context.Context) ([]store.LiveStrategyDetail, error)
	DemoteFromLive(ctx context.Context, id string) error
	InsertTrade(ctx context.Context, t *types.Trade) error
}

// VenueClient is the narrow per-subaccount venue capability the executor
// needs; satisfied by *venue.Client.
type VenueClient interface {
	GetAllMids(ctx context.Context) (map[string]decimal.Decimal, error)
	GetAccountBalance(ctx context.Context) (decimal.Decimal, error)
	GetPositions(ctx context.Context) ([]types.Position, error)
	SetLeverage(ctx context.Context, symbol string, leverage int) error
	PlaceOrderWithSLTP(ctx context.Context, symbol string, side types.OrderSide, qty, sl, tp decimal.Decimal, hasTP bool) (*types.Order, string, string, error)
	ClosePosition(ctx context.Context, symbol string) error
	PlaceTriggerOrder(ctx context.Context, symbol string, side types.PositionSide, triggerPrice decimal.Decimal, kind string) (string, error)
	CancelOrder(ctx context.Context, orderID string) error
}

// ClientFactory builds the per-subaccount venue client the first time a
// strategy assigned to that subaccount is seen.
type ClientFactory func(subaccountID string) (VenueClient, error)

type Config struct {
	Interval      time.Duration
	Risk          risk.Config
	Trailing      trailing.Config
	MinBars       int
	DefaultMaxLev int
}

type Deps struct {
	Store       Store
	Cache       *cache.Reader
	NewClient   ClientFactory
	StartEquity decimal.Decimal
}

// openPosition is the executor's in-memory record of a live strategy's
// current position, independent of the store row.
type openPosition struct {
	symbol string
	side   types.PositionSide
	qty    decimal.Decimal
	entry  time.Time
	barIdx int
}

type Executor struct {
	deps   Deps
	cfg    Config
	logger *zap.Logger

	mu         sync.Mutex
	killSwitch bool
	clients    map[string]VenueClient
	trailers   map[string]*trailing.Service
	emergency  map[string]*risk.EmergencyState
	positions  map[string]*openPosition // keyed by strategy ID
}

func New(deps Deps, cfg Config, logger *zap.Logger) *Executor {
	return &Executor{
		deps:      deps,
		cfg:       cfg,
		logger:    logger.Named("executor"),
		clients:   make(map[string]VenueClient),
		trailers:  make(map[string]*trailing.Service),
		emergency: make(map[string]*risk.EmergencyState),
		positions: make(map[string]*openPosition),
	}
}

// TripKillSwitch halts all new order placement; open positions are left
// alone so a human can close them deliberately.
func (e *Executor) TripKillSwitch() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.killSwitch = true
	e.logger.Warn("kill switch engaged")
}

func (e *Executor) Run(ctx context.Context) {
	ticker := time.NewTicker(e.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			e.logger.Info("executor stopped")
			return
		case <-ticker.C:
			e.tick(ctx)
		}
	}
}

func (e *Executor) tick(ctx context.Context) {
	strategies, err := e.deps.Store.ListLiveStrategyDetails(ctx)
	if err != nil {
		e.logger.Error("list live strategy details failed", zap.Error(err))
		return
	}

	for _, strat := range strategies {
		if err := e.evaluateStrategy(ctx, strat); err != nil {
			e.logger.Warn("strategy evaluation failed", zap.String("strategyId", strat.ID), zap.Error(err))
		}
	}
}

func (e *Executor) clientFor(subaccountID string) (VenueClient, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if c, ok := e.clients[subaccountID]; ok {
		return c, nil
	}
	c, err := e.deps.NewClient(subaccountID)
	if err != nil {
		return nil, err
	}
	e.clients[subaccountID] = c
	e.emergency[subaccountID] = risk.NewEmergencyState(e.cfg.Risk, e.deps.StartEquity)
	return c, nil
}

func (e *Executor) trailerFor(subaccountID string, client VenueClient) *trailing.Service {
	e.mu.Lock()
	defer e.mu.Unlock()
	if t, ok := e.trailers[subaccountID]; ok {
		return t
	}
	t := trailing.NewService(e.cfg.Trailing, client)
	e.trailers[subaccountID] = t
	return t
}

func (e *Executor) evaluateStrategy(ctx context.Context, strat store.LiveStrategyDetail) error {
	if strat.SubaccountID == "" {
		return fmt.Errorf("executor: strategy has no subaccount assigned")
	}
	if len(strat.BacktestPairs) == 0 {
		return fmt.Errorf("executor: strategy has no coin pairs")
	}

	client, err := e.clientFor(strat.SubaccountID)
	if err != nil {
		return fmt.Errorf("executor: building venue client: %w", err)
	}

	e.mu.Lock()
	killed := e.killSwitch
	emergency := e.emergency[strat.SubaccountID]
	e.mu.Unlock()
	if killed {
		return nil
	}

	mids, err := client.GetAllMids(ctx)
	if err != nil {
		return fmt.Errorf("executor: fetching mids: %w", err)
	}

	trailer := e.trailerFor(strat.SubaccountID, client)

	e.mu.Lock()
	pos, hasPosition := e.positions[strat.ID]
	e.mu.Unlock()

	if hasPosition {
		price, ok := mids[pos.symbol]
		if !ok {
			return nil
		}
		if err := trailer.OnPriceUpdate(ctx, pos.symbol, price); err != nil {
			e.logger.Warn("trailing update failed", zap.String("strategyId", strat.ID), zap.Error(err))
		}

		pos.barIdx++
		if pos.barIdx >= strat.Parameters.ExitBars {
			return e.closePosition(ctx, strat, client, trailer, pos, emergency)
		}
		return nil
	}

	inst, err := loader.Load(strat.ID, strat.Code)
	if err != nil {
		return fmt.Errorf("executor: loading strategy code: %w", err)
	}

	for _, symbol := range strat.BacktestPairs {
		bars, err := e.deps.Cache.Read(symbol, strat.Timeframe, 0, time.Time{})
		if err != nil || len(bars) < e.cfg.MinBars {
			continue
		}
		direction, ok := inst.Evaluate(symbol, bars, strat.Parameters)
		if !ok || direction == types.DirectionClose {
			continue
		}

		if emergency != nil {
			if breached, reason := emergency.Breached(e.deps.StartEquity); breached {
				e.logger.Warn("emergency stop active, skipping entry", zap.String("strategyId", strat.ID), zap.String("reason", reason))
				return nil
			}
		}

		return e.openPositionFor(ctx, strat, client, trailer, symbol, direction, mids[symbol])
	}
	return nil
}

func (e *Executor) openPositionFor(
	ctx context.Context,
	strat store.LiveStrategyDetail,
	client VenueClient,
	trailer *trailing.Service,
	symbol string,
	direction types.SignalDirection,
	price decimal.Decimal,
) error {
	if price.IsZero() {
		return fmt.Errorf("executor: no price available for %s", symbol)
	}

	balance, err := client.GetAccountBalance(ctx)
	if err != nil {
		return fmt.Errorf("executor: fetching balance: %w", err)
	}

	var stopLoss, takeProfit decimal.Decimal
	side := types.OrderSideBuy
	if direction == types.DirectionLong {
		stopLoss = price.Mul(decimal.NewFromFloat(1 - strat.Parameters.StopLossPct))
		takeProfit = price.Mul(decimal.NewFromFloat(1 + strat.Parameters.TakeProfitPct))
	} else {
		side = types.OrderSideSell
		stopLoss = price.Mul(decimal.NewFromFloat(1 + strat.Parameters.StopLossPct))
		takeProfit = price.Mul(decimal.NewFromFloat(1 - strat.Parameters.TakeProfitPct))
	}

	if err := risk.ValidateSignal(direction, price, stopLoss, takeProfit, strat.Parameters.TakeProfitPct > 0); err != nil {
		return fmt.Errorf("executor: signal validation failed: %w", err)
	}

	qty, err := risk.PositionSize(balance, price, stopLoss, e.cfg.Risk.RiskPerTradePct)
	if err != nil {
		return fmt.Errorf("executor: position sizing: %w", err)
	}

	maxLev := e.cfg.DefaultMaxLev
	leverage, _ := risk.ValidateAndAdjustLeverage(strat.Parameters.StopLossPct, strat.Parameters.Leverage, maxLev, e.cfg.Risk.LiquidationBufferPct)
	if err := client.SetLeverage(ctx, symbol, leverage); err != nil {
		e.logger.Warn("set leverage failed", zap.String("symbol", symbol), zap.Error(err))
	}

	order, slOrderID, _, err := client.PlaceOrderWithSLTP(ctx, symbol, side, qty, stopLoss, takeProfit, strat.Parameters.TakeProfitPct > 0)
	if err != nil {
		return fmt.Errorf("executor: placing entry order: %w", err)
	}

	posSide := types.PositionSideLong
	if side == types.OrderSideSell {
		posSide = types.PositionSideShort
	}
	trailer.Register(symbol, posSide, price, qty, stopLoss, slOrderID)

	e.mu.Lock()
	e.positions[strat.ID] = &openPosition{symbol: symbol, side: posSide, qty: qty, entry: order.CreatedAt}
	e.mu.Unlock()

	e.logger.Info("opened live position",
		zap.String("strategyId", strat.ID), zap.String("symbol", symbol), zap.String("side", string(side)), zap.String("qty", qty.String()))
	return nil
}

func (e *Executor) closePosition(
	ctx context.Context,
	strat store.LiveStrategyDetail,
	client VenueClient,
	trailer *trailing.Service,
	pos *openPosition,
	emergency *risk.EmergencyState,
) error {
	var realizedPnL decimal.Decimal
	if venuePositions, err := client.GetPositions(ctx); err == nil {
		for _, vp := range venuePositions {
			if vp.Symbol == pos.symbol {
				realizedPnL = vp.UnrealizedPnL
				break
			}
		}
	}

	if err := client.ClosePosition(ctx, pos.symbol); err != nil {
		return fmt.Errorf("executor: closing position: %w", err)
	}
	trailer.Unregister(pos.symbol)

	e.mu.Lock()
	delete(e.positions, strat.ID)
	e.mu.Unlock()

	trade := &types.Trade{
		StrategyID: strat.ID,
		Symbol:     pos.symbol,
		EntryTime:  pos.entry,
		ExitTime:   time.Now(),
		PnLUSD:     realizedPnL,
	}
	if pos.side == types.PositionSideLong {
		trade.Side = types.OrderSideBuy
	} else {
		trade.Side = types.OrderSideSell
	}
	if err := e.deps.Store.InsertTrade(ctx, trade); err != nil {
		e.logger.Warn("recording closed trade failed", zap.String("strategyId", strat.ID), zap.Error(err))
	}
	if emergency != nil {
		emergency.RecordTrade(trade.PnLUSD, e.deps.StartEquity)
	}

	e.logger.Info("closed live position by exit-bars countdown", zap.String("strategyId", strat.ID), zap.String("symbol", pos.symbol))
	return nil
}
