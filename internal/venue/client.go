// Package venue implements the execution venue adapter: a REST client
// shaped against Hyperliquid's public exchange API (order placement,
// position/account queries, leverage control) guarded by a token-bucket
// rate limiter and a dry-run mode in which order, position, balance and
// leverage calls never reach the network (GetAllMids and HealthCheck still
// do).
package venue

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/atlas-desktop/strategy-engine/pkg/types"
	"github.com/atlas-desktop/strategy-engine/pkg/utils"
)

// Config configures one Client instance, one per subaccount.
type Config struct {
	BaseURL        string
	DryRun         bool
	RateLimitRPS   float64
	RateLimitBurst int
	RequestTimeout time.Duration
}

// Signer holds the per-subaccount signing material used to authenticate
// requests. In live mode both fields are required; dry-run mode never
// reads them.
type Signer struct {
	APIKey    string
	APISecret string
}

// Client is the execution venue adapter (§4.13/§6). It implements the
// narrow capability set the trailing-stop service and orchestrator need,
// plus the account/position queries the risk validator and live scorer
// consume.
type Client struct {
	logger     *zap.Logger
	cfg        Config
	signer     Signer
	httpClient *http.Client
	limiter    *rate.Limiter

	mu          sync.Mutex
	dryRunSeq   int64
	tickSizes   map[string]decimal.Decimal
	stepSizes   map[string]decimal.Decimal
}

// New builds a Client for one subaccount. tickSizes/stepSizes give the
// per-symbol rounding granularity used before every order is sent.
func New(logger *zap.Logger, cfg Config, signer Signer, tickSizes, stepSizes map[string]decimal.Decimal) *Client {
	return &Client{
		logger:     logger.Named("venue"),
		cfg:        cfg,
		signer:     signer,
		httpClient: &http.Client{Timeout: cfg.RequestTimeout},
		limiter:    rate.NewLimiter(rate.Limit(cfg.RateLimitRPS), cfg.RateLimitBurst),
		tickSizes:  tickSizes,
		stepSizes:  stepSizes,
	}
}

func (c *Client) nextDryRunID(prefix string) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.dryRunSeq++
	return fmt.Sprintf("dry_run_%s_%d", prefix, c.dryRunSeq)
}

func (c *Client) round(symbol string, price, qty decimal.Decimal) (decimal.Decimal, decimal.Decimal) {
	if tick, ok := c.tickSizes[symbol]; ok && !tick.IsZero() {
		price = utils.RoundToTickSize(price, tick)
	}
	if step, ok := c.stepSizes[symbol]; ok && !step.IsZero() {
		qty = utils.RoundToStepSize(qty, step)
	}
	return price, qty
}

// PlaceMarketOrder places an immediate-execution order at the best
// available price.
func (c *Client) PlaceMarketOrder(ctx context.Context, symbol string, side types.OrderSide, qty decimal.Decimal, reduceOnly bool) (*types.Order, error) {
	symbol = utils.NormalizeSymbol(symbol)
	_, qty = c.round(symbol, decimal.Zero, qty)

	if c.cfg.DryRun {
		c.logger.Info("dry-run market order", zap.String("symbol", symbol), zap.String("side", string(side)), zap.String("qty", qty.String()))
		return &types.Order{
			ID:         c.nextDryRunID("mkt"),
			Symbol:     symbol,
			Side:       side,
			Type:       types.OrderTypeMarket,
			Quantity:   qty,
			Status:     types.OrderStatusFilled,
			FilledQty:  qty,
			ReduceOnly: reduceOnly,
			CreatedAt:  time.Now(),
			UpdatedAt:  time.Now(),
		}, nil
	}

	body := map[string]any{
		"symbol":      symbol,
		"side":        side,
		"type":        "market",
		"qty":         qty.String(),
		"reduce_only": reduceOnly,
	}
	var resp orderResponse
	if err := c.signedPost(ctx, "/exchange/order", body, &resp); err != nil {
		return nil, fmt.Errorf("venue: place market order: %w", err)
	}
	return resp.toOrder(symbol, side, types.OrderTypeMarket, reduceOnly), nil
}

// PlaceTriggerOrder places a stop-loss or take-profit trigger order. kind
// is "sl" or "tp"; it namespaces dry-run IDs, is logged, and is sent to the
// venue as trigger_kind in live mode.
func (c *Client) PlaceTriggerOrder(ctx context.Context, symbol string, side types.PositionSide, triggerPrice decimal.Decimal, kind string) (string, error) {
	symbol = utils.NormalizeSymbol(symbol)
	triggerPrice, _ = c.round(symbol, triggerPrice, decimal.Zero)

	orderSide := types.OrderSideSell
	if side == types.PositionSideShort {
		orderSide = types.OrderSideBuy
	}

	if c.cfg.DryRun {
		id := c.nextDryRunID("trigger_" + kind)
		c.logger.Info("dry-run trigger order", zap.String("symbol", symbol), zap.String("kind", kind), zap.String("trigger", triggerPrice.String()))
		return id, nil
	}

	body := map[string]any{
		"symbol":        symbol,
		"side":          orderSide,
		"type":          "trigger",
		"trigger_price": triggerPrice.String(),
		"trigger_kind":  kind,
		"reduce_only":   true,
	}
	var resp orderResponse
	if err := c.signedPost(ctx, "/exchange/trigger_order", body, &resp); err != nil {
		return "", fmt.Errorf("venue: place trigger order: %w", err)
	}
	return resp.OrderID, nil
}

// PlaceOrderWithSLTP places an entry order followed by its SL and (if
// present) TP trigger orders. If either leg fails, the caller is
// responsible for tearing down the entry; this method does not retry.
func (c *Client) PlaceOrderWithSLTP(ctx context.Context, symbol string, side types.OrderSide, qty, sl decimal.Decimal, tp decimal.Decimal, hasTP bool) (*types.Order, string, string, error) {
	entry, err := c.PlaceMarketOrder(ctx, symbol, side, qty, false)
	if err != nil {
		return nil, "", "", err
	}

	posSide := types.PositionSideLong
	if side == types.OrderSideSell {
		posSide = types.PositionSideShort
	}

	slOrderID, err := c.PlaceTriggerOrder(ctx, symbol, posSide, sl, "sl")
	if err != nil {
		return entry, "", "", fmt.Errorf("venue: entry placed but SL failed: %w", err)
	}

	var tpOrderID string
	if hasTP {
		tpOrderID, err = c.PlaceTriggerOrder(ctx, symbol, posSide, tp, "tp")
		if err != nil {
			return entry, slOrderID, "", fmt.Errorf("venue: entry and SL placed but TP failed: %w", err)
		}
	}

	return entry, slOrderID, tpOrderID, nil
}

// CancelOrder cancels a resting order by ID.
func (c *Client) CancelOrder(ctx context.Context, orderID string) error {
	if c.cfg.DryRun || isDryRunID(orderID) {
		c.logger.Info("dry-run cancel order", zap.String("orderId", orderID))
		return nil
	}
	var resp struct {
		OK bool `json:"ok"`
	}
	if err := c.signedPost(ctx, "/exchange/cancel", map[string]any{"order_id": orderID}, &resp); err != nil {
		return fmt.Errorf("venue: cancel order %s: %w", orderID, err)
	}
	return nil
}

// ClosePosition closes one symbol's position at market.
func (c *Client) ClosePosition(ctx context.Context, symbol string) error {
	symbol = utils.NormalizeSymbol(symbol)
	if c.cfg.DryRun {
		c.logger.Info("dry-run close position", zap.String("symbol", symbol))
		return nil
	}
	var resp struct {
		OK bool `json:"ok"`
	}
	if err := c.signedPost(ctx, "/exchange/close_position", map[string]any{"symbol": symbol}, &resp); err != nil {
		return fmt.Errorf("venue: close position %s: %w", symbol, err)
	}
	return nil
}

// CloseAllPositions closes every open position and returns the count
// closed.
func (c *Client) CloseAllPositions(ctx context.Context) (int, error) {
	positions, err := c.GetPositions(ctx)
	if err != nil {
		return 0, fmt.Errorf("venue: close all positions: listing positions: %w", err)
	}
	closed := 0
	for _, p := range positions {
		if err := c.ClosePosition(ctx, p.Symbol); err != nil {
			return closed, err
		}
		closed++
	}
	return closed, nil
}

// SetLeverage sets the cross-margin leverage for a symbol.
func (c *Client) SetLeverage(ctx context.Context, symbol string, leverage int) error {
	symbol = utils.NormalizeSymbol(symbol)
	if c.cfg.DryRun {
		c.logger.Info("dry-run set leverage", zap.String("symbol", symbol), zap.Int("leverage", leverage))
		return nil
	}
	var resp struct {
		OK bool `json:"ok"`
	}
	if err := c.signedPost(ctx, "/exchange/set_leverage", map[string]any{"symbol": symbol, "leverage": leverage}, &resp); err != nil {
		return fmt.Errorf("venue: set leverage for %s: %w", symbol, err)
	}
	return nil
}

// GetPositions returns all open positions for this subaccount.
func (c *Client) GetPositions(ctx context.Context) ([]types.Position, error) {
	if c.cfg.DryRun {
		return nil, nil
	}
	var resp struct {
		Positions []positionResponse `json:"positions"`
	}
	if err := c.signedGet(ctx, "/info/positions", &resp); err != nil {
		return nil, fmt.Errorf("venue: get positions: %w", err)
	}
	out := make([]types.Position, 0, len(resp.Positions))
	for _, p := range resp.Positions {
		out = append(out, p.toPosition())
	}
	return out, nil
}

// GetAccountBalance returns the subaccount's free USD balance.
func (c *Client) GetAccountBalance(ctx context.Context) (decimal.Decimal, error) {
	if c.cfg.DryRun {
		return decimal.Zero, nil
	}
	var resp struct {
		Balance string `json:"balance"`
	}
	if err := c.signedGet(ctx, "/info/balance", &resp); err != nil {
		return decimal.Zero, fmt.Errorf("venue: get account balance: %w", err)
	}
	bal, err := decimal.NewFromString(resp.Balance)
	if err != nil {
		return decimal.Zero, fmt.Errorf("venue: parse balance: %w", err)
	}
	return bal, nil
}

// GetAllMids returns the current mid price for every tradable symbol, the
// feed the executor polls on its evaluation tick.
func (c *Client) GetAllMids(ctx context.Context) (map[string]decimal.Decimal, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.BaseURL+"/info/all_mids", nil)
	if err != nil {
		return nil, err
	}

	var raw map[string]string
	if err := c.do(req, &raw); err != nil {
		return nil, fmt.Errorf("venue: get all mids: %w", err)
	}

	out := make(map[string]decimal.Decimal, len(raw))
	for symbol, px := range raw {
		price, err := decimal.NewFromString(px)
		if err != nil {
			continue
		}
		out[utils.NormalizeSymbol(symbol)] = price
	}
	return out, nil
}

// HealthCheck verifies venue connectivity without touching account state.
func (c *Client) HealthCheck(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.BaseURL+"/info/ping", nil)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("venue: health check: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("venue: health check returned status %d", resp.StatusCode)
	}
	return nil
}

func isDryRunID(orderID string) bool {
	return len(orderID) >= 8 && orderID[:8] == "dry_run_"
}

type orderResponse struct {
	OrderID      string `json:"order_id"`
	Status       string `json:"status"`
	FilledQty    string `json:"filled_qty"`
	AvgFillPrice string `json:"avg_fill_price"`
}

func (r orderResponse) toOrder(symbol string, side types.OrderSide, typ types.OrderType, reduceOnly bool) *types.Order {
	filled, _ := decimal.NewFromString(r.FilledQty)
	avg, _ := decimal.NewFromString(r.AvgFillPrice)
	return &types.Order{
		ID:           r.OrderID,
		Symbol:       symbol,
		Side:         side,
		Type:         typ,
		Status:       venueStatus(r.Status),
		FilledQty:    filled,
		AvgFillPrice: avg,
		ReduceOnly:   reduceOnly,
		CreatedAt:    time.Now(),
		UpdatedAt:    time.Now(),
	}
}

func venueStatus(s string) types.OrderStatus {
	switch s {
	case "filled":
		return types.OrderStatusFilled
	case "open", "resting":
		return types.OrderStatusOpen
	case "cancelled", "canceled":
		return types.OrderStatusCancelled
	case "rejected":
		return types.OrderStatusRejected
	default:
		return types.OrderStatusPending
	}
}

type positionResponse struct {
	Symbol        string `json:"symbol"`
	Side          string `json:"side"`
	Quantity      string `json:"quantity"`
	EntryPrice    string `json:"entry_price"`
	Leverage      int    `json:"leverage"`
	LiquidationPx string `json:"liquidation_price"`
	UnrealizedPnL string `json:"unrealized_pnl"`
}

func (p positionResponse) toPosition() types.Position {
	qty, _ := decimal.NewFromString(p.Quantity)
	entry, _ := decimal.NewFromString(p.EntryPrice)
	liq, _ := decimal.NewFromString(p.LiquidationPx)
	pnl, _ := decimal.NewFromString(p.UnrealizedPnL)
	side := types.PositionSideLong
	if p.Side == "short" {
		side = types.PositionSideShort
	}
	return types.Position{
		Symbol:        p.Symbol,
		Side:          side,
		Quantity:      qty,
		EntryPrice:    entry,
		Leverage:      p.Leverage,
		LiquidationPx: liq,
		UnrealizedPnL: pnl,
	}
}

func (c *Client) signedPost(ctx context.Context, path string, body map[string]any, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+path, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	c.sign(req, payload)

	return c.do(req, out)
}

func (c *Client) signedGet(ctx context.Context, path string, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.BaseURL+path, nil)
	if err != nil {
		return err
	}
	c.sign(req, nil)
	return c.do(req, out)
}

func (c *Client) sign(req *http.Request, payload []byte) {
	ts := strconv.FormatInt(time.Now().UnixMilli(), 10)
	mac := hmac.New(sha256.New, []byte(c.signer.APISecret))
	mac.Write(payload)
	mac.Write([]byte(ts))
	signature := hex.EncodeToString(mac.Sum(nil))

	req.Header.Set("X-API-Key", c.signer.APIKey)
	req.Header.Set("X-API-Timestamp", ts)
	req.Header.Set("X-API-Signature", signature)
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("venue: status %d: %s", resp.StatusCode, string(body))
	}
	if out == nil {
		return nil
	}
	return json.Unmarshal(body, out)
}
