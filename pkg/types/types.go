// Package types provides shared type definitions for the strategy engine.
package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// OrderSide represents buy or sell.
type OrderSide string

const (
	OrderSideBuy  OrderSide = "buy"
	OrderSideSell OrderSide = "sell"
)

// OrderType represents the type of order placed at the venue.
type OrderType string

const (
	OrderTypeMarket  OrderType = "market"
	OrderTypeLimit   OrderType = "limit"
	OrderTypeTrigger OrderType = "trigger"
)

// OrderStatus represents the lifecycle status of a venue order.
type OrderStatus string

const (
	OrderStatusPending   OrderStatus = "pending"
	OrderStatusOpen      OrderStatus = "open"
	OrderStatusFilled    OrderStatus = "filled"
	OrderStatusCancelled OrderStatus = "cancelled"
	OrderStatusRejected  OrderStatus = "rejected"
)

// PositionSide represents long or short.
type PositionSide string

const (
	PositionSideLong  PositionSide = "long"
	PositionSideShort PositionSide = "short"
)

// SignalDirection is the direction carried by an execution or trailing-stop signal.
type SignalDirection string

const (
	DirectionLong  SignalDirection = "long"
	DirectionShort SignalDirection = "short"
	DirectionClose SignalDirection = "close"
)

// Timeframe is one of the closed set of supported candle intervals.
type Timeframe string

const (
	Timeframe5m  Timeframe = "5m"
	Timeframe15m Timeframe = "15m"
	Timeframe30m Timeframe = "30m"
	Timeframe1h  Timeframe = "1h"
	Timeframe4h  Timeframe = "4h"
	Timeframe1d  Timeframe = "1d"
)

// Timeframes lists the full closed set, in canonical granularity order.
var Timeframes = []Timeframe{Timeframe5m, Timeframe15m, Timeframe30m, Timeframe1h, Timeframe4h, Timeframe1d}

// Valid reports whether tf is a member of the closed set of supported timeframes.
func (tf Timeframe) Valid() bool {
	for _, t := range Timeframes {
		if t == tf {
			return true
		}
	}
	return false
}

// StrategyKind is the coarse family a generated strategy belongs to.
type StrategyKind string

const (
	KindTrend       StrategyKind = "TRD"
	KindMomentum    StrategyKind = "MOM"
	KindReversal    StrategyKind = "REV"
	KindVolume      StrategyKind = "VOL"
	KindCandlestick StrategyKind = "CDL"
)

// StrategyStatus is a node in the lifecycle state machine.
type StrategyStatus string

const (
	StatusGenerated StrategyStatus = "GENERATED"
	StatusValidated StrategyStatus = "VALIDATED"
	StatusActive    StrategyStatus = "ACTIVE"
	StatusLive      StrategyStatus = "LIVE"
	StatusRetired   StrategyStatus = "RETIRED"
	StatusFailed    StrategyStatus = "FAILED"
)

// GenerationMode records how a strategy row was produced.
type GenerationMode string

const (
	GenerationAI       GenerationMode = "ai"
	GenerationTemplate GenerationMode = "template"
)

// PeriodType distinguishes a BacktestResult's evaluation window.
type PeriodType string

const (
	PeriodTraining PeriodType = "training"
	PeriodHoldout  PeriodType = "holdout"
)

// OHLCV represents a single candlestick.
type OHLCV struct {
	Timestamp time.Time       `json:"timestamp"`
	Open      decimal.Decimal `json:"open"`
	High      decimal.Decimal `json:"high"`
	Low       decimal.Decimal `json:"low"`
	Close     decimal.Decimal `json:"close"`
	Volume    decimal.Decimal `json:"volume"`
}

// Order represents an order placed with the execution venue.
type Order struct {
	ID            string          `json:"id"`
	ClientOrderID string          `json:"clientOrderId,omitempty"`
	Symbol        string          `json:"symbol"`
	Side          OrderSide       `json:"side"`
	Type          OrderType       `json:"type"`
	Quantity      decimal.Decimal `json:"quantity"`
	Price         decimal.Decimal `json:"price,omitempty"`
	TriggerPrice  decimal.Decimal `json:"triggerPrice,omitempty"`
	Status        OrderStatus     `json:"status"`
	FilledQty     decimal.Decimal `json:"filledQty"`
	AvgFillPrice  decimal.Decimal `json:"avgFillPrice"`
	ReduceOnly    bool            `json:"reduceOnly"`
	CreatedAt     time.Time       `json:"createdAt"`
	UpdatedAt     time.Time       `json:"updatedAt"`
}

// Position represents an open leveraged position at the venue.
type Position struct {
	Symbol        string          `json:"symbol"`
	Side          PositionSide    `json:"side"`
	Quantity      decimal.Decimal `json:"quantity"`
	EntryPrice    decimal.Decimal `json:"entryPrice"`
	Leverage      int             `json:"leverage"`
	LiquidationPx decimal.Decimal `json:"liquidationPx"`
	UnrealizedPnL decimal.Decimal `json:"unrealizedPnl"`
	OpenedAt      time.Time       `json:"openedAt"`
}

// Strategy is the central row of the lifecycle state machine.
type Strategy struct {
	ID        string       `json:"id"`
	Name      string       `json:"name"`
	Kind      StrategyKind `json:"kind"`
	Timeframe Timeframe    `json:"timeframe"`
	Code      []byte       `json:"-"`

	PatternCoins  []string `json:"patternCoins,omitempty"`
	BacktestPairs []string `json:"backtestPairs,omitempty"`

	OptimalTimeframe Timeframe         `json:"optimalTimeframe,omitempty"`
	Parameters       StrategyParameter `json:"parameters"`

	Status              StrategyStatus `json:"status"`
	ProcessingBy        *string        `json:"processingBy,omitempty"`
	ProcessingStartedAt *time.Time     `json:"processingStartedAt,omitempty"`

	ScoreBacktest *float64 `json:"scoreBacktest,omitempty"`

	ScoreLive          *float64         `json:"scoreLive,omitempty"`
	WinRateLive        *float64         `json:"winRateLive,omitempty"`
	ExpectancyLive     *float64         `json:"expectancyLive,omitempty"`
	SharpeLive         *float64         `json:"sharpeLive,omitempty"`
	MaxDrawdownLive    *float64         `json:"maxDrawdownLive,omitempty"`
	TotalTradesLive    int              `json:"totalTradesLive"`
	TotalPnlLive       *decimal.Decimal `json:"totalPnlLive,omitempty"`
	LastLiveUpdate     *time.Time       `json:"lastLiveUpdate,omitempty"`
	LiveDegradationPct *float64         `json:"liveDegradationPct,omitempty"`

	LastBacktestedAt *time.Time `json:"lastBacktestedAt,omitempty"`

	SubaccountID *string `json:"subaccountId,omitempty"`

	RetiredAt     *time.Time `json:"retiredAt,omitempty"`
	RetiredReason string     `json:"retiredReason,omitempty"`

	TemplateID                *string        `json:"templateId,omitempty"`
	PatternIDs                []string       `json:"patternIds,omitempty"`
	GenerationMode            GenerationMode `json:"generationMode"`
	ParametricBacktestMetrics map[string]any `json:"parametricBacktestMetrics,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// StrategyParameter is the concrete tunable tuple embedded in a strategy's code.
type StrategyParameter struct {
	StopLossPct   float64 `json:"slPct"`
	TakeProfitPct float64 `json:"tpPct"`
	Leverage      int     `json:"leverage"`
	ExitBars      int     `json:"exitBars"`
}

// BacktestResult is one row per (strategy, evaluation window, period type).
type BacktestResult struct {
	ID         string     `json:"id"`
	StrategyID string     `json:"strategyId"`
	PeriodType PeriodType `json:"periodType"`

	PeriodDays int       `json:"periodDays"`
	StartDate  time.Time `json:"startDate"`
	EndDate    time.Time `json:"endDate"`

	TotalTrades    int             `json:"totalTrades"`
	WinRate        float64         `json:"winRate"`
	SharpeRatio    float64         `json:"sharpeRatio"`
	Expectancy     float64         `json:"expectancy"`
	MaxDrawdown    float64         `json:"maxDrawdown"`
	TotalReturnPct float64         `json:"totalReturnPct"`
	FinalEquity    decimal.Decimal `json:"finalEquity"`

	SymbolsTested    []string                      `json:"symbolsTested"`
	TimeframeTested  Timeframe                     `json:"timeframeTested"`
	IsOptimalTF      bool                          `json:"isOptimalTf"`
	PerSymbolResults map[string]map[string]float64 `json:"perSymbolResults,omitempty"`

	RecentResultID *string `json:"recentResultId,omitempty"`

	WeightedSharpe               float64 `json:"weightedSharpe"`
	WeightedSharpePure           float64 `json:"weightedSharpePure"`
	WeightedExpectancy           float64 `json:"weightedExpectancy"`
	WeightedWinRate              float64 `json:"weightedWinRate"`
	WeightedWalkForwardStability float64 `json:"weightedWalkForwardStability"`
	WeightedMaxDrawdown          float64 `json:"weightedMaxDrawdown"`
	RecencyRatio                 float64 `json:"recencyRatio"`
	RecencyPenalty               float64 `json:"recencyPenalty"`
	WalkForwardStability         float64 `json:"walkForwardStability"`

	CreatedAt time.Time `json:"createdAt"`
}

// Trade is a realized execution record produced by the live executor.
type Trade struct {
	ID         string          `json:"id"`
	StrategyID string          `json:"strategyId"`
	Symbol     string          `json:"symbol"`
	Side       OrderSide       `json:"side"`
	EntryTime  time.Time       `json:"entryTime"`
	ExitTime   time.Time       `json:"exitTime"`
	PnLUSD     decimal.Decimal `json:"pnlUsd"`
	PnLPct     float64         `json:"pnlPct"`
}

// Credential is per-subaccount signing material for the execution venue.
type Credential struct {
	ID           string     `json:"id"`
	SubaccountID string     `json:"subaccountId"`
	APIKeyRef    string     `json:"-"`
	APISecretRef string     `json:"-"`
	IsActive     bool       `json:"isActive"`
	ExpiresAt    *time.Time `json:"expiresAt,omitempty"`
	CreatedAt    time.Time  `json:"createdAt"`
}

// PipelineMetricsSnapshot is a periodic, append-only observability row.
type PipelineMetricsSnapshot struct {
	ID              string         `json:"id"`
	TakenAt         time.Time      `json:"takenAt"`
	QueueDepths     map[string]int `json:"queueDepths"`
	PoolUtilization float64        `json:"poolUtilization"`
	ActiveWorkers   int            `json:"activeWorkers"`
}

// WalkForwardWindow is one expanding-window split used for stability scoring.
type WalkForwardWindow struct {
	TrainStart time.Time `json:"trainStart"`
	TrainEnd   time.Time `json:"trainEnd"`
	TestStart  time.Time `json:"testStart"`
	TestEnd    time.Time `json:"testEnd"`
	Valid      bool      `json:"valid"`
	Sharpe     float64   `json:"sharpe"`
}
