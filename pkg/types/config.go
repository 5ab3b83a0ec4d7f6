// Package types provides configuration types for the strategy engine.
package types

import "time"

// Config is the root of the viper-backed configuration surface (spec §6).
// internal/config populates this from a single YAML file plus env overrides;
// there are no zero-value fallbacks baked into this struct. The loader fails
// fast on any key of its required list that is unset; a few fields, such as
// store.redis_addr and server.cors_origins, are not on that list.
type Config struct {
	Server      ServerConfig      `mapstructure:"server"`
	Store       StoreConfig       `mapstructure:"store"`
	Cache       CacheConfig       `mapstructure:"cache"`
	ActivePool  ActivePoolConfig  `mapstructure:"active_pool"`
	AntiOverfit AntiOverfitConfig `mapstructure:"anti_overfit"`
	Scorer      ScorerConfig      `mapstructure:"scorer"`
	Risk        RiskConfig        `mapstructure:"risk"`
	Orchestrator OrchestratorConfig `mapstructure:"orchestrator"`
	CoinSelect  CoinSelectConfig  `mapstructure:"coin_select"`
	Trailing    TrailingConfig    `mapstructure:"trailing"`
	Venue       VenueConfig       `mapstructure:"venue"`
	Backpressure BackpressureConfig `mapstructure:"backpressure"`
	Rotator     RotatorConfig     `mapstructure:"rotator"`
	Scheduler   SchedulerConfig   `mapstructure:"scheduler"`
	Thresholds  ThresholdsConfig  `mapstructure:"thresholds"`
	Parametric  ParametricConfig  `mapstructure:"parametric"`
	BacktestEngine BacktestEngineConfig `mapstructure:"backtest_engine"`
	Executor    ExecutorConfig    `mapstructure:"executor"`
}

// ExecutorConfig configures the Live Execution Core's tick loop (§4.10-4.13).
type ExecutorConfig struct {
	TickInterval time.Duration `mapstructure:"tick_interval"`
}

// ThresholdsConfig is the Backtesting "thresholds.*" group from spec §6 —
// the parametric kernel's post-evaluation admission filter (§4.4).
type ThresholdsConfig struct {
	MinSharpe     float64 `mapstructure:"min_sharpe"`
	MinWinRate    float64 `mapstructure:"min_win_rate"`
	MaxDrawdown   float64 `mapstructure:"max_drawdown"`
	MinTotalTrades int    `mapstructure:"min_total_trades"`
	MinExpectancy float64 `mapstructure:"min_expectancy"`
}

// ParametricConfig toggles the parametric-multiplier search (§4.4/§4.11)
// the orchestrator runs after a strategy's first successful backtest.
type ParametricConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// RotatorConfig configures the ACTIVE -> LIVE rotation loop: how many
// pool members may be live at once and how often the rotation is
// re-evaluated.
type RotatorConfig struct {
	MaxLive  int           `mapstructure:"max_live"`
	Interval time.Duration `mapstructure:"interval"`
}

// SchedulerConfig configures the periodic maintenance loops: stale-claim
// reaping, live-metric refresh, and cache-freshness checks (§4.1/§4.2).
type SchedulerConfig struct {
	ReapInterval           time.Duration `mapstructure:"reap_interval"`
	LiveMetricsInterval    time.Duration `mapstructure:"live_metrics_interval"`
	CacheFreshnessInterval time.Duration `mapstructure:"cache_freshness_interval"`
	LiveMetricsWindow      time.Duration `mapstructure:"live_metrics_window"`
	MinTradesForScore      int           `mapstructure:"min_trades_for_score"`
	MinTradesForFrequency  int           `mapstructure:"min_trades_for_frequency"`
	MinDaysForFrequency    int           `mapstructure:"min_days_for_frequency"`
	LogInterval            time.Duration `mapstructure:"log_interval"`
}

// ServerConfig configures the admin/observability HTTP+WS surface.
type ServerConfig struct {
	Host          string        `mapstructure:"host"`
	Port          int           `mapstructure:"port"`
	MetricsPort   int           `mapstructure:"metrics_port"`
	ReadTimeout   time.Duration `mapstructure:"read_timeout"`
	WriteTimeout  time.Duration `mapstructure:"write_timeout"`
	CORSOrigins   []string      `mapstructure:"cors_origins"`
}

// StoreConfig configures the pgx-backed relational store and its optional
// Redis lease accelerator.
type StoreConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxConns        int32         `mapstructure:"max_conns"`
	RedisAddr       string        `mapstructure:"redis_addr"`
	LeaseTTL        time.Duration `mapstructure:"lease_ttl"`
	StaleLeaseAfter time.Duration `mapstructure:"stale_lease_after"`
}

// CacheConfig configures the read-only OHLCV cache root.
type CacheConfig struct {
	RootDir            string  `mapstructure:"root_dir"`
	MinCoverageFraction float64 `mapstructure:"min_coverage_fraction"`
}

// ActivePoolConfig configures the leaderboard admission thresholds (§4.8).
type ActivePoolConfig struct {
	MaxSize       int     `mapstructure:"max_size"`
	MinScoreEntry float64 `mapstructure:"min_score_entry"`
}

// AntiOverfitConfig configures the training/holdout degradation gate (§4.5).
type AntiOverfitConfig struct {
	MinSharpe            float64 `mapstructure:"min_sharpe"`
	HoldoutMinSharpe     float64 `mapstructure:"holdout_min_sharpe"`
	MaxDegradation       float64 `mapstructure:"max_degradation"`
	MinHoldoutTrades     int     `mapstructure:"min_holdout_trades"`
	HoldoutRecencyWeight float64 `mapstructure:"holdout_recency_weight"`
}

// ScorerConfig configures the composite BacktestScorer/LiveScorer weights (§4.7).
type ScorerConfig struct {
	WeightExpectancy float64 `mapstructure:"weight_expectancy"`
	WeightSharpe     float64 `mapstructure:"weight_sharpe"`
	WeightWinRate    float64 `mapstructure:"weight_win_rate"`
	WeightDrawdown   float64 `mapstructure:"weight_drawdown"`
	WeightRobustness float64 `mapstructure:"weight_robustness"`
	WeightRecency    float64 `mapstructure:"weight_recency"`

	ExpectancyNormMax float64 `mapstructure:"expectancy_norm_max"`
	SharpeNormMax     float64 `mapstructure:"sharpe_norm_max"`
	DrawdownNormMax   float64 `mapstructure:"drawdown_norm_max"`
}

// BacktestEngineConfig configures the Backtest Engine's portfolio
// simulation (§4.3): starting capital, cost assumptions, and the
// shared-capital position cap.
type BacktestEngineConfig struct {
	InitialCapital float64 `mapstructure:"initial_capital"`
	CommissionRate float64 `mapstructure:"commission_rate"`
	SlippagePct    float64 `mapstructure:"slippage_pct"`
	MaxPositions   int     `mapstructure:"max_positions"`
}

// RiskConfig configures the Risk & Leverage Validator (§4.10) and the
// advisory emergency-stop counters the executor consults before placing
// new orders.
type RiskConfig struct {
	DefaultMaxLeverage      int     `mapstructure:"default_max_leverage"`
	LiquidationBufferPct    float64 `mapstructure:"liquidation_buffer_pct"`
	RiskPerTradePct         float64 `mapstructure:"risk_per_trade_pct"`
	MaxOpenPositionsPerSub  int     `mapstructure:"max_open_positions_per_subaccount"`
	MaxPortfolioDrawdownPct float64 `mapstructure:"max_portfolio_drawdown_pct"`
	MaxConsecutiveLosses    int     `mapstructure:"max_consecutive_losses"`
}

// OrchestratorConfig configures the Backtester Orchestrator worker pool (§4.9).
type OrchestratorConfig struct {
	BaseWorkers          int           `mapstructure:"base_workers"`
	ElasticWorkers        int           `mapstructure:"elastic_workers"`
	BackpressureMinQueue  int           `mapstructure:"backpressure_min_queue"`
	BackpressureMaxCooldown time.Duration `mapstructure:"backpressure_max_cooldown"`
	RetestInterval        time.Duration `mapstructure:"retest_interval"`
	MinBarsNormal          int           `mapstructure:"min_bars_normal"`
	MinBarsHoldout         int           `mapstructure:"min_bars_holdout"`
	TrainingPeriodDays     int           `mapstructure:"training_period_days"`
	HoldoutPeriodDays      int           `mapstructure:"holdout_period_days"`
	TargetCoinCount        int           `mapstructure:"target_coin_count"`
}

// CoinSelectConfig configures the scroll-down coin-set selection filters (§4.6).
type CoinSelectConfig struct {
	MinCount          int     `mapstructure:"min_count"`
	MinLiquidityUSD   float64 `mapstructure:"min_liquidity_usd"`
	MinCoverageDays   int     `mapstructure:"min_coverage_days"`
}

// TrailingConfig configures the Trailing-Stop Service (§4.12).
type TrailingConfig struct {
	ActivationPct      float64       `mapstructure:"activation_pct"`
	TrailPct           float64       `mapstructure:"trail_pct"`
	BreakevenBufferPct float64       `mapstructure:"breakeven_buffer_pct"`
	MinAdjustmentPct   float64       `mapstructure:"min_adjustment_pct"`
	UpdateCooldown     time.Duration `mapstructure:"update_cooldown"`
}

// BackpressureConfig configures the downstream (pool-fullness) throttle
// distinct from the queue-starvation cooldown in OrchestratorConfig.
type BackpressureConfig struct {
	BaseCooldown      time.Duration `mapstructure:"base_cooldown"`
	CooldownIncrement time.Duration `mapstructure:"cooldown_increment"`
	MaxCooldown       time.Duration `mapstructure:"max_cooldown"`
}

// VenueConfig configures the Execution Client Adapter (§4.13).
type VenueConfig struct {
	BaseURL       string        `mapstructure:"base_url"`
	DryRun        bool          `mapstructure:"dry_run"`
	RateLimitRPS  float64       `mapstructure:"rate_limit_rps"`
	RateLimitBurst int          `mapstructure:"rate_limit_burst"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}
