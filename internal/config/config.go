// Package config loads the strategy engine's viper-backed configuration
// surface. Every key consumed here is required: a missing key is a startup
// error, not a silently applied default.
package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"

	"github.com/atlas-desktop/strategy-engine/pkg/types"
)

const envPrefix = "STRATEGY_ENGINE"

// requiredKeys enumerates every leaf key the pipeline depends on. Load fails
// fast if any of these is unset by both the config file and the environment.
var requiredKeys = []string{
	"server.host", "server.port", "server.metrics_port",
	"server.read_timeout", "server.write_timeout",
	"store.dsn", "store.max_conns", "store.lease_ttl", "store.stale_lease_after",
	"cache.root_dir", "cache.min_coverage_fraction",
	"active_pool.max_size", "active_pool.min_score_entry",
	"anti_overfit.min_sharpe", "anti_overfit.holdout_min_sharpe",
	"anti_overfit.max_degradation", "anti_overfit.min_holdout_trades",
	"anti_overfit.holdout_recency_weight",
	"scorer.weight_expectancy", "scorer.weight_sharpe", "scorer.weight_win_rate",
	"scorer.weight_drawdown", "scorer.weight_robustness", "scorer.weight_recency",
	"scorer.expectancy_norm_max", "scorer.sharpe_norm_max", "scorer.drawdown_norm_max",
	"risk.default_max_leverage", "risk.liquidation_buffer_pct", "risk.risk_per_trade_pct",
	"risk.max_open_positions_per_subaccount", "risk.max_portfolio_drawdown_pct", "risk.max_consecutive_losses",
	"orchestrator.base_workers", "orchestrator.elastic_workers",
	"orchestrator.backpressure_min_queue", "orchestrator.backpressure_max_cooldown",
	"orchestrator.retest_interval", "orchestrator.min_bars_normal", "orchestrator.min_bars_holdout",
	"orchestrator.training_period_days", "orchestrator.holdout_period_days", "orchestrator.target_coin_count",
	"coin_select.min_count", "coin_select.min_liquidity_usd", "coin_select.min_coverage_days",
	"trailing.activation_pct", "trailing.trail_pct", "trailing.breakeven_buffer_pct",
	"trailing.min_adjustment_pct", "trailing.update_cooldown",
	"venue.base_url", "venue.dry_run", "venue.rate_limit_rps",
	"venue.rate_limit_burst", "venue.request_timeout",
	"backpressure.base_cooldown", "backpressure.cooldown_increment", "backpressure.max_cooldown",
	"rotator.max_live", "rotator.interval",
	"scheduler.reap_interval", "scheduler.live_metrics_interval", "scheduler.cache_freshness_interval",
	"scheduler.live_metrics_window", "scheduler.min_trades_for_score", "scheduler.min_trades_for_frequency",
	"scheduler.min_days_for_frequency", "scheduler.log_interval",
	"thresholds.min_sharpe", "thresholds.min_win_rate", "thresholds.max_drawdown",
	"thresholds.min_total_trades", "thresholds.min_expectancy",
	"parametric.enabled",
	"backtest_engine.initial_capital", "backtest_engine.commission_rate",
	"backtest_engine.slippage_pct", "backtest_engine.max_positions",
	"executor.tick_interval",
}

// Load reads the configuration file at path, layers environment overrides
// prefixed STRATEGY_ENGINE_, and unmarshals into types.Config. Returns an
// error naming every missing required key rather than applying a default.
func Load(path string) (*types.Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	var missing []string
	for _, key := range requiredKeys {
		if !v.IsSet(key) {
			missing = append(missing, key)
		}
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("config: missing required keys: %s", strings.Join(missing, ", "))
	}

	var cfg types.Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}

	return &cfg, nil
}
