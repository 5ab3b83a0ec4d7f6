// Package pipelineerr defines the shared error taxonomy used across the
// pipeline's components so callers can classify failures with errors.Is
// instead of string matching. Components return (ok, reason) pairs or a
// wrapped sentinel from this package; they never let a panic escape into an
// orchestrator's main loop.
package pipelineerr

import "errors"

var (
	// ErrCacheNotFound means no cached OHLCV file exists for the requested
	// (symbol, timeframe).
	ErrCacheNotFound = errors.New("cache not found")

	// ErrInsufficientCoverage means a cached series exists but its covered
	// span is below the configured minimum coverage fraction.
	ErrInsufficientCoverage = errors.New("insufficient coverage")

	// ErrInsufficientLiquidity means a candidate coin failed the minimum
	// liquidity filter during coin-set selection.
	ErrInsufficientLiquidity = errors.New("insufficient liquidity")

	// ErrInsufficientCache means fewer cached symbols survived selection
	// than the configured minimum count.
	ErrInsufficientCache = errors.New("insufficient cache")

	// ErrLoaderError means a strategy's code failed to load/compile into a
	// loader.Instance (the strategy's Evaluate capability).
	ErrLoaderError = errors.New("loader error")

	// ErrEvaluationFailure means a training/holdout backtest run itself
	// failed (not a score judgment).
	ErrEvaluationFailure = errors.New("evaluation failure")

	// ErrValidationFailure means the anti-overfit gate rejected a strategy.
	ErrValidationFailure = errors.New("validation failure")

	// ErrPoolReject means the ACTIVE-pool leaderboard declined admission.
	ErrPoolReject = errors.New("pool reject")

	// ErrVenueError means the execution venue rejected or failed a request.
	ErrVenueError = errors.New("venue error")

	// ErrStaleClaim means a claimed row's lease already expired or was
	// claimed by a different process than the caller believes.
	ErrStaleClaim = errors.New("stale claim")

	// ErrEmergencyStop means a risk check tripped a hard stop condition.
	ErrEmergencyStop = errors.New("emergency stop")

	// ErrNotFound means the requested entity does not exist in the store.
	ErrNotFound = errors.New("not found")
)
