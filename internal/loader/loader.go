// Package loader is the external strategy-code loader boundary described
// in spec §6: given a strategy's opaque code blob it produces a capability
// object the backtest engine and parametric kernel can evaluate, without
// the rest of the pipeline ever inspecting the blob's internals.
//
// The authoring side (prompt construction, indicator enumeration, code
// generation) is out of scope; what lands in Strategy.Code here is a
// closed, line-oriented descriptor rather than arbitrary source, which is
// the narrow-plugin-ABI reading of §9's "sandboxed expression/bytecode
// interpreter" note — there is no eval, no reflection into user code, only
// a fixed vocabulary of indicator families this package itself implements.
package loader

import (
	"bufio"
	"bytes"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/atlas-desktop/strategy-engine/internal/pipelineerr"
	"github.com/atlas-desktop/strategy-engine/pkg/types"
)

// IndicatorFamily is the closed set of entry-signal shapes the loader can
// interpret. Anything outside this set is a LoaderError.
type IndicatorFamily string

const (
	FamilyEMACross    IndicatorFamily = "ema_cross"
	FamilySMACross    IndicatorFamily = "sma_cross"
	FamilyRSIOversold IndicatorFamily = "rsi_oversold"
	FamilyRSIOverbought IndicatorFamily = "rsi_overbought"
	FamilyBreakout    IndicatorFamily = "breakout"
	FamilyBollinger   IndicatorFamily = "bollinger_reversion"
)

// Descriptor is the parsed form of a strategy's code blob.
type Descriptor struct {
	Kind         types.StrategyKind
	Direction    types.SignalDirection
	SignalColumn string
	Family       IndicatorFamily
	FastPeriod   int
	SlowPeriod   int
	RSIPeriod    int
	RSIThreshold float64
	BandPeriod   int
	BandWidth    float64
	Params       types.StrategyParameter
}

// attributeLines lists the class-level attribute names the Parametric
// Multiplier (§4.11) is allowed to rewrite. Substitute never touches any
// other line, so the rest of the descriptor (indicator family, periods,
// direction) survives promotion unchanged.
var attributeLines = map[string]*regexp.Regexp{
	"sl_pct":    regexp.MustCompile(`(?m)^sl_pct\s*=\s*[^\n]*$`),
	"tp_pct":    regexp.MustCompile(`(?m)^tp_pct\s*=\s*[^\n]*$`),
	"leverage":  regexp.MustCompile(`(?m)^leverage\s*=\s*[^\n]*$`),
	"exit_bars": regexp.MustCompile(`(?m)^exit_bars\s*=\s*[^\n]*$`),
}

// Instance is a loaded strategy, satisfying backtester.StrategyCapability.
type Instance struct {
	Descriptor
}

// Load parses codeBytes into an Instance. name is used only for error
// context; the loader does not persist or validate uniqueness.
func Load(name string, codeBytes []byte) (*Instance, error) {
	d, err := parse(codeBytes)
	if err != nil {
		return nil, fmt.Errorf("loader: %s: %w: %w", name, pipelineerr.ErrLoaderError, err)
	}
	return &Instance{Descriptor: *d}, nil
}

func parse(codeBytes []byte) (*Descriptor, error) {
	d := &Descriptor{
		SignalColumn: "entry_signal",
		Direction:    types.DirectionLong,
	}
	seen := make(map[string]bool)

	scanner := bufio.NewScanner(bytes.NewReader(codeBytes))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			return nil, fmt.Errorf("malformed line %q", line)
		}
		key = strings.TrimSpace(key)
		value = strings.TrimSpace(strings.Trim(value, `"'`))

		var err error
		switch key {
		case "kind":
			d.Kind = types.StrategyKind(value)
		case "direction":
			d.Direction = types.SignalDirection(value)
		case "signal_column":
			d.SignalColumn = value
		case "family":
			d.Family = IndicatorFamily(value)
		case "fast_period":
			d.FastPeriod, err = strconv.Atoi(value)
		case "slow_period":
			d.SlowPeriod, err = strconv.Atoi(value)
		case "rsi_period":
			d.RSIPeriod, err = strconv.Atoi(value)
		case "rsi_threshold":
			d.RSIThreshold, err = strconv.ParseFloat(value, 64)
		case "band_period":
			d.BandPeriod, err = strconv.Atoi(value)
		case "band_width":
			d.BandWidth, err = strconv.ParseFloat(value, 64)
		case "sl_pct":
			d.Params.StopLossPct, err = strconv.ParseFloat(value, 64)
			seen["sl_pct"] = true
		case "tp_pct":
			d.Params.TakeProfitPct, err = strconv.ParseFloat(value, 64)
			seen["tp_pct"] = true
		case "leverage":
			d.Params.Leverage, err = strconv.Atoi(value)
			seen["leverage"] = true
		case "exit_bars":
			d.Params.ExitBars, err = strconv.Atoi(value)
			seen["exit_bars"] = true
		default:
			// Unknown attributes are tolerated (forward compatibility with
			// authoring-side metadata we don't interpret), matching the
			// loader's role as a narrow capability extractor, not a full
			// validator of every field the authoring service writes.
		}
		if err != nil {
			return nil, fmt.Errorf("attribute %s: %w", key, err)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}

	switch d.Family {
	case FamilyEMACross, FamilySMACross, FamilyRSIOversold, FamilyRSIOverbought, FamilyBreakout, FamilyBollinger:
	default:
		return nil, fmt.Errorf("unknown indicator family %q", d.Family)
	}
	if !seen["sl_pct"] || !seen["leverage"] {
		return nil, fmt.Errorf("missing required attribute (sl_pct/leverage)")
	}
	if !seen["tp_pct"] && !seen["exit_bars"] {
		return nil, fmt.Errorf("strategy has neither tp_pct nor exit_bars: no exit defined")
	}
	return d, nil
}

// Substitute rewrites the four class-level tunable attributes in codeBytes
// to params' values and re-parses the result, matching §4.11's invariant
// that a rewritten child must still load before it is promoted. The
// original bytes are never mutated in place; a failure returns the
// original unchanged alongside the error.
func Substitute(codeBytes []byte, params types.StrategyParameter) ([]byte, error) {
	out := append([]byte(nil), codeBytes...)
	replacements := map[string]string{
		"sl_pct":    fmt.Sprintf("sl_pct = %g", params.StopLossPct),
		"tp_pct":    fmt.Sprintf("tp_pct = %g", params.TakeProfitPct),
		"leverage":  fmt.Sprintf("leverage = %d", params.Leverage),
		"exit_bars": fmt.Sprintf("exit_bars = %d", params.ExitBars),
	}
	for attr, re := range attributeLines {
		repl := replacements[attr]
		if re.Match(out) {
			out = re.ReplaceAll(out, []byte(repl))
		} else {
			out = append(out, '\n')
			out = append(out, repl...)
		}
	}
	if _, err := parse(out); err != nil {
		return codeBytes, fmt.Errorf("loader: substitution produced unparseable code: %w", err)
	}
	return out, nil
}
