// Package domain holds the core value types shared by the sweep, selection
// and robustness packages.
package domain

import "fmt"

// StrategyKind identifies one of the supported crossover strategies.
type StrategyKind string

const (
	StrategySMACross StrategyKind = "sma_cross"
	StrategyEMACross StrategyKind = "ema_cross"
	StrategyMACD     StrategyKind = "macd"
)

// Valid reports whether the kind is one of the supported strategies.
func (k StrategyKind) Valid() bool {
	switch k {
	case StrategySMACross, StrategyEMACross, StrategyMACD:
		return true
	}
	return false
}

// RequiresSignal reports whether the strategy takes a third signal window.
func (k StrategyKind) RequiresSignal() bool {
	return k == StrategyMACD
}

// ParameterCombination is one point of the sweep grid. It is a comparable
// value type so it can serve as a map key.
type ParameterCombination struct {
	Strategy     StrategyKind `json:"strategy"`
	FastPeriod   int          `json:"fast_period"`
	SlowPeriod   int          `json:"slow_period"`
	SignalPeriod int          `json:"signal_period,omitempty"`
}

// Validate enforces the structural invariants: positive windows, fast
// strictly below slow, and a signal window present exactly when the strategy
// requires one.
func (p ParameterCombination) Validate() error {
	if !p.Strategy.Valid() {
		return NewConfigurationError("unknown strategy %q", p.Strategy)
	}
	if p.FastPeriod < 1 {
		return NewConfigurationError("fast period must be positive, got %d", p.FastPeriod)
	}
	if p.FastPeriod >= p.SlowPeriod {
		return NewConfigurationError("fast period %d must be below slow period %d", p.FastPeriod, p.SlowPeriod)
	}
	if p.Strategy.RequiresSignal() {
		if p.SignalPeriod < 1 {
			return NewConfigurationError("strategy %s requires a positive signal period", p.Strategy)
		}
	} else if p.SignalPeriod != 0 {
		return NewConfigurationError("strategy %s does not take a signal period", p.Strategy)
	}
	return nil
}

// Less defines the deterministic parameter ordering used for tie-breaking:
// strategy, then fast, slow and signal windows ascending.
func (p ParameterCombination) Less(other ParameterCombination) bool {
	if p.Strategy != other.Strategy {
		return p.Strategy < other.Strategy
	}
	if p.FastPeriod != other.FastPeriod {
		return p.FastPeriod < other.FastPeriod
	}
	if p.SlowPeriod != other.SlowPeriod {
		return p.SlowPeriod < other.SlowPeriod
	}
	return p.SignalPeriod < other.SignalPeriod
}

func (p ParameterCombination) String() string {
	if p.Strategy.RequiresSignal() {
		return fmt.Sprintf("%s(%d,%d,%d)", p.Strategy, p.FastPeriod, p.SlowPeriod, p.SignalPeriod)
	}
	return fmt.Sprintf("%s(%d,%d)", p.Strategy, p.FastPeriod, p.SlowPeriod)
}
