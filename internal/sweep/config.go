// Package sweep enumerates and scores strategy parameter grids.
package sweep

import (
	"sort"

	"github.com/aristath/sweepd/internal/domain"
)

// Config describes one sweep run: the instrument, the strategy kinds, and the
// window grid bounds. MinTrades is the minimum-trade filter; zero disables it.
type Config struct {
	Instrument string                `json:"instrument"`
	Interval   string                `json:"interval"`
	Strategies []domain.StrategyKind `json:"strategies"`

	MinWindow int `json:"min_window"`
	MaxWindow int `json:"max_window"`

	// Optional explicit ranges. When set they narrow the shared bounds, e.g.
	// fast in [5,10] with slow in [15,30]. Zero means "derive from the shared
	// window bounds".
	FastMin int `json:"fast_min,omitempty"`
	FastMax int `json:"fast_max,omitempty"`
	SlowMin int `json:"slow_min,omitempty"`
	SlowMax int `json:"slow_max,omitempty"`

	// Signal window range for strategies with a signal line.
	SignalMin int `json:"signal_min,omitempty"`
	SignalMax int `json:"signal_max,omitempty"`

	MinTrades int `json:"min_trades,omitempty"`
}

// fastRange returns the effective fast-window range.
func (c Config) fastRange() (int, int) {
	lo, hi := c.MinWindow, c.MaxWindow-1
	if c.FastMin > 0 {
		lo = c.FastMin
	}
	if c.FastMax > 0 {
		hi = c.FastMax
	}
	return lo, hi
}

// slowRange returns the effective slow-window range.
func (c Config) slowRange() (int, int) {
	lo, hi := c.MinWindow+1, c.MaxWindow
	if c.SlowMin > 0 {
		lo = c.SlowMin
	}
	if c.SlowMax > 0 {
		hi = c.SlowMax
	}
	return lo, hi
}

// Validate rejects grids that admit zero combinations and malformed options.
func (c Config) Validate() error {
	if c.Instrument == "" {
		return domain.NewConfigurationError("instrument is required")
	}
	if c.Interval == "" {
		return domain.NewConfigurationError("interval is required")
	}
	if len(c.Strategies) == 0 {
		return domain.NewConfigurationError("at least one strategy kind is required")
	}
	for _, s := range c.Strategies {
		if !s.Valid() {
			return domain.NewConfigurationError("unknown strategy kind %q", s)
		}
	}
	if c.MinWindow < 1 {
		return domain.NewConfigurationError("min window must be positive, got %d", c.MinWindow)
	}
	if c.MaxWindow <= c.MinWindow {
		return domain.NewConfigurationError("window bounds [%d, %d] admit zero fast<slow pairs", c.MinWindow, c.MaxWindow)
	}
	fastLo, fastHi := c.fastRange()
	slowLo, slowHi := c.slowRange()
	if fastLo < 1 || fastHi < fastLo {
		return domain.NewConfigurationError("fast range [%d, %d] is empty", fastLo, fastHi)
	}
	if slowHi < slowLo {
		return domain.NewConfigurationError("slow range [%d, %d] is empty", slowLo, slowHi)
	}
	if slowHi <= fastLo {
		return domain.NewConfigurationError("ranges fast [%d, %d] and slow [%d, %d] admit zero fast<slow pairs", fastLo, fastHi, slowLo, slowHi)
	}
	if c.MinTrades < 0 {
		return domain.NewConfigurationError("min trades must not be negative, got %d", c.MinTrades)
	}
	for _, s := range c.Strategies {
		if s.RequiresSignal() {
			lo, hi := c.signalRange()
			if lo < 1 || hi < lo {
				return domain.NewConfigurationError("signal range [%d, %d] admits zero signal periods", lo, hi)
			}
		}
	}
	return nil
}

// signalRange returns the effective signal window range, defaulting to the
// conventional 9-period signal when unset.
func (c Config) signalRange() (int, int) {
	lo, hi := c.SignalMin, c.SignalMax
	if lo == 0 && hi == 0 {
		return 9, 9
	}
	if hi == 0 {
		hi = lo
	}
	return lo, hi
}

// Combinations enumerates every valid parameter combination in deterministic
// order: strategy kinds in the configured order, then fast ascending, slow
// ascending, signal ascending. Every pair satisfies
// min_window <= fast < slow <= max_window.
func (c Config) Combinations() []domain.ParameterCombination {
	fastLo, fastHi := c.fastRange()
	slowLo, slowHi := c.slowRange()

	var out []domain.ParameterCombination
	for _, strategy := range c.Strategies {
		for fast := fastLo; fast <= fastHi; fast++ {
			for slow := max(slowLo, fast+1); slow <= slowHi; slow++ {
				if strategy.RequiresSignal() {
					lo, hi := c.signalRange()
					for signal := lo; signal <= hi; signal++ {
						out = append(out, domain.ParameterCombination{
							Strategy: strategy, FastPeriod: fast, SlowPeriod: slow, SignalPeriod: signal,
						})
					}
				} else {
					out = append(out, domain.ParameterCombination{
						Strategy: strategy, FastPeriod: fast, SlowPeriod: slow,
					})
				}
			}
		}
	}
	return out
}

// CombinationCount returns the grid size without materializing it.
func (c Config) CombinationCount() int {
	fastLo, fastHi := c.fastRange()
	slowLo, slowHi := c.slowRange()

	pairs := 0
	for fast := fastLo; fast <= fastHi; fast++ {
		lo := max(slowLo, fast+1)
		if slowHi >= lo {
			pairs += slowHi - lo + 1
		}
	}
	count := 0
	for _, strategy := range c.Strategies {
		if strategy.RequiresSignal() {
			lo, hi := c.signalRange()
			count += pairs * (hi - lo + 1)
		} else {
			count += pairs
		}
	}
	return count
}

// Rank orders results in place: composite score descending, degraded results
// last, ties broken by the deterministic parameter ordering.
func Rank(results []domain.SweepResult) {
	sort.SliceStable(results, func(i, j int) bool {
		a, b := results[i], results[j]
		if a.Degraded() != b.Degraded() {
			return !a.Degraded()
		}
		if a.CompositeScore != b.CompositeScore {
			return a.CompositeScore > b.CompositeScore
		}
		return a.Params.Less(b.Params)
	})
}
