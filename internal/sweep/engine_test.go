package sweep

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/sweepd/internal/cache"
	"github.com/aristath/sweepd/internal/domain"
)

// evaluatorFunc adapts a function to the MetricEvaluator interface.
type evaluatorFunc func(series domain.PriceSeries, params domain.ParameterCombination) (*domain.MetricBundle, error)

func (f evaluatorFunc) Evaluate(series domain.PriceSeries, params domain.ParameterCombination) (*domain.MetricBundle, error) {
	return f(series, params)
}

// stubSource serves a fixed series with a fixed data version.
type stubSource struct {
	series domain.PriceSeries
	err    error
}

func (s stubSource) GetSeries(ctx context.Context, instrument, interval string) (domain.PriceSeries, string, error) {
	if s.err != nil {
		return domain.PriceSeries{}, "", s.err
	}
	return s.series, "v1", nil
}

func flatSeries(n int) domain.PriceSeries {
	closes := make([]float64, n)
	for i := range closes {
		closes[i] = 100 + float64(i%7)
	}
	return domain.PriceSeries{Closes: closes}
}

func scoreBySharpe(b *domain.MetricBundle) float64 { return b.Sharpe }

func newTestEngine(eval domain.MetricEvaluator, source domain.PriceSource, workers int) *Engine {
	c := cache.New(cache.Config{}, zerolog.Nop())
	return NewEngine(c, eval, source, scoreBySharpe, workers, zerolog.Nop())
}

func sweepConfig() Config {
	return Config{
		Instrument: "X",
		Interval:   "1d",
		Strategies: []domain.StrategyKind{domain.StrategySMACross},
		MinWindow:  5,
		MaxWindow:  15,
	}
}

func TestCombinationsRespectWindowInvariant(t *testing.T) {
	cfg := Config{
		Instrument: "X",
		Interval:   "1d",
		Strategies: []domain.StrategyKind{domain.StrategySMACross, domain.StrategyMACD},
		MinWindow:  3,
		MaxWindow:  12,
		SignalMin:  7,
		SignalMax:  9,
	}
	require.NoError(t, cfg.Validate())

	combos := cfg.Combinations()
	require.NotEmpty(t, combos)
	for _, p := range combos {
		assert.Less(t, p.FastPeriod, p.SlowPeriod, "%s violates fast<slow", p)
		assert.NoError(t, p.Validate())
	}
	assert.Equal(t, cfg.CombinationCount(), len(combos))
}

func TestCombinationCountMatchesClosedForm(t *testing.T) {
	// fast in [5,10], slow in [15,30]: sum over f of |{s in [15,30]: s > f}|.
	cfg := Config{
		Instrument: "X",
		Interval:   "1d",
		Strategies: []domain.StrategyKind{domain.StrategySMACross},
		MinWindow:  5,
		MaxWindow:  30,
		FastMin:    5, FastMax: 10,
		SlowMin: 15, SlowMax: 30,
	}
	require.NoError(t, cfg.Validate())

	expected := 0
	for f := 5; f <= 10; f++ {
		for s := 15; s <= 30; s++ {
			if s > f {
				expected++
			}
		}
	}
	assert.Equal(t, expected, cfg.CombinationCount())
	assert.Len(t, cfg.Combinations(), expected)
}

func TestValidateRejectsEmptyGrids(t *testing.T) {
	cfg := sweepConfig()
	cfg.MaxWindow = cfg.MinWindow
	err := cfg.Validate()
	require.Error(t, err)
	assert.Equal(t, domain.KindConfiguration, domain.KindOf(err))
}

func TestRunFullGridNoFilter(t *testing.T) {
	eval := evaluatorFunc(func(_ domain.PriceSeries, p domain.ParameterCombination) (*domain.MetricBundle, error) {
		return &domain.MetricBundle{Sharpe: 1.0 / float64(p.FastPeriod+p.SlowPeriod), TradeCount: 10}, nil
	})
	engine := newTestEngine(eval, stubSource{series: flatSeries(300)}, 4)

	cfg := sweepConfig()
	results, err := engine.Run(context.Background(), "run-1", cfg, nil)
	require.NoError(t, err)
	require.Len(t, results, cfg.CombinationCount())

	for _, r := range results {
		assert.False(t, r.Excluded, "filter disabled, nothing excluded")
		assert.False(t, r.Degraded())
		assert.Less(t, r.Params.FastPeriod, r.Params.SlowPeriod)
	}

	// Ranked by descending score with deterministic tie-breaks.
	for i := 1; i < len(results); i++ {
		prev, cur := results[i-1], results[i]
		if prev.CompositeScore == cur.CompositeScore {
			assert.True(t, prev.Params.Less(cur.Params))
		} else {
			assert.Greater(t, prev.CompositeScore, cur.CompositeScore)
		}
	}
}

func TestRunEmitsOneProgressEventPerCombination(t *testing.T) {
	eval := evaluatorFunc(func(_ domain.PriceSeries, _ domain.ParameterCombination) (*domain.MetricBundle, error) {
		return &domain.MetricBundle{TradeCount: 5}, nil
	})
	engine := newTestEngine(eval, stubSource{series: flatSeries(100)}, 3)

	cfg := sweepConfig()
	var events int64
	_, err := engine.Run(context.Background(), "run-1", cfg, func(current, total int, message string) {
		atomic.AddInt64(&events, 1)
		assert.Equal(t, cfg.CombinationCount(), total)
		assert.GreaterOrEqual(t, current, 1)
		assert.LessOrEqual(t, current, total)
	})
	require.NoError(t, err)
	assert.Equal(t, int64(cfg.CombinationCount()), atomic.LoadInt64(&events))
}

func TestRunMinTradeFilterFlagsWithoutDropping(t *testing.T) {
	eval := evaluatorFunc(func(_ domain.PriceSeries, p domain.ParameterCombination) (*domain.MetricBundle, error) {
		// Give short fast windows too few trades.
		trades := p.FastPeriod
		return &domain.MetricBundle{Sharpe: 1, TradeCount: trades}, nil
	})
	engine := newTestEngine(eval, stubSource{series: flatSeries(100)}, 2)

	cfg := sweepConfig()
	cfg.MinTrades = 8
	results, err := engine.Run(context.Background(), "run-1", cfg, nil)
	require.NoError(t, err)
	require.Len(t, results, cfg.CombinationCount())

	excluded := 0
	for _, r := range results {
		require.NotNil(t, r.Metrics)
		if r.Metrics.TradeCount < cfg.MinTrades {
			assert.True(t, r.Excluded)
			excluded++
		} else {
			assert.False(t, r.Excluded)
		}
	}
	assert.Positive(t, excluded)
}

func TestRunRecordsDegradedResults(t *testing.T) {
	eval := evaluatorFunc(func(_ domain.PriceSeries, p domain.ParameterCombination) (*domain.MetricBundle, error) {
		if p.FastPeriod == 5 {
			return nil, fmt.Errorf("degenerate window %d", p.FastPeriod)
		}
		return &domain.MetricBundle{Sharpe: 1, TradeCount: 5}, nil
	})
	engine := newTestEngine(eval, stubSource{series: flatSeries(100)}, 2)

	cfg := sweepConfig()
	results, err := engine.Run(context.Background(), "run-1", cfg, nil)
	require.NoError(t, err)
	require.Len(t, results, cfg.CombinationCount())

	degraded := 0
	for _, r := range results {
		if r.Degraded() {
			degraded++
			assert.NotEmpty(t, r.Error)
		}
	}
	assert.Positive(t, degraded)

	// Degraded results rank after every scored result.
	seenDegraded := false
	for _, r := range results {
		if r.Degraded() {
			seenDegraded = true
		} else {
			assert.False(t, seenDegraded, "scored result ranked after a degraded one")
		}
	}
}

func TestRunFailsWhenAllCombinationsFail(t *testing.T) {
	eval := evaluatorFunc(func(_ domain.PriceSeries, _ domain.ParameterCombination) (*domain.MetricBundle, error) {
		return nil, errors.New("nope")
	})
	engine := newTestEngine(eval, stubSource{series: flatSeries(100)}, 2)

	_, err := engine.Run(context.Background(), "run-1", sweepConfig(), nil)
	require.Error(t, err)
	assert.Equal(t, domain.KindEvaluation, domain.KindOf(err))
}

func TestRunFailsOnMissingData(t *testing.T) {
	engine := newTestEngine(nil, stubSource{err: errors.New("not found")}, 2)

	_, err := engine.Run(context.Background(), "run-1", sweepConfig(), nil)
	require.Error(t, err)
	assert.Equal(t, domain.KindDataUnavailable, domain.KindOf(err))
}

func TestRunStopsOnCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	var evaluated int64
	eval := evaluatorFunc(func(_ domain.PriceSeries, _ domain.ParameterCombination) (*domain.MetricBundle, error) {
		if atomic.AddInt64(&evaluated, 1) == 3 {
			cancel()
		}
		return &domain.MetricBundle{TradeCount: 5}, nil
	})
	engine := newTestEngine(eval, stubSource{series: flatSeries(100)}, 1)

	cfg := sweepConfig()
	_, err := engine.Run(ctx, "run-1", cfg, nil)
	require.ErrorIs(t, err, context.Canceled)
	assert.Less(t, atomic.LoadInt64(&evaluated), int64(cfg.CombinationCount()),
		"no new work after cancellation observed")
}
