package evaluator

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/sweepd/internal/domain"
)

func smaParams(fast, slow int) domain.ParameterCombination {
	return domain.ParameterCombination{Strategy: domain.StrategySMACross, FastPeriod: fast, SlowPeriod: slow}
}

// trendingUp is a steadily rising series: any crossover strategy should stay
// long and profit.
func trendingUp(n int) domain.PriceSeries {
	closes := make([]float64, n)
	for i := range closes {
		closes[i] = 100 * math.Pow(1.002, float64(i))
	}
	return domain.PriceSeries{Closes: closes}
}

// choppy oscillates around a flat level.
func choppy(n int) domain.PriceSeries {
	closes := make([]float64, n)
	for i := range closes {
		closes[i] = 100 + 5*math.Sin(float64(i)/3)
	}
	return domain.PriceSeries{Closes: closes}
}

func TestEvaluateUptrendProfits(t *testing.T) {
	e := New()
	bundle, err := e.Evaluate(trendingUp(200), smaParams(5, 20))
	require.NoError(t, err)

	assert.Greater(t, bundle.TotalReturn, 0.0)
	assert.Greater(t, bundle.Sharpe, 0.0)
	assert.GreaterOrEqual(t, bundle.TradeCount, 1)
	assert.GreaterOrEqual(t, bundle.WinRate, 0.0)
	assert.LessOrEqual(t, bundle.WinRate, 1.0)
	assert.GreaterOrEqual(t, bundle.MaxDrawdown, 0.0)
}

func TestEvaluateIsDeterministic(t *testing.T) {
	e := New()
	series := choppy(300)

	first, err := e.Evaluate(series, smaParams(5, 20))
	require.NoError(t, err)
	second, err := e.Evaluate(series, smaParams(5, 20))
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestEvaluateStrategies(t *testing.T) {
	e := New()
	series := choppy(300)

	tests := []struct {
		name   string
		params domain.ParameterCombination
	}{
		{"sma crossover", smaParams(5, 20)},
		{"ema crossover", domain.ParameterCombination{Strategy: domain.StrategyEMACross, FastPeriod: 5, SlowPeriod: 20}},
		{"macd", domain.ParameterCombination{Strategy: domain.StrategyMACD, FastPeriod: 12, SlowPeriod: 26, SignalPeriod: 9}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bundle, err := e.Evaluate(series, tt.params)
			require.NoError(t, err)
			require.NotNil(t, bundle)
			assert.GreaterOrEqual(t, bundle.MaxDrawdown, 0.0)
			assert.LessOrEqual(t, bundle.MaxDrawdown, 1.0)
		})
	}
}

func TestEvaluateChoppyMarketTrades(t *testing.T) {
	e := New()
	bundle, err := e.Evaluate(choppy(300), smaParams(3, 10))
	require.NoError(t, err)

	// Oscillating prices force repeated crossovers.
	assert.Greater(t, bundle.TradeCount, 2)
	assert.False(t, math.IsNaN(bundle.Expectancy))
	assert.False(t, math.IsNaN(bundle.Sharpe))
	assert.False(t, math.IsNaN(bundle.Sortino))
}

func TestEvaluateSeriesTooShort(t *testing.T) {
	e := New()
	_, err := e.Evaluate(trendingUp(15), smaParams(5, 20))
	require.Error(t, err)
	assert.Equal(t, domain.KindEvaluation, domain.KindOf(err))
}

func TestEvaluateInvalidParams(t *testing.T) {
	e := New()
	_, err := e.Evaluate(trendingUp(200), smaParams(20, 5))
	require.Error(t, err)
	assert.Equal(t, domain.KindConfiguration, domain.KindOf(err))
}
