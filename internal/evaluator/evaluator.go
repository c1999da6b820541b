// Package evaluator ships the default metric evaluator: long/flat crossover
// strategies computed with talib over a close-price series.
package evaluator

import (
	"math"

	"github.com/markcheno/go-talib"
	"gonum.org/v1/gonum/stat"

	"github.com/aristath/sweepd/internal/domain"
)

// periodsPerYear annualizes ratio metrics for daily series.
const periodsPerYear = 252

// Evaluator scores a parameter combination by simulating its crossover
// signals over the series. It is pure: identical inputs produce identical
// bundles.
type Evaluator struct{}

func New() *Evaluator { return &Evaluator{} }

// Evaluate simulates the strategy long/flat over the series and returns the
// metric bundle. The series must cover the warm-up of the slowest indicator.
func (e *Evaluator) Evaluate(series domain.PriceSeries, params domain.ParameterCombination) (*domain.MetricBundle, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}

	closes := series.Closes
	warmup := params.SlowPeriod + params.SignalPeriod
	if len(closes) <= warmup+1 {
		return nil, domain.NewEvaluationError(nil,
			"series of %d closes is too short for %s (needs more than %d)", len(closes), params, warmup+1)
	}

	long, err := signalLine(closes, params)
	if err != nil {
		return nil, err
	}

	return simulate(closes, long, warmup), nil
}

// signalLine computes the per-bar long/flat signal for the strategy.
func signalLine(closes []float64, params domain.ParameterCombination) ([]bool, error) {
	long := make([]bool, len(closes))

	switch params.Strategy {
	case domain.StrategySMACross:
		fast := talib.Sma(closes, params.FastPeriod)
		slow := talib.Sma(closes, params.SlowPeriod)
		crossSignal(long, fast, slow, params.SlowPeriod-1)
	case domain.StrategyEMACross:
		fast := talib.Ema(closes, params.FastPeriod)
		slow := talib.Ema(closes, params.SlowPeriod)
		crossSignal(long, fast, slow, params.SlowPeriod-1)
	case domain.StrategyMACD:
		macdLine, macdSignal, _ := talib.Macd(closes, params.FastPeriod, params.SlowPeriod, params.SignalPeriod)
		crossSignal(long, macdLine, macdSignal, params.SlowPeriod+params.SignalPeriod-1)
	default:
		return nil, domain.NewEvaluationError(nil, "no signal rule for strategy %q", params.Strategy)
	}
	return long, nil
}

// crossSignal marks bars where the fast line sits above the slow line,
// starting after the indicator warm-up.
func crossSignal(long []bool, fast, slow []float64, warmup int) {
	for i := warmup; i < len(long); i++ {
		long[i] = fast[i] > slow[i]
	}
}

// simulate walks the series applying yesterday's signal to today's return,
// tracking round-trip trades, and derives the metric bundle.
func simulate(closes []float64, long []bool, warmup int) *domain.MetricBundle {
	var (
		strategyReturns []float64
		equity          = 1.0
		peak            = 1.0
		maxDrawdown     float64

		inPosition bool
		entryPrice float64
		tradeRets  []float64
	)

	for i := warmup + 1; i < len(closes); i++ {
		barReturn := 0.0
		if closes[i-1] != 0 {
			barReturn = (closes[i] - closes[i-1]) / closes[i-1]
		}

		held := long[i-1]
		r := 0.0
		if held {
			r = barReturn
		}
		strategyReturns = append(strategyReturns, r)

		equity *= 1 + r
		if equity > peak {
			peak = equity
		}
		if dd := (peak - equity) / peak; dd > maxDrawdown {
			maxDrawdown = dd
		}

		// Trade bookkeeping on signal edges.
		if held && !inPosition {
			inPosition = true
			entryPrice = closes[i-1]
		}
		if inPosition && (!long[i] || i == len(closes)-1) {
			inPosition = false
			if entryPrice != 0 {
				tradeRets = append(tradeRets, (closes[i]-entryPrice)/entryPrice)
			}
		}
	}

	bundle := &domain.MetricBundle{
		TotalReturn: equity - 1,
		MaxDrawdown: maxDrawdown,
		TradeCount:  len(tradeRets),
	}

	if len(strategyReturns) > 1 {
		mean := stat.Mean(strategyReturns, nil)
		if sd := stat.StdDev(strategyReturns, nil); sd > 0 {
			bundle.Sharpe = mean / sd * math.Sqrt(periodsPerYear)
		}
		if dsd := downsideDev(strategyReturns); dsd > 0 {
			bundle.Sortino = mean / dsd * math.Sqrt(periodsPerYear)
		}
	}

	if len(tradeRets) > 0 {
		wins := 0
		for _, r := range tradeRets {
			if r > 0 {
				wins++
			}
		}
		bundle.WinRate = float64(wins) / float64(len(tradeRets))
		bundle.Expectancy = stat.Mean(tradeRets, nil)
	}
	return bundle
}

// downsideDev is the standard deviation of negative returns only, the
// Sortino denominator.
func downsideDev(returns []float64) float64 {
	sumSq := 0.0
	for _, r := range returns {
		if r < 0 {
			sumSq += r * r
		}
	}
	return math.Sqrt(sumSq / float64(len(returns)))
}
