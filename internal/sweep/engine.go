package sweep

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"

	"github.com/aristath/sweepd/internal/cache"
	"github.com/aristath/sweepd/internal/domain"
)

// ProgressFunc receives one callback per completed combination.
type ProgressFunc func(current, total int, message string)

// Engine runs parameter sweeps: it enumerates the grid, evaluates every
// combination through the result cache on a fixed-size worker pool, and
// returns the ranked result set.
type Engine struct {
	cache     *cache.ResultCache
	evaluator domain.MetricEvaluator
	source    domain.PriceSource
	score     domain.Scorer
	workers   int
	log       zerolog.Logger
}

// NewEngine creates a sweep engine. Workers <= 0 defaults to 4.
func NewEngine(
	resultCache *cache.ResultCache,
	evaluator domain.MetricEvaluator,
	source domain.PriceSource,
	score domain.Scorer,
	workers int,
	log zerolog.Logger,
) *Engine {
	if workers <= 0 {
		workers = 4
	}
	return &Engine{
		cache:     resultCache,
		evaluator: evaluator,
		source:    source,
		score:     score,
		workers:   workers,
		log:       log.With().Str("component", "sweep_engine").Logger(),
	}
}

// Run executes the sweep described by cfg and returns the full result set
// ordered by descending composite score (ties broken by ascending windows).
// A single combination's failure produces a degraded result; the run fails
// only when zero combinations succeed. Cancellation is cooperative: it is
// checked before each combination starts, and in-flight evaluations finish.
func (e *Engine) Run(ctx context.Context, runID string, cfg Config, progress ProgressFunc) ([]domain.SweepResult, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	series, dataVersion, err := e.source.GetSeries(ctx, cfg.Instrument, cfg.Interval)
	if err != nil {
		return nil, domain.NewDataUnavailableError(err, "no price series for %s/%s", cfg.Instrument, cfg.Interval)
	}
	if len(series.Closes) == 0 {
		return nil, domain.NewDataUnavailableError(nil, "empty price series for %s/%s", cfg.Instrument, cfg.Interval)
	}

	combos := cfg.Combinations()
	total := len(combos)
	e.log.Info().
		Str("run_id", runID).
		Str("instrument", cfg.Instrument).
		Int("combinations", total).
		Msg("Sweep started")

	results := make([]domain.SweepResult, total)
	var completed int64

	jobs := make(chan int)
	var wg sync.WaitGroup
	for w := 0; w < e.workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for idx := range jobs {
				results[idx] = e.evaluateOne(ctx, runID, cfg, series, dataVersion, combos[idx])
				done := int(atomic.AddInt64(&completed, 1))
				if progress != nil {
					progress(done, total, fmt.Sprintf("Evaluated %s", combos[idx]))
				}
			}
		}()
	}

feed:
	for idx := range combos {
		// Cooperative cancellation: no new combination starts once cancellation
		// is observed; in-flight evaluations run to completion.
		select {
		case <-ctx.Done():
			break feed
		case jobs <- idx:
		}
	}
	close(jobs)
	wg.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	succeeded := 0
	for _, r := range results {
		if !r.Degraded() {
			succeeded++
		}
	}
	if succeeded == 0 {
		return nil, domain.NewEvaluationError(nil, "all %d combinations failed", total)
	}

	Rank(results)
	e.log.Info().
		Str("run_id", runID).
		Int("succeeded", succeeded).
		Int("degraded", total-succeeded).
		Msg("Sweep finished")
	return results, nil
}

// evaluateOne scores a single combination through the cache. Failures become
// degraded results instead of aborting the run.
func (e *Engine) evaluateOne(
	ctx context.Context,
	runID string,
	cfg Config,
	series domain.PriceSeries,
	dataVersion string,
	params domain.ParameterCombination,
) domain.SweepResult {
	result := domain.SweepResult{
		RunID:      runID,
		Instrument: cfg.Instrument,
		Strategy:   params.Strategy,
		Params:     params,
	}

	key := cache.Key{
		Instrument:  cfg.Instrument,
		Interval:    cfg.Interval,
		Params:      params,
		DataVersion: dataVersion,
	}
	bundle, err := e.cache.GetOrCompute(ctx, key, func(context.Context) (*domain.MetricBundle, error) {
		return e.evaluator.Evaluate(series, params)
	})
	if err != nil {
		e.log.Debug().Err(err).Str("params", params.String()).Msg("Combination evaluation failed")
		result.Error = err.Error()
		return result
	}

	result.Metrics = bundle
	result.CompositeScore = e.score(bundle)
	if cfg.MinTrades > 0 && bundle.TradeCount < cfg.MinTrades {
		// Scored but flagged, never silently dropped.
		result.Excluded = true
	}
	return result
}
