package robustness

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"
	"gonum.org/v1/gonum/stat"

	"github.com/aristath/sweepd/internal/domain"
)

// ProgressFunc receives one callback per completed simulation batch.
type ProgressFunc func(current, total int, message string)

// Validator runs the Monte Carlo robustness pipeline: block-bootstrap
// resampling, Gaussian parameter perturbation and regime-consistency checks.
type Validator struct {
	evaluator domain.MetricEvaluator
	score     domain.Scorer
	workers   int
	log       zerolog.Logger
}

// NewValidator creates a robustness validator. Workers <= 0 defaults to 2.
func NewValidator(evaluator domain.MetricEvaluator, score domain.Scorer, workers int, log zerolog.Logger) *Validator {
	if workers <= 0 {
		workers = 2
	}
	return &Validator{
		evaluator: evaluator,
		score:     score,
		workers:   workers,
		log:       log.With().Str("component", "robustness_validator").Logger(),
	}
}

// batchStats aggregates the outcome of one simulation batch.
type batchStats struct {
	stable    int
	tested    int
	discarded int
}

// Validate stress-tests candidate against resampled and perturbed variants of
// the return series. When the candidate cannot be evaluated at all it was
// never part of the tested variation set: the report comes back with nil
// numeric fields and Validated=false, never silently defaulted numbers.
func (v *Validator) Validate(
	ctx context.Context,
	candidate domain.ParameterCombination,
	returns []float64,
	cfg Config,
	progress ProgressFunc,
) (domain.RobustnessReport, error) {
	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return domain.RobustnessReport{}, err
	}

	report := domain.RobustnessReport{Params: candidate}

	if err := candidate.Validate(); err != nil {
		return notValidated(report, fmt.Sprintf("candidate %s is not a valid combination: %v", candidate, err)), nil
	}

	prices := pricesFromReturns(returns)
	baseline, err := v.evaluator.Evaluate(prices, candidate)
	if err != nil {
		return notValidated(report, fmt.Sprintf("candidate %s was never tested: baseline evaluation failed: %v", candidate, err)), nil
	}
	baseSign := sign(baseline.TotalReturn)
	neighbors := v.neighborSet(candidate, cfg)
	baseRank := v.rankAmong(prices, candidate, neighbors)

	seed := cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}

	// Bootstrap phase: batches run on the worker pool; cancellation is
	// cooperative and checked between batches, never mid-batch.
	totalBatches := (cfg.NumSimulations + cfg.BatchSize - 1) / cfg.BatchSize

	var (
		mu        sync.Mutex
		total     batchStats
		attempted int
		succeeded int
		completed int
		warnings  []string
	)

	jobs := make(chan int)
	var wg sync.WaitGroup
	for w := 0; w < v.workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for batchIdx := range jobs {
				size := cfg.BatchSize
				if batchIdx == totalBatches-1 {
					size = cfg.NumSimulations - batchIdx*cfg.BatchSize
				}

				stats, err := v.runBatchWithRetry(ctx, seed, batchIdx, returns, candidate, neighbors, baseSign, baseRank, cfg, size)

				mu.Lock()
				attempted++
				if err != nil {
					warnings = append(warnings, fmt.Sprintf("batch %d excluded after retry: %v", batchIdx, err))
				} else {
					succeeded++
					total.stable += stats.stable
					total.tested += stats.tested
					total.discarded += stats.discarded
				}
				completed++
				done := completed
				mu.Unlock()

				if progress != nil {
					progress(done, totalBatches, fmt.Sprintf("Simulated batch %d/%d", done, totalBatches))
				}
			}
		}()
	}

feed:
	for i := 0; i < totalBatches; i++ {
		select {
		case <-ctx.Done():
			break feed
		case jobs <- i:
		}
	}
	close(jobs)
	wg.Wait()

	if err := ctx.Err(); err != nil {
		return domain.RobustnessReport{}, err
	}

	if rate := float64(succeeded) / float64(attempted); rate < cfg.MinSuccessRate {
		return domain.RobustnessReport{}, domain.NewSimulationError(nil,
			"only %.0f%% of simulation batches succeeded, below the %.0f%% floor",
			rate*100, cfg.MinSuccessRate*100)
	}
	if total.tested == 0 {
		return notValidated(report, "candidate was never tested: every bootstrap sample was discarded"), nil
	}

	stability := float64(total.stable) / float64(total.tested)

	rng := rand.New(rand.NewSource(seed - 1))
	paramRobustness, perturbWarnings := v.parameterRobustness(prices, candidate, cfg, rng)
	warnings = append(warnings, perturbWarnings...)

	regime, advisory, regimeWarnings := v.regimeConsistency(returns, candidate, baseSign, cfg)
	warnings = append(warnings, regimeWarnings...)

	composite := domain.StabilityWeight*stability +
		domain.RobustnessWeight*paramRobustness +
		domain.RegimeWeight*regime
	isStable := stability >= cfg.StabilityThreshold

	report.StabilityScore = &stability
	report.ParameterRobustness = &paramRobustness
	report.RegimeConsistency = &regime
	report.CompositeScore = &composite
	report.IsStable = &isStable
	report.Validated = true
	report.RegimeAdvisory = advisory
	report.Warnings = warnings
	report.SelectionReason = fmt.Sprintf(
		"candidate %s validated across %d bootstrap samples (%d discarded): stability %.2f, robustness %.2f, regime consistency %.2f",
		candidate, total.tested, total.discarded, stability, paramRobustness, regime)

	v.log.Info().
		Str("candidate", candidate.String()).
		Float64("stability", stability).
		Float64("robustness", paramRobustness).
		Float64("regime_consistency", regime).
		Float64("composite", composite).
		Msg("Robustness validation finished")

	return report, nil
}

// runBatchWithRetry runs one batch under the per-batch timeout, retrying a
// failed batch exactly once before excluding it.
func (v *Validator) runBatchWithRetry(
	ctx context.Context,
	seed int64,
	batchIdx int,
	returns []float64,
	candidate domain.ParameterCombination,
	neighbors []domain.ParameterCombination,
	baseSign, baseRank int,
	cfg Config,
	size int,
) (batchStats, error) {
	var stats batchStats
	attempt := 0
	op := func() error {
		attempt++
		// Each attempt re-seeds so a degenerate resample is not replayed.
		rng := rand.New(rand.NewSource(seed + int64(batchIdx)*7919 + int64(attempt)))

		bctx, cancel := context.WithTimeout(ctx, cfg.BatchTimeout)
		defer cancel()

		var err error
		stats, err = v.runBatch(bctx, rng, returns, candidate, neighbors, baseSign, baseRank, cfg, size)
		return err
	}

	err := backoff.Retry(op, backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(0), 1), ctx))
	return stats, err
}

// runBatch executes size simulations. Any evaluation failure or timeout fails
// the whole batch; panics from degenerate numerics are converted to errors so
// the retry/exclusion policy applies to them too.
func (v *Validator) runBatch(
	ctx context.Context,
	rng *rand.Rand,
	returns []float64,
	candidate domain.ParameterCombination,
	neighbors []domain.ParameterCombination,
	baseSign, baseRank int,
	cfg Config,
	size int,
) (stats batchStats, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = domain.NewSimulationError(nil, "simulation panicked: %v", r)
		}
	}()

	minLen := int(cfg.MinDataFraction * float64(len(returns)))
	for i := 0; i < size; i++ {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return stats, domain.NewSimulationError(ctxErr, "batch aborted")
		}

		sample := resample(rng, returns, cfg.Method, cfg.BlockSize)
		if len(sample) < minLen {
			stats.discarded++
			continue
		}

		prices := pricesFromReturns(sample)
		bundle, evalErr := v.evaluator.Evaluate(prices, candidate)
		if evalErr != nil {
			return stats, domain.NewSimulationError(evalErr, "candidate evaluation failed on resample")
		}

		stats.tested++
		signOK := sign(bundle.TotalReturn) == baseSign
		rank := v.rankAmong(prices, candidate, neighbors)
		rankOK := abs(rank-baseRank) <= 1
		if signOK && rankOK {
			stats.stable++
		}
	}
	return stats, nil
}

// parameterRobustness evaluates Gaussian-perturbed windows on the original
// series and returns 1 minus the normalized variance of the composite scores.
// Normalization is var/(var+mean^2), which keeps the result in [0,1]: tight
// score clusters relative to their level score high.
func (v *Validator) parameterRobustness(
	prices domain.PriceSeries,
	candidate domain.ParameterCombination,
	cfg Config,
	rng *rand.Rand,
) (float64, []string) {
	var warnings []string

	base, err := v.evaluator.Evaluate(prices, candidate)
	if err != nil {
		return 0, []string{fmt.Sprintf("perturbation baseline failed: %v", err)}
	}
	scores := []float64{v.score(base)}

	for i := 0; i < cfg.NumPerturbations; i++ {
		perturbed, ok := v.perturb(candidate, cfg, rng)
		if !ok {
			continue
		}
		bundle, err := v.evaluator.Evaluate(prices, perturbed)
		if err != nil {
			continue
		}
		scores = append(scores, v.score(bundle))
	}

	if len(scores) < 2 {
		warnings = append(warnings, "too few successful perturbations, parameter robustness defaults to the unperturbed score")
		return 1, warnings
	}

	mean := stat.Mean(scores, nil)
	variance := stat.Variance(scores, nil)
	if variance == 0 {
		return 1, warnings
	}
	return 1 - variance/(variance+mean*mean), warnings
}

// perturb draws Gaussian noise around each window (sigma = noise_std times
// the window) and clips the result into the valid bounds. Returns false when
// no valid fast<slow pair survives clipping.
func (v *Validator) perturb(candidate domain.ParameterCombination, cfg Config, rng *rand.Rand) (domain.ParameterCombination, bool) {
	fast := clip(int(math.Round(float64(candidate.FastPeriod)+rng.NormFloat64()*cfg.ParameterNoiseStd*float64(candidate.FastPeriod))),
		cfg.MinWindow, cfg.MaxWindow-1)
	slow := clip(int(math.Round(float64(candidate.SlowPeriod)+rng.NormFloat64()*cfg.ParameterNoiseStd*float64(candidate.SlowPeriod))),
		cfg.MinWindow+1, cfg.MaxWindow)
	if fast >= slow {
		slow = fast + 1
		if slow > cfg.MaxWindow {
			return domain.ParameterCombination{}, false
		}
	}

	out := candidate
	out.FastPeriod = fast
	out.SlowPeriod = slow
	return out, out.Validate() == nil
}

// regimeConsistency measures the fraction of detected regimes in which the
// candidate's performance sign agrees with its overall-period sign. Disabled
// detection reports 1.0 and marks the field advisory.
func (v *Validator) regimeConsistency(
	returns []float64,
	candidate domain.ParameterCombination,
	baseSign int,
	cfg Config,
) (float64, bool, []string) {
	if cfg.RegimeMethod == RegimeDisabled {
		return 1.0, true, nil
	}

	segments := detectRegimes(returns, cfg.RegimeMethod, cfg.RegimeWindow)
	minSegLen := candidate.SlowPeriod + candidate.SignalPeriod + 5

	usable, agree := 0, 0
	for _, seg := range segments {
		if seg.length() < minSegLen {
			continue
		}
		prices := pricesFromReturns(returns[seg.start:seg.end])
		bundle, err := v.evaluator.Evaluate(prices, candidate)
		if err != nil {
			continue
		}
		usable++
		if sign(bundle.TotalReturn) == baseSign {
			agree++
		}
	}

	if usable == 0 {
		return 1.0, true, []string{"no regime segment was long enough to evaluate, regime consistency is advisory"}
	}
	return float64(agree) / float64(usable), false, nil
}

// neighborSet returns the valid combinations one window step away from the
// candidate, used for relative-rank stability.
func (v *Validator) neighborSet(candidate domain.ParameterCombination, cfg Config) []domain.ParameterCombination {
	var out []domain.ParameterCombination
	for df := -1; df <= 1; df++ {
		for ds := -1; ds <= 1; ds++ {
			if df == 0 && ds == 0 {
				continue
			}
			n := candidate
			n.FastPeriod = clip(candidate.FastPeriod+df, cfg.MinWindow, cfg.MaxWindow)
			n.SlowPeriod = clip(candidate.SlowPeriod+ds, cfg.MinWindow, cfg.MaxWindow)
			if n == candidate || n.Validate() != nil {
				continue
			}
			out = append(out, n)
		}
	}
	return out
}

// rankAmong returns how many neighbors outscore the candidate on the given
// series. Neighbors that fail to evaluate are ignored.
func (v *Validator) rankAmong(prices domain.PriceSeries, candidate domain.ParameterCombination, neighbors []domain.ParameterCombination) int {
	base, err := v.evaluator.Evaluate(prices, candidate)
	if err != nil {
		return 0
	}
	candidateScore := v.score(base)

	rank := 0
	for _, n := range neighbors {
		bundle, err := v.evaluator.Evaluate(prices, n)
		if err != nil {
			continue
		}
		if v.score(bundle) > candidateScore {
			rank++
		}
	}
	return rank
}

// pricesFromReturns rebuilds a synthetic price path from a return series,
// starting at 100.
func pricesFromReturns(returns []float64) domain.PriceSeries {
	closes := make([]float64, len(returns)+1)
	closes[0] = 100
	for i, r := range returns {
		closes[i+1] = closes[i] * (1 + r)
	}
	return domain.PriceSeries{Closes: closes}
}

func notValidated(report domain.RobustnessReport, reason string) domain.RobustnessReport {
	report.Validated = false
	report.SelectionReason = reason
	return report
}

func sign(x float64) int {
	if x >= 0 {
		return 1
	}
	return -1
}

func clip(x, lo, hi int) int {
	if x < lo {
		return lo
	}
	if x > hi {
		return hi
	}
	return x
}

func abs(x int) int {
	if x < 0 {
		return -x
	}
	return x
}
