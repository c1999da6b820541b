package selection

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/sweepd/internal/domain"
)

func params(fast, slow int) domain.ParameterCombination {
	return domain.ParameterCombination{Strategy: domain.StrategySMACross, FastPeriod: fast, SlowPeriod: slow}
}

func result(fast, slow int, score float64) domain.SweepResult {
	return domain.SweepResult{
		RunID:          "run-1",
		Instrument:     "X",
		Strategy:       domain.StrategySMACross,
		Params:         params(fast, slow),
		Metrics:        &domain.MetricBundle{TradeCount: 10},
		CompositeScore: score,
	}
}

func mustSelect(t *testing.T, results []domain.SweepResult) domain.BestSelection {
	t.Helper()
	sel, err := Select("run-1", "X", domain.StrategySMACross, results)
	require.NoError(t, err)
	return sel
}

func TestTop2BothMatch(t *testing.T) {
	results := []domain.SweepResult{
		result(5, 20, 0.9),
		result(5, 20, 0.8),
		result(7, 30, 0.7),
	}

	sel := mustSelect(t, results)
	assert.Equal(t, "top_n_all_match", sel.Algorithm.Name)
	assert.Equal(t, 2, sel.Algorithm.WindowSize)
	assert.Equal(t, params(5, 20), sel.Winner)
	assert.InDelta(t, 100, sel.Confidence, 1e-9)
	assert.Equal(t, 1, sel.AlternativesConsidered)
}

func TestTop3AllMatch(t *testing.T) {
	// Top 2 differ so the first tier passes over, but the top 3... cannot
	// both differ and all match. Exercise tier 2 via a window of exactly 3.
	results := []domain.SweepResult{
		result(5, 20, 0.9),
		result(5, 20, 0.8),
		result(5, 20, 0.7),
	}

	sel := mustSelect(t, results)
	// Tier 1 already fires on the top-2 subset of an all-match top-3.
	assert.Equal(t, "top_n_all_match", sel.Algorithm.Name)
	assert.Equal(t, params(5, 20), sel.Winner)
	assert.InDelta(t, 100, sel.Confidence, 1e-9)
}

func TestTop3TierFiresWhenOnlyTwoResults(t *testing.T) {
	// Fewer than 3 eligible results: the window-3 tier is skipped entirely.
	results := []domain.SweepResult{
		result(5, 20, 0.9),
		result(6, 25, 0.8),
	}

	sel := mustSelect(t, results)
	assert.Equal(t, "highest_score_fallback", sel.Algorithm.Name)
	assert.Equal(t, params(5, 20), sel.Winner)
}

func TestThreeOfFivePlurality(t *testing.T) {
	results := []domain.SweepResult{
		result(5, 20, 0.9),
		result(6, 25, 0.85),
		result(5, 20, 0.8),
		result(7, 30, 0.75),
		result(5, 20, 0.7),
	}

	sel := mustSelect(t, results)
	assert.Equal(t, "top_k_of_n_match", sel.Algorithm.Name)
	assert.Equal(t, 5, sel.Algorithm.WindowSize)
	assert.Equal(t, 3, sel.Algorithm.MatchesNeeded)
	assert.Equal(t, params(5, 20), sel.Winner)
	// Exactly at the 3-of-5 floor: minimum confidence.
	assert.InDelta(t, 60, sel.Confidence, 1e-9)
	assert.Equal(t, 3, sel.AlternativesConsidered)
}

func TestFourOfFiveInterpolatesConfidence(t *testing.T) {
	results := []domain.SweepResult{
		result(5, 20, 0.9),
		result(6, 25, 0.85),
		result(5, 20, 0.8),
		result(5, 20, 0.75),
		result(5, 20, 0.7),
	}

	sel := mustSelect(t, results)
	assert.Equal(t, "top_k_of_n_match", sel.Algorithm.Name)
	// 4 of 5: halfway between 60 and 80.
	assert.InDelta(t, 70, sel.Confidence, 1e-9)
}

func TestFiveOfEightPlurality(t *testing.T) {
	// Only 2 matches inside the top 5, but 5 inside the top 8: the 5-of-8
	// tier fires at its floor.
	results := []domain.SweepResult{
		result(5, 20, 0.90),
		result(6, 25, 0.85),
		result(5, 20, 0.80),
		result(7, 30, 0.75),
		result(9, 40, 0.70),
		result(5, 20, 0.65),
		result(5, 20, 0.60),
		result(5, 20, 0.55),
	}

	sel := mustSelect(t, results)
	assert.Equal(t, "top_k_of_n_match", sel.Algorithm.Name)
	assert.Equal(t, 8, sel.Algorithm.WindowSize)
	assert.Equal(t, 5, sel.Algorithm.MatchesNeeded)
	assert.Equal(t, params(5, 20), sel.Winner)
	assert.InDelta(t, 62.5, sel.Confidence, 1e-9)
}

func TestNoPluralityFallsBack(t *testing.T) {
	results := []domain.SweepResult{
		result(5, 20, 0.9),
		result(6, 25, 0.85),
		result(7, 30, 0.8),
		result(8, 35, 0.75),
		result(9, 40, 0.7),
		result(10, 45, 0.65),
		result(11, 50, 0.6),
		result(12, 55, 0.55),
	}

	sel := mustSelect(t, results)
	assert.Equal(t, "highest_score_fallback", sel.Algorithm.Name)
	assert.Equal(t, results[0].Params, sel.Winner)
	assert.InDelta(t, 0, sel.Confidence, 1e-9)
	assert.LessOrEqual(t, sel.Confidence, 50.0)
	assert.Equal(t, 8, sel.AlternativesConsidered)
}

func TestSelectIsIdempotent(t *testing.T) {
	results := []domain.SweepResult{
		result(5, 20, 0.9),
		result(6, 25, 0.85),
		result(5, 20, 0.8),
		result(7, 30, 0.75),
		result(5, 20, 0.7),
	}

	first := mustSelect(t, results)
	second := mustSelect(t, results)
	assert.Equal(t, first.Winner, second.Winner)
	assert.Equal(t, first.Algorithm, second.Algorithm)
	assert.Equal(t, first.Confidence, second.Confidence)
	assert.Equal(t, first.AlternativesConsidered, second.AlternativesConsidered)
}

func TestSelectIgnoresDegradedAndExcluded(t *testing.T) {
	degraded := domain.SweepResult{RunID: "run-1", Instrument: "X", Strategy: domain.StrategySMACross, Params: params(3, 9), Error: "boom"}
	excluded := result(4, 12, 0.95)
	excluded.Excluded = true

	results := []domain.SweepResult{
		degraded,
		excluded,
		result(5, 20, 0.9),
		result(5, 20, 0.8),
	}

	sel := mustSelect(t, results)
	assert.Equal(t, params(5, 20), sel.Winner)
	assert.InDelta(t, 100, sel.Confidence, 1e-9)
}

func TestSelectErrorsWithNoEligibleResults(t *testing.T) {
	degraded := domain.SweepResult{Params: params(3, 9), Error: "boom"}

	_, err := Select("run-1", "X", domain.StrategySMACross, []domain.SweepResult{degraded})
	require.Error(t, err)
	assert.Equal(t, domain.KindEvaluation, domain.KindOf(err))
}
