// Package selection derives a consensus best-parameter recommendation from a
// ranked sweep result set.
package selection

import (
	"github.com/aristath/sweepd/internal/domain"
)

// tier is one consensus rule. Rules are evaluated in fixed priority order and
// the first satisfied rule wins: stronger consensus patterns take precedence
// over weaker ones.
type tier struct {
	algorithm domain.SelectionAlgorithm
	allMatch  bool
}

var tiers = []tier{
	{algorithm: domain.SelectionAlgorithm{Name: "top_n_all_match", WindowSize: 2, MinConfidence: 100, MaxConfidence: 100}, allMatch: true},
	{algorithm: domain.SelectionAlgorithm{Name: "top_n_all_match", WindowSize: 3, MinConfidence: 100, MaxConfidence: 100}, allMatch: true},
	{algorithm: domain.SelectionAlgorithm{Name: "top_k_of_n_match", WindowSize: 5, MatchesNeeded: 3, MinConfidence: 60, MaxConfidence: 80}},
	{algorithm: domain.SelectionAlgorithm{Name: "top_k_of_n_match", WindowSize: 8, MatchesNeeded: 5, MinConfidence: 62.5, MaxConfidence: 75}},
}

// fallbackAlgorithm is used when no plurality meets any tier threshold.
var fallbackAlgorithm = domain.SelectionAlgorithm{Name: "highest_score_fallback", WindowSize: 8, MinConfidence: 0, MaxConfidence: 50}

// Select derives the BestSelection for one (run, instrument, strategy) from
// results already ranked per the sweep ordering. It is deterministic and
// idempotent: identical inputs yield identical output. Degraded and excluded
// results never participate in consensus.
func Select(runID, instrument string, strategy domain.StrategyKind, results []domain.SweepResult) (domain.BestSelection, error) {
	eligible := make([]domain.SweepResult, 0, len(results))
	for _, r := range results {
		if r.Degraded() || r.Excluded {
			continue
		}
		eligible = append(eligible, r)
	}
	if len(eligible) == 0 {
		return domain.BestSelection{}, domain.NewEvaluationError(nil, "no eligible results to select from")
	}

	for _, t := range tiers {
		window := t.algorithm.WindowSize
		if len(eligible) < window {
			continue
		}
		top := eligible[:window]

		if t.allMatch {
			if !allSame(top) {
				continue
			}
			return selection(runID, instrument, strategy, top[0].Params, t.algorithm, 100, top), nil
		}

		winner, count := plurality(top)
		if count < t.algorithm.MatchesNeeded {
			continue
		}
		return selection(runID, instrument, strategy, winner, t.algorithm,
			interpolate(t.algorithm, count), top), nil
	}

	// Fallback: the top-ranked combination wins with low confidence.
	window := min(fallbackAlgorithm.WindowSize, len(eligible))
	top := eligible[:window]
	return selection(runID, instrument, strategy, eligible[0].Params, fallbackAlgorithm,
		fallbackConfidence(eligible[0].Params, top), top), nil
}

func selection(
	runID, instrument string,
	strategy domain.StrategyKind,
	winner domain.ParameterCombination,
	algorithm domain.SelectionAlgorithm,
	confidence float64,
	window []domain.SweepResult,
) domain.BestSelection {
	snapshot := make([]domain.SweepResult, len(window))
	copy(snapshot, window)

	return domain.BestSelection{
		RunID:                  runID,
		Instrument:             instrument,
		Strategy:               strategy,
		Winner:                 winner,
		Algorithm:              algorithm,
		Confidence:             confidence,
		AlternativesConsidered: distinct(window),
		Snapshot:               snapshot,
	}
}

// interpolate maps the plurality count linearly between the tier's confidence
// bounds: a count at the tier floor yields the minimum, a window-wide match
// yields the maximum.
func interpolate(a domain.SelectionAlgorithm, count int) float64 {
	span := a.WindowSize - a.MatchesNeeded
	if span <= 0 {
		return a.MaxConfidence
	}
	margin := float64(count-a.MatchesNeeded) / float64(span)
	return a.MinConfidence + (a.MaxConfidence-a.MinConfidence)*margin
}

// fallbackConfidence scales 0-50 by how often the winning combination still
// shows up in the inspected window beyond its own top entry.
func fallbackConfidence(winner domain.ParameterCombination, window []domain.SweepResult) float64 {
	if len(window) < 2 {
		return 0
	}
	occurrences := 0
	for _, r := range window {
		if r.Params == winner {
			occurrences++
		}
	}
	return fallbackAlgorithm.MaxConfidence * float64(occurrences-1) / float64(len(window)-1)
}

// allSame reports whether every result shares one parameter combination.
func allSame(window []domain.SweepResult) bool {
	for _, r := range window[1:] {
		if r.Params != window[0].Params {
			return false
		}
	}
	return true
}

// plurality returns the most frequent combination in the window and its
// count. Ties resolve to the combination ranked highest in the window, which
// keeps selection deterministic.
func plurality(window []domain.SweepResult) (domain.ParameterCombination, int) {
	counts := make(map[domain.ParameterCombination]int, len(window))
	for _, r := range window {
		counts[r.Params]++
	}

	best := window[0].Params
	bestCount := counts[best]
	for _, r := range window {
		if counts[r.Params] > bestCount {
			best = r.Params
			bestCount = counts[r.Params]
		}
	}
	return best, bestCount
}

// distinct counts the distinct parameter combinations inspected in a window.
func distinct(window []domain.SweepResult) int {
	seen := make(map[domain.ParameterCombination]struct{}, len(window))
	for _, r := range window {
		seen[r.Params] = struct{}{}
	}
	return len(seen)
}
