package domain

import "context"

// PriceSeries is a historical close-price series for one instrument.
type PriceSeries struct {
	Closes []float64
}

// Returns converts the close series to simple period-over-period returns.
func (s PriceSeries) Returns() []float64 {
	if len(s.Closes) < 2 {
		return nil
	}
	out := make([]float64, 0, len(s.Closes)-1)
	for i := 1; i < len(s.Closes); i++ {
		prev := s.Closes[i-1]
		if prev == 0 {
			out = append(out, 0)
			continue
		}
		out = append(out, (s.Closes[i]-prev)/prev)
	}
	return out
}

// MetricEvaluator maps (price series, parameter combination) to a metric
// bundle. Implementations must be pure and side-effect free.
type MetricEvaluator interface {
	Evaluate(series PriceSeries, params ParameterCombination) (*MetricBundle, error)
}

// PriceSource supplies historical price series. The returned data version is
// an opaque freshness token (content hash or source timestamp) used as part
// of the result cache key.
type PriceSource interface {
	GetSeries(ctx context.Context, instrument, interval string) (PriceSeries, string, error)
}

// Scorer collapses a metric bundle into a single composite ranking score.
// The concrete weighting is caller-supplied configuration.
type Scorer func(*MetricBundle) float64

// Persister stores sweep outputs. Persistence is fire-and-forget from the
// core's perspective: failures are logged by callers and never fail a job.
type Persister interface {
	SaveSweepResults(run SweepRun, results []SweepResult) error
	SaveBestSelection(sel BestSelection) error
	SaveRobustnessReport(runID string, report RobustnessReport) error
}
