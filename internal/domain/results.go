package domain

import "time"

// Composite score weights for the robustness report.
const (
	StabilityWeight  = 0.4
	RobustnessWeight = 0.4
	RegimeWeight     = 0.2
)

// MetricBundle holds the performance metrics of one evaluated combination.
type MetricBundle struct {
	TotalReturn float64 `json:"total_return" msgpack:"total_return"`
	Sharpe      float64 `json:"sharpe" msgpack:"sharpe"`
	Sortino     float64 `json:"sortino" msgpack:"sortino"`
	MaxDrawdown float64 `json:"max_drawdown" msgpack:"max_drawdown"`
	WinRate     float64 `json:"win_rate" msgpack:"win_rate"`
	TradeCount  int     `json:"trade_count" msgpack:"trade_count"`
	Expectancy  float64 `json:"expectancy" msgpack:"expectancy"`
}

// SweepResult is the outcome for one combination in a run. A nil Metrics
// marks a degraded result: the combination failed to evaluate but is still
// recorded with its error instead of being dropped.
type SweepResult struct {
	RunID          string               `json:"run_id"`
	Instrument     string               `json:"instrument"`
	Strategy       StrategyKind         `json:"strategy"`
	Params         ParameterCombination `json:"params"`
	Metrics        *MetricBundle        `json:"metrics,omitempty"`
	CompositeScore float64              `json:"composite_score"`
	Excluded       bool                 `json:"excluded,omitempty"`
	Error          string               `json:"error,omitempty"`
}

// Degraded reports whether the combination failed to evaluate.
func (r SweepResult) Degraded() bool { return r.Metrics == nil }

// SweepRun describes one executed sweep for persistence.
type SweepRun struct {
	RunID        string    `json:"run_id"`
	Instrument   string    `json:"instrument"`
	Interval     string    `json:"interval"`
	Combinations int       `json:"combinations"`
	StartedAt    time.Time `json:"started_at"`
	FinishedAt   time.Time `json:"finished_at"`
}

// SelectionAlgorithm names the consensus rule that produced a selection,
// along with the window it inspected and its confidence bounds.
type SelectionAlgorithm struct {
	Name          string  `json:"name"`
	WindowSize    int     `json:"window_size"`
	MatchesNeeded int     `json:"matches_needed,omitempty"`
	MinConfidence float64 `json:"min_confidence"`
	MaxConfidence float64 `json:"max_confidence"`
}

// BestSelection is the consensus recommendation for one (run, instrument,
// strategy). Snapshot preserves the inspected window for auditability.
type BestSelection struct {
	RunID                  string               `json:"run_id"`
	Instrument             string               `json:"instrument"`
	Strategy               StrategyKind         `json:"strategy"`
	Winner                 ParameterCombination `json:"winner"`
	Algorithm              SelectionAlgorithm   `json:"algorithm"`
	Confidence             float64              `json:"confidence"`
	AlternativesConsidered int                  `json:"alternatives_considered"`
	Snapshot               []SweepResult        `json:"snapshot"`
}

// RobustnessReport is the Monte Carlo validation verdict. Numeric fields are
// pointers: a candidate that was never tested reports nil scores and
// Validated=false rather than misleading zeroes.
type RobustnessReport struct {
	Params              ParameterCombination `json:"params"`
	StabilityScore      *float64             `json:"stability_score,omitempty"`
	ParameterRobustness *float64             `json:"parameter_robustness,omitempty"`
	RegimeConsistency   *float64             `json:"regime_consistency,omitempty"`
	CompositeScore      *float64             `json:"composite_score,omitempty"`
	IsStable            *bool                `json:"is_stable,omitempty"`
	Validated           bool                 `json:"validated"`
	SelectionReason     string               `json:"selection_reason"`
	RegimeAdvisory      bool                 `json:"regime_advisory,omitempty"`
	Warnings            []string             `json:"warnings,omitempty"`
}
