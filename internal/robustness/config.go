package robustness

import (
	"time"

	"github.com/aristath/sweepd/internal/domain"
)

// Defaults and hard limits for the Monte Carlo configuration.
const (
	DefaultSimulations = 1000
	MinSimulations     = 100
	MaxSimulations     = 10000

	DefaultBlockSize    = 63 // ~ one quarter of daily observations
	DefaultRegimeWindow = 63

	DefaultMinDataFraction    = 0.70
	DefaultParameterNoiseStd  = 0.1
	DefaultNumPerturbations   = 20
	DefaultStabilityThreshold = 0.7
	DefaultMinSuccessRate     = 0.9
	DefaultBatchSize          = 50
	DefaultBatchTimeout       = 300 * time.Second
)

// Config holds Monte Carlo validation options. Zero values take the
// documented defaults; out-of-range values are rejected at validation time,
// not at first use.
type Config struct {
	NumSimulations int    `json:"num_simulations,omitempty"`
	BlockSize      int    `json:"block_size,omitempty"`
	Method         Method `json:"method,omitempty"`

	// MinDataFraction - a bootstrap sample must retain at least this share of
	// the original series length or it is discarded.
	MinDataFraction float64 `json:"min_data_fraction,omitempty"`

	// ParameterNoiseStd - Gaussian noise sigma as a fraction of each window.
	ParameterNoiseStd float64 `json:"parameter_noise_std,omitempty"`
	NumPerturbations  int     `json:"num_perturbations,omitempty"`

	StabilityThreshold float64 `json:"stability_threshold,omitempty"`

	RegimeMethod RegimeMethod `json:"regime_method,omitempty"`
	RegimeWindow int          `json:"regime_window,omitempty"`

	// MinSuccessRate - the run fails when fewer than this share of attempted
	// simulation batches succeed.
	MinSuccessRate float64       `json:"min_success_rate,omitempty"`
	BatchSize      int           `json:"batch_size,omitempty"`
	BatchTimeout   time.Duration `json:"-"`

	// Window bounds used to clip perturbed parameters.
	MinWindow int `json:"min_window,omitempty"`
	MaxWindow int `json:"max_window,omitempty"`

	// Seed makes a validation reproducible. Zero seeds from the clock.
	Seed int64 `json:"seed,omitempty"`
}

// WithDefaults fills unset fields with the documented defaults.
func (c Config) WithDefaults() Config {
	if c.NumSimulations == 0 {
		c.NumSimulations = DefaultSimulations
	}
	if c.BlockSize == 0 {
		c.BlockSize = DefaultBlockSize
	}
	if c.Method == "" {
		c.Method = MethodBlock
	}
	if c.MinDataFraction == 0 {
		c.MinDataFraction = DefaultMinDataFraction
	}
	if c.ParameterNoiseStd == 0 {
		c.ParameterNoiseStd = DefaultParameterNoiseStd
	}
	if c.NumPerturbations == 0 {
		c.NumPerturbations = DefaultNumPerturbations
	}
	if c.StabilityThreshold == 0 {
		c.StabilityThreshold = DefaultStabilityThreshold
	}
	if c.RegimeMethod == "" {
		c.RegimeMethod = RegimeDisabled
	}
	if c.RegimeWindow == 0 {
		c.RegimeWindow = DefaultRegimeWindow
	}
	if c.MinSuccessRate == 0 {
		c.MinSuccessRate = DefaultMinSuccessRate
	}
	if c.BatchSize == 0 {
		c.BatchSize = DefaultBatchSize
	}
	if c.BatchTimeout == 0 {
		c.BatchTimeout = DefaultBatchTimeout
	}
	if c.MinWindow == 0 {
		c.MinWindow = 2
	}
	if c.MaxWindow == 0 {
		c.MaxWindow = 200
	}
	return c
}

// Validate rejects malformed options. Call after WithDefaults.
func (c Config) Validate() error {
	if c.NumSimulations < MinSimulations || c.NumSimulations > MaxSimulations {
		return domain.NewConfigurationError("num_simulations %d outside [%d, %d]", c.NumSimulations, MinSimulations, MaxSimulations)
	}
	if c.BlockSize < 1 {
		return domain.NewConfigurationError("block_size must be positive, got %d", c.BlockSize)
	}
	if !c.Method.Valid() {
		return domain.NewConfigurationError("unknown bootstrap method %q", c.Method)
	}
	if c.MinDataFraction <= 0 || c.MinDataFraction > 1 {
		return domain.NewConfigurationError("min_data_fraction %.2f outside (0, 1]", c.MinDataFraction)
	}
	if c.ParameterNoiseStd < 0 || c.ParameterNoiseStd > 1 {
		return domain.NewConfigurationError("parameter_noise_std %.2f outside [0, 1]", c.ParameterNoiseStd)
	}
	if c.NumPerturbations < 1 {
		return domain.NewConfigurationError("num_perturbations must be positive, got %d", c.NumPerturbations)
	}
	if c.StabilityThreshold < 0 || c.StabilityThreshold > 1 {
		return domain.NewConfigurationError("stability_threshold %.2f outside [0, 1]", c.StabilityThreshold)
	}
	if !c.RegimeMethod.Valid() {
		return domain.NewConfigurationError("unknown regime method %q", c.RegimeMethod)
	}
	if c.RegimeWindow < 2 {
		return domain.NewConfigurationError("regime_window must be at least 2, got %d", c.RegimeWindow)
	}
	if c.MinSuccessRate <= 0 || c.MinSuccessRate > 1 {
		return domain.NewConfigurationError("min_success_rate %.2f outside (0, 1]", c.MinSuccessRate)
	}
	if c.BatchSize < 1 {
		return domain.NewConfigurationError("batch_size must be positive, got %d", c.BatchSize)
	}
	if c.MaxWindow <= c.MinWindow {
		return domain.NewConfigurationError("window bounds [%d, %d] are empty", c.MinWindow, c.MaxWindow)
	}
	return nil
}
