package robustness

import (
	"sort"

	"gonum.org/v1/gonum/stat"
)

// RegimeMethod selects how regimes are detected over the return series.
type RegimeMethod string

const (
	// RegimeDisabled - no regime analysis; consistency is fixed at 1.0 and advisory
	RegimeDisabled RegimeMethod = "disabled"
	// RegimeVolatility - rolling volatility above/below its median
	RegimeVolatility RegimeMethod = "volatility"
	// RegimeReturns - rolling mean return sign
	RegimeReturns RegimeMethod = "returns"
	// RegimeSwitching - joint volatility level and return direction states
	RegimeSwitching RegimeMethod = "regime_switching"
)

// Valid reports whether the regime method is known.
func (m RegimeMethod) Valid() bool {
	switch m {
	case RegimeDisabled, RegimeVolatility, RegimeReturns, RegimeSwitching:
		return true
	}
	return false
}

// segment is a contiguous run of returns sharing one regime label.
type segment struct {
	start int // Inclusive index into the return series
	end   int // Exclusive
	label string
}

func (s segment) length() int { return s.end - s.start }

// detectRegimes labels each return observation from index window-1 onwards
// using a rolling window, then collapses contiguous equal labels into
// segments. Returns nil when the series is shorter than the window.
func detectRegimes(returns []float64, method RegimeMethod, window int) []segment {
	n := len(returns)
	if method == RegimeDisabled || n < window || window < 2 {
		return nil
	}

	labels := make([]string, 0, n-window+1)
	vols := make([]float64, 0, n-window+1)
	means := make([]float64, 0, n-window+1)
	for i := window - 1; i < n; i++ {
		w := returns[i-window+1 : i+1]
		vols = append(vols, stat.StdDev(w, nil))
		means = append(means, stat.Mean(w, nil))
	}
	medVol := median(vols)

	for i := range vols {
		switch method {
		case RegimeVolatility:
			labels = append(labels, volLabel(vols[i], medVol))
		case RegimeReturns:
			labels = append(labels, dirLabel(means[i]))
		default: // RegimeSwitching
			labels = append(labels, volLabel(vols[i], medVol)+"/"+dirLabel(means[i]))
		}
	}

	// Collapse contiguous labels into segments over original return indices.
	var segments []segment
	start := 0
	for i := 1; i <= len(labels); i++ {
		if i == len(labels) || labels[i] != labels[start] {
			segments = append(segments, segment{
				start: start + window - 1,
				end:   i + window - 1,
				label: labels[start],
			})
			start = i
		}
	}
	return segments
}

func volLabel(vol, median float64) string {
	if vol > median {
		return "high_vol"
	}
	return "low_vol"
}

func dirLabel(mean float64) string {
	if mean >= 0 {
		return "up"
	}
	return "down"
}

func median(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)
	return stat.Quantile(0.5, stat.Empirical, sorted, nil)
}
