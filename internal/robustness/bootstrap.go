// Package robustness stress-tests candidate parameters against bootstrap
// resamples, parameter perturbations and detected market regimes.
package robustness

import (
	"math/rand"
)

// Method selects the bootstrap resampling scheme.
type Method string

const (
	// MethodBlock - shuffled non-overlapping blocks
	MethodBlock Method = "block"
	// MethodCircular - overlapping blocks with wrap-around starts
	MethodCircular Method = "circular"
	// MethodStationary - geometric block lengths with wrap-around (Politis-Romano)
	MethodStationary Method = "stationary"
	// MethodMovingBlock - overlapping blocks with random in-range starts
	MethodMovingBlock Method = "moving_block"
)

// Valid reports whether the method is known.
func (m Method) Valid() bool {
	switch m {
	case MethodBlock, MethodCircular, MethodStationary, MethodMovingBlock:
		return true
	}
	return false
}

// resample draws one bootstrap sample from series, preserving local
// autocorrelation by sampling contiguous blocks of blockSize observations.
// The sample length never exceeds the original length.
func resample(rng *rand.Rand, series []float64, method Method, blockSize int) []float64 {
	n := len(series)
	if n == 0 {
		return nil
	}
	if blockSize < 1 {
		blockSize = 1
	}
	if blockSize > n {
		blockSize = n
	}

	switch method {
	case MethodBlock:
		return blockResample(rng, series, blockSize)
	case MethodCircular:
		return circularResample(rng, series, blockSize)
	case MethodStationary:
		return stationaryResample(rng, series, blockSize)
	default: // MethodMovingBlock
		return movingBlockResample(rng, series, blockSize)
	}
}

// blockResample partitions the series into non-overlapping blocks and
// concatenates a random shuffle of them. The trailing partial block is
// dropped, so the sample can be up to blockSize-1 observations short.
func blockResample(rng *rand.Rand, series []float64, blockSize int) []float64 {
	n := len(series)
	numBlocks := n / blockSize

	order := rng.Perm(numBlocks)
	out := make([]float64, 0, numBlocks*blockSize)
	for _, b := range order {
		out = append(out, series[b*blockSize:(b+1)*blockSize]...)
	}
	return out
}

// movingBlockResample concatenates blocks drawn from random in-range start
// positions until the sample reaches the original length.
func movingBlockResample(rng *rand.Rand, series []float64, blockSize int) []float64 {
	n := len(series)
	out := make([]float64, 0, n)
	for len(out) < n {
		start := rng.Intn(n - blockSize + 1)
		out = append(out, series[start:start+blockSize]...)
	}
	return out[:n]
}

// circularResample is the moving-block scheme with wrap-around: any start
// position is admissible and blocks wrap past the end of the series.
func circularResample(rng *rand.Rand, series []float64, blockSize int) []float64 {
	n := len(series)
	out := make([]float64, 0, n)
	for len(out) < n {
		start := rng.Intn(n)
		for i := 0; i < blockSize && len(out) < n; i++ {
			out = append(out, series[(start+i)%n])
		}
	}
	return out
}

// stationaryResample draws geometrically distributed block lengths with mean
// blockSize and wrap-around starts, which makes the resample distribution
// stationary in the block boundaries.
func stationaryResample(rng *rand.Rand, series []float64, blockSize int) []float64 {
	n := len(series)
	p := 1.0 / float64(blockSize)
	out := make([]float64, 0, n)
	for len(out) < n {
		start := rng.Intn(n)
		i := 0
		for len(out) < n {
			out = append(out, series[(start+i)%n])
			i++
			if rng.Float64() < p {
				break
			}
		}
	}
	return out[:n]
}
