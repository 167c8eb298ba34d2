// Package kernels provides the univariate smoothing kernels and bandwidth
// rules used by the Parzen estimators of the TPE optimizer.
package kernels

import (
	"math"
	"math/rand/v2"
	"sort"

	"golang.org/x/exp/constraints"
	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"
)

// Kernel is a smoothing kernel restricted to the interval [low, high].
type Kernel interface {
	// LogDensity returns the log of the kernel density at x for a kernel
	// centered at center with the given bandwidth.
	LogDensity(x, center, bandwidth, low, high float64) float64

	// Sample draws one point from the kernel.
	Sample(rng *rand.Rand, center, bandwidth, low, high float64) float64
}

// TruncatedGaussian is a Gaussian kernel renormalized to its interval.
type TruncatedGaussian struct {
	// MaxRejections bounds rejection sampling before falling back to clipping.
	MaxRejections int
}

// NewTruncatedGaussian creates a truncated Gaussian kernel.
func NewTruncatedGaussian() *TruncatedGaussian {
	return &TruncatedGaussian{MaxRejections: 64}
}

// LogDensity computes the truncated Gaussian log density at x.
func (k *TruncatedGaussian) LogDensity(x, center, bandwidth, low, high float64) float64 {
	if x < low || x > high || bandwidth <= 0 {
		return math.Inf(-1)
	}
	n := distuv.Normal{Mu: center, Sigma: bandwidth}
	mass := n.CDF(high) - n.CDF(low)
	if mass <= 0 {
		// the kernel sits far outside the interval; treat the interval as
		// carrying the smallest representable mass
		mass = math.SmallestNonzeroFloat64
	}
	return n.LogProb(x) - math.Log(mass)
}

// Sample draws from the truncated Gaussian by rejection.
func (k *TruncatedGaussian) Sample(rng *rand.Rand, center, bandwidth, low, high float64) float64 {
	tries := k.MaxRejections
	if tries < 1 {
		tries = 1
	}
	for i := 0; i < tries; i++ {
		x := center + bandwidth*rng.NormFloat64()
		if x >= low && x <= high {
			return x
		}
	}
	return Clamp(center+bandwidth*rng.NormFloat64(), low, high)
}

// BandwidthRule chooses a kernel bandwidth from observed samples. It returns
// 0 when the samples carry no spread information.
type BandwidthRule func(samples []float64) float64

// Scott implements Scott's rule of thumb, 1.06·σ·n^(-1/5).
func Scott(samples []float64) float64 {
	n := len(samples)
	if n < 2 {
		return 0
	}
	sigma := stat.StdDev(samples, nil)
	return 1.06 * sigma * math.Pow(float64(n), -0.2)
}

// Silverman implements Silverman's rule of thumb,
// 0.9·min(σ, IQR/1.34)·n^(-1/5).
func Silverman(samples []float64) float64 {
	n := len(samples)
	if n < 2 {
		return 0
	}
	sorted := append([]float64(nil), samples...)
	sort.Float64s(sorted)

	sigma := stat.StdDev(sorted, nil)
	iqr := stat.Quantile(0.75, stat.Empirical, sorted, nil) - stat.Quantile(0.25, stat.Empirical, sorted, nil)
	spread := sigma
	if iqr > 0 {
		spread = math.Min(sigma, iqr/1.34)
	}
	return 0.9 * spread * math.Pow(float64(n), -0.2)
}

// Names of the bandwidth rules accepted by LookupRule.
const (
	NeighborRule  = "neighbor"
	ScottRule     = "scott"
	SilvermanRule = "silverman"
)

// LookupRule returns the named bandwidth rule. The neighbor rule has no
// shared bandwidth and is returned as nil; estimators then size each kernel
// with NeighborBandwidths.
func LookupRule(name string) (BandwidthRule, bool) {
	switch name {
	case NeighborRule, "":
		return nil, true
	case ScottRule:
		return Scott, true
	case SilvermanRule:
		return Silverman, true
	}
	return nil, false
}

// BandwidthFloor is the smallest bandwidth of a mixture with n components over
// an interval of the given span. It shrinks as observations accumulate and
// bottoms out at 1% of the span.
func BandwidthFloor(span float64, n int) float64 {
	return span / math.Min(100, float64(1+n))
}

// NeighborBandwidths gives each center the larger of the distances to its
// neighbors in sorted order. The interval ends are the outer neighbors of the
// extreme centers. Bandwidths are clipped to [BandwidthFloor, span].
func NeighborBandwidths(centers []float64, low, high float64) []float64 {
	n := len(centers)
	out := make([]float64, n)
	if n == 0 {
		return out
	}

	order := make([]int, n)
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return centers[order[a]] < centers[order[b]]
	})

	span := high - low
	floor := BandwidthFloor(span, n)
	for r, i := range order {
		left := centers[i] - low
		if r > 0 {
			left = centers[i] - centers[order[r-1]]
		}
		right := high - centers[i]
		if r < n-1 {
			right = centers[order[r+1]] - centers[i]
		}
		out[i] = Clamp(math.Max(left, right), floor, span)
	}
	return out
}

// Clamp limits v to [lo, hi].
func Clamp[T constraints.Integer | constraints.Float](v, lo, hi T) T {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
