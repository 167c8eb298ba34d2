package tpe

import (
	"math"
	"math/rand/v2"
	"sort"

	"gonum.org/v1/gonum/floats"

	"github.com/copyleftdev/hypertune/internal/optimization/kernels"
)

// estimator is a univariate density over a dimension's internal coordinate.
type estimator interface {
	sample(rng *rand.Rand) float64
	logDensity(x float64) float64
}

// parzenEstimator is a weighted mixture of truncated kernels, one per
// observation plus a broad prior component centered on the interval.
type parzenEstimator struct {
	low, high  float64
	mus        []float64
	sigmas     []float64
	logWeights []float64
	cumWeights []float64
	kernel     kernels.Kernel
}

func newParzenEstimator(obs []float64, low, high float64, cfg Config) *parzenEstimator {
	span := high - low
	n := len(obs) + 1

	mus := make([]float64, 0, n)
	mus = append(mus, obs...)
	mus = append(mus, low+span/2)

	floor := math.Max(cfg.MinBandwidth*span, kernels.BandwidthFloor(span, n))
	var sigmas []float64
	if cfg.Bandwidth == nil {
		sigmas = kernels.NeighborBandwidths(mus, low, high)
		for i := range sigmas {
			sigmas[i] = kernels.Clamp(sigmas[i], floor, span)
		}
	} else {
		bw := 0.0
		if len(obs) >= 2 {
			bw = cfg.Bandwidth(obs)
		}
		if math.IsNaN(bw) {
			bw = 0
		}
		bw = kernels.Clamp(bw, floor, span)
		sigmas = make([]float64, n)
		for i := range sigmas {
			sigmas[i] = bw
		}
	}
	// the prior always spans the whole interval
	sigmas[n-1] = span

	pe := &parzenEstimator{
		low:        low,
		high:       high,
		mus:        mus,
		sigmas:     sigmas,
		logWeights: make([]float64, n),
		cumWeights: make([]float64, n),
		kernel:     cfg.Kernel,
	}

	total := float64(len(obs)) + cfg.PriorWeight
	acc := 0.0
	for i := range mus {
		w := 1.0
		if i == n-1 {
			w = cfg.PriorWeight
		}
		pe.logWeights[i] = math.Log(w / total)
		acc += w / total
		pe.cumWeights[i] = acc
	}
	return pe
}

func (pe *parzenEstimator) sample(rng *rand.Rand) float64 {
	r := rng.Float64() * pe.cumWeights[len(pe.cumWeights)-1]
	i := sort.SearchFloat64s(pe.cumWeights, r)
	if i >= len(pe.mus) {
		i = len(pe.mus) - 1
	}
	return pe.kernel.Sample(rng, pe.mus[i], pe.sigmas[i], pe.low, pe.high)
}

func (pe *parzenEstimator) logDensity(x float64) float64 {
	terms := make([]float64, len(pe.mus))
	finite := false
	for i := range pe.mus {
		terms[i] = pe.logWeights[i] + pe.kernel.LogDensity(x, pe.mus[i], pe.sigmas[i], pe.low, pe.high)
		if !math.IsInf(terms[i], -1) {
			finite = true
		}
	}
	if !finite {
		return math.Inf(-1)
	}
	return floats.LogSumExp(terms)
}

// categoricalEstimator is a Laplace-smoothed frequency distribution over the
// choice indices of a categorical dimension.
type categoricalEstimator struct {
	logProbs []float64
	cum      []float64
}

func newCategoricalEstimator(obs []int, k int, alpha float64) *categoricalEstimator {
	counts := make([]float64, k)
	for _, i := range obs {
		counts[i]++
	}

	ce := &categoricalEstimator{
		logProbs: make([]float64, k),
		cum:      make([]float64, k),
	}
	denom := float64(len(obs)) + float64(k)*alpha
	acc := 0.0
	for i, c := range counts {
		p := (c + alpha) / denom
		ce.logProbs[i] = math.Log(p)
		acc += p
		ce.cum[i] = acc
	}
	return ce
}

func (ce *categoricalEstimator) sample(rng *rand.Rand) float64 {
	r := rng.Float64() * ce.cum[len(ce.cum)-1]
	i := sort.SearchFloat64s(ce.cum, r)
	if i >= len(ce.cum) {
		i = len(ce.cum) - 1
	}
	return float64(i)
}

func (ce *categoricalEstimator) logDensity(x float64) float64 {
	i := int(x)
	if i < 0 || i >= len(ce.logProbs) {
		return math.Inf(-1)
	}
	return ce.logProbs[i]
}
