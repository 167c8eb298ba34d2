package acquisition

import (
	"math"
)

// DensityRatio implements the TPE acquisition: a candidate x is scored by
// log l(x) - log g(x), where l is the density of the good trials and g the
// density of the rest. Maximizing the ratio maximizes expected improvement
// under the good/bad partition model.
type DensityRatio struct {
	// fraction of trials classified as good
	gamma float64
}

// NewDensityRatio creates the acquisition for the given good fraction.
func NewDensityRatio(gamma float64) *DensityRatio {
	return &DensityRatio{gamma: gamma}
}

// Score returns the log density ratio for one dimension. Non-finite inputs
// are resolved so that impossible-under-good scores lowest and
// impossible-under-bad scores highest.
func (d *DensityRatio) Score(logGood, logBad float64) float64 {
	switch {
	case math.IsNaN(logGood) || math.IsNaN(logBad):
		return math.Inf(-1)
	case math.IsInf(logGood, -1):
		return math.Inf(-1)
	case math.IsInf(logBad, -1):
		return math.Inf(1)
	}
	return logGood - logBad
}

// ExpectedImprovement converts a total log ratio into the quantity TPE's
// acquisition is proportional to, (γ + (1-γ)·g/l)^-1.
func (d *DensityRatio) ExpectedImprovement(logRatio float64) float64 {
	if math.IsInf(logRatio, 1) {
		return 1 / d.gamma
	}
	return 1 / (d.gamma + (1-d.gamma)*math.Exp(-logRatio))
}

// Gamma returns the good fraction.
func (d *DensityRatio) Gamma() float64 {
	return d.gamma
}

// Argmax returns the index of the largest score, the first on ties, or -1
// for an empty slice. NaN scores never win.
func Argmax(scores []float64) int {
	best := -1
	for i, s := range scores {
		if math.IsNaN(s) {
			continue
		}
		if best < 0 || s > scores[best] {
			best = i
		}
	}
	return best
}
