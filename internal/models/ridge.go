package models

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"github.com/copyleftdev/hypertune/internal/optimization"
)

// Ridge is L2-regularized least squares.
type Ridge struct {
	Alpha        float64
	FitIntercept bool

	coef      *mat.VecDense
	intercept float64
}

// NewRidge creates a ridge model with alpha 1 and an intercept.
func NewRidge() *Ridge {
	return &Ridge{Alpha: 1, FitIntercept: true}
}

func ridgeFromConfig(cfg optimization.Configuration) (*Ridge, error) {
	r := NewRidge()
	r.Alpha = cfg.Real("alpha", r.Alpha)
	fit, err := parseBool("fit_intercept", cfg.Category("fit_intercept", "true"))
	if err != nil {
		return nil, err
	}
	r.FitIntercept = fit
	if r.Alpha < 0 || math.IsNaN(r.Alpha) {
		return nil, fmt.Errorf("alpha must not be negative, got %v", r.Alpha)
	}
	return r, nil
}

// Fit solves (XᵀX + αI)β = Xᵀy, centering the data first when fitting an
// intercept.
func (r *Ridge) Fit(X *mat.Dense, y []float64) error {
	n, p, err := checkShape(X, y)
	if err != nil {
		return err
	}

	xc := mat.DenseCopyOf(X)
	yc := append([]float64(nil), y...)
	means := make([]float64, p)
	yMean := 0.0
	if r.FitIntercept {
		for j := 0; j < p; j++ {
			col := mat.Col(nil, j, xc)
			means[j] = stat.Mean(col, nil)
			for i := 0; i < n; i++ {
				xc.Set(i, j, col[i]-means[j])
			}
		}
		yMean = stat.Mean(yc, nil)
		for i := range yc {
			yc[i] -= yMean
		}
	}

	var gram mat.SymDense
	gram.SymOuterK(1, xc.T())
	for j := 0; j < p; j++ {
		gram.SetSym(j, j, gram.At(j, j)+r.Alpha)
	}

	var rhs mat.VecDense
	rhs.MulVec(xc.T(), mat.NewVecDense(n, yc))

	var chol mat.Cholesky
	coef := mat.NewVecDense(p, nil)
	if ok := chol.Factorize(&gram); ok {
		if err := chol.SolveVecTo(coef, &rhs); err != nil {
			return fmt.Errorf("ridge solve failed: %w", err)
		}
	} else {
		// singular without regularization; fall back to least squares
		var g mat.Dense
		g.CloneFrom(&gram)
		if err := coef.SolveVec(&g, &rhs); err != nil {
			return fmt.Errorf("ridge solve failed: %w", err)
		}
	}

	r.coef = coef
	r.intercept = yMean - mat.Dot(coef, mat.NewVecDense(p, means))
	return nil
}

// Predict returns Xβ + b.
func (r *Ridge) Predict(X *mat.Dense) ([]float64, error) {
	if r.coef == nil {
		return nil, fmt.Errorf("ridge is not fitted")
	}
	n, p := X.Dims()
	if p != r.coef.Len() {
		return nil, fmt.Errorf("expected %d features, got %d", r.coef.Len(), p)
	}
	var out mat.VecDense
	out.MulVec(X, r.coef)
	pred := make([]float64, n)
	for i := range pred {
		pred[i] = out.AtVec(i) + r.intercept
	}
	return pred, nil
}

// Coefficients returns a copy of the fitted weights.
func (r *Ridge) Coefficients() []float64 {
	if r.coef == nil {
		return nil
	}
	return mat.Col(nil, 0, r.coef)
}

// Intercept returns the fitted intercept.
func (r *Ridge) Intercept() float64 {
	return r.intercept
}
