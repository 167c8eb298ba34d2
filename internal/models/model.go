// Package models provides the regressors tuned by hypertune. Every model
// satisfies Regressor and is built from a Configuration by a Factory.
package models

import (
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/mat"

	"github.com/copyleftdev/hypertune/internal/optimization"
)

// Regressor is a trainable model predicting one real target.
type Regressor interface {
	// Fit trains the model on the rows of X and targets y.
	Fit(X *mat.Dense, y []float64) error
	// Predict returns one prediction per row of X.
	Predict(X *mat.Dense) ([]float64, error)
}

// Factory builds an untrained regressor from a configuration.
type Factory func(cfg optimization.Configuration) (Regressor, error)

// Model names accepted by NewFactory and DefaultSpace.
const (
	RandomForestModel = "random_forest"
	TreeModel         = "decision_tree"
	RidgeModel        = "ridge"
)

// Names lists the available models.
func Names() []string {
	return []string{RandomForestModel, TreeModel, RidgeModel}
}

// NewFactory returns the factory of the named model. Seed makes the
// randomized models reproducible.
func NewFactory(model string, seed int64) (Factory, error) {
	switch model {
	case RandomForestModel:
		return func(cfg optimization.Configuration) (Regressor, error) {
			return forestFromConfig(cfg, seed)
		}, nil
	case TreeModel:
		return func(cfg optimization.Configuration) (Regressor, error) {
			return treeFromConfig(cfg, seed)
		}, nil
	case RidgeModel:
		return func(cfg optimization.Configuration) (Regressor, error) {
			return ridgeFromConfig(cfg)
		}, nil
	default:
		return nil, optimization.InvalidConfigError("unknown model %q", model)
	}
}

// DefaultSpace returns the search space conventionally tuned for model.
func DefaultSpace(model string) (*optimization.SearchSpace, error) {
	switch model {
	case RandomForestModel:
		return optimization.NewSearchSpace(
			optimization.IntDimension("n_estimators", 10, 500),
			optimization.IntDimension("max_depth", 1, 50),
			optimization.IntDimension("min_samples_split", 2, 20),
			optimization.IntDimension("min_samples_leaf", 1, 20),
			optimization.CategoricalDimension("max_features", "sqrt", "log2", "all"),
			optimization.CategoricalDimension("bootstrap", "true", "false"),
			optimization.CategoricalDimension("criterion", "squared_error", "absolute_error"),
		)
	case TreeModel:
		return optimization.NewSearchSpace(
			optimization.IntDimension("max_depth", 1, 50),
			optimization.IntDimension("min_samples_split", 2, 20),
			optimization.IntDimension("min_samples_leaf", 1, 20),
			optimization.CategoricalDimension("max_features", "sqrt", "log2", "all"),
			optimization.CategoricalDimension("criterion", "squared_error", "absolute_error"),
		)
	case RidgeModel:
		return optimization.NewSearchSpace(
			optimization.LogRealDimension("alpha", 1e-4, 100),
			optimization.CategoricalDimension("fit_intercept", "true", "false"),
		)
	default:
		return nil, optimization.InvalidConfigError("unknown model %q", model)
	}
}

func checkShape(X *mat.Dense, y []float64) (int, int, error) {
	if X == nil {
		return 0, 0, fmt.Errorf("nil feature matrix")
	}
	r, c := X.Dims()
	if r != len(y) {
		return 0, 0, fmt.Errorf("feature rows (%d) and targets (%d) differ", r, len(y))
	}
	if r == 0 || c == 0 {
		return 0, 0, fmt.Errorf("empty training data")
	}
	for i, v := range y {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return 0, 0, fmt.Errorf("target %d is not finite", i)
		}
	}
	return r, c, nil
}

func parseBool(name, v string) (bool, error) {
	switch v {
	case "true", "True", "1":
		return true, nil
	case "false", "False", "0":
		return false, nil
	}
	return false, fmt.Errorf("%s: invalid boolean %q", name, v)
}

func median(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	mid := len(sorted) / 2
	if len(sorted)%2 == 1 {
		return sorted[mid]
	}
	return (sorted[mid-1] + sorted[mid]) / 2
}
