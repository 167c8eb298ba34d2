// Package evaluation scores model configurations by k-fold cross-validation
// and reports regression metrics.
package evaluation

import (
	"context"
	"fmt"
	"math"
	"runtime"

	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"github.com/copyleftdev/hypertune/internal/models"
	"github.com/copyleftdev/hypertune/internal/optimization"
)

// Evaluator turns a configuration into a loss. Lower is better.
type Evaluator interface {
	Evaluate(ctx context.Context, cfg optimization.Configuration) (*EvaluationResult, error)
}

// EvaluationResult is the outcome of one cross-validated evaluation.
type EvaluationResult struct {
	// Loss is the mean held-out MSE over the folds.
	Loss float64 `json:"loss"`
	// FoldLosses are the held-out MSEs per fold.
	FoldLosses []float64 `json:"fold_losses"`
	// FoldScores are the negated fold losses, the scale cross-validation
	// scorers report on.
	FoldScores []float64 `json:"fold_scores"`
}

// Std returns the standard deviation of the fold losses.
func (r *EvaluationResult) Std() float64 {
	if len(r.FoldLosses) < 2 {
		return 0
	}
	return stat.StdDev(r.FoldLosses, nil)
}

// Report is the outcome of refitting a configuration on all training rows.
type Report struct {
	Metrics     Metrics   `json:"metrics"`
	Predictions []float64 `json:"-"`
}

// Options configures a CrossValidator.
type Options struct {
	// Folds is the number of folds k, at least 2.
	Folds int
	// Shuffle permutes rows with Seed before folding.
	Shuffle bool
	Seed    int64
	// MaxWorkers bounds concurrently evaluated folds. Zero uses GOMAXPROCS.
	MaxWorkers int
}

// DefaultOptions returns 5 contiguous folds.
func DefaultOptions() Options {
	return Options{Folds: 5, Seed: 42}
}

// CrossValidator evaluates configurations on a fixed training set. The data
// is shared read-only between folds and calls.
type CrossValidator struct {
	x       *mat.Dense
	y       []float64
	factory models.Factory
	opts    Options
	folds   [][]int
}

var _ Evaluator = (*CrossValidator)(nil)

// NewCrossValidator prepares the folds of X and y.
func NewCrossValidator(X *mat.Dense, y []float64, factory models.Factory, opts Options) (*CrossValidator, error) {
	if X == nil || factory == nil {
		return nil, optimization.InvalidConfigError("cross validation needs data and a model factory")
	}
	n, _ := X.Dims()
	if n != len(y) {
		return nil, optimization.InvalidConfigError("x has %d rows but y has %d", n, len(y))
	}
	if opts.Folds < 2 || opts.Folds > n {
		return nil, optimization.InvalidConfigError("number of folds must be between 2 and %d, got %d", n, opts.Folds)
	}
	if opts.MaxWorkers <= 0 {
		opts.MaxWorkers = runtime.GOMAXPROCS(0)
	}

	return &CrossValidator{
		x:       X,
		y:       y,
		factory: factory,
		opts:    opts,
		folds:   kFold(permutation(n, opts.Shuffle, opts.Seed), opts.Folds),
	}, nil
}

// Folds returns the row indices of each fold.
func (cv *CrossValidator) Folds() [][]int {
	out := make([][]int, len(cv.folds))
	for i, f := range cv.folds {
		out[i] = append([]int(nil), f...)
	}
	return out
}

// Evaluate fits one fresh model per fold on the other folds and scores it on
// the held-out fold. Any fold failure fails the evaluation.
func (cv *CrossValidator) Evaluate(ctx context.Context, cfg optimization.Configuration) (*EvaluationResult, error) {
	losses := make([]float64, len(cv.folds))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(cv.opts.MaxWorkers)
	for i := range cv.folds {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			loss, err := cv.evaluateFold(cfg, i)
			if err != nil {
				return fmt.Errorf("fold %d: %w", i, err)
			}
			losses[i] = loss
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, optimization.EvaluationFailedError(err, "cross validation failed").
			WithComponent("evaluation").
			WithOperation("Evaluate")
	}

	scores := make([]float64, len(losses))
	for i, l := range losses {
		scores[i] = -l
	}
	return &EvaluationResult{
		Loss:       -stat.Mean(scores, nil),
		FoldLosses: losses,
		FoldScores: scores,
	}, nil
}

func (cv *CrossValidator) evaluateFold(cfg optimization.Configuration, fold int) (loss float64, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("model panicked: %v", r)
		}
	}()

	test := cv.folds[fold]
	train := make([]int, 0, len(cv.y)-len(test))
	for i, f := range cv.folds {
		if i != fold {
			train = append(train, f...)
		}
	}

	XTrain, yTrain := selectRows(cv.x, cv.y, train)
	XTest, yTest := selectRows(cv.x, cv.y, test)

	model, err := cv.factory(cfg)
	if err != nil {
		return 0, fmt.Errorf("build model: %w", err)
	}
	if err := model.Fit(XTrain, yTrain); err != nil {
		return 0, fmt.Errorf("fit: %w", err)
	}
	pred, err := model.Predict(XTest)
	if err != nil {
		return 0, fmt.Errorf("predict: %w", err)
	}

	mse, err := MeanSquaredError(yTest, pred)
	if err != nil {
		return 0, err
	}
	if math.IsNaN(mse) || math.IsInf(mse, 0) {
		return 0, fmt.Errorf("non-finite fold score %v", mse)
	}
	return mse, nil
}

// Refit trains cfg on every training row and reports metrics on the same
// rows.
func (cv *CrossValidator) Refit(ctx context.Context, cfg optimization.Configuration) (*Report, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return fitAndScore(cv.factory, cfg, cv.x, cv.y, cv.x, cv.y)
}

// Score trains cfg on every training row and reports metrics on the given
// holdout rows.
func (cv *CrossValidator) Score(cfg optimization.Configuration, XTest *mat.Dense, yTest []float64) (*Report, error) {
	return fitAndScore(cv.factory, cfg, cv.x, cv.y, XTest, yTest)
}

func fitAndScore(factory models.Factory, cfg optimization.Configuration, XTrain *mat.Dense, yTrain []float64, XTest *mat.Dense, yTest []float64) (report *Report, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = optimization.EvaluationFailedError(fmt.Errorf("%v", r), "model panicked")
		}
	}()

	model, err := factory(cfg)
	if err != nil {
		return nil, optimization.EvaluationFailedError(err, "build model")
	}
	if err := model.Fit(XTrain, yTrain); err != nil {
		return nil, optimization.EvaluationFailedError(err, "fit")
	}
	pred, err := model.Predict(XTest)
	if err != nil {
		return nil, optimization.EvaluationFailedError(err, "predict")
	}
	m, err := ComputeMetrics(yTest, pred)
	if err != nil {
		return nil, optimization.EvaluationFailedError(err, "metrics")
	}
	return &Report{Metrics: m, Predictions: pred}, nil
}
