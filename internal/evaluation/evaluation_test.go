package evaluation

import (
	"context"
	"errors"
	"math"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"github.com/copyleftdev/hypertune/internal/models"
	"github.com/copyleftdev/hypertune/internal/optimization"
)

// constantModel predicts a fixed value read from the configuration.
type constantModel struct {
	value float64
	fail  string
}

func (m *constantModel) Fit(X *mat.Dense, y []float64) error {
	if m.fail == "fit" {
		return errors.New("fit exploded")
	}
	if m.fail == "panic" {
		panic("boom")
	}
	return nil
}

func (m *constantModel) Predict(X *mat.Dense) ([]float64, error) {
	if m.fail == "predict" {
		return nil, errors.New("predict exploded")
	}
	r, _ := X.Dims()
	out := make([]float64, r)
	for i := range out {
		out[i] = m.value
	}
	if m.fail == "nan" {
		out[0] = math.NaN()
	}
	return out, nil
}

func constantFactory(cfg optimization.Configuration) (models.Regressor, error) {
	return &constantModel{
		value: cfg.Real("value", 0),
		fail:  cfg.Category("fail", ""),
	}, nil
}

func cfgWith(value float64, fail string) optimization.Configuration {
	values := map[string]optimization.Value{"value": optimization.RealValue(value)}
	if fail != "" {
		values["fail"] = optimization.CategoryValue(fail)
	}
	return optimization.NewConfiguration(values)
}

func dataset(n int) (*mat.Dense, []float64) {
	X := mat.NewDense(n, 1, nil)
	y := make([]float64, n)
	for i := 0; i < n; i++ {
		X.Set(i, 0, float64(i))
		y[i] = float64(i)
	}
	return X, y
}

func TestNewCrossValidatorValidates(t *testing.T) {
	X, y := dataset(10)

	tests := []struct {
		name  string
		folds int
	}{
		{"one fold", 1},
		{"zero folds", 0},
		{"more folds than rows", 11},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewCrossValidator(X, y, constantFactory, Options{Folds: tt.folds})
			assert.ErrorIs(t, err, optimization.ErrInvalidConfig)
		})
	}

	_, err := NewCrossValidator(X, y[:5], constantFactory, DefaultOptions())
	assert.ErrorIs(t, err, optimization.ErrInvalidConfig)

	_, err = NewCrossValidator(X, y, nil, DefaultOptions())
	assert.ErrorIs(t, err, optimization.ErrInvalidConfig)
}

func TestFoldsPartitionRows(t *testing.T) {
	X, y := dataset(23)

	for _, shuffle := range []bool{false, true} {
		cv, err := NewCrossValidator(X, y, constantFactory, Options{Folds: 5, Shuffle: shuffle, Seed: 1})
		require.NoError(t, err)

		folds := cv.Folds()
		require.Len(t, folds, 5)
		seen := map[int]int{}
		for f, fold := range folds {
			if f < 4 {
				assert.Len(t, fold, 4)
			} else {
				assert.Len(t, fold, 7, "last fold takes the remainder")
			}
			for _, i := range fold {
				seen[i]++
			}
		}
		assert.Len(t, seen, 23)
		for i, c := range seen {
			assert.Equal(t, 1, c, "row %d", i)
		}
	}
}

func TestEvaluateMatchesHandComputedLoss(t *testing.T) {
	// y = 0..9, contiguous folds of two rows, constant prediction 0:
	// fold MSEs are (0+1)/2, (4+9)/2, (16+25)/2, (36+49)/2, (64+81)/2
	X, y := dataset(10)
	cv, err := NewCrossValidator(X, y, constantFactory, Options{Folds: 5})
	require.NoError(t, err)

	res, err := cv.Evaluate(context.Background(), cfgWith(0, ""))
	require.NoError(t, err)

	expected := []float64{0.5, 6.5, 20.5, 42.5, 72.5}
	assert.InDeltaSlice(t, expected, res.FoldLosses, 1e-12)
	assert.InDelta(t, 28.5, res.Loss, 1e-12)
	for i := range expected {
		assert.Equal(t, -res.FoldLosses[i], res.FoldScores[i])
	}
	assert.Greater(t, res.Std(), 0.0)
}

func TestEvaluateIsDeterministic(t *testing.T) {
	X, y := dataset(40)
	factory, err := models.NewFactory(models.TreeModel, 42)
	require.NoError(t, err)

	cv, err := NewCrossValidator(X, y, factory, Options{Folds: 4, Shuffle: true, Seed: 42, MaxWorkers: 2})
	require.NoError(t, err)

	cfg := optimization.NewConfiguration(map[string]optimization.Value{
		"max_depth": optimization.IntValue(3),
	})
	a, err := cv.Evaluate(context.Background(), cfg)
	require.NoError(t, err)
	b, err := cv.Evaluate(context.Background(), cfg)
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestEvaluateFailures(t *testing.T) {
	X, y := dataset(10)
	cv, err := NewCrossValidator(X, y, constantFactory, Options{Folds: 5})
	require.NoError(t, err)

	for _, mode := range []string{"fit", "predict", "panic", "nan"} {
		t.Run(mode, func(t *testing.T) {
			_, err := cv.Evaluate(context.Background(), cfgWith(1, mode))
			require.Error(t, err)
			assert.ErrorIs(t, err, optimization.ErrEvaluationFailed)

			e, ok := optimization.IsOptimizationError(err)
			require.True(t, ok)
			assert.Equal(t, "evaluation", e.Component)
			assert.Equal(t, "Evaluate", e.Op)
		})
	}

	factoryErr := func(optimization.Configuration) (models.Regressor, error) {
		return nil, errors.New("bad hyperparameters")
	}
	cv, err = NewCrossValidator(X, y, factoryErr, Options{Folds: 2})
	require.NoError(t, err)
	_, err = cv.Evaluate(context.Background(), cfgWith(1, ""))
	assert.ErrorIs(t, err, optimization.ErrEvaluationFailed)
}

func TestEvaluateHonorsCancellation(t *testing.T) {
	X, y := dataset(10)
	cv, err := NewCrossValidator(X, y, constantFactory, Options{Folds: 5})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = cv.Evaluate(ctx, cfgWith(0, ""))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestEvaluateBuildsOneModelPerFold(t *testing.T) {
	X, y := dataset(12)
	var built atomic.Int32
	factory := func(cfg optimization.Configuration) (models.Regressor, error) {
		built.Add(1)
		return &constantModel{}, nil
	}
	cv, err := NewCrossValidator(X, y, factory, Options{Folds: 3})
	require.NoError(t, err)

	_, err = cv.Evaluate(context.Background(), cfgWith(0, ""))
	require.NoError(t, err)
	assert.Equal(t, int32(3), built.Load())
}

func TestRefitAndScore(t *testing.T) {
	X, y := dataset(10)
	cv, err := NewCrossValidator(X, y, constantFactory, Options{Folds: 5})
	require.NoError(t, err)

	report, err := cv.Refit(context.Background(), cfgWith(4.5, ""))
	require.NoError(t, err)
	// mean prediction: MSE equals the population variance of 0..9
	assert.InDelta(t, 8.25, report.Metrics.MSE, 1e-12)
	assert.InDelta(t, 0, report.Metrics.R2, 1e-12)
	assert.Len(t, report.Predictions, 10)

	XTest := mat.NewDense(2, 1, []float64{0, 0})
	holdout, err := cv.Score(cfgWith(1, ""), XTest, []float64{1, 3})
	require.NoError(t, err)
	assert.InDelta(t, 2, holdout.Metrics.MSE, 1e-12)

	_, err = cv.Refit(context.Background(), cfgWith(0, "panic"))
	assert.ErrorIs(t, err, optimization.ErrEvaluationFailed)
}

func TestComputeMetrics(t *testing.T) {
	m, err := ComputeMetrics([]float64{1, 2, 3, 4}, []float64{1, 2, 3, 6})
	require.NoError(t, err)
	assert.InDelta(t, 1.0, m.MSE, 1e-12)
	assert.InDelta(t, 1.0, m.RMSE, 1e-12)
	assert.InDelta(t, 0.5, m.MAE, 1e-12)
	assert.InDelta(t, 1-4/5.0, m.R2, 1e-12)
	assert.InDelta(t, 0.5/4, m.MAPE, 1e-12)

	// zero target variance
	perfect, err := ComputeMetrics([]float64{2, 2}, []float64{2, 2})
	require.NoError(t, err)
	assert.Equal(t, 1.0, perfect.R2)

	imperfect, err := ComputeMetrics([]float64{2, 2}, []float64{2, 3})
	require.NoError(t, err)
	assert.Equal(t, 0.0, imperfect.R2)

	// zero target uses the epsilon floor
	zero, err := ComputeMetrics([]float64{0}, []float64{1})
	require.NoError(t, err)
	assert.Greater(t, zero.MAPE, 1e15)
	assert.False(t, math.IsInf(zero.MAPE, 0))

	_, err = ComputeMetrics(nil, nil)
	assert.Error(t, err)
	_, err = ComputeMetrics([]float64{1}, []float64{1, 2})
	assert.Error(t, err)
}

func TestTrainTestSplit(t *testing.T) {
	X, y := dataset(10)

	split, err := TrainTestSplit(X, y, 0.3, 42)
	require.NoError(t, err)
	assert.Len(t, split.YTrain, 7)
	assert.Len(t, split.YTest, 3)
	assert.True(t, split.HasHoldout())

	seen := map[float64]bool{}
	for _, v := range append(append([]float64(nil), split.YTrain...), split.YTest...) {
		seen[v] = true
	}
	assert.Len(t, seen, 10)

	// rows stay aligned with their targets
	for i, v := range split.YTrain {
		assert.Equal(t, v, split.XTrain.At(i, 0))
	}

	again, err := TrainTestSplit(X, y, 0.3, 42)
	require.NoError(t, err)
	assert.Equal(t, split.YTest, again.YTest)

	none, err := TrainTestSplit(X, y, 0, 42)
	require.NoError(t, err)
	assert.False(t, none.HasHoldout())
	assert.Len(t, none.YTrain, 10)

	_, err = TrainTestSplit(X, y, 1, 42)
	assert.Error(t, err)
	_, err = TrainTestSplit(X, y[:3], 0.3, 42)
	assert.Error(t, err)
}
