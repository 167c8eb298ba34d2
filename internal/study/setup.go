package study

import (
	"fmt"
	"io"

	"github.com/copyleftdev/hypertune/internal/config"
	"github.com/copyleftdev/hypertune/internal/dataset"
	"github.com/copyleftdev/hypertune/internal/evaluation"
	"github.com/copyleftdev/hypertune/internal/logging"
	"github.com/copyleftdev/hypertune/internal/models"
	"github.com/copyleftdev/hypertune/internal/optimization"
	"github.com/copyleftdev/hypertune/internal/optimization/kernels"
	"github.com/copyleftdev/hypertune/internal/optimization/tpe"
	"github.com/copyleftdev/hypertune/internal/sink"
)

// Spec describes a study: what to load, what to tune and where to write the
// results.
type Spec struct {
	config.StudyConfig

	// ID labels the study in logs and metrics. Defaults to the model name.
	ID string
	// Space, when set, replaces SpaceFile and the model's default space.
	Space *optimization.SearchSpace
	// MetricsSink and ParamsSink, when set, replace the sinks opened at
	// MetricsPath and ParamsPath.
	MetricsSink sink.ResultSink
	ParamsSink  sink.ResultSink
	Logger      *logging.Logger
	Metrics     *Metrics
}

// Setup loads the dataset, holds out the test rows and wires the search
// space, model factory, cross validator, TPE sampler and sinks into a runner.
// The trial budget is spec.Trials.
func Setup(spec Spec) (*Runner, error) {
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	logger := spec.Logger
	if logger == nil {
		logger = logging.New(logging.InfoLevel, io.Discard)
	}

	ds, err := dataset.Load(spec.Dataset)
	if err != nil {
		return nil, optimization.WrapError(err, optimization.KindInvalidConfig, "load dataset")
	}
	X, y, err := ds.XY(spec.Features, spec.Target)
	if err != nil {
		return nil, optimization.WrapError(err, optimization.KindInvalidConfig, "select columns")
	}
	split, err := evaluation.TrainTestSplit(X, y, spec.TestSize, spec.Seed)
	if err != nil {
		return nil, optimization.WrapError(err, optimization.KindInvalidConfig, "split dataset")
	}

	space := spec.Space
	switch {
	case space != nil:
	case spec.SpaceFile != "":
		space, err = optimization.LoadSearchSpace(spec.SpaceFile)
	default:
		space, err = models.DefaultSpace(spec.Model)
	}
	if err != nil {
		return nil, err
	}

	factory, err := models.NewFactory(spec.Model, spec.Seed)
	if err != nil {
		return nil, err
	}
	cv, err := evaluation.NewCrossValidator(split.XTrain, split.YTrain, factory, evaluation.Options{
		Folds:      spec.Folds,
		Seed:       spec.Seed,
		MaxWorkers: spec.FoldWorkers,
	})
	if err != nil {
		return nil, err
	}

	id := spec.ID
	if id == "" {
		id = spec.ModelName
	}
	rule, ok := kernels.LookupRule(spec.Bandwidth)
	if !ok {
		return nil, optimization.InvalidConfigError("unknown bandwidth rule %q", spec.Bandwidth)
	}
	warmup := spec.Warmup
	if warmup == 0 {
		warmup = tpe.NoWarmup
	}
	sampler, err := tpe.New(space, tpe.Config{
		Gamma:        spec.Gamma,
		WarmupTrials: warmup,
		Candidates:   spec.Candidates,
		Bandwidth:    rule,
		Seed:         spec.Seed,
		Logger:       logging.NewZapLogger(logger.WithField("study", id)),
	})
	if err != nil {
		return nil, err
	}

	opts := Options{
		StudyID:       id,
		ModelName:     spec.ModelName,
		ModelCategory: spec.ModelCategory,
		Timeout:       spec.Timeout,
		BatchSize:     spec.BatchSize,
		Logger:        logger,
		Metrics:       spec.Metrics,
	}
	if split.HasHoldout() {
		opts.Holdout = &Holdout{X: split.XTest, Y: split.YTest}
	}
	switch {
	case spec.MetricsSink != nil:
		opts.MetricsSink = spec.MetricsSink
	case spec.MetricsPath != "":
		opts.MetricsSink = sink.NewCSVSink(spec.MetricsPath)
	}
	switch {
	case spec.ParamsSink != nil:
		opts.ParamsSink = spec.ParamsSink
	case spec.ParamsPath != "":
		opts.ParamsSink = sink.NewCSVSink(spec.ParamsPath)
	}

	runner, err := NewRunner(sampler, cv, opts)
	if err != nil {
		return nil, fmt.Errorf("create runner: %w", err)
	}

	trainRows, _ := split.XTrain.Dims()
	logger.Named("study").Info("Study prepared", map[string]interface{}{
		"study":      id,
		"dataset":    spec.Dataset,
		"rows":       ds.Rows(),
		"train_rows": trainRows,
		"holdout":    len(split.YTest),
		"model":      spec.Model,
		"dimensions": space.Names(),
		"folds":      spec.Folds,
	})
	return runner, nil
}
