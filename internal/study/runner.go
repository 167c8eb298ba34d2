// Package study drives a sampler and an evaluator through a trial budget and
// finalizes the best configuration.
package study

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/mat"

	"github.com/copyleftdev/hypertune/internal/evaluation"
	"github.com/copyleftdev/hypertune/internal/logging"
	"github.com/copyleftdev/hypertune/internal/optimization"
	"github.com/copyleftdev/hypertune/internal/sink"
)

// Finalizer refits a configuration once the search is over.
type Finalizer interface {
	Refit(ctx context.Context, cfg optimization.Configuration) (*evaluation.Report, error)
	Score(cfg optimization.Configuration, XTest *mat.Dense, yTest []float64) (*evaluation.Report, error)
}

// BatchProposer is implemented by samplers that can propose several
// configurations from the same history.
type BatchProposer interface {
	ProposeBatch(ctx context.Context, n int) ([]optimization.Configuration, error)
}

// Holdout is test data the best configuration is scored on after refitting.
type Holdout struct {
	X *mat.Dense
	Y []float64
}

// Options configures a Runner.
type Options struct {
	// StudyID labels the best-loss gauge. Defaults to ModelName.
	StudyID       string
	ModelName     string
	ModelCategory string
	// Timeout bounds the search loop. Zero means no deadline.
	Timeout time.Duration
	// BatchSize is the number of trials proposed and evaluated together.
	BatchSize int
	// Finalizer refits the best configuration. When nil the evaluator is
	// used if it implements Finalizer.
	Finalizer   Finalizer
	Holdout     *Holdout
	MetricsSink sink.ResultSink
	ParamsSink  sink.ResultSink
	Logger      *logging.Logger
	Metrics     *Metrics
}

// BestResult is the outcome of a finished study.
type BestResult struct {
	Configuration  optimization.Configuration `json:"configuration"`
	Loss           float64                    `json:"loss"`
	Metrics        evaluation.Metrics         `json:"metrics"`
	HoldoutMetrics *evaluation.Metrics        `json:"holdout_metrics,omitempty"`
	TotalDuration  time.Duration              `json:"total_duration"`
	Trials         int                        `json:"trials"`
	Failed         int                        `json:"failed"`
	Truncated      bool                       `json:"truncated"`
}

// Runner runs one study. Run must not be called concurrently; the
// accessors are safe from any goroutine.
type Runner struct {
	sampler   optimization.Sampler
	evaluator evaluation.Evaluator
	finalizer Finalizer
	opts      Options
	logger    *logging.Logger

	mu     sync.RWMutex
	result *BestResult
}

// NewRunner creates a runner that proposes with sampler and scores with
// evaluator.
func NewRunner(sampler optimization.Sampler, evaluator evaluation.Evaluator, opts Options) (*Runner, error) {
	if sampler == nil || evaluator == nil {
		return nil, optimization.InvalidConfigError("runner needs a sampler and an evaluator")
	}
	if opts.Timeout < 0 {
		return nil, optimization.InvalidConfigError("timeout must not be negative, got %v", opts.Timeout)
	}
	if opts.BatchSize < 0 {
		return nil, optimization.InvalidConfigError("batch size must not be negative, got %d", opts.BatchSize)
	}
	if opts.BatchSize == 0 {
		opts.BatchSize = 1
	}
	if opts.StudyID == "" {
		opts.StudyID = opts.ModelName
	}
	if opts.Logger == nil {
		opts.Logger = logging.New(logging.InfoLevel, io.Discard)
	}

	finalizer := opts.Finalizer
	if finalizer == nil {
		finalizer, _ = evaluator.(Finalizer)
	}

	return &Runner{
		sampler:   sampler,
		evaluator: evaluator,
		finalizer: finalizer,
		opts:      opts,
		logger: opts.Logger.Named("study").WithFields(map[string]interface{}{
			"study": opts.StudyID,
		}),
	}, nil
}

// Best returns the best trial recorded so far.
func (r *Runner) Best() (optimization.Trial, bool) {
	return r.sampler.Best()
}

// Trials returns the recorded trials in index order.
func (r *Runner) Trials() []optimization.Trial {
	return r.sampler.History()
}

// Result returns the finalized result once Run has succeeded.
func (r *Runner) Result() (*BestResult, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.result, r.result != nil
}

// Run evaluates up to budget trials, then refits the best configuration and
// writes it to the sinks. A failed trial is recorded with +Inf loss and the
// loop goes on. When the timeout expires the best-so-far is finalized and
// marked truncated; cancelling ctx returns the context error.
func (r *Runner) Run(ctx context.Context, budget int) (*BestResult, error) {
	if budget < 1 {
		return nil, optimization.InvalidConfigError("trial budget must be at least 1, got %d", budget)
	}

	start := time.Now()
	searchCtx := ctx
	if r.opts.Timeout > 0 {
		var cancel context.CancelFunc
		searchCtx, cancel = context.WithTimeout(ctx, r.opts.Timeout)
		defer cancel()
	}

	r.logger.Info("Study started", map[string]interface{}{
		"budget":     budget,
		"batch_size": r.opts.BatchSize,
		"timeout":    r.opts.Timeout,
	})

	done := 0
	for done < budget && searchCtx.Err() == nil {
		n, err := r.runBatch(searchCtx, min(r.opts.BatchSize, budget-done))
		done += n
		if err != nil && searchCtx.Err() == nil {
			r.opts.Metrics.observeStudy(OutcomeFailed)
			return nil, err
		}
	}

	if err := ctx.Err(); err != nil {
		r.opts.Metrics.observeStudy(OutcomeCancelled)
		r.logger.Warn("Study cancelled", map[string]interface{}{"trials": done})
		return nil, err
	}

	history := r.sampler.History()
	failed := 0
	for _, t := range history {
		if t.Failed() {
			failed++
		}
	}
	if failed == len(history) {
		r.opts.Metrics.observeStudy(OutcomeExhausted)
		if len(history) == 0 {
			return nil, optimization.StudyExhaustedError("no trial finished within %v", r.opts.Timeout).
				WithComponent("study").
				WithOperation("Run")
		}
		return nil, optimization.StudyExhaustedError("all %d trials failed", failed).
			WithComponent("study").
			WithOperation("Run")
	}

	best, _ := r.sampler.Best()
	result := &BestResult{
		Configuration: best.Configuration,
		Loss:          best.Loss,
		Trials:        len(history),
		Failed:        failed,
		Truncated:     done < budget,
	}
	if err := r.finalize(ctx, result, start); err != nil {
		r.opts.Metrics.observeStudy(OutcomeFailed)
		return nil, err
	}

	outcome := OutcomeCompleted
	if result.Truncated {
		outcome = OutcomeTruncated
	}
	r.opts.Metrics.observeStudy(outcome)

	r.mu.Lock()
	r.result = result
	r.mu.Unlock()

	r.logger.Info("Study finished", map[string]interface{}{
		"loss":          result.Loss,
		"configuration": result.Configuration,
		"trials":        result.Trials,
		"failed":        result.Failed,
		"truncated":     result.Truncated,
		"duration":      result.TotalDuration,
	})
	return result, nil
}

// finalize refits the best configuration, scores the holdout and appends the
// records to the sinks.
func (r *Runner) finalize(ctx context.Context, result *BestResult, start time.Time) error {
	if r.finalizer != nil {
		report, err := r.finalizer.Refit(ctx, result.Configuration)
		if err != nil {
			return fmt.Errorf("refit best configuration: %w", err)
		}
		result.Metrics = report.Metrics

		if h := r.opts.Holdout; h != nil && h.X != nil && len(h.Y) > 0 {
			report, err := r.finalizer.Score(result.Configuration, h.X, h.Y)
			if err != nil {
				return fmt.Errorf("score holdout: %w", err)
			}
			m := report.Metrics
			result.HoldoutMetrics = &m
		}
	}
	result.TotalDuration = time.Since(start)

	if r.opts.MetricsSink != nil && r.finalizer != nil {
		rec := sink.MetricsRecord{
			ModelName:      r.opts.ModelName,
			ModelCategory:  r.opts.ModelCategory,
			Metrics:        result.Metrics,
			CompletionTime: result.TotalDuration,
		}
		if err := r.opts.MetricsSink.Append(rec); err != nil {
			return fmt.Errorf("write metrics: %w", err)
		}
	}
	if r.opts.ParamsSink != nil {
		rec := sink.NewParamsRecord(r.opts.ModelName, r.sampler.Space(), result.Configuration)
		if err := r.opts.ParamsSink.Append(rec); err != nil {
			return fmt.Errorf("write best parameters: %w", err)
		}
	}
	return nil
}

type outcome struct {
	loss     float64
	duration time.Duration
	err      error
	aborted  bool
}

// runBatch proposes n configurations from the current history, evaluates
// them concurrently and records them in proposal order. It returns the
// number of recorded trials.
func (r *Runner) runBatch(ctx context.Context, n int) (int, error) {
	configs, err := r.propose(ctx, n)
	if err != nil {
		return 0, fmt.Errorf("propose: %w", err)
	}

	outcomes := make([]outcome, len(configs))
	g, gctx := errgroup.WithContext(ctx)
	for i, cfg := range configs {
		g.Go(func() error {
			outcomes[i] = r.evaluate(gctx, cfg)
			if outcomes[i].aborted {
				return outcomes[i].err
			}
			return nil
		})
	}
	abortErr := g.Wait()

	base := len(r.sampler.History())
	for i, o := range outcomes {
		if o.aborted {
			return i, abortErr
		}
		trial := optimization.Trial{
			Index:         base + i,
			Configuration: configs[i],
			Loss:          o.loss,
			Duration:      o.duration,
			State:         optimization.TrialComplete,
		}
		if o.err != nil {
			trial.Loss = math.Inf(1)
			trial.State = optimization.TrialFailed
			trial.Err = o.err
		}
		if err := r.sampler.Record(trial); err != nil {
			return i, fmt.Errorf("record trial %d: %w", trial.Index, err)
		}
		r.observe(trial)
	}
	return len(outcomes), nil
}

func (r *Runner) propose(ctx context.Context, n int) ([]optimization.Configuration, error) {
	if bp, ok := r.sampler.(BatchProposer); ok && n > 1 {
		return bp.ProposeBatch(ctx, n)
	}
	configs := make([]optimization.Configuration, 0, n)
	for range n {
		cfg, err := r.sampler.Propose(ctx)
		if err != nil {
			return nil, err
		}
		configs = append(configs, cfg)
	}
	return configs, nil
}

// evaluate scores cfg. Context aborts are reported as aborted; every other
// failure becomes an evaluation failure of the trial.
func (r *Runner) evaluate(ctx context.Context, cfg optimization.Configuration) (o outcome) {
	start := time.Now()
	defer func() {
		if p := recover(); p != nil {
			o = outcome{err: optimization.EvaluationFailedError(fmt.Errorf("%v", p), "evaluator panicked").WithComponent("study")}
		}
		o.duration = time.Since(start)
	}()

	res, err := r.evaluator.Evaluate(ctx, cfg)
	switch {
	case err == nil && (math.IsNaN(res.Loss) || math.IsInf(res.Loss, 0)):
		o.err = optimization.EvaluationFailedError(nil, "non-finite loss %v", res.Loss).WithComponent("study")
	case err == nil:
		o.loss = res.Loss
	case ctx.Err() != nil:
		o.err, o.aborted = err, true
	case errors.Is(err, optimization.ErrEvaluationFailed):
		o.err = err
	default:
		o.err = optimization.EvaluationFailedError(err, "evaluate configuration").WithComponent("study")
	}
	return o
}

func (r *Runner) observe(trial optimization.Trial) {
	r.opts.Metrics.observeTrial(string(trial.State), trial.Duration)

	fields := map[string]interface{}{
		"trial":         trial.Index,
		"loss":          trial.Loss,
		"duration":      trial.Duration,
		"configuration": trial.Configuration,
	}
	if trial.Failed() {
		if e, ok := optimization.IsOptimizationError(trial.Err); ok {
			fields["error_kind"] = e.Kind.String()
			if e.Component != "" {
				fields["error_component"] = e.Component
			}
		}
		r.logger.WithError(trial.Err).Warn("Trial failed", fields)
		return
	}
	r.logger.Debug("Trial finished", fields)

	if best, ok := r.sampler.Best(); ok && best.Index == trial.Index {
		r.opts.Metrics.setBestLoss(r.opts.StudyID, best.Loss)
		r.logger.Debug("New best trial", map[string]interface{}{
			"trial": best.Index,
			"loss":  best.Loss,
		})
	}
}
