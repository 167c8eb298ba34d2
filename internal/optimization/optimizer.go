package optimization

import (
	"context"
	"time"
)

// Sampler defines the interface for sequential search strategies.
type Sampler interface {
	// Propose returns the next configuration to evaluate. It must not
	// change the recorded history.
	Propose(ctx context.Context) (Configuration, error)

	// Record appends an evaluated trial to the history.
	Record(trial Trial) error

	// Best returns the best trial recorded so far.
	Best() (Trial, bool)

	// History returns the recorded trials in index order.
	History() []Trial

	// Space returns the search space being explored.
	Space() *SearchSpace
}

// TrialState tells whether a trial produced a usable loss.
type TrialState string

const (
	// TrialComplete is a trial whose evaluation succeeded.
	TrialComplete TrialState = "complete"
	// TrialFailed is a trial whose evaluation failed; its loss is +Inf.
	TrialFailed TrialState = "failed"
)

// Trial is one evaluated configuration.
type Trial struct {
	Index         int           `json:"index"`
	Configuration Configuration `json:"configuration"`
	Loss          float64       `json:"loss"`
	Duration      time.Duration `json:"duration"`
	State         TrialState    `json:"state"`
	Err           error         `json:"-"`
}

// Failed reports whether the trial's evaluation failed.
func (t Trial) Failed() bool {
	return t.State == TrialFailed
}
