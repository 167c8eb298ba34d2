package optimization

import (
	"math"
	"sync"
)

// Study owns the trial history of one optimization run and the pointer to
// its best trial. Trials are only ever appended.
//
// A single goroutine records; any number may read concurrently.
type Study struct {
	space *SearchSpace

	mu     sync.RWMutex
	trials []Trial
	best   int
}

// NewStudy creates an empty study over space.
func NewStudy(space *SearchSpace) (*Study, error) {
	if space == nil {
		return nil, InvalidSpaceError("study needs a search space")
	}
	return &Study{space: space, best: -1}, nil
}

// Space returns the study's search space.
func (s *Study) Space() *SearchSpace {
	return s.space
}

// Record appends trial. Its index must equal the current history length and
// its configuration must lie in the space. A NaN loss is stored as +Inf.
func (s *Study) Record(trial Trial) error {
	if err := s.space.Validate(trial.Configuration); err != nil {
		return err
	}
	if math.IsNaN(trial.Loss) {
		trial.Loss = math.Inf(1)
	}
	if trial.State == "" {
		trial.State = TrialComplete
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if trial.Index != len(s.trials) {
		return InvalidConfigError("trial index %d out of sequence, expected %d", trial.Index, len(s.trials))
	}
	s.trials = append(s.trials, trial)
	if s.best < 0 || trial.Loss < s.trials[s.best].Loss {
		s.best = trial.Index
	}
	return nil
}

// Best returns the trial with the lowest loss, earliest index on ties.
func (s *Study) Best() (Trial, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.best < 0 {
		return Trial{}, false
	}
	return s.trials[s.best], true
}

// Trials returns a copy of the history in index order.
func (s *Study) Trials() []Trial {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return append([]Trial(nil), s.trials...)
}

// Len returns the number of recorded trials.
func (s *Study) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return len(s.trials)
}
