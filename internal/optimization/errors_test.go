package optimization

import (
	"errors"
	"fmt"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorKinds(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		target error
	}{
		{"invalid space", InvalidSpaceError("bad %s", "dim"), ErrInvalidSpace},
		{"invalid config", InvalidConfigError("k=%d", 1), ErrInvalidConfig},
		{"evaluation failed", EvaluationFailedError(io.EOF, "fold %d", 2), ErrEvaluationFailed},
		{"study exhausted", StudyExhaustedError("all %d trials failed", 3), ErrStudyExhausted},
		{"wrapped", fmt.Errorf("runner: %w", InvalidConfigError("budget")), ErrInvalidConfig},
	}

	sentinels := []error{ErrInvalidSpace, ErrInvalidConfig, ErrEvaluationFailed, ErrStudyExhausted}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for _, s := range sentinels {
				assert.Equal(t, s == tt.target, errors.Is(tt.err, s), "errors.Is(%v, %v)", tt.err, s)
			}
		})
	}
}

func TestErrorFormatting(t *testing.T) {
	err := EvaluationFailedError(io.EOF, "fold %d failed", 2).
		WithComponent("evaluation").
		WithOperation("Evaluate")

	assert.Equal(t, "evaluation: Evaluate: fold 2 failed: EOF", err.Error())
	assert.True(t, errors.Is(err, io.EOF))

	e, ok := IsOptimizationError(err)
	assert.True(t, ok)
	assert.Equal(t, KindEvaluationFailed, e.Kind)

	e, ok = IsOptimizationError(fmt.Errorf("trial 3: %w", err))
	assert.True(t, ok)
	assert.Equal(t, "Evaluate", e.Op)

	_, ok = IsOptimizationError(io.EOF)
	assert.False(t, ok)

	assert.Nil(t, WrapError(nil, KindInvalidConfig, "ignored"))
	assert.Equal(t, "<nil>", (*Error)(nil).Error())
	assert.Equal(t, "study exhausted", KindStudyExhausted.String())
}
