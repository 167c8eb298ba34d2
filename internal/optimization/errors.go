package optimization

import (
	"errors"
	"fmt"
)

// Kind classifies an optimization error so callers can react to the failure
// class without string matching.
type Kind uint8

const (
	// KindUnknown is the zero value for errors that carry no classification.
	KindUnknown Kind = iota
	// KindInvalidSpace marks a malformed search space. Fatal at construction.
	KindInvalidSpace
	// KindInvalidConfig marks a bad fold count, budget or configuration.
	KindInvalidConfig
	// KindEvaluationFailed marks a single trial whose fit or scoring failed.
	KindEvaluationFailed
	// KindStudyExhausted marks a run in which every trial failed.
	KindStudyExhausted
)

// String returns the name of the kind.
func (k Kind) String() string {
	switch k {
	case KindInvalidSpace:
		return "invalid search space"
	case KindInvalidConfig:
		return "invalid configuration"
	case KindEvaluationFailed:
		return "evaluation failed"
	case KindStudyExhausted:
		return "study exhausted"
	default:
		return "optimization error"
	}
}

// Sentinels for errors.Is. Matching is by Kind only.
var (
	ErrInvalidSpace     = &Error{Kind: KindInvalidSpace, Message: KindInvalidSpace.String()}
	ErrInvalidConfig    = &Error{Kind: KindInvalidConfig, Message: KindInvalidConfig.String()}
	ErrEvaluationFailed = &Error{Kind: KindEvaluationFailed, Message: KindEvaluationFailed.String()}
	ErrStudyExhausted   = &Error{Kind: KindStudyExhausted, Message: KindStudyExhausted.String()}
)

// Error represents an optimization error with context
// that can be wrapped with additional information.
type Error struct {
	// Kind is the failure class.
	Kind Kind
	// Message describes the error that occurred.
	Message string
	// Op is the operation that caused the error.
	Op string
	// Component is the component where the error occurred.
	Component string
	// Err is the underlying error that triggered this one, if any.
	Err error
}

// Error returns the string representation of the error.
func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}

	prefix := e.Component
	if e.Op != "" {
		if prefix != "" {
			prefix += ": "
		}
		prefix += e.Op
	}

	msg := e.Message
	if prefix != "" {
		msg = prefix + ": " + msg
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

// Unwrap returns the underlying error, if any.
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Is reports whether target is an *Error of the same, known Kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok || e == nil || t == nil {
		return false
	}
	return t.Kind != KindUnknown && t.Kind == e.Kind
}

// WithOperation adds operation context to the error.
func (e *Error) WithOperation(op string) *Error {
	e.Op = op
	return e
}

// WithComponent adds component context to the error.
func (e *Error) WithComponent(component string) *Error {
	e.Component = component
	return e
}

// NewError creates a new error of the given kind.
func NewError(kind Kind, format string, args ...interface{}) *Error {
	return &Error{
		Kind:    kind,
		Message: fmt.Sprintf(format, args...),
	}
}

// WrapError wraps err with a kind and message.
// If err is nil, WrapError returns nil.
func WrapError(err error, kind Kind, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return &Error{
		Kind:    kind,
		Message: fmt.Sprintf(format, args...),
		Err:     err,
	}
}

// InvalidSpaceError reports a malformed search space.
func InvalidSpaceError(format string, args ...interface{}) *Error {
	return NewError(KindInvalidSpace, format, args...)
}

// InvalidConfigError reports a bad fold count, budget or configuration.
func InvalidConfigError(format string, args ...interface{}) *Error {
	return NewError(KindInvalidConfig, format, args...)
}

// EvaluationFailedError wraps the failure of a single trial evaluation.
func EvaluationFailedError(err error, format string, args ...interface{}) *Error {
	e := NewError(KindEvaluationFailed, format, args...)
	e.Err = err
	return e
}

// StudyExhaustedError reports that no trial of a run produced a finite loss.
func StudyExhaustedError(format string, args ...interface{}) *Error {
	return NewError(KindStudyExhausted, format, args...)
}

// IsOptimizationError finds the first Error in err's chain.
// If there is one, it returns the error and true.
// Otherwise, it returns nil and false.
func IsOptimizationError(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}
