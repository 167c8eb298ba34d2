// Package errors maps hypertune failures onto HTTP and JSON-RPC responses.
package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
	"runtime"
	"strings"

	"github.com/copyleftdev/hypertune/internal/optimization"
)

// JSON-RPC 2.0 error codes.
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternalError  = -32603
	CodeServerError    = -32000
	CodeNotFound       = -32004
	CodeConflict       = -32009
)

var (
	// ErrNotFound marks lookups of unknown studies.
	ErrNotFound = stderrors.New("not found")
	// ErrConflict marks requests the study's current state forbids.
	ErrConflict = stderrors.New("conflict")
	// ErrBadRequest marks malformed or invalid requests.
	ErrBadRequest = stderrors.New("bad request")
	// ErrUnavailable marks requests refused for lack of capacity.
	ErrUnavailable = stderrors.New("unavailable")
)

// Error is an API-facing error with its transport codes.
type Error struct {
	// The underlying error that was returned
	Err error
	// A human-readable message describing the error
	Message string
	// HTTP status of the response
	Status int
	// JSON-RPC error code of the response
	Code int
	// The stack trace, captured for server-side failures only
	Stack []string
}

// Error implements the error interface.
func (e *Error) Error() string {
	switch {
	case e.Message != "" && e.Err != nil:
		return e.Message + ": " + e.Err.Error()
	case e.Err != nil:
		return e.Err.Error()
	default:
		return e.Message
	}
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Err
}

// Internal reports whether the error is the server's fault.
func (e *Error) Internal() bool {
	return e.Status >= http.StatusInternalServerError
}

// NotFoundf creates a not-found error.
func NotFoundf(format string, args ...interface{}) error {
	return fmt.Errorf("%w: "+format, append([]interface{}{ErrNotFound}, args...)...)
}

// Conflictf creates a conflict error.
func Conflictf(format string, args ...interface{}) error {
	return fmt.Errorf("%w: "+format, append([]interface{}{ErrConflict}, args...)...)
}

// BadRequestf creates a bad-request error.
func BadRequestf(format string, args ...interface{}) error {
	return fmt.Errorf("%w: "+format, append([]interface{}{ErrBadRequest}, args...)...)
}

// Unavailablef creates a capacity error.
func Unavailablef(format string, args ...interface{}) error {
	return fmt.Errorf("%w: "+format, append([]interface{}{ErrUnavailable}, args...)...)
}

// Wrap classifies err. Nil stays nil.
func Wrap(err error, msg string) *Error {
	if err == nil {
		return nil
	}

	var e *Error
	if stderrors.As(err, &e) {
		if msg != "" && e.Message == "" {
			e.Message = msg
		}
		return e
	}

	e = &Error{Err: err, Message: msg}
	switch {
	case stderrors.Is(err, ErrNotFound):
		e.Status, e.Code = http.StatusNotFound, CodeNotFound
	case stderrors.Is(err, ErrConflict):
		e.Status, e.Code = http.StatusConflict, CodeConflict
	case stderrors.Is(err, ErrUnavailable):
		e.Status, e.Code = http.StatusServiceUnavailable, CodeServerError
	case stderrors.Is(err, ErrBadRequest),
		stderrors.Is(err, optimization.ErrInvalidSpace),
		stderrors.Is(err, optimization.ErrInvalidConfig):
		e.Status, e.Code = http.StatusBadRequest, CodeInvalidParams
	default:
		e.Status, e.Code = http.StatusInternalServerError, CodeInternalError
		e.Stack = getStackTrace()
	}
	return e
}

// getStackTrace returns the current stack trace as a slice of strings.
func getStackTrace() []string {
	const depth = 32
	var pcs [depth]uintptr
	n := runtime.Callers(3, pcs[:]) // Skip runtime.Callers, getStackTrace, and the constructor
	if n == 0 {
		return nil
	}

	frames := runtime.CallersFrames(pcs[:n])
	stack := make([]string, 0, n)

	for {
		frame, more := frames.Next()
		if !strings.Contains(frame.File, "runtime/") && !strings.Contains(frame.File, "internal/errors") {
			stack = append(stack, fmt.Sprintf("%s\n\t%s:%d", frame.Function, frame.File, frame.Line))
		}
		if !more {
			break
		}
	}

	return stack
}
