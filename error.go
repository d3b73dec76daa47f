package streamz

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Code classifies failures into the closed set the engine reasons about.
// Everything a pipeline can fail with maps onto exactly one code.
type Code uint8

const (
	CodeRuntime Code = iota
	CodeParse
	CodeTypeMismatch
	CodeKindMismatch
	CodeConfiguration
	CodeIO
	CodeStateCorruption
	CodeCanceled
	CodeResourceExhausted
)

var codeNames = [...]string{
	CodeRuntime:           "runtime",
	CodeParse:             "parse",
	CodeTypeMismatch:      "type_mismatch",
	CodeKindMismatch:      "kind_mismatch",
	CodeConfiguration:     "configuration",
	CodeIO:                "io",
	CodeStateCorruption:   "state_corruption",
	CodeCanceled:          "cancelled",
	CodeResourceExhausted: "resource_exhausted",
}

func (c Code) String() string {
	if int(c) < len(codeNames) {
		return codeNames[c]
	}
	return fmt.Sprintf("code(%d)", uint8(c))
}

// ErrSchemaMismatch reports slices with differing schemas where identical
// ones are required.
var ErrSchemaMismatch = errors.New("schema mismatch")

// Error provides rich context about pipeline execution failures. It wraps
// the underlying error with the failure code, the path of operator names the
// failure travelled through, and where in the stream it happened.
type Error struct {
	Timestamp time.Time
	Err       error
	Code      Code
	Path      []Name
	Offset    uint64
	Duration  time.Duration
	Timeout   bool
	Canceled  bool
}

// Errorf builds an Error with a formatted message.
func Errorf(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Err: fmt.Errorf(format, args...), Timestamp: time.Now()}
}

// WrapError attaches a code and operator name to an underlying error. An
// existing *Error keeps its code and grows its path instead of being
// wrapped twice.
func WrapError(code Code, name Name, err error) *Error {
	var pe *Error
	if errors.As(err, &pe) {
		pe.Path = append([]Name{name}, pe.Path...)
		return pe
	}
	return &Error{
		Code:      code,
		Err:       err,
		Path:      []Name{name},
		Timestamp: time.Now(),
		Timeout:   errors.Is(err, context.DeadlineExceeded),
		Canceled:  errors.Is(err, context.Canceled),
	}
}

// Error implements the error interface, providing a detailed error message.
func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	path := strings.Join(e.Path, " -> ")
	if path == "" {
		path = "pipeline"
	}
	if e.Timeout {
		return fmt.Sprintf("%s: %s timed out after %v: %v", e.Code, path, e.Duration, e.Err)
	}
	if e.Canceled {
		return fmt.Sprintf("%s: %s canceled after %v: %v", e.Code, path, e.Duration, e.Err)
	}
	return fmt.Sprintf("%s: %s: %v", e.Code, path, e.Err)
}

// Unwrap returns the underlying error, supporting errors.Is and errors.As.
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// IsTimeout reports whether the failure was caused by a timeout.
func (e *Error) IsTimeout() bool {
	if e == nil {
		return false
	}
	return e.Timeout || errors.Is(e.Err, context.DeadlineExceeded)
}

// IsCanceled reports whether the failure was caused by cancellation rather
// than a genuine error, which matters when deciding whether to alert.
func (e *Error) IsCanceled() bool {
	if e == nil {
		return false
	}
	return e.Canceled || e.Code == CodeCanceled || errors.Is(e.Err, context.Canceled)
}

// CodeOf extracts the failure code from any error, defaulting to runtime.
func CodeOf(err error) Code {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Code
	}
	return CodeRuntime
}
