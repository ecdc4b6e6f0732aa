package bench

import (
	"errors"
	"fmt"
)

// ErrorKind classifies a failed benchmark attempt.
type ErrorKind string

// Failure kinds. All four are per-run and recoverable via the retry policy.
const (
	ErrorConnection ErrorKind = "connection"
	ErrorParse      ErrorKind = "parse"
	ErrorTimeout    ErrorKind = "timeout"
	ErrorProcess    ErrorKind = "process"
)

// RunError is a classified failure of a single benchmark attempt.
type RunError struct {
	Kind ErrorKind
	Err  error
}

func (e *RunError) Error() string {
	return fmt.Sprintf("%s error: %v", e.Kind, e.Err)
}

func (e *RunError) Unwrap() error {
	return e.Err
}

func runErrorf(kind ErrorKind, format string, args ...interface{}) *RunError {
	return &RunError{Kind: kind, Err: fmt.Errorf(format, args...)}
}

// KindOf extracts the failure kind from an attempt error, defaulting to
// process for anything unclassified.
func KindOf(err error) ErrorKind {
	var re *RunError
	if errors.As(err, &re) {
		return re.Kind
	}
	return ErrorProcess
}
