// Package exception provides the custom error type used across the pipelines.
// It standardizes errors that occur during pipeline runs, allowing them to be
// categorized based on retry and skip policies.
package exception

import (
	"fmt"
	"runtime"
	"strings"
)

// PipelineError is a custom error type raised during pipeline processing.
// It holds the module where the error occurred, a message, the wrapped original
// error, and flags indicating whether it is retryable or skippable.
type PipelineError struct {
	// Module indicates the module where the error occurred (e.g., "aqi", "featurestore", "inference").
	Module string
	// Message is a concise description of the error.
	Message string
	// OriginalErr is the wrapped original error.
	OriginalErr error
	// isRetryable indicates whether this error is retryable.
	isRetryable bool
	// isSkippable indicates whether this error is skippable.
	isSkippable bool
	// StackTrace is the stack trace at the time of the error (for debugging).
	StackTrace string
}

// NewPipelineError creates a new PipelineError instance.
func NewPipelineError(module, message string, originalErr error, isSkippable, isRetryable bool) *PipelineError {
	buf := make([]byte, 2048)
	n := runtime.Stack(buf, false)

	return &PipelineError{
		Module:      module,
		Message:     message,
		OriginalErr: originalErr,
		isRetryable: isRetryable,
		isSkippable: isSkippable,
		StackTrace:  string(buf[:n]),
	}
}

// NewPipelineErrorf creates a new PipelineError instance using a format string.
// Optional flags and an error are extracted from the end of the variadic
// arguments in the order: [isSkippable bool], [isRetryable bool], [originalErr error].
// The remaining arguments are used for fmt.Sprintf.
//
// Example:
// NewPipelineErrorf("aqi", "failed to fetch %s", "copenhagen", true, true, io.EOF)
// -> message: "failed to fetch copenhagen", isSkippable: true, isRetryable: true, originalErr: io.EOF
func NewPipelineErrorf(module, format string, a ...interface{}) *PipelineError {
	var originalErr error
	isRetryable := false
	isSkippable := false
	args := a

	if len(args) > 0 {
		if err, ok := args[len(args)-1].(error); ok {
			originalErr = err
			args = args[:len(args)-1]
		}
	}
	if len(args) > 0 {
		if b, ok := args[len(args)-1].(bool); ok {
			isRetryable = b
			args = args[:len(args)-1]
		}
	}
	if len(args) > 0 {
		if b, ok := args[len(args)-1].(bool); ok {
			isSkippable = b
			args = args[:len(args)-1]
		}
	}

	message := fmt.Sprintf(format, args...)

	buf := make([]byte, 2048)
	n := runtime.Stack(buf, false)

	return &PipelineError{
		Module:      module,
		Message:     message,
		OriginalErr: originalErr,
		isRetryable: isRetryable,
		isSkippable: isSkippable,
		StackTrace:  string(buf[:n]),
	}
}

// Error implements the error interface.
func (e *PipelineError) Error() string {
	if e.OriginalErr != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Module, e.Message, e.OriginalErr)
	}
	return fmt.Sprintf("[%s] %s", e.Module, e.Message)
}

// Unwrap returns the original error for errors.Unwrap.
func (e *PipelineError) Unwrap() error {
	return e.OriginalErr
}

// IsRetryable returns whether this error is retryable.
func (e *PipelineError) IsRetryable() bool {
	return e.isRetryable
}

// IsSkippable returns whether this error is skippable.
func (e *PipelineError) IsSkippable() bool {
	return e.isSkippable
}

// IsPipelineError determines if the given error is of type PipelineError.
func IsPipelineError(err error) bool {
	if err == nil {
		return false
	}
	_, ok := err.(*PipelineError)
	return ok
}

// IsTemporary determines if an error is temporary (e.g., network error,
// temporary DB connection issue). Used by retry logic.
// If it's a PipelineError, its IsRetryable flag takes precedence.
func IsTemporary(err error) bool {
	if err == nil {
		return false
	}
	if pe, ok := err.(*PipelineError); ok {
		return pe.IsRetryable()
	}
	errStr := err.Error()
	return strings.Contains(errStr, "timeout") ||
		strings.Contains(errStr, "connection refused") ||
		strings.Contains(errStr, "EOF")
}

// IsFatal determines if an error is fatal (cannot be retried or skipped).
func IsFatal(err error) bool {
	if err == nil {
		return false
	}
	if pe, ok := err.(*PipelineError); ok {
		return !pe.IsRetryable() && !pe.IsSkippable()
	}
	errStr := err.Error()
	return strings.Contains(errStr, "invalid argument") ||
		strings.Contains(errStr, "permission denied")
}
