// Package toolerrors provides a structured error type for tool and contract
// failures that preserves cause chains across the phase boundaries in
// package contract, while remaining errors.Is/As-compatible. Adapted from
// the teacher's runtime/agent/toolerrors package.
package toolerrors

import (
	"errors"
	"fmt"
)

// ToolError is a structured failure with an optional causal chain. Used for
// every tool invocation failure and every contract repair that ultimately
// gives up, so callers can walk the chain with errors.As regardless of how
// many tool/contract hops produced it.
type ToolError struct {
	Message string
	Cause   *ToolError
}

// New constructs a ToolError with no wrapped cause.
func New(message string) *ToolError {
	if message == "" {
		message = "tool error"
	}
	return &ToolError{Message: message}
}

// NewWithCause constructs a ToolError wrapping an underlying error, which is
// itself converted into a ToolError chain.
func NewWithCause(message string, cause error) *ToolError {
	if message == "" && cause != nil {
		message = cause.Error()
	}
	return &ToolError{Message: message, Cause: FromError(cause)}
}

// FromError converts an arbitrary error into a ToolError chain, reusing an
// existing chain in-place rather than re-wrapping it.
func FromError(err error) *ToolError {
	if err == nil {
		return nil
	}
	var te *ToolError
	if errors.As(err, &te) {
		return te
	}
	return &ToolError{Message: err.Error(), Cause: FromError(errors.Unwrap(err))}
}

// Errorf formats a message into a ToolError.
func Errorf(format string, args ...any) *ToolError {
	return New(fmt.Sprintf(format, args...))
}

// Error implements error.
func (e *ToolError) Error() string {
	if e == nil {
		return ""
	}
	return e.Message
}

// Unwrap supports errors.Is/As across the cause chain.
func (e *ToolError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}
