// Package errs provides structured, user-friendly errors with machine-parseable codes.
package errs

import (
	"errors"
	"fmt"
)

// ErrorCode is a machine-parseable error identifier.
type ErrorCode string

const (
	// General
	ErrUnknown    ErrorCode = "ERR-000"
	ErrInternal   ErrorCode = "ERR-001"
	ErrConfig     ErrorCode = "ERR-002"
	ErrValidation ErrorCode = "ERR-003"

	// Target errors
	ErrTargetNotFound    ErrorCode = "ERR-NODE-001"
	ErrTargetConnect     ErrorCode = "ERR-NODE-002"
	ErrConnectTimeout    ErrorCode = "ERR-NODE-003"
	ErrTargetKeyMismatch ErrorCode = "ERR-NODE-004"
	ErrMissingIdentity   ErrorCode = "ERR-NODE-005"

	// Command errors
	ErrCommand  ErrorCode = "ERR-CMD-001"
	ErrTransfer ErrorCode = "ERR-CMD-002"

	// Tunnel errors
	ErrTunnel ErrorCode = "ERR-TUNNEL-001"

	// Build errors
	ErrPrecheck    ErrorCode = "ERR-BUILD-001"
	ErrBuild       ErrorCode = "ERR-BUILD-002"
	ErrImageLookup ErrorCode = "ERR-BUILD-003"

	// Docker errors
	ErrDockerConnect ErrorCode = "ERR-DOCKER-001"
	ErrDockerPull    ErrorCode = "ERR-DOCKER-002"
	ErrDockerRun     ErrorCode = "ERR-DOCKER-003"
	ErrDockerRemove  ErrorCode = "ERR-DOCKER-004"

	// State errors
	ErrStateRead  ErrorCode = "ERR-STATE-001"
	ErrStateWrite ErrorCode = "ERR-STATE-002"
)

// BerthError is the standard structured error type used across all berth packages.
type BerthError struct {
	Code   ErrorCode // Machine-parseable error code
	Op     string    // Operation chain, e.g., "deploy.remote.transfer"
	Node   string    // Resource identifier (target address, definition id, ...)
	Cause  error     // Wrapped upstream error
	Advice string    // Human-readable remediation hint
}

func (e *BerthError) Error() string {
	if e.Node != "" {
		return fmt.Sprintf("[%s] %s (%s): %v", e.Code, e.Op, e.Node, e.Cause)
	}
	return fmt.Sprintf("[%s] %s: %v", e.Code, e.Op, e.Cause)
}

func (e *BerthError) Unwrap() error {
	return e.Cause
}

// UserMessage returns the formatted user-facing error message with remediation advice.
func (e *BerthError) UserMessage() string {
	msg := fmt.Sprintf("%s: %s", e.Code, e.Op)
	if e.Node != "" {
		msg += fmt.Sprintf(" (resource: %s)", e.Node)
	}
	if e.Cause != nil {
		msg += fmt.Sprintf("\n  %v", e.Cause)
	}
	if e.Advice != "" {
		msg += fmt.Sprintf("\n  → %s", e.Advice)
	}
	return msg
}

// New creates a new BerthError.
func New(code ErrorCode, op string, cause error) *BerthError {
	return &BerthError{Code: code, Op: op, Cause: cause}
}

// Newf creates a new BerthError with a formatted message as the cause.
func Newf(code ErrorCode, op, format string, args ...any) *BerthError {
	return &BerthError{Code: code, Op: op, Cause: fmt.Errorf(format, args...)}
}

// WithNode sets the resource identifier on a BerthError.
func (e *BerthError) WithNode(node string) *BerthError {
	e.Node = node
	return e
}

// WithAdvice sets the human-readable remediation hint on a BerthError.
func (e *BerthError) WithAdvice(advice string) *BerthError {
	e.Advice = advice
	return e
}

// Wrap wraps an existing error as a BerthError at a new operation boundary.
// Returns nil for a nil err.
func Wrap(err error, code ErrorCode, op string) error {
	if err == nil {
		return nil
	}
	return &BerthError{Code: code, Op: op, Cause: err}
}

// IsCode reports whether err (or anything it wraps) is a BerthError with the given code.
func IsCode(err error, code ErrorCode) bool {
	for err != nil {
		var be *BerthError
		if !errors.As(err, &be) {
			return false
		}
		if be.Code == code {
			return true
		}
		err = be.Cause
	}
	return false
}

// AsBerth extracts the outermost *BerthError from err, or returns nil.
func AsBerth(err error) *BerthError {
	var be *BerthError
	if errors.As(err, &be) {
		return be
	}
	return nil
}
