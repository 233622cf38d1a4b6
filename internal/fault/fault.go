// ABOUTME: Shared error taxonomy for the response pipeline
// ABOUTME: Distinguishes configuration, transient, cancellation, and contract faults

// Package fault defines the error classes the response pipeline deals in.
//
// Every failure that crosses a component boundary is one of four kinds:
//
//   - ConfigurationError: broken setup (unknown model, missing credential).
//     Fatal for the turn; surfaced to the user as a durable system message.
//   - TransientError: timeouts, rate limits, provider 5xx. The turn fails
//     but nothing durable is written; retry is the caller's decision.
//   - CancellationError: an explicit stop. Handled like a transient failure
//     but tagged separately for observability.
//   - ContractViolation: a programming error, such as a delta delivered
//     after a stream was finalized. Logged and contained, never persisted.
package fault

import (
	"errors"
	"fmt"
)

// ConfigurationError indicates broken agent or provider configuration.
// Turns failing with this class persist a visible system error message.
type ConfigurationError struct {
	Reason string
}

func (e *ConfigurationError) Error() string {
	return "configuration error: " + e.Reason
}

// Configurationf builds a ConfigurationError from a format string.
func Configurationf(format string, args ...any) *ConfigurationError {
	return &ConfigurationError{Reason: fmt.Sprintf(format, args...)}
}

// TransientError indicates a retryable upstream failure: timeout, rate
// limit, connection reset, provider 5xx. No message is persisted for it.
type TransientError struct {
	Reason string
	Err    error
}

func (e *TransientError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("transient error (%s): %v", e.Reason, e.Err)
	}
	return "transient error: " + e.Reason
}

func (e *TransientError) Unwrap() error { return e.Err }

// Transientf builds a TransientError wrapping err with a reason tag.
func Transientf(err error, format string, args ...any) *TransientError {
	return &TransientError{Reason: fmt.Sprintf(format, args...), Err: err}
}

// CancellationError indicates the turn was stopped on request.
type CancellationError struct {
	Err error
}

func (e *CancellationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("cancelled: %v", e.Err)
	}
	return "cancelled"
}

func (e *CancellationError) Unwrap() error { return e.Err }

// ContractViolation indicates a caller broke an internal contract, such as
// appending to a finalized stream buffer. This is a programming-error
// class: callers log it loudly rather than letting it corrupt state.
type ContractViolation struct {
	Reason string
}

func (e *ContractViolation) Error() string {
	return "contract violation: " + e.Reason
}

// IsConfiguration reports whether err is a ConfigurationError.
func IsConfiguration(err error) bool {
	var ce *ConfigurationError
	return errors.As(err, &ce)
}

// IsTransient reports whether err is a TransientError.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

// IsCancellation reports whether err is a CancellationError.
func IsCancellation(err error) bool {
	var ce *CancellationError
	return errors.As(err, &ce)
}

// IsContractViolation reports whether err is a ContractViolation.
func IsContractViolation(err error) bool {
	var cv *ContractViolation
	return errors.As(err, &cv)
}
