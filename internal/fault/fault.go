// Package fault defines the error taxonomy shared by the retry executor,
// the provider registry, and the invocation orchestrator.
package fault

import (
	"errors"
	"fmt"
	"strings"
)

// ValidationError indicates malformed caller input or a malformed provider
// response. Validation errors are never retried and their results are never
// cached.
type ValidationError struct {
	Op     string
	Reason string
	Err    error
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: validation failed: %s: %v", e.Op, e.Reason, e.Err)
	}
	return fmt.Sprintf("%s: validation failed: %s", e.Op, e.Reason)
}

// Unwrap returns the underlying error.
func (e *ValidationError) Unwrap() error { return e.Err }

// NewValidation creates a ValidationError.
func NewValidation(op, reason string) *ValidationError {
	return &ValidationError{Op: op, Reason: reason}
}

// WrapValidation wraps an error as a ValidationError.
func WrapValidation(op, reason string, err error) *ValidationError {
	return &ValidationError{Op: op, Reason: reason, Err: err}
}

// TransientError indicates a timeout, connection failure, or server-side
// transient failure. Transient errors consume a retry attempt.
type TransientError struct {
	Op      string
	Timeout bool
	Err     error
}

// Error implements the error interface.
func (e *TransientError) Error() string {
	kind := "transient failure"
	if e.Timeout {
		kind = "timeout"
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, kind, e.Err)
}

// Unwrap returns the underlying error.
func (e *TransientError) Unwrap() error { return e.Err }

// Transient wraps an error as a retryable TransientError.
func Transient(op string, err error) *TransientError {
	return &TransientError{Op: op, Err: err}
}

// Timeout wraps an error as a retryable TransientError marked as a timeout.
func Timeout(op string, err error) *TransientError {
	return &TransientError{Op: op, Timeout: true, Err: err}
}

// ExhaustedError is surfaced after the retry budget is spent. It carries the
// attempt count and the last underlying error.
type ExhaustedError struct {
	Op       string
	Attempts int
	Err      error
}

// Error implements the error interface.
func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("%s: retries exhausted after %d attempts: %v", e.Op, e.Attempts, e.Err)
}

// Unwrap returns the last underlying error.
func (e *ExhaustedError) Unwrap() error { return e.Err }

// Exhausted creates an ExhaustedError.
func Exhausted(op string, attempts int, err error) *ExhaustedError {
	return &ExhaustedError{Op: op, Attempts: attempts, Err: err}
}

// NoProviderError indicates that no provider is registered or healthy for the
// requested capability. Reasons lists every candidate's failure, keyed by
// provider name.
type NoProviderError struct {
	Capability string
	Reasons    map[string]string
}

// Error implements the error interface.
func (e *NoProviderError) Error() string {
	if len(e.Reasons) == 0 {
		return fmt.Sprintf("no provider registered for capability %q", e.Capability)
	}
	parts := make([]string, 0, len(e.Reasons))
	for name, reason := range e.Reasons {
		parts = append(parts, name+": "+reason)
	}
	return fmt.Sprintf("no provider available for capability %q (%s)",
		e.Capability, strings.Join(parts, "; "))
}

// NoProvider creates a NoProviderError.
func NoProvider(capability string, reasons map[string]string) *NoProviderError {
	return &NoProviderError{Capability: capability, Reasons: reasons}
}

// CacheWriteError indicates a failed cache write. It is non-fatal: the
// orchestrator logs and counts it but still returns the computed value.
type CacheWriteError struct {
	Key string
	Err error
}

// Error implements the error interface.
func (e *CacheWriteError) Error() string {
	return fmt.Sprintf("cache write failed for key %q: %v", e.Key, e.Err)
}

// Unwrap returns the underlying error.
func (e *CacheWriteError) Unwrap() error { return e.Err }

// IsRetryable reports whether the error is a transient failure that should
// consume a retry attempt.
func IsRetryable(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

// IsTimeout reports whether the error is a deadline expiry.
func IsTimeout(err error) bool {
	var te *TransientError
	return errors.As(err, &te) && te.Timeout
}

// IsValidation reports whether the error is a validation failure.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// IsExhausted reports whether the error is a spent retry budget.
func IsExhausted(err error) bool {
	var ee *ExhaustedError
	return errors.As(err, &ee)
}

// IsNoProvider reports whether the error is a missing or unhealthy capability.
func IsNoProvider(err error) bool {
	var ne *NoProviderError
	return errors.As(err, &ne)
}
