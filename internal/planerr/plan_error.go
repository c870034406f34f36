package planerr

import (
	"encoding/json"
	"fmt"
	"time"
)

// PlanError is the canonical error type returned by every CORE package.
type PlanError struct {
	// Code is the machine-readable error code.
	Code Code `json:"code"`

	// Message is a user-safe description.
	Message string `json:"message"`

	// Cause is the underlying error, if any.
	Cause error `json:"-"`

	// Context carries redacted debug fields (step index, device name, …).
	Context map[string]string `json:"context,omitempty"`

	// Timestamp is when the error was constructed.
	Timestamp time.Time `json:"timestamp"`

	// Retryable indicates whether a fallback attempt is permitted. Defaults
	// to the code's IsRetryable() but can be forced false — e.g. a step
	// already on the fallback device must not retry itself.
	Retryable bool `json:"retryable"`
}

// Error implements the error interface.
func (e *PlanError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap exposes the cause for errors.Is/As.
func (e *PlanError) Unwrap() error {
	return e.Cause
}

// WithCause attaches an underlying error.
func (e *PlanError) WithCause(cause error) *PlanError {
	e.Cause = cause
	return e
}

// WithContext adds a single redacted context field.
func (e *PlanError) WithContext(key, value string) *PlanError {
	if e.Context == nil {
		e.Context = make(map[string]string)
	}
	e.Context[key] = Redact(value)
	return e
}

// SetRetryable overrides the code's default retryability.
func (e *PlanError) SetRetryable(retryable bool) *PlanError {
	e.Retryable = retryable
	return e
}

// SafeError returns a string fit for logs: code and message only, no cause.
func (e *PlanError) SafeError() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// MarshalJSON renders a safe representation (no raw Cause).
func (e *PlanError) MarshalJSON() ([]byte, error) {
	type safe struct {
		Code      string            `json:"code"`
		Category  string            `json:"category"`
		Message   string            `json:"message"`
		Context   map[string]string `json:"context,omitempty"`
		Timestamp time.Time         `json:"timestamp"`
		Retryable bool              `json:"retryable"`
	}
	return json.Marshal(safe{
		Code:      string(e.Code),
		Category:  e.Code.Category(),
		Message:   e.Message,
		Context:   e.Context,
		Timestamp: e.Timestamp,
		Retryable: e.Retryable,
	})
}

// New creates a PlanError with the code's default retryability.
func New(code Code, message string) *PlanError {
	return &PlanError{
		Code:      code,
		Message:   message,
		Timestamp: time.Now().UTC(),
		Retryable: code.IsRetryable(),
	}
}

// Newf creates a PlanError with a formatted message.
func Newf(code Code, format string, args ...interface{}) *PlanError {
	return New(code, fmt.Sprintf(format, args...))
}

// Wrap wraps a foreign error in a PlanError, passing through unchanged if
// it already is one.
func Wrap(err error, code Code, message string) *PlanError {
	if err == nil {
		return nil
	}
	if pe, ok := err.(*PlanError); ok {
		return pe
	}
	return New(code, message).WithCause(err)
}

// Wrapf wraps with a formatted message.
func Wrapf(err error, code Code, format string, args ...interface{}) *PlanError {
	return Wrap(err, code, fmt.Sprintf(format, args...))
}

// Is reports whether err is a *PlanError with the given code.
func Is(err error, code Code) bool {
	pe, ok := err.(*PlanError)
	return ok && pe.Code == code
}

// CodeOf extracts the code from err, or CodeUnknown if err is not a
// *PlanError.
func CodeOf(err error) Code {
	if err == nil {
		return ""
	}
	if pe, ok := err.(*PlanError); ok {
		return pe.Code
	}
	return CodeUnknown
}

// IsRetryable reports whether retrying err via fallback is permitted.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if pe, ok := err.(*PlanError); ok {
		return pe.Retryable
	}
	return false
}
