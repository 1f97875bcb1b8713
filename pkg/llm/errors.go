package llm

import (
	"errors"
	"fmt"
)

// Error codes are stable machine-readable strings; callers switch on Code
// rather than on message text.
const (
	CodeConfigInvalid   = "CONFIG_INVALID"
	CodeAuthFailed      = "AUTH_FAILED"
	CodeRequestFailed   = "REQUEST_FAILED"
	CodeRateLimited     = "RATE_LIMITED"
	CodeProviderFailed  = "PROVIDER_FAILED"
	CodeStreamFailed    = "STREAM_FAILED"
	CodeTimeout         = "TIMEOUT_ERROR"
	CodeToolInvalidArgs = "TOOL_INVALID_ARGS"
	CodeToolFailed      = "TOOL_FAILED"
	CodeSessionFailed   = "SESSION_FAILED"
	CodeCircuitOpen     = "CIRCUIT_OPEN"
)

// Error is the structured error used across the runtime. Retryable marks
// transient failures the retry loop may re-attempt.
type Error struct {
	Code      string
	Message   string
	Retryable bool
	Cause     error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// NewError builds a structured error with an explicit retryable flag.
func NewError(code, message string, retryable bool) *Error {
	return &Error{Code: code, Message: message, Retryable: retryable}
}

// WrapError builds a structured error around a cause.
func WrapError(code, message string, retryable bool, cause error) *Error {
	return &Error{Code: code, Message: message, Retryable: retryable, Cause: cause}
}

// AuthError builds a terminal authentication failure.
func AuthError(message string) *Error {
	return NewError(CodeAuthFailed, message, false)
}

// RateLimitError builds a retryable rate-limit failure.
func RateLimitError(message string) *Error {
	return NewError(CodeRateLimited, message, true)
}

// ProviderError builds a retryable provider-side (5xx) failure.
func ProviderError(message string) *Error {
	return NewError(CodeProviderFailed, message, true)
}

// RequestError builds a terminal request (400 / local build) failure.
func RequestError(message string) *Error {
	return NewError(CodeRequestFailed, message, false)
}

// StreamError builds a mid-stream transport or decode failure.
func StreamError(message string, cause error) *Error {
	return WrapError(CodeStreamFailed, message, true, cause)
}

// TimeoutError builds a timeout failure; retryable for requests, terminal
// per tool call (the executor sets retryable=false).
func TimeoutError(message string, retryable bool) *Error {
	return NewError(CodeTimeout, message, retryable)
}

// ToolValidationError builds a terminal tool-argument failure. It is
// reported back to the model as a tool result so it can self-correct.
func ToolValidationError(message string) *Error {
	return NewError(CodeToolInvalidArgs, message, false)
}

// ToolExecutionError builds a terminal tool execution failure.
func ToolExecutionError(message string) *Error {
	return NewError(CodeToolFailed, message, false)
}

// ErrorCode extracts the stable code from an error chain, or "" when the
// error carries none.
func ErrorCode(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// IsRetryable reports whether the retry loop may re-attempt after err.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Retryable
	}
	// Unclassified transport errors are treated as transient.
	return true
}
