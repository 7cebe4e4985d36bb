// internal/core/errors.go
package core

import (
	"errors"
	"fmt"
)

// Error represents a structured error with a stable code and optional cause.
// The code is the machine-readable reason surfaced to API clients.
type Error struct {
	Code    string
	Message string
	Cause   error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is implements errors.Is matching by code.
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Code == t.Code
	}
	return false
}

// Detail returns the human-readable detail carried by the cause, if any.
func (e *Error) Detail() string {
	if e.Cause == nil {
		return ""
	}
	return e.Cause.Error()
}

// WrapError creates a new error with the same code but with a cause.
func WrapError(base *Error, cause error) *Error {
	return &Error{
		Code:    base.Code,
		Message: base.Message,
		Cause:   cause,
	}
}

// Errorf wraps base with a formatted cause.
func Errorf(base *Error, format string, args ...any) *Error {
	return WrapError(base, fmt.Errorf(format, args...))
}

// CodeOf extracts the code of the first *Error in err's chain.
func CodeOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// ParamError identifies a strategy parameter rejected at evaluation entry.
type ParamError struct {
	Key    string
	Value  any
	Min    float64
	Max    float64
	Reason string
}

func (e *ParamError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("parameter %q: %s", e.Key, e.Reason)
	}
	return fmt.Sprintf("parameter %q=%v outside [%g, %g]", e.Key, e.Value, e.Min, e.Max)
}

// InvalidParam builds an INVALID_PARAMETER error naming the offending key.
func InvalidParam(pe *ParamError) *Error {
	return WrapError(ErrInvalidParameter, pe)
}

// Predefined errors
var (
	// Data errors
	ErrDataUnavailable = &Error{Code: "DATA_UNAVAILABLE", Message: "no bars available for symbol and interval"}
	ErrSymbolInvalid   = &Error{Code: "SYMBOL_INVALID", Message: "invalid symbol"}
	ErrProviderFailed  = &Error{Code: "PROVIDER_FAILED", Message: "market data provider failed"}

	// Strategy errors
	ErrInvalidParameter = &Error{Code: "INVALID_PARAMETER", Message: "strategy parameter out of bounds"}
	ErrStrategyNotFound = &Error{Code: "STRATEGY_NOT_FOUND", Message: "strategy not found"}

	// Session errors
	ErrSessionNotFound        = &Error{Code: "SESSION_NOT_FOUND", Message: "session not found"}
	ErrSessionAlreadyActive   = &Error{Code: "SESSION_ALREADY_ACTIVE", Message: "an active session already exists for this configuration"}
	ErrSessionNotActive       = &Error{Code: "SESSION_NOT_ACTIVE", Message: "session is not active"}
	ErrResumeNotAllowed       = &Error{Code: "RESUME_NOT_ALLOWED", Message: "session cannot be resumed"}
	ErrConcurrentMutation     = &Error{Code: "CONCURRENT_MUTATION", Message: "session is active; stop it before changing it"}
	ErrPositionNotFound       = &Error{Code: "POSITION_NOT_FOUND", Message: "position not found"}
	ErrStrategyConfigNotFound = &Error{Code: "CONFIG_NOT_FOUND", Message: "strategy configuration not found"}
	ErrPersistenceFailed      = &Error{Code: "PERSISTENCE_FAILED", Message: "persistence write failed"}

	// Broker errors
	ErrBrokerUnreachable = &Error{Code: "BROKER_UNREACHABLE", Message: "broker unreachable"}
	ErrOrderFailed       = &Error{Code: "ORDER_FAILED", Message: "order failed"}

	// Request errors
	ErrInvalidRequest = &Error{Code: "INVALID_REQUEST", Message: "invalid request"}
	ErrJobNotFound    = &Error{Code: "JOB_NOT_FOUND", Message: "job not found"}
	ErrUnauthorized   = &Error{Code: "UNAUTHORIZED", Message: "unauthorized"}

	// Notifier errors
	ErrNotifierFailed = &Error{Code: "NOTIFIER_FAILED", Message: "notifier failed"}

	// Config errors
	ErrConfigInvalid = &Error{Code: "CONFIG_INVALID", Message: "configuration invalid"}
	ErrConfigMissing = &Error{Code: "CONFIG_MISSING", Message: "required configuration missing"}
)
