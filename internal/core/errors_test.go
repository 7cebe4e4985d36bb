// internal/core/errors_test.go
package core

import (
	"errors"
	"fmt"
	"testing"
)

func TestError_Error(t *testing.T) {
	err := &Error{Code: "TEST_ERROR", Message: "test message"}
	if err.Error() != "[TEST_ERROR] test message" {
		t.Errorf("unexpected error string: %s", err.Error())
	}
}

func TestError_Unwrap(t *testing.T) {
	cause := errors.New("root cause")
	err := &Error{Code: "WRAP", Message: "wrapped", Cause: cause}
	if !errors.Is(err, cause) {
		t.Error("Unwrap should return cause")
	}
}

func TestError_Is(t *testing.T) {
	if !errors.Is(ErrSessionNotFound, ErrSessionNotFound) {
		t.Error("same error should match")
	}
	wrapped := fmt.Errorf("loading: %w", WrapError(ErrDataUnavailable, errors.New("empty")))
	if !errors.Is(wrapped, ErrDataUnavailable) {
		t.Error("wrapped error should match by code")
	}
	if errors.Is(wrapped, ErrBrokerUnreachable) {
		t.Error("different codes should not match")
	}
}

func TestWrapError(t *testing.T) {
	cause := errors.New("original")
	wrapped := WrapError(ErrProviderFailed, cause)
	if wrapped.Cause != cause {
		t.Error("cause not set")
	}
	if wrapped.Code != ErrProviderFailed.Code {
		t.Error("code not preserved")
	}
	if wrapped.Detail() != "original" {
		t.Errorf("detail = %q", wrapped.Detail())
	}
}

func TestInvalidParam_KeyRecoverable(t *testing.T) {
	err := fmt.Errorf("evaluate: %w", InvalidParam(&ParamError{Key: "bb1_period", Value: 500.0, Min: 5, Max: 100}))

	if CodeOf(err) != "INVALID_PARAMETER" {
		t.Fatalf("code = %q", CodeOf(err))
	}
	var pe *ParamError
	if !errors.As(err, &pe) {
		t.Fatal("ParamError not in chain")
	}
	if pe.Key != "bb1_period" {
		t.Errorf("key = %q", pe.Key)
	}
}
