package planerr

import (
	"errors"
	"strings"
	"testing"
)

func TestNew(t *testing.T) {
	err := New(CodeOpFailed, "device rejected step")
	if err.Code != CodeOpFailed {
		t.Errorf("expected code %s, got %s", CodeOpFailed, err.Code)
	}
	if !err.Retryable {
		t.Error("expected OP_FAILED to default retryable")
	}
}

func TestNewBadDataNotRetryable(t *testing.T) {
	err := New(CodeBadData, "operand index out of range")
	if err.Retryable {
		t.Error("expected BAD_DATA to default non-retryable")
	}
}

func TestWithCause(t *testing.T) {
	cause := errors.New("compile failed")
	err := New(CodeInternal, "prepare failed").WithCause(cause)
	if !strings.Contains(err.Error(), "compile failed") {
		t.Errorf("expected cause in Error(), got %q", err.Error())
	}
	if !errors.Is(err, cause) {
		t.Error("expected errors.Is to find the cause via Unwrap")
	}
}

func TestWrapPassesThroughPlanError(t *testing.T) {
	inner := New(CodeOutOfMemory, "arena exhausted")
	wrapped := Wrap(inner, CodeInternal, "ignored")
	if wrapped != inner {
		t.Error("expected Wrap to pass through an existing PlanError unchanged")
	}
}

func TestWrapNilIsNil(t *testing.T) {
	if Wrap(nil, CodeInternal, "x") != nil {
		t.Error("expected Wrap(nil, ...) to return nil")
	}
}

func TestSetRetryableOverridesDefault(t *testing.T) {
	err := New(CodeOpFailed, "already on fallback device").SetRetryable(false)
	if IsRetryable(err) {
		t.Error("expected SetRetryable(false) to override the OP_FAILED default")
	}
}

func TestCodeOfForeignError(t *testing.T) {
	if CodeOf(errors.New("boom")) != CodeUnknown {
		t.Error("expected foreign errors to classify as CodeUnknown")
	}
}

func TestRedactWithContext(t *testing.T) {
	err := New(CodeBadData, "bad token").WithContext("cache_token", "api_key=sk-abcdef1234567890")
	if strings.Contains(err.Context["cache_token"], "sk-abcdef1234567890") {
		t.Error("expected WithContext to redact secret-shaped values")
	}
}
