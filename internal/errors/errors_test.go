package errors

import (
	stdErrors "errors"
	"fmt"
	"net/http"
	"testing"
)

func TestWrapKeepsCauseAndCode(t *testing.T) {
	cause := stdErrors.New("connection refused")
	err := fmt.Errorf("outer: %w", Wrap(CodeStorageFailure, cause, "查询失败"))

	if CodeOf(err) != CodeStorageFailure {
		t.Fatalf("unexpected code: %s", CodeOf(err))
	}
	if !stdErrors.Is(err, cause) {
		t.Fatalf("expected cause to be reachable")
	}
	if !stdErrors.Is(err, New(CodeStorageFailure, "")) {
		t.Fatalf("expected errors.Is to match by code")
	}
	if !RetryableError(err) {
		t.Fatalf("storage failures are retryable by default")
	}
}

func TestOptionsOverrideDefaults(t *testing.T) {
	err := New(CodeStorageFailure, "x", WithRetryable(false), WithSeverity(SeverityInfo), WithMetadata("table", "wallets"))
	if err.Retryable() {
		t.Fatalf("expected retryable override")
	}
	if err.Severity() != SeverityInfo {
		t.Fatalf("unexpected severity: %s", err.Severity())
	}
	if err.Metadata()["table"] != "wallets" {
		t.Fatalf("metadata missing: %+v", err.Metadata())
	}
}

func TestHTTPStatusOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, http.StatusOK},
		{"plain", stdErrors.New("boom"), http.StatusInternalServerError},
		{"not found", New(CodeNotFound, ""), http.StatusNotFound},
		{"invalid", New(CodeInvalidArgument, ""), http.StatusBadRequest},
		{"unregistered", New(Code("NOPE"), ""), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := HTTPStatusOf(tt.err); got != tt.want {
				t.Fatalf("got %d want %d", got, tt.want)
			}
		})
	}
}

func TestRegisterFillsStatus(t *testing.T) {
	code := Code("TEST_REGISTERED")
	Register(code, Attributes{Message: "registered", Severity: SeverityWarning})
	if AttributesOf(code).HTTPStatus != http.StatusInternalServerError {
		t.Fatalf("expected default http status")
	}
	if New(code, "").Message() != "registered" {
		t.Fatalf("expected default message from registry")
	}
}
