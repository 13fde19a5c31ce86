package errors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestWrapAndIsCode(t *testing.T) {
	base := fmt.Errorf("connection refused")
	err := Wrap(base, CodeInternal, "lookup failed")

	if !IsCode(err, CodeInternal) {
		t.Error("IsCode should match wrapped code")
	}
	if !errors.Is(err, base) {
		t.Error("errors.Is should find the wrapped error")
	}

	outer := fmt.Errorf("outer: %w", err)
	if Code(outer) != CodeInternal {
		t.Errorf("Code() = %q, want %q", Code(outer), CodeInternal)
	}
	if Code(base) != "" {
		t.Errorf("Code() on plain error = %q, want empty", Code(base))
	}
}

func TestValidationMessage(t *testing.T) {
	err := Validation(map[string][]string{
		"user_id":            {"Missing data for required field."},
		"oauth_consumer_key": {"Missing data for required field."},
	})

	if err.Code != CodeValidation {
		t.Errorf("Code = %q, want %q", err.Code, CodeValidation)
	}
	want := "invalid fields: oauth_consumer_key, user_id"
	if err.Message != want {
		t.Errorf("Message = %q, want %q", err.Message, want)
	}
}

func TestHTTPStatus(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{Validation(nil), http.StatusUnprocessableEntity},
		{New(CodeReplayedNonce, "nonce used"), http.StatusUnauthorized},
		{New(CodeUnknownTenant, "no tenant"), http.StatusForbidden},
		{OAuth2Token("refresh failed", nil), http.StatusBadRequest},
		{Permission("no access", nil), http.StatusForbidden},
		{New(CodeMissingSessionToken, "missing"), http.StatusUnauthorized},
		{fmt.Errorf("plain"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		if got := HTTPStatus(tt.err); got != tt.want {
			t.Errorf("HTTPStatus(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}
