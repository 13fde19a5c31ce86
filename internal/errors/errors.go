// Package errors provides structured error types with codes for the LTI provider.
package errors

import (
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
)

// Error codes for categorizing errors.
const (
	CodeInternal      = "internal_error"
	CodeNotFound      = "not_found"
	CodeAlreadyExists = "already_exists"
	CodeInvalidInput  = "invalid_input"
	CodeUnauthorized  = "unauthorized"
	CodeForbidden     = "forbidden"
	CodeRateLimited   = "rate_limited"

	// Launch authentication
	CodeValidation     = "validation_error"
	CodeUnknownTenant  = "unknown_tenant"
	CodeBadSignature   = "bad_signature"
	CodeExpiredToken   = "expired_token"
	CodeUnknownKid     = "unknown_kid"
	CodeMalformedToken = "malformed_token"
	CodeStaleTimestamp = "stale_timestamp"
	CodeReplayedNonce  = "replayed_nonce"
	CodeMissingClaim   = "missing_claim"

	// Outbound LMS APIs
	CodeOAuth2Token       = "oauth2_token_error"
	CodePermission        = "permission_error"
	CodeInvalidStateParam = "invalid_state_param"

	// Session bearer tokens
	CodeExpiredSessionToken = "expired_session_token"
	CodeInvalidSessionToken = "invalid_session_token"
	CodeMissingSessionToken = "missing_session_token"
)

// Error represents a structured error with a code and message.
type Error struct {
	Code    string
	Message string
	Err     error

	// Fields holds per-field messages for validation errors.
	Fields map[string][]string
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Err
}

// New creates a new Error with the given code and message.
func New(code, message string) *Error {
	return &Error{
		Code:    code,
		Message: message,
	}
}

// Wrap wraps an existing error with a code and message.
func Wrap(err error, code, message string) *Error {
	return &Error{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// IsCode checks if an error has a specific error code.
func IsCode(err error, code string) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Code == code
	}
	return false
}

// Code returns the code of the first *Error in err's chain, or "" when there is none.
func Code(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// NotFound creates a not found error.
func NotFound(resource, id string) *Error {
	return &Error{
		Code:    CodeNotFound,
		Message: fmt.Sprintf("%s not found: %s", resource, id),
	}
}

// AlreadyExists creates an already exists error.
func AlreadyExists(resource, id string) *Error {
	return &Error{
		Code:    CodeAlreadyExists,
		Message: fmt.Sprintf("%s already exists: %s", resource, id),
	}
}

// InvalidInput creates an invalid input error.
func InvalidInput(message string) *Error {
	return &Error{
		Code:    CodeInvalidInput,
		Message: message,
	}
}

// Unauthorized creates an unauthorized error.
func Unauthorized(message string) *Error {
	return &Error{
		Code:    CodeUnauthorized,
		Message: message,
	}
}

// Internal creates an internal error.
func Internal(message string, err error) *Error {
	return &Error{
		Code:    CodeInternal,
		Message: message,
		Err:     err,
	}
}

// Validation creates a validation error from a field to messages map.
func Validation(fields map[string][]string) *Error {
	names := make([]string, 0, len(fields))
	for name := range fields {
		names = append(names, name)
	}
	sort.Strings(names)
	return &Error{
		Code:    CodeValidation,
		Message: "invalid fields: " + strings.Join(names, ", "),
		Fields:  fields,
	}
}

// OAuth2Token creates an error signalling that the user must re-authorize with the LMS.
func OAuth2Token(message string, err error) *Error {
	return &Error{
		Code:    CodeOAuth2Token,
		Message: message,
		Err:     err,
	}
}

// Permission creates an error signalling the LMS denied access to a resource.
func Permission(message string, err error) *Error {
	return &Error{
		Code:    CodePermission,
		Message: message,
		Err:     err,
	}
}

// HTTPStatus maps an error to the status code the web layer should answer with.
func HTTPStatus(err error) int {
	switch Code(err) {
	case CodeValidation:
		return http.StatusUnprocessableEntity
	case CodeNotFound:
		return http.StatusNotFound
	case CodeInvalidInput, CodeMalformedToken, CodeMissingClaim, CodeInvalidStateParam, CodeOAuth2Token:
		return http.StatusBadRequest
	case CodeUnknownTenant, CodeForbidden, CodePermission:
		return http.StatusForbidden
	case CodeUnauthorized, CodeBadSignature, CodeExpiredToken, CodeUnknownKid, CodeStaleTimestamp,
		CodeReplayedNonce, CodeExpiredSessionToken, CodeInvalidSessionToken, CodeMissingSessionToken:
		return http.StatusUnauthorized
	case CodeRateLimited:
		return http.StatusTooManyRequests
	case CodeAlreadyExists:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
