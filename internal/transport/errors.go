package transport

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Kind classifies an outbound request failure.
type Kind string

const (
	// KindNetwork means no HTTP response was received.
	KindNetwork Kind = "network"
	// KindHTTP means the server answered with a non-2xx status.
	KindHTTP Kind = "http"
	// KindValidation means a 2xx body could not be parsed or failed its schema.
	KindValidation Kind = "validation"
)

// ValidationErrors maps a field path to the problems found with it.
type ValidationErrors map[string][]string

// Add records a problem for field.
func (v ValidationErrors) Add(field, message string) {
	v[field] = append(v[field], message)
}

func (v ValidationErrors) String() string {
	fields := make([]string, 0, len(v))
	for f := range v {
		fields = append(fields, f)
	}
	sort.Strings(fields)

	parts := make([]string, 0, len(fields))
	for _, f := range fields {
		parts = append(parts, f+": "+strings.Join(v[f], "; "))
	}
	return strings.Join(parts, ", ")
}

// ExternalRequestError describes a failed request to an LMS or token endpoint.
// URL, RequestBody and Body are redacted and safe to log.
type ExternalRequestError struct {
	Kind   Kind
	Method string
	URL    string

	// RequestBody is the redacted outbound body.
	RequestBody string

	// Status, Reason and Body are set for KindHTTP and KindValidation.
	Status int
	Reason string
	Body   string

	ValidationErrors ValidationErrors

	Err error
}

func (e *ExternalRequestError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "external request failed (%s): %s %s", e.Kind, e.Method, e.URL)
	if e.Status != 0 {
		fmt.Fprintf(&b, ": %d %s", e.Status, e.Reason)
	}
	if len(e.ValidationErrors) > 0 {
		fmt.Fprintf(&b, ": %s", e.ValidationErrors)
	}
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	return b.String()
}

func (e *ExternalRequestError) Unwrap() error {
	return e.Err
}

// AsExternal returns the ExternalRequestError in err's chain.
func AsExternal(err error) (*ExternalRequestError, bool) {
	var e *ExternalRequestError
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}
