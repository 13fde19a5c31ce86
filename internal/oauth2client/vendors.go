package oauth2client

import (
	"errors"
	"net/http"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/tendant/lti-provider/internal/domain"
)

// Outcome is how a vendor response is classified before ordinary status handling.
type Outcome int

const (
	// OutcomeDefault leaves the response to the transport's status handling.
	OutcomeDefault Outcome = iota
	// OutcomeToken means the access token is invalid or expired; a refresh may help.
	OutcomeToken
	// OutcomePermission means the token is fine but the user may not access the resource.
	OutcomePermission
)

func (o Outcome) String() string {
	switch o {
	case OutcomeToken:
		return "token"
	case OutcomePermission:
		return "permission"
	default:
		return "default"
	}
}

// Sentinel causes carried by transport errors for classified responses.
var (
	ErrTokenRejected    = errors.New("access token rejected")
	ErrPermissionDenied = errors.New("permission denied by LMS")
)

// Classifier maps a raw vendor response to an Outcome.
type Classifier func(status int, header http.Header, body []byte) Outcome

// Vendor describes how to run OAuth2 against one LMS product.
type Vendor struct {
	Name domain.Vendor

	// AuthorizeURL and TokenURL are absolute, or paths resolved against the tenant's LMS URL.
	AuthorizeURL string
	TokenURL     string
	Scopes       []string

	// Classify is the vendor's decision table for error responses.
	Classify Classifier
}

// UsesOAuth2 reports whether the vendor has an authorization-code flow.
func (v *Vendor) UsesOAuth2() bool {
	return v.AuthorizeURL != "" && v.TokenURL != ""
}

// Check adapts Classify to the transport's response hook.
func (v *Vendor) Check(status int, header http.Header, body []byte) error {
	if v.Classify == nil {
		return nil
	}
	switch v.Classify(status, header, body) {
	case OutcomeToken:
		return ErrTokenRejected
	case OutcomePermission:
		return ErrPermissionDenied
	default:
		return nil
	}
}

func (v *Vendor) endpoint(tenant *domain.Tenant, target string) string {
	if strings.HasPrefix(target, "https://") || strings.HasPrefix(target, "http://") {
		return target
	}
	return strings.TrimRight(tenant.LMSURL, "/") + target
}

// Built-in vendors.
var (
	Canvas = &Vendor{
		Name:         domain.VendorCanvas,
		AuthorizeURL: "/login/oauth2/auth",
		TokenURL:     "/login/oauth2/token",
		Scopes: []string{
			"url:GET|/api/v1/courses/:course_id/files",
			"url:GET|/api/v1/files/:id/public_url",
			"url:GET|/api/v1/courses/:id",
			"url:GET|/api/v1/courses/:course_id/sections",
			"url:GET|/api/v1/courses/:course_id/users/:id",
			"url:GET|/api/v1/courses/:course_id/pages",
			"url:GET|/api/v1/courses/:course_id/pages/:url_or_id",
		},
		Classify: classifyCanvas,
	}

	Blackboard = &Vendor{
		Name:         domain.VendorBlackboard,
		AuthorizeURL: "/learn/api/public/v1/oauth2/authorizationcode",
		TokenURL:     "/learn/api/public/v1/oauth2/token",
		Scopes:       []string{"read", "offline"},
		Classify:     classifyStatus,
	}

	D2L = &Vendor{
		Name:         domain.VendorD2L,
		AuthorizeURL: "https://auth.brightspace.com/oauth2/auth",
		TokenURL:     "https://auth.brightspace.com/core/connect/token",
		Scopes: []string{
			"core:*:*",
			"content:toc:read",
			"content:topics:read",
			"groups:*:*",
		},
		Classify: classifyStatus,
	}

	// Moodle authenticates with a per-tenant web service token rather than OAuth2.
	Moodle = &Vendor{
		Name:     domain.VendorMoodle,
		Classify: classifyMoodle,
	}
)

// DefaultVendors returns the built-in vendor table.
func DefaultVendors() map[domain.Vendor]*Vendor {
	return map[domain.Vendor]*Vendor{
		Canvas.Name:     Canvas,
		Blackboard.Name: Blackboard,
		D2L.Name:        D2L,
		Moodle.Name:     Moodle,
	}
}

var canvasTokenMessages = []string{
	"Invalid access token",
	"Insufficient scopes on access token",
}

// classifyCommon handles the 400 shapes every vendor's token endpoint and API share.
func classifyCommon(status int, body []byte) Outcome {
	if status != http.StatusBadRequest {
		return OutcomeDefault
	}
	switch gjson.GetBytes(body, "error").String() {
	case "invalid_request", "invalid_token":
		return OutcomeToken
	}
	if strings.Contains(string(body), "refresh_token not found") {
		return OutcomeToken
	}
	return OutcomeDefault
}

func classifyCanvas(status int, header http.Header, body []byte) Outcome {
	if status == http.StatusUnauthorized {
		if header.Get("WWW-Authenticate") != "" {
			return OutcomeToken
		}
		for _, msg := range canvasErrorMessages(body) {
			for _, known := range canvasTokenMessages {
				if strings.Contains(msg, known) {
					return OutcomeToken
				}
			}
		}
		// Canvas answers 401 for resources the user cannot see.
		return OutcomePermission
	}
	return classifyCommon(status, body)
}

// canvasErrorMessages collects messages from {"errors":[{"message":...}]} and
// {"message":...} bodies.
func canvasErrorMessages(body []byte) []string {
	var out []string
	gjson.GetBytes(body, "errors.#.message").ForEach(func(_, v gjson.Result) bool {
		out = append(out, v.String())
		return true
	})
	if msg := gjson.GetBytes(body, "message").String(); msg != "" {
		out = append(out, msg)
	}
	return out
}

func classifyStatus(status int, _ http.Header, body []byte) Outcome {
	switch status {
	case http.StatusUnauthorized:
		return OutcomeToken
	case http.StatusForbidden:
		return OutcomePermission
	}
	return classifyCommon(status, body)
}

// classifyMoodle reads the exception Moodle web services return with status 200.
func classifyMoodle(status int, _ http.Header, body []byte) Outcome {
	switch gjson.GetBytes(body, "errorcode").String() {
	case "invalidtoken":
		return OutcomeToken
	case "accessexception", "nopermissions", "requireloginerror":
		return OutcomePermission
	}
	return classifyCommon(status, body)
}
