package http

import (
	"net/http"
	"net/url"
	"strings"
)

// ToolConfiguration is the Canvas-style LTI 1.3 developer key configuration.
type ToolConfiguration struct {
	Title          string            `json:"title"`
	Description    string            `json:"description"`
	OIDCInitiation string            `json:"oidc_initiation_url"`
	TargetLinkURI  string            `json:"target_link_uri"`
	PublicJWKURL   string            `json:"public_jwk_url"`
	Scopes         []string          `json:"scopes"`
	Extensions     []ToolExtension   `json:"extensions"`
	CustomFields   map[string]string `json:"custom_fields,omitempty"`
}

// ToolExtension holds platform-specific placement settings.
type ToolExtension struct {
	Domain       string       `json:"domain"`
	Platform     string       `json:"platform"`
	PrivacyLevel string       `json:"privacy_level"`
	Settings     ToolSettings `json:"settings"`
}

// ToolSettings lists the placements the tool appears in.
type ToolSettings struct {
	Placements []Placement `json:"placements"`
}

// Placement is one location in the LMS where the tool can be launched.
type Placement struct {
	Placement     string `json:"placement"`
	MessageType   string `json:"message_type"`
	TargetLinkURI string `json:"target_link_uri"`
}

// DiscoveryHandler serves the tool configuration document.
type DiscoveryHandler struct {
	publicURL string
	title     string
}

// NewDiscoveryHandler creates a new DiscoveryHandler.
func NewDiscoveryHandler(publicURL, title string) *DiscoveryHandler {
	return &DiscoveryHandler{
		publicURL: strings.TrimSuffix(publicURL, "/"),
		title:     title,
	}
}

// ToolConfiguration handles GET /lti/1.3/config.json.
func (h *DiscoveryHandler) ToolConfiguration(w http.ResponseWriter, r *http.Request) {
	launchURL := h.publicURL + "/lti_launches"
	domain := ""
	if u, err := url.Parse(h.publicURL); err == nil {
		domain = u.Host
	}

	writeJSON(w, http.StatusOK, ToolConfiguration{
		Title:          h.title,
		Description:    h.title + " LTI tool",
		OIDCInitiation: h.publicURL + "/lti/1.3/oidc",
		TargetLinkURI:  launchURL,
		PublicJWKURL:   h.publicURL + "/lti/1.3/jwks",
		Scopes: []string{
			"https://purl.imsglobal.org/spec/lti-nrps/scope/contextmembership.readonly",
		},
		Extensions: []ToolExtension{{
			Domain:       domain,
			Platform:     "canvas.instructure.com",
			PrivacyLevel: "public",
			Settings: ToolSettings{Placements: []Placement{
				{Placement: "link_selection", MessageType: "LtiDeepLinkingRequest", TargetLinkURI: launchURL},
				{Placement: "assignment_selection", MessageType: "LtiDeepLinkingRequest", TargetLinkURI: launchURL},
			}},
		}},
		CustomFields: map[string]string{
			"canvas_course_id": "$Canvas.course.id",
			"canvas_user_id":   "$Canvas.user.id",
		},
	})
}
