package launch

import (
	"fmt"
	"net/url"
	"sort"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// LTI 1.3 claim names.
const (
	claimPrefix = "https://purl.imsglobal.org/spec/lti/claim/"

	ClaimMessageType        = claimPrefix + "message_type"
	ClaimVersion            = claimPrefix + "version"
	ClaimDeploymentID       = claimPrefix + "deployment_id"
	ClaimRoles              = claimPrefix + "roles"
	ClaimResourceLink       = claimPrefix + "resource_link"
	ClaimContext            = claimPrefix + "context"
	ClaimToolPlatform       = claimPrefix + "tool_platform"
	ClaimLaunchPresentation = claimPrefix + "launch_presentation"
	ClaimCustom             = claimPrefix + "custom"
	ClaimTargetLinkURI      = claimPrefix + "target_link_uri"

	ClaimDeepLinkingSettings = "https://purl.imsglobal.org/spec/lti-dl/claim/deep_linking_settings"
	ClaimContentItems        = "https://purl.imsglobal.org/spec/lti-dl/claim/content_items"
	ClaimDeepLinkingData     = "https://purl.imsglobal.org/spec/lti-dl/claim/data"
)

// Message types.
const (
	MessageBasicLaunch         = "basic-lti-launch-request"
	MessageResourceLink        = "LtiResourceLinkRequest"
	MessageContentItem         = "ContentItemSelectionRequest"
	MessageDeepLinking         = "LtiDeepLinkingRequest"
	MessageDeepLinkingResponse = "LtiDeepLinkingResponse"
)

// Params is the LTI 1.1-shaped view of a launch, whichever version it arrived as.
type Params map[string]string

// Get returns the value for key or "".
func (p Params) Get(key string) string {
	return p[key]
}

// paramsFromForm passes an LTI 1.1 form through unchanged, first value per key.
func paramsFromForm(form url.Values) Params {
	p := make(Params, len(form))
	for k, v := range form {
		if len(v) > 0 {
			p[k] = v[0]
		}
	}
	return p
}

// claimPath maps a normalized key to the claim path it is read from.
type claimPath struct {
	key  string
	path []string
}

var normalization = []claimPath{
	{"user_id", []string{"sub"}},
	{"tool_consumer_instance_guid", []string{ClaimToolPlatform, "guid"}},
	{"tool_consumer_info_product_family_code", []string{ClaimToolPlatform, "product_family_code"}},
	{"lis_person_name_given", []string{"given_name"}},
	{"lis_person_name_family", []string{"family_name"}},
	{"lis_person_name_full", []string{"name"}},
	{"lis_person_contact_email_primary", []string{"email"}},
	{"context_id", []string{ClaimContext, "id"}},
	{"context_title", []string{ClaimContext, "title"}},
	{"lti_version", []string{ClaimVersion}},
	{"lti_message_type", []string{ClaimMessageType}},
	{"resource_link_id", []string{ClaimResourceLink, "id"}},
	{"resource_link_title", []string{ClaimResourceLink, "title"}},
	{"launch_presentation_return_url", []string{ClaimLaunchPresentation, "return_url"}},
	{"content_item_return_url", []string{ClaimDeepLinkingSettings, "deep_link_return_url"}},
	{"deep_linking_data", []string{ClaimDeepLinkingSettings, "data"}},
	{"issuer", []string{"iss"}},
	{"deployment_id", []string{ClaimDeploymentID}},
}

// paramsFromClaims normalizes the claims of an LTI 1.3 id_token.
func paramsFromClaims(claims jwt.MapClaims) Params {
	p := Params{}
	for _, n := range normalization {
		if v, ok := lookup(claims, n.path...); ok {
			if s := stringify(v); s != "" {
				p[n.key] = s
			}
		}
	}

	if roles := stringList(claims[ClaimRoles]); len(roles) > 0 {
		p["roles"] = strings.Join(roles, ",")
	}
	if aud := audience(claims); aud != "" {
		p["client_id"] = aud
	}
	if custom, ok := claims[ClaimCustom].(map[string]any); ok {
		for k, v := range custom {
			p["custom_"+k] = stringify(v)
		}
	}
	return p
}

func lookup(claims map[string]any, path ...string) (any, bool) {
	var cur any = claims
	for _, key := range path {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		if cur, ok = m[key]; !ok {
			return nil, false
		}
	}
	return cur, true
}

func stringify(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case float64:
		if t == float64(int64(t)) {
			return fmt.Sprintf("%d", int64(t))
		}
		return fmt.Sprintf("%g", t)
	default:
		return fmt.Sprint(t)
	}
}

func stringList(v any) []string {
	switch t := v.(type) {
	case string:
		return []string{t}
	case []any:
		out := make([]string, 0, len(t))
		for _, item := range t {
			if s, ok := item.(string); ok && s != "" {
				out = append(out, s)
			}
		}
		return out
	case []string:
		return t
	}
	return nil
}

// audience returns the client id a token was issued to: the sole aud, or azp when aud
// lists several clients.
func audience(claims jwt.MapClaims) string {
	aud := stringList(claims["aud"])
	switch len(aud) {
	case 0:
		return ""
	case 1:
		return aud[0]
	}
	if azp, ok := claims["azp"].(string); ok && azp != "" {
		return azp
	}
	sort.Strings(aud)
	return aud[0]
}
