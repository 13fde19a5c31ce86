package launch

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	ltierrors "github.com/tendant/lti-provider/internal/errors"
)

const (
	deepLinkingResponseTTL = 5 * time.Minute
	contentItemContext     = "http://purl.imsglobal.org/ctx/lti/v1/ContentItem"
	messageContentItemDone = "ContentItemSelection"
)

// ContentItem is one piece of content chosen during deep linking.
type ContentItem struct {
	Type  string `json:"type"`
	Title string `json:"title,omitempty"`
	URL   string `json:"url"`
	// Custom is passed back to the tool as custom parameters on later launches.
	Custom map[string]string `json:"custom,omitempty"`
}

// DeepLinkingResponse is what the frontend auto-posts back to the platform.
type DeepLinkingResponse struct {
	ReturnURL string
	// Form holds the fields to post: JWT for LTI 1.3, an OAuth1-signed form for LTI 1.1.
	Form url.Values
}

// DeepLinkingResponse builds the response to a deep-linking launch selecting items.
func (a *Authenticator) DeepLinkingResponse(ctx context.Context, launch *Result, items []ContentItem) (*DeepLinkingResponse, error) {
	if !launch.DeepLinking() {
		return nil, ltierrors.InvalidInput("launch is not a deep-linking request")
	}
	returnURL := launch.Params.Get("content_item_return_url")
	if returnURL == "" {
		return nil, ltierrors.Validation(map[string][]string{"content_item_return_url": {"Missing data for required field."}})
	}
	if launch.Version == VersionLTI13 {
		return a.deepLinkingJWT(ctx, launch, returnURL, items)
	}
	return a.contentItemForm(launch, returnURL, items)
}

func (a *Authenticator) deepLinkingJWT(ctx context.Context, launch *Result, returnURL string, items []ContentItem) (*DeepLinkingResponse, error) {
	if a.tokens == nil {
		return nil, ltierrors.Internal("deep linking is not configured", errors.New("no token generator"))
	}

	graph := make([]map[string]any, 0, len(items))
	for _, item := range items {
		entry := map[string]any{"type": itemType(item), "url": item.URL}
		if item.Title != "" {
			entry["title"] = item.Title
		}
		if len(item.Custom) > 0 {
			entry["custom"] = item.Custom
		}
		graph = append(graph, entry)
	}

	claims := jwt.MapClaims{
		"iss":             launch.Registration.ClientID,
		"aud":             launch.Registration.Issuer,
		"nonce":           uuid.NewString(),
		ClaimDeploymentID: launch.Params.Get("deployment_id"),
		ClaimMessageType:  MessageDeepLinkingResponse,
		ClaimVersion:      LTIVersion13,
		ClaimContentItems: graph,
	}
	if data := launch.Params.Get("deep_linking_data"); data != "" {
		claims[ClaimDeepLinkingData] = data
	}

	token, err := a.tokens.Sign(ctx, claims, deepLinkingResponseTTL)
	if err != nil {
		return nil, ltierrors.Internal("cannot sign deep linking response", err)
	}
	return &DeepLinkingResponse{ReturnURL: returnURL, Form: url.Values{"JWT": {token}}}, nil
}

// contentItemForm answers an LTI 1.1 ContentItemSelectionRequest with a form signed by the
// tenant's shared secret.
func (a *Authenticator) contentItemForm(launch *Result, returnURL string, items []ContentItem) (*DeepLinkingResponse, error) {
	graph := make([]map[string]any, 0, len(items))
	for _, item := range items {
		entry := map[string]any{
			"@type":     "LtiLinkItem",
			"mediaType": "application/vnd.ims.lti.v1.ltilink",
			"url":       item.URL,
		}
		if item.Title != "" {
			entry["title"] = item.Title
		}
		if len(item.Custom) > 0 {
			entry["custom"] = item.Custom
		}
		graph = append(graph, entry)
	}
	payload, err := json.Marshal(map[string]any{"@context": contentItemContext, "@graph": graph})
	if err != nil {
		return nil, ltierrors.Internal("cannot encode content items", err)
	}

	form := url.Values{
		"lti_message_type": {messageContentItemDone},
		"lti_version":      {LTIVersion10},
		"content_items":    {string(payload)},
	}
	if data := launch.Params.Get("data"); data != "" {
		form.Set("data", data)
	}

	signed, err := a.oauth1.Sign(http.MethodPost, returnURL, form, launch.Tenant.ConsumerKey, launch.Tenant.SharedSecret)
	if err != nil {
		return nil, ltierrors.Internal("cannot sign content item response", err)
	}
	return &DeepLinkingResponse{ReturnURL: returnURL, Form: signed}, nil
}

func itemType(item ContentItem) string {
	if item.Type == "" {
		return "ltiResourceLink"
	}
	return item.Type
}
