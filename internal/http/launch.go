package http

import (
	"encoding/json"
	"log/slog"
	"mime"
	"net/http"
	"net/url"
	"strings"

	"github.com/tendant/lti-provider/internal/auth"
	"github.com/tendant/lti-provider/internal/domain"
	ltierrors "github.com/tendant/lti-provider/internal/errors"
	"github.com/tendant/lti-provider/internal/launch"
	"github.com/tendant/lti-provider/internal/metrics"
)

// maxLaunchBody bounds launch and login bodies; LMS forms are a few kilobytes.
const maxLaunchBody = 1 << 20

// LaunchHandler handles LTI launches and OIDC login initiation.
type LaunchHandler struct {
	authenticator *launch.Authenticator
	sessions      *auth.SessionTokens
	publicURL     string
	logger        *slog.Logger
}

// NewLaunchHandler creates a new LaunchHandler. publicURL is the origin LMSes sign launches for.
func NewLaunchHandler(authenticator *launch.Authenticator, sessions *auth.SessionTokens, publicURL string, logger *slog.Logger) *LaunchHandler {
	return &LaunchHandler{
		authenticator: authenticator,
		sessions:      sessions,
		publicURL:     strings.TrimSuffix(publicURL, "/"),
		logger:        logger,
	}
}

// LaunchResponse is returned by a successful launch.
type LaunchResponse struct {
	SessionToken string          `json:"session_token"`
	User         *domain.LTIUser `json:"user"`
	Version      string          `json:"lti_version"`
	DeepLinking  bool            `json:"deep_linking"`
	// ReturnURL is where deep-linking selections are posted.
	ReturnURL string `json:"content_item_return_url,omitempty"`
	ContextID string `json:"context_id,omitempty"`
}

// Launch handles POST /lti_launches for both LTI versions.
func (h *LaunchHandler) Launch(w http.ResponseWriter, r *http.Request) {
	form, err := readParams(w, r)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	var res *launch.Result
	if idToken := form.Get("id_token"); idToken != "" {
		res, err = h.authenticator.LaunchLTI13(r.Context(), idToken, form.Get("state"))
	} else {
		res, err = h.authenticator.LaunchLTI11(r.Context(), r.Method, h.publicURL+r.URL.RequestURI(), form)
	}
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	token, err := h.sessions.Issue(res.User)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	metrics.RecordSessionTokenIssued()

	writeJSON(w, http.StatusOK, LaunchResponse{
		SessionToken: token,
		User:         res.User,
		Version:      res.Version,
		DeepLinking:  res.DeepLinking(),
		ReturnURL:    res.Params.Get("content_item_return_url"),
		ContextID:    res.Params.Get("context_id"),
	})
}

// Login handles GET and POST /lti/1.3/oidc by redirecting to the platform's auth endpoint.
func (h *LaunchHandler) Login(w http.ResponseWriter, r *http.Request) {
	params, err := readParams(w, r)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	redirect, _, err := h.authenticator.Login(r.Context(), params)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	http.Redirect(w, r, redirect, http.StatusFound)
}

// readParams reads a form-encoded or JSON object body. Query parameters are included for GET.
func readParams(w http.ResponseWriter, r *http.Request) (url.Values, error) {
	r.Body = http.MaxBytesReader(w, r.Body, maxLaunchBody)

	ct, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if ct == "application/json" {
		var body map[string]string
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			return nil, ltierrors.InvalidInput("body is not a JSON object of strings")
		}
		out := url.Values{}
		for k, v := range body {
			out.Set(k, v)
		}
		return out, nil
	}

	if err := r.ParseForm(); err != nil {
		return nil, ltierrors.InvalidInput("invalid form body")
	}
	if r.Method == http.MethodGet {
		return r.Form, nil
	}
	return r.PostForm, nil
}
