package http

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/tendant/lti-provider/internal/domain"
	ltierrors "github.com/tendant/lti-provider/internal/errors"
	"github.com/tendant/lti-provider/internal/oauth2client"
	"github.com/tendant/lti-provider/internal/store"
)

// OAuthHandler runs the authorization-code grant against an LMS for the launched user.
type OAuthHandler struct {
	runtime *oauth2client.Runtime
	tenants store.TenantRepository
	logger  *slog.Logger
}

// NewOAuthHandler creates a new OAuthHandler.
func NewOAuthHandler(runtime *oauth2client.Runtime, tenants store.TenantRepository, logger *slog.Logger) *OAuthHandler {
	return &OAuthHandler{runtime: runtime, tenants: tenants, logger: logger}
}

// Authorize handles GET /api/{vendor}/oauth/authorize. It must run behind BearerAuth.
func (h *OAuthHandler) Authorize(w http.ResponseWriter, r *http.Request) {
	user, ok := UserFromContext(r.Context())
	if !ok {
		writeError(w, h.logger, ltierrors.New(ltierrors.CodeMissingSessionToken, "no session"))
		return
	}
	tenant, err := h.tenants.GetByID(r.Context(), user.TenantID)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	target, err := h.runtime.AuthorizeURL(r.Context(), w, r, domain.Vendor(chi.URLParam(r, "vendor")), tenant, user)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	http.Redirect(w, r, target, http.StatusFound)
}

// Callback handles GET /api/{vendor}/oauth/callback.
func (h *OAuthHandler) Callback(w http.ResponseWriter, r *http.Request) {
	vendor := domain.Vendor(chi.URLParam(r, "vendor"))
	user, err := h.runtime.Callback(r.Context(), w, r, vendor)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	h.logger.Info("LMS authorization stored", "vendor", vendor, "tenant_id", user.TenantID)
	writeJSON(w, http.StatusOK, map[string]string{"status": "authorized", "vendor": string(vendor)})
}
