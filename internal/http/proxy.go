package http

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/tendant/lti-provider/internal/api/blackboard"
	"github.com/tendant/lti-provider/internal/api/canvas"
	"github.com/tendant/lti-provider/internal/api/d2l"
	"github.com/tendant/lti-provider/internal/api/moodle"
	"github.com/tendant/lti-provider/internal/crypto"
	"github.com/tendant/lti-provider/internal/domain"
	ltierrors "github.com/tendant/lti-provider/internal/errors"
	"github.com/tendant/lti-provider/internal/oauth2client"
	"github.com/tendant/lti-provider/internal/store"
	"github.com/tendant/lti-provider/internal/transport"
)

// ProxyHandler exposes LMS API calls to the tool's frontend on the launched user's behalf.
// Every route runs behind BearerAuth.
type ProxyHandler struct {
	runtime *oauth2client.Runtime
	tenants store.TenantRepository
	client  *transport.Client
	secrets *crypto.SecretBox
	logger  *slog.Logger
}

// NewProxyHandler creates a new ProxyHandler. secrets decrypts per-tenant Moodle tokens and may be nil.
func NewProxyHandler(runtime *oauth2client.Runtime, tenants store.TenantRepository, client *transport.Client, secrets *crypto.SecretBox, logger *slog.Logger) *ProxyHandler {
	return &ProxyHandler{runtime: runtime, tenants: tenants, client: client, secrets: secrets, logger: logger}
}

// scope resolves the session user's tenant and binds an OAuth2 scope for vendor.
func (h *ProxyHandler) scope(r *http.Request, vendor domain.Vendor) (*domain.Tenant, *oauth2client.Scope, error) {
	user, ok := UserFromContext(r.Context())
	if !ok {
		return nil, nil, ltierrors.New(ltierrors.CodeMissingSessionToken, "no session")
	}
	tenant, err := h.tenants.GetByID(r.Context(), user.TenantID)
	if err != nil {
		return nil, nil, err
	}
	scope, err := h.runtime.Scope(tenant, user.UserID, vendor)
	if err != nil {
		return nil, nil, err
	}
	return tenant, scope, nil
}

func (h *ProxyHandler) respond(w http.ResponseWriter, v any, err error) {
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

// CanvasFiles handles GET /api/canvas/courses/{course_id}/files.
func (h *ProxyHandler) CanvasFiles(w http.ResponseWriter, r *http.Request) {
	tenant, scope, err := h.scope(r, domain.VendorCanvas)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	files, err := canvas.New(tenant.LMSURL, scope).Course(chi.URLParam(r, "course_id")).Files(r.Context())
	h.respond(w, files, err)
}

// CanvasSections handles GET /api/canvas/courses/{course_id}/sections.
func (h *ProxyHandler) CanvasSections(w http.ResponseWriter, r *http.Request) {
	tenant, scope, err := h.scope(r, domain.VendorCanvas)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	if enabled, ok := tenant.Setting("canvas", "sections_enabled").(bool); ok && !enabled {
		writeError(w, h.logger, ltierrors.New(ltierrors.CodeForbidden, "sections are disabled for this installation"))
		return
	}
	sections, err := canvas.New(tenant.LMSURL, scope).Course(chi.URLParam(r, "course_id")).Sections(r.Context())
	h.respond(w, sections, err)
}

// CanvasPages handles GET /api/canvas/courses/{course_id}/pages.
func (h *ProxyHandler) CanvasPages(w http.ResponseWriter, r *http.Request) {
	tenant, scope, err := h.scope(r, domain.VendorCanvas)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	pages, err := canvas.New(tenant.LMSURL, scope).Course(chi.URLParam(r, "course_id")).Pages(r.Context())
	h.respond(w, pages, err)
}

// CanvasFileURL handles GET /api/canvas/files/{file_id}/via_url.
func (h *ProxyHandler) CanvasFileURL(w http.ResponseWriter, r *http.Request) {
	tenant, scope, err := h.scope(r, domain.VendorCanvas)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	u, err := canvas.New(tenant.LMSURL, scope).PublicURL(r.Context(), chi.URLParam(r, "file_id"))
	h.respond(w, map[string]string{"via_url": u}, err)
}

// BlackboardFiles handles GET /api/blackboard/courses/{course_id}/files.
func (h *ProxyHandler) BlackboardFiles(w http.ResponseWriter, r *http.Request) {
	tenant, scope, err := h.scope(r, domain.VendorBlackboard)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	contents, err := blackboard.New(tenant.LMSURL, scope).Course(chi.URLParam(r, "course_id")).Contents(r.Context())
	h.respond(w, contents, err)
}

// BlackboardAttachments handles GET /api/blackboard/courses/{course_id}/contents/{content_id}/attachments.
func (h *ProxyHandler) BlackboardAttachments(w http.ResponseWriter, r *http.Request) {
	tenant, scope, err := h.scope(r, domain.VendorBlackboard)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	course := blackboard.New(tenant.LMSURL, scope).Course(chi.URLParam(r, "course_id"))
	contentID := chi.URLParam(r, "content_id")
	attachments, err := course.Attachments(r.Context(), contentID)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	type attachment struct {
		blackboard.Attachment
		DownloadURL string `json:"download_url"`
	}
	out := make([]attachment, len(attachments))
	for i, a := range attachments {
		out[i] = attachment{Attachment: a, DownloadURL: course.DownloadURL(contentID, a.ID)}
	}
	writeJSON(w, http.StatusOK, out)
}

// D2LFiles handles GET /api/d2l/courses/{course_id}/files.
func (h *ProxyHandler) D2LFiles(w http.ResponseWriter, r *http.Request) {
	tenant, scope, err := h.scope(r, domain.VendorD2L)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	toc, err := d2l.New(tenant.LMSURL, scope).OrgUnit(chi.URLParam(r, "course_id")).TableOfContents(r.Context())
	h.respond(w, toc, err)
}

// MoodleFiles handles GET /api/moodle/courses/{course_id}/files. Moodle authenticates with a
// per-installation web service token instead of a per-user OAuth2 grant.
func (h *ProxyHandler) MoodleFiles(w http.ResponseWriter, r *http.Request) {
	user, ok := UserFromContext(r.Context())
	if !ok {
		writeError(w, h.logger, ltierrors.New(ltierrors.CodeMissingSessionToken, "no session"))
		return
	}
	courseID, err := strconv.Atoi(chi.URLParam(r, "course_id"))
	if err != nil {
		writeError(w, h.logger, ltierrors.InvalidInput("course_id must be numeric"))
		return
	}
	tenant, err := h.tenants.GetByID(r.Context(), user.TenantID)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	token, err := h.moodleToken(tenant)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	sections, err := moodle.New(tenant.LMSURL, token, h.client).CourseContents(r.Context(), courseID)
	h.respond(w, sections, err)
}

func (h *ProxyHandler) moodleToken(tenant *domain.Tenant) (string, error) {
	token, _ := tenant.Setting("moodle", "api_token").(string)
	if token == "" {
		return "", ltierrors.InvalidInput("installation has no Moodle web service token")
	}
	if h.secrets == nil {
		return token, nil
	}
	plain, err := h.secrets.Decrypt(token)
	if err != nil {
		return "", ltierrors.Internal("cannot decrypt Moodle token", err)
	}
	return plain, nil
}
