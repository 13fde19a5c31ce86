package http

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/tendant/lti-provider/internal/crypto"
)

// jwksMaxAge is short enough that platforms see a rotated key well inside the overlap.
const jwksMaxAge = "public, max-age=600"

// JWKSHandler publishes the tool's public keys for platforms verifying its JWTs.
type JWKSHandler struct {
	keyService *crypto.KeyService
	logger     *slog.Logger
}

// NewJWKSHandler creates a new JWKSHandler.
func NewJWKSHandler(keyService *crypto.KeyService, logger *slog.Logger) *JWKSHandler {
	return &JWKSHandler{
		keyService: keyService,
		logger:     logger,
	}
}

// JWKS handles GET /lti/1.3/jwks. Retired keys stay listed until their overlap ends.
// Platforms polling with If-None-Match get 304 while the set is unchanged.
func (h *JWKSHandler) JWKS(w http.ResponseWriter, r *http.Request) {
	jwks, err := h.keyService.GetJWKS(r.Context())
	if err != nil {
		h.logger.Error("failed to get JWKS", "error", err)
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: "internal_error", Message: "Internal Server Error"})
		return
	}

	payload, err := json.Marshal(jwks)
	if err != nil {
		h.logger.Error("failed to encode JWKS", "error", err)
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: "internal_error", Message: "Internal Server Error"})
		return
	}
	sum := sha256.Sum256(payload)
	etag := `W/"` + base64.RawURLEncoding.EncodeToString(sum[:]) + `"`

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", jwksMaxAge)
	w.Header().Set("ETag", etag)
	w.Header().Set("Access-Control-Allow-Origin", "*")

	if r.Header.Get("If-None-Match") == etag {
		w.WriteHeader(http.StatusNotModified)
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(payload)
}
