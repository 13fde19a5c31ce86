package http

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	ltierrors "github.com/tendant/lti-provider/internal/errors"
	"github.com/tendant/lti-provider/internal/transport"
)

// errorBody is the JSON shape of every error response.
type errorBody struct {
	Error   string              `json:"error"`
	Message string              `json:"message,omitempty"`
	Fields  map[string][]string `json:"fields,omitempty"`
	// Refresh tells the frontend to send the user through the authorize route again.
	Refresh bool `json:"refresh,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps err onto a status code and a JSON body. Internal details are logged, never sent.
func writeError(w http.ResponseWriter, logger *slog.Logger, err error) {
	if ext, ok := transport.AsExternal(err); ok && ltierrors.Code(err) == "" {
		logger.Warn("external request failed",
			"kind", ext.Kind, "method", ext.Method, "url", ext.URL, "status", ext.Status, "body", ext.Body)
		writeJSON(w, http.StatusBadGateway, errorBody{Error: "external_request_error", Message: "The LMS request failed"})
		return
	}

	code := ltierrors.Code(err)
	status := ltierrors.HTTPStatus(err)
	if code == "" || code == ltierrors.CodeInternal {
		logger.Error("request failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: ltierrors.CodeInternal, Message: "Internal Server Error"})
		return
	}

	body := errorBody{Error: code, Refresh: code == ltierrors.CodeOAuth2Token}
	var lerr *ltierrors.Error
	if errors.As(err, &lerr) {
		body.Message = lerr.Message
		body.Fields = lerr.Fields
	}
	logger.Info("request rejected", "code", code, "status", status, "error", err)
	writeJSON(w, status, body)
}
