package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	ltierrors "github.com/tendant/lti-provider/internal/errors"
	"github.com/tendant/lti-provider/internal/transport"
)

func TestHealthHandler_Healthz(t *testing.T) {
	handler := NewHealthHandler()

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	w := httptest.NewRecorder()

	handler.Healthz(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("Expected status 200, got %d", w.Code)
	}

	var response map[string]string
	if err := json.NewDecoder(w.Body).Decode(&response); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}

	if response["status"] != "ok" {
		t.Errorf("Expected status 'ok', got '%s'", response["status"])
	}
}

func TestHealthHandler_Readyz(t *testing.T) {
	handler := NewHealthHandler()

	req := httptest.NewRequest(http.MethodGet, "/readyz", nil)
	w := httptest.NewRecorder()

	handler.Readyz(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("Expected status 200 when ready, got %d", w.Code)
	}

	handler.SetReady(false)
	w = httptest.NewRecorder()
	handler.Readyz(w, req)

	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("Expected status 503 when not ready, got %d", w.Code)
	}
}

func TestHealthHandler_ReadyzFailingCheck(t *testing.T) {
	handler := NewHealthHandler(
		ReadinessCheck{Name: "database", Check: func(context.Context) error { return nil }},
		ReadinessCheck{Name: "redis", Check: func(context.Context) error { return errors.New("connection refused") }},
	)

	w := httptest.NewRecorder()
	handler.Readyz(w, httptest.NewRequest(http.MethodGet, "/readyz", nil))

	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("Expected status 503, got %d", w.Code)
	}
	var response map[string]string
	if err := json.NewDecoder(w.Body).Decode(&response); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if response["failing"] != "redis" {
		t.Errorf("Expected failing check 'redis', got '%s'", response["failing"])
	}
}

func TestDiscoveryHandler_ToolConfiguration(t *testing.T) {
	handler := NewDiscoveryHandler("https://tool.example.com/", "Course Files")

	w := httptest.NewRecorder()
	handler.ToolConfiguration(w, httptest.NewRequest(http.MethodGet, "/lti/1.3/config.json", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Expected Content-Type 'application/json', got '%s'", ct)
	}

	var cfg ToolConfiguration
	if err := json.NewDecoder(w.Body).Decode(&cfg); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}

	expected := map[string]string{
		"oidc_initiation_url": "https://tool.example.com/lti/1.3/oidc",
		"target_link_uri":     "https://tool.example.com/lti_launches",
		"public_jwk_url":      "https://tool.example.com/lti/1.3/jwks",
	}
	got := map[string]string{
		"oidc_initiation_url": cfg.OIDCInitiation,
		"target_link_uri":     cfg.TargetLinkURI,
		"public_jwk_url":      cfg.PublicJWKURL,
	}
	for field, want := range expected {
		if got[field] != want {
			t.Errorf("Expected %s '%s', got '%s'", field, want, got[field])
		}
	}

	if len(cfg.Extensions) != 1 || cfg.Extensions[0].Domain != "tool.example.com" {
		t.Fatalf("Expected one extension for tool.example.com, got %+v", cfg.Extensions)
	}
	for _, p := range cfg.Extensions[0].Settings.Placements {
		if p.MessageType != "LtiDeepLinkingRequest" {
			t.Errorf("Expected deep linking placement, got %s for %s", p.MessageType, p.Placement)
		}
	}
}

func TestWriteError(t *testing.T) {
	logger := slog.New(slog.DiscardHandler)

	tests := []struct {
		name        string
		err         error
		wantStatus  int
		wantCode    string
		wantRefresh bool
	}{
		{"unknown tenant", ltierrors.New(ltierrors.CodeUnknownTenant, "no tenant"), http.StatusForbidden, ltierrors.CodeUnknownTenant, false},
		{"replayed nonce", ltierrors.New(ltierrors.CodeReplayedNonce, "used"), http.StatusUnauthorized, ltierrors.CodeReplayedNonce, false},
		{"validation", ltierrors.Validation(map[string][]string{"roles": {"is required"}}), http.StatusUnprocessableEntity, ltierrors.CodeValidation, false},
		{"oauth2 token", ltierrors.OAuth2Token("rejected", nil), http.StatusBadRequest, ltierrors.CodeOAuth2Token, true},
		{"permission", ltierrors.Permission("denied", nil), http.StatusForbidden, ltierrors.CodePermission, false},
		{"external", &transport.ExternalRequestError{Kind: transport.KindHTTP, Method: "GET", URL: "https://lms/x", Status: 500}, http.StatusBadGateway, "external_request_error", false},
		{"plain error", fmt.Errorf("boom"), http.StatusInternalServerError, ltierrors.CodeInternal, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			writeError(w, logger, tt.err)

			if w.Code != tt.wantStatus {
				t.Errorf("Expected status %d, got %d", tt.wantStatus, w.Code)
			}
			var body errorBody
			if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
				t.Fatalf("Failed to decode response: %v", err)
			}
			if body.Error != tt.wantCode {
				t.Errorf("Expected error '%s', got '%s'", tt.wantCode, body.Error)
			}
			if body.Refresh != tt.wantRefresh {
				t.Errorf("Expected refresh %v, got %v", tt.wantRefresh, body.Refresh)
			}
		})
	}
}

func TestWriteError_ValidationFields(t *testing.T) {
	w := httptest.NewRecorder()
	writeError(w, slog.New(slog.DiscardHandler), ltierrors.Validation(map[string][]string{"user_id": {"is required"}}))

	var body errorBody
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if got := body.Fields["user_id"]; len(got) != 1 || got[0] != "is required" {
		t.Errorf("Expected user_id field error, got %v", body.Fields)
	}
}
