package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestNormalizePath(t *testing.T) {
	tests := []struct {
		path string
		want string
	}{
		{"/lti_launches", "/lti_launches"},
		{"/lti/1.3/jwks", "/lti/1.3/jwks"},
		{"/api/canvas/oauth/authorize", "/api/canvas/oauth/authorize"},
		{"/api/d2l/oauth/callback", "/api/d2l/oauth/callback"},
		{"/api/canvas/courses/12/files", "/api/canvas/proxy"},
		{"/api/unknown/courses", "/other"},
		{"/wp-admin", "/other"},
	}

	for _, tt := range tests {
		if got := normalizePath(tt.path); got != tt.want {
			t.Errorf("normalizePath(%q) = %q, want %q", tt.path, got, tt.want)
		}
	}
}

func TestMiddlewareCapturesStatus(t *testing.T) {
	handler := Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	if rec.Code != http.StatusTeapot {
		t.Errorf("Expected status %d, got %d", http.StatusTeapot, rec.Code)
	}
}
