package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/tendant/lti-provider/internal/cache"
	"github.com/tendant/lti-provider/internal/domain"
	ltierrors "github.com/tendant/lti-provider/internal/errors"
)

const testCookieSecret = "test-secret-key-32-bytes-long!!!"

func newTestService() *Service {
	csrf := NewCSRFStore(testCookieSecret, false, cache.NewMemoryReplay(0), time.Hour)
	return NewService(
		NewSessionTokens("jwt-secret"),
		NewStateTokens("state-secret", time.Hour),
		csrf,
	)
}

// withCookies copies the cookies set on w into a new callback request.
func withCookies(w *httptest.ResponseRecorder, target string) *http.Request {
	req := httptest.NewRequest(http.MethodGet, target, nil)
	for _, c := range w.Result().Cookies() {
		req.AddCookie(c)
	}
	return req
}

func TestAuthorizationRoundTrip(t *testing.T) {
	svc := newTestService()
	user := &domain.LTIUser{UserID: "u1", TenantID: "t1"}

	w := httptest.NewRecorder()
	state, err := svc.BeginAuthorization(w, httptest.NewRequest(http.MethodGet, "/api/canvas/oauth/authorize", nil), user)
	if err != nil {
		t.Fatalf("BeginAuthorization failed: %v", err)
	}

	found := false
	for _, c := range w.Result().Cookies() {
		if c.Name == CSRFSessionName {
			found = true
			if !c.HttpOnly {
				t.Error("Session cookie should be HttpOnly")
			}
		}
	}
	if !found {
		t.Fatal("Session cookie should be set")
	}

	got, err := svc.FinishAuthorization(context.Background(), httptest.NewRecorder(), withCookies(w, "/api/canvas/oauth/callback"), state)
	if err != nil {
		t.Fatalf("FinishAuthorization failed: %v", err)
	}
	if got.UserID != "u1" || got.TenantID != "t1" {
		t.Errorf("Unexpected user: %+v", got)
	}
}

func TestStateReplayRejected(t *testing.T) {
	svc := newTestService()
	user := &domain.LTIUser{UserID: "u1", TenantID: "t1"}

	w := httptest.NewRecorder()
	state, err := svc.BeginAuthorization(w, httptest.NewRequest(http.MethodGet, "/", nil), user)
	if err != nil {
		t.Fatalf("BeginAuthorization failed: %v", err)
	}

	if _, err := svc.FinishAuthorization(context.Background(), httptest.NewRecorder(), withCookies(w, "/cb"), state); err != nil {
		t.Fatalf("First callback failed: %v", err)
	}

	// The browser replays the original cookie together with the same state.
	_, err = svc.FinishAuthorization(context.Background(), httptest.NewRecorder(), withCookies(w, "/cb"), state)
	if !ltierrors.IsCode(err, ltierrors.CodeInvalidStateParam) {
		t.Errorf("Expected invalid_state_param on replay, got %v", err)
	}
}

func TestConsumedCookieRejected(t *testing.T) {
	svc := newTestService()
	user := &domain.LTIUser{UserID: "u1", TenantID: "t1"}

	w := httptest.NewRecorder()
	state, _ := svc.BeginAuthorization(w, httptest.NewRequest(http.MethodGet, "/", nil), user)

	first := httptest.NewRecorder()
	if _, err := svc.FinishAuthorization(context.Background(), first, withCookies(w, "/cb"), state); err != nil {
		t.Fatalf("First callback failed: %v", err)
	}

	// The cleared cookie from the first callback no longer carries the nonce.
	_, err := svc.FinishAuthorization(context.Background(), httptest.NewRecorder(), withCookies(first, "/cb"), state)
	if !ltierrors.IsCode(err, ltierrors.CodeInvalidStateParam) {
		t.Errorf("Expected invalid_state_param, got %v", err)
	}
}

func TestStateMismatchRejected(t *testing.T) {
	svc := newTestService()
	user := &domain.LTIUser{UserID: "u1", TenantID: "t1"}

	w := httptest.NewRecorder()
	if _, err := svc.BeginAuthorization(w, httptest.NewRequest(http.MethodGet, "/", nil), user); err != nil {
		t.Fatalf("BeginAuthorization failed: %v", err)
	}
	other, _, err := svc.States().Issue(user)
	if err != nil {
		t.Fatalf("Issue failed: %v", err)
	}

	_, err = svc.FinishAuthorization(context.Background(), httptest.NewRecorder(), withCookies(w, "/cb"), other)
	if !ltierrors.IsCode(err, ltierrors.CodeInvalidStateParam) {
		t.Errorf("Expected invalid_state_param, got %v", err)
	}
}

func TestMissingCookieRejected(t *testing.T) {
	svc := newTestService()
	state, _, err := svc.States().Issue(&domain.LTIUser{UserID: "u1", TenantID: "t1"})
	if err != nil {
		t.Fatalf("Issue failed: %v", err)
	}

	_, err = svc.FinishAuthorization(context.Background(), httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/cb", nil), state)
	if !ltierrors.IsCode(err, ltierrors.CodeInvalidStateParam) {
		t.Errorf("Expected invalid_state_param, got %v", err)
	}
}

func TestStateTokenTampered(t *testing.T) {
	states := NewStateTokens("state-secret", time.Hour)
	token, csrf, err := states.Issue(&domain.LTIUser{UserID: "u1", TenantID: "t1"})
	if err != nil {
		t.Fatalf("Issue failed: %v", err)
	}
	if len(csrf) != 32 {
		t.Errorf("CSRF nonce should be 128-bit hex, got %q", csrf)
	}

	if _, err := NewStateTokens("other-secret", time.Hour).Verify(token); !ltierrors.IsCode(err, ltierrors.CodeInvalidStateParam) {
		t.Errorf("Expected invalid_state_param for wrong secret, got %v", err)
	}

	st, err := states.Verify(token)
	if err != nil {
		t.Fatalf("Verify failed: %v", err)
	}
	if st.CSRF != csrf {
		t.Errorf("CSRF = %q, want %q", st.CSRF, csrf)
	}
}
