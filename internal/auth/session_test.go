package auth

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/tendant/lti-provider/internal/domain"
	ltierrors "github.com/tendant/lti-provider/internal/errors"
)

func testUser() *domain.LTIUser {
	return &domain.LTIUser{
		UserID:                   "user-1",
		TenantID:                 "tenant-1",
		Roles:                    "Instructor",
		DisplayName:              "Ada Lovelace",
		ToolConsumerInstanceGUID: "guid-1",
		IsInstructor:             true,
	}
}

func TestSessionTokenRoundTrip(t *testing.T) {
	svc := NewSessionTokens("jwt-secret")

	token, err := svc.Issue(testUser())
	if err != nil {
		t.Fatalf("Issue failed: %v", err)
	}

	got, err := svc.Verify(token)
	if err != nil {
		t.Fatalf("Verify failed: %v", err)
	}
	if *got != *testUser() {
		t.Errorf("Verify() = %+v, want %+v", got, testUser())
	}
}

func TestSessionTokenExpired(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	svc := NewSessionTokens("jwt-secret", WithSessionClock(func() time.Time { return now }))

	token, err := svc.Issue(testUser())
	if err != nil {
		t.Fatalf("Issue failed: %v", err)
	}

	now = now.Add(59 * time.Minute)
	if _, err := svc.Verify(token); err != nil {
		t.Errorf("Token should still be valid: %v", err)
	}

	now = now.Add(2 * time.Minute)
	if _, err := svc.Verify(token); !ltierrors.IsCode(err, ltierrors.CodeExpiredSessionToken) {
		t.Errorf("Expected expired_session_token, got %v", err)
	}
}

func TestSessionTokenInvalid(t *testing.T) {
	svc := NewSessionTokens("jwt-secret")
	token, _ := svc.Issue(testUser())

	tests := []struct {
		name  string
		token string
	}{
		{"garbage", "not-a-jwt"},
		{"wrong secret", mustIssue(t, NewSessionTokens("other-secret"))},
		{"tampered", token[:len(token)-2] + "xx"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := svc.Verify(tt.token); !ltierrors.IsCode(err, ltierrors.CodeInvalidSessionToken) {
				t.Errorf("Expected invalid_session_token, got %v", err)
			}
		})
	}
}

func mustIssue(t *testing.T, svc *SessionTokens) string {
	t.Helper()
	token, err := svc.Issue(testUser())
	if err != nil {
		t.Fatalf("Issue failed: %v", err)
	}
	return token
}

func TestSessionTokenFromRequest(t *testing.T) {
	svc := NewSessionTokens("jwt-secret", WithTokenParam("authorization"))
	token := mustIssue(t, svc)

	t.Run("header", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/canvas/files", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		if _, err := svc.FromRequest(req); err != nil {
			t.Errorf("FromRequest failed: %v", err)
		}
	})

	t.Run("query parameter", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/canvas/files?authorization="+url.QueryEscape("Bearer "+token), nil)
		if _, err := svc.FromRequest(req); err != nil {
			t.Errorf("FromRequest failed: %v", err)
		}
	})

	t.Run("form parameter", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/api/canvas/files", strings.NewReader("authorization="+url.QueryEscape("Bearer "+token)))
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		if _, err := svc.FromRequest(req); err != nil {
			t.Errorf("FromRequest failed: %v", err)
		}
	})

	t.Run("missing", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/canvas/files", nil)
		if _, err := svc.FromRequest(req); !ltierrors.IsCode(err, ltierrors.CodeMissingSessionToken) {
			t.Errorf("Expected missing_session_token, got %v", err)
		}
	})

	t.Run("wrong scheme", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/canvas/files", nil)
		req.Header.Set("Authorization", "Basic "+token)
		if _, err := svc.FromRequest(req); !ltierrors.IsCode(err, ltierrors.CodeInvalidSessionToken) {
			t.Errorf("Expected invalid_session_token, got %v", err)
		}
	})
}

func TestSessionTokenParamDisabledByDefault(t *testing.T) {
	svc := NewSessionTokens("jwt-secret")
	token := mustIssue(t, svc)

	req := httptest.NewRequest(http.MethodGet, "/api?authorization="+url.QueryEscape("Bearer "+token), nil)
	if _, err := svc.FromRequest(req); !ltierrors.IsCode(err, ltierrors.CodeMissingSessionToken) {
		t.Errorf("Expected missing_session_token, got %v", err)
	}
}

func TestIssueRequiresIdentity(t *testing.T) {
	if _, err := NewSessionTokens("s").Issue(&domain.LTIUser{UserID: "u"}); err == nil {
		t.Error("Issue should fail without tenant_id")
	}
}
