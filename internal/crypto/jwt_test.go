package crypto

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	ltierrors "github.com/tendant/lti-provider/internal/errors"
)

func newTestGenerator(t *testing.T) (*TokenGenerator, *KeyService) {
	t.Helper()
	svc := NewKeyService(newMemoryKeyRepo())
	if _, err := svc.EnsureActiveKey(context.Background()); err != nil {
		t.Fatalf("EnsureActiveKey failed: %v", err)
	}
	return NewTokenGenerator(svc, "https://tool.example.com"), svc
}

func TestSignAndVerify(t *testing.T) {
	ctx := context.Background()
	gen, svc := newTestGenerator(t)

	tokenString, err := gen.Sign(ctx, jwt.MapClaims{"aud": "client-1", "sub": "user-123"}, 5*time.Minute)
	if err != nil {
		t.Fatalf("Sign failed: %v", err)
	}
	if parts := strings.Split(tokenString, "."); len(parts) != 3 {
		t.Fatalf("Token should have 3 parts, got %d", len(parts))
	}

	claims, err := gen.Verify(ctx, tokenString, Expectation{Audience: "client-1"})
	if err != nil {
		t.Fatalf("Verify failed: %v", err)
	}
	if claims["sub"] != "user-123" {
		t.Errorf("Expected sub 'user-123', got %v", claims["sub"])
	}
	if claims["iss"] != "https://tool.example.com" {
		t.Errorf("Expected issuer to be filled in, got %v", claims["iss"])
	}

	active, _ := svc.GetActiveKey(ctx)
	if _, err := VerifyWithKey(tokenString, active.PublicKey, Expectation{}); err != nil {
		t.Errorf("VerifyWithKey with the signing key failed: %v", err)
	}
}

func TestVerifyFailsAgainstOtherKey(t *testing.T) {
	signing, _ := GenerateKeyPair(2048)
	other, _ := GenerateKeyPair(2048)

	tokenString, err := SignRS256(signing, jwt.MapClaims{
		"sub": "u",
		"iat": time.Now().Unix(),
		"exp": time.Now().Add(time.Minute).Unix(),
	})
	if err != nil {
		t.Fatalf("SignRS256 failed: %v", err)
	}

	if _, err := VerifyWithKey(tokenString, signing.PublicKey, Expectation{}); err != nil {
		t.Fatalf("Verify with matching key failed: %v", err)
	}

	_, err = VerifyWithKey(tokenString, other.PublicKey, Expectation{})
	if !ltierrors.IsCode(err, ltierrors.CodeBadSignature) {
		t.Errorf("Expected bad_signature with another key, got %v", err)
	}
}

func TestVerifyExpired(t *testing.T) {
	key, _ := GenerateKeyPair(2048)

	tests := []struct {
		name    string
		exp     time.Duration
		wantErr bool
	}{
		{"within skew", -10 * time.Second, false},
		{"beyond skew", -2 * time.Minute, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tokenString, _ := SignRS256(key, jwt.MapClaims{
				"iat": time.Now().Add(-time.Hour).Unix(),
				"exp": time.Now().Add(tt.exp).Unix(),
			})
			_, err := VerifyWithKey(tokenString, key.PublicKey, Expectation{Leeway: 30 * time.Second})
			if tt.wantErr && !ltierrors.IsCode(err, ltierrors.CodeExpiredToken) {
				t.Errorf("Expected expired_token, got %v", err)
			}
			if !tt.wantErr && err != nil {
				t.Errorf("Unexpected error: %v", err)
			}
		})
	}
}

func TestVerifyUnknownKid(t *testing.T) {
	ctx := context.Background()
	gen, _ := newTestGenerator(t)
	stranger, _ := GenerateKeyPair(2048)

	tokenString, _ := SignRS256(stranger, jwt.MapClaims{
		"iss": "https://tool.example.com",
		"iat": time.Now().Unix(),
		"exp": time.Now().Add(time.Minute).Unix(),
	})

	_, err := gen.Verify(ctx, tokenString, Expectation{})
	if !ltierrors.IsCode(err, ltierrors.CodeUnknownKid) {
		t.Errorf("Expected unknown_kid, got %v", err)
	}
}

func TestVerifyNonceAndAudience(t *testing.T) {
	key, _ := GenerateKeyPair(2048)
	tokenString, _ := SignRS256(key, jwt.MapClaims{
		"aud":   "client-1",
		"nonce": "n-1",
		"iat":   time.Now().Unix(),
		"exp":   time.Now().Add(time.Minute).Unix(),
	})

	if _, err := VerifyWithKey(tokenString, key.PublicKey, Expectation{Audience: "client-1", Nonce: "n-1"}); err != nil {
		t.Errorf("Expected success, got %v", err)
	}
	if _, err := VerifyWithKey(tokenString, key.PublicKey, Expectation{Nonce: "other"}); err == nil {
		t.Error("Expected nonce mismatch to fail")
	}
	if _, err := VerifyWithKey(tokenString, key.PublicKey, Expectation{Audience: "client-2"}); err == nil {
		t.Error("Expected audience mismatch to fail")
	}
}

func TestVerifyMalformed(t *testing.T) {
	key, _ := GenerateKeyPair(2048)

	for _, tok := range []string{"", "not-a-jwt", "eyJhbGciOiJSUzI1NiJ9.eyJzdWIiOiIxIn0"} {
		_, err := VerifyWithKey(tok, key.PublicKey, Expectation{})
		if !ltierrors.IsCode(err, ltierrors.CodeMalformedToken) {
			t.Errorf("VerifyWithKey(%q): expected malformed_token, got %v", tok, err)
		}
	}
}
