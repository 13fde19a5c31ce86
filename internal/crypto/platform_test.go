package crypto

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	ltierrors "github.com/tendant/lti-provider/internal/errors"
)

// jwksServer publishes a mutable key set and counts fetches.
type jwksServer struct {
	mu      sync.Mutex
	keys    []*KeyPair
	fetches atomic.Int32
}

func (s *jwksServer) ServeHTTP(w http.ResponseWriter, _ *http.Request) {
	s.fetches.Add(1)
	s.mu.Lock()
	defer s.mu.Unlock()
	set := JWKS{}
	for _, k := range s.keys {
		set.Keys = append(set.Keys, k.ToJWK())
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(set)
}

func (s *jwksServer) add(k *KeyPair) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.keys = append(s.keys, k)
}

func platformToken(t *testing.T, key *KeyPair, claims jwt.MapClaims) string {
	t.Helper()
	base := jwt.MapClaims{
		"iss":   "https://lms.example.com",
		"aud":   "client-1",
		"iat":   time.Now().Unix(),
		"exp":   time.Now().Add(5 * time.Minute).Unix(),
		"nonce": "n-1",
	}
	for k, v := range claims {
		base[k] = v
	}
	tok, err := SignRS256(key, base)
	require.NoError(t, err)
	return tok
}

func TestPlatformVerifier(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	key, err := GenerateKeyPair(2048)
	require.NoError(t, err)

	keys := &jwksServer{}
	keys.add(key)
	srv := httptest.NewServer(keys)
	defer srv.Close()

	verifier, err := NewPlatformVerifier(ctx, srv.Client())
	require.NoError(t, err)

	exp := Expectation{Issuer: "https://lms.example.com", Audience: "client-1", Nonce: "n-1"}

	t.Run("valid token", func(t *testing.T) {
		claims, err := verifier.Verify(ctx, platformToken(t, key, nil), srv.URL, exp)
		require.NoError(t, err)
		assert.Equal(t, "client-1", claims["aud"])
	})

	t.Run("cached key set is reused", func(t *testing.T) {
		before := keys.fetches.Load()
		for i := 0; i < 5; i++ {
			_, err := verifier.Verify(ctx, platformToken(t, key, nil), srv.URL, exp)
			require.NoError(t, err)
		}
		assert.Equal(t, before, keys.fetches.Load())
	})

	t.Run("wrong issuer", func(t *testing.T) {
		tok := platformToken(t, key, jwt.MapClaims{"iss": "https://evil.example.com"})
		_, err := verifier.Verify(ctx, tok, srv.URL, exp)
		assert.True(t, ltierrors.IsCode(err, ltierrors.CodeBadSignature), "got %v", err)
	})

	t.Run("expired", func(t *testing.T) {
		tok := platformToken(t, key, jwt.MapClaims{
			"iat": time.Now().Add(-time.Hour).Unix(),
			"exp": time.Now().Add(-time.Minute).Unix(),
		})
		_, err := verifier.Verify(ctx, tok, srv.URL, exp)
		assert.True(t, ltierrors.IsCode(err, ltierrors.CodeExpiredToken), "got %v", err)
	})

	t.Run("rotated key is fetched once", func(t *testing.T) {
		rotated, err := GenerateKeyPair(2048)
		require.NoError(t, err)
		keys.add(rotated)

		verifier.mu.Lock()
		verifier.lastForced[srv.URL] = time.Time{}
		verifier.mu.Unlock()

		_, err = verifier.Verify(ctx, platformToken(t, rotated, nil), srv.URL, exp)
		require.NoError(t, err)
	})

	t.Run("unknown kid", func(t *testing.T) {
		stranger, err := GenerateKeyPair(2048)
		require.NoError(t, err)

		_, err = verifier.Verify(ctx, platformToken(t, stranger, nil), srv.URL, exp)
		assert.True(t, ltierrors.IsCode(err, ltierrors.CodeUnknownKid), "got %v", err)
	})
}
