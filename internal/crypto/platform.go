package crypto

import (
	"context"
	"crypto/rsa"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/lestrrat-go/httprc/v3"
	"github.com/lestrrat-go/jwx/v3/jwk"
)

// DefaultJWKSRefresh is the minimum interval between scheduled key set fetches.
const DefaultJWKSRefresh = 10 * time.Minute

// forcedRefreshFloor bounds how often an unknown kid may trigger an out-of-band fetch.
const forcedRefreshFloor = time.Minute

// PlatformVerifier verifies JWTs issued by LMS platforms against their published key sets.
type PlatformVerifier struct {
	cache      *jwk.Cache
	minRefresh time.Duration
	leeway     time.Duration
	logger     *slog.Logger
	now        func() time.Time

	mu         sync.Mutex
	registered map[string]bool
	lastForced map[string]time.Time
}

// PlatformOption configures the PlatformVerifier.
type PlatformOption func(*PlatformVerifier)

// WithMinRefresh sets the minimum key set refresh interval. Values below ten minutes are raised.
func WithMinRefresh(d time.Duration) PlatformOption {
	return func(v *PlatformVerifier) {
		if d > DefaultJWKSRefresh {
			v.minRefresh = d
		}
	}
}

// WithLeeway sets the allowed clock skew.
func WithLeeway(d time.Duration) PlatformOption {
	return func(v *PlatformVerifier) {
		v.leeway = d
	}
}

// WithPlatformLogger sets the logger.
func WithPlatformLogger(logger *slog.Logger) PlatformOption {
	return func(v *PlatformVerifier) {
		v.logger = logger
	}
}

// NewPlatformVerifier creates a verifier whose key set cache lives until ctx is cancelled.
func NewPlatformVerifier(ctx context.Context, httpClient *http.Client, opts ...PlatformOption) (*PlatformVerifier, error) {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 9 * time.Second}
	}

	cache, err := jwk.NewCache(ctx, httprc.NewClient(httprc.WithHTTPClient(httpClient)))
	if err != nil {
		return nil, fmt.Errorf("failed to create JWKS cache: %w", err)
	}

	v := &PlatformVerifier{
		cache:      cache,
		minRefresh: DefaultJWKSRefresh,
		leeway:     DefaultLeeway,
		logger:     slog.Default(),
		now:        time.Now,
		registered: make(map[string]bool),
		lastForced: make(map[string]time.Time),
	}
	for _, opt := range opts {
		opt(v)
	}
	return v, nil
}

// Verify checks the token signature against the key set at keySetURL and validates
// iss, aud, exp, iat and, when expected, nonce.
func (v *PlatformVerifier) Verify(ctx context.Context, tokenString, keySetURL string, exp Expectation) (jwt.MapClaims, error) {
	if exp.Leeway == 0 {
		exp.Leeway = v.leeway
	}
	return verifyRS256(tokenString, func(kid string) (*rsa.PublicKey, error) {
		return v.publicKey(ctx, keySetURL, kid)
	}, exp, v.now)
}

func (v *PlatformVerifier) publicKey(ctx context.Context, keySetURL, kid string) (*rsa.PublicKey, error) {
	if err := v.ensureRegistered(ctx, keySetURL); err != nil {
		return nil, fmt.Errorf("%w: %v", errKeySetUnavailable, err)
	}

	set, err := v.cache.Lookup(ctx, keySetURL)
	if err != nil {
		return nil, fmt.Errorf("%w: lookup: %v", errKeySetUnavailable, err)
	}

	key, found := set.LookupKeyID(kid)
	if !found && v.allowForcedRefresh(keySetURL) {
		v.logger.Info("unknown kid, refreshing key set", "kid", kid, "jwks_url", keySetURL)
		if set, err = v.cache.Refresh(ctx, keySetURL); err != nil {
			return nil, fmt.Errorf("%w: refresh: %v", errKeySetUnavailable, err)
		}
		key, found = set.LookupKeyID(kid)
	}
	if !found {
		return nil, fmt.Errorf("%w: %s", errUnknownKid, kid)
	}

	var raw any
	if err := jwk.Export(key, &raw); err != nil {
		return nil, fmt.Errorf("failed to export key %s: %w", kid, err)
	}
	switch pub := raw.(type) {
	case *rsa.PublicKey:
		return pub, nil
	case rsa.PublicKey:
		return &pub, nil
	default:
		return nil, fmt.Errorf("key %s is %T, not an RSA public key", kid, raw)
	}
}

func (v *PlatformVerifier) ensureRegistered(ctx context.Context, keySetURL string) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.registered[keySetURL] {
		return nil
	}

	registrationCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if err := v.cache.Register(registrationCtx, keySetURL, jwk.WithMinInterval(v.minRefresh)); err != nil {
		return fmt.Errorf("failed to register JWKS URL %s: %w", keySetURL, err)
	}
	v.registered[keySetURL] = true
	v.lastForced[keySetURL] = v.now()
	return nil
}

func (v *PlatformVerifier) allowForcedRefresh(keySetURL string) bool {
	v.mu.Lock()
	defer v.mu.Unlock()

	now := v.now()
	if now.Sub(v.lastForced[keySetURL]) < forcedRefreshFloor {
		return false
	}
	v.lastForced[keySetURL] = now
	return true
}
