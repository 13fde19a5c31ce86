package auth

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/tendant/lti-provider/internal/domain"
	ltierrors "github.com/tendant/lti-provider/internal/errors"
)

// DefaultSessionTTL is the lifetime of a session bearer.
const DefaultSessionTTL = time.Hour

// sessionClaims is the payload of a session bearer.
type sessionClaims struct {
	User domain.LTIUser `json:"user"`
	jwt.RegisteredClaims
}

// SessionTokens issues and verifies the bearer tokens the tool's frontend sends back on API
// calls. Tokens are HS256 JWTs carrying the launched LTIUser.
type SessionTokens struct {
	signer hs256
	ttl    time.Duration
	param  string
}

// SessionOption configures SessionTokens.
type SessionOption func(*SessionTokens)

// WithSessionTTL sets the bearer lifetime.
func WithSessionTTL(ttl time.Duration) SessionOption {
	return func(s *SessionTokens) {
		if ttl > 0 {
			s.ttl = ttl
		}
	}
}

// WithTokenParam lets FromRequest fall back to a query or form parameter of this name when
// the Authorization header is absent.
func WithTokenParam(name string) SessionOption {
	return func(s *SessionTokens) {
		s.param = name
	}
}

// WithSessionClock sets the time source.
func WithSessionClock(now func() time.Time) SessionOption {
	return func(s *SessionTokens) {
		s.signer.now = now
	}
}

// NewSessionTokens creates a SessionTokens signing with secret (JWT_SECRET).
func NewSessionTokens(secret string, opts ...SessionOption) *SessionTokens {
	s := &SessionTokens{
		signer: hs256{secret: []byte(secret), now: time.Now},
		ttl:    DefaultSessionTTL,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Issue serializes user into a bearer that expires after the configured TTL.
func (s *SessionTokens) Issue(user *domain.LTIUser) (string, error) {
	if user == nil || user.UserID == "" || user.TenantID == "" {
		return "", ltierrors.InvalidInput("session token needs a user with user_id and tenant_id")
	}
	claims := &sessionClaims{User: *user}
	claims.ExpiresAt = jwt.NewNumericDate(s.signer.now().Add(s.ttl))
	return s.signer.sign(claims)
}

// Verify returns the user encoded in token.
func (s *SessionTokens) Verify(token string) (*domain.LTIUser, error) {
	claims := &sessionClaims{}
	if err := s.signer.parse(token, claims); err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ltierrors.Wrap(err, ltierrors.CodeExpiredSessionToken, "session token has expired")
		}
		return nil, ltierrors.Wrap(err, ltierrors.CodeInvalidSessionToken, "session token is invalid")
	}
	if claims.User.UserID == "" || claims.User.TenantID == "" {
		return nil, ltierrors.New(ltierrors.CodeInvalidSessionToken, "session token lacks user_id or tenant_id")
	}
	return &claims.User, nil
}

// FromRequest extracts and verifies the bearer on r.
func (s *SessionTokens) FromRequest(r *http.Request) (*domain.LTIUser, error) {
	raw := r.Header.Get("Authorization")
	if raw == "" && s.param != "" {
		raw = r.URL.Query().Get(s.param)
		if raw == "" && r.Method == http.MethodPost {
			raw = r.PostFormValue(s.param)
		}
	}
	if raw == "" {
		return nil, ltierrors.New(ltierrors.CodeMissingSessionToken, "missing session token")
	}

	token := raw
	if scheme, rest, ok := strings.Cut(raw, " "); ok {
		if !strings.EqualFold(scheme, "Bearer") {
			return nil, ltierrors.New(ltierrors.CodeInvalidSessionToken, "authorization scheme must be Bearer")
		}
		token = strings.TrimSpace(rest)
	}
	if token == "" {
		return nil, ltierrors.New(ltierrors.CodeMissingSessionToken, "missing session token")
	}
	return s.Verify(token)
}

// hs256 signs and parses HMAC-SHA256 JWTs. exp is the only time bound checked.
type hs256 struct {
	secret []byte
	now    func() time.Time
}

func (h hs256) sign(claims jwt.Claims) (string, error) {
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(h.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

func (h hs256) parse(token string, claims jwt.Claims) error {
	_, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return h.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(h.now),
	)
	return err
}
