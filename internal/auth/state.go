package auth

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/tendant/lti-provider/internal/domain"
	ltierrors "github.com/tendant/lti-provider/internal/errors"
)

// DefaultStateTTL is the lifetime of an OAuth2 state token.
const DefaultStateTTL = time.Hour

// csrfBytes is the size of the CSRF nonce (128 bits).
const csrfBytes = 16

type stateClaims struct {
	User domain.LTIUser `json:"user"`
	CSRF string         `json:"csrf"`
	jwt.RegisteredClaims
}

// State is the verified content of an OAuth2 state parameter.
type State struct {
	User domain.LTIUser
	CSRF string
}

// StateTokens issues the state parameter sent to an LMS authorization endpoint. The token
// binds the launching user to a CSRF nonce that is also kept in the browser session.
type StateTokens struct {
	signer hs256
	ttl    time.Duration
}

// NewStateTokens creates StateTokens signing with secret (OAUTH2_STATE_SECRET).
func NewStateTokens(secret string, ttl time.Duration) *StateTokens {
	if ttl <= 0 {
		ttl = DefaultStateTTL
	}
	return &StateTokens{
		signer: hs256{secret: []byte(secret), now: time.Now},
		ttl:    ttl,
	}
}

// Issue returns a signed state token and the fresh CSRF nonce embedded in it.
func (s *StateTokens) Issue(user *domain.LTIUser) (token, csrf string, err error) {
	if user == nil || user.UserID == "" {
		return "", "", ltierrors.InvalidInput("state token needs a user")
	}
	csrf, err = newCSRF()
	if err != nil {
		return "", "", err
	}

	claims := &stateClaims{User: *user, CSRF: csrf}
	claims.ExpiresAt = jwt.NewNumericDate(s.signer.now().Add(s.ttl))
	token, err = s.signer.sign(claims)
	if err != nil {
		return "", "", err
	}
	return token, csrf, nil
}

// Verify decodes token. Every failure is an invalid_state_param error.
func (s *StateTokens) Verify(token string) (*State, error) {
	if token == "" {
		return nil, ltierrors.New(ltierrors.CodeInvalidStateParam, "missing state parameter")
	}
	claims := &stateClaims{}
	if err := s.signer.parse(token, claims); err != nil {
		msg := "state parameter is invalid"
		if errors.Is(err, jwt.ErrTokenExpired) {
			msg = "state parameter has expired"
		}
		return nil, ltierrors.Wrap(err, ltierrors.CodeInvalidStateParam, msg)
	}
	if claims.CSRF == "" || claims.User.UserID == "" {
		return nil, ltierrors.New(ltierrors.CodeInvalidStateParam, "state parameter lacks user or csrf")
	}
	return &State{User: claims.User, CSRF: claims.CSRF}, nil
}

func newCSRF() (string, error) {
	b := make([]byte, csrfBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate CSRF nonce: %w", err)
	}
	return hex.EncodeToString(b), nil
}
