package crypto

import (
	"context"
	"crypto/rsa"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	ltierrors "github.com/tendant/lti-provider/internal/errors"
)

// DefaultLeeway is the clock skew allowed when validating exp, iat and nbf.
const DefaultLeeway = 30 * time.Second

var (
	errUnknownKid        = errors.New("unknown key id")
	errKeySetUnavailable = errors.New("key set unavailable")
)

// Expectation lists what a verified JWT must assert.
type Expectation struct {
	Issuer   string
	Audience string
	// Nonce is compared with the nonce claim when non-empty.
	Nonce  string
	Leeway time.Duration
}

// TokenGenerator signs JWTs with the tool's active key and verifies tokens it issued.
type TokenGenerator struct {
	keys   *KeyService
	issuer string
	now    func() time.Time
}

// NewTokenGenerator creates a new TokenGenerator.
func NewTokenGenerator(keys *KeyService, issuer string) *TokenGenerator {
	return &TokenGenerator{
		keys:   keys,
		issuer: issuer,
		now:    time.Now,
	}
}

// Sign signs claims with the active key. iss, iat, exp and jti are filled in when absent.
func (g *TokenGenerator) Sign(ctx context.Context, claims jwt.MapClaims, expiry time.Duration) (string, error) {
	key, err := g.keys.GetActiveKey(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to load signing key: %w", err)
	}

	now := g.now().UTC()
	out := jwt.MapClaims{
		"iss": g.issuer,
		"iat": now.Unix(),
		"exp": now.Add(expiry).Unix(),
		"jti": uuid.New().String(),
	}
	for k, v := range claims {
		out[k] = v
	}

	return SignRS256(key, out)
}

// Verify verifies a token signed by any published key of the tool's key set.
func (g *TokenGenerator) Verify(ctx context.Context, tokenString string, exp Expectation) (jwt.MapClaims, error) {
	if exp.Issuer == "" {
		exp.Issuer = g.issuer
	}
	return verifyRS256(tokenString, func(kid string) (*rsa.PublicKey, error) {
		key, err := g.keys.GetKeyByID(ctx, kid)
		if err != nil {
			return nil, errUnknownKid
		}
		return key.PublicKey, nil
	}, exp, g.now)
}

// SignRS256 signs claims with key and sets the kid header.
func SignRS256(key *KeyPair, claims jwt.Claims) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["kid"] = key.Kid

	tokenString, err := token.SignedString(key.PrivateKey)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return tokenString, nil
}

// VerifyWithKey verifies an RS256 token against a single public key.
func VerifyWithKey(tokenString string, key *rsa.PublicKey, exp Expectation) (jwt.MapClaims, error) {
	return verifyRS256(tokenString, func(string) (*rsa.PublicKey, error) {
		return key, nil
	}, exp, time.Now)
}

type keyLookup func(kid string) (*rsa.PublicKey, error)

func verifyRS256(tokenString string, lookup keyLookup, exp Expectation, now func() time.Time) (jwt.MapClaims, error) {
	leeway := exp.Leeway
	if leeway == 0 {
		leeway = DefaultLeeway
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}),
		jwt.WithLeeway(leeway),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithTimeFunc(now),
	}
	if exp.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(exp.Issuer))
	}
	if exp.Audience != "" {
		opts = append(opts, jwt.WithAudience(exp.Audience))
	}

	claims := jwt.MapClaims{}
	_, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (any, error) {
		kid, ok := token.Header["kid"].(string)
		if !ok || kid == "" {
			return nil, fmt.Errorf("%w: missing kid header", errUnknownKid)
		}
		return lookup(kid)
	}, opts...)
	if err != nil {
		return nil, classifyJWTError(err)
	}

	if exp.Nonce != "" {
		if nonce, _ := claims["nonce"].(string); nonce != exp.Nonce {
			return nil, ltierrors.New(ltierrors.CodeBadSignature, "nonce does not match")
		}
	}

	return claims, nil
}

// classifyJWTError maps golang-jwt validation errors onto the signer's failure kinds.
func classifyJWTError(err error) error {
	switch {
	case errors.Is(err, errKeySetUnavailable):
		return ltierrors.Internal("cannot load the issuer key set", err)
	case errors.Is(err, errUnknownKid):
		return ltierrors.Wrap(err, ltierrors.CodeUnknownKid, "no key matches the token kid")
	case errors.Is(err, jwt.ErrTokenMalformed):
		return ltierrors.Wrap(err, ltierrors.CodeMalformedToken, "token is malformed")
	case errors.Is(err, jwt.ErrTokenExpired),
		errors.Is(err, jwt.ErrTokenNotValidYet),
		errors.Is(err, jwt.ErrTokenUsedBeforeIssued):
		return ltierrors.Wrap(err, ltierrors.CodeExpiredToken, "token is outside its validity window")
	case errors.Is(err, jwt.ErrTokenRequiredClaimMissing):
		return ltierrors.Wrap(err, ltierrors.CodeMalformedToken, "token lacks a required claim")
	default:
		return ltierrors.Wrap(err, ltierrors.CodeBadSignature, "token signature or claims are invalid")
	}
}
