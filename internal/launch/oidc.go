package launch

import (
	"context"
	"errors"
	"net/url"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	ltierrors "github.com/tendant/lti-provider/internal/errors"
)

// loginClaims travel in the OIDC state parameter from Login to LaunchLTI13.
type loginClaims struct {
	Nonce string `json:"nonce"`
	jwt.RegisteredClaims
}

// LoginState is a verified OIDC login state.
type LoginState struct {
	Issuer   string
	ClientID string
	Nonce    string
}

// Login handles third-party initiated login. It returns the platform's authorization URL to
// redirect to and the state the platform will echo back with the id_token.
func (a *Authenticator) Login(ctx context.Context, params url.Values) (string, string, error) {
	fields := map[string][]string{}
	for _, name := range []string{"iss", "login_hint", "target_link_uri"} {
		if params.Get(name) == "" {
			fields[name] = []string{"Missing data for required field."}
		}
	}
	if len(fields) > 0 {
		return "", "", ltierrors.Validation(fields)
	}
	if len(a.loginSecret) == 0 {
		return "", "", ltierrors.Internal("OIDC login is not configured", errors.New("no login secret"))
	}

	reg, err := a.registrationFor(ctx, params.Get("iss"), params.Get("client_id"))
	if err != nil {
		return "", "", err
	}
	if reg.AuthLoginURL == "" {
		return "", "", ltierrors.InvalidInput("registration has no auth_login_url")
	}

	nonce := uuid.NewString()
	now := a.now()
	state, err := jwt.NewWithClaims(jwt.SigningMethodHS256, loginClaims{
		Nonce: nonce,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    reg.Issuer,
			Audience:  jwt.ClaimStrings{reg.ClientID},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(a.loginStateTTL)),
		},
	}).SignedString(a.loginSecret)
	if err != nil {
		return "", "", ltierrors.Internal("cannot sign login state", err)
	}

	target, err := url.Parse(reg.AuthLoginURL)
	if err != nil {
		return "", "", ltierrors.Internal("invalid auth_login_url", err)
	}
	q := target.Query()
	q.Set("scope", "openid")
	q.Set("response_type", "id_token")
	q.Set("response_mode", "form_post")
	q.Set("prompt", "none")
	q.Set("client_id", reg.ClientID)
	q.Set("redirect_uri", params.Get("target_link_uri"))
	q.Set("login_hint", params.Get("login_hint"))
	q.Set("state", state)
	q.Set("nonce", nonce)
	if hint := params.Get("lti_message_hint"); hint != "" {
		q.Set("lti_message_hint", hint)
	}
	target.RawQuery = q.Encode()

	a.logger.Info("OIDC login initiated", "issuer", reg.Issuer, "client_id", reg.ClientID)
	return target.String(), state, nil
}

func (a *Authenticator) verifyLoginState(state string) (*LoginState, error) {
	if len(a.loginSecret) == 0 {
		return nil, ltierrors.New(ltierrors.CodeInvalidStateParam, "OIDC login is not configured")
	}
	claims := &loginClaims{}
	_, err := jwt.ParseWithClaims(state, claims, func(*jwt.Token) (any, error) {
		return a.loginSecret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(a.now),
	)
	if err != nil {
		return nil, ltierrors.Wrap(err, ltierrors.CodeInvalidStateParam, "invalid login state")
	}
	if claims.Nonce == "" || len(claims.Audience) != 1 {
		return nil, ltierrors.New(ltierrors.CodeInvalidStateParam, "login state lacks nonce or audience")
	}
	return &LoginState{Issuer: claims.Issuer, ClientID: claims.Audience[0], Nonce: claims.Nonce}, nil
}
