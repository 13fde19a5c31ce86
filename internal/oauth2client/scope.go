package oauth2client

import (
	"context"
	"errors"
	"net/http"

	"github.com/tendant/lti-provider/internal/domain"
	ltierrors "github.com/tendant/lti-provider/internal/errors"
	"github.com/tendant/lti-provider/internal/transport"
)

// CallOptions qualify one call made through a Scope.
type CallOptions struct {
	// Retriable calls are replayed once after a successful refresh when the vendor rejects
	// the access token.
	Retriable bool
}

// Scope makes calls on behalf of one (tenant, user, vendor).
type Scope struct {
	rt     *Runtime
	tenant *domain.Tenant
	userID string
	vendor *Vendor
}

// Tenant returns the scope's tenant.
func (s *Scope) Tenant() *domain.Tenant {
	return s.tenant
}

// Vendor returns the scope's vendor definition.
func (s *Scope) Vendor() *Vendor {
	return s.vendor
}

// Do sends req with the user's bearer token. A token rejection on a retriable call triggers
// one refresh and one replay; a second rejection, or any rejection of a non-retriable call,
// is an OAuth2TokenError. Vendor permission denials are PermissionErrors.
func (s *Scope) Do(ctx context.Context, req transport.Request, opts CallOptions) (*transport.Response, error) {
	tok, err := s.rt.tokens.Get(ctx, s.tenant.ID, s.userID, s.vendor.Name)
	if err != nil {
		if ltierrors.IsCode(err, ltierrors.CodeNotFound) {
			return nil, ltierrors.OAuth2Token("user has not authorized access to "+string(s.vendor.Name), err)
		}
		return nil, err
	}

	if s.rt.proactive && opts.Retriable && tok.RefreshToken != "" && s.rt.tokens.Expired(tok, s.rt.now()) {
		if fresh, err := s.rt.refresh(ctx, s.tenant, s.userID, s.vendor, tok); err == nil {
			tok = fresh
		} else if ltierrors.IsCode(err, ltierrors.CodeOAuth2Token) {
			return nil, err
		}
	}

	resp, err := s.send(ctx, req, tok)
	if err == nil {
		return resp, nil
	}

	switch {
	case errors.Is(err, ErrPermissionDenied):
		return nil, ltierrors.Permission("the LMS denied access to this resource", err)
	case !errors.Is(err, ErrTokenRejected):
		return nil, err
	case !opts.Retriable:
		return nil, ltierrors.OAuth2Token("access token rejected", err)
	}

	fresh, err := s.rt.refresh(ctx, s.tenant, s.userID, s.vendor, tok)
	if err != nil {
		return nil, err
	}

	resp, err = s.send(ctx, req, fresh)
	switch {
	case err == nil:
		return resp, nil
	case errors.Is(err, ErrTokenRejected):
		return nil, ltierrors.OAuth2Token("access token rejected after refresh", err)
	case errors.Is(err, ErrPermissionDenied):
		return nil, ltierrors.Permission("the LMS denied access to this resource", err)
	default:
		return nil, err
	}
}

func (s *Scope) send(ctx context.Context, req transport.Request, tok *domain.OAuth2Token) (*transport.Response, error) {
	header := req.Header.Clone()
	if header == nil {
		header = http.Header{}
	}
	header.Set("Authorization", "Bearer "+tok.AccessToken)
	req.Header = header

	check := req.Check
	req.Check = func(status int, h http.Header, body []byte) error {
		if err := s.vendor.Check(status, h, body); err != nil {
			return err
		}
		if check != nil {
			return check(status, h, body)
		}
		return nil
	}
	return s.rt.client.Do(ctx, req)
}
