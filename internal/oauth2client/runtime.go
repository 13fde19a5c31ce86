// Package oauth2client runs the OAuth2 authorization-code grant against LMS vendors and
// makes API calls on a user's behalf, refreshing expired access tokens transparently.
package oauth2client

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/sync/singleflight"

	"github.com/tendant/lti-provider/internal/auth"
	"github.com/tendant/lti-provider/internal/cache"
	"github.com/tendant/lti-provider/internal/crypto"
	"github.com/tendant/lti-provider/internal/domain"
	ltierrors "github.com/tendant/lti-provider/internal/errors"
	"github.com/tendant/lti-provider/internal/metrics"
	"github.com/tendant/lti-provider/internal/store"
	"github.com/tendant/lti-provider/internal/tokens"
	"github.com/tendant/lti-provider/internal/transport"
)

const (
	// DefaultLockTimeout bounds how long a refresh waits for another holder.
	DefaultLockTimeout = 10 * time.Second

	// failureMemoTTL is how long a failed refresh is remembered for one token version.
	failureMemoTTL = 30 * time.Second
)

// tokenSchema is the shared shape of token endpoint responses.
var tokenSchema = transport.MustJSONSchema(`{
	"type": "object",
	"required": ["access_token"],
	"properties": {
		"access_token": {"type": "string", "minLength": 1},
		"refresh_token": {"type": "string"},
		"expires_in": {"type": "integer", "minimum": 1}
	}
}`)

// Credentials are the OAuth2 client id and secret used with one vendor.
type Credentials struct {
	ClientID     string
	ClientSecret string
}

// Runtime runs OAuth2 flows for every tenant and vendor.
type Runtime struct {
	client    *transport.Client
	tokens    *tokens.Store
	tenants   store.TenantRepository
	auth      *auth.Service
	locker    cache.Locker
	secrets   *crypto.SecretBox
	vendors   map[domain.Vendor]*Vendor
	static    map[domain.Vendor]Credentials
	publicURL string

	lockTimeout time.Duration
	proactive   bool
	logger      *slog.Logger
	now         func() time.Time

	flights  singleflight.Group
	mu       sync.Mutex
	failures map[string]refreshFailure
}

// refreshFailure remembers that refreshing one token version failed.
type refreshFailure struct {
	version string
	err     error
	until   time.Time
}

// Option configures the Runtime.
type Option func(*Runtime)

// WithLocker sets the cross-process refresh lock.
func WithLocker(l cache.Locker) Option {
	return func(rt *Runtime) {
		rt.locker = l
	}
}

// WithLockTimeout bounds the wait for the refresh lock.
func WithLockTimeout(d time.Duration) Option {
	return func(rt *Runtime) {
		if d > 0 {
			rt.lockTimeout = d
		}
	}
}

// WithSecretBox decrypts tenant developer secrets.
func WithSecretBox(b *crypto.SecretBox) Option {
	return func(rt *Runtime) {
		rt.secrets = b
	}
}

// WithVendor registers or replaces a vendor definition.
func WithVendor(v *Vendor) Option {
	return func(rt *Runtime) {
		rt.vendors[v.Name] = v
	}
}

// WithStaticCredentials uses app-wide client credentials for vendor instead of the
// tenant's developer key.
func WithStaticCredentials(vendor domain.Vendor, creds Credentials) Option {
	return func(rt *Runtime) {
		if creds.ClientID != "" {
			rt.static[vendor] = creds
		}
	}
}

// WithProactiveRefresh refreshes tokens that are already past their expiry before the
// first attempt of a retriable call.
func WithProactiveRefresh(enabled bool) Option {
	return func(rt *Runtime) {
		rt.proactive = enabled
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(rt *Runtime) {
		rt.logger = logger
	}
}

// WithClock sets the time source.
func WithClock(now func() time.Time) Option {
	return func(rt *Runtime) {
		rt.now = now
	}
}

// New creates a Runtime. publicURL is the tool's external base URL, used for redirect URIs.
func New(client *transport.Client, tokenStore *tokens.Store, tenants store.TenantRepository, authSvc *auth.Service, publicURL string, opts ...Option) *Runtime {
	rt := &Runtime{
		client:      client,
		tokens:      tokenStore,
		tenants:     tenants,
		auth:        authSvc,
		locker:      cache.NewLocalLocker(),
		vendors:     DefaultVendors(),
		static:      make(map[domain.Vendor]Credentials),
		publicURL:   strings.TrimRight(publicURL, "/"),
		lockTimeout: DefaultLockTimeout,
		logger:      slog.Default(),
		now:         time.Now,
		failures:    make(map[string]refreshFailure),
	}
	for _, opt := range opts {
		opt(rt)
	}
	return rt
}

// Vendor returns the definition for name.
func (rt *Runtime) Vendor(name domain.Vendor) (*Vendor, error) {
	v, ok := rt.vendors[name]
	if !ok {
		return nil, ltierrors.NotFound("vendor", string(name))
	}
	return v, nil
}

func (rt *Runtime) oauth2Vendor(name domain.Vendor) (*Vendor, error) {
	v, err := rt.Vendor(name)
	if err != nil {
		return nil, err
	}
	if !v.UsesOAuth2() {
		return nil, ltierrors.InvalidInput(fmt.Sprintf("%s does not use OAuth2", name))
	}
	return v, nil
}

// RedirectURI is the callback URL registered with the vendor.
func (rt *Runtime) RedirectURI(vendor domain.Vendor) string {
	return rt.publicURL + "/api/" + string(vendor) + "/oauth/callback"
}

func (rt *Runtime) credentials(tenant *domain.Tenant, v *Vendor) (Credentials, error) {
	if creds, ok := rt.static[v.Name]; ok {
		return creds, nil
	}
	if tenant.DeveloperKey == "" {
		return Credentials{}, ltierrors.InvalidInput(fmt.Sprintf("tenant %s has no %s developer key", tenant.ID, v.Name))
	}
	secret := tenant.DeveloperSecret
	if rt.secrets != nil && secret != "" {
		plain, err := rt.secrets.Decrypt(secret)
		if err != nil {
			return Credentials{}, ltierrors.Internal("cannot decrypt developer secret", err)
		}
		secret = plain
	}
	return Credentials{ClientID: tenant.DeveloperKey, ClientSecret: secret}, nil
}

func (rt *Runtime) config(tenant *domain.Tenant, v *Vendor) (*oauth2.Config, error) {
	creds, err := rt.credentials(tenant, v)
	if err != nil {
		return nil, err
	}
	return &oauth2.Config{
		ClientID:     creds.ClientID,
		ClientSecret: creds.ClientSecret,
		RedirectURL:  rt.RedirectURI(v.Name),
		Scopes:       v.Scopes,
		Endpoint: oauth2.Endpoint{
			AuthURL:   v.endpoint(tenant, v.AuthorizeURL),
			TokenURL:  v.endpoint(tenant, v.TokenURL),
			AuthStyle: oauth2.AuthStyleInHeader,
		},
	}, nil
}

// AuthorizeURL starts the authorization-code grant for user: it issues the state parameter,
// stores its CSRF nonce in the browser session and returns the vendor URL to redirect to.
func (rt *Runtime) AuthorizeURL(ctx context.Context, w http.ResponseWriter, r *http.Request, vendor domain.Vendor, tenant *domain.Tenant, user *domain.LTIUser) (string, error) {
	v, err := rt.oauth2Vendor(vendor)
	if err != nil {
		return "", err
	}
	cfg, err := rt.config(tenant, v)
	if err != nil {
		return "", err
	}
	state, err := rt.auth.BeginAuthorization(w, r, user)
	if err != nil {
		return "", err
	}
	return cfg.AuthCodeURL(state), nil
}

// Callback completes the grant: it verifies state and its CSRF nonce, exchanges the code and
// stores the tokens. It returns the user that started the authorization.
func (rt *Runtime) Callback(ctx context.Context, w http.ResponseWriter, r *http.Request, vendor domain.Vendor) (*domain.LTIUser, error) {
	v, err := rt.oauth2Vendor(vendor)
	if err != nil {
		return nil, err
	}

	q := r.URL.Query()
	user, err := rt.auth.FinishAuthorization(ctx, w, r, q.Get("state"))
	if err != nil {
		return nil, err
	}
	if denied := q.Get("error"); denied != "" {
		metrics.RecordCodeExchange(string(vendor), false)
		return nil, ltierrors.OAuth2Token(fmt.Sprintf("authorization was not granted: %s", denied), nil)
	}
	code := q.Get("code")
	if code == "" {
		return nil, ltierrors.InvalidInput("missing authorization code")
	}

	tenant, err := rt.tenants.GetByID(ctx, user.TenantID)
	if err != nil {
		return nil, err
	}
	if err := rt.exchange(ctx, v, tenant, user.UserID, code); err != nil {
		metrics.RecordCodeExchange(string(vendor), false)
		return nil, err
	}
	metrics.RecordCodeExchange(string(vendor), true)
	return user, nil
}

func (rt *Runtime) exchange(ctx context.Context, v *Vendor, tenant *domain.Tenant, userID, code string) error {
	cfg, err := rt.config(tenant, v)
	if err != nil {
		return err
	}

	resp, err := rt.client.Do(ctx, transport.Request{
		Method: http.MethodPost,
		URL:    cfg.Endpoint.TokenURL,
		Form: url.Values{
			"grant_type":   {"authorization_code"},
			"code":         {code},
			"redirect_uri": {cfg.RedirectURL},
		},
		BasicAuth: &transport.BasicAuth{Username: cfg.ClientID, Password: cfg.ClientSecret},
		Schema:    tokenSchema,
	})
	if err != nil {
		return tokenEndpointError("authorization code exchange failed", err)
	}

	_, err = rt.saveResponse(ctx, tenant.ID, userID, v.Name, resp)
	return err
}

// Scope binds (tenant, user, vendor) for API calls made on the user's behalf.
func (rt *Runtime) Scope(tenant *domain.Tenant, userID string, vendor domain.Vendor) (*Scope, error) {
	v, err := rt.Vendor(vendor)
	if err != nil {
		return nil, err
	}
	return &Scope{rt: rt, tenant: tenant, userID: userID, vendor: v}, nil
}

// refresh returns a token newer than failed. Concurrent callers for the same
// (tenant, user, vendor) share one flight; across processes the locker serializes them.
func (rt *Runtime) refresh(ctx context.Context, tenant *domain.Tenant, userID string, v *Vendor, failed *domain.OAuth2Token) (*domain.OAuth2Token, error) {
	key := lockKey(tenant.ID, userID, v.Name)

	// The flight outlives any single caller; it is bounded by the lock wait and the
	// transport timeout instead.
	flightCtx := context.WithoutCancel(ctx)
	result, err, shared := rt.flights.Do(key, func() (any, error) {
		return rt.refreshLocked(flightCtx, key, tenant, userID, v, failed)
	})
	if shared {
		rt.logger.Debug("joined in-flight token refresh", "tenant_id", tenant.ID, "vendor", v.Name)
	}
	if err != nil {
		return nil, err
	}
	return result.(*domain.OAuth2Token), nil
}

func (rt *Runtime) refreshLocked(ctx context.Context, key string, tenant *domain.Tenant, userID string, v *Vendor, failed *domain.OAuth2Token) (*domain.OAuth2Token, error) {
	if err := rt.memoizedFailure(key, failed); err != nil {
		return nil, err
	}

	lockCtx, cancel := context.WithTimeout(ctx, rt.lockTimeout)
	unlock, err := rt.locker.Lock(lockCtx, key)
	cancel()
	if err != nil {
		metrics.RecordRefresh(string(v.Name), "lock_timeout")
		return nil, fmt.Errorf("failed to acquire refresh lock: %w", err)
	}
	defer unlock()

	current, err := rt.tokens.Get(ctx, tenant.ID, userID, v.Name)
	if err != nil {
		if ltierrors.IsCode(err, ltierrors.CodeNotFound) {
			return nil, ltierrors.OAuth2Token("no stored token to refresh", err)
		}
		return nil, err
	}
	if version(current) != version(failed) {
		metrics.RecordRefresh(string(v.Name), "skipped")
		rt.logger.Debug("token already refreshed by another holder", "tenant_id", tenant.ID, "vendor", v.Name)
		return current, nil
	}
	if current.RefreshToken == "" {
		metrics.RecordRefresh(string(v.Name), "failed")
		return nil, ltierrors.OAuth2Token("no refresh token stored", nil)
	}

	cfg, err := rt.config(tenant, v)
	if err != nil {
		return nil, err
	}
	resp, err := rt.client.Do(ctx, transport.Request{
		Method: http.MethodPost,
		URL:    cfg.Endpoint.TokenURL,
		Form: url.Values{
			"grant_type":    {"refresh_token"},
			"refresh_token": {current.RefreshToken},
		},
		BasicAuth: &transport.BasicAuth{Username: cfg.ClientID, Password: cfg.ClientSecret},
		Schema:    tokenSchema,
	})
	if err != nil {
		metrics.RecordRefresh(string(v.Name), "failed")
		err = tokenEndpointError("token refresh failed", err)
		if ltierrors.IsCode(err, ltierrors.CodeOAuth2Token) {
			rt.rememberFailure(key, current, err)
		}
		rt.logger.Warn("token refresh failed", "tenant_id", tenant.ID, "vendor", v.Name, "error", err)
		return nil, err
	}

	tok, err := rt.saveResponse(ctx, tenant.ID, userID, v.Name, resp)
	if err != nil {
		return nil, err
	}
	metrics.RecordRefresh(string(v.Name), "ok")
	rt.logger.Info("refreshed access token", "tenant_id", tenant.ID, "vendor", v.Name)
	return tok, nil
}

func (rt *Runtime) saveResponse(ctx context.Context, tenantID, userID string, vendor domain.Vendor, resp *transport.Response) (*domain.OAuth2Token, error) {
	return rt.tokens.Save(ctx, tenantID, userID, vendor,
		resp.Get("access_token").String(),
		resp.Get("refresh_token").String(),
		int(resp.Get("expires_in").Int()),
	)
}

func (rt *Runtime) memoizedFailure(key string, failed *domain.OAuth2Token) error {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	f, ok := rt.failures[key]
	if !ok {
		return nil
	}
	if f.version != version(failed) || !rt.now().Before(f.until) {
		delete(rt.failures, key)
		return nil
	}
	return f.err
}

func (rt *Runtime) rememberFailure(key string, tok *domain.OAuth2Token, err error) {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	rt.failures[key] = refreshFailure{
		version: version(tok),
		err:     err,
		until:   rt.now().Add(failureMemoTTL),
	}
}

// tokenEndpointError turns a token endpoint failure into an OAuth2TokenError when the
// endpoint rejected the grant. Network errors and 5xx answers pass through.
func tokenEndpointError(msg string, err error) error {
	ext, ok := transport.AsExternal(err)
	if !ok {
		return err
	}
	switch {
	case ext.Kind == transport.KindValidation:
		return ltierrors.OAuth2Token(msg+": malformed token response", err)
	case ext.Kind == transport.KindHTTP && ext.Status >= 400 && ext.Status < 500:
		return ltierrors.OAuth2Token(msg, err)
	default:
		return err
	}
}

func lockKey(tenantID, userID string, vendor domain.Vendor) string {
	return "oauth2_refresh:" + tenantID + "|" + userID + "|" + string(vendor)
}

// version identifies one stored token generation.
func version(tok *domain.OAuth2Token) string {
	return fmt.Sprintf("%d|%s", tok.UpdatedAt.UnixNano(), tok.AccessToken)
}
