// Package launch authenticates LTI 1.1 and LTI 1.3 launches and normalizes them to an LTIUser.
package launch

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/tendant/lti-provider/internal/cache"
	"github.com/tendant/lti-provider/internal/crypto"
	"github.com/tendant/lti-provider/internal/domain"
	ltierrors "github.com/tendant/lti-provider/internal/errors"
	"github.com/tendant/lti-provider/internal/metrics"
	"github.com/tendant/lti-provider/internal/store"
)

// Defaults for launch verification.
const (
	DefaultTimestampWindow = 5 * time.Minute
	DefaultNonceTTL        = 5 * time.Minute
	// DefaultIDTokenNonceTTL covers the longest id_token lifetime platforms issue.
	DefaultIDTokenNonceTTL = time.Hour
	DefaultLoginStateTTL   = 10 * time.Minute
)

// LTI versions as reported in metrics and results.
const (
	VersionLTI11 = "1.1"
	VersionLTI13 = "1.3"
)

// Result is a verified launch.
type Result struct {
	Version string
	Tenant  *domain.Tenant
	// Registration is set for LTI 1.3 launches.
	Registration *domain.Registration
	Params       Params
	User         *domain.LTIUser
}

// DeepLinking reports whether the launch asks the tool to pick content.
func (r *Result) DeepLinking() bool {
	switch r.Params.Get("lti_message_type") {
	case MessageDeepLinking, MessageContentItem:
		return true
	}
	return false
}

// Authenticator verifies launches.
type Authenticator struct {
	tenants       store.TenantRepository
	registrations store.RegistrationRepository
	overrides     store.RoleOverrideRepository
	replay        cache.ReplayCache
	oauth1        *crypto.OAuth1Signer
	platforms     *crypto.PlatformVerifier
	tokens        *crypto.TokenGenerator

	loginSecret     []byte
	loginStateTTL   time.Duration
	timestampWindow time.Duration
	nonceTTL        time.Duration
	idTokenNonceTTL time.Duration
	leeway          time.Duration

	logger *slog.Logger
	now    func() time.Time
}

// Option configures the Authenticator.
type Option func(*Authenticator)

// WithTokenGenerator sets the signer for deep-linking responses.
func WithTokenGenerator(g *crypto.TokenGenerator) Option {
	return func(a *Authenticator) {
		a.tokens = g
	}
}

// WithLoginSecret sets the HMAC secret for OIDC login state.
func WithLoginSecret(secret string) Option {
	return func(a *Authenticator) {
		a.loginSecret = []byte(secret)
	}
}

// WithTimestampWindow sets the accepted oauth_timestamp skew.
func WithTimestampWindow(d time.Duration) Option {
	return func(a *Authenticator) {
		if d > 0 {
			a.timestampWindow = d
		}
	}
}

// WithNonceTTL sets how long LTI 1.1 nonces are remembered.
func WithNonceTTL(d time.Duration) Option {
	return func(a *Authenticator) {
		if d > 0 {
			a.nonceTTL = d
		}
	}
}

// WithLeeway sets the clock skew allowed on id_token timestamps.
func WithLeeway(d time.Duration) Option {
	return func(a *Authenticator) {
		a.leeway = d
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(a *Authenticator) {
		a.logger = logger
	}
}

// WithClock sets the time source.
func WithClock(now func() time.Time) Option {
	return func(a *Authenticator) {
		a.now = now
	}
}

// New creates an Authenticator. platforms may be nil when LTI 1.3 is not served.
func New(st store.Store, replay cache.ReplayCache, platforms *crypto.PlatformVerifier, opts ...Option) *Authenticator {
	a := &Authenticator{
		tenants:         st.Tenants(),
		registrations:   st.Registrations(),
		overrides:       st.RoleOverrides(),
		replay:          replay,
		oauth1:          crypto.NewOAuth1Signer(),
		platforms:       platforms,
		loginStateTTL:   DefaultLoginStateTTL,
		timestampWindow: DefaultTimestampWindow,
		nonceTTL:        DefaultNonceTTL,
		idTokenNonceTTL: DefaultIDTokenNonceTTL,
		logger:          slog.Default(),
		now:             time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// finish turns normalized params into the launch result.
func (a *Authenticator) finish(ctx context.Context, version string, tenant *domain.Tenant, reg *domain.Registration, params Params) (*Result, error) {
	overrides, err := a.overrides.ListByTenant(ctx, tenant.ID)
	if err != nil {
		return nil, ltierrors.Internal("cannot load role overrides", err)
	}
	roles := ApplyOverrides(ParseRoles(params.Get("roles")), overrides)
	class := Classify(roles)

	user := &domain.LTIUser{
		UserID:                   params.Get("user_id"),
		TenantID:                 tenant.ID,
		Roles:                    params.Get("roles"),
		GivenName:                params.Get("lis_person_name_given"),
		FamilyName:               params.Get("lis_person_name_family"),
		DisplayName:              displayName(params),
		Email:                    params.Get("lis_person_contact_email_primary"),
		ToolConsumerInstanceGUID: params.Get("tool_consumer_instance_guid"),
		IsInstructor:             class.IsInstructor,
		IsLearner:                class.IsLearner,
		IsAdmin:                  class.IsAdmin,
	}

	a.backfillTenant(ctx, tenant, params)

	a.logger.Info("launch verified",
		"version", version,
		"tenant_id", tenant.ID,
		"message_type", params.Get("lti_message_type"),
		"instructor", user.IsInstructor)
	metrics.RecordLaunch(version, "ok")

	return &Result{Version: version, Tenant: tenant, Registration: reg, Params: params, User: user}, nil
}

func displayName(p Params) string {
	if full := strings.TrimSpace(p.Get("lis_person_name_full")); full != "" {
		return full
	}
	return strings.TrimSpace(p.Get("lis_person_name_given") + " " + p.Get("lis_person_name_family"))
}

// backfillTenant records the consumer's GUID and product family the first time they are seen.
func (a *Authenticator) backfillTenant(ctx context.Context, tenant *domain.Tenant, params Params) {
	guid := params.Get("tool_consumer_instance_guid")
	family := params.Get("tool_consumer_info_product_family_code")

	changed := false
	if tenant.ToolConsumerInstanceGUID == "" && guid != "" {
		tenant.ToolConsumerInstanceGUID = guid
		changed = true
	}
	if tenant.ProductFamilyCode == "" && family != "" {
		tenant.ProductFamilyCode = family
		changed = true
	}
	if !changed {
		return
	}
	if err := a.tenants.Update(ctx, tenant); err != nil {
		a.logger.Warn("failed to record tenant metadata", "tenant_id", tenant.ID, "error", err)
	}
}

// fail records the outcome of a rejected launch and returns err unchanged.
func (a *Authenticator) fail(version string, err error) error {
	outcome := ltierrors.Code(err)
	if outcome == "" {
		outcome = ltierrors.CodeInternal
	}
	a.logger.Info("launch rejected", "version", version, "reason", outcome, "error", err)
	metrics.RecordLaunch(version, outcome)
	return err
}

func unknownTenant(err error, message string) error {
	if ltierrors.IsCode(err, ltierrors.CodeNotFound) {
		return ltierrors.Wrap(err, ltierrors.CodeUnknownTenant, message)
	}
	return ltierrors.Internal("tenant lookup failed", err)
}
