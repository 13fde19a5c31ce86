package auth

import (
	"context"
	"crypto/subtle"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/sessions"

	"github.com/tendant/lti-provider/internal/cache"
	ltierrors "github.com/tendant/lti-provider/internal/errors"
)

const (
	// CSRFSessionName is the name of the cookie session holding the OAuth2 CSRF nonce.
	CSRFSessionName = "lti_session"
	csrfSessionKey  = "oauth2_csrf"
	csrfReplayKind  = "oauth2_csrf"
)

// CSRFStore keeps the CSRF nonce of a pending OAuth2 authorization in a signed cookie
// session and consumes it on callback. A consumed nonce is also recorded in the replay
// cache, so a browser replaying an old cookie is rejected as well.
type CSRFStore struct {
	store  *sessions.CookieStore
	replay cache.ReplayCache
	ttl    time.Duration
}

// NewCSRFStore creates a CSRFStore. secret is SESSION_COOKIE_SECRET.
func NewCSRFStore(secret string, secure bool, replay cache.ReplayCache, ttl time.Duration) *CSRFStore {
	if ttl <= 0 {
		ttl = DefaultStateTTL
	}
	store := sessions.NewCookieStore([]byte(secret))
	store.Options = &sessions.Options{
		Path:     "/",
		MaxAge:   int(ttl.Seconds()),
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
	}
	return &CSRFStore{store: store, replay: replay, ttl: ttl}
}

// Store saves csrf in the session cookie, replacing any pending nonce.
func (c *CSRFStore) Store(w http.ResponseWriter, r *http.Request, csrf string) error {
	// A cookie that fails to decode is replaced rather than rejected.
	sess, _ := c.store.Get(r, CSRFSessionName)
	sess.Values[csrfSessionKey] = csrf
	if err := sess.Save(r, w); err != nil {
		return fmt.Errorf("failed to save session: %w", err)
	}
	return nil
}

// Consume checks that csrf matches the nonce in the session cookie and marks it used. It
// fails with invalid_state_param when the nonce is absent, different or already consumed.
func (c *CSRFStore) Consume(ctx context.Context, w http.ResponseWriter, r *http.Request, csrf string) error {
	sess, err := c.store.Get(r, CSRFSessionName)
	if err != nil {
		return ltierrors.Wrap(err, ltierrors.CodeInvalidStateParam, "session cookie is invalid")
	}

	stored, _ := sess.Values[csrfSessionKey].(string)
	if stored == "" || csrf == "" {
		return ltierrors.New(ltierrors.CodeInvalidStateParam, "no pending authorization in session")
	}
	if subtle.ConstantTimeCompare([]byte(stored), []byte(csrf)) != 1 {
		return ltierrors.New(ltierrors.CodeInvalidStateParam, "state does not match session")
	}

	delete(sess.Values, csrfSessionKey)
	if err := sess.Save(r, w); err != nil {
		return fmt.Errorf("failed to save session: %w", err)
	}

	fresh, err := c.replay.Use(ctx, csrfReplayKind, csrf, c.ttl)
	if err != nil {
		return fmt.Errorf("failed to record state nonce: %w", err)
	}
	if !fresh {
		return ltierrors.New(ltierrors.CodeInvalidStateParam, "state has already been used")
	}
	return nil
}
