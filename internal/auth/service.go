// Package auth issues the short-lived tokens the tool hands to browsers: session bearers for
// frontend API calls and OAuth2 state parameters bound to a cookie CSRF nonce.
package auth

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/tendant/lti-provider/internal/domain"
)

// Service groups the session, state and CSRF services.
type Service struct {
	sessions *SessionTokens
	states   *StateTokens
	csrf     *CSRFStore
	logger   *slog.Logger
}

// ServiceOption configures the Service.
type ServiceOption func(*Service)

// WithLogger sets the logger for the service.
func WithLogger(logger *slog.Logger) ServiceOption {
	return func(s *Service) {
		s.logger = logger
	}
}

// NewService creates a new auth Service.
func NewService(sessions *SessionTokens, states *StateTokens, csrf *CSRFStore, opts ...ServiceOption) *Service {
	s := &Service{
		sessions: sessions,
		states:   states,
		csrf:     csrf,
		logger:   slog.Default(),
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Sessions returns the session token service.
func (s *Service) Sessions() *SessionTokens {
	return s.sessions
}

// States returns the state token service.
func (s *Service) States() *StateTokens {
	return s.states
}

// BeginAuthorization issues a state parameter for user and stores its CSRF nonce in the
// browser session.
func (s *Service) BeginAuthorization(w http.ResponseWriter, r *http.Request, user *domain.LTIUser) (string, error) {
	state, csrf, err := s.states.Issue(user)
	if err != nil {
		return "", err
	}
	if err := s.csrf.Store(w, r, csrf); err != nil {
		return "", err
	}
	return state, nil
}

// FinishAuthorization verifies the state parameter returned by the LMS and consumes the
// matching CSRF nonce. It returns the user that started the authorization.
func (s *Service) FinishAuthorization(ctx context.Context, w http.ResponseWriter, r *http.Request, state string) (*domain.LTIUser, error) {
	st, err := s.states.Verify(state)
	if err != nil {
		s.logger.Warn("rejected oauth2 state", "error", err)
		return nil, err
	}
	if err := s.csrf.Consume(ctx, w, r, st.CSRF); err != nil {
		s.logger.Warn("rejected oauth2 state",
			"user_id", st.User.UserID,
			"tenant_id", st.User.TenantID,
			"error", err,
		)
		return nil, err
	}
	return &st.User, nil
}
