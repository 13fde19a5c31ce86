// Package tokens persists OAuth2 access and refresh tokens per (tenant, user, vendor).
package tokens

import (
	"context"
	"time"

	"github.com/tendant/lti-provider/internal/domain"
	"github.com/tendant/lti-provider/internal/store"
)

// MinSkew is the smallest margin by which a token is considered expired early.
const MinSkew = 60 * time.Second

// Store reads and writes OAuth2 tokens.
type Store struct {
	repo store.TokenRepository
	skew time.Duration
	now  func() time.Time
}

// Option configures the Store.
type Option func(*Store)

// WithSkew sets the expiry margin. Values below MinSkew are raised to it.
func WithSkew(d time.Duration) Option {
	return func(s *Store) {
		if d > MinSkew {
			s.skew = d
		}
	}
}

// WithClock sets the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

// New creates a Store over repo.
func New(repo store.TokenRepository, opts ...Option) *Store {
	s := &Store{
		repo: repo,
		skew: MinSkew,
		now:  time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Get returns the stored token or a not_found error.
func (s *Store) Get(ctx context.Context, tenantID, userID string, vendor domain.Vendor) (*domain.OAuth2Token, error) {
	return s.repo.Get(ctx, tenantID, userID, vendor)
}

// Save upserts the token triple and stamps received_at and updated_at with the current
// time. An empty refresh keeps the stored refresh token. It returns the row as stored.
func (s *Store) Save(ctx context.Context, tenantID, userID string, vendor domain.Vendor, access, refresh string, expiresIn int) (*domain.OAuth2Token, error) {
	now := s.now().UTC()
	tok := &domain.OAuth2Token{
		TenantID:     tenantID,
		UserID:       userID,
		Vendor:       vendor,
		AccessToken:  access,
		RefreshToken: refresh,
		ExpiresIn:    expiresIn,
		ReceivedAt:   now,
		UpdatedAt:    now,
	}
	if err := s.repo.Upsert(ctx, tok); err != nil {
		return nil, err
	}
	return s.repo.Get(ctx, tenantID, userID, vendor)
}

// Expired reports whether now >= received_at + expires_in - skew. Tokens without a known
// lifetime never expire here; the vendor's 401 decides.
func (s *Store) Expired(tok *domain.OAuth2Token, now time.Time) bool {
	if tok.ExpiresIn <= 0 {
		return false
	}
	deadline := tok.ReceivedAt.Add(time.Duration(tok.ExpiresIn)*time.Second - s.skew)
	return !now.Before(deadline)
}

// Skew returns the configured expiry margin.
func (s *Store) Skew() time.Duration {
	return s.skew
}
