package crypto

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	ltierrors "github.com/tendant/lti-provider/internal/errors"
)

// KeyRepository defines storage operations for the tool's signing keys.
type KeyRepository interface {
	GetByID(ctx context.Context, kid string) (*KeyPair, error)
	GetActive(ctx context.Context) (*KeyPair, error)
	GetAll(ctx context.Context) ([]*KeyPair, error)
	Save(ctx context.Context, keyPair *KeyPair) error
	Delete(ctx context.Context, kid string) error
}

// KeyService manages the tool's RS256 key set.
type KeyService struct {
	repo    KeyRepository
	logger  *slog.Logger
	overlap time.Duration
	now     func() time.Time
	mu      sync.RWMutex
}

// KeyServiceOption configures the KeyService.
type KeyServiceOption func(*KeyService)

// WithKeyLogger sets the logger.
func WithKeyLogger(logger *slog.Logger) KeyServiceOption {
	return func(s *KeyService) {
		s.logger = logger
	}
}

// WithRotationOverlap sets how long a rotated-out key stays published.
func WithRotationOverlap(d time.Duration) KeyServiceOption {
	return func(s *KeyService) {
		s.overlap = d
	}
}

// NewKeyService creates a new KeyService.
func NewKeyService(repo KeyRepository, opts ...KeyServiceOption) *KeyService {
	s := &KeyService{
		repo:    repo,
		logger:  slog.Default(),
		overlap: 48 * time.Hour,
		now:     time.Now,
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// EnsureActiveKey returns the active signing key, generating one if there is none.
func (s *KeyService) EnsureActiveKey(ctx context.Context) (*KeyPair, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key, err := s.repo.GetActive(ctx)
	if err == nil && key != nil {
		return loaded(key)
	}
	if err != nil && !ltierrors.IsCode(err, ltierrors.CodeNotFound) {
		return nil, fmt.Errorf("failed to read active key: %w", err)
	}

	key, err = GenerateKeyPair(DefaultKeySize)
	if err != nil {
		return nil, fmt.Errorf("failed to generate key: %w", err)
	}
	if err := s.repo.Save(ctx, key); err != nil {
		return nil, fmt.Errorf("failed to save key: %w", err)
	}

	s.logger.Info("generated signing key", "kid", key.Kid)
	return key, nil
}

// GetActiveKey returns the current active signing key.
func (s *KeyService) GetActiveKey(ctx context.Context) (*KeyPair, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	key, err := s.repo.GetActive(ctx)
	if err != nil {
		return nil, err
	}
	return loaded(key)
}

// GetKeyByID returns a published key by kid. Retired keys are reported as not found.
func (s *KeyService) GetKeyByID(ctx context.Context, kid string) (*KeyPair, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	key, err := s.repo.GetByID(ctx, kid)
	if err != nil {
		return nil, err
	}
	if key.Retired(s.now()) {
		return nil, ltierrors.NotFound("signing key", kid)
	}
	return loaded(key)
}

// GetJWKS returns every key that is not yet retired.
func (s *KeyService) GetJWKS(ctx context.Context) (*JWKS, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	keys, err := s.repo.GetAll(ctx)
	if err != nil {
		return nil, err
	}

	now := s.now()
	jwks := &JWKS{Keys: make([]JWK, 0, len(keys))}
	for _, key := range keys {
		if key.Retired(now) {
			continue
		}
		if key.PublicKey == nil {
			if err := key.LoadFromPEM(); err != nil {
				s.logger.Warn("skipping unreadable signing key", "kid", key.Kid, "error", err)
				continue
			}
		}
		jwks.Keys = append(jwks.Keys, key.ToJWK())
	}

	return jwks, nil
}

// RotateKey generates a new active key. The previous key stays published for the
// configured overlap so tokens it signed remain verifiable.
func (s *KeyService) RotateKey(ctx context.Context) (*KeyPair, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	oldKey, err := s.repo.GetActive(ctx)
	if err == nil && oldKey != nil {
		oldKey.Active = false
		oldKey.RetiresAt = s.now().Add(s.overlap)
		if err := s.repo.Save(ctx, oldKey); err != nil {
			return nil, fmt.Errorf("failed to update old key: %w", err)
		}
	}

	newKey, err := GenerateKeyPair(DefaultKeySize)
	if err != nil {
		return nil, fmt.Errorf("failed to generate key: %w", err)
	}
	if err := s.repo.Save(ctx, newKey); err != nil {
		return nil, fmt.Errorf("failed to save key: %w", err)
	}

	s.logger.Info("rotated signing key", "kid", newKey.Kid)
	return newKey, nil
}

// CleanupRetiredKeys deletes keys whose overlap window has passed.
func (s *KeyService) CleanupRetiredKeys(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	keys, err := s.repo.GetAll(ctx)
	if err != nil {
		return 0, err
	}

	now := s.now()
	removed := 0
	for _, key := range keys {
		if key.Active || !key.Retired(now) {
			continue
		}
		if err := s.repo.Delete(ctx, key.Kid); err != nil {
			return removed, fmt.Errorf("failed to delete retired key %s: %w", key.Kid, err)
		}
		removed++
	}

	return removed, nil
}

func loaded(key *KeyPair) (*KeyPair, error) {
	if key.PrivateKey == nil {
		if err := key.LoadFromPEM(); err != nil {
			return nil, fmt.Errorf("failed to load key from PEM: %w", err)
		}
	}
	return key, nil
}

// RotateIfOlder rotates the active key once it is older than maxAge and then drops keys
// whose overlap has passed. It reports whether a rotation happened.
func (s *KeyService) RotateIfOlder(ctx context.Context, maxAge time.Duration) (bool, error) {
	active, err := s.EnsureActiveKey(ctx)
	if err != nil {
		return false, err
	}

	rotated := false
	if maxAge > 0 && s.now().Sub(active.CreatedAt) >= maxAge {
		if _, err := s.RotateKey(ctx); err != nil {
			return false, err
		}
		rotated = true
	}

	removed, err := s.CleanupRetiredKeys(ctx)
	if err != nil {
		return rotated, err
	}
	if removed > 0 {
		s.logger.Info("removed retired signing keys", "count", removed)
	}
	return rotated, nil
}
