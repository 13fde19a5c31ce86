// Package store defines repository interfaces for persistence.
package store

import (
	"context"

	"github.com/tendant/lti-provider/internal/crypto"
	"github.com/tendant/lti-provider/internal/domain"
)

// TenantRepository defines operations for tenant (application instance) persistence.
type TenantRepository interface {
	Create(ctx context.Context, tenant *domain.Tenant) error
	GetByID(ctx context.Context, id string) (*domain.Tenant, error)
	GetByConsumerKey(ctx context.Context, consumerKey string) (*domain.Tenant, error)
	GetByDeployment(ctx context.Context, registrationID, deploymentID string) (*domain.Tenant, error)
	Update(ctx context.Context, tenant *domain.Tenant) error
	List(ctx context.Context) ([]*domain.Tenant, error)
}

// RegistrationRepository defines operations for LTI 1.3 platform registrations.
type RegistrationRepository interface {
	Create(ctx context.Context, reg *domain.Registration) error
	GetByID(ctx context.Context, id string) (*domain.Registration, error)
	GetByIssuerClient(ctx context.Context, issuer, clientID string) (*domain.Registration, error)
	List(ctx context.Context) ([]*domain.Registration, error)
}

// TokenRepository defines operations for OAuth2 token persistence. There is at most one
// row per (tenant, user, vendor).
type TokenRepository interface {
	Get(ctx context.Context, tenantID, userID string, vendor domain.Vendor) (*domain.OAuth2Token, error)
	// Upsert writes the whole row in one statement. An empty RefreshToken keeps the
	// stored one.
	Upsert(ctx context.Context, token *domain.OAuth2Token) error
	Delete(ctx context.Context, tenantID, userID string, vendor domain.Vendor) error
}

// RoleOverrideRepository defines operations for per-tenant role overrides.
type RoleOverrideRepository interface {
	Set(ctx context.Context, override *domain.RoleOverride) error
	ListByTenant(ctx context.Context, tenantID string) ([]*domain.RoleOverride, error)
	Delete(ctx context.Context, tenantID, value string, scope domain.RoleScope) error
}

// Store aggregates all repositories.
type Store interface {
	Tenants() TenantRepository
	Registrations() RegistrationRepository
	Tokens() TokenRepository
	RoleOverrides() RoleOverrideRepository
	SigningKeys() crypto.KeyRepository
	Ping(ctx context.Context) error
	Close() error
}
