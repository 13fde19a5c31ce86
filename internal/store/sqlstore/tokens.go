package sqlstore

import (
	"context"
	"fmt"

	"github.com/tendant/lti-provider/internal/domain"
)

type tokenRepository struct {
	store *Store
}

func (r *tokenRepository) Get(ctx context.Context, tenantID, userID string, vendor domain.Vendor) (*domain.OAuth2Token, error) {
	var (
		tok                   domain.OAuth2Token
		receivedAt, updatedAt int64
	)
	err := r.store.db.QueryRowContext(ctx, `
		SELECT tenant_id, user_id, vendor, access_token, refresh_token, expires_in, received_at, updated_at
		FROM oauth2_tokens WHERE tenant_id=$1 AND user_id=$2 AND vendor=$3`,
		tenantID, userID, string(vendor)).
		Scan(&tok.TenantID, &tok.UserID, &tok.Vendor, &tok.AccessToken, &tok.RefreshToken,
			&tok.ExpiresIn, &receivedAt, &updatedAt)
	if err != nil {
		return nil, notFound(err, "oauth2 token", tenantID+"/"+userID+"/"+string(vendor))
	}
	tok.ReceivedAt = fromNanos(receivedAt)
	tok.UpdatedAt = fromNanos(updatedAt)
	return &tok, nil
}

// Upsert replaces the (access, refresh, expires_in, received_at) tuple in a single
// statement, so readers see either the old or the new row.
func (r *tokenRepository) Upsert(ctx context.Context, tok *domain.OAuth2Token) error {
	_, err := r.store.db.ExecContext(ctx, `
		INSERT INTO oauth2_tokens (tenant_id, user_id, vendor, access_token, refresh_token, expires_in, received_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		ON CONFLICT (tenant_id, user_id, vendor)
		DO UPDATE SET
			access_token=EXCLUDED.access_token,
			refresh_token=CASE WHEN EXCLUDED.refresh_token='' THEN oauth2_tokens.refresh_token ELSE EXCLUDED.refresh_token END,
			expires_in=EXCLUDED.expires_in,
			received_at=EXCLUDED.received_at,
			updated_at=EXCLUDED.updated_at`,
		tok.TenantID, tok.UserID, string(tok.Vendor), tok.AccessToken, tok.RefreshToken,
		tok.ExpiresIn, toNanos(tok.ReceivedAt), toNanos(tok.UpdatedAt))
	if err != nil {
		return fmt.Errorf("failed to save oauth2 token: %w", err)
	}
	return nil
}

func (r *tokenRepository) Delete(ctx context.Context, tenantID, userID string, vendor domain.Vendor) error {
	_, err := r.store.db.ExecContext(ctx,
		`DELETE FROM oauth2_tokens WHERE tenant_id=$1 AND user_id=$2 AND vendor=$3`,
		tenantID, userID, string(vendor))
	if err != nil {
		return fmt.Errorf("failed to delete oauth2 token: %w", err)
	}
	return nil
}
