package sqlstore

import (
	"context"
	"fmt"

	"github.com/tendant/lti-provider/internal/domain"
)

type registrationRepository struct {
	store *Store
}

const registrationColumns = `id, issuer, client_id, auth_login_url, token_url, key_set_url, created_at`

func (r *registrationRepository) Create(ctx context.Context, reg *domain.Registration) error {
	if reg.CreatedAt.IsZero() {
		reg.CreatedAt = r.store.now().UTC()
	}
	_, err := r.store.db.ExecContext(ctx, `
		INSERT INTO lti_registrations (`+registrationColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7)`,
		reg.ID, reg.Issuer, reg.ClientID, reg.AuthLoginURL, reg.TokenURL, reg.KeySetURL, toNanos(reg.CreatedAt))
	if err != nil {
		return fmt.Errorf("failed to create registration: %w", err)
	}
	return nil
}

func (r *registrationRepository) GetByID(ctx context.Context, id string) (*domain.Registration, error) {
	row := r.store.db.QueryRowContext(ctx,
		`SELECT `+registrationColumns+` FROM lti_registrations WHERE id=$1`, id)
	reg, err := scanRegistration(row)
	if err != nil {
		return nil, notFound(err, "registration", id)
	}
	return reg, nil
}

func (r *registrationRepository) GetByIssuerClient(ctx context.Context, issuer, clientID string) (*domain.Registration, error) {
	row := r.store.db.QueryRowContext(ctx,
		`SELECT `+registrationColumns+` FROM lti_registrations WHERE issuer=$1 AND client_id=$2`, issuer, clientID)
	reg, err := scanRegistration(row)
	if err != nil {
		return nil, notFound(err, "registration", issuer+" "+clientID)
	}
	return reg, nil
}

func (r *registrationRepository) List(ctx context.Context) ([]*domain.Registration, error) {
	rows, err := r.store.db.QueryContext(ctx,
		`SELECT `+registrationColumns+` FROM lti_registrations ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("failed to list registrations: %w", err)
	}
	defer rows.Close()

	var out []*domain.Registration
	for rows.Next() {
		reg, err := scanRegistration(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan registration: %w", err)
		}
		out = append(out, reg)
	}
	return out, rows.Err()
}

func scanRegistration(row scanner) (*domain.Registration, error) {
	var (
		reg       domain.Registration
		createdAt int64
	)
	if err := row.Scan(&reg.ID, &reg.Issuer, &reg.ClientID, &reg.AuthLoginURL, &reg.TokenURL, &reg.KeySetURL, &createdAt); err != nil {
		return nil, err
	}
	reg.CreatedAt = fromNanos(createdAt)
	return &reg, nil
}
