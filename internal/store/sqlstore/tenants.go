package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/tendant/lti-provider/internal/domain"
)

type tenantRepository struct {
	store *Store
}

const tenantColumns = `id, consumer_key, shared_secret, lms_url, developer_key, developer_secret,
	registration_id, deployment_id, tool_consumer_instance_guid, product_family_code,
	settings_json, created_at, updated_at`

func (r *tenantRepository) Create(ctx context.Context, t *domain.Tenant) error {
	now := r.store.now().UTC()
	if t.CreatedAt.IsZero() {
		t.CreatedAt = now
	}
	t.UpdatedAt = now

	settings, err := marshalSettings(t.Settings)
	if err != nil {
		return err
	}

	_, err = r.store.db.ExecContext(ctx, `
		INSERT INTO application_instances (`+tenantColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)`,
		t.ID, nullable(t.ConsumerKey), t.SharedSecret, t.LMSURL, t.DeveloperKey, t.DeveloperSecret,
		nullable(t.RegistrationID), nullable(t.DeploymentID), t.ToolConsumerInstanceGUID, t.ProductFamilyCode,
		settings, toNanos(t.CreatedAt), toNanos(t.UpdatedAt))
	if err != nil {
		return fmt.Errorf("failed to create tenant: %w", err)
	}
	return nil
}

func (r *tenantRepository) GetByID(ctx context.Context, id string) (*domain.Tenant, error) {
	row := r.store.db.QueryRowContext(ctx,
		`SELECT `+tenantColumns+` FROM application_instances WHERE id=$1`, id)
	t, err := scanTenant(row)
	if err != nil {
		return nil, notFound(err, "tenant", id)
	}
	return t, nil
}

func (r *tenantRepository) GetByConsumerKey(ctx context.Context, consumerKey string) (*domain.Tenant, error) {
	row := r.store.db.QueryRowContext(ctx,
		`SELECT `+tenantColumns+` FROM application_instances WHERE consumer_key=$1`, consumerKey)
	t, err := scanTenant(row)
	if err != nil {
		return nil, notFound(err, "tenant", consumerKey)
	}
	return t, nil
}

func (r *tenantRepository) GetByDeployment(ctx context.Context, registrationID, deploymentID string) (*domain.Tenant, error) {
	row := r.store.db.QueryRowContext(ctx,
		`SELECT `+tenantColumns+` FROM application_instances WHERE registration_id=$1 AND deployment_id=$2`,
		registrationID, deploymentID)
	t, err := scanTenant(row)
	if err != nil {
		return nil, notFound(err, "tenant", registrationID+"/"+deploymentID)
	}
	return t, nil
}

func (r *tenantRepository) Update(ctx context.Context, t *domain.Tenant) error {
	t.UpdatedAt = r.store.now().UTC()

	settings, err := marshalSettings(t.Settings)
	if err != nil {
		return err
	}

	res, err := r.store.db.ExecContext(ctx, `
		UPDATE application_instances SET
			consumer_key=$2, shared_secret=$3, lms_url=$4, developer_key=$5, developer_secret=$6,
			registration_id=$7, deployment_id=$8, tool_consumer_instance_guid=$9,
			product_family_code=$10, settings_json=$11, updated_at=$12
		WHERE id=$1`,
		t.ID, nullable(t.ConsumerKey), t.SharedSecret, t.LMSURL, t.DeveloperKey, t.DeveloperSecret,
		nullable(t.RegistrationID), nullable(t.DeploymentID), t.ToolConsumerInstanceGUID,
		t.ProductFamilyCode, settings, toNanos(t.UpdatedAt))
	if err != nil {
		return fmt.Errorf("failed to update tenant: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return notFound(sql.ErrNoRows, "tenant", t.ID)
	}
	return nil
}

func (r *tenantRepository) List(ctx context.Context) ([]*domain.Tenant, error) {
	rows, err := r.store.db.QueryContext(ctx,
		`SELECT `+tenantColumns+` FROM application_instances ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("failed to list tenants: %w", err)
	}
	defer rows.Close()

	var out []*domain.Tenant
	for rows.Next() {
		t, err := scanTenant(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan tenant: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanTenant(row scanner) (*domain.Tenant, error) {
	var (
		t                                       domain.Tenant
		consumerKey, registrationID, deployment sql.NullString
		settings                                string
		createdAt, updatedAt                    int64
	)
	err := row.Scan(&t.ID, &consumerKey, &t.SharedSecret, &t.LMSURL, &t.DeveloperKey, &t.DeveloperSecret,
		&registrationID, &deployment, &t.ToolConsumerInstanceGUID, &t.ProductFamilyCode,
		&settings, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}
	t.ConsumerKey = consumerKey.String
	t.RegistrationID = registrationID.String
	t.DeploymentID = deployment.String
	t.CreatedAt = fromNanos(createdAt)
	t.UpdatedAt = fromNanos(updatedAt)
	if settings != "" && settings != "{}" {
		if err := json.Unmarshal([]byte(settings), &t.Settings); err != nil {
			return nil, fmt.Errorf("invalid settings for tenant %s: %w", t.ID, err)
		}
	}
	return &t, nil
}

func marshalSettings(settings map[string]map[string]any) (string, error) {
	if len(settings) == 0 {
		return "{}", nil
	}
	b, err := json.Marshal(settings)
	if err != nil {
		return "", fmt.Errorf("failed to encode settings: %w", err)
	}
	return string(b), nil
}
