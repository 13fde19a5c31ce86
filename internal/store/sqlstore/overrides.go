package sqlstore

import (
	"context"
	"fmt"

	"github.com/tendant/lti-provider/internal/domain"
)

type roleOverrideRepository struct {
	store *Store
}

func (r *roleOverrideRepository) Set(ctx context.Context, o *domain.RoleOverride) error {
	_, err := r.store.db.ExecContext(ctx, `
		INSERT INTO role_overrides (tenant_id, value, scope, type)
		VALUES ($1,$2,$3,$4)
		ON CONFLICT (tenant_id, value, scope)
		DO UPDATE SET type=EXCLUDED.type`,
		o.TenantID, o.Value, string(o.Scope), string(o.Type))
	if err != nil {
		return fmt.Errorf("failed to save role override: %w", err)
	}
	return nil
}

func (r *roleOverrideRepository) ListByTenant(ctx context.Context, tenantID string) ([]*domain.RoleOverride, error) {
	rows, err := r.store.db.QueryContext(ctx,
		`SELECT tenant_id, value, scope, type FROM role_overrides WHERE tenant_id=$1 ORDER BY value, scope`, tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to list role overrides: %w", err)
	}
	defer rows.Close()

	var out []*domain.RoleOverride
	for rows.Next() {
		var o domain.RoleOverride
		if err := rows.Scan(&o.TenantID, &o.Value, &o.Scope, &o.Type); err != nil {
			return nil, fmt.Errorf("failed to scan role override: %w", err)
		}
		out = append(out, &o)
	}
	return out, rows.Err()
}

func (r *roleOverrideRepository) Delete(ctx context.Context, tenantID, value string, scope domain.RoleScope) error {
	_, err := r.store.db.ExecContext(ctx,
		`DELETE FROM role_overrides WHERE tenant_id=$1 AND value=$2 AND scope=$3`, tenantID, value, string(scope))
	if err != nil {
		return fmt.Errorf("failed to delete role override: %w", err)
	}
	return nil
}
