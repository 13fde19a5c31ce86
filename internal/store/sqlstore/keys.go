package sqlstore

import (
	"context"
	"fmt"

	"github.com/tendant/lti-provider/internal/crypto"
)

// keyRepository implements crypto.KeyRepository. Keys are stored as PKCS#1 PEM and parsed
// by the KeyService on load.
type keyRepository struct {
	store *Store
}

const keyColumns = `kid, alg, private_key_pem, active, created_at, retires_at`

func (r *keyRepository) GetByID(ctx context.Context, kid string) (*crypto.KeyPair, error) {
	row := r.store.db.QueryRowContext(ctx, `SELECT `+keyColumns+` FROM signing_keys WHERE kid=$1`, kid)
	kp, err := scanKey(row)
	if err != nil {
		return nil, notFound(err, "signing key", kid)
	}
	return kp, nil
}

func (r *keyRepository) GetActive(ctx context.Context) (*crypto.KeyPair, error) {
	row := r.store.db.QueryRowContext(ctx,
		`SELECT `+keyColumns+` FROM signing_keys WHERE active=1 ORDER BY created_at DESC LIMIT 1`)
	kp, err := scanKey(row)
	if err != nil {
		return nil, notFound(err, "signing key", "active")
	}
	return kp, nil
}

func (r *keyRepository) GetAll(ctx context.Context) ([]*crypto.KeyPair, error) {
	rows, err := r.store.db.QueryContext(ctx, `SELECT `+keyColumns+` FROM signing_keys ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("failed to list signing keys: %w", err)
	}
	defer rows.Close()

	var out []*crypto.KeyPair
	for rows.Next() {
		kp, err := scanKey(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan signing key: %w", err)
		}
		out = append(out, kp)
	}
	return out, rows.Err()
}

func (r *keyRepository) Save(ctx context.Context, kp *crypto.KeyPair) error {
	if len(kp.PrivateKeyPEM) == 0 {
		return fmt.Errorf("signing key %s has no PEM data", kp.Kid)
	}
	active := 0
	if kp.Active {
		active = 1
	}
	_, err := r.store.db.ExecContext(ctx, `
		INSERT INTO signing_keys (`+keyColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6)
		ON CONFLICT (kid)
		DO UPDATE SET active=EXCLUDED.active, retires_at=EXCLUDED.retires_at`,
		kp.Kid, kp.Alg, string(kp.PrivateKeyPEM), active, toNanos(kp.CreatedAt), toNanos(kp.RetiresAt))
	if err != nil {
		return fmt.Errorf("failed to save signing key: %w", err)
	}
	return nil
}

func (r *keyRepository) Delete(ctx context.Context, kid string) error {
	_, err := r.store.db.ExecContext(ctx, `DELETE FROM signing_keys WHERE kid=$1`, kid)
	if err != nil {
		return fmt.Errorf("failed to delete signing key: %w", err)
	}
	return nil
}

func scanKey(row scanner) (*crypto.KeyPair, error) {
	var (
		kp                   crypto.KeyPair
		pemData              string
		active               int
		createdAt, retiresAt int64
	)
	if err := row.Scan(&kp.Kid, &kp.Alg, &pemData, &active, &createdAt, &retiresAt); err != nil {
		return nil, err
	}
	kp.PrivateKeyPEM = []byte(pemData)
	kp.Active = active == 1
	kp.CreatedAt = fromNanos(createdAt)
	kp.RetiresAt = fromNanos(retiresAt)
	return &kp, nil
}
