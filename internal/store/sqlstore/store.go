// Package sqlstore implements store.Store on database/sql with SQLite or Postgres.
package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // driver: pgx
	_ "modernc.org/sqlite"             // driver: sqlite

	"github.com/tendant/lti-provider/internal/crypto"
	ltierrors "github.com/tendant/lti-provider/internal/errors"
	"github.com/tendant/lti-provider/internal/store"
)

// Driver names a supported database.
type Driver string

const (
	DriverSQLite   Driver = "sqlite"
	DriverPostgres Driver = "postgres"
)

// Store implements store.Store.
type Store struct {
	db     *sql.DB
	driver Driver
	logger *slog.Logger
	now    func() time.Time

	// tryLockQuery takes a transaction-scoped advisory lock without blocking.
	tryLockQuery string
	lockWait     time.Duration
	replay       *Replay

	tenants       *tenantRepository
	registrations *registrationRepository
	tokens        *tokenRepository
	overrides     *roleOverrideRepository
	signingKeys   *keyRepository
}

// Option configures the Store.
type Option func(*Store)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		s.logger = logger
	}
}

// WithLockWait bounds how long Lock retries a held key when ctx has no earlier deadline.
func WithLockWait(d time.Duration) Option {
	return func(s *Store) {
		if d > 0 {
			s.lockWait = d
		}
	}
}

// Open opens the database and ensures the schema exists.
func Open(ctx context.Context, driver Driver, dsn string, opts ...Option) (*Store, error) {
	var drvName string
	switch driver {
	case DriverSQLite:
		drvName = "sqlite" // modernc driver
		if dsn == "" {
			dsn = "file:lti.db?cache=shared&mode=rwc&_pragma=busy_timeout(5000)"
		}
	case DriverPostgres:
		drvName = "pgx" // pgx stdlib driver
		if dsn == "" {
			dsn = "postgres://localhost:5432/lti?sslmode=disable"
		}
	default:
		return nil, fmt.Errorf("unsupported driver: %s", driver)
	}

	db, err := sql.Open(drvName, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if driver == DriverSQLite {
		// SQLite allows a single writer, and :memory: databases live per connection.
		db.SetMaxOpenConns(1)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := ensureSchema(ctx, db, driver); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	s := &Store{
		db:     db,
		driver: driver,
		logger: slog.Default(),
		now:    time.Now,

		tryLockQuery: tryLockPostgres,
		lockWait:     10 * time.Second,
	}
	for _, opt := range opts {
		opt(s)
	}

	s.tenants = &tenantRepository{store: s}
	s.registrations = &registrationRepository{store: s}
	s.tokens = &tokenRepository{store: s}
	s.overrides = &roleOverrideRepository{store: s}
	s.signingKeys = &keyRepository{store: s}
	s.replay = &Replay{store: s, purgeN: 1024}

	return s, nil
}

func (s *Store) Tenants() store.TenantRepository             { return s.tenants }
func (s *Store) Registrations() store.RegistrationRepository { return s.registrations }
func (s *Store) Tokens() store.TokenRepository               { return s.tokens }
func (s *Store) RoleOverrides() store.RoleOverrideRepository { return s.overrides }
func (s *Store) SigningKeys() crypto.KeyRepository           { return s.signingKeys }

// Replay returns the replay cache kept in the database.
func (s *Store) Replay() *Replay { return s.replay }

// Driver returns the database the store was opened with.
func (s *Store) Driver() Driver { return s.driver }

// Ping checks the database connection.
func (s *Store) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

// Close closes the database.
func (s *Store) Close() error { return s.db.Close() }

func ensureSchema(ctx context.Context, db *sql.DB, driver Driver) error {
	var schema string
	switch driver {
	case DriverSQLite:
		schema = schemaSQLite
	case DriverPostgres:
		schema = schemaPostgres
	}
	_, err := db.ExecContext(ctx, schema)
	return err
}

// notFound converts sql.ErrNoRows into a not_found error.
func notFound(err error, resource, id string) error {
	if errors.Is(err, sql.ErrNoRows) {
		return ltierrors.NotFound(resource, id)
	}
	return fmt.Errorf("failed to read %s: %w", resource, err)
}

// Times are stored as unix nanoseconds; zero means unset.
func toNanos(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func fromNanos(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n).UTC()
}

// nullable stores empty strings as NULL so unique indexes ignore them.
func nullable(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

const schemaSQLite = `
PRAGMA foreign_keys=ON;

CREATE TABLE IF NOT EXISTS lti_registrations (
  id TEXT PRIMARY KEY,
  issuer TEXT NOT NULL,
  client_id TEXT NOT NULL,
  auth_login_url TEXT NOT NULL DEFAULT '',
  token_url TEXT NOT NULL DEFAULT '',
  key_set_url TEXT NOT NULL DEFAULT '',
  created_at INTEGER NOT NULL,
  UNIQUE (issuer, client_id)
);

CREATE TABLE IF NOT EXISTS application_instances (
  id TEXT PRIMARY KEY,
  consumer_key TEXT UNIQUE,
  shared_secret TEXT NOT NULL DEFAULT '',
  lms_url TEXT NOT NULL DEFAULT '',
  developer_key TEXT NOT NULL DEFAULT '',
  developer_secret TEXT NOT NULL DEFAULT '',
  registration_id TEXT REFERENCES lti_registrations(id),
  deployment_id TEXT,
  tool_consumer_instance_guid TEXT NOT NULL DEFAULT '',
  product_family_code TEXT NOT NULL DEFAULT '',
  settings_json TEXT NOT NULL DEFAULT '{}',
  created_at INTEGER NOT NULL,
  updated_at INTEGER NOT NULL,
  UNIQUE (registration_id, deployment_id)
);

CREATE TABLE IF NOT EXISTS oauth2_tokens (
  tenant_id TEXT NOT NULL REFERENCES application_instances(id) ON DELETE CASCADE,
  user_id TEXT NOT NULL,
  vendor TEXT NOT NULL,
  access_token TEXT NOT NULL,
  refresh_token TEXT NOT NULL DEFAULT '',
  expires_in INTEGER NOT NULL DEFAULT 0,
  received_at INTEGER NOT NULL,
  updated_at INTEGER NOT NULL,
  PRIMARY KEY (tenant_id, user_id, vendor)
);

CREATE TABLE IF NOT EXISTS role_overrides (
  tenant_id TEXT NOT NULL REFERENCES application_instances(id) ON DELETE CASCADE,
  value TEXT NOT NULL,
  scope TEXT NOT NULL,
  type TEXT NOT NULL,
  PRIMARY KEY (tenant_id, value, scope)
);

CREATE TABLE IF NOT EXISTS signing_keys (
  kid TEXT PRIMARY KEY,
  alg TEXT NOT NULL,
  private_key_pem TEXT NOT NULL,
  active INTEGER NOT NULL DEFAULT 0,
  created_at INTEGER NOT NULL,
  retires_at INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS replay_nonces (
  kind TEXT NOT NULL,
  value TEXT NOT NULL,
  expires_at INTEGER NOT NULL,
  PRIMARY KEY (kind, value)
);
`

const schemaPostgres = `
CREATE TABLE IF NOT EXISTS lti_registrations (
  id TEXT PRIMARY KEY,
  issuer TEXT NOT NULL,
  client_id TEXT NOT NULL,
  auth_login_url TEXT NOT NULL DEFAULT '',
  token_url TEXT NOT NULL DEFAULT '',
  key_set_url TEXT NOT NULL DEFAULT '',
  created_at BIGINT NOT NULL,
  UNIQUE (issuer, client_id)
);

CREATE TABLE IF NOT EXISTS application_instances (
  id TEXT PRIMARY KEY,
  consumer_key TEXT UNIQUE,
  shared_secret TEXT NOT NULL DEFAULT '',
  lms_url TEXT NOT NULL DEFAULT '',
  developer_key TEXT NOT NULL DEFAULT '',
  developer_secret TEXT NOT NULL DEFAULT '',
  registration_id TEXT REFERENCES lti_registrations(id),
  deployment_id TEXT,
  tool_consumer_instance_guid TEXT NOT NULL DEFAULT '',
  product_family_code TEXT NOT NULL DEFAULT '',
  settings_json TEXT NOT NULL DEFAULT '{}',
  created_at BIGINT NOT NULL,
  updated_at BIGINT NOT NULL,
  UNIQUE (registration_id, deployment_id)
);

CREATE TABLE IF NOT EXISTS oauth2_tokens (
  tenant_id TEXT NOT NULL REFERENCES application_instances(id) ON DELETE CASCADE,
  user_id TEXT NOT NULL,
  vendor TEXT NOT NULL,
  access_token TEXT NOT NULL,
  refresh_token TEXT NOT NULL DEFAULT '',
  expires_in INTEGER NOT NULL DEFAULT 0,
  received_at BIGINT NOT NULL,
  updated_at BIGINT NOT NULL,
  PRIMARY KEY (tenant_id, user_id, vendor)
);

CREATE TABLE IF NOT EXISTS role_overrides (
  tenant_id TEXT NOT NULL REFERENCES application_instances(id) ON DELETE CASCADE,
  value TEXT NOT NULL,
  scope TEXT NOT NULL,
  type TEXT NOT NULL,
  PRIMARY KEY (tenant_id, value, scope)
);

CREATE TABLE IF NOT EXISTS signing_keys (
  kid TEXT PRIMARY KEY,
  alg TEXT NOT NULL,
  private_key_pem TEXT NOT NULL,
  active INTEGER NOT NULL DEFAULT 0,
  created_at BIGINT NOT NULL,
  retires_at BIGINT NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS replay_nonces (
  kind TEXT NOT NULL,
  value TEXT NOT NULL,
  expires_at BIGINT NOT NULL,
  PRIMARY KEY (kind, value)
);
`
