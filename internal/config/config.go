// Package config handles application configuration via environment variables.
package config

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/joho/godotenv"
	"golang.org/x/crypto/hkdf"
)

// Minimum tolerances. Configured values below these are raised.
const (
	MinTokenExpirySkew = 60 * time.Second
	MinJWKSRefresh     = 10 * time.Minute
	MinKeyOverlap      = 24 * time.Hour
)

// Config holds all configuration for the LTI provider.
type Config struct {
	// Server settings
	Host string `env:"LTI_HOST" env-default:"0.0.0.0"`
	Port int    `env:"LTI_PORT" env-default:"8080"`

	// PublicURL is the externally visible base URL, used for redirect URIs and the tool config.
	PublicURL string `env:"LTI_PUBLIC_URL" env-default:"http://localhost:8080"`
	ToolTitle string `env:"LTI_TOOL_TITLE" env-default:"Course Files"`

	// Storage settings
	DBDriver string `env:"LTI_DB_DRIVER" env-default:"sqlite"` // sqlite or postgres
	DBDSN    string `env:"LTI_DB_DSN" env-default:""`
	RedisURL string `env:"LTI_REDIS_URL" env-default:""` // empty uses in-process caches

	// Secrets
	LMSSecret           string `env:"LMS_SECRET"`
	JWTSecret           string `env:"JWT_SECRET"`
	OAuth2StateSecret   string `env:"OAUTH2_STATE_SECRET"`
	SessionCookieSecret string `env:"SESSION_COOKIE_SECRET"`
	CookieSecure        bool   `env:"LTI_COOKIE_SECURE" env-default:"true"`

	// Token lifetimes
	SessionTokenTTL time.Duration `env:"LTI_SESSION_TOKEN_TTL" env-default:"1h"`
	StateTokenTTL   time.Duration `env:"LTI_STATE_TOKEN_TTL" env-default:"1h"`

	// Outbound HTTP
	HTTPTimeout    time.Duration `env:"LTI_HTTP_TIMEOUT" env-default:"9s"`
	MaxPages       int           `env:"LTI_MAX_PAGES" env-default:"25"`
	RequestTimeout time.Duration `env:"LTI_REQUEST_TIMEOUT" env-default:"30s"` // inbound request deadline

	// OAuth2 runtime
	TokenExpirySkew    time.Duration `env:"LTI_TOKEN_EXPIRY_SKEW" env-default:"60s"`
	RefreshLockTimeout time.Duration `env:"LTI_REFRESH_LOCK_TIMEOUT" env-default:"10s"`
	ProactiveRefresh   bool          `env:"LTI_PROACTIVE_REFRESH" env-default:"false"`

	// Launch verification
	JWKSMinRefresh  time.Duration `env:"LTI_JWKS_MIN_REFRESH" env-default:"10m"`
	JWTLeeway       time.Duration `env:"LTI_JWT_LEEWAY" env-default:"30s"`
	TimestampWindow time.Duration `env:"LTI_OAUTH1_TIMESTAMP_WINDOW" env-default:"5m"`
	NonceTTL        time.Duration `env:"LTI_NONCE_TTL" env-default:"5m"`

	// Key rotation
	SigningKeyRotationDays int           `env:"LTI_SIGNING_KEY_ROTATION_DAYS" env-default:"30"`
	SigningKeyOverlap      time.Duration `env:"LTI_SIGNING_KEY_OVERLAP" env-default:"48h"`

	// Rate limiting
	LaunchRateLimit int `env:"LTI_LAUNCH_RATE_LIMIT" env-default:"60"` // launches per minute per IP

	// CORS for the tool's frontend
	AllowedOrigins []string `env:"LTI_CORS_ORIGINS" env-separator:"," env-default:""`

	// Per-vendor OAuth2 client credentials. Canvas uses the per-tenant developer key instead.
	BlackboardClientID     string `env:"BLACKBOARD_API_CLIENT_ID"`
	BlackboardClientSecret string `env:"BLACKBOARD_API_CLIENT_SECRET"`
	D2LClientID            string `env:"D2L_API_CLIENT_ID"`
	D2LClientSecret        string `env:"D2L_API_CLIENT_SECRET"`

	// Logging
	LogLevel  string `env:"LTI_LOG_LEVEL" env-default:"info"`
	LogFormat string `env:"LTI_LOG_FORMAT" env-default:"json"` // json or text

	// Internal flags (not from env)
	LMSSecretGenerated bool `env:"-"` // True if LMS_SECRET was auto-generated
}

// Load reads configuration from a .env file (if present) and the environment.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	var cfg Config
	if err := cleanenv.ReadEnv(&cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	if err := cfg.finalize(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// finalize fills secrets that were not provided and enforces minimum tolerances.
func (c *Config) finalize() error {
	if c.LMSSecret == "" {
		secret, err := generateRandomSecret(32)
		if err != nil {
			return fmt.Errorf("failed to generate LMS secret: %w", err)
		}
		c.LMSSecret = secret
		c.LMSSecretGenerated = true
	}
	if len(c.LMSSecret) < 16 {
		return fmt.Errorf("LMS_SECRET must be at least 16 bytes")
	}

	for _, s := range []struct {
		dst  *string
		info string
	}{
		{&c.JWTSecret, "jwt"},
		{&c.OAuth2StateSecret, "oauth2-state"},
		{&c.SessionCookieSecret, "session-cookie"},
	} {
		if *s.dst != "" {
			continue
		}
		derived, err := DeriveSecret(c.LMSSecret, s.info)
		if err != nil {
			return fmt.Errorf("failed to derive %s secret: %w", s.info, err)
		}
		*s.dst = derived
	}

	if c.TokenExpirySkew < MinTokenExpirySkew {
		c.TokenExpirySkew = MinTokenExpirySkew
	}
	if c.JWKSMinRefresh < MinJWKSRefresh {
		c.JWKSMinRefresh = MinJWKSRefresh
	}
	if c.SigningKeyOverlap < MinKeyOverlap {
		c.SigningKeyOverlap = MinKeyOverlap
	}
	return nil
}

// Addr returns the server address in host:port format.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// AESKey returns the key used to encrypt developer secrets: the first 16 bytes of LMS_SECRET.
func (c *Config) AESKey() []byte {
	return []byte(c.LMSSecret)[:16]
}

// DeriveSecret derives a purpose-specific secret from the app-wide LMS secret.
func DeriveSecret(lmsSecret, info string) (string, error) {
	r := hkdf.New(sha256.New, []byte(lmsSecret), nil, []byte("lti-provider:"+info))
	key := make([]byte, 32)
	if _, err := io.ReadFull(r, key); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(key), nil
}

// generateRandomSecret generates a cryptographically secure random string.
func generateRandomSecret(length int) (string, error) {
	bytes := make([]byte, length)
	if _, err := rand.Read(bytes); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(bytes), nil
}
