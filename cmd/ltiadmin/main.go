// Package main provides administrative commands for installations, platform registrations
// and signing keys.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/google/uuid"
	"github.com/urfave/cli/v2"

	"github.com/tendant/lti-provider/internal/config"
	"github.com/tendant/lti-provider/internal/crypto"
	"github.com/tendant/lti-provider/internal/domain"
	"github.com/tendant/lti-provider/internal/store/sqlstore"
)

func main() {
	app := &cli.App{
		Name:  "ltiadmin",
		Usage: "manage LTI tool installations",
		Commands: []*cli.Command{
			seedTenant,
			seedRegistration,
			setRoleOverride,
			rotateKey,
			encryptSecret,
		},
	}

	app.RunAndExitOnError()
}

// env is the configuration and store shared by every command.
type env struct {
	cfg     *config.Config
	store   *sqlstore.Store
	secrets *crypto.SecretBox
}

func openEnv(ctx context.Context) (*env, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if cfg.LMSSecretGenerated {
		return nil, fmt.Errorf("LMS_SECRET must be set: secrets encrypted with a generated key cannot be read by the server")
	}
	secrets, err := crypto.NewSecretBox(cfg.AESKey())
	if err != nil {
		return nil, err
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	store, err := sqlstore.Open(ctx, sqlstore.Driver(cfg.DBDriver), cfg.DBDSN, sqlstore.WithLogger(logger))
	if err != nil {
		return nil, err
	}
	return &env{cfg: cfg, store: store, secrets: secrets}, nil
}

// encryptIfSet encrypts v, leaving an empty value empty.
func (e *env) encryptIfSet(v string) (string, error) {
	if v == "" {
		return "", nil
	}
	return e.secrets.Encrypt(v)
}

var seedTenant = &cli.Command{
	Name:  "seed-tenant",
	Usage: "create an LMS installation",
	Flags: []cli.Flag{
		&cli.StringFlag{Name: "id", Usage: "tenant id (generated when empty)"},
		&cli.StringFlag{Name: "lms-url", Required: true},
		&cli.StringFlag{Name: "consumer-key", Usage: "LTI 1.1 consumer key"},
		&cli.StringFlag{Name: "shared-secret", Usage: "LTI 1.1 shared secret"},
		&cli.StringFlag{Name: "registration-id", Usage: "LTI 1.3 registration"},
		&cli.StringFlag{Name: "deployment-id", Usage: "LTI 1.3 deployment"},
		&cli.StringFlag{Name: "developer-key", Usage: "Canvas developer key id"},
		&cli.StringFlag{Name: "developer-secret", Usage: "Canvas developer key secret, stored encrypted"},
		&cli.StringFlag{Name: "moodle-token", Usage: "Moodle web service token, stored encrypted"},
	},
	Action: func(cmd *cli.Context) error {
		e, err := openEnv(cmd.Context)
		if err != nil {
			return err
		}
		defer e.store.Close()

		if cmd.String("consumer-key") == "" && cmd.String("deployment-id") == "" {
			return fmt.Errorf("a tenant needs a consumer key, a deployment id or both")
		}

		devSecret, err := e.encryptIfSet(cmd.String("developer-secret"))
		if err != nil {
			return err
		}
		moodleToken, err := e.encryptIfSet(cmd.String("moodle-token"))
		if err != nil {
			return err
		}

		id := cmd.String("id")
		if id == "" {
			id = uuid.NewString()
		}
		tenant := &domain.Tenant{
			ID:              id,
			LMSURL:          cmd.String("lms-url"),
			ConsumerKey:     cmd.String("consumer-key"),
			SharedSecret:    cmd.String("shared-secret"),
			RegistrationID:  cmd.String("registration-id"),
			DeploymentID:    cmd.String("deployment-id"),
			DeveloperKey:    cmd.String("developer-key"),
			DeveloperSecret: devSecret,
		}
		if moodleToken != "" {
			tenant.Settings = map[string]map[string]any{"moodle": {"api_token": moodleToken}}
		}
		if err := e.store.Tenants().Create(cmd.Context, tenant); err != nil {
			return err
		}
		fmt.Printf("Created tenant: %s\n", tenant.ID)
		return nil
	},
}

var seedRegistration = &cli.Command{
	Name:  "seed-registration",
	Usage: "register an LTI 1.3 platform",
	Flags: []cli.Flag{
		&cli.StringFlag{Name: "id", Usage: "registration id (generated when empty)"},
		&cli.StringFlag{Name: "issuer", Required: true},
		&cli.StringFlag{Name: "client-id", Required: true},
		&cli.StringFlag{Name: "auth-login-url", Required: true},
		&cli.StringFlag{Name: "key-set-url", Required: true},
		&cli.StringFlag{Name: "token-url"},
	},
	Action: func(cmd *cli.Context) error {
		e, err := openEnv(cmd.Context)
		if err != nil {
			return err
		}
		defer e.store.Close()

		id := cmd.String("id")
		if id == "" {
			id = uuid.NewString()
		}
		reg := &domain.Registration{
			ID:           id,
			Issuer:       cmd.String("issuer"),
			ClientID:     cmd.String("client-id"),
			AuthLoginURL: cmd.String("auth-login-url"),
			KeySetURL:    cmd.String("key-set-url"),
			TokenURL:     cmd.String("token-url"),
		}
		if err := e.store.Registrations().Create(cmd.Context, reg); err != nil {
			return err
		}
		fmt.Printf("Created registration: %s (%s, %s)\n", reg.ID, reg.Issuer, reg.ClientID)
		return nil
	},
}

var setRoleOverride = &cli.Command{
	Name:  "set-role-override",
	Usage: "reclassify a role value for one tenant",
	Flags: []cli.Flag{
		&cli.StringFlag{Name: "tenant", Required: true},
		&cli.StringFlag{Name: "value", Required: true, Usage: "role string as sent by the LMS"},
		&cli.StringFlag{Name: "scope", Value: string(domain.ScopeCourse), Usage: "course, institution or system"},
		&cli.StringFlag{Name: "type", Required: true, Usage: "instructor, learner, admin or none"},
	},
	Action: func(cmd *cli.Context) error {
		scope := domain.RoleScope(cmd.String("scope"))
		switch scope {
		case domain.ScopeCourse, domain.ScopeInstitution, domain.ScopeSystem:
		default:
			return fmt.Errorf("unknown scope %q", scope)
		}
		roleType := domain.RoleType(cmd.String("type"))
		switch roleType {
		case domain.RoleInstructor, domain.RoleLearner, domain.RoleAdmin, domain.RoleNone:
		default:
			return fmt.Errorf("unknown role type %q", roleType)
		}

		e, err := openEnv(cmd.Context)
		if err != nil {
			return err
		}
		defer e.store.Close()

		if _, err := e.store.Tenants().GetByID(cmd.Context, cmd.String("tenant")); err != nil {
			return err
		}
		override := &domain.RoleOverride{
			TenantID: cmd.String("tenant"),
			Value:    cmd.String("value"),
			Scope:    scope,
			Type:     roleType,
		}
		if err := e.store.RoleOverrides().Set(cmd.Context, override); err != nil {
			return err
		}
		fmt.Printf("Set %s (%s) to %s for tenant %s\n", override.Value, override.Scope, override.Type, override.TenantID)
		return nil
	},
}

var rotateKey = &cli.Command{
	Name:  "rotate-key",
	Usage: "generate a new signing key; the previous key stays published for the overlap",
	Action: func(cmd *cli.Context) error {
		e, err := openEnv(cmd.Context)
		if err != nil {
			return err
		}
		defer e.store.Close()

		keys := crypto.NewKeyService(e.store.SigningKeys(), crypto.WithRotationOverlap(e.cfg.SigningKeyOverlap))
		key, err := keys.RotateKey(cmd.Context)
		if err != nil {
			return err
		}
		fmt.Printf("Active signing key: %s\n", key.Kid)
		return nil
	},
}

var encryptSecret = &cli.Command{
	Name:      "encrypt-secret",
	Usage:     "encrypt a value for storage in tenant settings",
	ArgsUsage: "<value>",
	Action: func(cmd *cli.Context) error {
		if cmd.NArg() != 1 {
			return fmt.Errorf("expected exactly one value")
		}
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		if cfg.LMSSecretGenerated {
			return fmt.Errorf("LMS_SECRET must be set")
		}
		secrets, err := crypto.NewSecretBox(cfg.AESKey())
		if err != nil {
			return err
		}
		out, err := secrets.Encrypt(cmd.Args().First())
		if err != nil {
			return err
		}
		fmt.Println(out)
		return nil
	},
}
