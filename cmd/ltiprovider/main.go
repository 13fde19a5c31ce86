// Package main is the entry point for the LTI tool provider.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/tendant/lti-provider/internal/auth"
	"github.com/tendant/lti-provider/internal/cache"
	"github.com/tendant/lti-provider/internal/config"
	"github.com/tendant/lti-provider/internal/crypto"
	"github.com/tendant/lti-provider/internal/domain"
	ltihttp "github.com/tendant/lti-provider/internal/http"
	"github.com/tendant/lti-provider/internal/launch"
	"github.com/tendant/lti-provider/internal/oauth2client"
	"github.com/tendant/lti-provider/internal/store/sqlstore"
	"github.com/tendant/lti-provider/internal/tokens"
	"github.com/tendant/lti-provider/internal/transport"
)

// keyMaintenanceInterval is how often the signing key age is checked.
const keyMaintenanceInterval = time.Hour

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	// Setup logger
	var handler slog.Handler
	if cfg.LogFormat == "json" {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: parseLogLevel(cfg.LogLevel),
		})
	} else {
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
			Level: parseLogLevel(cfg.LogLevel),
		})
	}
	logger := slog.New(handler)
	slog.SetDefault(logger)

	if cfg.LMSSecretGenerated {
		logger.Warn("LMS_SECRET is not set; using a generated secret, sessions and encrypted secrets will not survive a restart")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("server error", "error", err)
		os.Exit(1)
	}
	logger.Info("server stopped")
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	db, err := sqlstore.Open(ctx, sqlstore.Driver(cfg.DBDriver), cfg.DBDSN, sqlstore.WithLogger(logger), sqlstore.WithLockWait(cfg.RefreshLockTimeout))
	if err != nil {
		return err
	}
	defer db.Close()
	logger.Info("initialized store", "driver", cfg.DBDriver)

	keys := crypto.NewKeyService(db.SigningKeys(),
		crypto.WithKeyLogger(logger),
		crypto.WithRotationOverlap(cfg.SigningKeyOverlap),
	)
	if _, err := keys.EnsureActiveKey(ctx); err != nil {
		return err
	}

	checks := []ltihttp.ReadinessCheck{{Name: "database", Check: db.Ping}}

	// Replay cache and refresh lock: Redis when configured, otherwise in-process state with
	// Postgres advisory locks when several processes share one database.
	var (
		replay cache.ReplayCache
		locker cache.Locker
	)
	if cfg.RedisURL != "" {
		rdb, err := cache.NewRedisClient(ctx, cfg.RedisURL)
		if err != nil {
			return err
		}
		defer rdb.Close()
		replay = cache.NewRedisReplay(rdb, "lti:")
		locker = cache.NewRedisLocker(rdb, "lti:lock:", cache.WithWait(cfg.RefreshLockTimeout))
		checks = append(checks, ltihttp.ReadinessCheck{
			Name:  "redis",
			Check: func(ctx context.Context) error { return rdb.Ping(ctx).Err() },
		})
		logger.Info("using redis for replay cache and locks")
	} else if db.Driver() == sqlstore.DriverPostgres {
		// Workers sharing the database share nonces and refresh locks through it.
		replay = db.Replay()
		locker = db
		logger.Info("using postgres for replay cache and locks")
	} else {
		replay = cache.NewMemoryReplay(0)
		locker = cache.NewLocalLocker()
	}

	secrets, err := crypto.NewSecretBox(cfg.AESKey())
	if err != nil {
		return err
	}

	sessions := auth.NewSessionTokens(cfg.JWTSecret,
		auth.WithSessionTTL(cfg.SessionTokenTTL),
		auth.WithTokenParam("authorization"),
	)
	authService := auth.NewService(
		sessions,
		auth.NewStateTokens(cfg.OAuth2StateSecret, cfg.StateTokenTTL),
		auth.NewCSRFStore(cfg.SessionCookieSecret, cfg.CookieSecure, replay, cfg.StateTokenTTL),
		auth.WithLogger(logger),
	)

	client := transport.New(
		transport.WithTimeout(cfg.HTTPTimeout),
		transport.WithMaxPages(cfg.MaxPages),
		transport.WithLogger(logger),
	)

	runtime := oauth2client.New(client,
		tokens.New(db.Tokens(), tokens.WithSkew(cfg.TokenExpirySkew)),
		db.Tenants(), authService, cfg.PublicURL,
		oauth2client.WithLocker(locker),
		oauth2client.WithLockTimeout(cfg.RefreshLockTimeout),
		oauth2client.WithSecretBox(secrets),
		oauth2client.WithStaticCredentials(domain.VendorBlackboard, oauth2client.Credentials{
			ClientID:     cfg.BlackboardClientID,
			ClientSecret: cfg.BlackboardClientSecret,
		}),
		oauth2client.WithStaticCredentials(domain.VendorD2L, oauth2client.Credentials{
			ClientID:     cfg.D2LClientID,
			ClientSecret: cfg.D2LClientSecret,
		}),
		oauth2client.WithProactiveRefresh(cfg.ProactiveRefresh),
		oauth2client.WithLogger(logger),
	)

	platforms, err := crypto.NewPlatformVerifier(ctx, client.HTTPClient(),
		crypto.WithMinRefresh(cfg.JWKSMinRefresh),
		crypto.WithLeeway(cfg.JWTLeeway),
		crypto.WithPlatformLogger(logger),
	)
	if err != nil {
		return err
	}

	loginSecret, err := config.DeriveSecret(cfg.LMSSecret, "oidc-login")
	if err != nil {
		return err
	}
	authenticator := launch.New(db, replay, platforms,
		launch.WithLoginSecret(loginSecret),
		launch.WithTokenGenerator(crypto.NewTokenGenerator(keys, cfg.PublicURL)),
		launch.WithTimestampWindow(cfg.TimestampWindow),
		launch.WithNonceTTL(cfg.NonceTTL),
		launch.WithLeeway(cfg.JWTLeeway),
		launch.WithLogger(logger),
	)

	server := ltihttp.NewServer(cfg.Addr(),
		ltihttp.WithLogger(logger),
		ltihttp.WithReadinessChecks(checks...),
		ltihttp.WithRequestTimeout(cfg.RequestTimeout),
	)
	ltihttp.RegisterRoutes(server.Router(), ltihttp.Routes{
		Launch:          ltihttp.NewLaunchHandler(authenticator, sessions, cfg.PublicURL, logger),
		JWKS:            ltihttp.NewJWKSHandler(keys, logger),
		Discovery:       ltihttp.NewDiscoveryHandler(cfg.PublicURL, cfg.ToolTitle),
		OAuth:           ltihttp.NewOAuthHandler(runtime, db.Tenants(), logger),
		Proxy:           ltihttp.NewProxyHandler(runtime, db.Tenants(), client, secrets, logger),
		Sessions:        sessions,
		AllowedOrigins:  cfg.AllowedOrigins,
		LaunchRateLimit: cfg.LaunchRateLimit,
		Logger:          logger,
	})

	go maintainKeys(ctx, keys, time.Duration(cfg.SigningKeyRotationDays)*24*time.Hour, logger)

	errCh := make(chan error, 1)
	go func() {
		if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()
	logger.Info("server started", "addr", cfg.Addr(), "public_url", cfg.PublicURL)

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down server...")

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

// maintainKeys rotates the signing key once it reaches maxAge and prunes retired keys.
func maintainKeys(ctx context.Context, keys *crypto.KeyService, maxAge time.Duration, logger *slog.Logger) {
	ticker := time.NewTicker(keyMaintenanceInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := keys.RotateIfOlder(ctx, maxAge); err != nil {
				logger.Warn("signing key maintenance failed", "error", err)
			}
		}
	}
}

func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
