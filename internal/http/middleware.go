package http

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"

	"github.com/tendant/lti-provider/internal/auth"
	"github.com/tendant/lti-provider/internal/domain"
	"github.com/tendant/lti-provider/internal/metrics"
)

// CORSMiddleware lets the tool's frontend call the API from the listed origins with a bearer.
func CORSMiddleware(origins []string) func(http.Handler) http.Handler {
	return cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           300,
	})
}

// SecurityHeadersConfig holds security headers configuration.
type SecurityHeadersConfig struct {
	// ContentSecurityPolicy sets the Content-Security-Policy header.
	ContentSecurityPolicy string

	// XContentTypeOptions sets the X-Content-Type-Options header.
	XContentTypeOptions string

	// ReferrerPolicy sets the Referrer-Policy header.
	ReferrerPolicy string

	// StrictTransportSecurity is only sent over HTTPS connections.
	StrictTransportSecurity string
}

// DefaultSecurityHeadersConfig returns headers suitable for a tool embedded in LMS iframes.
// There is no X-Frame-Options: every LMS frames the tool from its own origin.
func DefaultSecurityHeadersConfig() *SecurityHeadersConfig {
	return &SecurityHeadersConfig{
		ContentSecurityPolicy:   "frame-ancestors *",
		XContentTypeOptions:     "nosniff",
		ReferrerPolicy:          "origin",
		StrictTransportSecurity: "max-age=31536000; includeSubDomains",
	}
}

// SecurityHeadersMiddleware returns a middleware that sets security headers.
func SecurityHeadersMiddleware(config *SecurityHeadersConfig) func(http.Handler) http.Handler {
	if config == nil {
		config = DefaultSecurityHeadersConfig()
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if config.ContentSecurityPolicy != "" {
				w.Header().Set("Content-Security-Policy", config.ContentSecurityPolicy)
			}
			if config.XContentTypeOptions != "" {
				w.Header().Set("X-Content-Type-Options", config.XContentTypeOptions)
			}
			if config.ReferrerPolicy != "" {
				w.Header().Set("Referrer-Policy", config.ReferrerPolicy)
			}
			if config.StrictTransportSecurity != "" && r.TLS != nil {
				w.Header().Set("Strict-Transport-Security", config.StrictTransportSecurity)
			}

			next.ServeHTTP(w, r)
		})
	}
}

// RateLimit limits requests per client IP. Rejections are counted under endpoint.
func RateLimit(endpoint string, perMinute int) func(http.Handler) http.Handler {
	if perMinute <= 0 {
		return func(next http.Handler) http.Handler { return next }
	}
	return httprate.Limit(perMinute, time.Minute,
		httprate.WithKeyFuncs(httprate.KeyByRealIP),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			metrics.RecordRateLimitExceeded(endpoint)
			writeJSON(w, http.StatusTooManyRequests, errorBody{Error: "rate_limited", Message: "Too many requests"})
		}),
	)
}

type contextKey int

const userKey contextKey = iota

// BearerAuth authenticates requests with a session token and stores the user in the context.
func BearerAuth(sessions *auth.SessionTokens, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user, err := sessions.FromRequest(r)
			if err != nil {
				writeError(w, logger, err)
				return
			}
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), userKey, user)))
		})
	}
}

// UserFromContext returns the user stored by BearerAuth.
func UserFromContext(ctx context.Context) (*domain.LTIUser, bool) {
	user, ok := ctx.Value(userKey).(*domain.LTIUser)
	return user, ok
}
