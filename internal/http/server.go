package http

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/tendant/lti-provider/internal/metrics"
)

// DefaultRequestTimeout bounds a request, including any LMS pages it fetches.
const DefaultRequestTimeout = 30 * time.Second

// Server is the tool's HTTP server: launch, OAuth and API routes plus probes and metrics.
type Server struct {
	router         *chi.Mux
	server         *http.Server
	health         *HealthHandler
	logger         *slog.Logger
	requestTimeout time.Duration
}

// Option configures the Server.
type Option func(*Server)

// WithLogger sets the logger for the server.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithReadinessChecks adds dependency checks to /readyz.
func WithReadinessChecks(checks ...ReadinessCheck) Option {
	return func(s *Server) {
		s.health = NewHealthHandler(checks...)
	}
}

// WithRequestTimeout sets the per-request deadline. Proxy routes that follow many LMS pages
// need it above the transport timeout.
func WithRequestTimeout(d time.Duration) Option {
	return func(s *Server) {
		if d > 0 {
			s.requestTimeout = d
		}
	}
}

// NewServer creates a new HTTP server with default middleware.
func NewServer(addr string, opts ...Option) *Server {
	r := chi.NewRouter()

	s := &Server{
		router:         r,
		logger:         slog.Default(),
		requestTimeout: DefaultRequestTimeout,
	}

	for _, opt := range opts {
		opt(s)
	}
	if s.health == nil {
		s.health = NewHealthHandler()
	}

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(s.requestTimeout))
	r.Use(metrics.Middleware)
	r.Use(SecurityHeadersMiddleware(nil))

	// Only the path is logged: the query may carry a session token.
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			defer func() {
				level := slog.LevelInfo
				if isProbe(r.URL.Path) {
					level = slog.LevelDebug
				}
				s.logger.Log(r.Context(), level, "request",
					"method", r.Method,
					"path", r.URL.Path,
					"status", ww.Status(),
					"duration", time.Since(start),
					"request_id", middleware.GetReqID(r.Context()),
				)
			}()
			next.ServeHTTP(ww, r)
		})
	})

	r.Get("/healthz", s.health.Healthz)
	r.Get("/readyz", s.health.Readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	s.server = &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      s.requestTimeout + 5*time.Second,
		IdleTimeout:       60 * time.Second,
	}

	return s
}

func isProbe(path string) bool {
	switch path {
	case "/healthz", "/readyz", "/metrics":
		return true
	}
	return false
}

// Router returns the chi router for adding routes.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	s.logger.Info("starting server", "addr", s.server.Addr)
	return s.server.ListenAndServe()
}

// Shutdown marks the server unready and drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down server")
	s.health.SetReady(false)
	return s.server.Shutdown(ctx)
}
