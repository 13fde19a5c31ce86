package http

import (
	"log/slog"

	"github.com/go-chi/chi/v5"

	"github.com/tendant/lti-provider/internal/auth"
)

// Routes bundles the handlers mounted by RegisterRoutes.
type Routes struct {
	Launch    *LaunchHandler
	JWKS      *JWKSHandler
	Discovery *DiscoveryHandler
	OAuth     *OAuthHandler
	Proxy     *ProxyHandler
	Sessions  *auth.SessionTokens

	// AllowedOrigins may call /api cross-origin.
	AllowedOrigins []string
	// LaunchRateLimit is requests per minute per client IP on launch and login; 0 disables it.
	LaunchRateLimit int

	Logger *slog.Logger
}

// RegisterRoutes mounts the tool's endpoints on r.
func RegisterRoutes(r chi.Router, rt Routes) {
	logger := rt.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r.Group(func(r chi.Router) {
		r.Use(RateLimit("launch", rt.LaunchRateLimit))
		r.Post("/lti_launches", rt.Launch.Launch)
		r.Get("/lti/1.3/oidc", rt.Launch.Login)
		r.Post("/lti/1.3/oidc", rt.Launch.Login)
	})
	r.Get("/lti/1.3/jwks", rt.JWKS.JWKS)
	r.Get("/lti/1.3/config.json", rt.Discovery.ToolConfiguration)

	r.Route("/api", func(r chi.Router) {
		if len(rt.AllowedOrigins) > 0 {
			r.Use(CORSMiddleware(rt.AllowedOrigins))
		}

		// The LMS redirects the browser here; the state parameter identifies the user.
		r.Get("/{vendor}/oauth/callback", rt.OAuth.Callback)

		r.Group(func(r chi.Router) {
			r.Use(BearerAuth(rt.Sessions, logger))
			r.Get("/{vendor}/oauth/authorize", rt.OAuth.Authorize)

			r.Get("/canvas/courses/{course_id}/files", rt.Proxy.CanvasFiles)
			r.Get("/canvas/courses/{course_id}/sections", rt.Proxy.CanvasSections)
			r.Get("/canvas/courses/{course_id}/pages", rt.Proxy.CanvasPages)
			r.Get("/canvas/files/{file_id}/via_url", rt.Proxy.CanvasFileURL)
			r.Get("/blackboard/courses/{course_id}/files", rt.Proxy.BlackboardFiles)
			r.Get("/blackboard/courses/{course_id}/contents/{content_id}/attachments", rt.Proxy.BlackboardAttachments)
			r.Get("/d2l/courses/{course_id}/files", rt.Proxy.D2LFiles)
			r.Get("/moodle/courses/{course_id}/files", rt.Proxy.MoodleFiles)
		})
	})
}
