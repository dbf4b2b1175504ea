package router

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"task-management-api/internal/config"
	"task-management-api/internal/handler"
	"task-management-api/internal/metrics"
	"task-management-api/internal/middleware"
)

const (
	groupAuth    = "auth"
	groupGeneral = "general"
)

type Handlers struct {
	Auth   *handler.AuthHandler
	Audit  *handler.AuditHandler
	Health *handler.HealthHandler
	Docs   *handler.DocsHandler

	// Metrics is mounted at /metrics when non-nil.
	Metrics http.Handler
}

func New(
	cfg *config.Config,
	authMiddleware *middleware.AuthMiddleware,
	limits *middleware.RateLimitMiddleware,
	collector *metrics.Collector,
	h Handlers,
) http.Handler {
	r := chi.NewRouter()

	authLimit := limits.Group(groupAuth, cfg.AuthRateLimitPerMinute)
	generalLimit := limits.Group(groupGeneral, cfg.RateLimitPerMinute)

	r.Use(middleware.Recovery)
	r.Use(middleware.ClientAddress(cfg.TrustedProxyPrefixes()))
	r.Use(middleware.Logging)
	if collector != nil {
		r.Use(middleware.Metrics(collector))
	}
	r.Use(middleware.CORS(cfg.CORSOrigins))
	r.Use(middleware.SecurityHeaders)

	r.Get("/health", h.Health.Health)
	r.Get("/openapi.yaml", h.Docs.OpenAPI)
	r.Get("/docs", h.Docs.SwaggerUI)
	if h.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", h.Metrics)
	}

	r.Route("/api/v1", func(api chi.Router) {
		api.Use(middleware.Timeout(cfg.RequestTimeout))

		api.Route("/auth", func(auth chi.Router) {
			auth.With(authLimit).Post("/register", h.Auth.Register)
			auth.With(authLimit).Post("/login", h.Auth.Login)
			auth.With(authLimit).Post("/refresh", h.Auth.Refresh)
			auth.With(authLimit).Post("/password-reset/request", h.Auth.RequestPasswordReset)
			auth.With(authLimit).Post("/password-reset/confirm", h.Auth.ConfirmPasswordReset)
			auth.With(authLimit).Post("/verify-email", h.Auth.VerifyEmail)
			auth.With(authLimit).Post("/resend-verification", h.Auth.ResendVerification)

			auth.With(authLimit, authMiddleware.RequireAuth).Post("/logout", h.Auth.Logout)
			auth.With(authLimit, authMiddleware.RequireAuth).Put("/me/password", h.Auth.ChangePassword)
			auth.With(generalLimit, authMiddleware.RequireAuth).Get("/me", h.Auth.Me)
			auth.With(generalLimit, authMiddleware.RequireAuth).Get("/audit", h.Audit.List)
		})
	})

	return r
}
