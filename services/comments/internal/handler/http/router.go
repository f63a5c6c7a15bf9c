package http

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/machinery-site/comments/pkg/health"
	"github.com/machinery-site/comments/pkg/middleware"
	"github.com/machinery-site/comments/services/comments/internal/auth"
	"github.com/machinery-site/comments/services/comments/internal/service"
)

const serviceName = "comments"

// RouterConfig holds the HTTP surface settings.
type RouterConfig struct {
	Environment       string
	AllowedOrigins    []string
	PprofAllowedCIDRs []string
	EventsEnabled     bool

	// RequireOrigin rejects submissions that carry neither Origin nor Referer.
	RequireOrigin bool
}

// NewRouter creates a chi router with all comments service routes registered.
func NewRouter(
	commentService *service.CommentService,
	authn *auth.Authenticator,
	storage Storage,
	limiter RateLimitStatus,
	healthHandler *health.Handler,
	clientIPs *middleware.ClientIPResolver,
	logger *slog.Logger,
	cfg RouterConfig,
) http.Handler {
	r := chi.NewRouter()

	corsConfig := middleware.DefaultCORSConfig()
	corsConfig.AllowedOrigins = cfg.AllowedOrigins
	corsConfig.AllowedMethods = []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"}
	corsConfig.Environment = cfg.Environment

	// Global middleware
	r.Use(middleware.Recovery(logger))
	r.Use(middleware.ClientIP(clientIPs))
	r.Use(middleware.RequestLogging(logger))
	r.Use(middleware.Tracing(serviceName))
	r.Use(middleware.RequestLogger(logger))
	r.Use(middleware.PrometheusMetrics(serviceName))
	r.Use(middleware.CORS(corsConfig))

	// Platform endpoints
	r.Get("/health/live", healthHandler.LivenessHandler())
	r.Get("/health/ready", healthHandler.ReadinessHandler())
	r.Handle("/metrics", promhttp.Handler())
	middleware.RegisterPprof(r, cfg.PprofAllowedCIDRs, logger)

	commentHandler := NewCommentHandler(commentService, logger)
	adminHandler := NewAdminHandler(authn, storage, limiter, cfg.EventsEnabled, logger)

	r.Route("/api/comments", func(r chi.Router) {
		r.Use(Availability(storage))
		r.Use(middleware.CacheControl("no-store"))

		r.Get("/", commentHandler.List)
		r.With(OriginCheck(cfg.AllowedOrigins, cfg.RequireOrigin, logger)).Post("/", commentHandler.Submit)
		r.Get("/health", adminHandler.Health)
		r.Post("/admin/session", adminHandler.IssueSession)

		// Moderation endpoints (bearer token required)
		r.Group(func(r chi.Router) {
			r.Use(middleware.Auth(authn.Validate, logger))

			r.Get("/audit", commentHandler.ListAudits)
			r.Patch("/{id}", commentHandler.UpdateStatus)
			r.Delete("/{id}", commentHandler.Delete)
			r.Post("/{id}/replies", commentHandler.CreateReply)
			r.Delete("/{id}/replies/{replyId}", commentHandler.DeleteReply)
		})
	})

	return r
}
