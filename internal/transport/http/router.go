package http

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"

	"keygate/internal/config"
	apperrors "keygate/internal/errors"
	"keygate/internal/middleware"
)

// RouterDeps are the collaborators the router mounts
type RouterDeps struct {
	Activation ActivationService
	Status     StatusService
	Notifier   StatusNotifier
	// WebSocket serves /ws when set
	WebSocket http.Handler
	// Metrics serves /metrics when set
	Metrics http.Handler
	// OTel instruments every request when set
	OTel   *middleware.OTelMiddleware
	Server config.ServerConfig
	Logger *slog.Logger
	// IncludeStack adds stack traces to panic problems
	IncludeStack bool
}

// NewRouter builds the local API
func NewRouter(deps RouterDeps) http.Handler {
	logger := deps.Logger
	errHandler := apperrors.NewErrorHandler(logger, deps.IncludeStack)

	var limiter *middleware.RateLimiter
	if deps.Server.RateLimit.Enabled {
		limiter = middleware.NewRateLimiter(deps.Server.RateLimit.RPS, deps.Server.RateLimit.Burst, logger)
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	if deps.OTel != nil {
		r.Use(deps.OTel.Handler)
	}
	r.Use(middleware.StructuredLogger(logger))
	r.Use(errHandler.Recoverer)
	r.Use(middleware.SecurityHeaders)
	r.Use(middleware.CORS(middleware.CORSConfig{
		AllowedOrigins: deps.Server.AllowedOrigins,
		Logger:         logger,
	}))

	health := NewHealthHandler(deps.Status, logger)
	r.Get("/healthz", health.Liveness)
	r.Get("/readyz", health.Readiness)

	if deps.Metrics != nil {
		r.Handle("/metrics", deps.Metrics)
	}
	if deps.WebSocket != nil {
		r.Handle("/ws", deps.WebSocket)
	}

	r.Route("/api", func(r chi.Router) {
		r.Use(render.SetContentType(render.ContentTypeJSON))

		activation := NewActivationHandler(deps.Activation, deps.Status, deps.Notifier, limiter, errHandler, logger)
		r.Mount("/activation", activation.Routes())
		r.Post("/client-log", NewClientLogHandler(logger).Handle)
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		render.Render(w, r, apperrors.NewProblemDetails(
			http.StatusNotFound, "/errors/not-found", "Not Found", "", r.URL.Path))
	})

	return r
}

// NewServer wraps the router in an http.Server with the configured timeouts
func NewServer(cfg config.ServerConfig, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:         cfg.Addr,
		Handler:      handler,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}
}
