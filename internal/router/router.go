package router

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"

	"nibras-backend/internal/handlers"
	"nibras-backend/internal/identity"
	"nibras-backend/internal/metrics"
	"nibras-backend/internal/middleware"
)

type Deps struct {
	Logger         zerolog.Logger
	Verifier       identity.Verifier
	Limiter        middleware.Limiter
	Metrics        *metrics.Metrics
	ChatHandler    *handlers.ChatHandler
	HealthHandler  *handlers.HealthHandler
	ChatSocket     http.Handler
	FrontendOrigin string
}

func New(d Deps) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.RealIP)
	r.Use(hlog.NewHandler(d.Logger))
	r.Use(middleware.RequestID)
	r.Use(hlog.AccessHandler(func(r *http.Request, status, size int, duration time.Duration) {
		hlog.FromRequest(r).Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", status).
			Int("size", size).
			Dur("duration", duration).
			Msg("request")
	}))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{d.FrontendOrigin},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Authorization", "Content-Type", middleware.RequestIDHeader},
		ExposedHeaders:   []string{middleware.RequestIDHeader, "Retry-After"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/health", d.HealthHandler.Health)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/api/chat", func(r chi.Router) {
		// auth runs first so the limiter can key on the verified subject
		r.Use(middleware.OptionalAuth(d.Verifier))
		if d.Limiter != nil {
			r.Use(middleware.RateLimit(d.Limiter, d.Metrics))
		}
		r.Post("/", d.ChatHandler.Chat)
		if d.ChatSocket != nil {
			r.Method(http.MethodGet, "/ws", d.ChatSocket)
		}
	})

	return r
}
