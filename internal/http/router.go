package httpserver

import (
	"context"
	"net/http"

	"github.com/civchange/pdf2psd-back/internal/http/handlers"
	"github.com/civchange/pdf2psd-back/internal/http/middleware"
	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
)

type RouterDependencies struct {
	API            *handlers.API
	Logger         zerolog.Logger
	JWTSecret      string
	CORSOrigins    []string
	RateLimitRPS   float64
	RateLimitBurst int
}

// NewRouter wires the public API. ctx bounds background middleware state.
func NewRouter(ctx context.Context, deps RouterDependencies) http.Handler {
	router := chi.NewRouter()
	router.Use(
		chimiddleware.RealIP,
		middleware.RequestID,
		middleware.Trace(deps.Logger),
		chimiddleware.Recoverer,
		middleware.CORS(middleware.CORSConfig{AllowedOrigins: deps.CORSOrigins}),
		middleware.RateLimit(ctx, deps.RateLimitRPS, deps.RateLimitBurst),
	)
	router.NotFound(handlers.NotFound)
	router.MethodNotAllowed(handlers.MethodNotAllowed)

	router.Get("/healthz", deps.API.Health)
	router.Get("/ws", deps.API.Progress)

	router.Route("/api", func(r chi.Router) {
		r.Post("/upload", deps.API.Upload)
		r.Get("/job/{jobId}", deps.API.JobStatus)
		r.Get("/download/{jobId}", deps.API.Download)

		r.Group(func(r chi.Router) {
			r.Use(middleware.Auth(deps.JWTSecret))
			r.Post("/convert", deps.API.Convert)
			r.Get("/user/account", deps.API.Account)
		})
	})

	return router
}
