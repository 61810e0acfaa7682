package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"pixproxy/internal/http/handlers"
	"pixproxy/internal/infra"
	"pixproxy/internal/metrics"
	"pixproxy/internal/middleware"
)

// Options carries the cross-cutting settings for the router.
type Options struct {
	Logger          infra.Logger
	Metrics         *metrics.Collector
	AllowedOrigins  []string
	RateLimitPerMin int
}

func NewRouter(app *handlers.App, opts Options) http.Handler {
	r := chi.NewRouter()

	// Base middleware
	r.Use(
		middleware.RequestID,
		chimw.RealIP,
		chimw.Recoverer,
		middleware.Logger(opts.Logger, opts.Metrics),
		middleware.CORS(opts.AllowedOrigins),
	)

	r.NotFound(app.NotFound)
	r.MethodNotAllowed(app.MethodNotAllowed)

	r.Get("/v1/healthz", app.Health)
	if opts.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", opts.Metrics.Handler())
	}

	r.Route("/api", func(r chi.Router) {
		r.Get("/test", app.Test)
		r.Group(func(r chi.Router) {
			r.Use(middleware.RateLimit(opts.RateLimitPerMin, time.Minute))
			r.Post("/generate-prompt", app.GeneratePrompt)
			r.Post("/generate-image", app.GenerateImage)
		})
	})

	return r
}
