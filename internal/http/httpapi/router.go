package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/imaginethisprinted/aistudio/internal/http/handlers"
	"github.com/imaginethisprinted/aistudio/internal/infra"
	"github.com/imaginethisprinted/aistudio/internal/middleware"
)

// Options configures the cross-cutting middleware of the router.
type Options struct {
	Logger         infra.Logger
	AllowedOrigins []string
	// RateLimitPerMin caps calls to endpoints that trigger paid model runs.
	RateLimitPerMin int
	// StaticDir, when set, is served under /static for the filesystem storage driver.
	StaticDir string
}

func NewRouter(app *handlers.App, opts Options) http.Handler {
	r := chi.NewRouter()

	r.Use(
		middleware.RequestID,
		chimw.RealIP,
		chimw.Recoverer,
		middleware.Logger(opts.Logger),
		middleware.CORS(opts.AllowedOrigins),
	)

	// Health
	r.Get("/v1/healthz", app.Health)

	r.Post("/webhooks/stripe", app.StripeWebhook)

	paid := middleware.RateLimit(rateLimit(opts.RateLimitPerMin), time.Minute)
	r.Route("/ai/products", func(r chi.Router) {
		r.With(paid).Post("/", app.CreateProduct)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/status", app.ProductStatus)
			r.With(paid).Post("/remove-background", app.RemoveBackground)
			r.With(paid).Post("/mockups", app.CreateMockups)
			r.With(paid).Post("/upscale", app.Upscale)
			r.With(paid).Post("/regenerate", app.Regenerate)
			r.Post("/approve", app.ApproveProduct)
			r.Delete("/assets/{assetID}", app.DeleteAsset)
		})
	})

	if opts.StaticDir != "" {
		fs := http.StripPrefix("/static/", http.FileServer(http.Dir(opts.StaticDir)))
		r.Get("/static/*", fs.ServeHTTP)
	}

	return r
}

func rateLimit(perMin int) int {
	if perMin <= 0 {
		return 30
	}
	return perMin
}
