package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"golang.org/x/time/rate"
)

// RouterConfig holds the cross-cutting HTTP settings.
type RouterConfig struct {
	AllowedOrigins []string
	// UploadRate and UploadBurst bound uploads per client IP.
	UploadRate  rate.Limit
	UploadBurst int
}

// DefaultRouterConfig allows any origin and one upload every two seconds per IP.
func DefaultRouterConfig() RouterConfig {
	return RouterConfig{
		AllowedOrigins: []string{"*"},
		UploadRate:     rate.Limit(0.5),
		UploadBurst:    5,
	}
}

// NewRouter mounts every route on a chi router.
func NewRouter(h *Handler, cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	c := cors.New(cors.Options{
		AllowedOrigins: cfg.AllowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"*"},
		ExposedHeaders: []string{"X-Request-ID"},
	})

	r.Use(RequestID(h.logger))
	r.Use(c.Handler)

	r.Get("/healthz", h.Health)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Get("/view", h.View)
		r.Get("/camps", h.Camps)
		r.Get("/camps/comparison", h.CampComparison)
		r.Get("/kingdoms", h.Kingdoms)
		r.Get("/kingdoms/{kd}", h.Kingdom)
		r.Get("/players", h.Players)
		r.Get("/status", h.Status)
		r.Get("/queue", h.QueueDepth)

		r.Group(func(r chi.Router) {
			r.Use(RateLimit(NewIPRateLimiter(cfg.UploadRate, cfg.UploadBurst)))
			r.Post("/uploads", h.Upload)
		})

		r.Route("/admin", func(r chi.Router) {
			r.Post("/cache/clear", h.ClearCache)
			r.Post("/clear-events", h.ClearEvents)
			r.Post("/reset", h.Reset)
			r.Post("/rebuild", h.Rebuild)
		})
	})

	return r
}
