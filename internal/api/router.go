package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"

	"github.com/ashureev/shsh-tutor/internal/metrics"
	"github.com/ashureev/shsh-tutor/internal/middleware"
)

// RouterOptions configures NewRouter.
type RouterOptions struct {
	CORSOrigins       []string
	RateLimitRequests int
	RateLimitWindow   time.Duration
	// Frontend, when set, serves every path not matched by the API.
	Frontend http.Handler
}

// NewRouter wires the API, health and metrics routes behind the global
// middleware stack.
func NewRouter(h *Handler, health *HealthHandler, m *metrics.Metrics, opts RouterOptions) chi.Router {
	r := chi.NewRouter()

	// Global middleware.
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/ping"))
	r.Use(middleware.CORS(opts.CORSOrigins))
	r.Use(h.issuer.Middleware)

	// Public routes.
	health.RegisterHealth(r)
	if m != nil {
		r.Method(http.MethodGet, "/metrics", m.Handler())
	}

	r.Route("/api", func(r chi.Router) {
		if opts.RateLimitRequests > 0 && opts.RateLimitWindow > 0 {
			r.Use(httprate.Limit(
				opts.RateLimitRequests,
				opts.RateLimitWindow,
				httprate.WithKeyFuncs(h.rateLimitKey),
				httprate.WithLimitHandler(func(w http.ResponseWriter, _ *http.Request) {
					Error(w, http.StatusTooManyRequests, "rate limit exceeded")
				}),
			))
		}
		h.RegisterRoutes(r)
	})

	if opts.Frontend != nil {
		r.Handle("/*", opts.Frontend)
	}

	return r
}

// rateLimitKey buckets requests by session cookie, falling back to client IP
// for callers without a session.
func (h *Handler) rateLimitKey(r *http.Request) (string, error) {
	if sid, ok := h.issuer.FromRequest(r); ok {
		return "session:" + sid, nil
	}
	return httprate.KeyByIP(r)
}
