// Package httpapi is desklined's HTTP surface: health, Prometheus metrics and
// a read-only REST mirror of the collections for browser widgets.
package httpapi

import (
	"context"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/matheus3301/deskline/internal/model"
	"github.com/matheus3301/deskline/internal/server"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Reader serves the REST mirror. *store.DB satisfies it.
type Reader interface {
	Select(ctx context.Context, q model.Query) ([]model.Row, error)
	PingContext(ctx context.Context) error
}

// Pinger is an optional dependency reported by /healthz.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Options configure the router.
type Options struct {
	Keys        server.KeySet
	CORSOrigins []string
	// Checks are extra named dependencies for /healthz, such as redis.
	Checks map[string]Pinger
}

// NewRouter creates and configures the HTTP router.
func NewRouter(db Reader, opts Options, logger *zap.Logger) *chi.Mux {
	r := chi.NewRouter()

	r.Use(Metrics)
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(Logger(logger))
	r.Use(chimw.Recoverer)

	origins := opts.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", apiKeyHeader},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	h := &handler{db: db, keys: opts.Keys, checks: opts.Checks, logger: logger}

	r.Handle("/metrics", promhttp.Handler())
	r.Get("/healthz", h.health)

	r.Group(func(r chi.Router) {
		r.Use(h.requireKey)
		r.Get("/rest/v1/{collection}", h.list)
	})

	return r
}
