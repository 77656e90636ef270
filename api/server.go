/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. RequestID:  Unique ID per request, echoed in logs
  2. RealIP:     Client address from proxy headers
  3. Logger:     zerolog request logging
  4. Metrics:    Prometheus request counter and latency (optional)
  5. Recoverer:  Panic recovery (500 instead of crash)
  6. CORS:       Cross-origin requests for the counter frontend

ROUTE GROUPS:
  /api/stock/*      Stock and explicit stock entries
  /api/purchases/*  Supplier purchases
  /api/sales/*      Sales and returns
  /api/audit        Ledger consistency check
  /healthz          Liveness
  /metrics          Prometheus exposition (when configured)

SEE ALSO:
  - handlers.go: Handler implementations
  - middleware.go: Logging and metrics middleware
  - cmd/server/main.go: Server startup
*/
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// RouterOptions configures NewRouter. The zero value serves the API with
// permissive CORS and no metrics.
type RouterOptions struct {
	AllowedOrigins []string
	Metrics        HTTPObserver
	MetricsHandler http.Handler
}

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, opts RouterOptions) *chi.Mux {
	r := chi.NewRouter()

	origins := opts.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(h.Logger))
	if opts.Metrics != nil {
		r.Use(instrument(opts.Metrics))
	}
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", "X-Request-Id"},
		ExposedHeaders: []string{"X-Request-Id"},
		MaxAge:         300,
	}))

	r.Get("/healthz", h.Health)
	if opts.MetricsHandler != nil {
		r.Handle("/metrics", opts.MetricsHandler)
	}

	// API routes
	r.Route("/api", func(r chi.Router) {
		// Stock routes
		r.Route("/stock", func(r chi.Router) {
			r.Get("/", h.ListStock)
			r.Post("/", h.CreateStockEntry)
			r.Get("/low", h.LowStock)
			r.Get("/{ref}", h.GetItem)
			r.Get("/{ref}/movements", h.GetMovements)
		})

		// Purchase routes
		r.Route("/purchases", func(r chi.Router) {
			r.Get("/", h.ListPurchases)
			r.Post("/", h.CreatePurchase)
		})

		// Sale routes
		r.Route("/sales", func(r chi.Router) {
			r.Get("/", h.ListSales)
			r.Post("/", h.CreateSale)
			r.Get("/{id}", h.GetSale)
			r.Post("/{id}/return", h.ReturnSale)
		})

		r.Get("/audit", h.Audit)
	})

	return r
}
