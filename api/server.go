/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. RequestID:  Unique ID per request for tracing
  2. Logger:     Request logging
  3. Recoverer:  Panic recovery (500 instead of crash)
  4. CORS:       Cross-origin requests for frontend
  5. httprate:   Per-IP limit on transaction writes

ROUTE GROUPS:
  /api/customers/*       Customer accounts, history, drift, repair
  /api/transactions/*    Sales and payments, receipts
  /api/products, /api/routes  Catalog
  /api/dashboard         Range summary
  /api/reports/*         Spreadsheet export
  /api/reconciliation/*  Replay-based verification
  /api/scenarios/*       Demo scenarios

SECURITY NOTE:
  No authentication middleware. All endpoints are public.

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
)

// RouterOptions tune the router. A zero RateLimit disables limiting.
type RouterOptions struct {
	AllowedOrigins []string
	// RateLimit is requests per minute per client IP on transaction writes.
	RateLimit int
}

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, opts RouterOptions) *chi.Mux {
	if len(opts.AllowedOrigins) == 0 {
		opts.AllowedOrigins = []string{"http://localhost:5173", "http://localhost:8080"}
	}

	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   opts.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "Idempotency-Key"},
		AllowCredentials: true,
	}))

	writeLimit := func(next http.Handler) http.Handler { return next }
	if opts.RateLimit > 0 {
		writeLimit = httprate.Limit(opts.RateLimit, time.Minute, httprate.WithKeyFuncs(httprate.KeyByIP))
	}

	// API routes
	r.Route("/api", func(r chi.Router) {
		// Customer routes
		r.Route("/customers", func(r chi.Router) {
			r.Get("/", h.ListCustomers)
			r.Post("/", h.CreateCustomer)
			r.Get("/{id}", h.GetCustomer)
			r.Put("/{id}", h.UpdateCustomer)
			r.Get("/{id}/transactions", h.GetCustomerTransactions)
			r.Get("/{id}/drift", h.GetCustomerDrift)
			r.Post("/{id}/reconcile", h.ReconcileCustomer)
		})

		// Transaction routes
		r.Route("/transactions", func(r chi.Router) {
			r.With(writeLimit).Post("/", h.RecordTransaction)
			r.Get("/{id}", h.GetTransaction)
			r.Get("/{id}/receipt", h.GetReceipt)
		})

		// Catalog routes
		r.Get("/products", h.ListProducts)
		r.Post("/products", h.CreateProduct)
		r.Get("/routes", h.ListRoutes)
		r.Post("/routes", h.CreateRoute)

		// Report routes
		r.Get("/dashboard", h.GetDashboard)
		r.Get("/reports/transactions.xlsx", h.ExportTransactions)

		// Reconciliation routes
		r.Route("/reconciliation", func(r chi.Router) {
			r.Post("/run", h.RunReconciliation)
			r.Get("/runs", h.ListReconciliationRuns)
		})

		// Scenario routes
		r.Route("/scenarios", func(r chi.Router) {
			r.Get("/", h.ListScenarios)
			r.Get("/current", h.GetCurrentScenario)
			r.Post("/load", h.LoadScenario)
			r.Post("/reset", h.ResetDatabase)
		})
	})

	return r
}
