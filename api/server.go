/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. Logger:     Request logging
  2. Recoverer:  Panic recovery (500 instead of crash)
  3. RequestID:  Unique ID per request for tracing
  4. CORS:       Cross-origin requests for the billing UI

ROUTE GROUPS:
  /api/workspaces/{ws}/invoices/*   Invoice creation, generation, export
  /api/workspaces/{ws}/customers    Customer records
  /api/workspaces/{ws}/lessons      Billable lessons
  /api/invoices/{id}/*              Single-invoice reads, edits, transitions
  /api/scenarios/*                  Demo scenarios

SECURITY NOTE:
  No authentication middleware. All endpoints are public.

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// NewRouter creates a router with all routes configured. An empty
// allowedOrigins allows any origin.
func NewRouter(h *Handler, allowedOrigins []string) *chi.Mux {
	if len(allowedOrigins) == 0 {
		allowedOrigins = []string{"*"}
	}

	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: allowedOrigins,
		AllowedMethods: []string{"GET", "POST", "PATCH", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders: []string{"Content-Disposition"},
	}))

	r.Route("/api", func(r chi.Router) {
		r.Route("/workspaces/{ws}", func(r chi.Router) {
			r.Route("/invoices", func(r chi.Router) {
				r.Get("/", h.ListInvoices)
				r.Post("/", h.CreateInvoice)
				r.Post("/generate", h.GenerateInvoices)
				r.Get("/next-number", h.NextNumber)
				r.Get("/export.csv", h.ExportCSV)
			})
			r.Get("/customers", h.ListCustomers)
			r.Post("/customers", h.CreateCustomer)
			r.Get("/lessons", h.ListLessons)
			r.Post("/lessons", h.CreateLesson)
		})

		r.Route("/invoices/{id}", func(r chi.Router) {
			r.Get("/", h.GetInvoice)
			r.Patch("/", h.UpdateInvoice)
			r.Post("/status", h.UpdateStatus)
		})

		r.Route("/scenarios", func(r chi.Router) {
			r.Get("/", h.ListScenarios)
			r.Get("/current", h.GetCurrentScenario)
			r.Post("/load", h.LoadScenario)
		})
	})

	return r
}
