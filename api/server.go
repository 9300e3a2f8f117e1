/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. Logger:     Request logging
  2. Recoverer:  Panic recovery (500 instead of crash)
  3. RequestID:  Unique ID per request for tracing
  4. CORS:       Cross-origin requests for the dapp frontend

ROUTE GROUPS:
  /api/session        Wallet connection
  /api/sync           Manual refresh
  /api/properties/*   Explore view, listing, reservation, quotes
  /api/listings       Owner view
  /api/reservations   Tenant view
  /api/bookings/*     Booking lifecycle
  /api/pending        In-flight operations
  /api/ledger/*       Dev ledger transaction log
  /api/events         Websocket notices
  /api/scenarios/*    Demo scenarios

SECURITY NOTE:
  No authentication. Whoever reaches the server acts as the connected
  wallet. Meant for local development against the dev ledger.

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

// DefaultAllowedOrigins are the dev servers of the dapp frontend.
var DefaultAllowedOrigins = []string{"http://localhost:3000", "http://localhost:5173", "http://localhost:8080"}

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, allowedOrigins []string) *chi.Mux {
	if len(allowedOrigins) == 0 {
		allowedOrigins = DefaultAllowedOrigins
	}

	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	r.Route("/api", func(r chi.Router) {
		// Session routes
		r.Route("/session", func(r chi.Router) {
			r.Get("/", h.GetSession)
			r.Post("/", h.Connect)
			r.Delete("/", h.Disconnect)
		})
		r.Post("/sync/refresh", h.Refresh)

		// Property routes
		r.Route("/properties", func(r chi.Router) {
			r.Get("/", h.Explore)
			r.Post("/", h.ListProperty)
			r.Post("/{id}/deactivate", h.DeactivateProperty)
			r.Post("/{id}/reserve", h.Reserve)
			r.Get("/{id}/quote", h.QuoteStay)
		})
		r.Get("/listings", h.Listings)

		// Booking routes
		r.Get("/reservations", h.Reservations)
		r.Route("/bookings", func(r chi.Router) {
			r.Post("/{id}/confirm", h.ConfirmBooking)
			r.Post("/{id}/cancel", h.CancelBooking)
			r.Post("/{id}/modify", h.ModifyBooking)
			r.Get("/{id}/price", h.BookingPrice)
		})

		// Ledger routes
		r.Get("/pending", h.ListPending)
		r.Get("/ledger/transactions", h.ListTransactions)
		r.Get("/events", h.Events.ServeWS)

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
