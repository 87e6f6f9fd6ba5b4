/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. RequestID:  Unique ID per request, included in every log line
  2. Logger:     zap request log, level by status class, plus request metrics
  3. Recoverer:  Panic recovery (500 instead of crash)
  4. CORS:       Cross-origin requests for the web client
  5. authenticate (protected group only): bearer token -> access.Session

ROUTE GROUPS:
  /api/register, POST /api/sessions, /api/ranks   public
  /api/scenarios/*                                 public, development only
  /api/me, /api/sessions (DELETE)                  any session
  /api/users/*                                     user administration
  /api/members/*                                   roster, statements, payments
  /health                                          store ping
  /metrics                                         Prometheus

SEE ALSO:
  - handlers.go: Handler implementations
  - middleware.go: request logger and authentication
  - cmd/server/main.go: Server startup
*/
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// RouterOptions carries the HTTP settings that come from configuration.
type RouterOptions struct {
	AllowedOrigins []string
}

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, opts RouterOptions) *chi.Mux {
	origins := opts.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(requestLogger(h.Log, h.Metrics))
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders: []string{"Content-Disposition"},
		MaxAge:         300,
	}))

	r.Get("/health", h.Health)
	r.Handle("/metrics", h.Metrics.Handler())

	// API routes
	r.Route("/api", func(r chi.Router) {
		r.Post("/register", h.Register)
		r.Post("/sessions", h.Login)
		r.Get("/ranks", h.ListRanks)

		if h.scenariosEnabled {
			r.Route("/scenarios", func(r chi.Router) {
				r.Get("/", h.ListScenarios)
				r.Get("/current", h.GetCurrentScenario)
				r.Post("/load", h.LoadScenario)
			})
		}

		r.Group(func(r chi.Router) {
			r.Use(h.authenticate)

			r.Delete("/sessions", h.Logout)
			r.Get("/me", h.Me)

			// User administration
			r.Route("/users", func(r chi.Router) {
				r.Get("/", h.ListUsers)
				r.Get("/pending-count", h.PendingCount)
				r.Post("/{uid}/approve", h.ApproveUser)
				r.Patch("/{uid}", h.UpdateUser)
				r.Delete("/{uid}", h.DeleteUser)
			})

			// Mess roster and dues
			r.Route("/members", func(r chi.Router) {
				r.Get("/", h.ListMembers)
				r.Post("/", h.CreateMember)
				r.Get("/export", h.ExportArrears)
				r.Get("/{id}", h.GetMember)
				r.Route("/{id}/fees/{year}", func(r chi.Router) {
					r.Post("/payments", h.RecordPayment)
					r.Delete("/payments/{index}", h.DeletePayment)
					r.Post("/overseas", h.ToggleOverseas)
				})
			})
		})
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "Route not found", nil)
	})

	return r
}
