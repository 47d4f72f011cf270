// Package api wires the HTTP routes and middleware stack.
package api

import (
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/taskpilot/taskpilot/internal/api/handlers"
	"github.com/taskpilot/taskpilot/internal/api/middleware"
)

// NewRouter builds the chi router with the full middleware stack and all
// API routes.
func NewRouter(h *handlers.Handlers) *chi.Mux {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(middleware.Logger)
	r.Use(middleware.UserExtractor)
	r.Use(middleware.Telemetry)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", "X-User-Id"},
		ExposedHeaders:   []string{"X-Request-Id"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Get("/health", h.Health)
	r.Get("/version", h.Version)

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/chat/{threadID}", func(r chi.Router) {
			r.Get("/", h.GetThread)
			r.Post("/messages", h.SendMessage)
			r.Post("/confirm", h.ConfirmAction)
		})

		r.Route("/tasks", func(r chi.Router) {
			r.Get("/", h.ListTasks)
			r.Post("/analyze/batch", h.AnalyzeBatch)

			r.Route("/{taskID}", func(r chi.Router) {
				r.Get("/", h.GetTask)
				r.Post("/analyze", h.AnalyzeTask)
				r.Get("/suggestions", h.GetSuggestions)
				r.Post("/suggestions/approve", h.ApproveSuggestions)
				r.Post("/suggestions/reject", h.RejectSuggestions)
			})
		})
	})

	return r
}
