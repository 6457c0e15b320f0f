package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// MountRoutes registers all API routes on the given chi router.
func MountRoutes(r chi.Router, h *Handlers) {
	r.Route("/api/v1", func(r chi.Router) {
		// Version
		r.Get("/", func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"version":"0.1.0"}`))
		})

		// Run-finished trigger
		r.Post("/runs/{id}/finished", h.RunFinished)

		// Progress and insights
		r.Get("/task-groups/{id}/progress", h.GetGroupProgress)
		r.Get("/teams/{id}/progress", h.GetTeamProgress)
		r.Get("/teams/{id}/readiness", h.GetTeamReadiness)
		r.Get("/teams/{id}/insights", h.GetTeamInsights)
	})
}
