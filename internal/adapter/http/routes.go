package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// MountRoutes registers the gateway's client-facing surface on the router.
// Everything lives under /internal: this server binds to loopback and is not
// meant to be exposed beyond the developer's machine.
func (h *Handlers) MountRoutes(r chi.Router) {
	r.Get("/internal/health", h.handleHealth)

	r.Route("/internal/sessions", func(r chi.Router) {
		r.Post("/", h.handleCreateSession)

		r.Route("/{id}", func(r chi.Router) {
			r.Post("/prompt-async", h.handlePromptAsync)
			r.Post("/permissions/{permissionId}", h.handlePermissionReply)
			r.Get("/permissions", h.handlePermissions)
			r.Get("/history", h.handleHistory)
			r.Get("/status", h.handleStatus)
			r.Get("/diff", h.handleDiff)
			r.Post("/commands", h.handleCommand)
			r.Get("/events", h.handleEventStream)
			r.Get("/events/ws", h.handleEventsWS)
		})
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "route not found")
	})
}
