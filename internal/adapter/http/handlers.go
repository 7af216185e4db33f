package http

import (
	"net/http"
	"time"

	"github.com/codelens-dev/agentgate/internal/adapter/otel"
	"github.com/codelens-dev/agentgate/internal/adapter/ws"
	"github.com/codelens-dev/agentgate/internal/config"
	"github.com/codelens-dev/agentgate/internal/service"
)

// Handlers holds the HTTP handler dependencies.
type Handlers struct {
	Registry    *service.Registry
	WS          *ws.Streamer
	History     config.History
	Stream      config.Stream
	Metrics     *otel.Metrics
	UpstreamURL string
	StartedAt   time.Time
}

// handleHealth reports the gateway's own liveness plus the upstream runtime
// it fronts.
func (h *Handlers) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"wrapper":   "agentgate",
		"opencode":  h.UpstreamURL,
		"startedAt": h.StartedAt.Format(time.RFC3339),
	})
}
