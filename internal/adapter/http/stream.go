package http

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"
)

// handleEventStream serves a session's event log over SSE. Delivery is
// at-least-once, in-order and gap-free from any valid cursor: the backlog at
// or after fromIndex is flushed first, then newly appended events are polled
// at a short fixed interval for the lifetime of the connection. Heartbeat
// comment lines keep idle connections alive through proxies.
func (h *Handlers) handleEventStream(w http.ResponseWriter, r *http.Request) {
	sessionID := urlParam(r, "id")

	log, err := h.Registry.EventLog(sessionID)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	cursor, _ := strconv.ParseInt(r.URL.Query().Get("fromIndex"), 10, 64)
	if cursor < 0 {
		cursor = 0
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	slog.Info("event stream opened", "session_id", sessionID, "from_index", cursor)

	poll := time.NewTicker(h.Stream.PollInterval)
	defer poll.Stop()
	heartbeat := time.NewTicker(h.Stream.Heartbeat)
	defer heartbeat.Stop()

	ctx := r.Context()
	for {
		for _, e := range log.Since(cursor) {
			data, err := json.Marshal(e)
			if err != nil {
				slog.Error("event marshal failed", "session_id", sessionID, "index", e.Index, "error", err)
				continue
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", e.Type, data)
			cursor = e.Index + 1
			if h.Metrics != nil {
				h.Metrics.StreamDelivered.Add(ctx, 1)
			}
		}
		flusher.Flush()

		select {
		case <-ctx.Done():
			slog.Info("event stream closed", "session_id", sessionID, "next_index", cursor)
			return
		case <-heartbeat.C:
			fmt.Fprint(w, ": heartbeat\n\n")
			flusher.Flush()
		case <-poll.C:
		}
	}
}
