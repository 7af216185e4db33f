// Package ws mirrors a session's event log over WebSocket for clients that
// prefer a bidirectional transport to SSE. Delivery semantics are identical:
// in-order, gap-free replay from a client-supplied cursor, then live tail.
package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/coder/websocket"

	"github.com/codelens-dev/agentgate/internal/service"
)

// Message is the envelope for all frames sent to WebSocket clients.
type Message struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// Streamer serves per-session event streams over WebSocket.
type Streamer struct {
	registry *service.Registry
	poll     time.Duration
	ping     time.Duration
}

// NewStreamer creates a Streamer polling the session log at the given
// interval and pinging idle connections at the heartbeat interval.
func NewStreamer(registry *service.Registry, poll, ping time.Duration) *Streamer {
	return &Streamer{registry: registry, poll: poll, ping: ping}
}

// Handle upgrades the request and streams the session's events. The cursor
// comes from the fromIndex query parameter, defaulting to 0; negative values
// are clamped by the log itself.
func (s *Streamer) Handle(w http.ResponseWriter, r *http.Request, sessionID string) {
	log, err := s.registry.EventLog(sessionID)
	if err != nil {
		http.NotFound(w, r)
		return
	}

	cursor, _ := strconv.ParseInt(r.URL.Query().Get("fromIndex"), 10, 64)

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true, // CORS handled by middleware
	})
	if err != nil {
		slog.Error("websocket accept failed", "session_id", sessionID, "error", err)
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	slog.Info("websocket stream opened",
		"session_id", sessionID, "from_index", cursor, "remote", r.RemoteAddr)

	// Read loop: detects disconnects and consumes control frames. Clients
	// send nothing meaningful on this socket.
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.Read(ctx); err != nil {
				return
			}
		}
	}()

	defer conn.Close(websocket.StatusNormalClosure, "")

	poll := time.NewTicker(s.poll)
	defer poll.Stop()
	ping := time.NewTicker(s.ping)
	defer ping.Stop()

	for {
		for _, e := range log.Since(cursor) {
			payload, err := json.Marshal(e)
			if err != nil {
				slog.Error("event marshal failed", "session_id", sessionID, "error", err)
				continue
			}
			frame, _ := json.Marshal(Message{Type: e.Type, Payload: payload})
			if err := conn.Write(ctx, websocket.MessageText, frame); err != nil {
				slog.Debug("websocket write failed", "session_id", sessionID, "error", err)
				return
			}
			cursor = e.Index + 1
		}

		select {
		case <-ctx.Done():
			slog.Info("websocket stream closed", "session_id", sessionID)
			return
		case <-ping.C:
			if err := conn.Ping(ctx); err != nil {
				return
			}
		case <-poll.C:
		}
	}
}
