// Package event defines the normalized gateway event log entry and the
// decoding of raw upstream runtime events into a closed variant set.
package event

import (
	"encoding/json"
	"time"
)

// Log entry types appended by the gateway itself, in addition to the
// upstream types passed through verbatim.
const (
	TypeSessionCreated  = "session.created"
	TypeCommandExecuted = "command.executed"
)

// Event is a single normalized occurrence belonging to exactly one session.
// Index is 0-based, strictly increasing per session and gap-free; it is the
// only valid resumption cursor for streaming clients.
type Event struct {
	Index     int64           `json:"index"`
	Type      string          `json:"eventType"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	CreatedAt time.Time       `json:"createdAt"`
}
