package service

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/codelens-dev/agentgate/internal/domain/event"
)

// Log is the append-only, monotonically indexed event record for one
// session. Indexes are assigned at append time under the log's lock, so they
// are 0-based, strictly increasing and gap-free regardless of concurrent
// appenders. The log is never truncated during the process lifetime.
type Log struct {
	mu      sync.RWMutex
	entries []event.Event
}

// NewLog creates an empty event log.
func NewLog() *Log {
	return &Log{}
}

// Append adds one normalized event and assigns its index.
func (l *Log) Append(eventType string, payload json.RawMessage) event.Event {
	l.mu.Lock()
	defer l.mu.Unlock()

	e := event.Event{
		Index:     int64(len(l.entries)),
		Type:      eventType,
		Payload:   payload,
		CreatedAt: time.Now(),
	}
	l.entries = append(l.entries, e)
	return e
}

// Since returns a copy of all events with index >= from. Negative cursors
// are clamped to 0.
func (l *Log) Since(from int64) []event.Event {
	if from < 0 {
		from = 0
	}

	l.mu.RLock()
	defer l.mu.RUnlock()

	if from >= int64(len(l.entries)) {
		return nil
	}
	out := make([]event.Event, int64(len(l.entries))-from)
	copy(out, l.entries[from:])
	return out
}

// Tail returns a copy of the last limit events.
func (l *Log) Tail(limit int) []event.Event {
	l.mu.RLock()
	defer l.mu.RUnlock()

	start := len(l.entries) - limit
	if start < 0 {
		start = 0
	}
	out := make([]event.Event, len(l.entries)-start)
	copy(out, l.entries[start:])
	return out
}

// Len returns the number of appended events, which is also the next index.
func (l *Log) Len() int64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return int64(len(l.entries))
}
