// Package session defines the session entity and its client-facing derived state.
package session

import "time"

// Activity summarizes what a session is currently doing. It is the small
// stable enum exposed to clients, regardless of how the upstream runtime
// describes its own state.
type Activity string

const (
	ActivityIdle              Activity = "idle"
	ActivityBusy              Activity = "busy"
	ActivityRetry             Activity = "retry"
	ActivityWaitingPermission Activity = "waiting_permission"
	ActivityError             Activity = "error"
)

// TokenUsage holds per-category token counts for one assistant message.
type TokenUsage struct {
	Input      int64 `json:"input"`
	Output     int64 `json:"output"`
	Reasoning  int64 `json:"reasoning"`
	CacheRead  int64 `json:"cacheRead"`
	CacheWrite int64 `json:"cacheWrite"`
}

// Add returns the element-wise sum of u and o.
func (u TokenUsage) Add(o TokenUsage) TokenUsage {
	return TokenUsage{
		Input:      u.Input + o.Input,
		Output:     u.Output + o.Output,
		Reasoning:  u.Reasoning + o.Reasoning,
		CacheRead:  u.CacheRead + o.CacheRead,
		CacheWrite: u.CacheWrite + o.CacheWrite,
	}
}

// Usage is the token/cost snapshot for a single assistant message, keyed by
// message id. Messages can be revised upstream, so totals are always
// recomputed as the sum over the latest entry per message rather than
// accumulated incrementally.
type Usage struct {
	Tokens TokenUsage `json:"tokens"`
	Cost   float64    `json:"cost"`
}

// Totals aggregates usage over all known message entries of a session.
type Totals struct {
	Tokens   TokenUsage `json:"tokens"`
	Cost     float64    `json:"cost"`
	Messages int        `json:"messages"`
}

// Retry records the most recent retry notice reported by the upstream runtime.
type Retry struct {
	Message string    `json:"message"`
	Attempt int       `json:"attempt"`
	At      time.Time `json:"at"`
}

// Permission is one outstanding approval request surfaced by the upstream
// runtime. Its presence drives the waiting_permission activity.
type Permission struct {
	ID        string         `json:"id"`
	Title     string         `json:"title"`
	Kind      string         `json:"kind"`
	CallID    string         `json:"callId,omitempty"`
	MessageID string         `json:"messageId,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	CreatedAt time.Time      `json:"createdAt"`
}

// Session is one conversation against one project root. The id is assigned
// by the upstream runtime; projectRoot is the dedup key for reuse.
type Session struct {
	ID            string    `json:"sessionId"`
	ProjectRoot   string    `json:"projectRoot"`
	Source        string    `json:"source,omitempty"`
	Profile       string    `json:"profile,omitempty"`
	CreatedAt     time.Time `json:"createdAt"`
	UpdatedAt     time.Time `json:"updatedAt"`
	LastEventAt   time.Time `json:"lastEventAt"`
	Activity      Activity  `json:"activity"`
	CurrentAction string    `json:"currentAction,omitempty"`
	ContextWindow int64     `json:"contextWindow,omitempty"`
	Totals        Totals    `json:"usageTotals"`
	LastRetry     *Retry    `json:"lastRetry,omitempty"`
}
