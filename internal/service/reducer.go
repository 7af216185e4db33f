package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/codelens-dev/agentgate/internal/domain/event"
	"github.com/codelens-dev/agentgate/internal/domain/session"
)

// Dispatch routes one raw upstream envelope to the owning session: it appends
// the event verbatim to the session's log and applies the derived-state
// mutation for recognized event types. Events without a session id, or for
// sessions this gateway does not own, are dropped. A payload that fails to
// decode is still appended for audit; only the mutation is skipped.
func (g *Registry) Dispatch(ctx context.Context, env event.Envelope) {
	dec, err := event.Decode(env)

	sessionID := dec.SessionID
	if err != nil {
		sessionID = event.SniffSessionID(env.Properties)
	}
	if sessionID == "" {
		return
	}

	g.mu.RLock()
	st := g.sessions[sessionID]
	g.mu.RUnlock()
	if st == nil {
		return
	}

	st.log.Append(env.Type, env.Properties)
	if g.metrics != nil {
		g.metrics.EventsAppended.Add(ctx, 1)
	}

	now := time.Now()

	st.mu.Lock()
	defer st.mu.Unlock()

	st.sess.LastEventAt = now
	st.sess.UpdatedAt = now

	if err != nil {
		slog.Warn("unexpected event payload",
			"session_id", sessionID, "event_type", env.Type, "error", err)
		return
	}

	switch dec.Kind {
	case event.KindPermissionRequested:
		st.applyPermissionRequested(dec.Permission, now)
	case event.KindPermissionReplied:
		st.applyPermissionReplied(dec.PermissionReply)
	case event.KindSessionStatus:
		st.applySessionStatus(dec.Status, now)
	case event.KindMessageUpdated:
		st.applyMessageUpdated(dec.Message)
	case event.KindPartUpdated:
		st.applyPartUpdated(dec.Part)
	case event.KindSessionIdle:
		st.sess.Activity = session.ActivityIdle
		st.sess.CurrentAction = ""
		st.sess.LastRetry = nil
	case event.KindSessionCompacted:
		st.sess.Activity = session.ActivityIdle
		st.sess.CurrentAction = "Context compacted"
	case event.KindSessionError:
		st.sess.Activity = session.ActivityError
		st.sess.CurrentAction = dec.Error.Message
	}
}

func (s *sessionState) applyPermissionRequested(p *event.PermissionRequested, now time.Time) {
	s.permissions[p.ID] = session.Permission{
		ID:        p.ID,
		Title:     p.Title,
		Kind:      p.Kind,
		CallID:    p.CallID,
		MessageID: p.MessageID,
		Metadata:  p.Metadata,
		CreatedAt: now,
	}
	s.sess.Activity = session.ActivityWaitingPermission
	s.sess.CurrentAction = "Waiting approval: " + p.Title
}

func (s *sessionState) applyPermissionReplied(p *event.PermissionReplied) {
	delete(s.permissions, p.PermissionID)
	if len(s.permissions) == 0 && s.sess.Activity == session.ActivityWaitingPermission {
		s.sess.Activity = session.ActivityBusy
		s.sess.CurrentAction = "Continuing after approval"
	}
}

func (s *sessionState) applySessionStatus(st *event.SessionStatus, now time.Time) {
	switch st.Type {
	case "busy":
		s.sess.LastRetry = nil
		s.sess.Activity = session.ActivityBusy
		s.sess.CurrentAction = "Processing request"
	case "retry":
		s.sess.LastRetry = &session.Retry{Message: st.Message, Attempt: st.Attempt, At: now}
		s.sess.Activity = session.ActivityRetry
		s.sess.CurrentAction = fmt.Sprintf("%s (attempt %d)", st.Message, st.Attempt)
	default:
		s.sess.LastRetry = nil
		s.sess.Activity = session.ActivityIdle
		s.sess.CurrentAction = ""
	}
}

func (s *sessionState) applyMessageUpdated(m *event.MessageUpdated) {
	if m.Role != "assistant" {
		return
	}

	switch {
	case m.Error != "":
		s.sess.Activity = session.ActivityError
		s.sess.CurrentAction = m.Error
	case m.Completed:
		s.sess.Activity = session.ActivityIdle
		s.sess.CurrentAction = "Idle"
	default:
		s.sess.Activity = session.ActivityBusy
		s.sess.CurrentAction = "Generating answer"
	}

	// The usage entry for this message id is replaced, not accumulated, and
	// totals are recomputed as the sum over the latest entry per message.
	// Upstream revises messages in place; incremental adds would double-count.
	s.usage[m.ID] = session.Usage{
		Tokens: session.TokenUsage{
			Input:      m.Tokens.Input,
			Output:     m.Tokens.Output,
			Reasoning:  m.Tokens.Reasoning,
			CacheRead:  m.Tokens.CacheRead,
			CacheWrite: m.Tokens.CacheWrite,
		},
		Cost: m.Cost,
	}

	var totals session.Totals
	for _, u := range s.usage {
		totals.Tokens = totals.Tokens.Add(u.Tokens)
		totals.Cost += u.Cost
		totals.Messages++
	}
	s.sess.Totals = totals

	if m.ContextWindow > 0 {
		s.sess.ContextWindow = m.ContextWindow
	}
}

func (s *sessionState) applyPartUpdated(p *event.PartUpdated) {
	switch p.PartType {
	case "tool":
		tool := p.Tool
		if tool == "" {
			tool = "tool"
		}
		switch p.ToolState {
		case "error":
			s.sess.Activity = session.ActivityError
			s.sess.CurrentAction = tool + " failed"
		case "completed":
			s.sess.Activity = session.ActivityBusy
			s.sess.CurrentAction = tool + " completed"
		default:
			s.sess.Activity = session.ActivityBusy
			s.sess.CurrentAction = fmt.Sprintf("%s: %s", tool, p.ToolState)
		}
	case "compaction":
		s.sess.Activity = session.ActivityBusy
		s.sess.CurrentAction = "Compacting context"
	}
}
