package service

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/codelens-dev/agentgate/internal/domain"
	"github.com/codelens-dev/agentgate/internal/domain/diff"
	"github.com/codelens-dev/agentgate/internal/domain/event"
	"github.com/codelens-dev/agentgate/internal/domain/session"
)

// CommandResult is the dispatcher's uniform response shape.
type CommandResult struct {
	Command string `json:"command"`
	Result  any    `json:"result"`
}

// ExecuteCommand runs one client command against a session. Commands are
// matched case-insensitively after trimming; each maps to a single upstream
// call scoped to the session's project root. compact and abort set activity
// optimistically before the runtime's own status events arrive. Every
// successful command appends a command.executed event to the session's log.
func (g *Registry) ExecuteCommand(ctx context.Context, sessionID, command string) (CommandResult, error) {
	name := strings.ToLower(strings.TrimSpace(command))
	if name == "" {
		return CommandResult{}, fmt.Errorf("%w: command is required", domain.ErrValidation)
	}

	st, err := g.state(sessionID)
	if err != nil {
		return CommandResult{}, err
	}

	st.mu.RLock()
	root := st.sess.ProjectRoot
	st.mu.RUnlock()

	var result any
	switch name {
	case "compact":
		st.setActivity(session.ActivityBusy, "Compacting context")
		if err := g.client.Summarize(ctx, sessionID, root); err != nil {
			return CommandResult{}, fmt.Errorf("%w: compact: %v", domain.ErrUpstream, err)
		}
		result = map[string]string{"status": "compaction started"}

	case "abort":
		st.setActivity(session.ActivityIdle, "Aborted")
		if err := g.client.Abort(ctx, sessionID, root); err != nil {
			return CommandResult{}, fmt.Errorf("%w: abort: %v", domain.ErrUpstream, err)
		}
		result = map[string]string{"status": "aborted"}

	case "status", "help":
		raw, err := g.client.Command(ctx, sessionID, root, name)
		if err != nil {
			return CommandResult{}, fmt.Errorf("%w: %s: %v", domain.ErrUpstream, name, err)
		}
		result = raw

	case "diff":
		report, err := g.Diff(ctx, sessionID)
		if err != nil {
			return CommandResult{}, err
		}
		result = report

	default:
		return CommandResult{}, fmt.Errorf("%w: unknown command %q", domain.ErrValidation, name)
	}

	payload, _ := json.Marshal(map[string]string{
		"sessionId": sessionID,
		"command":   name,
	})
	st.log.Append(event.TypeCommandExecuted, payload)
	if g.metrics != nil {
		g.metrics.CommandsExecuted.Add(ctx, 1)
		g.metrics.EventsAppended.Add(ctx, 1)
	}

	return CommandResult{Command: name, Result: result}, nil
}

// Diff fetches the session's raw per-file diff rows from upstream and
// reshapes them. The summary is always recomputed from the parsed rows, never
// trusted from the runtime.
func (g *Registry) Diff(ctx context.Context, sessionID string) (diff.Report, error) {
	st, err := g.state(sessionID)
	if err != nil {
		return diff.Report{}, err
	}

	st.mu.RLock()
	root := st.sess.ProjectRoot
	st.mu.RUnlock()

	rows, err := g.client.Diff(ctx, sessionID, root)
	if err != nil {
		return diff.Report{}, fmt.Errorf("%w: diff: %v", domain.ErrUpstream, err)
	}
	return diff.FromRaw(rows), nil
}

func (s *sessionState) setActivity(a session.Activity, action string) {
	s.mu.Lock()
	s.sess.Activity = a
	s.sess.CurrentAction = action
	s.mu.Unlock()
}
