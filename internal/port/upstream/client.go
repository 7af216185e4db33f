// Package upstream defines the port the gateway uses to talk to the
// external coding-agent runtime. The opencode adapter implements it; tests
// substitute mocks.
package upstream

import (
	"context"
	"encoding/json"

	"github.com/codelens-dev/agentgate/internal/domain/event"
)

// PromptRequest is one user turn submitted to the runtime. Submission is
// fire-and-forget from the gateway's perspective; progress arrives on the
// project's event stream.
type PromptRequest struct {
	MessageID string
	Content   string
	Agent     string
	System    string
	Tools     map[string]bool
}

// EventStream is a live subscription to a project's raw event feed.
type EventStream interface {
	// Next blocks until the next event arrives or the stream fails.
	Next() (event.Envelope, error)
	Close() error
}

// Client is the typed handle to the upstream runtime's RPC and event surface.
// Every call is scoped to a project directory.
type Client interface {
	CreateSession(ctx context.Context, directory string) (string, error)
	Prompt(ctx context.Context, sessionID, directory string, req PromptRequest) error
	ReplyPermission(ctx context.Context, sessionID, permissionID, directory, response string) error
	Abort(ctx context.Context, sessionID, directory string) error
	Summarize(ctx context.Context, sessionID, directory string) error
	Command(ctx context.Context, sessionID, directory, command string) (json.RawMessage, error)
	Messages(ctx context.Context, sessionID, directory string) ([]json.RawMessage, error)
	Diff(ctx context.Context, sessionID, directory string) ([]json.RawMessage, error)
	Subscribe(ctx context.Context, directory string) (EventStream, error)
}
