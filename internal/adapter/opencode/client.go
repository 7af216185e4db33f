// Package opencode implements the upstream.Client port against a running
// opencode server: typed JSON RPC calls plus the per-project event stream,
// and the supervisor that launches the server subprocess.
package opencode

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/codelens-dev/agentgate/internal/port/upstream"
	"github.com/codelens-dev/agentgate/internal/resilience"
)

// Client talks to the opencode server's HTTP API. All calls are scoped to a
// project directory via the ?directory query parameter.
type Client struct {
	baseURL    string
	httpClient *http.Client
	breaker    *resilience.Breaker
}

var _ upstream.Client = (*Client)(nil)

// NewClient creates a client for the opencode server at baseURL.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// SetBreaker attaches a circuit breaker to all RPC calls. The event
// subscription is not routed through the breaker; it has its own
// reconnect-with-backoff loop.
func (c *Client) SetBreaker(b *resilience.Breaker) {
	c.breaker = b
}

// CreateSession asks the runtime for a new session scoped to directory.
func (c *Client) CreateSession(ctx context.Context, directory string) (string, error) {
	resp, err := c.doRequest(ctx, http.MethodPost, "/session", directory, []byte(`{}`))
	if err != nil {
		return "", fmt.Errorf("create session: %w", err)
	}

	var result struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(resp, &result); err != nil {
		return "", fmt.Errorf("unmarshal session: %w", err)
	}
	return result.ID, nil
}

// Prompt submits one user turn. The call returns as soon as the runtime
// accepts the message; progress arrives on the event stream.
func (c *Client) Prompt(ctx context.Context, sessionID, directory string, req upstream.PromptRequest) error {
	body := map[string]any{
		"messageID": req.MessageID,
		"parts": []map[string]any{
			{"type": "text", "text": req.Content},
		},
	}
	if req.Agent != "" {
		body["agent"] = req.Agent
	}
	if req.System != "" {
		body["system"] = req.System
	}
	if len(req.Tools) > 0 {
		body["tools"] = req.Tools
	}

	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal prompt: %w", err)
	}

	if _, err := c.doRequest(ctx, http.MethodPost, "/session/"+sessionID+"/message", directory, data); err != nil {
		return fmt.Errorf("prompt: %w", err)
	}
	return nil
}

// ReplyPermission answers a pending approval request.
func (c *Client) ReplyPermission(ctx context.Context, sessionID, permissionID, directory, response string) error {
	data, err := json.Marshal(map[string]string{"response": response})
	if err != nil {
		return fmt.Errorf("marshal permission reply: %w", err)
	}

	path := "/session/" + sessionID + "/permissions/" + permissionID
	if _, err := c.doRequest(ctx, http.MethodPost, path, directory, data); err != nil {
		return fmt.Errorf("reply permission: %w", err)
	}
	return nil
}

// Abort cancels the session's in-flight turn.
func (c *Client) Abort(ctx context.Context, sessionID, directory string) error {
	if _, err := c.doRequest(ctx, http.MethodPost, "/session/"+sessionID+"/abort", directory, nil); err != nil {
		return fmt.Errorf("abort: %w", err)
	}
	return nil
}

// Summarize asks the runtime to compact the session's context.
func (c *Client) Summarize(ctx context.Context, sessionID, directory string) error {
	if _, err := c.doRequest(ctx, http.MethodPost, "/session/"+sessionID+"/summarize", directory, nil); err != nil {
		return fmt.Errorf("summarize: %w", err)
	}
	return nil
}

// Command passes a named slash command through to the runtime and returns
// its raw result.
func (c *Client) Command(ctx context.Context, sessionID, directory, command string) (json.RawMessage, error) {
	data, err := json.Marshal(map[string]string{"command": command})
	if err != nil {
		return nil, fmt.Errorf("marshal command: %w", err)
	}

	resp, err := c.doRequest(ctx, http.MethodPost, "/session/"+sessionID+"/command", directory, data)
	if err != nil {
		return nil, fmt.Errorf("command %s: %w", command, err)
	}
	return resp, nil
}

// Messages fetches the session's message transcript. The gateway never
// stores messages locally; this is the source of truth.
func (c *Client) Messages(ctx context.Context, sessionID, directory string) ([]json.RawMessage, error) {
	resp, err := c.doRequest(ctx, http.MethodGet, "/session/"+sessionID+"/message", directory, nil)
	if err != nil {
		return nil, fmt.Errorf("messages: %w", err)
	}

	var result []json.RawMessage
	if err := json.Unmarshal(resp, &result); err != nil {
		return nil, fmt.Errorf("unmarshal messages: %w", err)
	}
	return result, nil
}

// Diff fetches the raw per-file diff rows for the session's working tree.
func (c *Client) Diff(ctx context.Context, sessionID, directory string) ([]json.RawMessage, error) {
	resp, err := c.doRequest(ctx, http.MethodGet, "/session/"+sessionID+"/diff", directory, nil)
	if err != nil {
		return nil, fmt.Errorf("diff: %w", err)
	}

	var result []json.RawMessage
	if err := json.Unmarshal(resp, &result); err != nil {
		return nil, fmt.Errorf("unmarshal diff: %w", err)
	}
	return result, nil
}

func (c *Client) doRequest(ctx context.Context, method, path, directory string, body []byte) ([]byte, error) {
	var result []byte
	call := func() error {
		var bodyReader io.Reader
		if body != nil {
			bodyReader = bytes.NewReader(body)
		}

		req, err := http.NewRequestWithContext(ctx, method, c.endpoint(path, directory), bodyReader)
		if err != nil {
			return fmt.Errorf("create request: %w", err)
		}

		req.Header.Set("Content-Type", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("http request: %w", err)
		}
		defer func() { _ = resp.Body.Close() }()

		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("read response: %w", err)
		}

		if resp.StatusCode >= 400 {
			return fmt.Errorf("opencode API error %d: %s", resp.StatusCode, string(data))
		}

		result = data
		return nil
	}

	if c.breaker != nil {
		if err := c.breaker.Execute(call); err != nil {
			return nil, err
		}
		return result, nil
	}

	if err := call(); err != nil {
		return nil, err
	}
	return result, nil
}

// endpoint builds the full request URL with the directory scope attached.
func (c *Client) endpoint(path, directory string) string {
	u := c.baseURL + path
	if directory != "" {
		u += "?directory=" + url.QueryEscape(directory)
	}
	return u
}
