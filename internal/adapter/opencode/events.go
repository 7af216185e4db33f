package opencode

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/codelens-dev/agentgate/internal/domain/event"
	"github.com/codelens-dev/agentgate/internal/port/upstream"
)

// eventStream wraps the upstream /event SSE response body.
type eventStream struct {
	body    io.ReadCloser
	scanner *sseScanner
}

var _ upstream.EventStream = (*eventStream)(nil)

// Subscribe opens the runtime's global event stream scoped to a project
// directory. The returned stream stays open until the server closes it, the
// connection drops, or ctx is cancelled; the caller owns reconnecting.
func (c *Client) Subscribe(ctx context.Context, directory string) (upstream.EventStream, error) {
	u := c.baseURL + "/event"
	if directory != "" {
		u += "?directory=" + url.QueryEscape(directory)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("create subscribe request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")

	// The subscription must outlive the client's RPC timeout, so it uses a
	// transport without one; lifetime is bounded by ctx.
	resp, err := http.DefaultTransport.RoundTrip(req)
	if err != nil {
		return nil, fmt.Errorf("subscribe: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		_ = resp.Body.Close()
		return nil, fmt.Errorf("subscribe: unexpected status %d", resp.StatusCode)
	}

	return &eventStream{body: resp.Body, scanner: newSSEScanner(resp.Body)}, nil
}

// Next blocks until the next event envelope arrives. It returns io.EOF when
// the stream ends cleanly and the underlying error otherwise.
func (s *eventStream) Next() (event.Envelope, error) {
	for s.scanner.Next() {
		data := s.scanner.Event().Data
		if data == "" {
			continue
		}

		var env event.Envelope
		if err := json.Unmarshal([]byte(data), &env); err != nil {
			return event.Envelope{}, fmt.Errorf("decode event: %w", err)
		}
		return env, nil
	}

	if err := s.scanner.Err(); err != nil {
		return event.Envelope{}, err
	}
	return event.Envelope{}, io.EOF
}

func (s *eventStream) Close() error {
	return s.body.Close()
}
