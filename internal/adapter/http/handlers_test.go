package http_test

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	aghttp "github.com/codelens-dev/agentgate/internal/adapter/http"
	"github.com/codelens-dev/agentgate/internal/adapter/ws"
	"github.com/codelens-dev/agentgate/internal/config"
	"github.com/codelens-dev/agentgate/internal/domain/event"
	"github.com/codelens-dev/agentgate/internal/port/upstream"
	"github.com/codelens-dev/agentgate/internal/service"
)

// stubClient is a minimal upstream.Client for boundary tests.
type stubClient struct {
	createCalls int64
	lastReply   atomic.Value // "permissionID:response"
}

func (s *stubClient) CreateSession(ctx context.Context, directory string) (string, error) {
	atomic.AddInt64(&s.createCalls, 1)
	return "ses_http", nil
}

func (s *stubClient) Prompt(ctx context.Context, sessionID, directory string, req upstream.PromptRequest) error {
	return nil
}

func (s *stubClient) ReplyPermission(ctx context.Context, sessionID, permissionID, directory, response string) error {
	s.lastReply.Store(permissionID + ":" + response)
	return nil
}

func (s *stubClient) Abort(ctx context.Context, sessionID, directory string) error     { return nil }
func (s *stubClient) Summarize(ctx context.Context, sessionID, directory string) error { return nil }

func (s *stubClient) Command(ctx context.Context, sessionID, directory, command string) (json.RawMessage, error) {
	return json.RawMessage(`{"ok":true}`), nil
}

func (s *stubClient) Messages(ctx context.Context, sessionID, directory string) ([]json.RawMessage, error) {
	return []json.RawMessage{}, nil
}

func (s *stubClient) Diff(ctx context.Context, sessionID, directory string) ([]json.RawMessage, error) {
	return nil, nil
}

func (s *stubClient) Subscribe(ctx context.Context, directory string) (upstream.EventStream, error) {
	return idleStream{ctx: ctx}, nil
}

type idleStream struct{ ctx context.Context }

func (s idleStream) Next() (event.Envelope, error) {
	<-s.ctx.Done()
	return event.Envelope{}, s.ctx.Err()
}

func (s idleStream) Close() error { return nil }

func newTestServer(t *testing.T) (*httptest.Server, *service.Registry, *stubClient) {
	t.Helper()
	cfg := config.Defaults()
	cfg.Stream.PollInterval = 10 * time.Millisecond
	cfg.Stream.Heartbeat = time.Minute

	stub := &stubClient{}
	registry := service.NewRegistry(stub, cfg.Watcher, nil)
	t.Cleanup(registry.Close)

	handlers := &aghttp.Handlers{
		Registry:    registry,
		WS:          ws.NewStreamer(registry, cfg.Stream.PollInterval, cfg.Stream.Heartbeat),
		History:     cfg.History,
		Stream:      cfg.Stream,
		UpstreamURL: "http://127.0.0.1:8643",
		StartedAt:   time.Now(),
	}

	r := chi.NewRouter()
	r.Use(aghttp.CORS(cfg.Server.CORSOrigin))
	handlers.MountRoutes(r)

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv, registry, stub
}

func postJSON(t *testing.T, url, body string) (*http.Response, map[string]any) {
	t.Helper()
	resp, err := http.Post(url, "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = resp.Body.Close() })

	var decoded map[string]any
	data, _ := io.ReadAll(resp.Body)
	if len(data) > 0 {
		if err := json.Unmarshal(data, &decoded); err != nil {
			t.Fatalf("invalid JSON response %q: %v", data, err)
		}
	}
	return resp, decoded
}

func getJSON(t *testing.T, url string) (*http.Response, map[string]any) {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = resp.Body.Close() })

	var decoded map[string]any
	data, _ := io.ReadAll(resp.Body)
	if len(data) > 0 {
		if err := json.Unmarshal(data, &decoded); err != nil {
			t.Fatalf("invalid JSON response %q: %v", data, err)
		}
	}
	return resp, decoded
}

func createSession(t *testing.T, srv *httptest.Server) string {
	t.Helper()
	resp, body := postJSON(t, srv.URL+"/internal/sessions", `{"projectRoot":"/repo/a","reuseExisting":true}`)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create session: status %d body %v", resp.StatusCode, body)
	}
	return body["sessionId"].(string)
}

func TestHealth(t *testing.T) {
	srv, _, _ := newTestServer(t)

	resp, body := getJSON(t, srv.URL+"/internal/health")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status %d", resp.StatusCode)
	}
	if body["status"] != "ok" || body["wrapper"] != "agentgate" {
		t.Fatalf("unexpected health body: %v", body)
	}
	if body["opencode"] != "http://127.0.0.1:8643" {
		t.Fatalf("upstream url missing: %v", body)
	}
}

func TestCreateSession_ReturnsCreatedThenReused(t *testing.T) {
	srv, _, stub := newTestServer(t)

	resp, body := postJSON(t, srv.URL+"/internal/sessions", `{"projectRoot":"/repo/a","reuseExisting":true}`)
	if resp.StatusCode != http.StatusCreated || body["reused"] != false {
		t.Fatalf("first create: status %d body %v", resp.StatusCode, body)
	}

	resp, body = postJSON(t, srv.URL+"/internal/sessions", `{"projectRoot":"/repo/a","reuseExisting":true}`)
	if resp.StatusCode != http.StatusOK || body["reused"] != true {
		t.Fatalf("reuse: status %d body %v", resp.StatusCode, body)
	}
	if n := atomic.LoadInt64(&stub.createCalls); n != 1 {
		t.Fatalf("expected 1 upstream create, got %d", n)
	}
}

func TestCreateSession_MissingProjectRootIs422(t *testing.T) {
	srv, _, _ := newTestServer(t)

	resp, body := postJSON(t, srv.URL+"/internal/sessions", `{}`)
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("status %d", resp.StatusCode)
	}
	if detail, _ := body["detail"].(string); !strings.Contains(detail, "projectRoot") {
		t.Fatalf("detail should name the missing field: %v", body)
	}
}

func TestPromptAsync_AcceptedWithGeneratedMessageID(t *testing.T) {
	srv, _, _ := newTestServer(t)
	id := createSession(t, srv)

	resp, body := postJSON(t, srv.URL+"/internal/sessions/"+id+"/prompt-async", `{"content":"hello"}`)
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("status %d body %v", resp.StatusCode, body)
	}
	if body["accepted"] != true {
		t.Fatalf("unexpected body: %v", body)
	}
	if mid, _ := body["messageId"].(string); mid == "" {
		t.Fatalf("expected generated messageId, got %v", body)
	}
}

func TestPromptAsync_EmptyContentIs422(t *testing.T) {
	srv, _, _ := newTestServer(t)
	id := createSession(t, srv)

	resp, _ := postJSON(t, srv.URL+"/internal/sessions/"+id+"/prompt-async", `{"content":""}`)
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("status %d", resp.StatusCode)
	}
}

func TestPromptAsync_UnknownSessionIs404(t *testing.T) {
	srv, _, _ := newTestServer(t)

	resp, _ := postJSON(t, srv.URL+"/internal/sessions/ses_missing/prompt-async", `{"content":"hi"}`)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status %d", resp.StatusCode)
	}
}

func TestPermissionReply_TranslatesIDEVocabulary(t *testing.T) {
	srv, _, stub := newTestServer(t)
	id := createSession(t, srv)

	resp, _ := postJSON(t, srv.URL+"/internal/sessions/"+id+"/permissions/perm_1", `{"response":"approve_once"}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status %d", resp.StatusCode)
	}
	if got := stub.lastReply.Load(); got != "perm_1:once" {
		t.Fatalf("expected canonical once, upstream saw %v", got)
	}

	resp, _ = postJSON(t, srv.URL+"/internal/sessions/"+id+"/permissions/perm_2", `{"response":"reject"}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status %d", resp.StatusCode)
	}
	if got := stub.lastReply.Load(); got != "perm_2:reject" {
		t.Fatalf("canonical passthrough failed, upstream saw %v", got)
	}
}

func TestPermissionReply_UnknownVocabularyIs422(t *testing.T) {
	srv, _, _ := newTestServer(t)
	id := createSession(t, srv)

	resp, _ := postJSON(t, srv.URL+"/internal/sessions/"+id+"/permissions/perm_1", `{"response":"shrug"}`)
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("status %d", resp.StatusCode)
	}
}

func TestStatus_ReflectsReducedState(t *testing.T) {
	srv, registry, _ := newTestServer(t)
	id := createSession(t, srv)

	registry.Dispatch(context.Background(), event.Envelope{
		Type:       "session.status",
		Properties: json.RawMessage(`{"sessionID":"` + id + `","status":{"type":"busy"}}`),
	})

	resp, body := getJSON(t, srv.URL+"/internal/sessions/"+id+"/status")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status %d", resp.StatusCode)
	}
	if body["activity"] != "busy" || body["currentAction"] != "Processing request" {
		t.Fatalf("unexpected status body: %v", body)
	}
}

func TestCommands_DiffZeroRows(t *testing.T) {
	srv, _, _ := newTestServer(t)
	id := createSession(t, srv)

	resp, body := postJSON(t, srv.URL+"/internal/sessions/"+id+"/commands", `{"command":"diff"}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status %d body %v", resp.StatusCode, body)
	}
	result := body["result"].(map[string]any)
	files := result["files"].([]any)
	if len(files) != 0 {
		t.Fatalf("expected empty files, got %v", files)
	}
	summary := result["summary"].(map[string]any)
	if summary["files"] != float64(0) || summary["additions"] != float64(0) || summary["deletions"] != float64(0) {
		t.Fatalf("expected zero summary, got %v", summary)
	}
}

func TestCommands_UnknownCommandIs422(t *testing.T) {
	srv, _, _ := newTestServer(t)
	id := createSession(t, srv)

	resp, _ := postJSON(t, srv.URL+"/internal/sessions/"+id+"/commands", `{"command":"explode"}`)
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("status %d", resp.StatusCode)
	}
}

func TestHistory_ReturnsEventsAndTranscript(t *testing.T) {
	srv, _, _ := newTestServer(t)
	id := createSession(t, srv)

	resp, body := getJSON(t, srv.URL+"/internal/sessions/"+id+"/history?limit=10")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status %d", resp.StatusCode)
	}
	events := body["events"].([]any)
	if len(events) != 1 {
		t.Fatalf("expected the session.created event, got %v", events)
	}
	if _, ok := body["messages"].([]any); !ok {
		t.Fatalf("messages must be an array: %v", body["messages"])
	}
	if _, ok := body["pendingPermissions"].([]any); !ok {
		t.Fatalf("pendingPermissions must be an array: %v", body["pendingPermissions"])
	}
}

func TestUnknownRouteIs404WithDetail(t *testing.T) {
	srv, _, _ := newTestServer(t)

	resp, body := getJSON(t, srv.URL+"/internal/nope")
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status %d", resp.StatusCode)
	}
	if body["detail"] == nil {
		t.Fatalf("error body must carry detail: %v", body)
	}
}

// readSSEEvents reads SSE frames off an open response body until count data
// lines have been seen or the deadline hits.
func readSSEEvents(t *testing.T, body io.Reader, count int, deadline time.Duration) []event.Event {
	t.Helper()

	type result struct {
		events []event.Event
		err    error
	}
	ch := make(chan result, 1)

	go func() {
		var events []event.Event
		scanner := bufio.NewScanner(body)
		for scanner.Scan() {
			line := scanner.Text()
			if !strings.HasPrefix(line, "data: ") {
				continue
			}
			var e event.Event
			if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &e); err != nil {
				ch <- result{err: err}
				return
			}
			events = append(events, e)
			if len(events) == count {
				ch <- result{events: events}
				return
			}
		}
		ch <- result{events: events, err: scanner.Err()}
	}()

	select {
	case res := <-ch:
		if res.err != nil {
			t.Fatalf("read sse: %v", res.err)
		}
		return res.events
	case <-time.After(deadline):
		t.Fatalf("timed out waiting for %d events", count)
		return nil
	}
}

func TestEventStream_ResumesFromCursor(t *testing.T) {
	srv, registry, _ := newTestServer(t)
	id := createSession(t, srv)

	log, err := registry.EventLog(id)
	if err != nil {
		t.Fatal(err)
	}
	// Backlog: indexes 0 (session.created) through 3.
	for i := 0; i < 3; i++ {
		log.Append("session.status", json.RawMessage(`{}`))
	}

	req, _ := http.NewRequest(http.MethodGet, srv.URL+"/internal/sessions/"+id+"/events?fromIndex=2", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("unexpected content type %q", ct)
	}

	// Live appends arrive after the backlog flush.
	go func() {
		time.Sleep(50 * time.Millisecond)
		log.Append("session.idle", json.RawMessage(`{}`))
	}()

	events := readSSEEvents(t, resp.Body, 3, 5*time.Second)
	for i, e := range events {
		if want := int64(2 + i); e.Index != want {
			t.Fatalf("event %d: index %d, want %d", i, e.Index, want)
		}
	}
	if events[2].Type != "session.idle" {
		t.Fatalf("live event not delivered: %+v", events[2])
	}
}

func TestEventStream_UnknownSessionIs404(t *testing.T) {
	srv, _, _ := newTestServer(t)

	resp, err := http.Get(srv.URL + "/internal/sessions/ses_missing/events")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status %d", resp.StatusCode)
	}
}
