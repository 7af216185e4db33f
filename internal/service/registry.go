// Package service implements the gateway's core: the session registry,
// per-project event watchers, the state reducer, per-session event logs,
// and the command dispatcher.
package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/codelens-dev/agentgate/internal/adapter/otel"
	"github.com/codelens-dev/agentgate/internal/config"
	"github.com/codelens-dev/agentgate/internal/domain"
	"github.com/codelens-dev/agentgate/internal/domain/event"
	"github.com/codelens-dev/agentgate/internal/domain/session"
	"github.com/codelens-dev/agentgate/internal/port/upstream"
)

// sessionState is the canonical record for one session: the snapshot exposed
// to clients plus the maps the reducer maintains. All mutation happens under
// mu; readers take a consistent copy.
type sessionState struct {
	mu          sync.RWMutex
	sess        session.Session
	usage       map[string]session.Usage
	permissions map[string]session.Permission
	log         *Log
}

// Registry owns every process-wide map: sessions by id, the live
// projectRoot -> sessionId reuse mapping, and the per-project watchers.
// Raw maps are never handed to callers.
type Registry struct {
	client     upstream.Client
	watcherCfg config.Watcher
	metrics    *otel.Metrics

	createGroup singleflight.Group

	mu       sync.RWMutex
	sessions map[string]*sessionState
	byRoot   map[string]string
	watchers map[string]*Watcher

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewRegistry creates a Registry talking to the given upstream client.
// metrics may be nil.
func NewRegistry(client upstream.Client, watcherCfg config.Watcher, metrics *otel.Metrics) *Registry {
	ctx, cancel := context.WithCancel(context.Background())
	return &Registry{
		client:     client,
		watcherCfg: watcherCfg,
		metrics:    metrics,
		sessions:   make(map[string]*sessionState),
		byRoot:     make(map[string]string),
		watchers:   make(map[string]*Watcher),
		ctx:        ctx,
		cancel:     cancel,
	}
}

// Close stops all watchers and waits for their loops to finish their current
// iteration.
func (g *Registry) Close() {
	g.mu.Lock()
	for _, w := range g.watchers {
		w.active.Store(false)
	}
	g.mu.Unlock()

	g.cancel()
	g.wg.Wait()
}

// CreateResult is the outcome of CreateOrReuse.
type CreateResult struct {
	SessionID   string    `json:"sessionId"`
	ProjectRoot string    `json:"projectRoot"`
	Source      string    `json:"source,omitempty"`
	Profile     string    `json:"profile,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
	Reused      bool      `json:"reused"`
}

// CreateOrReuse returns the live session for projectRoot when reuse is
// requested and one exists, performing no upstream call; otherwise it
// ensures a watcher for the project, creates a session upstream, and
// registers the new record. Concurrent reuse-creates for the same root
// collapse into a single upstream call.
func (g *Registry) CreateOrReuse(ctx context.Context, projectRoot, source, profile string, reuseExisting bool) (CreateResult, error) {
	if strings.TrimSpace(projectRoot) == "" {
		return CreateResult{}, fmt.Errorf("%w: projectRoot is required", domain.ErrValidation)
	}
	root := filepath.Clean(projectRoot)

	if reuseExisting {
		if res, ok := g.lookupLive(root); ok {
			return res, nil
		}

		v, err, _ := g.createGroup.Do(root, func() (any, error) {
			// Re-check under the flight: a concurrent caller may have just
			// registered the session.
			if res, ok := g.lookupLive(root); ok {
				return res, nil
			}
			return g.create(ctx, root, source, profile)
		})
		if err != nil {
			return CreateResult{}, err
		}
		return v.(CreateResult), nil
	}

	return g.create(ctx, root, source, profile)
}

// lookupLive returns the registered live session for a project root.
func (g *Registry) lookupLive(root string) (CreateResult, bool) {
	g.mu.RLock()
	id, ok := g.byRoot[root]
	st := g.sessions[id]
	g.mu.RUnlock()
	if !ok || st == nil {
		return CreateResult{}, false
	}

	st.mu.RLock()
	defer st.mu.RUnlock()
	return CreateResult{
		SessionID:   st.sess.ID,
		ProjectRoot: st.sess.ProjectRoot,
		Source:      st.sess.Source,
		Profile:     st.sess.Profile,
		CreatedAt:   st.sess.CreatedAt,
		Reused:      true,
	}, true
}

// create calls upstream session-create and registers the new record,
// overwriting any stale root mapping.
func (g *Registry) create(ctx context.Context, root, source, profile string) (CreateResult, error) {
	g.EnsureWatcher(root)

	id, err := g.client.CreateSession(ctx, root)
	if err != nil {
		return CreateResult{}, fmt.Errorf("%w: create session: %v", domain.ErrUpstream, err)
	}
	if id == "" {
		return CreateResult{}, fmt.Errorf("%w: runtime returned no session id", domain.ErrUpstream)
	}

	now := time.Now()
	st := &sessionState{
		sess: session.Session{
			ID:          id,
			ProjectRoot: root,
			Source:      source,
			Profile:     profile,
			CreatedAt:   now,
			UpdatedAt:   now,
			Activity:    session.ActivityIdle,
		},
		usage:       make(map[string]session.Usage),
		permissions: make(map[string]session.Permission),
		log:         NewLog(),
	}

	payload, _ := json.Marshal(map[string]string{
		"sessionId":   id,
		"projectRoot": root,
	})
	st.log.Append(event.TypeSessionCreated, payload)

	g.mu.Lock()
	g.sessions[id] = st
	g.byRoot[root] = id
	g.mu.Unlock()

	if g.metrics != nil {
		g.metrics.SessionsCreated.Add(ctx, 1)
		g.metrics.EventsAppended.Add(ctx, 1)
	}
	slog.Info("session created", "session_id", id, "project_root", root)

	return CreateResult{
		SessionID:   id,
		ProjectRoot: root,
		Source:      source,
		Profile:     profile,
		CreatedAt:   now,
		Reused:      false,
	}, nil
}

// state returns the session record or domain.ErrNotFound.
func (g *Registry) state(sessionID string) (*sessionState, error) {
	g.mu.RLock()
	st := g.sessions[sessionID]
	g.mu.RUnlock()
	if st == nil {
		return nil, fmt.Errorf("%w: session %s", domain.ErrNotFound, sessionID)
	}
	return st, nil
}

// PromptInput is one user turn submitted through the gateway.
type PromptInput struct {
	MessageID string
	Content   string
	Agent     string
	System    string
	Tools     map[string]bool
}

// Prompt forwards a user turn to the runtime and returns immediately with
// the message id. Progress arrives asynchronously on the project's watcher.
func (g *Registry) Prompt(ctx context.Context, sessionID string, in PromptInput) (string, error) {
	if strings.TrimSpace(in.Content) == "" {
		return "", fmt.Errorf("%w: content is required", domain.ErrValidation)
	}

	st, err := g.state(sessionID)
	if err != nil {
		return "", err
	}

	messageID := in.MessageID
	if messageID == "" {
		messageID = "msg_" + uuid.NewString()
	}

	st.mu.RLock()
	root := st.sess.ProjectRoot
	st.mu.RUnlock()

	err = g.client.Prompt(ctx, sessionID, root, upstream.PromptRequest{
		MessageID: messageID,
		Content:   in.Content,
		Agent:     in.Agent,
		System:    in.System,
		Tools:     in.Tools,
	})
	if err != nil {
		return "", fmt.Errorf("%w: prompt: %v", domain.ErrUpstream, err)
	}

	return messageID, nil
}

// Canonical permission responses accepted by the upstream runtime. The HTTP
// boundary additionally translates the IDE vocabulary (approve_once,
// approve_always) before calling here.
var permissionResponses = map[string]bool{
	"once":   true,
	"always": true,
	"reject": true,
}

// ReplyPermission answers a pending approval. The pending entry is removed
// eagerly; the upstream permission.replied event that follows is a no-op on
// an already-removed id.
func (g *Registry) ReplyPermission(ctx context.Context, sessionID, permissionID, response string) error {
	if !permissionResponses[response] {
		return fmt.Errorf("%w: response must be one of once, always, reject", domain.ErrValidation)
	}

	st, err := g.state(sessionID)
	if err != nil {
		return err
	}

	st.mu.RLock()
	root := st.sess.ProjectRoot
	st.mu.RUnlock()

	if err := g.client.ReplyPermission(ctx, sessionID, permissionID, root, response); err != nil {
		return fmt.Errorf("%w: reply permission: %v", domain.ErrUpstream, err)
	}

	st.mu.Lock()
	delete(st.permissions, permissionID)
	if len(st.permissions) == 0 && st.sess.Activity == session.ActivityWaitingPermission {
		st.sess.Activity = session.ActivityBusy
		st.sess.CurrentAction = "Continuing after approval"
	}
	st.mu.Unlock()

	return nil
}

// Status returns a consistent snapshot of the session's derived state.
func (g *Registry) Status(sessionID string) (session.Session, error) {
	st, err := g.state(sessionID)
	if err != nil {
		return session.Session{}, err
	}

	st.mu.RLock()
	defer st.mu.RUnlock()
	snap := st.sess
	if st.sess.LastRetry != nil {
		retry := *st.sess.LastRetry
		snap.LastRetry = &retry
	}
	return snap, nil
}

// HistoryView is the read model for the history endpoint: the log tail,
// current pending permissions, and the transcript fetched fresh from
// upstream (messages are never stored locally).
type HistoryView struct {
	SessionID   string               `json:"sessionId"`
	Events      []event.Event        `json:"events"`
	Permissions []session.Permission `json:"pendingPermissions"`
	Messages    []json.RawMessage    `json:"messages"`
}

// History returns the last limit events plus permissions and the upstream
// transcript. limit is clamped to [1, max] with the configured default for
// non-positive values.
func (g *Registry) History(ctx context.Context, sessionID string, limit int, cfg config.History) (HistoryView, error) {
	st, err := g.state(sessionID)
	if err != nil {
		return HistoryView{}, err
	}

	if limit <= 0 {
		limit = cfg.DefaultLimit
	}
	if limit > cfg.MaxLimit {
		limit = cfg.MaxLimit
	}

	st.mu.RLock()
	root := st.sess.ProjectRoot
	perms := make([]session.Permission, 0, len(st.permissions))
	for _, p := range st.permissions {
		perms = append(perms, p)
	}
	st.mu.RUnlock()

	messages, err := g.client.Messages(ctx, sessionID, root)
	if err != nil {
		return HistoryView{}, fmt.Errorf("%w: fetch transcript: %v", domain.ErrUpstream, err)
	}

	events := st.log.Tail(limit)
	if events == nil {
		events = []event.Event{}
	}
	if messages == nil {
		messages = []json.RawMessage{}
	}

	return HistoryView{
		SessionID:   sessionID,
		Events:      events,
		Permissions: perms,
		Messages:    messages,
	}, nil
}

// EventLog exposes the session's append-only log for streaming delivery.
func (g *Registry) EventLog(sessionID string) (*Log, error) {
	st, err := g.state(sessionID)
	if err != nil {
		return nil, err
	}
	return st.log, nil
}

// Permissions returns a snapshot of the session's pending approvals.
func (g *Registry) Permissions(sessionID string) ([]session.Permission, error) {
	st, err := g.state(sessionID)
	if err != nil {
		return nil, err
	}

	st.mu.RLock()
	defer st.mu.RUnlock()
	perms := make([]session.Permission, 0, len(st.permissions))
	for _, p := range st.permissions {
		perms = append(perms, p)
	}
	return perms, nil
}
