package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math/rand/v2"
	"sync/atomic"
	"time"

	"github.com/codelens-dev/agentgate/internal/port/upstream"
)

// Watcher is one long-lived subscription to the upstream runtime's event
// stream for a single project root. Its loop is an explicit state machine:
// subscribing -> streaming -> backoff -> subscribing, with a capped jittered
// backoff between attempts. Watchers are reference-counted by the sessions
// mapped to their project and torn down when the count reaches zero.
type Watcher struct {
	root   string
	refs   int
	active atomic.Bool
	cancel context.CancelFunc
}

// EnsureWatcher starts the event subscription for a project root if one is
// not already running, and takes a reference on it. Idempotent and safe for
// concurrent callers.
func (g *Registry) EnsureWatcher(root string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if w, ok := g.watchers[root]; ok {
		w.refs++
		return
	}

	ctx, cancel := context.WithCancel(g.ctx)
	w := &Watcher{root: root, refs: 1, cancel: cancel}
	w.active.Store(true)
	g.watchers[root] = w

	g.wg.Add(1)
	go g.runWatcher(ctx, w)
}

// ReleaseWatcher drops one reference on the project's watcher and stops it
// when no sessions reference it anymore.
func (g *Registry) ReleaseWatcher(root string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	w, ok := g.watchers[root]
	if !ok {
		return
	}
	w.refs--
	if w.refs > 0 {
		return
	}
	w.active.Store(false)
	w.cancel()
	delete(g.watchers, root)
}

// runWatcher drives the subscribe/stream/backoff loop until the watcher is
// released or the registry shuts down. Stream failures never propagate; they
// reset the loop to the backoff state.
func (g *Registry) runWatcher(ctx context.Context, w *Watcher) {
	defer g.wg.Done()

	backoff := g.watcherCfg.Backoff
	attempt := 0

	for w.active.Load() && ctx.Err() == nil {
		stream, err := g.client.Subscribe(ctx, w.root)
		if err != nil {
			attempt++
			slog.Warn("event subscription failed",
				"project_root", w.root, "attempt", attempt, "backoff", backoff, "error", err)
			if g.metrics != nil {
				g.metrics.WatcherReconnects.Add(ctx, 1)
			}
			if !sleepCtx(ctx, jitter(backoff)) {
				return
			}
			backoff = nextBackoff(backoff, g.watcherCfg.MaxBackoff)
			continue
		}

		slog.Info("event subscription established", "project_root", w.root)
		attempt = 0
		backoff = g.watcherCfg.Backoff

		streamErr := g.consume(ctx, w, stream)
		stream.Close()

		if !w.active.Load() || ctx.Err() != nil {
			return
		}
		if streamErr != nil && !errors.Is(streamErr, io.EOF) {
			slog.Warn("event stream interrupted", "project_root", w.root, "error", streamErr)
		} else {
			slog.Info("event stream ended, resubscribing", "project_root", w.root)
		}
		if g.metrics != nil {
			g.metrics.WatcherReconnects.Add(ctx, 1)
		}
		if !sleepCtx(ctx, jitter(backoff)) {
			return
		}
		backoff = nextBackoff(backoff, g.watcherCfg.MaxBackoff)
	}
}

// consume reads events off an established stream and dispatches each to the
// reducer until the stream breaks or the watcher is cancelled.
func (g *Registry) consume(ctx context.Context, w *Watcher, stream upstream.EventStream) error {
	for w.active.Load() && ctx.Err() == nil {
		env, err := stream.Next()
		if err != nil {
			return err
		}
		g.Dispatch(ctx, env)
	}
	return ctx.Err()
}

// nextBackoff doubles the delay up to the configured ceiling.
func nextBackoff(cur, max time.Duration) time.Duration {
	next := cur * 2
	if next > max {
		next = max
	}
	return next
}

// jitter spreads delays by +/-25% so watchers for many projects do not
// resubscribe in lockstep after an upstream restart.
func jitter(d time.Duration) time.Duration {
	span := d / 2
	if span <= 0 {
		return d
	}
	return d - span/2 + time.Duration(rand.Int64N(int64(span)))
}

// sleepCtx waits for d, returning false if ctx is cancelled first.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
