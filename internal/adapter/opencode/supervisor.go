package opencode

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/codelens-dev/agentgate/internal/config"
)

// Handle is the supervised runtime subprocess after successful startup.
type Handle struct {
	// URL is the base address the runtime reported it is listening on.
	URL string

	cmd    *exec.Cmd
	cancel context.CancelFunc
	done   <-chan error
	once   sync.Once
}

// Close terminates the runtime subprocess and waits for it to exit.
func (h *Handle) Close() {
	h.once.Do(func() {
		h.cancel()
		select {
		case <-h.done:
		case <-time.After(5 * time.Second):
			if h.cmd.Process != nil {
				_ = h.cmd.Process.Kill()
			}
			<-h.done
		}
		slog.Info("upstream runtime stopped")
	})
}

// Supervisor launches the opencode server and discovers its listening
// address. Exactly one instance is started per gateway process; the gateway
// must not accept client traffic until Start succeeds.
type Supervisor struct {
	cfg config.Upstream
}

// NewSupervisor creates a supervisor from upstream configuration.
func NewSupervisor(cfg config.Upstream) *Supervisor {
	return &Supervisor{cfg: cfg}
}

// candidates returns executable names in priority order: the operator
// override first, then the platform-specific name, then the generic one.
func (s *Supervisor) candidates() []string {
	var names []string
	if s.cfg.Binary != "" {
		names = append(names, s.cfg.Binary)
	}
	if runtime.GOOS == "windows" {
		names = append(names, "opencode.exe")
	}
	return append(names, "opencode")
}

// Start launches the runtime and blocks until it reports its bound URL, the
// startup timeout elapses, or the subprocess exits prematurely. Executables
// that are not found are skipped in favor of the next candidate.
func (s *Supervisor) Start(ctx context.Context) (*Handle, error) {
	var lastErr error
	for _, name := range s.candidates() {
		if _, err := exec.LookPath(name); err != nil {
			lastErr = fmt.Errorf("executable not found: %s", name)
			continue
		}

		h, err := s.launch(ctx, name)
		if err != nil {
			return nil, err
		}
		return h, nil
	}

	return nil, fmt.Errorf("no runtime executable available: %w", lastErr)
}

func (s *Supervisor) launch(ctx context.Context, name string) (*Handle, error) {
	procCtx, cancel := context.WithCancel(context.Background())

	cmd := exec.CommandContext(procCtx, name, "serve", //nolint:gosec // executable from trusted config
		"--hostname", s.cfg.Host,
		"--port", s.cfg.Port,
	)

	pr, pw := io.Pipe()
	cmd.Stdout = pw
	cmd.Stderr = pw

	if err := cmd.Start(); err != nil {
		cancel()
		return nil, fmt.Errorf("start %s: %w", name, err)
	}

	slog.Info("upstream runtime starting", "binary", name, "pid", cmd.Process.Pid)

	done := make(chan error, 1)
	go func() {
		done <- cmd.Wait()
		_ = pw.Close()
	}()

	// Scan combined output for the success marker: the line announcing the
	// bound URL.
	marker := fmt.Sprintf("http://%s:%s", s.cfg.Host, s.cfg.Port)
	urlCh := make(chan string, 1)
	var captured strings.Builder
	var capMu sync.Mutex

	go func() {
		scanner := bufio.NewScanner(pr)
		for scanner.Scan() {
			line := scanner.Text()
			capMu.Lock()
			captured.WriteString(line)
			captured.WriteByte('\n')
			capMu.Unlock()
			if strings.Contains(line, marker) {
				select {
				case urlCh <- marker:
				default:
				}
			}
		}
	}()

	timer := time.NewTimer(s.cfg.StartupTimeout)
	defer timer.Stop()

	select {
	case url := <-urlCh:
		slog.Info("upstream runtime ready", "url", url)
		return &Handle{URL: url, cmd: cmd, cancel: cancel, done: done}, nil

	case err := <-done:
		cancel()
		capMu.Lock()
		out := captured.String()
		capMu.Unlock()
		return nil, fmt.Errorf("runtime exited before signaling readiness (%v): %s", err, strings.TrimSpace(out))

	case <-timer.C:
		cancel()
		<-done
		return nil, fmt.Errorf("runtime did not report %s within %s", marker, s.cfg.StartupTimeout)

	case <-ctx.Done():
		cancel()
		<-done
		return nil, ctx.Err()
	}
}
