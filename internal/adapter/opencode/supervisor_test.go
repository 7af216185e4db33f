package opencode_test

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/codelens-dev/agentgate/internal/adapter/opencode"
	"github.com/codelens-dev/agentgate/internal/config"
)

// fakeRuntime writes an executable shell script standing in for the runtime
// binary and returns its path.
func fakeRuntime(t *testing.T, script string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell script fixtures require a POSIX shell")
	}

	path := filepath.Join(t.TempDir(), "fake-opencode")
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+script), 0o755); err != nil {
		t.Fatal(err)
	}
	return path
}

func upstreamConfig(binary string, timeout time.Duration) config.Upstream {
	return config.Upstream{
		Host:           "127.0.0.1",
		Port:           "18643",
		Binary:         binary,
		StartupTimeout: timeout,
	}
}

func TestSupervisor_StartDiscoversBoundURL(t *testing.T) {
	bin := fakeRuntime(t, `echo "opencode server listening on http://127.0.0.1:18643"
sleep 60
`)
	sup := opencode.NewSupervisor(upstreamConfig(bin, 5*time.Second))

	handle, err := sup.Start(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	defer handle.Close()

	if handle.URL != "http://127.0.0.1:18643" {
		t.Fatalf("unexpected url %q", handle.URL)
	}
}

func TestSupervisor_ExitBeforeReadyCapturesOutput(t *testing.T) {
	bin := fakeRuntime(t, `echo "fatal: address already in use"
exit 1
`)
	sup := opencode.NewSupervisor(upstreamConfig(bin, 5*time.Second))

	_, err := sup.Start(context.Background())
	if err == nil {
		t.Fatal("expected startup failure")
	}
	if !strings.Contains(err.Error(), "address already in use") {
		t.Fatalf("error should carry the subprocess output: %v", err)
	}
}

func TestSupervisor_StartupTimeout(t *testing.T) {
	bin := fakeRuntime(t, `sleep 60
`)
	sup := opencode.NewSupervisor(upstreamConfig(bin, 200*time.Millisecond))

	start := time.Now()
	_, err := sup.Start(context.Background())
	if err == nil {
		t.Fatal("expected timeout failure")
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Fatalf("timeout took too long: %s", elapsed)
	}
}

func TestSupervisor_MissingBinary(t *testing.T) {
	sup := opencode.NewSupervisor(config.Upstream{
		Host:           "127.0.0.1",
		Port:           "18643",
		Binary:         filepath.Join(t.TempDir(), "does-not-exist"),
		StartupTimeout: time.Second,
	})

	// The generic "opencode" fallback is assumed absent on test machines; if
	// it is installed this test exercises the happy path instead, so only the
	// explicit-binary miss is asserted via the error-or-handle outcome.
	handle, err := sup.Start(context.Background())
	if err == nil {
		handle.Close()
		t.Skip("a real opencode binary is installed; fallback path not testable")
	}
	if !strings.Contains(err.Error(), "no runtime executable available") &&
		!strings.Contains(err.Error(), "runtime") {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestHandle_CloseIsIdempotent(t *testing.T) {
	bin := fakeRuntime(t, `echo "http://127.0.0.1:18643"
sleep 60
`)
	sup := opencode.NewSupervisor(upstreamConfig(bin, 5*time.Second))

	handle, err := sup.Start(context.Background())
	if err != nil {
		t.Fatal(err)
	}

	handle.Close()
	handle.Close()
}
