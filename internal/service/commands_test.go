package service_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/codelens-dev/agentgate/internal/domain"
	"github.com/codelens-dev/agentgate/internal/domain/diff"
	"github.com/codelens-dev/agentgate/internal/domain/session"
)

func TestExecuteCommand_UnknownCommand(t *testing.T) {
	reg := newTestRegistry(t, &mockClient{})
	id := createSession(t, reg)

	_, err := reg.ExecuteCommand(context.Background(), id, "self-destruct")
	if !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestExecuteCommand_EmptyCommand(t *testing.T) {
	reg := newTestRegistry(t, &mockClient{})
	id := createSession(t, reg)

	_, err := reg.ExecuteCommand(context.Background(), id, "   ")
	if !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestExecuteCommand_NormalizesCase(t *testing.T) {
	mock := &mockClient{}
	reg := newTestRegistry(t, mock)
	id := createSession(t, reg)

	res, err := reg.ExecuteCommand(context.Background(), id, "  Compact  ")
	if err != nil {
		t.Fatal(err)
	}
	if res.Command != "compact" {
		t.Fatalf("expected normalized command name, got %q", res.Command)
	}
	if mock.summarizes != 1 {
		t.Fatalf("expected 1 summarize call, got %d", mock.summarizes)
	}
}

func TestExecuteCommand_CompactSetsOptimisticActivity(t *testing.T) {
	mock := &mockClient{}
	reg := newTestRegistry(t, mock)
	id := createSession(t, reg)

	if _, err := reg.ExecuteCommand(context.Background(), id, "compact"); err != nil {
		t.Fatal(err)
	}

	snap, _ := reg.Status(id)
	if snap.Activity != session.ActivityBusy || snap.CurrentAction != "Compacting context" {
		t.Fatalf("unexpected optimistic state: %+v", snap)
	}
}

func TestExecuteCommand_AbortSetsOptimisticIdle(t *testing.T) {
	mock := &mockClient{}
	reg := newTestRegistry(t, mock)
	ctx := context.Background()
	id := createSession(t, reg)

	reg.Dispatch(ctx, envelope(t, "session.status", `{"sessionID":%q,"status":{"type":"busy"}}`, id))

	if _, err := reg.ExecuteCommand(ctx, id, "abort"); err != nil {
		t.Fatal(err)
	}
	if mock.aborts != 1 {
		t.Fatalf("expected 1 abort call, got %d", mock.aborts)
	}

	snap, _ := reg.Status(id)
	if snap.Activity != session.ActivityIdle {
		t.Fatalf("expected optimistic idle, got %s", snap.Activity)
	}
}

func TestExecuteCommand_StatusAndHelpForwardUpstream(t *testing.T) {
	mock := &mockClient{}
	reg := newTestRegistry(t, mock)
	ctx := context.Background()
	id := createSession(t, reg)

	for _, name := range []string{"status", "help"} {
		res, err := reg.ExecuteCommand(ctx, id, name)
		if err != nil {
			t.Fatalf("%s: %v", name, err)
		}
		if res.Command != name {
			t.Fatalf("unexpected result command %q", res.Command)
		}
	}
	if len(mock.commands) != 2 || mock.commands[0] != "status" || mock.commands[1] != "help" {
		t.Fatalf("unexpected upstream commands: %v", mock.commands)
	}
}

func TestExecuteCommand_DiffWithZeroRows(t *testing.T) {
	mock := &mockClient{diffRows: nil}
	reg := newTestRegistry(t, mock)
	id := createSession(t, reg)

	res, err := reg.ExecuteCommand(context.Background(), id, "diff")
	if err != nil {
		t.Fatal(err)
	}

	report, ok := res.Result.(diff.Report)
	if !ok {
		t.Fatalf("expected diff.Report result, got %T", res.Result)
	}
	if len(report.Files) != 0 {
		t.Fatalf("expected empty files, got %+v", report.Files)
	}
	if report.Summary != (diff.Summary{}) {
		t.Fatalf("expected zero summary, got %+v", report.Summary)
	}
}

func TestExecuteCommand_DiffSummaryRecomputed(t *testing.T) {
	mock := &mockClient{diffRows: []json.RawMessage{
		json.RawMessage(`{"file":"a.go","additions":3,"deletions":1}`),
		json.RawMessage(`{"path":"b.go","added":2,"removed":4}`),
		json.RawMessage(`{"additions":9}`),
	}}
	reg := newTestRegistry(t, mock)
	id := createSession(t, reg)

	res, err := reg.ExecuteCommand(context.Background(), id, "diff")
	if err != nil {
		t.Fatal(err)
	}

	report := res.Result.(diff.Report)
	if len(report.Files) != 2 {
		t.Fatalf("rows without a file name must be skipped, got %d files", len(report.Files))
	}
	want := diff.Summary{Files: 2, Additions: 5, Deletions: 5}
	if report.Summary != want {
		t.Fatalf("summary must be recomputed from files: got %+v want %+v", report.Summary, want)
	}
}

func TestExecuteCommand_AppendsCommandExecutedEvent(t *testing.T) {
	reg := newTestRegistry(t, &mockClient{})
	id := createSession(t, reg)

	log, _ := reg.EventLog(id)
	before := log.Len()

	if _, err := reg.ExecuteCommand(context.Background(), id, "status"); err != nil {
		t.Fatal(err)
	}

	events := log.Since(before)
	if len(events) != 1 || events[0].Type != "command.executed" {
		t.Fatalf("expected a command.executed event, got %+v", events)
	}
}

func TestExecuteCommand_UpstreamFailureNoEventAppended(t *testing.T) {
	mock := &mockClient{commandErr: errors.New("timeout")}
	reg := newTestRegistry(t, mock)
	id := createSession(t, reg)

	log, _ := reg.EventLog(id)
	before := log.Len()

	_, err := reg.ExecuteCommand(context.Background(), id, "status")
	if !errors.Is(err, domain.ErrUpstream) {
		t.Fatalf("expected upstream error, got %v", err)
	}
	if log.Len() != before {
		t.Fatal("failed command must not append command.executed")
	}
}

func TestExecuteCommand_UnknownSession(t *testing.T) {
	reg := newTestRegistry(t, &mockClient{})

	_, err := reg.ExecuteCommand(context.Background(), "ses_nope", "status")
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}
