package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"gatehouse.org/internal/auth"
	"gatehouse.org/internal/obs"
	"gatehouse.org/internal/store/memory"
)

func withActor(ctx context.Context, id string) context.Context {
	return auth.ContextWithAuth(ctx, auth.NewAuthContext(&auth.User{ID: id, Username: "admin"}, nil, "tok"))
}

func TestLogEvent(t *testing.T) {
	var buf bytes.Buffer
	restore := obs.SetOutput(&buf)
	defer restore()

	ctx := context.Background()
	ctx = WithRequestID(ctx, "req-123")
	ctx = withActor(ctx, "user-42")

	if err := LogEvent(ctx, "audit.test", map[string]any{"foo": "bar"}); err != nil {
		t.Fatalf("LogEvent failed: %v", err)
	}

	line := buf.String()
	if line == "" {
		t.Fatal("expected log output")
	}

	var entry map[string]any
	if err := json.Unmarshal([]byte(line), &entry); err != nil {
		t.Fatalf("log not valid JSON: %v", err)
	}
	if entry["type"] != "audit" {
		t.Fatalf("unexpected type: %v", entry["type"])
	}
	if entry["event"] != "audit.test" {
		t.Fatalf("unexpected event: %v", entry["event"])
	}
	if entry["request_id"] != "req-123" {
		t.Fatalf("unexpected request id: %v", entry["request_id"])
	}
	if entry["user_id"] != "user-42" {
		t.Fatalf("unexpected user id: %v", entry["user_id"])
	}
	if _, ok := entry["ts"]; !ok {
		t.Fatal("expected ts field")
	}
	fields, ok := entry["fields"].(map[string]any)
	if !ok || fields["foo"] != "bar" {
		t.Fatalf("fields missing or incorrect: %v", entry["fields"])
	}
}

func TestLogEventRequiresName(t *testing.T) {
	if err := LogEvent(context.Background(), "  ", nil); err == nil {
		t.Fatal("expected error for blank event")
	}
}

func TestRecorderAppendsSnapshot(t *testing.T) {
	var buf bytes.Buffer
	restore := obs.SetOutput(&buf)
	defer restore()

	st := memory.New()
	rec := NewRecorder(st)
	ctx := withActor(context.Background(), "user-7")

	before := auth.Role{ID: "r-1", Name: "old"}
	after := auth.Role{ID: "r-1", Name: "new"}
	rec.Record(ctx, auth.SubjectRole, auth.ActionUpdate, "r-1", before, after)

	entries, total, err := rec.List(context.Background(), auth.HistoryQuery{Subject: "ROLE", SubjectID: "r-1"})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if total != 1 {
		t.Fatalf("total = %d", total)
	}
	h := entries[0]
	if h.UserID != "user-7" || h.Action != "UPDATE" {
		t.Fatalf("unexpected entry: %+v", h)
	}
	var snap auth.Role
	if err := json.Unmarshal(h.After, &snap); err != nil || snap.Name != "new" {
		t.Fatalf("after snapshot = %s (%v)", h.After, err)
	}
	if !strings.Contains(buf.String(), `"event":"history.role.update"`) {
		t.Fatalf("expected audit log line, got %s", buf.String())
	}
}

type brokenHistory struct{ auth.HistoryStore }

func (brokenHistory) Append(context.Context, *auth.History) error { return errors.New("disk full") }

type brokenStore struct{ *memory.Store }

func (b brokenStore) History(ctx context.Context) auth.HistoryStore {
	return brokenHistory{b.Store.History(ctx)}
}

func TestRecorderSwallowsWriteFailures(t *testing.T) {
	var buf bytes.Buffer
	restore := obs.SetOutput(&buf)
	defer restore()

	rec := NewRecorder(brokenStore{memory.New()})
	rec.Record(context.Background(), auth.SubjectUser, auth.ActionDelete, "u-1", nil, nil)

	if !strings.Contains(buf.String(), "history_write_failed") || !strings.Contains(buf.String(), "disk full") {
		t.Fatalf("expected failure to be logged, got %s", buf.String())
	}
}
