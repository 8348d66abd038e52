package session

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	"review-triage/internal/config"
	"review-triage/internal/domain"
	"review-triage/internal/scan"
	"review-triage/internal/types"
)

func TestCreateAndGet(t *testing.T) {
	store := NewStore(t.TempDir())

	sess, err := store.Create("nightly run", "/repo", []string{"ci"})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if sess.SessionID == "" {
		t.Fatal("Create() returned an empty session id")
	}
	if sess.Metadata.Status != StatusActive {
		t.Errorf("Status = %q, want %q", sess.Metadata.Status, StatusActive)
	}

	got, err := store.Get(sess.SessionID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.Metadata.Name != "nightly run" || got.Metadata.ProjectRoot != "/repo" {
		t.Errorf("metadata = %+v, want name and project root persisted", got.Metadata)
	}
	if !reflect.DeepEqual(got.Metadata.Tags, []string{"ci"}) {
		t.Errorf("Tags = %v, want [ci]", got.Metadata.Tags)
	}
	if got.Messages == nil || got.WorkflowEvents == nil {
		t.Error("empty slices must persist as [], not null")
	}
}

func TestGetMissingSession(t *testing.T) {
	store := NewStore(t.TempDir())

	_, err := store.Get("no-such-id")
	var notFound *types.SessionNotFoundError
	if !errors.As(err, &notFound) {
		t.Fatalf("error = %v, want a session-not-found error", err)
	}
	if notFound.SessionID != "no-such-id" {
		t.Errorf("SessionID = %q, want no-such-id", notFound.SessionID)
	}
}

func TestSaveBumpsUpdatedAt(t *testing.T) {
	store := NewStore(t.TempDir())
	current := time.Date(2026, 8, 25, 10, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return current }

	sess, err := store.Create("run", "", nil)
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	current = current.Add(5 * time.Minute)
	if err := store.Save(sess); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	got, _ := store.Get(sess.SessionID)
	if !got.Metadata.UpdatedAt.Equal(current) {
		t.Errorf("UpdatedAt = %v, want %v", got.Metadata.UpdatedAt, current)
	}
	if !got.Metadata.CreatedAt.Equal(current.Add(-5 * time.Minute)) {
		t.Errorf("CreatedAt = %v, want unchanged", got.Metadata.CreatedAt)
	}
}

func TestAppendWorkflowEventCoalescesThoughts(t *testing.T) {
	store := NewStore(t.TempDir())
	sess, err := store.Create("run", "", nil)
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	for i := 0; i < 4; i++ {
		err := store.AppendWorkflowEvent(sess.SessionID, WorkflowEvent{
			Type:    config.EventThought,
			Stage:   "planner",
			Content: fmt.Sprintf("part%d ", i),
		})
		if err != nil {
			t.Fatalf("AppendWorkflowEvent() error = %v", err)
		}
	}

	got, _ := store.Get(sess.SessionID)
	if len(got.WorkflowEvents) != 1 {
		t.Fatalf("len(WorkflowEvents) = %d, want 1 after coalescing", len(got.WorkflowEvents))
	}
	if want := "part0 part1 part2 part3 "; got.WorkflowEvents[0].Content != want {
		t.Errorf("Content = %q, want %q", got.WorkflowEvents[0].Content, want)
	}
}

func TestAppendWorkflowEventBoundaries(t *testing.T) {
	store := NewStore(t.TempDir())
	sess, err := store.Create("run", "", nil)
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	steps := []struct {
		event   WorkflowEvent
		wantLen int
	}{
		{WorkflowEvent{Type: config.EventThought, Stage: "planner", Content: "a"}, 1},
		{WorkflowEvent{Type: config.EventThought, Stage: "planner", Content: "b"}, 1},
		{WorkflowEvent{Type: config.EventThought, Stage: "scan", Content: "c"}, 2},
		{WorkflowEvent{Type: config.EventChunk, Stage: "scan", Content: "d"}, 3},
		{WorkflowEvent{Type: config.EventChunk, Stage: "scan", Content: "e"}, 3},
		{WorkflowEvent{Type: config.EventScanStart, Stage: "scan"}, 4},
		{WorkflowEvent{Type: config.EventChunk, Stage: "scan", Content: "f"}, 5},
	}

	for i, step := range steps {
		if err := store.AppendWorkflowEvent(sess.SessionID, step.event); err != nil {
			t.Fatalf("step %d: AppendWorkflowEvent() error = %v", i, err)
		}
		got, _ := store.Get(sess.SessionID)
		if len(got.WorkflowEvents) != step.wantLen {
			t.Errorf("step %d: len = %d, want %d", i, len(got.WorkflowEvents), step.wantLen)
		}
	}

	got, _ := store.Get(sess.SessionID)
	if got.WorkflowEvents[0].Content != "ab" {
		t.Errorf("coalesced content = %q, want ab", got.WorkflowEvents[0].Content)
	}
}

func TestAppendWorkflowEventUpdatesTimestamp(t *testing.T) {
	store := NewStore(t.TempDir())
	current := time.Date(2026, 8, 25, 10, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return current }

	sess, err := store.Create("run", "", nil)
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	if err := store.AppendWorkflowEvent(sess.SessionID, WorkflowEvent{Type: config.EventThought, Stage: "planner", Content: "a"}); err != nil {
		t.Fatalf("AppendWorkflowEvent() error = %v", err)
	}
	current = current.Add(time.Minute)
	if err := store.AppendWorkflowEvent(sess.SessionID, WorkflowEvent{Type: config.EventThought, Stage: "planner", Content: "b"}); err != nil {
		t.Fatalf("AppendWorkflowEvent() error = %v", err)
	}

	got, _ := store.Get(sess.SessionID)
	if !got.WorkflowEvents[0].Timestamp.Equal(current) {
		t.Errorf("Timestamp = %v, want moved to the latest append", got.WorkflowEvents[0].Timestamp)
	}
}

func TestAppendMessage(t *testing.T) {
	store := NewStore(t.TempDir())
	sess, err := store.Create("run", "", nil)
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	if err := store.AppendMessage(sess.SessionID, Message{Role: "user", Content: "review this"}); err != nil {
		t.Fatalf("AppendMessage() error = %v", err)
	}
	if err := store.AppendMessage(sess.SessionID, Message{Role: "assistant", Content: "plan ready", ToolName: "planner"}); err != nil {
		t.Fatalf("AppendMessage() error = %v", err)
	}

	got, _ := store.Get(sess.SessionID)
	if len(got.Messages) != 2 {
		t.Fatalf("len(Messages) = %d, want 2", len(got.Messages))
	}
	if got.Messages[1].ToolName != "planner" {
		t.Errorf("ToolName = %q, want planner", got.Messages[1].ToolName)
	}
	if got.Messages[0].Timestamp.IsZero() {
		t.Error("message timestamp not defaulted")
	}
}

func TestSettersRoundTrip(t *testing.T) {
	store := NewStore(t.TempDir())
	sess, err := store.Create("run", "", nil)
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	units := []domain.ReviewUnit{{
		UnitID:    "u1",
		FilePath:  "a.py",
		Language:  "python",
		HunkRange: domain.HunkRange{NewStart: 10, NewLines: 5},
		Tags:      []string{"api_endpoint"},
		Symbol:    &domain.Symbol{Name: "handler", Kind: "function", StartLine: 8, EndLine: 20},
	}}
	linked := &scan.LinkedIssues{
		Units: units,
		UnitIssues: map[string][]domain.ScannerIssue{
			"u1": {{File: "a.py", Line: 12, Severity: domain.SeverityWarning, Source: "pylint"}},
		},
		MappedCount:   1,
		UnmappedCount: 0,
	}

	if err := store.SetDiffFiles(sess.SessionID, []string{"a.py"}); err != nil {
		t.Fatalf("SetDiffFiles() error = %v", err)
	}
	if err := store.SetDiffUnits(sess.SessionID, units); err != nil {
		t.Fatalf("SetDiffUnits() error = %v", err)
	}
	if err := store.SetStaticScanLinked(sess.SessionID, linked); err != nil {
		t.Fatalf("SetStaticScanLinked() error = %v", err)
	}

	got, _ := store.Get(sess.SessionID)
	if !reflect.DeepEqual(got.DiffFiles, []string{"a.py"}) {
		t.Errorf("DiffFiles = %v", got.DiffFiles)
	}
	if len(got.DiffUnits) != 1 || got.DiffUnits[0].Symbol == nil || got.DiffUnits[0].Symbol.Name != "handler" {
		t.Errorf("DiffUnits = %+v, want the symbol preserved", got.DiffUnits)
	}
	if got.StaticScanLinked == nil || got.StaticScanLinked.MappedCount != 1 {
		t.Errorf("StaticScanLinked = %+v", got.StaticScanLinked)
	}
	if issues := got.StaticScanLinked.UnitIssues["u1"]; len(issues) != 1 || issues[0].Line != 12 {
		t.Errorf("UnitIssues[u1] = %+v", issues)
	}
}

func TestArchiveFlipsOnlyStatus(t *testing.T) {
	store := NewStore(t.TempDir())
	sess, err := store.Create("keepsake", "/repo", []string{"x"})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if err := store.SetDiffFiles(sess.SessionID, []string{"a.py"}); err != nil {
		t.Fatalf("SetDiffFiles() error = %v", err)
	}

	if err := store.Archive(sess.SessionID); err != nil {
		t.Fatalf("Archive() error = %v", err)
	}

	got, _ := store.Get(sess.SessionID)
	if got.Metadata.Status != StatusArchived {
		t.Errorf("Status = %q, want %q", got.Metadata.Status, StatusArchived)
	}
	if got.Metadata.Name != "keepsake" || len(got.DiffFiles) != 1 {
		t.Error("archive must not touch anything but the status")
	}
}

func TestDelete(t *testing.T) {
	store := NewStore(t.TempDir())
	sess, err := store.Create("run", "", nil)
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	store.Cancel(sess.SessionID)

	if err := store.Delete(sess.SessionID); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if _, err := store.Get(sess.SessionID); err == nil {
		t.Error("Get() after Delete() should fail")
	}
	if store.IsCancelled(sess.SessionID) {
		t.Error("Delete() must clear the cancel flag")
	}

	var notFound *types.SessionNotFoundError
	if err := store.Delete(sess.SessionID); !errors.As(err, &notFound) {
		t.Errorf("second Delete() error = %v, want not-found", err)
	}
}

func TestListNewestFirstSkipsCorrupt(t *testing.T) {
	dir := t.TempDir()
	store := NewStore(dir)
	current := time.Date(2026, 8, 25, 10, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return current }

	older, err := store.Create("older", "", nil)
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	current = current.Add(time.Hour)
	newer, err := store.Create("newer", "", nil)
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	if err := os.WriteFile(filepath.Join(dir, "corrupt.json"), []byte("{not json"), 0o644); err != nil {
		t.Fatalf("write corrupt file: %v", err)
	}

	sessions, err := store.List()
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(sessions) != 2 {
		t.Fatalf("len(sessions) = %d, want 2 with the corrupt file skipped", len(sessions))
	}
	if sessions[0].SessionID != newer.SessionID || sessions[1].SessionID != older.SessionID {
		t.Errorf("order = [%s %s], want newest first", sessions[0].Metadata.Name, sessions[1].Metadata.Name)
	}
}

func TestListEmptyDir(t *testing.T) {
	store := NewStore(filepath.Join(t.TempDir(), "never-created"))
	sessions, err := store.List()
	if err != nil || sessions != nil {
		t.Errorf("List() = %v, %v, want nil, nil for a missing dir", sessions, err)
	}
}

func TestCancelFlags(t *testing.T) {
	store := NewStore(t.TempDir())

	if store.IsCancelled("s1") {
		t.Error("IsCancelled() = true before Cancel")
	}
	store.Cancel("s1")
	if !store.IsCancelled("s1") {
		t.Error("IsCancelled() = false after Cancel")
	}
	if store.IsCancelled("s2") {
		t.Error("cancel flag leaked across sessions")
	}
}

func TestSaveFallsBackToTempDir(t *testing.T) {
	fallbackRoot := t.TempDir()
	t.Setenv("TMPDIR", fallbackRoot)

	// Using a file as the parent makes every MkdirAll/write fail.
	blocker := filepath.Join(t.TempDir(), "blocker")
	if err := os.WriteFile(blocker, []byte("x"), 0o644); err != nil {
		t.Fatalf("write blocker: %v", err)
	}
	store := NewStore(filepath.Join(blocker, "sessions"))

	sess := &Session{SessionID: "fb-1", Metadata: Metadata{Status: StatusActive}}
	err := store.Save(sess)

	var perr *types.PersistenceError
	if !errors.As(err, &perr) {
		t.Fatalf("Save() error = %v, want a persistence error", err)
	}
	data, readErr := os.ReadFile(filepath.Join(fallbackRoot, "review-triage-sessions", "fb-1.json"))
	if readErr != nil {
		t.Fatalf("fallback copy missing: %v", readErr)
	}
	if !strings.Contains(string(data), "fb-1") {
		t.Error("fallback copy does not contain the session document")
	}
}
