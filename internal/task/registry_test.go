package task

import (
	"testing"
	"time"

	"conductor/internal/ports"
)

func newTestRegistry(cfg Config) (*Registry, *time.Time) {
	reg := New(cfg, nil)
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	current := &now
	reg.now = func() time.Time { return *current }
	return reg, current
}

func TestRegisterCreatesQueuedEntry(t *testing.T) {
	reg, _ := newTestRegistry(Config{})

	entry := reg.Register("task-1", "agent-1", "")
	if entry.Status != ports.TaskStatusQueued {
		t.Fatalf("expected queued, got %s", entry.Status)
	}
	if entry.CreatedAt.IsZero() {
		t.Fatal("expected createdAt to be set")
	}
	if !entry.StartedAt.IsZero() || !entry.CompletedAt.IsZero() {
		t.Fatal("expected startedAt and completedAt to be unset")
	}
}

func TestRegisterDeduplicatesByIdempotencyKey(t *testing.T) {
	reg, _ := newTestRegistry(Config{})

	first := reg.Register("task-1", "agent-1", "key-a")
	second := reg.Register("task-2", "agent-1", "key-a")
	if second.ID != first.ID {
		t.Fatalf("expected dedup to return %s, got %s", first.ID, second.ID)
	}
	if len(reg.List()) != 1 {
		t.Fatalf("expected a single entry, got %d", len(reg.List()))
	}
}

func TestRegisterReusesKeyAfterEviction(t *testing.T) {
	reg, now := newTestRegistry(Config{RetentionWindow: time.Minute})

	reg.Register("task-1", "agent-1", "key-a")
	reg.UpdateStatus("task-1", ports.TaskStatusCompleted)
	*now = now.Add(2 * time.Minute)
	if removed := reg.Sweep(); removed != 1 {
		t.Fatalf("expected 1 eviction, got %d", removed)
	}

	entry := reg.Register("task-2", "agent-1", "key-a")
	if entry.ID != "task-2" {
		t.Fatalf("expected a fresh entry after retention expiry, got %s", entry.ID)
	}
}

func TestUpdateStatusSetsTimestampsOnce(t *testing.T) {
	reg, now := newTestRegistry(Config{})
	reg.Register("task-1", "agent-1", "")

	reg.UpdateStatus("task-1", ports.TaskStatusRunning)
	entry, _ := reg.Get("task-1")
	started := entry.StartedAt
	if started.IsZero() {
		t.Fatal("expected startedAt to be set on first running transition")
	}

	*now = now.Add(time.Second)
	reg.UpdateStatus("task-1", ports.TaskStatusPaused)
	reg.UpdateStatus("task-1", ports.TaskStatusRunning)
	entry, _ = reg.Get("task-1")
	if !entry.StartedAt.Equal(started) {
		t.Fatal("startedAt must not be overwritten on resume")
	}

	*now = now.Add(time.Second)
	reg.UpdateStatus("task-1", ports.TaskStatusCompleted)
	entry, _ = reg.Get("task-1")
	completed := entry.CompletedAt
	if completed.IsZero() {
		t.Fatal("expected completedAt to be set on terminal transition")
	}
	if completed.Before(entry.StartedAt) {
		t.Fatal("completedAt must not precede startedAt")
	}

	*now = now.Add(time.Second)
	reg.UpdateStatus("task-1", ports.TaskStatusFailed)
	entry, _ = reg.Get("task-1")
	if !entry.CompletedAt.Equal(completed) {
		t.Fatal("completedAt must not be overwritten by a second terminal transition")
	}
}

func TestUpdateStatusUnknownTaskIsNoop(t *testing.T) {
	reg, _ := newTestRegistry(Config{})
	reg.UpdateStatus("missing", ports.TaskStatusRunning)
	if len(reg.List()) != 0 {
		t.Fatal("expected no entries")
	}
}

func TestUpdateStatusAttachesWorkspaceBlock(t *testing.T) {
	reg, _ := newTestRegistry(Config{})
	reg.Register("task-1", "agent-1", "")

	reg.UpdateStatus("task-1", ports.TaskStatusQueued, WithWorkspaceBlock("block-9"))
	entry, _ := reg.Get("task-1")
	if entry.WorkspaceBlockID != "block-9" {
		t.Fatalf("expected block-9, got %q", entry.WorkspaceBlockID)
	}
}

func TestCanAcceptTaskEnforcesCeiling(t *testing.T) {
	reg, _ := newTestRegistry(Config{MaxConcurrent: 2})

	reg.Register("task-1", "agent-1", "")
	reg.Register("task-2", "agent-1", "")
	reg.UpdateStatus("task-1", ports.TaskStatusRunning)
	if !reg.CanAcceptTask() {
		t.Fatal("expected admission with one running task")
	}
	reg.UpdateStatus("task-2", ports.TaskStatusRunning)
	if reg.CanAcceptTask() {
		t.Fatal("expected rejection at the ceiling")
	}
	reg.UpdateStatus("task-1", ports.TaskStatusCompleted)
	if !reg.CanAcceptTask() {
		t.Fatal("expected admission after a task completed")
	}
}

func TestSweepSkipsRunningAndRecentEntries(t *testing.T) {
	reg, now := newTestRegistry(Config{RetentionWindow: time.Minute})

	reg.Register("task-old", "agent-1", "key-old")
	reg.UpdateStatus("task-old", ports.TaskStatusCompleted)

	reg.Register("task-running", "agent-1", "key-running")
	reg.UpdateStatus("task-running", ports.TaskStatusRunning)

	*now = now.Add(time.Hour)
	reg.Register("task-fresh", "agent-1", "")
	reg.UpdateStatus("task-fresh", ports.TaskStatusFailed)

	if removed := reg.Sweep(); removed != 1 {
		t.Fatalf("expected 1 eviction, got %d", removed)
	}
	if _, ok := reg.Get("task-old"); ok {
		t.Fatal("expected expired terminal entry to be evicted")
	}
	if _, ok := reg.Get("task-running"); !ok {
		t.Fatal("running entry must never be evicted")
	}
	if _, ok := reg.Get("task-fresh"); !ok {
		t.Fatal("entry inside the retention window must be kept")
	}
}

func TestRoomAssociationLifecycle(t *testing.T) {
	reg, _ := newTestRegistry(Config{})
	reg.Register("task-1", "agent-1", "")

	reg.AttachRoom("task-1", "room-7")
	entry, ok := reg.FindByRoom("room-7")
	if !ok || entry.ID != "task-1" {
		t.Fatalf("expected reverse lookup to find task-1, got %+v ok=%v", entry, ok)
	}

	reg.ClearRoom("task-1")
	if _, ok := reg.FindByRoom("room-7"); ok {
		t.Fatal("expected association to be cleared")
	}
	entry, _ = reg.Get("task-1")
	if entry.RoomID != "" {
		t.Fatalf("expected empty room id, got %q", entry.RoomID)
	}
}

func TestRecordOutcome(t *testing.T) {
	reg, _ := newTestRegistry(Config{})
	reg.Register("task-1", "agent-1", "")

	code := 0
	reg.RecordOutcome("task-1", Outcome{
		OutputPreview: "done",
		Duration:      3 * time.Second,
		ExitCode:      &code,
	})
	entry, _ := reg.Get("task-1")
	if entry.OutputPreview != "done" || entry.Duration != 3*time.Second {
		t.Fatalf("unexpected outcome fields: %+v", entry)
	}
	if entry.ExitCode == nil || *entry.ExitCode != 0 {
		t.Fatal("expected exit code 0")
	}

	// Snapshots must not alias registry state.
	*entry.ExitCode = 99
	fresh, _ := reg.Get("task-1")
	if *fresh.ExitCode != 0 {
		t.Fatal("snapshot mutation leaked into the registry")
	}
}

func TestListByAgent(t *testing.T) {
	reg, _ := newTestRegistry(Config{})
	reg.Register("task-1", "agent-a", "")
	reg.Register("task-2", "agent-b", "")
	reg.Register("task-3", "agent-a", "")

	entries := reg.ListByAgent("agent-a")
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries for agent-a, got %d", len(entries))
	}
}
