package signals

import (
	"context"
	"errors"
	"testing"

	"conductor/internal/chat"
	"conductor/internal/ports"
	"conductor/internal/task"
	"conductor/internal/workspace"
)

type stubBackend struct {
	cancelOK  bool
	cancelErr error
	pauseOK   bool
	pauseErr  error
	resumeOK  bool
	resumeErr error
	active    bool

	cancelCalls int
	pauseCalls  int
	resumeCalls int
}

func (s *stubBackend) Execute(context.Context, ports.ExecutionRequest, ports.EventCallback) (*ports.ExecutionResult, error) {
	return nil, errors.New("not used")
}

func (s *stubBackend) CancelTask(context.Context, string) (bool, error) {
	s.cancelCalls++
	return s.cancelOK, s.cancelErr
}

func (s *stubBackend) PauseTask(context.Context, string) (bool, error) {
	s.pauseCalls++
	return s.pauseOK, s.pauseErr
}

func (s *stubBackend) ResumeTask(context.Context, string) (bool, error) {
	s.resumeCalls++
	return s.resumeOK, s.resumeErr
}

func (s *stubBackend) IsTaskActive(context.Context, string) bool { return s.active }

func (s *stubBackend) TaskFiles(context.Context, string) ([]string, error) { return nil, nil }

func (s *stubBackend) ReadTaskFile(context.Context, string, string) (string, error) { return "", nil }

type fixture struct {
	registry *task.Registry
	backend  *stubBackend
	store    *workspace.MemoryStore
	chat     *chat.Recording
	handler  *Handler
	blockID  string
}

func newFixture(t *testing.T, status ports.TaskStatus) *fixture {
	t.Helper()
	registry := task.New(task.Config{}, nil)
	backend := &stubBackend{cancelOK: true, pauseOK: true, resumeOK: true}
	store := workspace.NewMemoryStore()
	recording := chat.NewRecording()

	registry.Register("task-1", "agent-1", "")
	blockID, err := store.CreateBlock(context.Background(), ports.CreateBlockRequest{TaskID: "task-1", AgentID: "agent-1"})
	if err != nil {
		t.Fatalf("create block: %v", err)
	}
	registry.UpdateStatus("task-1", status, task.WithWorkspaceBlock(blockID))
	registry.AttachRoom("task-1", "room-1")

	return &fixture{
		registry: registry,
		backend:  backend,
		store:    store,
		chat:     recording,
		blockID:  blockID,
		handler: New(Dependencies{
			Registry:  registry,
			Backend:   backend,
			Workspace: store,
			Chat:      recording,
		}),
	}
}

func (f *fixture) status(t *testing.T) ports.TaskStatus {
	t.Helper()
	entry, ok := f.registry.Get("task-1")
	if !ok {
		t.Fatal("task-1 missing from registry")
	}
	return entry.Status
}

func TestCancelFromCancellableStates(t *testing.T) {
	for _, status := range []ports.TaskStatus{ports.TaskStatusQueued, ports.TaskStatusRunning, ports.TaskStatusPaused} {
		t.Run(string(status), func(t *testing.T) {
			f := newFixture(t, status)
			result := f.handler.Handle(context.Background(), Request{
				TaskID: "task-1", Kind: SignalCancel, RequestedBy: "agent-2", Reason: "obsolete",
			})
			if !result.Success {
				t.Fatalf("expected success, got error %q", result.Error)
			}
			if result.PreviousStatus != status || result.NewStatus != ports.TaskStatusCancelled {
				t.Fatalf("unexpected statuses: %+v", result)
			}
			if got := f.status(t); got != ports.TaskStatusCancelled {
				t.Fatalf("registry status = %s", got)
			}

			block, _ := f.store.GetBlock(context.Background(), "agent-1", f.blockID)
			if len(block.Events) != 1 || block.Events[0].Type != ports.WorkspaceTaskCancelled {
				t.Fatalf("expected one task_cancelled event, got %+v", block.Events)
			}
			if block.Events[0].Data["requested_by"] != "agent-2" || block.Events[0].Data["reason"] != "obsolete" {
				t.Fatalf("event data missing requester/reason: %+v", block.Events[0].Data)
			}

			signals := f.chat.CallsTo("SendControlSignal")
			if len(signals) != 1 || signals[0].Signal != "cancel" {
				t.Fatalf("expected one chat control signal, got %+v", signals)
			}
		})
	}
}

func TestCancelRejectedFromTerminalStates(t *testing.T) {
	for _, status := range []ports.TaskStatus{ports.TaskStatusCompleted, ports.TaskStatusFailed, ports.TaskStatusCancelled} {
		t.Run(string(status), func(t *testing.T) {
			f := newFixture(t, status)
			result := f.handler.Handle(context.Background(), Request{TaskID: "task-1", Kind: SignalCancel})
			if result.Success {
				t.Fatal("expected failure")
			}
			want := "Cannot cancel task with status: " + string(status)
			if result.Error != want {
				t.Fatalf("error = %q, want %q", result.Error, want)
			}
			if result.PreviousStatus != status {
				t.Fatalf("previous status = %s", result.PreviousStatus)
			}
			if f.backend.cancelCalls != 0 {
				t.Fatal("backend must not be called on precondition failure")
			}
			if got := f.status(t); got != status {
				t.Fatalf("registry status changed to %s", got)
			}
		})
	}
}

func TestPauseOnlyFromRunning(t *testing.T) {
	f := newFixture(t, ports.TaskStatusQueued)
	result := f.handler.Handle(context.Background(), Request{TaskID: "task-1", Kind: SignalPause})
	if result.Success {
		t.Fatal("expected failure")
	}
	if result.Error != "Cannot pause task with status: queued" {
		t.Fatalf("error = %q", result.Error)
	}

	f = newFixture(t, ports.TaskStatusRunning)
	result = f.handler.Handle(context.Background(), Request{TaskID: "task-1", Kind: SignalPause})
	if !result.Success || result.NewStatus != ports.TaskStatusPaused {
		t.Fatalf("expected paused, got %+v", result)
	}
	block, _ := f.store.GetBlock(context.Background(), "agent-1", f.blockID)
	if len(block.Events) != 1 || block.Events[0].Type != ports.WorkspaceTaskPaused {
		t.Fatalf("expected task_paused event, got %+v", block.Events)
	}
}

func TestResumeOnlyFromPaused(t *testing.T) {
	f := newFixture(t, ports.TaskStatusRunning)
	result := f.handler.Handle(context.Background(), Request{TaskID: "task-1", Kind: SignalResume})
	if result.Success {
		t.Fatal("expected failure")
	}
	if result.Error != "Cannot resume task with status: running" {
		t.Fatalf("error = %q", result.Error)
	}

	f = newFixture(t, ports.TaskStatusPaused)
	result = f.handler.Handle(context.Background(), Request{TaskID: "task-1", Kind: SignalResume})
	if !result.Success || result.NewStatus != ports.TaskStatusRunning {
		t.Fatalf("expected running, got %+v", result)
	}
}

func TestUnknownTask(t *testing.T) {
	f := newFixture(t, ports.TaskStatusRunning)
	result := f.handler.Handle(context.Background(), Request{TaskID: "nope", Kind: SignalCancel})
	if result.Success {
		t.Fatal("expected failure")
	}
	if result.Error != "Task not found: nope" {
		t.Fatalf("error = %q", result.Error)
	}
	if f.backend.cancelCalls != 0 {
		t.Fatal("backend must not be called for unknown tasks")
	}
}

func TestBackendRejectionKeepsRegistryState(t *testing.T) {
	f := newFixture(t, ports.TaskStatusRunning)
	f.backend.pauseOK = false
	result := f.handler.Handle(context.Background(), Request{TaskID: "task-1", Kind: SignalPause})
	if result.Success {
		t.Fatal("expected failure")
	}
	if got := f.status(t); got != ports.TaskStatusRunning {
		t.Fatalf("registry status = %s, want running", got)
	}
	block, _ := f.store.GetBlock(context.Background(), "agent-1", f.blockID)
	if len(block.Events) != 0 {
		t.Fatal("no workspace events expected on backend rejection")
	}
}

func TestCancelDeclinedButInactiveIsSuccess(t *testing.T) {
	f := newFixture(t, ports.TaskStatusRunning)
	f.backend.cancelOK = false
	f.backend.active = false
	result := f.handler.Handle(context.Background(), Request{TaskID: "task-1", Kind: SignalCancel})
	if !result.Success {
		t.Fatalf("expected success when the task already finished, got %q", result.Error)
	}
	if got := f.status(t); got != ports.TaskStatusCancelled {
		t.Fatalf("registry status = %s", got)
	}
}

func TestCancelDeclinedWhileActiveIsFailure(t *testing.T) {
	f := newFixture(t, ports.TaskStatusRunning)
	f.backend.cancelOK = false
	f.backend.active = true
	result := f.handler.Handle(context.Background(), Request{TaskID: "task-1", Kind: SignalCancel})
	if result.Success {
		t.Fatal("expected failure while the backend still runs the task")
	}
	if got := f.status(t); got != ports.TaskStatusRunning {
		t.Fatalf("registry status = %s, want running", got)
	}
}

func TestSideChannelFailuresDoNotAffectResult(t *testing.T) {
	f := newFixture(t, ports.TaskStatusRunning)
	f.store.FailUpdate = errors.New("workspace down")
	f.chat.NextError = errors.New("chat down")
	result := f.handler.Handle(context.Background(), Request{TaskID: "task-1", Kind: SignalCancel})
	if !result.Success {
		t.Fatalf("expected success despite mirror failures, got %q", result.Error)
	}
	if got := f.status(t); got != ports.TaskStatusCancelled {
		t.Fatalf("registry status = %s", got)
	}
}

func TestNoRoomMeansNoChatMirror(t *testing.T) {
	f := newFixture(t, ports.TaskStatusRunning)
	f.registry.ClearRoom("task-1")
	result := f.handler.Handle(context.Background(), Request{TaskID: "task-1", Kind: SignalCancel})
	if !result.Success {
		t.Fatalf("expected success, got %q", result.Error)
	}
	if calls := f.chat.CallsTo("SendControlSignal"); len(calls) != 0 {
		t.Fatalf("expected no chat calls, got %+v", calls)
	}
}
