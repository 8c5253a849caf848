package backend

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"conductor/internal/ports"
)

func newTestLocal(t *testing.T) *Local {
	t.Helper()
	local, err := NewLocal(LocalConfig{WorkDir: t.TempDir()}, nil)
	if err != nil {
		t.Fatalf("new local backend: %v", err)
	}
	return local
}

type eventSink struct {
	mu     sync.Mutex
	events []ports.ExecutionEvent
}

func (s *eventSink) callback(event ports.ExecutionEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
}

func (s *eventSink) byKind(kind ports.EventKind) []ports.ExecutionEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []ports.ExecutionEvent
	for _, event := range s.events {
		if event.Kind == kind {
			out = append(out, event)
		}
	}
	return out
}

func TestExecuteStreamsOutputLines(t *testing.T) {
	local := newTestLocal(t)
	sink := &eventSink{}

	result, err := local.Execute(context.Background(), ports.ExecutionRequest{
		TaskID:      "task-1",
		Description: "echo one; echo two",
	}, sink.callback)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if result.Status != ports.ExecutionSuccess {
		t.Fatalf("status = %s, error = %s", result.Status, result.Error)
	}
	if result.Output != "one\ntwo" {
		t.Fatalf("output = %q", result.Output)
	}
	if result.ExitCode == nil || *result.ExitCode != 0 {
		t.Fatalf("exit code = %v", result.ExitCode)
	}

	outputs := sink.byKind(ports.EventOutput)
	if len(outputs) != 2 || outputs[0].Message != "one" || outputs[1].Message != "two" {
		t.Fatalf("output events = %+v", outputs)
	}
	if len(sink.byKind(ports.EventComplete)) != 1 {
		t.Fatal("expected a complete event")
	}
}

func TestExecuteNonZeroExit(t *testing.T) {
	local := newTestLocal(t)
	sink := &eventSink{}

	result, err := local.Execute(context.Background(), ports.ExecutionRequest{
		TaskID:      "task-1",
		Description: "echo partial; exit 3",
	}, sink.callback)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if result.Status != ports.ExecutionError {
		t.Fatalf("status = %s", result.Status)
	}
	if result.ExitCode == nil || *result.ExitCode != 3 {
		t.Fatalf("exit code = %v", result.ExitCode)
	}
	if result.Output != "partial" {
		t.Fatalf("output = %q", result.Output)
	}
	if len(sink.byKind(ports.EventError)) != 1 {
		t.Fatal("expected an error event")
	}
}

func TestExecuteStderrIsTagged(t *testing.T) {
	local := newTestLocal(t)

	result, err := local.Execute(context.Background(), ports.ExecutionRequest{
		TaskID:      "task-1",
		Description: "echo oops >&2",
	}, nil)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if result.Output != "[stderr] oops" {
		t.Fatalf("output = %q", result.Output)
	}
}

func TestExecuteTimeout(t *testing.T) {
	local := newTestLocal(t)
	sink := &eventSink{}

	result, err := local.Execute(context.Background(), ports.ExecutionRequest{
		TaskID:      "task-1",
		Description: "sleep 5",
		Timeout:     100 * time.Millisecond,
	}, sink.callback)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if result.Status != ports.ExecutionTimeout {
		t.Fatalf("status = %s", result.Status)
	}
	if !strings.Contains(result.Error, "timed out") {
		t.Fatalf("error = %q", result.Error)
	}
	if len(sink.byKind(ports.EventAbort)) != 1 {
		t.Fatal("expected an abort event")
	}
}

func TestCancelKillsRunningTask(t *testing.T) {
	local := newTestLocal(t)

	done := make(chan *ports.ExecutionResult, 1)
	go func() {
		result, _ := local.Execute(context.Background(), ports.ExecutionRequest{
			TaskID:      "task-1",
			Description: "sleep 10",
		}, nil)
		done <- result
	}()

	waitActive(t, local, "task-1")

	ok, err := local.CancelTask(context.Background(), "task-1")
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if !ok {
		t.Fatal("expected cancel to be accepted")
	}

	select {
	case result := <-done:
		if result.Status != ports.ExecutionError {
			t.Fatalf("status = %s", result.Status)
		}
		if result.Error != "cancelled by control signal" {
			t.Fatalf("error = %q", result.Error)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("cancelled task did not exit")
	}

	if local.IsTaskActive(context.Background(), "task-1") {
		t.Fatal("task must not be active after exit")
	}
}

func TestCancelUnknownTask(t *testing.T) {
	local := newTestLocal(t)
	ok, err := local.CancelTask(context.Background(), "task-missing")
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if ok {
		t.Fatal("expected false for unknown task")
	}
}

func TestPauseResume(t *testing.T) {
	local := newTestLocal(t)

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = local.Execute(context.Background(), ports.ExecutionRequest{
			TaskID:      "task-1",
			Description: "sleep 10",
		}, nil)
	}()

	waitActive(t, local, "task-1")

	ok, err := local.PauseTask(context.Background(), "task-1")
	if err != nil || !ok {
		t.Fatalf("pause: ok=%v err=%v", ok, err)
	}
	// Pause is idempotent.
	ok, err = local.PauseTask(context.Background(), "task-1")
	if err != nil || !ok {
		t.Fatalf("second pause: ok=%v err=%v", ok, err)
	}

	ok, err = local.ResumeTask(context.Background(), "task-1")
	if err != nil || !ok {
		t.Fatalf("resume: ok=%v err=%v", ok, err)
	}

	if _, err := local.CancelTask(context.Background(), "task-1"); err != nil {
		t.Fatalf("cleanup cancel: %v", err)
	}
	<-done
}

func TestTaskFilesAndRead(t *testing.T) {
	local := newTestLocal(t)

	result, err := local.Execute(context.Background(), ports.ExecutionRequest{
		TaskID:      "task-1",
		Description: "printf hello > result.txt; mkdir -p sub; printf nested > sub/inner.txt",
	}, nil)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if result.Status != ports.ExecutionSuccess {
		t.Fatalf("status = %s: %s", result.Status, result.Error)
	}

	files, err := local.TaskFiles(context.Background(), "task-1")
	if err != nil {
		t.Fatalf("task files: %v", err)
	}
	found := make(map[string]bool, len(files))
	for _, f := range files {
		found[f] = true
	}
	if !found["result.txt"] || !found["sub/inner.txt"] {
		t.Fatalf("files = %v", files)
	}

	content, err := local.ReadTaskFile(context.Background(), "task-1", "result.txt")
	if err != nil {
		t.Fatalf("read file: %v", err)
	}
	if content != "hello" {
		t.Fatalf("content = %q", content)
	}
}

func TestReadTaskFileRejectsEscape(t *testing.T) {
	local := newTestLocal(t)
	if _, err := local.Execute(context.Background(), ports.ExecutionRequest{
		TaskID:      "task-1",
		Description: "true",
	}, nil); err != nil {
		t.Fatalf("execute: %v", err)
	}

	if _, err := local.ReadTaskFile(context.Background(), "task-1", "../../etc/passwd"); err == nil {
		t.Fatal("expected traversal to be rejected")
	}
}

func TestInvalidTaskID(t *testing.T) {
	local := newTestLocal(t)
	if _, err := local.TaskFiles(context.Background(), "a/b"); err == nil {
		t.Fatal("expected invalid task id error")
	}
}

func waitActive(t *testing.T, local *Local, taskID string) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if local.IsTaskActive(context.Background(), taskID) {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("task %s never became active", taskID)
}
