package ports

import (
	"context"
	"time"
)

// ExecutionStatus is the terminal outcome reported by a backend.
type ExecutionStatus string

const (
	ExecutionSuccess ExecutionStatus = "success"
	ExecutionError   ExecutionStatus = "error"
	ExecutionTimeout ExecutionStatus = "timeout"
)

// ExecutionRequest describes one unit of work handed to a backend.
type ExecutionRequest struct {
	TaskID      string
	AgentID     string
	Description string
	Timeout     time.Duration // execution-level timeout; zero means backend default
}

// ExecutionResult is the terminal result of one execution.
type ExecutionResult struct {
	Status   ExecutionStatus
	Output   string
	Error    string
	Duration time.Duration
	ExitCode *int
}

// ExecutionBackend runs tasks and exposes control operations over them.
//
// Execute blocks until the task reaches a terminal outcome, invoking onEvent
// for every event the backend emits, in order. The control operations return
// whether the backend accepted the request; a false return with a nil error
// means the backend declined (for example, the task is not active).
type ExecutionBackend interface {
	Execute(ctx context.Context, req ExecutionRequest, onEvent EventCallback) (*ExecutionResult, error)
	CancelTask(ctx context.Context, taskID string) (bool, error)
	PauseTask(ctx context.Context, taskID string) (bool, error)
	ResumeTask(ctx context.Context, taskID string) (bool, error)
	IsTaskActive(ctx context.Context, taskID string) bool
	TaskFiles(ctx context.Context, taskID string) ([]string, error)
	ReadTaskFile(ctx context.Context, taskID, path string) (string, error)
}
