package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"conductor/internal/async"
	"conductor/internal/logging"
	"conductor/internal/ports"
	"conductor/internal/task"
)

// ErrCapacity reports that the running-task ceiling was reached at admission.
var ErrCapacity = errors.New("task capacity reached")

// DuplicateSubmissionMessage is returned when an idempotency key matches a
// still-tracked task.
const DuplicateSubmissionMessage = "Task already exists (idempotency key match)"

// Config controls orchestration behavior.
type Config struct {
	ChatEnabled        bool
	DefaultObservers   []string      // deployment-wide observer ids invited to every room
	ResponseTimeout    time.Duration // sync submissions return "still in progress" after this
	ReleaseDelay       time.Duration // wait before detaching the workspace block
	OutputPreviewLimit int           // max bytes of output stored on the registry entry
}

// DefaultConfig returns the orchestrator defaults.
func DefaultConfig() Config {
	return Config{
		ResponseTimeout:    30 * time.Second,
		ReleaseDelay:       time.Minute,
		OutputPreviewLimit: 2000,
	}
}

// Dependencies wires the orchestrator's collaborators. Registry, Backend and
// Workspace are required; Chat, Notifier, Metrics and Tracer are optional.
type Dependencies struct {
	Registry  *task.Registry
	Backend   ports.ExecutionBackend
	Workspace ports.WorkspaceStore
	Chat      ports.ChatService
	Notifier  ports.AgentNotifier
	Metrics   *Metrics
	Tracer    trace.Tracer
	Logger    logging.Logger
}

// Orchestrator drives one task from admission to finalization: admission via
// the registry, workspace provisioning, optional chat room, backend dispatch
// with event fan-out, exactly-once finalization and deferred workspace
// release.
type Orchestrator struct {
	config    Config
	registry  *task.Registry
	backend   ports.ExecutionBackend
	workspace ports.WorkspaceStore
	chat      ports.ChatService
	notifier  ports.AgentNotifier
	metrics   *Metrics
	tracer    trace.Tracer
	logger    logging.Logger

	newTaskID func() string
	now       func() time.Time
}

// New creates an Orchestrator.
func New(cfg Config, deps Dependencies) (*Orchestrator, error) {
	if deps.Registry == nil {
		return nil, fmt.Errorf("registry is required")
	}
	if deps.Backend == nil {
		return nil, fmt.Errorf("execution backend is required")
	}
	if deps.Workspace == nil {
		return nil, fmt.Errorf("workspace store is required")
	}
	if cfg.ResponseTimeout <= 0 {
		cfg.ResponseTimeout = DefaultConfig().ResponseTimeout
	}
	if cfg.ReleaseDelay <= 0 {
		cfg.ReleaseDelay = DefaultConfig().ReleaseDelay
	}
	if cfg.OutputPreviewLimit <= 0 {
		cfg.OutputPreviewLimit = DefaultConfig().OutputPreviewLimit
	}
	metrics := deps.Metrics
	if metrics == nil {
		metrics = defaultMetrics()
	}
	tracer := deps.Tracer
	if tracer == nil {
		tracer = noop.NewTracerProvider().Tracer("conductor")
	}
	return &Orchestrator{
		config:    cfg,
		registry:  deps.Registry,
		backend:   deps.Backend,
		workspace: deps.Workspace,
		chat:      deps.Chat,
		notifier:  deps.Notifier,
		metrics:   metrics,
		tracer:    tracer,
		logger:    logging.OrNop(deps.Logger),
		newTaskID: func() string { return "task-" + uuid.New().String() },
		now:       time.Now,
	}, nil
}

// SubmitRequest describes one task submission.
type SubmitRequest struct {
	AgentID        string
	Description    string
	IdempotencyKey string
	Timeout        time.Duration // execution-level timeout passed to the backend
	Sync           bool          // wait (bounded) for completion before responding
	Observers      []string      // per-request observer ids for the chat room
}

// SubmitResponse is the caller-visible submission result.
type SubmitResponse struct {
	TaskID           string           `json:"task_id"`
	Status           ports.TaskStatus `json:"status"`
	WorkspaceBlockID string           `json:"workspace_block_id,omitempty"`
	Message          string           `json:"message,omitempty"`
	Output           string           `json:"output,omitempty"`
	Error            string           `json:"error,omitempty"`
}

// Submit admits and dispatches one task. Admission and provisioning errors
// are returned; everything after provisioning runs detached from the caller's
// context. For sync submissions the call waits up to the response timeout,
// then reports "still in progress" while the work continues.
func (o *Orchestrator) Submit(ctx context.Context, req SubmitRequest) (*SubmitResponse, error) {
	ctx, span := o.tracer.Start(ctx, "task.submit",
		trace.WithAttributes(attribute.String("agent.id", req.AgentID)))
	defer span.End()

	taskID := o.newTaskID()

	if !o.registry.CanAcceptTask() {
		o.metrics.admissionRejections.Inc()
		return nil, fmt.Errorf("%w: %d tasks running", ErrCapacity, o.registry.RunningCount())
	}

	entry := o.registry.Register(taskID, req.AgentID, req.IdempotencyKey)
	if entry.ID != taskID {
		o.metrics.duplicateSubmits.Inc()
		return &SubmitResponse{
			TaskID:           entry.ID,
			Status:           entry.Status,
			WorkspaceBlockID: entry.WorkspaceBlockID,
			Message:          DuplicateSubmissionMessage,
		}, nil
	}
	span.SetAttributes(attribute.String("task.id", taskID))

	blockID, err := o.workspace.CreateBlock(ctx, ports.CreateBlockRequest{
		TaskID:  taskID,
		AgentID: req.AgentID,
		Label:   truncate(req.Description, 80),
	})
	if err != nil {
		o.registry.UpdateStatus(taskID, ports.TaskStatusFailed)
		return nil, fmt.Errorf("workspace provisioning failed: %w", err)
	}
	o.registry.UpdateStatus(taskID, ports.TaskStatusQueued, task.WithWorkspaceBlock(blockID))

	// The run must outlive the caller's request context.
	runCtx := context.WithoutCancel(ctx)
	done := make(chan struct{})
	async.Go(o.logger, "orchestrator.run", func() {
		defer close(done)
		o.runTask(runCtx, taskID, blockID, req)
	})

	if !req.Sync {
		return &SubmitResponse{
			TaskID:           taskID,
			Status:           ports.TaskStatusQueued,
			WorkspaceBlockID: blockID,
		}, nil
	}

	// Response shaping only: the timer bounds how long the caller waits, it
	// never cancels the run.
	timer := time.NewTimer(o.config.ResponseTimeout)
	defer timer.Stop()
	select {
	case <-done:
		final, _ := o.registry.Get(taskID)
		return &SubmitResponse{
			TaskID:           taskID,
			Status:           final.Status,
			WorkspaceBlockID: final.WorkspaceBlockID,
			Output:           final.OutputPreview,
			Error:            final.Error,
		}, nil
	case <-timer.C:
		return &SubmitResponse{
			TaskID:           taskID,
			Status:           ports.TaskStatusRunning,
			WorkspaceBlockID: blockID,
			Message:          "Task still in progress",
		}, nil
	}
}

// runTask drives one admitted task to its terminal state. Finalization is
// guaranteed to run exactly once on every path, including panics.
func (o *Orchestrator) runTask(ctx context.Context, taskID, blockID string, req SubmitRequest) {
	ctx, span := o.tracer.Start(ctx, "task.run",
		trace.WithAttributes(
			attribute.String("task.id", taskID),
			attribute.String("agent.id", req.AgentID),
		))
	defer span.End()

	run := &taskRun{
		orch:    o,
		taskID:  taskID,
		blockID: blockID,
		agentID: req.AgentID,
		started: o.now(),
	}

	defer func() {
		if r := recover(); r != nil {
			o.logger.Error("task %s orchestration panic: %v", taskID, r)
			run.finalize(ctx, ports.TaskStatusFailed, task.Outcome{
				Error:    fmt.Sprintf("internal error: %v", r),
				Duration: o.now().Sub(run.started),
			})
		}
	}()

	if o.config.ChatEnabled && o.chat != nil {
		run.openRoom(ctx, req)
	}

	o.registry.UpdateStatus(taskID, ports.TaskStatusRunning)
	o.metrics.tasksActive.Inc()
	run.active = true

	startedData := map[string]any{"description": req.Description}
	if run.roomID != "" {
		startedData["room_id"] = run.roomID
	}
	run.mirrorWorkspace(ctx, ports.BlockPatch{
		Status: ports.TaskStatusRunning,
		Events: []ports.WorkspaceEvent{{
			Type:      ports.WorkspaceTaskStarted,
			Message:   "Task started",
			Data:      startedData,
			Timestamp: o.now(),
		}},
	})

	result, err := o.backend.Execute(ctx, ports.ExecutionRequest{
		TaskID:      taskID,
		AgentID:     req.AgentID,
		Description: req.Description,
		Timeout:     req.Timeout,
	}, run.onEvent)

	if err != nil {
		run.finalize(ctx, ports.TaskStatusFailed, task.Outcome{
			Error:    err.Error(),
			Duration: o.now().Sub(run.started),
		})
		return
	}

	status := mapExecutionStatus(result.Status)
	run.finalize(ctx, status, task.Outcome{
		OutputPreview: truncate(result.Output, o.config.OutputPreviewLimit),
		Error:         result.Error,
		Duration:      result.Duration,
		ExitCode:      result.ExitCode,
	})
}

func mapExecutionStatus(status ports.ExecutionStatus) ports.TaskStatus {
	switch status {
	case ports.ExecutionSuccess:
		return ports.TaskStatusCompleted
	case ports.ExecutionTimeout:
		return ports.TaskStatusTimeout
	default:
		return ports.TaskStatusFailed
	}
}

func truncate(s string, limit int) string {
	if limit <= 0 || len(s) <= limit {
		return s
	}
	return s[:limit] + "..."
}
