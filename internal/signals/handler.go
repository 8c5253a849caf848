package signals

import (
	"context"
	"fmt"
	"time"

	"conductor/internal/logging"
	"conductor/internal/ports"
	"conductor/internal/task"
)

// Kind is the control signal requested for a task.
type Kind string

const (
	SignalCancel Kind = "cancel"
	SignalPause  Kind = "pause"
	SignalResume Kind = "resume"
)

// Valid reports whether k is a known signal kind.
func (k Kind) Valid() bool {
	switch k {
	case SignalCancel, SignalPause, SignalResume:
		return true
	}
	return false
}

// Request is a transient control command against one task.
type Request struct {
	TaskID      string
	Kind        Kind
	Reason      string
	RequestedBy string
}

// Result reports the outcome of handling a control signal.
type Result struct {
	Success        bool             `json:"success"`
	PreviousStatus ports.TaskStatus `json:"previous_status,omitempty"`
	NewStatus      ports.TaskStatus `json:"new_status,omitempty"`
	Error          string           `json:"error,omitempty"`
}

// Dependencies wires the handler's collaborators.
type Dependencies struct {
	Registry  *task.Registry
	Backend   ports.ExecutionBackend
	Workspace ports.WorkspaceStore
	Chat      ports.ChatService
	Logger    logging.Logger
	Metrics   *Metrics
}

// Handler validates and executes cancel/pause/resume requests as guarded
// state transitions with ordered side effects. The backend mutation happens
// before the registry commit so the registry never claims a transition the
// backend rejected; workspace and chat mirroring happen after the commit and
// are best-effort.
type Handler struct {
	registry  *task.Registry
	backend   ports.ExecutionBackend
	workspace ports.WorkspaceStore
	chat      ports.ChatService
	logger    logging.Logger
	metrics   *Metrics
	now       func() time.Time
}

// New creates a Handler.
func New(deps Dependencies) *Handler {
	metrics := deps.Metrics
	if metrics == nil {
		metrics = defaultMetrics()
	}
	return &Handler{
		registry:  deps.Registry,
		backend:   deps.Backend,
		workspace: deps.Workspace,
		chat:      deps.Chat,
		logger:    logging.OrNop(deps.Logger),
		metrics:   metrics,
		now:       time.Now,
	}
}

// Handle applies one control signal. The returned Result always carries the
// task's previous status when the task exists; NewStatus is set only on
// success.
func (h *Handler) Handle(ctx context.Context, req Request) Result {
	entry, ok := h.registry.Get(req.TaskID)
	if !ok {
		h.metrics.observe(req.Kind, false)
		return Result{Error: fmt.Sprintf("Task not found: %s", req.TaskID)}
	}

	target, allowed := transition(req.Kind, entry.Status)
	if !allowed {
		h.metrics.observe(req.Kind, false)
		return Result{
			PreviousStatus: entry.Status,
			Error:          fmt.Sprintf("Cannot %s task with status: %s", req.Kind, entry.Status),
		}
	}

	if err := h.applyBackend(ctx, req.Kind, req.TaskID); err != nil {
		h.metrics.observe(req.Kind, false)
		return Result{
			PreviousStatus: entry.Status,
			Error:          err.Error(),
		}
	}

	// Authoritative commit point: once this succeeds the signal is applied
	// even if the side-channel mirrors below fail.
	h.registry.UpdateStatus(req.TaskID, target)

	h.mirrorWorkspace(ctx, entry, req, target)
	h.mirrorChat(ctx, entry, req)

	h.metrics.observe(req.Kind, true)
	return Result{
		Success:        true,
		PreviousStatus: entry.Status,
		NewStatus:      target,
	}
}

// transition returns the resulting status for (signal, current) and whether
// the transition is legal.
func transition(kind Kind, current ports.TaskStatus) (ports.TaskStatus, bool) {
	switch kind {
	case SignalCancel:
		switch current {
		case ports.TaskStatusCompleted, ports.TaskStatusFailed, ports.TaskStatusCancelled:
			return "", false
		}
		return ports.TaskStatusCancelled, true
	case SignalPause:
		if current == ports.TaskStatusRunning {
			return ports.TaskStatusPaused, true
		}
		return "", false
	case SignalResume:
		if current == ports.TaskStatusPaused {
			return ports.TaskStatusRunning, true
		}
		return "", false
	}
	return "", false
}

func (h *Handler) applyBackend(ctx context.Context, kind Kind, taskID string) error {
	switch kind {
	case SignalCancel:
		ok, err := h.backend.CancelTask(ctx, taskID)
		if err != nil {
			return fmt.Errorf("backend cancel failed: %v", err)
		}
		if !ok && h.backend.IsTaskActive(ctx, taskID) {
			// Backend declined and still considers the task active. A false
			// return for an inactive task means it already finished; that is
			// treated as success.
			return fmt.Errorf("backend rejected cancel for active task %s", taskID)
		}
		return nil
	case SignalPause:
		ok, err := h.backend.PauseTask(ctx, taskID)
		if err != nil {
			return fmt.Errorf("backend pause failed: %v", err)
		}
		if !ok {
			return fmt.Errorf("backend rejected pause for task %s", taskID)
		}
		return nil
	case SignalResume:
		ok, err := h.backend.ResumeTask(ctx, taskID)
		if err != nil {
			return fmt.Errorf("backend resume failed: %v", err)
		}
		if !ok {
			return fmt.Errorf("backend rejected resume for task %s", taskID)
		}
		return nil
	}
	return fmt.Errorf("unknown signal: %s", kind)
}

func signalEventType(kind Kind) ports.WorkspaceEventType {
	switch kind {
	case SignalCancel:
		return ports.WorkspaceTaskCancelled
	case SignalPause:
		return ports.WorkspaceTaskPaused
	default:
		return ports.WorkspaceTaskResumed
	}
}

func (h *Handler) mirrorWorkspace(ctx context.Context, entry task.Entry, req Request, target ports.TaskStatus) {
	if h.workspace == nil || entry.WorkspaceBlockID == "" {
		return
	}
	data := map[string]any{"requested_by": req.RequestedBy}
	if req.Reason != "" {
		data["reason"] = req.Reason
	}
	patch := ports.BlockPatch{
		Status: target,
		Events: []ports.WorkspaceEvent{{
			Type:      signalEventType(req.Kind),
			Message:   fmt.Sprintf("Task %s by %s", pastTense(req.Kind), req.RequestedBy),
			Data:      data,
			Timestamp: h.now(),
		}},
	}
	if err := h.workspace.UpdateBlock(ctx, entry.AgentID, entry.WorkspaceBlockID, patch); err != nil {
		h.logger.Warn("workspace mirror for %s signal on %s failed: %v", req.Kind, req.TaskID, err)
	}
}

func (h *Handler) mirrorChat(ctx context.Context, entry task.Entry, req Request) {
	if h.chat == nil || entry.RoomID == "" {
		return
	}
	if err := h.chat.SendControlSignal(ctx, entry.RoomID, req.TaskID, string(req.Kind), req.Reason); err != nil {
		h.logger.Warn("chat mirror for %s signal on %s failed: %v", req.Kind, req.TaskID, err)
	}
}

func pastTense(kind Kind) string {
	switch kind {
	case SignalCancel:
		return "cancelled"
	case SignalPause:
		return "paused"
	default:
		return "resumed"
	}
}
