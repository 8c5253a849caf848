package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"conductor/internal/async"
	"conductor/internal/ports"
	"conductor/internal/task"
)

// taskRun tracks the side-channel state of one task execution.
type taskRun struct {
	orch    *Orchestrator
	taskID  string
	blockID string
	agentID string
	roomID  string
	started time.Time
	active  bool // tasksActive gauge was incremented

	eventCount   atomic.Int64
	finalizeOnce sync.Once
}

// bestEffort runs a side-channel operation whose failure must never alter
// task state. Failures are logged through the orchestrator's logger and
// counted, nothing else.
func (o *Orchestrator) bestEffort(channel, op, taskID string, fn func() error) {
	if err := fn(); err != nil {
		o.metrics.sideChannelFailures.WithLabelValues(channel).Inc()
		o.logger.Warn("%s %s for task %s failed: %v", channel, op, taskID, err)
	}
}

// openRoom creates the task-scoped chat room. Failure means chat is disabled
// for this task, nothing more.
func (r *taskRun) openRoom(ctx context.Context, req SubmitRequest) {
	participants := []ports.Participant{{ID: req.AgentID, Role: ports.RoleCaller}}
	for _, observer := range mergeObservers(r.orch.config.DefaultObservers, req.Observers) {
		participants = append(participants, ports.Participant{ID: observer, Role: ports.RoleObserver})
	}

	room, err := r.orch.chat.CreateTaskRoom(ctx, ports.CreateRoomRequest{
		TaskID:       r.taskID,
		Name:         fmt.Sprintf("task %s", r.taskID),
		Participants: participants,
	})
	if err != nil {
		r.orch.metrics.sideChannelFailures.WithLabelValues("chat").Inc()
		r.orch.logger.Warn("chat room creation for task %s failed, continuing without chat: %v", r.taskID, err)
		return
	}
	r.roomID = room.RoomID
	r.orch.registry.AttachRoom(r.taskID, room.RoomID)
}

func mergeObservers(defaults, extra []string) []string {
	seen := make(map[string]struct{}, len(defaults)+len(extra))
	var out []string
	for _, id := range append(append([]string(nil), defaults...), extra...) {
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

// onEvent mirrors one significant execution event into the side channels.
// Mirroring a single event to workspace and chat are independent and
// unordered with respect to each other; a failure of either does not abort
// execution or subsequent mirroring.
func (r *taskRun) onEvent(event ports.ExecutionEvent) {
	if !event.Significant() {
		return
	}
	r.eventCount.Add(1)

	ctx := context.Background()
	data := map[string]any{"event_kind": event.Raw}
	if len(event.Data) > 0 {
		data["payload"] = event.Data
	}
	r.orch.bestEffort("workspace", "progress mirror", r.taskID, func() error {
		return r.orch.workspace.UpdateBlock(ctx, r.agentID, r.blockID, ports.BlockPatch{
			Events: []ports.WorkspaceEvent{{
				Type:      ports.WorkspaceTaskProgress,
				Message:   event.Message,
				Data:      data,
				Timestamp: r.orch.now(),
			}},
		})
	})

	if r.roomID != "" && r.orch.chat != nil {
		message := event.Message
		if message == "" {
			message = string(event.Kind)
		}
		r.orch.bestEffort("chat", "progress mirror", r.taskID, func() error {
			return r.orch.chat.SendTaskUpdate(ctx, r.roomID, r.taskID, message, string(event.Kind))
		})
	}
}

func (r *taskRun) mirrorWorkspace(ctx context.Context, patch ports.BlockPatch) {
	r.orch.bestEffort("workspace", "mirror", r.taskID, func() error {
		return r.orch.workspace.UpdateBlock(ctx, r.agentID, r.blockID, patch)
	})
}

// finalize commits the terminal state exactly once: registry commit, room
// close, terminal workspace event and artifact, agent notification, deferred
// workspace release. Later calls are no-ops.
func (r *taskRun) finalize(ctx context.Context, status ports.TaskStatus, outcome task.Outcome) {
	r.finalizeOnce.Do(func() {
		o := r.orch

		o.registry.UpdateStatus(r.taskID, status)
		o.registry.RecordOutcome(r.taskID, outcome)
		if r.active {
			o.metrics.tasksActive.Dec()
		}
		o.metrics.taskDuration.WithLabelValues(string(status)).Observe(outcome.Duration.Seconds())

		if r.roomID != "" && o.chat != nil {
			summary := r.summary(status, outcome)
			o.bestEffort("chat", "room close", r.taskID, func() error {
				return o.chat.CloseTaskRoom(ctx, r.roomID, r.taskID, summary)
			})
			// Room lifetime is bounded to the task: the association is
			// cleared even when the close call failed.
			o.registry.ClearRoom(r.taskID)
		}

		r.mirrorWorkspace(ctx, ports.BlockPatch{
			Status: status,
			Events: []ports.WorkspaceEvent{{
				Type:      terminalEventType(status),
				Message:   r.summary(status, outcome),
				Timestamp: o.now(),
			}},
			Artifacts: []ports.Artifact{r.finalArtifact(status, outcome)},
		})

		if o.notifier != nil {
			o.bestEffort("notifier", "completion notice", r.taskID, func() error {
				return o.notifier.SendMessage(ctx, r.agentID, ports.AgentMessage{
					Role:    "system",
					Content: r.notificationContent(status, outcome),
				})
			})
		}

		r.scheduleRelease()
	})
}

func terminalEventType(status ports.TaskStatus) ports.WorkspaceEventType {
	switch status {
	case ports.TaskStatusCompleted:
		return ports.WorkspaceTaskCompleted
	case ports.TaskStatusTimeout:
		return ports.WorkspaceTaskTimeout
	case ports.TaskStatusCancelled:
		return ports.WorkspaceTaskCancelled
	default:
		return ports.WorkspaceTaskFailed
	}
}

func (r *taskRun) finalArtifact(status ports.TaskStatus, outcome task.Outcome) ports.Artifact {
	if status == ports.TaskStatusCompleted {
		return ports.Artifact{
			Type:      ports.ArtifactOutput,
			Name:      "output",
			Content:   outcome.OutputPreview,
			CreatedAt: r.orch.now(),
		}
	}
	content := outcome.Error
	if content == "" {
		content = string(status)
	}
	return ports.Artifact{
		Type:      ports.ArtifactError,
		Name:      "error",
		Content:   content,
		CreatedAt: r.orch.now(),
	}
}

func (r *taskRun) summary(status ports.TaskStatus, outcome task.Outcome) string {
	events := r.eventCount.Load()
	duration := outcome.Duration.Round(time.Millisecond)
	switch status {
	case ports.TaskStatusCompleted:
		return fmt.Sprintf("Task completed in %s (%d events). Output: %s",
			duration, events, truncate(outcome.OutputPreview, 200))
	case ports.TaskStatusTimeout:
		return fmt.Sprintf("Task timed out after %s (%d events)", duration, events)
	default:
		return fmt.Sprintf("Task %s after %s (%d events): %s",
			status, duration, events, truncate(outcome.Error, 200))
	}
}

func (r *taskRun) notificationContent(status ports.TaskStatus, outcome task.Outcome) string {
	if status == ports.TaskStatusCompleted {
		return fmt.Sprintf("Task %s completed in %s. Output: %s",
			r.taskID, outcome.Duration.Round(time.Millisecond), truncate(outcome.OutputPreview, 500))
	}
	detail := outcome.Error
	if detail == "" {
		detail = string(status)
	}
	return fmt.Sprintf("Task %s finished with status %s: %s", r.taskID, status, truncate(detail, 500))
}

// scheduleRelease detaches the workspace block after a fixed delay, giving
// the agent a window to read the final state first.
func (r *taskRun) scheduleRelease() {
	o := r.orch
	time.AfterFunc(o.config.ReleaseDelay, func() {
		defer async.Recover(o.logger, "orchestrator.release")
		o.bestEffort("workspace", "deferred detach", r.taskID, func() error {
			return o.workspace.DetachBlock(context.Background(), r.agentID, r.blockID)
		})
	})
}
