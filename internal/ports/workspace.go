package ports

import (
	"context"
	"time"
)

// WorkspaceEventType tags entries in a workspace block's event log.
type WorkspaceEventType string

const (
	WorkspaceTaskStarted   WorkspaceEventType = "task_started"
	WorkspaceTaskProgress  WorkspaceEventType = "task_progress"
	WorkspaceTaskCompleted WorkspaceEventType = "task_completed"
	WorkspaceTaskFailed    WorkspaceEventType = "task_failed"
	WorkspaceTaskTimeout   WorkspaceEventType = "task_timeout"
	WorkspaceTaskCancelled WorkspaceEventType = "task_cancelled"
	WorkspaceTaskPaused    WorkspaceEventType = "task_paused"
	WorkspaceTaskResumed   WorkspaceEventType = "task_resumed"
)

// WorkspaceEvent is one entry in the block's append-only event log.
type WorkspaceEvent struct {
	Type      WorkspaceEventType `json:"type"`
	Message   string             `json:"message,omitempty"`
	Data      map[string]any     `json:"data,omitempty"`
	Timestamp time.Time          `json:"timestamp"`
}

// ArtifactType classifies workspace artifacts.
type ArtifactType string

const (
	ArtifactFile   ArtifactType = "file"
	ArtifactOutput ArtifactType = "output"
	ArtifactError  ArtifactType = "error"
	ArtifactLog    ArtifactType = "log"
)

// Artifact is one entry in the block's append-only artifact list.
type Artifact struct {
	Type      ArtifactType `json:"type"`
	Name      string       `json:"name,omitempty"`
	Content   string       `json:"content"`
	CreatedAt time.Time    `json:"created_at"`
}

// CreateBlockRequest asks the workspace store for a new block.
type CreateBlockRequest struct {
	TaskID  string `json:"task_id"`
	AgentID string `json:"agent_id"`
	Label   string `json:"label,omitempty"`
}

// BlockPatch is a partial update appended to a block. An empty Status leaves
// the status mirror unchanged; events and artifacts are appended, never
// replaced.
type BlockPatch struct {
	Status    TaskStatus       `json:"status,omitempty"`
	Events    []WorkspaceEvent `json:"events,omitempty"`
	Artifacts []Artifact       `json:"artifacts,omitempty"`
}

// WorkspaceBlock is the durable record the store keeps per task.
type WorkspaceBlock struct {
	BlockID   string           `json:"block_id"`
	TaskID    string           `json:"task_id"`
	AgentID   string           `json:"agent_id"`
	Status    TaskStatus       `json:"status"`
	Events    []WorkspaceEvent `json:"events"`
	Artifacts []Artifact       `json:"artifacts"`
}

// WorkspaceStore persists per-task status, events and artifacts.
type WorkspaceStore interface {
	CreateBlock(ctx context.Context, req CreateBlockRequest) (string, error)
	UpdateBlock(ctx context.Context, agentID, blockID string, patch BlockPatch) error
	GetBlock(ctx context.Context, agentID, blockID string) (*WorkspaceBlock, error)
	DetachBlock(ctx context.Context, agentID, blockID string) error
}
