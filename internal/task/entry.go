package task

import (
	"time"

	"conductor/internal/ports"
)

// Entry is the authoritative record for one task. The registry hands out
// value snapshots; all mutation goes through registry methods.
type Entry struct {
	ID             string
	AgentID        string
	IdempotencyKey string

	Status      ports.TaskStatus
	CreatedAt   time.Time
	StartedAt   time.Time // zero until the first transition into running
	CompletedAt time.Time // zero until the first terminal transition

	WorkspaceBlockID string
	RoomID           string // present only while the room is open

	// Outcome fields, populated at finalization.
	OutputPreview string
	Error         string
	Duration      time.Duration
	ExitCode      *int
}

func (e *Entry) snapshot() Entry {
	copied := *e
	if e.ExitCode != nil {
		code := *e.ExitCode
		copied.ExitCode = &code
	}
	return copied
}
