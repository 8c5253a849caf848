package ports

import (
	"context"
	"time"
)

// ParticipantRole distinguishes room members.
type ParticipantRole string

const (
	RoleCaller   ParticipantRole = "caller"
	RoleAgent    ParticipantRole = "agent"
	RoleObserver ParticipantRole = "observer"
)

// Participant identifies one room member.
type Participant struct {
	ID   string          `json:"id"`
	Role ParticipantRole `json:"role"`
}

// CreateRoomRequest asks the chat service for a task-scoped room.
type CreateRoomRequest struct {
	TaskID       string        `json:"task_id"`
	Name         string        `json:"name,omitempty"`
	Participants []Participant `json:"participants"`
}

// Room describes an open chat room.
type Room struct {
	RoomID       string        `json:"room_id"`
	TaskID       string        `json:"task_id"`
	Participants []Participant `json:"participants"`
	CreatedAt    time.Time     `json:"created_at"`
}

// ChatService is the messaging sink used for human observability of running
// tasks. All operations are best-effort from the coordinator's point of view.
type ChatService interface {
	CreateTaskRoom(ctx context.Context, req CreateRoomRequest) (*Room, error)
	CloseTaskRoom(ctx context.Context, roomID, taskID, summary string) error
	SendTaskUpdate(ctx context.Context, roomID, taskID, message, kind string) error
	SendControlSignal(ctx context.Context, roomID, taskID, signal, reason string) error
	InviteToRoom(ctx context.Context, roomID string, participant Participant) error
	RemoveFromRoom(ctx context.Context, roomID, participantID string) error
}
