package chat

import (
	"context"
	"fmt"
	"sync"

	"conductor/internal/ports"
)

// Call records a single outbound call made through a Recording chat service.
type Call struct {
	Method        string // "CreateTaskRoom", "CloseTaskRoom", "SendTaskUpdate", "SendControlSignal", "InviteToRoom", "RemoveFromRoom"
	RoomID        string
	TaskID        string
	Message       string
	Kind          string
	Signal        string
	Reason        string
	Summary       string
	ParticipantID string
	Participants  []ports.Participant
}

// Recording implements ports.ChatService by recording all outbound calls for
// later assertion in tests. It returns configurable responses and errors.
type Recording struct {
	mu    sync.Mutex
	calls []Call

	// NextRoomID is returned by CreateTaskRoom. If empty, a sequential
	// "room-recorded-N" id is generated.
	NextRoomID string

	// NextError, when set, is returned by the next call (any method) and then cleared.
	NextError error

	roomCount int
}

var _ ports.ChatService = (*Recording)(nil)

// NewRecording creates a Recording chat service.
func NewRecording() *Recording {
	return &Recording{}
}

// Calls returns a copy of all recorded calls.
func (r *Recording) Calls() []Call {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Call(nil), r.calls...)
}

// CallsTo returns recorded calls matching method.
func (r *Recording) CallsTo(method string) []Call {
	var out []Call
	for _, call := range r.Calls() {
		if call.Method == method {
			out = append(out, call)
		}
	}
	return out
}

func (r *Recording) record(call Call) {
	r.calls = append(r.calls, call)
}

func (r *Recording) popError() error {
	if r.NextError != nil {
		err := r.NextError
		r.NextError = nil
		return err
	}
	return nil
}

func (r *Recording) nextRoomID() string {
	if r.NextRoomID != "" {
		id := r.NextRoomID
		r.NextRoomID = ""
		return id
	}
	r.roomCount++
	return fmt.Sprintf("room-recorded-%d", r.roomCount)
}

func (r *Recording) CreateTaskRoom(_ context.Context, req ports.CreateRoomRequest) (*ports.Room, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.record(Call{Method: "CreateTaskRoom", TaskID: req.TaskID, Participants: req.Participants})
	if err := r.popError(); err != nil {
		return nil, err
	}
	return &ports.Room{RoomID: r.nextRoomID(), TaskID: req.TaskID, Participants: req.Participants}, nil
}

func (r *Recording) CloseTaskRoom(_ context.Context, roomID, taskID, summary string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.record(Call{Method: "CloseTaskRoom", RoomID: roomID, TaskID: taskID, Summary: summary})
	return r.popError()
}

func (r *Recording) SendTaskUpdate(_ context.Context, roomID, taskID, message, kind string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.record(Call{Method: "SendTaskUpdate", RoomID: roomID, TaskID: taskID, Message: message, Kind: kind})
	return r.popError()
}

func (r *Recording) SendControlSignal(_ context.Context, roomID, taskID, signal, reason string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.record(Call{Method: "SendControlSignal", RoomID: roomID, TaskID: taskID, Signal: signal, Reason: reason})
	return r.popError()
}

func (r *Recording) InviteToRoom(_ context.Context, roomID string, participant ports.Participant) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.record(Call{Method: "InviteToRoom", RoomID: roomID, ParticipantID: participant.ID})
	return r.popError()
}

func (r *Recording) RemoveFromRoom(_ context.Context, roomID, participantID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.record(Call{Method: "RemoveFromRoom", RoomID: roomID, ParticipantID: participantID})
	return r.popError()
}
