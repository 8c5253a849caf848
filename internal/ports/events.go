package ports

// EventKind classifies execution events emitted by a backend. Only the named
// kinds are mirrored into side channels; everything else is carried as
// EventOther and ignored by the orchestration layer.
type EventKind string

const (
	EventComplete     EventKind = "complete"
	EventAbort        EventKind = "abort"
	EventError        EventKind = "error"
	EventSessionError EventKind = "session.error"
	EventSessionIdle  EventKind = "session.idle"
	EventOutput       EventKind = "output"
	EventOther        EventKind = "other"
)

// ParseEventKind maps a raw backend event type to the closed kind set.
func ParseEventKind(raw string) EventKind {
	switch EventKind(raw) {
	case EventComplete, EventAbort, EventError, EventSessionError, EventSessionIdle, EventOutput:
		return EventKind(raw)
	}
	return EventOther
}

// ExecutionEvent is one event from a backend's event stream. Raw preserves
// the backend's original type string for opaque events.
type ExecutionEvent struct {
	Kind    EventKind
	Raw     string
	Message string
	Data    map[string]any
}

// NewExecutionEvent builds an event from a raw backend type string.
func NewExecutionEvent(rawKind, message string, data map[string]any) ExecutionEvent {
	return ExecutionEvent{
		Kind:    ParseEventKind(rawKind),
		Raw:     rawKind,
		Message: message,
		Data:    data,
	}
}

// Significant reports whether the event triggers side-channel mirroring.
func (e ExecutionEvent) Significant() bool {
	return e.Kind != EventOther
}

// EventCallback receives execution events in emission order.
type EventCallback func(ExecutionEvent)
