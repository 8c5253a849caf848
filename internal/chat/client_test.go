package chat

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"conductor/internal/ports"
)

type recordedRequest struct {
	Method string
	Path   string
	Body   map[string]any
}

func newTestClient(t *testing.T, handler http.Handler) (*Client, *[]recordedRequest) {
	t.Helper()
	var requests []recordedRequest
	wrapped := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		requests = append(requests, recordedRequest{Method: r.Method, Path: r.URL.Path, Body: body})
		handler.ServeHTTP(w, r)
	})
	server := httptest.NewServer(wrapped)
	t.Cleanup(server.Close)
	client, err := NewClient(ClientConfig{BaseURL: server.URL, Timeout: 2 * time.Second}, nil)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	return client, &requests
}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
}

func TestCreateTaskRoom(t *testing.T) {
	client, requests := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(ports.Room{RoomID: "room-9", TaskID: "task-1"})
	}))

	room, err := client.CreateTaskRoom(context.Background(), ports.CreateRoomRequest{
		TaskID: "task-1",
		Name:   "task task-1",
		Participants: []ports.Participant{
			{ID: "agent-1", Role: ports.RoleCaller},
		},
	})
	if err != nil {
		t.Fatalf("create room: %v", err)
	}
	if room.RoomID != "room-9" {
		t.Fatalf("room id = %q", room.RoomID)
	}
	got := (*requests)[0]
	if got.Method != http.MethodPost || got.Path != "/v1/rooms" {
		t.Fatalf("request = %s %s", got.Method, got.Path)
	}
}

func TestCreateTaskRoomEmptyID(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(ports.Room{})
	}))
	if _, err := client.CreateTaskRoom(context.Background(), ports.CreateRoomRequest{TaskID: "t"}); err == nil {
		t.Fatal("expected an error for empty room id")
	}
}

func TestCloseTaskRoom(t *testing.T) {
	client, requests := newTestClient(t, okHandler())
	if err := client.CloseTaskRoom(context.Background(), "room-9", "task-1", "Task completed"); err != nil {
		t.Fatalf("close room: %v", err)
	}
	got := (*requests)[0]
	if got.Path != "/v1/rooms/room-9/close" {
		t.Fatalf("path = %s", got.Path)
	}
	if got.Body["summary"] != "Task completed" {
		t.Fatalf("body = %v", got.Body)
	}
}

func TestSendTaskUpdate(t *testing.T) {
	client, requests := newTestClient(t, okHandler())
	if err := client.SendTaskUpdate(context.Background(), "room-9", "task-1", "halfway", "output"); err != nil {
		t.Fatalf("send update: %v", err)
	}
	got := (*requests)[0]
	if got.Path != "/v1/rooms/room-9/messages" {
		t.Fatalf("path = %s", got.Path)
	}
	if got.Body["message"] != "halfway" || got.Body["kind"] != "output" {
		t.Fatalf("body = %v", got.Body)
	}
}

func TestSendControlSignal(t *testing.T) {
	client, requests := newTestClient(t, okHandler())
	if err := client.SendControlSignal(context.Background(), "room-9", "task-1", "cancel", "operator"); err != nil {
		t.Fatalf("send signal: %v", err)
	}
	got := (*requests)[0]
	if got.Path != "/v1/rooms/room-9/signals" {
		t.Fatalf("path = %s", got.Path)
	}
	if got.Body["signal"] != "cancel" {
		t.Fatalf("body = %v", got.Body)
	}
}

func TestParticipantManagement(t *testing.T) {
	client, requests := newTestClient(t, okHandler())
	if err := client.InviteToRoom(context.Background(), "room-9", ports.Participant{ID: "ops", Role: ports.RoleObserver}); err != nil {
		t.Fatalf("invite: %v", err)
	}
	if err := client.RemoveFromRoom(context.Background(), "room-9", "ops"); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if (*requests)[0].Path != "/v1/rooms/room-9/participants" {
		t.Fatalf("invite path = %s", (*requests)[0].Path)
	}
	removed := (*requests)[1]
	if removed.Method != http.MethodDelete || removed.Path != "/v1/rooms/room-9/participants/ops" {
		t.Fatalf("remove request = %s %s", removed.Method, removed.Path)
	}
}

func TestErrorStatusIsSurfaced(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "room closed", http.StatusConflict)
	}))
	if err := client.SendTaskUpdate(context.Background(), "room-9", "task-1", "late", "output"); err == nil {
		t.Fatal("expected an error")
	}
}
