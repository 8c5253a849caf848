package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"conductor/internal/ports"
)

func TestSendMessage(t *testing.T) {
	var gotPath string
	var gotMsg ports.AgentMessage
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		if err := json.NewDecoder(r.Body).Decode(&gotMsg); err != nil {
			t.Errorf("decode message: %v", err)
		}
		w.WriteHeader(http.StatusAccepted)
	}))
	defer server.Close()

	client, err := NewClient(ClientConfig{BaseURL: server.URL, Timeout: 2 * time.Second}, nil)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	err = client.SendMessage(context.Background(), "agent-1", ports.AgentMessage{
		Role:    "system",
		Content: "Task task-1 completed",
	})
	if err != nil {
		t.Fatalf("send message: %v", err)
	}
	if gotPath != "/v1/agents/agent-1/messages" {
		t.Fatalf("path = %s", gotPath)
	}
	if gotMsg.Role != "system" || gotMsg.Content == "" {
		t.Fatalf("message = %+v", gotMsg)
	}
}

func TestSendMessageErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "agent unknown", http.StatusNotFound)
	}))
	defer server.Close()

	client, err := NewClient(ClientConfig{BaseURL: server.URL, Timeout: time.Second}, nil)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	if err := client.SendMessage(context.Background(), "agent-x", ports.AgentMessage{Content: "hi"}); err == nil {
		t.Fatal("expected an error")
	}
}

func TestNewClientRequiresBaseURL(t *testing.T) {
	if _, err := NewClient(ClientConfig{}, nil); err == nil {
		t.Fatal("expected an error for missing base URL")
	}
}
