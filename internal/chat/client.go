package chat

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	conderrors "conductor/internal/errors"
	"conductor/internal/httpclient"
	"conductor/internal/logging"
	"conductor/internal/ports"
)

const defaultMaxResponseBytes = 256 << 10

// ClientConfig configures the chat service client.
type ClientConfig struct {
	BaseURL   string
	AuthToken string
	Timeout   time.Duration
}

// Client talks to the room service over JSON/HTTP.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
	logger  logging.Logger
}

var _ ports.ChatService = (*Client)(nil)

// NewClient creates a chat client.
func NewClient(cfg ClientConfig, logger logging.Logger) (*Client, error) {
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		return nil, fmt.Errorf("chat base URL is required")
	}
	return &Client{
		baseURL: base,
		token:   cfg.AuthToken,
		http:    httpclient.NewWithCircuitBreaker(cfg.Timeout, "chat"),
		logger:  logging.OrNop(logger),
	}, nil
}

// CreateTaskRoom opens a task-scoped room with the requested participants.
func (c *Client) CreateTaskRoom(ctx context.Context, req ports.CreateRoomRequest) (*ports.Room, error) {
	var room ports.Room
	if err := c.do(ctx, http.MethodPost, "/v1/rooms", req, &room); err != nil {
		return nil, err
	}
	if room.RoomID == "" {
		return nil, fmt.Errorf("chat service returned empty room id")
	}
	return &room, nil
}

// CloseTaskRoom posts the final summary and closes the room.
func (c *Client) CloseTaskRoom(ctx context.Context, roomID, taskID, summary string) error {
	body := map[string]string{"task_id": taskID, "summary": summary}
	return c.do(ctx, http.MethodPost, "/v1/rooms/"+url.PathEscape(roomID)+"/close", body, nil)
}

// SendTaskUpdate posts a progress message into the room.
func (c *Client) SendTaskUpdate(ctx context.Context, roomID, taskID, message, kind string) error {
	body := map[string]string{"task_id": taskID, "message": message, "kind": kind}
	return c.do(ctx, http.MethodPost, "/v1/rooms/"+url.PathEscape(roomID)+"/messages", body, nil)
}

// SendControlSignal posts a control-signal notice into the room.
func (c *Client) SendControlSignal(ctx context.Context, roomID, taskID, signal, reason string) error {
	body := map[string]string{"task_id": taskID, "signal": signal, "reason": reason}
	return c.do(ctx, http.MethodPost, "/v1/rooms/"+url.PathEscape(roomID)+"/signals", body, nil)
}

// InviteToRoom adds a participant to an open room.
func (c *Client) InviteToRoom(ctx context.Context, roomID string, participant ports.Participant) error {
	return c.do(ctx, http.MethodPost, "/v1/rooms/"+url.PathEscape(roomID)+"/participants", participant, nil)
}

// RemoveFromRoom removes a participant from an open room.
func (c *Client) RemoveFromRoom(ctx context.Context, roomID, participantID string) error {
	path := "/v1/rooms/" + url.PathEscape(roomID) + "/participants/" + url.PathEscape(participantID)
	return c.do(ctx, http.MethodDelete, path, nil, nil)
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	payload := []byte(nil)
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		payload = encoded
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, err := httpclient.ReadAllWithLimit(resp.Body, defaultMaxResponseBytes)
	if err != nil {
		return err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &conderrors.HTTPStatusError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(data))}
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
