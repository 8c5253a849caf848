package notify

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

// ClientConfig configures the agent notifier.
type ClientConfig struct {
	BaseURL   string
	AuthToken string
	Timeout   time.Duration
}

// Client posts completion messages to an agent's inbox. Callers treat
// delivery as fire-and-forget; the returned error is for logging only.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
	logger  logging.Logger
}

var _ ports.AgentNotifier = (*Client)(nil)

// NewClient creates a notifier client.
func NewClient(cfg ClientConfig, logger logging.Logger) (*Client, error) {
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		return nil, fmt.Errorf("notifier base URL is required")
	}
	return &Client{
		baseURL: base,
		token:   cfg.AuthToken,
		http:    httpclient.New(cfg.Timeout),
		logger:  logging.OrNop(logger),
	}, nil
}

// SendMessage delivers one message to agentID.
func (c *Client) SendMessage(ctx context.Context, agentID string, msg ports.AgentMessage) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode message: %w", err)
	}
	endpoint := c.baseURL + "/v1/agents/" + url.PathEscape(agentID) + "/messages"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
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

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		data, _ := httpclient.ReadAllWithLimit(resp.Body, 64<<10)
		return &conderrors.HTTPStatusError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(data))}
	}
	return nil
}
