package workspace

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

const defaultMaxResponseBytes = 1 << 20 // 1 MiB

// ClientConfig configures the workspace store client.
type ClientConfig struct {
	BaseURL   string
	AuthToken string
	Timeout   time.Duration
	MaxBody   int64
}

// Client talks to the workspace service over JSON/HTTP. Outbound calls are
// guarded by a circuit breaker so a failing store cannot stall the
// coordinator.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
	maxBody int64
	logger  logging.Logger
}

var _ ports.WorkspaceStore = (*Client)(nil)

// NewClient creates a workspace client.
func NewClient(cfg ClientConfig, logger logging.Logger) (*Client, error) {
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		return nil, fmt.Errorf("workspace base URL is required")
	}
	if _, err := url.Parse(base); err != nil {
		return nil, fmt.Errorf("invalid workspace base URL: %w", err)
	}
	maxBody := cfg.MaxBody
	if maxBody <= 0 {
		maxBody = defaultMaxResponseBytes
	}
	return &Client{
		baseURL: base,
		token:   cfg.AuthToken,
		http:    httpclient.NewWithCircuitBreaker(cfg.Timeout, "workspace"),
		maxBody: maxBody,
		logger:  logging.OrNop(logger),
	}, nil
}

type createBlockResponse struct {
	BlockID string `json:"block_id"`
}

// CreateBlock provisions a new workspace block for a task.
func (c *Client) CreateBlock(ctx context.Context, req ports.CreateBlockRequest) (string, error) {
	var resp createBlockResponse
	if err := c.do(ctx, http.MethodPost, "/v1/blocks", req, &resp); err != nil {
		return "", err
	}
	if resp.BlockID == "" {
		return "", fmt.Errorf("workspace returned empty block id")
	}
	return resp.BlockID, nil
}

// UpdateBlock appends events/artifacts and optionally updates the status mirror.
func (c *Client) UpdateBlock(ctx context.Context, agentID, blockID string, patch ports.BlockPatch) error {
	path := fmt.Sprintf("/v1/agents/%s/blocks/%s", url.PathEscape(agentID), url.PathEscape(blockID))
	return c.do(ctx, http.MethodPatch, path, patch, nil)
}

// GetBlock fetches the current state of a block.
func (c *Client) GetBlock(ctx context.Context, agentID, blockID string) (*ports.WorkspaceBlock, error) {
	path := fmt.Sprintf("/v1/agents/%s/blocks/%s", url.PathEscape(agentID), url.PathEscape(blockID))
	var block ports.WorkspaceBlock
	if err := c.do(ctx, http.MethodGet, path, nil, &block); err != nil {
		return nil, err
	}
	return &block, nil
}

// DetachBlock removes the block from the agent's working set. The block
// itself remains readable by id.
func (c *Client) DetachBlock(ctx context.Context, agentID, blockID string) error {
	path := fmt.Sprintf("/v1/agents/%s/blocks/%s/attachment", url.PathEscape(agentID), url.PathEscape(blockID))
	return c.do(ctx, http.MethodDelete, path, nil, nil)
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader *bytes.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(payload)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
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

	data, err := httpclient.ReadAllWithLimit(resp.Body, c.maxBody)
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
