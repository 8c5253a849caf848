package ports

import "context"

// AgentMessage is a structured message delivered to an agent's inbox.
type AgentMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// AgentNotifier delivers completion notices to the requesting agent.
// Delivery is fire-and-forget; callers log errors and move on.
type AgentNotifier interface {
	SendMessage(ctx context.Context, agentID string, msg AgentMessage) error
}
