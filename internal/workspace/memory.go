package workspace

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"conductor/internal/ports"
)

// MemoryStore is an in-process WorkspaceStore used by tests and dev mode.
// Semantics match the remote store: events and artifacts are append-only,
// detaching keeps the block readable.
type MemoryStore struct {
	mu       sync.RWMutex
	blocks   map[string]*ports.WorkspaceBlock
	detached map[string]bool

	// FailCreate, when set, is returned by the next CreateBlock call.
	FailCreate error
	// FailUpdate, when set, is returned by every UpdateBlock call.
	FailUpdate error
}

var _ ports.WorkspaceStore = (*MemoryStore)(nil)

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		blocks:   make(map[string]*ports.WorkspaceBlock),
		detached: make(map[string]bool),
	}
}

func (s *MemoryStore) CreateBlock(_ context.Context, req ports.CreateBlockRequest) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailCreate != nil {
		err := s.FailCreate
		s.FailCreate = nil
		return "", err
	}
	blockID := fmt.Sprintf("block-%s", uuid.New().String())
	s.blocks[blockID] = &ports.WorkspaceBlock{
		BlockID: blockID,
		TaskID:  req.TaskID,
		AgentID: req.AgentID,
		Status:  ports.TaskStatusQueued,
	}
	return blockID, nil
}

func (s *MemoryStore) UpdateBlock(_ context.Context, agentID, blockID string, patch ports.BlockPatch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailUpdate != nil {
		return s.FailUpdate
	}
	block, ok := s.blocks[blockID]
	if !ok {
		return fmt.Errorf("block not found: %s", blockID)
	}
	if block.AgentID != agentID {
		return fmt.Errorf("block %s does not belong to agent %s", blockID, agentID)
	}
	if patch.Status != "" {
		block.Status = patch.Status
	}
	block.Events = append(block.Events, patch.Events...)
	block.Artifacts = append(block.Artifacts, patch.Artifacts...)
	return nil
}

func (s *MemoryStore) GetBlock(_ context.Context, agentID, blockID string) (*ports.WorkspaceBlock, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	block, ok := s.blocks[blockID]
	if !ok {
		return nil, fmt.Errorf("block not found: %s", blockID)
	}
	if block.AgentID != agentID {
		return nil, fmt.Errorf("block %s does not belong to agent %s", blockID, agentID)
	}
	copied := *block
	copied.Events = append([]ports.WorkspaceEvent(nil), block.Events...)
	copied.Artifacts = append([]ports.Artifact(nil), block.Artifacts...)
	return &copied, nil
}

func (s *MemoryStore) DetachBlock(_ context.Context, agentID, blockID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	block, ok := s.blocks[blockID]
	if !ok {
		return fmt.Errorf("block not found: %s", blockID)
	}
	if block.AgentID != agentID {
		return fmt.Errorf("block %s does not belong to agent %s", blockID, agentID)
	}
	s.detached[blockID] = true
	return nil
}

// Detached reports whether blockID has been detached.
func (s *MemoryStore) Detached(blockID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.detached[blockID]
}
