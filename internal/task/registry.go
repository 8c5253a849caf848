package task

import (
	"sync"
	"time"

	"conductor/internal/async"
	"conductor/internal/logging"
	"conductor/internal/ports"
)

// Config controls admission and eviction behavior.
type Config struct {
	MaxConcurrent   int           // running-task ceiling for admission control
	RetentionWindow time.Duration // how long terminal entries keep their idempotency mapping
	SweepInterval   time.Duration // how often the eviction sweep runs
}

// DefaultConfig returns the registry defaults.
func DefaultConfig() Config {
	return Config{
		MaxConcurrent:   5,
		RetentionWindow: 30 * time.Minute,
		SweepInterval:   5 * time.Minute,
	}
}

// Registry is the authoritative in-memory record of task existence and state.
//
// It owns the task state machine's storage but not its legality rules: callers
// (the orchestrator and the signal handler) decide which transitions are legal
// before committing them here. The registry guarantees only that startedAt and
// completedAt are set at most once and that terminal entries are eventually
// evicted.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*Entry
	byKey   map[string]string // idempotency key -> live task id

	config Config
	logger logging.Logger
	now    func() time.Time

	stopOnce sync.Once
	stopped  chan struct{}
}

// New creates a Registry. Start must be called to enable the eviction sweep.
func New(cfg Config, logger logging.Logger) *Registry {
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = DefaultConfig().MaxConcurrent
	}
	if cfg.RetentionWindow <= 0 {
		cfg.RetentionWindow = DefaultConfig().RetentionWindow
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = DefaultConfig().SweepInterval
	}
	return &Registry{
		entries: make(map[string]*Entry),
		byKey:   make(map[string]string),
		config:  cfg,
		logger:  logging.OrNop(logger),
		now:     time.Now,
		stopped: make(chan struct{}),
	}
}

// Start launches the recurring eviction sweep.
func (r *Registry) Start() {
	async.Go(r.logger, "task.registry.sweep", func() {
		ticker := time.NewTicker(r.config.SweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				removed := r.Sweep()
				if removed > 0 {
					r.logger.Debug("evicted %d expired task entries", removed)
				}
			case <-r.stopped:
				return
			}
		}
	})
}

// Stop halts the eviction sweep. Safe to call more than once.
func (r *Registry) Stop() {
	r.stopOnce.Do(func() {
		close(r.stopped)
	})
}

// Register records a new task in state queued, or returns the existing entry
// when idemKey already maps to a still-tracked task. Callers detect the
// duplicate-submission short-circuit by comparing the returned entry's ID with
// the one they supplied. Concurrent registrations with the same key race;
// the last writer's mapping wins.
func (r *Registry) Register(taskID, agentID, idemKey string) Entry {
	r.mu.Lock()
	defer r.mu.Unlock()

	if idemKey != "" {
		if existingID, ok := r.byKey[idemKey]; ok {
			if existing, ok := r.entries[existingID]; ok {
				return existing.snapshot()
			}
			// Stale mapping from an evicted entry.
			delete(r.byKey, idemKey)
		}
	}

	entry := &Entry{
		ID:             taskID,
		AgentID:        agentID,
		IdempotencyKey: idemKey,
		Status:         ports.TaskStatusQueued,
		CreatedAt:      r.now(),
	}
	r.entries[taskID] = entry
	if idemKey != "" {
		r.byKey[idemKey] = taskID
	}
	return entry.snapshot()
}

// UpdateOption adjusts an UpdateStatus call.
type UpdateOption func(*updateOptions)

type updateOptions struct {
	workspaceBlockID string
}

// WithWorkspaceBlock attaches a workspace block id alongside the status update.
func WithWorkspaceBlock(blockID string) UpdateOption {
	return func(o *updateOptions) {
		o.workspaceBlockID = blockID
	}
}

// UpdateStatus sets the task's status. Unknown ids are a no-op. The first
// transition into running sets startedAt; the first transition into any
// terminal status sets completedAt. Neither timestamp is ever overwritten.
// Transition legality is the caller's responsibility.
func (r *Registry) UpdateStatus(taskID string, status ports.TaskStatus, opts ...UpdateOption) {
	var options updateOptions
	for _, opt := range opts {
		opt(&options)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.entries[taskID]
	if !ok {
		return
	}
	entry.Status = status
	if status == ports.TaskStatusRunning && entry.StartedAt.IsZero() {
		entry.StartedAt = r.now()
	}
	if status.Terminal() && entry.CompletedAt.IsZero() {
		entry.CompletedAt = r.now()
	}
	if options.workspaceBlockID != "" {
		entry.WorkspaceBlockID = options.workspaceBlockID
	}
}

// CanAcceptTask reports whether a new task may be admitted. Advisory only:
// the check does not reserve a slot, so concurrent submissions can transiently
// exceed the ceiling before the first one starts running.
func (r *Registry) CanAcceptTask() bool {
	return r.RunningCount() < r.config.MaxConcurrent
}

// RunningCount returns the number of entries currently in state running.
func (r *Registry) RunningCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	count := 0
	for _, entry := range r.entries {
		if entry.Status == ports.TaskStatusRunning {
			count++
		}
	}
	return count
}

// Get returns a snapshot of the entry for taskID.
func (r *Registry) Get(taskID string) (Entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.entries[taskID]
	if !ok {
		return Entry{}, false
	}
	return entry.snapshot(), true
}

// List returns snapshots of all tracked entries.
func (r *Registry) List() []Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Entry, 0, len(r.entries))
	for _, entry := range r.entries {
		out = append(out, entry.snapshot())
	}
	return out
}

// ListByAgent returns snapshots of the entries owned by agentID.
func (r *Registry) ListByAgent(agentID string) []Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []Entry
	for _, entry := range r.entries {
		if entry.AgentID == agentID {
			out = append(out, entry.snapshot())
		}
	}
	return out
}

// FindByRoom reverse-looks-up the entry currently associated with roomID.
func (r *Registry) FindByRoom(roomID string) (Entry, bool) {
	if roomID == "" {
		return Entry{}, false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, entry := range r.entries {
		if entry.RoomID == roomID {
			return entry.snapshot(), true
		}
	}
	return Entry{}, false
}

// AttachRoom records the chat room associated with the task.
func (r *Registry) AttachRoom(taskID, roomID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if entry, ok := r.entries[taskID]; ok {
		entry.RoomID = roomID
	}
}

// ClearRoom removes the chat room association once the room is closed.
func (r *Registry) ClearRoom(taskID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if entry, ok := r.entries[taskID]; ok {
		entry.RoomID = ""
	}
}

// Outcome carries the finalization fields recorded on a terminal task.
type Outcome struct {
	OutputPreview string
	Error         string
	Duration      time.Duration
	ExitCode      *int
}

// RecordOutcome stores the terminal outcome fields on the entry.
func (r *Registry) RecordOutcome(taskID string, outcome Outcome) {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.entries[taskID]
	if !ok {
		return
	}
	entry.OutputPreview = outcome.OutputPreview
	entry.Error = outcome.Error
	entry.Duration = outcome.Duration
	entry.ExitCode = outcome.ExitCode
}

// Sweep removes terminal entries whose completedAt is older than the
// retention window, freeing their idempotency mappings. Running entries are
// never removed. Returns the number of entries evicted.
func (r *Registry) Sweep() int {
	cutoff := r.now().Add(-r.config.RetentionWindow)

	r.mu.Lock()
	defer r.mu.Unlock()

	removed := 0
	for id, entry := range r.entries {
		if !entry.Status.Terminal() {
			continue
		}
		if entry.CompletedAt.IsZero() || entry.CompletedAt.After(cutoff) {
			continue
		}
		delete(r.entries, id)
		if entry.IdempotencyKey != "" && r.byKey[entry.IdempotencyKey] == id {
			delete(r.byKey, entry.IdempotencyKey)
		}
		removed++
	}
	return removed
}
