package httpserver

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"conductor/internal/orchestrator"
	"conductor/internal/ports"
	"conductor/internal/signals"
	"conductor/internal/task"
)

// APIResponse is the common response envelope.
type APIResponse struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
	Message string `json:"message,omitempty"`
}

type submitTaskRequest struct {
	AgentID        string   `json:"agent_id" binding:"required"`
	Description    string   `json:"description"`
	IdempotencyKey string   `json:"idempotency_key"`
	TimeoutSeconds int      `json:"timeout_seconds"`
	Sync           bool     `json:"sync"`
	Observers      []string `json:"observers"`
}

type signalRequest struct {
	Signal      string `json:"signal" binding:"required"`
	Reason      string `json:"reason"`
	RequestedBy string `json:"requested_by"`
}

type channelMessageRequest struct {
	Message string `json:"message" binding:"required"`
	Kind    string `json:"kind"`
}

// taskView is the wire form of a registry entry.
type taskView struct {
	TaskID           string     `json:"task_id"`
	AgentID          string     `json:"agent_id"`
	Status           string     `json:"status"`
	CreatedAt        time.Time  `json:"created_at"`
	StartedAt        *time.Time `json:"started_at,omitempty"`
	CompletedAt      *time.Time `json:"completed_at,omitempty"`
	WorkspaceBlockID string     `json:"workspace_block_id,omitempty"`
	RoomID           string     `json:"room_id,omitempty"`
	Output           string     `json:"output,omitempty"`
	Error            string     `json:"error,omitempty"`
	DurationMillis   int64      `json:"duration_ms,omitempty"`
	ExitCode         *int       `json:"exit_code,omitempty"`
}

type taskStatusResponse struct {
	taskView
	RecentEvents []workspaceEventView `json:"recent_events,omitempty"`
}

type workspaceEventView struct {
	Type      string         `json:"type"`
	Message   string         `json:"message,omitempty"`
	Data      map[string]any `json:"data,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

type channelView struct {
	TaskID  string `json:"task_id"`
	AgentID string `json:"agent_id"`
	RoomID  string `json:"room_id"`
	Status  string `json:"status"`
}

func viewOf(entry task.Entry) taskView {
	view := taskView{
		TaskID:           entry.ID,
		AgentID:          entry.AgentID,
		Status:           string(entry.Status),
		CreatedAt:        entry.CreatedAt,
		WorkspaceBlockID: entry.WorkspaceBlockID,
		RoomID:           entry.RoomID,
		Output:           entry.OutputPreview,
		Error:            entry.Error,
		DurationMillis:   entry.Duration.Milliseconds(),
		ExitCode:         entry.ExitCode,
	}
	if !entry.StartedAt.IsZero() {
		started := entry.StartedAt
		view.StartedAt = &started
	}
	if !entry.CompletedAt.IsZero() {
		completed := entry.CompletedAt
		view.CompletedAt = &completed
	}
	return view
}

func (s *Server) handleSubmitTask(c *gin.Context) {
	var req submitTaskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, APIResponse{Success: false, Error: fmt.Sprintf("invalid request: %v", err)})
		return
	}

	resp, err := s.deps.Orchestrator.Submit(c.Request.Context(), orchestrator.SubmitRequest{
		AgentID:        req.AgentID,
		Description:    req.Description,
		IdempotencyKey: req.IdempotencyKey,
		Timeout:        time.Duration(req.TimeoutSeconds) * time.Second,
		Sync:           req.Sync,
		Observers:      req.Observers,
	})
	if err != nil {
		if errors.Is(err, orchestrator.ErrCapacity) {
			c.JSON(http.StatusServiceUnavailable, APIResponse{Success: false, Error: err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, APIResponse{Success: false, Error: err.Error()})
		return
	}

	status := http.StatusAccepted
	if req.Sync || resp.Message == orchestrator.DuplicateSubmissionMessage {
		status = http.StatusOK
	}
	c.JSON(status, APIResponse{Success: true, Data: resp, Message: resp.Message})
}

func (s *Server) handleListTasks(c *gin.Context) {
	var entries []task.Entry
	if agentID := c.Query("agent_id"); agentID != "" {
		entries = s.deps.Registry.ListByAgent(agentID)
	} else {
		entries = s.deps.Registry.List()
	}
	views := make([]taskView, 0, len(entries))
	for _, entry := range entries {
		views = append(views, viewOf(entry))
	}
	c.JSON(http.StatusOK, APIResponse{Success: true, Data: views})
}

func (s *Server) handleGetTask(c *gin.Context) {
	taskID := c.Param("id")
	entry, ok := s.deps.Registry.Get(taskID)
	if !ok {
		c.JSON(http.StatusNotFound, APIResponse{Success: false, Error: fmt.Sprintf("Task not found: %s", taskID)})
		return
	}

	resp := taskStatusResponse{taskView: viewOf(entry)}
	for _, event := range s.recentBlockEvents(c, entry) {
		resp.RecentEvents = append(resp.RecentEvents, workspaceEventView{
			Type:      string(event.Type),
			Message:   event.Message,
			Data:      event.Data,
			Timestamp: event.Timestamp,
		})
	}
	c.JSON(http.StatusOK, APIResponse{Success: true, Data: resp})
}

const recentEventLimit = 20

// recentBlockEvents reads the task's workspace events through the short-TTL
// cache. Workspace failures degrade to an empty list.
func (s *Server) recentBlockEvents(c *gin.Context, entry task.Entry) []ports.WorkspaceEvent {
	if s.deps.Workspace == nil || entry.WorkspaceBlockID == "" {
		return nil
	}
	if cached, ok := s.recentEvents.Get(entry.WorkspaceBlockID); ok {
		return cached
	}
	block, err := s.deps.Workspace.GetBlock(c.Request.Context(), entry.AgentID, entry.WorkspaceBlockID)
	if err != nil {
		s.logger.Warn("reading workspace block %s failed: %v", entry.WorkspaceBlockID, err)
		return nil
	}
	events := block.Events
	if len(events) > recentEventLimit {
		events = events[len(events)-recentEventLimit:]
	}
	s.recentEvents.Add(entry.WorkspaceBlockID, events)
	return events
}

func (s *Server) handleTaskSignal(c *gin.Context) {
	taskID := c.Param("id")
	var req signalRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, APIResponse{Success: false, Error: fmt.Sprintf("invalid request: %v", err)})
		return
	}
	kind := signals.Kind(req.Signal)
	if !kind.Valid() {
		c.JSON(http.StatusBadRequest, APIResponse{Success: false, Error: fmt.Sprintf("unknown signal: %s", req.Signal)})
		return
	}

	result := s.deps.Signals.Handle(c.Request.Context(), signals.Request{
		TaskID:      taskID,
		Kind:        kind,
		Reason:      req.Reason,
		RequestedBy: req.RequestedBy,
	})
	c.JSON(signalStatusCode(result), APIResponse{Success: result.Success, Data: result, Error: result.Error})
}

func signalStatusCode(result signals.Result) int {
	switch {
	case result.Success:
		return http.StatusOK
	case strings.HasPrefix(result.Error, "Task not found"):
		return http.StatusNotFound
	case strings.HasPrefix(result.Error, "Cannot"):
		return http.StatusConflict
	default:
		return http.StatusBadGateway
	}
}

func (s *Server) handleTaskFiles(c *gin.Context) {
	taskID := c.Param("id")
	if _, ok := s.deps.Registry.Get(taskID); !ok {
		c.JSON(http.StatusNotFound, APIResponse{Success: false, Error: fmt.Sprintf("Task not found: %s", taskID)})
		return
	}
	files, err := s.deps.Backend.TaskFiles(c.Request.Context(), taskID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, APIResponse{Success: false, Error: err.Error()})
		return
	}
	c.JSON(http.StatusOK, APIResponse{Success: true, Data: gin.H{"task_id": taskID, "files": files}})
}

func (s *Server) handleTaskFile(c *gin.Context) {
	taskID := c.Param("id")
	path := c.Query("path")
	if path == "" {
		c.JSON(http.StatusBadRequest, APIResponse{Success: false, Error: "path query parameter is required"})
		return
	}
	if _, ok := s.deps.Registry.Get(taskID); !ok {
		c.JSON(http.StatusNotFound, APIResponse{Success: false, Error: fmt.Sprintf("Task not found: %s", taskID)})
		return
	}
	content, err := s.deps.Backend.ReadTaskFile(c.Request.Context(), taskID, path)
	if err != nil {
		c.JSON(http.StatusNotFound, APIResponse{Success: false, Error: err.Error()})
		return
	}
	c.JSON(http.StatusOK, APIResponse{Success: true, Data: gin.H{"task_id": taskID, "path": path, "content": content}})
}

func (s *Server) handleListChannels(c *gin.Context) {
	var channels []channelView
	for _, entry := range s.deps.Registry.List() {
		if entry.RoomID == "" {
			continue
		}
		channels = append(channels, channelView{
			TaskID:  entry.ID,
			AgentID: entry.AgentID,
			RoomID:  entry.RoomID,
			Status:  string(entry.Status),
		})
	}
	c.JSON(http.StatusOK, APIResponse{Success: true, Data: channels})
}

// channelFor resolves a task's open room; writes the error response when the
// task is missing or has no channel.
func (s *Server) channelFor(c *gin.Context) (task.Entry, bool) {
	taskID := c.Param("id")
	entry, ok := s.deps.Registry.Get(taskID)
	if !ok {
		c.JSON(http.StatusNotFound, APIResponse{Success: false, Error: fmt.Sprintf("Task not found: %s", taskID)})
		return task.Entry{}, false
	}
	if entry.RoomID == "" {
		c.JSON(http.StatusNotFound, APIResponse{Success: false, Error: fmt.Sprintf("no associated channel for task %s", taskID)})
		return task.Entry{}, false
	}
	return entry, true
}

func (s *Server) handleGetChannel(c *gin.Context) {
	entry, ok := s.channelFor(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, APIResponse{Success: true, Data: channelView{
		TaskID:  entry.ID,
		AgentID: entry.AgentID,
		RoomID:  entry.RoomID,
		Status:  string(entry.Status),
	}})
}

func (s *Server) handleChannelMessage(c *gin.Context) {
	entry, ok := s.channelFor(c)
	if !ok {
		return
	}
	if s.deps.Chat == nil {
		c.JSON(http.StatusServiceUnavailable, APIResponse{Success: false, Error: "chat service is not configured"})
		return
	}
	var req channelMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, APIResponse{Success: false, Error: fmt.Sprintf("invalid request: %v", err)})
		return
	}
	kind := req.Kind
	if kind == "" {
		kind = "message"
	}
	if err := s.deps.Chat.SendTaskUpdate(c.Request.Context(), entry.RoomID, entry.ID, req.Message, kind); err != nil {
		c.JSON(http.StatusBadGateway, APIResponse{Success: false, Error: err.Error()})
		return
	}
	c.JSON(http.StatusOK, APIResponse{Success: true, Message: "message sent"})
}

// handleChannelSignal accepts a control signal addressed through the task's
// channel. The signal handler performs the transition and mirrors the signal
// into the room itself.
func (s *Server) handleChannelSignal(c *gin.Context) {
	entry, ok := s.channelFor(c)
	if !ok {
		return
	}
	var req signalRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, APIResponse{Success: false, Error: fmt.Sprintf("invalid request: %v", err)})
		return
	}
	kind := signals.Kind(req.Signal)
	if !kind.Valid() {
		c.JSON(http.StatusBadRequest, APIResponse{Success: false, Error: fmt.Sprintf("unknown signal: %s", req.Signal)})
		return
	}
	result := s.deps.Signals.Handle(c.Request.Context(), signals.Request{
		TaskID:      entry.ID,
		Kind:        kind,
		Reason:      req.Reason,
		RequestedBy: req.RequestedBy,
	})
	c.JSON(signalStatusCode(result), APIResponse{Success: result.Success, Data: result, Error: result.Error})
}
