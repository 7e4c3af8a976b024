// Package sse streams live agent runs to HTTP clients over Server-Sent
// Events. Each message submit owns one runner execution; a process-wide
// registry lets the interrupt endpoint reach it mid-stream.
package sse

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/agentgrid/agentgrid/internal/common/logger"
	"github.com/agentgrid/agentgrid/internal/llm"
	"github.com/agentgrid/agentgrid/internal/runner"
	"github.com/agentgrid/agentgrid/internal/store"
	v1 "github.com/agentgrid/agentgrid/pkg/api/v1"
)

// heartbeatInterval keeps idle SSE connections alive through proxies.
const heartbeatInterval = 15 * time.Second

// Bridge serves the conversation streaming endpoints.
type Bridge struct {
	store    store.Store
	runner   *runner.Service
	registry *Registry
	logger   *logger.Logger
}

// NewBridge creates the SSE bridge.
func NewBridge(st store.Store, run *runner.Service, log *logger.Logger) *Bridge {
	return &Bridge{
		store:    st,
		runner:   run,
		registry: NewRegistry(),
		logger:   log.WithFields(zap.String("component", "sse-bridge")),
	}
}

// Registry exposes the live-run registry, used by tests and shutdown.
func (b *Bridge) Registry() *Registry { return b.registry }

// RegisterRoutes mounts the streaming endpoints.
func (b *Bridge) RegisterRoutes(router *gin.Engine) {
	api := router.Group("/api/v1")
	api.POST("/conversations/:id/messages", b.SendMessage)
	api.POST("/conversations/:id/interrupt", b.Interrupt)
	api.DELETE("/conversations/:id/session", b.DropSession)
}

type runOutcome struct {
	result *runner.ExecuteResult
	err    error
}

// SendMessage resolves the conversation, starts a runner for the message and
// streams its events back as SSE envelopes until the run finishes or the
// client disconnects.
func (b *Bridge) SendMessage(c *gin.Context) {
	conversationID := c.Param("id")

	var req v1.SendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	projectID := strings.ToLower(req.ProjectID)

	ctx := c.Request.Context()
	conv, err := b.store.GetConversation(ctx, conversationID)
	if errors.Is(err, store.ErrNotFound) {
		conv = &store.Conversation{ID: conversationID, ProjectID: projectID, AgentID: req.AgentID}
		if cerr := b.store.CreateConversation(ctx, conv); cerr != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": cerr.Error()})
			return
		}
	} else if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	agentID := req.AgentID
	if agentID == "" {
		agentID = conv.AgentID
	}
	if agentID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "agent_id is required"})
		return
	}
	agent, err := b.store.GetAgent(ctx, agentID)
	if errors.Is(err, store.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "agent not found"})
		return
	} else if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if agent.State == store.AgentStateDisabled {
		c.JSON(http.StatusForbidden, gin.H{"error": "agent is disabled"})
		return
	}
	if _, err := b.store.GetProject(ctx, projectID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "project not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	sessionID := req.SessionID
	if sessionID == "" {
		if cached, serr := b.runner.SessionFor(ctx, conversationID); serr == nil {
			sessionID = cached
		}
	}

	task := &store.Task{
		ProjectID: projectID,
		AgentID:   agentID,
		Role:      store.TaskRoleAssistant,
		Status:    store.TaskStatusProcessing,
		Metadata: map[string]any{
			"conversation_id": conversationID,
			"message_id":      req.MessageID,
		},
	}
	if err := b.store.CreateTask(ctx, task); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	// The user message is persisted before any streaming so replays show
	// the prompt even when the run dies early.
	b.appendMessage(conversationID, &store.Message{
		EventType: "user",
		Content:   req.Content,
		Metadata:  map[string]any{"message_id": req.MessageID},
	})

	b.registry.Register(conversationID, req.MessageID, task.ID)
	defer b.registry.Unregister(conversationID, req.MessageID)

	header := c.Writer.Header()
	header.Set("Content-Type", "text/event-stream")
	header.Set("Cache-Control", "no-cache")
	header.Set("Connection", "keep-alive")
	header.Set("X-Accel-Buffering", "no")
	c.Writer.WriteHeader(http.StatusOK)
	c.Writer.Flush()

	mcpServers, mcpTools := b.runner.MCPConfigFor(ctx, task.ProjectID)

	events := make(chan llm.Event, 64)
	done := make(chan runOutcome, 1)
	go func() {
		result, rerr := b.runner.Execute(ctx, runner.ExecuteRequest{
			Task:           task,
			Agent:          agent,
			Question:       req.Content,
			ConversationID: conversationID,
			SessionID:      sessionID,
			MCPServers:     mcpServers,
			MCPTools:       mcpTools,
			OnEvent: func(e llm.Event) {
				select {
				case events <- e:
				case <-ctx.Done():
				}
			},
		})
		done <- runOutcome{result: result, err: rerr}
		close(events)
	}()

	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()

	connected := true
stream:
	for {
		select {
		case event, ok := <-events:
			if !ok {
				break stream
			}
			b.forward(c, conversationID, req.MessageID, event, connected)
		case <-ticker.C:
			if connected {
				_, _ = fmt.Fprintf(c.Writer, ": heartbeat\n\n")
				c.Writer.Flush()
			}
		case <-ctx.Done():
			// Client went away; the runner sees the same context and
			// unwinds. Keep draining so the goroutine can finish.
			connected = false
		}
	}

	b.finalize(c, conversationID, req.MessageID, task.ID, <-done, connected)
}

// forward writes one stream event to the client and persists the rows worth
// replaying. Chunks are not stored individually; the result row carries the
// assembled text.
func (b *Bridge) forward(c *gin.Context, conversationID, messageID string, event llm.Event, connected bool) {
	env := envelope(conversationID, messageID, event)
	if connected {
		b.writeEnvelope(c, env)
	}
	if event.Type == llm.EventMessageChunk {
		return
	}
	b.appendMessage(conversationID, &store.Message{
		EventType: env.Type,
		Content:   env.Content,
		Metadata: map[string]any{
			"message_id":  messageID,
			"tool_name":   env.ToolName,
			"tool_use_id": env.ToolUseID,
		},
	})
}

// finalize writes the task outcome and, for failures the stream has not
// reported yet, a trailing error envelope.
func (b *Bridge) finalize(c *gin.Context, conversationID, messageID, taskID string, out runOutcome, connected bool) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	switch {
	case out.err == nil:
		if _, _, err := b.store.UpdateTaskStatus(ctx, taskID, store.TaskStatusCompleted, store.Patch{
			"content": out.result.Final,
		}); err != nil {
			b.logger.Error("Failed to complete streamed task",
				zap.String("task_id", taskID), zap.Error(err))
		}
		if out.result.SessionID != "" {
			if _, err := b.store.UpdateConversation(ctx, conversationID, store.Patch{
				"session_id": out.result.SessionID,
			}); err != nil {
				b.logger.Warn("Failed to record conversation session",
					zap.String("conversation_id", conversationID), zap.Error(err))
			}
		}

	case errors.Is(out.err, runner.ErrCancelled):
		if _, _, err := b.store.UpdateTaskStatus(ctx, taskID, store.TaskStatusFailed, store.Patch{
			"content": runner.CancelledSentinel,
			"error":   "cancelled",
		}); err != nil {
			b.logger.Error("Failed to finalize cancelled stream",
				zap.String("task_id", taskID), zap.Error(err))
		}
		if connected {
			b.writeEnvelope(c, v1.StreamEvent{
				Type:           v1.StreamEventError,
				ConversationID: conversationID,
				MessageID:      messageID,
				Content:        runner.CancelledSentinel,
				IsError:        true,
				Timestamp:      time.Now().UTC(),
			})
		}

	default:
		if _, _, err := b.store.UpdateTaskStatus(ctx, taskID, store.TaskStatusFailed, store.Patch{
			"error": out.err.Error(),
		}); err != nil {
			b.logger.Error("Failed to fail streamed task",
				zap.String("task_id", taskID), zap.Error(err))
		}
		if connected {
			b.writeEnvelope(c, v1.StreamEvent{
				Type:           v1.StreamEventError,
				ConversationID: conversationID,
				MessageID:      messageID,
				Content:        out.err.Error(),
				IsError:        true,
				Timestamp:      time.Now().UTC(),
			})
		}
	}
}

func (b *Bridge) writeEnvelope(c *gin.Context, env v1.StreamEvent) {
	data, err := json.Marshal(env)
	if err != nil {
		b.logger.Error("Failed to marshal stream envelope", zap.Error(err))
		return
	}
	if _, err := fmt.Fprintf(c.Writer, "event: %s\ndata: %s\n\n", env.Type, data); err != nil {
		b.logger.Debug("Failed to write stream envelope", zap.Error(err))
		return
	}
	c.Writer.Flush()
}

// appendMessage persists a conversation row outside the request context so
// rows survive client disconnects.
func (b *Bridge) appendMessage(conversationID string, m *store.Message) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := b.store.AppendConversationMessage(ctx, conversationID, m); err != nil {
		b.logger.Warn("Failed to persist conversation message",
			zap.String("conversation_id", conversationID), zap.Error(err))
	}
}

// envelope maps a runner stream event to its wire form.
func envelope(conversationID, messageID string, event llm.Event) v1.StreamEvent {
	env := v1.StreamEvent{
		Type:           string(event.Type),
		ConversationID: conversationID,
		MessageID:      messageID,
		Timestamp:      time.Now().UTC(),
	}
	switch event.Type {
	case llm.EventMessageChunk:
		env.Content = event.Text
	case llm.EventToolUse:
		env.ToolName = event.ToolName
		env.ToolUseID = event.ToolUseID
		env.ToolInput = event.ToolInput
	case llm.EventToolResult:
		env.ToolName = event.ToolName
		env.ToolUseID = event.ToolUseID
		env.Content = event.Content
		env.IsError = event.IsError
	case llm.EventResult:
		env.Content = event.Result
		env.DurationMS = event.DurationMS
		env.SessionID = event.SessionID
	case llm.EventError:
		env.Content = event.Err
		env.IsError = true
	}
	return env
}

// Interrupt flags a live run for cancellation and returns immediately. The
// runner terminates within one poll interval.
func (b *Bridge) Interrupt(c *gin.Context) {
	conversationID := c.Param("id")

	var req v1.InterruptRequest
	// The body is optional; an empty interrupt flags the whole conversation.
	_ = c.ShouldBindJSON(&req)

	ctx := c.Request.Context()
	interrupted := 0
	if req.MessageID != "" {
		if taskID, ok := b.registry.Lookup(conversationID, req.MessageID); ok {
			if err := b.runner.RequestCancel(ctx, taskID); err == nil {
				interrupted = 1
			}
		}
	} else {
		for _, taskID := range b.registry.TasksFor(conversationID) {
			if err := b.runner.RequestCancel(ctx, taskID); err == nil {
				interrupted++
			}
		}
	}

	c.JSON(http.StatusOK, v1.InterruptResponse{
		ConversationID: conversationID,
		MessageID:      req.MessageID,
		Interrupted:    interrupted,
	})
}

// DropSession cancels every live run in a conversation and discards its
// cached upstream session.
func (b *Bridge) DropSession(c *gin.Context) {
	conversationID := c.Param("id")
	ctx := c.Request.Context()

	for _, taskID := range b.registry.TasksFor(conversationID) {
		if err := b.runner.RequestCancel(ctx, taskID); err != nil {
			b.logger.Warn("Failed to cancel runner on session drop",
				zap.String("task_id", taskID), zap.Error(err))
		}
	}
	if err := b.runner.DropSession(ctx, conversationID); err != nil {
		b.logger.Warn("Failed to drop cached session",
			zap.String("conversation_id", conversationID), zap.Error(err))
	}
	if _, err := b.store.UpdateConversation(ctx, conversationID, store.Patch{"session_id": ""}); err != nil &&
		!errors.Is(err, store.ErrNotFound) {
		b.logger.Warn("Failed to clear conversation session",
			zap.String("conversation_id", conversationID), zap.Error(err))
	}

	c.Status(http.StatusNoContent)
}
