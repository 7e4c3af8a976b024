package runner

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/agentgrid/agentgrid/internal/events"
	"github.com/agentgrid/agentgrid/internal/events/bus"
	"github.com/agentgrid/agentgrid/internal/store"
)

// Consumer drains the agent.task subject and executes dispatched tasks.
type Consumer struct {
	svc *Service
	bus bus.EventBus
	sub bus.Subscription
}

// NewConsumer creates a broker consumer for the runner service.
func NewConsumer(svc *Service, eventBus bus.EventBus) *Consumer {
	return &Consumer{svc: svc, bus: eventBus}
}

// Start subscribes to the work subject in the runners queue group. The
// bus bounds redelivery of failed deliveries.
func (c *Consumer) Start() error {
	handler := func(ctx context.Context, event *bus.Event) error {
		payload, err := events.DecodePayload[events.TaskDispatch](event)
		if err != nil {
			// Malformed payloads can never succeed; drop them.
			c.svc.logger.Error("Dropping malformed task dispatch", zap.Error(err))
			return nil
		}
		return c.svc.HandleDispatch(ctx, payload)
	}
	sub, err := c.bus.QueueSubscribe(events.SubjectAgentTask, events.QueueRunners, handler)
	if err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", events.SubjectAgentTask, err)
	}
	c.sub = sub
	return nil
}

// Stop unsubscribes the consumer.
func (c *Consumer) Stop() error {
	if c.sub == nil {
		return nil
	}
	return c.sub.Unsubscribe()
}

// HandleDispatch executes one dispatched task end to end. A returned error
// signals a transport/store fault eligible for redelivery; model failures
// finalize the task as failed and return nil.
func (s *Service) HandleDispatch(ctx context.Context, payload *events.TaskDispatch) error {
	task, err := s.store.GetTask(ctx, payload.TaskID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			s.logger.Warn("Dispatched task not found", zap.String("task_id", payload.TaskID))
			return nil
		}
		return fmt.Errorf("failed to load task: %w", err)
	}

	task, applied, err := s.store.UpdateTaskStatus(ctx, task.ID, store.TaskStatusProcessing, nil)
	if err != nil {
		return fmt.Errorf("failed to mark task processing: %w", err)
	}
	if !applied {
		// Already picked up or finalized elsewhere.
		s.logger.Debug("Skipping task not in queued state",
			zap.String("task_id", task.ID),
			zap.String("status", string(task.Status)))
		return nil
	}

	userTask, err := s.store.GetTask(ctx, payload.UserTaskID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return s.failTask(ctx, task.ID, "not_found: user task")
		}
		return fmt.Errorf("failed to load user task: %w", err)
	}

	agent, err := s.store.GetAgent(ctx, task.AgentID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return s.failTask(ctx, task.ID, "not_found: agent")
		}
		return fmt.Errorf("failed to load agent: %w", err)
	}
	if _, err := s.store.GetProject(ctx, task.ProjectID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return s.failTask(ctx, task.ID, "not_found: project")
		}
		return fmt.Errorf("failed to load project: %w", err)
	}

	req := ExecuteRequest{
		Task:     task,
		Agent:    agent,
		Question: userTask.Content,
	}
	req.MCPServers, req.MCPTools = s.MCPConfigFor(ctx, task.ProjectID)
	if v, ok := task.Metadata["context"].(string); ok {
		req.Context = v
	}
	if v, ok := task.Metadata["conversation_id"].(string); ok && v != "" {
		req.ConversationID = v
		if sessionID, serr := s.SessionFor(ctx, v); serr == nil {
			req.SessionID = sessionID
		}
	}

	result, err := s.Execute(ctx, req)
	switch {
	case errors.Is(err, ErrCancelled):
		return s.finalizeCancelled(ctx, task.ID)
	case err != nil:
		// Model errors are terminal; they are never requeued.
		return s.failTask(ctx, task.ID, err.Error())
	}

	_, _, err = s.store.UpdateTaskStatus(ctx, task.ID, store.TaskStatusCompleted, store.Patch{
		"content": result.Final,
	})
	if err != nil {
		return fmt.Errorf("failed to complete task: %w", err)
	}
	s.logger.Info("Task completed",
		zap.String("task_id", task.ID),
		zap.Int("attempts", result.Attempts))
	return nil
}

func (s *Service) failTask(ctx context.Context, taskID, reason string) error {
	_, _, err := s.store.UpdateTaskStatus(ctx, taskID, store.TaskStatusFailed, store.Patch{
		"error": reason,
	})
	if err != nil {
		return fmt.Errorf("failed to mark task failed: %w", err)
	}
	return nil
}

func (s *Service) finalizeCancelled(ctx context.Context, taskID string) error {
	_, _, err := s.store.UpdateTaskStatus(ctx, taskID, store.TaskStatusFailed, store.Patch{
		"content": CancelledSentinel,
		"error":   "cancelled",
	})
	if err != nil {
		return fmt.Errorf("failed to finalize cancelled task: %w", err)
	}
	return nil
}
