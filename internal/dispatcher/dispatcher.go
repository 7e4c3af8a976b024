// Package dispatcher admits and dispatches agent work. A dispatch creates a
// user/assistant task pair in the store before publishing to the broker, so a
// failed publish leaves the pair queued for a janitor sweep rather than lost.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/agentgrid/agentgrid/internal/common/logger"
	"github.com/agentgrid/agentgrid/internal/events"
	"github.com/agentgrid/agentgrid/internal/events/bus"
	"github.com/agentgrid/agentgrid/internal/store"
)

// ErrThrottled is returned when the agent already has an active task.
var ErrThrottled = errors.New("agent has an active task")

// ErrAgentDisabled is returned when dispatching to a disabled agent.
var ErrAgentDisabled = errors.New("agent is disabled")

const eventSource = "dispatcher"

// Service creates task pairs and publishes work to the broker.
type Service struct {
	store  store.Store
	bus    bus.EventBus
	logger *logger.Logger
}

// NewService creates a dispatcher.
func NewService(st store.Store, eventBus bus.EventBus, log *logger.Logger) *Service {
	return &Service{store: st, bus: eventBus, logger: log}
}

// DispatchRequest describes one unit of work to admit.
type DispatchRequest struct {
	ProjectID string
	AgentID   string
	Content   string
	Metadata  map[string]any
}

// HasActiveTask reports whether the agent has an assistant task that is
// queued or processing. The check is advisory, not a lock: two concurrent
// dispatches may both pass it.
func (s *Service) HasActiveTask(ctx context.Context, projectID, agentID string) (bool, error) {
	count, err := s.store.CountTasks(ctx, store.TaskFilter{
		ProjectID: projectID,
		AgentID:   agentID,
		Role:      store.TaskRoleAssistant,
		Statuses:  []store.TaskStatus{store.TaskStatusQueued, store.TaskStatusProcessing},
	})
	if err != nil {
		return false, fmt.Errorf("failed to count active tasks: %w", err)
	}
	return count > 0, nil
}

// Dispatch validates the target, admits the work, creates the task pair and
// publishes it. Project ids are normalized to lower case on every document
// and broker message.
func (s *Service) Dispatch(ctx context.Context, req DispatchRequest) (*store.Task, *store.Task, error) {
	projectID := strings.ToLower(req.ProjectID)

	if _, err := s.store.GetProject(ctx, projectID); err != nil {
		return nil, nil, err
	}
	agent, err := s.store.GetAgent(ctx, req.AgentID)
	if err != nil {
		return nil, nil, err
	}
	if agent.State == store.AgentStateDisabled {
		return nil, nil, fmt.Errorf("agent %s: %w", agent.ID, ErrAgentDisabled)
	}

	active, err := s.HasActiveTask(ctx, projectID, req.AgentID)
	if err != nil {
		return nil, nil, err
	}
	if active {
		return nil, nil, fmt.Errorf("agent %s: %w", req.AgentID, ErrThrottled)
	}

	return s.CreatePair(ctx, projectID, req)
}

// CreatePair creates and publishes a task pair without consulting the
// admission gate. Orchestrators use it for fan-out work where serializing
// per agent would deadlock the run.
func (s *Service) CreatePair(ctx context.Context, projectID string, req DispatchRequest) (*store.Task, *store.Task, error) {
	userTask := &store.Task{
		ProjectID: projectID,
		AgentID:   req.AgentID,
		Role:      store.TaskRoleUser,
		Content:   req.Content,
		Status:    store.TaskStatusQueued,
		Metadata:  req.Metadata,
	}
	if err := s.store.CreateTask(ctx, userTask); err != nil {
		return nil, nil, fmt.Errorf("failed to create user task: %w", err)
	}

	assistantTask := &store.Task{
		ProjectID:     projectID,
		AgentID:       req.AgentID,
		Role:          store.TaskRoleAssistant,
		Status:        store.TaskStatusQueued,
		RelatedTaskID: userTask.ID,
		Metadata:      req.Metadata,
	}
	if err := s.store.CreateTask(ctx, assistantTask); err != nil {
		return nil, nil, fmt.Errorf("failed to create assistant task: %w", err)
	}

	event := events.NewTaskDispatchEvent(eventSource, events.TaskDispatch{
		TaskID:     assistantTask.ID,
		UserTaskID: userTask.ID,
		ProjectID:  projectID,
		AgentID:    req.AgentID,
		Content:    req.Content,
		Metadata:   req.Metadata,
	})
	if err := s.bus.Publish(ctx, events.SubjectAgentTask, event); err != nil {
		// The pair stays queued; a sweep can republish or fail it.
		s.logger.Error("Failed to publish task dispatch",
			zap.String("task_id", assistantTask.ID),
			zap.Error(err))
		return nil, nil, fmt.Errorf("failed to publish task dispatch: %w", err)
	}

	s.logger.Info("Dispatched task pair",
		zap.String("project_id", projectID),
		zap.String("agent_id", req.AgentID),
		zap.String("user_task_id", userTask.ID),
		zap.String("assistant_task_id", assistantTask.ID))

	return userTask, assistantTask, nil
}

// StartTraining queues a data-scan training job and publishes it.
func (s *Service) StartTraining(ctx context.Context, projectID string, dataSourceIDs []string) (*store.Training, error) {
	projectID = strings.ToLower(projectID)
	project, err := s.store.GetProject(ctx, projectID)
	if err != nil {
		return nil, err
	}

	training := &store.Training{
		ProjectID:     projectID,
		DataSourceIDs: dataSourceIDs,
		Status:        store.TrainingStatusQueued,
	}
	if err := s.store.CreateTraining(ctx, training); err != nil {
		return nil, fmt.Errorf("failed to create training: %w", err)
	}

	event := events.NewTrainingDispatchEvent(eventSource, events.TrainingDispatch{
		TrainingID:    training.ID,
		ProjectID:     projectID,
		ProjectName:   project.Name,
		DataSourceIDs: dataSourceIDs,
	})
	if err := s.bus.Publish(ctx, events.SubjectTrainingJob, event); err != nil {
		s.logger.Error("Failed to publish training job",
			zap.String("training_id", training.ID),
			zap.Error(err))
		return nil, fmt.Errorf("failed to publish training job: %w", err)
	}
	return training, nil
}

// SweepQueued republishes assistant tasks that stayed queued longer than
// minAge, covering dispatches whose publish failed or was lost.
func (s *Service) SweepQueued(ctx context.Context, projectID string, minAge time.Duration) (int, error) {
	tasks, err := s.store.FindTasks(ctx, store.TaskFilter{
		ProjectID: strings.ToLower(projectID),
		Role:      store.TaskRoleAssistant,
		Statuses:  []store.TaskStatus{store.TaskStatusQueued},
	})
	if err != nil {
		return 0, fmt.Errorf("failed to find queued tasks: %w", err)
	}
	republished := 0
	for _, task := range tasks {
		if time.Since(task.UpdatedAt) < minAge {
			continue
		}
		content := ""
		if user, uerr := s.store.GetTask(ctx, task.RelatedTaskID); uerr == nil {
			content = user.Content
		}
		event := events.NewTaskDispatchEvent(eventSource, events.TaskDispatch{
			TaskID:     task.ID,
			UserTaskID: task.RelatedTaskID,
			ProjectID:  task.ProjectID,
			AgentID:    task.AgentID,
			Content:    content,
			Metadata:   task.Metadata,
		})
		if err := s.bus.Publish(ctx, events.SubjectAgentTask, event); err != nil {
			return republished, fmt.Errorf("failed to republish task %s: %w", task.ID, err)
		}
		republished++
	}
	return republished, nil
}
