// Package events defines the broker subjects and payloads shared by the
// dispatcher, the task runner and the orchestrators.
package events

import (
	"encoding/json"
	"fmt"

	"github.com/agentgrid/agentgrid/internal/events/bus"
)

// Broker subjects. Work subjects are consumed via queue groups so that each
// message is processed by exactly one worker per group; stream subjects fan
// out to every subscriber.
const (
	// SubjectAgentTask carries dispatched task work.
	SubjectAgentTask = "agent.task"
	// SubjectTrainingJob carries data-scan training work.
	SubjectTrainingJob = "training.job"

	// QueueRunners is the queue group for task runner workers.
	QueueRunners = "runners"
	// QueueTrainers is the queue group for training workers.
	QueueTrainers = "trainers"
)

// Event types for task lifecycle notifications
const (
	TaskDispatched = "task.dispatched"
	TaskStarted    = "task.started"
	TaskCompleted  = "task.completed"
	TaskFailed     = "task.failed"
	TaskCancelled  = "task.cancelled"
)

// Event types for training jobs
const (
	TrainingQueued    = "training.queued"
	TrainingStarted   = "training.started"
	TrainingProgress  = "training.progress"
	TrainingCompleted = "training.completed"
	TrainingFailed    = "training.failed"
)

// Event types for evaluation runs
const (
	EvaluationRunStarted   = "evaluation_run.started"
	EvaluationRunCompleted = "evaluation_run.completed"
	EvaluationRunFailed    = "evaluation_run.failed"
)

// TaskDispatch is the payload published on SubjectAgentTask. It names the
// assistant-side task the runner must fill in and carries the user prompt
// and task metadata; consumers re-read the store before acting so a stale
// payload never overrides the document.
type TaskDispatch struct {
	TaskID     string         `json:"task_id"`
	UserTaskID string         `json:"user_task_id"`
	ProjectID  string         `json:"project_id"`
	AgentID    string         `json:"agent_id"`
	Content    string         `json:"content"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// TrainingDispatch is the payload published on SubjectTrainingJob.
type TrainingDispatch struct {
	TrainingID    string   `json:"training_id"`
	ProjectID     string   `json:"project_id"`
	ProjectName   string   `json:"project_name"`
	DataSourceIDs []string `json:"data_source_ids,omitempty"`
}

// NewTaskDispatchEvent wraps a TaskDispatch into a bus event.
func NewTaskDispatchEvent(source string, d TaskDispatch) *bus.Event {
	data := map[string]interface{}{
		"task_id":      d.TaskID,
		"user_task_id": d.UserTaskID,
		"project_id":   d.ProjectID,
		"agent_id":     d.AgentID,
		"content":      d.Content,
	}
	if len(d.Metadata) > 0 {
		data["metadata"] = d.Metadata
	}
	return bus.NewEvent(TaskDispatched, source, data)
}

// NewTrainingDispatchEvent wraps a TrainingDispatch into a bus event.
func NewTrainingDispatchEvent(source string, d TrainingDispatch) *bus.Event {
	data := map[string]interface{}{
		"training_id":  d.TrainingID,
		"project_id":   d.ProjectID,
		"project_name": d.ProjectName,
	}
	if len(d.DataSourceIDs) > 0 {
		data["data_source_ids"] = d.DataSourceIDs
	}
	return bus.NewEvent(TrainingQueued, source, data)
}

// DecodePayload unmarshals an event's data map into a typed payload.
func DecodePayload[T any](event *bus.Event) (*T, error) {
	raw, err := json.Marshal(event.Data)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal event data: %w", err)
	}
	out := new(T)
	if err := json.Unmarshal(raw, out); err != nil {
		return nil, fmt.Errorf("failed to decode %s payload: %w", event.Type, err)
	}
	return out, nil
}
