package v1

import "time"

// TaskStatus values exposed on the wire. Transitions are monotonic:
// queued -> processing -> {completed, failed}.
const (
	TaskStatusQueued     = "queued"
	TaskStatusProcessing = "processing"
	TaskStatusCompleted  = "completed"
	TaskStatusFailed     = "failed"
)

// Task is one side of a dispatched task pair.
type Task struct {
	ID            string                 `json:"id"`
	ProjectID     string                 `json:"project_id"`
	AgentID       string                 `json:"agent_id"`
	Role          string                 `json:"role"`
	Content       string                 `json:"content"`
	Status        string                 `json:"status"`
	RelatedTaskID string                 `json:"related_task_id,omitempty"`
	Error         string                 `json:"error,omitempty"`
	Metadata      map[string]interface{} `json:"metadata,omitempty"`
	CreatedAt     time.Time              `json:"created_at"`
	UpdatedAt     time.Time              `json:"updated_at"`
}

// DispatchTaskRequest submits work to an agent.
type DispatchTaskRequest struct {
	AgentID  string                 `json:"agent_id" binding:"required"`
	Content  string                 `json:"content" binding:"required"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// DispatchTaskResponse returns both sides of the created task pair.
type DispatchTaskResponse struct {
	UserTask      *Task `json:"user_task"`
	AssistantTask *Task `json:"assistant_task"`
}

// TaskStatusResponse is the polling view of an assistant task.
type TaskStatusResponse struct {
	TaskID    string    `json:"task_id"`
	Status    string    `json:"status"`
	Content   string    `json:"content,omitempty"`
	Error     string    `json:"error,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}
