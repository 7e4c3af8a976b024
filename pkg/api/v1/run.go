package v1

import "time"

// Run statuses exposed by the ACP-compatible surface.
const (
	RunStatusCreated    = "created"
	RunStatusInProgress = "in-progress"
	RunStatusCompleted  = "completed"
	RunStatusFailed     = "failed"
)

// RunPart is one content part of a run input or output message.
type RunPart struct {
	ContentType string `json:"content_type" binding:"required"`
	Content     string `json:"content" binding:"required"`
}

// RunMessage is an ordered list of content parts.
type RunMessage struct {
	Parts []RunPart `json:"parts" binding:"required,min=1,dive"`
}

// CreateRunRequest submits work to an agent through the ACP-compatible
// surface. agent_name carries the agent id.
type CreateRunRequest struct {
	AgentName string       `json:"agent_name" binding:"required"`
	Input     []RunMessage `json:"input" binding:"required,min=1,dive"`
	Mode      string       `json:"mode,omitempty"`
}

// Run is the ACP view of an assistant task. RunID is the assistant task
// id and can be polled on GET /runs/{run_id}.
type Run struct {
	RunID     string       `json:"run_id"`
	AgentName string       `json:"agent_name"`
	Status    string       `json:"status"`
	Output    []RunMessage `json:"output,omitempty"`
	Error     string       `json:"error,omitempty"`
	CreatedAt time.Time    `json:"created_at"`
	UpdatedAt time.Time    `json:"updated_at"`
}
