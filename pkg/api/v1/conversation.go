package v1

import "time"

// Stream event types emitted over SSE while an agent run is in flight.
const (
	StreamEventMessageChunk = "message_chunk"
	StreamEventToolUse      = "tool_use"
	StreamEventToolResult   = "tool_result"
	StreamEventResult       = "result"
	StreamEventError        = "error"
)

// StreamEvent is the envelope written to the SSE channel. Every event names
// its conversation and the message it belongs to so clients can resume.
type StreamEvent struct {
	Type           string                 `json:"type"`
	ConversationID string                 `json:"conversation_id"`
	MessageID      string                 `json:"message_id"`
	Content        string                 `json:"content,omitempty"`
	ToolName       string                 `json:"tool_name,omitempty"`
	ToolInput      map[string]interface{} `json:"tool_input,omitempty"`
	ToolUseID      string                 `json:"tool_use_id,omitempty"`
	IsError        bool                   `json:"is_error,omitempty"`
	DurationMS     int64                  `json:"duration_ms,omitempty"`
	SessionID      string                 `json:"session_id,omitempty"`
	Timestamp      time.Time              `json:"timestamp"`
}

// Conversation is the API view of a multi-turn thread.
type Conversation struct {
	ID         string    `json:"id"`
	ProjectID  string    `json:"project_id"`
	AgentID    string    `json:"agent_id,omitempty"`
	MessageIDs []string  `json:"message_ids,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// StartConversationRequest opens a thread against an agent.
type StartConversationRequest struct {
	AgentID string `json:"agent_id" binding:"required"`
}

// SendMessageRequest streams a user message into a conversation. The
// response is an SSE stream of StreamEvent envelopes.
type SendMessageRequest struct {
	ProjectID   string                 `json:"project_id" binding:"required"`
	AgentID     string                 `json:"agent_id,omitempty"`
	SessionID   string                 `json:"session_id,omitempty"`
	MessageID   string                 `json:"message_id" binding:"required"`
	Content     string                 `json:"content" binding:"required"`
	AgentConfig map[string]interface{} `json:"agent_config,omitempty"`
}

// InterruptRequest flags a live stream for cancellation. MessageID limits
// the interrupt to one message; empty flags every runner in the
// conversation.
type InterruptRequest struct {
	MessageID string `json:"message_id,omitempty"`
}

// InterruptResponse acknowledges an interrupt request.
type InterruptResponse struct {
	ConversationID string `json:"conversation_id"`
	MessageID      string `json:"message_id,omitempty"`
	Interrupted    int    `json:"interrupted"`
}
