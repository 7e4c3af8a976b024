// Package llm wraps the model provider behind a streaming client so the task
// runner and orchestrators never touch SDK types directly. A run emits an
// ordered event stream: zero or more message_chunk / tool_use / tool_result
// events followed by exactly one result or error event.
package llm

import (
	"context"
)

// EventType identifies one streamed run event.
type EventType string

const (
	// EventMessageChunk carries an incremental piece of assistant text.
	EventMessageChunk EventType = "message_chunk"
	// EventToolUse reports that the model invoked a tool.
	EventToolUse EventType = "tool_use"
	// EventToolResult reports the outcome of a tool invocation.
	EventToolResult EventType = "tool_result"
	// EventResult terminates a successful run with the final text.
	EventResult EventType = "result"
	// EventError terminates a failed run.
	EventError EventType = "error"
)

// Event is one element of a run's event stream.
type Event struct {
	Type EventType

	// Text is set on message_chunk events.
	Text string

	// Tool fields are set on tool_use and tool_result events.
	ToolUseID string
	ToolName  string
	ToolInput map[string]any
	Content   string
	IsError   bool

	// Result fields are set on the terminal result event.
	Result     string
	DurationMS int64
	NumTurns   int
	SessionID  string

	// Err is set on the terminal error event.
	Err string
}

// ToolDefinition describes one tool offered to the model.
type ToolDefinition struct {
	Name        string
	Description string
	InputSchema map[string]any
}

// ToolExecutor runs tool invocations issued by the model during a run.
type ToolExecutor interface {
	// Definitions lists the tools to advertise.
	Definitions() []ToolDefinition
	// Execute runs one invocation and returns the result content. isError
	// marks the result as a failure the model should see and recover from.
	Execute(ctx context.Context, name string, input map[string]any) (content string, isError bool)
}

// RunRequest describes one agent run.
type RunRequest struct {
	// SystemPrompt is the agent's instruction block.
	SystemPrompt string
	// Prompt is the user turn that starts the run.
	Prompt string
	// Model overrides the client's default model when set.
	Model string
	// MaxTurns caps the number of model turns, tool round-trips included.
	MaxTurns int
	// SessionID resumes a prior session's history when set.
	SessionID string
	// Executor is consulted for tool calls; when nil the run is tool-free.
	Executor ToolExecutor
}

// Stream is a live run. Events is closed after the terminal event; Close
// cancels the run.
type Stream interface {
	Events() <-chan Event
	Close() error
}

// Client starts agent runs against the model provider.
type Client interface {
	Run(ctx context.Context, req RunRequest) (Stream, error)
}
