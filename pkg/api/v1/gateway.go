package v1

import "time"

// Gateway groups MCP tools published from agents.
type Gateway struct {
	ID        string    `json:"id"`
	ProjectID string    `json:"project_id"`
	Name      string    `json:"name"`
	APIKey    string    `json:"api_key,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// CreateGatewayRequest creates a gateway in a project.
type CreateGatewayRequest struct {
	Name string `json:"name" binding:"required,max=200"`
}

// Tool is an MCP tool synthesized from a source agent.
type Tool struct {
	ID           string                 `json:"id"`
	GatewayID    string                 `json:"gateway_id"`
	AgentID      string                 `json:"agent_id"`
	ToolName     string                 `json:"tool_name"`
	Description  string                 `json:"description,omitempty"`
	InputSchema  map[string]interface{} `json:"input_schema,omitempty"`
	OutputFormat string                 `json:"output_format,omitempty"`
	Status       string                 `json:"status"`
	Enabled      bool                   `json:"enabled"`
	CreatedAt    time.Time              `json:"created_at"`
	UpdatedAt    time.Time              `json:"updated_at"`
}

// PublishToolRequest publishes an agent as an MCP tool on a gateway.
// Metadata synthesis runs asynchronously; the tool starts in "generating".
type PublishToolRequest struct {
	AgentID string `json:"agent_id" binding:"required"`
}
