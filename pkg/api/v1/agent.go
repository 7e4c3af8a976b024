package v1

import "time"

// Agent is the API view of an agent definition.
type Agent struct {
	ID           string                 `json:"id"`
	ProjectID    string                 `json:"project_id"`
	Name         string                 `json:"name"`
	Description  string                 `json:"description,omitempty"`
	Instructions string                 `json:"instructions"`
	OutputFormat string                 `json:"output_format,omitempty"`
	State        string                 `json:"state"`
	Deployed     bool                   `json:"deployed"`
	Capabilities []string               `json:"capabilities,omitempty"`
	Metadata     map[string]interface{} `json:"metadata,omitempty"`
	CreatedAt    time.Time              `json:"created_at"`
	UpdatedAt    time.Time              `json:"updated_at"`
}

// AgentVersion is one snapshot in an agent's version history.
type AgentVersion struct {
	Instructions string    `json:"instructions"`
	OutputFormat string    `json:"output_format"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedBy    string    `json:"updated_by,omitempty"`
}

// CreateAgentRequest for creating a new agent
type CreateAgentRequest struct {
	Name         string                 `json:"name" binding:"required,max=200"`
	Description  string                 `json:"description,omitempty"`
	Instructions string                 `json:"instructions" binding:"required,max=20000"`
	OutputFormat string                 `json:"output_format,omitempty"`
	Capabilities []string               `json:"capabilities,omitempty"`
	Metadata     map[string]interface{} `json:"metadata,omitempty"`
}

// UpdateAgentRequest carries a partial update; nil fields are untouched.
type UpdateAgentRequest struct {
	Name         *string                 `json:"name,omitempty" binding:"omitempty,max=200"`
	Description  *string                 `json:"description,omitempty"`
	Instructions *string                 `json:"instructions,omitempty" binding:"omitempty,max=20000"`
	OutputFormat *string                 `json:"output_format,omitempty"`
	State        *string                 `json:"state,omitempty" binding:"omitempty,oneof=enabled disabled"`
	Deployed     *bool                   `json:"deployed,omitempty"`
	Capabilities *[]string               `json:"capabilities,omitempty"`
	Metadata     *map[string]interface{} `json:"metadata,omitempty"`
	UpdatedBy    string                  `json:"updated_by,omitempty"`
}
