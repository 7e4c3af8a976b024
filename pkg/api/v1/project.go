// Package v1 defines the wire types of the public HTTP API.
package v1

import "time"

// Project is the tenancy root returned by the API.
type Project struct {
	ID             string    `json:"id"`
	OrganizationID string    `json:"organization_id"`
	Name           string    `json:"name"`
	Members        []string  `json:"members,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// CreateProjectRequest for creating a new project
type CreateProjectRequest struct {
	OrganizationID string   `json:"organization_id" binding:"required"`
	Name           string   `json:"name" binding:"required,max=200"`
	Members        []string `json:"members,omitempty"`
}

// UpdateProjectRequest carries a partial update; nil fields are untouched.
type UpdateProjectRequest struct {
	Name    *string   `json:"name,omitempty" binding:"omitempty,max=200"`
	Members *[]string `json:"members,omitempty"`
}

// ProviderCredentialRequest registers an external data-source provider for a
// project.
type ProviderCredentialRequest struct {
	ProviderType string                 `json:"provider_type" binding:"required"`
	Config       map[string]interface{} `json:"config" binding:"required"`
}

// CleanupReport summarizes a project teardown.
type CleanupReport struct {
	ProjectID string         `json:"project_id"`
	Status    string         `json:"status"` // "completed" or "partial"
	Deleted   map[string]int `json:"deleted"`
	Errors    []string       `json:"errors,omitempty"`
}
