package v1

import "time"

// Training is the API view of a data-scan training job.
type Training struct {
	ID            string    `json:"id"`
	ProjectID     string    `json:"project_id"`
	DataSourceIDs []string  `json:"data_source_ids,omitempty"`
	Status        string    `json:"status"`
	Progress      float64   `json:"progress"`
	Error         string    `json:"error,omitempty"`
	ProjectMD     ProjectMD `json:"projectmd"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// ProjectMD is the documentation-generation sub-state of a training.
type ProjectMD struct {
	Status       string     `json:"status,omitempty"`
	S3URL        string     `json:"s3_url,omitempty"`
	ErrorMessage string     `json:"error_message,omitempty"`
	StartedAt    *time.Time `json:"started_at,omitempty"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
}

// StartTrainingRequest queues a data-scan training job.
type StartTrainingRequest struct {
	DataSourceIDs []string `json:"data_source_ids" binding:"required,min=1"`
}

// GenerateProjectMDResponse acknowledges a documentation-generation request.
type GenerateProjectMDResponse struct {
	TrainingID string `json:"training_id"`
	Status     string `json:"status"`
}
