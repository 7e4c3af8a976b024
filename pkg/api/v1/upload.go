package v1

import "time"

// UploadFile is one entry in a folder-upload manifest.
type UploadFile struct {
	RelativePath string `json:"relative_path" binding:"required"`
	FileSize     int64  `json:"file_size" binding:"min=0"`
	ContentType  string `json:"content_type,omitempty"`
}

// CreateFolderUploadRequest validates and registers a file-tree manifest.
type CreateFolderUploadRequest struct {
	Files []UploadFile `json:"files" binding:"required,min=1,dive"`
}

// FolderUpload is the API view of a validated manifest.
type FolderUpload struct {
	ID         string    `json:"id"`
	ProjectID  string    `json:"project_id"`
	TotalFiles int       `json:"total_files"`
	TotalSize  int64     `json:"total_size"`
	MaxDepth   int       `json:"max_depth"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// UploadValidationError describes one rejected manifest entry.
type UploadValidationError struct {
	RelativePath string `json:"relative_path"`
	Reason       string `json:"reason"`
}
