// Package upload validates folder-upload manifests before anything is
// written to the object store. Validation is structural: sizes, counts,
// nesting depth, blocked extensions, and path traversal. The actual file
// bytes are uploaded by the client against the s3 keys this package
// assigns.
package upload

import (
	"context"
	"fmt"
	"path"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/agentgrid/agentgrid/internal/artifact"
	"github.com/agentgrid/agentgrid/internal/common/config"
	"github.com/agentgrid/agentgrid/internal/common/logger"
	"github.com/agentgrid/agentgrid/internal/store"
	v1 "github.com/agentgrid/agentgrid/pkg/api/v1"
)

// ValidationError carries every rejected manifest entry so the caller can
// fix the whole batch in one round trip.
type ValidationError struct {
	Problems []v1.UploadValidationError
}

func (e *ValidationError) Error() string {
	if len(e.Problems) == 1 {
		return fmt.Sprintf("invalid upload manifest: %s: %s",
			e.Problems[0].RelativePath, e.Problems[0].Reason)
	}
	return fmt.Sprintf("invalid upload manifest: %d problems", len(e.Problems))
}

// Service validates and registers folder uploads.
type Service struct {
	store     store.Store
	artifacts artifact.Store
	limits    config.UploadConfig
	blocked   map[string]struct{}
	logger    *logger.Logger
}

// NewService creates the upload service. Zero limits fall back to the
// config defaults.
func NewService(st store.Store, artifacts artifact.Store, limits config.UploadConfig, log *logger.Logger) *Service {
	if limits.MaxFileSize <= 0 {
		limits.MaxFileSize = 50 * 1024 * 1024
	}
	if limits.MaxFolderSize <= 0 {
		limits.MaxFolderSize = 500 * 1024 * 1024
	}
	if limits.MaxFolderDepth <= 0 {
		limits.MaxFolderDepth = 10
	}
	if limits.MaxFilesPerFolder <= 0 {
		limits.MaxFilesPerFolder = 1000
	}
	if len(limits.BlockedExtensions) == 0 {
		limits.BlockedExtensions = config.BlockedExtensionDefaults
	}
	blocked := make(map[string]struct{}, len(limits.BlockedExtensions))
	for _, ext := range limits.BlockedExtensions {
		blocked[strings.ToLower(ext)] = struct{}{}
	}
	return &Service{
		store:     st,
		artifacts: artifacts,
		limits:    limits,
		blocked:   blocked,
		logger:    log.WithFields(zap.String("component", "upload")),
	}
}

// Create validates the manifest and persists it with assigned s3 keys.
// Every violation in the manifest is reported, not just the first.
func (s *Service) Create(ctx context.Context, projectID string, req v1.CreateFolderUploadRequest) (*store.FolderUpload, error) {
	projectID = strings.ToLower(projectID)
	if _, err := s.store.GetProject(ctx, projectID); err != nil {
		return nil, err
	}

	verr := &ValidationError{}
	if len(req.Files) > s.limits.MaxFilesPerFolder {
		verr.Problems = append(verr.Problems, v1.UploadValidationError{
			Reason: fmt.Sprintf("folder has %d files, limit is %d", len(req.Files), s.limits.MaxFilesPerFolder),
		})
	}

	uploadID := uuid.New().String()
	files := make([]store.UploadFile, 0, len(req.Files))
	seen := make(map[string]struct{}, len(req.Files))
	var totalSize int64
	maxDepth := 0

	for _, f := range req.Files {
		rel, depth, err := normalizePath(f.RelativePath)
		if err != nil {
			verr.Problems = append(verr.Problems, v1.UploadValidationError{
				RelativePath: f.RelativePath, Reason: err.Error(),
			})
			continue
		}
		if _, dup := seen[rel]; dup {
			verr.Problems = append(verr.Problems, v1.UploadValidationError{
				RelativePath: f.RelativePath, Reason: "duplicate path",
			})
			continue
		}
		seen[rel] = struct{}{}

		if ext := strings.ToLower(path.Ext(rel)); ext != "" {
			if _, hit := s.blocked[ext]; hit {
				verr.Problems = append(verr.Problems, v1.UploadValidationError{
					RelativePath: f.RelativePath,
					Reason:       fmt.Sprintf("file type %s is not allowed", ext),
				})
				continue
			}
		}
		if f.FileSize < 0 {
			verr.Problems = append(verr.Problems, v1.UploadValidationError{
				RelativePath: f.RelativePath, Reason: "negative file size",
			})
			continue
		}
		if f.FileSize > s.limits.MaxFileSize {
			verr.Problems = append(verr.Problems, v1.UploadValidationError{
				RelativePath: f.RelativePath,
				Reason:       fmt.Sprintf("file size %d exceeds limit %d", f.FileSize, s.limits.MaxFileSize),
			})
			continue
		}
		if depth > s.limits.MaxFolderDepth {
			verr.Problems = append(verr.Problems, v1.UploadValidationError{
				RelativePath: f.RelativePath,
				Reason:       fmt.Sprintf("nesting depth %d exceeds limit %d", depth, s.limits.MaxFolderDepth),
			})
			continue
		}

		totalSize += f.FileSize
		if depth > maxDepth {
			maxDepth = depth
		}
		parent := path.Dir(rel)
		if parent == "." {
			parent = ""
		}
		files = append(files, store.UploadFile{
			RelativePath: rel,
			FileSize:     f.FileSize,
			ContentType:  f.ContentType,
			S3Key:        fmt.Sprintf("artifacts/%s/folders/%s/files/%s", projectID, uploadID, rel),
			Depth:        depth,
			ParentPath:   parent,
		})
	}

	if totalSize > s.limits.MaxFolderSize {
		verr.Problems = append(verr.Problems, v1.UploadValidationError{
			Reason: fmt.Sprintf("folder size %d exceeds limit %d", totalSize, s.limits.MaxFolderSize),
		})
	}
	if len(verr.Problems) > 0 {
		return nil, verr
	}

	u := &store.FolderUpload{
		ID:         uploadID,
		ProjectID:  projectID,
		Files:      files,
		TotalFiles: len(files),
		TotalSize:  totalSize,
		MaxDepth:   maxDepth,
	}
	if err := s.store.CreateFolderUpload(ctx, u); err != nil {
		return nil, fmt.Errorf("failed to persist folder upload: %w", err)
	}
	s.logger.Info("Folder upload registered",
		zap.String("upload_id", u.ID),
		zap.String("project_id", projectID),
		zap.Int("files", u.TotalFiles),
		zap.Int64("bytes", u.TotalSize))
	return u, nil
}

// Get returns one manifest, enforcing project ownership.
func (s *Service) Get(ctx context.Context, projectID, uploadID string) (*store.FolderUpload, error) {
	u, err := s.store.GetFolderUpload(ctx, uploadID)
	if err != nil {
		return nil, err
	}
	if u.ProjectID != strings.ToLower(projectID) {
		return nil, store.ErrNotFound
	}
	return u, nil
}

// List returns every manifest in a project.
func (s *Service) List(ctx context.Context, projectID string) ([]*store.FolderUpload, error) {
	return s.store.ListFolderUploads(ctx, strings.ToLower(projectID))
}

// Delete removes the manifest and its uploaded objects.
func (s *Service) Delete(ctx context.Context, projectID, uploadID string) error {
	u, err := s.Get(ctx, projectID, uploadID)
	if err != nil {
		return err
	}
	prefix := fmt.Sprintf("artifacts/%s/folders/%s/", u.ProjectID, u.ID)
	if _, err := s.artifacts.DeletePrefix(ctx, prefix); err != nil {
		return fmt.Errorf("failed to delete uploaded objects: %w", err)
	}
	return s.store.DeleteFolderUpload(ctx, u.ID)
}

// normalizePath cleans a manifest path and returns its nesting depth (a
// file at the folder root has depth 0). Absolute paths, traversal
// segments, and Windows separators are rejected rather than repaired.
func normalizePath(rel string) (string, int, error) {
	if rel == "" {
		return "", 0, fmt.Errorf("empty path")
	}
	if strings.Contains(rel, "\\") {
		return "", 0, fmt.Errorf("backslash in path")
	}
	if strings.HasPrefix(rel, "/") {
		return "", 0, fmt.Errorf("absolute path")
	}
	for _, seg := range strings.Split(rel, "/") {
		if seg == ".." {
			return "", 0, fmt.Errorf("path traversal")
		}
	}
	clean := path.Clean(rel)
	if clean == "." || clean == "" {
		return "", 0, fmt.Errorf("empty path")
	}
	return clean, strings.Count(clean, "/"), nil
}
