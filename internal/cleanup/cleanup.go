// Package cleanup tears down everything a deleted project owned. Steps run
// leaf to root so no document is orphaned by an earlier failure, and a
// failed step never aborts the ones after it.
package cleanup

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/agentgrid/agentgrid/internal/artifact"
	"github.com/agentgrid/agentgrid/internal/common/logger"
	"github.com/agentgrid/agentgrid/internal/store"
)

// Report statuses.
const (
	StatusCompleted = "completed"
	StatusPartial   = "partial"
)

// Report summarizes one project teardown.
type Report struct {
	ProjectID string
	Status    string
	Deleted   map[string]int
	Errors    []string
}

// Service deletes a project's belongings.
type Service struct {
	store     store.Store
	artifacts artifact.Store
	logger    *logger.Logger
}

// NewService creates a cleanup service.
func NewService(st store.Store, artifacts artifact.Store, log *logger.Logger) *Service {
	return &Service{
		store:     st,
		artifacts: artifacts,
		logger:    log.WithFields(zap.String("component", "cleanup")),
	}
}

type step struct {
	name string
	run  func(ctx context.Context, projectID string) (int, error)
}

// Purge removes everything the project owns, leaf to root, then its
// artifact prefixes. Per-step errors are collected, not fatal.
func (s *Service) Purge(ctx context.Context, projectID string) *Report {
	projectID = strings.ToLower(projectID)
	report := &Report{
		ProjectID: projectID,
		Status:    StatusCompleted,
		Deleted:   make(map[string]int),
	}

	steps := []step{
		{"tools", s.deleteTools},
		{"gateways", s.deleteGateways},
		{"tasks", s.deleteTasks},
		{"conversations", s.deleteConversations},
		{"evaluation_runs", s.deleteEvaluationRuns},
		{"evaluations", s.deleteEvaluations},
		{"trainings", s.deleteTrainings},
		{"folder_uploads", s.deleteFolderUploads},
		{"credentials", s.deleteCredentials},
		{"agents", s.deleteAgents},
	}
	for _, st := range steps {
		count, err := st.run(ctx, projectID)
		report.Deleted[st.name] = count
		if err != nil {
			report.Errors = append(report.Errors, fmt.Sprintf("%s: %v", st.name, err))
			s.logger.Warn("Cleanup step failed",
				zap.String("project_id", projectID),
				zap.String("step", st.name),
				zap.Error(err))
		}
	}

	for _, prefix := range []string{
		"audit/" + projectID + "/",
		"artifacts/" + projectID + "/",
	} {
		n, err := s.artifacts.DeletePrefix(ctx, prefix)
		report.Deleted["objects"] += n
		if err != nil {
			report.Errors = append(report.Errors, fmt.Sprintf("artifacts %s: %v", prefix, err))
			s.logger.Warn("Artifact prefix delete failed",
				zap.String("project_id", projectID),
				zap.String("prefix", prefix),
				zap.Error(err))
		}
	}

	// The project document goes last so a partial purge can be retried.
	if len(report.Errors) == 0 {
		switch err := s.store.DeleteProject(ctx, projectID); {
		case err == nil:
			report.Deleted["project"] = 1
		case !errors.Is(err, store.ErrNotFound):
			report.Errors = append(report.Errors, fmt.Sprintf("project: %v", err))
		}
	}

	if len(report.Errors) > 0 {
		report.Status = StatusPartial
	}
	s.logger.Info("Project cleanup finished",
		zap.String("project_id", projectID),
		zap.String("status", report.Status),
		zap.Any("deleted", report.Deleted))
	return report
}

// deleteTools removes every tool of every gateway in the project. It runs
// before deleteGateways so tool rows never outlive their gateway.
func (s *Service) deleteTools(ctx context.Context, projectID string) (int, error) {
	gateways, err := s.store.ListGateways(ctx, projectID)
	if err != nil {
		return 0, err
	}
	deleted := 0
	var firstErr error
	for _, gw := range gateways {
		tools, lerr := s.store.ListTools(ctx, gw.ID)
		if lerr != nil {
			if firstErr == nil {
				firstErr = lerr
			}
			continue
		}
		for _, tool := range tools {
			if derr := s.store.DeleteTool(ctx, tool.ID); derr != nil {
				if firstErr == nil {
					firstErr = derr
				}
				continue
			}
			deleted++
		}
	}
	return deleted, firstErr
}

func (s *Service) deleteGateways(ctx context.Context, projectID string) (int, error) {
	gateways, err := s.store.ListGateways(ctx, projectID)
	if err != nil {
		return 0, err
	}
	return s.deleteEach(ctx, len(gateways), func(i int) error {
		return s.store.DeleteGateway(ctx, gateways[i].ID)
	})
}

func (s *Service) deleteTasks(ctx context.Context, projectID string) (int, error) {
	tasks, err := s.store.FindTasks(ctx, store.TaskFilter{ProjectID: projectID})
	if err != nil {
		return 0, err
	}
	return s.deleteEach(ctx, len(tasks), func(i int) error {
		return s.store.DeleteTask(ctx, tasks[i].ID)
	})
}

// deleteConversations also removes each conversation's messages through the
// store's cascading delete.
func (s *Service) deleteConversations(ctx context.Context, projectID string) (int, error) {
	conversations, err := s.store.ListConversations(ctx, projectID)
	if err != nil {
		return 0, err
	}
	return s.deleteEach(ctx, len(conversations), func(i int) error {
		return s.store.DeleteConversation(ctx, conversations[i].ID)
	})
}

func (s *Service) deleteEvaluationRuns(ctx context.Context, projectID string) (int, error) {
	runs, err := s.store.ListEvaluationRuns(ctx, projectID)
	if err != nil {
		return 0, err
	}
	return s.deleteEach(ctx, len(runs), func(i int) error {
		return s.store.DeleteEvaluationRun(ctx, runs[i].ID)
	})
}

func (s *Service) deleteEvaluations(ctx context.Context, projectID string) (int, error) {
	evaluations, err := s.store.ListEvaluations(ctx, projectID)
	if err != nil {
		return 0, err
	}
	return s.deleteEach(ctx, len(evaluations), func(i int) error {
		return s.store.DeleteEvaluation(ctx, evaluations[i].ID)
	})
}

func (s *Service) deleteTrainings(ctx context.Context, projectID string) (int, error) {
	trainings, err := s.store.ListTrainings(ctx, projectID)
	if err != nil {
		return 0, err
	}
	return s.deleteEach(ctx, len(trainings), func(i int) error {
		return s.store.DeleteTraining(ctx, trainings[i].ID)
	})
}

func (s *Service) deleteFolderUploads(ctx context.Context, projectID string) (int, error) {
	uploads, err := s.store.ListFolderUploads(ctx, projectID)
	if err != nil {
		return 0, err
	}
	return s.deleteEach(ctx, len(uploads), func(i int) error {
		return s.store.DeleteFolderUpload(ctx, uploads[i].ID)
	})
}

func (s *Service) deleteCredentials(ctx context.Context, projectID string) (int, error) {
	credentials, err := s.store.ListProviderCredentials(ctx, projectID)
	if err != nil {
		return 0, err
	}
	return s.deleteEach(ctx, len(credentials), func(i int) error {
		return s.store.DeleteProviderCredential(ctx, credentials[i].ID)
	})
}

func (s *Service) deleteAgents(ctx context.Context, projectID string) (int, error) {
	agents, err := s.store.ListAgents(ctx, projectID)
	if err != nil {
		return 0, err
	}
	return s.deleteEach(ctx, len(agents), func(i int) error {
		return s.store.DeleteAgent(ctx, agents[i].ID)
	})
}

// deleteEach applies del to n items, counting successes and keeping the
// first error.
func (s *Service) deleteEach(_ context.Context, n int, del func(i int) error) (int, error) {
	deleted := 0
	var firstErr error
	for i := 0; i < n; i++ {
		if err := del(i); err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		deleted++
	}
	return deleted, firstErr
}
