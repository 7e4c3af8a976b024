// Package docgen generates a project documentation file (claude.md) after a
// training completes. A dedicated documentation agent hosted under the docs
// project writes the document; the result lands in the artifact store and
// the training's projectmd sub-state tracks progress.
package docgen

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/agentgrid/agentgrid/internal/artifact"
	"github.com/agentgrid/agentgrid/internal/common/logger"
	"github.com/agentgrid/agentgrid/internal/dispatcher"
	"github.com/agentgrid/agentgrid/internal/store"
)

// docPrompt is the one prompt sent to the documentation agent. Its session
// already carries the project context from training.
const docPrompt = "Please provide your claude.md now."

const (
	defaultPollInterval = time.Second
	maxPollIterations   = 1800
)

// docAgentInstructions is the system prompt for lazily-created
// documentation agents.
const docAgentInstructions = `You are a documentation specialist. You study a project's data sources, ` +
	`agents and past tasks, then produce a single complete claude.md document describing the project: ` +
	`its purpose, data landscape, conventions and the guidance an agent needs to work inside it. ` +
	`Respond with the full document body only, in Markdown.`

// Orchestrator drives documentation generation for trainings.
type Orchestrator struct {
	store        store.Store
	dispatcher   *dispatcher.Service
	artifacts    artifact.Store
	logger       *logger.Logger
	docsProject  string
	pollInterval time.Duration
}

// New creates a docgen orchestrator. docsProjectID names the project that
// hosts documentation agents.
func New(st store.Store, disp *dispatcher.Service, artifacts artifact.Store, docsProjectID string, log *logger.Logger) *Orchestrator {
	return &Orchestrator{
		store:        st,
		dispatcher:   disp,
		artifacts:    artifacts,
		logger:       log.WithFields(zap.String("component", "docgen-orchestrator")),
		docsProject:  strings.ToLower(docsProjectID),
		pollInterval: defaultPollInterval,
	}
}

// SetPollInterval overrides the poll interval.
func (o *Orchestrator) SetPollInterval(d time.Duration) {
	if d > 0 {
		o.pollInterval = d
	}
}

// Generate produces the documentation for one training. It blocks until the
// document is uploaded or the attempt fails; callers run it on a goroutine.
func (o *Orchestrator) Generate(ctx context.Context, trainingID string) error {
	training, err := o.store.GetTraining(ctx, trainingID)
	if err != nil {
		return fmt.Errorf("failed to load training: %w", err)
	}

	now := time.Now().UTC()
	state := store.ProjectMD{
		Status:    store.ProjectMDInProgress,
		StartedAt: &now,
	}

	agent, err := o.ensureDocAgent(ctx, training.ProjectID)
	if err != nil {
		return o.fail(ctx, trainingID, state, fmt.Sprintf("failed to resolve documentation agent: %v", err))
	}
	state.DocumentationAgentID = agent.ID
	state.DocumentationProjectID = o.docsProject
	o.persist(ctx, trainingID, state)

	_, assistant, err := o.dispatcher.CreatePair(ctx, o.docsProject, dispatcher.DispatchRequest{
		ProjectID: o.docsProject,
		AgentID:   agent.ID,
		Content:   docPrompt,
		Metadata: map[string]any{
			"training_id":         trainingID,
			"override_project_id": training.ProjectID,
		},
	})
	if err != nil {
		return o.fail(ctx, trainingID, state, fmt.Sprintf("failed to dispatch documentation task: %v", err))
	}

	body, err := o.await(ctx, assistant.ID)
	if err != nil {
		return o.fail(ctx, trainingID, state, err.Error())
	}

	key := fmt.Sprintf("artifacts/%s/trainings/%s/projectmd.md", training.ProjectID, trainingID)
	url, err := o.artifacts.Put(ctx, key, "text/markdown", []byte(body))
	if err != nil {
		return o.fail(ctx, trainingID, state, fmt.Sprintf("failed to upload projectmd: %v", err))
	}

	done := time.Now().UTC()
	state.Status = store.ProjectMDCompleted
	state.S3URL = url
	state.CompletedAt = &done
	o.persist(ctx, trainingID, state)

	o.logger.Info("Documentation generated",
		zap.String("training_id", trainingID),
		zap.String("project_id", training.ProjectID),
		zap.String("s3_url", url))
	return nil
}

// ensureDocAgent looks up the documentation agent for a project under the
// docs project, creating it on first use.
func (o *Orchestrator) ensureDocAgent(ctx context.Context, projectID string) (*store.Agent, error) {
	name := "docs-" + strings.ToLower(projectID)

	agents, err := o.store.ListAgents(ctx, o.docsProject)
	if err != nil {
		return nil, err
	}
	for _, a := range agents {
		if a.Name == name {
			return a, nil
		}
	}

	agent := &store.Agent{
		ProjectID:    o.docsProject,
		Name:         name,
		Description:  fmt.Sprintf("Documentation agent for project %s", projectID),
		Instructions: docAgentInstructions,
		State:        store.AgentStateEnabled,
		Metadata:     map[string]any{"documents_project_id": projectID},
	}
	if err := o.store.CreateAgent(ctx, agent); err != nil {
		return nil, err
	}
	return agent, nil
}

// await polls the assistant task until it completes or the budget elapses.
func (o *Orchestrator) await(ctx context.Context, taskID string) (string, error) {
	ticker := time.NewTicker(o.pollInterval)
	defer ticker.Stop()

	for iteration := 0; iteration < maxPollIterations; iteration++ {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-ticker.C:
		}

		task, err := o.store.GetTask(ctx, taskID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return "", errors.New("documentation task disappeared")
			}
			o.logger.Warn("Failed to poll documentation task",
				zap.String("task_id", taskID), zap.Error(err))
			continue
		}
		switch task.Status {
		case store.TaskStatusCompleted:
			return task.Content, nil
		case store.TaskStatusFailed:
			return "", fmt.Errorf("documentation task failed: %s", task.Error)
		}
	}
	return "", errors.New("documentation generation timed out")
}

func (o *Orchestrator) persist(ctx context.Context, trainingID string, state store.ProjectMD) {
	if _, err := o.store.UpdateTraining(ctx, trainingID, store.Patch{"projectmd": state}); err != nil {
		o.logger.Warn("Failed to persist projectmd state",
			zap.String("training_id", trainingID), zap.Error(err))
	}
}

func (o *Orchestrator) fail(ctx context.Context, trainingID string, state store.ProjectMD, reason string) error {
	state.Status = store.ProjectMDFailed
	state.ErrorMessage = reason
	o.persist(ctx, trainingID, state)
	return errors.New(reason)
}
