package cleanup

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentgrid/agentgrid/internal/artifact"
	"github.com/agentgrid/agentgrid/internal/common/logger"
	"github.com/agentgrid/agentgrid/internal/store"
)

func newTestLogger(t *testing.T) *logger.Logger {
	log, err := logger.NewLogger(logger.LoggingConfig{Level: "debug", Format: "console", OutputPath: "stdout"})
	require.NoError(t, err)
	return log
}

func seedProject(t *testing.T, st *store.MemoryStore, artifacts *artifact.MemoryStore, projectID string) {
	t.Helper()
	ctx := context.Background()

	require.NoError(t, st.CreateProject(ctx, &store.Project{ID: projectID, OrganizationID: "org-1", Name: "p-" + projectID}))
	require.NoError(t, st.CreateAgent(ctx, &store.Agent{ID: projectID + "-agent", ProjectID: projectID, Name: "a", Instructions: "x"}))
	require.NoError(t, st.CreateGateway(ctx, &store.Gateway{ID: projectID + "-gw", ProjectID: projectID, Name: "gw", APIKey: projectID + "-key"}))
	require.NoError(t, st.CreateTool(ctx, &store.Tool{ID: projectID + "-tool", GatewayID: projectID + "-gw", AgentID: projectID + "-agent", ToolName: "t"}))
	require.NoError(t, st.CreateTask(ctx, &store.Task{ID: projectID + "-task", ProjectID: projectID, AgentID: projectID + "-agent",
		Role: store.TaskRoleUser, Status: store.TaskStatusCompleted}))
	require.NoError(t, st.CreateConversation(ctx, &store.Conversation{ID: projectID + "-conv", ProjectID: projectID}))
	require.NoError(t, st.AppendConversationMessage(ctx, projectID+"-conv", &store.Message{EventType: "user", Content: "hi"}))
	require.NoError(t, st.CreateEvaluation(ctx, &store.Evaluation{ID: projectID + "-eval", ProjectID: projectID, TargetAgentID: projectID + "-agent"}))
	require.NoError(t, st.CreateEvaluationRun(ctx, &store.EvaluationRun{ID: projectID + "-run", EvaluationID: projectID + "-eval",
		ProjectID: projectID, Status: store.EvaluationRunCompleted}))
	require.NoError(t, st.CreateTraining(ctx, &store.Training{ID: projectID + "-train", ProjectID: projectID, Status: store.TrainingStatusCompleted}))
	require.NoError(t, st.CreateFolderUpload(ctx, &store.FolderUpload{ID: projectID + "-up", ProjectID: projectID}))
	require.NoError(t, st.CreateProviderCredential(ctx, &store.ProviderCredential{ID: projectID + "-cred", ProjectID: projectID,
		ProviderType: "looker"}))

	_, err := artifacts.Put(ctx, "audit/"+projectID+"/agent/task.json", "application/json", []byte("{}"))
	require.NoError(t, err)
	_, err = artifacts.Put(ctx, "artifacts/"+projectID+"/trainings/t/projectmd.md", "text/markdown", []byte("# doc"))
	require.NoError(t, err)
}

func TestPurgeDeletesEverything(t *testing.T) {
	st := store.NewMemoryStore()
	artifacts := artifact.NewMemoryStore("artifacts")
	seedProject(t, st, artifacts, "proj-1")
	seedProject(t, st, artifacts, "proj-2")

	svc := NewService(st, artifacts, newTestLogger(t))
	report := svc.Purge(context.Background(), "Proj-1")

	assert.Equal(t, "proj-1", report.ProjectID)
	assert.Equal(t, StatusCompleted, report.Status)
	assert.Empty(t, report.Errors)
	for _, step := range []string{"tools", "gateways", "tasks", "conversations",
		"evaluation_runs", "evaluations", "trainings", "folder_uploads", "credentials", "agents"} {
		assert.Equal(t, 1, report.Deleted[step], step)
	}

	assert.Equal(t, 1, report.Deleted["project"])
	assert.Equal(t, 2, report.Deleted["objects"])

	ctx := context.Background()
	_, err := st.GetProject(ctx, "proj-1")
	assert.ErrorIs(t, err, store.ErrNotFound)
	_, err = st.GetAgent(ctx, "proj-1-agent")
	assert.ErrorIs(t, err, store.ErrNotFound)
	_, err = st.GetTool(ctx, "proj-1-tool")
	assert.ErrorIs(t, err, store.ErrNotFound)
	_, err = st.GetConversation(ctx, "proj-1-conv")
	assert.ErrorIs(t, err, store.ErrNotFound)

	_, err = artifacts.Get(ctx, "audit/proj-1/agent/task.json")
	assert.Error(t, err)
	_, err = artifacts.Get(ctx, "artifacts/proj-1/trainings/t/projectmd.md")
	assert.Error(t, err)

	// The neighbouring project is untouched.
	_, err = st.GetAgent(ctx, "proj-2-agent")
	assert.NoError(t, err)
	_, err = artifacts.Get(ctx, "audit/proj-2/agent/task.json")
	assert.NoError(t, err)
}

func TestPurgeEmptyProjectCompletes(t *testing.T) {
	st := store.NewMemoryStore()
	artifacts := artifact.NewMemoryStore("artifacts")

	svc := NewService(st, artifacts, newTestLogger(t))
	report := svc.Purge(context.Background(), "ghost")

	assert.Equal(t, StatusCompleted, report.Status)
	assert.Empty(t, report.Errors)
	for _, count := range report.Deleted {
		assert.Zero(t, count)
	}
}
