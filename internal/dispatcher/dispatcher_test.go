package dispatcher

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentgrid/agentgrid/internal/common/logger"
	"github.com/agentgrid/agentgrid/internal/events"
	"github.com/agentgrid/agentgrid/internal/events/bus"
	"github.com/agentgrid/agentgrid/internal/store"
)

func newTestLogger(t *testing.T) *logger.Logger {
	log, err := logger.NewLogger(logger.LoggingConfig{Level: "debug", Format: "console", OutputPath: "stdout"})
	require.NoError(t, err)
	return log
}

type fixture struct {
	store   *store.MemoryStore
	bus     *bus.MemoryEventBus
	svc     *Service
	project *store.Project
	agent   *store.Agent
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	log := newTestLogger(t)
	st := store.NewMemoryStore()
	eventBus := bus.NewMemoryEventBus(log)
	t.Cleanup(eventBus.Close)

	project := &store.Project{ID: "proj-1", OrganizationID: "org-1", Name: "Analytics"}
	require.NoError(t, st.CreateProject(context.Background(), project))
	agent := &store.Agent{ID: "agent-1", ProjectID: project.ID, Name: "router", Instructions: "route"}
	require.NoError(t, st.CreateAgent(context.Background(), agent))

	return &fixture{
		store:   st,
		bus:     eventBus,
		svc:     NewService(st, eventBus, log),
		project: project,
		agent:   agent,
	}
}

func TestDispatchCreatesPairAndPublishes(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	var mu sync.Mutex
	var received []*bus.Event
	sub, err := f.bus.Subscribe(events.SubjectAgentTask, func(ctx context.Context, e *bus.Event) error {
		mu.Lock()
		received = append(received, e)
		mu.Unlock()
		return nil
	})
	require.NoError(t, err)
	defer func() { _ = sub.Unsubscribe() }()

	userTask, assistantTask, err := f.svc.Dispatch(ctx, DispatchRequest{
		ProjectID: "PROJ-1",
		AgentID:   "agent-1",
		Content:   "summarize the report",
		Metadata:  map[string]any{"channel": "api"},
	})
	require.NoError(t, err)

	assert.Equal(t, "proj-1", userTask.ProjectID, "project ids are lower-cased")
	assert.Equal(t, store.TaskRoleUser, userTask.Role)
	assert.Equal(t, store.TaskRoleAssistant, assistantTask.Role)
	assert.Equal(t, userTask.ID, assistantTask.RelatedTaskID)
	assert.Equal(t, store.TaskStatusQueued, assistantTask.Status)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, received, 1)
	payload, err := events.DecodePayload[events.TaskDispatch](received[0])
	require.NoError(t, err)
	assert.Equal(t, assistantTask.ID, payload.TaskID)
	assert.Equal(t, userTask.ID, payload.UserTaskID)
	assert.Equal(t, "proj-1", payload.ProjectID)
	assert.Equal(t, "summarize the report", payload.Content)
	assert.Equal(t, "api", payload.Metadata["channel"])
}

func TestDispatchThrottlesActiveAgent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, _, err := f.svc.Dispatch(ctx, DispatchRequest{
		ProjectID: "proj-1", AgentID: "agent-1", Content: "first",
	})
	require.NoError(t, err)

	// The assistant task is still queued, so a second dispatch is rejected.
	_, _, err = f.svc.Dispatch(ctx, DispatchRequest{
		ProjectID: "proj-1", AgentID: "agent-1", Content: "second",
	})
	require.ErrorIs(t, err, ErrThrottled)
}

func TestDispatchAdmitsAfterCompletion(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, assistantTask, err := f.svc.Dispatch(ctx, DispatchRequest{
		ProjectID: "proj-1", AgentID: "agent-1", Content: "first",
	})
	require.NoError(t, err)

	_, applied, err := f.store.UpdateTaskStatus(ctx, assistantTask.ID, store.TaskStatusCompleted, store.Patch{"content": "done"})
	require.NoError(t, err)
	require.True(t, applied)

	_, _, err = f.svc.Dispatch(ctx, DispatchRequest{
		ProjectID: "proj-1", AgentID: "agent-1", Content: "second",
	})
	require.NoError(t, err)
}

func TestDispatchRejectsUnknownTargets(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, _, err := f.svc.Dispatch(ctx, DispatchRequest{ProjectID: "proj-missing", AgentID: "agent-1", Content: "x"})
	require.ErrorIs(t, err, store.ErrNotFound)

	_, _, err = f.svc.Dispatch(ctx, DispatchRequest{ProjectID: "proj-1", AgentID: "agent-missing", Content: "x"})
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestDispatchRejectsDisabledAgent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.store.UpdateAgent(ctx, "agent-1", store.Patch{"state": "disabled"})
	require.NoError(t, err)

	_, _, err = f.svc.Dispatch(ctx, DispatchRequest{ProjectID: "proj-1", AgentID: "agent-1", Content: "x"})
	require.ErrorIs(t, err, ErrAgentDisabled)
}

func TestStartTrainingPublishes(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	var mu sync.Mutex
	var received []*bus.Event
	sub, err := f.bus.Subscribe(events.SubjectTrainingJob, func(ctx context.Context, e *bus.Event) error {
		mu.Lock()
		received = append(received, e)
		mu.Unlock()
		return nil
	})
	require.NoError(t, err)
	defer func() { _ = sub.Unsubscribe() }()

	training, err := f.svc.StartTraining(ctx, "proj-1", []string{"ds-1"})
	require.NoError(t, err)
	assert.Equal(t, store.TrainingStatusQueued, training.Status)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, received, 1)
	payload, err := events.DecodePayload[events.TrainingDispatch](received[0])
	require.NoError(t, err)
	assert.Equal(t, training.ID, payload.TrainingID)
	assert.Equal(t, "Analytics", payload.ProjectName)
	assert.Equal(t, []string{"ds-1"}, payload.DataSourceIDs)
}

func TestSweepQueuedRepublishesStaleTasks(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, assistantTask, err := f.svc.Dispatch(ctx, DispatchRequest{
		ProjectID: "proj-1", AgentID: "agent-1", Content: "lost dispatch",
	})
	require.NoError(t, err)

	var mu sync.Mutex
	var received []*bus.Event
	sub, err := f.bus.Subscribe(events.SubjectAgentTask, func(ctx context.Context, e *bus.Event) error {
		mu.Lock()
		received = append(received, e)
		mu.Unlock()
		return nil
	})
	require.NoError(t, err)
	defer func() { _ = sub.Unsubscribe() }()

	// Fresh queued tasks stay put.
	n, err := f.svc.SweepQueued(ctx, "proj-1", time.Minute)
	require.NoError(t, err)
	assert.Zero(t, n)

	// With no age floor the queued assistant task is republished.
	n, err = f.svc.SweepQueued(ctx, "Proj-1", 0)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, received, 1)
	payload, err := events.DecodePayload[events.TaskDispatch](received[0])
	require.NoError(t, err)
	assert.Equal(t, assistantTask.ID, payload.TaskID)
	assert.Equal(t, "lost dispatch", payload.Content)
}
