package store

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *MemoryStore {
	t.Helper()
	s := NewMemoryStore()
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestCreateProjectDuplicateName(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.CreateProject(ctx, &Project{OrganizationID: "org-1", Name: "Analytics"}))

	err := s.CreateProject(ctx, &Project{OrganizationID: "org-1", Name: "analytics"})
	require.ErrorIs(t, err, ErrConflict)

	// Same name in a different organization is allowed.
	require.NoError(t, s.CreateProject(ctx, &Project{OrganizationID: "org-2", Name: "Analytics"}))
}

func TestUpdateProjectPartialMerge(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	p := &Project{OrganizationID: "org-1", Name: "Analytics", Members: []string{"alice"}}
	require.NoError(t, s.CreateProject(ctx, p))
	created := p.UpdatedAt

	updated, err := s.UpdateProject(ctx, p.ID, Patch{"name": "Analytics v2"})
	require.NoError(t, err)
	assert.Equal(t, "Analytics v2", updated.Name)
	assert.Equal(t, []string{"alice"}, updated.Members, "untouched fields survive a patch")
	assert.False(t, updated.UpdatedAt.Before(created))
}

func TestUpdateAgentSnapshotsVersions(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	a := &Agent{ProjectID: "proj-1", Name: "router", Instructions: "v0 instructions"}
	require.NoError(t, s.CreateAgent(ctx, a))

	updated, err := s.UpdateAgent(ctx, a.ID, Patch{
		"instructions": "v1 instructions",
		"updated_by":   "alice",
	})
	require.NoError(t, err)
	assert.Equal(t, "v1 instructions", updated.Instructions)
	require.Len(t, updated.Versions, 1)
	assert.Equal(t, "v0 instructions", updated.Versions[0].Instructions)
	assert.Equal(t, "alice", updated.Versions[0].UpdatedBy)

	// A patch touching neither instructions nor output_format adds no version.
	updated, err = s.UpdateAgent(ctx, a.ID, Patch{"description": "routes things"})
	require.NoError(t, err)
	assert.Len(t, updated.Versions, 1)
}

func TestUpdateAgentVersionCap(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	a := &Agent{ProjectID: "proj-1", Name: "router", Instructions: "rev 0"}
	require.NoError(t, s.CreateAgent(ctx, a))

	var updated *Agent
	var err error
	for i := 1; i <= MaxAgentVersions+5; i++ {
		updated, err = s.UpdateAgent(ctx, a.ID, Patch{"instructions": fmt.Sprintf("rev %d", i)})
		require.NoError(t, err)
	}
	require.Len(t, updated.Versions, MaxAgentVersions)
	// Newest snapshot first.
	assert.Equal(t, fmt.Sprintf("rev %d", MaxAgentVersions+4), updated.Versions[0].Instructions)
}

func TestCreateAgentInstructionsTooLong(t *testing.T) {
	s := newTestStore(t)

	long := make([]byte, MaxInstructionsLen+1)
	for i := range long {
		long[i] = 'x'
	}
	err := s.CreateAgent(context.Background(), &Agent{ProjectID: "proj-1", Name: "big", Instructions: string(long)})
	require.ErrorIs(t, err, ErrValidation)
}

func TestUpdateTaskStatusMonotonic(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	task := &Task{ProjectID: "proj-1", AgentID: "agent-1", Role: TaskRoleAssistant, Status: TaskStatusQueued}
	require.NoError(t, s.CreateTask(ctx, task))

	got, applied, err := s.UpdateTaskStatus(ctx, task.ID, TaskStatusProcessing, nil)
	require.NoError(t, err)
	require.True(t, applied)
	assert.Equal(t, TaskStatusProcessing, got.Status)

	got, applied, err = s.UpdateTaskStatus(ctx, task.ID, TaskStatusCompleted, Patch{"content": "answer"})
	require.NoError(t, err)
	require.True(t, applied)
	assert.Equal(t, TaskStatusCompleted, got.Status)
	assert.Equal(t, "answer", got.Content)

	// A late failure report must not clobber the terminal state.
	got, applied, err = s.UpdateTaskStatus(ctx, task.ID, TaskStatusFailed, Patch{"error": "timeout"})
	require.NoError(t, err)
	assert.False(t, applied)
	assert.Equal(t, TaskStatusCompleted, got.Status)
	assert.Empty(t, got.Error)

	// Neither may a stale processing update.
	got, applied, err = s.UpdateTaskStatus(ctx, task.ID, TaskStatusProcessing, nil)
	require.NoError(t, err)
	assert.False(t, applied)
	assert.Equal(t, TaskStatusCompleted, got.Status)
}

func TestCountTasksActiveFilter(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	mk := func(agentID string, role TaskRole, status TaskStatus) {
		require.NoError(t, s.CreateTask(ctx, &Task{
			ProjectID: "proj-1", AgentID: agentID, Role: role, Status: status,
		}))
	}
	mk("agent-1", TaskRoleAssistant, TaskStatusQueued)
	mk("agent-1", TaskRoleAssistant, TaskStatusProcessing)
	mk("agent-1", TaskRoleAssistant, TaskStatusCompleted)
	mk("agent-1", TaskRoleUser, TaskStatusQueued)
	mk("agent-2", TaskRoleAssistant, TaskStatusQueued)

	count, err := s.CountTasks(ctx, TaskFilter{
		ProjectID: "proj-1",
		AgentID:   "agent-1",
		Role:      TaskRoleAssistant,
		Statuses:  []TaskStatus{TaskStatusQueued, TaskStatusProcessing},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

func TestFindTasksOrderedByCreation(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.NoError(t, s.CreateTask(ctx, &Task{
			ProjectID: "proj-1", AgentID: "agent-1", Role: TaskRoleAssistant,
			Content: fmt.Sprintf("task %d", i),
		}))
		time.Sleep(time.Millisecond)
	}

	tasks, err := s.FindTasks(ctx, TaskFilter{ProjectID: "proj-1"})
	require.NoError(t, err)
	require.Len(t, tasks, 3)
	assert.Equal(t, "task 0", tasks[0].Content)
	assert.Equal(t, "task 2", tasks[2].Content)
}

func TestAppendConversationMessage(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	c := &Conversation{ProjectID: "proj-1", AgentID: "agent-1"}
	require.NoError(t, s.CreateConversation(ctx, c))

	m1 := &Message{EventType: "message_chunk", Content: "hello"}
	require.NoError(t, s.AppendConversationMessage(ctx, c.ID, m1))
	m2 := &Message{EventType: "result", Content: "done"}
	require.NoError(t, s.AppendConversationMessage(ctx, c.ID, m2))

	got, err := s.GetConversation(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{m1.ID, m2.ID}, got.MessageIDs)

	msgs, err := s.ListMessages(ctx, c.ID)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, c.ID, msgs[0].ConversationID)

	// Deleting the conversation removes its messages.
	require.NoError(t, s.DeleteConversation(ctx, c.ID))
	_, err = s.ListMessages(ctx, c.ID)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestLatestTraining(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.LatestTraining(ctx, "proj-1")
	require.ErrorIs(t, err, ErrNotFound)

	first := &Training{ProjectID: "proj-1"}
	require.NoError(t, s.CreateTraining(ctx, first))
	time.Sleep(time.Millisecond)
	second := &Training{ProjectID: "proj-1"}
	require.NoError(t, s.CreateTraining(ctx, second))

	latest, err := s.LatestTraining(ctx, "proj-1")
	require.NoError(t, err)
	assert.Equal(t, second.ID, latest.ID)
}

func TestGetGatewayByAPIKey(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	g := &Gateway{ProjectID: "proj-1", Name: "main"}
	require.NoError(t, s.CreateGateway(ctx, g))
	require.NotEmpty(t, g.APIKey)

	got, err := s.GetGatewayByAPIKey(ctx, g.APIKey)
	require.NoError(t, err)
	assert.Equal(t, g.ID, got.ID)

	_, err = s.GetGatewayByAPIKey(ctx, "no-such-key")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestPatchMutationDoesNotLeakIntoStore(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	task := &Task{ProjectID: "proj-1", AgentID: "agent-1", Role: TaskRoleAssistant,
		Metadata: map[string]any{"source": "dispatch"}}
	require.NoError(t, s.CreateTask(ctx, task))

	got, err := s.GetTask(ctx, task.ID)
	require.NoError(t, err)
	got.Metadata["source"] = "mutated"

	fresh, err := s.GetTask(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, "dispatch", fresh.Metadata["source"])
}
