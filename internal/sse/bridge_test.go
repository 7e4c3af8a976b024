package sse

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentgrid/agentgrid/internal/artifact"
	"github.com/agentgrid/agentgrid/internal/cache"
	"github.com/agentgrid/agentgrid/internal/common/config"
	"github.com/agentgrid/agentgrid/internal/common/logger"
	"github.com/agentgrid/agentgrid/internal/llm"
	"github.com/agentgrid/agentgrid/internal/runner"
	"github.com/agentgrid/agentgrid/internal/store"
	"github.com/agentgrid/agentgrid/internal/workspace"
	v1 "github.com/agentgrid/agentgrid/pkg/api/v1"
)

func newTestLogger(t *testing.T) *logger.Logger {
	log, err := logger.NewLogger(logger.LoggingConfig{Level: "debug", Format: "console", OutputPath: "stdout"})
	require.NoError(t, err)
	return log
}

type bridgeFixture struct {
	store  *store.MemoryStore
	runner *runner.Service
	bridge *Bridge
	server *httptest.Server
}

func newBridgeFixture(t *testing.T, scripts ...llm.Script) *bridgeFixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	st := store.NewMemoryStore()
	sessionCache := cache.NewMemoryCache()
	artifacts := artifact.NewMemoryStore("artifacts")
	fake := llm.NewFakeClient(scripts...)
	manager := workspace.NewManager(config.WorkspaceConfig{BasePath: t.TempDir(), SandboxEnabled: true})
	log := newTestLogger(t)

	svc := runner.NewService(st, sessionCache, artifacts, fake, manager,
		config.LLMConfig{DefaultModel: "claude-sonnet-4-20250514"}, time.Hour, log)
	svc.SetPollInterval(10 * time.Millisecond)

	bridge := NewBridge(st, svc, log)
	router := gin.New()
	bridge.RegisterRoutes(router)

	server := httptest.NewServer(router)
	t.Cleanup(server.Close)

	ctx := context.Background()
	require.NoError(t, st.CreateProject(ctx, &store.Project{ID: "proj-1", OrganizationID: "org-1", Name: "Analytics"}))
	require.NoError(t, st.CreateAgent(ctx, &store.Agent{ID: "agent-1", ProjectID: "proj-1",
		Name: "router", Instructions: "You route things."}))

	return &bridgeFixture{store: st, runner: svc, bridge: bridge, server: server}
}

func (f *bridgeFixture) send(t *testing.T, conversationID string, req v1.SendMessageRequest) *http.Response {
	t.Helper()
	body, err := json.Marshal(req)
	require.NoError(t, err)
	resp, err := http.Post(
		f.server.URL+"/api/v1/conversations/"+conversationID+"/messages",
		"application/json", bytes.NewReader(body))
	require.NoError(t, err)
	return resp
}

// readEnvelopes drains an SSE body into its decoded envelopes.
func readEnvelopes(t *testing.T, resp *http.Response) []v1.StreamEvent {
	t.Helper()
	defer resp.Body.Close()

	var envelopes []v1.StreamEvent
	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		var env v1.StreamEvent
		require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &env))
		envelopes = append(envelopes, env)
	}
	require.NoError(t, scanner.Err())
	return envelopes
}

func TestSendMessageStreamsAndCompletes(t *testing.T) {
	f := newBridgeFixture(t, llm.Script{
		Chunks:    []string{"hi ", "there"},
		ToolCalls: []llm.FakeToolCall{{Name: "lookup", Input: map[string]any{"q": "x"}}},
		Result:    "hi there",
		SessionID: "sess-9",
	})

	resp := f.send(t, "conv-1", v1.SendMessageRequest{
		ProjectID: "Proj-1", // normalised to lower case
		AgentID:   "agent-1",
		MessageID: "msg-1",
		Content:   "hello",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	envelopes := readEnvelopes(t, resp)
	require.NotEmpty(t, envelopes)

	var types []string
	for _, env := range envelopes {
		types = append(types, env.Type)
		assert.Equal(t, "conv-1", env.ConversationID)
		assert.Equal(t, "msg-1", env.MessageID)
	}
	assert.Equal(t, []string{
		v1.StreamEventMessageChunk, v1.StreamEventMessageChunk,
		v1.StreamEventToolUse, v1.StreamEventToolResult,
		v1.StreamEventResult,
	}, types)

	last := envelopes[len(envelopes)-1]
	assert.Equal(t, "hi there", last.Content)
	assert.Equal(t, "sess-9", last.SessionID)

	ctx := context.Background()

	// The conversation was created on the fly and carries the session.
	conv, err := f.store.GetConversation(ctx, "conv-1")
	require.NoError(t, err)
	assert.Equal(t, "proj-1", conv.ProjectID)
	assert.Equal(t, "sess-9", conv.SessionID)

	// User row plus the replayable event rows, no per-chunk rows.
	messages, err := f.store.ListMessages(ctx, "conv-1")
	require.NoError(t, err)
	var rowTypes []string
	for _, m := range messages {
		rowTypes = append(rowTypes, m.EventType)
	}
	assert.ElementsMatch(t, []string{"user", "tool_use", "tool_result", "result"}, rowTypes)

	// The backing task completed with the final answer.
	tasks, err := f.store.FindTasks(ctx, store.TaskFilter{ProjectID: "proj-1"})
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, store.TaskStatusCompleted, tasks[0].Status)
	assert.Equal(t, "hi there", tasks[0].Content)

	// The next message in this conversation resumes the cached session.
	cached, err := f.runner.SessionFor(ctx, "conv-1")
	require.NoError(t, err)
	assert.Equal(t, "sess-9", cached)

	assert.False(t, f.bridge.Registry().Active("conv-1"), "registry emptied after stream end")
}

func TestSendMessageValidation(t *testing.T) {
	f := newBridgeFixture(t)

	resp := f.send(t, "conv-1", v1.SendMessageRequest{ProjectID: "proj-1", MessageID: "m", Content: "x"})
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode, "agent_id missing everywhere")

	resp = f.send(t, "conv-2", v1.SendMessageRequest{
		ProjectID: "proj-1", AgentID: "missing", MessageID: "m", Content: "x"})
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestSendMessageRejectsDisabledAgent(t *testing.T) {
	f := newBridgeFixture(t)
	require.NoError(t, f.store.CreateAgent(context.Background(), &store.Agent{
		ID: "agent-off", ProjectID: "proj-1", Name: "off",
		Instructions: "x", State: store.AgentStateDisabled}))

	resp := f.send(t, "conv-1", v1.SendMessageRequest{
		ProjectID: "proj-1", AgentID: "agent-off", MessageID: "m", Content: "x"})
	defer resp.Body.Close()
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestInterruptStopsStream(t *testing.T) {
	f := newBridgeFixture(t, llm.Script{Chunks: []string{"partial "}, Block: true})

	type streamResult struct {
		envelopes []v1.StreamEvent
	}
	done := make(chan streamResult, 1)
	go func() {
		resp := f.send(t, "conv-int", v1.SendMessageRequest{
			ProjectID: "proj-1", AgentID: "agent-1", MessageID: "msg-1", Content: "slow"})
		done <- streamResult{envelopes: readEnvelopes(t, resp)}
	}()

	// Wait for the run to register, then interrupt it.
	require.Eventually(t, func() bool {
		return f.bridge.Registry().Active("conv-int")
	}, 2*time.Second, 10*time.Millisecond)

	body := bytes.NewReader([]byte(`{"message_id":"msg-1"}`))
	resp, err := http.Post(f.server.URL+"/api/v1/conversations/conv-int/interrupt",
		"application/json", body)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var ack v1.InterruptResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&ack))
	assert.Equal(t, 1, ack.Interrupted)

	select {
	case result := <-done:
		require.NotEmpty(t, result.envelopes)
		last := result.envelopes[len(result.envelopes)-1]
		assert.Equal(t, v1.StreamEventError, last.Type)
		assert.Equal(t, runner.CancelledSentinel, last.Content)
	case <-time.After(3 * time.Second):
		t.Fatal("stream did not terminate after interrupt")
	}

	tasks, err := f.store.FindTasks(context.Background(), store.TaskFilter{ProjectID: "proj-1"})
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, store.TaskStatusFailed, tasks[0].Status)
	assert.Equal(t, runner.CancelledSentinel, tasks[0].Content)
}

func TestDropSessionCancelsAndClears(t *testing.T) {
	f := newBridgeFixture(t, llm.Script{Block: true})
	ctx := context.Background()

	require.NoError(t, f.store.CreateConversation(ctx, &store.Conversation{
		ID: "conv-drop", ProjectID: "proj-1", AgentID: "agent-1", SessionID: "sess-old"}))

	done := make(chan []v1.StreamEvent, 1)
	go func() {
		resp := f.send(t, "conv-drop", v1.SendMessageRequest{
			ProjectID: "proj-1", MessageID: "msg-1", Content: "slow"})
		done <- readEnvelopes(t, resp)
	}()
	require.Eventually(t, func() bool {
		return f.bridge.Registry().Active("conv-drop")
	}, 2*time.Second, 10*time.Millisecond)

	req, err := http.NewRequest(http.MethodDelete,
		f.server.URL+"/api/v1/conversations/conv-drop/session", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("stream did not terminate after session drop")
	}

	conv, err := f.store.GetConversation(ctx, "conv-drop")
	require.NoError(t, err)
	assert.Empty(t, conv.SessionID)
}

func TestRegistryIndexes(t *testing.T) {
	r := NewRegistry()
	r.Register("c1", "m1", "t1")
	r.Register("c1", "m2", "t2")
	r.Register("c2", "m1", "t3")

	taskID, ok := r.Lookup("c1", "m2")
	require.True(t, ok)
	assert.Equal(t, "t2", taskID)

	assert.ElementsMatch(t, []string{"t1", "t2"}, r.TasksFor("c1"))
	assert.True(t, r.Active("c2"))

	r.Unregister("c1", "m1")
	r.Unregister("c1", "m2")
	assert.False(t, r.Active("c1"))
	assert.Empty(t, r.TasksFor("c1"))

	_, ok = r.Lookup("c1", "m1")
	assert.False(t, ok)
}
