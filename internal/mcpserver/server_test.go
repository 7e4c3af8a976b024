package mcpserver

import (
	"context"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentgrid/agentgrid/internal/common/logger"
	"github.com/agentgrid/agentgrid/internal/dispatcher"
	"github.com/agentgrid/agentgrid/internal/events"
	"github.com/agentgrid/agentgrid/internal/events/bus"
	"github.com/agentgrid/agentgrid/internal/store"
)

type gatewayFixture struct {
	store   *store.MemoryStore
	server  *Server
	gateway *store.Gateway
	tool    *store.Tool
}

// respond answers dispatched tasks in place of a real runner.
func newGatewayFixture(t *testing.T, respond func(content string) (string, bool)) *gatewayFixture {
	t.Helper()
	log, err := logger.NewLogger(logger.LoggingConfig{Level: "debug", Format: "console", OutputPath: "stdout"})
	require.NoError(t, err)

	st := store.NewMemoryStore()
	eventBus := bus.NewMemoryEventBus(log)
	t.Cleanup(eventBus.Close)
	disp := dispatcher.NewService(st, eventBus, log)

	srv := New(Config{CallTimeout: 2 * time.Second}, st, disp, log)
	srv.SetPollInterval(time.Millisecond)

	ctx := context.Background()
	require.NoError(t, st.CreateProject(ctx, &store.Project{ID: "proj-1", OrganizationID: "org-1", Name: "Analytics"}))
	require.NoError(t, st.CreateAgent(ctx, &store.Agent{ID: "agent-1", ProjectID: "proj-1", Name: "summarizer", Instructions: "x"}))

	gw := &store.Gateway{ID: "gw-1", ProjectID: "proj-1", Name: "main", APIKey: "key-1"}
	require.NoError(t, st.CreateGateway(ctx, gw))
	tool := &store.Tool{
		ID: "tool-1", GatewayID: "gw-1", AgentID: "agent-1",
		ToolName:    "summarize",
		Description: "Summarize a document",
		InputSchema: map[string]any{
			"type":       "object",
			"properties": map[string]any{"query": map[string]any{"type": "string"}},
		},
		Status:  store.ToolStatusReady,
		Enabled: true,
	}
	require.NoError(t, st.CreateTool(ctx, tool))

	_, err = eventBus.QueueSubscribe(events.SubjectAgentTask, events.QueueRunners,
		func(hctx context.Context, event *bus.Event) error {
			payload, derr := events.DecodePayload[events.TaskDispatch](event)
			if derr != nil {
				return derr
			}
			userTask, gerr := st.GetTask(hctx, payload.UserTaskID)
			if gerr != nil {
				return gerr
			}
			answer, fail := respond(userTask.Content)
			if fail {
				_, _, uerr := st.UpdateTaskStatus(hctx, payload.TaskID, store.TaskStatusFailed,
					store.Patch{"content": answer})
				return uerr
			}
			_, _, uerr := st.UpdateTaskStatus(hctx, payload.TaskID, store.TaskStatusCompleted,
				store.Patch{"content": answer})
			return uerr
		})
	require.NoError(t, err)

	return &gatewayFixture{store: st, server: srv, gateway: gw, tool: tool}
}

func callRequest(args map[string]any) mcp.CallToolRequest {
	req := mcp.CallToolRequest{}
	req.Params.Name = "summarize"
	req.Params.Arguments = args
	return req
}

func textContent(t *testing.T, res *mcp.CallToolResult) string {
	t.Helper()
	require.NotEmpty(t, res.Content)
	text, ok := mcp.AsTextContent(res.Content[0])
	require.True(t, ok)
	return text.Text
}

func TestToolCallCompletes(t *testing.T) {
	f := newGatewayFixture(t, func(content string) (string, bool) {
		assert.Equal(t, "shorten this", content)
		return "A summary.", false
	})

	handler := f.server.toolHandler(f.gateway, f.tool)
	res, err := handler(context.Background(), callRequest(map[string]any{"query": "shorten this"}))
	require.NoError(t, err)

	assert.False(t, res.IsError)
	assert.Equal(t, "A summary.", textContent(t, res))

	tasks, err := f.store.FindTasks(context.Background(), store.TaskFilter{
		ProjectID: "proj-1", Role: store.TaskRoleAssistant,
	})
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, "gw-1", tasks[0].Metadata["gateway_id"])
	assert.Equal(t, "tool-1", tasks[0].Metadata["tool_id"])
}

func TestToolCallEncodesStructuredArguments(t *testing.T) {
	var got string
	f := newGatewayFixture(t, func(content string) (string, bool) {
		got = content
		return "ok", false
	})

	handler := f.server.toolHandler(f.gateway, f.tool)
	_, err := handler(context.Background(), callRequest(map[string]any{"table": "orders", "limit": 5}))
	require.NoError(t, err)

	assert.JSONEq(t, `{"table":"orders","limit":5}`, got)
}

func TestToolCallSurfacesTaskFailure(t *testing.T) {
	f := newGatewayFixture(t, func(string) (string, bool) {
		return "model exploded", true
	})

	handler := f.server.toolHandler(f.gateway, f.tool)
	res, err := handler(context.Background(), callRequest(map[string]any{"query": "x"}))
	require.NoError(t, err)

	assert.True(t, res.IsError)
	assert.Contains(t, textContent(t, res), "model exploded")
}

func TestToolCallRejectedWhileAgentBusy(t *testing.T) {
	f := newGatewayFixture(t, func(string) (string, bool) { return "ok", false })
	ctx := context.Background()

	// A queued assistant task trips the admission gate.
	require.NoError(t, f.store.CreateTask(ctx, &store.Task{
		ID: "busy", ProjectID: "proj-1", AgentID: "agent-1",
		Role: store.TaskRoleAssistant, Status: store.TaskStatusQueued,
	}))

	handler := f.server.toolHandler(f.gateway, f.tool)
	res, err := handler(ctx, callRequest(map[string]any{"query": "x"}))
	require.NoError(t, err)

	assert.True(t, res.IsError)
	assert.Contains(t, textContent(t, res), "active task")
}

func TestBuildGatewayServerSkipsUnreadyTools(t *testing.T) {
	f := newGatewayFixture(t, func(string) (string, bool) { return "ok", false })
	ctx := context.Background()

	require.NoError(t, f.store.CreateTool(ctx, &store.Tool{
		ID: "tool-2", GatewayID: "gw-1", AgentID: "agent-1",
		ToolName: "pending", Status: store.ToolStatusGenerating,
	}))
	require.NoError(t, f.store.CreateTool(ctx, &store.Tool{
		ID: "tool-3", GatewayID: "gw-1", AgentID: "agent-1",
		ToolName: "disabled", Status: store.ToolStatusReady, Enabled: false,
	}))

	_, count, err := f.server.buildGatewayServer(ctx, f.gateway)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestInvalidateDropsCachedGateway(t *testing.T) {
	f := newGatewayFixture(t, func(string) (string, bool) { return "ok", false })
	ctx := context.Background()

	_, err := f.server.entryFor(ctx, f.gateway)
	require.NoError(t, err)
	f.server.mu.Lock()
	_, cached := f.server.gateways["gw-1"]
	f.server.mu.Unlock()
	assert.True(t, cached)

	f.server.Invalidate("gw-1")
	f.server.mu.Lock()
	_, cached = f.server.gateways["gw-1"]
	f.server.mu.Unlock()
	assert.False(t, cached)
}
