package toolmeta

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentgrid/agentgrid/internal/common/config"
	"github.com/agentgrid/agentgrid/internal/common/logger"
	"github.com/agentgrid/agentgrid/internal/dispatcher"
	"github.com/agentgrid/agentgrid/internal/events"
	"github.com/agentgrid/agentgrid/internal/events/bus"
	"github.com/agentgrid/agentgrid/internal/store"
)

func newTestLogger(t *testing.T) *logger.Logger {
	log, err := logger.NewLogger(logger.LoggingConfig{Level: "debug", Format: "console", OutputPath: "stdout"})
	require.NoError(t, err)
	return log
}

type toolmetaFixture struct {
	store *store.MemoryStore
	orch  *Orchestrator
}

func newToolmetaFixture(t *testing.T, respond func(prompt string) (string, bool)) *toolmetaFixture {
	t.Helper()
	st := store.NewMemoryStore()
	log := newTestLogger(t)
	eventBus := bus.NewMemoryEventBus(log)
	t.Cleanup(eventBus.Close)

	disp := dispatcher.NewService(st, eventBus, log)
	orch := New(st, disp, config.MCPConfig{
		MetadataAgentID:      "meta-agent",
		MetadataAgentProject: "system",
	}, log)
	orch.SetPollInterval(time.Millisecond)

	ctx := context.Background()
	require.NoError(t, st.CreateProject(ctx, &store.Project{ID: "proj-1", OrganizationID: "org-1", Name: "Analytics"}))
	require.NoError(t, st.CreateProject(ctx, &store.Project{ID: "system", OrganizationID: "org-1", Name: "System"}))
	require.NoError(t, st.CreateAgent(ctx, &store.Agent{ID: "meta-agent", ProjectID: "system",
		Name: "metadata", Instructions: "x"}))
	require.NoError(t, st.CreateAgent(ctx, &store.Agent{ID: "source", ProjectID: "proj-1",
		Name: "router", Description: "routes questions", Instructions: "You route things.",
		Capabilities: []string{"sql"}, OutputFormat: "One sentence."}))
	require.NoError(t, st.CreateGateway(ctx, &store.Gateway{ID: "gw-1", ProjectID: "proj-1",
		Name: "main", APIKey: "key-1"}))
	require.NoError(t, st.CreateTool(ctx, &store.Tool{ID: "tool-1", GatewayID: "gw-1",
		AgentID: "source", ToolName: "route_question"}))

	_, err := eventBus.QueueSubscribe(events.SubjectAgentTask, events.QueueRunners,
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
				_, _, uerr := st.UpdateTaskStatus(hctx, payload.TaskID, store.TaskStatusFailed, store.Patch{"error": answer})
				return uerr
			}
			_, _, uerr := st.UpdateTaskStatus(hctx, payload.TaskID, store.TaskStatusCompleted, store.Patch{"content": answer})
			return uerr
		})
	require.NoError(t, err)
	return &toolmetaFixture{store: st, orch: orch}
}

const goodEnvelope = "Here is the definition:\n```json\n" +
	`{"tool_name": "route_question", "description": "Routes a question", ` +
	`"input_schema": {"type": "object", "properties": {"question": {"type": "string"}}}, ` +
	`"output_format": "One sentence."}` + "\n```"

func TestSynthesizeReadiesToolAndLinksAgent(t *testing.T) {
	f := newToolmetaFixture(t, func(prompt string) (string, bool) {
		assert.Contains(t, prompt, "Agent name: router")
		assert.Contains(t, prompt, "Desired tool name: route_question")
		return goodEnvelope, false
	})
	ctx := context.Background()

	require.NoError(t, f.orch.Synthesize(ctx, "tool-1"))

	tool, err := f.store.GetTool(ctx, "tool-1")
	require.NoError(t, err)
	assert.Equal(t, store.ToolStatusReady, tool.Status)
	assert.True(t, tool.Enabled)
	assert.Equal(t, "route_question", tool.ToolName)
	assert.Equal(t, "Routes a question", tool.Description)
	require.NotNil(t, tool.InputSchema)
	assert.Equal(t, "object", tool.InputSchema["type"])

	agent, err := f.store.GetAgent(ctx, "source")
	require.NoError(t, err)
	gateways, ok := agent.Metadata["mcp_gateways"].([]any)
	require.True(t, ok)
	require.Len(t, gateways, 1)
	entry := gateways[0].(map[string]any)
	assert.Equal(t, "gw-1", entry["gateway_id"])
	assert.Equal(t, "tool-1", entry["tool_id"])
	assert.NotEmpty(t, entry["enabled_at"])

	// A second synthesis does not duplicate the link.
	require.NoError(t, f.orch.Synthesize(ctx, "tool-1"))
	agent, err = f.store.GetAgent(ctx, "source")
	require.NoError(t, err)
	gateways, _ = agent.Metadata["mcp_gateways"].([]any)
	assert.Len(t, gateways, 1)
}

func TestSynthesizeFailsOnMissingKeys(t *testing.T) {
	f := newToolmetaFixture(t, func(string) (string, bool) {
		return "```json\n{\"tool_name\": \"x\", \"description\": \"y\"}\n```", false
	})

	err := f.orch.Synthesize(context.Background(), "tool-1")
	require.Error(t, err)

	tool, gerr := f.store.GetTool(context.Background(), "tool-1")
	require.NoError(t, gerr)
	assert.Equal(t, store.ToolStatusFailed, tool.Status)
	assert.False(t, tool.Enabled)
	assert.Contains(t, tool.Metadata["error_message"], "missing required key")
}

func TestSynthesizeFailsOnTaskFailure(t *testing.T) {
	f := newToolmetaFixture(t, func(string) (string, bool) { return "boom", true })

	err := f.orch.Synthesize(context.Background(), "tool-1")
	require.Error(t, err)

	tool, gerr := f.store.GetTool(context.Background(), "tool-1")
	require.NoError(t, gerr)
	assert.Equal(t, store.ToolStatusFailed, tool.Status)
	assert.Contains(t, tool.Metadata["error_message"], "metadata task failed")
}

func TestExtractMetadata(t *testing.T) {
	base := `{"tool_name": "t", "description": "d", "input_schema": {}, "output_format": "o"}`

	meta, err := ExtractMetadata("```json\n" + base + "\n```")
	require.NoError(t, err)
	assert.Equal(t, "t", meta["tool_name"])

	// Bare object surrounded by prose.
	meta, err = ExtractMetadata("Sure, here you go: " + base + " hope that helps")
	require.NoError(t, err)
	assert.Equal(t, "d", meta["description"])

	// Backticked field names are unwrapped.
	meta, err = ExtractMetadata("{`tool_name`: \"t\", `description`: \"d\", `input_schema`: {}, `output_format`: \"o\"}")
	require.NoError(t, err)
	assert.Equal(t, "o", meta["output_format"])

	// Trailing commas survive via repair.
	meta, err = ExtractMetadata(`{"tool_name": "t", "description": "d", "input_schema": {}, "output_format": "o",}`)
	require.NoError(t, err)
	assert.Equal(t, "t", meta["tool_name"])

	_, err = ExtractMetadata("no json at all")
	require.Error(t, err)

	_, err = ExtractMetadata(`{"tool_name": "t"}`)
	require.Error(t, err)

	// Nested braces inside strings do not confuse the scanner.
	meta, err = ExtractMetadata(`prefix {"tool_name": "a{b}c", "description": "d", "input_schema": {"x": {}}, "output_format": "o"}`)
	require.NoError(t, err)
	assert.Equal(t, "a{b}c", meta["tool_name"])
}
