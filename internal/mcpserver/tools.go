package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/agentgrid/agentgrid/internal/dispatcher"
	"github.com/agentgrid/agentgrid/internal/store"
)

// buildGatewayServer assembles one MCP server from the gateway's ready and
// enabled tools. Returns the tool count for logging.
func (s *Server) buildGatewayServer(ctx context.Context, gw *store.Gateway) (*server.MCPServer, int, error) {
	tools, err := s.store.ListTools(ctx, gw.ID)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list gateway tools: %w", err)
	}

	mcpServer := server.NewMCPServer(
		"agentgrid-gateway",
		"1.0.0",
		server.WithToolCapabilities(true),
	)

	count := 0
	for _, tool := range tools {
		if tool.Status != store.ToolStatusReady || !tool.Enabled {
			continue
		}
		schema, err := json.Marshal(tool.InputSchema)
		if err != nil || len(tool.InputSchema) == 0 {
			// Some MCP clients reject object schemas without properties.
			schema = json.RawMessage(`{"type":"object","properties":{}}`)
		}
		mcpServer.AddTool(
			mcp.NewToolWithRawSchema(tool.ToolName, tool.Description, schema),
			s.toolHandler(gw, tool),
		)
		count++
	}
	return mcpServer, count, nil
}

// toolHandler dispatches a task pair to the tool's source agent and waits
// for the assistant task to finish. Domain failures surface as tool error
// results so the MCP client sees them in-band.
func (s *Server) toolHandler(gw *store.Gateway, tool *store.Tool) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		content, err := callContent(req.GetArguments())
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}

		_, assistant, err := s.dispatcher.Dispatch(ctx, dispatcher.DispatchRequest{
			ProjectID: gw.ProjectID,
			AgentID:   tool.AgentID,
			Content:   content,
			Metadata: map[string]any{
				"gateway_id": gw.ID,
				"tool_id":    tool.ID,
				"mcp_tool":   tool.ToolName,
			},
		})
		if err != nil {
			s.logger.Warn("Tool dispatch rejected",
				zap.String("tool", tool.ToolName),
				zap.String("agent_id", tool.AgentID),
				zap.Error(err))
			return mcp.NewToolResultError(fmt.Sprintf("Failed to dispatch %s: %v", tool.ToolName, err)), nil
		}

		result, err := s.awaitTask(ctx, assistant.ID)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		if result.Status == store.TaskStatusFailed {
			msg := result.Content
			if msg == "" {
				msg = result.Error
			}
			return mcp.NewToolResultError(msg), nil
		}
		return mcp.NewToolResultText(result.Content), nil
	}
}

// awaitTask polls until the assistant task is terminal or the call
// timeout elapses.
func (s *Server) awaitTask(ctx context.Context, taskID string) (*store.Task, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.CallTimeout)
	defer cancel()

	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	for {
		task, err := s.store.GetTask(ctx, taskID)
		if err != nil {
			return nil, fmt.Errorf("failed to load task %s: %w", taskID, err)
		}
		if task.Status.Terminal() {
			return task, nil
		}
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("tool call timed out waiting for task %s", taskID)
		case <-ticker.C:
		}
	}
}

// callContent turns MCP arguments into the dispatched task content. A lone
// textual query argument passes through as-is; anything richer is sent as
// a JSON document.
func callContent(args map[string]any) (string, error) {
	if len(args) == 0 {
		return "", fmt.Errorf("tool call requires arguments")
	}
	if len(args) == 1 {
		for _, key := range []string{"query", "input", "prompt"} {
			if v, ok := args[key].(string); ok && v != "" {
				return v, nil
			}
		}
	}
	data, err := json.Marshal(args)
	if err != nil {
		return "", fmt.Errorf("failed to encode arguments: %w", err)
	}
	return string(data), nil
}
