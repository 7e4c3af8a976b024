// Package toolmeta synthesizes MCP tool metadata from a source agent. A
// dedicated metadata agent is asked for a JSON envelope describing the tool;
// the parsed envelope is written onto the Tool record and the source agent
// is linked to the gateway.
package toolmeta

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/kaptinlin/jsonrepair"
	"go.uber.org/zap"

	"github.com/agentgrid/agentgrid/internal/common/config"
	"github.com/agentgrid/agentgrid/internal/common/logger"
	"github.com/agentgrid/agentgrid/internal/dispatcher"
	"github.com/agentgrid/agentgrid/internal/store"
)

const (
	defaultPollInterval = 5 * time.Second
	maxPollIterations   = 60
)

// requiredKeys are the fields the metadata agent must return.
var requiredKeys = []string{"tool_name", "description", "input_schema", "output_format"}

// Orchestrator drives tool metadata synthesis.
type Orchestrator struct {
	store        store.Store
	dispatcher   *dispatcher.Service
	logger       *logger.Logger
	agentID      string
	agentProject string
	pollInterval time.Duration
}

// New creates a toolmeta orchestrator. The metadata agent comes from the
// MCP configuration.
func New(st store.Store, disp *dispatcher.Service, cfg config.MCPConfig, log *logger.Logger) *Orchestrator {
	return &Orchestrator{
		store:        st,
		dispatcher:   disp,
		logger:       log.WithFields(zap.String("component", "toolmeta-orchestrator")),
		agentID:      cfg.MetadataAgentID,
		agentProject: strings.ToLower(cfg.MetadataAgentProject),
		pollInterval: defaultPollInterval,
	}
}

// SetPollInterval overrides the poll interval.
func (o *Orchestrator) SetPollInterval(d time.Duration) {
	if d > 0 {
		o.pollInterval = d
	}
}

// Synthesize fills in one tool's metadata. It blocks until the tool is
// ready or failed; callers run it on a goroutine.
func (o *Orchestrator) Synthesize(ctx context.Context, toolID string) error {
	tool, err := o.store.GetTool(ctx, toolID)
	if err != nil {
		return fmt.Errorf("failed to load tool: %w", err)
	}
	if _, err := o.store.UpdateTool(ctx, toolID, store.Patch{"status": store.ToolStatusGenerating}); err != nil {
		return fmt.Errorf("failed to mark tool generating: %w", err)
	}

	source, err := o.store.GetAgent(ctx, tool.AgentID)
	if err != nil {
		return o.fail(ctx, tool, fmt.Sprintf("failed to load source agent: %v", err))
	}
	if o.agentID == "" {
		return o.fail(ctx, tool, "no metadata agent configured")
	}

	_, assistant, err := o.dispatcher.CreatePair(ctx, o.agentProject, dispatcher.DispatchRequest{
		ProjectID: o.agentProject,
		AgentID:   o.agentID,
		Content:   SynthesisPrompt(source, tool.ToolName),
		Metadata:  map[string]any{"tool_id": toolID},
	})
	if err != nil {
		return o.fail(ctx, tool, fmt.Sprintf("failed to dispatch metadata task: %v", err))
	}

	content, err := o.await(ctx, assistant.ID)
	if err != nil {
		return o.fail(ctx, tool, err.Error())
	}

	meta, err := ExtractMetadata(content)
	if err != nil {
		return o.fail(ctx, tool, fmt.Sprintf("failed to parse metadata envelope: %v", err))
	}

	patch := store.Patch{
		"description":   meta["description"],
		"output_format": meta["output_format"],
		"input_schema":  meta["input_schema"],
		"status":        store.ToolStatusReady,
		"enabled":       true,
	}
	if name, ok := meta["tool_name"].(string); ok && name != "" {
		patch["tool_name"] = name
	}
	if _, err := o.store.UpdateTool(ctx, toolID, patch); err != nil {
		return o.fail(ctx, tool, fmt.Sprintf("failed to store metadata: %v", err))
	}

	if err := o.linkGateway(ctx, source, tool); err != nil {
		o.logger.Warn("Failed to link gateway on source agent",
			zap.String("tool_id", toolID),
			zap.String("agent_id", source.ID),
			zap.Error(err))
	}

	o.logger.Info("Tool metadata ready",
		zap.String("tool_id", toolID),
		zap.String("gateway_id", tool.GatewayID))
	return nil
}

// linkGateway appends a {gateway_id, tool_id, enabled_at} entry onto the
// source agent's mcp_gateways metadata list, deduplicating on the pair.
func (o *Orchestrator) linkGateway(ctx context.Context, source *store.Agent, tool *store.Tool) error {
	agent, err := o.store.GetAgent(ctx, source.ID)
	if err != nil {
		return err
	}

	metadata := agent.Metadata
	if metadata == nil {
		metadata = map[string]any{}
	}
	gateways, _ := metadata["mcp_gateways"].([]any)
	for _, raw := range gateways {
		entry, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		if entry["gateway_id"] == tool.GatewayID && entry["tool_id"] == tool.ID {
			return nil
		}
	}
	gateways = append(gateways, map[string]any{
		"gateway_id": tool.GatewayID,
		"tool_id":    tool.ID,
		"enabled_at": time.Now().UTC().Format(time.RFC3339),
	})
	metadata["mcp_gateways"] = gateways

	_, err = o.store.UpdateAgent(ctx, agent.ID, store.Patch{"metadata": metadata})
	return err
}

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
				return "", errors.New("metadata task disappeared")
			}
			o.logger.Warn("Failed to poll metadata task",
				zap.String("task_id", taskID), zap.Error(err))
			continue
		}
		switch task.Status {
		case store.TaskStatusCompleted:
			return task.Content, nil
		case store.TaskStatusFailed:
			return "", fmt.Errorf("metadata task failed: %s", task.Error)
		}
	}
	return "", errors.New("metadata synthesis timed out")
}

func (o *Orchestrator) fail(ctx context.Context, tool *store.Tool, reason string) error {
	metadata := tool.Metadata
	if metadata == nil {
		metadata = map[string]any{}
	}
	metadata["error_message"] = reason

	if _, err := o.store.UpdateTool(ctx, tool.ID, store.Patch{
		"status":   store.ToolStatusFailed,
		"metadata": metadata,
	}); err != nil {
		o.logger.Error("Failed to mark tool failed",
			zap.String("tool_id", tool.ID), zap.Error(err))
	}
	return errors.New(reason)
}

// SynthesisPrompt renders the metadata request for one source agent.
func SynthesisPrompt(agent *store.Agent, toolName string) string {
	var b strings.Builder
	b.WriteString("You are converting an agent into an MCP tool definition.\n\n")
	fmt.Fprintf(&b, "Agent name: %s\n", agent.Name)
	fmt.Fprintf(&b, "Agent description: %s\n", agent.Description)
	fmt.Fprintf(&b, "Agent instructions:\n%s\n\n", agent.Instructions)
	if len(agent.Capabilities) > 0 {
		fmt.Fprintf(&b, "Agent capabilities: %s\n", strings.Join(agent.Capabilities, ", "))
	}
	if agent.OutputFormat != "" {
		fmt.Fprintf(&b, "Agent output format: %s\n", agent.OutputFormat)
	}
	fmt.Fprintf(&b, "Desired tool name: %s\n\n", toolName)
	b.WriteString("Respond with a single JSON object with exactly these keys:\n")
	b.WriteString(`{"tool_name": string, "description": string, "input_schema": JSON Schema object, "output_format": string}`)
	b.WriteString("\nReturn only the JSON object, fenced as ```json if you must.")
	return b.String()
}

var (
	fencedJSONRe  = regexp.MustCompile("(?s)```json\\s*(.*?)```")
	backtickKeyRe = regexp.MustCompile("`([A-Za-z_][A-Za-z0-9_]*)`\\s*:")
)

// ExtractMetadata pulls the metadata envelope out of model output. A fenced
// json block wins; otherwise the first balanced object is taken. Field names
// wrapped in backticks are unwrapped, and jsonrepair is the last resort for
// almost-valid JSON. All four required keys must be present.
func ExtractMetadata(content string) (map[string]any, error) {
	candidate := ""
	if m := fencedJSONRe.FindStringSubmatch(content); m != nil {
		candidate = m[1]
	} else if obj := balancedObject(content); obj != "" {
		candidate = obj
	} else {
		return nil, errors.New("no JSON object found")
	}

	candidate = backtickKeyRe.ReplaceAllString(candidate, `"$1":`)
	candidate = strings.TrimSpace(candidate)

	var meta map[string]any
	if err := json.Unmarshal([]byte(candidate), &meta); err != nil {
		repaired, rerr := jsonrepair.JSONRepair(candidate)
		if rerr != nil {
			return nil, fmt.Errorf("invalid JSON: %w", err)
		}
		if err := json.Unmarshal([]byte(repaired), &meta); err != nil {
			return nil, fmt.Errorf("invalid JSON after repair: %w", err)
		}
	}

	for _, key := range requiredKeys {
		if _, ok := meta[key]; !ok {
			return nil, fmt.Errorf("missing required key %q", key)
		}
	}
	return meta, nil
}

// balancedObject returns the first top-level {...} span in s, honoring
// strings and escapes.
func balancedObject(s string) string {
	start := strings.IndexByte(s, '{')
	if start < 0 {
		return ""
	}
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return s[start : i+1]
			}
		}
	}
	return ""
}
