package runner

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/agentgrid/agentgrid/internal/llm"
	"github.com/agentgrid/agentgrid/internal/provider"
)

// DataSourceTools exposes a project's configured data-source providers to the
// model as a single query tool.
type DataSourceTools struct {
	registry  *provider.Registry
	projectID string
}

// NewDataSourceTools binds the provider registry to one project.
func NewDataSourceTools(reg *provider.Registry, projectID string) *DataSourceTools {
	return &DataSourceTools{registry: reg, projectID: projectID}
}

var _ llm.ToolExecutor = (*DataSourceTools)(nil)

const queryDataSourceTool = "query_datasource"

// Definitions implements llm.ToolExecutor.
func (d *DataSourceTools) Definitions() []llm.ToolDefinition {
	return []llm.ToolDefinition{{
		Name: queryDataSourceTool,
		Description: "Query a data source connected to this project. " +
			"Supported providers: looker, redash, datahub, s3.",
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"provider": map[string]any{
					"type":        "string",
					"enum":        []string{provider.TypeLooker, provider.TypeRedash, provider.TypeDataHub, provider.TypeS3},
					"description": "Which provider to query.",
				},
				"operation": map[string]any{
					"type":        "string",
					"description": "Provider operation, e.g. run_inline_query, get_query_results, graphql, list_objects.",
				},
				"arguments": map[string]any{
					"type":        "object",
					"description": "Operation arguments.",
				},
			},
			"required": []string{"provider", "operation"},
		},
	}}
}

// Execute implements llm.ToolExecutor. Provider faults are surfaced to the
// model as error results rather than aborting the run.
func (d *DataSourceTools) Execute(ctx context.Context, name string, input map[string]any) (string, bool) {
	if name != queryDataSourceTool {
		return fmt.Sprintf("unknown tool %q", name), true
	}
	providerType, _ := input["provider"].(string)
	operation, _ := input["operation"].(string)
	if providerType == "" || operation == "" {
		return "provider and operation are required", true
	}
	args, _ := input["arguments"].(map[string]any)

	result, err := d.registry.Call(ctx, d.projectID, providerType, operation, args)
	if err != nil {
		return err.Error(), true
	}
	encoded, err := json.Marshal(result)
	if err != nil {
		return fmt.Sprintf("failed to encode result: %v", err), true
	}
	return string(encoded), false
}
