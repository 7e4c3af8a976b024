package workspace

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentgrid/agentgrid/internal/common/config"
)

func TestAcquireCreatesTree(t *testing.T) {
	m := NewManager(config.WorkspaceConfig{
		BasePath:       t.TempDir(),
		SandboxEnabled: true,
	})

	ws, err := m.Acquire("proj-1", "conv-1", Options{})
	require.NoError(t, err)

	assert.DirExists(t, ws.WorkDir)
	assert.DirExists(t, ws.OutputDir)
	assert.FileExists(t, filepath.Join(ws.WorkDir, ".claude", "CLAUDE.md"))
	assert.FileExists(t, filepath.Join(ws.WorkDir, ".claude", "settings.json"))

	require.NoError(t, m.Teardown(ws))
	assert.NoDirExists(t, ws.Root)
	// Teardown is idempotent.
	require.NoError(t, m.Teardown(ws))
}

func TestAcquireCopiesSkills(t *testing.T) {
	skills := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(skills, "review"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(skills, "review", "SKILL.md"), []byte("# review"), 0o644))

	m := NewManager(config.WorkspaceConfig{
		BasePath:   t.TempDir(),
		SkillsPath: skills,
	})

	ws, err := m.Acquire("proj-1", "task-1", Options{})
	require.NoError(t, err)
	defer func() { _ = m.Teardown(ws) }()

	copied, err := os.ReadFile(filepath.Join(ws.WorkDir, ".claude", "skills", "review", "SKILL.md"))
	require.NoError(t, err)
	assert.Equal(t, "# review", string(copied))
}

func TestRenderSettingsDeterministic(t *testing.T) {
	opts := Options{
		MCPServers: map[string]MCPServer{
			"gateway-b": {URL: "http://localhost:9020/mcp"},
			"gateway-a": {URL: "http://localhost:9010/mcp"},
		},
		MCPTools: []string{"mcp__gateway-b__lookup", "mcp__gateway-a__search"},
	}

	first, err := RenderSettings("/w/work_dir", true, opts)
	require.NoError(t, err)
	second, err := RenderSettings("/w/work_dir", true, opts)
	require.NoError(t, err)
	assert.Equal(t, first, second, "identical inputs must render identical bytes")
}

func TestRenderSettingsPolicy(t *testing.T) {
	data, err := RenderSettings("/w/work_dir", true, Options{
		MCPTools: []string{"mcp__gw__ask"},
	})
	require.NoError(t, err)

	var doc struct {
		Sandbox struct {
			Enabled bool `json:"enabled"`
			Network struct {
				AllowLocalBinding bool `json:"allowLocalBinding"`
			} `json:"network"`
			ExcludedCommands []string `json:"excludedCommands"`
		} `json:"sandbox"`
		Permissions struct {
			Allow []string `json:"allow"`
			Deny  []string `json:"deny"`
		} `json:"permissions"`
	}
	require.NoError(t, json.Unmarshal(data, &doc))

	assert.True(t, doc.Sandbox.Enabled)
	assert.True(t, doc.Sandbox.Network.AllowLocalBinding)
	assert.Equal(t, []string{"docker"}, doc.Sandbox.ExcludedCommands)

	assert.Contains(t, doc.Permissions.Allow, "Read(/w/work_dir/**)")
	assert.Contains(t, doc.Permissions.Allow, "Python(/w/work_dir/**)")
	assert.Contains(t, doc.Permissions.Allow, "mcp__gw__ask")
	assert.Contains(t, doc.Permissions.Deny, "Read(../**)")
	assert.Contains(t, doc.Permissions.Deny, "Write(/tmp/**)")
	assert.Contains(t, doc.Permissions.Deny, "Bash(.env*)")
	assert.Contains(t, doc.Permissions.Deny, "Python(./secrets/**)")
}
