// Package workspace provisions the isolated per-run directory trees that
// agent invocations execute in. Each workspace is owned by exactly one runner
// for its lifetime and is removed on every exit path.
package workspace

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"

	"github.com/agentgrid/agentgrid/internal/common/config"
)

// MCPServer is the per-server entry injected into the sandbox file.
type MCPServer struct {
	URL     string            `json:"url"`
	Headers map[string]string `json:"headers,omitempty"`
}

// Options selects what is injected into a workspace's sandbox file.
type Options struct {
	MCPServers map[string]MCPServer
	// MCPTools are additional allowed tool names (mcp__<server>__<tool>).
	MCPTools []string
}

// Workspace is one provisioned directory tree:
//
//	<base>/<project>/<run>/work_dir/
//	    output/
//	    .claude/
//	        CLAUDE.md
//	        settings.json
//	        skills/<skill>/...
type Workspace struct {
	Root      string
	WorkDir   string
	OutputDir string
}

// Manager creates and tears down workspaces under a base path.
type Manager struct {
	cfg config.WorkspaceConfig
}

// NewManager creates a workspace manager.
func NewManager(cfg config.WorkspaceConfig) *Manager {
	if cfg.BasePath == "" {
		cfg.BasePath = "/data/workspaces"
	}
	return &Manager{cfg: cfg}
}

// Acquire provisions the directory tree for one run and writes the sandbox
// policy. runID is the conversation id when the run belongs to a
// conversation, the assistant task id otherwise.
func (m *Manager) Acquire(projectID, runID string, opts Options) (*Workspace, error) {
	root := filepath.Join(m.cfg.BasePath, projectID, runID)
	workDir := filepath.Join(root, "work_dir")
	outputDir := filepath.Join(workDir, "output")
	claudeDir := filepath.Join(workDir, ".claude")

	for _, dir := range []string{outputDir, claudeDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create workspace directory %s: %w", dir, err)
		}
	}

	if err := m.writeClaudeMD(claudeDir); err != nil {
		_ = os.RemoveAll(root)
		return nil, err
	}
	settings, err := RenderSettings(workDir, m.cfg.SandboxEnabled, opts)
	if err != nil {
		_ = os.RemoveAll(root)
		return nil, err
	}
	if err := os.WriteFile(filepath.Join(claudeDir, "settings.json"), settings, 0o644); err != nil {
		_ = os.RemoveAll(root)
		return nil, fmt.Errorf("failed to write settings.json: %w", err)
	}
	if err := m.copySkills(filepath.Join(claudeDir, "skills")); err != nil {
		_ = os.RemoveAll(root)
		return nil, err
	}

	return &Workspace{Root: root, WorkDir: workDir, OutputDir: outputDir}, nil
}

// Teardown removes the workspace tree. Safe to call more than once.
func (m *Manager) Teardown(ws *Workspace) error {
	if ws == nil || ws.Root == "" {
		return nil
	}
	if err := os.RemoveAll(ws.Root); err != nil {
		return fmt.Errorf("failed to remove workspace %s: %w", ws.Root, err)
	}
	return nil
}

func (m *Manager) writeClaudeMD(claudeDir string) error {
	content := []byte("# Agent Workspace\n\nWork inside work_dir. Write outputs to the output directory.\n")
	if m.cfg.TemplatePath != "" {
		data, err := os.ReadFile(m.cfg.TemplatePath)
		if err != nil {
			return fmt.Errorf("failed to read CLAUDE.md template: %w", err)
		}
		content = data
	}
	if err := os.WriteFile(filepath.Join(claudeDir, "CLAUDE.md"), content, 0o644); err != nil {
		return fmt.Errorf("failed to write CLAUDE.md: %w", err)
	}
	return nil
}

func (m *Manager) copySkills(dst string) error {
	if m.cfg.SkillsPath == "" {
		return nil
	}
	return copyTree(m.cfg.SkillsPath, dst)
}

func copyTree(src, dst string) error {
	return filepath.WalkDir(src, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return fmt.Errorf("failed to walk skills folder: %w", err)
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)
		if d.IsDir() {
			return os.MkdirAll(target, 0o755)
		}
		in, err := os.Open(path)
		if err != nil {
			return fmt.Errorf("failed to open skill file %s: %w", path, err)
		}
		defer func() { _ = in.Close() }()
		out, err := os.Create(target)
		if err != nil {
			return fmt.Errorf("failed to create skill file %s: %w", target, err)
		}
		defer func() { _ = out.Close() }()
		if _, err := io.Copy(out, in); err != nil {
			return fmt.Errorf("failed to copy skill file %s: %w", target, err)
		}
		return nil
	})
}

// settingsDoc mirrors the sandbox file layout. Field order is fixed and maps
// marshal with sorted keys, so rendering is deterministic.
type settingsDoc struct {
	Sandbox     sandboxDoc           `json:"sandbox"`
	Permissions permissionsDoc       `json:"permissions"`
	MCPServers  map[string]MCPServer `json:"mcpServers,omitempty"`
}

type sandboxDoc struct {
	Enabled          bool       `json:"enabled"`
	Network          networkDoc `json:"network"`
	ExcludedCommands []string   `json:"excludedCommands"`
}

type networkDoc struct {
	AllowLocalBinding bool `json:"allowLocalBinding"`
}

type permissionsDoc struct {
	Allow []string `json:"allow"`
	Deny  []string `json:"deny"`
}

var permissionVerbs = []string{"Read", "Write", "Bash", "Python"}

var denyPatterns = []string{
	"../**",
	"/tmp/**",
	"/app/**",
	"/Users/**",
	"/home/**",
	".env*",
	"./secrets/**",
}

// RenderSettings produces the sandbox file bytes. Output is byte-identical
// for identical inputs.
func RenderSettings(workDir string, sandboxEnabled bool, opts Options) ([]byte, error) {
	scope := workDir + "/**"

	allow := make([]string, 0, len(permissionVerbs)+len(opts.MCPTools))
	for _, verb := range permissionVerbs {
		allow = append(allow, fmt.Sprintf("%s(%s)", verb, scope))
	}
	tools := make([]string, len(opts.MCPTools))
	copy(tools, opts.MCPTools)
	sort.Strings(tools)
	allow = append(allow, tools...)

	deny := make([]string, 0, len(permissionVerbs)*len(denyPatterns))
	for _, verb := range permissionVerbs {
		for _, pattern := range denyPatterns {
			deny = append(deny, fmt.Sprintf("%s(%s)", verb, pattern))
		}
	}

	doc := settingsDoc{
		Sandbox: sandboxDoc{
			Enabled:          sandboxEnabled,
			Network:          networkDoc{AllowLocalBinding: true},
			ExcludedCommands: []string{"docker"},
		},
		Permissions: permissionsDoc{Allow: allow, Deny: deny},
		MCPServers:  opts.MCPServers,
	}

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to render settings.json: %w", err)
	}
	return append(data, '\n'), nil
}
