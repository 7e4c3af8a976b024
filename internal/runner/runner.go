// Package runner consumes dispatched tasks, provisions a workspace, invokes
// the LLM client and writes the outcome back to the store. A run streams its
// events to an optional sink so the SSE bridge can reuse the same execution
// path as the broker consumer.
package runner

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/agentgrid/agentgrid/internal/artifact"
	"github.com/agentgrid/agentgrid/internal/cache"
	"github.com/agentgrid/agentgrid/internal/common/config"
	"github.com/agentgrid/agentgrid/internal/common/logger"
	"github.com/agentgrid/agentgrid/internal/llm"
	"github.com/agentgrid/agentgrid/internal/store"
	"github.com/agentgrid/agentgrid/internal/workspace"
)

// CancelledSentinel is the content written to a task cancelled by the user.
const CancelledSentinel = "Task was cancelled by user."

// failureSentinel marks a model answer that must be retried.
const failureSentinel = "execution failed"

// ErrCancelled reports that the run was cancelled; it is never retried.
var ErrCancelled = errors.New("run cancelled")

// sessionKeyPrefix namespaces conversation session bindings in the cache.
const sessionKeyPrefix = "session:"

// cancelKeyPrefix namespaces cancellation signals in the cache.
const cancelKeyPrefix = "cancel:"

// CancellationOracle reports whether a running task was asked to stop.
type CancellationOracle interface {
	Cancelled(ctx context.Context, taskID string) (bool, error)
}

// storeCacheOracle checks the task document and the cache signal.
type storeCacheOracle struct {
	store store.Store
	cache cache.SessionCache
}

func (o *storeCacheOracle) Cancelled(ctx context.Context, taskID string) (bool, error) {
	if _, err := o.cache.Get(ctx, cancelKeyPrefix+taskID); err == nil {
		return true, nil
	} else if !errors.Is(err, cache.ErrNotFound) {
		return false, err
	}
	task, err := o.store.GetTask(ctx, taskID)
	if err != nil {
		return false, err
	}
	if v, ok := task.Metadata["cancel_requested"].(bool); ok && v {
		return true, nil
	}
	return false, nil
}

// auditMessage is one entry in the audit envelope written after a run.
type auditMessage struct {
	Type      string         `json:"type"`
	Attempt   int            `json:"attempt"`
	Text      string         `json:"text,omitempty"`
	ToolName  string         `json:"tool_name,omitempty"`
	ToolUseID string         `json:"tool_use_id,omitempty"`
	ToolInput map[string]any `json:"tool_input,omitempty"`
	Content   string         `json:"content,omitempty"`
	IsError   bool           `json:"is_error,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

type auditEnvelope struct {
	TaskID    string         `json:"task_id"`
	ProjectID string         `json:"project_id"`
	AgentID   string         `json:"agent_id"`
	Attempts  int            `json:"attempts"`
	Messages  []auditMessage `json:"messages"`
}

// Service executes dispatched tasks.
type Service struct {
	store       store.Store
	cache       cache.SessionCache
	artifacts   artifact.Store
	llm         llm.Client
	workspaces  *workspace.Manager
	logger      *logger.Logger
	oracle      CancellationOracle
	toolBinder  ToolBinder
	gatewayBase string

	defaultModel string
	maxTurns     int
	maxRetries   int
	pollInterval time.Duration
	sessionTTL   time.Duration
}

// NewService creates a runner.
func NewService(
	st store.Store,
	sessionCache cache.SessionCache,
	artifacts artifact.Store,
	client llm.Client,
	workspaces *workspace.Manager,
	llmCfg config.LLMConfig,
	sessionTTL time.Duration,
	log *logger.Logger,
) *Service {
	maxTurns := llmCfg.MaxTurns
	if maxTurns <= 0 {
		maxTurns = 15
	}
	maxRetries := llmCfg.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 3
	}
	model := llmCfg.DefaultModel
	if model == "" {
		model = "claude-sonnet-4-20250514"
	}
	if sessionTTL <= 0 {
		sessionTTL = 24 * time.Hour
	}
	return &Service{
		store:        st,
		cache:        sessionCache,
		artifacts:    artifacts,
		llm:          client,
		workspaces:   workspaces,
		logger:       log,
		oracle:       &storeCacheOracle{store: st, cache: sessionCache},
		defaultModel: model,
		maxTurns:     maxTurns,
		maxRetries:   maxRetries,
		pollInterval: 5 * time.Second,
		sessionTTL:   sessionTTL,
	}
}

// SetOracle replaces the cancellation oracle. Used by tests and by the SSE
// bridge, whose interrupts flow through the in-process registry.
func (s *Service) SetOracle(o CancellationOracle) { s.oracle = o }

// ToolBinder returns the tool executor advertised to one project's runs.
// A nil binder (or a nil executor) leaves runs tool-free.
type ToolBinder func(projectID string) llm.ToolExecutor

// SetToolBinder installs the per-project tool executor factory.
func (s *Service) SetToolBinder(b ToolBinder) { s.toolBinder = b }

// SetGatewayBaseURL enables MCP gateway injection into run workspaces.
// Empty leaves sandbox files without an MCP section.
func (s *Service) SetGatewayBaseURL(base string) {
	s.gatewayBase = strings.TrimRight(base, "/")
}

// MCPConfigFor resolves the project's gateways and their published tools
// into the sandbox MCP section. Resolution is best-effort: a store fault
// leaves the run without MCP rather than failing it.
func (s *Service) MCPConfigFor(ctx context.Context, projectID string) (map[string]workspace.MCPServer, []string) {
	if s.gatewayBase == "" {
		return nil, nil
	}
	gateways, err := s.store.ListGateways(ctx, projectID)
	if err != nil {
		s.logger.Warn("Failed to list gateways for workspace",
			zap.String("project_id", projectID), zap.Error(err))
		return nil, nil
	}
	servers := make(map[string]workspace.MCPServer)
	var allowed []string
	for _, gw := range gateways {
		tools, terr := s.store.ListTools(ctx, gw.ID)
		if terr != nil {
			s.logger.Warn("Failed to list gateway tools for workspace",
				zap.String("gateway_id", gw.ID), zap.Error(terr))
			continue
		}
		name := gw.Name
		if name == "" {
			name = gw.ID
		}
		ready := 0
		for _, tool := range tools {
			if tool.Status != store.ToolStatusReady || !tool.Enabled {
				continue
			}
			allowed = append(allowed, fmt.Sprintf("mcp__%s__%s", name, tool.ToolName))
			ready++
		}
		if ready == 0 {
			continue
		}
		servers[name] = workspace.MCPServer{
			URL: fmt.Sprintf("%s/gateways/%s/sse", s.gatewayBase, gw.APIKey),
		}
	}
	if len(servers) == 0 {
		return nil, nil
	}
	return servers, allowed
}

func (s *Service) executorFor(req ExecuteRequest) llm.ToolExecutor {
	if s.toolBinder == nil || req.Task == nil {
		return nil
	}
	return s.toolBinder(req.Task.ProjectID)
}

// SetPollInterval overrides the cancellation poll interval.
func (s *Service) SetPollInterval(d time.Duration) {
	if d > 0 {
		s.pollInterval = d
	}
}

// ExecuteRequest describes one run.
type ExecuteRequest struct {
	Task           *store.Task
	Agent          *store.Agent
	Question       string
	Context        string
	ConversationID string
	SessionID      string
	// OnEvent receives every stream event in order; may be nil.
	OnEvent func(llm.Event)
	// MCPServers / MCPTools are injected into the workspace sandbox file.
	MCPServers map[string]workspace.MCPServer
	MCPTools   []string
}

// ExecuteResult is the outcome of a run.
type ExecuteResult struct {
	Final     string
	SessionID string
	Attempts  int
}

// BuildPrompt assembles the user prompt from its optional context, the
// question, and the agent's optional output format.
func BuildPrompt(contextText, question, outputFormat string) string {
	var b strings.Builder
	if contextText != "" {
		b.WriteString("## Context\n")
		b.WriteString(contextText)
		b.WriteString("\n\n")
	}
	b.WriteString("## Question\n")
	b.WriteString(question)
	if outputFormat != "" {
		b.WriteString("\n\n## Expected Output Format\n")
		b.WriteString(outputFormat)
	}
	return b.String()
}

// retryPrompt wraps the base prompt with a prefix documenting the previous
// attempt so the model does not repeat it.
func retryPrompt(base string, attempt int, lastAnswer string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "A previous attempt (%d) at this task did not produce a usable answer.\n", attempt)
	if lastAnswer != "" {
		b.WriteString("Previous attempt output:\n")
		b.WriteString(lastAnswer)
		b.WriteString("\n")
	}
	b.WriteString("Please try again and provide a complete final answer.\n\n")
	b.WriteString(base)
	return b.String()
}

// Execute provisions a workspace, runs the model with retries and returns
// the final answer. The workspace is removed on every exit path. Execute
// does not touch task status; callers finalize.
func (s *Service) Execute(ctx context.Context, req ExecuteRequest) (*ExecuteResult, error) {
	runID := req.ConversationID
	if runID == "" {
		runID = req.Task.ID
	}
	ws, err := s.workspaces.Acquire(req.Task.ProjectID, runID, workspace.Options{
		MCPServers: req.MCPServers,
		MCPTools:   req.MCPTools,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to acquire workspace: %w", err)
	}
	defer func() {
		if terr := s.workspaces.Teardown(ws); terr != nil {
			s.logger.Warn("Workspace teardown failed",
				zap.String("task_id", req.Task.ID),
				zap.Error(terr))
		}
	}()

	basePrompt := BuildPrompt(req.Context, req.Question, req.Agent.OutputFormat)
	model := s.defaultModel
	if v, ok := req.Task.Metadata["model"].(string); ok && v != "" {
		model = v
	}

	var audit []auditMessage
	var lastErr error
	var lastAnswer string

	attempts := 0
	for attempts < s.maxRetries {
		attempts++

		prompt := basePrompt
		if attempts > 1 {
			prompt = retryPrompt(basePrompt, attempts-1, lastAnswer)
		}

		final, sessionID, messages, err := s.runAttempt(ctx, req, model, prompt, attempts)
		audit = append(audit, messages...)
		if err != nil {
			if errors.Is(err, ErrCancelled) || errors.Is(err, context.Canceled) {
				s.writeAudit(req, attempts, audit)
				return nil, ErrCancelled
			}
			lastErr = err
			lastAnswer = final
			s.logger.Warn("Run attempt failed",
				zap.String("task_id", req.Task.ID),
				zap.Int("attempt", attempts),
				zap.Error(err))
			continue
		}

		if final == "" || strings.Contains(strings.ToLower(final), failureSentinel) {
			lastErr = fmt.Errorf("attempt %d produced no usable answer", attempts)
			lastAnswer = final
			continue
		}

		if sessionID != "" && req.ConversationID != "" {
			if cerr := s.cache.Set(ctx, sessionKeyPrefix+req.ConversationID, sessionID, s.sessionTTL); cerr != nil {
				s.logger.Warn("Failed to cache session id",
					zap.String("conversation_id", req.ConversationID),
					zap.Error(cerr))
			}
		}

		s.writeAudit(req, attempts, audit)
		return &ExecuteResult{Final: final, SessionID: sessionID, Attempts: attempts}, nil
	}

	s.writeAudit(req, attempts, audit)
	if lastErr == nil {
		lastErr = errors.New("retries exhausted")
	}
	return nil, lastErr
}

// runAttempt performs one model invocation, polling the cancellation oracle
// while the stream is live.
func (s *Service) runAttempt(ctx context.Context, req ExecuteRequest, model, prompt string, attempt int) (string, string, []auditMessage, error) {
	stream, err := s.llm.Run(ctx, llm.RunRequest{
		SystemPrompt: req.Agent.Instructions,
		Prompt:       prompt,
		Model:        model,
		MaxTurns:     s.maxTurns,
		SessionID:    req.SessionID,
		Executor:     s.executorFor(req),
	})
	if err != nil {
		return "", "", nil, fmt.Errorf("failed to start run: %w", err)
	}
	defer func() { _ = stream.Close() }()

	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	var chunks strings.Builder
	var final, sessionID string
	var messages []auditMessage
	var runErr string

	record := func(event llm.Event) {
		msg := auditMessage{
			Type:      string(event.Type),
			Attempt:   attempt,
			Text:      event.Text,
			ToolName:  event.ToolName,
			ToolUseID: event.ToolUseID,
			ToolInput: event.ToolInput,
			Content:   event.Content,
			IsError:   event.IsError,
			Timestamp: time.Now().UTC(),
		}
		if event.Type == llm.EventResult {
			msg.Content = event.Result
		}
		if event.Type == llm.EventError {
			msg.Content = event.Err
		}
		messages = append(messages, msg)
	}

consume:
	for {
		select {
		case event, ok := <-stream.Events():
			if !ok {
				break consume
			}
			record(event)
			if req.OnEvent != nil {
				req.OnEvent(event)
			}
			switch event.Type {
			case llm.EventMessageChunk:
				chunks.WriteString(event.Text)
			case llm.EventResult:
				if event.Result != "" {
					final = event.Result
				}
				sessionID = event.SessionID
			case llm.EventError:
				runErr = event.Err
			}

		case <-ticker.C:
			cancelled, oerr := s.oracle.Cancelled(ctx, req.Task.ID)
			if oerr != nil {
				s.logger.Warn("Cancellation oracle check failed",
					zap.String("task_id", req.Task.ID),
					zap.Error(oerr))
				continue
			}
			if cancelled {
				_ = stream.Close()
				return chunks.String(), "", messages, ErrCancelled
			}

		case <-ctx.Done():
			_ = stream.Close()
			return chunks.String(), "", messages, ctx.Err()
		}
	}

	if runErr != "" {
		return chunks.String(), "", messages, fmt.Errorf("model run failed: %s", runErr)
	}
	if final == "" {
		// Streamed text is the best final answer when no result override
		// arrived.
		final = chunks.String()
	}
	return final, sessionID, messages, nil
}

// writeAudit uploads the audit envelope; failures are logged, not fatal.
func (s *Service) writeAudit(req ExecuteRequest, attempts int, messages []auditMessage) {
	envelope := auditEnvelope{
		TaskID:    req.Task.ID,
		ProjectID: req.Task.ProjectID,
		AgentID:   req.Task.AgentID,
		Attempts:  attempts,
		Messages:  messages,
	}
	data, err := json.Marshal(envelope)
	if err != nil {
		s.logger.Error("Failed to marshal audit envelope",
			zap.String("task_id", req.Task.ID), zap.Error(err))
		return
	}
	key := fmt.Sprintf("audit/%s/%s/%s.json",
		strings.ToLower(req.Task.ProjectID), req.Task.AgentID, req.Task.ID)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if _, err := s.artifacts.Put(ctx, key, "application/json", data); err != nil {
		s.logger.Error("Failed to upload audit envelope",
			zap.String("task_id", req.Task.ID), zap.Error(err))
	}
}

// RequestCancel records a cancellation signal for a task.
func (s *Service) RequestCancel(ctx context.Context, taskID string) error {
	return s.cache.Set(ctx, cancelKeyPrefix+taskID, "1", time.Hour)
}

// SessionFor returns the cached upstream session id for a conversation.
func (s *Service) SessionFor(ctx context.Context, conversationID string) (string, error) {
	return s.cache.Get(ctx, sessionKeyPrefix+conversationID)
}

// DropSession removes a conversation's cached session binding.
func (s *Service) DropSession(ctx context.Context, conversationID string) error {
	return s.cache.Delete(ctx, sessionKeyPrefix+conversationID)
}
