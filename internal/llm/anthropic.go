package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/packages/ssestream"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/agentgrid/agentgrid/internal/common/logger"
)

// defaultMaxTokens caps completions when a run does not specify otherwise.
const defaultMaxTokens = 8192

// MessagesClient captures the subset of the Anthropic SDK used here. It is
// satisfied by *sdk.MessageService so tests can substitute a mock.
type MessagesClient interface {
	NewStreaming(ctx context.Context, body sdk.MessageNewParams, opts ...option.RequestOption) *ssestream.Stream[sdk.MessageStreamEventUnion]
}

// AnthropicClient implements Client on top of the Anthropic Messages API.
// Sessions hold the message history of prior runs so conversations can
// resume; they live in process and are keyed by session id.
type AnthropicClient struct {
	msg          MessagesClient
	defaultModel string
	maxTurns     int
	logger       *logger.Logger

	mu       sync.Mutex
	sessions map[string][]sdk.MessageParam
}

var _ Client = (*AnthropicClient)(nil)

// NewAnthropicClient builds a client from an API key.
func NewAnthropicClient(apiKey, defaultModel string, maxTurns int, log *logger.Logger) (*AnthropicClient, error) {
	if apiKey == "" {
		return nil, errors.New("anthropic api key is required")
	}
	ac := sdk.NewClient(option.WithAPIKey(apiKey))
	return NewAnthropicClientWithMessages(&ac.Messages, defaultModel, maxTurns, log)
}

// NewAnthropicClientWithMessages builds a client over a caller-provided
// Messages client.
func NewAnthropicClientWithMessages(msg MessagesClient, defaultModel string, maxTurns int, log *logger.Logger) (*AnthropicClient, error) {
	if msg == nil {
		return nil, errors.New("messages client is required")
	}
	if defaultModel == "" {
		return nil, errors.New("default model identifier is required")
	}
	if maxTurns <= 0 {
		maxTurns = 15
	}
	return &AnthropicClient{
		msg:          msg,
		defaultModel: defaultModel,
		maxTurns:     maxTurns,
		logger:       log,
		sessions:     make(map[string][]sdk.MessageParam),
	}, nil
}

func (c *AnthropicClient) Run(ctx context.Context, req RunRequest) (Stream, error) {
	if req.Prompt == "" {
		return nil, errors.New("prompt is required")
	}

	cctx, cancel := context.WithCancel(ctx)
	s := &anthropicStream{
		client: c,
		ctx:    cctx,
		cancel: cancel,
		events: make(chan Event, 32),
		req:    req,
	}
	go s.run()
	return s, nil
}

func (c *AnthropicClient) loadSession(id string) []sdk.MessageParam {
	c.mu.Lock()
	defer c.mu.Unlock()
	history := c.sessions[id]
	out := make([]sdk.MessageParam, len(history))
	copy(out, history)
	return out
}

func (c *AnthropicClient) saveSession(id string, history []sdk.MessageParam) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sessions[id] = history
}

// DropSession forgets a session's history.
func (c *AnthropicClient) DropSession(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.sessions, id)
}

type anthropicStream struct {
	client *AnthropicClient
	ctx    context.Context
	cancel context.CancelFunc
	events chan Event
	req    RunRequest

	closeOnce sync.Once
}

func (s *anthropicStream) Events() <-chan Event { return s.events }

func (s *anthropicStream) Close() error {
	s.closeOnce.Do(s.cancel)
	return nil
}

func (s *anthropicStream) emit(event Event) bool {
	select {
	case s.events <- event:
		return true
	case <-s.ctx.Done():
		return false
	}
}

func (s *anthropicStream) run() {
	defer close(s.events)
	defer s.cancel()

	started := time.Now()
	c := s.client

	sessionID := s.req.SessionID
	if sessionID == "" {
		sessionID = uuid.New().String()
	}
	history := c.loadSession(sessionID)
	history = append(history, sdk.NewUserMessage(sdk.NewTextBlock(s.req.Prompt)))

	modelID := s.req.Model
	if modelID == "" {
		modelID = c.defaultModel
	}
	maxTurns := s.req.MaxTurns
	if maxTurns <= 0 {
		maxTurns = c.maxTurns
	}
	tools := encodeTools(s.req.Executor)

	var finalText string
	turns := 0

	for turns < maxTurns {
		turns++

		params := sdk.MessageNewParams{
			MaxTokens: defaultMaxTokens,
			Messages:  history,
			Model:     sdk.Model(modelID),
		}
		if s.req.SystemPrompt != "" {
			params.System = []sdk.TextBlockParam{{Text: s.req.SystemPrompt}}
		}
		if len(tools) > 0 {
			params.Tools = tools
		}

		acc, text, err := s.streamTurn(params)
		if err != nil {
			s.emit(Event{Type: EventError, Err: err.Error(), SessionID: sessionID})
			return
		}
		finalText = text
		history = append(history, acc.ToParam())

		if string(acc.StopReason) != "tool_use" || s.req.Executor == nil {
			break
		}

		results, err := s.runTools(acc)
		if err != nil {
			s.emit(Event{Type: EventError, Err: err.Error(), SessionID: sessionID})
			return
		}
		if len(results) == 0 {
			break
		}
		history = append(history, sdk.NewUserMessage(results...))
	}

	c.saveSession(sessionID, history)

	s.emit(Event{
		Type:       EventResult,
		Result:     finalText,
		DurationMS: time.Since(started).Milliseconds(),
		NumTurns:   turns,
		SessionID:  sessionID,
	})
}

// streamTurn runs one Messages stream to completion, emitting text chunks as
// they arrive, and returns the accumulated message plus its full text.
func (s *anthropicStream) streamTurn(params sdk.MessageNewParams) (*sdk.Message, string, error) {
	stream := s.client.msg.NewStreaming(s.ctx, params)
	defer func() { _ = stream.Close() }()

	var acc sdk.Message
	for stream.Next() {
		event := stream.Current()
		if err := acc.Accumulate(event); err != nil {
			return nil, "", fmt.Errorf("failed to accumulate stream event: %w", err)
		}

		if ev, ok := event.AsAny().(sdk.ContentBlockDeltaEvent); ok {
			if delta, ok := ev.Delta.AsAny().(sdk.TextDelta); ok && delta.Text != "" {
				if !s.emit(Event{Type: EventMessageChunk, Text: delta.Text}) {
					return nil, "", s.ctx.Err()
				}
			}
		}

		select {
		case <-s.ctx.Done():
			return nil, "", s.ctx.Err()
		default:
		}
	}
	if err := stream.Err(); err != nil {
		return nil, "", fmt.Errorf("anthropic stream: %w", err)
	}
	if err := s.ctx.Err(); err != nil {
		return nil, "", err
	}

	var text string
	for _, block := range acc.Content {
		if tb, ok := block.AsAny().(sdk.TextBlock); ok {
			text += tb.Text
		}
	}
	return &acc, text, nil
}

// runTools executes every tool_use block of the accumulated message and
// returns the matching tool_result blocks.
func (s *anthropicStream) runTools(acc *sdk.Message) ([]sdk.ContentBlockParamUnion, error) {
	var results []sdk.ContentBlockParamUnion
	for _, block := range acc.Content {
		toolUse, ok := block.AsAny().(sdk.ToolUseBlock)
		if !ok {
			continue
		}

		input := decodeToolInput(toolUse.Input)
		if !s.emit(Event{
			Type:      EventToolUse,
			ToolUseID: toolUse.ID,
			ToolName:  toolUse.Name,
			ToolInput: input,
		}) {
			return nil, s.ctx.Err()
		}

		content, isErr := s.req.Executor.Execute(s.ctx, toolUse.Name, input)
		if err := s.ctx.Err(); err != nil {
			return nil, err
		}
		if s.client.logger != nil && isErr {
			s.client.logger.Warn("Tool execution failed",
				zap.String("tool", toolUse.Name),
				zap.String("tool_use_id", toolUse.ID))
		}

		if !s.emit(Event{
			Type:      EventToolResult,
			ToolUseID: toolUse.ID,
			ToolName:  toolUse.Name,
			Content:   content,
			IsError:   isErr,
		}) {
			return nil, s.ctx.Err()
		}
		results = append(results, sdk.NewToolResultBlock(toolUse.ID, content, isErr))
	}
	return results, nil
}

func decodeToolInput(raw json.RawMessage) map[string]any {
	if len(raw) == 0 {
		return map[string]any{}
	}
	var input map[string]any
	if err := json.Unmarshal(raw, &input); err != nil || input == nil {
		return map[string]any{}
	}
	return input
}

func encodeTools(executor ToolExecutor) []sdk.ToolUnionParam {
	if executor == nil {
		return nil
	}
	defs := executor.Definitions()
	if len(defs) == 0 {
		return nil
	}
	out := make([]sdk.ToolUnionParam, 0, len(defs))
	for _, def := range defs {
		if def.Name == "" {
			continue
		}
		u := sdk.ToolUnionParamOfTool(sdk.ToolInputSchemaParam{ExtraFields: def.InputSchema}, def.Name)
		if u.OfTool != nil && def.Description != "" {
			u.OfTool.Description = sdk.String(def.Description)
		}
		out = append(out, u)
	}
	return out
}
