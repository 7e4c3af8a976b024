package llm

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// FakeClient is a scripted Client for tests. Each Run consumes the next
// script; when the script list is exhausted the last script repeats.
type FakeClient struct {
	mu       sync.Mutex
	scripts  []Script
	next     int
	requests []RunRequest
}

// Script describes what one fake run does.
type Script struct {
	// Chunks are streamed as message_chunk events before the terminal event.
	Chunks []string
	// ToolCalls are emitted as tool_use/tool_result pairs, executing against
	// the request's executor when present.
	ToolCalls []FakeToolCall
	// Result is the terminal result text. Ignored when Error is set.
	Result string
	// Error terminates the run with an error event.
	Error string
	// SessionID overrides the generated session id.
	SessionID string
	// Block makes the run wait for cancellation instead of terminating.
	Block bool
}

// FakeToolCall is one scripted tool invocation.
type FakeToolCall struct {
	Name  string
	Input map[string]any
}

// NewFakeClient creates a fake that plays the given scripts in order.
func NewFakeClient(scripts ...Script) *FakeClient {
	return &FakeClient{scripts: scripts}
}

// Requests returns a copy of every RunRequest received so far.
func (f *FakeClient) Requests() []RunRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]RunRequest, len(f.requests))
	copy(out, f.requests)
	return out
}

func (f *FakeClient) Run(ctx context.Context, req RunRequest) (Stream, error) {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	var script Script
	if len(f.scripts) > 0 {
		idx := f.next
		if idx >= len(f.scripts) {
			idx = len(f.scripts) - 1
		}
		script = f.scripts[idx]
		f.next++
	}
	f.mu.Unlock()

	cctx, cancel := context.WithCancel(ctx)
	s := &fakeStream{
		ctx:    cctx,
		cancel: cancel,
		events: make(chan Event, 64),
	}
	go s.play(req, script)
	return s, nil
}

type fakeStream struct {
	ctx       context.Context
	cancel    context.CancelFunc
	events    chan Event
	closeOnce sync.Once
}

func (s *fakeStream) Events() <-chan Event { return s.events }

func (s *fakeStream) Close() error {
	s.closeOnce.Do(s.cancel)
	return nil
}

func (s *fakeStream) emit(event Event) bool {
	select {
	case s.events <- event:
		return true
	case <-s.ctx.Done():
		return false
	}
}

func (s *fakeStream) play(req RunRequest, script Script) {
	defer close(s.events)
	defer s.cancel()

	sessionID := script.SessionID
	if sessionID == "" {
		sessionID = req.SessionID
	}
	if sessionID == "" {
		sessionID = uuid.New().String()
	}

	for _, chunk := range script.Chunks {
		if !s.emit(Event{Type: EventMessageChunk, Text: chunk}) {
			return
		}
	}

	for _, call := range script.ToolCalls {
		id := uuid.New().String()
		if !s.emit(Event{Type: EventToolUse, ToolUseID: id, ToolName: call.Name, ToolInput: call.Input}) {
			return
		}
		content, isErr := "", false
		if req.Executor != nil {
			content, isErr = req.Executor.Execute(s.ctx, call.Name, call.Input)
		}
		if !s.emit(Event{Type: EventToolResult, ToolUseID: id, ToolName: call.Name, Content: content, IsError: isErr}) {
			return
		}
	}

	if script.Block {
		<-s.ctx.Done()
		return
	}

	if script.Error != "" {
		s.emit(Event{Type: EventError, Err: script.Error, SessionID: sessionID})
		return
	}

	s.emit(Event{
		Type:       EventResult,
		Result:     script.Result,
		DurationMS: 1,
		NumTurns:   1 + len(script.ToolCalls),
		SessionID:  sessionID,
	})
}
