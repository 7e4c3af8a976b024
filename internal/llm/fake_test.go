package llm

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func collect(t *testing.T, s Stream) []Event {
	t.Helper()
	var events []Event
	timeout := time.After(2 * time.Second)
	for {
		select {
		case event, ok := <-s.Events():
			if !ok {
				return events
			}
			events = append(events, event)
		case <-timeout:
			t.Fatal("timed out waiting for stream to finish")
		}
	}
}

type echoExecutor struct{}

func (echoExecutor) Definitions() []ToolDefinition {
	return []ToolDefinition{{Name: "echo", Description: "echoes input"}}
}

func (echoExecutor) Execute(ctx context.Context, name string, input map[string]any) (string, bool) {
	if v, ok := input["text"].(string); ok {
		return v, false
	}
	return "missing text", true
}

func TestFakeClientStreamsChunksThenResult(t *testing.T) {
	fake := NewFakeClient(Script{
		Chunks: []string{"Hel", "lo"},
		Result: "Hello",
	})

	s, err := fake.Run(context.Background(), RunRequest{Prompt: "hi"})
	require.NoError(t, err)

	events := collect(t, s)
	require.Len(t, events, 3)
	assert.Equal(t, EventMessageChunk, events[0].Type)
	assert.Equal(t, "Hel", events[0].Text)
	assert.Equal(t, EventMessageChunk, events[1].Type)
	assert.Equal(t, EventResult, events[2].Type)
	assert.Equal(t, "Hello", events[2].Result)
	assert.NotEmpty(t, events[2].SessionID)
}

func TestFakeClientExecutesTools(t *testing.T) {
	fake := NewFakeClient(Script{
		ToolCalls: []FakeToolCall{{Name: "echo", Input: map[string]any{"text": "ping"}}},
		Result:    "done",
	})

	s, err := fake.Run(context.Background(), RunRequest{Prompt: "hi", Executor: echoExecutor{}})
	require.NoError(t, err)

	events := collect(t, s)
	require.Len(t, events, 3)
	assert.Equal(t, EventToolUse, events[0].Type)
	assert.Equal(t, "echo", events[0].ToolName)
	assert.Equal(t, EventToolResult, events[1].Type)
	assert.Equal(t, "ping", events[1].Content)
	assert.False(t, events[1].IsError)
	assert.Equal(t, EventResult, events[2].Type)
}

func TestFakeClientScriptsAdvancePerRun(t *testing.T) {
	fake := NewFakeClient(
		Script{Error: "overloaded"},
		Script{Result: "recovered"},
	)

	s1, err := fake.Run(context.Background(), RunRequest{Prompt: "hi"})
	require.NoError(t, err)
	events := collect(t, s1)
	require.Len(t, events, 1)
	assert.Equal(t, EventError, events[0].Type)
	assert.Equal(t, "overloaded", events[0].Err)

	s2, err := fake.Run(context.Background(), RunRequest{Prompt: "hi again"})
	require.NoError(t, err)
	events = collect(t, s2)
	require.Len(t, events, 1)
	assert.Equal(t, EventResult, events[0].Type)
	assert.Equal(t, "recovered", events[0].Result)

	require.Len(t, fake.Requests(), 2)
}

func TestFakeClientBlockingRunStopsOnClose(t *testing.T) {
	fake := NewFakeClient(Script{
		Chunks: []string{"partial"},
		Block:  true,
	})

	s, err := fake.Run(context.Background(), RunRequest{Prompt: "hi"})
	require.NoError(t, err)

	select {
	case event := <-s.Events():
		assert.Equal(t, EventMessageChunk, event.Type)
	case <-time.After(time.Second):
		t.Fatal("expected a chunk before blocking")
	}

	require.NoError(t, s.Close())

	select {
	case _, ok := <-s.Events():
		assert.False(t, ok, "expected stream to close without a terminal event")
	case <-time.After(time.Second):
		t.Fatal("expected stream to close after Close")
	}
}
