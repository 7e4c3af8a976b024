package bus

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestQueueSubscribeRedeliversThenSucceeds(t *testing.T) {
	b := NewMemoryEventBus(newTestLogger(t))
	defer b.Close()

	var mu sync.Mutex
	attempts := 0

	sub, err := b.QueueSubscribe("agent.task", "runners", func(ctx context.Context, event *Event) error {
		mu.Lock()
		defer mu.Unlock()
		attempts++
		if attempts < 2 {
			return errors.New("transient")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("QueueSubscribe failed: %v", err)
	}
	defer func() { _ = sub.Unsubscribe() }()

	event := NewEvent("task.dispatched", "test", map[string]interface{}{"task_id": "task-1"})
	if err := b.Publish(context.Background(), "agent.task", event); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}

	deadline := time.After(time.Second)
	for {
		mu.Lock()
		done := attempts >= 2
		mu.Unlock()
		if done {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("Expected 2 attempts, got %d", attempts)
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestQueueSubscribeDeadLettersExhaustedEvents(t *testing.T) {
	b := NewMemoryEventBus(newTestLogger(t))
	defer b.Close()

	var mu sync.Mutex
	attempts := 0
	deadLettered := make(chan *Event, 1)

	dlqSub, err := b.Subscribe("agent.task"+DLQSuffix, func(ctx context.Context, event *Event) error {
		deadLettered <- event
		return nil
	})
	if err != nil {
		t.Fatalf("Subscribe to DLQ failed: %v", err)
	}
	defer func() { _ = dlqSub.Unsubscribe() }()

	sub, err := b.QueueSubscribe("agent.task", "runners", func(ctx context.Context, event *Event) error {
		mu.Lock()
		attempts++
		mu.Unlock()
		return errors.New("permanent")
	})
	if err != nil {
		t.Fatalf("QueueSubscribe failed: %v", err)
	}
	defer func() { _ = sub.Unsubscribe() }()

	event := NewEvent("task.dispatched", "test", map[string]interface{}{"task_id": "task-1"})
	if err := b.Publish(context.Background(), "agent.task", event); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}

	select {
	case got := <-deadLettered:
		if got.Data["_error"] != "permanent" {
			t.Errorf("Expected dead-letter to carry the error, got %v", got.Data["_error"])
		}
		if Attempt(got) != DefaultMaxRedeliver {
			t.Errorf("Expected %d attempts recorded, got %d", DefaultMaxRedeliver, Attempt(got))
		}
	case <-time.After(time.Second):
		t.Fatal("Expected event on dead-letter subject")
	}

	mu.Lock()
	defer mu.Unlock()
	if attempts != DefaultMaxRedeliver {
		t.Errorf("Expected %d handler attempts, got %d", DefaultMaxRedeliver, attempts)
	}
}

func TestSetMaxRedeliverBoundsAttempts(t *testing.T) {
	b := NewMemoryEventBus(newTestLogger(t))
	defer b.Close()
	b.SetMaxRedeliver(1)

	var mu sync.Mutex
	attempts := 0
	sub, err := b.QueueSubscribe("agent.task", "runners", func(ctx context.Context, event *Event) error {
		mu.Lock()
		attempts++
		mu.Unlock()
		return errors.New("always")
	})
	if err != nil {
		t.Fatalf("QueueSubscribe failed: %v", err)
	}
	defer func() { _ = sub.Unsubscribe() }()

	event := NewEvent("task.dispatched", "test", nil)
	if err := b.Publish(context.Background(), "agent.task", event); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if attempts != 1 {
		t.Errorf("Expected a single attempt, got %d", attempts)
	}
}
