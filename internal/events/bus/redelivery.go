package bus

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/agentgrid/agentgrid/internal/common/logger"
)

const (
	// DLQSuffix is appended to a work subject after redelivery is exhausted.
	DLQSuffix = ".dlq"

	// attemptKey tracks the delivery attempt inside the event data.
	attemptKey = "_attempt"

	// DefaultMaxRedeliver bounds handler retries on queue subscriptions.
	DefaultMaxRedeliver = 3
)

// Attempt returns the 1-based delivery attempt recorded on the event.
func Attempt(event *Event) int {
	if event.Data == nil {
		return 1
	}
	switch v := event.Data[attemptKey].(type) {
	case float64:
		return int(v)
	case int:
		return v
	default:
		return 1
	}
}

// withRedelivery wraps a work-subject handler with bounded redelivery.
// Queue subscriptions apply it on both bus implementations: a failed
// delivery is republished on the same subject with an incremented attempt
// counter; once maxAttempts is exhausted the event moves to the subject's
// dead-letter subject and the error is swallowed.
func withRedelivery(b EventBus, subject string, maxAttempts int, log *logger.Logger, handler EventHandler) EventHandler {
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxRedeliver
	}
	return func(ctx context.Context, event *Event) error {
		err := handler(ctx, event)
		if err == nil {
			return nil
		}

		attempt := Attempt(event)
		if event.Data == nil {
			event.Data = make(map[string]interface{})
		}
		if attempt < maxAttempts {
			event.Data[attemptKey] = attempt + 1
			log.Warn("Handler failed, redelivering",
				zap.String("subject", subject),
				zap.String("event_id", event.ID),
				zap.Int("attempt", attempt),
				zap.Error(err))
			if pubErr := b.Publish(ctx, subject, event); pubErr != nil {
				return fmt.Errorf("failed to redeliver event %s: %w", event.ID, pubErr)
			}
			return nil
		}

		event.Data["_error"] = err.Error()
		log.Error("Handler exhausted redelivery, dead-lettering",
			zap.String("subject", subject),
			zap.String("event_id", event.ID),
			zap.Int("attempts", attempt),
			zap.Error(err))
		if pubErr := b.Publish(ctx, subject+DLQSuffix, event); pubErr != nil {
			return fmt.Errorf("failed to dead-letter event %s: %w", event.ID, pubErr)
		}
		return nil
	}
}
