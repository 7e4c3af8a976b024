// Package training drains the training.job subject and drives data-scan
// jobs through their lifecycle.
package training

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/agentgrid/agentgrid/internal/common/logger"
	"github.com/agentgrid/agentgrid/internal/events"
	"github.com/agentgrid/agentgrid/internal/events/bus"
	"github.com/agentgrid/agentgrid/internal/store"
)

// Scanner walks a training's data sources and reports fractional progress.
// The scan internals are pluggable; the consumer owns the status lifecycle.
type Scanner interface {
	Scan(ctx context.Context, training *store.Training, progress func(float64)) error
}

// ScannerFunc adapts a function to the Scanner interface.
type ScannerFunc func(ctx context.Context, training *store.Training, progress func(float64)) error

// Scan implements Scanner.
func (f ScannerFunc) Scan(ctx context.Context, training *store.Training, progress func(float64)) error {
	return f(ctx, training, progress)
}

// NoopScanner steps through the training's data sources without reading them.
// It is the default until a real scan backend is registered.
func NoopScanner() Scanner {
	return ScannerFunc(func(ctx context.Context, training *store.Training, progress func(float64)) error {
		total := len(training.DataSourceIDs)
		if total == 0 {
			progress(1)
			return nil
		}
		for i := range training.DataSourceIDs {
			if err := ctx.Err(); err != nil {
				return err
			}
			progress(float64(i+1) / float64(total))
		}
		return nil
	})
}

// DocGenerator regenerates a project's documentation once a scan finishes.
type DocGenerator interface {
	Generate(ctx context.Context, trainingID string) error
}

// Consumer subscribes to training.job in the trainers queue group and runs
// dispatched scans.
type Consumer struct {
	store   store.Store
	bus     bus.EventBus
	scanner Scanner
	docs    DocGenerator
	logger  *logger.Logger
	sub     bus.Subscription
}

// NewConsumer creates a broker consumer for training jobs. docs may be nil
// when documentation generation is disabled.
func NewConsumer(st store.Store, eventBus bus.EventBus, scanner Scanner, docs DocGenerator, log *logger.Logger) *Consumer {
	if scanner == nil {
		scanner = NoopScanner()
	}
	return &Consumer{
		store:   st,
		bus:     eventBus,
		scanner: scanner,
		docs:    docs,
		logger:  log,
	}
}

// Start subscribes to the training subject in the trainers queue group.
// The bus bounds redelivery of failed deliveries.
func (c *Consumer) Start() error {
	handler := func(ctx context.Context, event *bus.Event) error {
		payload, err := events.DecodePayload[events.TrainingDispatch](event)
		if err != nil {
			c.logger.Error("Dropping malformed training dispatch", zap.Error(err))
			return nil
		}
		return c.Handle(ctx, payload)
	}
	sub, err := c.bus.QueueSubscribe(events.SubjectTrainingJob, events.QueueTrainers, handler)
	if err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", events.SubjectTrainingJob, err)
	}
	c.sub = sub
	return nil
}

// Stop unsubscribes the consumer.
func (c *Consumer) Stop() error {
	if c.sub == nil {
		return nil
	}
	return c.sub.Unsubscribe()
}

// Handle runs one dispatched training end to end. A returned error signals a
// store fault eligible for redelivery; scan failures finalize the training as
// failed and return nil.
func (c *Consumer) Handle(ctx context.Context, payload *events.TrainingDispatch) error {
	training, err := c.store.GetTraining(ctx, payload.TrainingID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.logger.Warn("Dispatched training not found", zap.String("training_id", payload.TrainingID))
			return nil
		}
		return fmt.Errorf("failed to load training: %w", err)
	}
	if training.Status != store.TrainingStatusQueued {
		// Already picked up or finalized elsewhere.
		c.logger.Debug("Skipping training not in queued state",
			zap.String("training_id", training.ID),
			zap.String("status", string(training.Status)))
		return nil
	}

	training, err = c.store.UpdateTraining(ctx, training.ID, store.Patch{
		"status":   store.TrainingStatusInProgress,
		"progress": 0.0,
	})
	if err != nil {
		return fmt.Errorf("failed to mark training in progress: %w", err)
	}

	scanErr := c.scanner.Scan(ctx, training, func(fraction float64) {
		if fraction < 0 {
			fraction = 0
		}
		if fraction > 1 {
			fraction = 1
		}
		if _, perr := c.store.UpdateTraining(ctx, training.ID, store.Patch{"progress": fraction}); perr != nil {
			c.logger.Warn("Failed to record training progress",
				zap.String("training_id", training.ID),
				zap.Error(perr))
		}
	})
	if scanErr != nil {
		// Scan failures are terminal; they are never requeued.
		_, err = c.store.UpdateTraining(ctx, training.ID, store.Patch{
			"status": store.TrainingStatusFailed,
			"error":  scanErr.Error(),
		})
		if err != nil {
			return fmt.Errorf("failed to mark training failed: %w", err)
		}
		c.logger.Warn("Training scan failed",
			zap.String("training_id", training.ID),
			zap.Error(scanErr))
		return nil
	}

	if _, err = c.store.UpdateTraining(ctx, training.ID, store.Patch{
		"status":   store.TrainingStatusCompleted,
		"progress": 1.0,
	}); err != nil {
		return fmt.Errorf("failed to complete training: %w", err)
	}
	c.logger.Info("Training completed",
		zap.String("training_id", training.ID),
		zap.String("project_id", training.ProjectID))

	if c.docs != nil {
		if err := c.docs.Generate(ctx, training.ID); err != nil {
			// Documentation is best effort; the scan result stands.
			c.logger.Warn("Documentation generation failed after training",
				zap.String("training_id", training.ID),
				zap.Error(err))
		}
	}
	return nil
}
