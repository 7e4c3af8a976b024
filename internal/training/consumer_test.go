package training

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentgrid/agentgrid/internal/common/logger"
	"github.com/agentgrid/agentgrid/internal/dispatcher"
	"github.com/agentgrid/agentgrid/internal/events"
	"github.com/agentgrid/agentgrid/internal/events/bus"
	"github.com/agentgrid/agentgrid/internal/store"
)

func newTestLogger(t *testing.T) *logger.Logger {
	log, err := logger.NewLogger(logger.LoggingConfig{Level: "debug", Format: "console", OutputPath: "stdout"})
	require.NoError(t, err)
	return log
}

type docRecorder struct {
	trainingIDs []string
	err         error
}

func (d *docRecorder) Generate(ctx context.Context, trainingID string) error {
	d.trainingIDs = append(d.trainingIDs, trainingID)
	return d.err
}

type fixture struct {
	store *store.MemoryStore
	bus   *bus.MemoryEventBus
	disp  *dispatcher.Service
	docs  *docRecorder
}

func newFixture(t *testing.T, scanner Scanner) *fixture {
	t.Helper()
	log := newTestLogger(t)
	st := store.NewMemoryStore()
	eventBus := bus.NewMemoryEventBus(log)
	t.Cleanup(eventBus.Close)

	require.NoError(t, st.CreateProject(context.Background(), &store.Project{
		ID: "proj-1", OrganizationID: "org-1", Name: "Analytics",
	}))

	docs := &docRecorder{}
	consumer := NewConsumer(st, eventBus, scanner, docs, log)
	require.NoError(t, consumer.Start())
	t.Cleanup(func() { _ = consumer.Stop() })

	return &fixture{
		store: st,
		bus:   eventBus,
		disp:  dispatcher.NewService(st, eventBus, log),
		docs:  docs,
	}
}

func TestTrainingRunsToCompletion(t *testing.T) {
	var fractions []float64
	f := newFixture(t, ScannerFunc(func(ctx context.Context, tr *store.Training, progress func(float64)) error {
		for _, fr := range []float64{0.5, 1} {
			fractions = append(fractions, fr)
			progress(fr)
		}
		return nil
	}))
	ctx := context.Background()

	// The memory bus delivers synchronously, so the scan runs inside
	// StartTraining.
	training, err := f.disp.StartTraining(ctx, "proj-1", []string{"ds-1", "ds-2"})
	require.NoError(t, err)

	got, err := f.store.GetTraining(ctx, training.ID)
	require.NoError(t, err)
	assert.Equal(t, store.TrainingStatusCompleted, got.Status)
	assert.Equal(t, 1.0, got.Progress)
	assert.Empty(t, got.Error)
	assert.Equal(t, []float64{0.5, 1}, fractions)
	assert.Equal(t, []string{training.ID}, f.docs.trainingIDs)
}

func TestTrainingScanFailureIsTerminal(t *testing.T) {
	f := newFixture(t, ScannerFunc(func(ctx context.Context, tr *store.Training, progress func(float64)) error {
		progress(0.25)
		return errors.New("datasource unreachable")
	}))
	ctx := context.Background()

	training, err := f.disp.StartTraining(ctx, "proj-1", []string{"ds-1"})
	require.NoError(t, err)

	got, err := f.store.GetTraining(ctx, training.ID)
	require.NoError(t, err)
	assert.Equal(t, store.TrainingStatusFailed, got.Status)
	assert.Equal(t, 0.25, got.Progress)
	assert.Contains(t, got.Error, "datasource unreachable")
	// Failed scans never regenerate documentation.
	assert.Empty(t, f.docs.trainingIDs)
}

func TestTrainingSkipsNonQueuedJobs(t *testing.T) {
	calls := 0
	f := newFixture(t, ScannerFunc(func(ctx context.Context, tr *store.Training, progress func(float64)) error {
		calls++
		return nil
	}))
	ctx := context.Background()

	training := &store.Training{ProjectID: "proj-1", Status: store.TrainingStatusCompleted}
	require.NoError(t, f.store.CreateTraining(ctx, training))

	consumer := NewConsumer(f.store, f.bus, nil, nil, newTestLogger(t))
	require.NoError(t, consumer.Handle(ctx, &events.TrainingDispatch{
		TrainingID: training.ID,
		ProjectID:  "proj-1",
	}))

	got, err := f.store.GetTraining(ctx, training.ID)
	require.NoError(t, err)
	assert.Equal(t, store.TrainingStatusCompleted, got.Status)
	assert.Zero(t, calls)
}

func TestTrainingMissingJobIsDropped(t *testing.T) {
	f := newFixture(t, nil)
	consumer := NewConsumer(f.store, f.bus, nil, nil, newTestLogger(t))
	require.NoError(t, consumer.Handle(context.Background(), &events.TrainingDispatch{
		TrainingID: "nope",
		ProjectID:  "proj-1",
	}))
}

func TestNoopScannerReportsFullProgress(t *testing.T) {
	var last float64
	err := NoopScanner().Scan(context.Background(), &store.Training{
		DataSourceIDs: []string{"a", "b", "c"},
	}, func(fr float64) { last = fr })
	require.NoError(t, err)
	assert.Equal(t, 1.0, last)
}
