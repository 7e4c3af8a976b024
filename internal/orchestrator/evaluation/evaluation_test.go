package evaluation

import (
	"context"
	"strings"
	"testing"
	"time"

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

type evalFixture struct {
	store *store.MemoryStore
	orch  *Orchestrator
	run   *store.EvaluationRun
}

// respond answers dispatched tasks in place of a real runner. The function
// receives the user prompt and returns the assistant answer; returning a
// second value of true fails the task instead.
func newEvalFixture(t *testing.T, respond func(prompt string) (string, bool)) *evalFixture {
	t.Helper()
	st := store.NewMemoryStore()
	log := newTestLogger(t)
	eventBus := bus.NewMemoryEventBus(log)
	t.Cleanup(eventBus.Close)

	disp := dispatcher.NewService(st, eventBus, log)
	orch := New(st, disp, log)
	orch.SetPollInterval(time.Millisecond)

	ctx := context.Background()
	require.NoError(t, st.CreateProject(ctx, &store.Project{ID: "proj-1", OrganizationID: "org-1", Name: "Analytics"}))
	require.NoError(t, st.CreateAgent(ctx, &store.Agent{ID: "target", ProjectID: "proj-1", Name: "target", Instructions: "x"}))
	require.NoError(t, st.CreateAgent(ctx, &store.Agent{ID: "grader", ProjectID: "proj-1", Name: "grader", Instructions: "x"}))

	eval := &store.Evaluation{
		ID: "eval-1", ProjectID: "proj-1", TargetAgentID: "target",
		Criteria: "Be accurate.",
		TestCases: []store.TestCase{
			{ID: "tc-1", Task: "what is 2+2?", ExpectedOutput: "4", EvaluationGuideline: "exact match"},
			{ID: "tc-2", Task: "capital of France?", ExpectedOutput: "Paris"},
		},
		TestCaseCount: 2,
	}
	require.NoError(t, st.CreateEvaluation(ctx, eval))

	run := &store.EvaluationRun{
		ID: "run-1", EvaluationID: "eval-1", ProjectID: "proj-1",
		Status: store.EvaluationRunQueued, TargetAgentID: "target", GradingAgentID: "grader",
	}
	require.NoError(t, st.CreateEvaluationRun(ctx, run))

	// Stand-in runner: answer every dispatched assistant task synchronously.
	_, err := eventBus.QueueSubscribe(events.SubjectAgentTask, events.QueueRunners,
		func(hctx context.Context, event *bus.Event) error {
			payload, derr := events.DecodePayload[events.TaskDispatch](event)
			if derr != nil {
				return derr
			}
			userTask, gerr := st.GetTask(hctx, payload.UserTaskID)
			if gerr != nil {
				return gerr
			}
			answer, fail := respond(userTask.Content)
			if fail {
				_, _, uerr := st.UpdateTaskStatus(hctx, payload.TaskID, store.TaskStatusFailed, store.Patch{"error": answer})
				return uerr
			}
			_, _, uerr := st.UpdateTaskStatus(hctx, payload.TaskID, store.TaskStatusCompleted, store.Patch{"content": answer})
			return uerr
		})
	require.NoError(t, err)

	return &evalFixture{store: st, orch: orch, run: run}
}

func TestRunCompletesAndAggregates(t *testing.T) {
	f := newEvalFixture(t, func(prompt string) (string, bool) {
		switch {
		case strings.Contains(prompt, "Required Response Format"):
			// Grader leg: score by which test case the prompt embeds.
			if strings.Contains(prompt, "2+2") {
				return "Score: 0.8\nReasoning: close enough", false
			}
			return "Score: 0.6\nReasoning: partial", false
		case strings.Contains(prompt, "2+2"):
			return "The answer is 4.", false
		default:
			return "Paris", false
		}
	})

	require.NoError(t, f.orch.Run(context.Background(), "run-1"))

	run, err := f.store.GetEvaluationRun(context.Background(), "run-1")
	require.NoError(t, err)
	assert.Equal(t, store.EvaluationRunCompleted, run.Status)
	assert.Equal(t, 2, run.TotalTestCases)
	assert.Equal(t, 2, run.CompletedTestCases)
	assert.Equal(t, 0, run.FailedTestCases)
	require.NotNil(t, run.OverallScore)
	assert.InDelta(t, 0.7, *run.OverallScore, 1e-9)

	require.Len(t, run.TestCaseResults, 2)
	for _, result := range run.TestCaseResults {
		assert.Equal(t, store.TestCaseCompleted, result.Status)
		assert.NotEmpty(t, result.TargetTaskID)
		assert.NotEmpty(t, result.GraderTaskID)
		assert.NotEmpty(t, result.TargetResponse)
		assert.NotEmpty(t, result.GraderResponse)
		require.NotNil(t, result.Score)
		assert.NotNil(t, result.CompletedAt)
	}
}

func TestRunIsolatesFailedTarget(t *testing.T) {
	f := newEvalFixture(t, func(prompt string) (string, bool) {
		switch {
		case strings.Contains(prompt, "Required Response Format"):
			return "Score: 1.0", false
		case strings.Contains(prompt, "2+2"):
			return "model exploded", true
		default:
			return "Paris", false
		}
	})

	require.NoError(t, f.orch.Run(context.Background(), "run-1"))

	run, err := f.store.GetEvaluationRun(context.Background(), "run-1")
	require.NoError(t, err)
	assert.Equal(t, store.EvaluationRunCompleted, run.Status)
	assert.Equal(t, 1, run.CompletedTestCases)
	assert.Equal(t, 1, run.FailedTestCases)
	require.NotNil(t, run.OverallScore)
	assert.InDelta(t, 1.0, *run.OverallScore, 1e-9, "mean over scored results only")

	byCase := map[string]store.TestCaseResult{}
	for _, r := range run.TestCaseResults {
		byCase[r.TestCaseID] = r
	}
	assert.Equal(t, store.TestCaseFailed, byCase["tc-1"].Status)
	assert.Contains(t, byCase["tc-1"].ErrorMessage, "target task failed")
	assert.Equal(t, store.TestCaseCompleted, byCase["tc-2"].Status)
}

func TestGraderPromptEmbedsEverything(t *testing.T) {
	prompt := GraderPrompt(store.TestCase{
		Task:                "what is 2+2?",
		ExpectedOutput:      "4",
		EvaluationGuideline: "exact match",
	}, "The answer is 4.", "Be accurate.")

	assert.Contains(t, prompt, "**Task/Query:** what is 2+2?")
	assert.Contains(t, prompt, "**Expected Output:** 4")
	assert.Contains(t, prompt, "**Actual Response:** The answer is 4.")
	assert.Contains(t, prompt, "**Evaluation Guideline:** exact match")
	assert.Contains(t, prompt, "**Overall Criteria:** Be accurate.")
	assert.Contains(t, prompt, "Score: [0.0-1.0]")
	assert.Contains(t, prompt, "Reasoning: [Your detailed explanation]")
}

func TestParseScore(t *testing.T) {
	score := func(s string) *float64 { return ParseScore(s) }

	require.NotNil(t, score("Score: 0.85"))
	assert.InDelta(t, 0.85, *score("Score: 0.85"), 1e-9)

	// Labelled values above 1 scale down.
	assert.InDelta(t, 0.7, *score("Score: 7\nReasoning: decent"), 1e-9)
	assert.InDelta(t, 0.5, *score("Score: 50"), 1e-9)

	// Without a label, the first bare value in [0,1] wins.
	assert.InDelta(t, 0.9, *score("I would grade this 0.9 overall."), 1e-9)

	// Otherwise the first scalable value is used.
	assert.InDelta(t, 0.8, *score("8 out of 10"), 1e-9)

	assert.Nil(t, score("no verdict here"))
	assert.Nil(t, score("Score: 9000"))
}
