// Package evaluation fans an evaluation run out over its test cases: each
// case runs against the target agent, the answer is graded by a grading
// agent, and the parsed scores aggregate into an overall run score.
package evaluation

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/agentgrid/agentgrid/internal/common/logger"
	"github.com/agentgrid/agentgrid/internal/dispatcher"
	"github.com/agentgrid/agentgrid/internal/store"
)

const (
	defaultPollInterval = time.Second
	maxPollIterations   = 3600
	fanOutConcurrency   = 8
)

// timeoutError is written to runs whose poll budget elapses.
const timeoutError = "Evaluation timed out"

// Orchestrator drives evaluation runs to completion.
type Orchestrator struct {
	store        store.Store
	dispatcher   *dispatcher.Service
	logger       *logger.Logger
	pollInterval time.Duration
}

// New creates an evaluation orchestrator.
func New(st store.Store, disp *dispatcher.Service, log *logger.Logger) *Orchestrator {
	return &Orchestrator{
		store:        st,
		dispatcher:   disp,
		logger:       log.WithFields(zap.String("component", "eval-orchestrator")),
		pollInterval: defaultPollInterval,
	}
}

// SetPollInterval overrides the poll interval.
func (o *Orchestrator) SetPollInterval(d time.Duration) {
	if d > 0 {
		o.pollInterval = d
	}
}

// Run executes one evaluation run to completion. It blocks for the life of
// the run; callers start it on its own goroutine.
func (o *Orchestrator) Run(ctx context.Context, runID string) error {
	run, err := o.store.GetEvaluationRun(ctx, runID)
	if err != nil {
		return fmt.Errorf("failed to load evaluation run: %w", err)
	}
	eval, err := o.store.GetEvaluation(ctx, run.EvaluationID)
	if err != nil {
		return o.failRun(ctx, runID, fmt.Sprintf("failed to load evaluation: %v", err))
	}

	cases := make(map[string]store.TestCase, len(eval.TestCases))
	results := make([]store.TestCaseResult, 0, len(eval.TestCases))
	for _, tc := range eval.TestCases {
		cases[tc.ID] = tc
		results = append(results, store.TestCaseResult{TestCaseID: tc.ID, Status: store.TestCasePending})
	}
	if _, err := o.store.UpdateEvaluationRun(ctx, runID, store.Patch{
		"status":            store.EvaluationRunRunning,
		"total_test_cases":  len(results),
		"test_case_results": results,
	}); err != nil {
		return fmt.Errorf("failed to start evaluation run: %w", err)
	}

	o.fanOut(ctx, run, cases, results)
	o.save(ctx, runID, results)

	ticker := time.NewTicker(o.pollInterval)
	defer ticker.Stop()

	for iteration := 0; iteration < maxPollIterations; iteration++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		changed := o.advance(ctx, run, eval, cases, results)
		if changed {
			o.save(ctx, runID, results)
		}
		if allTerminal(results) {
			return o.aggregate(ctx, runID, results)
		}
	}

	o.save(ctx, runID, results)
	return o.failRun(ctx, runID, timeoutError)
}

// fanOut creates the target task pair for every pending case, a bounded
// number at a time. A creation failure marks only that result failed. Each
// goroutine owns exactly one slot of results.
func (o *Orchestrator) fanOut(ctx context.Context, run *store.EvaluationRun, cases map[string]store.TestCase, results []store.TestCaseResult) {
	now := time.Now().UTC()
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(fanOutConcurrency)
	for i := range results {
		g.Go(func() error {
			tc := cases[results[i].TestCaseID]
			_, assistant, err := o.dispatcher.CreatePair(gctx, run.ProjectID, dispatcher.DispatchRequest{
				ProjectID: run.ProjectID,
				AgentID:   run.TargetAgentID,
				Content:   tc.Task,
				Metadata: map[string]any{
					"evaluation_run_id": run.ID,
					"test_case_id":      tc.ID,
				},
			})
			if err != nil {
				results[i].Status = store.TestCaseFailed
				results[i].ErrorMessage = fmt.Sprintf("failed to create target task: %v", err)
				o.logger.Warn("Target task creation failed",
					zap.String("run_id", run.ID),
					zap.String("test_case_id", tc.ID),
					zap.Error(err))
				return nil
			}
			results[i].TargetTaskID = assistant.ID
			results[i].Status = store.TestCaseRunningTarget
			results[i].StartedAt = &now
			return nil
		})
	}
	_ = g.Wait()
}

// advance moves every non-terminal result one step when its backing task
// finished. Returns whether anything changed.
func (o *Orchestrator) advance(ctx context.Context, run *store.EvaluationRun, eval *store.Evaluation, cases map[string]store.TestCase, results []store.TestCaseResult) bool {
	changed := false
	for i := range results {
		switch results[i].Status {
		case store.TestCaseRunningTarget:
			if o.advanceTarget(ctx, run, eval, cases, &results[i]) {
				changed = true
			}
		case store.TestCaseRunningGrader:
			if o.advanceGrader(ctx, &results[i]) {
				changed = true
			}
		}
	}
	return changed
}

func (o *Orchestrator) advanceTarget(ctx context.Context, run *store.EvaluationRun, eval *store.Evaluation, cases map[string]store.TestCase, result *store.TestCaseResult) bool {
	task, err := o.store.GetTask(ctx, result.TargetTaskID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			result.Status = store.TestCaseFailed
			result.ErrorMessage = "target task disappeared"
			return true
		}
		o.logger.Warn("Failed to poll target task", zap.String("task_id", result.TargetTaskID), zap.Error(err))
		return false
	}
	switch task.Status {
	case store.TaskStatusCompleted:
	case store.TaskStatusFailed:
		result.Status = store.TestCaseFailed
		result.ErrorMessage = fmt.Sprintf("target task failed: %s", task.Error)
		return true
	default:
		return false
	}

	result.TargetResponse = task.Content

	gradingProject := run.GradingProjectID
	if gradingProject == "" {
		gradingProject = run.ProjectID
	}
	tc := cases[result.TestCaseID]
	_, grader, err := o.dispatcher.CreatePair(ctx, gradingProject, dispatcher.DispatchRequest{
		ProjectID: gradingProject,
		AgentID:   run.GradingAgentID,
		Content:   GraderPrompt(tc, task.Content, eval.Criteria),
		Metadata: map[string]any{
			"evaluation_run_id": run.ID,
			"test_case_id":      tc.ID,
			"grader":            true,
		},
	})
	if err != nil {
		result.Status = store.TestCaseFailed
		result.ErrorMessage = fmt.Sprintf("failed to create grader task: %v", err)
		return true
	}
	result.GraderTaskID = grader.ID
	result.Status = store.TestCaseRunningGrader
	return true
}

func (o *Orchestrator) advanceGrader(ctx context.Context, result *store.TestCaseResult) bool {
	task, err := o.store.GetTask(ctx, result.GraderTaskID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			result.Status = store.TestCaseFailed
			result.ErrorMessage = "grader task disappeared"
			return true
		}
		o.logger.Warn("Failed to poll grader task", zap.String("task_id", result.GraderTaskID), zap.Error(err))
		return false
	}
	switch task.Status {
	case store.TaskStatusCompleted:
	case store.TaskStatusFailed:
		result.Status = store.TestCaseFailed
		result.ErrorMessage = fmt.Sprintf("grader task failed: %s", task.Error)
		return true
	default:
		return false
	}

	now := time.Now().UTC()
	result.GraderResponse = task.Content
	result.Score = ParseScore(task.Content)
	result.Status = store.TestCaseCompleted
	result.CompletedAt = &now
	return true
}

// aggregate writes the final counts and the mean score over completed
// results that produced one.
func (o *Orchestrator) aggregate(ctx context.Context, runID string, results []store.TestCaseResult) error {
	var sum float64
	var scored, completed, failed int
	for _, r := range results {
		switch r.Status {
		case store.TestCaseCompleted:
			completed++
			if r.Score != nil {
				sum += *r.Score
				scored++
			}
		case store.TestCaseFailed:
			failed++
		}
	}

	patch := store.Patch{
		"status":               store.EvaluationRunCompleted,
		"completed_test_cases": completed,
		"failed_test_cases":    failed,
		"test_case_results":    results,
	}
	if scored > 0 {
		patch["overall_score"] = sum / float64(scored)
	}
	if _, err := o.store.UpdateEvaluationRun(ctx, runID, patch); err != nil {
		return fmt.Errorf("failed to finalize evaluation run: %w", err)
	}
	return nil
}

func (o *Orchestrator) save(ctx context.Context, runID string, results []store.TestCaseResult) {
	if _, err := o.store.UpdateEvaluationRun(ctx, runID, store.Patch{"test_case_results": results}); err != nil {
		o.logger.Warn("Failed to persist test case results",
			zap.String("run_id", runID), zap.Error(err))
	}
}

func (o *Orchestrator) failRun(ctx context.Context, runID, reason string) error {
	if _, err := o.store.UpdateEvaluationRun(ctx, runID, store.Patch{
		"status": store.EvaluationRunFailed,
		"error":  reason,
	}); err != nil {
		return fmt.Errorf("failed to fail evaluation run: %w", err)
	}
	return errors.New(reason)
}

func allTerminal(results []store.TestCaseResult) bool {
	for _, r := range results {
		if !r.Status.Terminal() {
			return false
		}
	}
	return true
}

// GraderPrompt renders the structured grading prompt for one test case.
func GraderPrompt(tc store.TestCase, actualOutput, criteria string) string {
	var b strings.Builder
	b.WriteString("You are an expert evaluator. Assess how well the actual response fulfils the task, using the expected output and guideline below.\n\n")
	fmt.Fprintf(&b, "**Task/Query:** %s\n\n", tc.Task)
	fmt.Fprintf(&b, "**Expected Output:** %s\n\n", tc.ExpectedOutput)
	fmt.Fprintf(&b, "**Actual Response:** %s\n\n", actualOutput)
	fmt.Fprintf(&b, "**Evaluation Guideline:** %s\n\n", tc.EvaluationGuideline)
	fmt.Fprintf(&b, "**Overall Criteria:** %s\n\n", criteria)
	b.WriteString("Evaluate the actual response against the expected output and the criteria. Be strict but fair.\n\n")
	b.WriteString("**Required Response Format:**\n")
	b.WriteString("Score: [0.0-1.0]\n")
	b.WriteString("Reasoning: [Your detailed explanation]")
	return b.String()
}

var (
	labelledScoreRe = regexp.MustCompile(`Score:\s*([0-9]*\.?[0-9]+)`)
	bareNumberRe    = regexp.MustCompile(`[0-9]*\.?[0-9]+`)
)

// ParseScore extracts a grade in [0,1] from grader output. A labelled
// "Score:" value wins; otherwise the first bare number in range is used,
// scaling 0-10 and 0-100 values down. Returns nil when nothing parses.
func ParseScore(content string) *float64 {
	if m := labelledScoreRe.FindStringSubmatch(content); m != nil {
		if v, err := strconv.ParseFloat(m[1], 64); err == nil {
			return normalizeScore(v)
		}
	}

	var fallback *float64
	for _, m := range bareNumberRe.FindAllString(content, -1) {
		v, err := strconv.ParseFloat(m, 64)
		if err != nil {
			continue
		}
		if v >= 0 && v <= 1 {
			return &v
		}
		if fallback == nil {
			if n := normalizeScore(v); n != nil {
				fallback = n
			}
		}
	}
	return fallback
}

func normalizeScore(v float64) *float64 {
	switch {
	case v >= 0 && v <= 1:
	case v <= 10:
		v /= 10
	case v <= 100:
		v /= 100
	default:
		return nil
	}
	return &v
}
