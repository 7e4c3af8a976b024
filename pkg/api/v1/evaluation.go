package v1

import "time"

// Evaluation describes how a target agent should be graded.
type Evaluation struct {
	ID            string     `json:"id"`
	ProjectID     string     `json:"project_id"`
	TargetAgentID string     `json:"target_agent_id"`
	Criteria      string     `json:"criteria,omitempty"`
	TestCases     []TestCase `json:"test_cases,omitempty"`
	TestCaseCount int        `json:"test_case_count"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// TestCase is a single graded exercise.
type TestCase struct {
	ID                  string `json:"id,omitempty"`
	Task                string `json:"task" binding:"required"`
	ExpectedOutput      string `json:"expected_output" binding:"required"`
	EvaluationGuideline string `json:"evaluation_guideline,omitempty"`
}

// CreateEvaluationRequest defines an evaluation for a target agent.
type CreateEvaluationRequest struct {
	TargetAgentID string     `json:"target_agent_id" binding:"required"`
	Criteria      string     `json:"criteria,omitempty"`
	TestCases     []TestCase `json:"test_cases" binding:"required,min=1,dive"`
}

// StartEvaluationRunRequest launches an evaluation run.
type StartEvaluationRunRequest struct {
	GradingAgentID   string `json:"grading_agent_id" binding:"required"`
	GradingProjectID string `json:"grading_project_id,omitempty"`
}

// TestCaseResult is the per-test-case view inside an evaluation run.
type TestCaseResult struct {
	TestCaseID     string     `json:"test_case_id"`
	Status         string     `json:"status"`
	TargetResponse string     `json:"target_response,omitempty"`
	GraderResponse string     `json:"grader_response,omitempty"`
	Score          *float64   `json:"score,omitempty"`
	ErrorMessage   string     `json:"error_message,omitempty"`
	StartedAt      *time.Time `json:"started_at,omitempty"`
	CompletedAt    *time.Time `json:"completed_at,omitempty"`
}

// EvaluationRun is the API view of one evaluation execution.
type EvaluationRun struct {
	ID                 string           `json:"id"`
	EvaluationID       string           `json:"evaluation_id"`
	ProjectID          string           `json:"project_id"`
	Status             string           `json:"status"`
	TargetAgentID      string           `json:"target_agent_id"`
	GradingAgentID     string           `json:"grading_agent_id"`
	TotalTestCases     int              `json:"total_test_cases"`
	CompletedTestCases int              `json:"completed_test_cases"`
	FailedTestCases    int              `json:"failed_test_cases"`
	OverallScore       *float64         `json:"overall_score,omitempty"`
	TestCaseResults    []TestCaseResult `json:"test_case_results,omitempty"`
	Error              string           `json:"error,omitempty"`
	CreatedAt          time.Time        `json:"created_at"`
	UpdatedAt          time.Time        `json:"updated_at"`
}
