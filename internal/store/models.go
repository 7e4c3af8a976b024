package store

import (
	"time"
)

// TaskRole identifies which side of a task pair a document represents.
type TaskRole string

const (
	// TaskRoleUser is the prompt side of a task pair.
	TaskRoleUser TaskRole = "user"
	// TaskRoleAssistant is the response side of a task pair.
	TaskRoleAssistant TaskRole = "assistant"
)

// TaskStatus represents the lifecycle state of a task.
// Transitions are monotonic: queued -> processing -> {completed, failed}.
type TaskStatus string

const (
	TaskStatusQueued     TaskStatus = "queued"
	TaskStatusProcessing TaskStatus = "processing"
	TaskStatusCompleted  TaskStatus = "completed"
	TaskStatusFailed     TaskStatus = "failed"
)

// statusRank orders task statuses for monotonicity checks.
var statusRank = map[TaskStatus]int{
	TaskStatusQueued:     0,
	TaskStatusProcessing: 1,
	TaskStatusCompleted:  2,
	TaskStatusFailed:     2,
}

// Allows reports whether a transition from s to next is forward in the
// status DAG. Terminal states allow no further transitions.
func (s TaskStatus) Allows(next TaskStatus) bool {
	cur, ok := statusRank[s]
	if !ok {
		return true
	}
	nxt, ok := statusRank[next]
	if !ok {
		return false
	}
	if cur >= 2 {
		return false
	}
	return nxt > cur
}

// Terminal reports whether the task accepts no further status writes.
func (s TaskStatus) Terminal() bool {
	return statusRank[s] >= 2
}

// AgentState enables or disables an agent for dispatch.
type AgentState string

const (
	AgentStateEnabled  AgentState = "enabled"
	AgentStateDisabled AgentState = "disabled"
)

// TrainingStatus represents the lifecycle state of a data-scan training job.
type TrainingStatus string

const (
	TrainingStatusQueued     TrainingStatus = "queued"
	TrainingStatusInProgress TrainingStatus = "in_progress"
	TrainingStatusCompleted  TrainingStatus = "completed"
	TrainingStatusFailed     TrainingStatus = "failed"
)

// EvaluationRunStatus represents the lifecycle state of an evaluation run.
type EvaluationRunStatus string

const (
	EvaluationRunQueued    EvaluationRunStatus = "queued"
	EvaluationRunRunning   EvaluationRunStatus = "running"
	EvaluationRunCompleted EvaluationRunStatus = "completed"
	EvaluationRunFailed    EvaluationRunStatus = "failed"
	EvaluationRunCancelled EvaluationRunStatus = "cancelled"
)

// TestCaseStatus tracks one test case inside an evaluation run.
type TestCaseStatus string

const (
	TestCasePending       TestCaseStatus = "pending"
	TestCaseRunningTarget TestCaseStatus = "running_target"
	TestCaseRunningGrader TestCaseStatus = "running_grader"
	TestCaseCompleted     TestCaseStatus = "completed"
	TestCaseFailed        TestCaseStatus = "failed"
)

// Terminal reports whether the test case needs no further work.
func (s TestCaseStatus) Terminal() bool {
	return s == TestCaseCompleted || s == TestCaseFailed
}

// ToolStatus tracks MCP tool metadata synthesis.
type ToolStatus string

const (
	ToolStatusGenerating ToolStatus = "generating"
	ToolStatusReady      ToolStatus = "ready"
	ToolStatusFailed     ToolStatus = "failed"
)

// Project is the tenancy root. All other entities hang off a project.
type Project struct {
	ID             string    `json:"id"`
	OrganizationID string    `json:"organization_id"`
	Name           string    `json:"name"`
	Members        []string  `json:"members,omitempty"`
	APIKey         string    `json:"api_key,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// AgentVersion is one snapshot in an agent's version log.
type AgentVersion struct {
	Instructions string    `json:"instructions"`
	OutputFormat string    `json:"output_format"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedBy    string    `json:"updated_by,omitempty"`
}

// GatewayBinding records that an agent has been published as an MCP tool.
type GatewayBinding struct {
	GatewayID string    `json:"gateway_id"`
	ToolID    string    `json:"tool_id"`
	EnabledAt time.Time `json:"enabled_at"`
}

// Agent is a prompt + output format + capabilities scoped to a project.
type Agent struct {
	ID           string         `json:"id"`
	ProjectID    string         `json:"project_id"`
	Name         string         `json:"name"`
	Description  string         `json:"description,omitempty"`
	Instructions string         `json:"instructions"`
	OutputFormat string         `json:"output_format,omitempty"`
	State        AgentState     `json:"state"`
	Deployed     bool           `json:"deployed"`
	Capabilities []string       `json:"capabilities,omitempty"`
	Metadata     map[string]any `json:"metadata,omitempty"`
	// Versions is the newest-first log of prior instruction/output-format
	// snapshots, capped at MaxAgentVersions.
	Versions  []AgentVersion `json:"versions,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// MaxAgentVersions caps the agent version log.
const MaxAgentVersions = 30

// MaxInstructionsLen caps agent instructions.
const MaxInstructionsLen = 20000

// Task is the unit of work. Tasks are created in user/assistant pairs; the
// assistant side carries the response and the status machine.
type Task struct {
	ID            string         `json:"id"`
	ProjectID     string         `json:"project_id"`
	AgentID       string         `json:"agent_id"`
	Role          TaskRole       `json:"role"`
	Content       string         `json:"content"`
	Status        TaskStatus     `json:"status"`
	RelatedTaskID string         `json:"related_task_id,omitempty"`
	Error         string         `json:"error,omitempty"`
	Metadata      map[string]any `json:"metadata,omitempty"`
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
}

// Conversation is a multi-turn thread bound to at most one agent.
type Conversation struct {
	ID         string    `json:"id"`
	ProjectID  string    `json:"project_id"`
	AgentID    string    `json:"agent_id,omitempty"`
	MessageIDs []string  `json:"message_ids,omitempty"`
	SessionID  string    `json:"session_id,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Message is one streamed event persisted for audit/replay.
type Message struct {
	ID             string         `json:"id"`
	ConversationID string         `json:"conversation_id"`
	EventType      string         `json:"event_type"`
	Content        string         `json:"content,omitempty"`
	Metadata       map[string]any `json:"metadata,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
}

// ProjectMDStatus tracks the embedded documentation-generation sub-state of a
// training.
type ProjectMDStatus string

const (
	ProjectMDInProgress ProjectMDStatus = "in_progress"
	ProjectMDCompleted  ProjectMDStatus = "completed"
	ProjectMDFailed     ProjectMDStatus = "failed"
)

// ProjectMD is the documentation-generation sub-state embedded in a training.
type ProjectMD struct {
	Status                 ProjectMDStatus `json:"status,omitempty"`
	DocumentationAgentID   string          `json:"documentation_agent_id,omitempty"`
	DocumentationProjectID string          `json:"documentation_project_id,omitempty"`
	S3URL                  string          `json:"s3_url,omitempty"`
	ErrorMessage           string          `json:"error_message,omitempty"`
	StartedAt              *time.Time      `json:"started_at,omitempty"`
	CompletedAt            *time.Time      `json:"completed_at,omitempty"`
}

// Training is a long-running data-scan job.
type Training struct {
	ID            string         `json:"id"`
	ProjectID     string         `json:"project_id"`
	DataSourceIDs []string       `json:"data_source_ids,omitempty"`
	Status        TrainingStatus `json:"status"`
	Progress      float64        `json:"progress"`
	Error         string         `json:"error,omitempty"`
	ProjectMD     ProjectMD      `json:"projectmd"`
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
}

// TestCase is one row of an evaluation's test-case CSV.
type TestCase struct {
	ID                  string `json:"id"`
	Task                string `json:"task"`
	ExpectedOutput      string `json:"expected_output"`
	EvaluationGuideline string `json:"evaluation_guideline,omitempty"`
}

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

// TestCaseResult tracks one test case through target and grader execution.
type TestCaseResult struct {
	TestCaseID     string         `json:"test_case_id"`
	Status         TestCaseStatus `json:"status"`
	TargetTaskID   string         `json:"target_task_id,omitempty"`
	GraderTaskID   string         `json:"grader_task_id,omitempty"`
	TargetResponse string         `json:"target_response,omitempty"`
	GraderResponse string         `json:"grader_response,omitempty"`
	Score          *float64       `json:"score,omitempty"`
	ErrorMessage   string         `json:"error_message,omitempty"`
	StartedAt      *time.Time     `json:"started_at,omitempty"`
	CompletedAt    *time.Time     `json:"completed_at,omitempty"`
}

// EvaluationRun is one execution of an evaluation.
type EvaluationRun struct {
	ID                  string              `json:"id"`
	EvaluationID        string              `json:"evaluation_id"`
	ProjectID           string              `json:"project_id"`
	Status              EvaluationRunStatus `json:"status"`
	TargetAgentID       string              `json:"target_agent_id"`
	GradingAgentID      string              `json:"grading_agent_id"`
	GradingProjectID    string              `json:"grading_project_id,omitempty"`
	TotalTestCases      int                 `json:"total_test_cases"`
	CompletedTestCases  int                 `json:"completed_test_cases"`
	FailedTestCases     int                 `json:"failed_test_cases"`
	OverallScore        *float64            `json:"overall_score,omitempty"`
	TestCaseResults     []TestCaseResult    `json:"test_case_results,omitempty"`
	Error               string              `json:"error,omitempty"`
	CreatedAt           time.Time           `json:"created_at"`
	UpdatedAt           time.Time           `json:"updated_at"`
}

// Gateway groups MCP tools published from agents and exposes an API key.
type Gateway struct {
	ID        string    `json:"id"`
	ProjectID string    `json:"project_id"`
	Name      string    `json:"name"`
	APIKey    string    `json:"api_key"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Tool is an MCP tool synthesized from a source agent.
type Tool struct {
	ID           string         `json:"id"`
	GatewayID    string         `json:"gateway_id"`
	AgentID      string         `json:"agent_id"`
	ToolName     string         `json:"tool_name"`
	Description  string         `json:"description,omitempty"`
	InputSchema  map[string]any `json:"input_schema,omitempty"`
	OutputFormat string         `json:"output_format,omitempty"`
	Status       ToolStatus     `json:"status"`
	Enabled      bool           `json:"enabled"`
	Metadata     map[string]any `json:"metadata,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
}

// UploadFile is one entry in a folder-upload manifest.
type UploadFile struct {
	RelativePath string `json:"relative_path"`
	FileSize     int64  `json:"file_size"`
	ContentType  string `json:"content_type,omitempty"`
	S3Key        string `json:"s3_key,omitempty"`
	Depth        int    `json:"depth"`
	ParentPath   string `json:"parent_path,omitempty"`
}

// FolderUpload is a validated file-tree manifest.
type FolderUpload struct {
	ID         string       `json:"id"`
	ProjectID  string       `json:"project_id"`
	Files      []UploadFile `json:"files,omitempty"`
	TotalFiles int          `json:"total_files"`
	TotalSize  int64        `json:"total_size"`
	MaxDepth   int          `json:"max_depth"`
	CreatedAt  time.Time    `json:"created_at"`
	UpdatedAt  time.Time    `json:"updated_at"`
}

// ProviderCredential holds the per-project configuration for one external
// data-source provider.
type ProviderCredential struct {
	ID           string         `json:"id"`
	ProjectID    string         `json:"project_id"`
	ProviderType string         `json:"provider_type"`
	Config       map[string]any `json:"config,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
}
