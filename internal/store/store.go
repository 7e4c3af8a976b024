// Package store provides durable persistence for projects, agents, tasks and
// the other platform entities. The interface is deliberately small: insert,
// get, find, partial-merge update, delete, and count per collection, so every
// consumer can be unit-tested against the in-memory implementation.
package store

import (
	"context"
	"errors"
)

var (
	// ErrNotFound is returned when a document does not exist.
	ErrNotFound = errors.New("not found")
	// ErrConflict is returned on unique-constraint violations.
	ErrConflict = errors.New("conflict")
	// ErrValidation is returned when a document fails schema checks.
	ErrValidation = errors.New("validation failed")
)

// Patch is a partial-merge update. Keys use the document's JSON field names.
// Every applied patch sets updated_at; atomicity is limited to a single
// document.
type Patch map[string]any

// TaskFilter selects tasks for Find/Count operations.
type TaskFilter struct {
	ProjectID string
	AgentID   string
	Role      TaskRole
	Statuses  []TaskStatus
}

// Store is the authoritative shared state of the platform. Cross-entity
// traversal goes through ids only; no implementation holds back-references.
type Store interface {
	// Projects
	CreateProject(ctx context.Context, p *Project) error
	GetProject(ctx context.Context, id string) (*Project, error)
	ListProjects(ctx context.Context, organizationID string) ([]*Project, error)
	UpdateProject(ctx context.Context, id string, patch Patch) (*Project, error)
	DeleteProject(ctx context.Context, id string) error

	// Agents
	CreateAgent(ctx context.Context, a *Agent) error
	GetAgent(ctx context.Context, id string) (*Agent, error)
	ListAgents(ctx context.Context, projectID string) ([]*Agent, error)
	// UpdateAgent applies the patch and, when instructions or output_format
	// change, prepends a version snapshot of the prior values (newest-first,
	// capped at MaxAgentVersions).
	UpdateAgent(ctx context.Context, id string, patch Patch) (*Agent, error)
	DeleteAgent(ctx context.Context, id string) error

	// Tasks
	CreateTask(ctx context.Context, t *Task) error
	GetTask(ctx context.Context, id string) (*Task, error)
	FindTasks(ctx context.Context, f TaskFilter) ([]*Task, error)
	CountTasks(ctx context.Context, f TaskFilter) (int, error)
	UpdateTask(ctx context.Context, id string, patch Patch) (*Task, error)
	// UpdateTaskStatus applies content/error/status in one write, dropping
	// any transition that would move backwards in the status DAG. It returns
	// the stored task and whether the write was applied.
	UpdateTaskStatus(ctx context.Context, id string, status TaskStatus, patch Patch) (*Task, bool, error)
	DeleteTask(ctx context.Context, id string) error

	// Conversations
	CreateConversation(ctx context.Context, c *Conversation) error
	GetConversation(ctx context.Context, id string) (*Conversation, error)
	ListConversations(ctx context.Context, projectID string) ([]*Conversation, error)
	UpdateConversation(ctx context.Context, id string, patch Patch) (*Conversation, error)
	AppendConversationMessage(ctx context.Context, conversationID string, m *Message) error
	DeleteConversation(ctx context.Context, id string) error

	// Messages
	ListMessages(ctx context.Context, conversationID string) ([]*Message, error)

	// Trainings
	CreateTraining(ctx context.Context, t *Training) error
	GetTraining(ctx context.Context, id string) (*Training, error)
	LatestTraining(ctx context.Context, projectID string) (*Training, error)
	ListTrainings(ctx context.Context, projectID string) ([]*Training, error)
	UpdateTraining(ctx context.Context, id string, patch Patch) (*Training, error)
	DeleteTraining(ctx context.Context, id string) error

	// Evaluations
	CreateEvaluation(ctx context.Context, e *Evaluation) error
	GetEvaluation(ctx context.Context, id string) (*Evaluation, error)
	ListEvaluations(ctx context.Context, projectID string) ([]*Evaluation, error)
	DeleteEvaluation(ctx context.Context, id string) error

	// Evaluation runs
	CreateEvaluationRun(ctx context.Context, r *EvaluationRun) error
	GetEvaluationRun(ctx context.Context, id string) (*EvaluationRun, error)
	ListEvaluationRuns(ctx context.Context, projectID string) ([]*EvaluationRun, error)
	UpdateEvaluationRun(ctx context.Context, id string, patch Patch) (*EvaluationRun, error)
	DeleteEvaluationRun(ctx context.Context, id string) error

	// Gateways
	CreateGateway(ctx context.Context, g *Gateway) error
	GetGateway(ctx context.Context, id string) (*Gateway, error)
	GetGatewayByAPIKey(ctx context.Context, apiKey string) (*Gateway, error)
	ListGateways(ctx context.Context, projectID string) ([]*Gateway, error)
	DeleteGateway(ctx context.Context, id string) error

	// Tools
	CreateTool(ctx context.Context, t *Tool) error
	GetTool(ctx context.Context, id string) (*Tool, error)
	ListTools(ctx context.Context, gatewayID string) ([]*Tool, error)
	UpdateTool(ctx context.Context, id string, patch Patch) (*Tool, error)
	DeleteTool(ctx context.Context, id string) error

	// Folder uploads
	CreateFolderUpload(ctx context.Context, u *FolderUpload) error
	GetFolderUpload(ctx context.Context, id string) (*FolderUpload, error)
	ListFolderUploads(ctx context.Context, projectID string) ([]*FolderUpload, error)
	DeleteFolderUpload(ctx context.Context, id string) error

	// Provider credentials
	CreateProviderCredential(ctx context.Context, c *ProviderCredential) error
	GetProviderCredential(ctx context.Context, projectID, providerType string) (*ProviderCredential, error)
	ListProviderCredentials(ctx context.Context, projectID string) ([]*ProviderCredential, error)
	DeleteProviderCredential(ctx context.Context, id string) error

	// Close releases the underlying connection pool.
	Close() error
}
