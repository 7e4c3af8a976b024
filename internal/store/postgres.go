package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
)

// PostgresStore persists each collection as a table with a single JSONB doc
// column. Partial-merge updates map onto the JSONB || operator, which keeps
// single-document atomicity without multi-document transactions.
type PostgresStore struct {
	db *sqlx.DB
}

var _ Store = (*PostgresStore)(nil)

// collection DDL; one table per collection plus the indexes the core queries
// depend on.
const postgresSchema = `
CREATE TABLE IF NOT EXISTS projects (id TEXT PRIMARY KEY, doc JSONB NOT NULL);
CREATE UNIQUE INDEX IF NOT EXISTS projects_org_name
    ON projects ((doc->>'organization_id'), (lower(doc->>'name')));
CREATE TABLE IF NOT EXISTS agents (id TEXT PRIMARY KEY, doc JSONB NOT NULL);
CREATE INDEX IF NOT EXISTS agents_project ON agents ((doc->>'project_id'));
CREATE TABLE IF NOT EXISTS tasks (id TEXT PRIMARY KEY, doc JSONB NOT NULL);
CREATE INDEX IF NOT EXISTS tasks_admission
    ON tasks ((doc->>'project_id'), (doc->>'agent_id'), (doc->>'role'), (doc->>'status'));
CREATE TABLE IF NOT EXISTS conversations (id TEXT PRIMARY KEY, doc JSONB NOT NULL);
CREATE INDEX IF NOT EXISTS conversations_project ON conversations ((doc->>'project_id'));
CREATE TABLE IF NOT EXISTS messages (id TEXT PRIMARY KEY, doc JSONB NOT NULL);
CREATE INDEX IF NOT EXISTS messages_conversation ON messages ((doc->>'conversation_id'));
CREATE TABLE IF NOT EXISTS trainings (id TEXT PRIMARY KEY, doc JSONB NOT NULL);
CREATE INDEX IF NOT EXISTS trainings_project ON trainings ((doc->>'project_id'));
CREATE TABLE IF NOT EXISTS evaluations (id TEXT PRIMARY KEY, doc JSONB NOT NULL);
CREATE INDEX IF NOT EXISTS evaluations_project ON evaluations ((doc->>'project_id'));
CREATE TABLE IF NOT EXISTS evaluation_runs (id TEXT PRIMARY KEY, doc JSONB NOT NULL);
CREATE INDEX IF NOT EXISTS evaluation_runs_project ON evaluation_runs ((doc->>'project_id'));
CREATE TABLE IF NOT EXISTS gateways (id TEXT PRIMARY KEY, doc JSONB NOT NULL);
CREATE INDEX IF NOT EXISTS gateways_project ON gateways ((doc->>'project_id'));
CREATE UNIQUE INDEX IF NOT EXISTS gateways_api_key ON gateways ((doc->>'api_key'));
CREATE TABLE IF NOT EXISTS tools (id TEXT PRIMARY KEY, doc JSONB NOT NULL);
CREATE INDEX IF NOT EXISTS tools_gateway ON tools ((doc->>'gateway_id'));
CREATE TABLE IF NOT EXISTS folder_uploads (id TEXT PRIMARY KEY, doc JSONB NOT NULL);
CREATE INDEX IF NOT EXISTS folder_uploads_project ON folder_uploads ((doc->>'project_id'));
CREATE TABLE IF NOT EXISTS provider_credentials (id TEXT PRIMARY KEY, doc JSONB NOT NULL);
CREATE INDEX IF NOT EXISTS provider_credentials_lookup
    ON provider_credentials ((doc->>'project_id'), (doc->>'provider_type'));
`

// NewPostgresStore opens a pgx-backed store and applies the schema.
func NewPostgresStore(dsn string, maxConns, minConns int) (*PostgresStore, error) {
	db, err := sqlx.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres database: %w", err)
	}
	if maxConns <= 0 {
		maxConns = 25
	}
	if minConns <= 0 {
		minConns = 5
	}
	db.SetMaxOpenConns(maxConns)
	db.SetMaxIdleConns(minConns)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping postgres database: %w", err)
	}
	if _, err := db.Exec(postgresSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}
	return &PostgresStore{db: db}, nil
}

// Close releases the connection pool.
func (s *PostgresStore) Close() error { return s.db.Close() }

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

// insertDoc stamps ids/timestamps on the document and inserts it.
func insertDoc(ctx context.Context, db *sqlx.DB, table string, id string, doc any) error {
	raw, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("marshal %s document: %w", table, err)
	}
	query := fmt.Sprintf(`INSERT INTO %s (id, doc) VALUES ($1, $2)`, table)
	if _, err := db.ExecContext(ctx, query, id, raw); err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("insert into %s: %w", table, ErrConflict)
		}
		return fmt.Errorf("insert into %s: %w", table, err)
	}
	return nil
}

func getDoc[T any](ctx context.Context, db *sqlx.DB, table, id string) (*T, error) {
	var raw []byte
	query := fmt.Sprintf(`SELECT doc FROM %s WHERE id = $1`, table)
	if err := db.GetContext(ctx, &raw, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%s %s: %w", strings.TrimSuffix(table, "s"), id, ErrNotFound)
		}
		return nil, fmt.Errorf("get from %s: %w", table, err)
	}
	out := new(T)
	if err := json.Unmarshal(raw, out); err != nil {
		return nil, fmt.Errorf("unmarshal %s document: %w", table, err)
	}
	return out, nil
}

// findDocs runs a filtered select ordered by created_at ascending.
// where holds "doc->>'field' = $n" clauses aligned with args.
func findDocs[T any](ctx context.Context, db *sqlx.DB, table string, where []string, args []any) ([]*T, error) {
	query := fmt.Sprintf(`SELECT doc FROM %s`, table)
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += ` ORDER BY doc->>'created_at' ASC`

	var rows [][]byte
	if err := db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("find in %s: %w", table, err)
	}
	out := make([]*T, 0, len(rows))
	for _, raw := range rows {
		item := new(T)
		if err := json.Unmarshal(raw, item); err != nil {
			return nil, fmt.Errorf("unmarshal %s document: %w", table, err)
		}
		out = append(out, item)
	}
	return out, nil
}

// updateDoc applies a partial-merge patch via the JSONB || operator and
// returns the merged document. The patch always carries updated_at.
func updateDoc[T any](ctx context.Context, db *sqlx.DB, table, id string, patch Patch) (*T, error) {
	patch["updated_at"] = time.Now().UTC().Format(time.RFC3339Nano)
	raw, err := json.Marshal(patch)
	if err != nil {
		return nil, fmt.Errorf("marshal patch: %w", err)
	}
	query := fmt.Sprintf(`UPDATE %s SET doc = doc || $2 WHERE id = $1 RETURNING doc`, table)
	var merged []byte
	if err := db.GetContext(ctx, &merged, query, id, raw); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%s %s: %w", strings.TrimSuffix(table, "s"), id, ErrNotFound)
		}
		return nil, fmt.Errorf("update %s: %w", table, err)
	}
	out := new(T)
	if err := json.Unmarshal(merged, out); err != nil {
		return nil, fmt.Errorf("unmarshal %s document: %w", table, err)
	}
	return out, nil
}

func deleteDoc(ctx context.Context, db *sqlx.DB, table, id string) error {
	query := fmt.Sprintf(`DELETE FROM %s WHERE id = $1`, table)
	res, err := db.ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("delete from %s: %w", table, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%s %s: %w", strings.TrimSuffix(table, "s"), id, ErrNotFound)
	}
	return nil
}

func stampNew(id *string, createdAt, updatedAt *time.Time) {
	if *id == "" {
		*id = uuid.New().String()
	}
	now := time.Now().UTC()
	*createdAt = now
	*updatedAt = now
}

// Project operations

func (s *PostgresStore) CreateProject(ctx context.Context, p *Project) error {
	stampNew(&p.ID, &p.CreatedAt, &p.UpdatedAt)
	if err := insertDoc(ctx, s.db, "projects", p.ID, p); err != nil {
		if errors.Is(err, ErrConflict) {
			return fmt.Errorf("project %q in organization %q: %w", p.Name, p.OrganizationID, ErrConflict)
		}
		return err
	}
	return nil
}

func (s *PostgresStore) GetProject(ctx context.Context, id string) (*Project, error) {
	return getDoc[Project](ctx, s.db, "projects", id)
}

func (s *PostgresStore) ListProjects(ctx context.Context, organizationID string) ([]*Project, error) {
	var where []string
	var args []any
	if organizationID != "" {
		where = append(where, `doc->>'organization_id' = $1`)
		args = append(args, organizationID)
	}
	return findDocs[Project](ctx, s.db, "projects", where, args)
}

func (s *PostgresStore) UpdateProject(ctx context.Context, id string, patch Patch) (*Project, error) {
	return updateDoc[Project](ctx, s.db, "projects", id, patch)
}

func (s *PostgresStore) DeleteProject(ctx context.Context, id string) error {
	return deleteDoc(ctx, s.db, "projects", id)
}

// Agent operations

func (s *PostgresStore) CreateAgent(ctx context.Context, a *Agent) error {
	if len(a.Instructions) > MaxInstructionsLen {
		return fmt.Errorf("instructions exceed %d characters: %w", MaxInstructionsLen, ErrValidation)
	}
	if a.State == "" {
		a.State = AgentStateEnabled
	}
	stampNew(&a.ID, &a.CreatedAt, &a.UpdatedAt)
	return insertDoc(ctx, s.db, "agents", a.ID, a)
}

func (s *PostgresStore) GetAgent(ctx context.Context, id string) (*Agent, error) {
	return getDoc[Agent](ctx, s.db, "agents", id)
}

func (s *PostgresStore) ListAgents(ctx context.Context, projectID string) ([]*Agent, error) {
	return findDocs[Agent](ctx, s.db, "agents",
		[]string{`doc->>'project_id' = $1`}, []any{projectID})
}

func (s *PostgresStore) UpdateAgent(ctx context.Context, id string, patch Patch) (*Agent, error) {
	if v, ok := patch["instructions"].(string); ok && len(v) > MaxInstructionsLen {
		return nil, fmt.Errorf("instructions exceed %d characters: %w", MaxInstructionsLen, ErrValidation)
	}

	_, instrChanged := patch["instructions"]
	_, formatChanged := patch["output_format"]
	if !instrChanged && !formatChanged {
		return updateDoc[Agent](ctx, s.db, "agents", id, patch)
	}

	// Version snapshots need the prior document, so run read-modify-write
	// under a row lock.
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin agent update: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var raw []byte
	if err := tx.GetContext(ctx, &raw, `SELECT doc FROM agents WHERE id = $1 FOR UPDATE`, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("agent %s: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("lock agent: %w", err)
	}
	var agent Agent
	if err := json.Unmarshal(raw, &agent); err != nil {
		return nil, fmt.Errorf("unmarshal agent document: %w", err)
	}

	updatedBy, _ := patch["updated_by"].(string)
	delete(patch, "updated_by")
	version := AgentVersion{
		Instructions: agent.Instructions,
		OutputFormat: agent.OutputFormat,
		CreatedAt:    time.Now().UTC(),
		UpdatedBy:    updatedBy,
	}
	agent.Versions = append([]AgentVersion{version}, agent.Versions...)
	if len(agent.Versions) > MaxAgentVersions {
		agent.Versions = agent.Versions[:MaxAgentVersions]
	}
	if err := applyPatch(&agent, patch); err != nil {
		return nil, err
	}
	agent.UpdatedAt = time.Now().UTC()

	merged, err := json.Marshal(&agent)
	if err != nil {
		return nil, fmt.Errorf("marshal agent document: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `UPDATE agents SET doc = $2 WHERE id = $1`, id, merged); err != nil {
		return nil, fmt.Errorf("update agent: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit agent update: %w", err)
	}
	return &agent, nil
}

func (s *PostgresStore) DeleteAgent(ctx context.Context, id string) error {
	return deleteDoc(ctx, s.db, "agents", id)
}

// Task operations

func taskWhere(f TaskFilter) ([]string, []any) {
	var where []string
	var args []any
	add := func(clause string, v any) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(clause, len(args)))
	}
	if f.ProjectID != "" {
		add(`doc->>'project_id' = $%d`, f.ProjectID)
	}
	if f.AgentID != "" {
		add(`doc->>'agent_id' = $%d`, f.AgentID)
	}
	if f.Role != "" {
		add(`doc->>'role' = $%d`, string(f.Role))
	}
	if len(f.Statuses) > 0 {
		statuses := make([]string, len(f.Statuses))
		for i, st := range f.Statuses {
			statuses[i] = string(st)
		}
		args = append(args, statuses)
		where = append(where, fmt.Sprintf(`doc->>'status' = ANY($%d)`, len(args)))
	}
	return where, args
}

func (s *PostgresStore) CreateTask(ctx context.Context, t *Task) error {
	if t.Status == "" {
		t.Status = TaskStatusQueued
	}
	stampNew(&t.ID, &t.CreatedAt, &t.UpdatedAt)
	return insertDoc(ctx, s.db, "tasks", t.ID, t)
}

func (s *PostgresStore) GetTask(ctx context.Context, id string) (*Task, error) {
	return getDoc[Task](ctx, s.db, "tasks", id)
}

func (s *PostgresStore) FindTasks(ctx context.Context, f TaskFilter) ([]*Task, error) {
	where, args := taskWhere(f)
	return findDocs[Task](ctx, s.db, "tasks", where, args)
}

func (s *PostgresStore) CountTasks(ctx context.Context, f TaskFilter) (int, error) {
	where, args := taskWhere(f)
	query := `SELECT COUNT(*) FROM tasks`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	var count int
	if err := s.db.GetContext(ctx, &count, query, args...); err != nil {
		return 0, fmt.Errorf("count tasks: %w", err)
	}
	return count, nil
}

func (s *PostgresStore) UpdateTask(ctx context.Context, id string, patch Patch) (*Task, error) {
	return updateDoc[Task](ctx, s.db, "tasks", id, patch)
}

// allowedFrom lists the statuses a task may hold before transitioning to the
// given target. The conditional update makes out-of-order writes no-ops.
func allowedFrom(target TaskStatus) []string {
	switch target {
	case TaskStatusProcessing:
		return []string{string(TaskStatusQueued)}
	case TaskStatusCompleted, TaskStatusFailed:
		return []string{string(TaskStatusQueued), string(TaskStatusProcessing)}
	default:
		return nil
	}
}

func (s *PostgresStore) UpdateTaskStatus(ctx context.Context, id string, status TaskStatus, patch Patch) (*Task, bool, error) {
	from := allowedFrom(status)
	if from == nil {
		t, err := s.GetTask(ctx, id)
		return t, false, err
	}
	if patch == nil {
		patch = Patch{}
	}
	patch["status"] = string(status)
	patch["updated_at"] = time.Now().UTC().Format(time.RFC3339Nano)
	raw, err := json.Marshal(patch)
	if err != nil {
		return nil, false, fmt.Errorf("marshal patch: %w", err)
	}

	var merged []byte
	err = s.db.GetContext(ctx, &merged,
		`UPDATE tasks SET doc = doc || $2 WHERE id = $1 AND doc->>'status' = ANY($3) RETURNING doc`,
		id, raw, from)
	if err == nil {
		var t Task
		if uerr := json.Unmarshal(merged, &t); uerr != nil {
			return nil, false, fmt.Errorf("unmarshal task document: %w", uerr)
		}
		return &t, true, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, false, fmt.Errorf("update task status: %w", err)
	}

	// Either the task is missing or the transition would move backwards.
	t, gerr := s.GetTask(ctx, id)
	if gerr != nil {
		return nil, false, gerr
	}
	return t, false, nil
}

func (s *PostgresStore) DeleteTask(ctx context.Context, id string) error {
	return deleteDoc(ctx, s.db, "tasks", id)
}

// Conversation operations

func (s *PostgresStore) CreateConversation(ctx context.Context, c *Conversation) error {
	stampNew(&c.ID, &c.CreatedAt, &c.UpdatedAt)
	return insertDoc(ctx, s.db, "conversations", c.ID, c)
}

func (s *PostgresStore) GetConversation(ctx context.Context, id string) (*Conversation, error) {
	return getDoc[Conversation](ctx, s.db, "conversations", id)
}

func (s *PostgresStore) ListConversations(ctx context.Context, projectID string) ([]*Conversation, error) {
	return findDocs[Conversation](ctx, s.db, "conversations",
		[]string{`doc->>'project_id' = $1`}, []any{projectID})
}

func (s *PostgresStore) UpdateConversation(ctx context.Context, id string, patch Patch) (*Conversation, error) {
	return updateDoc[Conversation](ctx, s.db, "conversations", id, patch)
}

func (s *PostgresStore) AppendConversationMessage(ctx context.Context, conversationID string, m *Message) error {
	stampNew(&m.ID, &m.CreatedAt, &m.UpdatedAt)
	m.ConversationID = conversationID
	if err := insertDoc(ctx, s.db, "messages", m.ID, m); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx,
		`UPDATE conversations
		 SET doc = jsonb_set(doc, '{message_ids}', COALESCE(doc->'message_ids', '[]'::jsonb) || to_jsonb($2::text))
		     || jsonb_build_object('updated_at', $3::text)
		 WHERE id = $1`,
		conversationID, m.ID, time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("append conversation message: %w", err)
	}
	return nil
}

func (s *PostgresStore) DeleteConversation(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM messages WHERE doc->>'conversation_id' = $1`, id); err != nil {
		return fmt.Errorf("delete conversation messages: %w", err)
	}
	return deleteDoc(ctx, s.db, "conversations", id)
}

func (s *PostgresStore) ListMessages(ctx context.Context, conversationID string) ([]*Message, error) {
	if _, err := s.GetConversation(ctx, conversationID); err != nil {
		return nil, err
	}
	return findDocs[Message](ctx, s.db, "messages",
		[]string{`doc->>'conversation_id' = $1`}, []any{conversationID})
}

// Training operations

func (s *PostgresStore) CreateTraining(ctx context.Context, t *Training) error {
	if t.Status == "" {
		t.Status = TrainingStatusQueued
	}
	stampNew(&t.ID, &t.CreatedAt, &t.UpdatedAt)
	return insertDoc(ctx, s.db, "trainings", t.ID, t)
}

func (s *PostgresStore) GetTraining(ctx context.Context, id string) (*Training, error) {
	return getDoc[Training](ctx, s.db, "trainings", id)
}

func (s *PostgresStore) LatestTraining(ctx context.Context, projectID string) (*Training, error) {
	var raw []byte
	err := s.db.GetContext(ctx, &raw,
		`SELECT doc FROM trainings WHERE doc->>'project_id' = $1
		 ORDER BY doc->>'created_at' DESC LIMIT 1`, projectID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("training for project %s: %w", projectID, ErrNotFound)
		}
		return nil, fmt.Errorf("latest training: %w", err)
	}
	var t Training
	if err := json.Unmarshal(raw, &t); err != nil {
		return nil, fmt.Errorf("unmarshal training document: %w", err)
	}
	return &t, nil
}

func (s *PostgresStore) ListTrainings(ctx context.Context, projectID string) ([]*Training, error) {
	return findDocs[Training](ctx, s.db, "trainings",
		[]string{`doc->>'project_id' = $1`}, []any{projectID})
}

func (s *PostgresStore) UpdateTraining(ctx context.Context, id string, patch Patch) (*Training, error) {
	return updateDoc[Training](ctx, s.db, "trainings", id, patch)
}

func (s *PostgresStore) DeleteTraining(ctx context.Context, id string) error {
	return deleteDoc(ctx, s.db, "trainings", id)
}

// Evaluation operations

func (s *PostgresStore) CreateEvaluation(ctx context.Context, e *Evaluation) error {
	e.TestCaseCount = len(e.TestCases)
	stampNew(&e.ID, &e.CreatedAt, &e.UpdatedAt)
	return insertDoc(ctx, s.db, "evaluations", e.ID, e)
}

func (s *PostgresStore) GetEvaluation(ctx context.Context, id string) (*Evaluation, error) {
	return getDoc[Evaluation](ctx, s.db, "evaluations", id)
}

func (s *PostgresStore) ListEvaluations(ctx context.Context, projectID string) ([]*Evaluation, error) {
	return findDocs[Evaluation](ctx, s.db, "evaluations",
		[]string{`doc->>'project_id' = $1`}, []any{projectID})
}

func (s *PostgresStore) DeleteEvaluation(ctx context.Context, id string) error {
	return deleteDoc(ctx, s.db, "evaluations", id)
}

// Evaluation run operations

func (s *PostgresStore) CreateEvaluationRun(ctx context.Context, r *EvaluationRun) error {
	if r.Status == "" {
		r.Status = EvaluationRunQueued
	}
	stampNew(&r.ID, &r.CreatedAt, &r.UpdatedAt)
	return insertDoc(ctx, s.db, "evaluation_runs", r.ID, r)
}

func (s *PostgresStore) GetEvaluationRun(ctx context.Context, id string) (*EvaluationRun, error) {
	return getDoc[EvaluationRun](ctx, s.db, "evaluation_runs", id)
}

func (s *PostgresStore) ListEvaluationRuns(ctx context.Context, projectID string) ([]*EvaluationRun, error) {
	return findDocs[EvaluationRun](ctx, s.db, "evaluation_runs",
		[]string{`doc->>'project_id' = $1`}, []any{projectID})
}

func (s *PostgresStore) UpdateEvaluationRun(ctx context.Context, id string, patch Patch) (*EvaluationRun, error) {
	return updateDoc[EvaluationRun](ctx, s.db, "evaluation_runs", id, patch)
}

func (s *PostgresStore) DeleteEvaluationRun(ctx context.Context, id string) error {
	return deleteDoc(ctx, s.db, "evaluation_runs", id)
}

// Gateway operations

func (s *PostgresStore) CreateGateway(ctx context.Context, g *Gateway) error {
	if g.APIKey == "" {
		g.APIKey = uuid.New().String()
	}
	stampNew(&g.ID, &g.CreatedAt, &g.UpdatedAt)
	return insertDoc(ctx, s.db, "gateways", g.ID, g)
}

func (s *PostgresStore) GetGateway(ctx context.Context, id string) (*Gateway, error) {
	return getDoc[Gateway](ctx, s.db, "gateways", id)
}

func (s *PostgresStore) GetGatewayByAPIKey(ctx context.Context, apiKey string) (*Gateway, error) {
	var raw []byte
	err := s.db.GetContext(ctx, &raw,
		`SELECT doc FROM gateways WHERE doc->>'api_key' = $1`, apiKey)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("gateway by api key: %w", ErrNotFound)
		}
		return nil, fmt.Errorf("get gateway by api key: %w", err)
	}
	var g Gateway
	if err := json.Unmarshal(raw, &g); err != nil {
		return nil, fmt.Errorf("unmarshal gateway document: %w", err)
	}
	return &g, nil
}

func (s *PostgresStore) ListGateways(ctx context.Context, projectID string) ([]*Gateway, error) {
	return findDocs[Gateway](ctx, s.db, "gateways",
		[]string{`doc->>'project_id' = $1`}, []any{projectID})
}

func (s *PostgresStore) DeleteGateway(ctx context.Context, id string) error {
	return deleteDoc(ctx, s.db, "gateways", id)
}

// Tool operations

func (s *PostgresStore) CreateTool(ctx context.Context, t *Tool) error {
	if t.Status == "" {
		t.Status = ToolStatusGenerating
	}
	stampNew(&t.ID, &t.CreatedAt, &t.UpdatedAt)
	return insertDoc(ctx, s.db, "tools", t.ID, t)
}

func (s *PostgresStore) GetTool(ctx context.Context, id string) (*Tool, error) {
	return getDoc[Tool](ctx, s.db, "tools", id)
}

func (s *PostgresStore) ListTools(ctx context.Context, gatewayID string) ([]*Tool, error) {
	return findDocs[Tool](ctx, s.db, "tools",
		[]string{`doc->>'gateway_id' = $1`}, []any{gatewayID})
}

func (s *PostgresStore) UpdateTool(ctx context.Context, id string, patch Patch) (*Tool, error) {
	return updateDoc[Tool](ctx, s.db, "tools", id, patch)
}

func (s *PostgresStore) DeleteTool(ctx context.Context, id string) error {
	return deleteDoc(ctx, s.db, "tools", id)
}

// Folder upload operations

func (s *PostgresStore) CreateFolderUpload(ctx context.Context, u *FolderUpload) error {
	stampNew(&u.ID, &u.CreatedAt, &u.UpdatedAt)
	return insertDoc(ctx, s.db, "folder_uploads", u.ID, u)
}

func (s *PostgresStore) GetFolderUpload(ctx context.Context, id string) (*FolderUpload, error) {
	return getDoc[FolderUpload](ctx, s.db, "folder_uploads", id)
}

func (s *PostgresStore) ListFolderUploads(ctx context.Context, projectID string) ([]*FolderUpload, error) {
	return findDocs[FolderUpload](ctx, s.db, "folder_uploads",
		[]string{`doc->>'project_id' = $1`}, []any{projectID})
}

func (s *PostgresStore) DeleteFolderUpload(ctx context.Context, id string) error {
	return deleteDoc(ctx, s.db, "folder_uploads", id)
}

// Provider credential operations

func (s *PostgresStore) CreateProviderCredential(ctx context.Context, c *ProviderCredential) error {
	stampNew(&c.ID, &c.CreatedAt, &c.UpdatedAt)
	return insertDoc(ctx, s.db, "provider_credentials", c.ID, c)
}

func (s *PostgresStore) GetProviderCredential(ctx context.Context, projectID, providerType string) (*ProviderCredential, error) {
	var raw []byte
	err := s.db.GetContext(ctx, &raw,
		`SELECT doc FROM provider_credentials
		 WHERE doc->>'project_id' = $1 AND doc->>'provider_type' = $2`,
		projectID, providerType)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("credential %s/%s: %w", projectID, providerType, ErrNotFound)
		}
		return nil, fmt.Errorf("get provider credential: %w", err)
	}
	var c ProviderCredential
	if err := json.Unmarshal(raw, &c); err != nil {
		return nil, fmt.Errorf("unmarshal credential document: %w", err)
	}
	return &c, nil
}

func (s *PostgresStore) ListProviderCredentials(ctx context.Context, projectID string) ([]*ProviderCredential, error) {
	return findDocs[ProviderCredential](ctx, s.db, "provider_credentials",
		[]string{`doc->>'project_id' = $1`}, []any{projectID})
}

func (s *PostgresStore) DeleteProviderCredential(ctx context.Context, id string) error {
	return deleteDoc(ctx, s.db, "provider_credentials", id)
}
