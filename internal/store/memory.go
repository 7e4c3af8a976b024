package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore provides in-memory storage. It is the test double for every
// component and the default backend in single-process mode.
type MemoryStore struct {
	projects    map[string]*Project
	agents      map[string]*Agent
	tasks       map[string]*Task
	convos      map[string]*Conversation
	messages    map[string]*Message
	trainings   map[string]*Training
	evals       map[string]*Evaluation
	evalRuns    map[string]*EvaluationRun
	gateways    map[string]*Gateway
	tools       map[string]*Tool
	uploads     map[string]*FolderUpload
	credentials map[string]*ProviderCredential
	mu          sync.RWMutex
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		projects:    make(map[string]*Project),
		agents:      make(map[string]*Agent),
		tasks:       make(map[string]*Task),
		convos:      make(map[string]*Conversation),
		messages:    make(map[string]*Message),
		trainings:   make(map[string]*Training),
		evals:       make(map[string]*Evaluation),
		evalRuns:    make(map[string]*EvaluationRun),
		gateways:    make(map[string]*Gateway),
		tools:       make(map[string]*Tool),
		uploads:     make(map[string]*FolderUpload),
		credentials: make(map[string]*ProviderCredential),
	}
}

// Close is a no-op for the in-memory store.
func (s *MemoryStore) Close() error { return nil }

// applyPatch merges patch into dst (a pointer to a document struct) by JSON
// round-trip. Keys absent from the patch keep their current values.
func applyPatch(dst any, patch Patch) error {
	raw, err := json.Marshal(dst)
	if err != nil {
		return fmt.Errorf("marshal document: %w", err)
	}
	var doc map[string]any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return fmt.Errorf("unmarshal document: %w", err)
	}
	for k, v := range patch {
		doc[k] = v
	}
	merged, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("marshal merged document: %w", err)
	}
	if err := json.Unmarshal(merged, dst); err != nil {
		return fmt.Errorf("apply patch: %w", err)
	}
	return nil
}

// clone deep-copies a document via JSON so callers never share memory with
// the store.
func clone[T any](src *T) *T {
	if src == nil {
		return nil
	}
	raw, _ := json.Marshal(src)
	out := new(T)
	_ = json.Unmarshal(raw, out)
	return out
}

func ensureID(id *string) {
	if *id == "" {
		*id = uuid.New().String()
	}
}

// Project operations

func (s *MemoryStore) CreateProject(ctx context.Context, p *Project) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.projects {
		if existing.OrganizationID == p.OrganizationID &&
			strings.EqualFold(existing.Name, p.Name) {
			return fmt.Errorf("project %q in organization %q: %w", p.Name, p.OrganizationID, ErrConflict)
		}
	}

	ensureID(&p.ID)
	now := time.Now().UTC()
	p.CreatedAt = now
	p.UpdatedAt = now
	s.projects[p.ID] = clone(p)
	return nil
}

func (s *MemoryStore) GetProject(ctx context.Context, id string) (*Project, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.projects[id]
	if !ok {
		return nil, fmt.Errorf("project %s: %w", id, ErrNotFound)
	}
	return clone(p), nil
}

func (s *MemoryStore) ListProjects(ctx context.Context, organizationID string) ([]*Project, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*Project
	for _, p := range s.projects {
		if organizationID == "" || p.OrganizationID == organizationID {
			out = append(out, clone(p))
		}
	}
	sortByCreatedAt(out, func(p *Project) time.Time { return p.CreatedAt })
	return out, nil
}

func (s *MemoryStore) UpdateProject(ctx context.Context, id string, patch Patch) (*Project, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.projects[id]
	if !ok {
		return nil, fmt.Errorf("project %s: %w", id, ErrNotFound)
	}
	if err := applyPatch(p, patch); err != nil {
		return nil, err
	}
	p.UpdatedAt = time.Now().UTC()
	return clone(p), nil
}

func (s *MemoryStore) DeleteProject(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.projects[id]; !ok {
		return fmt.Errorf("project %s: %w", id, ErrNotFound)
	}
	delete(s.projects, id)
	return nil
}

// Agent operations

func (s *MemoryStore) CreateAgent(ctx context.Context, a *Agent) error {
	if len(a.Instructions) > MaxInstructionsLen {
		return fmt.Errorf("instructions exceed %d characters: %w", MaxInstructionsLen, ErrValidation)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	ensureID(&a.ID)
	if a.State == "" {
		a.State = AgentStateEnabled
	}
	now := time.Now().UTC()
	a.CreatedAt = now
	a.UpdatedAt = now
	s.agents[a.ID] = clone(a)
	return nil
}

func (s *MemoryStore) GetAgent(ctx context.Context, id string) (*Agent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.agents[id]
	if !ok {
		return nil, fmt.Errorf("agent %s: %w", id, ErrNotFound)
	}
	return clone(a), nil
}

func (s *MemoryStore) ListAgents(ctx context.Context, projectID string) ([]*Agent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*Agent
	for _, a := range s.agents {
		if a.ProjectID == projectID {
			out = append(out, clone(a))
		}
	}
	sortByCreatedAt(out, func(a *Agent) time.Time { return a.CreatedAt })
	return out, nil
}

func (s *MemoryStore) UpdateAgent(ctx context.Context, id string, patch Patch) (*Agent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.agents[id]
	if !ok {
		return nil, fmt.Errorf("agent %s: %w", id, ErrNotFound)
	}

	if v, ok := patch["instructions"].(string); ok && len(v) > MaxInstructionsLen {
		return nil, fmt.Errorf("instructions exceed %d characters: %w", MaxInstructionsLen, ErrValidation)
	}

	// Snapshot the prior instructions/output_format when either changes.
	_, instrChanged := patch["instructions"]
	_, formatChanged := patch["output_format"]
	if instrChanged || formatChanged {
		updatedBy, _ := patch["updated_by"].(string)
		delete(patch, "updated_by")
		version := AgentVersion{
			Instructions: a.Instructions,
			OutputFormat: a.OutputFormat,
			CreatedAt:    time.Now().UTC(),
			UpdatedBy:    updatedBy,
		}
		a.Versions = append([]AgentVersion{version}, a.Versions...)
		if len(a.Versions) > MaxAgentVersions {
			a.Versions = a.Versions[:MaxAgentVersions]
		}
	}

	if err := applyPatch(a, patch); err != nil {
		return nil, err
	}
	a.UpdatedAt = time.Now().UTC()
	return clone(a), nil
}

func (s *MemoryStore) DeleteAgent(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.agents[id]; !ok {
		return fmt.Errorf("agent %s: %w", id, ErrNotFound)
	}
	delete(s.agents, id)
	return nil
}

// Task operations

func (s *MemoryStore) CreateTask(ctx context.Context, t *Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ensureID(&t.ID)
	if t.Status == "" {
		t.Status = TaskStatusQueued
	}
	now := time.Now().UTC()
	t.CreatedAt = now
	t.UpdatedAt = now
	s.tasks[t.ID] = clone(t)
	return nil
}

func (s *MemoryStore) GetTask(ctx context.Context, id string) (*Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tasks[id]
	if !ok {
		return nil, fmt.Errorf("task %s: %w", id, ErrNotFound)
	}
	return clone(t), nil
}

func matchesTask(t *Task, f TaskFilter) bool {
	if f.ProjectID != "" && t.ProjectID != f.ProjectID {
		return false
	}
	if f.AgentID != "" && t.AgentID != f.AgentID {
		return false
	}
	if f.Role != "" && t.Role != f.Role {
		return false
	}
	if len(f.Statuses) > 0 {
		found := false
		for _, st := range f.Statuses {
			if t.Status == st {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

func (s *MemoryStore) FindTasks(ctx context.Context, f TaskFilter) ([]*Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*Task
	for _, t := range s.tasks {
		if matchesTask(t, f) {
			out = append(out, clone(t))
		}
	}
	sortByCreatedAt(out, func(t *Task) time.Time { return t.CreatedAt })
	return out, nil
}

func (s *MemoryStore) CountTasks(ctx context.Context, f TaskFilter) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	count := 0
	for _, t := range s.tasks {
		if matchesTask(t, f) {
			count++
		}
	}
	return count, nil
}

func (s *MemoryStore) UpdateTask(ctx context.Context, id string, patch Patch) (*Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	if !ok {
		return nil, fmt.Errorf("task %s: %w", id, ErrNotFound)
	}
	if err := applyPatch(t, patch); err != nil {
		return nil, err
	}
	t.UpdatedAt = time.Now().UTC()
	return clone(t), nil
}

func (s *MemoryStore) UpdateTaskStatus(ctx context.Context, id string, status TaskStatus, patch Patch) (*Task, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	if !ok {
		return nil, false, fmt.Errorf("task %s: %w", id, ErrNotFound)
	}
	if !t.Status.Allows(status) {
		// Out-of-order update: drop it, the stored state wins.
		return clone(t), false, nil
	}
	if err := applyPatch(t, patch); err != nil {
		return nil, false, err
	}
	t.Status = status
	t.UpdatedAt = time.Now().UTC()
	return clone(t), true, nil
}

func (s *MemoryStore) DeleteTask(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tasks[id]; !ok {
		return fmt.Errorf("task %s: %w", id, ErrNotFound)
	}
	delete(s.tasks, id)
	return nil
}

// Conversation operations

func (s *MemoryStore) CreateConversation(ctx context.Context, c *Conversation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ensureID(&c.ID)
	now := time.Now().UTC()
	c.CreatedAt = now
	c.UpdatedAt = now
	s.convos[c.ID] = clone(c)
	return nil
}

func (s *MemoryStore) GetConversation(ctx context.Context, id string) (*Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.convos[id]
	if !ok {
		return nil, fmt.Errorf("conversation %s: %w", id, ErrNotFound)
	}
	return clone(c), nil
}

func (s *MemoryStore) ListConversations(ctx context.Context, projectID string) ([]*Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*Conversation
	for _, c := range s.convos {
		if c.ProjectID == projectID {
			out = append(out, clone(c))
		}
	}
	sortByCreatedAt(out, func(c *Conversation) time.Time { return c.CreatedAt })
	return out, nil
}

func (s *MemoryStore) UpdateConversation(ctx context.Context, id string, patch Patch) (*Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.convos[id]
	if !ok {
		return nil, fmt.Errorf("conversation %s: %w", id, ErrNotFound)
	}
	if err := applyPatch(c, patch); err != nil {
		return nil, err
	}
	c.UpdatedAt = time.Now().UTC()
	return clone(c), nil
}

func (s *MemoryStore) AppendConversationMessage(ctx context.Context, conversationID string, m *Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.convos[conversationID]
	if !ok {
		return fmt.Errorf("conversation %s: %w", conversationID, ErrNotFound)
	}
	ensureID(&m.ID)
	m.ConversationID = conversationID
	now := time.Now().UTC()
	m.CreatedAt = now
	m.UpdatedAt = now
	s.messages[m.ID] = clone(m)
	c.MessageIDs = append(c.MessageIDs, m.ID)
	c.UpdatedAt = now
	return nil
}

func (s *MemoryStore) DeleteConversation(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.convos[id]
	if !ok {
		return fmt.Errorf("conversation %s: %w", id, ErrNotFound)
	}
	for _, mid := range c.MessageIDs {
		delete(s.messages, mid)
	}
	delete(s.convos, id)
	return nil
}

func (s *MemoryStore) ListMessages(ctx context.Context, conversationID string) ([]*Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.convos[conversationID]
	if !ok {
		return nil, fmt.Errorf("conversation %s: %w", conversationID, ErrNotFound)
	}
	out := make([]*Message, 0, len(c.MessageIDs))
	for _, mid := range c.MessageIDs {
		if m, ok := s.messages[mid]; ok {
			out = append(out, clone(m))
		}
	}
	return out, nil
}

// Training operations

func (s *MemoryStore) CreateTraining(ctx context.Context, t *Training) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ensureID(&t.ID)
	if t.Status == "" {
		t.Status = TrainingStatusQueued
	}
	now := time.Now().UTC()
	t.CreatedAt = now
	t.UpdatedAt = now
	s.trainings[t.ID] = clone(t)
	return nil
}

func (s *MemoryStore) GetTraining(ctx context.Context, id string) (*Training, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.trainings[id]
	if !ok {
		return nil, fmt.Errorf("training %s: %w", id, ErrNotFound)
	}
	return clone(t), nil
}

func (s *MemoryStore) LatestTraining(ctx context.Context, projectID string) (*Training, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var latest *Training
	for _, t := range s.trainings {
		if t.ProjectID != projectID {
			continue
		}
		if latest == nil || t.CreatedAt.After(latest.CreatedAt) {
			latest = t
		}
	}
	if latest == nil {
		return nil, fmt.Errorf("training for project %s: %w", projectID, ErrNotFound)
	}
	return clone(latest), nil
}

func (s *MemoryStore) ListTrainings(ctx context.Context, projectID string) ([]*Training, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*Training
	for _, t := range s.trainings {
		if t.ProjectID == projectID {
			out = append(out, clone(t))
		}
	}
	sortByCreatedAt(out, func(t *Training) time.Time { return t.CreatedAt })
	return out, nil
}

func (s *MemoryStore) UpdateTraining(ctx context.Context, id string, patch Patch) (*Training, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.trainings[id]
	if !ok {
		return nil, fmt.Errorf("training %s: %w", id, ErrNotFound)
	}
	if err := applyPatch(t, patch); err != nil {
		return nil, err
	}
	t.UpdatedAt = time.Now().UTC()
	return clone(t), nil
}

func (s *MemoryStore) DeleteTraining(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.trainings[id]; !ok {
		return fmt.Errorf("training %s: %w", id, ErrNotFound)
	}
	delete(s.trainings, id)
	return nil
}

// Evaluation operations

func (s *MemoryStore) CreateEvaluation(ctx context.Context, e *Evaluation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ensureID(&e.ID)
	e.TestCaseCount = len(e.TestCases)
	now := time.Now().UTC()
	e.CreatedAt = now
	e.UpdatedAt = now
	s.evals[e.ID] = clone(e)
	return nil
}

func (s *MemoryStore) GetEvaluation(ctx context.Context, id string) (*Evaluation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.evals[id]
	if !ok {
		return nil, fmt.Errorf("evaluation %s: %w", id, ErrNotFound)
	}
	return clone(e), nil
}

func (s *MemoryStore) ListEvaluations(ctx context.Context, projectID string) ([]*Evaluation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*Evaluation
	for _, e := range s.evals {
		if e.ProjectID == projectID {
			out = append(out, clone(e))
		}
	}
	sortByCreatedAt(out, func(e *Evaluation) time.Time { return e.CreatedAt })
	return out, nil
}

func (s *MemoryStore) DeleteEvaluation(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.evals[id]; !ok {
		return fmt.Errorf("evaluation %s: %w", id, ErrNotFound)
	}
	delete(s.evals, id)
	return nil
}

// Evaluation run operations

func (s *MemoryStore) CreateEvaluationRun(ctx context.Context, r *EvaluationRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ensureID(&r.ID)
	if r.Status == "" {
		r.Status = EvaluationRunQueued
	}
	now := time.Now().UTC()
	r.CreatedAt = now
	r.UpdatedAt = now
	s.evalRuns[r.ID] = clone(r)
	return nil
}

func (s *MemoryStore) GetEvaluationRun(ctx context.Context, id string) (*EvaluationRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.evalRuns[id]
	if !ok {
		return nil, fmt.Errorf("evaluation run %s: %w", id, ErrNotFound)
	}
	return clone(r), nil
}

func (s *MemoryStore) ListEvaluationRuns(ctx context.Context, projectID string) ([]*EvaluationRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*EvaluationRun
	for _, r := range s.evalRuns {
		if r.ProjectID == projectID {
			out = append(out, clone(r))
		}
	}
	sortByCreatedAt(out, func(r *EvaluationRun) time.Time { return r.CreatedAt })
	return out, nil
}

func (s *MemoryStore) UpdateEvaluationRun(ctx context.Context, id string, patch Patch) (*EvaluationRun, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.evalRuns[id]
	if !ok {
		return nil, fmt.Errorf("evaluation run %s: %w", id, ErrNotFound)
	}
	if err := applyPatch(r, patch); err != nil {
		return nil, err
	}
	r.UpdatedAt = time.Now().UTC()
	return clone(r), nil
}

func (s *MemoryStore) DeleteEvaluationRun(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.evalRuns[id]; !ok {
		return fmt.Errorf("evaluation run %s: %w", id, ErrNotFound)
	}
	delete(s.evalRuns, id)
	return nil
}

// Gateway operations

func (s *MemoryStore) CreateGateway(ctx context.Context, g *Gateway) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ensureID(&g.ID)
	if g.APIKey == "" {
		g.APIKey = uuid.New().String()
	}
	now := time.Now().UTC()
	g.CreatedAt = now
	g.UpdatedAt = now
	s.gateways[g.ID] = clone(g)
	return nil
}

func (s *MemoryStore) GetGateway(ctx context.Context, id string) (*Gateway, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	g, ok := s.gateways[id]
	if !ok {
		return nil, fmt.Errorf("gateway %s: %w", id, ErrNotFound)
	}
	return clone(g), nil
}

func (s *MemoryStore) GetGatewayByAPIKey(ctx context.Context, apiKey string) (*Gateway, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, g := range s.gateways {
		if g.APIKey == apiKey {
			return clone(g), nil
		}
	}
	return nil, fmt.Errorf("gateway by api key: %w", ErrNotFound)
}

func (s *MemoryStore) ListGateways(ctx context.Context, projectID string) ([]*Gateway, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*Gateway
	for _, g := range s.gateways {
		if g.ProjectID == projectID {
			out = append(out, clone(g))
		}
	}
	sortByCreatedAt(out, func(g *Gateway) time.Time { return g.CreatedAt })
	return out, nil
}

func (s *MemoryStore) DeleteGateway(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.gateways[id]; !ok {
		return fmt.Errorf("gateway %s: %w", id, ErrNotFound)
	}
	delete(s.gateways, id)
	return nil
}

// Tool operations

func (s *MemoryStore) CreateTool(ctx context.Context, t *Tool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ensureID(&t.ID)
	if t.Status == "" {
		t.Status = ToolStatusGenerating
	}
	now := time.Now().UTC()
	t.CreatedAt = now
	t.UpdatedAt = now
	s.tools[t.ID] = clone(t)
	return nil
}

func (s *MemoryStore) GetTool(ctx context.Context, id string) (*Tool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tools[id]
	if !ok {
		return nil, fmt.Errorf("tool %s: %w", id, ErrNotFound)
	}
	return clone(t), nil
}

func (s *MemoryStore) ListTools(ctx context.Context, gatewayID string) ([]*Tool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*Tool
	for _, t := range s.tools {
		if t.GatewayID == gatewayID {
			out = append(out, clone(t))
		}
	}
	sortByCreatedAt(out, func(t *Tool) time.Time { return t.CreatedAt })
	return out, nil
}

func (s *MemoryStore) UpdateTool(ctx context.Context, id string, patch Patch) (*Tool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tools[id]
	if !ok {
		return nil, fmt.Errorf("tool %s: %w", id, ErrNotFound)
	}
	if err := applyPatch(t, patch); err != nil {
		return nil, err
	}
	t.UpdatedAt = time.Now().UTC()
	return clone(t), nil
}

func (s *MemoryStore) DeleteTool(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tools[id]; !ok {
		return fmt.Errorf("tool %s: %w", id, ErrNotFound)
	}
	delete(s.tools, id)
	return nil
}

// Folder upload operations

func (s *MemoryStore) CreateFolderUpload(ctx context.Context, u *FolderUpload) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ensureID(&u.ID)
	now := time.Now().UTC()
	u.CreatedAt = now
	u.UpdatedAt = now
	s.uploads[u.ID] = clone(u)
	return nil
}

func (s *MemoryStore) GetFolderUpload(ctx context.Context, id string) (*FolderUpload, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.uploads[id]
	if !ok {
		return nil, fmt.Errorf("folder upload %s: %w", id, ErrNotFound)
	}
	return clone(u), nil
}

func (s *MemoryStore) ListFolderUploads(ctx context.Context, projectID string) ([]*FolderUpload, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*FolderUpload
	for _, u := range s.uploads {
		if u.ProjectID == projectID {
			out = append(out, clone(u))
		}
	}
	sortByCreatedAt(out, func(u *FolderUpload) time.Time { return u.CreatedAt })
	return out, nil
}

func (s *MemoryStore) DeleteFolderUpload(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.uploads[id]; !ok {
		return fmt.Errorf("folder upload %s: %w", id, ErrNotFound)
	}
	delete(s.uploads, id)
	return nil
}

// Provider credential operations

func (s *MemoryStore) CreateProviderCredential(ctx context.Context, c *ProviderCredential) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ensureID(&c.ID)
	now := time.Now().UTC()
	c.CreatedAt = now
	c.UpdatedAt = now
	s.credentials[c.ID] = clone(c)
	return nil
}

func (s *MemoryStore) GetProviderCredential(ctx context.Context, projectID, providerType string) (*ProviderCredential, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, c := range s.credentials {
		if c.ProjectID == projectID && c.ProviderType == providerType {
			return clone(c), nil
		}
	}
	return nil, fmt.Errorf("credential %s/%s: %w", projectID, providerType, ErrNotFound)
}

func (s *MemoryStore) ListProviderCredentials(ctx context.Context, projectID string) ([]*ProviderCredential, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*ProviderCredential
	for _, c := range s.credentials {
		if c.ProjectID == projectID {
			out = append(out, clone(c))
		}
	}
	sortByCreatedAt(out, func(c *ProviderCredential) time.Time { return c.CreatedAt })
	return out, nil
}

func (s *MemoryStore) DeleteProviderCredential(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.credentials[id]; !ok {
		return fmt.Errorf("credential %s: %w", id, ErrNotFound)
	}
	delete(s.credentials, id)
	return nil
}

// sortByCreatedAt orders documents oldest-first for stable listings.
func sortByCreatedAt[T any](items []*T, at func(*T) time.Time) {
	sort.SliceStable(items, func(i, j int) bool {
		return at(items[i]).Before(at(items[j]))
	})
}
