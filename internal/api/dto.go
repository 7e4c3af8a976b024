package api

import (
	"github.com/agentgrid/agentgrid/internal/store"
	v1 "github.com/agentgrid/agentgrid/pkg/api/v1"
)

func toProject(p *store.Project) v1.Project {
	return v1.Project{
		ID:             p.ID,
		OrganizationID: p.OrganizationID,
		Name:           p.Name,
		Members:        p.Members,
		CreatedAt:      p.CreatedAt,
		UpdatedAt:      p.UpdatedAt,
	}
}

func toAgent(a *store.Agent) v1.Agent {
	return v1.Agent{
		ID:           a.ID,
		ProjectID:    a.ProjectID,
		Name:         a.Name,
		Description:  a.Description,
		Instructions: a.Instructions,
		OutputFormat: a.OutputFormat,
		State:        string(a.State),
		Deployed:     a.Deployed,
		Capabilities: a.Capabilities,
		Metadata:     a.Metadata,
		CreatedAt:    a.CreatedAt,
		UpdatedAt:    a.UpdatedAt,
	}
}

func toAgentVersions(versions []store.AgentVersion) []v1.AgentVersion {
	out := make([]v1.AgentVersion, 0, len(versions))
	for _, v := range versions {
		out = append(out, v1.AgentVersion{
			Instructions: v.Instructions,
			OutputFormat: v.OutputFormat,
			CreatedAt:    v.CreatedAt,
			UpdatedBy:    v.UpdatedBy,
		})
	}
	return out
}

func toTask(t *store.Task) v1.Task {
	return v1.Task{
		ID:            t.ID,
		ProjectID:     t.ProjectID,
		AgentID:       t.AgentID,
		Role:          string(t.Role),
		Content:       t.Content,
		Status:        string(t.Status),
		RelatedTaskID: t.RelatedTaskID,
		Error:         t.Error,
		Metadata:      t.Metadata,
		CreatedAt:     t.CreatedAt,
		UpdatedAt:     t.UpdatedAt,
	}
}

func toEvaluation(e *store.Evaluation) v1.Evaluation {
	cases := make([]v1.TestCase, 0, len(e.TestCases))
	for _, tc := range e.TestCases {
		cases = append(cases, v1.TestCase{
			ID:                  tc.ID,
			Task:                tc.Task,
			ExpectedOutput:      tc.ExpectedOutput,
			EvaluationGuideline: tc.EvaluationGuideline,
		})
	}
	return v1.Evaluation{
		ID:            e.ID,
		ProjectID:     e.ProjectID,
		TargetAgentID: e.TargetAgentID,
		Criteria:      e.Criteria,
		TestCases:     cases,
		TestCaseCount: e.TestCaseCount,
		CreatedAt:     e.CreatedAt,
		UpdatedAt:     e.UpdatedAt,
	}
}

func toEvaluationRun(r *store.EvaluationRun) v1.EvaluationRun {
	results := make([]v1.TestCaseResult, 0, len(r.TestCaseResults))
	for _, res := range r.TestCaseResults {
		results = append(results, v1.TestCaseResult{
			TestCaseID:     res.TestCaseID,
			Status:         string(res.Status),
			TargetResponse: res.TargetResponse,
			GraderResponse: res.GraderResponse,
			Score:          res.Score,
			ErrorMessage:   res.ErrorMessage,
			StartedAt:      res.StartedAt,
			CompletedAt:    res.CompletedAt,
		})
	}
	return v1.EvaluationRun{
		ID:                 r.ID,
		EvaluationID:       r.EvaluationID,
		ProjectID:          r.ProjectID,
		Status:             string(r.Status),
		TargetAgentID:      r.TargetAgentID,
		GradingAgentID:     r.GradingAgentID,
		TotalTestCases:     r.TotalTestCases,
		CompletedTestCases: r.CompletedTestCases,
		FailedTestCases:    r.FailedTestCases,
		OverallScore:       r.OverallScore,
		TestCaseResults:    results,
		Error:              r.Error,
		CreatedAt:          r.CreatedAt,
		UpdatedAt:          r.UpdatedAt,
	}
}

func toTraining(t *store.Training) v1.Training {
	return v1.Training{
		ID:            t.ID,
		ProjectID:     t.ProjectID,
		DataSourceIDs: t.DataSourceIDs,
		Status:        string(t.Status),
		Progress:      t.Progress,
		Error:         t.Error,
		ProjectMD: v1.ProjectMD{
			Status:       string(t.ProjectMD.Status),
			S3URL:        t.ProjectMD.S3URL,
			ErrorMessage: t.ProjectMD.ErrorMessage,
			StartedAt:    t.ProjectMD.StartedAt,
			CompletedAt:  t.ProjectMD.CompletedAt,
		},
		CreatedAt: t.CreatedAt,
		UpdatedAt: t.UpdatedAt,
	}
}

func toGateway(g *store.Gateway) v1.Gateway {
	return v1.Gateway{
		ID:        g.ID,
		ProjectID: g.ProjectID,
		Name:      g.Name,
		APIKey:    g.APIKey,
		CreatedAt: g.CreatedAt,
		UpdatedAt: g.UpdatedAt,
	}
}

func toTool(t *store.Tool) v1.Tool {
	return v1.Tool{
		ID:           t.ID,
		GatewayID:    t.GatewayID,
		AgentID:      t.AgentID,
		ToolName:     t.ToolName,
		Description:  t.Description,
		InputSchema:  t.InputSchema,
		OutputFormat: t.OutputFormat,
		Status:       string(t.Status),
		Enabled:      t.Enabled,
		CreatedAt:    t.CreatedAt,
		UpdatedAt:    t.UpdatedAt,
	}
}

func toFolderUpload(u *store.FolderUpload) v1.FolderUpload {
	return v1.FolderUpload{
		ID:         u.ID,
		ProjectID:  u.ProjectID,
		TotalFiles: u.TotalFiles,
		TotalSize:  u.TotalSize,
		MaxDepth:   u.MaxDepth,
		CreatedAt:  u.CreatedAt,
		UpdatedAt:  u.UpdatedAt,
	}
}

// runStatus maps the task status machine onto the ACP run vocabulary.
func runStatus(s store.TaskStatus) string {
	switch s {
	case store.TaskStatusQueued:
		return v1.RunStatusCreated
	case store.TaskStatusProcessing:
		return v1.RunStatusInProgress
	case store.TaskStatusCompleted:
		return v1.RunStatusCompleted
	default:
		return v1.RunStatusFailed
	}
}

func toRun(t *store.Task) v1.Run {
	run := v1.Run{
		RunID:     t.ID,
		AgentName: t.AgentID,
		Status:    runStatus(t.Status),
		Error:     t.Error,
		CreatedAt: t.CreatedAt,
		UpdatedAt: t.UpdatedAt,
	}
	if t.Status == store.TaskStatusCompleted && t.Content != "" {
		run.Output = []v1.RunMessage{{Parts: []v1.RunPart{{
			ContentType: "text/plain",
			Content:     t.Content,
		}}}}
	}
	return run
}
