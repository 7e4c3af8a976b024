package api

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/agentgrid/agentgrid/internal/store"
	v1 "github.com/agentgrid/agentgrid/pkg/api/v1"
)

func (h *Handlers) createEvaluation(c *gin.Context) {
	var req v1.CreateEvaluationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	id := projectID(c)
	if _, err := h.store.GetProject(c.Request.Context(), id); err != nil {
		h.respondError(c, err)
		return
	}
	agent, err := h.store.GetAgent(c.Request.Context(), req.TargetAgentID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	if agent.ProjectID != id {
		c.JSON(http.StatusForbidden, gin.H{"error": "agent belongs to another project"})
		return
	}

	cases := make([]store.TestCase, 0, len(req.TestCases))
	for _, tc := range req.TestCases {
		caseID := tc.ID
		if caseID == "" {
			caseID = uuid.New().String()
		}
		cases = append(cases, store.TestCase{
			ID:                  caseID,
			Task:                tc.Task,
			ExpectedOutput:      tc.ExpectedOutput,
			EvaluationGuideline: tc.EvaluationGuideline,
		})
	}
	eval := &store.Evaluation{
		ProjectID:     id,
		TargetAgentID: req.TargetAgentID,
		Criteria:      req.Criteria,
		TestCases:     cases,
		TestCaseCount: len(cases),
	}
	if err := h.store.CreateEvaluation(c.Request.Context(), eval); err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, toEvaluation(eval))
}

func (h *Handlers) listEvaluations(c *gin.Context) {
	evals, err := h.store.ListEvaluations(c.Request.Context(), projectID(c))
	if err != nil {
		h.respondError(c, err)
		return
	}
	out := make([]v1.Evaluation, 0, len(evals))
	for _, e := range evals {
		out = append(out, toEvaluation(e))
	}
	c.JSON(http.StatusOK, gin.H{"evaluations": out, "total": len(out)})
}

func (h *Handlers) getEvaluation(c *gin.Context) {
	e, err := h.store.GetEvaluation(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, toEvaluation(e))
}

func (h *Handlers) deleteEvaluation(c *gin.Context) {
	if err := h.store.DeleteEvaluation(c.Request.Context(), c.Param("id")); err != nil {
		h.respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// startEvaluationRun persists the run and drives it in the background;
// clients poll GET /evaluation-runs/{id}.
func (h *Handlers) startEvaluationRun(c *gin.Context) {
	var req v1.StartEvaluationRunRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	eval, err := h.store.GetEvaluation(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	if _, err := h.store.GetAgent(c.Request.Context(), req.GradingAgentID); err != nil {
		h.respondError(c, err)
		return
	}

	run := &store.EvaluationRun{
		EvaluationID:     eval.ID,
		ProjectID:        eval.ProjectID,
		Status:           store.EvaluationRunQueued,
		TargetAgentID:    eval.TargetAgentID,
		GradingAgentID:   req.GradingAgentID,
		GradingProjectID: req.GradingProjectID,
		TotalTestCases:   eval.TestCaseCount,
	}
	if err := h.store.CreateEvaluationRun(c.Request.Context(), run); err != nil {
		h.respondError(c, err)
		return
	}

	go func() {
		if err := h.evaluations.Run(context.Background(), run.ID); err != nil {
			h.logger.Error("Evaluation run failed",
				zap.String("run_id", run.ID), zap.Error(err))
		}
	}()

	c.JSON(http.StatusCreated, toEvaluationRun(run))
}

func (h *Handlers) getEvaluationRun(c *gin.Context) {
	run, err := h.store.GetEvaluationRun(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, toEvaluationRun(run))
}

func (h *Handlers) listEvaluationRuns(c *gin.Context) {
	runs, err := h.store.ListEvaluationRuns(c.Request.Context(), projectID(c))
	if err != nil {
		h.respondError(c, err)
		return
	}
	out := make([]v1.EvaluationRun, 0, len(runs))
	for _, r := range runs {
		out = append(out, toEvaluationRun(r))
	}
	c.JSON(http.StatusOK, gin.H{"runs": out, "total": len(out)})
}
