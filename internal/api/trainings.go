package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/agentgrid/agentgrid/internal/store"
	v1 "github.com/agentgrid/agentgrid/pkg/api/v1"
)

func (h *Handlers) startTraining(c *gin.Context) {
	var req v1.StartTrainingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	training, err := h.dispatcher.StartTraining(c.Request.Context(), projectID(c), req.DataSourceIDs)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, toTraining(training))
}

func (h *Handlers) listTrainings(c *gin.Context) {
	trainings, err := h.store.ListTrainings(c.Request.Context(), projectID(c))
	if err != nil {
		h.respondError(c, err)
		return
	}
	out := make([]v1.Training, 0, len(trainings))
	for _, t := range trainings {
		out = append(out, toTraining(t))
	}
	c.JSON(http.StatusOK, gin.H{"trainings": out, "total": len(out)})
}

func (h *Handlers) getTraining(c *gin.Context) {
	t, err := h.store.GetTraining(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, toTraining(t))
}

// generateProjectMD kicks off documentation generation for a finished
// training and returns immediately; progress lives on the training's
// projectmd sub-state.
func (h *Handlers) generateProjectMD(c *gin.Context) {
	t, err := h.store.GetTraining(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return
	}

	go func() {
		if err := h.docs.Generate(context.Background(), t.ID); err != nil {
			h.logger.Error("Documentation generation failed",
				zap.String("training_id", t.ID), zap.Error(err))
		}
	}()

	c.JSON(http.StatusAccepted, v1.GenerateProjectMDResponse{
		TrainingID: t.ID,
		Status:     "in_progress",
	})
}

// getLatestProjectMD serves the most recent training's generated project
// documentation verbatim. 404 until a generation has completed.
func (h *Handlers) getLatestProjectMD(c *gin.Context) {
	pid := strings.ToLower(c.Query("project_id"))
	if pid == "" {
		badRequest(c, errors.New("project_id query parameter is required"))
		return
	}
	t, err := h.store.LatestTraining(c.Request.Context(), pid)
	if err != nil {
		h.respondError(c, err)
		return
	}
	if t.ProjectMD.Status != store.ProjectMDCompleted || t.ProjectMD.S3URL == "" {
		h.respondError(c, fmt.Errorf("project documentation for %s: %w", pid, store.ErrNotFound))
		return
	}
	body, err := h.artifacts.Get(c.Request.Context(), t.ProjectMD.S3URL)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.Data(http.StatusOK, "text/markdown; charset=utf-8", body)
}
