// Package api exposes the REST surface: project, agent, and task CRUD,
// the ACP-compatible run endpoints, evaluations, trainings, gateways,
// folder uploads, and provider credentials. Conversation streaming lives
// in the sse package; this package covers everything request/response
// shaped.
package api

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/agentgrid/agentgrid/internal/artifact"
	"github.com/agentgrid/agentgrid/internal/cleanup"
	"github.com/agentgrid/agentgrid/internal/common/logger"
	"github.com/agentgrid/agentgrid/internal/dispatcher"
	"github.com/agentgrid/agentgrid/internal/orchestrator/docgen"
	"github.com/agentgrid/agentgrid/internal/orchestrator/evaluation"
	"github.com/agentgrid/agentgrid/internal/orchestrator/toolmeta"
	"github.com/agentgrid/agentgrid/internal/store"
	"github.com/agentgrid/agentgrid/internal/upload"
)

// ToolCacheInvalidator drops cached gateway tool sets after tool changes.
// Satisfied by the MCP gateway server; nil disables invalidation.
type ToolCacheInvalidator interface {
	Invalidate(gatewayID string)
}

// Handlers carries the services behind the REST surface.
type Handlers struct {
	store       store.Store
	dispatcher  *dispatcher.Service
	artifacts   artifact.Store
	cleanup     *cleanup.Service
	uploads     *upload.Service
	evaluations *evaluation.Orchestrator
	docs        *docgen.Orchestrator
	toolmeta    *toolmeta.Orchestrator
	gatewayInv  ToolCacheInvalidator
	logger      *logger.Logger
}

// New wires the handlers.
func New(
	st store.Store,
	disp *dispatcher.Service,
	artifacts artifact.Store,
	clean *cleanup.Service,
	uploads *upload.Service,
	evals *evaluation.Orchestrator,
	docs *docgen.Orchestrator,
	tools *toolmeta.Orchestrator,
	gatewayInv ToolCacheInvalidator,
	log *logger.Logger,
) *Handlers {
	return &Handlers{
		store:       st,
		dispatcher:  disp,
		artifacts:   artifacts,
		cleanup:     clean,
		uploads:     uploads,
		evaluations: evals,
		docs:        docs,
		toolmeta:    tools,
		gatewayInv:  gatewayInv,
		logger:      log.WithFields(zap.String("component", "api")),
	}
}

// RegisterRoutes mounts every endpoint under /api/v1.
func (h *Handlers) RegisterRoutes(router *gin.Engine) {
	api := router.Group("/api/v1")

	api.POST("/projects", h.createProject)
	api.GET("/projects", h.listProjects)
	api.GET("/projects/:id", h.getProject)
	api.PATCH("/projects/:id", h.updateProject)
	api.DELETE("/projects/:id", h.deleteProject)

	api.POST("/projects/:id/agents", h.createAgent)
	api.GET("/projects/:id/agents", h.listAgents)
	api.GET("/agents/:id", h.getAgent)
	api.PATCH("/agents/:id", h.updateAgent)
	api.DELETE("/agents/:id", h.deleteAgent)
	api.GET("/agents/:id/versions", h.listAgentVersions)

	api.POST("/projects/:id/tasks", h.dispatchTask)
	api.GET("/projects/:id/tasks", h.listTasks)
	api.GET("/tasks/:id", h.getTask)

	api.POST("/runs", h.createRun)
	api.GET("/runs/:id", h.getRun)

	api.POST("/projects/:id/evaluations", h.createEvaluation)
	api.GET("/projects/:id/evaluations", h.listEvaluations)
	api.GET("/evaluations/:id", h.getEvaluation)
	api.DELETE("/evaluations/:id", h.deleteEvaluation)
	api.POST("/evaluations/:id/runs", h.startEvaluationRun)
	api.GET("/evaluation-runs/:id", h.getEvaluationRun)
	api.GET("/projects/:id/evaluation-runs", h.listEvaluationRuns)

	api.POST("/projects/:id/trainings", h.startTraining)
	api.GET("/projects/:id/trainings", h.listTrainings)
	api.GET("/trainings/:id", h.getTraining)
	api.POST("/trainings/:id/projectmd", h.generateProjectMD)
	api.GET("/trainings/latest/projectmd", h.getLatestProjectMD)

	api.POST("/projects/:id/gateways", h.createGateway)
	api.GET("/projects/:id/gateways", h.listGateways)
	api.GET("/gateways/:id", h.getGateway)
	api.DELETE("/gateways/:id", h.deleteGateway)
	api.POST("/gateways/:id/tools", h.publishTool)
	api.GET("/gateways/:id/tools", h.listTools)
	api.GET("/tools/:id", h.getTool)
	api.PATCH("/tools/:id", h.updateTool)
	api.DELETE("/tools/:id", h.deleteTool)

	api.POST("/projects/:id/uploads", h.createFolderUpload)
	api.GET("/projects/:id/uploads", h.listFolderUploads)
	api.GET("/projects/:id/uploads/:upload_id", h.getFolderUpload)
	api.DELETE("/projects/:id/uploads/:upload_id", h.deleteFolderUpload)

	api.POST("/projects/:id/credentials", h.createCredential)
	api.GET("/projects/:id/credentials", h.listCredentials)
	api.DELETE("/projects/:id/credentials/:credential_id", h.deleteCredential)
}
