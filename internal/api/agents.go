package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/agentgrid/agentgrid/internal/store"
	v1 "github.com/agentgrid/agentgrid/pkg/api/v1"
)

func (h *Handlers) createAgent(c *gin.Context) {
	var req v1.CreateAgentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	id := projectID(c)
	if _, err := h.store.GetProject(c.Request.Context(), id); err != nil {
		h.respondError(c, err)
		return
	}
	a := &store.Agent{
		ProjectID:    id,
		Name:         req.Name,
		Description:  req.Description,
		Instructions: req.Instructions,
		OutputFormat: req.OutputFormat,
		State:        store.AgentStateEnabled,
		Capabilities: req.Capabilities,
		Metadata:     req.Metadata,
	}
	if err := h.store.CreateAgent(c.Request.Context(), a); err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, toAgent(a))
}

func (h *Handlers) listAgents(c *gin.Context) {
	agents, err := h.store.ListAgents(c.Request.Context(), projectID(c))
	if err != nil {
		h.respondError(c, err)
		return
	}
	out := make([]v1.Agent, 0, len(agents))
	for _, a := range agents {
		out = append(out, toAgent(a))
	}
	c.JSON(http.StatusOK, gin.H{"agents": out, "total": len(out)})
}

func (h *Handlers) getAgent(c *gin.Context) {
	a, err := h.store.GetAgent(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, toAgent(a))
}

func (h *Handlers) updateAgent(c *gin.Context) {
	var req v1.UpdateAgentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	patch := store.Patch{}
	if req.Name != nil {
		patch["name"] = *req.Name
	}
	if req.Description != nil {
		patch["description"] = *req.Description
	}
	if req.Instructions != nil {
		patch["instructions"] = *req.Instructions
	}
	if req.OutputFormat != nil {
		patch["output_format"] = *req.OutputFormat
	}
	if req.State != nil {
		patch["state"] = *req.State
	}
	if req.Deployed != nil {
		patch["deployed"] = *req.Deployed
	}
	if req.Capabilities != nil {
		patch["capabilities"] = *req.Capabilities
	}
	if req.Metadata != nil {
		patch["metadata"] = *req.Metadata
	}
	if req.UpdatedBy != "" {
		patch["updated_by"] = req.UpdatedBy
	}
	a, err := h.store.UpdateAgent(c.Request.Context(), c.Param("id"), patch)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, toAgent(a))
}

func (h *Handlers) deleteAgent(c *gin.Context) {
	if err := h.store.DeleteAgent(c.Request.Context(), c.Param("id")); err != nil {
		h.respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handlers) listAgentVersions(c *gin.Context) {
	a, err := h.store.GetAgent(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"agent_id": a.ID,
		"versions": toAgentVersions(a.Versions),
		"total":    len(a.Versions),
	})
}
