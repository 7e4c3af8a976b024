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

func (h *Handlers) createGateway(c *gin.Context) {
	var req v1.CreateGatewayRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	id := projectID(c)
	if _, err := h.store.GetProject(c.Request.Context(), id); err != nil {
		h.respondError(c, err)
		return
	}
	gw := &store.Gateway{
		ProjectID: id,
		Name:      req.Name,
		APIKey:    "agk_" + uuid.New().String(),
	}
	if err := h.store.CreateGateway(c.Request.Context(), gw); err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, toGateway(gw))
}

func (h *Handlers) listGateways(c *gin.Context) {
	gateways, err := h.store.ListGateways(c.Request.Context(), projectID(c))
	if err != nil {
		h.respondError(c, err)
		return
	}
	out := make([]v1.Gateway, 0, len(gateways))
	for _, gw := range gateways {
		g := toGateway(gw)
		g.APIKey = "" // only returned on create and direct get
		out = append(out, g)
	}
	c.JSON(http.StatusOK, gin.H{"gateways": out, "total": len(out)})
}

func (h *Handlers) getGateway(c *gin.Context) {
	gw, err := h.store.GetGateway(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, toGateway(gw))
}

func (h *Handlers) deleteGateway(c *gin.Context) {
	gw, err := h.store.GetGateway(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	tools, err := h.store.ListTools(c.Request.Context(), gw.ID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	for _, tool := range tools {
		if err := h.store.DeleteTool(c.Request.Context(), tool.ID); err != nil {
			h.respondError(c, err)
			return
		}
	}
	if err := h.store.DeleteGateway(c.Request.Context(), gw.ID); err != nil {
		h.respondError(c, err)
		return
	}
	h.invalidateGateway(gw.ID)
	c.Status(http.StatusNoContent)
}

// publishTool creates the tool in "generating" and synthesizes its
// metadata in the background; the tool flips to "ready" (or "failed") on
// its own record.
func (h *Handlers) publishTool(c *gin.Context) {
	var req v1.PublishToolRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	gw, err := h.store.GetGateway(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	agent, err := h.store.GetAgent(c.Request.Context(), req.AgentID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	if agent.ProjectID != gw.ProjectID {
		c.JSON(http.StatusForbidden, gin.H{"error": "agent belongs to another project"})
		return
	}

	tool := &store.Tool{
		GatewayID: gw.ID,
		AgentID:   agent.ID,
		ToolName:  agent.Name,
		Status:    store.ToolStatusGenerating,
	}
	if err := h.store.CreateTool(c.Request.Context(), tool); err != nil {
		h.respondError(c, err)
		return
	}

	go func() {
		if err := h.toolmeta.Synthesize(context.Background(), tool.ID); err != nil {
			h.logger.Error("Tool metadata synthesis failed",
				zap.String("tool_id", tool.ID), zap.Error(err))
			return
		}
		h.invalidateGateway(gw.ID)
	}()

	c.JSON(http.StatusCreated, toTool(tool))
}

func (h *Handlers) listTools(c *gin.Context) {
	tools, err := h.store.ListTools(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	out := make([]v1.Tool, 0, len(tools))
	for _, t := range tools {
		out = append(out, toTool(t))
	}
	c.JSON(http.StatusOK, gin.H{"tools": out, "total": len(out)})
}

func (h *Handlers) getTool(c *gin.Context) {
	t, err := h.store.GetTool(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, toTool(t))
}

func (h *Handlers) updateTool(c *gin.Context) {
	var req struct {
		Enabled     *bool   `json:"enabled,omitempty"`
		Description *string `json:"description,omitempty"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	patch := store.Patch{}
	if req.Enabled != nil {
		patch["enabled"] = *req.Enabled
	}
	if req.Description != nil {
		patch["description"] = *req.Description
	}
	t, err := h.store.UpdateTool(c.Request.Context(), c.Param("id"), patch)
	if err != nil {
		h.respondError(c, err)
		return
	}
	h.invalidateGateway(t.GatewayID)
	c.JSON(http.StatusOK, toTool(t))
}

func (h *Handlers) deleteTool(c *gin.Context) {
	t, err := h.store.GetTool(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	if err := h.store.DeleteTool(c.Request.Context(), t.ID); err != nil {
		h.respondError(c, err)
		return
	}
	h.invalidateGateway(t.GatewayID)
	c.Status(http.StatusNoContent)
}

func (h *Handlers) invalidateGateway(gatewayID string) {
	if h.gatewayInv != nil {
		h.gatewayInv.Invalidate(gatewayID)
	}
}
