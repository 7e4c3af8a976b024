package api

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/agentgrid/agentgrid/internal/cleanup"
	"github.com/agentgrid/agentgrid/internal/store"
	v1 "github.com/agentgrid/agentgrid/pkg/api/v1"
)

func projectID(c *gin.Context) string {
	return strings.ToLower(c.Param("id"))
}

func (h *Handlers) createProject(c *gin.Context) {
	var req v1.CreateProjectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	p := &store.Project{
		OrganizationID: req.OrganizationID,
		Name:           req.Name,
		Members:        req.Members,
	}
	if err := h.store.CreateProject(c.Request.Context(), p); err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, toProject(p))
}

func (h *Handlers) listProjects(c *gin.Context) {
	projects, err := h.store.ListProjects(c.Request.Context(), c.Query("organization_id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	out := make([]v1.Project, 0, len(projects))
	for _, p := range projects {
		out = append(out, toProject(p))
	}
	c.JSON(http.StatusOK, gin.H{"projects": out, "total": len(out)})
}

func (h *Handlers) getProject(c *gin.Context) {
	p, err := h.store.GetProject(c.Request.Context(), projectID(c))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, toProject(p))
}

func (h *Handlers) updateProject(c *gin.Context) {
	var req v1.UpdateProjectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	patch := store.Patch{}
	if req.Name != nil {
		patch["name"] = *req.Name
	}
	if req.Members != nil {
		patch["members"] = *req.Members
	}
	p, err := h.store.UpdateProject(c.Request.Context(), projectID(c), patch)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, toProject(p))
}

// deleteProject cascades through every dependent entity and the project's
// artifact prefixes. A partial purge still reports what was removed.
func (h *Handlers) deleteProject(c *gin.Context) {
	id := projectID(c)
	if _, err := h.store.GetProject(c.Request.Context(), id); err != nil {
		h.respondError(c, err)
		return
	}
	report := h.cleanup.Purge(c.Request.Context(), id)
	if report.Status == cleanup.StatusPartial {
		h.logger.Warn("Project purge left residue",
			zap.String("project_id", id),
			zap.Strings("errors", report.Errors))
	}
	c.JSON(http.StatusOK, v1.CleanupReport{
		ProjectID: report.ProjectID,
		Status:    report.Status,
		Deleted:   report.Deleted,
		Errors:    report.Errors,
	})
}

func (h *Handlers) createCredential(c *gin.Context) {
	var req v1.ProviderCredentialRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	id := projectID(c)
	if _, err := h.store.GetProject(c.Request.Context(), id); err != nil {
		h.respondError(c, err)
		return
	}
	cred := &store.ProviderCredential{
		ProjectID:    id,
		ProviderType: req.ProviderType,
		Config:       req.Config,
	}
	if err := h.store.CreateProviderCredential(c.Request.Context(), cred); err != nil {
		h.respondError(c, err)
		return
	}
	// Config stays write-only on the wire.
	c.JSON(http.StatusCreated, gin.H{
		"id":            cred.ID,
		"project_id":    cred.ProjectID,
		"provider_type": cred.ProviderType,
	})
}

func (h *Handlers) listCredentials(c *gin.Context) {
	creds, err := h.store.ListProviderCredentials(c.Request.Context(), projectID(c))
	if err != nil {
		h.respondError(c, err)
		return
	}
	out := make([]gin.H, 0, len(creds))
	for _, cred := range creds {
		out = append(out, gin.H{
			"id":            cred.ID,
			"provider_type": cred.ProviderType,
			"created_at":    cred.CreatedAt,
		})
	}
	c.JSON(http.StatusOK, gin.H{"credentials": out, "total": len(out)})
}

func (h *Handlers) deleteCredential(c *gin.Context) {
	if err := h.store.DeleteProviderCredential(c.Request.Context(), c.Param("credential_id")); err != nil {
		h.respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
