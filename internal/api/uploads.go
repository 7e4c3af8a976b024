package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	v1 "github.com/agentgrid/agentgrid/pkg/api/v1"
)

func (h *Handlers) createFolderUpload(c *gin.Context) {
	var req v1.CreateFolderUploadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	u, err := h.uploads.Create(c.Request.Context(), projectID(c), req)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, toFolderUpload(u))
}

func (h *Handlers) listFolderUploads(c *gin.Context) {
	uploads, err := h.uploads.List(c.Request.Context(), projectID(c))
	if err != nil {
		h.respondError(c, err)
		return
	}
	out := make([]v1.FolderUpload, 0, len(uploads))
	for _, u := range uploads {
		out = append(out, toFolderUpload(u))
	}
	c.JSON(http.StatusOK, gin.H{"uploads": out, "total": len(out)})
}

func (h *Handlers) getFolderUpload(c *gin.Context) {
	u, err := h.uploads.Get(c.Request.Context(), projectID(c), c.Param("upload_id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, toFolderUpload(u))
}

func (h *Handlers) deleteFolderUpload(c *gin.Context) {
	if err := h.uploads.Delete(c.Request.Context(), projectID(c), c.Param("upload_id")); err != nil {
		h.respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
