package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/agentgrid/agentgrid/internal/artifact"
	"github.com/agentgrid/agentgrid/internal/dispatcher"
	"github.com/agentgrid/agentgrid/internal/store"
	"github.com/agentgrid/agentgrid/internal/upload"
)

// respondError maps domain errors onto HTTP statuses. Anything unmapped
// is a 500 and gets logged; mapped errors are the caller's problem.
func (h *Handlers) respondError(c *gin.Context, err error) {
	var verr *upload.ValidationError
	switch {
	case errors.Is(err, store.ErrNotFound), errors.Is(err, artifact.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, store.ErrValidation):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, store.ErrConflict):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, dispatcher.ErrThrottled):
		c.JSON(http.StatusTooManyRequests, gin.H{"error": err.Error()})
	case errors.Is(err, dispatcher.ErrAgentDisabled):
		c.JSON(http.StatusForbidden, gin.H{"error": err.Error()})
	case errors.As(err, &verr):
		c.JSON(http.StatusBadRequest, gin.H{"error": verr.Error(), "problems": verr.Problems})
	default:
		h.logger.Error("Request failed", zap.String("path", c.FullPath()), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}

func badRequest(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
}
