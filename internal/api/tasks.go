package api

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/agentgrid/agentgrid/internal/dispatcher"
	"github.com/agentgrid/agentgrid/internal/store"
	v1 "github.com/agentgrid/agentgrid/pkg/api/v1"
)

func (h *Handlers) dispatchTask(c *gin.Context) {
	var req v1.DispatchTaskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	userTask, assistantTask, err := h.dispatcher.Dispatch(c.Request.Context(), dispatcher.DispatchRequest{
		ProjectID: projectID(c),
		AgentID:   req.AgentID,
		Content:   req.Content,
		Metadata:  req.Metadata,
	})
	if err != nil {
		h.respondError(c, err)
		return
	}
	user := toTask(userTask)
	assistant := toTask(assistantTask)
	c.JSON(http.StatusCreated, v1.DispatchTaskResponse{
		UserTask:      &user,
		AssistantTask: &assistant,
	})
}

func (h *Handlers) listTasks(c *gin.Context) {
	filter := store.TaskFilter{ProjectID: projectID(c), AgentID: c.Query("agent_id")}
	if role := c.Query("role"); role != "" {
		filter.Role = store.TaskRole(role)
	}
	if status := c.Query("status"); status != "" {
		filter.Statuses = []store.TaskStatus{store.TaskStatus(status)}
	}
	tasks, err := h.store.FindTasks(c.Request.Context(), filter)
	if err != nil {
		h.respondError(c, err)
		return
	}
	out := make([]v1.Task, 0, len(tasks))
	for _, t := range tasks {
		out = append(out, toTask(t))
	}
	c.JSON(http.StatusOK, gin.H{"tasks": out, "total": len(out)})
}

func (h *Handlers) getTask(c *gin.Context) {
	t, err := h.store.GetTask(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, toTask(t))
}

// createRun is the ACP-compatible submission path: agent_name carries the
// agent id, the project is resolved from the agent, and the returned
// run_id is the assistant task id.
func (h *Handlers) createRun(c *gin.Context) {
	var req v1.CreateRunRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	content := runContent(req.Input)
	if content == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "input has no text/plain parts"})
		return
	}
	agent, err := h.store.GetAgent(c.Request.Context(), req.AgentName)
	if err != nil {
		h.respondError(c, err)
		return
	}
	_, assistantTask, err := h.dispatcher.Dispatch(c.Request.Context(), dispatcher.DispatchRequest{
		ProjectID: agent.ProjectID,
		AgentID:   agent.ID,
		Content:   content,
		Metadata:  map[string]any{"acp_mode": req.Mode},
	})
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, toRun(assistantTask))
}

func (h *Handlers) getRun(c *gin.Context) {
	t, err := h.store.GetTask(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	if t.Role != store.TaskRoleAssistant {
		c.JSON(http.StatusNotFound, gin.H{"error": "run not found"})
		return
	}
	c.JSON(http.StatusOK, toRun(t))
}

// runContent joins every text/plain part across all input messages.
func runContent(input []v1.RunMessage) string {
	var parts []string
	for _, msg := range input {
		for _, part := range msg.Parts {
			if strings.HasPrefix(part.ContentType, "text/") && part.Content != "" {
				parts = append(parts, part.Content)
			}
		}
	}
	return strings.Join(parts, "\n")
}
