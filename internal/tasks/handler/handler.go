// Package handler exposes task polling and live-watch endpoints.
package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"stockledger_backend/internal/tasks/service"
	"stockledger_backend/internal/tasks/transport"
	"stockledger_backend/platform/httpkit"
)

const (
	msgInvalidTaskID = "invalid task id"
	defaultListLimit = 50
)

// Handler handles HTTP requests for task snapshots.
type Handler struct {
	svc *service.Service
}

// New creates a new task handler.
func New(svc *service.Service) *Handler {
	return &Handler{svc: svc}
}

// List returns the tenant's recent tasks, newest first.
// GET /api/v1/tasks
func (h *Handler) List(c *gin.Context) {
	tenantID, ok := httpkit.MustTenantID(c)
	if !ok {
		return
	}

	limit, err := strconv.Atoi(c.DefaultQuery("limit", strconv.Itoa(defaultListLimit)))
	if err != nil {
		limit = defaultListLimit
	}

	tasks, err := h.svc.List(c.Request.Context(), tenantID, limit)
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, transport.NewTaskListResponse(tasks))
}

// Get returns one task snapshot including its conflict queue.
// GET /api/v1/tasks/:id
func (h *Handler) Get(c *gin.Context) {
	tenantID, ok := httpkit.MustTenantID(c)
	if !ok {
		return
	}

	taskID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgInvalidTaskID, nil)
		return
	}

	task, err := h.svc.Get(c.Request.Context(), tenantID, taskID)
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, transport.NewTaskResponse(task))
}

// Events streams task snapshots over SSE. The stream opens with the
// current snapshot and closes once the task settles; polling remains the
// source of truth for clients that cannot hold a connection.
// GET /api/v1/tasks/:id/events
func (h *Handler) Events(c *gin.Context) {
	tenantID, ok := httpkit.MustTenantID(c)
	if !ok {
		return
	}

	taskID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgInvalidTaskID, nil)
		return
	}

	// Load before subscribing so unknown or foreign tasks fail with a
	// normal JSON error instead of an empty stream.
	task, err := h.svc.Get(c.Request.Context(), tenantID, taskID)
	if httpkit.HandleError(c, err) {
		return
	}

	ch, cancel := h.svc.Watch(taskID)
	defer cancel()

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")
	c.Writer.Header().Set("X-Accel-Buffering", "no")

	c.SSEvent("task", transport.NewTaskResponse(task))
	c.Writer.Flush()

	if task.Status.Terminal() {
		return
	}

	clientGone := c.Request.Context().Done()
	for {
		select {
		case <-clientGone:
			return
		case snapshot, open := <-ch:
			if !open {
				return
			}
			c.SSEvent("task", transport.NewTaskResponse(snapshot))
			c.Writer.Flush()
			if snapshot.Status.Terminal() {
				return
			}
		}
	}
}
