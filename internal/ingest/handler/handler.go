// Package handler exposes the ingestion endpoints: batch upload,
// conflict resolution and source document access.
package handler

import (
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"stockledger_backend/internal/ingest/service"
	"stockledger_backend/internal/ingest/transport"
	"stockledger_backend/internal/tasks/domain"
	taskstransport "stockledger_backend/internal/tasks/transport"
	"stockledger_backend/platform/httpkit"
	"stockledger_backend/platform/validator"
)

const (
	msgInvalidRequest   = "invalid request"
	msgValidationFailed = "validation failed"
	msgInvalidTaskID    = "invalid task id"
	msgInvalidDocID     = "invalid document id"
	msgFilesRequired    = "at least one file is required"
)

// Handler handles HTTP requests for the ingestion pipeline.
type Handler struct {
	svc *service.Service
	val *validator.Validator
}

// New creates a new ingestion handler.
func New(svc *service.Service, val *validator.Validator) *Handler {
	return &Handler{svc: svc, val: val}
}

// StartBatch accepts a multipart invoice batch and queues it for the
// worker. The response carries only the task id; progress is tracked
// through the task endpoints.
// POST /api/v1/tasks/ingest
func (h *Handler) StartBatch(c *gin.Context) {
	tenantID, ok := httpkit.MustTenantID(c)
	if !ok {
		return
	}

	form, err := c.MultipartForm()
	if err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgInvalidRequest, nil)
		return
	}
	headers := form.File["files"]
	if len(headers) == 0 {
		httpkit.Error(c, http.StatusBadRequest, msgFilesRequired, nil)
		return
	}

	uploads := make([]service.FileUpload, 0, len(headers))
	for _, fh := range headers {
		fh := fh
		uploads = append(uploads, service.FileUpload{
			Name:        fh.Filename,
			ContentType: fh.Header.Get("Content-Type"),
			Size:        fh.Size,
			Open:        func() (io.ReadCloser, error) { return fh.Open() },
		})
	}

	task, err := h.svc.StartBatch(c.Request.Context(), tenantID, uploads)
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.JSON(c, http.StatusAccepted, transport.NewBatchAcceptedResponse(task))
}

// Resolve records duplicate decisions on a paused batch and returns the
// fresh task snapshot.
// POST /api/v1/tasks/:id/resolve
func (h *Handler) Resolve(c *gin.Context) {
	tenantID, ok := httpkit.MustTenantID(c)
	if !ok {
		return
	}

	taskID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgInvalidTaskID, nil)
		return
	}

	var req transport.ResolveRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			httpkit.Error(c, http.StatusBadRequest, msgInvalidRequest, nil)
			return
		}
		if err := h.val.Struct(req); err != nil {
			httpkit.Error(c, http.StatusBadRequest, msgValidationFailed, err.Error())
			return
		}
	}

	decisions := make([]service.Decision, 0, len(req.Decisions))
	for _, d := range req.Decisions {
		conflictID, err := uuid.Parse(d.ConflictID)
		if err != nil {
			httpkit.Error(c, http.StatusBadRequest, msgValidationFailed, "invalid conflict id")
			return
		}
		decisions = append(decisions, service.Decision{
			ConflictID: conflictID,
			Action:     domain.Resolution(d.Action),
		})
	}

	task, err := h.svc.Resolve(c.Request.Context(), tenantID, taskID, decisions)
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, taskstransport.NewTaskResponse(task))
}

// DocumentURL returns a short-lived presigned link to a stored source
// document, excluded ones included.
// GET /api/v1/documents/:id/url
func (h *Handler) DocumentURL(c *gin.Context) {
	tenantID, ok := httpkit.MustTenantID(c)
	if !ok {
		return
	}

	docID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgInvalidDocID, nil)
		return
	}

	url, err := h.svc.DocumentURL(c.Request.Context(), tenantID, docID)
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, url)
}
