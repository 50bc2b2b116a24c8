// Package handler exposes the part catalog over HTTP.
package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"stockledger_backend/internal/catalog/service"
	"stockledger_backend/internal/catalog/transport"
	"stockledger_backend/platform/httpkit"
	"stockledger_backend/platform/validator"
)

const (
	msgInvalidRequest   = "invalid request"
	msgValidationFailed = "validation failed"
	msgInvalidMappingID = "invalid mapping id"
)

// Handler handles HTTP requests for parts and mappings.
type Handler struct {
	svc *service.Service
	val *validator.Validator
}

// New creates a new catalog handler.
func New(svc *service.Service, val *validator.Validator) *Handler {
	return &Handler{svc: svc, val: val}
}

// SavePart creates or refreshes a part master entry.
// POST /api/v1/parts
func (h *Handler) SavePart(c *gin.Context) {
	tenantID, ok := httpkit.MustTenantID(c)
	if !ok {
		return
	}

	var req transport.PartRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgInvalidRequest, nil)
		return
	}
	if err := h.val.Struct(req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgValidationFailed, err.Error())
		return
	}

	part, err := h.svc.SavePart(c.Request.Context(), tenantID, service.PartInput{
		PartNumber:   req.PartNumber,
		DisplayName:  req.DisplayName,
		Unit:         req.Unit,
		ReorderPoint: req.ReorderPoint,
	})
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.JSON(c, http.StatusCreated, transport.NewPartResponse(part))
}

// ListParts returns the part master.
// GET /api/v1/parts
func (h *Handler) ListParts(c *gin.Context) {
	tenantID, ok := httpkit.MustTenantID(c)
	if !ok {
		return
	}

	parts, err := h.svc.ListParts(c.Request.Context(), tenantID)
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, transport.NewPartListResponse(parts))
}

// DeletePart removes a part master entry.
// DELETE /api/v1/parts/:partNumber
func (h *Handler) DeletePart(c *gin.Context) {
	tenantID, ok := httpkit.MustTenantID(c)
	if !ok {
		return
	}

	err := h.svc.DeletePart(c.Request.Context(), tenantID, c.Param("partNumber"))
	if httpkit.HandleError(c, err) {
		return
	}
	c.Status(http.StatusNoContent)
}

// CreateMapping registers a description mapping.
// POST /api/v1/mappings
func (h *Handler) CreateMapping(c *gin.Context) {
	tenantID, ok := httpkit.MustTenantID(c)
	if !ok {
		return
	}

	var req transport.MappingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgInvalidRequest, nil)
		return
	}
	if err := h.val.Struct(req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgValidationFailed, err.Error())
		return
	}

	mapping, err := h.svc.CreateMapping(c.Request.Context(), tenantID, service.MappingInput{
		RawDescription: req.RawDescription,
		PartNumber:     req.PartNumber,
	})
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.JSON(c, http.StatusCreated, transport.NewMappingResponse(mapping))
}

// ListMappings returns the tenant's mappings.
// GET /api/v1/mappings
func (h *Handler) ListMappings(c *gin.Context) {
	tenantID, ok := httpkit.MustTenantID(c)
	if !ok {
		return
	}

	mappings, err := h.svc.ListMappings(c.Request.Context(), tenantID)
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, transport.NewMappingListResponse(mappings))
}

// DeleteMapping removes a mapping.
// DELETE /api/v1/mappings/:id
func (h *Handler) DeleteMapping(c *gin.Context) {
	tenantID, ok := httpkit.MustTenantID(c)
	if !ok {
		return
	}

	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgInvalidMappingID, nil)
		return
	}

	if err := h.svc.DeleteMapping(c.Request.Context(), tenantID, id); httpkit.HandleError(c, err) {
		return
	}
	c.Status(http.StatusNoContent)
}

// ListUnmapped returns the descriptions waiting for a mapping.
// GET /api/v1/mappings/unmapped
func (h *Handler) ListUnmapped(c *gin.Context) {
	tenantID, ok := httpkit.MustTenantID(c)
	if !ok {
		return
	}

	unmapped, err := h.svc.ListUnmapped(c.Request.Context(), tenantID)
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, transport.NewUnmappedListResponse(unmapped))
}
