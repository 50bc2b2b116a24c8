package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"stockledger_backend/internal/ledger/service"
	"stockledger_backend/internal/ledger/transport"
	"stockledger_backend/platform/httpkit"
	"stockledger_backend/platform/validator"
)

const (
	msgInvalidRequest   = "invalid request"
	msgValidationFailed = "validation failed"
)

// Handler handles HTTP requests for balances and recalculations.
type Handler struct {
	svc *service.Service
	val *validator.Validator
}

// New creates a new ledger handler.
func New(svc *service.Service, val *validator.Validator) *Handler {
	return &Handler{svc: svc, val: val}
}

// Recalculate makes a single-shot rebuild attempt.
// POST /api/v1/recalc
func (h *Handler) Recalculate(c *gin.Context) {
	tenantID, ok := httpkit.MustTenantID(c)
	if !ok {
		return
	}

	var req transport.RecalcRequest
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
	reason := req.Reason
	if reason == "" {
		reason = service.ReasonManualRequest
	}

	receipt, err := h.svc.StartRebuild(c.Request.Context(), tenantID, reason)
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.JSON(c, http.StatusAccepted, transport.NewRecalcResponse(receipt))
}

// Balances returns the current derived stock positions.
// GET /api/v1/balances
func (h *Handler) Balances(c *gin.Context) {
	tenantID, ok := httpkit.MustTenantID(c)
	if !ok {
		return
	}

	balances, err := h.svc.ListBalances(c.Request.Context(), tenantID)
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, transport.NewBalanceListResponse(balances))
}

// Adjust records a manual correction delta and triggers a rebuild.
// POST /api/v1/balances/adjust
func (h *Handler) Adjust(c *gin.Context) {
	tenantID, ok := httpkit.MustTenantID(c)
	if !ok {
		return
	}

	var req transport.AdjustmentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgInvalidRequest, nil)
		return
	}
	if err := h.val.Struct(req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgValidationFailed, err.Error())
		return
	}

	adj, err := h.svc.RecordAdjustment(c.Request.Context(), tenantID, service.AdjustmentInput{
		PartNumber: req.PartNumber,
		Delta:      req.Quantity,
		Reason:     req.Reason,
	})
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.JSON(c, http.StatusCreated, transport.NewAdjustmentResponse(adj))
}
