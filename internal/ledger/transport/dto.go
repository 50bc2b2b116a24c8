package transport

import (
	"time"

	"stockledger_backend/internal/ledger/domain"
	"stockledger_backend/internal/ledger/service"

	"github.com/shopspring/decimal"
)

// RecalcRequest triggers a stock recalculation. The body is optional.
type RecalcRequest struct {
	Reason string `json:"reason" validate:"omitempty,max=200"`
}

// RecalcResponse reports how the recalculation request was admitted.
// LOCK_DENIED means another rebuild holds the tenant lock; the caller may
// retry once the running task settles.
type RecalcResponse struct {
	TaskID  string `json:"taskId"`
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// AdjustmentRequest records a manual stock correction as a signed delta.
type AdjustmentRequest struct {
	PartNumber string          `json:"partNumber" validate:"required,min=1,max=100"`
	Quantity   decimal.Decimal `json:"quantity"`
	Reason     string          `json:"reason" validate:"omitempty,max=500"`
}

// AdjustmentResponse echoes the stored correction.
type AdjustmentResponse struct {
	PartNumber string `json:"partNumber"`
	Quantity   string `json:"quantity"`
	Reason     string `json:"reason,omitempty"`
	CreatedAt  string `json:"createdAt"`
}

// BalanceResponse is one derived stock position.
type BalanceResponse struct {
	PartNumber       string  `json:"partNumber"`
	DisplayName      string  `json:"displayName,omitempty"`
	OnHand           string  `json:"onHand"`
	TotalIn          string  `json:"totalIn"`
	TotalOut         string  `json:"totalOut"`
	ManualAdjustment string  `json:"manualAdjustment"`
	ReorderPoint     string  `json:"reorderPoint"`
	LastInRate       *string `json:"lastInRate,omitempty"`
	LastInAt         *string `json:"lastInAt,omitempty"`
	LastOutRate      *string `json:"lastOutRate,omitempty"`
	LastOutAt        *string `json:"lastOutAt,omitempty"`
	UnitValue        string  `json:"unitValue"`
	StockValue       string  `json:"stockValue"`
	Negative         bool    `json:"negative"`
	NeedsReorder     bool    `json:"needsReorder"`
	RecalculatedAt   string  `json:"recalculatedAt"`
}

// BalanceListResponse wraps the tenant's balances.
type BalanceListResponse struct {
	Items []BalanceResponse `json:"items"`
	Total int               `json:"total"`
}

// NewRecalcResponse maps an admission receipt to the API shape.
func NewRecalcResponse(receipt service.RebuildReceipt) RecalcResponse {
	resp := RecalcResponse{TaskID: receipt.TaskID.String(), Status: "RUNNING"}
	if receipt.LockDenied {
		resp.Status = "LOCK_DENIED"
		resp.Message = "a rebuild is already running for this tenant"
	}
	return resp
}

// NewAdjustmentResponse maps a stored adjustment to the API shape.
func NewAdjustmentResponse(adj domain.Adjustment) AdjustmentResponse {
	return AdjustmentResponse{
		PartNumber: adj.PartNumber,
		Quantity:   adj.Delta.String(),
		Reason:     adj.Reason,
		CreatedAt:  adj.CreatedAt.Format(time.RFC3339),
	}
}

// NewBalanceResponse maps a derived balance to the API shape.
func NewBalanceResponse(b domain.PartBalance) BalanceResponse {
	resp := BalanceResponse{
		PartNumber:       b.PartNumber,
		DisplayName:      b.DisplayName,
		OnHand:           b.OnHand.String(),
		TotalIn:          b.TotalIn.String(),
		TotalOut:         b.TotalOut.String(),
		ManualAdjustment: b.ManualAdjustment.String(),
		ReorderPoint:     b.ReorderPoint.String(),
		UnitValue:        b.UnitValue.String(),
		StockValue:       b.StockValue.String(),
		Negative:         b.Negative(),
		NeedsReorder:     b.NeedsReorder(),
		RecalculatedAt:   b.RecalculatedAt.Format(time.RFC3339),
	}
	if b.LastInRate != nil {
		rate := b.LastInRate.String()
		resp.LastInRate = &rate
	}
	if b.LastInAt != nil {
		at := b.LastInAt.Format(time.RFC3339)
		resp.LastInAt = &at
	}
	if b.LastOutRate != nil {
		rate := b.LastOutRate.String()
		resp.LastOutRate = &rate
	}
	if b.LastOutAt != nil {
		at := b.LastOutAt.Format(time.RFC3339)
		resp.LastOutAt = &at
	}
	return resp
}

// NewBalanceListResponse maps a balance set to the API shape.
func NewBalanceListResponse(balances []domain.PartBalance) BalanceListResponse {
	items := make([]BalanceResponse, 0, len(balances))
	for _, b := range balances {
		items = append(items, NewBalanceResponse(b))
	}
	return BalanceListResponse{Items: items, Total: len(items)}
}
