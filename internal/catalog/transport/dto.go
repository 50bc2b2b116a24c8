// Package transport defines request and response DTOs for the catalog API.
package transport

import (
	"time"

	"github.com/shopspring/decimal"

	"stockledger_backend/internal/catalog/repository"
)

// PartRequest creates or refreshes a part master entry.
type PartRequest struct {
	PartNumber   string          `json:"partNumber" validate:"required,min=1,max=100"`
	DisplayName  string          `json:"displayName" validate:"max=200"`
	Unit         string          `json:"unit" validate:"max=20"`
	ReorderPoint decimal.Decimal `json:"reorderPoint"`
}

// PartResponse is one part master entry.
type PartResponse struct {
	PartNumber   string `json:"partNumber"`
	DisplayName  string `json:"displayName,omitempty"`
	Unit         string `json:"unit"`
	ReorderPoint string `json:"reorderPoint"`
	CreatedAt    string `json:"createdAt"`
}

// PartListResponse wraps the part master.
type PartListResponse struct {
	Items []PartResponse `json:"items"`
	Total int            `json:"total"`
}

// MappingRequest registers a description mapping.
type MappingRequest struct {
	RawDescription string `json:"rawDescription" validate:"required,min=1,max=500"`
	PartNumber     string `json:"partNumber" validate:"required,min=1,max=100"`
}

// MappingResponse is one stored mapping. RawDescription is the normalized
// form the matcher uses.
type MappingResponse struct {
	ID             string `json:"id"`
	RawDescription string `json:"rawDescription"`
	PartNumber     string `json:"partNumber"`
	CreatedAt      string `json:"createdAt"`
}

// MappingListResponse wraps the tenant's mappings.
type MappingListResponse struct {
	Items []MappingResponse `json:"items"`
	Total int               `json:"total"`
}

// UnmappedResponse is one description waiting for a mapping.
type UnmappedResponse struct {
	RawDescription string `json:"rawDescription"`
	Occurrences    int    `json:"occurrences"`
	FirstSeen      string `json:"firstSeen"`
	LastSeen       string `json:"lastSeen"`
}

// UnmappedListResponse wraps the unmapped backlog.
type UnmappedListResponse struct {
	Items []UnmappedResponse `json:"items"`
	Total int                `json:"total"`
}

// NewPartResponse maps a part to its API shape.
func NewPartResponse(p repository.Part) PartResponse {
	return PartResponse{
		PartNumber:   p.PartNumber,
		DisplayName:  p.DisplayName,
		Unit:         p.Unit,
		ReorderPoint: p.ReorderPoint.String(),
		CreatedAt:    p.CreatedAt.Format(time.RFC3339),
	}
}

// NewPartListResponse maps the part master to its API shape.
func NewPartListResponse(parts []repository.Part) PartListResponse {
	items := make([]PartResponse, 0, len(parts))
	for _, p := range parts {
		items = append(items, NewPartResponse(p))
	}
	return PartListResponse{Items: items, Total: len(items)}
}

// NewMappingResponse maps a mapping to its API shape.
func NewMappingResponse(m repository.Mapping) MappingResponse {
	return MappingResponse{
		ID:             m.ID.String(),
		RawDescription: m.RawDescription,
		PartNumber:     m.PartNumber,
		CreatedAt:      m.CreatedAt.Format(time.RFC3339),
	}
}

// NewMappingListResponse maps the mappings to their API shape.
func NewMappingListResponse(mappings []repository.Mapping) MappingListResponse {
	items := make([]MappingResponse, 0, len(mappings))
	for _, m := range mappings {
		items = append(items, NewMappingResponse(m))
	}
	return MappingListResponse{Items: items, Total: len(items)}
}

// NewUnmappedListResponse maps the unmapped backlog to its API shape.
func NewUnmappedListResponse(unmapped []repository.UnmappedDescription) UnmappedListResponse {
	items := make([]UnmappedResponse, 0, len(unmapped))
	for _, u := range unmapped {
		items = append(items, UnmappedResponse{
			RawDescription: u.RawDescription,
			Occurrences:    u.Occurrences,
			FirstSeen:      u.FirstSeen.Format(time.RFC3339),
			LastSeen:       u.LastSeen.Format(time.RFC3339),
		})
	}
	return UnmappedListResponse{Items: items, Total: len(items)}
}
