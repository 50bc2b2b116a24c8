// Package service implements the part catalog: the part master, the
// description-to-part mappings used by ingestion, and the backlog of
// descriptions nothing maps yet.
package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"stockledger_backend/internal/catalog/repository"
	"stockledger_backend/internal/events"
	"stockledger_backend/platform/apperr"
	"stockledger_backend/platform/logger"
	"stockledger_backend/platform/sanitize"
)

const (
	msgPartNumberRequired  = "part number is required"
	msgDescriptionRequired = "description is required"
)

// Normalize canonicalizes an invoice description for matching: leading and
// trailing whitespace dropped, inner runs collapsed to single spaces, and
// the whole string lowercased. Mappings and the unmapped backlog store
// this form.
func Normalize(raw string) string {
	return strings.ToLower(strings.Join(strings.Fields(raw), " "))
}

// PartInput carries a part master entry.
type PartInput struct {
	PartNumber   string
	DisplayName  string
	Unit         string
	ReorderPoint decimal.Decimal
}

// MappingInput carries a new description mapping.
type MappingInput struct {
	RawDescription string
	PartNumber     string
}

// Service provides business logic for the part catalog.
type Service struct {
	repo   repository.Repository
	bus    events.Bus
	logger *logger.Logger
}

// NewService creates a new catalog service.
func NewService(repo repository.Repository, bus events.Bus, log *logger.Logger) *Service {
	return &Service{repo: repo, bus: bus, logger: log}
}

// Resolve maps a raw invoice description to a part number. A miss is a
// non-error: the description lands in the unmapped backlog and the caller
// persists the item without a part number.
func (s *Service) Resolve(ctx context.Context, tenantID uuid.UUID, rawDescription string) (string, bool, error) {
	normalized := Normalize(rawDescription)
	if normalized == "" {
		return "", false, nil
	}

	mapping, found, err := s.repo.FindMapping(ctx, tenantID, normalized)
	if err != nil {
		return "", false, fmt.Errorf("resolve description: %w", err)
	}
	if found {
		return mapping.PartNumber, true, nil
	}

	if err := s.repo.RecordUnmapped(ctx, tenantID, normalized); err != nil {
		return "", false, fmt.Errorf("record unmapped description: %w", err)
	}
	return "", false, nil
}

// SavePart creates a part or refreshes its master data.
func (s *Service) SavePart(ctx context.Context, tenantID uuid.UUID, in PartInput) (repository.Part, error) {
	partNumber := strings.TrimSpace(in.PartNumber)
	if partNumber == "" {
		return repository.Part{}, apperr.Validation(msgPartNumberRequired)
	}

	unit := strings.TrimSpace(in.Unit)
	if unit == "" {
		unit = "pcs"
	}

	part, err := s.repo.UpsertPart(ctx, repository.UpsertPartParams{
		TenantID:     tenantID,
		PartNumber:   partNumber,
		DisplayName:  sanitize.Text(in.DisplayName),
		Unit:         unit,
		ReorderPoint: in.ReorderPoint,
	})
	if err != nil {
		return repository.Part{}, err
	}
	return part, nil
}

// ListParts returns the tenant's part master.
func (s *Service) ListParts(ctx context.Context, tenantID uuid.UUID) ([]repository.Part, error) {
	return s.repo.ListParts(ctx, tenantID)
}

// DeletePart removes a part master entry.
func (s *Service) DeletePart(ctx context.Context, tenantID uuid.UUID, partNumber string) error {
	partNumber = strings.TrimSpace(partNumber)
	if partNumber == "" {
		return apperr.Validation(msgPartNumberRequired)
	}
	return s.repo.DeletePart(ctx, tenantID, partNumber)
}

// ListPartRefs returns every part number balances must track.
func (s *Service) ListPartRefs(ctx context.Context, tenantID uuid.UUID) ([]repository.PartRef, error) {
	return s.repo.ListPartRefs(ctx, tenantID)
}

// CreateMapping registers a description mapping, clears the matching
// unmapped backlog row and announces the mapping so already-ingested
// items can be picked up.
func (s *Service) CreateMapping(ctx context.Context, tenantID uuid.UUID, in MappingInput) (repository.Mapping, error) {
	normalized := Normalize(in.RawDescription)
	if normalized == "" {
		return repository.Mapping{}, apperr.Validation(msgDescriptionRequired)
	}
	partNumber := strings.TrimSpace(in.PartNumber)
	if partNumber == "" {
		return repository.Mapping{}, apperr.Validation(msgPartNumberRequired)
	}

	mapping, err := s.repo.CreateMapping(ctx, repository.CreateMappingParams{
		TenantID:       tenantID,
		RawDescription: normalized,
		PartNumber:     partNumber,
	})
	if err != nil {
		return repository.Mapping{}, err
	}

	if err := s.repo.ClearUnmapped(ctx, tenantID, normalized); err != nil {
		s.logger.WithTenant(tenantID.String()).Warn("clear unmapped description failed",
			"description", normalized,
			"error", err.Error(),
		)
	}

	s.bus.Publish(ctx, events.MappingCreated{
		BaseEvent:      events.NewBaseEvent(),
		TenantID:       tenantID,
		PartNumber:     partNumber,
		RawDescription: normalized,
	})

	return mapping, nil
}

// ListMappings returns the tenant's mappings.
func (s *Service) ListMappings(ctx context.Context, tenantID uuid.UUID) ([]repository.Mapping, error) {
	return s.repo.ListMappings(ctx, tenantID)
}

// DeleteMapping removes a mapping. History stays as it was mapped.
func (s *Service) DeleteMapping(ctx context.Context, tenantID, id uuid.UUID) error {
	return s.repo.DeleteMapping(ctx, tenantID, id)
}

// ListUnmapped returns the descriptions waiting for a mapping.
func (s *Service) ListUnmapped(ctx context.Context, tenantID uuid.UUID) ([]repository.UnmappedDescription, error) {
	return s.repo.ListUnmapped(ctx, tenantID)
}
