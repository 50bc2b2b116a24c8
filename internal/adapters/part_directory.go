package adapters

import (
	"context"

	catalogsvc "stockledger_backend/internal/catalog/service"
	ledgerdomain "stockledger_backend/internal/ledger/domain"
	ledgersvc "stockledger_backend/internal/ledger/service"

	"github.com/google/uuid"
)

// PartDirectory adapts the catalog for balance seeding: the rebuild wants
// every known part as a ledger PartRef so parts without movements still
// get a balance row.
type PartDirectory struct {
	catalog *catalogsvc.Service
}

// NewPartDirectory creates a new part directory adapter.
func NewPartDirectory(catalog *catalogsvc.Service) *PartDirectory {
	return &PartDirectory{catalog: catalog}
}

// ListPartRefs returns every part number balances must track.
func (d *PartDirectory) ListPartRefs(ctx context.Context, tenantID uuid.UUID) ([]ledgerdomain.PartRef, error) {
	refs, err := d.catalog.ListPartRefs(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	out := make([]ledgerdomain.PartRef, len(refs))
	for i, ref := range refs {
		out[i] = ledgerdomain.PartRef{
			PartNumber:   ref.PartNumber,
			DisplayName:  ref.DisplayName,
			ReorderPoint: ref.ReorderPoint,
		}
	}
	return out, nil
}

// Compile-time check.
var _ ledgersvc.PartDirectory = (*PartDirectory)(nil)
