package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Part is a row of the part master.
type Part struct {
	TenantID     uuid.UUID
	PartNumber   string
	DisplayName  string
	Unit         string
	ReorderPoint decimal.Decimal
	CreatedAt    time.Time
}

// PartRef is a part identity with the details balances carry. Parts known
// only through mappings have empty details.
type PartRef struct {
	PartNumber   string
	DisplayName  string
	ReorderPoint decimal.Decimal
}

// Mapping links a normalized invoice description to a part number.
type Mapping struct {
	ID             uuid.UUID
	TenantID       uuid.UUID
	RawDescription string
	PartNumber     string
	CreatedAt      time.Time
}

// UnmappedDescription is a normalized description seen on invoices that no
// mapping covers yet.
type UnmappedDescription struct {
	TenantID       uuid.UUID
	RawDescription string
	Occurrences    int
	FirstSeen      time.Time
	LastSeen       time.Time
}

// UpsertPartParams contains data for creating or refreshing a part.
type UpsertPartParams struct {
	TenantID     uuid.UUID
	PartNumber   string
	DisplayName  string
	Unit         string
	ReorderPoint decimal.Decimal
}

// CreateMappingParams contains data for registering a description mapping.
// RawDescription must already be normalized.
type CreateMappingParams struct {
	TenantID       uuid.UUID
	RawDescription string
	PartNumber     string
}

// Repository defines catalog persistence operations.
type Repository interface {
	UpsertPart(ctx context.Context, p UpsertPartParams) (Part, error)
	ListParts(ctx context.Context, tenantID uuid.UUID) ([]Part, error)
	DeletePart(ctx context.Context, tenantID uuid.UUID, partNumber string) error

	// ListPartRefs returns every part number balances must track: the part
	// master united with part numbers that only appear in mappings.
	ListPartRefs(ctx context.Context, tenantID uuid.UUID) ([]PartRef, error)

	CreateMapping(ctx context.Context, p CreateMappingParams) (Mapping, error)
	ListMappings(ctx context.Context, tenantID uuid.UUID) ([]Mapping, error)
	DeleteMapping(ctx context.Context, tenantID, id uuid.UUID) error

	// FindMapping looks up a normalized description. A miss returns
	// ok=false without error.
	FindMapping(ctx context.Context, tenantID uuid.UUID, normalized string) (Mapping, bool, error)

	// RecordUnmapped upserts a normalized description that failed to
	// resolve, bumping its occurrence counter.
	RecordUnmapped(ctx context.Context, tenantID uuid.UUID, normalized string) error

	// ClearUnmapped removes a description from the unmapped backlog once a
	// mapping covers it.
	ClearUnmapped(ctx context.Context, tenantID uuid.UUID, normalized string) error

	ListUnmapped(ctx context.Context, tenantID uuid.UUID) ([]UnmappedDescription, error)
}
