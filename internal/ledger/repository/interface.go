package repository

import (
	"context"
	"time"

	"stockledger_backend/internal/ledger/domain"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Document is a stored source upload. It owns the content fingerprint;
// its line items inherit the excluded flag when a replace lands.
type Document struct {
	ID          uuid.UUID
	TenantID    uuid.UUID
	FileKey     string
	FileName    string
	ContentType string
	Digest      string
	Perceptual  string
	Excluded    bool
	UploadedAt  time.Time
}

// NewDocument contains parameters for persisting a source document.
type NewDocument struct {
	TenantID    uuid.UUID
	FileKey     string
	FileName    string
	ContentType string
	Digest      string
	Perceptual  string
}

// NewItem contains parameters for one extracted line item.
type NewItem struct {
	PartNumber     string // empty when unmapped
	RawDescription string
	Quantity       decimal.Decimal
	UnitRate       *decimal.Decimal
	Direction      domain.Direction
	OccurredAt     time.Time
	LineNo         int
}

// DocumentStore persists source documents and their line items.
type DocumentStore interface {
	// InsertDocumentWithItems writes the document and all of its line items
	// in one transaction.
	InsertDocumentWithItems(ctx context.Context, doc NewDocument, items []NewItem) (Document, error)

	// FindActiveDocumentByDigest probes for a non-excluded document with the
	// given content digest. A miss returns (nil, nil): absence is the normal
	// case, not an error.
	FindActiveDocumentByDigest(ctx context.Context, tenantID uuid.UUID, digest string) (*Document, error)

	// GetDocument fetches a document by id.
	GetDocument(ctx context.Context, tenantID, id uuid.UUID) (Document, error)

	// ExcludeDocument soft-deletes a document and all of its line items in
	// one transaction. Nothing is ever hard-deleted.
	ExcludeDocument(ctx context.Context, tenantID, id uuid.UUID) error
}

// LedgerReader loads rebuild inputs.
type LedgerReader interface {
	// ListActiveItems returns all non-excluded line items in stable
	// aggregation order (occurred_at, created_at, line_no).
	ListActiveItems(ctx context.Context, tenantID uuid.UUID) ([]domain.LineItem, error)

	ListAdjustments(ctx context.Context, tenantID uuid.UUID) ([]domain.Adjustment, error)
}

// BalanceStore reads and atomically replaces derived balances.
type BalanceStore interface {
	// ReplaceBalances swaps the tenant's entire balance set in one
	// transaction. Readers see the old snapshot until commit.
	ReplaceBalances(ctx context.Context, tenantID uuid.UUID, balances []domain.PartBalance) error

	ListBalances(ctx context.Context, tenantID uuid.UUID) ([]domain.PartBalance, error)
}

// AdjustmentWriter records manual stock corrections as append-only deltas.
type AdjustmentWriter interface {
	InsertAdjustment(ctx context.Context, tenantID uuid.UUID, partNumber string, delta decimal.Decimal, reason string) (domain.Adjustment, error)
}

// ItemRemapper applies a new description mapping to already-ingested
// unmapped items. This is the single sanctioned update of a line item's
// part number, and only from null.
type ItemRemapper interface {
	RemapUnmappedItems(ctx context.Context, tenantID uuid.UUID, rawDescription, partNumber string) (int64, error)
}

// RebuildLock is a held tenant rebuild lock. Release is safe to call on
// every exit path; the lock also dies with its database session, so a
// crashed process can never leave it orphaned.
type RebuildLock interface {
	Release(ctx context.Context)
}

// RebuildLocker hands out per-tenant rebuild locks. Acquisition is
// single-shot and non-blocking: (nil, false, nil) means another rebuild
// holds the lock right now.
type RebuildLocker interface {
	AcquireRebuildLock(ctx context.Context, tenantID uuid.UUID) (RebuildLock, bool, error)
}

// Repository combines all ledger persistence operations.
type Repository interface {
	DocumentStore
	LedgerReader
	BalanceStore
	AdjustmentWriter
	ItemRemapper
	RebuildLocker
}
