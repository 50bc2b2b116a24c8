package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"stockledger_backend/internal/ledger/domain"
	"stockledger_backend/platform/apperr"
)

const documentNotFoundMessage = "source document not found"

// Repo implements the Repository interface with PostgreSQL.
type Repo struct {
	pool *pgxpool.Pool
}

// New creates a new ledger repository.
func New(pool *pgxpool.Pool) *Repo {
	return &Repo{pool: pool}
}

// Compile-time check that Repo implements Repository.
var _ Repository = (*Repo)(nil)

// InsertDocumentWithItems writes the document row and its line items in one transaction.
func (r *Repo) InsertDocumentWithItems(ctx context.Context, doc NewDocument, items []NewItem) (Document, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return Document{}, fmt.Errorf("begin document insert: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	query := `
		INSERT INTO source_documents (id, tenant_id, file_key, file_name, content_type, digest, perceptual)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, tenant_id, file_key, file_name, content_type, digest, perceptual, excluded, uploaded_at`

	var created Document
	err = tx.QueryRow(ctx, query,
		uuid.New(), doc.TenantID, doc.FileKey, doc.FileName, doc.ContentType, doc.Digest, doc.Perceptual,
	).Scan(
		&created.ID, &created.TenantID, &created.FileKey, &created.FileName, &created.ContentType,
		&created.Digest, &created.Perceptual, &created.Excluded, &created.UploadedAt,
	)
	if err != nil {
		return Document{}, fmt.Errorf("insert source document: %w", err)
	}

	itemQuery := `
		INSERT INTO line_items (id, tenant_id, document_id, part_number, raw_description, quantity, unit_rate, direction, occurred_at, line_no)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

	for _, it := range items {
		var partNumber *string
		if it.PartNumber != "" {
			partNumber = &it.PartNumber
		}

		_, err = tx.Exec(ctx, itemQuery,
			uuid.New(), doc.TenantID, created.ID, partNumber, it.RawDescription,
			it.Quantity, it.UnitRate, string(it.Direction), it.OccurredAt, it.LineNo,
		)
		if err != nil {
			return Document{}, fmt.Errorf("insert line item %d: %w", it.LineNo, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return Document{}, fmt.Errorf("commit document insert: %w", err)
	}

	return created, nil
}

// FindActiveDocumentByDigest probes for an active document with the given digest.
func (r *Repo) FindActiveDocumentByDigest(ctx context.Context, tenantID uuid.UUID, digest string) (*Document, error) {
	query := `
		SELECT id, tenant_id, file_key, file_name, content_type, digest, perceptual, excluded, uploaded_at
		FROM source_documents
		WHERE tenant_id = $1 AND digest = $2 AND NOT excluded`

	var doc Document
	err := r.pool.QueryRow(ctx, query, tenantID, digest).Scan(
		&doc.ID, &doc.TenantID, &doc.FileKey, &doc.FileName, &doc.ContentType,
		&doc.Digest, &doc.Perceptual, &doc.Excluded, &doc.UploadedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("find document by digest: %w", err)
	}

	return &doc, nil
}

// GetDocument fetches a document by id.
func (r *Repo) GetDocument(ctx context.Context, tenantID, id uuid.UUID) (Document, error) {
	query := `
		SELECT id, tenant_id, file_key, file_name, content_type, digest, perceptual, excluded, uploaded_at
		FROM source_documents
		WHERE id = $1 AND tenant_id = $2`

	var doc Document
	err := r.pool.QueryRow(ctx, query, id, tenantID).Scan(
		&doc.ID, &doc.TenantID, &doc.FileKey, &doc.FileName, &doc.ContentType,
		&doc.Digest, &doc.Perceptual, &doc.Excluded, &doc.UploadedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Document{}, apperr.NotFound(documentNotFoundMessage)
		}
		return Document{}, fmt.Errorf("get source document: %w", err)
	}

	return doc, nil
}

// ExcludeDocument soft-deletes a document and its line items in one transaction.
func (r *Repo) ExcludeDocument(ctx context.Context, tenantID, id uuid.UUID) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin document exclude: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	tag, err := tx.Exec(ctx,
		`UPDATE source_documents SET excluded = TRUE WHERE id = $1 AND tenant_id = $2`,
		id, tenantID,
	)
	if err != nil {
		return fmt.Errorf("exclude source document: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound(documentNotFoundMessage)
	}

	_, err = tx.Exec(ctx,
		`UPDATE line_items SET excluded = TRUE WHERE document_id = $1 AND tenant_id = $2`,
		id, tenantID,
	)
	if err != nil {
		return fmt.Errorf("exclude document line items: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit document exclude: %w", err)
	}

	return nil
}

// ListActiveItems returns all non-excluded line items in aggregation order.
func (r *Repo) ListActiveItems(ctx context.Context, tenantID uuid.UUID) ([]domain.LineItem, error) {
	query := `
		SELECT id, tenant_id, document_id, part_number, raw_description, quantity, unit_rate, direction, occurred_at, line_no, excluded, created_at
		FROM line_items
		WHERE tenant_id = $1 AND NOT excluded
		ORDER BY occurred_at ASC, created_at ASC, line_no ASC`

	rows, err := r.pool.Query(ctx, query, tenantID)
	if err != nil {
		return nil, fmt.Errorf("list active line items: %w", err)
	}
	defer rows.Close()

	return scanLineItems(rows)
}

// RemapUnmappedItems assigns a part number to unmapped items whose
// normalized description matches. Already-mapped items are never touched.
func (r *Repo) RemapUnmappedItems(ctx context.Context, tenantID uuid.UUID, rawDescription, partNumber string) (int64, error) {
	query := `
		UPDATE line_items
		SET part_number = $3
		WHERE tenant_id = $1
			AND part_number IS NULL
			AND regexp_replace(lower(btrim(raw_description)), '\s+', ' ', 'g') = $2`

	tag, err := r.pool.Exec(ctx, query, tenantID, rawDescription, partNumber)
	if err != nil {
		return 0, fmt.Errorf("remap unmapped items: %w", err)
	}

	return tag.RowsAffected(), nil
}

func scanLineItems(rows pgx.Rows) ([]domain.LineItem, error) {
	items := make([]domain.LineItem, 0)

	for rows.Next() {
		var it domain.LineItem
		var partNumber *string
		var direction string

		err := rows.Scan(
			&it.ID, &it.TenantID, &it.DocumentID, &partNumber, &it.RawDescription,
			&it.Quantity, &it.UnitRate, &direction, &it.OccurredAt, &it.LineNo,
			&it.Excluded, &it.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan line item: %w", err)
		}

		if partNumber != nil {
			it.PartNumber = *partNumber
		}
		it.Direction = domain.Direction(direction)
		items = append(items, it)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate line items: %w", err)
	}

	return items, nil
}
