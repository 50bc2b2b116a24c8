package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"stockledger_backend/platform/apperr"
)

const (
	msgPartNotFound     = "part not found"
	msgMappingNotFound  = "mapping not found"
	msgMappingExists    = "description is already mapped"
	uniqueViolationCode = "23505"
)

// Repo implements the catalog repository.
type Repo struct {
	pool *pgxpool.Pool
}

// New creates a new catalog repository.
func New(pool *pgxpool.Pool) *Repo {
	return &Repo{pool: pool}
}

// Compile-time check that Repo implements Repository.
var _ Repository = (*Repo)(nil)

// UpsertPart creates a part or refreshes its details. There is no separate
// update operation; re-posting a part number overwrites its master data.
func (r *Repo) UpsertPart(ctx context.Context, p UpsertPartParams) (Part, error) {
	query := `
		INSERT INTO parts (tenant_id, part_number, display_name, unit, reorder_point)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (tenant_id, part_number) DO UPDATE SET
			display_name  = EXCLUDED.display_name,
			unit          = EXCLUDED.unit,
			reorder_point = EXCLUDED.reorder_point
		RETURNING tenant_id, part_number, display_name, unit, reorder_point, created_at`

	var part Part
	err := r.pool.QueryRow(ctx, query,
		p.TenantID, p.PartNumber, p.DisplayName, p.Unit, p.ReorderPoint,
	).Scan(&part.TenantID, &part.PartNumber, &part.DisplayName, &part.Unit, &part.ReorderPoint, &part.CreatedAt)
	if err != nil {
		return Part{}, fmt.Errorf("upsert part: %w", err)
	}
	return part, nil
}

// ListParts returns the tenant's part master ordered by part number.
func (r *Repo) ListParts(ctx context.Context, tenantID uuid.UUID) ([]Part, error) {
	query := `
		SELECT tenant_id, part_number, display_name, unit, reorder_point, created_at
		FROM parts
		WHERE tenant_id = $1
		ORDER BY part_number`

	rows, err := r.pool.Query(ctx, query, tenantID)
	if err != nil {
		return nil, fmt.Errorf("list parts: %w", err)
	}
	defer rows.Close()

	parts := make([]Part, 0)
	for rows.Next() {
		var p Part
		if err := rows.Scan(&p.TenantID, &p.PartNumber, &p.DisplayName, &p.Unit, &p.ReorderPoint, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan part: %w", err)
		}
		parts = append(parts, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate parts: %w", err)
	}
	return parts, nil
}

// DeletePart removes a part from the master. Ledger history referencing
// the part number survives; only the master details go away.
func (r *Repo) DeletePart(ctx context.Context, tenantID uuid.UUID, partNumber string) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM parts WHERE tenant_id = $1 AND part_number = $2`, tenantID, partNumber)
	if err != nil {
		return fmt.Errorf("delete part: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound(msgPartNotFound)
	}
	return nil
}

// ListPartRefs unites the part master with part numbers that only exist in
// mappings, so every trackable part gets a balance row.
func (r *Repo) ListPartRefs(ctx context.Context, tenantID uuid.UUID) ([]PartRef, error) {
	query := `
		SELECT x.part_number,
		       COALESCE(p.display_name, '') AS display_name,
		       COALESCE(p.reorder_point, 0) AS reorder_point
		FROM (
			SELECT part_number FROM parts WHERE tenant_id = $1
			UNION
			SELECT part_number FROM part_mappings WHERE tenant_id = $1
		) x
		LEFT JOIN parts p ON p.tenant_id = $1 AND p.part_number = x.part_number
		ORDER BY x.part_number`

	rows, err := r.pool.Query(ctx, query, tenantID)
	if err != nil {
		return nil, fmt.Errorf("list part refs: %w", err)
	}
	defer rows.Close()

	refs := make([]PartRef, 0)
	for rows.Next() {
		var ref PartRef
		if err := rows.Scan(&ref.PartNumber, &ref.DisplayName, &ref.ReorderPoint); err != nil {
			return nil, fmt.Errorf("scan part ref: %w", err)
		}
		refs = append(refs, ref)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate part refs: %w", err)
	}
	return refs, nil
}

// CreateMapping registers a normalized description mapping. Each
// description maps to exactly one part.
func (r *Repo) CreateMapping(ctx context.Context, p CreateMappingParams) (Mapping, error) {
	query := `
		INSERT INTO part_mappings (id, tenant_id, raw_description, part_number)
		VALUES ($1, $2, $3, $4)
		RETURNING id, tenant_id, raw_description, part_number, created_at`

	var m Mapping
	err := r.pool.QueryRow(ctx, query, uuid.New(), p.TenantID, p.RawDescription, p.PartNumber).Scan(
		&m.ID, &m.TenantID, &m.RawDescription, &m.PartNumber, &m.CreatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolationCode {
			return Mapping{}, apperr.Conflict(msgMappingExists)
		}
		return Mapping{}, fmt.Errorf("create mapping: %w", err)
	}
	return m, nil
}

// ListMappings returns the tenant's mappings, newest first.
func (r *Repo) ListMappings(ctx context.Context, tenantID uuid.UUID) ([]Mapping, error) {
	query := `
		SELECT id, tenant_id, raw_description, part_number, created_at
		FROM part_mappings
		WHERE tenant_id = $1
		ORDER BY created_at DESC`

	rows, err := r.pool.Query(ctx, query, tenantID)
	if err != nil {
		return nil, fmt.Errorf("list mappings: %w", err)
	}
	defer rows.Close()

	mappings := make([]Mapping, 0)
	for rows.Next() {
		var m Mapping
		if err := rows.Scan(&m.ID, &m.TenantID, &m.RawDescription, &m.PartNumber, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan mapping: %w", err)
		}
		mappings = append(mappings, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate mappings: %w", err)
	}
	return mappings, nil
}

// DeleteMapping removes a mapping. Items already mapped through it keep
// their part number; the ledger never rewrites history on deletes.
func (r *Repo) DeleteMapping(ctx context.Context, tenantID, id uuid.UUID) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM part_mappings WHERE tenant_id = $1 AND id = $2`, tenantID, id)
	if err != nil {
		return fmt.Errorf("delete mapping: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound(msgMappingNotFound)
	}
	return nil
}

// FindMapping looks up a normalized description.
func (r *Repo) FindMapping(ctx context.Context, tenantID uuid.UUID, normalized string) (Mapping, bool, error) {
	query := `
		SELECT id, tenant_id, raw_description, part_number, created_at
		FROM part_mappings
		WHERE tenant_id = $1 AND raw_description = $2`

	var m Mapping
	err := r.pool.QueryRow(ctx, query, tenantID, normalized).Scan(
		&m.ID, &m.TenantID, &m.RawDescription, &m.PartNumber, &m.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return Mapping{}, false, nil
	}
	if err != nil {
		return Mapping{}, false, fmt.Errorf("find mapping: %w", err)
	}
	return m, true, nil
}

// RecordUnmapped upserts an unresolved description, counting how often it
// keeps showing up.
func (r *Repo) RecordUnmapped(ctx context.Context, tenantID uuid.UUID, normalized string) error {
	query := `
		INSERT INTO unmapped_descriptions (tenant_id, raw_description)
		VALUES ($1, $2)
		ON CONFLICT (tenant_id, raw_description) DO UPDATE SET
			occurrences = unmapped_descriptions.occurrences + 1,
			last_seen   = now()`

	if _, err := r.pool.Exec(ctx, query, tenantID, normalized); err != nil {
		return fmt.Errorf("record unmapped description: %w", err)
	}
	return nil
}

// ClearUnmapped drops a description from the backlog. Clearing something
// that is not there is fine.
func (r *Repo) ClearUnmapped(ctx context.Context, tenantID uuid.UUID, normalized string) error {
	_, err := r.pool.Exec(ctx,
		`DELETE FROM unmapped_descriptions WHERE tenant_id = $1 AND raw_description = $2`,
		tenantID, normalized,
	)
	if err != nil {
		return fmt.Errorf("clear unmapped description: %w", err)
	}
	return nil
}

// ListUnmapped returns the unresolved descriptions, most frequent first.
func (r *Repo) ListUnmapped(ctx context.Context, tenantID uuid.UUID) ([]UnmappedDescription, error) {
	query := `
		SELECT tenant_id, raw_description, occurrences, first_seen, last_seen
		FROM unmapped_descriptions
		WHERE tenant_id = $1
		ORDER BY occurrences DESC, last_seen DESC`

	rows, err := r.pool.Query(ctx, query, tenantID)
	if err != nil {
		return nil, fmt.Errorf("list unmapped descriptions: %w", err)
	}
	defer rows.Close()

	unmapped := make([]UnmappedDescription, 0)
	for rows.Next() {
		var u UnmappedDescription
		if err := rows.Scan(&u.TenantID, &u.RawDescription, &u.Occurrences, &u.FirstSeen, &u.LastSeen); err != nil {
			return nil, fmt.Errorf("scan unmapped description: %w", err)
		}
		unmapped = append(unmapped, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate unmapped descriptions: %w", err)
	}
	return unmapped, nil
}
