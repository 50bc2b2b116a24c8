package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"stockledger_backend/internal/tasks/domain"
	"stockledger_backend/platform/apperr"
)

const (
	msgConflictNotFound = "conflict not found"
	msgNoOpenConflicts  = "no open conflicts on this task"
	msgOutOfOrder       = "conflicts are resolved in discovery order"
	msgAlreadyResolved  = "conflict is already resolved"
)

const conflictColumns = `id, task_id, tenant_id, position, file_index, source_key,
	source_name, digest, existing_document_id, resolution, resolved_at`

// InsertConflicts stores a batch of duplicate findings in discovery order.
func (r *Repo) InsertConflicts(ctx context.Context, taskID, tenantID uuid.UUID, conflicts []NewConflict) error {
	if len(conflicts) == 0 {
		return nil
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin conflict insert: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	query := `
		INSERT INTO ledger_task_conflicts
			(id, task_id, tenant_id, position, file_index, source_key, source_name, digest, existing_document_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	for _, c := range conflicts {
		_, err := tx.Exec(ctx, query,
			uuid.New(), taskID, tenantID, c.Position, c.FileIndex,
			c.SourceKey, c.SourceName, c.Digest, c.ExistingDocumentID,
		)
		if err != nil {
			return fmt.Errorf("insert conflict at position %d: %w", c.Position, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit conflict insert: %w", err)
	}
	return nil
}

// ListConflicts returns a task's conflicts in discovery order.
func (r *Repo) ListConflicts(ctx context.Context, taskID uuid.UUID) ([]domain.Conflict, error) {
	query := `SELECT ` + conflictColumns + `
		FROM ledger_task_conflicts
		WHERE task_id = $1
		ORDER BY position`

	rows, err := r.pool.Query(ctx, query, taskID)
	if err != nil {
		return nil, fmt.Errorf("list conflicts: %w", err)
	}
	defer rows.Close()

	conflicts := make([]domain.Conflict, 0)
	for rows.Next() {
		c, err := scanConflict(rows)
		if err != nil {
			return nil, fmt.Errorf("scan conflict: %w", err)
		}
		conflicts = append(conflicts, c)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate conflicts: %w", err)
	}
	return conflicts, nil
}

// ResolveConflict records a decision on the lowest-position open conflict
// and reports how many remain open. Decisions are immutable and must arrive
// in discovery order.
func (r *Repo) ResolveConflict(ctx context.Context, tenantID, taskID, conflictID uuid.UUID, res domain.Resolution) (domain.Conflict, int, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return domain.Conflict{}, 0, fmt.Errorf("begin conflict resolution: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	rows, err := tx.Query(ctx, `SELECT `+conflictColumns+`
		FROM ledger_task_conflicts
		WHERE task_id = $1 AND tenant_id = $2
		ORDER BY position
		FOR UPDATE`, taskID, tenantID)
	if err != nil {
		return domain.Conflict{}, 0, fmt.Errorf("lock conflict queue: %w", err)
	}

	var (
		all    []domain.Conflict
		target *domain.Conflict
	)
	for rows.Next() {
		c, err := scanConflict(rows)
		if err != nil {
			rows.Close()
			return domain.Conflict{}, 0, fmt.Errorf("scan conflict: %w", err)
		}
		all = append(all, c)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return domain.Conflict{}, 0, fmt.Errorf("iterate conflicts: %w", err)
	}

	var lowestOpen *domain.Conflict
	openCount := 0
	for i := range all {
		if all[i].ID == conflictID {
			target = &all[i]
		}
		if all[i].Open() {
			openCount++
			if lowestOpen == nil {
				lowestOpen = &all[i]
			}
		}
	}

	switch {
	case target == nil:
		return domain.Conflict{}, 0, apperr.NotFound(msgConflictNotFound)
	case !target.Open():
		return domain.Conflict{}, 0, apperr.Conflict(msgAlreadyResolved)
	case lowestOpen == nil:
		return domain.Conflict{}, 0, apperr.Conflict(msgNoOpenConflicts)
	case lowestOpen.ID != conflictID:
		return domain.Conflict{}, 0, apperr.Validation(msgOutOfOrder)
	}

	resolved, err := scanConflict(tx.QueryRow(ctx, `
		UPDATE ledger_task_conflicts SET resolution = $2, resolved_at = now()
		WHERE id = $1
		RETURNING `+conflictColumns, conflictID, res))
	if err != nil {
		return domain.Conflict{}, 0, fmt.Errorf("resolve conflict: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return domain.Conflict{}, 0, fmt.Errorf("commit conflict resolution: %w", err)
	}
	return resolved, openCount - 1, nil
}

func scanConflict(row pgx.Row) (domain.Conflict, error) {
	var c domain.Conflict
	err := row.Scan(
		&c.ID, &c.TaskID, &c.TenantID, &c.Position, &c.FileIndex, &c.SourceKey,
		&c.SourceName, &c.Digest, &c.ExistingDocumentID, &c.Resolution, &c.ResolvedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Conflict{}, apperr.NotFound(msgConflictNotFound)
	}
	return c, err
}
