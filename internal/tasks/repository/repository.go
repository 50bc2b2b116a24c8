// Package repository provides PostgreSQL persistence for task records and
// their duplicate-conflict queues.
package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"stockledger_backend/internal/tasks/domain"
	"stockledger_backend/platform/apperr"
)

const (
	msgTaskNotFound     = "task not found"
	msgTaskNotRunning   = "task is not running"
	msgNegativeProgress = "progress can only move forward"
)

const taskColumns = `id, tenant_id, kind, status, step, reason, total_files,
	processed_files, failed_files, resume_cursor, trusted, file_keys, file_errors,
	COALESCE(error_message, ''), result, heartbeat_at, created_at, started_at, completed_at`

// Repo implements Store backed by PostgreSQL.
type Repo struct {
	pool *pgxpool.Pool
}

// New creates a new task repository.
func New(pool *pgxpool.Pool) *Repo {
	return &Repo{pool: pool}
}

var _ Store = (*Repo)(nil)

// Create inserts a PENDING task record.
func (r *Repo) Create(ctx context.Context, t NewTask) (domain.Task, error) {
	if t.FileKeys == nil {
		t.FileKeys = []domain.FileRef{}
	}

	query := `
		INSERT INTO ledger_tasks (id, tenant_id, kind, reason, total_files, file_keys)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING ` + taskColumns

	task, err := scanTask(r.pool.QueryRow(ctx, query,
		uuid.New(), t.TenantID, t.Kind, t.Reason, t.TotalFiles, t.FileKeys,
	))
	if err != nil {
		return domain.Task{}, fmt.Errorf("insert task: %w", err)
	}
	return task, nil
}

// Get fetches a task snapshot including its conflict queue.
func (r *Repo) Get(ctx context.Context, tenantID, taskID uuid.UUID) (domain.Task, error) {
	query := `SELECT ` + taskColumns + ` FROM ledger_tasks WHERE id = $1 AND tenant_id = $2`

	task, err := scanTask(r.pool.QueryRow(ctx, query, taskID, tenantID))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Task{}, apperr.NotFound(msgTaskNotFound)
	}
	if err != nil {
		return domain.Task{}, fmt.Errorf("get task: %w", err)
	}

	conflicts, err := r.ListConflicts(ctx, taskID)
	if err != nil {
		return domain.Task{}, err
	}
	task.Conflicts = conflicts
	return task, nil
}

// List returns the tenant's most recent tasks, newest first. Conflict
// queues are not loaded.
func (r *Repo) List(ctx context.Context, tenantID uuid.UUID, limit int) ([]domain.Task, error) {
	if limit <= 0 {
		limit = 50
	}
	if limit > 200 {
		limit = 200
	}

	query := `SELECT ` + taskColumns + `
		FROM ledger_tasks
		WHERE tenant_id = $1
		ORDER BY created_at DESC
		LIMIT $2`

	rows, err := r.pool.Query(ctx, query, tenantID, limit)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()

	return scanTasks(rows)
}

// UpdateStatus applies a transition-table-checked status change.
func (r *Repo) UpdateStatus(ctx context.Context, taskID uuid.UUID, to domain.Status, change StatusChange) (domain.Task, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return domain.Task{}, fmt.Errorf("begin status update: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	var (
		kind domain.Kind
		from domain.Status
	)
	err = tx.QueryRow(ctx, `SELECT kind, status FROM ledger_tasks WHERE id = $1 FOR UPDATE`, taskID).Scan(&kind, &from)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Task{}, apperr.NotFound(msgTaskNotFound)
	}
	if err != nil {
		return domain.Task{}, fmt.Errorf("lock task row: %w", err)
	}

	if !domain.CanTransition(kind, from, to) {
		return domain.Task{}, apperr.Conflict(fmt.Sprintf("task cannot move from %s to %s", from, to))
	}

	hasResult := change.Result != nil
	result := change.Result
	if result == nil {
		result = map[string]any{}
	}

	query := `
		UPDATE ledger_tasks SET
			status        = $2,
			step          = CASE WHEN $3 <> '' THEN $3 ELSE step END,
			error_message = CASE WHEN $4 <> '' THEN $4 ELSE error_message END,
			result        = CASE WHEN $6 THEN $5 ELSE result END,
			trusted       = trusted OR $7,
			started_at    = CASE WHEN $2 = 'RUNNING' THEN COALESCE(started_at, now()) ELSE started_at END,
			completed_at  = CASE WHEN $2 IN ('SUCCEEDED', 'FAILED', 'LOCK_DENIED') THEN now() ELSE completed_at END,
			heartbeat_at  = now()
		WHERE id = $1
		RETURNING ` + taskColumns

	task, err := scanTask(tx.QueryRow(ctx, query,
		taskID, to, change.Step, change.ErrorMessage, result, hasResult, change.Trusted,
	))
	if err != nil {
		return domain.Task{}, fmt.Errorf("update task status: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return domain.Task{}, fmt.Errorf("commit status update: %w", err)
	}
	return task, nil
}

// Claim atomically takes a task of the given kind from one status to
// RUNNING. A lost claim is not an error.
func (r *Repo) Claim(ctx context.Context, taskID uuid.UUID, kind domain.Kind, from domain.Status, markTrusted bool) (domain.Task, bool, error) {
	query := `
		UPDATE ledger_tasks SET
			status       = 'RUNNING',
			trusted      = trusted OR $4,
			started_at   = COALESCE(started_at, now()),
			heartbeat_at = now()
		WHERE id = $1 AND kind = $2 AND status = $3
		RETURNING ` + taskColumns

	task, err := scanTask(r.pool.QueryRow(ctx, query, taskID, kind, from, markTrusted))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Task{}, false, nil
	}
	if err != nil {
		return domain.Task{}, false, fmt.Errorf("claim task: %w", err)
	}
	return task, true, nil
}

// Advance moves progress forward on a RUNNING task.
func (r *Repo) Advance(ctx context.Context, taskID uuid.UUID, processedDelta int, step string, cursor int) (domain.Task, error) {
	if processedDelta < 0 {
		return domain.Task{}, apperr.Validation(msgNegativeProgress)
	}

	query := `
		UPDATE ledger_tasks SET
			processed_files = processed_files + $2,
			step            = CASE WHEN $3 <> '' THEN $3 ELSE step END,
			resume_cursor   = GREATEST(resume_cursor, $4),
			heartbeat_at    = now()
		WHERE id = $1 AND status = 'RUNNING'
		RETURNING ` + taskColumns

	task, err := scanTask(r.pool.QueryRow(ctx, query, taskID, processedDelta, step, cursor))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Task{}, apperr.Conflict(msgTaskNotRunning)
	}
	if err != nil {
		return domain.Task{}, fmt.Errorf("advance task: %w", err)
	}
	return task, nil
}

// RecordFileFailure appends a per-file error and bumps the failed counter.
func (r *Repo) RecordFileFailure(ctx context.Context, taskID uuid.UUID, fe domain.FileError) (domain.Task, error) {
	query := `
		UPDATE ledger_tasks SET
			file_errors  = file_errors || $2,
			failed_files = failed_files + 1,
			heartbeat_at = now()
		WHERE id = $1 AND status = 'RUNNING'
		RETURNING ` + taskColumns

	task, err := scanTask(r.pool.QueryRow(ctx, query, taskID, fe))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Task{}, apperr.Conflict(msgTaskNotRunning)
	}
	if err != nil {
		return domain.Task{}, fmt.Errorf("record file failure: %w", err)
	}
	return task, nil
}

// SetFileRefs overwrites the stored file list.
func (r *Repo) SetFileRefs(ctx context.Context, taskID uuid.UUID, refs []domain.FileRef) error {
	if refs == nil {
		refs = []domain.FileRef{}
	}

	tag, err := r.pool.Exec(ctx, `UPDATE ledger_tasks SET file_keys = $2, heartbeat_at = now() WHERE id = $1`, taskID, refs)
	if err != nil {
		return fmt.Errorf("set task file refs: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound(msgTaskNotFound)
	}
	return nil
}

// Heartbeat bumps the liveness timestamp of a RUNNING task. Heartbeats on
// settled tasks are harmless no-ops.
func (r *Repo) Heartbeat(ctx context.Context, taskID uuid.UUID) error {
	_, err := r.pool.Exec(ctx, `UPDATE ledger_tasks SET heartbeat_at = now() WHERE id = $1 AND status = 'RUNNING'`, taskID)
	if err != nil {
		return fmt.Errorf("heartbeat task: %w", err)
	}
	return nil
}

// FailStale marks abandoned tasks FAILED and returns them. A paused task
// waiting on conflict decisions has no worker and is excluded here by
// status; only humans move it forward.
func (r *Repo) FailStale(ctx context.Context, cutoff time.Time) ([]domain.Task, error) {
	query := `
		UPDATE ledger_tasks SET
			status        = 'FAILED',
			error_message = 'worker heartbeat lost; task abandoned',
			completed_at  = now()
		WHERE status IN ('PENDING', 'RUNNING') AND heartbeat_at < $1
		RETURNING ` + taskColumns

	rows, err := r.pool.Query(ctx, query, cutoff)
	if err != nil {
		return nil, fmt.Errorf("fail stale tasks: %w", err)
	}
	defer rows.Close()

	return scanTasks(rows)
}

func scanTask(row pgx.Row) (domain.Task, error) {
	var t domain.Task
	err := row.Scan(
		&t.ID, &t.TenantID, &t.Kind, &t.Status, &t.Step, &t.Reason, &t.TotalFiles,
		&t.ProcessedFiles, &t.FailedFiles, &t.ResumeCursor, &t.Trusted, &t.FileKeys,
		&t.FileErrors, &t.ErrorMessage, &t.Result, &t.HeartbeatAt, &t.CreatedAt,
		&t.StartedAt, &t.CompletedAt,
	)
	return t, err
}

func scanTasks(rows pgx.Rows) ([]domain.Task, error) {
	tasks := make([]domain.Task, 0)
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		tasks = append(tasks, task)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate tasks: %w", err)
	}
	return tasks, nil
}
