package repository

import (
	"context"
	"time"

	"stockledger_backend/internal/tasks/domain"

	"github.com/google/uuid"
)

// NewTask contains parameters for creating a task record.
type NewTask struct {
	TenantID   uuid.UUID
	Kind       domain.Kind
	Reason     string
	TotalFiles int
	FileKeys   []domain.FileRef
}

// StatusChange carries the optional fields a transition may set.
type StatusChange struct {
	Step         string
	ErrorMessage string
	Result       map[string]any
	Trusted      bool
}

// NewConflict contains parameters for recording one duplicate conflict.
type NewConflict struct {
	Position           int
	FileIndex          int
	SourceKey          string
	SourceName         string
	Digest             string
	ExistingDocumentID *uuid.UUID
}

// Store persists task records, their progress and their conflict queues.
type Store interface {
	Create(ctx context.Context, t NewTask) (domain.Task, error)
	Get(ctx context.Context, tenantID, taskID uuid.UUID) (domain.Task, error)
	List(ctx context.Context, tenantID uuid.UUID, limit int) ([]domain.Task, error)

	// UpdateStatus applies a transition-table-checked status change and
	// returns the fresh snapshot. Illegal transitions fail with a conflict
	// error and change nothing.
	UpdateStatus(ctx context.Context, taskID uuid.UUID, to domain.Status, change StatusChange) (domain.Task, error)

	// Claim atomically moves a task of the given kind from one status to
	// RUNNING, optionally marking it trusted in the same statement. A lost
	// claim returns ok=false without error, so a redelivered queue message
	// cannot double-run a batch.
	Claim(ctx context.Context, taskID uuid.UUID, kind domain.Kind, from domain.Status, markTrusted bool) (domain.Task, bool, error)

	// Advance adds to the processed counter and moves the step label and
	// resume cursor forward. Counters never decrease; the cursor is
	// clamped with GREATEST. Only RUNNING tasks advance.
	Advance(ctx context.Context, taskID uuid.UUID, processedDelta int, step string, cursor int) (domain.Task, error)

	// RecordFileFailure appends a per-file error and bumps the failed
	// counter in one statement.
	RecordFileFailure(ctx context.Context, taskID uuid.UUID, fe domain.FileError) (domain.Task, error)

	// SetFileRefs overwrites the stored file list, used to persist digests
	// computed during the hashing phase.
	SetFileRefs(ctx context.Context, taskID uuid.UUID, refs []domain.FileRef) error

	Heartbeat(ctx context.Context, taskID uuid.UUID) error

	// FailStale marks PENDING and RUNNING tasks whose heartbeat is older
	// than the cutoff as FAILED and returns them.
	FailStale(ctx context.Context, cutoff time.Time) ([]domain.Task, error)

	InsertConflicts(ctx context.Context, taskID, tenantID uuid.UUID, conflicts []NewConflict) error
	ListConflicts(ctx context.Context, taskID uuid.UUID) ([]domain.Conflict, error)

	// ResolveConflict records a decision on the lowest-position open
	// conflict and reports how many remain open. Decisions are immutable
	// and must arrive in discovery order.
	ResolveConflict(ctx context.Context, tenantID, taskID, conflictID uuid.UUID, res domain.Resolution) (domain.Conflict, int, error)
}
