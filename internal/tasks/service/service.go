// Package service exposes the task store to the rest of the application.
// Every lifecycle mutation passes through here so watchers always see the
// same snapshots the polling endpoints serve.
package service

import (
	"context"
	"time"

	"github.com/google/uuid"

	"stockledger_backend/internal/tasks/domain"
	"stockledger_backend/internal/tasks/repository"
	"stockledger_backend/internal/tasks/sse"
	"stockledger_backend/platform/logger"
)

// Step labels shown while a recalculation task runs.
const (
	stepRecalculating = "recalculating balances"
	msgLockDenied     = "a rebuild is already running for this tenant"
)

// Service wraps the task store with snapshot broadcasting.
type Service struct {
	store  repository.Store
	hub    *sse.Hub
	logger *logger.Logger
}

// NewService creates the task service. The hub may be nil when live
// updates are not needed, such as in one-shot tools.
func NewService(store repository.Store, hub *sse.Hub, log *logger.Logger) *Service {
	return &Service{store: store, hub: hub, logger: log}
}

// Get returns a task snapshot with its conflict queue.
func (s *Service) Get(ctx context.Context, tenantID, taskID uuid.UUID) (domain.Task, error) {
	return s.store.Get(ctx, tenantID, taskID)
}

// List returns the tenant's recent tasks, newest first.
func (s *Service) List(ctx context.Context, tenantID uuid.UUID, limit int) ([]domain.Task, error) {
	return s.store.List(ctx, tenantID, limit)
}

// Watch subscribes to live snapshots of one task. The caller must invoke
// the returned cancel when done.
func (s *Service) Watch(taskID uuid.UUID) (<-chan domain.Task, func()) {
	if s.hub == nil {
		ch := make(chan domain.Task)
		close(ch)
		return ch, func() {}
	}
	return s.hub.Subscribe(taskID)
}

func (s *Service) publish(task domain.Task) {
	if s.hub != nil {
		s.hub.Publish(task)
	}
	s.logger.TaskEvent(task.ID.String(), string(task.Kind), string(task.Status), task.Step)
}

// CreateRecalc records a new PENDING recalculation task.
func (s *Service) CreateRecalc(ctx context.Context, tenantID uuid.UUID, reason string) (uuid.UUID, error) {
	task, err := s.store.Create(ctx, repository.NewTask{
		TenantID: tenantID,
		Kind:     domain.KindRecalc,
		Reason:   reason,
	})
	if err != nil {
		return uuid.Nil, err
	}
	s.publish(task)
	return task.ID, nil
}

// MarkRunning moves a recalculation task to RUNNING.
func (s *Service) MarkRunning(ctx context.Context, taskID uuid.UUID) error {
	task, err := s.store.UpdateStatus(ctx, taskID, domain.StatusRunning, repository.StatusChange{
		Step: stepRecalculating,
	})
	if err != nil {
		return err
	}
	s.publish(task)
	return nil
}

// MarkLockDenied settles a recalculation task that lost the tenant lock.
// Losing the lock is an outcome, not an error; the message explains it.
func (s *Service) MarkLockDenied(ctx context.Context, taskID uuid.UUID) error {
	task, err := s.store.UpdateStatus(ctx, taskID, domain.StatusLockDenied, repository.StatusChange{
		ErrorMessage: msgLockDenied,
	})
	if err != nil {
		return err
	}
	s.publish(task)
	return nil
}

// MarkSucceeded settles a recalculation task with its summary counters.
func (s *Service) MarkSucceeded(ctx context.Context, taskID uuid.UUID, partsTracked, itemsApplied int) error {
	task, err := s.store.UpdateStatus(ctx, taskID, domain.StatusSucceeded, repository.StatusChange{
		Result: map[string]any{
			"partsTracked": partsTracked,
			"itemsApplied": itemsApplied,
		},
	})
	if err != nil {
		return err
	}
	s.publish(task)
	return nil
}

// MarkFailed settles a task of either kind with a failure reason.
func (s *Service) MarkFailed(ctx context.Context, taskID uuid.UUID, reason string) error {
	task, err := s.store.UpdateStatus(ctx, taskID, domain.StatusFailed, repository.StatusChange{
		ErrorMessage: reason,
	})
	if err != nil {
		return err
	}
	s.publish(task)
	return nil
}

// CreateBatch records a new PENDING ingestion task for the uploaded files.
func (s *Service) CreateBatch(ctx context.Context, tenantID uuid.UUID, refs []domain.FileRef) (domain.Task, error) {
	task, err := s.store.Create(ctx, repository.NewTask{
		TenantID:   tenantID,
		Kind:       domain.KindIngest,
		TotalFiles: len(refs),
		FileKeys:   refs,
	})
	if err != nil {
		return domain.Task{}, err
	}
	s.publish(task)
	return task, nil
}

// ClaimBatch takes a fresh ingestion task from PENDING to RUNNING.
func (s *Service) ClaimBatch(ctx context.Context, taskID uuid.UUID) (domain.Task, bool, error) {
	task, ok, err := s.store.Claim(ctx, taskID, domain.KindIngest, domain.StatusPending, false)
	if err != nil || !ok {
		return domain.Task{}, ok, err
	}
	s.publish(task)
	return task, true, nil
}

// ClaimResume takes a fully resolved ingestion task from DUPLICATES_FOUND
// back to RUNNING and marks the run trusted, so the duplicate gate is not
// re-entered for findings a human already ruled on.
func (s *Service) ClaimResume(ctx context.Context, taskID uuid.UUID) (domain.Task, bool, error) {
	task, ok, err := s.store.Claim(ctx, taskID, domain.KindIngest, domain.StatusDuplicatesFound, true)
	if err != nil || !ok {
		return domain.Task{}, ok, err
	}
	task.Conflicts, err = s.store.ListConflicts(ctx, taskID)
	if err != nil {
		return domain.Task{}, false, err
	}
	s.publish(task)
	return task, true, nil
}

// Pause parks an ingestion task on its first duplicate findings and stores
// the conflict queue for review.
func (s *Service) Pause(ctx context.Context, taskID, tenantID uuid.UUID, conflicts []repository.NewConflict, step string) (domain.Task, error) {
	if err := s.store.InsertConflicts(ctx, taskID, tenantID, conflicts); err != nil {
		return domain.Task{}, err
	}
	task, err := s.store.UpdateStatus(ctx, taskID, domain.StatusDuplicatesFound, repository.StatusChange{
		Step: step,
	})
	if err != nil {
		return domain.Task{}, err
	}
	task.Conflicts, err = s.store.ListConflicts(ctx, taskID)
	if err != nil {
		return domain.Task{}, err
	}
	s.publish(task)
	return task, nil
}

// Advance moves an ingestion task's progress forward by a non-negative
// delta. Progress is monotonic; there is no way to move it back.
func (s *Service) Advance(ctx context.Context, taskID uuid.UUID, processedDelta int, step string, cursor int) (domain.Task, error) {
	task, err := s.store.Advance(ctx, taskID, processedDelta, step, cursor)
	if err != nil {
		return domain.Task{}, err
	}
	s.publish(task)
	return task, nil
}

// RecordFileFailure notes that one file could not be processed and keeps
// the batch going.
func (s *Service) RecordFileFailure(ctx context.Context, taskID uuid.UUID, fileName, reason string) (domain.Task, error) {
	task, err := s.store.RecordFileFailure(ctx, taskID, domain.FileError{
		FileName: fileName,
		Reason:   reason,
		At:       time.Now().UTC(),
	})
	if err != nil {
		return domain.Task{}, err
	}
	s.publish(task)
	return task, nil
}

// SetFileRefs persists digests computed during the hashing phase so a
// resumed run does not hash the same bytes twice.
func (s *Service) SetFileRefs(ctx context.Context, taskID uuid.UUID, refs []domain.FileRef) error {
	return s.store.SetFileRefs(ctx, taskID, refs)
}

// Complete settles an ingestion task with its summary counters.
func (s *Service) Complete(ctx context.Context, taskID uuid.UUID, result map[string]any) error {
	task, err := s.store.UpdateStatus(ctx, taskID, domain.StatusSucceeded, repository.StatusChange{
		Result: result,
	})
	if err != nil {
		return err
	}
	s.publish(task)
	return nil
}

// Heartbeat reports worker liveness for a RUNNING task.
func (s *Service) Heartbeat(ctx context.Context, taskID uuid.UUID) error {
	return s.store.Heartbeat(ctx, taskID)
}

// ResolveConflict records one duplicate decision and returns the decided
// conflict plus how many remain open.
func (s *Service) ResolveConflict(ctx context.Context, tenantID, taskID, conflictID uuid.UUID, res domain.Resolution) (domain.Conflict, int, error) {
	conflict, remaining, err := s.store.ResolveConflict(ctx, tenantID, taskID, conflictID, res)
	if err != nil {
		return domain.Conflict{}, 0, err
	}

	task, err := s.store.Get(ctx, tenantID, taskID)
	if err == nil {
		s.publish(task)
	} else {
		s.logger.WithTask(taskID.String()).Warn("snapshot after conflict resolution failed", "error", err)
	}
	return conflict, remaining, nil
}

// FailStale settles tasks whose worker stopped heartbeating. It returns
// the tasks it failed so the caller can log or alert on them.
func (s *Service) FailStale(ctx context.Context, olderThan time.Duration) ([]domain.Task, error) {
	cutoff := time.Now().UTC().Add(-olderThan)
	tasks, err := s.store.FailStale(ctx, cutoff)
	if err != nil {
		return nil, err
	}
	for _, task := range tasks {
		s.publish(task)
	}
	return tasks, nil
}
