package service

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"stockledger_backend/internal/tasks/domain"
	"stockledger_backend/internal/tasks/repository"
	"stockledger_backend/internal/tasks/sse"
	"stockledger_backend/platform/apperr"
	"stockledger_backend/platform/logger"
)

// fakeStore keeps tasks in memory while honoring the same transition table
// as the real store.
type fakeStore struct {
	mu        sync.Mutex
	tasks     map[uuid.UUID]domain.Task
	conflicts map[uuid.UUID][]domain.Conflict
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		tasks:     make(map[uuid.UUID]domain.Task),
		conflicts: make(map[uuid.UUID][]domain.Conflict),
	}
}

func (f *fakeStore) Create(_ context.Context, t repository.NewTask) (domain.Task, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	task := domain.Task{
		ID:          uuid.New(),
		TenantID:    t.TenantID,
		Kind:        t.Kind,
		Status:      domain.StatusPending,
		Reason:      t.Reason,
		TotalFiles:  t.TotalFiles,
		FileKeys:    t.FileKeys,
		HeartbeatAt: time.Now().UTC(),
		CreatedAt:   time.Now().UTC(),
	}
	f.tasks[task.ID] = task
	return task, nil
}

func (f *fakeStore) Get(_ context.Context, tenantID, taskID uuid.UUID) (domain.Task, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	task, ok := f.tasks[taskID]
	if !ok || task.TenantID != tenantID {
		return domain.Task{}, apperr.NotFound("task not found")
	}
	task.Conflicts = append([]domain.Conflict(nil), f.conflicts[taskID]...)
	return task, nil
}

func (f *fakeStore) List(_ context.Context, tenantID uuid.UUID, _ int) ([]domain.Task, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var out []domain.Task
	for _, task := range f.tasks {
		if task.TenantID == tenantID {
			out = append(out, task)
		}
	}
	return out, nil
}

func (f *fakeStore) UpdateStatus(_ context.Context, taskID uuid.UUID, to domain.Status, change repository.StatusChange) (domain.Task, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	task, ok := f.tasks[taskID]
	if !ok {
		return domain.Task{}, apperr.NotFound("task not found")
	}
	if !domain.CanTransition(task.Kind, task.Status, to) {
		return domain.Task{}, apperr.Conflict(fmt.Sprintf("task cannot move from %s to %s", task.Status, to))
	}

	task.Status = to
	if change.Step != "" {
		task.Step = change.Step
	}
	if change.ErrorMessage != "" {
		task.ErrorMessage = change.ErrorMessage
	}
	if change.Result != nil {
		task.Result = change.Result
	}
	task.Trusted = task.Trusted || change.Trusted
	task.HeartbeatAt = time.Now().UTC()
	f.tasks[taskID] = task
	return task, nil
}

func (f *fakeStore) Claim(_ context.Context, taskID uuid.UUID, kind domain.Kind, from domain.Status, markTrusted bool) (domain.Task, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	task, ok := f.tasks[taskID]
	if !ok || task.Kind != kind || task.Status != from {
		return domain.Task{}, false, nil
	}
	task.Status = domain.StatusRunning
	task.Trusted = task.Trusted || markTrusted
	task.HeartbeatAt = time.Now().UTC()
	f.tasks[taskID] = task
	return task, true, nil
}

func (f *fakeStore) Advance(_ context.Context, taskID uuid.UUID, processedDelta int, step string, cursor int) (domain.Task, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if processedDelta < 0 {
		return domain.Task{}, apperr.Validation("progress can only move forward")
	}
	task, ok := f.tasks[taskID]
	if !ok {
		return domain.Task{}, apperr.NotFound("task not found")
	}
	if task.Status != domain.StatusRunning {
		return domain.Task{}, apperr.Conflict("task is not running")
	}
	task.ProcessedFiles += processedDelta
	if step != "" {
		task.Step = step
	}
	if cursor > task.ResumeCursor {
		task.ResumeCursor = cursor
	}
	f.tasks[taskID] = task
	return task, nil
}

func (f *fakeStore) RecordFileFailure(_ context.Context, taskID uuid.UUID, fe domain.FileError) (domain.Task, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	task, ok := f.tasks[taskID]
	if !ok {
		return domain.Task{}, apperr.NotFound("task not found")
	}
	task.FileErrors = append(task.FileErrors, fe)
	task.FailedFiles++
	f.tasks[taskID] = task
	return task, nil
}

func (f *fakeStore) SetFileRefs(_ context.Context, taskID uuid.UUID, refs []domain.FileRef) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	task, ok := f.tasks[taskID]
	if !ok {
		return apperr.NotFound("task not found")
	}
	task.FileKeys = refs
	f.tasks[taskID] = task
	return nil
}

func (f *fakeStore) Heartbeat(_ context.Context, taskID uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if task, ok := f.tasks[taskID]; ok && task.Status == domain.StatusRunning {
		task.HeartbeatAt = time.Now().UTC()
		f.tasks[taskID] = task
	}
	return nil
}

func (f *fakeStore) FailStale(_ context.Context, cutoff time.Time) ([]domain.Task, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var failed []domain.Task
	for id, task := range f.tasks {
		stale := task.Status == domain.StatusPending || task.Status == domain.StatusRunning
		if stale && task.HeartbeatAt.Before(cutoff) {
			task.Status = domain.StatusFailed
			task.ErrorMessage = "worker heartbeat lost; task abandoned"
			f.tasks[id] = task
			failed = append(failed, task)
		}
	}
	return failed, nil
}

func (f *fakeStore) InsertConflicts(_ context.Context, taskID, tenantID uuid.UUID, conflicts []repository.NewConflict) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	for _, c := range conflicts {
		f.conflicts[taskID] = append(f.conflicts[taskID], domain.Conflict{
			ID:                 uuid.New(),
			TaskID:             taskID,
			TenantID:           tenantID,
			Position:           c.Position,
			FileIndex:          c.FileIndex,
			SourceKey:          c.SourceKey,
			SourceName:         c.SourceName,
			Digest:             c.Digest,
			ExistingDocumentID: c.ExistingDocumentID,
		})
	}
	return nil
}

func (f *fakeStore) ListConflicts(_ context.Context, taskID uuid.UUID) ([]domain.Conflict, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]domain.Conflict(nil), f.conflicts[taskID]...), nil
}

func (f *fakeStore) ResolveConflict(_ context.Context, tenantID, taskID, conflictID uuid.UUID, res domain.Resolution) (domain.Conflict, int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	queue := f.conflicts[taskID]
	var target *domain.Conflict
	var lowestOpen *domain.Conflict
	open := 0
	for i := range queue {
		if queue[i].ID == conflictID {
			target = &queue[i]
		}
		if queue[i].Open() {
			open++
			if lowestOpen == nil {
				lowestOpen = &queue[i]
			}
		}
	}

	switch {
	case target == nil:
		return domain.Conflict{}, 0, apperr.NotFound("conflict not found")
	case !target.Open():
		return domain.Conflict{}, 0, apperr.Conflict("conflict is already resolved")
	case lowestOpen.ID != conflictID:
		return domain.Conflict{}, 0, apperr.Validation("conflicts are resolved in discovery order")
	}

	now := time.Now().UTC()
	target.Resolution = &res
	target.ResolvedAt = &now
	return *target, open - 1, nil
}

var _ repository.Store = (*fakeStore)(nil)

func newTestService(store repository.Store, hub *sse.Hub) *Service {
	return NewService(store, hub, logger.New("development"))
}

func TestCreateRecalcStartsPending(t *testing.T) {
	store := newFakeStore()
	svc := newTestService(store, nil)
	tenantID := uuid.New()

	taskID, err := svc.CreateRecalc(context.Background(), tenantID, "manual_request")
	if err != nil {
		t.Fatalf("create recalc: %v", err)
	}

	task, err := svc.Get(context.Background(), tenantID, taskID)
	if err != nil {
		t.Fatalf("get task: %v", err)
	}
	if task.Kind != domain.KindRecalc || task.Status != domain.StatusPending {
		t.Fatalf("expected pending recalc task, got %s/%s", task.Kind, task.Status)
	}
	if task.Reason != "manual_request" {
		t.Fatalf("expected reason recorded, got %q", task.Reason)
	}
}

func TestRecalcLifecycleBroadcastsSnapshots(t *testing.T) {
	store := newFakeStore()
	hub := sse.NewHub()
	defer hub.Close()
	svc := newTestService(store, hub)
	tenantID := uuid.New()

	taskID, err := svc.CreateRecalc(context.Background(), tenantID, "manual_request")
	if err != nil {
		t.Fatalf("create recalc: %v", err)
	}

	ch, cancel := svc.Watch(taskID)
	defer cancel()

	if err := svc.MarkRunning(context.Background(), taskID); err != nil {
		t.Fatalf("mark running: %v", err)
	}
	if err := svc.MarkSucceeded(context.Background(), taskID, 12, 40); err != nil {
		t.Fatalf("mark succeeded: %v", err)
	}

	running := <-ch
	if running.Status != domain.StatusRunning {
		t.Fatalf("expected RUNNING snapshot, got %s", running.Status)
	}
	done := <-ch
	if done.Status != domain.StatusSucceeded {
		t.Fatalf("expected SUCCEEDED snapshot, got %s", done.Status)
	}
	if done.Result["partsTracked"] != 12 || done.Result["itemsApplied"] != 40 {
		t.Fatalf("expected summary counters in result, got %v", done.Result)
	}
}

func TestMarkLockDeniedRecordsExplanation(t *testing.T) {
	store := newFakeStore()
	svc := newTestService(store, nil)
	tenantID := uuid.New()

	taskID, err := svc.CreateRecalc(context.Background(), tenantID, "ingest_completed")
	if err != nil {
		t.Fatalf("create recalc: %v", err)
	}
	if err := svc.MarkLockDenied(context.Background(), taskID); err != nil {
		t.Fatalf("mark lock denied: %v", err)
	}

	task, err := svc.Get(context.Background(), tenantID, taskID)
	if err != nil {
		t.Fatalf("get task: %v", err)
	}
	if task.Status != domain.StatusLockDenied {
		t.Fatalf("expected LOCK_DENIED, got %s", task.Status)
	}
	if task.ErrorMessage != msgLockDenied {
		t.Fatalf("expected explanation %q, got %q", msgLockDenied, task.ErrorMessage)
	}

	// LOCK_DENIED is terminal; the coordinator cannot revive the task.
	if err := svc.MarkRunning(context.Background(), taskID); !apperr.Is(err, apperr.KindConflict) {
		t.Fatalf("expected conflict reviving settled task, got %v", err)
	}
}

func TestClaimBatchIsSingleShot(t *testing.T) {
	store := newFakeStore()
	svc := newTestService(store, nil)
	tenantID := uuid.New()

	created, err := svc.CreateBatch(context.Background(), tenantID, []domain.FileRef{
		{Key: "tenants/a/invoice-1.pdf", Name: "invoice-1.pdf"},
		{Key: "tenants/a/invoice-2.pdf", Name: "invoice-2.pdf"},
	})
	if err != nil {
		t.Fatalf("create batch: %v", err)
	}
	if created.TotalFiles != 2 {
		t.Fatalf("expected 2 total files, got %d", created.TotalFiles)
	}

	task, ok, err := svc.ClaimBatch(context.Background(), created.ID)
	if err != nil || !ok {
		t.Fatalf("expected first claim to win, ok=%v err=%v", ok, err)
	}
	if task.Status != domain.StatusRunning {
		t.Fatalf("expected RUNNING after claim, got %s", task.Status)
	}

	if _, ok, err := svc.ClaimBatch(context.Background(), created.ID); err != nil || ok {
		t.Fatalf("expected redelivered claim to lose, ok=%v err=%v", ok, err)
	}
}

func TestPauseThenResumeMarksTrusted(t *testing.T) {
	store := newFakeStore()
	svc := newTestService(store, nil)
	tenantID := uuid.New()

	created, err := svc.CreateBatch(context.Background(), tenantID, []domain.FileRef{
		{Key: "k1", Name: "a.pdf"}, {Key: "k2", Name: "b.pdf"},
	})
	if err != nil {
		t.Fatalf("create batch: %v", err)
	}
	if _, ok, err := svc.ClaimBatch(context.Background(), created.ID); err != nil || !ok {
		t.Fatalf("claim batch: ok=%v err=%v", ok, err)
	}

	existing := uuid.New()
	paused, err := svc.Pause(context.Background(), created.ID, tenantID, []repository.NewConflict{
		{Position: 0, FileIndex: 1, SourceKey: "k2", SourceName: "b.pdf", Digest: "abc", ExistingDocumentID: &existing},
	}, "awaiting duplicate review")
	if err != nil {
		t.Fatalf("pause: %v", err)
	}
	if paused.Status != domain.StatusDuplicatesFound {
		t.Fatalf("expected DUPLICATES_FOUND, got %s", paused.Status)
	}
	if len(paused.Conflicts) != 1 || paused.Conflicts[0].Digest != "abc" {
		t.Fatalf("expected stored conflict on snapshot, got %+v", paused.Conflicts)
	}

	resumed, ok, err := svc.ClaimResume(context.Background(), created.ID)
	if err != nil || !ok {
		t.Fatalf("claim resume: ok=%v err=%v", ok, err)
	}
	if !resumed.Trusted {
		t.Fatal("expected resumed run to be trusted")
	}
	if resumed.Status != domain.StatusRunning {
		t.Fatalf("expected RUNNING after resume, got %s", resumed.Status)
	}
}

func TestAdvanceRejectsNegativeDelta(t *testing.T) {
	store := newFakeStore()
	svc := newTestService(store, nil)
	tenantID := uuid.New()

	created, _ := svc.CreateBatch(context.Background(), tenantID, []domain.FileRef{{Key: "k", Name: "a.pdf"}})
	if _, ok, err := svc.ClaimBatch(context.Background(), created.ID); err != nil || !ok {
		t.Fatalf("claim batch: ok=%v err=%v", ok, err)
	}

	if _, err := svc.Advance(context.Background(), created.ID, -1, "", 0); !apperr.Is(err, apperr.KindValidation) {
		t.Fatalf("expected validation error for negative delta, got %v", err)
	}

	task, err := svc.Advance(context.Background(), created.ID, 1, "extracting data", 1)
	if err != nil {
		t.Fatalf("advance: %v", err)
	}
	if task.ProcessedFiles != 1 || task.Step != "extracting data" || task.ResumeCursor != 1 {
		t.Fatalf("unexpected progress snapshot: %+v", task)
	}
}

func TestRecordFileFailureKeepsBatchGoing(t *testing.T) {
	store := newFakeStore()
	svc := newTestService(store, nil)
	tenantID := uuid.New()

	created, _ := svc.CreateBatch(context.Background(), tenantID, []domain.FileRef{{Key: "k", Name: "broken.pdf"}})
	if _, ok, err := svc.ClaimBatch(context.Background(), created.ID); err != nil || !ok {
		t.Fatalf("claim batch: ok=%v err=%v", ok, err)
	}

	task, err := svc.RecordFileFailure(context.Background(), created.ID, "broken.pdf", "unreadable image data")
	if err != nil {
		t.Fatalf("record file failure: %v", err)
	}
	if task.FailedFiles != 1 || len(task.FileErrors) != 1 {
		t.Fatalf("expected one failed file, got %+v", task)
	}
	if task.FileErrors[0].FileName != "broken.pdf" || task.FileErrors[0].At.IsZero() {
		t.Fatalf("expected stamped file error, got %+v", task.FileErrors[0])
	}
	if task.Status != domain.StatusRunning {
		t.Fatalf("expected batch still RUNNING, got %s", task.Status)
	}
}

func TestResolveConflictEnforcesDiscoveryOrder(t *testing.T) {
	store := newFakeStore()
	svc := newTestService(store, nil)
	tenantID := uuid.New()

	created, _ := svc.CreateBatch(context.Background(), tenantID, []domain.FileRef{
		{Key: "k1", Name: "a.pdf"}, {Key: "k2", Name: "b.pdf"}, {Key: "k3", Name: "c.pdf"},
	})
	if _, ok, err := svc.ClaimBatch(context.Background(), created.ID); err != nil || !ok {
		t.Fatalf("claim batch: ok=%v err=%v", ok, err)
	}
	paused, err := svc.Pause(context.Background(), created.ID, tenantID, []repository.NewConflict{
		{Position: 0, FileIndex: 0, SourceKey: "k1", SourceName: "a.pdf", Digest: "d1"},
		{Position: 1, FileIndex: 2, SourceKey: "k3", SourceName: "c.pdf", Digest: "d2"},
	}, "awaiting duplicate review")
	if err != nil {
		t.Fatalf("pause: %v", err)
	}

	first, second := paused.Conflicts[0], paused.Conflicts[1]

	if _, _, err := svc.ResolveConflict(context.Background(), tenantID, created.ID, second.ID, domain.ResolutionSkip); !apperr.Is(err, apperr.KindValidation) {
		t.Fatalf("expected out-of-order resolution rejected, got %v", err)
	}

	resolved, remaining, err := svc.ResolveConflict(context.Background(), tenantID, created.ID, first.ID, domain.ResolutionSkip)
	if err != nil {
		t.Fatalf("resolve first: %v", err)
	}
	if resolved.Resolution == nil || *resolved.Resolution != domain.ResolutionSkip {
		t.Fatalf("expected SKIP recorded, got %+v", resolved)
	}
	if remaining != 1 {
		t.Fatalf("expected 1 conflict remaining, got %d", remaining)
	}

	if _, _, err := svc.ResolveConflict(context.Background(), tenantID, created.ID, first.ID, domain.ResolutionReplace); !apperr.Is(err, apperr.KindConflict) {
		t.Fatalf("expected re-resolution rejected, got %v", err)
	}

	_, remaining, err = svc.ResolveConflict(context.Background(), tenantID, created.ID, second.ID, domain.ResolutionReplace)
	if err != nil {
		t.Fatalf("resolve second: %v", err)
	}
	if remaining != 0 {
		t.Fatalf("expected no conflicts remaining, got %d", remaining)
	}
}

func TestFailStaleSettlesAbandonedTasks(t *testing.T) {
	store := newFakeStore()
	svc := newTestService(store, nil)
	tenantID := uuid.New()

	created, _ := svc.CreateBatch(context.Background(), tenantID, []domain.FileRef{{Key: "k", Name: "a.pdf"}})
	if _, ok, err := svc.ClaimBatch(context.Background(), created.ID); err != nil || !ok {
		t.Fatalf("claim batch: ok=%v err=%v", ok, err)
	}

	// Backdate the heartbeat so the reaper sees the worker as gone.
	store.mu.Lock()
	task := store.tasks[created.ID]
	task.HeartbeatAt = time.Now().UTC().Add(-time.Hour)
	store.tasks[created.ID] = task
	store.mu.Unlock()

	failed, err := svc.FailStale(context.Background(), 10*time.Minute)
	if err != nil {
		t.Fatalf("fail stale: %v", err)
	}
	if len(failed) != 1 || failed[0].ID != created.ID {
		t.Fatalf("expected the abandoned task failed, got %+v", failed)
	}
	if failed[0].Status != domain.StatusFailed {
		t.Fatalf("expected FAILED, got %s", failed[0].Status)
	}
}
