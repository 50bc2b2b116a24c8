// Package service orchestrates the ingestion pipeline: batch intake,
// fingerprint gating, conflict resolution and the extract-map-persist
// run that turns uploaded documents into ledger rows.
package service

import (
	"context"
	"fmt"
	"io"

	"stockledger_backend/internal/adapters/storage"
	"stockledger_backend/internal/events"
	"stockledger_backend/internal/extraction"
	ledgerrepo "stockledger_backend/internal/ledger/repository"
	"stockledger_backend/internal/tasks/domain"
	taskrepo "stockledger_backend/internal/tasks/repository"
	"stockledger_backend/platform/apperr"
	"stockledger_backend/platform/logger"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

const (
	maxBatchFiles     = 50
	uploadParallelism = 5

	stepHashing        = "hashing files"
	stepAwaitingReview = "awaiting duplicate review"
	stepExtracting     = "extracting data"

	msgNoFiles        = "at least one file is required"
	msgUploadFailed   = "could not store the uploaded files"
	msgQueueDown      = "could not queue the batch for processing"
	msgUnknownAction  = "resolution action must be SKIP or REPLACE"
	msgTaskNotPaused  = "task is not awaiting duplicate review"
	msgStorageFailure = "object storage is unavailable"
)

// TaskTracker is the slice of the task store the pipeline drives.
type TaskTracker interface {
	Get(ctx context.Context, tenantID, taskID uuid.UUID) (domain.Task, error)
	CreateBatch(ctx context.Context, tenantID uuid.UUID, refs []domain.FileRef) (domain.Task, error)
	ClaimBatch(ctx context.Context, taskID uuid.UUID) (domain.Task, bool, error)
	ClaimResume(ctx context.Context, taskID uuid.UUID) (domain.Task, bool, error)
	Pause(ctx context.Context, taskID, tenantID uuid.UUID, conflicts []taskrepo.NewConflict, step string) (domain.Task, error)
	Advance(ctx context.Context, taskID uuid.UUID, processedDelta int, step string, cursor int) (domain.Task, error)
	RecordFileFailure(ctx context.Context, taskID uuid.UUID, fileName, reason string) (domain.Task, error)
	SetFileRefs(ctx context.Context, taskID uuid.UUID, refs []domain.FileRef) error
	Complete(ctx context.Context, taskID uuid.UUID, result map[string]any) error
	Heartbeat(ctx context.Context, taskID uuid.UUID) error
	ResolveConflict(ctx context.Context, tenantID, taskID, conflictID uuid.UUID, res domain.Resolution) (domain.Conflict, int, error)
	MarkFailed(ctx context.Context, taskID uuid.UUID, reason string) error
}

// Resolver maps raw invoice descriptions to catalog part numbers.
type Resolver interface {
	Resolve(ctx context.Context, tenantID uuid.UUID, rawDescription string) (string, bool, error)
}

// Queue hands pipeline work to the background worker.
type Queue interface {
	EnqueueIngestBatch(ctx context.Context, taskID, tenantID uuid.UUID) error
	EnqueueIngestResume(ctx context.Context, taskID, tenantID uuid.UUID) error
}

// FileUpload is one file handed to StartBatch. Open is called once, on
// the upload goroutine.
type FileUpload struct {
	Name        string
	ContentType string
	Size        int64
	Open        func() (io.ReadCloser, error)
}

// Decision is one reviewer call on an open duplicate conflict.
type Decision struct {
	ConflictID uuid.UUID
	Action     domain.Resolution
}

// Service coordinates uploads, the task store, the duplicate gate and
// the extraction run.
type Service struct {
	tasks     TaskTracker
	documents ledgerrepo.DocumentStore
	catalog   Resolver
	storage   storage.StorageService
	extractor extraction.Extractor
	queue     Queue
	bus       events.Bus
	bucket    string
	maxFiles  int
	logger    *logger.Logger
}

// NewService creates the ingestion orchestrator. maxFiles below one
// falls back to the default batch cap.
func NewService(
	tasks TaskTracker,
	documents ledgerrepo.DocumentStore,
	catalog Resolver,
	store storage.StorageService,
	extractor extraction.Extractor,
	queue Queue,
	bus events.Bus,
	bucket string,
	maxFiles int,
	log *logger.Logger,
) *Service {
	if maxFiles < 1 {
		maxFiles = maxBatchFiles
	}
	return &Service{
		tasks:     tasks,
		documents: documents,
		catalog:   catalog,
		storage:   store,
		extractor: extractor,
		queue:     queue,
		bus:       bus,
		bucket:    bucket,
		maxFiles:  maxFiles,
		logger:    log,
	}
}

// StartBatch validates and stores the uploaded files, creates the batch
// task and enqueues it for the worker. Nothing heavy happens here: the
// request path only moves bytes to the object store.
func (s *Service) StartBatch(ctx context.Context, tenantID uuid.UUID, uploads []FileUpload) (domain.Task, error) {
	if len(uploads) == 0 {
		return domain.Task{}, apperr.Validation(msgNoFiles)
	}
	if len(uploads) > s.maxFiles {
		return domain.Task{}, apperr.Validation(fmt.Sprintf("a batch is limited to %d files", s.maxFiles))
	}
	for _, u := range uploads {
		if err := s.storage.ValidateContentType(u.ContentType); err != nil {
			return domain.Task{}, apperr.Validation(fmt.Sprintf("%s: %v", u.Name, err))
		}
		if err := s.storage.ValidateFileSize(u.Size); err != nil {
			return domain.Task{}, apperr.Validation(fmt.Sprintf("%s: %v", u.Name, err))
		}
	}

	folder := "tenants/" + tenantID.String()
	refs := make([]domain.FileRef, len(uploads))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(uploadParallelism)
	for i, upload := range uploads {
		i, upload := i, upload
		g.Go(func() error {
			reader, err := upload.Open()
			if err != nil {
				return fmt.Errorf("open %s: %w", upload.Name, err)
			}
			defer func() { _ = reader.Close() }()

			key, err := s.storage.UploadFile(gctx, s.bucket, folder, upload.Name, upload.ContentType, reader, upload.Size)
			if err != nil {
				return fmt.Errorf("upload %s: %w", upload.Name, err)
			}
			refs[i] = domain.FileRef{Key: key, Name: upload.Name, ContentType: upload.ContentType}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		s.removeObjects(refs)
		return domain.Task{}, apperr.Wrap(apperr.KindUnavailable, msgUploadFailed, err)
	}

	task, err := s.tasks.CreateBatch(ctx, tenantID, refs)
	if err != nil {
		s.removeObjects(refs)
		return domain.Task{}, err
	}

	if err := s.queue.EnqueueIngestBatch(ctx, task.ID, tenantID); err != nil {
		s.logger.Error("failed to enqueue ingest batch", "task_id", task.ID, "error", err)
		if failErr := s.tasks.MarkFailed(ctx, task.ID, msgQueueDown); failErr != nil {
			s.logger.Error("failed to mark unqueued batch", "task_id", task.ID, "error", failErr)
		}
		s.removeObjects(refs)
		return domain.Task{}, apperr.Wrap(apperr.KindUnavailable, msgQueueDown, err)
	}

	s.logger.WithTenant(tenantID.String()).Info("ingest batch accepted",
		"task_id", task.ID,
		"files", len(refs),
	)
	return task, nil
}

// Resolve applies reviewer decisions to a paused batch, in discovery
// order. Once the last open conflict is decided the batch is queued for
// resumption. An empty decision list re-kicks the resume of a fully
// decided batch, so a lost enqueue can be retried safely.
func (s *Service) Resolve(ctx context.Context, tenantID, taskID uuid.UUID, decisions []Decision) (domain.Task, error) {
	for _, d := range decisions {
		if d.Action != domain.ResolutionSkip && d.Action != domain.ResolutionReplace {
			return domain.Task{}, apperr.Validation(msgUnknownAction)
		}
	}

	task, err := s.tasks.Get(ctx, tenantID, taskID)
	if err != nil {
		return domain.Task{}, err
	}
	if task.Status != domain.StatusDuplicatesFound {
		return domain.Task{}, apperr.Conflict(msgTaskNotPaused)
	}

	remaining := len(task.OpenConflicts())
	for _, d := range decisions {
		_, open, err := s.tasks.ResolveConflict(ctx, tenantID, taskID, d.ConflictID, d.Action)
		if err != nil {
			return domain.Task{}, err
		}
		remaining = open
	}

	if remaining == 0 {
		if err := s.queue.EnqueueIngestResume(ctx, taskID, tenantID); err != nil {
			return domain.Task{}, apperr.Wrap(apperr.KindUnavailable, msgQueueDown, err)
		}
		s.logger.WithTask(taskID.String()).Info("all conflicts decided, batch queued for resume")
	}
	return s.tasks.Get(ctx, tenantID, taskID)
}

// DocumentURL returns a short-lived presigned link to a stored source
// document so a reviewer can inspect both sides of a conflict. Excluded
// documents stay reachable for audit.
func (s *Service) DocumentURL(ctx context.Context, tenantID, documentID uuid.UUID) (*storage.PresignedURL, error) {
	doc, err := s.documents.GetDocument(ctx, tenantID, documentID)
	if err != nil {
		return nil, err
	}
	url, err := s.storage.GenerateDownloadURL(ctx, s.bucket, doc.FileKey)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindUnavailable, msgStorageFailure, err)
	}
	return url, nil
}

// removeObjects best-effort deletes uploaded objects after a failed
// batch start. Keys that never made it stay empty and are skipped.
func (s *Service) removeObjects(refs []domain.FileRef) {
	ctx := context.Background()
	for _, ref := range refs {
		if ref.Key == "" {
			continue
		}
		if err := s.storage.DeleteObject(ctx, s.bucket, ref.Key); err != nil {
			s.logger.Warn("failed to remove stored object", "file_key", ref.Key, "error", err)
		}
	}
}
