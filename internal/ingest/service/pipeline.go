package service

import (
	"context"
	"fmt"
	"io"

	"stockledger_backend/internal/adapters/storage"
	"stockledger_backend/internal/events"
	"stockledger_backend/internal/extraction"
	"stockledger_backend/internal/ingest/fingerprint"
	ledgerdomain "stockledger_backend/internal/ledger/domain"
	ledgerrepo "stockledger_backend/internal/ledger/repository"
	"stockledger_backend/internal/tasks/domain"
	taskrepo "stockledger_backend/internal/tasks/repository"
	"stockledger_backend/platform/apperr"
	"stockledger_backend/platform/logger"

	"github.com/google/uuid"
)

// runCounters accumulates the batch result summary. failed starts from
// the task's persisted count so a resumed batch keeps its phase one
// hash failures.
type runCounters struct {
	documents int
	items     int
	skipped   int
	replaced  int
	unmapped  int
	failed    int
}

// ProcessBatch runs a freshly submitted batch. The claim is one atomic
// PENDING to RUNNING step, so a redelivered or competing invocation
// finds nothing to do and returns without side effects.
func (s *Service) ProcessBatch(ctx context.Context, taskID uuid.UUID) error {
	task, ok, err := s.tasks.ClaimBatch(ctx, taskID)
	if err != nil {
		return err
	}
	if !ok {
		s.logger.WithTask(taskID.String()).Info("batch already claimed or settled, skipping")
		return nil
	}
	return s.run(ctx, task)
}

// ProcessResume continues a paused batch whose conflicts have all been
// decided. The claim marks the batch trusted, which skips the gate.
func (s *Service) ProcessResume(ctx context.Context, taskID uuid.UUID) error {
	task, ok, err := s.tasks.ClaimResume(ctx, taskID)
	if err != nil {
		return err
	}
	if !ok {
		s.logger.WithTask(taskID.String()).Info("batch resume already claimed or settled, skipping")
		return nil
	}
	return s.run(ctx, task)
}

func (s *Service) run(ctx context.Context, task domain.Task) error {
	log := s.logger.WithTask(task.ID.String()).WithTenant(task.TenantID.String())
	counters := runCounters{failed: task.FailedFiles}

	refs := task.FileKeys
	if !task.Trusted {
		gated, paused, err := s.gate(ctx, task, &counters, log)
		if err != nil {
			return s.fatal(ctx, task.ID, log, err)
		}
		if paused {
			return nil
		}
		refs = gated
	}

	if err := s.extractAndPersist(ctx, task, refs, &counters, log); err != nil {
		return s.fatal(ctx, task.ID, log, err)
	}

	result := map[string]any{
		"documents":   counters.documents,
		"items":       counters.items,
		"skipped":     counters.skipped,
		"replaced":    counters.replaced,
		"unmapped":    counters.unmapped,
		"failedFiles": counters.failed,
	}
	if err := s.tasks.Complete(ctx, task.ID, result); err != nil {
		return s.fatal(ctx, task.ID, log, err)
	}

	s.bus.Publish(ctx, events.IngestBatchCompleted{
		BaseEvent: events.NewBaseEvent(),
		TaskID:    task.ID,
		TenantID:  task.TenantID,
		Documents: counters.documents,
		Items:     counters.items,
	})
	log.Info("ingest batch completed",
		"documents", counters.documents,
		"items", counters.items,
		"skipped", counters.skipped,
		"replaced", counters.replaced,
		"failed_files", counters.failed,
	)
	return nil
}

// gate is phase one: download and fingerprint every file, record the
// digests on the task and collect duplicate conflicts. No extraction
// call is made for any file, conflicted or not, and nothing is
// persisted to the ledger. When conflicts exist the batch pauses.
func (s *Service) gate(ctx context.Context, task domain.Task, counters *runCounters, log *logger.Logger) ([]domain.FileRef, bool, error) {
	refs := make([]domain.FileRef, len(task.FileKeys))
	copy(refs, task.FileKeys)

	if _, err := s.tasks.Advance(ctx, task.ID, 0, stepHashing, 0); err != nil {
		return nil, false, err
	}

	// digest -> index of the batch's first occurrence
	seen := make(map[string]int)
	var conflicts []taskrepo.NewConflict

	for i := range refs {
		if err := ctx.Err(); err != nil {
			return nil, false, err
		}

		data, err := s.download(ctx, refs[i].Key)
		if err != nil {
			return nil, false, fmt.Errorf("download %s: %w", refs[i].Name, err)
		}

		fp, err := fingerprint.Compute(refs[i].Name, data)
		if err != nil {
			counters.failed++
			if _, recErr := s.tasks.RecordFileFailure(ctx, task.ID, refs[i].Name, err.Error()); recErr != nil {
				return nil, false, recErr
			}
			continue
		}
		refs[i].Digest = fp.Digest
		refs[i].Perceptual = fp.Perceptual

		// A repeat inside the batch conflicts against the batch's own
		// first occurrence, even when a stored document also matches:
		// decisions then apply one at a time against whichever document
		// holds the digest when the decision lands.
		if _, dup := seen[fp.Digest]; dup {
			conflicts = append(conflicts, taskrepo.NewConflict{
				Position:   len(conflicts),
				FileIndex:  i,
				SourceKey:  refs[i].Key,
				SourceName: refs[i].Name,
				Digest:     fp.Digest,
			})
		} else {
			seen[fp.Digest] = i
			existing, err := s.documents.FindActiveDocumentByDigest(ctx, task.TenantID, fp.Digest)
			if err != nil {
				return nil, false, fmt.Errorf("digest lookup for %s: %w", refs[i].Name, err)
			}
			if existing != nil {
				conflicts = append(conflicts, taskrepo.NewConflict{
					Position:           len(conflicts),
					FileIndex:          i,
					SourceKey:          refs[i].Key,
					SourceName:         refs[i].Name,
					Digest:             fp.Digest,
					ExistingDocumentID: &existing.ID,
				})
			}
		}

		if err := s.tasks.Heartbeat(ctx, task.ID); err != nil {
			log.Warn("heartbeat failed during hashing", "error", err)
		}
	}

	if err := s.tasks.SetFileRefs(ctx, task.ID, refs); err != nil {
		return nil, false, err
	}

	if len(conflicts) > 0 {
		if _, err := s.tasks.Pause(ctx, task.ID, task.TenantID, conflicts, stepAwaitingReview); err != nil {
			return nil, false, err
		}
		log.Info("batch paused for duplicate review", "conflicts", len(conflicts))
		return refs, true, nil
	}
	return refs, false, nil
}

// extractAndPersist is phase two: extract, map and persist every file
// from the resume cursor on. Per-file failures are recorded and the
// batch keeps going; only storage or database trouble is batch-fatal.
func (s *Service) extractAndPersist(ctx context.Context, task domain.Task, refs []domain.FileRef, counters *runCounters, log *logger.Logger) error {
	decisions := make(map[int]domain.Conflict)
	for _, c := range task.Conflicts {
		if c.Resolution != nil {
			decisions[c.FileIndex] = c
		}
	}

	if _, err := s.tasks.Advance(ctx, task.ID, 0, stepExtracting, task.ResumeCursor); err != nil {
		return err
	}

	for i := task.ResumeCursor; i < len(refs); i++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		ref := refs[i]

		// Hashing already failed this file; just move the cursor past it.
		if ref.Digest == "" {
			if _, err := s.tasks.Advance(ctx, task.ID, 0, stepExtracting, i+1); err != nil {
				return err
			}
			continue
		}

		if c, ok := decisions[i]; ok && *c.Resolution == domain.ResolutionSkip {
			counters.skipped++
			if _, err := s.tasks.Advance(ctx, task.ID, 1, stepExtracting, i+1); err != nil {
				return err
			}
			continue
		}

		data, err := s.download(ctx, ref.Key)
		if err != nil {
			return fmt.Errorf("download %s: %w", ref.Name, err)
		}

		doc := extraction.Document{Name: ref.Name, MIME: ref.ContentType, Data: data}
		if storage.IsImageContentType(ref.ContentType) {
			if captured, ok := fingerprint.CaptureTime(data); ok {
				doc.CapturedAt = captured
			}
		}

		res, err := s.extractor.Extract(ctx, doc)
		if err != nil {
			counters.failed++
			if _, recErr := s.tasks.RecordFileFailure(ctx, task.ID, ref.Name, fmt.Sprintf("extraction failed: %v", err)); recErr != nil {
				return recErr
			}
			if _, advErr := s.tasks.Advance(ctx, task.ID, 0, stepExtracting, i+1); advErr != nil {
				return advErr
			}
			continue
		}

		items, unmapped := s.mapItems(ctx, task.TenantID, res.Items, log)

		if c, ok := decisions[i]; ok && *c.Resolution == domain.ResolutionReplace {
			if err := s.excludeReplaced(ctx, task.TenantID, c, log); err != nil {
				return err
			}
			counters.replaced++
		}

		if _, err := s.documents.InsertDocumentWithItems(ctx, ledgerrepo.NewDocument{
			TenantID:    task.TenantID,
			FileKey:     ref.Key,
			FileName:    ref.Name,
			ContentType: ref.ContentType,
			Digest:      ref.Digest,
			Perceptual:  ref.Perceptual,
		}, items); err != nil {
			return fmt.Errorf("persist %s: %w", ref.Name, err)
		}

		counters.documents++
		counters.items += len(items)
		counters.unmapped += unmapped

		if _, err := s.tasks.Advance(ctx, task.ID, 1, stepExtracting, i+1); err != nil {
			return err
		}
	}
	return nil
}

// mapItems resolves extracted descriptions to part numbers. A miss is
// not an error: the item lands unmapped and the description feeds the
// unmapped backlog inside the resolver.
func (s *Service) mapItems(ctx context.Context, tenantID uuid.UUID, raw []extraction.RawItem, log *logger.Logger) ([]ledgerrepo.NewItem, int) {
	items := make([]ledgerrepo.NewItem, 0, len(raw))
	unmapped := 0
	for i, r := range raw {
		partNumber, ok, err := s.catalog.Resolve(ctx, tenantID, r.Description)
		if err != nil {
			log.Warn("description lookup failed, keeping item unmapped", "description", r.Description, "error", err)
			ok = false
		}
		if !ok {
			partNumber = ""
			unmapped++
		}
		items = append(items, ledgerrepo.NewItem{
			PartNumber:     partNumber,
			RawDescription: r.Description,
			Quantity:       r.Quantity,
			UnitRate:       r.UnitRate,
			Direction:      ledgerdomain.Direction(r.Direction),
			OccurredAt:     r.OccurredAt,
			LineNo:         i + 1,
		})
	}
	return items, unmapped
}

// excludeReplaced retires the document a REPLACE decision points at.
// Conflicts against a batch sibling carry no document id; by the time
// the decision applies, the active holder of the digest is whichever
// document the earlier decisions left standing.
func (s *Service) excludeReplaced(ctx context.Context, tenantID uuid.UUID, c domain.Conflict, log *logger.Logger) error {
	target := c.ExistingDocumentID
	if target == nil {
		existing, err := s.documents.FindActiveDocumentByDigest(ctx, tenantID, c.Digest)
		if err != nil {
			return err
		}
		if existing == nil {
			log.Warn("replace decision found no active document to retire", "digest", c.Digest)
			return nil
		}
		target = &existing.ID
	}
	if err := s.documents.ExcludeDocument(ctx, tenantID, *target); err != nil {
		if apperr.Is(err, apperr.KindNotFound) {
			log.Warn("document to replace is already gone", "document_id", *target)
			return nil
		}
		return err
	}
	return nil
}

// fatal settles the batch as FAILED and surfaces the error to the
// queue. A cancelled context means the worker is shutting down; the
// task is left RUNNING for the stale reaper instead of being failed
// with a dead connection.
func (s *Service) fatal(ctx context.Context, taskID uuid.UUID, log *logger.Logger, err error) error {
	if ctx.Err() != nil {
		log.Warn("ingest run interrupted", "error", err)
		return err
	}
	log.Error("ingest batch failed", "error", err)
	if markErr := s.tasks.MarkFailed(ctx, taskID, err.Error()); markErr != nil {
		log.Error("failed to settle failed batch", "error", markErr)
	}
	return err
}

func (s *Service) download(ctx context.Context, fileKey string) ([]byte, error) {
	reader, err := s.storage.DownloadFile(ctx, s.bucket, fileKey)
	if err != nil {
		return nil, err
	}
	defer func() { _ = reader.Close() }()
	return io.ReadAll(reader)
}
