package service

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"stockledger_backend/internal/events"
	"stockledger_backend/internal/extraction"
	"stockledger_backend/internal/tasks/domain"

	"github.com/shopspring/decimal"
)

func TestProcessBatchExtractsMapsAndPersists(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	f.catalog.mappings["Steel plate A4"] = "STL-A4"
	f.extract.results["jan.pdf"] = &extraction.Result{
		Items: []extraction.RawItem{
			{Description: "Steel plate A4", Quantity: decimal.NewFromInt(5), Direction: "IN", OccurredAt: time.Now()},
			{Description: "mystery bracket", Quantity: decimal.NewFromInt(2), Direction: "IN", OccurredAt: time.Now()},
		},
		Confidence: 0.93,
	}

	task := f.seedBatch(t, []seedFile{
		{name: "jan.pdf", data: []byte("invoice january")},
		{name: "feb.pdf", data: []byte("invoice february")},
	})
	if err := f.svc.ProcessBatch(ctx, task.ID); err != nil {
		t.Fatalf("process batch: %v", err)
	}

	done := f.tracker.get(t, task.ID)
	if done.Status != domain.StatusSucceeded {
		t.Fatalf("expected SUCCEEDED, got %s (%s)", done.Status, done.ErrorMessage)
	}
	if done.ProcessedFiles != 2 || done.ResumeCursor != 2 {
		t.Fatalf("expected processed=2 cursor=2, got %d/%d", done.ProcessedFiles, done.ResumeCursor)
	}
	for key, want := range map[string]int{
		"documents": 2, "items": 3, "skipped": 0, "replaced": 0, "unmapped": 2, "failedFiles": 0,
	} {
		if got := done.Result[key]; got != want {
			t.Fatalf("expected result %s=%d, got %v", key, want, got)
		}
	}

	if got := f.extract.callCount(); got != 2 {
		t.Fatalf("expected 2 extraction calls, got %d", got)
	}

	stored := f.docs.activeByDigest(f.tenantID, digestOf([]byte("invoice january")))
	if len(stored) != 1 {
		t.Fatalf("expected january document persisted, got %d", len(stored))
	}
	items := f.docs.items[stored[0].ID]
	if len(items) != 2 {
		t.Fatalf("expected 2 line items, got %d", len(items))
	}
	if items[0].PartNumber != "STL-A4" {
		t.Fatalf("expected mapped part number, got %q", items[0].PartNumber)
	}
	if items[1].PartNumber != "" {
		t.Fatalf("expected unmapped item to keep empty part number, got %q", items[1].PartNumber)
	}
	if items[0].LineNo != 1 || items[1].LineNo != 2 {
		t.Fatalf("expected line numbers 1 and 2, got %d and %d", items[0].LineNo, items[1].LineNo)
	}

	f.bus.mu.Lock()
	defer f.bus.mu.Unlock()
	if len(f.bus.events) != 1 {
		t.Fatalf("expected one published event, got %d", len(f.bus.events))
	}
	completed, ok := f.bus.events[0].(events.IngestBatchCompleted)
	if !ok {
		t.Fatalf("expected IngestBatchCompleted, got %T", f.bus.events[0])
	}
	if completed.Documents != 2 || completed.Items != 3 {
		t.Fatalf("unexpected event payload: %+v", completed)
	}
}

func TestProcessBatchNeverExtractsConflictedFiles(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	dup := []byte("already ingested invoice")
	f.docs.seed(f.tenantID, digestOf(dup))

	task := f.seedBatch(t, []seedFile{
		{name: "dup.pdf", data: dup},
		{name: "fresh.pdf", data: []byte("brand new invoice")},
	})
	if err := f.svc.ProcessBatch(ctx, task.ID); err != nil {
		t.Fatalf("process batch: %v", err)
	}

	paused := f.tracker.get(t, task.ID)
	if paused.Status != domain.StatusDuplicatesFound {
		t.Fatalf("expected DUPLICATES_FOUND, got %s", paused.Status)
	}
	if paused.Step != stepAwaitingReview {
		t.Fatalf("expected step %q, got %q", stepAwaitingReview, paused.Step)
	}
	if len(paused.Conflicts) != 1 {
		t.Fatalf("expected 1 conflict, got %d", len(paused.Conflicts))
	}
	if paused.Conflicts[0].FileIndex != 0 || paused.Conflicts[0].ExistingDocumentID == nil {
		t.Fatalf("expected conflict on file 0 against a stored document, got %+v", paused.Conflicts[0])
	}

	// The gate stops the whole batch before any extraction: the clean
	// file is not processed either until a decision lands.
	if got := f.extract.callCount(); got != 0 {
		t.Fatalf("expected zero extraction calls, got %d", got)
	}
	if got := len(f.docs.activeByDigest(f.tenantID, digestOf([]byte("brand new invoice")))); got != 0 {
		t.Fatalf("expected nothing persisted, got %d documents", got)
	}

	// Hashing results still land on the task for the review UI.
	if paused.FileKeys[0].Digest != digestOf(dup) {
		t.Fatalf("expected digest recorded on file ref, got %q", paused.FileKeys[0].Digest)
	}
}

func TestProcessBatchFlagsWithinBatchRepeats(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	same := []byte("scanned twice")

	task := f.seedBatch(t, []seedFile{
		{name: "first.pdf", data: same},
		{name: "second.pdf", data: same},
	})
	if err := f.svc.ProcessBatch(ctx, task.ID); err != nil {
		t.Fatalf("process batch: %v", err)
	}

	paused := f.tracker.get(t, task.ID)
	if len(paused.Conflicts) != 1 {
		t.Fatalf("expected 1 conflict, got %d", len(paused.Conflicts))
	}
	c := paused.Conflicts[0]
	if c.FileIndex != 1 {
		t.Fatalf("expected the repeat at index 1 to conflict, got index %d", c.FileIndex)
	}
	if c.ExistingDocumentID != nil {
		t.Fatalf("within-batch conflict must not reference a stored document")
	}
}

func TestProcessBatchRecordsHashFailuresAndKeepsGoing(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	task := f.seedBatch(t, []seedFile{
		{name: "empty.pdf", data: nil},
		{name: "good.pdf", data: []byte("fine invoice")},
	})
	if err := f.svc.ProcessBatch(ctx, task.ID); err != nil {
		t.Fatalf("process batch: %v", err)
	}

	done := f.tracker.get(t, task.ID)
	if done.Status != domain.StatusSucceeded {
		t.Fatalf("expected SUCCEEDED, got %s (%s)", done.Status, done.ErrorMessage)
	}
	if done.FailedFiles != 1 {
		t.Fatalf("expected 1 failed file, got %d", done.FailedFiles)
	}
	if len(done.FileErrors) != 1 || done.FileErrors[0].FileName != "empty.pdf" {
		t.Fatalf("expected recorded failure for empty.pdf, got %+v", done.FileErrors)
	}
	if done.Result["documents"] != 1 || done.Result["failedFiles"] != 1 {
		t.Fatalf("unexpected result summary: %+v", done.Result)
	}
	if done.ProcessedFiles != 1 || done.ResumeCursor != 2 {
		t.Fatalf("expected processed=1 cursor=2, got %d/%d", done.ProcessedFiles, done.ResumeCursor)
	}
}

func TestProcessBatchClaimIsSingleShot(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	task := f.seedBatch(t, []seedFile{{name: "jan.pdf", data: []byte("invoice")}})
	if err := f.svc.ProcessBatch(ctx, task.ID); err != nil {
		t.Fatalf("first run: %v", err)
	}
	if err := f.svc.ProcessBatch(ctx, task.ID); err != nil {
		t.Fatalf("redelivery must be a no-op, got %v", err)
	}
	if got := f.extract.callCount(); got != 1 {
		t.Fatalf("expected a single extraction call, got %d", got)
	}
}

func TestResumeAppliesReplaceAndSkip(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	dup := []byte("replaced invoice")
	seeded := f.docs.seed(f.tenantID, digestOf(dup))

	task := f.seedBatch(t, []seedFile{
		{name: "redo.pdf", data: dup},
		{name: "fresh.pdf", data: []byte("new invoice")},
		{name: "redo-copy.pdf", data: dup},
	})
	if err := f.svc.ProcessBatch(ctx, task.ID); err != nil {
		t.Fatalf("process batch: %v", err)
	}

	paused := f.tracker.get(t, task.ID)
	if len(paused.Conflicts) != 2 {
		t.Fatalf("expected 2 conflicts, got %d", len(paused.Conflicts))
	}

	if _, err := f.svc.Resolve(ctx, f.tenantID, task.ID, []Decision{
		{ConflictID: paused.Conflicts[0].ID, Action: domain.ResolutionReplace},
		{ConflictID: paused.Conflicts[1].ID, Action: domain.ResolutionSkip},
	}); err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if len(f.queue.resumes) != 1 {
		t.Fatalf("expected resume queued once, got %d", len(f.queue.resumes))
	}

	if err := f.svc.ProcessResume(ctx, task.ID); err != nil {
		t.Fatalf("process resume: %v", err)
	}

	done := f.tracker.get(t, task.ID)
	if done.Status != domain.StatusSucceeded {
		t.Fatalf("expected SUCCEEDED, got %s (%s)", done.Status, done.ErrorMessage)
	}
	if !done.Trusted {
		t.Fatalf("expected resumed task to be trusted")
	}
	for key, want := range map[string]int{
		"documents": 2, "replaced": 1, "skipped": 1, "failedFiles": 0,
	} {
		if got := done.Result[key]; got != want {
			t.Fatalf("expected result %s=%d, got %v", key, want, got)
		}
	}

	// The stored duplicate was retired and exactly one active document
	// holds the digest now: the batch's replacement.
	excluded, err := f.docs.GetDocument(ctx, f.tenantID, seeded.ID)
	if err != nil {
		t.Fatalf("get seeded document: %v", err)
	}
	if !excluded.Excluded {
		t.Fatalf("expected seeded document excluded after replace")
	}
	active := f.docs.activeByDigest(f.tenantID, digestOf(dup))
	if len(active) != 1 || active[0].FileName != "redo.pdf" {
		t.Fatalf("expected redo.pdf as the single active holder, got %+v", active)
	}

	// The skipped copy was never extracted.
	for _, name := range f.extract.calls {
		if name == "redo-copy.pdf" {
			t.Fatalf("skipped file must not be extracted")
		}
	}
}

func TestResumeReplaceRetiresBatchSibling(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	same := []byte("double scan")

	task := f.seedBatch(t, []seedFile{
		{name: "first.pdf", data: same},
		{name: "second.pdf", data: same},
	})
	if err := f.svc.ProcessBatch(ctx, task.ID); err != nil {
		t.Fatalf("process batch: %v", err)
	}

	paused := f.tracker.get(t, task.ID)
	if len(paused.Conflicts) != 1 {
		t.Fatalf("expected 1 conflict, got %d", len(paused.Conflicts))
	}
	if _, err := f.svc.Resolve(ctx, f.tenantID, task.ID, []Decision{
		{ConflictID: paused.Conflicts[0].ID, Action: domain.ResolutionReplace},
	}); err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if err := f.svc.ProcessResume(ctx, task.ID); err != nil {
		t.Fatalf("process resume: %v", err)
	}

	// The first occurrence landed, then the replace decision retired it
	// in favor of the second copy.
	active := f.docs.activeByDigest(f.tenantID, digestOf(same))
	if len(active) != 1 || active[0].FileName != "second.pdf" {
		t.Fatalf("expected second.pdf as the single active holder, got %+v", active)
	}

	done := f.tracker.get(t, task.ID)
	if done.Result["documents"] != 2 || done.Result["replaced"] != 1 {
		t.Fatalf("unexpected result summary: %+v", done.Result)
	}
}

func TestExtractionFailureIsPerFile(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	f.extract.failFor["bad.pdf"] = errors.New("model returned garbage")

	task := f.seedBatch(t, []seedFile{
		{name: "bad.pdf", data: []byte("unreadable")},
		{name: "good.pdf", data: []byte("readable")},
	})
	if err := f.svc.ProcessBatch(ctx, task.ID); err != nil {
		t.Fatalf("process batch: %v", err)
	}

	done := f.tracker.get(t, task.ID)
	if done.Status != domain.StatusSucceeded {
		t.Fatalf("expected SUCCEEDED, got %s (%s)", done.Status, done.ErrorMessage)
	}
	if done.FailedFiles != 1 {
		t.Fatalf("expected 1 failed file, got %d", done.FailedFiles)
	}
	if len(done.FileErrors) != 1 || !strings.Contains(done.FileErrors[0].Reason, "extraction failed") {
		t.Fatalf("expected extraction failure recorded, got %+v", done.FileErrors)
	}
	if done.Result["documents"] != 1 {
		t.Fatalf("expected the good file persisted, got %v", done.Result["documents"])
	}
}

func TestProcessBatchFailsWhenStorageDies(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	task := f.seedBatch(t, []seedFile{{name: "jan.pdf", data: []byte("invoice")}})
	f.storage.downloadErr = errors.New("connection refused")

	if err := f.svc.ProcessBatch(ctx, task.ID); err == nil {
		t.Fatalf("expected batch-fatal error when storage is down")
	}

	done := f.tracker.get(t, task.ID)
	if done.Status != domain.StatusFailed {
		t.Fatalf("expected FAILED, got %s", done.Status)
	}
	if !strings.Contains(done.ErrorMessage, "download") {
		t.Fatalf("expected download failure message, got %q", done.ErrorMessage)
	}
}
