// Package domain holds the task store's types and the status transition
// rules shared by the repository, service and transports.
package domain

import (
	"time"

	"github.com/google/uuid"
)

// Kind distinguishes the two long-running operations the store tracks.
type Kind string

const (
	KindIngest Kind = "INGEST"
	KindRecalc Kind = "RECALC"
)

// Status is a task's lifecycle state. Transitions are monotonic: terminal
// states absorb, and the only sanctioned loop is the batch resume
// (DUPLICATES_FOUND back to RUNNING).
type Status string

const (
	StatusPending         Status = "PENDING"
	StatusRunning         Status = "RUNNING"
	StatusDuplicatesFound Status = "DUPLICATES_FOUND"
	StatusSucceeded       Status = "SUCCEEDED"
	StatusFailed          Status = "FAILED"
	StatusLockDenied      Status = "LOCK_DENIED"
)

// Terminal reports whether the status absorbs all further transitions.
// LOCK_DENIED is terminal but is an outcome, not a failure.
func (s Status) Terminal() bool {
	return s == StatusSucceeded || s == StatusFailed || s == StatusLockDenied
}

// CanTransition reports whether a task of the given kind may move between
// the two statuses. Pauses and resumes exist only for ingestion batches;
// lock denial exists only for recalculations.
func CanTransition(kind Kind, from, to Status) bool {
	switch {
	case from == StatusPending && to == StatusRunning:
		return true
	case from == StatusPending && to == StatusFailed:
		return true
	case from == StatusPending && to == StatusLockDenied:
		return kind == KindRecalc
	case from == StatusRunning && to == StatusDuplicatesFound:
		return kind == KindIngest
	case from == StatusRunning && (to == StatusSucceeded || to == StatusFailed):
		return true
	case from == StatusDuplicatesFound && (to == StatusRunning || to == StatusFailed):
		return kind == KindIngest
	default:
		return false
	}
}

// Resolution is a reviewer's decision on one duplicate conflict.
type Resolution string

const (
	ResolutionSkip    Resolution = "SKIP"
	ResolutionReplace Resolution = "REPLACE"
)

// FileRef describes one uploaded file in a batch. The digest fields are
// filled in once the hashing phase has seen the file.
type FileRef struct {
	Key         string `json:"key"`
	Name        string `json:"name"`
	ContentType string `json:"contentType"`
	Digest      string `json:"digest,omitempty"`
	Perceptual  string `json:"perceptual,omitempty"`
}

// FileError records a non-fatal per-file failure. The batch keeps going;
// the error list travels with the task.
type FileError struct {
	FileName string    `json:"fileName"`
	Reason   string    `json:"reason"`
	At       time.Time `json:"at"`
}

// Conflict is a detected duplicate submission awaiting a decision.
// ExistingDocumentID is nil when the duplicate is an earlier file inside
// the same batch rather than an already-stored document.
type Conflict struct {
	ID                 uuid.UUID
	TaskID             uuid.UUID
	TenantID           uuid.UUID
	Position           int
	FileIndex          int
	SourceKey          string
	SourceName         string
	Digest             string
	ExistingDocumentID *uuid.UUID
	Resolution         *Resolution
	ResolvedAt         *time.Time
}

// Open reports whether the conflict still awaits a decision.
func (c Conflict) Open() bool {
	return c.Resolution == nil
}

// Task is one tracked long-running operation.
type Task struct {
	ID             uuid.UUID
	TenantID       uuid.UUID
	Kind           Kind
	Status         Status
	Step           string
	Reason         string
	TotalFiles     int
	ProcessedFiles int
	FailedFiles    int
	ResumeCursor   int
	Trusted        bool
	FileKeys       []FileRef
	FileErrors     []FileError
	ErrorMessage   string
	Result         map[string]any
	HeartbeatAt    time.Time
	CreatedAt      time.Time
	StartedAt      *time.Time
	CompletedAt    *time.Time

	// Conflicts is loaded alongside the task when callers ask for a full
	// snapshot; it stays nil on list queries.
	Conflicts []Conflict
}

// OpenConflicts returns the loaded conflicts still awaiting a decision,
// in discovery order.
func (t Task) OpenConflicts() []Conflict {
	open := make([]Conflict, 0, len(t.Conflicts))
	for _, c := range t.Conflicts {
		if c.Open() {
			open = append(open, c)
		}
	}
	return open
}
