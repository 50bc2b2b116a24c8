// Package transport defines request and response DTOs for the task API.
package transport

import (
	"time"

	"stockledger_backend/internal/tasks/domain"
)

// TaskResponse is the polling snapshot of one task. The SSE stream sends
// the same shape, so clients render both with one code path.
type TaskResponse struct {
	ID             string              `json:"id"`
	Kind           string              `json:"kind"`
	Status         string              `json:"status"`
	Step           string              `json:"step,omitempty"`
	Reason         string              `json:"reason,omitempty"`
	TotalFiles     int                 `json:"totalFiles"`
	ProcessedFiles int                 `json:"processedFiles"`
	FailedFiles    int                 `json:"failedFiles"`
	FileErrors     []FileErrorResponse `json:"fileErrors,omitempty"`
	Conflicts      []ConflictResponse  `json:"conflicts,omitempty"`
	Error          string              `json:"error,omitempty"`
	Result         map[string]any      `json:"result,omitempty"`
	CreatedAt      string              `json:"createdAt"`
	StartedAt      *string             `json:"startedAt,omitempty"`
	CompletedAt    *string             `json:"completedAt,omitempty"`
}

// FileErrorResponse reports one file that could not be processed.
type FileErrorResponse struct {
	FileName string `json:"fileName"`
	Reason   string `json:"reason"`
	At       string `json:"at"`
}

// ConflictResponse is one duplicate finding awaiting a decision. Decided
// conflicts drop out of the snapshot; they stay in the database as audit
// rows. ExistingDocumentID is absent when the duplicate is another file
// inside the same batch.
type ConflictResponse struct {
	ID                 string  `json:"id"`
	Position           int     `json:"position"`
	FileIndex          int     `json:"fileIndex"`
	FileName           string  `json:"fileName"`
	Digest             string  `json:"digest"`
	ExistingDocumentID *string `json:"existingDocumentId,omitempty"`
}

// TaskListResponse wraps a page of task snapshots.
type TaskListResponse struct {
	Items []TaskResponse `json:"items"`
	Total int            `json:"total"`
}

// NewTaskResponse maps a task snapshot to its API shape.
func NewTaskResponse(t domain.Task) TaskResponse {
	resp := TaskResponse{
		ID:             t.ID.String(),
		Kind:           string(t.Kind),
		Status:         string(t.Status),
		Step:           t.Step,
		Reason:         t.Reason,
		TotalFiles:     t.TotalFiles,
		ProcessedFiles: t.ProcessedFiles,
		FailedFiles:    t.FailedFiles,
		Error:          t.ErrorMessage,
		Result:         t.Result,
		CreatedAt:      t.CreatedAt.Format(time.RFC3339),
		StartedAt:      formatTimePtr(t.StartedAt),
		CompletedAt:    formatTimePtr(t.CompletedAt),
	}

	for _, fe := range t.FileErrors {
		resp.FileErrors = append(resp.FileErrors, FileErrorResponse{
			FileName: fe.FileName,
			Reason:   fe.Reason,
			At:       fe.At.Format(time.RFC3339),
		})
	}
	for _, c := range t.OpenConflicts() {
		resp.Conflicts = append(resp.Conflicts, NewConflictResponse(c))
	}
	return resp
}

// NewConflictResponse maps an open conflict to its API shape.
func NewConflictResponse(c domain.Conflict) ConflictResponse {
	resp := ConflictResponse{
		ID:        c.ID.String(),
		Position:  c.Position,
		FileIndex: c.FileIndex,
		FileName:  c.SourceName,
		Digest:    c.Digest,
	}
	if c.ExistingDocumentID != nil {
		id := c.ExistingDocumentID.String()
		resp.ExistingDocumentID = &id
	}
	return resp
}

// NewTaskListResponse maps a page of tasks to its API shape.
func NewTaskListResponse(tasks []domain.Task) TaskListResponse {
	items := make([]TaskResponse, 0, len(tasks))
	for _, t := range tasks {
		items = append(items, NewTaskResponse(t))
	}
	return TaskListResponse{Items: items, Total: len(items)}
}

func formatTimePtr(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := t.Format(time.RFC3339)
	return &s
}
