// Package transport defines the ingestion module's request and
// response shapes.
package transport

import (
	"stockledger_backend/internal/tasks/domain"
)

// BatchAcceptedResponse acknowledges a queued ingestion batch.
type BatchAcceptedResponse struct {
	TaskID string `json:"taskId"`
}

// NewBatchAcceptedResponse builds the acceptance payload for a task.
func NewBatchAcceptedResponse(task domain.Task) BatchAcceptedResponse {
	return BatchAcceptedResponse{TaskID: task.ID.String()}
}

// DecisionRequest is one reviewer call on an open duplicate conflict.
type DecisionRequest struct {
	ConflictID string `json:"conflictId" validate:"required,uuid"`
	Action     string `json:"action" validate:"required,oneof=SKIP REPLACE"`
}

// ResolveRequest applies decisions in discovery order. An empty list is
// allowed: it re-kicks the resume of an already fully decided batch.
type ResolveRequest struct {
	Decisions []DecisionRequest `json:"decisions" validate:"dive"`
}
