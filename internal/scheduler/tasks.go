package scheduler

import (
	"encoding/json"
	"time"

	"github.com/hibiken/asynq"
)

const TypeIngestBatch = "ingest:batch"

const TypeIngestResume = "ingest:resume"

const (
	taskMaxRetry = 3
	taskTimeout  = 10 * time.Minute
)

// IngestBatchPayload identifies a submitted batch waiting for its first run.
type IngestBatchPayload struct {
	TaskID   string `json:"taskId"`
	TenantID string `json:"tenantId"`
}

// IngestResumePayload identifies a fully decided batch waiting to continue.
type IngestResumePayload struct {
	TaskID   string `json:"taskId"`
	TenantID string `json:"tenantId"`
}

func NewIngestBatchTask(payload IngestBatchPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TypeIngestBatch, data, asynq.MaxRetry(taskMaxRetry), asynq.Timeout(taskTimeout)), nil
}

func ParseIngestBatchPayload(task *asynq.Task) (IngestBatchPayload, error) {
	var payload IngestBatchPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return IngestBatchPayload{}, err
	}
	return payload, nil
}

func NewIngestResumeTask(payload IngestResumePayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TypeIngestResume, data, asynq.MaxRetry(taskMaxRetry), asynq.Timeout(taskTimeout)), nil
}

func ParseIngestResumePayload(task *asynq.Task) (IngestResumePayload, error) {
	var payload IngestResumePayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return IngestResumePayload{}, err
	}
	return payload, nil
}
