package scheduler

import (
	"context"
	"fmt"

	"stockledger_backend/platform/config"
	"stockledger_backend/platform/logger"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
)

const defaultConcurrency = 4

// IngestPipeline runs the two phases of a batch. The ingest service
// implements it; the worker only routes queue messages to it.
type IngestPipeline interface {
	ProcessBatch(ctx context.Context, taskID uuid.UUID) error
	ProcessResume(ctx context.Context, taskID uuid.UUID) error
}

// Worker consumes ingest tasks from Redis and drives the pipeline.
type Worker struct {
	server *asynq.Server
	mux    *asynq.ServeMux
	ingest IngestPipeline
	logger *logger.Logger
}

func NewWorker(cfg config.WorkerConfig, ingest IngestPipeline, log *logger.Logger) (*Worker, error) {
	redisURL := cfg.GetRedisURL()
	if redisURL == "" {
		return nil, fmt.Errorf("redis url not configured")
	}

	opt, err := redisClientOpt(redisURL)
	if err != nil {
		return nil, err
	}

	concurrency := cfg.GetWorkerConcurrency()
	if concurrency < 1 {
		concurrency = defaultConcurrency
	}

	server := asynq.NewServer(opt, asynq.Config{
		Concurrency: concurrency,
		Queues:      map[string]int{queueDefault: 1},
	})

	w := &Worker{
		server: server,
		mux:    asynq.NewServeMux(),
		ingest: ingest,
		logger: log,
	}

	w.mux.HandleFunc(TypeIngestBatch, w.handleIngestBatch)
	w.mux.HandleFunc(TypeIngestResume, w.handleIngestResume)

	return w, nil
}

// Run blocks until ctx is cancelled, then shuts the server down.
func (w *Worker) Run(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		w.server.Shutdown()
	}()

	w.logger.Info("task worker started")
	if err := w.server.Run(w.mux); err != nil {
		w.logger.Error("task worker stopped", "error", err)
		return err
	}
	return nil
}

func (w *Worker) handleIngestBatch(ctx context.Context, t *asynq.Task) error {
	payload, err := ParseIngestBatchPayload(t)
	if err != nil {
		return err
	}

	taskID, err := uuid.Parse(payload.TaskID)
	if err != nil {
		return fmt.Errorf("invalid task id %q: %w", payload.TaskID, err)
	}

	return w.ingest.ProcessBatch(ctx, taskID)
}

func (w *Worker) handleIngestResume(ctx context.Context, t *asynq.Task) error {
	payload, err := ParseIngestResumePayload(t)
	if err != nil {
		return err
	}

	taskID, err := uuid.Parse(payload.TaskID)
	if err != nil {
		return fmt.Errorf("invalid task id %q: %w", payload.TaskID, err)
	}

	return w.ingest.ProcessResume(ctx, taskID)
}
