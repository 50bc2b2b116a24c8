package scheduler

import (
	"context"
	"time"

	"stockledger_backend/internal/tasks/domain"
	"stockledger_backend/platform/logger"
)

const (
	defaultReaperInterval = time.Minute
	defaultStaleTaskAge   = 10 * time.Minute
)

// StaleTaskStore settles tasks whose worker stopped heartbeating.
type StaleTaskStore interface {
	FailStale(ctx context.Context, olderThan time.Duration) ([]domain.Task, error)
}

// StaleTaskReaper periodically fails batches abandoned by a crashed or
// partitioned worker so clients are not left watching a dead task.
type StaleTaskReaper struct {
	tasks    StaleTaskStore
	log      *logger.Logger
	interval time.Duration
	age      time.Duration
}

func NewStaleTaskReaper(tasks StaleTaskStore, log *logger.Logger, interval, age time.Duration) *StaleTaskReaper {
	if interval <= 0 {
		interval = defaultReaperInterval
	}
	if age <= 0 {
		age = defaultStaleTaskAge
	}

	return &StaleTaskReaper{
		tasks:    tasks,
		log:      log,
		interval: interval,
		age:      age,
	}
}

func (r *StaleTaskReaper) Run(ctx context.Context) {
	if r == nil || r.tasks == nil {
		return
	}

	r.sweep(ctx)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.sweep(ctx)
		}
	}
}

func (r *StaleTaskReaper) sweep(ctx context.Context) {
	failed, err := r.tasks.FailStale(ctx, r.age)
	if err != nil {
		r.log.Warn("stale task sweep failed", "error", err)
		return
	}

	if len(failed) > 0 {
		ids := make([]string, 0, len(failed))
		for _, task := range failed {
			ids = append(ids, task.ID.String())
		}
		r.log.Info("stale task sweep failed abandoned tasks", "count", len(failed), "tasks", ids)
	}
}
