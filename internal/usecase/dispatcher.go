package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"NewsDigest/internal/domain"
	"NewsDigest/internal/metrics"
	"NewsDigest/internal/ports"
)

// Dispatcher publishes one task per source of a job.
type Dispatcher struct {
	queue  ports.TaskQueue
	store  ports.JobStore
	logger *slog.Logger
}

// NewDispatcher constructs a dispatcher over the task queue.
func NewDispatcher(queue ports.TaskQueue, store ports.JobStore, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{queue: queue, store: store, logger: logger.With("component", "dispatcher")}
}

// Dispatch publishes the job's tasks as one batch. A failed publish marks the
// job error and returns domain.ErrQueueUnavailable; nothing is retried.
func (d *Dispatcher) Dispatch(ctx context.Context, job domain.Job) error {
	tasks := make([]domain.Task, 0, len(job.Sources))
	for _, source := range job.Sources {
		tasks = append(tasks, domain.Task{JobID: job.ID, SourceName: source, Params: job.Params})
	}

	if err := d.queue.Publish(ctx, tasks); err != nil {
		if !errors.Is(err, domain.ErrQueueUnavailable) {
			err = fmt.Errorf("%w: %w", domain.ErrQueueUnavailable, err)
		}
		d.logger.Error("publish tasks", "job_id", job.ID, "error", err)
		if _, terr := d.store.TransitionJob(context.WithoutCancel(ctx), job.ID, domain.JobError, err.Error()); terr != nil {
			d.logger.Error("mark job error", "job_id", job.ID, "error", terr)
		} else {
			metrics.RecordJob(string(domain.JobError))
		}
		return fmt.Errorf("dispatch job %s: %w", job.ID, err)
	}

	if _, err := d.store.TransitionJob(ctx, job.ID, domain.JobRunning, ""); err != nil {
		// Workers may have finished every source before we got here.
		if errors.Is(err, domain.ErrInvalidTransition) {
			if current, gerr := d.store.GetJob(ctx, job.ID); gerr == nil && current.Status.Terminal() {
				return nil
			}
		}
		return fmt.Errorf("start job %s: %w", job.ID, err)
	}
	d.logger.Info("job dispatched", "job_id", job.ID, "sources", len(tasks))
	return nil
}
