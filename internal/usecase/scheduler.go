package usecase

import (
	"context"
	"log/slog"
	"time"

	"NewsDigest/internal/domain"
	"NewsDigest/internal/ports"
)

// IngestRunner starts an ingestion job.
type IngestRunner interface {
	RunIngest(ctx context.Context, sources []string, params domain.JobParams) (domain.Job, error)
}

// Scheduler wires the interval driver with the ingest use case.
type Scheduler struct {
	driver  ports.Scheduler
	runner  IngestRunner
	sources []string
	params  domain.JobParams
	logger  *slog.Logger
}

// NewScheduler returns a helper to start/stop recurring ingestion.
func NewScheduler(driver ports.Scheduler, runner IngestRunner, sources []string, params domain.JobParams, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		driver:  driver,
		runner:  runner,
		sources: sources,
		params:  params,
		logger:  logger.With("component", "scheduler"),
	}
}

// Start registers the ingest run with the provided scheduler.
func (s *Scheduler) Start(ctx context.Context) error {
	if s.driver == nil || s.runner == nil {
		return nil
	}

	job := func(trigger time.Time) {
		created, err := s.runner.RunIngest(ctx, s.sources, s.params)
		if err != nil {
			s.logger.Error("scheduled ingest", "trigger", trigger, "error", err)
			return
		}
		s.logger.Info("scheduled ingest started", "job_id", created.ID, "trigger", trigger)
	}

	return s.driver.Start(ctx, job)
}

// Stop gracefully tears down the underlying scheduler.
func (s *Scheduler) Stop(ctx context.Context) error {
	if s.driver == nil {
		return nil
	}

	return s.driver.Stop(ctx)
}
