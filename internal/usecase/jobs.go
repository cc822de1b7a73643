package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"NewsDigest/internal/catalog"
	"NewsDigest/internal/domain"
	"NewsDigest/internal/ports"
)

const jobErrorLimit = 200

// JobServiceDeps wires the job registry.
type JobServiceDeps struct {
	Store        ports.JobStore
	Catalog      *catalog.Catalog
	Dispatcher   *Dispatcher
	Tracker      *JobTracker
	DefaultLimit int
	Logger       *slog.Logger
	Now          func() time.Time
	NewID        func() string
}

// JobService creates, dispatches and reports ingestion jobs.
type JobService struct {
	store        ports.JobStore
	catalog      *catalog.Catalog
	dispatcher   *Dispatcher
	tracker      *JobTracker
	defaultLimit int
	logger       *slog.Logger
	now          func() time.Time
	newID        func() string
}

// NewJobService constructs the registry.
func NewJobService(deps JobServiceDeps) *JobService {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	newID := deps.NewID
	if newID == nil {
		newID = func() string { return uuid.NewString() }
	}
	return &JobService{
		store:        deps.Store,
		catalog:      deps.Catalog,
		dispatcher:   deps.Dispatcher,
		tracker:      deps.Tracker,
		defaultLimit: deps.DefaultLimit,
		logger:       logger.With("component", "jobs"),
		now:          now,
		newID:        newID,
	}
}

// CreateJob writes a queued job with one pending progress row per source.
// An empty request selects every catalog source.
func (s *JobService) CreateJob(ctx context.Context, sources []string, params domain.JobParams) (domain.Job, error) {
	names, err := s.catalog.Resolve(sources)
	if err != nil {
		return domain.Job{}, fmt.Errorf("create job: %w", err)
	}
	if params.Limit <= 0 {
		params.Limit = s.defaultLimit
	}

	now := s.now().UTC()
	job := domain.Job{
		ID:           s.newID(),
		Status:       domain.JobQueued,
		Sources:      names,
		Params:       params,
		TotalSources: len(names),
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	progress := make([]domain.SourceProgress, 0, len(names))
	for _, name := range names {
		progress = append(progress, domain.SourceProgress{JobID: job.ID, SourceName: name, State: domain.SourcePending})
	}
	if err := s.store.CreateJob(ctx, job, progress); err != nil {
		return domain.Job{}, fmt.Errorf("create job: %w", err)
	}
	if s.tracker != nil {
		s.tracker.Track(job.ID)
	}
	s.logger.Info("job created", "job_id", job.ID, "sources", names, "limit", params.Limit)
	return job, nil
}

// RunIngest creates a job and dispatches it. On dispatch failure the returned
// job carries status error alongside the error.
func (s *JobService) RunIngest(ctx context.Context, sources []string, params domain.JobParams) (domain.Job, error) {
	job, err := s.CreateJob(ctx, sources, params)
	if err != nil {
		return domain.Job{}, err
	}
	if err := s.dispatcher.Dispatch(ctx, job); err != nil {
		if s.tracker != nil {
			s.tracker.Finish(job.ID)
		}
		if current, gerr := s.store.GetJob(context.WithoutCancel(ctx), job.ID); gerr == nil {
			job = current
		}
		return job, err
	}
	if current, err := s.store.GetJob(ctx, job.ID); err == nil {
		job = current
	}
	return job, nil
}

// GetJob returns a job by id.
func (s *JobService) GetJob(ctx context.Context, id string) (domain.Job, error) {
	job, err := s.store.GetJob(ctx, id)
	if err != nil {
		return domain.Job{}, fmt.Errorf("get job: %w", err)
	}
	return job, nil
}

// ListJobs returns a page of jobs, newest first, and the total count.
func (s *JobService) ListJobs(ctx context.Context, limit, offset int) ([]domain.Job, int, error) {
	jobs, total, err := s.store.ListJobs(ctx, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list jobs: %w", err)
	}
	return jobs, total, nil
}

// JobDetail reads the job, its per-source progress and the latest errors.
func (s *JobService) JobDetail(ctx context.Context, id string) (domain.JobDetail, error) {
	job, err := s.GetJob(ctx, id)
	if err != nil {
		return domain.JobDetail{}, err
	}
	rows, err := s.store.ListSourceProgress(ctx, id)
	if err != nil {
		return domain.JobDetail{}, fmt.Errorf("list progress: %w", err)
	}
	errs, err := s.store.ListJobErrors(ctx, id, jobErrorLimit)
	if err != nil {
		return domain.JobDetail{}, fmt.Errorf("list job errors: %w", err)
	}
	detail := domain.JobDetail{Job: job, Sources: make(map[string]domain.SourceProgress, len(rows)), Errors: errs}
	for _, row := range rows {
		detail.Sources[row.SourceName] = row
	}
	return detail, nil
}

// Wait polls until the job reaches a terminal status.
func (s *JobService) Wait(ctx context.Context, id string, every time.Duration) (domain.Job, error) {
	if every <= 0 {
		every = 500 * time.Millisecond
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		job, err := s.GetJob(ctx, id)
		if err != nil {
			return domain.Job{}, err
		}
		if job.Status.Terminal() {
			return job, nil
		}
		select {
		case <-ctx.Done():
			return job, ctx.Err()
		case <-ticker.C:
		}
	}
}
