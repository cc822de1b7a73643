package usecase

import (
	"context"
	"sync"
	"time"

	"NewsDigest/internal/scoring"
)

// JobTracker owns per-job runtime state in this process: the cancel signal for
// in-flight workers, the timeout timer and the fingerprint set of the run.
type JobTracker struct {
	mu      sync.Mutex
	jobs    map[string]*trackedJob
	timeout time.Duration
	expire  func(jobID string)
}

type trackedJob struct {
	ctx    context.Context
	cancel context.CancelFunc
	timer  *time.Timer
	seen   *scoring.SeenSet
}

// NewJobTracker returns a tracker; timeout <= 0 disables job expiry.
func NewJobTracker(timeout time.Duration) *JobTracker {
	return &JobTracker{jobs: map[string]*trackedJob{}, timeout: timeout}
}

// OnExpire sets the callback fired when a tracked job outlives its timeout.
func (t *JobTracker) OnExpire(fn func(jobID string)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.expire = fn
}

func (t *JobTracker) entry(jobID string) *trackedJob {
	job, ok := t.jobs[jobID]
	if !ok {
		ctx, cancel := context.WithCancel(context.Background())
		job = &trackedJob{ctx: ctx, cancel: cancel, seen: scoring.NewSeenSet()}
		t.jobs[jobID] = job
	}
	return job
}

// Track registers a job and arms its timeout.
func (t *JobTracker) Track(jobID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	job := t.entry(jobID)
	if t.timeout <= 0 || job.timer != nil {
		return
	}
	job.timer = time.AfterFunc(t.timeout, func() {
		t.mu.Lock()
		expire := t.expire
		t.mu.Unlock()
		if expire != nil {
			expire(jobID)
		}
	})
}

// Context derives a worker context that is also cancelled when the job
// finishes. Jobs not tracked here only inherit parent cancellation.
func (t *JobTracker) Context(parent context.Context, jobID string) (context.Context, context.CancelFunc) {
	t.mu.Lock()
	job, ok := t.jobs[jobID]
	t.mu.Unlock()

	ctx, cancel := context.WithCancel(parent)
	if !ok {
		return ctx, cancel
	}
	stop := context.AfterFunc(job.ctx, cancel)
	return ctx, func() {
		stop()
		cancel()
	}
}

// Seen returns the fingerprint set shared by all workers of a job, or a
// private set when the job is not tracked here.
func (t *JobTracker) Seen(jobID string) *scoring.SeenSet {
	t.mu.Lock()
	defer t.mu.Unlock()
	if job, ok := t.jobs[jobID]; ok {
		return job.seen
	}
	return scoring.NewSeenSet()
}

// Finish cancels in-flight work of the job and forgets it.
func (t *JobTracker) Finish(jobID string) {
	t.mu.Lock()
	job, ok := t.jobs[jobID]
	delete(t.jobs, jobID)
	t.mu.Unlock()
	if !ok {
		return
	}
	if job.timer != nil {
		job.timer.Stop()
	}
	job.cancel()
}

// Active returns the number of tracked jobs.
func (t *JobTracker) Active() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.jobs)
}
