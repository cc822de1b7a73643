package domain

import (
	"fmt"
	"time"
)

// JobStatus is the lifecycle state of an ingestion job.
type JobStatus string

const (
	JobQueued  JobStatus = "queued"
	JobRunning JobStatus = "running"
	JobDone    JobStatus = "done"
	JobError   JobStatus = "error"
)

// allowedTransitions lists the only forward moves a job can make.
var allowedTransitions = map[JobStatus][]JobStatus{
	JobQueued:  {JobRunning, JobError},
	JobRunning: {JobDone, JobError},
}

// Terminal reports whether no further transition is possible.
func (s JobStatus) Terminal() bool {
	return s == JobDone || s == JobError
}

// CanTransition reports whether from -> to is a legal forward move.
func CanTransition(from, to JobStatus) bool {
	for _, next := range allowedTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// JobParams are the run options shared by every task of a job.
type JobParams struct {
	Limit int `json:"limit"`
}

// Job is one ingestion run across a fixed set of sources.
type Job struct {
	ID            string
	Status        JobStatus
	Sources       []string
	Params        JobParams
	TotalSources  int
	DoneSources   int
	Ingested      int
	ErrorsCount   int
	LinksTotal    int
	ArticlesTotal int
	Message       string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Transition moves the job forward or returns ErrInvalidTransition.
func (j *Job) Transition(to JobStatus, now time.Time) error {
	if !CanTransition(j.Status, to) {
		return fmt.Errorf("job %s %s -> %s: %w", j.ID, j.Status, to, ErrInvalidTransition)
	}
	j.Status = to
	j.UpdatedAt = now
	return nil
}

// SourceState is the lifecycle state of one source inside a job.
type SourceState string

const (
	SourcePending SourceState = "pending"
	SourceRunning SourceState = "running"
	SourceDone    SourceState = "done"
	SourceError   SourceState = "error"
)

// Terminal reports whether the source finished (successfully or not).
func (s SourceState) Terminal() bool {
	return s == SourceDone || s == SourceError
}

// SourceProgress tracks one (job, source) pair. Counters other than Inserted
// and Duplicates belong to the worker running that source; the writer owns the rest.
type SourceProgress struct {
	JobID           string
	SourceName      string
	State           SourceState
	LinksFound      int
	ArticlesFetched int
	Inserted        int
	Duplicates      int
	Errors          int
	LastError       string
	StartedAt       *time.Time
	FinishedAt      *time.Time
}

// ProgressUpdate is a field-level change to a SourceProgress row.
// Zero values leave a field untouched; counters are deltas.
type ProgressUpdate struct {
	State           SourceState
	LinksFound      *int
	ArticlesFetched int
	Inserted        int
	Duplicates      int
	Errors          int
	LastError       string
	At              time.Time
}

// JobDelta is an increment applied to job aggregate counters.
type JobDelta struct {
	Ingested      int
	Errors        int
	DoneSources   int
	LinksTotal    int
	ArticlesTotal int
}

// Task is the queue message that asks a worker to ingest one source.
type Task struct {
	JobID      string    `json:"job_id"`
	SourceName string    `json:"source_name"`
	Params     JobParams `json:"params"`
}

// JobErrorEntry is one diagnostic line kept per job.
type JobErrorEntry struct {
	Source string    `json:"source"`
	Stage  string    `json:"stage"`
	URL    string    `json:"url"`
	Error  string    `json:"error"`
	At     time.Time `json:"at"`
}

// JobDetail is the polling view of a job.
type JobDetail struct {
	Job     Job
	Sources map[string]SourceProgress
	Errors  []JobErrorEntry
}
