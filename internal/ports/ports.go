package ports

import (
	"context"
	"time"

	"NewsDigest/internal/domain"
)

// JobStore persists jobs, per-source progress and the per-job error log.
type JobStore interface {
	CreateJob(ctx context.Context, job domain.Job, progress []domain.SourceProgress) error
	GetJob(ctx context.Context, id string) (domain.Job, error)
	ListJobs(ctx context.Context, limit, offset int) ([]domain.Job, int, error)
	TransitionJob(ctx context.Context, id string, to domain.JobStatus, message string) (domain.Job, error)
	ApplyJobDelta(ctx context.Context, id string, delta domain.JobDelta) (domain.Job, error)
	ListSourceProgress(ctx context.Context, jobID string) ([]domain.SourceProgress, error)
	GetSourceProgress(ctx context.Context, jobID, source string) (domain.SourceProgress, error)
	UpdateSourceProgress(ctx context.Context, jobID, source string, upd domain.ProgressUpdate) error
	// FinishSource sets a terminal state once and bumps done_sources in the same
	// step; counted is false when the source was already terminal.
	FinishSource(ctx context.Context, jobID, source string, state domain.SourceState, lastError string, at time.Time) (counted bool, err error)
	AppendJobError(ctx context.Context, jobID string, entry domain.JobErrorEntry) error
	ListJobErrors(ctx context.Context, jobID string, limit int) ([]domain.JobErrorEntry, error)
}

// ItemStore persists scored items. Only the writer actor calls the mutating methods.
type ItemStore interface {
	FindByURL(ctx context.Context, source, url string) (domain.Item, bool, error)
	FindByFingerprint(ctx context.Context, fingerprint string) (domain.Item, bool, error)
	// InsertItem returns domain.ErrDuplicate when (source, url) or fingerprint exists.
	InsertItem(ctx context.Context, item domain.Item) (int64, error)
	RefreshItem(ctx context.Context, id int64, publishedAt *time.Time, fetchedAt time.Time) error
	GetItem(ctx context.Context, id int64) (domain.Item, error)
	ListNews(ctx context.Context, filter domain.ItemFilter) ([]domain.NewsItem, error)
	DeleteItem(ctx context.Context, id int64) error
	DeleteItemsByDay(ctx context.Context, day time.Time) (int, error)
	PurgeItems(ctx context.Context, before time.Time) (int, error)
}

// DigestStore persists digests and serves the candidate read for the builder.
type DigestStore interface {
	GetDigest(ctx context.Context, day time.Time) (domain.Digest, bool, error)
	ListDigests(ctx context.Context, limit, offset int) ([]domain.Digest, error)
	// SaveDigest replaces the digest row and its items for the day atomically.
	SaveDigest(ctx context.Context, digest domain.Digest) error
	AttachScript(ctx context.Context, day time.Time, script []domain.ScriptSegment, model string, at time.Time) error
	// Candidates returns items passing score thresholds with effective time in
	// [from, to], minus items used by digests of other days when excludeUsedExcept is set.
	Candidates(ctx context.Context, q CandidateQuery) ([]domain.Candidate, error)
}

// CandidateQuery is the store-side part of digest selection.
type CandidateQuery struct {
	MinBusiness  int
	MinDFO       int
	From         time.Time
	To           time.Time
	ExcludeTerms []string
	// ExcludeUsedExcept drops items referenced by any digest other than this day.
	ExcludeUsedExcept *time.Time
}

// Store groups every persistence port; adapters implement all of them.
type Store interface {
	JobStore
	ItemStore
	DigestStore
	Close() error
}

// TaskQueue is the per-source broker. Publish is all-or-nothing.
type TaskQueue interface {
	Publish(ctx context.Context, tasks []domain.Task) error
	// Receive blocks up to timeout; ok is false when nothing arrived.
	Receive(ctx context.Context, source string, timeout time.Duration) (task domain.Task, ok bool, err error)
}

// AnalysisQueue hands item ids to the external enrichment worker.
type AnalysisQueue interface {
	EnqueueAnalysis(ctx context.Context, itemIDs []int64) error
}

// LinkDiscoverer lists candidate article links of one source.
type LinkDiscoverer interface {
	Discover(ctx context.Context, limit int) ([]domain.Link, error)
}

// ArticleFetcher downloads one article body.
type ArticleFetcher interface {
	Fetch(ctx context.Context, link domain.Link) (domain.Article, error)
}

// ScriptWriter produces narration segments for a built digest.
type ScriptWriter interface {
	WriteScript(ctx context.Context, digest domain.Digest) ([]domain.ScriptSegment, string, error)
}

// Notifier streams selected digests to Telegram or other channels.
type Notifier interface {
	PublishDigest(ctx context.Context, digest string) error
}

// Scheduler controls when pipelines execute.
type Scheduler interface {
	Start(ctx context.Context, job func(time.Time)) error
	Stop(ctx context.Context) error
}
