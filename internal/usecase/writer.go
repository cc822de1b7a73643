package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"NewsDigest/internal/domain"
	"NewsDigest/internal/metrics"
	"NewsDigest/internal/ports"
)

// ErrWriterClosed is returned by submissions after Close.
var ErrWriterClosed = errors.New("writer closed")

type writeKind int

const (
	writeItem writeKind = iota
	writeError
	writeSourceFinished
	writeJobExpired
	writeFlush
)

type writeRequest struct {
	kind      writeKind
	jobID     string
	source    string
	item      domain.Item
	entry     domain.JobErrorEntry
	state     domain.SourceState
	lastError string
	done      chan struct{}
}

// WriterDeps wires the writer actor.
type WriterDeps struct {
	Store  ports.Store
	Logger *slog.Logger
	Buffer int
	Now    func() time.Time
	// OnJobFinished fires after a job reaches a terminal status through the writer.
	OnJobFinished func(job domain.Job)
}

// Writer is the only goroutine that inserts items and mutates job aggregates.
// Requests are applied in arrival order.
type Writer struct {
	store    ports.Store
	logger   *slog.Logger
	now      func() time.Time
	onFinish func(domain.Job)

	in      chan writeRequest
	quit    chan struct{}
	stopped chan struct{}

	mu        sync.RWMutex
	closed    bool
	startOnce sync.Once
	closeOnce sync.Once
}

// NewWriter builds an idle writer; call Start to run it.
func NewWriter(deps WriterDeps) *Writer {
	buffer := deps.Buffer
	if buffer <= 0 {
		buffer = 256
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	return &Writer{
		store:    deps.Store,
		logger:   logger.With("component", "writer"),
		now:      now,
		onFinish: deps.OnJobFinished,
		in:       make(chan writeRequest, buffer),
		quit:     make(chan struct{}),
		stopped:  make(chan struct{}),
	}
}

// Start launches the actor loop. Store calls survive ctx cancellation so the
// backlog can drain on shutdown.
func (w *Writer) Start(ctx context.Context) {
	w.startOnce.Do(func() {
		go w.run(context.WithoutCancel(ctx))
	})
}

// Close stops accepting requests, drains the backlog and waits for the loop.
func (w *Writer) Close(ctx context.Context) error {
	w.closeOnce.Do(func() {
		w.mu.Lock()
		w.closed = true
		w.mu.Unlock()
		close(w.quit)
	})
	select {
	case <-w.stopped:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// SubmitItem queues an evaluated item for persistence.
func (w *Writer) SubmitItem(ctx context.Context, jobID string, item domain.Item) error {
	return w.submit(ctx, writeRequest{kind: writeItem, jobID: jobID, source: item.SourceName, item: item})
}

// ReportError appends to the job error log and bumps errors_count.
func (w *Writer) ReportError(ctx context.Context, jobID string, entry domain.JobErrorEntry) error {
	return w.submit(ctx, writeRequest{kind: writeError, jobID: jobID, source: entry.Source, entry: entry})
}

// FinishSource marks a source terminal; the job completes with its last source.
func (w *Writer) FinishSource(ctx context.Context, jobID, source string, state domain.SourceState, lastError string) error {
	return w.submit(ctx, writeRequest{kind: writeSourceFinished, jobID: jobID, source: source, state: state, lastError: lastError})
}

// ExpireJob fails every unfinished source of the job and completes it.
func (w *Writer) ExpireJob(ctx context.Context, jobID string) error {
	return w.submit(ctx, writeRequest{kind: writeJobExpired, jobID: jobID})
}

// Flush blocks until every request submitted before it has been applied.
func (w *Writer) Flush(ctx context.Context) error {
	done := make(chan struct{})
	if err := w.submit(ctx, writeRequest{kind: writeFlush, done: done}); err != nil {
		return err
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (w *Writer) submit(ctx context.Context, req writeRequest) error {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.closed {
		return ErrWriterClosed
	}
	select {
	case w.in <- req:
		metrics.WriterQueueDepth.Set(float64(len(w.in)))
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (w *Writer) run(ctx context.Context) {
	defer close(w.stopped)
	for {
		select {
		case req := <-w.in:
			w.handle(ctx, req)
		case <-w.quit:
			for {
				select {
				case req := <-w.in:
					w.handle(ctx, req)
				default:
					metrics.WriterQueueDepth.Set(0)
					return
				}
			}
		}
	}
}

func (w *Writer) handle(ctx context.Context, req writeRequest) {
	metrics.WriterQueueDepth.Set(float64(len(w.in)))
	switch req.kind {
	case writeItem:
		w.writeItem(ctx, req.jobID, req.item)
	case writeError:
		w.writeError(ctx, req.jobID, req.entry)
	case writeSourceFinished:
		w.finishSource(ctx, req.jobID, req.source, req.state, req.lastError)
	case writeJobExpired:
		w.expireJob(ctx, req.jobID)
	case writeFlush:
		close(req.done)
	}
}

func (w *Writer) writeItem(ctx context.Context, jobID string, item domain.Item) {
	logger := w.logger.With("job_id", jobID, "source", item.SourceName, "url", item.URL)

	existing, found, err := w.store.FindByURL(ctx, item.SourceName, item.URL)
	if err != nil {
		w.persistFailed(ctx, jobID, item, err)
		return
	}
	if found {
		var published *time.Time
		if existing.PublishedAt == nil {
			published = item.PublishedAt
		}
		if err := w.store.RefreshItem(ctx, existing.ID, published, item.FetchedAt); err != nil {
			w.persistFailed(ctx, jobID, item, err)
			return
		}
		metrics.RecordArticle(item.SourceName, "refreshed")
		logger.Debug("item refreshed", "item_id", existing.ID)
		return
	}

	if _, found, err := w.store.FindByFingerprint(ctx, item.Fingerprint); err != nil {
		w.persistFailed(ctx, jobID, item, err)
		return
	} else if found {
		w.countDuplicate(ctx, jobID, item)
		return
	}

	id, err := w.store.InsertItem(ctx, item)
	if errors.Is(err, domain.ErrDuplicate) {
		w.countDuplicate(ctx, jobID, item)
		return
	}
	if err != nil {
		w.persistFailed(ctx, jobID, item, err)
		return
	}
	if _, err := w.store.ApplyJobDelta(ctx, jobID, domain.JobDelta{Ingested: 1}); err != nil {
		logger.Error("apply job delta", "error", err)
	}
	if err := w.store.UpdateSourceProgress(ctx, jobID, item.SourceName, domain.ProgressUpdate{Inserted: 1, At: w.now()}); err != nil {
		logger.Error("update source progress", "error", err)
	}
	metrics.RecordArticle(item.SourceName, "inserted")
	logger.Debug("item inserted", "item_id", id, "biz", item.BusinessScore, "dfo", item.DFOScore)
}

func (w *Writer) countDuplicate(ctx context.Context, jobID string, item domain.Item) {
	if err := w.store.UpdateSourceProgress(ctx, jobID, item.SourceName, domain.ProgressUpdate{Duplicates: 1, At: w.now()}); err != nil {
		w.logger.Error("update source progress", "job_id", jobID, "source", item.SourceName, "error", err)
	}
	metrics.RecordArticle(item.SourceName, "duplicate")
}

func (w *Writer) persistFailed(ctx context.Context, jobID string, item domain.Item, cause error) {
	err := &domain.PersistenceError{URL: item.URL, Err: cause}
	w.logger.Error("persist item", "job_id", jobID, "source", item.SourceName, "error", err)
	metrics.RecordArticle(item.SourceName, "failed")

	if err := w.store.UpdateSourceProgress(ctx, jobID, item.SourceName, domain.ProgressUpdate{Errors: 1, LastError: err.Error(), At: w.now()}); err != nil {
		w.logger.Error("update source progress", "job_id", jobID, "error", err)
	}
	w.writeError(ctx, jobID, domain.JobErrorEntry{
		Source: item.SourceName,
		Stage:  "persist",
		URL:    item.URL,
		Error:  cause.Error(),
		At:     w.now(),
	})
}

func (w *Writer) writeError(ctx context.Context, jobID string, entry domain.JobErrorEntry) {
	if entry.At.IsZero() {
		entry.At = w.now()
	}
	if err := w.store.AppendJobError(ctx, jobID, entry); err != nil {
		w.logger.Error("append job error", "job_id", jobID, "error", err)
	}
	if _, err := w.store.ApplyJobDelta(ctx, jobID, domain.JobDelta{Errors: 1}); err != nil {
		w.logger.Error("apply job delta", "job_id", jobID, "error", err)
	}
}

func (w *Writer) finishSource(ctx context.Context, jobID, source string, state domain.SourceState, lastError string) {
	counted, err := w.closeSource(ctx, jobID, source, state, lastError)
	if err != nil {
		w.logger.Error("finish source", "job_id", jobID, "source", source, "error", err)
		return
	}
	if counted {
		w.completeIfDone(ctx, jobID)
	}
}

// closeSource makes the source terminal and folds its discovery totals into the job.
func (w *Writer) closeSource(ctx context.Context, jobID, source string, state domain.SourceState, lastError string) (bool, error) {
	counted, err := w.store.FinishSource(ctx, jobID, source, state, lastError, w.now())
	if err != nil || !counted {
		return counted, err
	}
	progress, err := w.store.GetSourceProgress(ctx, jobID, source)
	if err != nil {
		return true, fmt.Errorf("read progress: %w", err)
	}
	delta := domain.JobDelta{LinksTotal: progress.LinksFound, ArticlesTotal: progress.ArticlesFetched}
	if delta != (domain.JobDelta{}) {
		if _, err := w.store.ApplyJobDelta(ctx, jobID, delta); err != nil {
			return true, fmt.Errorf("apply totals: %w", err)
		}
	}
	w.logger.Info("source finished", "job_id", jobID, "source", source, "state", state,
		"links", progress.LinksFound, "inserted", progress.Inserted, "duplicates", progress.Duplicates, "errors", progress.Errors)
	return true, nil
}

func (w *Writer) expireJob(ctx context.Context, jobID string) {
	rows, err := w.store.ListSourceProgress(ctx, jobID)
	if err != nil {
		w.logger.Error("list source progress", "job_id", jobID, "error", err)
		return
	}
	expired := 0
	for _, row := range rows {
		if row.State.Terminal() {
			continue
		}
		counted, err := w.closeSource(ctx, jobID, row.SourceName, domain.SourceError, "job timeout")
		if err != nil {
			w.logger.Error("expire source", "job_id", jobID, "source", row.SourceName, "error", err)
			continue
		}
		if counted {
			expired++
			w.writeError(ctx, jobID, domain.JobErrorEntry{Source: row.SourceName, Stage: "timeout", Error: "job timeout", At: w.now()})
		}
	}
	w.logger.Warn("job expired", "job_id", jobID, "sources", expired)
	w.completeIfDone(ctx, jobID)
}

func (w *Writer) completeIfDone(ctx context.Context, jobID string) {
	job, err := w.store.GetJob(ctx, jobID)
	if err != nil {
		w.logger.Error("get job", "job_id", jobID, "error", err)
		return
	}
	if job.Status.Terminal() || job.DoneSources < job.TotalSources {
		return
	}
	if job.Status == domain.JobQueued {
		// The dispatcher may have moved it concurrently.
		if _, err := w.store.TransitionJob(ctx, jobID, domain.JobRunning, ""); err != nil && !errors.Is(err, domain.ErrInvalidTransition) {
			w.logger.Error("start job", "job_id", jobID, "error", err)
			return
		}
	}
	job, err = w.store.TransitionJob(ctx, jobID, domain.JobDone, "")
	if err != nil {
		w.logger.Error("complete job", "job_id", jobID, "error", err)
		return
	}
	metrics.RecordJob(string(job.Status))
	w.logger.Info("job done", "job_id", jobID, "ingested", job.Ingested, "errors", job.ErrorsCount)
	if w.onFinish != nil {
		w.onFinish(job)
	}
}
