package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"NewsDigest/internal/catalog"
	"NewsDigest/internal/domain"
	"NewsDigest/internal/metrics"
	"NewsDigest/internal/ports"
	"NewsDigest/internal/scanner"
	"NewsDigest/internal/scoring"
)

// StrategyBuilder constructs the fetch strategy of a source.
type StrategyBuilder interface {
	Build(src catalog.Source) (scanner.Strategy, error)
}

// WorkerDeps wires the per-source worker pools.
type WorkerDeps struct {
	Catalog        *catalog.Catalog
	Strategies     StrategyBuilder
	Queue          ports.TaskQueue
	Store          ports.JobStore
	Writer         *Writer
	Tracker        *JobTracker
	Limits         catalog.Limits
	Retries        int
	RetryBackoff   time.Duration
	ReceiveTimeout time.Duration
	Logger         *slog.Logger
	Now            func() time.Time
}

// WorkerPool runs one bounded pool of queue consumers per source.
type WorkerPool struct {
	catalog        *catalog.Catalog
	strategies     StrategyBuilder
	queue          ports.TaskQueue
	store          ports.JobStore
	writer         *Writer
	tracker        *JobTracker
	limits         catalog.Limits
	retries        int
	backoff        time.Duration
	receiveTimeout time.Duration
	logger         *slog.Logger
	now            func() time.Time

	wg sync.WaitGroup
}

// NewWorkerPool constructs the pools; Start launches them.
func NewWorkerPool(deps WorkerDeps) *WorkerPool {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	receiveTimeout := deps.ReceiveTimeout
	if receiveTimeout <= 0 {
		receiveTimeout = time.Second
	}
	tracker := deps.Tracker
	if tracker == nil {
		tracker = NewJobTracker(0)
	}
	return &WorkerPool{
		catalog:        deps.Catalog,
		strategies:     deps.Strategies,
		queue:          deps.Queue,
		store:          deps.Store,
		writer:         deps.Writer,
		tracker:        tracker,
		limits:         deps.Limits,
		retries:        deps.Retries,
		backoff:        deps.RetryBackoff,
		receiveTimeout: receiveTimeout,
		logger:         logger.With("component", "worker"),
		now:            now,
	}
}

// sourceRunner is the state shared by all consumers of one source.
type sourceRunner struct {
	pool    *WorkerPool
	source  catalog.Source
	limits  catalog.Limits
	limiter *rate.Limiter
	logger  *slog.Logger
}

// Start launches every source pool. Consumers exit when ctx is cancelled.
func (p *WorkerPool) Start(ctx context.Context) {
	for _, src := range p.catalog.All() {
		runner := p.newRunner(src)
		for i := 0; i < runner.limits.Workers; i++ {
			p.wg.Add(1)
			go func() {
				defer p.wg.Done()
				runner.consume(ctx)
			}()
		}
		runner.logger.Info("source pool started", "workers", runner.limits.Workers, "article_concurrency", runner.limits.ArticleConcurrency)
	}
}

func (p *WorkerPool) newRunner(src catalog.Source) *sourceRunner {
	limits := src.LimitsFor(p.limits)
	limit := rate.Inf
	if limits.RatePerSecond > 0 {
		limit = rate.Limit(limits.RatePerSecond)
	}
	return &sourceRunner{
		pool:    p,
		source:  src,
		limits:  limits,
		limiter: rate.NewLimiter(limit, 1),
		logger:  p.logger.With("source", src.Name),
	}
}

// Wait blocks until every consumer returned.
func (p *WorkerPool) Wait() {
	p.wg.Wait()
}

func (r *sourceRunner) consume(ctx context.Context) {
	for ctx.Err() == nil {
		task, ok, err := r.pool.queue.Receive(ctx, r.source.Name, r.pool.receiveTimeout)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			r.logger.Warn("receive task", "error", err)
			if !sleepCtx(ctx, r.pool.receiveTimeout) {
				return
			}
			continue
		}
		if !ok {
			continue
		}
		r.process(ctx, task)
	}
}

// process runs one (job, source) task to a terminal source state.
func (r *sourceRunner) process(ctx context.Context, task domain.Task) {
	p := r.pool
	logger := r.logger.With("job_id", task.JobID)

	progress, err := p.store.GetSourceProgress(ctx, task.JobID, task.SourceName)
	if err != nil {
		logger.Error("read source progress", "error", err)
		return
	}
	if progress.State.Terminal() {
		logger.Info("source already finished, skipping task", "state", progress.State)
		return
	}

	jobCtx, release := p.tracker.Context(ctx, task.JobID)
	defer release()

	if err := p.store.UpdateSourceProgress(ctx, task.JobID, task.SourceName, domain.ProgressUpdate{State: domain.SourceRunning, At: p.now()}); err != nil {
		logger.Error("mark source running", "error", err)
	}

	state, lastError := domain.SourceDone, ""
	if err := r.ingest(jobCtx, task, logger); err != nil {
		state, lastError = domain.SourceError, err.Error()
		logger.Error("source failed", "error", err)
	}

	// The writer must hear about completion even if the job was cancelled.
	finishCtx := context.WithoutCancel(ctx)
	if err := p.writer.FinishSource(finishCtx, task.JobID, task.SourceName, state, lastError); err != nil {
		logger.Error("submit source finish", "error", err)
	}
}

// ingest discovers links and fans article fetches out. Only a discovery
// failure is returned; article failures are counted and reported.
func (r *sourceRunner) ingest(ctx context.Context, task domain.Task, logger *slog.Logger) error {
	p := r.pool
	strategy, err := buildStrategy(p.strategies, r.source)
	if err != nil {
		r.report(ctx, task.JobID, "discover", r.source.URL, err)
		return err
	}

	var links []domain.Link
	err = r.withRetry(ctx, "discover", func(actx context.Context) error {
		var derr error
		links, derr = discover(actx, strategy, task.Params.Limit)
		return derr
	})
	if err != nil {
		if ctx.Err() == nil {
			r.report(ctx, task.JobID, "discover", r.source.URL, err)
		}
		return fmt.Errorf("discover links: %w", err)
	}

	found := len(links)
	if err := p.store.UpdateSourceProgress(ctx, task.JobID, task.SourceName, domain.ProgressUpdate{LinksFound: &found, At: p.now()}); err != nil {
		logger.Error("record links found", "error", err)
	}
	logger.Info("links discovered", "links", found)

	seen := p.tracker.Seen(task.JobID)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.limits.ArticleConcurrency)
	for _, link := range links {
		link := link
		g.Go(func() error {
			r.article(gctx, task, strategy, link, seen, logger)
			return nil
		})
	}
	_ = g.Wait()
	return nil
}

func (r *sourceRunner) article(ctx context.Context, task domain.Task, strategy scanner.Strategy, link domain.Link, seen *scoring.SeenSet, logger *slog.Logger) {
	p := r.pool
	var article domain.Article
	err := r.withRetry(ctx, "article", func(actx context.Context) error {
		var ferr error
		article, ferr = fetch(actx, strategy, link)
		return ferr
	})
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		if uerr := p.store.UpdateSourceProgress(ctx, task.JobID, task.SourceName, domain.ProgressUpdate{Errors: 1, LastError: err.Error(), At: p.now()}); uerr != nil {
			logger.Error("record fetch error", "error", uerr)
		}
		r.report(ctx, task.JobID, "article", link.URL, err)
		return
	}
	if err := p.store.UpdateSourceProgress(ctx, task.JobID, task.SourceName, domain.ProgressUpdate{ArticlesFetched: 1, At: p.now()}); err != nil {
		logger.Error("record article fetched", "error", err)
	}

	article.SourceName = r.source.Name
	if article.SourceKind == "" {
		article.SourceKind = r.source.Kind
	}
	eval := scoring.Evaluate(article, seen)
	switch eval.Verdict {
	case scoring.Rejected:
		metrics.RecordArticle(r.source.Name, "rejected")
		logger.Debug("article rejected", "url", link.URL, "reason", eval.Reason)
		return
	case scoring.Duplicate:
		// The first copy may still be queued; the writer settles it.
		logger.Debug("fingerprint already seen in job", "url", link.URL)
	}
	if err := p.writer.SubmitItem(ctx, task.JobID, eval.Item); err != nil {
		logger.Error("submit item", "url", link.URL, "error", err)
	}
}

// withRetry applies the rate limit and per-attempt timeout, retrying transient failures.
func (r *sourceRunner) withRetry(ctx context.Context, stage string, fn func(context.Context) error) error {
	p := r.pool
	var err error
	for attempt := 0; attempt <= p.retries; attempt++ {
		if attempt > 0 && !sleepCtx(ctx, p.backoff*time.Duration(attempt)) {
			return ctx.Err()
		}
		if werr := r.limiter.Wait(ctx); werr != nil {
			return werr
		}
		started := time.Now()
		err = r.attempt(ctx, fn)
		metrics.RecordFetch(r.source.Name, stage, time.Since(started).Seconds(), err != nil)
		if err == nil || ctx.Err() != nil || !retryable(err) {
			return err
		}
	}
	return err
}

func (r *sourceRunner) attempt(ctx context.Context, fn func(context.Context) error) error {
	if r.limits.ArticleTimeout <= 0 {
		return fn(ctx)
	}
	actx, cancel := context.WithTimeout(ctx, r.limits.ArticleTimeout)
	defer cancel()
	return fn(actx)
}

func retryable(err error) bool {
	var transient *domain.TransientFetchError
	return errors.As(err, &transient) || errors.Is(err, context.DeadlineExceeded)
}

func (r *sourceRunner) report(ctx context.Context, jobID, stage, url string, cause error) {
	entry := domain.JobErrorEntry{Source: r.source.Name, Stage: stage, URL: url, Error: cause.Error(), At: r.pool.now()}
	if err := r.pool.writer.ReportError(context.WithoutCancel(ctx), jobID, entry); err != nil {
		r.logger.Error("report error", "job_id", jobID, "error", err)
	}
}

func buildStrategy(builder StrategyBuilder, src catalog.Source) (strategy scanner.Strategy, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("build strategy %s panicked: %v", src.Name, rec)
		}
	}()
	return builder.Build(src)
}

func discover(ctx context.Context, strategy scanner.Strategy, limit int) (links []domain.Link, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("discovery panicked: %v", rec)
		}
	}()
	return strategy.Discover(ctx, limit)
}

func fetch(ctx context.Context, strategy scanner.Strategy, link domain.Link) (article domain.Article, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("fetch %s panicked: %v", link.URL, rec)
		}
	}()
	return strategy.Fetch(ctx, link)
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
