package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"NewsDigest/internal/config"
	"NewsDigest/internal/domain"
	"NewsDigest/internal/httpapi"
	"NewsDigest/internal/infrastructure/llm"
	"NewsDigest/internal/infrastructure/parser"
	"NewsDigest/internal/infrastructure/queue"
	"NewsDigest/internal/infrastructure/scheduler"
	"NewsDigest/internal/infrastructure/storage"
	"NewsDigest/internal/infrastructure/telegram"
	"NewsDigest/internal/logging"
	"NewsDigest/internal/ports"
	"NewsDigest/internal/scanner"
	"NewsDigest/internal/usecase"
)

// Application wires configs to use cases and lifecycle orchestration.
type Application struct {
	cfg    config.Config
	logger *slog.Logger

	store    ports.Store
	tasks    ports.TaskQueue
	ping     func(ctx context.Context) error
	closers  []func() error
	tracker  *usecase.JobTracker
	writer   *usecase.Writer
	pool     *usecase.WorkerPool
	jobs     *usecase.JobService
	digests  *usecase.DigestBuilder
	news     *usecase.NewsService
	analysis *usecase.AnalysisService
	schedule *usecase.Scheduler
	server   *httpapi.Server

	mu         sync.Mutex
	started    bool
	stopWorker context.CancelFunc
}

// New builds the application: storage, broker, worker pools, services and the HTTP API.
func New(ctx context.Context, cfg config.Config, baseLogger *slog.Logger) (*Application, error) {
	if baseLogger == nil {
		baseLogger = logging.NewWithFormat(cfg.Logging.Level, cfg.Logging.Format)
	}
	a := &Application{cfg: cfg, logger: baseLogger.With("component", "app")}

	cat, err := cfg.Catalog()
	if err != nil {
		return nil, err
	}

	if err := a.openStore(ctx); err != nil {
		return nil, err
	}
	analysisQueue, err := a.openQueue()
	if err != nil {
		a.closeAll()
		return nil, err
	}

	client := parser.NewClient(nil, cfg.Ingest.UserAgent)
	registry := scanner.NewRegistry()
	registry.Register(parser.NewFeedFactory(domain.KindRSS, client))
	registry.Register(parser.NewFeedFactory(domain.KindExport, client))
	registry.Register(parser.NewPageFactory(client))

	a.tracker = usecase.NewJobTracker(cfg.Ingest.JobTimeout)
	a.writer = usecase.NewWriter(usecase.WriterDeps{
		Store:         a.store,
		Logger:        baseLogger,
		Buffer:        cfg.Ingest.WriterBuffer,
		OnJobFinished: func(job domain.Job) { a.tracker.Finish(job.ID) },
	})
	a.tracker.OnExpire(func(jobID string) {
		if err := a.writer.ExpireJob(context.Background(), jobID); err != nil {
			a.logger.Error("expire job", "job_id", jobID, "error", err)
		}
	})

	a.pool = usecase.NewWorkerPool(usecase.WorkerDeps{
		Catalog:        cat,
		Strategies:     registry,
		Queue:          a.tasks,
		Store:          a.store,
		Writer:         a.writer,
		Tracker:        a.tracker,
		Limits:         cfg.Limits(),
		Retries:        cfg.Ingest.Retries,
		RetryBackoff:   cfg.Ingest.RetryBackoff,
		ReceiveTimeout: cfg.Queue.ReceiveTimeout,
		Logger:         baseLogger,
	})

	a.jobs = usecase.NewJobService(usecase.JobServiceDeps{
		Store:        a.store,
		Catalog:      cat,
		Dispatcher:   usecase.NewDispatcher(a.tasks, a.store, baseLogger),
		Tracker:      a.tracker,
		DefaultLimit: cfg.Ingest.DefaultLimit,
		Logger:       baseLogger,
	})

	digestDeps := usecase.DigestDeps{
		Store:    a.store,
		Defaults: cfg.Digest.Params,
		Logger:   baseLogger,
	}
	if writer := a.scriptWriter(ctx); writer != nil {
		digestDeps.Scripts = writer
	}
	if notifier := telegram.NewNotifier(cfg.Notifications.Telegram); notifier.Configured() {
		digestDeps.Notifier = notifier
	}
	a.digests = usecase.NewDigestBuilder(digestDeps)

	a.news = usecase.NewNewsService(a.store, cfg.Digest.Params.ExcludeTerms, nil)
	a.analysis = usecase.NewAnalysisService(a.news, analysisQueue, baseLogger)

	if cfg.Scheduler.Enabled {
		driver := scheduler.NewIntervalScheduler(cfg.Scheduler.Interval, cfg.Scheduler.Location())
		a.schedule = usecase.NewScheduler(driver, a.jobs, cfg.Scheduler.Sources, domain.JobParams{Limit: cfg.Scheduler.Limit}, baseLogger)
	}

	a.server = httpapi.New(cfg.HTTP.Addr, httpapi.Deps{
		Jobs:     a.jobs,
		News:     a.news,
		Digests:  a.digests,
		Analysis: a.analysis,
		Health:   a.health,
		Logger:   baseLogger,
	})
	return a, nil
}

func (a *Application) openStore(ctx context.Context) error {
	if strings.EqualFold(a.cfg.Database.Driver, "memory") {
		a.store = storage.NewMemoryStore()
		a.logger.Warn("using in-memory store, data is lost on exit")
		return nil
	}
	store, err := storage.Open(ctx, a.cfg.Database.Driver, a.cfg.Database.DSN)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	a.store = store
	a.closers = append(a.closers, store.Close)
	return nil
}

func (a *Application) openQueue() (ports.AnalysisQueue, error) {
	if strings.EqualFold(a.cfg.Queue.Driver, "memory") {
		q := queue.NewMemoryQueue()
		a.tasks = q
		a.logger.Warn("using in-memory task queue, workers must run in this process")
		return q, nil
	}
	q, err := queue.NewRedisQueueWithURL(a.cfg.Queue.RedisURL, a.cfg.Queue.Prefix)
	if err != nil {
		return nil, err
	}
	a.tasks = q
	a.ping = q.Ping
	a.closers = append(a.closers, q.Close)
	return q, nil
}

// scriptWriter picks the configured narration provider; nil disables generation.
func (a *Application) scriptWriter(ctx context.Context) ports.ScriptWriter {
	switch strings.ToLower(a.cfg.Digest.ScriptProvider) {
	case "gemini":
		if a.cfg.Gemini.APIKey == "" {
			return nil
		}
		client, err := llm.NewGeminiClient(ctx, a.cfg.Gemini)
		if err != nil {
			a.logger.Error("gemini client disabled", "error", err)
			return nil
		}
		a.closers = append(a.closers, client.Close)
		return client
	case "chatgpt", "":
		if a.cfg.ChatGPT.APIKey == "" {
			return nil
		}
		return llm.NewChatGPTClient(a.cfg.ChatGPT)
	default:
		a.logger.Warn("unknown script provider", "provider", a.cfg.Digest.ScriptProvider)
		return nil
	}
}

func (a *Application) health(ctx context.Context) error {
	if a.ping == nil {
		return nil
	}
	return a.ping(ctx)
}

// Jobs exposes the job registry for command-line runs.
func (a *Application) Jobs() *usecase.JobService { return a.jobs }

// Digests exposes the digest builder for command-line runs.
func (a *Application) Digests() *usecase.DigestBuilder { return a.digests }

// Writer exposes the writer actor so callers can flush before reading results.
func (a *Application) Writer() *usecase.Writer { return a.writer }

// Start launches the writer and the worker pools.
func (a *Application) Start(ctx context.Context) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.started {
		return
	}
	a.started = true
	a.writer.Start(ctx)
	workerCtx, cancel := context.WithCancel(ctx)
	a.stopWorker = cancel
	a.pool.Start(workerCtx)
}

// Serve runs workers, the scheduler and the HTTP API until ctx is cancelled.
func (a *Application) Serve(ctx context.Context) error {
	a.Start(ctx)
	if a.schedule != nil {
		if err := a.schedule.Start(ctx); err != nil {
			return fmt.Errorf("start scheduler: %w", err)
		}
	}

	errCh := make(chan error, 1)
	go func() { errCh <- a.server.Start() }()

	select {
	case <-ctx.Done():
		return nil
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	}
}

// Shutdown stops intake first, then drains workers and the writer, then closes storage.
func (a *Application) Shutdown(ctx context.Context) error {
	var errs []error
	if a.schedule != nil {
		if err := a.schedule.Stop(ctx); err != nil {
			errs = append(errs, fmt.Errorf("stop scheduler: %w", err))
		}
	}
	if err := a.server.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("stop http: %w", err))
	}

	a.mu.Lock()
	started, cancel := a.started, a.stopWorker
	a.mu.Unlock()
	if started {
		cancel()
		a.pool.Wait()
		if err := a.writer.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("close writer: %w", err))
		}
	}
	if err := a.closeAll(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func (a *Application) closeAll() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

// RunOnce creates an ingest job, waits for it to finish and returns its detail.
func (a *Application) RunOnce(ctx context.Context, sources []string, params domain.JobParams) (domain.JobDetail, error) {
	a.Start(ctx)
	job, err := a.jobs.RunIngest(ctx, sources, params)
	if err != nil {
		return domain.JobDetail{}, err
	}
	if _, err := a.jobs.Wait(ctx, job.ID, 500*time.Millisecond); err != nil {
		return domain.JobDetail{}, err
	}
	if err := a.writer.Flush(ctx); err != nil {
		return domain.JobDetail{}, err
	}
	return a.jobs.JobDetail(ctx, job.ID)
}
