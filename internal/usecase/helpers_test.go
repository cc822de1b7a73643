package usecase

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"NewsDigest/internal/catalog"
	"NewsDigest/internal/domain"
	"NewsDigest/internal/infrastructure/queue"
	"NewsDigest/internal/infrastructure/storage"
	"NewsDigest/internal/logging"
	"NewsDigest/internal/scanner"
)

// stubStrategy serves a fixed link list; Fetch looks articles up by URL.
type stubStrategy struct {
	mu          sync.Mutex
	links       []domain.Link
	articles    map[string]domain.Article
	discoverErr error
	panics      bool
	block       bool
	fetchErrs   map[string]error
	fetchCalls  map[string]int
}

func (s *stubStrategy) Discover(ctx context.Context, limit int) ([]domain.Link, error) {
	if s.panics {
		panic("selector exploded")
	}
	if s.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if s.discoverErr != nil {
		return nil, s.discoverErr
	}
	links := s.links
	if limit > 0 && len(links) > limit {
		links = links[:limit]
	}
	return links, nil
}

func (s *stubStrategy) Fetch(_ context.Context, link domain.Link) (domain.Article, error) {
	s.mu.Lock()
	if s.fetchCalls == nil {
		s.fetchCalls = map[string]int{}
	}
	s.fetchCalls[link.URL]++
	calls := s.fetchCalls[link.URL]
	err := s.fetchErrs[link.URL]
	s.mu.Unlock()

	if err != nil {
		// Transient failures clear on the second attempt.
		var transient *domain.TransientFetchError
		if !errors.As(err, &transient) || calls == 1 {
			return domain.Article{}, err
		}
	}
	article, ok := s.articles[link.URL]
	if !ok {
		return domain.Article{}, fmt.Errorf("no article for %s", link.URL)
	}
	return article, nil
}

func (s *stubStrategy) calls(url string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fetchCalls[url]
}

// stubBuilder maps source names to strategies.
type stubBuilder map[string]scanner.Strategy

func (b stubBuilder) Build(src catalog.Source) (scanner.Strategy, error) {
	s, ok := b[src.Name]
	if !ok {
		return nil, fmt.Errorf("no strategy for %s", src.Name)
	}
	return s, nil
}

var articleBody = strings.Repeat("Порт Владивосток получил инвестиции на строительство терминала. ", 3)

// withArticles fills a strategy with n distinct articles under base URL.
func withArticles(source, base string, n int) *stubStrategy {
	s := &stubStrategy{articles: map[string]domain.Article{}}
	for i := 0; i < n; i++ {
		url := fmt.Sprintf("%s/news/%d", base, i)
		s.links = append(s.links, domain.Link{URL: url})
		s.articles[url] = domain.Article{
			SourceName: source,
			SourceKind: domain.KindRSS,
			URL:        url,
			Title:      fmt.Sprintf("%s headline number %d", source, i),
			Body:       fmt.Sprintf("%s story %d. %s", source, i, articleBody),
			FetchedAt:  time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC),
		}
	}
	return s
}

type harness struct {
	store   *storage.MemoryStore
	queue   *queue.MemoryQueue
	tracker *JobTracker
	writer  *Writer
	pool    *WorkerPool
	jobs    *JobService
	catalog *catalog.Catalog
}

func newHarness(t *testing.T, strategies map[string]*stubStrategy, jobTimeout time.Duration) *harness {
	t.Helper()

	sources := make([]catalog.Source, 0, len(strategies))
	builder := stubBuilder{}
	for _, name := range sortedKeys(strategies) {
		sources = append(sources, catalog.Source{Name: name, Kind: domain.KindRSS, URL: "https://" + name + ".test/rss"})
		builder[name] = strategies[name]
	}
	cat, err := catalog.New(sources)
	require.NoError(t, err)

	logger := logging.Discard()
	h := &harness{
		store:   storage.NewMemoryStore(),
		queue:   queue.NewMemoryQueue(),
		tracker: NewJobTracker(jobTimeout),
		catalog: cat,
	}
	h.writer = NewWriter(WriterDeps{
		Store:         h.store,
		Logger:        logger,
		Buffer:        16,
		OnJobFinished: func(job domain.Job) { h.tracker.Finish(job.ID) },
	})
	h.tracker.OnExpire(func(jobID string) { _ = h.writer.ExpireJob(context.Background(), jobID) })
	h.pool = NewWorkerPool(WorkerDeps{
		Catalog:        cat,
		Strategies:     builder,
		Queue:          h.queue,
		Store:          h.store,
		Writer:         h.writer,
		Tracker:        h.tracker,
		Limits:         catalog.Limits{Workers: 1, ArticleConcurrency: 2, ArticleTimeout: time.Second},
		Retries:        1,
		RetryBackoff:   time.Millisecond,
		ReceiveTimeout: 20 * time.Millisecond,
		Logger:         logger,
	})
	h.jobs = NewJobService(JobServiceDeps{
		Store:      h.store,
		Catalog:    cat,
		Dispatcher: NewDispatcher(h.queue, h.store, logger),
		Tracker:    h.tracker,
		Logger:     logger,
	})

	ctx, cancel := context.WithCancel(context.Background())
	h.writer.Start(ctx)
	h.pool.Start(ctx)
	t.Cleanup(func() {
		cancel()
		h.pool.Wait()
		_ = h.writer.Close(context.Background())
	})
	return h
}

func (h *harness) run(t *testing.T, sources ...string) domain.JobDetail {
	t.Helper()

	job, err := h.jobs.RunIngest(context.Background(), sources, domain.JobParams{Limit: 10})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err = h.jobs.Wait(ctx, job.ID, 5*time.Millisecond)
	require.NoError(t, err)
	require.NoError(t, h.writer.Flush(ctx))

	detail, err := h.jobs.JobDetail(context.Background(), job.ID)
	require.NoError(t, err)
	return detail
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
