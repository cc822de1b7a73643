package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"NewsDigest/internal/catalog"
	"NewsDigest/internal/domain"
	"NewsDigest/internal/infrastructure/queue"
	"NewsDigest/internal/infrastructure/storage"
	"NewsDigest/internal/logging"
	"NewsDigest/internal/metrics"
	"NewsDigest/internal/ports"
	"NewsDigest/internal/usecase"
)

func fixedNow() time.Time { return time.Date(2024, 5, 1, 18, 0, 0, 0, time.UTC) }

type downQueue struct{}

func (downQueue) Publish(context.Context, []domain.Task) error {
	return errors.New("dial tcp 127.0.0.1:6379: connection refused")
}

func (downQueue) Receive(context.Context, string, time.Duration) (domain.Task, bool, error) {
	return domain.Task{}, false, nil
}

type fixture struct {
	store  *storage.MemoryStore
	queue  *queue.MemoryQueue
	ids    map[string]int64
	server *Server
}

func newFixture(t *testing.T, tasks ports.TaskQueue, health func(context.Context) error) *fixture {
	t.Helper()

	cat, err := catalog.New([]catalog.Source{
		{Name: "alpha", Kind: domain.KindRSS, URL: "https://alpha.test/rss"},
		{Name: "beta", Kind: domain.KindHTML, URL: "https://beta.test/"},
	})
	require.NoError(t, err)

	f := &fixture{store: storage.NewMemoryStore(), queue: queue.NewMemoryQueue(), ids: map[string]int64{}}
	if tasks == nil {
		tasks = f.queue
	}
	for _, fx := range []struct {
		key      string
		biz, dfo int
		at       time.Time
	}{
		{"fresh", 3, 3, time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)},
		{"weak", 1, 1, time.Date(2024, 5, 1, 13, 0, 0, 0, time.UTC)},
		{"old", 3, 3, time.Date(2024, 4, 28, 12, 0, 0, 0, time.UTC)},
	} {
		at := fx.at
		id, err := f.store.InsertItem(context.Background(), domain.Item{
			SourceName:    "TASS",
			URL:           "https://tass.test/" + fx.key,
			Title:         "Новость " + fx.key,
			Body:          "Текст новости " + fx.key,
			PublishedAt:   &at,
			FetchedAt:     at,
			BusinessScore: fx.biz,
			DFOScore:      fx.dfo,
			Fingerprint:   "fp-" + fx.key,
		})
		require.NoError(t, err)
		f.ids[fx.key] = id
	}

	logger := logging.Discard()
	jobs := usecase.NewJobService(usecase.JobServiceDeps{
		Store:        f.store,
		Catalog:      cat,
		Dispatcher:   usecase.NewDispatcher(tasks, f.store, logger),
		DefaultLimit: 10,
		Logger:       logger,
		NewID:        func() string { return "job-1" },
	})
	news := usecase.NewNewsService(f.store, []string{"казино"}, fixedNow)
	digests := usecase.NewDigestBuilder(usecase.DigestDeps{
		Store:    f.store,
		Defaults: domain.DigestParams{TopN: 5, MinBusiness: 2, MinDFO: 2, PreferDays: 2, MaxLookbackDays: 60},
		Logger:   logger,
		Now:      fixedNow,
	})

	f.server = New(":0", Deps{
		Jobs:     jobs,
		News:     news,
		Digests:  digests,
		Analysis: usecase.NewAnalysisService(news, f.queue, logger),
		Health:   health,
		Logger:   logger,
	})
	return f
}

func (f *fixture) do(t *testing.T, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func TestHealth(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil, nil)
	rec := f.do(t, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	down := newFixture(t, nil, func(context.Context) error { return errors.New("redis: connection refused") })
	rec = down.do(t, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "connection refused")
}

func TestMetricsEndpoint(t *testing.T) {
	t.Parallel()

	metrics.RecordJob(string(domain.JobDone))
	f := newFixture(t, nil, nil)
	rec := f.do(t, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "newsdigest_jobs_total")
}

func TestRunIngestAndPollJob(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil, nil)
	rec := f.do(t, http.MethodPost, "/ingest/run", "")
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	accepted := decode[map[string]any](t, rec)
	assert.Equal(t, "job-1", accepted["job_id"])
	assert.Equal(t, 1, f.queue.Depth("alpha"))
	assert.Equal(t, 1, f.queue.Depth("beta"))

	rec = f.do(t, http.MethodGet, "/jobs/job-1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	job := decode[jobResponse](t, rec)
	assert.Equal(t, domain.JobRunning, job.Status)
	assert.Equal(t, 2, job.TotalSources)
	assert.Equal(t, 10, job.Params.Limit)

	rec = f.do(t, http.MethodGet, "/jobs/job-1/detail", "")
	require.Equal(t, http.StatusOK, rec.Code)
	detail := decode[jobDetailResponse](t, rec)
	require.Len(t, detail.Sources, 2)
	assert.Equal(t, domain.SourcePending, detail.Sources["alpha"].State)
	assert.Empty(t, detail.Errors)

	rec = f.do(t, http.MethodGet, "/jobs?limit=5", "")
	require.Equal(t, http.StatusOK, rec.Code)
	list := decode[struct {
		Jobs  []jobResponse `json:"jobs"`
		Total int           `json:"total"`
	}](t, rec)
	assert.Equal(t, 1, list.Total)
	require.Len(t, list.Jobs, 1)

	rec = f.do(t, http.MethodGet, "/jobs/missing", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRunIngestValidation(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil, nil)
	rec := f.do(t, http.MethodPost, "/ingest/run", `{"sources":["gamma"]}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodPost, "/ingest/run", `{"limit":-1}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodPost, "/ingest/run", `{"sources":["beta"],"limit":3}`)
	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, 0, f.queue.Depth("alpha"))
	assert.Equal(t, 1, f.queue.Depth("beta"))
}

func TestRunIngestQueueDown(t *testing.T) {
	t.Parallel()

	f := newFixture(t, downQueue{}, nil)
	rec := f.do(t, http.MethodPost, "/ingest/run", "")
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	body := decode[map[string]any](t, rec)
	assert.Equal(t, "job-1", body["job_id"])
	assert.Equal(t, string(domain.JobError), body["status"])

	rec = f.do(t, http.MethodGet, "/jobs/job-1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	job := decode[jobResponse](t, rec)
	assert.Equal(t, domain.JobError, job.Status)
	assert.Contains(t, job.Message, "connection refused")
}

func TestNewsAndBrief(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil, nil)
	rec := f.do(t, http.MethodGet, "/news", "")
	require.Equal(t, http.StatusOK, rec.Code)
	news := decode[struct {
		Items []newsResponse `json:"items"`
		Count int            `json:"count"`
	}](t, rec)
	require.Equal(t, 1, news.Count)
	assert.Equal(t, f.ids["fresh"], news.Items[0].ID)

	rec = f.do(t, http.MethodGet, "/news?hours=168&min_business=0&min_dfo=0", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(3), decode[map[string]any](t, rec)["count"])

	rec = f.do(t, http.MethodGet, "/news?hours=0", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = f.do(t, http.MethodGet, "/news?limit=abc", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodGet, "/digest", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, decode[map[string]any](t, rec)["text"], "Новость fresh")
}

func TestEnqueueAnalysis(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil, nil)
	rec := f.do(t, http.MethodPost, "/analysis/enqueue?hours=168&min_business=0&min_dfo=0", "")
	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, float64(3), decode[map[string]any](t, rec)["enqueued"])
	assert.Len(t, f.queue.Analysis(), 3)
}

func TestDigestBuildAndRead(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil, nil)
	rec := f.do(t, http.MethodGet, "/digests/daily/2024-05-01", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = f.do(t, http.MethodPost, "/digests/daily/2024-05-01", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	built := decode[digestResponse](t, rec)
	assert.Equal(t, "2024-05-01", built.Day)
	assert.Equal(t, domain.DigestPartial, built.Status)
	require.Len(t, built.Items, 2)
	assert.Equal(t, f.ids["fresh"], built.Items[0].ItemID)
	assert.Equal(t, f.ids["old"], built.Items[1].ItemID)
	assert.Equal(t, domain.DigestDiagnostics{CandidatesTotal: 2, PreferBucketSize: 1, FallbackBucketSize: 1}, built.Diagnostics)

	rec = f.do(t, http.MethodPost, "/digests/daily/2024-05-01?top_n=1&force=true", "")
	require.Equal(t, http.StatusOK, rec.Code)
	forced := decode[digestResponse](t, rec)
	assert.Equal(t, domain.DigestReady, forced.Status)
	require.Len(t, forced.Items, 1)
	assert.Equal(t, 1, forced.Params.TopN)

	rec = f.do(t, http.MethodGet, "/digests/daily/2024-05-01", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, decode[digestResponse](t, rec).ItemsCount)

	rec = f.do(t, http.MethodGet, "/digests/daily", "")
	require.Equal(t, http.StatusOK, rec.Code)
	list := decode[struct {
		Digests []digestResponse `json:"digests"`
	}](t, rec)
	require.Len(t, list.Digests, 1)

	rec = f.do(t, http.MethodGet, "/digests/daily/May-1", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = f.do(t, http.MethodPost, "/digests/daily/2024-05-01?top_n=0", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestDigestScript(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil, nil)
	rec := f.do(t, http.MethodPost, "/digests/daily/2024-05-01/script", `{"segments":[{"kind":"intro","text":"Привет"}],"model":"manual"}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = f.do(t, http.MethodPost, "/digests/daily/2024-05-01", "")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(t, http.MethodPost, "/digests/daily/2024-05-01/script", `{"segments":[{"kind":"intro","text":"Привет"}],"model":"manual"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	digest := decode[digestResponse](t, rec)
	assert.Equal(t, "manual", digest.ScriptModel)
	require.Len(t, digest.Script, 1)
	assert.Equal(t, "Привет", digest.Script[0].Text)

	rec = f.do(t, http.MethodPost, "/digests/daily/2024-05-01/script", `{"segments":[]}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// No script writer is configured, so generation is a configuration error.
	rec = f.do(t, http.MethodPost, "/digests/daily/2024-05-01/script?force=true", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestDeleteItems(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil, nil)
	target := fmt.Sprintf("/items/%d", f.ids["weak"])
	rec := f.do(t, http.MethodDelete, target, "")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	rec = f.do(t, http.MethodDelete, target, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	rec = f.do(t, http.MethodDelete, "/items/zero", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodDelete, "/items/by-day?day=2024-04-28", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(1), decode[map[string]any](t, rec)["deleted"])

	rec = f.do(t, http.MethodDelete, "/items/purge?before=2024-06-01", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(1), decode[map[string]any](t, rec)["deleted"])

	rec = f.do(t, http.MethodDelete, "/items/purge", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
