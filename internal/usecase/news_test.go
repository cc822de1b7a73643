package usecase

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"NewsDigest/internal/domain"
	"NewsDigest/internal/infrastructure/queue"
	"NewsDigest/internal/infrastructure/storage"
	"NewsDigest/internal/logging"
)

func newsNow() time.Time { return time.Date(2024, 5, 1, 18, 0, 0, 0, time.UTC) }

func seedNews(t *testing.T) (*storage.MemoryStore, map[string]int64) {
	t.Helper()
	store := storage.NewMemoryStore()
	ids := seedItems(t, store, []fixtureItem{
		{"fresh", 3, 3, time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)},
		{"weak", 1, 1, time.Date(2024, 5, 1, 13, 0, 0, 0, time.UTC)},
		{"old", 3, 3, time.Date(2024, 4, 28, 12, 0, 0, 0, time.UTC)},
	})
	return store, ids
}

func TestNewsListFiltersWindowAndScores(t *testing.T) {
	t.Parallel()

	store, ids := seedNews(t)
	svc := NewNewsService(store, nil, newsNow)

	items, err := svc.List(context.Background(), DefaultNewsQuery())
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, ids["fresh"], items[0].ID)

	q := DefaultNewsQuery()
	q.WindowHours = 24 * 7
	q.MinBusiness, q.MinDFO = 0, 0
	items, err = svc.List(context.Background(), q)
	require.NoError(t, err)
	assert.Len(t, items, 3)
}

func TestNewsListExcludesFlagged(t *testing.T) {
	t.Parallel()

	store, _ := seedNews(t)
	svc := NewNewsService(store, []string{"fresh"}, newsNow)

	q := DefaultNewsQuery()
	q.ExcludeFlagged = true
	items, err := svc.List(context.Background(), q)
	require.NoError(t, err)
	assert.Empty(t, items)
}

func TestNewsDeletes(t *testing.T) {
	t.Parallel()

	store, ids := seedNews(t)
	svc := NewNewsService(store, nil, newsNow)
	ctx := context.Background()

	require.NoError(t, svc.DeleteItem(ctx, ids["weak"]))
	assert.ErrorIs(t, svc.DeleteItem(ctx, ids["weak"]), domain.ErrNotFound)

	n, err := svc.DeleteByDay(ctx, time.Date(2024, 4, 28, 20, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = svc.Purge(ctx, time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestComposeBriefGroupsTopics(t *testing.T) {
	t.Parallel()

	items := []domain.NewsItem{
		{Item: domain.Item{Title: "Новый терминал в порту Ванино", SourceName: "TASS", URL: "https://t/1"}},
		{Item: domain.Item{Title: "Резидент ТОР открыл завод", SourceName: "EastRussia", URL: "https://e/2"}},
		{Item: domain.Item{Title: "Выручка компании выросла", SourceName: "RBC", URL: "https://r/3"}},
		{Item: domain.Item{Title: "Погода в Хабаровске будет тёплой", SourceName: "DV", URL: "https://d/4"}},
	}
	brief := ComposeBrief(items)

	invest := strings.Index(brief, "Инвестиции и проекты:")
	infra := strings.Index(brief, "Инфраструктура и логистика:")
	corp := strings.Index(brief, "Компании и финансы:")
	other := strings.Index(brief, "Другие новости:")
	require.True(t, invest > 0 && infra > invest && corp > infra && other > corp, brief)
	assert.Contains(t, brief, "- Новый терминал в порту Ванино (TASS). https://t/1")
	assert.Equal(t, briefEmpty, ComposeBrief(nil))
}

func TestEnqueueCandidatesSkipsAnalysed(t *testing.T) {
	t.Parallel()

	store, ids := seedNews(t)
	require.NoError(t, store.SaveAnalysis(context.Background(), domain.AnalysisResult{ItemID: ids["old"], InterestScore: 3}))
	q := queue.NewMemoryQueue()
	svc := NewAnalysisService(NewNewsService(store, nil, newsNow), q, logging.Discard())

	query := DefaultNewsQuery()
	query.WindowHours = 24 * 7
	enqueued, err := svc.EnqueueCandidates(context.Background(), query)
	require.NoError(t, err)
	assert.Equal(t, []int64{ids["fresh"]}, enqueued)
	assert.Equal(t, []int64{ids["fresh"]}, q.Analysis())
}
