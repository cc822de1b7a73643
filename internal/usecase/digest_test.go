package usecase

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"NewsDigest/internal/domain"
	"NewsDigest/internal/infrastructure/storage"
	"NewsDigest/internal/logging"
)

var fixtureDay = time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)

type fixtureItem struct {
	key      string
	biz, dfo int
	at       time.Time
}

// tenItems: three qualify inside the prefer window, two only inside the lookback.
var tenItems = []fixtureItem{
	{"p1", 3, 2, time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)},
	{"p2", 2, 2, time.Date(2024, 4, 30, 9, 0, 0, 0, time.UTC)},
	{"p3", 4, 3, time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)},
	{"f1", 2, 3, time.Date(2024, 4, 20, 12, 0, 0, 0, time.UTC)},
	{"f2", 3, 3, time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)},
	{"n1", 1, 3, time.Date(2024, 5, 1, 11, 0, 0, 0, time.UTC)},
	{"n2", 3, 1, time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)},
	{"n3", 3, 3, time.Date(2024, 2, 1, 12, 0, 0, 0, time.UTC)},
	{"n4", 3, 3, time.Date(2024, 5, 2, 6, 0, 0, 0, time.UTC)},
	{"n5", 0, 0, time.Date(2024, 4, 30, 15, 0, 0, 0, time.UTC)},
}

func fixtureParams() domain.DigestParams {
	return domain.DigestParams{TopN: 5, MinBusiness: 2, MinDFO: 2, PreferDays: 2, MaxLookbackDays: 60}
}

func seedItems(t *testing.T, store *storage.MemoryStore, items []fixtureItem) map[string]int64 {
	t.Helper()
	ids := make(map[string]int64, len(items))
	for _, fx := range items {
		at := fx.at
		id, err := store.InsertItem(context.Background(), domain.Item{
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
		ids[fx.key] = id
	}
	return ids
}

type stubScripts struct {
	calls int
	err   error
}

func (s *stubScripts) WriteScript(_ context.Context, d domain.Digest) ([]domain.ScriptSegment, string, error) {
	s.calls++
	if s.err != nil {
		return nil, "", s.err
	}
	return []domain.ScriptSegment{
		{Kind: "intro", Text: "Добрый день."},
		{Kind: "item", Rank: 1, Text: d.Items[0].Title},
	}, "stub-model", nil
}

type stubNotifier struct{ messages []string }

func (n *stubNotifier) PublishDigest(_ context.Context, digest string) error {
	n.messages = append(n.messages, digest)
	return nil
}

func newBuilder(store *storage.MemoryStore, scripts *stubScripts, notifier *stubNotifier) *DigestBuilder {
	deps := DigestDeps{
		Store:    store,
		Defaults: fixtureParams(),
		Logger:   logging.Discard(),
		Now:      func() time.Time { return time.Date(2024, 5, 1, 18, 0, 0, 0, time.UTC) },
	}
	if scripts != nil {
		deps.Scripts = scripts
	}
	if notifier != nil {
		deps.Notifier = notifier
	}
	return NewDigestBuilder(deps)
}

func TestBuildTenItemFixture(t *testing.T) {
	t.Parallel()

	store := storage.NewMemoryStore()
	ids := seedItems(t, store, tenItems)
	b := newBuilder(store, nil, nil)

	digest, err := b.Build(context.Background(), fixtureDay, fixtureParams(), false)
	require.NoError(t, err)

	assert.Equal(t, domain.DigestDiagnostics{CandidatesTotal: 5, PreferBucketSize: 3, FallbackBucketSize: 2}, digest.Diagnostics)
	assert.Equal(t, 5, digest.ItemsCount)
	assert.Equal(t, domain.DigestReady, digest.Status)
	require.Len(t, digest.Items, 5)

	want := []string{"p3", "p1", "p2", "f2", "f1"}
	for i, key := range want {
		assert.Equal(t, i+1, digest.Items[i].Rank)
		assert.Equal(t, ids[key], digest.Items[i].ItemID, "rank %d", i+1)
	}
	assert.Equal(t, 7, digest.Items[0].InterestScore)
}

func TestBuildIsIdempotentWithoutForce(t *testing.T) {
	t.Parallel()

	store := storage.NewMemoryStore()
	seedItems(t, store, tenItems)
	b := newBuilder(store, nil, nil)
	ctx := context.Background()

	first, err := b.Build(ctx, fixtureDay, fixtureParams(), false)
	require.NoError(t, err)

	extra := seedItems(t, store, []fixtureItem{{"late", 4, 4, time.Date(2024, 5, 1, 16, 0, 0, 0, time.UTC)}})

	second, err := b.Build(ctx, fixtureDay, fixtureParams(), false)
	require.NoError(t, err)
	assert.Equal(t, first, second)

	forced, err := b.Build(ctx, fixtureDay, fixtureParams(), true)
	require.NoError(t, err)
	assert.Equal(t, extra["late"], forced.Items[0].ItemID)
	assert.Equal(t, 6, forced.Diagnostics.CandidatesTotal)
	assert.Equal(t, first.CreatedAt, forced.CreatedAt)
}

func TestBucketsDisjointAndRanksContiguous(t *testing.T) {
	t.Parallel()

	store := storage.NewMemoryStore()
	seedItems(t, store, tenItems)
	b := newBuilder(store, nil, nil)

	prefer, fallback, err := b.buckets(context.Background(), fixtureDay, b.normalize(fixtureParams()))
	require.NoError(t, err)
	seen := map[int64]bool{}
	for _, c := range prefer {
		seen[c.Item.ID] = true
	}
	for _, c := range fallback {
		assert.False(t, seen[c.Item.ID], "item %d in both buckets", c.Item.ID)
	}

	params := fixtureParams()
	params.TopN = 3
	digest, err := b.Build(context.Background(), fixtureDay, params, true)
	require.NoError(t, err)
	for i, it := range digest.Items {
		assert.Equal(t, i+1, it.Rank)
	}
	assert.Equal(t, 3, digest.ItemsCount)
	// The prefer bucket alone fills the digest.
	for _, it := range digest.Items {
		assert.Contains(t, []string{"Новость p1", "Новость p2", "Новость p3"}, it.Title)
	}
}

func TestBuildDoesNotPad(t *testing.T) {
	t.Parallel()

	store := storage.NewMemoryStore()
	seedItems(t, store, tenItems)
	b := newBuilder(store, nil, nil)

	params := fixtureParams()
	params.TopN = 10
	digest, err := b.Build(context.Background(), fixtureDay, params, false)
	require.NoError(t, err)
	assert.Equal(t, 5, digest.ItemsCount)
	assert.Len(t, digest.Items, 5)
	assert.Equal(t, domain.DigestPartial, digest.Status)

	unique := map[int64]struct{}{}
	for _, it := range digest.Items {
		unique[it.ItemID] = struct{}{}
	}
	assert.Len(t, unique, 5)
}

func TestBuildEmptyDay(t *testing.T) {
	t.Parallel()

	b := newBuilder(storage.NewMemoryStore(), nil, nil)
	digest, err := b.Build(context.Background(), fixtureDay, fixtureParams(), false)
	require.NoError(t, err)
	assert.Equal(t, domain.DigestEmpty, digest.Status)
	assert.Equal(t, 0, digest.ItemsCount)
	assert.Empty(t, digest.Items)
}

func TestBuildUsesAnalysisInterest(t *testing.T) {
	t.Parallel()

	store := storage.NewMemoryStore()
	ids := seedItems(t, store, tenItems)
	require.NoError(t, store.SaveAnalysis(context.Background(), domain.AnalysisResult{ItemID: ids["p2"], InterestScore: 9, CreatedAt: fixtureDay}))
	b := newBuilder(store, nil, nil)

	params := fixtureParams()
	params.MinInterest = 6
	digest, err := b.Build(context.Background(), fixtureDay, params, false)
	require.NoError(t, err)

	require.Len(t, digest.Items, 3)
	assert.Equal(t, ids["p2"], digest.Items[0].ItemID)
	assert.Equal(t, 9, digest.Items[0].InterestScore)
	assert.Equal(t, ids["p3"], digest.Items[1].ItemID)
	assert.Equal(t, ids["f2"], digest.Items[2].ItemID)
	assert.Equal(t, domain.DigestDiagnostics{CandidatesTotal: 3, PreferBucketSize: 2, FallbackBucketSize: 1}, digest.Diagnostics)
}

func TestBuildExcludesItemsUsedByOtherDays(t *testing.T) {
	t.Parallel()

	store := storage.NewMemoryStore()
	ids := seedItems(t, store, tenItems)
	b := newBuilder(store, nil, nil)
	ctx := context.Background()

	params := fixtureParams()
	params.ExcludeUsed = true
	_, err := b.Build(ctx, fixtureDay, params, false)
	require.NoError(t, err)

	prev, err := b.Build(ctx, fixtureDay.AddDate(0, 0, -1), params, false)
	require.NoError(t, err)
	for _, it := range prev.Items {
		assert.NotEqual(t, ids["p2"], it.ItemID)
		assert.NotEqual(t, ids["f1"], it.ItemID)
	}

	// Rebuilding the same day may reuse its own items.
	again, err := b.Build(ctx, fixtureDay, params, true)
	require.NoError(t, err)
	assert.Equal(t, 5, again.ItemsCount)
}

func TestBuildExcludeTerms(t *testing.T) {
	t.Parallel()

	store := storage.NewMemoryStore()
	seedItems(t, store, tenItems)
	b := newBuilder(store, nil, nil)

	params := fixtureParams()
	params.ExcludeTerms = []string{"p3"}
	digest, err := b.Build(context.Background(), fixtureDay, params, false)
	require.NoError(t, err)
	assert.Equal(t, 4, digest.Diagnostics.CandidatesTotal)
	for _, it := range digest.Items {
		assert.NotEqual(t, "Новость p3", it.Title)
	}
}

func TestGenerateAndAttachScript(t *testing.T) {
	t.Parallel()

	store := storage.NewMemoryStore()
	seedItems(t, store, tenItems)
	scripts := &stubScripts{}
	b := newBuilder(store, scripts, nil)
	ctx := context.Background()

	_, err := b.GenerateScript(ctx, fixtureDay, false)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	_, err = b.Build(ctx, fixtureDay, fixtureParams(), false)
	require.NoError(t, err)

	digest, err := b.GenerateScript(ctx, fixtureDay, false)
	require.NoError(t, err)
	assert.Equal(t, "stub-model", digest.ScriptModel)
	require.Len(t, digest.Script, 2)
	assert.Equal(t, "Новость p3", digest.Script[1].Text)

	_, err = b.GenerateScript(ctx, fixtureDay, false)
	require.NoError(t, err)
	assert.Equal(t, 1, scripts.calls)

	manual := []domain.ScriptSegment{{Kind: "intro", Text: "Вручную."}}
	digest, err = b.AttachScript(ctx, fixtureDay, manual, "manual")
	require.NoError(t, err)
	assert.Equal(t, manual, digest.Script)

	_, err = b.AttachScript(ctx, fixtureDay, nil, "manual")
	assert.ErrorIs(t, err, domain.ErrConfiguration)

	scripts.err = errors.New("model overloaded")
	_, err = b.GenerateScript(ctx, fixtureDay, true)
	assert.ErrorContains(t, err, "model overloaded")
}

func TestGenerateScriptWithoutWriter(t *testing.T) {
	t.Parallel()

	store := storage.NewMemoryStore()
	seedItems(t, store, tenItems)
	b := newBuilder(store, nil, nil)
	_, err := b.Build(context.Background(), fixtureDay, fixtureParams(), false)
	require.NoError(t, err)

	_, err = b.GenerateScript(context.Background(), fixtureDay, false)
	assert.ErrorIs(t, err, domain.ErrConfiguration)
}

func TestPublishDigest(t *testing.T) {
	t.Parallel()

	store := storage.NewMemoryStore()
	seedItems(t, store, tenItems)
	notifier := &stubNotifier{}
	b := newBuilder(store, nil, notifier)
	ctx := context.Background()

	assert.ErrorIs(t, b.Publish(ctx, fixtureDay), domain.ErrNotFound)

	_, err := b.Build(ctx, fixtureDay, fixtureParams(), false)
	require.NoError(t, err)
	require.NoError(t, b.Publish(ctx, fixtureDay))
	require.Len(t, notifier.messages, 1)
	assert.Contains(t, notifier.messages[0], "Digest 2024-05-01")
	assert.Contains(t, notifier.messages[0], "1. Новость p3")
}

func TestListDigests(t *testing.T) {
	t.Parallel()

	store := storage.NewMemoryStore()
	seedItems(t, store, tenItems)
	b := newBuilder(store, nil, nil)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		_, err := b.Build(ctx, fixtureDay.AddDate(0, 0, -i), fixtureParams(), false)
		require.NoError(t, err)
	}

	list, err := b.List(ctx, 2, 0)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "2024-05-01", list[0].Day.Format(domain.DayLayout))
	assert.Equal(t, "2024-04-30", list[1].Day.Format(domain.DayLayout))
}

func TestParseDay(t *testing.T) {
	t.Parallel()

	day, err := ParseDay(" 2024-05-01 ")
	require.NoError(t, err)
	assert.Equal(t, fixtureDay, day)

	_, err = ParseDay("01.05.2024")
	assert.Error(t, err)
	assert.Equal(t, fixtureDay, DayStart(time.Date(2024, 5, 1, 23, 59, 0, 0, time.UTC)))
	assert.Equal(t, fixtureDay, DayStart(time.Date(2024, 5, 2, 5, 0, 0, 0, time.FixedZone("VLAT", 10*3600))))
}
