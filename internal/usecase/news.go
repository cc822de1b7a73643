package usecase

import (
	"context"
	"fmt"
	"strings"
	"time"

	"NewsDigest/internal/domain"
	"NewsDigest/internal/ports"
	"NewsDigest/internal/scoring"
)

// NewsQuery selects recent scored items.
type NewsQuery struct {
	WindowHours    int
	MinBusiness    int
	MinDFO         int
	RequireCompany bool
	// ExcludeFlagged drops items matching the configured exclusion terms.
	ExcludeFlagged bool
	Limit          int
}

// DefaultNewsQuery mirrors the API defaults.
func DefaultNewsQuery() NewsQuery {
	return NewsQuery{WindowHours: 24, MinBusiness: 2, MinDFO: 2, Limit: 50}
}

// NewsService serves item reads and explicit removals.
type NewsService struct {
	store   ports.ItemStore
	exclude []string
	now     func() time.Time
}

// NewNewsService constructs the service; exclude is the flagged-term list.
func NewNewsService(store ports.ItemStore, exclude []string, now func() time.Time) *NewsService {
	if now == nil {
		now = time.Now
	}
	return &NewsService{store: store, exclude: exclude, now: now}
}

func (s *NewsService) filter(q NewsQuery) domain.ItemFilter {
	if q.WindowHours <= 0 {
		q.WindowHours = 24
	}
	if q.Limit <= 0 {
		q.Limit = 50
	}
	since := s.now().UTC().Add(-time.Duration(q.WindowHours) * time.Hour)
	filter := domain.ItemFilter{
		Since:          &since,
		MinBusiness:    q.MinBusiness,
		MinDFO:         q.MinDFO,
		RequireCompany: q.RequireCompany,
		Limit:          q.Limit,
	}
	if q.ExcludeFlagged {
		filter.ExcludeTerms = s.exclude
	}
	return filter
}

// List returns matching items, newest first, joined with their latest analysis.
func (s *NewsService) List(ctx context.Context, q NewsQuery) ([]domain.NewsItem, error) {
	items, err := s.store.ListNews(ctx, s.filter(q))
	if err != nil {
		return nil, fmt.Errorf("list news: %w", err)
	}
	return items, nil
}

// Brief renders matching items as a short topical briefing.
func (s *NewsService) Brief(ctx context.Context, q NewsQuery) (string, int, error) {
	items, err := s.List(ctx, q)
	if err != nil {
		return "", 0, err
	}
	return ComposeBrief(items), len(items), nil
}

// DeleteItem removes one item.
func (s *NewsService) DeleteItem(ctx context.Context, id int64) error {
	if err := s.store.DeleteItem(ctx, id); err != nil {
		return fmt.Errorf("delete item %d: %w", id, err)
	}
	return nil
}

// DeleteByDay removes items whose effective time falls on the UTC day.
func (s *NewsService) DeleteByDay(ctx context.Context, day time.Time) (int, error) {
	n, err := s.store.DeleteItemsByDay(ctx, DayStart(day))
	if err != nil {
		return 0, fmt.Errorf("delete items by day: %w", err)
	}
	return n, nil
}

// Purge removes items older than before.
func (s *NewsService) Purge(ctx context.Context, before time.Time) (int, error) {
	n, err := s.store.PurgeItems(ctx, before.UTC())
	if err != nil {
		return 0, fmt.Errorf("purge items: %w", err)
	}
	return n, nil
}

type briefTopic struct {
	heading string
	terms   []string
}

// Topics are matched in order; the first hit wins.
var briefTopics = []briefTopic{
	{heading: "Инвестиции и проекты:", terms: []string{"инвест", "резидент", "тор", "спв", "проект", "строительств", "завод", "производств"}},
	{heading: "Инфраструктура и логистика:", terms: []string{"трасс", "дорог", "порт", "терминал", "логист", "жд", "аэропорт", "мост", "концесс"}},
	{heading: "Компании и финансы:", terms: []string{"банкрот", "акци", "доля", "сделк", "выручк", "прибыл", "кредит", "банк"}},
}

const (
	briefScan     = 30
	briefPerTopic = 6
	briefEmpty    = "За выбранный период релевантных деловых новостей Дальнего Востока не найдено."
	briefIntro    = "Деловой дайджест по Дальнему Востоку."
	briefOther    = "Другие новости:"
)

// ComposeBrief groups items by topic into a plain-text briefing.
func ComposeBrief(items []domain.NewsItem) string {
	if len(items) == 0 {
		return briefEmpty
	}
	if len(items) > briefScan {
		items = items[:briefScan]
	}

	groups := make([][]domain.NewsItem, len(briefTopics)+1)
	for _, it := range items {
		text := it.Title + " " + it.Body
		idx := len(briefTopics)
		for i, topic := range briefTopics {
			if scoring.ContainsAny(text, topic.terms) {
				idx = i
				break
			}
		}
		groups[idx] = append(groups[idx], it)
	}

	lines := []string{briefIntro, ""}
	for i, group := range groups {
		if len(group) == 0 {
			continue
		}
		heading := briefOther
		if i < len(briefTopics) {
			heading = briefTopics[i].heading
		}
		lines = append(lines, heading)
		for j, it := range group {
			if j == briefPerTopic {
				break
			}
			lines = append(lines, fmt.Sprintf("- %s (%s). %s", strings.TrimSpace(it.Title), it.SourceName, it.URL))
		}
		lines = append(lines, "")
	}
	return strings.TrimRight(strings.Join(lines, "\n"), "\n")
}
