package parser

import (
	"context"
	"errors"
	"fmt"
	"html"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/microcosm-cc/bluemonday"
	"github.com/mmcdole/gofeed"

	"NewsDigest/internal/catalog"
	"NewsDigest/internal/domain"
	"NewsDigest/internal/scanner"
	"NewsDigest/internal/scoring"
)

const (
	minPageTitleRunes = 5
	minPageBodyRunes  = 120
	pageBodyMargin    = 40
)

// FeedFactory builds strategies for RSS/Atom sources. Export feeds already
// carry full text and are never enriched.
type FeedFactory struct {
	kind   domain.SourceKind
	client *Client
	policy *bluemonday.Policy
	now    func() time.Time
}

var _ scanner.Factory = (*FeedFactory)(nil)

func NewFeedFactory(kind domain.SourceKind, client *Client) *FeedFactory {
	return &FeedFactory{kind: kind, client: client, policy: bluemonday.StrictPolicy(), now: time.Now}
}

func (f *FeedFactory) Kind() domain.SourceKind { return f.kind }

func (f *FeedFactory) Build(src catalog.Source) (scanner.Strategy, error) {
	if _, err := url.ParseRequestURI(src.URL); err != nil {
		return nil, fmt.Errorf("invalid feed url %q: %w", src.URL, err)
	}
	return &RSSStrategy{
		source: src,
		client: f.client,
		policy: f.policy,
		now:    f.now,
		enrich: src.Enrich && f.kind == domain.KindRSS,
	}, nil
}

// RSSStrategy lists feed entries and optionally enriches them from the article page.
type RSSStrategy struct {
	source catalog.Source
	client *Client
	policy *bluemonday.Policy
	now    func() time.Time
	enrich bool
}

// Discover parses the feed and returns up to limit entries in feed order.
func (s *RSSStrategy) Discover(ctx context.Context, limit int) ([]domain.Link, error) {
	fp := gofeed.NewParser()
	fp.Client = s.client.http
	fp.UserAgent = s.client.userAgent

	feed, err := fp.ParseURLWithContext(s.source.URL, ctx)
	if err != nil {
		var httpErr gofeed.HTTPError
		if errors.As(err, &httpErr) && httpErr.StatusCode < 500 && httpErr.StatusCode != 429 {
			return nil, fmt.Errorf("fetch feed %s: %w", s.source.Name, err)
		}
		return nil, fmt.Errorf("fetch feed %s: %w", s.source.Name, &domain.TransientFetchError{URL: s.source.URL, Err: err})
	}

	links := make([]domain.Link, 0, len(feed.Items))
	for _, item := range feed.Items {
		if item == nil || strings.TrimSpace(item.Link) == "" {
			continue
		}
		body := item.Content
		if strings.TrimSpace(body) == "" {
			body = item.Description
		}
		published := item.PublishedParsed
		if published == nil {
			published = item.UpdatedParsed
		}
		if published != nil {
			utc := published.UTC()
			published = &utc
		}
		links = append(links, domain.Link{
			URL:         strings.TrimSpace(item.Link),
			Title:       s.cleanText(item.Title),
			Body:        s.cleanText(body),
			PublishedAt: published,
		})
		if limit > 0 && len(links) >= limit {
			break
		}
	}
	return links, nil
}

// Fetch returns the feed entry, merged with its page when enrichment is on.
// A failed page fetch falls back to the listing when it already has a body.
func (s *RSSStrategy) Fetch(ctx context.Context, link domain.Link) (domain.Article, error) {
	article := domain.Article{
		SourceName:  s.source.Name,
		SourceKind:  s.kindOf(),
		URL:         link.URL,
		URLCanon:    scoring.CanonicalizeURL(link.URL),
		Title:       link.Title,
		Body:        link.Body,
		PublishedAt: link.PublishedAt,
	}
	if !s.enrich {
		article.FetchedAt = s.now().UTC()
		return article, nil
	}

	doc, err := s.client.Document(ctx, link.URL)
	if err != nil {
		if strings.TrimSpace(link.Body) != "" {
			article.FetchedAt = s.now().UTC()
			return article, nil
		}
		return domain.Article{}, err
	}
	mergePage(&article, Extract(doc, link.URL, s.source.BodySelector))
	article.FetchedAt = s.now().UTC()
	return article, nil
}

func (s *RSSStrategy) kindOf() domain.SourceKind {
	if s.source.Kind == "" {
		return domain.KindRSS
	}
	return s.source.Kind
}

func (s *RSSStrategy) cleanText(raw string) string {
	return collapse(html.UnescapeString(s.policy.Sanitize(raw)))
}

// mergePage keeps the listing title and date unless the page offers better ones,
// and takes the page body only when it is clearly longer than the listing.
func mergePage(article *domain.Article, page Page) {
	if utf8.RuneCountInString(page.Title) >= minPageTitleRunes {
		article.Title = page.Title
	}
	if page.PublishedAt != nil {
		article.PublishedAt = page.PublishedAt
	}
	need := utf8.RuneCountInString(article.Body) + pageBodyMargin
	if need < minPageBodyRunes {
		need = minPageBodyRunes
	}
	if utf8.RuneCountInString(page.Body) >= need {
		article.Body = page.Body
	}
}
