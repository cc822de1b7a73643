package parser

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"NewsDigest/internal/catalog"
	"NewsDigest/internal/domain"
	"NewsDigest/internal/scanner"
	"NewsDigest/internal/scoring"
)

const defaultLinkSelector = "a[href]"

// skipFragments drop index links that never lead to an article.
var skipFragments = []string{"/video", "/photo", "/tag/", "/tags/", "/auth", "/login", "/subscribe", "/special", "/project"}

// PageFactory builds strategies for sources scraped from an HTML index page.
type PageFactory struct {
	client *Client
	now    func() time.Time
}

var _ scanner.Factory = (*PageFactory)(nil)

func NewPageFactory(client *Client) *PageFactory {
	return &PageFactory{client: client, now: time.Now}
}

func (f *PageFactory) Kind() domain.SourceKind { return domain.KindHTML }

// Build validates the index URL and the optional path filters.
func (f *PageFactory) Build(src catalog.Source) (scanner.Strategy, error) {
	base, err := url.Parse(src.URL)
	if err != nil || base.Host == "" {
		return nil, fmt.Errorf("invalid index url %q", src.URL)
	}
	s := &HTMLStrategy{
		source:       src,
		base:         base,
		client:       f.client,
		now:          f.now,
		linkSelector: src.LinkSelector,
	}
	if s.linkSelector == "" {
		s.linkSelector = defaultLinkSelector
	}
	if raw := src.Options["pathPrefixes"]; raw != "" {
		for _, p := range strings.Split(raw, ",") {
			if p = strings.TrimSpace(p); p != "" {
				s.pathPrefixes = append(s.pathPrefixes, p)
			}
		}
	}
	if raw := src.Options["pathSegments"]; raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			return nil, fmt.Errorf("option pathSegments: %w", err)
		}
		s.pathSegments = n
	}
	return s, nil
}

// HTMLStrategy discovers article links on an index page and extracts each page.
type HTMLStrategy struct {
	source       catalog.Source
	base         *url.URL
	client       *Client
	now          func() time.Time
	linkSelector string
	pathPrefixes []string
	pathSegments int
}

// Discover returns up to limit same-host links in page order.
func (s *HTMLStrategy) Discover(ctx context.Context, limit int) ([]domain.Link, error) {
	doc, err := s.client.Document(ctx, s.base.String())
	if err != nil {
		return nil, fmt.Errorf("fetch index %s: %w", s.source.Name, err)
	}
	return s.collectLinks(doc, limit), nil
}

func (s *HTMLStrategy) collectLinks(doc *goquery.Document, limit int) []domain.Link {
	seen := map[string]struct{}{}
	links := make([]domain.Link, 0)
	doc.Find(s.linkSelector).EachWithBreak(func(_ int, a *goquery.Selection) bool {
		href, ok := a.Attr("href")
		if !ok {
			return true
		}
		link, ok := s.accept(href)
		if !ok {
			return true
		}
		if _, dup := seen[link]; dup {
			return true
		}
		seen[link] = struct{}{}
		links = append(links, domain.Link{URL: link, Title: collapse(a.Text())})
		return limit <= 0 || len(links) < limit
	})
	return links
}

func (s *HTMLStrategy) accept(href string) (string, bool) {
	href = strings.TrimSpace(href)
	if href == "" || strings.HasPrefix(href, "javascript:") || strings.HasPrefix(href, "mailto:") {
		return "", false
	}
	ref, err := url.Parse(href)
	if err != nil {
		return "", false
	}
	abs := s.base.ResolveReference(ref)
	if abs.Scheme != "http" && abs.Scheme != "https" {
		return "", false
	}
	if !sameHost(abs.Host, s.base.Host) {
		return "", false
	}
	canon := scoring.CanonicalizeURL(abs.String())
	for _, frag := range skipFragments {
		if strings.Contains(canon, frag) {
			return "", false
		}
	}
	if len(s.pathPrefixes) > 0 && !hasAnyPrefix(abs.Path, s.pathPrefixes) {
		return "", false
	}
	if s.pathSegments > 0 {
		segments := strings.FieldsFunc(abs.Path, func(r rune) bool { return r == '/' })
		if len(segments) != s.pathSegments || segments[len(segments)-1] == "rss" || segments[len(segments)-1] == "archive" {
			return "", false
		}
	}
	if strings.TrimRight(canon, "/") == strings.TrimRight(scoring.CanonicalizeURL(s.base.String()), "/") {
		return "", false
	}
	return canon, true
}

// Fetch downloads and extracts one article page.
func (s *HTMLStrategy) Fetch(ctx context.Context, link domain.Link) (domain.Article, error) {
	doc, err := s.client.Document(ctx, link.URL)
	if err != nil {
		return domain.Article{}, err
	}
	page := Extract(doc, link.URL, s.source.BodySelector)
	title := page.Title
	if title == "" {
		title = link.Title
	}
	return domain.Article{
		SourceName:  s.source.Name,
		SourceKind:  domain.KindHTML,
		URL:         link.URL,
		URLCanon:    scoring.CanonicalizeURL(link.URL),
		Title:       title,
		Body:        page.Body,
		PublishedAt: page.PublishedAt,
		FetchedAt:   s.now().UTC(),
	}, nil
}

func sameHost(a, b string) bool {
	return strings.TrimPrefix(strings.ToLower(a), "www.") == strings.TrimPrefix(strings.ToLower(b), "www.")
}

func hasAnyPrefix(s string, prefixes []string) bool {
	for _, p := range prefixes {
		if strings.HasPrefix(s, p) {
			return true
		}
	}
	return false
}
