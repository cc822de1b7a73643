package parser

import (
	"strings"
	"time"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
)

// minBlockRunes is the shortest text block taken as the article body.
const minBlockRunes = 250

var (
	titleSelectors = []string{"meta[property='og:title']", "meta[name='title']", "h1", "title"}
	timeSelectors  = []string{"meta[property='article:published_time']", "time[datetime]", "meta[itemprop='datePublished']"}
	bodySelectors  = []string{
		"article",
		"main",
		"div[itemprop='articleBody']",
		"div.article__text",
		"div[itemprop='text']",
		"div.news__text",
		"div.news__body",
		"div.post__text",
		"div.entry-content",
	}
	noiseSelector = "script, style, noscript, header, footer, nav, aside"
	timeLayouts   = []string{time.RFC3339, "2006-01-02T15:04:05", "2006-01-02T15:04:05-0700", "2006-01-02 15:04:05", "2006-01-02"}
)

// tailMarkers cut site chrome that follows the article text, keyed by host fragment.
var tailMarkers = map[string][]string{
	"tass.ru/": {
		"© Информационное агентство ТАСС",
		"Свидетельство о регистрации СМИ",
		"На информационном ресурсе применяются",
		"Правила цитирования",
		"Правовая информация",
		"Присоединяйтесь к нам",
		"RSS-лента",
	},
	"dvnovosti.ru/": {
		"Читайте также",
		"Новости партнеров",
		"Подписывайтесь",
		"Поделиться",
		"Комментарии",
	},
}

// Page is what the extractor pulls out of an article document.
type Page struct {
	Title       string
	Body        string
	PublishedAt *time.Time
}

// Extract reads title, publication time and main text from a document.
// bodySelector, when set, is tried before the generic containers.
func Extract(doc *goquery.Document, pageURL, bodySelector string) Page {
	page := Page{
		Title:       extractTitle(doc),
		PublishedAt: extractPublished(doc),
	}
	doc.Find(noiseSelector).Remove()

	selectors := bodySelectors
	if bodySelector != "" {
		selectors = append([]string{bodySelector}, bodySelectors...)
	}
	var best string
	for _, sel := range selectors {
		doc.Find(sel).Each(func(_ int, s *goquery.Selection) {
			txt := nodeText(s)
			if utf8.RuneCountInString(txt) > minBlockRunes && len(txt) > len(best) {
				best = txt
			}
		})
	}
	if best == "" {
		best = nodeText(doc.Find("body"))
	}
	page.Body = trimTail(best, pageURL)
	return page
}

func extractTitle(doc *goquery.Document) string {
	for _, sel := range titleSelectors {
		node := doc.Find(sel).First()
		if node.Length() == 0 {
			continue
		}
		var title string
		if strings.HasPrefix(sel, "meta") {
			title, _ = node.Attr("content")
		} else {
			title = node.Text()
		}
		if title = collapse(title); title != "" {
			return title
		}
	}
	return ""
}

func extractPublished(doc *goquery.Document) *time.Time {
	for _, sel := range timeSelectors {
		node := doc.Find(sel).First()
		if node.Length() == 0 {
			continue
		}
		attr := "content"
		if strings.HasPrefix(sel, "time") {
			attr = "datetime"
		}
		raw, ok := node.Attr(attr)
		if !ok || strings.TrimSpace(raw) == "" {
			continue
		}
		return parseTime(raw)
	}
	return nil
}

func parseTime(raw string) *time.Time {
	raw = strings.TrimSpace(raw)
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			t = t.UTC()
			return &t
		}
	}
	return nil
}

func trimTail(text, pageURL string) string {
	for host, markers := range tailMarkers {
		if !strings.Contains(pageURL, host) {
			continue
		}
		for _, m := range markers {
			if idx := strings.Index(text, m); idx > 200 {
				return strings.TrimSpace(text[:idx])
			}
		}
	}
	return text
}

func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// nodeText joins descendant text nodes with spaces so adjacent blocks do not merge.
func nodeText(s *goquery.Selection) string {
	var b strings.Builder
	for _, n := range s.Nodes {
		walkText(n, &b)
	}
	return collapse(b.String())
}

func walkText(n *html.Node, b *strings.Builder) {
	if n.Type == html.TextNode {
		b.WriteString(n.Data)
		b.WriteByte(' ')
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		walkText(c, b)
	}
}
