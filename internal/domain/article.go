package domain

import "time"

// SourceKind selects the fetch strategy family of a configured source.
type SourceKind string

const (
	KindRSS    SourceKind = "rss"
	KindHTML   SourceKind = "html"
	KindExport SourceKind = "export"
)

// MinBodyLength is the shortest body accepted for an article of this kind.
// Feed descriptions are short, so feed-based sources get a lower bar.
func (k SourceKind) MinBodyLength() int {
	if k == KindHTML {
		return 150
	}
	return 80
}

// Link is a candidate article discovered by a source strategy.
// Feed-based strategies carry the listing title/body so a failed page
// fetch can still fall back to them.
type Link struct {
	URL         string
	Title       string
	Body        string
	PublishedAt *time.Time
}

// Article is a fetched article before scoring.
type Article struct {
	SourceName  string
	SourceKind  SourceKind
	URL         string
	URLCanon    string
	Title       string
	Body        string
	PublishedAt *time.Time
	FetchedAt   time.Time
}
