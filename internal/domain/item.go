package domain

import "time"

// Item is a stored, scored article.
type Item struct {
	ID            int64
	SourceName    string
	URL           string
	URLCanon      string
	Title         string
	Body          string
	PublishedAt   *time.Time
	FetchedAt     time.Time
	BusinessScore int
	DFOScore      int
	HasCompany    bool
	Reasons       map[string]int
	Fingerprint   string
}

// EffectiveTime is the timestamp used for windows and recency ordering.
func (i Item) EffectiveTime() time.Time {
	if i.PublishedAt != nil && !i.PublishedAt.IsZero() {
		return *i.PublishedAt
	}
	return i.FetchedAt
}

// AnalysisResult is written by the external enrichment worker and only read here.
type AnalysisResult struct {
	ItemID        int64
	InterestScore int
	TitleShort    string
	Summary       string
	CreatedAt     time.Time
}

// NewsItem is an item joined with its latest analysis, if any.
type NewsItem struct {
	Item
	Analysis *AnalysisResult
}

// ItemFilter narrows item queries.
type ItemFilter struct {
	Since           *time.Time
	MinBusiness     int
	MinDFO          int
	RequireCompany  bool
	ExcludeTerms    []string
	WithoutAnalysis bool
	Limit           int
}
