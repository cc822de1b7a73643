package domain

import "time"

// DayLayout is the canonical digest day format.
const DayLayout = "2006-01-02"

// DigestStatus summarises how full a digest is.
type DigestStatus string

const (
	DigestReady   DigestStatus = "ready"
	DigestPartial DigestStatus = "partial"
	DigestEmpty   DigestStatus = "empty"
)

// StatusForCount maps a filled count against the target size.
func StatusForCount(n, target int) DigestStatus {
	switch {
	case n == 0:
		return DigestEmpty
	case n >= target:
		return DigestReady
	default:
		return DigestPartial
	}
}

// DigestParams controls candidate selection. It is persisted with the digest.
type DigestParams struct {
	TopN            int      `json:"top_n" yaml:"topN"`
	MinBusiness     int      `json:"min_business" yaml:"minBusiness"`
	MinDFO          int      `json:"min_dfo" yaml:"minDfo"`
	MinInterest     int      `json:"min_interest" yaml:"minInterest"`
	PreferDays      int      `json:"prefer_days" yaml:"preferDays"`
	MaxLookbackDays int      `json:"max_lookback_days" yaml:"maxLookbackDays"`
	ExcludeTerms    []string `json:"exclude_terms,omitempty" yaml:"excludeTerms"`
	ExcludeUsed     bool     `json:"exclude_used" yaml:"excludeUsed"`
}

// DigestDiagnostics makes a selection explainable.
type DigestDiagnostics struct {
	CandidatesTotal    int `json:"candidates_total"`
	PreferBucketSize   int `json:"prefer_bucket"`
	FallbackBucketSize int `json:"fallback_bucket"`
}

// ScriptSegment is one narration block of a digest script.
type ScriptSegment struct {
	Kind string `json:"kind"`
	Rank int    `json:"rank,omitempty"`
	Text string `json:"text"`
}

// Digest is the persisted daily selection.
type Digest struct {
	Day         time.Time
	Status      DigestStatus
	ItemsCount  int
	Params      DigestParams
	Diagnostics DigestDiagnostics
	Script      []ScriptSegment
	ScriptModel string
	Items       []DigestItem
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// DigestItem is a ranked snapshot of an item at build time.
type DigestItem struct {
	Rank          int
	ItemID        int64
	SourceName    string
	Title         string
	URL           string
	PublishedAt   *time.Time
	BusinessScore int
	DFOScore      int
	InterestScore int
}

// Candidate is an item eligible for a digest, with its ranking key resolved.
type Candidate struct {
	Item          Item
	InterestScore int
}
