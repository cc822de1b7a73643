// Package scoring normalizes, fingerprints and scores fetched articles.
package scoring

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"sync"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"

	"NewsDigest/internal/domain"
)

// MinTitleRunes is the shortest title an article may carry.
const MinTitleRunes = 5

const (
	ReasonDFOHits      = "dfo_hits"
	ReasonBusinessHits = "biz_hits"
)

// Normalize applies NFKC, case folding and whitespace collapsing.
func Normalize(s string) string {
	// Casers carry state and are not shared between goroutines.
	s = cases.Fold().String(norm.NFKC.String(s))
	return strings.Join(strings.Fields(s), " ")
}

// Fingerprint is the hex SHA-256 of the normalized title and body.
func Fingerprint(title, body string) string {
	sum := sha256.Sum256([]byte(Normalize(title) + "\n" + Normalize(body)))
	return hex.EncodeToString(sum[:])
}

// Scores is the relevance part of an item.
type Scores struct {
	Business   int
	DFO        int
	HasCompany bool
	Reasons    map[string]int
}

// Score counts term hits over normalized text.
func Score(text string) Scores {
	t := Normalize(text)
	dfoHits := countHits(t, dfoTerms)
	bizHits := countHits(t, businessTerms)
	return Scores{
		Business:   level(bizHits),
		DFO:        level(dfoHits),
		HasCompany: hasCompany(t),
		Reasons: map[string]int{
			ReasonDFOHits:      dfoHits,
			ReasonBusinessHits: bizHits,
		},
	}
}

// ContainsAny reports whether the normalized text contains one of terms.
func ContainsAny(text string, terms []string) bool {
	if len(terms) == 0 {
		return false
	}
	t := Normalize(text)
	for _, term := range terms {
		term = Normalize(term)
		if term != "" && strings.Contains(t, term) {
			return true
		}
	}
	return false
}

func countHits(text string, terms []string) int {
	hits := 0
	for _, term := range terms {
		if strings.Contains(text, term) {
			hits++
		}
	}
	return hits
}

func level(hits int) int {
	score := 0
	for _, threshold := range hitThresholds {
		if hits >= threshold {
			score++
		}
	}
	return score
}

func hasCompany(text string) bool {
	words := strings.FieldsFunc(text, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	for _, w := range words {
		if _, ok := companyWords[w]; ok {
			return true
		}
		for _, stem := range companyStems {
			if strings.HasPrefix(w, stem) {
				return true
			}
		}
	}
	return false
}

// Verdict is the outcome of evaluating one article.
type Verdict string

const (
	Accepted  Verdict = "accepted"
	Duplicate Verdict = "duplicate"
	Rejected  Verdict = "rejected"
)

// Evaluation carries the verdict and the scored item ready for the writer.
type Evaluation struct {
	Verdict Verdict
	Reason  string
	Item    domain.Item
}

// SeenSet is a concurrency-safe set of fingerprints.
type SeenSet struct {
	mu   sync.Mutex
	seen map[string]struct{}
}

func NewSeenSet() *SeenSet {
	return &SeenSet{seen: make(map[string]struct{})}
}

// Add records fp and reports whether it was new.
func (s *SeenSet) Add(fp string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.seen[fp]; ok {
		return false
	}
	s.seen[fp] = struct{}{}
	return true
}

// Len returns the number of recorded fingerprints.
func (s *SeenSet) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.seen)
}

// Evaluate validates, fingerprints and scores an article. seen may be nil;
// the writer performs the authoritative duplicate check against the store.
func Evaluate(article domain.Article, seen *SeenSet) Evaluation {
	title := strings.TrimSpace(article.Title)
	body := strings.TrimSpace(article.Body)
	if utf8.RuneCountInString(title) < MinTitleRunes {
		return Evaluation{Verdict: Rejected, Reason: "title too short"}
	}
	if utf8.RuneCountInString(body) < article.SourceKind.MinBodyLength() {
		return Evaluation{Verdict: Rejected, Reason: "body too short"}
	}

	scores := Score(title + "\n" + body)
	item := domain.Item{
		SourceName:    article.SourceName,
		URL:           article.URL,
		URLCanon:      article.URLCanon,
		Title:         title,
		Body:          body,
		PublishedAt:   article.PublishedAt,
		FetchedAt:     article.FetchedAt,
		BusinessScore: scores.Business,
		DFOScore:      scores.DFO,
		HasCompany:    scores.HasCompany,
		Reasons:       scores.Reasons,
		Fingerprint:   Fingerprint(title, body),
	}
	if item.URLCanon == "" {
		item.URLCanon = CanonicalizeURL(item.URL)
	}
	if seen != nil && !seen.Add(item.Fingerprint) {
		return Evaluation{Verdict: Duplicate, Reason: "fingerprint seen", Item: item}
	}
	return Evaluation{Verdict: Accepted, Item: item}
}
