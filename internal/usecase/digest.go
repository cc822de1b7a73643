package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"NewsDigest/internal/domain"
	"NewsDigest/internal/metrics"
	"NewsDigest/internal/ports"
)

// DigestDeps wires the digest builder.
type DigestDeps struct {
	Store    ports.Store
	Scripts  ports.ScriptWriter
	Notifier ports.Notifier
	Defaults domain.DigestParams
	Logger   *slog.Logger
	Now      func() time.Time
}

// DigestBuilder selects, ranks and persists daily digests.
type DigestBuilder struct {
	store    ports.Store
	scripts  ports.ScriptWriter
	notifier ports.Notifier
	defaults domain.DigestParams
	logger   *slog.Logger
	now      func() time.Time
}

// NewDigestBuilder constructs the builder.
func NewDigestBuilder(deps DigestDeps) *DigestBuilder {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	return &DigestBuilder{
		store:    deps.Store,
		scripts:  deps.Scripts,
		notifier: deps.Notifier,
		defaults: deps.Defaults,
		logger:   logger.With("component", "digest"),
		now:      now,
	}
}

// Defaults returns the configured selection parameters.
func (b *DigestBuilder) Defaults() domain.DigestParams {
	params := b.defaults
	params.ExcludeTerms = append([]string(nil), b.defaults.ExcludeTerms...)
	return params
}

// DayStart truncates t to its UTC calendar day.
func DayStart(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// ParseDay parses a YYYY-MM-DD digest day.
func ParseDay(s string) (time.Time, error) {
	day, err := time.Parse(domain.DayLayout, strings.TrimSpace(s))
	if err != nil {
		return time.Time{}, fmt.Errorf("parse day %q: %w", s, err)
	}
	return day, nil
}

func (b *DigestBuilder) normalize(params domain.DigestParams) domain.DigestParams {
	if params.TopN <= 0 {
		params.TopN = b.defaults.TopN
	}
	if params.TopN <= 0 {
		params.TopN = 5
	}
	if params.PreferDays < 1 {
		params.PreferDays = 1
	}
	if params.MaxLookbackDays < params.PreferDays {
		params.MaxLookbackDays = params.PreferDays
	}
	return params
}

// Get returns the stored digest for day or domain.ErrNotFound.
func (b *DigestBuilder) Get(ctx context.Context, day time.Time) (domain.Digest, error) {
	day = DayStart(day)
	digest, ok, err := b.store.GetDigest(ctx, day)
	if err != nil {
		return domain.Digest{}, fmt.Errorf("get digest: %w", err)
	}
	if !ok {
		return domain.Digest{}, fmt.Errorf("digest %s: %w", day.Format(domain.DayLayout), domain.ErrNotFound)
	}
	return digest, nil
}

// List returns digest headers, newest day first.
func (b *DigestBuilder) List(ctx context.Context, limit, offset int) ([]domain.Digest, error) {
	digests, err := b.store.ListDigests(ctx, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list digests: %w", err)
	}
	return digests, nil
}

// Build returns the digest for day, building it when missing or when force is set.
func (b *DigestBuilder) Build(ctx context.Context, day time.Time, params domain.DigestParams, force bool) (domain.Digest, error) {
	day = DayStart(day)
	if !force {
		existing, ok, err := b.store.GetDigest(ctx, day)
		if err != nil {
			return domain.Digest{}, fmt.Errorf("get digest: %w", err)
		}
		if ok {
			return existing, nil
		}
	}

	params = b.normalize(params)
	prefer, fallback, err := b.buckets(ctx, day, params)
	if err != nil {
		return domain.Digest{}, err
	}

	selected := make([]domain.Candidate, 0, params.TopN)
	for _, bucket := range [][]domain.Candidate{prefer, fallback} {
		for _, c := range bucket {
			if len(selected) == params.TopN {
				break
			}
			selected = append(selected, c)
		}
	}

	now := b.now().UTC()
	digest := domain.Digest{
		Day:        day,
		Status:     domain.StatusForCount(len(selected), params.TopN),
		ItemsCount: len(selected),
		Params:     params,
		Diagnostics: domain.DigestDiagnostics{
			CandidatesTotal:    len(prefer) + len(fallback),
			PreferBucketSize:   len(prefer),
			FallbackBucketSize: len(fallback),
		},
		Items:     make([]domain.DigestItem, 0, len(selected)),
		CreatedAt: now,
		UpdatedAt: now,
	}
	for i, c := range selected {
		digest.Items = append(digest.Items, domain.DigestItem{
			Rank:          i + 1,
			ItemID:        c.Item.ID,
			SourceName:    c.Item.SourceName,
			Title:         c.Item.Title,
			URL:           c.Item.URL,
			PublishedAt:   c.Item.PublishedAt,
			BusinessScore: c.Item.BusinessScore,
			DFOScore:      c.Item.DFOScore,
			InterestScore: c.InterestScore,
		})
	}

	if err := b.store.SaveDigest(ctx, digest); err != nil {
		return domain.Digest{}, fmt.Errorf("save digest: %w", err)
	}
	metrics.DigestItems.Observe(float64(digest.ItemsCount))
	b.logger.Info("digest built",
		"day", day.Format(domain.DayLayout),
		"status", digest.Status,
		"items", digest.ItemsCount,
		"prefer", len(prefer),
		"fallback", len(fallback),
		"force", force,
	)
	return b.Get(ctx, day)
}

// buckets loads candidates of the lookback window and splits them by the prefer window.
func (b *DigestBuilder) buckets(ctx context.Context, day time.Time, params domain.DigestParams) ([]domain.Candidate, []domain.Candidate, error) {
	query := ports.CandidateQuery{
		MinBusiness:  params.MinBusiness,
		MinDFO:       params.MinDFO,
		From:         day.AddDate(0, 0, -(params.MaxLookbackDays - 1)),
		To:           day.AddDate(0, 0, 1).Add(-time.Millisecond),
		ExcludeTerms: params.ExcludeTerms,
	}
	if params.ExcludeUsed {
		query.ExcludeUsedExcept = &day
	}
	candidates, err := b.store.Candidates(ctx, query)
	if err != nil {
		return nil, nil, fmt.Errorf("load candidates: %w", err)
	}

	preferFrom := day.AddDate(0, 0, -(params.PreferDays - 1))
	var prefer, fallback []domain.Candidate
	for _, c := range candidates {
		if c.InterestScore < params.MinInterest {
			continue
		}
		if c.Item.EffectiveTime().Before(preferFrom) {
			fallback = append(fallback, c)
		} else {
			prefer = append(prefer, c)
		}
	}
	sortCandidates(prefer)
	sortCandidates(fallback)
	return prefer, fallback, nil
}

func sortCandidates(list []domain.Candidate) {
	sort.SliceStable(list, func(i, j int) bool {
		a, b := list[i], list[j]
		if a.InterestScore != b.InterestScore {
			return a.InterestScore > b.InterestScore
		}
		ta, tb := a.Item.EffectiveTime(), b.Item.EffectiveTime()
		if !ta.Equal(tb) {
			return ta.After(tb)
		}
		return a.Item.ID > b.Item.ID
	})
}

// AttachScript stores narration segments produced elsewhere.
func (b *DigestBuilder) AttachScript(ctx context.Context, day time.Time, segments []domain.ScriptSegment, model string) (domain.Digest, error) {
	day = DayStart(day)
	if len(segments) == 0 {
		return domain.Digest{}, fmt.Errorf("attach script: no segments: %w", domain.ErrConfiguration)
	}
	if err := b.store.AttachScript(ctx, day, segments, model, b.now().UTC()); err != nil {
		return domain.Digest{}, fmt.Errorf("attach script: %w", err)
	}
	return b.Get(ctx, day)
}

// GenerateScript asks the script writer for narration unless one exists and force is unset.
func (b *DigestBuilder) GenerateScript(ctx context.Context, day time.Time, force bool) (domain.Digest, error) {
	digest, err := b.Get(ctx, day)
	if err != nil {
		return domain.Digest{}, err
	}
	if len(digest.Script) > 0 && !force {
		return digest, nil
	}
	if b.scripts == nil {
		return domain.Digest{}, fmt.Errorf("generate script: no script writer: %w", domain.ErrConfiguration)
	}
	segments, model, err := b.scripts.WriteScript(ctx, digest)
	if err != nil {
		return domain.Digest{}, fmt.Errorf("write script: %w", err)
	}
	b.logger.Info("script generated", "day", digest.Day.Format(domain.DayLayout), "segments", len(segments), "model", model)
	return b.AttachScript(ctx, digest.Day, segments, model)
}

// Publish sends the digest for day to the notifier.
func (b *DigestBuilder) Publish(ctx context.Context, day time.Time) error {
	if b.notifier == nil {
		return fmt.Errorf("publish digest: no notifier: %w", domain.ErrConfiguration)
	}
	digest, err := b.Get(ctx, day)
	if err != nil {
		return err
	}
	message := FormatDigest(digest)
	if message == "" {
		b.logger.Info("digest is empty, nothing to publish", "day", digest.Day.Format(domain.DayLayout))
		return nil
	}
	if err := b.notifier.PublishDigest(ctx, message); err != nil {
		return fmt.Errorf("publish digest: %w", err)
	}
	return nil
}

// FormatDigest renders a digest as a plain-text message.
func FormatDigest(digest domain.Digest) string {
	if len(digest.Items) == 0 {
		return ""
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Digest %s\n\n", digest.Day.Format(domain.DayLayout))
	for _, item := range digest.Items {
		fmt.Fprintf(&sb, "%d. %s\nInterest: %d (biz %d, dfo %d) · %s\n%s\n\n",
			item.Rank,
			item.Title,
			item.InterestScore,
			item.BusinessScore,
			item.DFOScore,
			item.SourceName,
			item.URL)
	}
	return strings.TrimRight(sb.String(), "\n")
}
