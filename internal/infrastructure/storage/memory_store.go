package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"NewsDigest/internal/domain"
	"NewsDigest/internal/ports"
	"NewsDigest/internal/scoring"
)

// MemoryStore is an in-process ports.Store for tests and single-run CLI use.
type MemoryStore struct {
	mu        sync.RWMutex
	now       func() time.Time
	jobs      map[string]domain.Job
	progress  map[string]map[string]domain.SourceProgress
	jobErrors map[string][]domain.JobErrorEntry
	items     map[int64]domain.Item
	byURL     map[string]int64
	byPrint   map[string]int64
	nextID    int64
	analysis  map[int64][]domain.AnalysisResult
	digests   map[string]domain.Digest
}

var _ ports.Store = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		now:       time.Now,
		jobs:      map[string]domain.Job{},
		progress:  map[string]map[string]domain.SourceProgress{},
		jobErrors: map[string][]domain.JobErrorEntry{},
		items:     map[int64]domain.Item{},
		byURL:     map[string]int64{},
		byPrint:   map[string]int64{},
		analysis:  map[int64][]domain.AnalysisResult{},
		digests:   map[string]domain.Digest{},
	}
}

func (m *MemoryStore) Close() error { return nil }

func urlKey(source, url string) string { return source + "\x00" + url }

func (m *MemoryStore) CreateJob(_ context.Context, job domain.Job, progress []domain.SourceProgress) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.jobs[job.ID]; ok {
		return fmt.Errorf("job %s: %w", job.ID, domain.ErrDuplicate)
	}
	job.Sources = append([]string(nil), job.Sources...)
	m.jobs[job.ID] = job
	rows := make(map[string]domain.SourceProgress, len(progress))
	for _, p := range progress {
		rows[p.SourceName] = p
	}
	m.progress[job.ID] = rows
	return nil
}

func (m *MemoryStore) GetJob(_ context.Context, id string) (domain.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	job, ok := m.jobs[id]
	if !ok {
		return domain.Job{}, fmt.Errorf("job %s: %w", id, domain.ErrNotFound)
	}
	return job, nil
}

func (m *MemoryStore) ListJobs(_ context.Context, limit, offset int) ([]domain.Job, int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	jobs := make([]domain.Job, 0, len(m.jobs))
	for _, j := range m.jobs {
		jobs = append(jobs, j)
	}
	sort.Slice(jobs, func(i, k int) bool {
		if !jobs[i].CreatedAt.Equal(jobs[k].CreatedAt) {
			return jobs[i].CreatedAt.After(jobs[k].CreatedAt)
		}
		return jobs[i].ID > jobs[k].ID
	})
	return paginate(jobs, limit, offset), len(jobs), nil
}

func (m *MemoryStore) TransitionJob(_ context.Context, id string, to domain.JobStatus, message string) (domain.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[id]
	if !ok {
		return domain.Job{}, fmt.Errorf("job %s: %w", id, domain.ErrNotFound)
	}
	if err := job.Transition(to, m.now().UTC()); err != nil {
		return domain.Job{}, err
	}
	if message != "" {
		job.Message = message
	}
	m.jobs[id] = job
	return job, nil
}

func (m *MemoryStore) ApplyJobDelta(_ context.Context, id string, delta domain.JobDelta) (domain.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[id]
	if !ok {
		return domain.Job{}, fmt.Errorf("job %s: %w", id, domain.ErrNotFound)
	}
	job.Ingested += delta.Ingested
	job.ErrorsCount += delta.Errors
	job.DoneSources += delta.DoneSources
	job.LinksTotal += delta.LinksTotal
	job.ArticlesTotal += delta.ArticlesTotal
	job.UpdatedAt = m.now().UTC()
	m.jobs[id] = job
	return job, nil
}

func (m *MemoryStore) ListSourceProgress(_ context.Context, jobID string) ([]domain.SourceProgress, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rows := m.progress[jobID]
	out := make([]domain.SourceProgress, 0, len(rows))
	for _, p := range rows {
		out = append(out, p)
	}
	sort.Slice(out, func(i, k int) bool { return out[i].SourceName < out[k].SourceName })
	return out, nil
}

func (m *MemoryStore) GetSourceProgress(_ context.Context, jobID, source string) (domain.SourceProgress, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.progress[jobID][source]
	if !ok {
		return domain.SourceProgress{}, fmt.Errorf("progress %s/%s: %w", jobID, source, domain.ErrNotFound)
	}
	return p, nil
}

func (m *MemoryStore) UpdateSourceProgress(_ context.Context, jobID, source string, upd domain.ProgressUpdate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.progress[jobID][source]
	if !ok {
		return fmt.Errorf("progress %s/%s: %w", jobID, source, domain.ErrNotFound)
	}
	at := upd.At
	if at.IsZero() {
		at = m.now()
	}
	if upd.LinksFound != nil {
		p.LinksFound = *upd.LinksFound
	}
	p.ArticlesFetched += upd.ArticlesFetched
	p.Inserted += upd.Inserted
	p.Duplicates += upd.Duplicates
	p.Errors += upd.Errors
	if upd.LastError != "" {
		p.LastError = upd.LastError
	}
	if upd.State != "" && !p.State.Terminal() {
		p.State = upd.State
		if upd.State == domain.SourceRunning && p.StartedAt == nil {
			t := at.UTC()
			p.StartedAt = &t
		}
	}
	m.progress[jobID][source] = p
	return nil
}

func (m *MemoryStore) FinishSource(_ context.Context, jobID, source string, state domain.SourceState, lastError string, at time.Time) (bool, error) {
	if !state.Terminal() {
		return false, fmt.Errorf("finish source with state %s: %w", state, domain.ErrInvalidTransition)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.progress[jobID][source]
	if !ok {
		return false, fmt.Errorf("progress %s/%s: %w", jobID, source, domain.ErrNotFound)
	}
	if p.State.Terminal() {
		return false, nil
	}
	t := at.UTC()
	p.State = state
	p.FinishedAt = &t
	if p.StartedAt == nil {
		p.StartedAt = &t
	}
	if lastError != "" {
		p.LastError = lastError
	}
	m.progress[jobID][source] = p

	job := m.jobs[jobID]
	if job.DoneSources < job.TotalSources {
		job.DoneSources++
	}
	job.UpdatedAt = t
	m.jobs[jobID] = job
	return true, nil
}

func (m *MemoryStore) AppendJobError(_ context.Context, jobID string, entry domain.JobErrorEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if entry.At.IsZero() {
		entry.At = m.now().UTC()
	}
	log := append(m.jobErrors[jobID], entry)
	if len(log) > maxJobErrors {
		log = append([]domain.JobErrorEntry(nil), log[len(log)-maxJobErrors:]...)
	}
	m.jobErrors[jobID] = log
	return nil
}

func (m *MemoryStore) ListJobErrors(_ context.Context, jobID string, limit int) ([]domain.JobErrorEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	log := m.jobErrors[jobID]
	if limit > 0 && len(log) > limit {
		log = log[len(log)-limit:]
	}
	return append([]domain.JobErrorEntry{}, log...), nil
}

func (m *MemoryStore) FindByURL(_ context.Context, source, url string) (domain.Item, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.byURL[urlKey(source, url)]
	if !ok {
		return domain.Item{}, false, nil
	}
	return m.items[id], true, nil
}

func (m *MemoryStore) FindByFingerprint(_ context.Context, fingerprint string) (domain.Item, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.byPrint[fingerprint]
	if !ok {
		return domain.Item{}, false, nil
	}
	return m.items[id], true, nil
}

func (m *MemoryStore) InsertItem(_ context.Context, item domain.Item) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := urlKey(item.SourceName, item.URL)
	if _, ok := m.byURL[key]; ok {
		return 0, fmt.Errorf("insert %s: %w", item.URL, domain.ErrDuplicate)
	}
	if _, ok := m.byPrint[item.Fingerprint]; ok {
		return 0, fmt.Errorf("insert %s: %w", item.URL, domain.ErrDuplicate)
	}
	m.nextID++
	item.ID = m.nextID
	m.items[item.ID] = item
	m.byURL[key] = item.ID
	m.byPrint[item.Fingerprint] = item.ID
	return item.ID, nil
}

func (m *MemoryStore) RefreshItem(_ context.Context, id int64, publishedAt *time.Time, fetchedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	item, ok := m.items[id]
	if !ok {
		return fmt.Errorf("item %d: %w", id, domain.ErrNotFound)
	}
	if item.PublishedAt == nil && publishedAt != nil {
		p := *publishedAt
		item.PublishedAt = &p
	}
	item.FetchedAt = fetchedAt
	m.items[id] = item
	return nil
}

func (m *MemoryStore) GetItem(_ context.Context, id int64) (domain.Item, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	item, ok := m.items[id]
	if !ok {
		return domain.Item{}, fmt.Errorf("item %d: %w", id, domain.ErrNotFound)
	}
	return item, nil
}

func (m *MemoryStore) ListNews(_ context.Context, filter domain.ItemFilter) ([]domain.NewsItem, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]domain.NewsItem, 0)
	for _, item := range m.sortedItems() {
		switch {
		case filter.Since != nil && item.EffectiveTime().Before(*filter.Since):
			continue
		case item.BusinessScore < filter.MinBusiness, item.DFOScore < filter.MinDFO:
			continue
		case filter.RequireCompany && !item.HasCompany:
			continue
		case filter.WithoutAnalysis && len(m.analysis[item.ID]) > 0:
			continue
		case scoring.ContainsAny(item.Title+" "+item.Body, filter.ExcludeTerms):
			continue
		}
		news := domain.NewsItem{Item: item}
		if a, ok := m.latestAnalysis(item.ID); ok {
			news.Analysis = &a
		}
		out = append(out, news)
		if filter.Limit > 0 && len(out) >= filter.Limit {
			break
		}
	}
	return out, nil
}

// sortedItems orders by effective time then id, newest first.
func (m *MemoryStore) sortedItems() []domain.Item {
	items := make([]domain.Item, 0, len(m.items))
	for _, it := range m.items {
		items = append(items, it)
	}
	sort.Slice(items, func(i, k int) bool {
		ti, tk := items[i].EffectiveTime(), items[k].EffectiveTime()
		if !ti.Equal(tk) {
			return ti.After(tk)
		}
		return items[i].ID > items[k].ID
	})
	return items
}

func (m *MemoryStore) latestAnalysis(itemID int64) (domain.AnalysisResult, bool) {
	results := m.analysis[itemID]
	if len(results) == 0 {
		return domain.AnalysisResult{}, false
	}
	latest := results[0]
	for _, r := range results[1:] {
		if !r.CreatedAt.Before(latest.CreatedAt) {
			latest = r
		}
	}
	return latest, true
}

// SaveAnalysis appends an enrichment result.
func (m *MemoryStore) SaveAnalysis(_ context.Context, result domain.AnalysisResult) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if result.CreatedAt.IsZero() {
		result.CreatedAt = m.now().UTC()
	}
	m.analysis[result.ItemID] = append(m.analysis[result.ItemID], result)
	return nil
}

func (m *MemoryStore) DeleteItem(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.items[id]; !ok {
		return fmt.Errorf("item %d: %w", id, domain.ErrNotFound)
	}
	m.deleteItem(id)
	return nil
}

func (m *MemoryStore) DeleteItemsByDay(_ context.Context, day time.Time) (int, error) {
	from := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, time.UTC)
	to := from.AddDate(0, 0, 1)
	return m.deleteWhere(func(it domain.Item) bool {
		t := it.EffectiveTime()
		return !t.Before(from) && t.Before(to)
	}), nil
}

func (m *MemoryStore) PurgeItems(_ context.Context, before time.Time) (int, error) {
	return m.deleteWhere(func(it domain.Item) bool { return it.EffectiveTime().Before(before) }), nil
}

func (m *MemoryStore) deleteWhere(match func(domain.Item) bool) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for id, it := range m.items {
		if match(it) {
			m.deleteItem(id)
			n++
		}
	}
	return n
}

func (m *MemoryStore) deleteItem(id int64) {
	item := m.items[id]
	delete(m.items, id)
	delete(m.byURL, urlKey(item.SourceName, item.URL))
	delete(m.byPrint, item.Fingerprint)
	delete(m.analysis, id)
}

func (m *MemoryStore) GetDigest(_ context.Context, day time.Time) (domain.Digest, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := m.digests[dayKey(day)]
	if !ok {
		return domain.Digest{}, false, nil
	}
	return copyDigest(d), true, nil
}

func (m *MemoryStore) ListDigests(_ context.Context, limit, offset int) ([]domain.Digest, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]domain.Digest, 0, len(m.digests))
	for _, d := range m.digests {
		d.Items = nil
		out = append(out, d)
	}
	sort.Slice(out, func(i, k int) bool { return out[i].Day.After(out[k].Day) })
	return paginate(out, limit, offset), nil
}

func (m *MemoryStore) SaveDigest(_ context.Context, digest domain.Digest) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := dayKey(digest.Day)
	if prev, ok := m.digests[key]; ok {
		digest.CreatedAt = prev.CreatedAt
	}
	m.digests[key] = copyDigest(digest)
	return nil
}

func (m *MemoryStore) AttachScript(_ context.Context, day time.Time, script []domain.ScriptSegment, model string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := dayKey(day)
	d, ok := m.digests[key]
	if !ok {
		return fmt.Errorf("digest %s: %w", key, domain.ErrNotFound)
	}
	d.Script = append([]domain.ScriptSegment(nil), script...)
	d.ScriptModel = model
	d.UpdatedAt = at
	m.digests[key] = d
	return nil
}

func (m *MemoryStore) Candidates(_ context.Context, q ports.CandidateQuery) ([]domain.Candidate, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	used := map[int64]struct{}{}
	if q.ExcludeUsedExcept != nil {
		except := dayKey(*q.ExcludeUsedExcept)
		for key, d := range m.digests {
			if key == except {
				continue
			}
			for _, it := range d.Items {
				used[it.ItemID] = struct{}{}
			}
		}
	}
	out := make([]domain.Candidate, 0)
	for _, item := range m.sortedItems() {
		t := item.EffectiveTime()
		switch {
		case item.BusinessScore < q.MinBusiness, item.DFOScore < q.MinDFO:
			continue
		case t.Before(q.From), t.After(q.To):
			continue
		case scoring.ContainsAny(item.Title+" "+item.Body, q.ExcludeTerms):
			continue
		}
		if _, ok := used[item.ID]; ok {
			continue
		}
		interest := item.BusinessScore + item.DFOScore
		if a, ok := m.latestAnalysis(item.ID); ok {
			interest = a.InterestScore
		}
		out = append(out, domain.Candidate{Item: item, InterestScore: interest})
	}
	return out, nil
}

func copyDigest(d domain.Digest) domain.Digest {
	d.Items = append([]domain.DigestItem(nil), d.Items...)
	d.Script = append([]domain.ScriptSegment(nil), d.Script...)
	if len(d.Script) == 0 {
		d.Script = nil
	}
	return d
}

func paginate[T any](items []T, limit, offset int) []T {
	if offset < 0 {
		offset = 0
	}
	if offset >= len(items) {
		return []T{}
	}
	items = items[offset:]
	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}
	return items
}
