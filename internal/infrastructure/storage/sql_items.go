package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"

	"NewsDigest/internal/domain"
	"NewsDigest/internal/scoring"
)

var itemColumns = []string{
	"id", "source_name", "url", "url_canon", "title", "body", "published_at", "fetched_at",
	"business_score", "dfo_score", "has_company", "reasons", "fingerprint",
}

func (s *SQLStore) FindByURL(ctx context.Context, source, url string) (domain.Item, bool, error) {
	return s.findItem(ctx, sq.Eq{"source_name": source, "url": url})
}

func (s *SQLStore) FindByFingerprint(ctx context.Context, fingerprint string) (domain.Item, bool, error) {
	return s.findItem(ctx, sq.Eq{"fingerprint": fingerprint})
}

func (s *SQLStore) findItem(ctx context.Context, where sq.Eq) (domain.Item, bool, error) {
	row, err := queryRow(ctx, s.db, s.builder.Select(itemColumns...).From("items").Where(where))
	if err != nil {
		return domain.Item{}, false, err
	}
	item, err := scanItem(row)
	if isNoRows(err) {
		return domain.Item{}, false, nil
	}
	if err != nil {
		return domain.Item{}, false, fmt.Errorf("find item: %w", err)
	}
	return item, true, nil
}

// InsertItem relies on the unique keys; a conflict yields domain.ErrDuplicate.
func (s *SQLStore) InsertItem(ctx context.Context, item domain.Item) (int64, error) {
	reasons, err := json.Marshal(item.Reasons)
	if err != nil {
		return 0, fmt.Errorf("encode reasons: %w", err)
	}
	insert := s.builder.Insert("items").
		Columns(
			"source_name", "url", "url_canon", "title", "body", "published_at", "fetched_at", "effective_at",
			"business_score", "dfo_score", "has_company", "reasons", "fingerprint",
		).
		Values(
			item.SourceName, item.URL, item.URLCanon, item.Title, item.Body, nullMillis(item.PublishedAt),
			toMillis(item.FetchedAt), toMillis(item.EffectiveTime()), item.BusinessScore, item.DFOScore,
			item.HasCompany, string(reasons), item.Fingerprint,
		).
		Suffix("ON CONFLICT DO NOTHING RETURNING id")

	row, err := queryRow(ctx, s.db, insert)
	if err != nil {
		return 0, err
	}
	var id int64
	if err := row.Scan(&id); err != nil {
		if isNoRows(err) {
			return 0, fmt.Errorf("insert %s: %w", item.URL, domain.ErrDuplicate)
		}
		return 0, fmt.Errorf("insert item: %w", err)
	}
	return id, nil
}

// RefreshItem fills a missing published_at and bumps fetched_at.
func (s *SQLStore) RefreshItem(ctx context.Context, id int64, publishedAt *time.Time, fetchedAt time.Time) error {
	upd := s.builder.Update("items").Set("fetched_at", toMillis(fetchedAt)).Where(sq.Eq{"id": id})
	if p := nullMillis(publishedAt); p.Valid {
		upd = upd.
			Set("effective_at", sq.Expr("CASE WHEN published_at IS NULL THEN ? ELSE effective_at END", p.Int64)).
			Set("published_at", sq.Expr("COALESCE(published_at, ?)", p.Int64))
	}
	res, err := exec(ctx, s.db, upd)
	if err != nil {
		return fmt.Errorf("refresh item: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("item %d: %w", id, domain.ErrNotFound)
	}
	return nil
}

func (s *SQLStore) GetItem(ctx context.Context, id int64) (domain.Item, error) {
	item, ok, err := s.findItem(ctx, sq.Eq{"id": id})
	if err != nil {
		return domain.Item{}, err
	}
	if !ok {
		return domain.Item{}, fmt.Errorf("item %d: %w", id, domain.ErrNotFound)
	}
	return item, nil
}

// ListNews returns items newest first, joined with their latest analysis.
func (s *SQLStore) ListNews(ctx context.Context, filter domain.ItemFilter) ([]domain.NewsItem, error) {
	sel := s.builder.Select(itemColumns...).From("items").OrderBy("effective_at DESC", "id DESC")
	if filter.Since != nil {
		sel = sel.Where(sq.GtOrEq{"effective_at": toMillis(*filter.Since)})
	}
	if filter.MinBusiness > 0 {
		sel = sel.Where(sq.GtOrEq{"business_score": filter.MinBusiness})
	}
	if filter.MinDFO > 0 {
		sel = sel.Where(sq.GtOrEq{"dfo_score": filter.MinDFO})
	}
	if filter.RequireCompany {
		sel = sel.Where(sq.Eq{"has_company": true})
	}
	if filter.WithoutAnalysis {
		sel = sel.Where("NOT EXISTS (SELECT 1 FROM analysis_results a WHERE a.item_id = items.id)")
	}
	// exclusion runs after the scan, so the limit can only go to SQL without it
	if filter.Limit > 0 && len(filter.ExcludeTerms) == 0 {
		sel = sel.Limit(uint64(filter.Limit))
	}

	rows, err := query(ctx, s.db, sel)
	if err != nil {
		return nil, fmt.Errorf("list news: %w", err)
	}
	defer rows.Close()

	items := make([]domain.NewsItem, 0)
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, fmt.Errorf("scan item: %w", err)
		}
		if scoring.ContainsAny(item.Title+" "+item.Body, filter.ExcludeTerms) {
			continue
		}
		items = append(items, domain.NewsItem{Item: item})
		if filter.Limit > 0 && len(items) >= filter.Limit {
			break
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration: %w", err)
	}
	if err := rows.Close(); err != nil {
		return nil, fmt.Errorf("close rows: %w", err)
	}

	ids := make([]int64, 0, len(items))
	for _, it := range items {
		ids = append(ids, it.ID)
	}
	latest, err := s.latestAnalysis(ctx, ids)
	if err != nil {
		return nil, err
	}
	for i := range items {
		if a, ok := latest[items[i].ID]; ok {
			a := a
			items[i].Analysis = &a
		}
	}
	return items, nil
}

func (s *SQLStore) latestAnalysis(ctx context.Context, ids []int64) (map[int64]domain.AnalysisResult, error) {
	out := make(map[int64]domain.AnalysisResult, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	rows, err := query(ctx, s.db, s.builder.
		Select("item_id", "interest_score", "title_short", "summary", "created_at").
		From("analysis_results").
		Where(sq.Eq{"item_id": ids}).
		OrderBy("item_id", "created_at", "id"))
	if err != nil {
		return nil, fmt.Errorf("list analysis: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			a  domain.AnalysisResult
			at int64
		)
		if err := rows.Scan(&a.ItemID, &a.InterestScore, &a.TitleShort, &a.Summary, &at); err != nil {
			return nil, fmt.Errorf("scan analysis: %w", err)
		}
		a.CreatedAt = fromMillis(at)
		out[a.ItemID] = a
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration: %w", err)
	}
	return out, nil
}

// SaveAnalysis stores an enrichment result. The analysis worker owns this table;
// the method exists for fixtures and manual backfills.
func (s *SQLStore) SaveAnalysis(ctx context.Context, result domain.AnalysisResult) error {
	at := result.CreatedAt
	if at.IsZero() {
		at = s.now()
	}
	insert := s.builder.Insert("analysis_results").
		Columns("item_id", "interest_score", "title_short", "summary", "created_at").
		Values(result.ItemID, result.InterestScore, result.TitleShort, result.Summary, toMillis(at))
	if _, err := exec(ctx, s.db, insert); err != nil {
		return fmt.Errorf("insert analysis: %w", err)
	}
	return nil
}

func (s *SQLStore) DeleteItem(ctx context.Context, id int64) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := exec(ctx, tx, s.builder.Delete("items").Where(sq.Eq{"id": id}))
		if err != nil {
			return fmt.Errorf("delete item: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("item %d: %w", id, domain.ErrNotFound)
		}
		if _, err := exec(ctx, tx, s.builder.Delete("analysis_results").Where(sq.Eq{"item_id": id})); err != nil {
			return fmt.Errorf("delete analysis: %w", err)
		}
		return nil
	})
}

// DeleteItemsByDay removes items whose effective time falls on the UTC day.
func (s *SQLStore) DeleteItemsByDay(ctx context.Context, day time.Time) (int, error) {
	from := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, time.UTC)
	return s.deleteItems(ctx, sq.And{
		sq.GtOrEq{"effective_at": toMillis(from)},
		sq.Lt{"effective_at": toMillis(from.AddDate(0, 0, 1))},
	})
}

// PurgeItems removes items older than before.
func (s *SQLStore) PurgeItems(ctx context.Context, before time.Time) (int, error) {
	return s.deleteItems(ctx, sq.Lt{"effective_at": toMillis(before)})
}

func (s *SQLStore) deleteItems(ctx context.Context, where sq.Sqlizer) (int, error) {
	var deleted int
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		whereSQL, whereArgs, err := where.ToSql()
		if err != nil {
			return fmt.Errorf("build query: %w", err)
		}
		orphans := s.builder.Delete("analysis_results").
			Where(sq.Expr("item_id IN (SELECT id FROM items WHERE "+whereSQL+")", whereArgs...))
		if _, err := exec(ctx, tx, orphans); err != nil {
			return fmt.Errorf("delete analysis: %w", err)
		}
		res, err := exec(ctx, tx, s.builder.Delete("items").Where(where))
		if err != nil {
			return fmt.Errorf("delete items: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("delete items: %w", err)
		}
		deleted = int(n)
		return nil
	})
	return deleted, err
}

func scanItem(row rowScanner) (domain.Item, error) {
	var (
		item      domain.Item
		published sql.NullInt64
		fetched   int64
		reasons   string
	)
	err := row.Scan(&item.ID, &item.SourceName, &item.URL, &item.URLCanon, &item.Title, &item.Body, &published,
		&fetched, &item.BusinessScore, &item.DFOScore, &item.HasCompany, &reasons, &item.Fingerprint)
	if err != nil {
		return domain.Item{}, err
	}
	item.PublishedAt = timePtr(published)
	item.FetchedAt = fromMillis(fetched)
	if reasons != "" {
		if err := json.Unmarshal([]byte(reasons), &item.Reasons); err != nil {
			return domain.Item{}, fmt.Errorf("decode reasons: %w", err)
		}
	}
	return item, nil
}
