package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"

	"NewsDigest/internal/domain"
	"NewsDigest/internal/ports"
	"NewsDigest/internal/scoring"
)

var digestColumns = []string{
	"day", "status", "items_count", "params", "diagnostics", "script", "script_model", "created_at", "updated_at",
}

var digestItemColumns = []string{
	"rank", "item_id", "source_name", "title", "url", "published_at", "business_score", "dfo_score", "interest_score",
}

// interestExpr resolves the ranking key: latest analysis score, else the item scores.
const interestExpr = `COALESCE((SELECT a.interest_score FROM analysis_results a WHERE a.item_id = items.id
	ORDER BY a.created_at DESC, a.id DESC LIMIT 1), items.business_score + items.dfo_score)`

func dayKey(day time.Time) string { return day.Format(domain.DayLayout) }

// GetDigest returns the digest of day with its ranked items.
func (s *SQLStore) GetDigest(ctx context.Context, day time.Time) (domain.Digest, bool, error) {
	row, err := queryRow(ctx, s.db, s.builder.Select(digestColumns...).From("digests").Where(sq.Eq{"day": dayKey(day)}))
	if err != nil {
		return domain.Digest{}, false, err
	}
	digest, err := scanDigest(row)
	if isNoRows(err) {
		return domain.Digest{}, false, nil
	}
	if err != nil {
		return domain.Digest{}, false, fmt.Errorf("get digest: %w", err)
	}
	items, err := s.digestItems(ctx, dayKey(day))
	if err != nil {
		return domain.Digest{}, false, err
	}
	digest.Items = items
	return digest, true, nil
}

// ListDigests returns digest headers, newest day first, without items.
func (s *SQLStore) ListDigests(ctx context.Context, limit, offset int) ([]domain.Digest, error) {
	sel := s.builder.Select(digestColumns...).From("digests").OrderBy("day DESC")
	if limit > 0 {
		sel = sel.Limit(uint64(limit))
	}
	if offset > 0 {
		sel = sel.Offset(uint64(offset))
	}
	rows, err := query(ctx, s.db, sel)
	if err != nil {
		return nil, fmt.Errorf("list digests: %w", err)
	}
	defer rows.Close()

	out := make([]domain.Digest, 0)
	for rows.Next() {
		d, err := scanDigest(rows)
		if err != nil {
			return nil, fmt.Errorf("scan digest: %w", err)
		}
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration: %w", err)
	}
	return out, nil
}

func (s *SQLStore) digestItems(ctx context.Context, day string) ([]domain.DigestItem, error) {
	rows, err := query(ctx, s.db, s.builder.Select(digestItemColumns...).From("digest_items").
		Where(sq.Eq{"digest_day": day}).OrderBy("rank"))
	if err != nil {
		return nil, fmt.Errorf("list digest items: %w", err)
	}
	defer rows.Close()

	out := make([]domain.DigestItem, 0)
	for rows.Next() {
		var (
			it        domain.DigestItem
			published sql.NullInt64
		)
		if err := rows.Scan(&it.Rank, &it.ItemID, &it.SourceName, &it.Title, &it.URL, &published,
			&it.BusinessScore, &it.DFOScore, &it.InterestScore); err != nil {
			return nil, fmt.Errorf("scan digest item: %w", err)
		}
		it.PublishedAt = timePtr(published)
		out = append(out, it)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration: %w", err)
	}
	return out, nil
}

// SaveDigest replaces the digest and its items for the day in one transaction.
// created_at of an existing row is preserved.
func (s *SQLStore) SaveDigest(ctx context.Context, digest domain.Digest) error {
	params, err := json.Marshal(digest.Params)
	if err != nil {
		return fmt.Errorf("encode params: %w", err)
	}
	diagnostics, err := json.Marshal(digest.Diagnostics)
	if err != nil {
		return fmt.Errorf("encode diagnostics: %w", err)
	}
	script, err := encodeScript(digest.Script)
	if err != nil {
		return err
	}
	key := dayKey(digest.Day)

	return s.withTx(ctx, func(tx *sql.Tx) error {
		createdAt := digest.CreatedAt
		row, err := queryRow(ctx, tx, s.builder.Select("created_at").From("digests").Where(sq.Eq{"day": key}))
		if err != nil {
			return err
		}
		var existing int64
		switch err := row.Scan(&existing); {
		case err == nil:
			createdAt = fromMillis(existing)
		case !isNoRows(err):
			return fmt.Errorf("read digest: %w", err)
		}

		if _, err := exec(ctx, tx, s.builder.Delete("digest_items").Where(sq.Eq{"digest_day": key})); err != nil {
			return fmt.Errorf("clear digest items: %w", err)
		}
		if _, err := exec(ctx, tx, s.builder.Delete("digests").Where(sq.Eq{"day": key})); err != nil {
			return fmt.Errorf("clear digest: %w", err)
		}
		insert := s.builder.Insert("digests").Columns(digestColumns...).Values(
			key, string(digest.Status), digest.ItemsCount, string(params), string(diagnostics), script,
			digest.ScriptModel, toMillis(createdAt), toMillis(digest.UpdatedAt),
		)
		if _, err := exec(ctx, tx, insert); err != nil {
			return fmt.Errorf("insert digest: %w", err)
		}
		if len(digest.Items) == 0 {
			return nil
		}
		items := s.builder.Insert("digest_items").Columns(append([]string{"digest_day"}, digestItemColumns...)...)
		for _, it := range digest.Items {
			items = items.Values(key, it.Rank, it.ItemID, it.SourceName, it.Title, it.URL, nullMillis(it.PublishedAt),
				it.BusinessScore, it.DFOScore, it.InterestScore)
		}
		if _, err := exec(ctx, tx, items); err != nil {
			return fmt.Errorf("insert digest items: %w", err)
		}
		return nil
	})
}

// AttachScript stores narration segments on an existing digest.
func (s *SQLStore) AttachScript(ctx context.Context, day time.Time, script []domain.ScriptSegment, model string, at time.Time) error {
	encoded, err := encodeScript(script)
	if err != nil {
		return err
	}
	res, err := exec(ctx, s.db, s.builder.Update("digests").
		Set("script", encoded).
		Set("script_model", model).
		Set("updated_at", toMillis(at)).
		Where(sq.Eq{"day": dayKey(day)}))
	if err != nil {
		return fmt.Errorf("attach script: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("digest %s: %w", dayKey(day), domain.ErrNotFound)
	}
	return nil
}

// Candidates applies score thresholds, the time window and reuse exclusion in SQL,
// and term exclusion in Go because LIKE folding is ASCII-only in SQLite.
func (s *SQLStore) Candidates(ctx context.Context, q ports.CandidateQuery) ([]domain.Candidate, error) {
	cols := append(append([]string{}, itemColumns...), interestExpr+" AS interest")
	sel := s.builder.Select(cols...).From("items").
		Where(sq.GtOrEq{"business_score": q.MinBusiness}).
		Where(sq.GtOrEq{"dfo_score": q.MinDFO}).
		Where(sq.GtOrEq{"effective_at": toMillis(q.From)}).
		Where(sq.LtOrEq{"effective_at": toMillis(q.To)})
	if q.ExcludeUsedExcept != nil {
		sel = sel.Where("id NOT IN (SELECT item_id FROM digest_items WHERE digest_day <> ?)", dayKey(*q.ExcludeUsedExcept))
	}
	rows, err := query(ctx, s.db, sel)
	if err != nil {
		return nil, fmt.Errorf("query candidates: %w", err)
	}
	defer rows.Close()

	out := make([]domain.Candidate, 0)
	for rows.Next() {
		var (
			c         domain.Candidate
			published sql.NullInt64
			fetched   int64
			reasons   string
		)
		if err := rows.Scan(&c.Item.ID, &c.Item.SourceName, &c.Item.URL, &c.Item.URLCanon, &c.Item.Title, &c.Item.Body,
			&published, &fetched, &c.Item.BusinessScore, &c.Item.DFOScore, &c.Item.HasCompany, &reasons,
			&c.Item.Fingerprint, &c.InterestScore); err != nil {
			return nil, fmt.Errorf("scan candidate: %w", err)
		}
		c.Item.PublishedAt = timePtr(published)
		c.Item.FetchedAt = fromMillis(fetched)
		if reasons != "" {
			if err := json.Unmarshal([]byte(reasons), &c.Item.Reasons); err != nil {
				return nil, fmt.Errorf("decode reasons: %w", err)
			}
		}
		if scoring.ContainsAny(c.Item.Title+" "+c.Item.Body, q.ExcludeTerms) {
			continue
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration: %w", err)
	}
	return out, nil
}

func encodeScript(script []domain.ScriptSegment) (sql.NullString, error) {
	if script == nil {
		return sql.NullString{}, nil
	}
	raw, err := json.Marshal(script)
	if err != nil {
		return sql.NullString{}, fmt.Errorf("encode script: %w", err)
	}
	return sql.NullString{String: string(raw), Valid: true}, nil
}

func scanDigest(row rowScanner) (domain.Digest, error) {
	var (
		d                    domain.Digest
		day, status          string
		params, diagnostics  string
		script               sql.NullString
		createdAt, updatedAt int64
	)
	err := row.Scan(&day, &status, &d.ItemsCount, &params, &diagnostics, &script, &d.ScriptModel, &createdAt, &updatedAt)
	if err != nil {
		return domain.Digest{}, err
	}
	d.Day, err = time.Parse(domain.DayLayout, day)
	if err != nil {
		return domain.Digest{}, fmt.Errorf("parse day: %w", err)
	}
	d.Status = domain.DigestStatus(status)
	if err := json.Unmarshal([]byte(params), &d.Params); err != nil {
		return domain.Digest{}, fmt.Errorf("decode params: %w", err)
	}
	if err := json.Unmarshal([]byte(diagnostics), &d.Diagnostics); err != nil {
		return domain.Digest{}, fmt.Errorf("decode diagnostics: %w", err)
	}
	if script.Valid {
		if err := json.Unmarshal([]byte(script.String), &d.Script); err != nil {
			return domain.Digest{}, fmt.Errorf("decode script: %w", err)
		}
	}
	d.CreatedAt = fromMillis(createdAt)
	d.UpdatedAt = fromMillis(updatedAt)
	return d, nil
}
