package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"

	"NewsDigest/internal/domain"
)

// maxJobErrors is how many error log entries a job keeps.
const maxJobErrors = 200

var jobColumns = []string{
	"id", "status", "sources", "params", "total_sources", "done_sources", "ingested",
	"errors_count", "links_total", "articles_total", "message", "created_at", "updated_at",
}

var progressColumns = []string{
	"job_id", "source_name", "state", "links_found", "articles_fetched", "inserted",
	"duplicates", "errors", "last_error", "started_at", "finished_at",
}

// CreateJob writes the job and its progress rows in one transaction.
func (s *SQLStore) CreateJob(ctx context.Context, job domain.Job, progress []domain.SourceProgress) error {
	sources, err := json.Marshal(job.Sources)
	if err != nil {
		return fmt.Errorf("encode sources: %w", err)
	}
	params, err := json.Marshal(job.Params)
	if err != nil {
		return fmt.Errorf("encode params: %w", err)
	}

	return s.withTx(ctx, func(tx *sql.Tx) error {
		insert := s.builder.Insert("jobs").Columns(jobColumns...).Values(
			job.ID, string(job.Status), string(sources), string(params), job.TotalSources, job.DoneSources,
			job.Ingested, job.ErrorsCount, job.LinksTotal, job.ArticlesTotal, job.Message,
			toMillis(job.CreatedAt), toMillis(job.UpdatedAt),
		)
		if _, err := exec(ctx, tx, insert); err != nil {
			return fmt.Errorf("insert job: %w", err)
		}
		if len(progress) == 0 {
			return nil
		}
		rows := s.builder.Insert("source_progress").Columns(progressColumns...)
		for _, p := range progress {
			rows = rows.Values(
				p.JobID, p.SourceName, string(p.State), p.LinksFound, p.ArticlesFetched, p.Inserted,
				p.Duplicates, p.Errors, p.LastError, nullMillis(p.StartedAt), nullMillis(p.FinishedAt),
			)
		}
		if _, err := exec(ctx, tx, rows); err != nil {
			return fmt.Errorf("insert progress: %w", err)
		}
		return nil
	})
}

func (s *SQLStore) GetJob(ctx context.Context, id string) (domain.Job, error) {
	return s.getJob(ctx, s.db, id)
}

func (s *SQLStore) getJob(ctx context.Context, q queryer, id string) (domain.Job, error) {
	row, err := queryRow(ctx, q, s.builder.Select(jobColumns...).From("jobs").Where(sq.Eq{"id": id}))
	if err != nil {
		return domain.Job{}, err
	}
	job, err := scanJob(row)
	if isNoRows(err) {
		return domain.Job{}, fmt.Errorf("job %s: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return domain.Job{}, fmt.Errorf("get job: %w", err)
	}
	return job, nil
}

// ListJobs returns jobs newest first and the total count.
func (s *SQLStore) ListJobs(ctx context.Context, limit, offset int) ([]domain.Job, int, error) {
	var total int
	row, err := queryRow(ctx, s.db, s.builder.Select("COUNT(*)").From("jobs"))
	if err != nil {
		return nil, 0, err
	}
	if err := row.Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count jobs: %w", err)
	}

	sel := s.builder.Select(jobColumns...).From("jobs").OrderBy("created_at DESC", "id DESC")
	if limit > 0 {
		sel = sel.Limit(uint64(limit))
	}
	if offset > 0 {
		sel = sel.Offset(uint64(offset))
	}
	rows, err := query(ctx, s.db, sel)
	if err != nil {
		return nil, 0, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	jobs := make([]domain.Job, 0)
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan job: %w", err)
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("rows iteration: %w", err)
	}
	return jobs, total, nil
}

// TransitionJob checks the move against the current status inside a transaction.
func (s *SQLStore) TransitionJob(ctx context.Context, id string, to domain.JobStatus, message string) (domain.Job, error) {
	var out domain.Job
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		job, err := s.getJob(ctx, tx, id)
		if err != nil {
			return err
		}
		if err := job.Transition(to, s.now().UTC()); err != nil {
			return err
		}
		if message != "" {
			job.Message = message
		}
		upd := s.builder.Update("jobs").
			Set("status", string(job.Status)).
			Set("message", job.Message).
			Set("updated_at", toMillis(job.UpdatedAt)).
			Where(sq.Eq{"id": id})
		if _, err := exec(ctx, tx, upd); err != nil {
			return fmt.Errorf("update job status: %w", err)
		}
		out = job
		return nil
	})
	return out, err
}

// ApplyJobDelta increments aggregate counters and returns the updated job.
func (s *SQLStore) ApplyJobDelta(ctx context.Context, id string, delta domain.JobDelta) (domain.Job, error) {
	var out domain.Job
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		upd := s.builder.Update("jobs").
			Set("ingested", sq.Expr("ingested + ?", delta.Ingested)).
			Set("errors_count", sq.Expr("errors_count + ?", delta.Errors)).
			Set("done_sources", sq.Expr("done_sources + ?", delta.DoneSources)).
			Set("links_total", sq.Expr("links_total + ?", delta.LinksTotal)).
			Set("articles_total", sq.Expr("articles_total + ?", delta.ArticlesTotal)).
			Set("updated_at", toMillis(s.now())).
			Where(sq.Eq{"id": id})
		res, err := exec(ctx, tx, upd)
		if err != nil {
			return fmt.Errorf("apply job delta: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("job %s: %w", id, domain.ErrNotFound)
		}
		out, err = s.getJob(ctx, tx, id)
		return err
	})
	return out, err
}

func (s *SQLStore) ListSourceProgress(ctx context.Context, jobID string) ([]domain.SourceProgress, error) {
	rows, err := query(ctx, s.db, s.builder.Select(progressColumns...).From("source_progress").
		Where(sq.Eq{"job_id": jobID}).OrderBy("source_name"))
	if err != nil {
		return nil, fmt.Errorf("list progress: %w", err)
	}
	defer rows.Close()

	out := make([]domain.SourceProgress, 0)
	for rows.Next() {
		p, err := scanProgress(rows)
		if err != nil {
			return nil, fmt.Errorf("scan progress: %w", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration: %w", err)
	}
	return out, nil
}

func (s *SQLStore) GetSourceProgress(ctx context.Context, jobID, source string) (domain.SourceProgress, error) {
	return s.getProgress(ctx, s.db, jobID, source)
}

func (s *SQLStore) getProgress(ctx context.Context, q queryer, jobID, source string) (domain.SourceProgress, error) {
	row, err := queryRow(ctx, q, s.builder.Select(progressColumns...).From("source_progress").
		Where(sq.Eq{"job_id": jobID, "source_name": source}))
	if err != nil {
		return domain.SourceProgress{}, err
	}
	p, err := scanProgress(row)
	if isNoRows(err) {
		return domain.SourceProgress{}, fmt.Errorf("progress %s/%s: %w", jobID, source, domain.ErrNotFound)
	}
	if err != nil {
		return domain.SourceProgress{}, fmt.Errorf("get progress: %w", err)
	}
	return p, nil
}

// UpdateSourceProgress applies a field-level update. A terminal row never goes back to running.
func (s *SQLStore) UpdateSourceProgress(ctx context.Context, jobID, source string, upd domain.ProgressUpdate) error {
	at := upd.At
	if at.IsZero() {
		at = s.now()
	}
	b := s.builder.Update("source_progress").
		Set("articles_fetched", sq.Expr("articles_fetched + ?", upd.ArticlesFetched)).
		Set("inserted", sq.Expr("inserted + ?", upd.Inserted)).
		Set("duplicates", sq.Expr("duplicates + ?", upd.Duplicates)).
		Set("errors", sq.Expr("errors + ?", upd.Errors)).
		Where(sq.Eq{"job_id": jobID, "source_name": source})
	if upd.LinksFound != nil {
		b = b.Set("links_found", *upd.LinksFound)
	}
	if upd.LastError != "" {
		b = b.Set("last_error", upd.LastError)
	}
	if upd.State != "" {
		b = b.Set("state", sq.Expr(
			"CASE WHEN state IN (?, ?) THEN state ELSE ? END",
			string(domain.SourceDone), string(domain.SourceError), string(upd.State),
		))
		if upd.State == domain.SourceRunning {
			b = b.Set("started_at", sq.Expr("COALESCE(started_at, ?)", toMillis(at)))
		}
	}
	res, err := exec(ctx, s.db, b)
	if err != nil {
		return fmt.Errorf("update progress: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("progress %s/%s: %w", jobID, source, domain.ErrNotFound)
	}
	return nil
}

// FinishSource moves a non-terminal row to state and counts it once on the job.
func (s *SQLStore) FinishSource(ctx context.Context, jobID, source string, state domain.SourceState, lastError string, at time.Time) (bool, error) {
	if !state.Terminal() {
		return false, fmt.Errorf("finish source with state %s: %w", state, domain.ErrInvalidTransition)
	}
	counted := false
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		upd := s.builder.Update("source_progress").
			Set("state", string(state)).
			Set("finished_at", toMillis(at)).
			Set("started_at", sq.Expr("COALESCE(started_at, ?)", toMillis(at))).
			Where(sq.Eq{"job_id": jobID, "source_name": source}).
			Where(sq.NotEq{"state": []string{string(domain.SourceDone), string(domain.SourceError)}})
		if lastError != "" {
			upd = upd.Set("last_error", lastError)
		}
		res, err := exec(ctx, tx, upd)
		if err != nil {
			return fmt.Errorf("finish source: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("finish source: %w", err)
		}
		if n == 0 {
			if _, err := s.getProgress(ctx, tx, jobID, source); err != nil {
				return err
			}
			return nil
		}
		bump := s.builder.Update("jobs").
			Set("done_sources", sq.Expr("done_sources + 1")).
			Set("updated_at", toMillis(at)).
			Where(sq.Eq{"id": jobID}).
			Where("done_sources < total_sources")
		if _, err := exec(ctx, tx, bump); err != nil {
			return fmt.Errorf("count finished source: %w", err)
		}
		counted = true
		return nil
	})
	return counted, err
}

// AppendJobError records a diagnostic entry and trims the log to the newest entries.
func (s *SQLStore) AppendJobError(ctx context.Context, jobID string, entry domain.JobErrorEntry) error {
	at := entry.At
	if at.IsZero() {
		at = s.now()
	}
	return s.withTx(ctx, func(tx *sql.Tx) error {
		insert := s.builder.Insert("job_errors").
			Columns("job_id", "source_name", "stage", "url", "error", "created_at").
			Values(jobID, entry.Source, entry.Stage, entry.URL, entry.Error, toMillis(at))
		if _, err := exec(ctx, tx, insert); err != nil {
			return fmt.Errorf("insert job error: %w", err)
		}
		// built without the dialect placeholder; the outer statement rewrites it
		keep := sq.Select("id").From("job_errors").
			Where(sq.Eq{"job_id": jobID}).OrderBy("id DESC").Limit(maxJobErrors)
		keepSQL, keepArgs, err := keep.ToSql()
		if err != nil {
			return fmt.Errorf("build query: %w", err)
		}
		prune := s.builder.Delete("job_errors").
			Where(sq.Eq{"job_id": jobID}).
			Where(sq.Expr("id NOT IN (SELECT id FROM ("+keepSQL+") AS newest)", keepArgs...))
		if _, err := exec(ctx, tx, prune); err != nil {
			return fmt.Errorf("prune job errors: %w", err)
		}
		return nil
	})
}

// ListJobErrors returns up to limit newest entries in chronological order.
func (s *SQLStore) ListJobErrors(ctx context.Context, jobID string, limit int) ([]domain.JobErrorEntry, error) {
	if limit <= 0 || limit > maxJobErrors {
		limit = maxJobErrors
	}
	rows, err := query(ctx, s.db, s.builder.Select("source_name", "stage", "url", "error", "created_at").
		From("job_errors").Where(sq.Eq{"job_id": jobID}).OrderBy("id DESC").Limit(uint64(limit)))
	if err != nil {
		return nil, fmt.Errorf("list job errors: %w", err)
	}
	defer rows.Close()

	out := make([]domain.JobErrorEntry, 0)
	for rows.Next() {
		var (
			e  domain.JobErrorEntry
			at int64
		)
		if err := rows.Scan(&e.Source, &e.Stage, &e.URL, &e.Error, &at); err != nil {
			return nil, fmt.Errorf("scan job error: %w", err)
		}
		e.At = fromMillis(at)
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration: %w", err)
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (domain.Job, error) {
	var (
		job                  domain.Job
		status               string
		sources, params      string
		createdAt, updatedAt int64
	)
	err := row.Scan(&job.ID, &status, &sources, &params, &job.TotalSources, &job.DoneSources, &job.Ingested,
		&job.ErrorsCount, &job.LinksTotal, &job.ArticlesTotal, &job.Message, &createdAt, &updatedAt)
	if err != nil {
		return domain.Job{}, err
	}
	job.Status = domain.JobStatus(status)
	if err := json.Unmarshal([]byte(sources), &job.Sources); err != nil {
		return domain.Job{}, fmt.Errorf("decode sources: %w", err)
	}
	if err := json.Unmarshal([]byte(params), &job.Params); err != nil {
		return domain.Job{}, fmt.Errorf("decode params: %w", err)
	}
	job.CreatedAt = fromMillis(createdAt)
	job.UpdatedAt = fromMillis(updatedAt)
	return job, nil
}

func scanProgress(row rowScanner) (domain.SourceProgress, error) {
	var (
		p                   domain.SourceProgress
		state               string
		startedAt, finished sql.NullInt64
	)
	err := row.Scan(&p.JobID, &p.SourceName, &state, &p.LinksFound, &p.ArticlesFetched, &p.Inserted,
		&p.Duplicates, &p.Errors, &p.LastError, &startedAt, &finished)
	if err != nil {
		return domain.SourceProgress{}, err
	}
	p.State = domain.SourceState(state)
	p.StartedAt = timePtr(startedAt)
	p.FinishedAt = timePtr(finished)
	return p, nil
}
