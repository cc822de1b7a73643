package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"

	"NewsDigest/internal/ports"
)

const (
	DriverSQLite   = "sqlite3"
	DriverPostgres = "postgres"
)

// SQLStore persists jobs, items and digests in SQLite or Postgres.
// Timestamps are stored as unix milliseconds so both dialects compare them the same way.
type SQLStore struct {
	db      *sql.DB
	driver  string
	builder sq.StatementBuilderType
	now     func() time.Time
}

var _ ports.Store = (*SQLStore)(nil)

// Open connects, applies the schema and returns a ready store.
func Open(ctx context.Context, driver, dsn string) (*SQLStore, error) {
	var placeholder sq.PlaceholderFormat
	switch driver {
	case DriverSQLite:
		placeholder = sq.Question
	case DriverPostgres:
		placeholder = sq.Dollar
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if driver == DriverSQLite {
		// one writer connection; readers wait on busy_timeout instead of failing
		db.SetMaxOpenConns(1)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	store := &SQLStore{
		db:      db,
		driver:  driver,
		builder: sq.StatementBuilder.PlaceholderFormat(placeholder),
		now:     time.Now,
	}
	if err := store.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

// Close releases the connection pool.
func (s *SQLStore) Close() error {
	return s.db.Close()
}

func (s *SQLStore) migrate(ctx context.Context) error {
	serial := "INTEGER PRIMARY KEY AUTOINCREMENT"
	if s.driver == DriverPostgres {
		serial = "BIGSERIAL PRIMARY KEY"
	}
	for _, stmt := range schema {
		stmt = strings.ReplaceAll(stmt, "{{serial}}", serial)
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
	}
	return nil
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS jobs (
		id TEXT PRIMARY KEY,
		status TEXT NOT NULL,
		sources TEXT NOT NULL,
		params TEXT NOT NULL,
		total_sources INTEGER NOT NULL,
		done_sources INTEGER NOT NULL DEFAULT 0,
		ingested INTEGER NOT NULL DEFAULT 0,
		errors_count INTEGER NOT NULL DEFAULT 0,
		links_total INTEGER NOT NULL DEFAULT 0,
		articles_total INTEGER NOT NULL DEFAULT 0,
		message TEXT NOT NULL DEFAULT '',
		created_at BIGINT NOT NULL,
		updated_at BIGINT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS source_progress (
		job_id TEXT NOT NULL REFERENCES jobs (id) ON DELETE CASCADE,
		source_name TEXT NOT NULL,
		state TEXT NOT NULL,
		links_found INTEGER NOT NULL DEFAULT 0,
		articles_fetched INTEGER NOT NULL DEFAULT 0,
		inserted INTEGER NOT NULL DEFAULT 0,
		duplicates INTEGER NOT NULL DEFAULT 0,
		errors INTEGER NOT NULL DEFAULT 0,
		last_error TEXT NOT NULL DEFAULT '',
		started_at BIGINT,
		finished_at BIGINT,
		PRIMARY KEY (job_id, source_name)
	)`,
	`CREATE TABLE IF NOT EXISTS job_errors (
		id {{serial}},
		job_id TEXT NOT NULL,
		source_name TEXT NOT NULL,
		stage TEXT NOT NULL,
		url TEXT NOT NULL DEFAULT '',
		error TEXT NOT NULL,
		created_at BIGINT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_job_errors_job ON job_errors (job_id, id)`,
	`CREATE TABLE IF NOT EXISTS items (
		id {{serial}},
		source_name TEXT NOT NULL,
		url TEXT NOT NULL,
		url_canon TEXT NOT NULL,
		title TEXT NOT NULL,
		body TEXT NOT NULL,
		published_at BIGINT,
		fetched_at BIGINT NOT NULL,
		effective_at BIGINT NOT NULL,
		business_score INTEGER NOT NULL DEFAULT 0,
		dfo_score INTEGER NOT NULL DEFAULT 0,
		has_company BOOLEAN NOT NULL DEFAULT FALSE,
		reasons TEXT NOT NULL DEFAULT '{}',
		fingerprint TEXT NOT NULL,
		UNIQUE (source_name, url),
		UNIQUE (fingerprint)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_items_effective ON items (effective_at)`,
	`CREATE TABLE IF NOT EXISTS analysis_results (
		id {{serial}},
		item_id BIGINT NOT NULL,
		interest_score INTEGER NOT NULL,
		title_short TEXT NOT NULL DEFAULT '',
		summary TEXT NOT NULL DEFAULT '',
		created_at BIGINT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_analysis_item ON analysis_results (item_id, created_at)`,
	`CREATE TABLE IF NOT EXISTS digests (
		day TEXT PRIMARY KEY,
		status TEXT NOT NULL,
		items_count INTEGER NOT NULL,
		params TEXT NOT NULL,
		diagnostics TEXT NOT NULL,
		script TEXT,
		script_model TEXT NOT NULL DEFAULT '',
		created_at BIGINT NOT NULL,
		updated_at BIGINT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS digest_items (
		digest_day TEXT NOT NULL REFERENCES digests (day) ON DELETE CASCADE,
		rank INTEGER NOT NULL,
		item_id BIGINT NOT NULL,
		source_name TEXT NOT NULL,
		title TEXT NOT NULL,
		url TEXT NOT NULL,
		published_at BIGINT,
		business_score INTEGER NOT NULL,
		dfo_score INTEGER NOT NULL,
		interest_score INTEGER NOT NULL,
		PRIMARY KEY (digest_day, rank)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_digest_items_item ON digest_items (item_id)`,
}

// withTx runs fn inside a transaction and commits when fn succeeds.
func (s *SQLStore) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// queryer is satisfied by *sql.DB and *sql.Tx.
type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func exec(ctx context.Context, q queryer, b sq.Sqlizer) (sql.Result, error) {
	query, args, err := b.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}
	return q.ExecContext(ctx, query, args...)
}

func query(ctx context.Context, q queryer, b sq.Sqlizer) (*sql.Rows, error) {
	text, args, err := b.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}
	return q.QueryContext(ctx, text, args...)
}

func queryRow(ctx context.Context, q queryer, b sq.Sqlizer) (*sql.Row, error) {
	text, args, err := b.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}
	return q.QueryRowContext(ctx, text, args...), nil
}

func toMillis(t time.Time) int64 { return t.UnixMilli() }

func fromMillis(ms int64) time.Time { return time.UnixMilli(ms).UTC() }

func nullMillis(t *time.Time) sql.NullInt64 {
	if t == nil || t.IsZero() {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.UnixMilli(), Valid: true}
}

func timePtr(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := fromMillis(v.Int64)
	return &t
}

func isNoRows(err error) bool { return errors.Is(err, sql.ErrNoRows) }
