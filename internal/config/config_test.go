package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"NewsDigest/internal/domain"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv(configPathEnv, "")
	t.Setenv(databaseDSNEnv, "")

	cfg := Load()

	assert.Equal(t, "sqlite3", cfg.Database.Driver)
	assert.Equal(t, 5, cfg.Digest.Params.TopN)
	assert.NotEmpty(t, cfg.Sources)
	assert.Equal(t, time.UTC.String(), cfg.Scheduler.Location().String())

	cat, err := cfg.Catalog()
	require.NoError(t, err)
	src, ok := cat.Get("EastRussia")
	require.True(t, ok)
	assert.Equal(t, domain.KindHTML, src.Kind)
}

func TestLoadMergesFileAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	raw := `
database:
  driver: postgres
  dsn: postgres://file/db
ingest:
  workers: 6
  articleTimeout: 3s
digest:
  params:
    topN: 7
    preferDays: 2
scheduler:
  timezone: Asia/Vladivostok
sources:
  - name: Local
    kind: rss
    url: http://localhost/feed.xml
    articleConcurrency: 3
`
	require.NoError(t, os.WriteFile(path, []byte(raw), 0o600))
	t.Setenv(configPathEnv, path)
	t.Setenv(databaseDSNEnv, "postgres://env/db")
	t.Setenv(redisURLEnv, "redis://cache:6379/1")

	cfg := Load()

	assert.Equal(t, "postgres", cfg.Database.Driver)
	assert.Equal(t, "postgres://env/db", cfg.Database.DSN)
	assert.Equal(t, "redis://cache:6379/1", cfg.Queue.RedisURL)
	assert.Equal(t, 6, cfg.Ingest.Workers)
	assert.Equal(t, 3*time.Second, cfg.Ingest.ArticleTimeout)
	// untouched defaults survive the merge
	assert.Equal(t, 8, cfg.Ingest.ArticleConcurrency)
	assert.Equal(t, 7, cfg.Digest.Params.TopN)
	assert.Equal(t, 2, cfg.Digest.Params.PreferDays)
	assert.Equal(t, 3, cfg.Digest.Params.MaxLookbackDays)
	require.Len(t, cfg.Sources, 1)

	cat, err := cfg.Catalog()
	require.NoError(t, err)
	src, _ := cat.Get("Local")
	limits := src.LimitsFor(cfg.Limits())
	assert.Equal(t, 6, limits.Workers)
	assert.Equal(t, 3, limits.ArticleConcurrency)
}

func TestLoadIgnoresBrokenFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "broken.yaml")
	require.NoError(t, os.WriteFile(path, []byte("database: [\n"), 0o600))
	t.Setenv(configPathEnv, path)
	t.Setenv(databaseDSNEnv, "")

	cfg := Load()
	assert.Equal(t, defaultConfig().Database.DSN, cfg.Database.DSN)
}

func TestCatalogRejectsUnknownKind(t *testing.T) {
	t.Parallel()

	cfg := Config{Sources: []SourceConfig{{Name: "x", Kind: "ftp", URL: "ftp://x"}}}
	_, err := cfg.Catalog()
	assert.Error(t, err)
}
