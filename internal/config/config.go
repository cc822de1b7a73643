package config

import (
	"fmt"
	"log"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"NewsDigest/internal/catalog"
	"NewsDigest/internal/domain"
	"NewsDigest/internal/scoring"
)

const (
	defaultTimezone   = "UTC"
	configPathEnv     = "NEWSDIGEST_CONFIG"
	databaseDriverEnv = "DATABASE_DRIVER"
	databaseDSNEnv    = "DATABASE_DSN"
	redisURLEnv       = "REDIS_URL"
	httpAddrEnv       = "HTTP_ADDR"
	logLevelEnv       = "LOG_LEVEL"
	chatGPTAPIKeyEnv  = "CHATGPT_API_KEY"
	chatGPTModelEnv   = "CHATGPT_MODEL"
	geminiAPIKeyEnv   = "GEMINI_API_KEY"
	telegramTokenEnv  = "TELEGRAM_BOT_TOKEN"
	telegramChatIDEnv = "TELEGRAM_CHAT_ID"
)

// Config holds high-level settings required across the application.
type Config struct {
	Logging       LoggingConfig      `yaml:"logging"`
	Database      DatabaseConfig     `yaml:"database"`
	Queue         QueueConfig        `yaml:"queue"`
	HTTP          HTTPConfig         `yaml:"http"`
	Ingest        IngestConfig       `yaml:"ingest"`
	Digest        DigestConfig       `yaml:"digest"`
	Scheduler     SchedulerConfig    `yaml:"scheduler"`
	Notifications NotificationConfig `yaml:"notifications"`
	ChatGPT       ChatGPTConfig      `yaml:"chatgpt"`
	Gemini        GeminiConfig       `yaml:"gemini"`
	Sources       []SourceConfig     `yaml:"sources"`
}

// LoggingConfig selects level and handler format ("text" or "json").
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// DatabaseConfig selects the SQL driver ("sqlite3" or "postgres") and its DSN.
type DatabaseConfig struct {
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`
}

// QueueConfig selects the task broker ("redis" or "memory").
type QueueConfig struct {
	Driver         string        `yaml:"driver"`
	RedisURL       string        `yaml:"redisUrl"`
	Prefix         string        `yaml:"prefix"`
	ReceiveTimeout time.Duration `yaml:"receiveTimeout"`
}

type HTTPConfig struct {
	Addr string `yaml:"addr"`
}

// IngestConfig holds worker defaults; sources may override pool sizes and rate.
type IngestConfig struct {
	Workers            int           `yaml:"workers"`
	ArticleConcurrency int           `yaml:"articleConcurrency"`
	ArticleTimeout     time.Duration `yaml:"articleTimeout"`
	Retries            int           `yaml:"retries"`
	RetryBackoff       time.Duration `yaml:"retryBackoff"`
	JobTimeout         time.Duration `yaml:"jobTimeout"`
	RatePerSecond      float64       `yaml:"ratePerSecond"`
	WriterBuffer       int           `yaml:"writerBuffer"`
	DefaultLimit       int           `yaml:"defaultLimit"`
	UserAgent          string        `yaml:"userAgent"`
}

// DigestConfig holds the default selection parameters and script provider.
type DigestConfig struct {
	Params         domain.DigestParams `yaml:"params"`
	ScriptProvider string              `yaml:"scriptProvider"`
}

// SchedulerConfig defines when an ingest job is triggered automatically.
type SchedulerConfig struct {
	Enabled  bool           `yaml:"enabled"`
	Interval time.Duration  `yaml:"interval"`
	Timezone string         `yaml:"timezone"`
	Sources  []string       `yaml:"sources"`
	Limit    int            `yaml:"limit"`
	location *time.Location `yaml:"-"`
}

// Location resolves the scheduler timezone string to a time.Location.
func (s SchedulerConfig) Location() *time.Location {
	if s.location != nil {
		return s.location
	}
	loc, _ := time.LoadLocation(defaultTimezone)
	return loc
}

// NotificationConfig encapsulates outbound channels (Telegram, etc.).
type NotificationConfig struct {
	Telegram TelegramConfig `yaml:"telegram"`
}

// TelegramConfig wires all data required to send messages.
type TelegramConfig struct {
	BotToken string `yaml:"botToken"`
	ChatID   string `yaml:"chatId"`
}

// ChatGPTConfig defines how to contact an OpenAI-compatible chat API.
type ChatGPTConfig struct {
	Endpoint     string `yaml:"endpoint"`
	Model        string `yaml:"model"`
	APIKey       string `yaml:"apiKey"`
	SystemPrompt string `yaml:"systemPrompt"`
}

type GeminiConfig struct {
	Model  string `yaml:"model"`
	APIKey string `yaml:"apiKey"`
}

// SourceConfig describes a single source with its discovery strategy.
type SourceConfig struct {
	Name               string            `yaml:"name"`
	Kind               string            `yaml:"kind"`
	URL                string            `yaml:"url"`
	LinkSelector       string            `yaml:"linkSelector"`
	BodySelector       string            `yaml:"bodySelector"`
	Enrich             bool              `yaml:"enrich"`
	Workers            int               `yaml:"workers"`
	ArticleConcurrency int               `yaml:"articleConcurrency"`
	RatePerSecond      float64           `yaml:"ratePerSecond"`
	Options            map[string]string `yaml:"options"`
}

// Load reads YAML configuration (if present) and applies environment overrides.
func Load() Config {
	cfg := defaultConfig()

	if path := os.Getenv(configPathEnv); path != "" {
		if raw, err := os.ReadFile(path); err != nil {
			log.Printf("config: cannot read %s: %v (falling back to defaults)", path, err)
		} else {
			var fileCfg Config
			if err := yaml.Unmarshal(raw, &fileCfg); err != nil {
				log.Printf("config: cannot parse %s: %v (falling back to defaults)", path, err)
			} else {
				cfg = mergeConfig(cfg, fileCfg)
			}
		}
	}

	cfg.applyEnvOverrides()
	cfg.bindTimezone()

	if len(cfg.Sources) == 0 {
		cfg.Sources = defaultConfig().Sources
	}

	return cfg
}

// Catalog converts the configured sources into the runtime catalog.
func (c Config) Catalog() (*catalog.Catalog, error) {
	sources := make([]catalog.Source, 0, len(c.Sources))
	for _, s := range c.Sources {
		sources = append(sources, catalog.Source{
			Name:               s.Name,
			Kind:               domain.SourceKind(s.Kind),
			URL:                s.URL,
			LinkSelector:       s.LinkSelector,
			BodySelector:       s.BodySelector,
			Enrich:             s.Enrich,
			Workers:            s.Workers,
			ArticleConcurrency: s.ArticleConcurrency,
			RatePerSecond:      s.RatePerSecond,
			Options:            s.Options,
		})
	}
	cat, err := catalog.New(sources)
	if err != nil {
		return nil, fmt.Errorf("build catalog: %w", err)
	}
	return cat, nil
}

// Limits returns the global worker defaults.
func (c Config) Limits() catalog.Limits {
	return catalog.Limits{
		Workers:            c.Ingest.Workers,
		ArticleConcurrency: c.Ingest.ArticleConcurrency,
		RatePerSecond:      c.Ingest.RatePerSecond,
		ArticleTimeout:     c.Ingest.ArticleTimeout,
	}
}

func (c *Config) applyEnvOverrides() {
	if v := os.Getenv(databaseDriverEnv); v != "" {
		c.Database.Driver = v
	}

	if v := os.Getenv(databaseDSNEnv); v != "" {
		c.Database.DSN = v
	}

	if v := os.Getenv(redisURLEnv); v != "" {
		c.Queue.RedisURL = v
	}

	if v := os.Getenv(httpAddrEnv); v != "" {
		c.HTTP.Addr = v
	}

	if v := os.Getenv(logLevelEnv); v != "" {
		c.Logging.Level = v
	}

	if v := os.Getenv(telegramTokenEnv); v != "" {
		c.Notifications.Telegram.BotToken = v
	}

	if v := os.Getenv(telegramChatIDEnv); v != "" {
		c.Notifications.Telegram.ChatID = v
	}

	if v := os.Getenv(chatGPTAPIKeyEnv); v != "" {
		c.ChatGPT.APIKey = v
	}

	if v := os.Getenv(chatGPTModelEnv); v != "" {
		c.ChatGPT.Model = v
	}

	if v := os.Getenv(geminiAPIKeyEnv); v != "" {
		c.Gemini.APIKey = v
	}
}

func (c *Config) bindTimezone() {
	tz := c.Scheduler.Timezone
	if tz == "" {
		tz = defaultTimezone
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		log.Printf("config: unknown timezone %s, reverting to %s", tz, defaultTimezone)
		loc, _ = time.LoadLocation(defaultTimezone)
	}
	c.Scheduler.location = loc
}

func mergeConfig(base, override Config) Config {
	if override.Logging.Level != "" {
		base.Logging.Level = override.Logging.Level
	}
	if override.Logging.Format != "" {
		base.Logging.Format = override.Logging.Format
	}

	if override.Database.Driver != "" {
		base.Database.Driver = override.Database.Driver
	}
	if override.Database.DSN != "" {
		base.Database.DSN = override.Database.DSN
	}

	if override.Queue.Driver != "" {
		base.Queue.Driver = override.Queue.Driver
	}
	if override.Queue.RedisURL != "" {
		base.Queue.RedisURL = override.Queue.RedisURL
	}
	if override.Queue.Prefix != "" {
		base.Queue.Prefix = override.Queue.Prefix
	}
	if override.Queue.ReceiveTimeout > 0 {
		base.Queue.ReceiveTimeout = override.Queue.ReceiveTimeout
	}

	if override.HTTP.Addr != "" {
		base.HTTP.Addr = override.HTTP.Addr
	}

	base.Ingest = mergeIngest(base.Ingest, override.Ingest)
	base.Digest = mergeDigest(base.Digest, override.Digest)

	if override.Scheduler.Enabled {
		base.Scheduler.Enabled = true
	}
	if override.Scheduler.Interval > 0 {
		base.Scheduler.Interval = override.Scheduler.Interval
	}
	if override.Scheduler.Timezone != "" {
		base.Scheduler.Timezone = override.Scheduler.Timezone
	}
	if len(override.Scheduler.Sources) > 0 {
		base.Scheduler.Sources = override.Scheduler.Sources
	}
	if override.Scheduler.Limit > 0 {
		base.Scheduler.Limit = override.Scheduler.Limit
	}

	if override.Notifications.Telegram.BotToken != "" {
		base.Notifications.Telegram.BotToken = override.Notifications.Telegram.BotToken
	}
	if override.Notifications.Telegram.ChatID != "" {
		base.Notifications.Telegram.ChatID = override.Notifications.Telegram.ChatID
	}

	if override.ChatGPT.Endpoint != "" {
		base.ChatGPT.Endpoint = override.ChatGPT.Endpoint
	}
	if override.ChatGPT.Model != "" {
		base.ChatGPT.Model = override.ChatGPT.Model
	}
	if override.ChatGPT.APIKey != "" {
		base.ChatGPT.APIKey = override.ChatGPT.APIKey
	}
	if override.ChatGPT.SystemPrompt != "" {
		base.ChatGPT.SystemPrompt = override.ChatGPT.SystemPrompt
	}

	if override.Gemini.Model != "" {
		base.Gemini.Model = override.Gemini.Model
	}
	if override.Gemini.APIKey != "" {
		base.Gemini.APIKey = override.Gemini.APIKey
	}

	if len(override.Sources) > 0 {
		base.Sources = override.Sources
	}

	return base
}

func mergeIngest(base, override IngestConfig) IngestConfig {
	if override.Workers > 0 {
		base.Workers = override.Workers
	}
	if override.ArticleConcurrency > 0 {
		base.ArticleConcurrency = override.ArticleConcurrency
	}
	if override.ArticleTimeout > 0 {
		base.ArticleTimeout = override.ArticleTimeout
	}
	if override.Retries > 0 {
		base.Retries = override.Retries
	}
	if override.RetryBackoff > 0 {
		base.RetryBackoff = override.RetryBackoff
	}
	if override.JobTimeout > 0 {
		base.JobTimeout = override.JobTimeout
	}
	if override.RatePerSecond > 0 {
		base.RatePerSecond = override.RatePerSecond
	}
	if override.WriterBuffer > 0 {
		base.WriterBuffer = override.WriterBuffer
	}
	if override.DefaultLimit > 0 {
		base.DefaultLimit = override.DefaultLimit
	}
	if override.UserAgent != "" {
		base.UserAgent = override.UserAgent
	}
	return base
}

func mergeDigest(base, override DigestConfig) DigestConfig {
	p, o := &base.Params, override.Params
	if o.TopN > 0 {
		p.TopN = o.TopN
	}
	if o.MinBusiness > 0 {
		p.MinBusiness = o.MinBusiness
	}
	if o.MinDFO > 0 {
		p.MinDFO = o.MinDFO
	}
	if o.MinInterest > 0 {
		p.MinInterest = o.MinInterest
	}
	if o.PreferDays > 0 {
		p.PreferDays = o.PreferDays
	}
	if o.MaxLookbackDays > 0 {
		p.MaxLookbackDays = o.MaxLookbackDays
	}
	if len(o.ExcludeTerms) > 0 {
		p.ExcludeTerms = o.ExcludeTerms
	}
	if o.ExcludeUsed {
		p.ExcludeUsed = true
	}
	if override.ScriptProvider != "" {
		base.ScriptProvider = override.ScriptProvider
	}
	return base
}

func defaultConfig() Config {
	tz, _ := time.LoadLocation(defaultTimezone)
	return Config{
		Logging:  LoggingConfig{Level: "info", Format: "text"},
		Database: DatabaseConfig{Driver: "sqlite3", DSN: "file:newsdigest.db?_journal_mode=WAL&_busy_timeout=5000"},
		Queue: QueueConfig{
			Driver:         "redis",
			RedisURL:       "redis://localhost:6379/0",
			Prefix:         "newsdigest",
			ReceiveTimeout: 5 * time.Second,
		},
		HTTP: HTTPConfig{Addr: ":8080"},
		Ingest: IngestConfig{
			Workers:            2,
			ArticleConcurrency: 8,
			ArticleTimeout:     25 * time.Second,
			Retries:            2,
			RetryBackoff:       500 * time.Millisecond,
			JobTimeout:         15 * time.Minute,
			RatePerSecond:      4,
			WriterBuffer:       256,
			DefaultLimit:       30,
			UserAgent:          "newsdigest/1.0",
		},
		Digest: DigestConfig{
			Params: domain.DigestParams{
				TopN:            5,
				MinBusiness:     1,
				MinDFO:          1,
				MinInterest:     0,
				PreferDays:      1,
				MaxLookbackDays: 3,
				ExcludeTerms:    scoring.DefaultExcludeTerms,
				ExcludeUsed:     true,
			},
			ScriptProvider: "chatgpt",
		},
		Scheduler: SchedulerConfig{Interval: time.Hour, Timezone: defaultTimezone, location: tz, Limit: 30},
		Notifications: NotificationConfig{
			Telegram: TelegramConfig{BotToken: "", ChatID: ""},
		},
		ChatGPT: ChatGPTConfig{
			Endpoint:     "https://api.openai.com/v1/chat/completions",
			Model:        "gpt-4o-mini",
			APIKey:       "",
			SystemPrompt: "Ты редактор делового выпуска новостей Дальнего Востока. Пиши кратко и нейтрально.",
		},
		Gemini: GeminiConfig{Model: "gemini-1.5-flash"},
		Sources: []SourceConfig{
			{Name: "TASS", Kind: "rss", URL: "https://tass.ru/rss/v2.xml", Enrich: true},
			{Name: "Vedomosti Economics", Kind: "rss", URL: "https://www.vedomosti.ru/rss/rubric/economics", Enrich: true},
			{Name: "DVnovosti", Kind: "rss", URL: "https://www.dvnovosti.ru/rss/", Enrich: true},
			{Name: "RBC Export", Kind: "export", URL: "https://rssexport.rbc.ru/rbcnews/news/30/full.rss"},
			{
				Name: "EastRussia",
				Kind: "html",
				URL:  "https://www.eastrussia.ru/news/",
				Options: map[string]string{
					"pathPrefixes": "/news/,/economics/,/business/,/peoples/,/material/",
					"pathSegments": "2",
				},
			},
			{Name: "RG/doc", Kind: "html", URL: "https://rg.ru/doc"},
			{Name: "Forbes Russia", Kind: "html", URL: "https://www.forbes.ru/"},
		},
	}
}
