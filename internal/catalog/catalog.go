// Package catalog holds the static list of configured news sources.
package catalog

import (
	"fmt"
	"time"

	"NewsDigest/internal/domain"
)

// Source is one configured content origin.
type Source struct {
	Name         string
	Kind         domain.SourceKind
	URL          string
	LinkSelector string
	BodySelector string
	// Enrich downloads the article page for feed entries.
	Enrich             bool
	Workers            int
	ArticleConcurrency int
	RatePerSecond      float64
	Options            map[string]string
}

// Limits resolves per-source pool sizes against the global defaults.
type Limits struct {
	Workers            int
	ArticleConcurrency int
	RatePerSecond      float64
	ArticleTimeout     time.Duration
}

// Catalog is an ordered, name-indexed set of sources.
type Catalog struct {
	sources []Source
	byName  map[string]int
}

// New validates names and keeps the given order.
func New(sources []Source) (*Catalog, error) {
	c := &Catalog{byName: make(map[string]int, len(sources))}
	for _, src := range sources {
		if src.Name == "" {
			return nil, fmt.Errorf("source with url %q has no name", src.URL)
		}
		if _, dup := c.byName[src.Name]; dup {
			return nil, fmt.Errorf("duplicate source %q", src.Name)
		}
		switch src.Kind {
		case domain.KindRSS, domain.KindHTML, domain.KindExport:
		default:
			return nil, fmt.Errorf("source %q: unknown kind %q", src.Name, src.Kind)
		}
		c.byName[src.Name] = len(c.sources)
		c.sources = append(c.sources, src)
	}
	return c, nil
}

// Get returns a source by name.
func (c *Catalog) Get(name string) (Source, bool) {
	idx, ok := c.byName[name]
	if !ok {
		return Source{}, false
	}
	return c.sources[idx], true
}

// Names lists source names in catalog order.
func (c *Catalog) Names() []string {
	names := make([]string, 0, len(c.sources))
	for _, src := range c.sources {
		names = append(names, src.Name)
	}
	return names
}

// All returns a copy of the configured sources.
func (c *Catalog) All() []Source {
	out := make([]Source, len(c.sources))
	copy(out, c.sources)
	return out
}

// Resolve picks the source set of a job. An empty request means every source.
func (c *Catalog) Resolve(requested []string) ([]string, error) {
	if len(requested) == 0 {
		requested = c.Names()
	}
	if len(requested) == 0 {
		return nil, fmt.Errorf("no sources configured: %w", domain.ErrConfiguration)
	}
	seen := make(map[string]struct{}, len(requested))
	out := make([]string, 0, len(requested))
	for _, name := range requested {
		if _, ok := c.byName[name]; !ok {
			return nil, fmt.Errorf("unknown source %q: %w", name, domain.ErrConfiguration)
		}
		if _, dup := seen[name]; dup {
			continue
		}
		seen[name] = struct{}{}
		out = append(out, name)
	}
	return out, nil
}

// LimitsFor applies the source overrides on top of defaults.
func (s Source) LimitsFor(defaults Limits) Limits {
	out := defaults
	if s.Workers > 0 {
		out.Workers = s.Workers
	}
	if s.ArticleConcurrency > 0 {
		out.ArticleConcurrency = s.ArticleConcurrency
	}
	if s.RatePerSecond > 0 {
		out.RatePerSecond = s.RatePerSecond
	}
	if out.Workers < 1 {
		out.Workers = 1
	}
	if out.ArticleConcurrency < 1 {
		out.ArticleConcurrency = 1
	}
	return out
}
