package scanner

import (
	"fmt"

	"NewsDigest/internal/catalog"
	"NewsDigest/internal/domain"
	"NewsDigest/internal/ports"
)

// Strategy discovers and fetches articles of one configured source.
type Strategy interface {
	ports.LinkDiscoverer
	ports.ArticleFetcher
}

// Factory builds strategies for one source kind (rss, html, export).
type Factory interface {
	Kind() domain.SourceKind
	Build(src catalog.Source) (Strategy, error)
}

// Registry keeps a mapping from source kinds to their factories.
type Registry struct {
	factories map[domain.SourceKind]Factory
}

// NewRegistry builds an empty registry.
func NewRegistry() *Registry {
	return &Registry{factories: map[domain.SourceKind]Factory{}}
}

// Register adds or replaces a factory.
func (r *Registry) Register(factory Factory) {
	if r.factories == nil {
		r.factories = map[domain.SourceKind]Factory{}
	}
	r.factories[factory.Kind()] = factory
}

// Resolve returns a factory by kind or an error if it is absent.
func (r *Registry) Resolve(kind domain.SourceKind) (Factory, error) {
	if factory, ok := r.factories[kind]; ok {
		return factory, nil
	}
	return nil, fmt.Errorf("scanner %s is not registered", kind)
}

// Build resolves the source kind and constructs its strategy.
func (r *Registry) Build(src catalog.Source) (Strategy, error) {
	factory, err := r.Resolve(src.Kind)
	if err != nil {
		return nil, fmt.Errorf("source %s: %w", src.Name, err)
	}
	strategy, err := factory.Build(src)
	if err != nil {
		return nil, fmt.Errorf("build strategy %s: %w", src.Name, err)
	}
	return strategy, nil
}
