package scanner

import (
	"context"
	"strings"
	"testing"

	"NewsDigest/internal/catalog"
	"NewsDigest/internal/domain"
)

type stubStrategy struct{ name string }

func (s stubStrategy) Discover(context.Context, int) ([]domain.Link, error) { return nil, nil }

func (s stubStrategy) Fetch(_ context.Context, link domain.Link) (domain.Article, error) {
	return domain.Article{SourceName: s.name, URL: link.URL}, nil
}

type stubFactory struct{ kind domain.SourceKind }

func (f stubFactory) Kind() domain.SourceKind { return f.kind }

func (f stubFactory) Build(src catalog.Source) (Strategy, error) {
	return stubStrategy{name: src.Name}, nil
}

func TestRegistryBuild(t *testing.T) {
	t.Parallel()

	reg := NewRegistry()
	reg.Register(stubFactory{kind: domain.KindRSS})

	strategy, err := reg.Build(catalog.Source{Name: "TASS", Kind: domain.KindRSS})
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	article, _ := strategy.Fetch(context.Background(), domain.Link{URL: "https://tass.ru/1"})
	if article.SourceName != "TASS" {
		t.Fatalf("unexpected source: %s", article.SourceName)
	}
}

func TestRegistryMissingKind(t *testing.T) {
	t.Parallel()

	var reg Registry
	_, err := reg.Build(catalog.Source{Name: "Forbes", Kind: domain.KindHTML})
	if err == nil || !strings.Contains(err.Error(), "scanner html is not registered") {
		t.Fatalf("unexpected error: %v", err)
	}
}
