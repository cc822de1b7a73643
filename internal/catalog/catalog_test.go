package catalog

import (
	"errors"
	"testing"

	"NewsDigest/internal/domain"
)

func testCatalog(t *testing.T) *Catalog {
	t.Helper()
	c, err := New([]Source{
		{Name: "TASS", Kind: domain.KindRSS, URL: "https://tass.ru/rss/v2.xml"},
		{Name: "EastRussia", Kind: domain.KindHTML, URL: "https://www.eastrussia.ru/news/", Workers: 3},
	})
	if err != nil {
		t.Fatalf("new catalog: %v", err)
	}
	return c
}

func TestResolveDefaultsToAllSources(t *testing.T) {
	t.Parallel()

	got, err := testCatalog(t).Resolve(nil)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if len(got) != 2 || got[0] != "TASS" || got[1] != "EastRussia" {
		t.Fatalf("unexpected sources: %v", got)
	}
}

func TestResolveUnknownSource(t *testing.T) {
	t.Parallel()

	_, err := testCatalog(t).Resolve([]string{"TASS", "Nope"})
	if !errors.Is(err, domain.ErrConfiguration) {
		t.Fatalf("expected configuration error, got %v", err)
	}
}

func TestResolveEmptyCatalog(t *testing.T) {
	t.Parallel()

	c, err := New(nil)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if _, err := c.Resolve(nil); !errors.Is(err, domain.ErrConfiguration) {
		t.Fatalf("expected configuration error, got %v", err)
	}
}

func TestNewRejectsDuplicates(t *testing.T) {
	t.Parallel()

	_, err := New([]Source{
		{Name: "A", Kind: domain.KindRSS},
		{Name: "A", Kind: domain.KindHTML},
	})
	if err == nil {
		t.Fatal("expected duplicate error")
	}
}

func TestLimitsFor(t *testing.T) {
	t.Parallel()

	src, _ := testCatalog(t).Get("EastRussia")
	limits := src.LimitsFor(Limits{Workers: 1, ArticleConcurrency: 4, RatePerSecond: 2})
	if limits.Workers != 3 || limits.ArticleConcurrency != 4 || limits.RatePerSecond != 2 {
		t.Fatalf("unexpected limits: %+v", limits)
	}
}
