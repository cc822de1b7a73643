package scoring

import (
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"NewsDigest/internal/domain"
)

func TestNormalize(t *testing.T) {
	t.Parallel()

	got := Normalize("  Порт ВОСТОЧНЫЙ \n\t расширяет   ТЕРМИНАЛ ")
	assert.Equal(t, "порт восточный расширяет терминал", got)

	// NFKC folds compatibility forms such as full-width letters.
	assert.Equal(t, "abc", Normalize("ＡＢＣ"))
}

func TestFingerprintIgnoresCaseAndSpacing(t *testing.T) {
	t.Parallel()

	a := Fingerprint("Новый завод", "Строительство  завода\nначнется в мае")
	b := Fingerprint("НОВЫЙ ЗАВОД ", "строительство завода начнется в мае")
	assert.Equal(t, a, b)
	assert.Len(t, a, 64)

	c := Fingerprint("Новый завод", "Строительство завода начнется в июне")
	assert.NotEqual(t, a, c)
}

func TestScoreThresholds(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		text string
		dfo  int
		biz  int
	}{
		{name: "nothing", text: "погода в москве", dfo: 0, biz: 0},
		{name: "one each", text: "Хабаровск: новый завод", dfo: 1, biz: 1},
		{name: "two dfo", text: "Владивосток и Находка", dfo: 2, biz: 0},
		{
			name: "five business hits",
			text: "инвестиции в строительство, экспорт и кредит",
			dfo:  0,
			biz:  3,
		},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			s := Score(tc.text)
			assert.Equal(t, tc.dfo, s.DFO, "dfo score")
			assert.Equal(t, tc.biz, s.Business, "business score")
		})
	}
}

func TestScoreSaturatesAtFour(t *testing.T) {
	t.Parallel()

	text := strings.Join([]string{
		"инвестиции", "проект", "строительство", "завод", "контракт", "сделка", "прибыль", "выручка",
	}, " ")
	s := Score(text)
	assert.Equal(t, 4, s.Business)
	assert.GreaterOrEqual(t, s.Reasons[ReasonBusinessHits], 7)
}

func TestHasCompanyMatchesWholeWords(t *testing.T) {
	t.Parallel()

	assert.True(t, Score("ПАО «Газпром» подписало договор").HasCompany)
	assert.False(t, Score("госкорпорация Росатом").HasCompany)
	assert.True(t, Score("Корпорация развития региона").HasCompany)
	// "ао" inside another word does not count.
	assert.False(t, Score("заочный конкурс").HasCompany)
}

func TestContainsAny(t *testing.T) {
	t.Parallel()

	assert.True(t, ContainsAny("Обстрел в приграничье", DefaultExcludeTerms))
	assert.False(t, ContainsAny("Открытие терминала во Владивостоке", DefaultExcludeTerms))
	assert.False(t, ContainsAny("anything", nil))
}

func article(source string, kind domain.SourceKind, title, body string) domain.Article {
	return domain.Article{
		SourceName: source,
		SourceKind: kind,
		URL:        "https://example.com/" + source + "?utm_source=x",
		Title:      title,
		Body:       body,
		FetchedAt:  time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC),
	}
}

func TestEvaluateRejectsShortContent(t *testing.T) {
	t.Parallel()

	long := strings.Repeat("Приморье строит порт. ", 10)

	ev := Evaluate(article("tass", domain.KindRSS, "Порт", long), nil)
	assert.Equal(t, Rejected, ev.Verdict)

	ev = Evaluate(article("tass", domain.KindRSS, "Новости порта", "коротко"), nil)
	assert.Equal(t, Rejected, ev.Verdict)

	// 100 runes passes for feeds but not for scraped pages.
	body := strings.Repeat("а", 100)
	assert.Equal(t, Accepted, Evaluate(article("tass", domain.KindRSS, "Новости порта", body), nil).Verdict)
	assert.Equal(t, Rejected, Evaluate(article("er", domain.KindHTML, "Новости порта", body), nil).Verdict)
}

func TestEvaluateCrossSourceDuplicate(t *testing.T) {
	t.Parallel()

	body := strings.Repeat("Во Владивостоке построят новый терминал для экспорта угля. ", 3)
	seen := NewSeenSet()

	first := Evaluate(article("tass", domain.KindRSS, "Новый терминал", body), seen)
	second := Evaluate(article("dvnovosti", domain.KindRSS, "НОВЫЙ  терминал", body), seen)

	require.Equal(t, Accepted, first.Verdict)
	require.Equal(t, Duplicate, second.Verdict)
	assert.Equal(t, first.Item.Fingerprint, second.Item.Fingerprint)
	assert.Equal(t, "https://example.com/tass", first.Item.URLCanon)
	assert.Equal(t, 1, first.Item.DFOScore)
	assert.Equal(t, 2, first.Item.BusinessScore)
}

func TestSeenSetConcurrentAdd(t *testing.T) {
	t.Parallel()

	seen := NewSeenSet()
	var (
		wg    sync.WaitGroup
		mu    sync.Mutex
		fresh int
	)
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if seen.Add("same") {
				mu.Lock()
				fresh++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, fresh)
	assert.Equal(t, 1, seen.Len())
}

func TestCanonicalizeURL(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"https://tass.ru/ekonomika/1?utm_source=rss&utm_medium=feed": "https://tass.ru/ekonomika/1",
		"https://tass.ru/a?id=5&gclid=abc#comments":                  "https://tass.ru/a?id=5",
		"https://tass.ru/a?FBCLID=1&yclid=2&page=2":                  "https://tass.ru/a?page=2",
		"https://tass.ru/plain":                                      "https://tass.ru/plain",
	}
	for in, want := range cases {
		assert.Equal(t, want, CanonicalizeURL(in), in)
	}
}
