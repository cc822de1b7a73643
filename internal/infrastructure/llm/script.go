package llm

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"

	"NewsDigest/internal/domain"
)

const (
	SegmentIntro = "intro"
	SegmentItem  = "item"
	SegmentOutro = "outro"

	maxItemRunes = 280
)

var labelRe = regexp.MustCompile(`(?i)^\s*(INTRO|OUTRO|ITEM\s*(\d+))\s*:\s?(.*)$`)

// buildPrompt lists the ranked digest items and fixes the reply layout.
func buildPrompt(digest domain.Digest) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Подготовь текст для озвучки делового дайджеста за %s.\n\n", digest.Day.Format(domain.DayLayout))
	sb.WriteString("НОВОСТИ:\n")
	for _, item := range digest.Items {
		fmt.Fprintf(&sb, "%d. %s (%s)\n", item.Rank, clip(item.Title, maxItemRunes), item.SourceName)
	}
	sb.WriteString("\nФОРМАТ ОТВЕТА строго по шаблону:\n")
	sb.WriteString("INTRO: <короткое вступление>\n")
	for _, item := range digest.Items {
		fmt.Fprintf(&sb, "ITEM %d: <2-3 предложения о новости %d>\n", item.Rank, item.Rank)
	}
	sb.WriteString("OUTRO: <короткое завершение>\n")
	return sb.String()
}

// parseSegments splits a labelled reply into script segments. Unlabelled
// text before the first label becomes the intro.
func parseSegments(reply string) []domain.ScriptSegment {
	var (
		segments []domain.ScriptSegment
		current  *domain.ScriptSegment
	)
	flush := func() {
		if current == nil {
			return
		}
		current.Text = strings.TrimSpace(current.Text)
		if current.Text != "" {
			segments = append(segments, *current)
		}
		current = nil
	}

	for _, line := range strings.Split(strings.ReplaceAll(reply, "\r", ""), "\n") {
		m := labelRe.FindStringSubmatch(line)
		if m == nil {
			if strings.TrimSpace(line) == "" {
				continue
			}
			if current == nil {
				current = &domain.ScriptSegment{Kind: SegmentIntro}
			}
			current.Text += " " + strings.TrimSpace(line)
			continue
		}
		flush()
		label := strings.ToUpper(m[1])
		switch {
		case label == "INTRO":
			current = &domain.ScriptSegment{Kind: SegmentIntro}
		case label == "OUTRO":
			current = &domain.ScriptSegment{Kind: SegmentOutro}
		default:
			rank, _ := strconv.Atoi(m[2])
			current = &domain.ScriptSegment{Kind: SegmentItem, Rank: rank}
		}
		current.Text = m[3]
	}
	flush()
	return segments
}

func clip(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n]) + "…"
}
