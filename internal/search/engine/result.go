package engine

import (
	"regexp"
	"strings"
	"unicode"

	"github.com/bgde/vocab-platform/internal/search/ranker"
)

const (
	snippetLength     = 200
	maxContentMatches = 5
)

var sentenceEnd = regexp.MustCompile(`[!.?]+`)

func buildResult(m *ranker.Match, terms []string) Result {
	d := m.Doc
	return Result{
		ID:         d.ID,
		Type:       d.Type,
		Title:      d.Title,
		Snippet:    snippet(d.Content, terms),
		Category:   d.Category,
		Level:      d.Level,
		URL:        d.URL,
		Score:      m.Score,
		Highlights: highlights(d.Title, d.Content, terms),
		Data:       d.Data,
	}
}

// snippet returns the sentence containing the most query terms, cut to
// snippetLength runes. Without any matching sentence it falls back to the
// start of the content.
func snippet(content string, terms []string) string {
	best, bestHits := "", 0
	for _, sentence := range sentenceEnd.Split(content, -1) {
		lower := strings.ToLower(sentence)
		hits := 0
		for _, term := range terms {
			if strings.Contains(lower, term) {
				hits++
			}
		}
		if hits > bestHits {
			best, bestHits = strings.TrimSpace(sentence), hits
		}
	}
	if best == "" {
		best = strings.TrimSpace(content)
	}
	return truncate(best, snippetLength)
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}

func highlights(title, content string, terms []string) []Highlight {
	out := []Highlight{}
	for _, term := range terms {
		inTitle := wordMatches(title, term, 0)
		inContent := wordMatches(content, term, maxContentMatches)
		if len(inTitle) == 0 && len(inContent) == 0 {
			continue
		}
		out = append(out, Highlight{Term: term, TitleMatches: inTitle, ContentMatches: inContent})
	}
	return out
}

func isWordRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_'
}

// wordMatches finds case-insensitive occurrences of term that start at a word
// boundary and returns each extended to the end of its word, as written in
// text. limit <= 0 means no limit.
func wordMatches(text, term string, limit int) []string {
	t := []rune(term)
	if len(t) == 0 {
		return []string{}
	}
	r := []rune(text)
	out := []string{}
	for i := 0; i+len(t) <= len(r); {
		if (i > 0 && isWordRune(r[i-1])) || !prefixFold(r[i:], t) {
			i++
			continue
		}
		j := i + len(t)
		for j < len(r) && isWordRune(r[j]) {
			j++
		}
		out = append(out, string(r[i:j]))
		if limit > 0 && len(out) >= limit {
			break
		}
		i = j
	}
	return out
}

func prefixFold(s, prefix []rune) bool {
	for k, p := range prefix {
		if unicode.ToLower(s[k]) != p {
			return false
		}
	}
	return true
}
