package parser

import (
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/bgde/vocab-platform/internal/search/tokenizer"
)

var quoted = regexp.MustCompile(`"([^"]+)"`)

// QueryPlan is a parsed search query. Phrases are quoted parts kept intact.
// Keywords are the phrases plus the whole remaining words; Terms are the
// phrases plus every term variant of those words and drive matching.
type QueryPlan struct {
	RawQuery string
	Phrases  []string
	Keywords []string
	Terms    []string
}

func (p *QueryPlan) Empty() bool { return len(p.Terms) == 0 }

func Parse(query string) *QueryPlan {
	plan := &QueryPlan{RawQuery: query}
	if strings.TrimSpace(query) == "" {
		return plan
	}

	for _, m := range quoted.FindAllStringSubmatch(query, -1) {
		if phrase := strings.TrimSpace(strings.ToLower(m[1])); long(phrase) {
			plan.Phrases = append(plan.Phrases, phrase)
		}
	}
	rest := strings.TrimSpace(quoted.ReplaceAllString(query, " "))

	plan.Keywords = dedupe(plan.Phrases, tokenizer.Words(rest))
	plan.Terms = dedupe(plan.Phrases, tokenizer.ExtractTerms(rest))
	return plan
}

func long(term string) bool {
	return utf8.RuneCountInString(term) >= tokenizer.MinWordLength
}

func dedupe(lists ...[]string) []string {
	var out []string
	seen := make(map[string]struct{})
	for _, list := range lists {
		for _, term := range list {
			if _, dup := seen[term]; dup || !long(term) {
				continue
			}
			seen[term] = struct{}{}
			out = append(out, term)
		}
	}
	return out
}
