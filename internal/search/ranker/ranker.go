// Package ranker scores documents against query terms and orders the
// matches.
package ranker

import (
	"math"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/bgde/vocab-platform/internal/search/fuzzy"
	"github.com/bgde/vocab-platform/internal/search/index"
	"github.com/bgde/vocab-platform/internal/search/tokenizer"
	"golang.org/x/text/collate"
	"golang.org/x/text/language"
)

type SortBy string

const (
	SortRelevance    SortBy = "relevance"
	SortAlphabetical SortBy = "alphabetical"
	SortDifficulty   SortBy = "difficulty"
)

const (
	titleExactBoost    = 2.0
	titleFuzzyBoost    = 1.5
	vocabularyBoost    = 1.2
	titleMatchBoost    = 1.5
	maxDifficultyBoost = 6.0
)

// Match is a document with its accumulated score. TermScores holds the score
// contributed by each query term that hit the document.
type Match struct {
	Doc        *index.Document
	Score      float64
	TermScores map[string]float64
}

// TermMatches scores every document containing term or, for terms of at least
// fuzzy.MinTermLength runes, a fuzzy variant of it. A document keeps the best
// of its exact and fuzzy scores.
func TermMatches(ix *index.Index, term string) map[string]float64 {
	matches := make(map[string]float64)
	for _, p := range ix.Lookup(term) {
		matches[p.DocID] = float64(p.Frequency) * boost(p.InTitle, titleExactBoost)
	}

	n := utf8.RuneCountInString(term)
	if n < fuzzy.MinTermLength {
		return matches
	}
	for _, candidate := range ix.TermsNear(n, fuzzy.MaxLengthDiff) {
		if candidate == term || !fuzzy.IsMatch(term, candidate) {
			continue
		}
		fs := fuzzy.Score(term, candidate)
		for _, p := range ix.Lookup(candidate) {
			score := float64(p.Frequency) * fs * boost(p.InTitle, titleFuzzyBoost)
			if score > matches[p.DocID] {
				matches[p.DocID] = score
			}
		}
	}
	return matches
}

// FindMatches sums term scores for every document accepted by keep and
// converts them into final relevance scores.
func FindMatches(ix *index.Index, terms []string, keep func(*index.Document) bool) []*Match {
	byDoc := make(map[string]*Match)
	for _, term := range terms {
		for docID, score := range TermMatches(ix, term) {
			m, ok := byDoc[docID]
			if !ok {
				doc, found := ix.Document(docID)
				if !found || (keep != nil && !keep(doc)) {
					continue
				}
				m = &Match{Doc: doc, TermScores: make(map[string]float64)}
				byDoc[docID] = m
			}
			m.Score += score
			m.TermScores[term] = score
		}
	}

	matches := make([]*Match, 0, len(byDoc))
	for _, m := range byDoc {
		m.Score = Relevance(m.Doc, m.Score, terms)
		matches = append(matches, m)
	}
	return matches
}

// Relevance applies the document boosts to a raw term score and normalizes
// by the number of query terms.
func Relevance(doc *index.Document, raw float64, terms []string) float64 {
	score := raw
	if doc.Type == index.TypeVocabulary {
		score *= vocabularyBoost
	}
	if doc.Difficulty > 0 {
		score *= (maxDifficultyBoost - float64(doc.Difficulty)) / 5
	}
	if doc.Frequency > 0 {
		score *= math.Log(float64(doc.Frequency) + 1)
	}
	if titleOverlaps(doc.Title, terms) {
		score *= titleMatchBoost
	}
	return score / float64(max(1, len(terms)))
}

func titleOverlaps(title string, terms []string) bool {
	titleTerms := tokenizer.ExtractTerms(title)
	for _, term := range terms {
		for _, tt := range titleTerms {
			if strings.Contains(tt, term) || strings.Contains(term, tt) {
				return true
			}
		}
	}
	return false
}

func boost(cond bool, factor float64) float64 {
	if cond {
		return factor
	}
	return 1
}

// Sort orders matches in place. Unknown modes sort by relevance. Ties are
// broken by document ID so that results are stable across runs.
func Sort(matches []*Match, by SortBy) {
	switch by {
	case SortAlphabetical:
		col := collate.New(language.Und, collate.IgnoreCase)
		sort.SliceStable(matches, func(i, j int) bool {
			if c := col.CompareString(matches[i].Doc.Title, matches[j].Doc.Title); c != 0 {
				return c < 0
			}
			return matches[i].Doc.ID < matches[j].Doc.ID
		})
	case SortDifficulty:
		sort.SliceStable(matches, func(i, j int) bool {
			di, dj := difficulty(matches[i].Doc), difficulty(matches[j].Doc)
			if di != dj {
				return di < dj
			}
			return byScore(matches[i], matches[j])
		})
	default:
		sort.SliceStable(matches, func(i, j int) bool {
			return byScore(matches[i], matches[j])
		})
	}
}

func byScore(a, b *Match) bool {
	if a.Score != b.Score {
		return a.Score > b.Score
	}
	if a.Doc.Title != b.Doc.Title {
		return a.Doc.Title < b.Doc.Title
	}
	return a.Doc.ID < b.Doc.ID
}

func difficulty(d *index.Document) int {
	if d.Difficulty == 0 {
		return 1
	}
	return d.Difficulty
}
