package index

import (
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/bgde/vocab-platform/internal/search/tokenizer"
)

// Index is an inverted index from term to the documents containing it.
//
// An Index is filled with Add, optionally pruned, and then sealed. After Seal
// it is read-only and safe for concurrent readers; the engine swaps whole
// indexes rather than mutating a live one.
type Index struct {
	postings map[string]map[string]*Posting
	docs     map[string]*Document
	order    []string
	terms    []string
	byLength map[int][]string
	size     int64
	sealed   bool
}

func New() *Index {
	return &Index{
		postings: make(map[string]map[string]*Posting),
		docs:     make(map[string]*Document),
	}
}

// Add indexes doc. It returns false, leaving the index unchanged, when a
// document with the same ID was already added or the index is sealed.
func (ix *Index) Add(doc Document) bool {
	if ix.sealed {
		return false
	}
	if _, exists := ix.docs[doc.ID]; exists {
		return false
	}

	lowerTitle := strings.ToLower(doc.Title)
	termData := make(map[string]*Posting)
	for _, token := range tokenizer.Tokenize(doc.Content + " " + doc.Title) {
		p, exists := termData[token.Term]
		if !exists {
			p = &Posting{
				DocID:     doc.ID,
				Positions: make([]int, 0, 2),
				InTitle:   strings.Contains(lowerTitle, token.Term),
			}
			termData[token.Term] = p
		}
		p.Frequency++
		p.Positions = append(p.Positions, token.Position)
	}

	for term, posting := range termData {
		docs, exists := ix.postings[term]
		if !exists {
			docs = make(map[string]*Posting)
			ix.postings[term] = docs
		}
		docs[doc.ID] = posting
		ix.size += int64(len(term) + len(doc.ID) + len(posting.Positions)*8 + 64)
	}

	d := doc
	ix.docs[doc.ID] = &d
	ix.order = append(ix.order, doc.ID)
	ix.size += int64(len(doc.ID) + len(doc.Title) + len(doc.Content) + 128)
	return true
}

// Prune removes terms that occur in more than ratio of all documents. Small
// collections (fewer than minDocs documents) are left alone, since there every
// term is "common". It returns the number of removed terms.
func (ix *Index) Prune(ratio float64, minDocs int) int {
	if ix.sealed || len(ix.docs) < minDocs || len(ix.docs) == 0 {
		return 0
	}
	limit := ratio * float64(len(ix.docs))
	removed := 0
	for term, docs := range ix.postings {
		if float64(len(docs)) > limit {
			delete(ix.postings, term)
			removed++
		}
	}
	return removed
}

// Seal freezes the index and builds the sorted term list and length buckets
// used for prefix and fuzzy lookups.
func (ix *Index) Seal() {
	if ix.sealed {
		return
	}
	ix.terms = make([]string, 0, len(ix.postings))
	ix.byLength = make(map[int][]string)
	for term := range ix.postings {
		ix.terms = append(ix.terms, term)
	}
	sort.Strings(ix.terms)
	for _, term := range ix.terms {
		n := utf8.RuneCountInString(term)
		ix.byLength[n] = append(ix.byLength[n], term)
	}
	ix.sealed = true
}

// Lookup returns the postings for term ordered by document ID.
func (ix *Index) Lookup(term string) PostingList {
	docs, exists := ix.postings[term]
	if !exists {
		return nil
	}
	result := make(PostingList, 0, len(docs))
	for _, posting := range docs {
		result = append(result, *posting)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].DocID < result[j].DocID
	})
	return result
}

func (ix *Index) Has(term string) bool {
	_, ok := ix.postings[term]
	return ok
}

// DocFreq is the number of documents containing term.
func (ix *Index) DocFreq(term string) int {
	return len(ix.postings[term])
}

func (ix *Index) Document(id string) (*Document, bool) {
	d, ok := ix.docs[id]
	return d, ok
}

// Documents returns all documents in insertion order.
func (ix *Index) Documents() []*Document {
	out := make([]*Document, 0, len(ix.order))
	for _, id := range ix.order {
		out = append(out, ix.docs[id])
	}
	return out
}

func (ix *Index) DocCount() int { return len(ix.docs) }

func (ix *Index) TermCount() int { return len(ix.postings) }

// Terms returns all terms in lexical order. Only valid after Seal.
func (ix *Index) Terms() []string { return ix.terms }

// TermsWithPrefix returns the sealed terms beginning with prefix, in lexical
// order.
func (ix *Index) TermsWithPrefix(prefix string) []string {
	start := sort.SearchStrings(ix.terms, prefix)
	end := start
	for end < len(ix.terms) && strings.HasPrefix(ix.terms[end], prefix) {
		end++
	}
	return ix.terms[start:end]
}

// TermsNear returns the sealed terms whose rune length is within slack of
// length.
func (ix *Index) TermsNear(length, slack int) []string {
	var out []string
	for n := length - slack; n <= length+slack; n++ {
		out = append(out, ix.byLength[n]...)
	}
	return out
}

// EstimateMemory is a rough byte count of postings and stored documents.
func (ix *Index) EstimateMemory() int64 { return ix.size }
