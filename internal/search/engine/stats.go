package engine

import (
	"sort"
	"time"
)

type SearchRecord struct {
	Query          string    `json:"query"`
	ResultCount    int       `json:"result_count"`
	Timestamp      time.Time `json:"timestamp"`
	ResponseTimeMs float64   `json:"response_time_ms"`
}

type Stats struct {
	TotalSearches     int            `json:"total_searches"`
	AvgResponseTimeMs float64        `json:"avg_response_time_ms"`
	PopularTerms      map[string]int `json:"popular_terms"`
	IndexSize         int            `json:"index_size"`
	DocumentCount     int            `json:"document_count"`
	IsIndexed         bool           `json:"is_indexed"`
	RecentSearches    []SearchRecord `json:"recent_searches"`
}

type searchStats struct {
	total   int
	avgMs   float64
	popular map[string]int
	// history is newest first and capped at limit.
	history []SearchRecord
	limit   int
}

func newSearchStats(limit int) searchStats {
	return searchStats{
		popular: make(map[string]int),
		history: make([]SearchRecord, 0, limit),
		limit:   limit,
	}
}

func (e *Engine) recordSearch(query string, keywords []string, resultCount int, elapsed time.Duration) {
	ms := float64(elapsed.Microseconds()) / 1000

	e.statsMu.Lock()
	defer e.statsMu.Unlock()
	s := &e.stats
	s.total++
	s.avgMs += (ms - s.avgMs) / float64(s.total)
	for _, kw := range keywords {
		s.popular[kw]++
	}

	rec := SearchRecord{Query: query, ResultCount: resultCount, Timestamp: e.now(), ResponseTimeMs: ms}
	if len(s.history) < s.limit {
		s.history = append(s.history, SearchRecord{})
	}
	copy(s.history[1:], s.history[:len(s.history)-1])
	s.history[0] = rec
}

// popularTerms returns the n most searched keywords, most frequent first.
func (e *Engine) popularTerms(n int) []string {
	e.statsMu.Lock()
	terms := make([]string, 0, len(e.stats.popular))
	counts := make(map[string]int, len(e.stats.popular))
	for term, c := range e.stats.popular {
		terms = append(terms, term)
		counts[term] = c
	}
	e.statsMu.Unlock()

	sort.Slice(terms, func(i, j int) bool {
		if counts[terms[i]] != counts[terms[j]] {
			return counts[terms[i]] > counts[terms[j]]
		}
		return terms[i] < terms[j]
	})
	if len(terms) > n {
		terms = terms[:n]
	}
	return terms
}

// Stats returns search counters together with the current index size and the
// ten most recent searches.
func (e *Engine) Stats() Stats {
	info := e.IndexInfo()

	e.statsMu.Lock()
	defer e.statsMu.Unlock()
	popular := make(map[string]int, len(e.stats.popular))
	for k, v := range e.stats.popular {
		popular[k] = v
	}
	recent := make([]SearchRecord, min(recentSearches, len(e.stats.history)))
	copy(recent, e.stats.history)

	return Stats{
		TotalSearches:     e.stats.total,
		AvgResponseTimeMs: e.stats.avgMs,
		PopularTerms:      popular,
		IndexSize:         info.TermCount,
		DocumentCount:     info.DocumentCount,
		IsIndexed:         info.IsIndexed,
		RecentSearches:    recent,
	}
}

// History returns up to n of the most recent searches, newest first.
func (e *Engine) History(n int) []SearchRecord {
	e.statsMu.Lock()
	defer e.statsMu.Unlock()
	out := make([]SearchRecord, min(n, len(e.stats.history)))
	copy(out, e.stats.history)
	return out
}
