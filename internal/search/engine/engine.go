// Package engine is the in-memory full-text search engine over vocabulary and
// grammar documents: index building, filtered and paginated search with fuzzy
// matching, snippets, highlights, suggestions, autocomplete and search
// statistics.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/bgde/vocab-platform/internal/search/index"
	"github.com/bgde/vocab-platform/internal/search/parser"
	"github.com/bgde/vocab-platform/internal/search/ranker"
	"github.com/bgde/vocab-platform/pkg/config"
	apperrors "github.com/bgde/vocab-platform/pkg/errors"
	"github.com/bgde/vocab-platform/pkg/metrics"
	"golang.org/x/sync/singleflight"
)

const (
	defaultAutocompleteLimit = 10
	maxSuggestions           = 5
	recentSearches           = 10
	minSuggestionLength      = 3
)

// PhaseSource reports the learning phase of reviewed items for a direction.
// Items missing from the map have never been reviewed.
type PhaseSource interface {
	Phases(ctx context.Context, direction string) (map[string]int, error)
}

type Config struct {
	DefaultLimit      int
	MaxResults        int
	MinScore          float64
	HistorySize       int
	PruneRatio        float64
	// MinDocsForPruning is the smallest collection that gets pruned. 0 means
	// 10; a negative value disables pruning.
	MinDocsForPruning int
	// PhaseDirection is used for phase filtering when a search names no
	// direction.
	PhaseDirection string
}

func ConfigFrom(search config.SearchConfig, review config.ReviewConfig) Config {
	return Config{
		DefaultLimit:      search.DefaultLimit,
		MaxResults:        search.MaxResults,
		MinScore:          search.MinScore,
		HistorySize:       search.HistorySize,
		PruneRatio:        search.PruneRatio,
		MinDocsForPruning: search.MinDocsForPruning,
		PhaseDirection:    review.DefaultDirection,
	}
}

func (c *Config) fillDefaults() {
	if c.DefaultLimit <= 0 {
		c.DefaultLimit = 50
	}
	if c.MaxResults < c.DefaultLimit {
		c.MaxResults = c.DefaultLimit
	}
	if c.HistorySize <= 0 {
		c.HistorySize = 100
	}
	if c.PruneRatio <= 0 {
		c.PruneRatio = 0.8
	}
	if c.MinDocsForPruning == 0 {
		c.MinDocsForPruning = 10
	}
	if c.PhaseDirection == "" {
		c.PhaseDirection = "bg-de"
	}
}

type Option func(*Engine)

func WithPhaseSource(ps PhaseSource) Option {
	return func(e *Engine) { e.phases = ps }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

type Engine struct {
	cfg     Config
	phases  PhaseSource
	metrics *metrics.Metrics
	now     func() time.Time
	logger  *slog.Logger

	mu         sync.RWMutex
	idx        *index.Index
	generation uint64
	builds     singleflight.Group

	statsMu sync.Mutex
	stats   searchStats
}

func New(cfg Config, opts ...Option) *Engine {
	cfg.fillDefaults()
	e := &Engine{
		cfg:    cfg,
		now:    time.Now,
		logger: slog.Default().With("component", "search-engine"),
		stats:  newSearchStats(cfg.HistorySize),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// BuildResult summarizes one index build.
type BuildResult struct {
	Indexed     int           `json:"indexed"`
	Skipped     int           `json:"skipped"`
	PrunedTerms int           `json:"pruned_terms"`
	Terms       int           `json:"terms"`
	Duration    time.Duration `json:"duration"`
}

// BuildIndex replaces the current index with one built from docs. Documents
// without an ID or title, and repeated IDs, are skipped. Concurrent callers
// share the build already in flight and receive its result. A started build
// runs to completion even if the caller that started it goes away; callers
// whose ctx ends stop waiting for it.
func (e *Engine) BuildIndex(ctx context.Context, docs []index.Document) (BuildResult, error) {
	if err := ctx.Err(); err != nil {
		return BuildResult{}, fmt.Errorf("building search index: %w", err)
	}
	ch := e.builds.DoChan("build", func() (any, error) {
		return e.build(docs)
	})
	select {
	case <-ctx.Done():
		return BuildResult{}, fmt.Errorf("building search index: %w", ctx.Err())
	case r := <-ch:
		if r.Err != nil {
			return BuildResult{}, r.Err
		}
		if r.Shared {
			e.logger.Debug("joined in-flight index build")
		}
		return r.Val.(BuildResult), nil
	}
}

func (e *Engine) build(docs []index.Document) (BuildResult, error) {
	start := e.now()
	ix := index.New()
	var res BuildResult
	for _, doc := range docs {
		if doc.ID == "" || strings.TrimSpace(doc.Title) == "" {
			e.logger.Warn("skipping document without id or title", "id", doc.ID, "type", doc.Type)
			res.Skipped++
			continue
		}
		if !ix.Add(doc) {
			e.logger.Debug("skipping duplicate document", "id", doc.ID)
			res.Skipped++
			continue
		}
		res.Indexed++
	}
	if e.cfg.MinDocsForPruning > 0 {
		res.PrunedTerms = ix.Prune(e.cfg.PruneRatio, e.cfg.MinDocsForPruning)
	}
	ix.Seal()
	res.Terms = ix.TermCount()
	res.Duration = e.now().Sub(start)

	e.mu.Lock()
	e.idx = ix
	e.generation++
	e.mu.Unlock()

	if e.metrics != nil {
		e.metrics.DocsIndexedTotal.Add(float64(res.Indexed))
		e.metrics.IndexTerms.Set(float64(res.Terms))
		e.metrics.IndexBuildDuration.Observe(res.Duration.Seconds())
	}
	e.logger.Info("search index built",
		"documents", res.Indexed,
		"skipped", res.Skipped,
		"terms", res.Terms,
		"pruned_terms", res.PrunedTerms,
		"duration", res.Duration,
	)
	return res, nil
}

func (e *Engine) current() (*index.Index, uint64) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.idx, e.generation
}

// Ready reports whether an index has been built and not cleared.
func (e *Engine) Ready() bool {
	ix, _ := e.current()
	return ix != nil
}

// Generation changes every time the index is rebuilt or cleared.
func (e *Engine) Generation() uint64 {
	_, gen := e.current()
	return gen
}

// Clear drops the index and all documents.
func (e *Engine) Clear() {
	e.mu.Lock()
	e.idx = nil
	e.generation++
	e.mu.Unlock()
	if e.metrics != nil {
		e.metrics.IndexTerms.Set(0)
	}
	e.logger.Info("search index cleared")
}

// Document returns an indexed document by ID.
func (e *Engine) Document(id string) (*index.Document, bool) {
	ix, _ := e.current()
	if ix == nil {
		return nil, false
	}
	return ix.Document(id)
}

type IndexInfo struct {
	TermCount     int   `json:"term_count"`
	DocumentCount int   `json:"document_count"`
	IsIndexed     bool  `json:"is_indexed"`
	MemoryBytes   int64 `json:"memory_bytes"`
}

func (e *Engine) IndexInfo() IndexInfo {
	ix, _ := e.current()
	if ix == nil {
		return IndexInfo{}
	}
	return IndexInfo{
		TermCount:     ix.TermCount(),
		DocumentCount: ix.DocCount(),
		IsIndexed:     true,
		MemoryBytes:   ix.EstimateMemory(),
	}
}

// Search runs query against the current index.
func (e *Engine) Search(ctx context.Context, query string, opts Options) (*Response, error) {
	start := e.now()
	ix, _ := e.current()
	if ix == nil {
		return nil, apperrors.New(apperrors.ErrIndexNotReady, http.StatusServiceUnavailable, "build the index before searching")
	}
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	plan := parser.Parse(query)
	if plan.Empty() {
		return &Response{Query: query, Results: []Result{}, Suggestions: []string{}}, nil
	}

	keep, err := e.filter(ctx, opts)
	if err != nil {
		return nil, err
	}

	matches := ranker.FindMatches(ix, plan.Terms, keep)
	if minScore := e.minScore(opts); minScore > 0 {
		kept := matches[:0]
		for _, m := range matches {
			if m.Score >= minScore {
				kept = append(kept, m)
			}
		}
		matches = kept
	}
	ranker.Sort(matches, opts.SortBy)

	total := len(matches)
	page := paginate(matches, opts.Offset, e.limit(opts))
	results := make([]Result, 0, len(page))
	for _, m := range page {
		results = append(results, buildResult(m, plan.Terms))
	}

	suggestions := []string{}
	if total == 0 {
		suggestions = e.suggestions(ix, plan)
	}

	elapsed := e.now().Sub(start)
	e.recordSearch(query, plan.Keywords, len(results), elapsed)
	if e.metrics != nil {
		e.metrics.SearchResultsCount.Observe(float64(total))
	}

	return &Response{
		Results:        results,
		Total:          total,
		Query:          query,
		ResponseTimeMs: float64(elapsed.Microseconds()) / 1000,
		Suggestions:    suggestions,
	}, nil
}

func (e *Engine) limit(opts Options) int {
	switch {
	case opts.Limit <= 0:
		return e.cfg.DefaultLimit
	case opts.Limit > e.cfg.MaxResults:
		return e.cfg.MaxResults
	default:
		return opts.Limit
	}
}

func (e *Engine) minScore(opts Options) float64 {
	if opts.MinScore == 0 {
		return e.cfg.MinScore
	}
	return opts.MinScore
}

func paginate(matches []*ranker.Match, offset, limit int) []*ranker.Match {
	if offset >= len(matches) {
		return nil
	}
	end := min(offset+limit, len(matches))
	return matches[offset:end]
}

func (e *Engine) filter(ctx context.Context, opts Options) (func(*index.Document) bool, error) {
	var source, target string
	if opts.Direction != "" {
		source, target, _ = strings.Cut(opts.Direction, "-")
	}

	var phases map[string]int
	if opts.Phase != nil {
		if e.phases == nil {
			return nil, apperrors.New(apperrors.ErrInvalidInput, http.StatusBadRequest, "phase filter is not available")
		}
		direction := opts.Direction
		if direction == "" {
			direction = e.cfg.PhaseDirection
		}
		var err error
		phases, err = e.phases.Phases(ctx, direction)
		if err != nil {
			return nil, fmt.Errorf("loading phases for %s: %w", direction, err)
		}
	}

	return func(d *index.Document) bool {
		if opts.Type != "" && opts.Type != TypeAll && string(d.Type) != opts.Type {
			return false
		}
		if opts.Category != "" && d.Category != opts.Category {
			return false
		}
		if opts.Level != "" && d.Level != opts.Level {
			return false
		}
		if opts.Direction != "" && (d.SourceLang != source || d.TargetLang != target) {
			return false
		}
		if opts.Phase != nil {
			phase, reviewed := phases[d.ID]
			if !reviewed {
				phase = UnreviewedPhase
			}
			if phase != *opts.Phase {
				return false
			}
		}
		return true
	}, nil
}

// suggestions proposes index terms related to a query that found nothing,
// followed by popular past search terms. Terms overlapping whole query words
// come before those overlapping only prefix or suffix variants.
func (e *Engine) suggestions(ix *index.Index, plan *parser.QueryPlan) []string {
	out := make([]string, 0, maxSuggestions)
	seen := make(map[string]struct{})
	add := func(s string) bool {
		if _, dup := seen[s]; !dup {
			seen[s] = struct{}{}
			out = append(out, s)
		}
		return len(out) >= maxSuggestions
	}

	for _, group := range [][]string{plan.Keywords, plan.Terms} {
		for _, term := range overlappingTerms(ix, group) {
			if add(term) {
				return out
			}
		}
	}
	for _, term := range e.popularTerms(maxSuggestions) {
		if add(term) {
			return out
		}
	}
	return out
}

func overlappingTerms(ix *index.Index, queryTerms []string) []string {
	var out []string
	for _, term := range ix.Terms() {
		if utf8.RuneCountInString(term) < minSuggestionLength {
			continue
		}
		for _, q := range queryTerms {
			if strings.Contains(term, q) || strings.Contains(q, term) {
				out = append(out, term)
				break
			}
		}
	}
	sortByDocFreq(ix, out)
	return out
}

func sortByDocFreq(ix *index.Index, terms []string) {
	sort.SliceStable(terms, func(i, j int) bool {
		fi, fj := ix.DocFreq(terms[i]), ix.DocFreq(terms[j])
		if fi != fj {
			return fi > fj
		}
		return terms[i] < terms[j]
	})
}

// Autocomplete returns index terms that extend query, most widespread first.
// Queries shorter than two runes yield nothing.
func (e *Engine) Autocomplete(query string, limit int) []string {
	q := strings.ToLower(strings.TrimSpace(query))
	if utf8.RuneCountInString(q) < 2 {
		return []string{}
	}
	if limit <= 0 {
		limit = defaultAutocompleteLimit
	}
	ix, _ := e.current()
	if ix == nil {
		return []string{}
	}

	matches := ix.TermsWithPrefix(q)
	out := make([]string, 0, len(matches))
	for _, term := range matches {
		if term != q {
			out = append(out, term)
		}
	}
	sortByDocFreq(ix, out)
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}
