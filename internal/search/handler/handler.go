// Package handler exposes the search engine over the local HTTP API.
package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/bgde/vocab-platform/internal/analytics"
	"github.com/bgde/vocab-platform/internal/search/cache"
	"github.com/bgde/vocab-platform/internal/search/engine"
	"github.com/bgde/vocab-platform/internal/search/parser"
	"github.com/bgde/vocab-platform/internal/search/ranker"
	apperrors "github.com/bgde/vocab-platform/pkg/errors"
	"github.com/bgde/vocab-platform/pkg/logger"
	"github.com/bgde/vocab-platform/pkg/metrics"
	"github.com/bgde/vocab-platform/pkg/middleware"
)

// Searcher is implemented by *engine.Engine.
type Searcher interface {
	Search(ctx context.Context, query string, opts engine.Options) (*engine.Response, error)
	Autocomplete(query string, limit int) []string
	Stats() engine.Stats
	IndexInfo() engine.IndexInfo
	Generation() uint64
}

// Reindexer reloads content and rebuilds the index.
type Reindexer func(ctx context.Context) (engine.BuildResult, error)

type Handler struct {
	engine    Searcher
	cache     *cache.QueryCache
	collector *analytics.Collector
	metrics   *metrics.Metrics
	reindex   Reindexer
	logger    *slog.Logger
}

// New creates a Handler. queryCache, collector, m and reindex may be nil.
func New(s Searcher, queryCache *cache.QueryCache, collector *analytics.Collector, m *metrics.Metrics, reindex Reindexer) *Handler {
	return &Handler{
		engine:    s,
		cache:     queryCache,
		collector: collector,
		metrics:   m,
		reindex:   reindex,
		logger:    slog.Default().With("component", "search-handler"),
	}
}

// Register mounts the search and cache routes on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/v1/search", h.Search)
	mux.HandleFunc("GET /api/v1/search/autocomplete", h.Autocomplete)
	mux.HandleFunc("GET /api/v1/search/stats", h.Stats)
	mux.HandleFunc("GET /api/v1/search/index", h.IndexInfo)
	mux.HandleFunc("POST /api/v1/search/reindex", h.Reindex)
	mux.HandleFunc("GET /api/v1/cache/stats", h.CacheStats)
	mux.HandleFunc("POST /api/v1/cache/invalidate", h.CacheInvalidate)
}

func (h *Handler) Search(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx := r.Context()
	log := logger.FromContext(ctx)

	query := r.URL.Query().Get("q")
	if query == "" {
		h.writeError(w, http.StatusBadRequest, "query parameter 'q' is required")
		return
	}
	opts, err := parseOptions(r)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var resp *engine.Response
	cacheHit := false
	if h.cache != nil && cache.Cacheable(opts) {
		resp, cacheHit, err = h.cache.GetOrCompute(ctx, query, opts, h.engine.Generation(), func() (*engine.Response, error) {
			return h.engine.Search(ctx, query, opts)
		})
	} else {
		resp, err = h.engine.Search(ctx, query, opts)
	}
	if err != nil {
		status := apperrors.HTTPStatusCode(err)
		log.Error("search failed", "query", query, "error", err, "status_code", status)
		h.writeError(w, status, err.Error())
		return
	}
	out := *resp
	out.Query = query

	latency := time.Since(start)
	log.Info("search completed",
		"query", query,
		"total_hits", out.Total,
		"returned", len(out.Results),
		"cache_hit", cacheHit,
		"latency_ms", latency.Milliseconds(),
	)
	h.observe(ctx, query, opts, &out, cacheHit, latency)
	h.writeJSON(w, http.StatusOK, &out)
}

func (h *Handler) observe(ctx context.Context, query string, opts engine.Options, resp *engine.Response, cacheHit bool, latency time.Duration) {
	resultType := "hit"
	if resp.Total == 0 {
		resultType = "zero"
	}
	cacheStatus := "bypass"
	if h.cache != nil && cache.Cacheable(opts) {
		cacheStatus = "miss"
		if cacheHit {
			cacheStatus = "hit"
		}
	}
	if h.metrics != nil {
		h.metrics.SearchQueriesTotal.WithLabelValues(resultType).Inc()
		h.metrics.SearchLatency.WithLabelValues(cacheStatus).Observe(latency.Seconds())
	}
	if h.collector == nil {
		return
	}

	eventType := analytics.EventSearch
	switch {
	case resp.Total == 0:
		eventType = analytics.EventZeroResult
	case cacheStatus == "hit":
		eventType = analytics.EventCacheHit
	case cacheStatus == "miss":
		eventType = analytics.EventCacheMiss
	}
	h.collector.Track(analytics.SearchEvent{
		Type:      eventType,
		Query:     query,
		Terms:     parser.Parse(query).Keywords,
		Filters:   filters(opts),
		TotalHits: resp.Total,
		Returned:  len(resp.Results),
		LatencyMs: latency.Milliseconds(),
		CacheHit:  cacheHit,
		Timestamp: time.Now().UTC(),
		RequestID: middleware.GetRequestID(ctx),
	})
}

func filters(opts engine.Options) map[string]string {
	f := make(map[string]string)
	for k, v := range map[string]string{
		"type":      opts.Type,
		"category":  opts.Category,
		"level":     opts.Level,
		"direction": opts.Direction,
	} {
		if v != "" {
			f[k] = v
		}
	}
	if opts.Phase != nil {
		f["phase"] = strconv.Itoa(*opts.Phase)
	}
	return f
}

func (h *Handler) Autocomplete(w http.ResponseWriter, r *http.Request) {
	limit, err := intParam(r, "limit", 0)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{
		"query":       r.URL.Query().Get("q"),
		"suggestions": h.engine.Autocomplete(r.URL.Query().Get("q"), limit),
	})
}

func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, h.engine.Stats())
}

func (h *Handler) IndexInfo(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, h.engine.IndexInfo())
}

func (h *Handler) Reindex(w http.ResponseWriter, r *http.Request) {
	if h.reindex == nil {
		h.writeError(w, http.StatusServiceUnavailable, "reindexing is not configured")
		return
	}
	ctx := r.Context()
	res, err := h.reindex(ctx)
	if err != nil {
		status := apperrors.HTTPStatusCode(err)
		logger.FromContext(ctx).Error("reindex failed", "error", err, "status_code", status)
		h.writeError(w, status, "reindex failed")
		return
	}
	if h.cache != nil {
		if err := h.cache.Invalidate(ctx); err != nil {
			h.logger.Warn("cache invalidation after reindex failed", "error", err)
		}
	}
	h.writeJSON(w, http.StatusOK, map[string]any{
		"indexed":      res.Indexed,
		"skipped":      res.Skipped,
		"terms":        res.Terms,
		"pruned_terms": res.PrunedTerms,
		"duration_ms":  res.Duration.Milliseconds(),
	})
}

func (h *Handler) CacheStats(w http.ResponseWriter, r *http.Request) {
	if h.cache == nil {
		h.writeJSON(w, http.StatusOK, map[string]string{"status": "disabled"})
		return
	}

	hits, misses := h.cache.Stats()
	total := hits + misses
	var hitRate float64
	if total > 0 {
		hitRate = float64(hits) / float64(total) * 100
	}
	h.writeJSON(w, http.StatusOK, map[string]any{
		"hits":     hits,
		"misses":   misses,
		"total":    total,
		"hit_rate": strconv.FormatFloat(hitRate, 'f', 1, 64) + "%",
	})
}

func (h *Handler) CacheInvalidate(w http.ResponseWriter, r *http.Request) {
	if h.cache == nil {
		h.writeError(w, http.StatusServiceUnavailable, "caching is disabled")
		return
	}
	if err := h.cache.Invalidate(r.Context()); err != nil {
		h.logger.Error("cache invalidation failed", "error", err)
		h.writeError(w, http.StatusInternalServerError, "cache invalidation failed")
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "invalidated"})
}

func parseOptions(r *http.Request) (engine.Options, error) {
	q := r.URL.Query()
	opts := engine.Options{
		Type:      q.Get("type"),
		Category:  q.Get("category"),
		Level:     q.Get("level"),
		Direction: q.Get("direction"),
		SortBy:    ranker.SortBy(q.Get("sort")),
	}
	var err error
	if opts.Limit, err = intParam(r, "limit", 0); err != nil {
		return opts, err
	}
	if opts.Offset, err = intParam(r, "offset", 0); err != nil {
		return opts, err
	}
	if s := q.Get("phase"); s != "" {
		p, err := strconv.Atoi(s)
		if err != nil {
			return opts, apperrors.New(apperrors.ErrInvalidInput, http.StatusBadRequest, "phase must be an integer")
		}
		opts.Phase = &p
	}
	if s := q.Get("min_score"); s != "" {
		if opts.MinScore, err = strconv.ParseFloat(s, 64); err != nil {
			return opts, apperrors.New(apperrors.ErrInvalidInput, http.StatusBadRequest, "min_score must be a number")
		}
	}
	return opts, opts.Validate()
}

func intParam(r *http.Request, name string, def int) (int, error) {
	s := r.URL.Query().Get(name)
	if s == "" {
		return def, nil
	}
	v, err := strconv.Atoi(s)
	if err != nil || v < 0 {
		return 0, apperrors.Newf(apperrors.ErrInvalidInput, http.StatusBadRequest, "%s must be a non-negative integer", name)
	}
	return v, nil
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to write response", "error", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}
