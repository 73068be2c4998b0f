// Package client loads vocabulary and grammar from the upstream content API,
// or from a local export of it, with retries, request collapsing and an
// optional Redis response cache.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/bgde/vocab-platform/internal/content"
	"github.com/bgde/vocab-platform/pkg/config"
	apperrors "github.com/bgde/vocab-platform/pkg/errors"
	"github.com/bgde/vocab-platform/pkg/metrics"
	pkgredis "github.com/bgde/vocab-platform/pkg/redis"
	"github.com/bgde/vocab-platform/pkg/resilience"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
)

const (
	vocabDir     = "/data/vocab/"
	indexFile    = "index.json"
	grammarPath  = "/data/grammar.json"
	cachePrefix  = "content:"
	maxBodyBytes = 32 << 20
	loadParallel = 4
)

var (
	levelFile    = regexp.MustCompile(`^(A1|A2|B1|B2)\.json$`)
	nonSlug      = regexp.MustCompile(`[^\da-zßäöü]`)
	dashes       = regexp.MustCompile(`-+`)
	allowedLevel = map[string]bool{"A1": true, "A2": true, "B1": true, "B2": true, "C1": true, "C2": true}
)

// ResponseCache is the subset of *redis.Client used to cache raw upstream
// responses.
type ResponseCache interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

func WithResponseCache(rc ResponseCache) Option {
	return func(c *Client) { c.cache = rc }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Client) { c.metrics = m }
}

// Client fetches content. Chunks are memoized after the first successful
// load until ClearCache.
type Client struct {
	cfg     config.ContentConfig
	http    *http.Client
	cache   ResponseCache
	metrics *metrics.Metrics
	group   singleflight.Group
	logger  *slog.Logger

	mu     sync.RWMutex
	index  *content.VocabularyIndex
	chunks map[string][]content.VocabularyItem
}

func New(cfg config.ContentConfig, opts ...Option) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	c := &Client{
		cfg:    cfg,
		http:   &http.Client{},
		chunks: make(map[string][]content.VocabularyItem),
		logger: slog.Default().With("component", "content-client"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// LoadIndex fetches the chunk index. It is memoized.
func (c *Client) LoadIndex(ctx context.Context) (*content.VocabularyIndex, error) {
	c.mu.RLock()
	ix := c.index
	c.mu.RUnlock()
	if ix != nil {
		return ix, nil
	}

	var loaded content.VocabularyIndex
	if err := c.getJSON(ctx, "index", vocabDir+indexFile, &loaded); err != nil {
		return nil, fmt.Errorf("loading vocabulary index: %w", err)
	}
	c.mu.Lock()
	c.index = &loaded
	c.mu.Unlock()
	c.logger.Info("vocabulary index loaded", "entries", loaded.TotalEntries, "files", len(loaded.SplitFiles))
	return &loaded, nil
}

// LoadChunk fetches one vocabulary file. Items failing validation are
// skipped with a warning.
func (c *Client) LoadChunk(ctx context.Context, file string) ([]content.VocabularyItem, error) {
	if file == "" || strings.Contains(file, "/") || strings.Contains(file, "..") {
		return nil, apperrors.Newf(apperrors.ErrInvalidInput, http.StatusBadRequest, "invalid chunk name %q", file)
	}
	c.mu.RLock()
	items, ok := c.chunks[file]
	c.mu.RUnlock()
	if ok {
		return items, nil
	}

	var raw []content.VocabularyItem
	if err := c.getJSON(ctx, "chunk", vocabDir+file, &raw); err != nil {
		return nil, fmt.Errorf("loading chunk %s: %w", file, err)
	}
	items = make([]content.VocabularyItem, 0, len(raw))
	for i := range raw {
		if err := content.ValidateVocabulary(&raw[i]); err != nil {
			c.logger.Warn("skipping invalid vocabulary item", "chunk", file, "error", err)
			continue
		}
		items = append(items, raw[i])
	}

	c.mu.Lock()
	c.chunks[file] = items
	c.mu.Unlock()
	c.logger.Debug("chunk loaded", "chunk", file, "items", len(items))
	return items, nil
}

func (c *Client) LoadByLevel(ctx context.Context, level string) ([]content.VocabularyItem, error) {
	if !allowedLevel[level] {
		return nil, apperrors.Newf(apperrors.ErrInvalidInput, http.StatusBadRequest, "unknown level %q", level)
	}
	return c.LoadChunk(ctx, level+".json")
}

func (c *Client) LoadByCategory(ctx context.Context, category string) ([]content.VocabularyItem, error) {
	name := SanitizeCategory(category)
	if name == "" {
		return nil, apperrors.Newf(apperrors.ErrInvalidInput, http.StatusBadRequest, "invalid category %q", category)
	}
	return c.LoadChunk(ctx, name+".json")
}

// SanitizeCategory maps a category name to its chunk file stem.
func SanitizeCategory(category string) string {
	s := nonSlug.ReplaceAllString(strings.ToLower(category), "-")
	s = dashes.ReplaceAllString(s, "-")
	return strings.Trim(s, "-")
}

// LoadAll loads every chunk named by the index in parallel and merges them
// in index order, keeping the first item seen for each ID. Chunks that fail
// to load are skipped.
func (c *Client) LoadAll(ctx context.Context) ([]content.VocabularyItem, error) {
	ix, err := c.LoadIndex(ctx)
	if err != nil {
		return nil, err
	}

	results := make([][]content.VocabularyItem, len(ix.SplitFiles))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(loadParallel)
	for i, f := range ix.SplitFiles {
		g.Go(func() error {
			items, err := c.LoadChunk(gctx, f.File)
			if err != nil {
				c.logger.Warn("skipping chunk", "chunk", f.File, "error", err)
				return nil
			}
			results[i] = items
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("loading vocabulary: %w", err)
	}

	seen := make(map[string]struct{})
	var all []content.VocabularyItem
	for _, items := range results {
		for _, item := range items {
			if _, dup := seen[item.ID]; dup {
				continue
			}
			seen[item.ID] = struct{}{}
			all = append(all, item)
		}
	}
	c.logger.Info("vocabulary loaded", "items", len(all), "chunks", len(ix.SplitFiles))
	return all, nil
}

type Filter struct {
	Level    string
	Category string
	// Search matches case-insensitively against word and translation.
	Search string
}

func (c *Client) LoadFiltered(ctx context.Context, f Filter) ([]content.VocabularyItem, error) {
	all, err := c.LoadAll(ctx)
	if err != nil {
		return nil, err
	}
	search := strings.ToLower(f.Search)
	out := make([]content.VocabularyItem, 0, len(all))
	for _, item := range all {
		if f.Level != "" && item.Level != f.Level {
			continue
		}
		if f.Category != "" && item.Category != f.Category {
			continue
		}
		if search != "" &&
			!strings.Contains(strings.ToLower(item.Word), search) &&
			!strings.Contains(strings.ToLower(item.Translation), search) {
			continue
		}
		out = append(out, item)
	}
	return out, nil
}

// GetItemByID searches the chunks in index order.
func (c *Client) GetItemByID(ctx context.Context, id string) (content.VocabularyItem, error) {
	ix, err := c.LoadIndex(ctx)
	if err != nil {
		return content.VocabularyItem{}, err
	}
	for _, f := range ix.SplitFiles {
		items, err := c.LoadChunk(ctx, f.File)
		if err != nil {
			continue
		}
		for _, item := range items {
			if item.ID == id {
				return item, nil
			}
		}
	}
	return content.VocabularyItem{}, apperrors.Newf(apperrors.ErrNotFound, http.StatusNotFound, "vocabulary item %s", id)
}

// AvailableLevels lists the level chunks named by the index.
func (c *Client) AvailableLevels(ctx context.Context) ([]string, error) {
	ix, err := c.LoadIndex(ctx)
	if err != nil {
		return nil, err
	}
	var levels []string
	seen := make(map[string]struct{})
	for _, f := range ix.SplitFiles {
		if !levelFile.MatchString(f.File) {
			continue
		}
		level := strings.TrimSuffix(f.File, ".json")
		if _, dup := seen[level]; !dup {
			seen[level] = struct{}{}
			levels = append(levels, level)
		}
	}
	return levels, nil
}

// AvailableCategories lists the categories of the non-level chunks.
func (c *Client) AvailableCategories(ctx context.Context) ([]string, error) {
	ix, err := c.LoadIndex(ctx)
	if err != nil {
		return nil, err
	}
	var cats []string
	seen := make(map[string]struct{})
	for _, f := range ix.SplitFiles {
		if levelFile.MatchString(f.File) {
			continue
		}
		for _, cat := range f.Categories {
			if _, dup := seen[cat]; !dup {
				seen[cat] = struct{}{}
				cats = append(cats, cat)
			}
		}
	}
	return cats, nil
}

// LoadGrammar fetches all grammar items. A missing grammar file yields no
// items.
func (c *Client) LoadGrammar(ctx context.Context) ([]content.GrammarItem, error) {
	var raw []content.GrammarItem
	if err := c.getJSON(ctx, "grammar", grammarPath, &raw); err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("loading grammar: %w", err)
	}
	items := raw[:0]
	for i := range raw {
		if err := content.ValidateGrammar(&raw[i]); err != nil {
			c.logger.Warn("skipping invalid grammar item", "error", err)
			continue
		}
		items = append(items, raw[i])
	}
	return items, nil
}

// LoadData loads all vocabulary and grammar. Grammar failures are logged and
// leave the grammar empty.
func (c *Client) LoadData(ctx context.Context) (content.Data, error) {
	vocab, err := c.LoadAll(ctx)
	if err != nil {
		return content.Data{}, err
	}
	grammar, err := c.LoadGrammar(ctx)
	if err != nil {
		c.logger.Warn("grammar unavailable", "error", err)
	}
	return content.Data{Vocabulary: vocab, Grammar: grammar}, nil
}

// ClearCache forgets the memoized index and chunks.
func (c *Client) ClearCache() {
	c.mu.Lock()
	c.index = nil
	c.chunks = make(map[string][]content.VocabularyItem)
	c.mu.Unlock()
	c.logger.Info("content cache cleared")
}

type MemoryStats struct {
	LoadedChunks int `json:"loaded_chunks"`
	TotalEntries int `json:"total_entries"`
}

func (c *Client) MemoryStats() MemoryStats {
	c.mu.RLock()
	defer c.mu.RUnlock()
	st := MemoryStats{LoadedChunks: len(c.chunks)}
	for _, items := range c.chunks {
		st.TotalEntries += len(items)
	}
	return st
}

func (c *Client) getJSON(ctx context.Context, kind, p string, v any) error {
	data, err := c.fetch(ctx, kind, p)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return apperrors.Newf(apperrors.ErrUpstream, http.StatusBadGateway, "decoding %s: %v", p, err)
	}
	return nil
}

// fetch returns the body at p. Identical concurrent fetches share one
// request, which runs detached from any single caller's cancellation and is
// bounded by the per-attempt timeout and retry limit instead. A caller whose
// ctx ends stops waiting without aborting the request for the others.
func (c *Client) fetch(ctx context.Context, kind, p string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	shared := context.WithoutCancel(ctx)
	ch := c.group.DoChan(p, func() (any, error) {
		if c.cfg.LocalDir != "" {
			return c.readLocal(kind, p)
		}
		return c.fetchRemote(shared, kind, p)
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case r := <-ch:
		if r.Err != nil {
			return nil, r.Err
		}
		return r.Val.([]byte), nil
	}
}

func (c *Client) readLocal(kind, p string) ([]byte, error) {
	data, err := os.ReadFile(filepath.Join(c.cfg.LocalDir, filepath.FromSlash(path.Clean(p))))
	if err != nil {
		c.record(kind, "error")
		if errors.Is(err, fs.ErrNotExist) {
			return nil, apperrors.Newf(apperrors.ErrNotFound, http.StatusNotFound, "%s not found", p)
		}
		return nil, fmt.Errorf("reading %s: %w", p, err)
	}
	c.record(kind, "ok")
	return data, nil
}

func (c *Client) fetchRemote(ctx context.Context, kind, p string) ([]byte, error) {
	key := cachePrefix + p
	if c.cache != nil {
		if data, err := c.cache.Get(ctx, key); err == nil {
			c.record(kind, "cached")
			return data, nil
		} else if !pkgredis.IsNilError(err) {
			c.logger.Warn("response cache get failed", "key", key, "error", err)
		}
	}

	url := strings.TrimRight(c.cfg.BaseURL, "/") + p
	retryCfg := resilience.RetryConfig{
		MaxAttempts:  c.cfg.MaxRetries,
		InitialDelay: c.cfg.BaseDelay,
		MaxDelay:     c.cfg.MaxDelay,
	}
	var body []byte
	err := resilience.Retry(ctx, "fetch "+p, retryCfg, func() error {
		var attempt []byte
		err := resilience.WithTimeout(ctx, c.cfg.Timeout, "fetch "+p, func(ctx context.Context) error {
			var err error
			attempt, err = c.get(ctx, url)
			return err
		})
		if err == nil {
			body = attempt
		}
		return err
	})
	if err != nil {
		c.record(kind, "error")
		if errors.Is(err, apperrors.ErrNotFound) || errors.Is(err, apperrors.ErrUpstream) {
			return nil, err
		}
		return nil, apperrors.Newf(apperrors.ErrUpstream, http.StatusBadGateway, "fetching %s: %v", p, err)
	}
	c.record(kind, "ok")

	if c.cache != nil && c.cfg.CacheTTL > 0 {
		if err := c.cache.Set(ctx, key, body, c.cfg.CacheTTL); err != nil {
			c.logger.Warn("response cache set failed", "key", key, "error", err)
		}
	}
	return body, nil
}

// get performs one request. Client errors are permanent; server errors and
// transport failures are retried.
func (c *Client) get(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, resilience.Permanent(fmt.Errorf("building request: %w", err))
	}
	req.Header.Set("Accept", "application/json")
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("requesting %s: %w", url, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, resilience.Permanent(apperrors.Newf(apperrors.ErrNotFound, http.StatusNotFound, "%s not found", url))
	case resp.StatusCode >= 500:
		return nil, fmt.Errorf("upstream %s returned %d", url, resp.StatusCode)
	case resp.StatusCode >= 400:
		return nil, resilience.Permanent(apperrors.Newf(apperrors.ErrUpstream, http.StatusBadGateway, "upstream %s returned %d", url, resp.StatusCode))
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", url, err)
	}
	return body, nil
}

func (c *Client) record(kind, status string) {
	if c.metrics != nil {
		c.metrics.ContentFetchesTotal.WithLabelValues(kind, status).Inc()
	}
}
