package engine

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/bgde/vocab-platform/internal/search/index"
	"github.com/bgde/vocab-platform/internal/search/ranker"
	apperrors "github.com/bgde/vocab-platform/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fixture() []index.Document {
	return []index.Document{
		{
			ID: "v-haus", Type: index.TypeVocabulary, Title: "Haus",
			Content:  "Haus house. Das Haus ist groß.",
			Category: "home", Level: "A1", SourceLang: "de", TargetLang: "bg",
			Difficulty: 1, Frequency: 5, URL: "/vocabulary/Haus/",
		},
		{
			ID: "v-yabalka", Type: index.TypeVocabulary, Title: "ябълка",
			Content:  "ябълка Apfel. Ябълката е червена.",
			Category: "food", Level: "A1", SourceLang: "bg", TargetLang: "de",
			Difficulty: 2, Frequency: 3, URL: "/vocabulary/ябълка/",
		},
		{
			ID: "v-hund", Type: index.TypeVocabulary, Title: "Hund",
			Content:  "Hund dog куче",
			Category: "animals", Level: "A2", SourceLang: "de", TargetLang: "bg",
			Difficulty: 1, Frequency: 4, URL: "/vocabulary/Hund/",
		},
		{
			ID: "g-artikel", Type: index.TypeGrammar, Title: "Bestimmter Artikel",
			Content:  "Der bestimmte Artikel: das Haus, der Hund.",
			Category: "grammar", Level: "A1", URL: "/grammar/bestimmter-artikel/",
		},
	}
}

func newBuilt(t *testing.T, opts ...Option) *Engine {
	t.Helper()
	e := New(Config{}, opts...)
	res, err := e.BuildIndex(context.Background(), fixture())
	require.NoError(t, err)
	require.Equal(t, 4, res.Indexed)
	return e
}

func resultIDs(resp *Response) []string {
	ids := make([]string, len(resp.Results))
	for i, r := range resp.Results {
		ids[i] = r.ID
	}
	return ids
}

func TestSearchBeforeBuild(t *testing.T) {
	e := New(Config{})
	_, err := e.Search(context.Background(), "haus", Options{})
	assert.ErrorIs(t, err, apperrors.ErrIndexNotReady)
	assert.False(t, e.Ready())
}

func TestSearchRanksTitleMatchFirst(t *testing.T) {
	e := newBuilt(t)
	resp, err := e.Search(context.Background(), "haus", Options{})
	require.NoError(t, err)

	assert.Equal(t, 2, resp.Total)
	assert.Equal(t, []string{"v-haus", "g-artikel"}, resultIDs(resp))
	assert.Greater(t, resp.Results[0].Score, resp.Results[1].Score)
	assert.Equal(t, "/vocabulary/Haus/", resp.Results[0].URL)
	assert.Empty(t, resp.Suggestions)
	assert.Equal(t, "haus", resp.Query)
}

func TestSearchEmptyQuery(t *testing.T) {
	e := newBuilt(t)
	resp, err := e.Search(context.Background(), "  und  ", Options{})
	require.NoError(t, err)
	assert.Empty(t, resp.Results)
	assert.Zero(t, resp.Total)
	assert.Zero(t, e.Stats().TotalSearches, "empty queries are not recorded")
}

func TestSearchFilters(t *testing.T) {
	e := newBuilt(t)
	ctx := context.Background()

	resp, err := e.Search(ctx, "haus", Options{Type: "grammar"})
	require.NoError(t, err)
	assert.Equal(t, []string{"g-artikel"}, resultIDs(resp))

	resp, err = e.Search(ctx, "hund", Options{Level: "A2"})
	require.NoError(t, err)
	assert.Equal(t, []string{"v-hund"}, resultIDs(resp))

	resp, err = e.Search(ctx, "hund", Options{Category: "grammar", Type: TypeAll})
	require.NoError(t, err)
	assert.Equal(t, []string{"g-artikel"}, resultIDs(resp))

	resp, err = e.Search(ctx, "ябълка", Options{Direction: "bg-de"})
	require.NoError(t, err)
	assert.Equal(t, []string{"v-yabalka"}, resultIDs(resp))

	resp, err = e.Search(ctx, "ябълка", Options{Direction: "de-bg"})
	require.NoError(t, err)
	assert.Zero(t, resp.Total)
}

func TestSearchPagination(t *testing.T) {
	e := newBuilt(t)
	ctx := context.Background()

	first, err := e.Search(ctx, "haus", Options{Limit: 1})
	require.NoError(t, err)
	assert.Equal(t, 2, first.Total)
	assert.Equal(t, []string{"v-haus"}, resultIDs(first))

	second, err := e.Search(ctx, "haus", Options{Limit: 1, Offset: 1})
	require.NoError(t, err)
	assert.Equal(t, []string{"g-artikel"}, resultIDs(second))

	past, err := e.Search(ctx, "haus", Options{Offset: 10})
	require.NoError(t, err)
	assert.Equal(t, 2, past.Total)
	assert.Empty(t, past.Results)
	assert.Empty(t, past.Suggestions, "paging past the end is not a miss")
}

func TestSmallIndexIsNotPruned(t *testing.T) {
	e := New(Config{})
	res, err := e.BuildIndex(context.Background(), []index.Document{{
		ID: "v-haus", Type: index.TypeVocabulary, Title: "Haus", Content: "Haus house",
	}})
	require.NoError(t, err)
	assert.Zero(t, res.PrunedTerms)
	assert.Greater(t, res.Terms, 0)

	resp, err := e.Search(context.Background(), "haus", Options{MinScore: -1})
	require.NoError(t, err)
	assert.Equal(t, 1, resp.Total)
}

func TestPruningThreshold(t *testing.T) {
	docs := make([]index.Document, 12)
	for i := range docs {
		docs[i] = index.Document{
			ID: fmt.Sprintf("v-%d", i), Type: index.TypeVocabulary,
			Title: fmt.Sprintf("wort%d", i), Content: "gemeinsam",
		}
	}

	res, err := New(Config{}).BuildIndex(context.Background(), docs)
	require.NoError(t, err)
	assert.Greater(t, res.PrunedTerms, 0, "a term in every document is pruned at 12 documents")

	res, err = New(Config{MinDocsForPruning: -1}).BuildIndex(context.Background(), docs)
	require.NoError(t, err)
	assert.Zero(t, res.PrunedTerms)
}

func TestSearchMinScore(t *testing.T) {
	e := New(Config{MinScore: 0.1})
	_, err := e.BuildIndex(context.Background(), []index.Document{{
		ID: "maus", Type: index.TypeVocabulary, Title: "Maus", Content: "mouse",
		Difficulty: 5, Frequency: 1,
	}})
	require.NoError(t, err)

	resp, err := e.Search(context.Background(), "haus", Options{})
	require.NoError(t, err)
	assert.Zero(t, resp.Total, "weak fuzzy match on a hard word falls below the threshold")

	resp, err = e.Search(context.Background(), "haus", Options{MinScore: -1})
	require.NoError(t, err)
	require.Equal(t, 1, resp.Total)
	assert.Less(t, resp.Results[0].Score, 0.1)
}

func TestSearchSortAlphabetical(t *testing.T) {
	e := newBuilt(t)
	resp, err := e.Search(context.Background(), "haus hund", Options{SortBy: ranker.SortAlphabetical})
	require.NoError(t, err)
	assert.Equal(t, []string{"g-artikel", "v-haus", "v-hund"}, resultIDs(resp))
}

func TestSearchSnippetAndHighlights(t *testing.T) {
	e := newBuilt(t)
	resp, err := e.Search(context.Background(), "ябълка", Options{})
	require.NoError(t, err)
	require.NotEmpty(t, resp.Results)

	r := resp.Results[0]
	assert.Equal(t, "v-yabalka", r.ID)
	assert.Equal(t, "ябълка Apfel", r.Snippet)
	require.NotEmpty(t, r.Highlights)
	assert.Equal(t, "ябълка", r.Highlights[0].Term)
	assert.Equal(t, []string{"ябълка"}, r.Highlights[0].TitleMatches)
	assert.Equal(t, []string{"ябълка", "Ябълката"}, r.Highlights[0].ContentMatches)
}

func TestSuggestionsOnMiss(t *testing.T) {
	e := newBuilt(t)
	ctx := context.Background()
	for _, q := range []string{"haus", "haus", "hund"} {
		_, err := e.Search(ctx, q, Options{})
		require.NoError(t, err)
	}

	resp, err := e.Search(ctx, "katzen", Options{})
	require.NoError(t, err)
	assert.Zero(t, resp.Total)
	assert.Equal(t, []string{"haus", "hund"}, resp.Suggestions)
}

func TestSuggestionsForShortQueryTerm(t *testing.T) {
	e := newBuilt(t)
	resp, err := e.Search(context.Background(), "us", Options{})
	require.NoError(t, err)
	assert.Zero(t, resp.Total)
	require.NotEmpty(t, resp.Suggestions)
	assert.Equal(t, "haus", resp.Suggestions[0])
	assert.Contains(t, resp.Suggestions, "house")
}

func TestSnippetTruncationAndContentMatchCap(t *testing.T) {
	docs := append(fixture(), index.Document{
		ID: "v-duma", Type: index.TypeVocabulary, Title: "дума",
		Content:    strings.Repeat("дума ", 60),
		Difficulty: 1, Frequency: 3,
	})
	e := New(Config{})
	_, err := e.BuildIndex(context.Background(), docs)
	require.NoError(t, err)

	resp, err := e.Search(context.Background(), "дума", Options{MinScore: -1})
	require.NoError(t, err)
	require.NotEmpty(t, resp.Results)
	r := resp.Results[0]
	require.Equal(t, "v-duma", r.ID)

	assert.Equal(t, 203, utf8.RuneCountInString(r.Snippet))
	assert.True(t, strings.HasSuffix(r.Snippet, "..."))
	assert.Equal(t, []rune(strings.Repeat("дума ", 40))[:200], []rune(r.Snippet)[:200])

	var found bool
	for _, h := range r.Highlights {
		if h.Term == "дума" {
			found = true
			assert.Len(t, h.ContentMatches, 5)
			assert.Equal(t, []string{"дума"}, h.TitleMatches)
		}
	}
	assert.True(t, found)
}

func TestAutocomplete(t *testing.T) {
	e := newBuilt(t)
	assert.Equal(t, []string{"hau", "haus"}, e.Autocomplete("Ha", 0))
	assert.Equal(t, []string{"hau"}, e.Autocomplete("ha", 1))
	assert.Empty(t, e.Autocomplete("h", 10))
	assert.Empty(t, e.Autocomplete("zz", 10))
	assert.Empty(t, New(Config{}).Autocomplete("ha", 10))
}

func TestStatsAndHistory(t *testing.T) {
	e := New(Config{HistorySize: 3})
	_, err := e.BuildIndex(context.Background(), fixture())
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		_, err := e.Search(context.Background(), fmt.Sprintf("haus %d", i), Options{})
		require.NoError(t, err)
	}

	stats := e.Stats()
	assert.Equal(t, 5, stats.TotalSearches)
	assert.Equal(t, 5, stats.PopularTerms["haus"])
	assert.True(t, stats.IsIndexed)
	assert.Equal(t, 4, stats.DocumentCount)
	assert.Greater(t, stats.IndexSize, 0)
	require.Len(t, stats.RecentSearches, 3)
	assert.Equal(t, "haus 4", stats.RecentSearches[0].Query)
	assert.Equal(t, "haus 2", stats.RecentSearches[2].Query)
	assert.Len(t, e.History(2), 2)
}

func TestClearAndIndexInfo(t *testing.T) {
	e := newBuilt(t)
	info := e.IndexInfo()
	assert.True(t, info.IsIndexed)
	assert.Equal(t, 4, info.DocumentCount)
	assert.Greater(t, info.TermCount, 0)
	assert.Greater(t, info.MemoryBytes, int64(0))

	gen := e.Generation()
	e.Clear()
	assert.False(t, e.Ready())
	assert.Equal(t, IndexInfo{}, e.IndexInfo())
	assert.NotEqual(t, gen, e.Generation())

	_, err := e.Search(context.Background(), "haus", Options{})
	assert.ErrorIs(t, err, apperrors.ErrIndexNotReady)
}

func TestBuildIndexSkipsInvalidAndDuplicates(t *testing.T) {
	docs := append(fixture(),
		index.Document{ID: "", Title: "no id"},
		index.Document{ID: "x", Title: "  "},
		index.Document{ID: "v-haus", Title: "Haus again"},
	)
	e := New(Config{})
	res, err := e.BuildIndex(context.Background(), docs)
	require.NoError(t, err)
	assert.Equal(t, 4, res.Indexed)
	assert.Equal(t, 3, res.Skipped)

	d, ok := e.Document("v-haus")
	require.True(t, ok)
	assert.Equal(t, "Haus", d.Title)
}

func TestBuildIndexCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	e := New(Config{})
	_, err := e.BuildIndex(ctx, fixture())
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, e.Ready())
}

func TestBuildOutlivesCancelledCaller(t *testing.T) {
	started := make(chan struct{}, 1)
	release := make(chan struct{})
	var gate atomic.Bool
	gate.Store(true)
	e := New(Config{}, WithClock(func() time.Time {
		if gate.CompareAndSwap(true, false) {
			started <- struct{}{}
			<-release
		}
		return time.Now()
	}))

	ctx, cancel := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() {
		_, err := e.BuildIndex(ctx, fixture())
		firstErr <- err
	}()
	<-started

	type outcome struct {
		res BuildResult
		err error
	}
	second := make(chan outcome, 1)
	go func() {
		res, err := e.BuildIndex(context.Background(), fixture())
		second <- outcome{res, err}
	}()
	time.Sleep(20 * time.Millisecond)

	cancel()
	assert.ErrorIs(t, <-firstErr, context.Canceled)

	close(release)
	got := <-second
	require.NoError(t, got.err)
	assert.Equal(t, 4, got.res.Indexed)
	assert.True(t, e.Ready())
}

func TestConcurrentBuildAndSearch(t *testing.T) {
	e := newBuilt(t)
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, err := e.BuildIndex(context.Background(), fixture())
			assert.NoError(t, err)
		}()
		go func() {
			defer wg.Done()
			_, err := e.Search(context.Background(), "haus", Options{})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	assert.True(t, e.Ready())
}

type fakePhases struct {
	phases    map[string]int
	direction string
}

func (f *fakePhases) Phases(_ context.Context, direction string) (map[string]int, error) {
	f.direction = direction
	return f.phases, nil
}

func TestSearchPhaseFacet(t *testing.T) {
	src := &fakePhases{phases: map[string]int{"v-haus": 3}}
	e := newBuilt(t, WithPhaseSource(src))
	ctx := context.Background()

	three := 3
	resp, err := e.Search(ctx, "haus", Options{Phase: &three})
	require.NoError(t, err)
	assert.Equal(t, []string{"v-haus"}, resultIDs(resp))
	assert.Equal(t, "bg-de", src.direction)

	one := UnreviewedPhase
	resp, err = e.Search(ctx, "haus", Options{Phase: &one, Direction: "de-bg"})
	require.NoError(t, err)
	assert.Empty(t, resp.Results, "grammar has no language pair and v-haus is phase 3")
	assert.Equal(t, "de-bg", src.direction)

	resp, err = e.Search(ctx, "haus", Options{Phase: &one})
	require.NoError(t, err)
	assert.Equal(t, []string{"g-artikel"}, resultIDs(resp))
}

func TestSearchPhaseFacetWithoutSource(t *testing.T) {
	e := newBuilt(t)
	two := 2
	_, err := e.Search(context.Background(), "haus", Options{Phase: &two})
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)
}

func TestOptionsValidate(t *testing.T) {
	assert.NoError(t, Options{Type: "vocabulary"}.Validate())
	assert.ErrorIs(t, Options{Type: "lesson"}.Validate(), apperrors.ErrInvalidInput)
	assert.ErrorIs(t, Options{Offset: -1}.Validate(), apperrors.ErrInvalidInput)
	seven := 7
	assert.ErrorIs(t, Options{Phase: &seven}.Validate(), apperrors.ErrInvalidInput)
}

func TestLimitClamp(t *testing.T) {
	e := New(Config{DefaultLimit: 5, MaxResults: 10})
	assert.Equal(t, 5, e.limit(Options{}))
	assert.Equal(t, 10, e.limit(Options{Limit: 50}))
	assert.Equal(t, 7, e.limit(Options{Limit: 7}))
}
