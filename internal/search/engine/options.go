package engine

import (
	"net/http"

	"github.com/bgde/vocab-platform/internal/search/index"
	"github.com/bgde/vocab-platform/internal/search/ranker"
	apperrors "github.com/bgde/vocab-platform/pkg/errors"
)

const (
	TypeAll = "all"
	// UnreviewedPhase is the phase assumed for items without review state.
	UnreviewedPhase = 1
	maxPhase        = 6
)

// Options narrows and orders a search. Zero values mean "no filter" or the
// engine default. MinScore 0 uses the configured threshold; a negative value
// disables it.
type Options struct {
	Type      string        `json:"type,omitempty"`
	Category  string        `json:"category,omitempty"`
	Level     string        `json:"level,omitempty"`
	Direction string        `json:"direction,omitempty"`
	Phase     *int          `json:"phase,omitempty"`
	Limit     int           `json:"limit,omitempty"`
	Offset    int           `json:"offset,omitempty"`
	SortBy    ranker.SortBy `json:"sort_by,omitempty"`
	MinScore  float64       `json:"min_score,omitempty"`
}

func (o Options) Validate() error {
	switch o.Type {
	case "", TypeAll, string(index.TypeVocabulary), string(index.TypeGrammar):
	default:
		return apperrors.Newf(apperrors.ErrInvalidInput, http.StatusBadRequest, "unknown type %q", o.Type)
	}
	if o.Offset < 0 {
		return apperrors.New(apperrors.ErrInvalidInput, http.StatusBadRequest, "offset must not be negative")
	}
	if o.Phase != nil && (*o.Phase < 0 || *o.Phase > maxPhase) {
		return apperrors.Newf(apperrors.ErrInvalidInput, http.StatusBadRequest, "phase %d out of range", *o.Phase)
	}
	return nil
}

type Highlight struct {
	Term           string   `json:"term"`
	TitleMatches   []string `json:"title_matches"`
	ContentMatches []string `json:"content_matches"`
}

type Result struct {
	ID         string        `json:"id"`
	Type       index.DocType `json:"type"`
	Title      string        `json:"title"`
	Snippet    string        `json:"snippet"`
	Category   string        `json:"category"`
	Level      string        `json:"level"`
	URL        string        `json:"url"`
	Score      float64       `json:"score"`
	Highlights []Highlight   `json:"highlights"`
	Data       any           `json:"data,omitempty"`
}

type Response struct {
	Results        []Result `json:"results"`
	Total          int      `json:"total"`
	Query          string   `json:"query"`
	ResponseTimeMs float64  `json:"response_time_ms"`
	Suggestions    []string `json:"suggestions"`
}
