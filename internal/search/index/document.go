// Package index holds searchable learning documents and the inverted index
// over their terms.
package index

type DocType string

const (
	TypeVocabulary DocType = "vocabulary"
	TypeGrammar    DocType = "grammar"
)

// Document is one vocabulary or grammar record as the search engine sees it.
// Difficulty runs 1..5; zero Difficulty or Frequency means "unset" and skips
// the corresponding relevance boost.
type Document struct {
	ID         string  `json:"id"`
	Type       DocType `json:"type"`
	Title      string  `json:"title"`
	Content    string  `json:"content"`
	Category   string  `json:"category"`
	Level      string  `json:"level"`
	SourceLang string  `json:"source_lang,omitempty"`
	TargetLang string  `json:"target_lang,omitempty"`
	Difficulty int     `json:"difficulty,omitempty"`
	Frequency  int     `json:"frequency,omitempty"`
	URL        string  `json:"url"`
	Data       any     `json:"data,omitempty"`
}

// Direction is the learning direction the document serves, "bg-de" style.
func (d *Document) Direction() string {
	return d.SourceLang + "-" + d.TargetLang
}

type Posting struct {
	DocID     string
	Frequency int
	Positions []int
	InTitle   bool
}

type PostingList []Posting
