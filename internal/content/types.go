// Package content defines vocabulary and grammar items as served by the
// upstream content API and converts them into search documents.
package content

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/bgde/vocab-platform/internal/search/index"
	"gopkg.in/yaml.v3"
)

// Example is a usage example. Upstream data carries either a plain string or
// an object with a sentence (or text) and its translation.
type Example struct {
	Sentence    string `json:"sentence" yaml:"sentence"`
	Translation string `json:"translation,omitempty" yaml:"translation,omitempty"`
	Context     string `json:"context,omitempty" yaml:"context,omitempty"`
	Note        string `json:"note,omitempty" yaml:"note,omitempty"`
}

func (e *Example) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		return json.Unmarshal(data, &e.Sentence)
	}
	var raw struct {
		Sentence    string `json:"sentence"`
		Text        string `json:"text"`
		Translation string `json:"translation"`
		Context     string `json:"context"`
		Note        string `json:"note"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("decoding example: %w", err)
	}
	e.Sentence = raw.Sentence
	if e.Sentence == "" {
		e.Sentence = raw.Text
	}
	e.Translation, e.Context, e.Note = raw.Translation, raw.Context, raw.Note
	return nil
}

func (e *Example) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.ScalarNode {
		e.Sentence = node.Value
		return nil
	}
	var raw struct {
		Sentence    string `yaml:"sentence"`
		Text        string `yaml:"text"`
		Translation string `yaml:"translation"`
		Context     string `yaml:"context"`
		Note        string `yaml:"note"`
	}
	if err := node.Decode(&raw); err != nil {
		return fmt.Errorf("decoding example: %w", err)
	}
	e.Sentence = or(raw.Sentence, raw.Text)
	e.Translation, e.Context, e.Note = raw.Translation, raw.Context, raw.Note
	return nil
}

// Text is a string that upstream data may also wrap as {"text": "..."}.
type Text string

func (t *Text) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*t = Text(s)
		return nil
	}
	var obj struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		return fmt.Errorf("decoding text: %w", err)
	}
	*t = Text(obj.Text)
	return nil
}

func (t *Text) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.ScalarNode {
		*t = Text(node.Value)
		return nil
	}
	var obj struct {
		Text string `yaml:"text"`
	}
	if err := node.Decode(&obj); err != nil {
		return fmt.Errorf("decoding text: %w", err)
	}
	*t = Text(obj.Text)
	return nil
}

type VocabularyItem struct {
	ID             string    `json:"id" yaml:"id" validate:"required"`
	Word           string    `json:"word" yaml:"word" validate:"required"`
	Translation    string    `json:"translation" yaml:"translation" validate:"required"`
	SourceLang     string    `json:"source_lang,omitempty" yaml:"source_lang,omitempty" validate:"omitempty,oneof=bg de"`
	TargetLang     string    `json:"target_lang,omitempty" yaml:"target_lang,omitempty" validate:"omitempty,oneof=bg de,nefield=SourceLang"`
	Category       string    `json:"category,omitempty" yaml:"category,omitempty"`
	Level          string    `json:"level,omitempty" yaml:"level,omitempty" validate:"omitempty,oneof=A1 A2 B1 B2 C1 C2"`
	Notes          string    `json:"notes,omitempty" yaml:"notes,omitempty"`
	NotesBgToDe    string    `json:"notes_bg_to_de,omitempty" yaml:"notes_bg_to_de,omitempty"`
	NotesDeToBg    string    `json:"notes_de_to_bg,omitempty" yaml:"notes_de_to_bg,omitempty"`
	Etymology      string    `json:"etymology,omitempty" yaml:"etymology,omitempty"`
	CulturalNote   string    `json:"cultural_note,omitempty" yaml:"cultural_note,omitempty"`
	LinguisticNote string    `json:"linguistic_note,omitempty" yaml:"linguistic_note,omitempty"`
	Difficulty     int       `json:"difficulty,omitempty" yaml:"difficulty,omitempty" validate:"omitempty,min=1,max=5"`
	Frequency      int       `json:"frequency,omitempty" yaml:"frequency,omitempty" validate:"omitempty,min=1"`
	Examples       []Example `json:"examples,omitempty" yaml:"examples,omitempty" validate:"dive"`
}

// Direction is the item's own learning direction, defaulting to bg-de.
func (v VocabularyItem) Direction() string {
	return or(v.SourceLang, "bg") + "-" + or(v.TargetLang, "de")
}

// Card returns prompt and answer for a review in direction. Reviewing in the
// item's own direction shows the word; the reverse shows the translation.
func (v VocabularyItem) Card(direction string) (prompt, answer, notes string) {
	if direction == v.Direction() || direction == "" {
		prompt, answer = v.Word, v.Translation
	} else {
		prompt, answer = v.Translation, v.Word
	}
	switch direction {
	case "bg-de":
		notes = or(v.NotesBgToDe, v.Notes)
	case "de-bg":
		notes = or(v.NotesDeToBg, v.Notes)
	default:
		notes = v.Notes
	}
	return prompt, answer, notes
}

type GrammarItem struct {
	ID          string `json:"id,omitempty" yaml:"id,omitempty"`
	Title       string `json:"title" yaml:"title" validate:"required"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
	Content     string `json:"content,omitempty" yaml:"content,omitempty"`
	Examples    string `json:"examples,omitempty" yaml:"examples,omitempty"`
	Rules       []Text `json:"rules,omitempty" yaml:"rules,omitempty"`
	Category    string `json:"category,omitempty" yaml:"category,omitempty"`
	Level       string `json:"level,omitempty" yaml:"level,omitempty" validate:"omitempty,oneof=A1 A2 B1 B2 C1 C2"`
	Difficulty  int    `json:"difficulty,omitempty" yaml:"difficulty,omitempty" validate:"omitempty,min=1,max=5"`
	Slug        string `json:"slug,omitempty" yaml:"slug,omitempty"`
}

// VocabularyIndex describes how the upstream vocabulary is split into
// chunk files.
type VocabularyIndex struct {
	Generated    string      `json:"generated"`
	TotalEntries int         `json:"totalEntries"`
	SplitFiles   []SplitFile `json:"splitFiles"`
}

type SplitFile struct {
	File       string   `json:"file"`
	EntryCount int      `json:"entryCount"`
	SizeKB     float64  `json:"sizeKB"`
	Categories []string `json:"categories"`
}

// Data is everything the search index is built from.
type Data struct {
	Vocabulary []VocabularyItem
	Grammar    []GrammarItem
}

// Documents converts all items into search documents, vocabulary first.
func (d Data) Documents() []index.Document {
	docs := make([]index.Document, 0, len(d.Vocabulary)+len(d.Grammar))
	for _, v := range d.Vocabulary {
		docs = append(docs, VocabularyDocument(v))
	}
	for _, g := range d.Grammar {
		docs = append(docs, GrammarDocument(g))
	}
	return docs
}

func VocabularyDocument(v VocabularyItem) index.Document {
	parts := []string{v.Word, v.Translation, v.Notes, v.Etymology, v.CulturalNote, v.LinguisticNote}
	for _, ex := range v.Examples {
		parts = append(parts, ex.Sentence, ex.Translation)
	}
	return index.Document{
		ID:         v.ID,
		Type:       index.TypeVocabulary,
		Title:      v.Word,
		Content:    joinNonEmpty(parts),
		Category:   v.Category,
		Level:      v.Level,
		SourceLang: or(v.SourceLang, "bg"),
		TargetLang: or(v.TargetLang, "de"),
		Difficulty: orInt(v.Difficulty, 1),
		Frequency:  orInt(v.Frequency, 1),
		URL:        "/vocabulary/" + v.Word + "/",
		Data:       v,
	}
}

func GrammarDocument(g GrammarItem) index.Document {
	parts := []string{g.Title, g.Description, g.Content, g.Examples}
	for _, r := range g.Rules {
		parts = append(parts, string(r))
	}
	return index.Document{
		ID:         or(g.ID, "grammar-"+g.Title),
		Type:       index.TypeGrammar,
		Title:      g.Title,
		Content:    joinNonEmpty(parts),
		Category:   or(g.Category, "grammar"),
		Level:      or(g.Level, "A1"),
		Difficulty: orInt(g.Difficulty, 1),
		URL:        "/grammar/" + or(g.Slug, g.Title) + "/",
		Data:       g,
	}
}

func joinNonEmpty(parts []string) string {
	out := parts[:0:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return strings.Join(out, " ")
}

func or(s, def string) string {
	if s == "" {
		return def
	}
	return s
}

func orInt(v, def int) int {
	if v == 0 {
		return def
	}
	return v
}
