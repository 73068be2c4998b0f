// Package importer reads vocabulary from local JSON, YAML, CSV and Excel
// files and writes it out in the layout the content client serves from.
package importer

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/bgde/vocab-platform/internal/content"
	apperrors "github.com/bgde/vocab-platform/pkg/errors"
	"github.com/xuri/excelize/v2"
	"gopkg.in/yaml.v3"
)

// Columns recognised in spreadsheet headers. Matching is case-insensitive.
var columns = []string{"id", "word", "translation", "category", "level", "difficulty", "notes", "examples"}

type Result struct {
	Total    int          `json:"total"`
	Imported int          `json:"imported"`
	Skipped  int          `json:"skipped"`
	Errors   []string     `json:"errors,omitempty"`
	Data     content.Data `json:"-"`
}

func (r *Result) skip(format string, args ...any) {
	r.Skipped++
	r.Errors = append(r.Errors, fmt.Sprintf(format, args...))
}

// Import reads path, choosing the decoder by extension. Invalid items are
// counted as skipped; only unreadable files fail the import.
func Import(path string) (*Result, error) {
	logger := slog.Default().With("component", "importer", "file", path)
	var (
		res *Result
		err error
	)
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".json":
		res, err = importDocument(path, json.Unmarshal)
	case ".yaml", ".yml":
		res, err = importDocument(path, yaml.Unmarshal)
	case ".xlsx":
		res, err = importExcel(path)
	case ".csv":
		res, err = importCSV(path)
	default:
		return nil, apperrors.Newf(apperrors.ErrInvalidInput, http.StatusBadRequest, "unsupported file type %q", ext)
	}
	if err != nil {
		return nil, err
	}
	logger.Info("import finished", "total", res.Total, "imported", res.Imported, "skipped", res.Skipped)
	return res, nil
}

type bundle struct {
	Vocabulary []content.VocabularyItem `json:"vocabulary" yaml:"vocabulary"`
	Grammar    []content.GrammarItem    `json:"grammar" yaml:"grammar"`
}

// importDocument accepts either a list of vocabulary items or an object with
// vocabulary and grammar lists.
func importDocument(path string, unmarshal func([]byte, any) error) (*Result, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	var b bundle
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && (trimmed[0] == '[' || trimmed[0] == '-') {
		err = unmarshal(data, &b.Vocabulary)
	} else {
		err = unmarshal(data, &b)
	}
	if err != nil {
		return nil, apperrors.Newf(apperrors.ErrInvalidInput, http.StatusBadRequest, "decoding %s: %v", filepath.Base(path), err)
	}

	res := &Result{}
	seen := make(map[string]struct{})
	for i := range b.Vocabulary {
		addVocabulary(res, seen, b.Vocabulary[i], fmt.Sprintf("item %d", i+1))
	}
	for i := range b.Grammar {
		res.Total++
		if err := content.ValidateGrammar(&b.Grammar[i]); err != nil {
			res.skip("grammar %d: %v", i+1, err)
			continue
		}
		res.Imported++
		res.Data.Grammar = append(res.Data.Grammar, b.Grammar[i])
	}
	return res, nil
}

func addVocabulary(res *Result, seen map[string]struct{}, item content.VocabularyItem, where string) {
	res.Total++
	if err := content.ValidateVocabulary(&item); err != nil {
		res.skip("%s: %v", where, err)
		return
	}
	if _, dup := seen[item.ID]; dup {
		res.skip("%s: duplicate id %s", where, item.ID)
		return
	}
	seen[item.ID] = struct{}{}
	res.Imported++
	res.Data.Vocabulary = append(res.Data.Vocabulary, item)
}

func importExcel(path string) (*Result, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, apperrors.Newf(apperrors.ErrInvalidInput, http.StatusBadRequest, "%s has no sheets", filepath.Base(path))
	}
	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("reading rows of %s: %w", sheets[0], err)
	}
	return importRows(rows)
}

func importCSV(path string) (*Result, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}
	defer file.Close()

	reader := csv.NewReader(file)
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true
	var rows [][]string
	for {
		row, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", path, err)
		}
		rows = append(rows, row)
	}
	return importRows(rows)
}

// importRows treats the first row as the header. Blank rows are ignored.
func importRows(rows [][]string) (*Result, error) {
	if len(rows) == 0 {
		return nil, apperrors.New(apperrors.ErrInvalidInput, http.StatusBadRequest, "missing header row")
	}
	col := make(map[string]int)
	for i, h := range rows[0] {
		name := strings.ToLower(strings.TrimSpace(h))
		for _, c := range columns {
			if name == c {
				col[c] = i
			}
		}
	}
	for _, required := range []string{"word", "translation"} {
		if _, ok := col[required]; !ok {
			return nil, apperrors.Newf(apperrors.ErrInvalidInput, http.StatusBadRequest, "missing %q column", required)
		}
	}

	cell := func(row []string, name string) string {
		i, ok := col[name]
		if !ok || i >= len(row) {
			return ""
		}
		return strings.TrimSpace(row[i])
	}

	res := &Result{}
	seen := make(map[string]struct{})
	for n, row := range rows[1:] {
		if strings.TrimSpace(strings.Join(row, "")) == "" {
			continue
		}
		line := n + 2
		item := content.VocabularyItem{
			ID:          cell(row, "id"),
			Word:        cell(row, "word"),
			Translation: cell(row, "translation"),
			Category:    cell(row, "category"),
			Level:       strings.ToUpper(cell(row, "level")),
			Notes:       cell(row, "notes"),
		}
		if item.ID == "" {
			item.ID = fmt.Sprintf("row-%d", line)
		}
		if d := cell(row, "difficulty"); d != "" {
			v, err := strconv.Atoi(d)
			if err != nil {
				res.Total++
				res.skip("row %d: difficulty %q is not a number", line, d)
				continue
			}
			item.Difficulty = v
		}
		for _, ex := range splitExamples(cell(row, "examples")) {
			item.Examples = append(item.Examples, content.Example{Sentence: ex})
		}
		addVocabulary(res, seen, item, fmt.Sprintf("row %d", line))
	}
	return res, nil
}

// splitExamples splits a cell on newlines or semicolons.
func splitExamples(s string) []string {
	var out []string
	for _, part := range strings.FieldsFunc(s, func(r rune) bool { return r == '\n' || r == ';' }) {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
