package importer

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/bgde/vocab-platform/internal/content"
	"github.com/bgde/vocab-platform/internal/content/client"
)

var chunkLevels = map[string]bool{"A1": true, "A2": true, "B1": true, "B2": true}

// Export writes data under dir in the upstream layout: data/vocab/index.json,
// one chunk per level (A1 to B2) and one per category for everything else,
// plus data/grammar.json.
func Export(dir string, data content.Data) (*content.VocabularyIndex, error) {
	vocabDir := filepath.Join(dir, "data", "vocab")
	if err := os.MkdirAll(vocabDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating %s: %w", vocabDir, err)
	}

	chunks := make(map[string][]content.VocabularyItem)
	var order []string
	for _, item := range data.Vocabulary {
		file := chunkFile(item)
		if _, ok := chunks[file]; !ok {
			order = append(order, file)
		}
		chunks[file] = append(chunks[file], item)
	}
	sort.Strings(order)

	ix := &content.VocabularyIndex{
		Generated:    time.Now().UTC().Format(time.RFC3339),
		TotalEntries: len(data.Vocabulary),
	}
	for _, file := range order {
		items := chunks[file]
		size, err := writeJSON(filepath.Join(vocabDir, file), items)
		if err != nil {
			return nil, err
		}
		ix.SplitFiles = append(ix.SplitFiles, content.SplitFile{
			File:       file,
			EntryCount: len(items),
			SizeKB:     math.Round(float64(size)/1024*10) / 10,
			Categories: categories(items),
		})
	}
	if _, err := writeJSON(filepath.Join(vocabDir, "index.json"), ix); err != nil {
		return nil, err
	}
	grammar := data.Grammar
	if grammar == nil {
		grammar = []content.GrammarItem{}
	}
	if _, err := writeJSON(filepath.Join(dir, "data", "grammar.json"), grammar); err != nil {
		return nil, err
	}
	return ix, nil
}

func chunkFile(item content.VocabularyItem) string {
	if chunkLevels[item.Level] {
		return item.Level + ".json"
	}
	if name := client.SanitizeCategory(item.Category); name != "" {
		return name + ".json"
	}
	return "uncategorized.json"
}

func categories(items []content.VocabularyItem) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, it := range items {
		if it.Category == "" {
			continue
		}
		if _, ok := seen[it.Category]; !ok {
			seen[it.Category] = struct{}{}
			out = append(out, it.Category)
		}
	}
	sort.Strings(out)
	return out
}

func writeJSON(path string, v any) (int, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return 0, fmt.Errorf("encoding %s: %w", filepath.Base(path), err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return 0, fmt.Errorf("writing %s: %w", path, err)
	}
	return len(data), nil
}
