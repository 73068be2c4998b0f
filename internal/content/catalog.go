package content

import "sync"

// Catalog is the in-memory lookup of the currently loaded items. It is
// replaced wholesale on reload and safe for concurrent use.
type Catalog struct {
	mu         sync.RWMutex
	vocabulary []VocabularyItem
	byID       map[string]int
	grammar    []GrammarItem
}

func NewCatalog(data Data) *Catalog {
	c := &Catalog{}
	c.Replace(data)
	return c
}

// Replace swaps in data. Later vocabulary items with an already seen ID are
// ignored.
func (c *Catalog) Replace(data Data) {
	vocab := make([]VocabularyItem, 0, len(data.Vocabulary))
	byID := make(map[string]int, len(data.Vocabulary))
	for _, v := range data.Vocabulary {
		if _, dup := byID[v.ID]; dup {
			continue
		}
		byID[v.ID] = len(vocab)
		vocab = append(vocab, v)
	}
	grammar := append([]GrammarItem(nil), data.Grammar...)

	c.mu.Lock()
	c.vocabulary, c.byID, c.grammar = vocab, byID, grammar
	c.mu.Unlock()
}

func (c *Catalog) Vocabulary(id string) (VocabularyItem, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	i, ok := c.byID[id]
	if !ok {
		return VocabularyItem{}, false
	}
	return c.vocabulary[i], true
}

// VocabularyItems returns the vocabulary in load order.
func (c *Catalog) VocabularyItems() []VocabularyItem {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]VocabularyItem(nil), c.vocabulary...)
}

func (c *Catalog) Data() Data {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return Data{
		Vocabulary: append([]VocabularyItem(nil), c.vocabulary...),
		Grammar:    append([]GrammarItem(nil), c.grammar...),
	}
}

func (c *Catalog) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.vocabulary) + len(c.grammar)
}
