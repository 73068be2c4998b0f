package index

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func doc(id, title, content string) Document {
	return Document{ID: id, Type: TypeVocabulary, Title: title, Content: content}
}

func TestAddRecordsFrequencyPositionsAndTitle(t *testing.T) {
	ix := New()
	require.True(t, ix.Add(doc("v1", "Haus", "Haus house das Haus ist groß")))
	ix.Seal()

	postings := ix.Lookup("haus")
	require.Len(t, postings, 1)
	p := postings[0]
	assert.Equal(t, "v1", p.DocID)
	// content "haus house haus groß" + title "haus"
	assert.Equal(t, 3, p.Frequency)
	assert.Equal(t, []int{0, 2, 4}, p.Positions)
	assert.True(t, p.InTitle)

	house := ix.Lookup("house")
	require.Len(t, house, 1)
	assert.False(t, house[0].InTitle)
}

func TestAddRejectsDuplicateIDs(t *testing.T) {
	ix := New()
	assert.True(t, ix.Add(doc("v1", "Haus", "house")))
	assert.False(t, ix.Add(doc("v1", "Katze", "cat")))
	ix.Seal()
	assert.Equal(t, 1, ix.DocCount())
	assert.False(t, ix.Has("katze"))
	assert.False(t, ix.Add(doc("v2", "Hund", "dog")), "sealed index must reject adds")
}

func TestPruneRemovesCommonTerms(t *testing.T) {
	ix := New()
	for i := 0; i < 10; i++ {
		content := fmt.Sprintf("common word%02d", i)
		if i < 2 {
			content += " rare"
		}
		ix.Add(doc(fmt.Sprintf("d%d", i), "", content))
	}
	removed := ix.Prune(0.8, 10)
	ix.Seal()

	assert.Greater(t, removed, 0)
	assert.False(t, ix.Has("common"))
	assert.True(t, ix.Has("rare"))
	assert.Equal(t, 2, ix.DocFreq("rare"))
}

func TestPruneSkipsSmallCollections(t *testing.T) {
	ix := New()
	ix.Add(doc("d1", "Haus", "house"))
	assert.Equal(t, 0, ix.Prune(0.8, 10))
	ix.Seal()
	assert.True(t, ix.Has("haus"))
}

func TestPrefixAndLengthLookups(t *testing.T) {
	ix := New()
	ix.Add(doc("d1", "Hallo", "hallo hallway haus"))
	ix.Seal()

	assert.Empty(t, ix.TermsWithPrefix("zz"))
	withPrefix := ix.TermsWithPrefix("hall")
	assert.Equal(t, []string{"hall", "hallo", "hallw", "hallwa", "hallway"}, withPrefix)

	near := ix.TermsNear(4, 0)
	assert.Contains(t, near, "haus")
	assert.Contains(t, near, "hall")
	assert.NotContains(t, near, "hallo")
}

func TestDocumentsKeepInsertionOrder(t *testing.T) {
	ix := New()
	ix.Add(doc("b", "Zwei", "two"))
	ix.Add(doc("a", "Eins", "one"))
	ix.Seal()

	docs := ix.Documents()
	require.Len(t, docs, 2)
	assert.Equal(t, "b", docs[0].ID)
	assert.Equal(t, "a", docs[1].ID)
	assert.Greater(t, ix.EstimateMemory(), int64(0))

	d, ok := ix.Document("a")
	require.True(t, ok)
	assert.Equal(t, "Eins", d.Title)
}
