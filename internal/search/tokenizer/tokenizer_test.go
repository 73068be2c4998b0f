package tokenizer

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeKeepsCyrillicAndUmlauts(t *testing.T) {
	assert.Equal(t, "ябълка  größe  hello world", Normalize("Ябълка, Größe! Hello-World"))
}

func TestNormalizeComposesDecomposedUmlauts(t *testing.T) {
	assert.Equal(t, "größe", Normalize("Gro\u0308ße"))
	assert.Equal(t, Normalize("Größe"), Normalize("Gro\u0308ße"))
}

func TestWordsDropsShortAndStopWords(t *testing.T) {
	assert.Equal(t, []string{"hund", "ябълка", "katze"}, Words("Der Hund и ябълка und a Katze"))
}

func TestVariants(t *testing.T) {
	assert.Equal(t, []string{"haus", "ha", "hau"}, Variants("haus"))
	assert.Equal(t, []string{"hallo", "ha", "hal", "hall", "llo", "lo"}, Variants("hallo"))
	assert.Equal(t,
		[]string{"ябълка", "яб", "ябъ", "ябъл", "ябълк", "лка", "ка"},
		Variants("ябълка"))
	assert.Equal(t, []string{"zu"}, Variants("zu"))
}

func TestVariantsPrefixCapsAtSix(t *testing.T) {
	v := Variants("verstehen")
	assert.Contains(t, v, "verste")
	assert.NotContains(t, v, "verstel")
	assert.Contains(t, v, "hen")
	assert.Contains(t, v, "en")
}

func TestTokenizePositions(t *testing.T) {
	tokens := Tokenize("Haus und Haus")
	var positions []int
	for _, tok := range tokens {
		if tok.Term == "haus" {
			positions = append(positions, tok.Position)
		}
	}
	assert.Equal(t, []int{0, 1}, positions)
}

func TestExtractTermsUnique(t *testing.T) {
	terms := ExtractTerms("Haus haus HAUS")
	assert.Equal(t, []string{"haus", "ha", "hau"}, terms)
	assert.Empty(t, ExtractTerms("и в a"))
}
