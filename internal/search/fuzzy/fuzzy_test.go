package fuzzy

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDistance(t *testing.T) {
	tests := []struct {
		a, b string
		want int
	}{
		{"", "", 0},
		{"haus", "", 4},
		{"haus", "haus", 0},
		{"haus", "maus", 1},
		{"kitten", "sitting", 3},
		{"ябълка", "ябалка", 1},
		{"größe", "grosse", 3},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Distance(tt.a, tt.b), "%s/%s", tt.a, tt.b)
	}
}

func TestIsMatch(t *testing.T) {
	// 30% of 6 runes floors to 1 edit.
	assert.True(t, IsMatch("ябълка", "ябалка"))
	assert.False(t, IsMatch("ябълка", "ябалко"))
	// 30% of 4 floors to 1.
	assert.True(t, IsMatch("haus", "maus"))
	assert.False(t, IsMatch("haus", "hausaufgabe"), "length difference above 2")
	assert.False(t, IsMatch("hund", "mond"))
}

func TestScore(t *testing.T) {
	assert.InDelta(t, 0.7, Score("haus", "haus"), 1e-9)
	assert.InDelta(t, 0.75*0.7, Score("haus", "maus"), 1e-9)
	assert.InDelta(t, 0.0, Score("abcd", "wxyz"), 1e-9)
}
