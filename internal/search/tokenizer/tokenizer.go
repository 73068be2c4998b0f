// Package tokenizer turns Bulgarian, German and English learning content into
// search terms. Each kept word is expanded into prefix and suffix variants so
// that partial input ("ябъ", "haus") still reaches whole words.
package tokenizer

import (
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

var stopWords = map[string]struct{}{
	// German
	"der": {}, "die": {}, "das": {}, "und": {}, "oder": {}, "aber": {},
	"mit": {}, "von": {}, "zu": {}, "in": {}, "auf": {}, "für": {},
	"ist": {}, "sind": {}, "war": {}, "waren": {},
	// Bulgarian
	"и": {}, "или": {}, "но": {}, "с": {}, "от": {}, "до": {}, "в": {},
	"на": {}, "за": {}, "е": {}, "са": {}, "беше": {}, "бяха": {},
	"това": {}, "тази": {}, "този": {},
	// English
	"the": {}, "and": {}, "or": {}, "but": {}, "with": {}, "from": {},
	"to": {}, "on": {}, "for": {}, "is": {}, "are": {}, "was": {}, "were": {},
}

const (
	MinWordLength  = 2
	MaxPrefixLen   = 6
	MaxSuffixLen   = 3
	minSuffixWord  = 5
	minSuffixTerms = 2
)

// Token is a term variant and the position of the word it came from.
// Positions count kept words only.
type Token struct {
	Term     string
	Position int
}

// IsStopWord reports whether the lower-cased word is ignored.
func IsStopWord(word string) bool {
	_, ok := stopWords[word]
	return ok
}

// Normalize composes text to NFC, lower-cases it and replaces every rune that
// is not a letter, digit or underscore with a space.
func Normalize(text string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_' {
			return unicode.ToLower(r)
		}
		return ' '
	}, norm.NFC.String(text))
}

// Words returns the normalized words of text with short words and stop words
// removed.
func Words(text string) []string {
	fields := strings.Fields(Normalize(text))
	words := fields[:0]
	for _, w := range fields {
		if len([]rune(w)) < MinWordLength || IsStopWord(w) {
			continue
		}
		words = append(words, w)
	}
	return words
}

// Tokenize emits every term variant of every kept word.
func Tokenize(text string) []Token {
	words := Words(text)
	tokens := make([]Token, 0, len(words)*4)
	for pos, word := range words {
		for _, v := range Variants(word) {
			tokens = append(tokens, Token{Term: v, Position: pos})
		}
	}
	return tokens
}

// ExtractTerms returns the distinct term variants of text in first-seen order.
func ExtractTerms(text string) []string {
	seen := make(map[string]struct{})
	var terms []string
	for _, word := range Words(text) {
		for _, v := range Variants(word) {
			if _, ok := seen[v]; ok {
				continue
			}
			seen[v] = struct{}{}
			terms = append(terms, v)
		}
	}
	return terms
}

// Variants returns the word itself, its prefixes of 2..6 runes and, for
// words of five runes or more, its trailing two and three rune suffixes.
func Variants(word string) []string {
	r := []rune(word)
	n := len(r)
	out := make([]string, 0, 8)
	seen := make(map[string]struct{}, 8)
	add := func(s string) {
		if _, ok := seen[s]; ok {
			return
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}

	add(word)
	for l := MinWordLength; l <= min(n, MaxPrefixLen); l++ {
		add(string(r[:l]))
	}
	if n >= minSuffixWord {
		for i := max(2, n-MaxSuffixLen); i < n; i++ {
			if n-i < minSuffixTerms {
				break
			}
			add(string(r[i:]))
		}
	}
	return out
}
