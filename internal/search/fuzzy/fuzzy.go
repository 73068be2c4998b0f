// Package fuzzy implements the edit-distance matching used to tolerate typos
// in search queries.
package fuzzy

import "unicode/utf8"

const (
	// MinTermLength is the shortest query term that is matched fuzzily.
	MinTermLength    = 4
	MaxLengthDiff    = 2
	MaxDistanceRatio = 0.3
	// Weight scales fuzzy similarity below an exact hit.
	Weight = 0.7
)

// Distance is the Levenshtein distance between a and b counted in runes.
func Distance(a, b string) int {
	ra, rb := []rune(a), []rune(b)
	if len(ra) == 0 {
		return len(rb)
	}
	if len(rb) == 0 {
		return len(ra)
	}
	prev := make([]int, len(rb)+1)
	curr := make([]int, len(rb)+1)
	for j := range prev {
		prev[j] = j
	}
	for i := 1; i <= len(ra); i++ {
		curr[0] = i
		for j := 1; j <= len(rb); j++ {
			cost := 1
			if ra[i-1] == rb[j-1] {
				cost = 0
			}
			curr[j] = min(prev[j]+1, curr[j-1]+1, prev[j-1]+cost)
		}
		prev, curr = curr, prev
	}
	return prev[len(rb)]
}

// IsMatch reports whether a and b are close enough to count as the same term:
// lengths differ by at most MaxLengthDiff and the distance is at most 30% of
// the longer length, rounded down.
func IsMatch(a, b string) bool {
	la, lb := utf8.RuneCountInString(a), utf8.RuneCountInString(b)
	if abs(la-lb) > MaxLengthDiff {
		return false
	}
	maxDistance := int(float64(max(la, lb)) * MaxDistanceRatio)
	return Distance(a, b) <= maxDistance
}

// Score is the weighted similarity of a and b in [0, Weight].
func Score(a, b string) float64 {
	maxLen := max(utf8.RuneCountInString(a), utf8.RuneCountInString(b))
	if maxLen == 0 {
		return Weight
	}
	sim := float64(maxLen-Distance(a, b)) / float64(maxLen)
	if sim < 0 {
		sim = 0
	}
	return sim * Weight
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
