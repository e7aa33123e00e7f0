// Package textnorm normalizes transcript text and scores pairs of
// utterances for near-duplicate suppression.
package textnorm

import (
	"strings"
	"unicode"
)

const (
	// similarityThreshold is the edit-distance similarity above which two
	// normalized questions count as the same question.
	similarityThreshold = 0.85
	// containmentRatio is the minimum length ratio for the substring rule.
	containmentRatio = 0.9
)

// Normalize lower-cases, strips punctuation, and collapses runs of
// whitespace to single spaces.
func Normalize(text string) string {
	var b strings.Builder
	b.Grow(len(text))
	lastSpace := true
	for _, r := range strings.ToLower(text) {
		switch {
		case unicode.IsSpace(r):
			if !lastSpace {
				b.WriteByte(' ')
				lastSpace = true
			}
		case unicode.IsPunct(r) || unicode.IsSymbol(r):
			// dropped
		default:
			b.WriteRune(r)
			lastSpace = false
		}
	}
	return strings.TrimRight(b.String(), " ")
}

// Similarity returns 1 - editDistance(a,b)/max(len(a),len(b)) in [0,1].
// Two empty strings score 1.
func Similarity(a, b string) float64 {
	ra, rb := []rune(a), []rune(b)
	longest := len(ra)
	if len(rb) > longest {
		longest = len(rb)
	}
	if longest == 0 {
		return 1
	}
	return 1 - float64(editDistance(ra, rb))/float64(longest)
}

// IsNearDuplicate reports whether two normalized strings are close enough
// to treat as the same question. Empty strings never match anything.
func IsNearDuplicate(a, b string) bool {
	if a == "" || b == "" {
		return false
	}
	if a == b {
		return true
	}
	if Similarity(a, b) >= similarityThreshold {
		return true
	}
	shorter, longer := a, b
	if len(shorter) > len(longer) {
		shorter, longer = longer, shorter
	}
	if strings.Contains(longer, shorter) &&
		float64(len(shorter))/float64(len(longer)) >= containmentRatio {
		return true
	}
	return false
}

// editDistance is the classic two-row Levenshtein distance.
func editDistance(a, b []rune) int {
	if len(a) == 0 {
		return len(b)
	}
	if len(b) == 0 {
		return len(a)
	}
	prev := make([]int, len(b)+1)
	curr := make([]int, len(b)+1)
	for j := range prev {
		prev[j] = j
	}
	for i := 1; i <= len(a); i++ {
		curr[0] = i
		for j := 1; j <= len(b); j++ {
			cost := 1
			if a[i-1] == b[j-1] {
				cost = 0
			}
			curr[j] = min3(prev[j]+1, curr[j-1]+1, prev[j-1]+cost)
		}
		prev, curr = curr, prev
	}
	return prev[len(b)]
}

func min3(a, b, c int) int {
	if b < a {
		a = b
	}
	if c < a {
		a = c
	}
	return a
}
