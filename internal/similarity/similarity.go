// Package similarity provides the string-matching primitives shared by field
// detection and file analysis: normalization, containment, token overlap and
// edit distance, combined by taking the strongest signal.
package similarity

import (
	"strings"
	"unicode"
)

const (
	// containmentBase is the score for a containment match of equal length,
	// reduced proportionally to the length gap.
	containmentBase = 0.9
	containmentSpan = 0.1
	// tokenOverlapCap bounds the token-overlap score below containment.
	tokenOverlapCap = 0.8
	// editDistanceFloor is the minimum edit-distance similarity accepted.
	editDistanceFloor = 0.5
)

// Normalize lowercases s and strips every non-alphanumeric rune.
func Normalize(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range strings.ToLower(s) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// Similarity scores a and b in [0,1]. Rules are evaluated independently and
// the maximum score wins; scores are never added together.
func Similarity(a, b string) float64 {
	na, nb := Normalize(a), Normalize(b)
	if na == nb {
		return 1.0
	}
	if na == "" || nb == "" {
		return 0
	}

	best := 0.0
	if s := containment(na, nb); s > best {
		best = s
	}
	if s := tokenOverlap(a, b); s > best {
		best = s
	}
	if s := editSimilarity(na, nb); s > best {
		best = s
	}
	return best
}

// Best returns the highest Similarity between s and any of patterns.
func Best(s string, patterns []string) float64 {
	best := 0.0
	for _, p := range patterns {
		v := Similarity(s, p)
		if v > best {
			best = v
		}
		if best == 1.0 {
			break
		}
	}
	return best
}

func containment(na, nb string) float64 {
	if !strings.Contains(na, nb) && !strings.Contains(nb, na) {
		return 0
	}
	la, lb := runeLen(na), runeLen(nb)
	longer, shorter := la, lb
	if lb > la {
		longer, shorter = lb, la
	}
	return containmentBase - containmentSpan*float64(longer-shorter)/float64(longer)
}

func tokenOverlap(a, b string) float64 {
	wa, wb := Words(a), Words(b)
	if len(wa) == 0 || len(wb) == 0 {
		return 0
	}
	matches := countMatches(wa, wb)
	if m := countMatches(wb, wa); m > matches {
		matches = m
	}
	if matches == 0 {
		return 0
	}
	n := len(wa)
	if len(wb) > n {
		n = len(wb)
	}
	score := float64(matches) / float64(n)
	if score > tokenOverlapCap {
		score = tokenOverlapCap
	}
	return score
}

// countMatches counts words in from that equal or contain/are contained by
// some word in to.
func countMatches(from, to []string) int {
	n := 0
	for _, w1 := range from {
		for _, w2 := range to {
			if w1 == w2 || strings.Contains(w1, w2) || strings.Contains(w2, w1) {
				n++
				break
			}
		}
	}
	return n
}

func editSimilarity(na, nb string) float64 {
	maxLen := runeLen(na)
	if l := runeLen(nb); l > maxLen {
		maxLen = l
	}
	if maxLen == 0 {
		return 0
	}
	s := 1 - float64(Levenshtein(na, nb))/float64(maxLen)
	if s > editDistanceFloor {
		return s
	}
	return 0
}

// Words lowercases s and splits it on non-alphanumeric boundaries.
func Words(s string) []string {
	return strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

// Levenshtein returns the edit distance between a and b, counted in runes.
func Levenshtein(a, b string) int {
	ra, rb := []rune(a), []rune(b)
	if len(ra) == 0 {
		return len(rb)
	}
	if len(rb) == 0 {
		return len(ra)
	}
	prev := make([]int, len(rb)+1)
	cur := make([]int, len(rb)+1)
	for j := range prev {
		prev[j] = j
	}
	for i := 1; i <= len(ra); i++ {
		cur[0] = i
		for j := 1; j <= len(rb); j++ {
			cost := 1
			if ra[i-1] == rb[j-1] {
				cost = 0
			}
			cur[j] = min3(prev[j]+1, cur[j-1]+1, prev[j-1]+cost)
		}
		prev, cur = cur, prev
	}
	return prev[len(rb)]
}

func runeLen(s string) int { return len([]rune(s)) }

func min3(a, b, c int) int {
	if b < a {
		a = b
	}
	if c < a {
		a = c
	}
	return a
}
