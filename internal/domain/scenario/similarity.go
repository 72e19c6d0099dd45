package scenario

import (
	"math"
	"strings"
)

// Tokenize lowercases and splits text on whitespace, dropping empty tokens.
func Tokenize(text string) []string {
	fields := strings.Fields(strings.ToLower(text))
	tokens := fields[:0]
	for _, f := range fields {
		if f != "" {
			tokens = append(tokens, f)
		}
	}
	return tokens
}

// JaccardSimilarity computes token-set overlap between two texts.
// Two empty texts are identical (1.0); one empty text matches nothing (0.0).
func JaccardSimilarity(a, b string) float64 {
	aTokens := tokenSet(a)
	bTokens := tokenSet(b)
	if len(aTokens) == 0 && len(bTokens) == 0 {
		return 1.0
	}
	if len(aTokens) == 0 || len(bTokens) == 0 {
		return 0.0
	}

	intersection := 0
	for t := range aTokens {
		if _, ok := bTokens[t]; ok {
			intersection++
		}
	}
	union := len(aTokens) + len(bTokens) - intersection
	return float64(intersection) / float64(union)
}

// CosineSimilarity computes bag-of-words cosine similarity between two texts.
// A lightweight stand-in for embedding distance.
func CosineSimilarity(a, b string) float64 {
	aCounts := tokenCounts(a)
	bCounts := tokenCounts(b)
	if len(aCounts) == 0 || len(bCounts) == 0 {
		return 0.0
	}

	dot := 0.0
	for t, ca := range aCounts {
		if cb, ok := bCounts[t]; ok {
			dot += float64(ca * cb)
		}
	}

	normA := 0.0
	for _, c := range aCounts {
		normA += float64(c * c)
	}
	normB := 0.0
	for _, c := range bCounts {
		normB += float64(c * c)
	}
	if normA == 0 || normB == 0 {
		return 0.0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// CosineDistance is 1 - CosineSimilarity, reported as a per-scenario metric.
// ok is false when either side has no tokens (distance undefined).
func CosineDistance(a, b string) (dist float64, ok bool) {
	aCounts := tokenCounts(a)
	bCounts := tokenCounts(b)
	if len(aCounts) == 0 || len(bCounts) == 0 {
		return 0, false
	}
	return round4(1 - CosineSimilarity(a, b)), true
}

func tokenSet(text string) map[string]struct{} {
	set := make(map[string]struct{})
	for _, t := range Tokenize(text) {
		set[t] = struct{}{}
	}
	return set
}

func tokenCounts(text string) map[string]int {
	counts := make(map[string]int)
	for _, t := range Tokenize(text) {
		counts[t]++
	}
	return counts
}

func round4(v float64) float64 {
	return math.Round(v*10000) / 10000
}
