package tools

import (
	"math"
	"sort"
	"strings"
)

// splitParagraphs breaks text on blank lines into non-empty paragraphs.
func splitParagraphs(text string) []string {
	raw := strings.Split(text, "\n\n")
	var paragraphs []string
	for _, p := range raw {
		p = strings.TrimSpace(p)
		if p != "" {
			paragraphs = append(paragraphs, p)
		}
	}
	return paragraphs
}

func cosineSimilarity(a, b []float32) float32 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return float32(dot / (math.Sqrt(normA) * math.Sqrt(normB)))
}

type rankedParagraph struct {
	index int
	score float32
}

// rankParagraphs returns paragraph indices sorted by descending similarity
// to queryVector.
func rankParagraphs(paragraphVectors [][]float32, queryVector []float32) []int {
	ranked := make([]rankedParagraph, len(paragraphVectors))
	for i, v := range paragraphVectors {
		ranked[i] = rankedParagraph{index: i, score: cosineSimilarity(v, queryVector)}
	}
	sort.Slice(ranked, func(i, j int) bool { return ranked[i].score > ranked[j].score })

	indices := make([]int, len(ranked))
	for i, r := range ranked {
		indices[i] = r.index
	}
	return indices
}

// withNeighborContext expands a set of matched paragraph indices to include
// their immediate neighbors (±1), deduplicated and in original order,
// joined with blank lines.
func withNeighborContext(paragraphs []string, matched []int, maxChars int) string {
	include := make(map[int]bool)
	for _, i := range matched {
		for _, j := range []int{i - 1, i, i + 1} {
			if j >= 0 && j < len(paragraphs) {
				include[j] = true
			}
		}
	}

	var ordered []int
	for i := range paragraphs {
		if include[i] {
			ordered = append(ordered, i)
		}
	}
	sort.Ints(ordered)

	var b strings.Builder
	for _, i := range ordered {
		if b.Len()+len(paragraphs[i])+2 > maxChars {
			break
		}
		if b.Len() > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString(paragraphs[i])
	}
	return b.String()
}
