package indexer

import "strings"

// ChunkText splits body into word-bounded segments of at most maxTokens
// tokens (words, as a crude proxy for model tokens) with overlapTokens of
// overlap between consecutive chunks, capped at maxChunks segments. The cap
// drops trailing content rather than erroring — an over-long document is
// indexed partially, not rejected.
func ChunkText(body string, maxTokens, overlapTokens, maxChunks int) []string {
	words := strings.Fields(body)
	if len(words) == 0 {
		return nil
	}
	if overlapTokens >= maxTokens {
		overlapTokens = maxTokens / 2
	}

	var chunks []string
	stride := maxTokens - overlapTokens
	for start := 0; start < len(words); start += stride {
		end := start + maxTokens
		if end > len(words) {
			end = len(words)
		}
		chunks = append(chunks, strings.Join(words[start:end], " "))
		if len(chunks) >= maxChunks {
			break
		}
		if end == len(words) {
			break
		}
	}
	return chunks
}
