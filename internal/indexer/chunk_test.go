package indexer

import (
	"strings"
	"testing"
)

func TestChunkText_Empty(t *testing.T) {
	if chunks := ChunkText("", 1000, 100, 100); chunks != nil {
		t.Fatalf("expected nil for empty body, got %v", chunks)
	}
}

func TestChunkText_SingleChunkWhenShort(t *testing.T) {
	body := "the quick brown fox jumps over the lazy dog"
	chunks := ChunkText(body, 1000, 100, 100)
	if len(chunks) != 1 {
		t.Fatalf("expected 1 chunk, got %d", len(chunks))
	}
	if chunks[0] != body {
		t.Fatalf("unexpected chunk content %q", chunks[0])
	}
}

func TestChunkText_SplitsLongBodyWithOverlap(t *testing.T) {
	words := make([]string, 2500)
	for i := range words {
		words[i] = "word"
	}
	body := strings.Join(words, " ")

	chunks := ChunkText(body, 1000, 100, 100)
	if len(chunks) < 2 {
		t.Fatalf("expected multiple chunks for a long body, got %d", len(chunks))
	}
	for _, c := range chunks {
		if n := len(strings.Fields(c)); n > 1000 {
			t.Fatalf("chunk exceeds max tokens: %d", n)
		}
	}
}

func TestChunkText_CapsAtMaxChunks(t *testing.T) {
	words := make([]string, 200000)
	for i := range words {
		words[i] = "word"
	}
	body := strings.Join(words, " ")

	chunks := ChunkText(body, 1000, 100, 100)
	if len(chunks) != 100 {
		t.Fatalf("expected exactly 100 chunks (the cap), got %d", len(chunks))
	}
}
