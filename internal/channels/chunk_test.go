package channels

import (
	"strings"
	"testing"
)

func TestSplitTextShortPassesThrough(t *testing.T) {
	chunks := SplitText("hello", 100)
	if len(chunks) != 1 || chunks[0] != "hello" {
		t.Fatalf("chunks = %v", chunks)
	}
}

func TestSplitTextNoLimit(t *testing.T) {
	long := strings.Repeat("x", 5000)
	if chunks := SplitText(long, 0); len(chunks) != 1 {
		t.Fatalf("limit 0 must not split, got %d chunks", len(chunks))
	}
}

func TestSplitTextPrefersParagraphBreak(t *testing.T) {
	text := strings.Repeat("a", 60) + "\n\n" + strings.Repeat("b", 60)
	chunks := SplitText(text, 100)
	if len(chunks) != 2 {
		t.Fatalf("got %d chunks, want 2", len(chunks))
	}
	if chunks[0] != strings.Repeat("a", 60) {
		t.Errorf("chunk[0] = %q, want split at paragraph break", Truncate(chunks[0], 20))
	}
}

func TestSplitTextFallsBackToSpace(t *testing.T) {
	text := strings.Repeat("a", 70) + " " + strings.Repeat("b", 70)
	chunks := SplitText(text, 100)
	if len(chunks) != 2 {
		t.Fatalf("got %d chunks, want 2", len(chunks))
	}
	if chunks[0] != strings.Repeat("a", 70) {
		t.Errorf("chunk[0] length = %d, want split at space", len(chunks[0]))
	}
}

func TestSplitTextHardCutWithoutBoundaries(t *testing.T) {
	text := strings.Repeat("x", 250)
	chunks := SplitText(text, 100)
	if len(chunks) != 3 {
		t.Fatalf("got %d chunks, want 3", len(chunks))
	}
	for i, c := range chunks {
		if len(c) > 100 {
			t.Errorf("chunk[%d] length %d exceeds limit", i, len(c))
		}
	}
	if strings.Join(chunks, "") != text {
		t.Error("hard-cut chunks do not reassemble the input")
	}
}

func TestSplitTextIgnoresEarlyBoundary(t *testing.T) {
	// A space in the first half must not produce a sliver chunk.
	text := "ab " + strings.Repeat("c", 120)
	chunks := SplitText(text, 100)
	if chunks[0] == "ab" {
		t.Errorf("split at early boundary produced sliver: %v", chunks)
	}
}
