package channels

import "strings"

// SplitText breaks text into chunks of at most limit bytes, preferring
// paragraph breaks, then line breaks, then spaces, so providers with hard
// message caps receive readable pieces. A limit <= 0 returns the text
// unsplit.
func SplitText(text string, limit int) []string {
	if limit <= 0 || len(text) <= limit {
		return []string{text}
	}

	var chunks []string
	for len(text) > limit {
		cut := breakAt(text, limit)
		chunks = append(chunks, strings.TrimRight(text[:cut], " \n"))
		text = strings.TrimLeft(text[cut:], "\n")
	}
	if text != "" {
		chunks = append(chunks, text)
	}
	return chunks
}

// breakAt picks the best split point at or before limit. Boundaries in the
// first half are ignored so chunks never degenerate to slivers.
func breakAt(text string, limit int) int {
	window := text[:limit]
	if idx := strings.LastIndex(window, "\n\n"); idx > limit/2 {
		return idx + 2
	}
	if idx := strings.LastIndexByte(window, '\n'); idx > limit/2 {
		return idx + 1
	}
	if idx := strings.LastIndexByte(window, ' '); idx > limit/2 {
		return idx + 1
	}
	return limit
}
