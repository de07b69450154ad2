package feed

import "strings"

// Filter returns the ordered subsequence of messages whose text contains query,
// compared case-insensitively. An empty query returns messages unchanged.
func Filter(messages []Message, query string) []Message {
	if query == "" {
		return messages
	}
	needle := strings.ToLower(query)
	out := make([]Message, 0, len(messages))
	for _, m := range messages {
		if strings.Contains(strings.ToLower(m.Text), needle) {
			out = append(out, m)
		}
	}
	return out
}

// NextIndex advances a cursor over n results, wrapping to 0.
func NextIndex(i, n int) int {
	if n <= 0 {
		return 0
	}
	return (i + 1) % n
}

// PrevIndex moves a cursor back over n results, wrapping to n-1.
func PrevIndex(i, n int) int {
	if n <= 0 {
		return 0
	}
	if i <= 0 {
		return n - 1
	}
	return (i - 1) % n
}

// Highlight splits text into segments, marking the ones equal to query
// (case-insensitive). Used by views that render search hits.
func Highlight(text, query string) []Segment {
	if query == "" || text == "" {
		return []Segment{{Text: text}}
	}
	lowerText := strings.ToLower(text)
	lowerQuery := strings.ToLower(query)
	if len(lowerText) != len(text) {
		// Case folding changed byte offsets; fall back to a plain segment.
		return []Segment{{Text: text}}
	}

	var segments []Segment
	start := 0
	for {
		idx := strings.Index(lowerText[start:], lowerQuery)
		if idx < 0 {
			break
		}
		if idx > 0 {
			segments = append(segments, Segment{Text: text[start : start+idx]})
		}
		end := start + idx + len(lowerQuery)
		segments = append(segments, Segment{Text: text[start+idx : end], Match: true})
		start = end
	}
	if start < len(text) {
		segments = append(segments, Segment{Text: text[start:]})
	}
	return segments
}

// Segment is a piece of highlighted text.
type Segment struct {
	Text  string
	Match bool
}
