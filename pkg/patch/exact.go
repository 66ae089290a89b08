package patch

import (
	"strings"

	"patchmind/pkg/proto"
)

// ExactLocate searches for verbatim occurrences of the anchor. decided is false when the
// anchor does not occur, meaning a similarity search should follow.
//
// An empty anchor matches an empty text, which is how new files are created. On other text
// it needs a line hint and locates the empty span at the start of that line.
func ExactLocate(text string, edit *proto.ProposedEdit) (result MatchResult, decided bool) {
	anchor := edit.Anchor
	if anchor == "" {
		if text == "" {
			return Located(0, 0, ExactConfidence, MethodExact), true
		}
		if hint, ok := edit.Hint(); ok {
			at := lineStart(text, hint)
			return Located(at, at, ExactConfidence, MethodInsert), true
		}
		return NotFound("empty anchor"), true
	}

	occurrences := findAll(text, anchor)
	switch len(occurrences) {
	case 0:
		return MatchResult{}, false
	case 1:
		return Located(occurrences[0], occurrences[0]+len(anchor), ExactConfidence, MethodExact), true
	}

	best := occurrences[0]
	if hint, ok := edit.Hint(); ok {
		bestDistance := -1
		for _, offset := range occurrences {
			d := abs(lineOf(text, offset) - hint)
			if bestDistance < 0 || d < bestDistance {
				best, bestDistance = offset, d
			}
		}
	}
	return Located(best, best+len(anchor), AmbiguousConfidence, MethodExact), true
}

// findAll returns the byte offsets of every occurrence, overlapping ones included.
func findAll(text, sub string) []int {
	var offsets []int
	for from := 0; from <= len(text)-len(sub); {
		idx := strings.Index(text[from:], sub)
		if idx < 0 {
			break
		}
		offsets = append(offsets, from+idx)
		from += idx + 1
	}
	return offsets
}

// lineStart returns the byte offset of the 0-based line, or len(text) past the last line.
func lineStart(text string, line int) int {
	offset := 0
	for range line {
		idx := strings.IndexByte(text[offset:], '\n')
		if idx < 0 {
			return len(text)
		}
		offset += idx + 1
	}
	return offset
}

// lineOf returns the 0-based line containing offset.
func lineOf(text string, offset int) int {
	return strings.Count(text[:offset], "\n")
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
