// Package patch locates model-proposed edits in possibly drifted source text.
//
// Matching runs in two independent phases. ExactLocate finds verbatim occurrences of the
// anchor. SimilarLocate slides a line window over the text and scores each window by LCS
// ratio against the anchor. Locate composes them; callers decide what confidence is enough
// to apply.
package patch

import (
	"fmt"

	"patchmind/pkg/proto"
)

const (
	// DefaultThreshold is the minimum similarity accepted by Locate.
	DefaultThreshold = 0.6
	// ExactConfidence is the confidence of a unique verbatim match.
	ExactConfidence = 1.0
	// AmbiguousConfidence is the confidence of a verbatim match that occurs more than once.
	AmbiguousConfidence = 0.9
)

// Method records which phase produced a match.
type Method string

const (
	MethodExact      Method = "exact"
	MethodSimilarity Method = "similarity"
	MethodInsert     Method = "insert"
)

// MatchResult is either Located with a byte span and confidence, or NotFound with a reason.
// Build it with Located or NotFound.
type MatchResult struct {
	Method     Method  `json:"method,omitempty"`
	Reason     string  `json:"reason,omitempty"`
	Start      int     `json:"start"`
	End        int     `json:"end"`
	Confidence float64 `json:"confidence"`
	found      bool
}

// Located builds a successful match covering text[start:end].
func Located(start, end int, confidence float64, method Method) MatchResult {
	return MatchResult{Start: start, End: end, Confidence: confidence, Method: method, found: true}
}

// NotFound builds a failed match.
func NotFound(reason string) MatchResult {
	return MatchResult{Reason: reason}
}

// Found reports whether the result is Located.
func (m MatchResult) Found() bool {
	return m.found
}

func (m MatchResult) String() string {
	if !m.found {
		return fmt.Sprintf("not found: %s", m.Reason)
	}
	return fmt.Sprintf("located [%d,%d) confidence=%.2f (%s)", m.Start, m.End, m.Confidence, m.Method)
}

// Options tune LocateWith.
type Options struct {
	// Threshold is the minimum similarity score; zero means DefaultThreshold.
	Threshold float64
}

// Locate runs ExactLocate, then SimilarLocate at DefaultThreshold.
func Locate(text string, edit *proto.ProposedEdit) MatchResult {
	return LocateWith(text, edit, Options{})
}

// LocateWith is Locate with a tunable similarity threshold.
func LocateWith(text string, edit *proto.ProposedEdit, opts Options) MatchResult {
	if result, decided := ExactLocate(text, edit); decided {
		return result
	}
	threshold := opts.Threshold
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	return SimilarLocate(text, edit, threshold)
}

// Splice replaces text[start:end] with replacement. Out-of-range offsets are clamped.
func Splice(text string, start, end int, replacement string) string {
	start = max(0, min(start, len(text)))
	end = max(start, min(end, len(text)))
	return text[:start] + replacement + text[end:]
}
