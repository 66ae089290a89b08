package contextmgr

import (
	"fmt"
	"strings"

	"patchmind/pkg/retrieval"
)

// SegmentKind identifies where a segment came from.
type SegmentKind string

const (
	KindInstruction SegmentKind = "instruction"
	KindActiveFile  SegmentKind = "active_file"
	KindFile        SegmentKind = "file"
	KindSnippet     SegmentKind = "snippet"
	KindPassage     SegmentKind = "passage"
)

// truncatable reports whether a segment may be cut to a prefix when the budget runs out.
func (k SegmentKind) truncatable() bool {
	return k == KindActiveFile || k == KindFile || k == KindPassage
}

// Segment is one piece of assembled context.
type Segment struct {
	Source    string      `json:"source"`
	Kind      SegmentKind `json:"kind"`
	Text      string      `json:"text"`
	Tokens    int         `json:"tokens"`
	Truncated bool        `json:"truncated,omitempty"`
}

// Bundle is the assembled prompt payload. Segments[0] is always the instruction. A Bundle
// is immutable once Build returns it.
type Bundle struct {
	Segments  []Segment `json:"segments"`
	Skipped   []string  `json:"skipped,omitempty"` // binary, oversized or unreadable files
	Total     int       `json:"total"`
	Budget    int       `json:"budget"`
	Truncated bool      `json:"truncated"`
}

// Instruction returns the user prompt.
func (b *Bundle) Instruction() string {
	if len(b.Segments) == 0 {
		return ""
	}
	return b.Segments[0].Text
}

// ContextText joins every non-instruction segment in priority order.
func (b *Bundle) ContextText() string {
	parts := make([]string, 0, len(b.Segments))
	for _, s := range b.Segments {
		if s.Kind != KindInstruction {
			parts = append(parts, s.Text)
		}
	}
	return strings.Join(parts, "\n\n")
}

// Render returns the context followed by the instruction.
func (b *Bundle) Render() string {
	ctxText := b.ContextText()
	if ctxText == "" {
		return b.Instruction()
	}
	return ctxText + "\n\n" + b.Instruction()
}

// Sources lists the segment sources in order, instruction excluded.
func (b *Bundle) Sources() []string {
	var out []string
	for _, s := range b.Segments {
		if s.Kind != KindInstruction {
			out = append(out, s.Source)
		}
	}
	return out
}

func fileMarkers(id string) (header, footer string) {
	return fmt.Sprintf("### START FILE: %s ###\n", id), fmt.Sprintf("\n### END FILE: %s ###", id)
}

func passageMarkers(p *retrieval.Passage) (header, footer string) {
	label := p.Source
	if p.Title != "" {
		label += " - " + p.Title
	}
	if p.URL != "" {
		label += " (" + p.URL + ")"
	}
	return fmt.Sprintf("### RAG: %s ###\n", label), "\n### END RAG ###"
}
