package proto

// ProposedEdit is a model-proposed change: replace the region of File that best matches
// Anchor with Replacement. A Fragment edit came without ORIGINAL/UPDATED sections: its anchor
// is its own content, and on a missing file that content becomes the new file.
type ProposedEdit struct {
	File        string  `json:"file"`
	Anchor      string  `json:"anchor"`
	Replacement string  `json:"replacement"`
	Line        int     `json:"line,omitempty"`       // 1-based expected location, 0 when unknown
	Confidence  float64 `json:"confidence,omitempty"` // workflow-supplied hint, 0 when unknown
	Fragment    bool    `json:"fragment,omitempty"`
}

// Hint returns the expected 0-based line of the anchor, if the workflow supplied one.
func (e *ProposedEdit) Hint() (int, bool) {
	if e.Line <= 0 {
		return 0, false
	}
	return e.Line - 1, true
}
