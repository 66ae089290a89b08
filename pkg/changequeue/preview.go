package changequeue

import (
	"strings"

	"github.com/sergi/go-diff/diffmatchpatch"
)

// Preview renders a line diff of anchor against replacement with ---/+++ headers.
func Preview(file, anchor, replacement string) string {
	dmp := diffmatchpatch.New()
	a, b, lines := dmp.DiffLinesToChars(anchor, replacement)
	diffs := dmp.DiffCharsToLines(dmp.DiffMain(a, b, false), lines)

	var sb strings.Builder
	sb.WriteString("--- " + file + "\n")
	sb.WriteString("+++ " + file + "\n")
	for _, d := range diffs {
		prefix := " "
		switch d.Type {
		case diffmatchpatch.DiffDelete:
			prefix = "-"
		case diffmatchpatch.DiffInsert:
			prefix = "+"
		case diffmatchpatch.DiffEqual:
		}
		for _, line := range strings.SplitAfter(d.Text, "\n") {
			if line == "" {
				continue
			}
			sb.WriteString(prefix + line)
			if !strings.HasSuffix(line, "\n") {
				sb.WriteString("\n")
			}
		}
	}
	return sb.String()
}
