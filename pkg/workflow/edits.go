package workflow

import (
	"regexp"
	"strconv"
	"strings"

	"patchmind/pkg/proto"
)

const (
	markOriginal = "<<<<<<< ORIGINAL"
	markDivider  = "======="
	markUpdated  = ">>>>>>> UPDATED"
)

var (
	startFile = regexp.MustCompile(`^### START FILE: (.+?)(?: @ line (\d+))? ###\s*$`)
	endFile   = regexp.MustCompile(`^### END FILE: (.+?) ###\s*$`)
)

// ExtractEdits parses edit blocks out of model output and returns them with the remaining
// prose. A block without ORIGINAL/UPDATED sections is a fragment whose anchor is its own
// content. Unterminated blocks stay in the prose.
func ExtractEdits(text string) ([]proto.ProposedEdit, string) {
	lines := strings.Split(text, "\n")
	var edits []proto.ProposedEdit
	var prose []string

	for i := 0; i < len(lines); i++ {
		m := startFile.FindStringSubmatch(lines[i])
		if m == nil {
			prose = append(prose, lines[i])
			continue
		}
		file := strings.TrimSpace(m[1])
		end := -1
		for j := i + 1; j < len(lines); j++ {
			if e := endFile.FindStringSubmatch(lines[j]); e != nil && strings.TrimSpace(e[1]) == file {
				end = j
				break
			}
		}
		if end < 0 {
			prose = append(prose, lines[i])
			continue
		}

		edit := parseBlock(lines[i+1 : end])
		edit.File = file
		if m[2] != "" {
			edit.Line, _ = strconv.Atoi(m[2])
		}
		edits = append(edits, edit)
		i = end
	}
	return edits, strings.TrimSpace(strings.Join(prose, "\n"))
}

func parseBlock(body []string) proto.ProposedEdit {
	body = stripFence(body)

	orig, div, upd := -1, -1, -1
	for i, line := range body {
		switch strings.TrimRight(line, " \t\r") {
		case markOriginal:
			if orig < 0 {
				orig = i
			}
		case markDivider:
			if orig >= 0 && div < 0 {
				div = i
			}
		case markUpdated:
			if div >= 0 && upd < 0 {
				upd = i
			}
		}
	}
	if orig >= 0 && div > orig && upd > div {
		return proto.ProposedEdit{
			Anchor:      joinLines(body[orig+1 : div]),
			Replacement: joinLines(body[div+1 : upd]),
		}
	}
	content := joinLines(body)
	return proto.ProposedEdit{Anchor: content, Replacement: content, Fragment: true}
}

// stripFence drops a Markdown code fence wrapped around the whole block body.
func stripFence(body []string) []string {
	if len(body) >= 2 && strings.HasPrefix(strings.TrimSpace(body[0]), "```") &&
		strings.TrimSpace(body[len(body)-1]) == "```" {
		return body[1 : len(body)-1]
	}
	return body
}

func joinLines(lines []string) string {
	if len(lines) == 0 {
		return ""
	}
	return strings.Join(lines, "\n") + "\n"
}
