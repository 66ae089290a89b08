package patch

import (
	"math"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/sergi/go-diff/diffmatchpatch"

	"patchmind/pkg/proto"
)

// windowSlack is how far window line counts may stray from the anchor's.
const windowSlack = 0.2

//nolint:gochecknoglobals // shared diff engine, DiffMain does not mutate it
var dmp = newEngine()

func newEngine() *diffmatchpatch.DiffMatchPatch {
	d := diffmatchpatch.New()
	d.DiffTimeout = 0 // exact LCS
	return d
}

type lineSpan struct {
	start int // first byte
	end   int // byte after content, before "\n"
	next  int // byte after "\n"
}

func splitLines(text string) []lineSpan {
	var lines []lineSpan
	start := 0
	for start < len(text) {
		idx := strings.IndexByte(text[start:], '\n')
		if idx < 0 {
			lines = append(lines, lineSpan{start: start, end: len(text), next: len(text)})
			break
		}
		lines = append(lines, lineSpan{start: start, end: start + idx, next: start + idx + 1})
		start += idx + 1
	}
	return lines
}

// Similarity is the LCS ratio 2*M/(|a|+|b|) over runes, in [0,1].
func Similarity(a, b string) float64 {
	total := utf8.RuneCountInString(a) + utf8.RuneCountInString(b)
	if total == 0 {
		return 1
	}
	var matched int
	for _, d := range dmp.DiffMain(a, b, false) {
		if d.Type == diffmatchpatch.DiffEqual {
			matched += utf8.RuneCountInString(d.Text)
		}
	}
	return 2 * float64(matched) / float64(total)
}

// maxScored caps how many windows get an exact LCS score. Windows are visited in order of
// their character-multiset bound, so the cap only cuts windows unlikely to win.
const maxScored = 32

type candidate struct {
	start, end int // end excludes the trailing newline
	next       int
	line       int
	score      float64
}

// better orders candidates by score, then by closeness to the hint, then by position.
func (c candidate) better(other candidate, hint int, hasHint bool) bool {
	if c.score != other.score {
		return c.score > other.score
	}
	if hasHint {
		dc, do := abs(c.line-hint), abs(other.line-hint)
		if dc != do {
			return dc < do
		}
	}
	return c.start < other.start
}

// multiset tracks how many of a window's runes can pair with the anchor's. Since an LCS
// can never pair more runes than the two strings share, 2*overlap/(|a|+|w|) bounds the
// similarity from above.
type multiset struct {
	want      []int
	have      []int
	anchor    int
	runes     int
	overlap   int
	newlineID int
}

func newMultiset(body string) (*multiset, map[rune]int) {
	index := make(map[rune]int)
	m := &multiset{newlineID: -1}
	for _, r := range body {
		k, ok := index[r]
		if !ok {
			k = len(m.want)
			index[r] = k
			m.want = append(m.want, 0)
		}
		m.want[k]++
		m.anchor++
	}
	if k, ok := index['\n']; ok {
		m.newlineID = k
	}
	m.have = make([]int, len(m.want))
	return m, index
}

func (m *multiset) reset() {
	clear(m.have)
	m.runes, m.overlap = 0, 0
}

// add counts a line already translated to anchor rune ids; -1 marks runes the anchor lacks.
func (m *multiset) add(ids []int, runes int) {
	m.runes += runes
	for _, k := range ids {
		if k < 0 {
			continue
		}
		if m.have[k] < m.want[k] {
			m.overlap++
		}
		m.have[k]++
	}
}

func (m *multiset) addNewline() {
	m.add([]int{m.newlineID}, 1)
}

func (m *multiset) bound() float64 {
	total := m.anchor + m.runes
	if total == 0 {
		return 1
	}
	return 2 * float64(m.overlap) / float64(total)
}

// SimilarLocate considers every line window of the text sized to the anchor's line count
// (+/-20%) and returns the best one if it scores at least threshold. Windows are ranked by
// a cheap upper bound first and only the most promising get an exact score.
func SimilarLocate(text string, edit *proto.ProposedEdit, threshold float64) MatchResult {
	body := strings.TrimSuffix(edit.Anchor, "\n")
	includeNewline := body != edit.Anchor
	if body == "" {
		return NotFound("empty anchor")
	}

	lines := splitLines(text)
	n := strings.Count(body, "\n") + 1
	minWindow := max(1, int(math.Round(float64(n)*(1-windowSlack))))
	maxWindow := max(minWindow, int(math.Round(float64(n)*(1+windowSlack))))
	hint, hasHint := edit.Hint()

	counts, index := newMultiset(body)
	ids := make([][]int, len(lines))
	for i, l := range lines {
		line := text[l.start:l.end]
		ids[i] = make([]int, 0, len(line))
		for _, r := range line {
			k, ok := index[r]
			if !ok {
				k = -1
			}
			ids[i] = append(ids[i], k)
		}
	}

	var candidates []candidate
	for i := range lines {
		counts.reset()
		for w := 1; w <= maxWindow && i+w <= len(lines); w++ {
			if w > 1 {
				counts.addNewline()
			}
			counts.add(ids[i+w-1], len(ids[i+w-1]))
			if w < minWindow {
				continue
			}
			bound := counts.bound()
			if bound < threshold {
				continue
			}
			last := lines[i+w-1]
			candidates = append(candidates, candidate{start: lines[i].start, end: last.end, next: last.next, line: i, score: bound})
		}
	}
	sort.SliceStable(candidates, func(a, b int) bool {
		return candidates[a].better(candidates[b], hint, hasHint)
	})

	best := candidate{score: -1}
	for k, c := range candidates {
		if k >= maxScored || c.score < best.score {
			break
		}
		c.score = Similarity(body, text[c.start:c.end])
		if best.score < 0 || c.better(best, hint, hasHint) {
			best = c
		}
	}

	if best.score < threshold {
		return NotFound("no sufficiently similar region")
	}
	end := best.end
	if includeNewline {
		end = best.next
	}
	return Located(best.start, end, best.score, MethodSimilarity)
}
