package retrieval

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"patchmind/pkg/workspace"
)

const maxLocalFileBytes = 1 << 20

//nolint:gochecknoglobals // static extension set
var localExtensions = map[string]bool{".md": true, ".markdown": true, ".txt": true, ".rst": true, ".adoc": true}

// LocalSource searches paragraphs of documentation files under project directories.
type LocalSource struct {
	root string
	dirs []string
}

// NewLocalSource searches dirs (relative to root). No dirs means "docs".
func NewLocalSource(root string, dirs ...string) *LocalSource {
	if len(dirs) == 0 {
		dirs = []string{"docs"}
	}
	return &LocalSource{root: root, dirs: dirs}
}

func (l *LocalSource) Name() string { return "Local" }

func (l *LocalSource) Search(ctx context.Context, query string, limit int) ([]Passage, error) {
	queryTerms := terms(query)
	if len(queryTerms) == 0 {
		return nil, nil
	}

	var found []Passage
	for _, dir := range l.dirs {
		base := filepath.Join(l.root, dir)
		if _, err := os.Stat(base); err != nil {
			continue
		}
		err := filepath.WalkDir(base, func(full string, d fs.DirEntry, err error) error {
			if err != nil {
				return nil //nolint:nilerr // unreadable entries are skipped
			}
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr //nolint:wrapcheck // context errors pass through
			}
			if d.IsDir() || !localExtensions[strings.ToLower(filepath.Ext(full))] {
				return nil
			}
			if info, infoErr := d.Info(); infoErr != nil || info.Size() > maxLocalFileBytes {
				return nil //nolint:nilerr // oversized or vanished files are skipped
			}
			data, readErr := os.ReadFile(full)
			if readErr != nil || workspace.IsBinary(data) {
				return nil //nolint:nilerr // unreadable files are skipped
			}
			rel, _ := filepath.Rel(l.root, full)
			found = append(found, l.paragraphs(filepath.ToSlash(rel), string(data), queryTerms)...)
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("search %s: %w", dir, err)
		}
	}

	sort.SliceStable(found, func(i, j int) bool { return found[i].Score > found[j].Score })
	if len(found) > limit {
		found = found[:limit]
	}
	return found, nil
}

func (l *LocalSource) paragraphs(rel, text string, queryTerms map[string]bool) []Passage {
	var out []Passage
	for i, para := range strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n\n") {
		para = strings.TrimSpace(para)
		if para == "" {
			continue
		}
		have := terms(para)
		var hits int
		for term := range queryTerms {
			if have[term] {
				hits++
			}
		}
		if hits == 0 {
			continue
		}
		out = append(out, Passage{
			Source: l.Name(),
			Title:  rel,
			URL:    fmt.Sprintf("file://%s#p%d", rel, i),
			Text:   para,
			Score:  float64(hits) / float64(len(queryTerms)),
		})
	}
	return out
}
