package workspace

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// excluded reports whether a file id is filtered by exclude patterns or .gitignore.
func (w *Workspace) excluded(id string, isDir bool) bool {
	for _, pattern := range w.cfg.Exclude {
		if ok, _ := doublestar.Match(pattern, id); ok {
			return true
		}
		// "dir/**" prunes the directory itself.
		if isDir {
			if ok, _ := doublestar.Match(strings.TrimSuffix(pattern, "/**"), id); ok {
				return true
			}
		}
	}
	if w.ignorer != nil {
		candidate := id
		if isDir {
			candidate += "/"
		}
		if w.ignorer.MatchesPath(candidate) {
			return true
		}
	}
	return false
}

func (w *Workspace) included(id string) bool {
	if len(w.cfg.Include) == 0 {
		return true
	}
	for _, pattern := range w.cfg.Include {
		if ok, _ := doublestar.Match(pattern, id); ok {
			return true
		}
	}
	return false
}

// Expand turns a list of file and directory ids into file ids. Directories are walked in
// lexical order up to the configured depth, honouring include and exclude patterns and
// .gitignore. Explicit file ids are kept as given. The result has no duplicates and keeps
// first-occurrence order.
func (w *Workspace) Expand(ids []string) ([]string, error) {
	seen := make(map[string]bool)
	var out []string
	add := func(id string) {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}

	for _, raw := range ids {
		id, err := w.Normalize(raw)
		if err != nil {
			return nil, err
		}
		info, err := os.Stat(w.abs(id))
		if err != nil || !info.IsDir() {
			// Missing files surface later as read errors.
			add(id)
			continue
		}
		files, err := w.walk(id)
		if err != nil {
			return nil, err
		}
		for _, f := range files {
			add(f)
		}
	}
	return out, nil
}

func (w *Workspace) walk(dir string) ([]string, error) {
	var files []string
	baseDepth := depth(dir)
	err := filepath.WalkDir(w.abs(dir), func(full string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrPermission) {
				return nil
			}
			return err
		}
		rel, relErr := filepath.Rel(w.root, full)
		if relErr != nil {
			return relErr //nolint:wrapcheck // wrapped below
		}
		id := filepath.ToSlash(rel)
		if id == "." {
			id = ""
		}

		if d.IsDir() {
			if id == "" || id == dir {
				return nil
			}
			if depth(id)-baseDepth >= w.cfg.MaxDepth || w.excluded(id, true) {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() || w.excluded(id, false) || !w.included(id) {
			return nil
		}
		files = append(files, id)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("expand %s: %w", dir, err)
	}
	return files, nil
}

func depth(id string) int {
	if id == "" || id == "." {
		return 0
	}
	return strings.Count(id, "/") + 1
}
