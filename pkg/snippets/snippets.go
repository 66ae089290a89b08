// Package snippets loads the reusable prompt snippet library.
package snippets

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"patchmind/pkg/config"
	"patchmind/pkg/logx"
)

// FileName is the library file inside the project config directory.
const FileName = "snippets.yaml"

// Snippet is one reusable prompt fragment.
type Snippet struct {
	ID    string `yaml:"id"`
	Title string `yaml:"title,omitempty"`
	Text  string `yaml:"text"`
}

type libraryFile struct {
	Snippets []Snippet `yaml:"snippets"`
}

// Library holds snippets by id. It is read-only after loading.
type Library struct {
	byID   map[string]Snippet
	logger *logx.Logger
	order  []string
}

// DefaultPath returns .patchmind/snippets.yaml under projectDir.
func DefaultPath(projectDir string) string {
	return filepath.Join(projectDir, config.ProjectConfigDir, FileName)
}

// Load reads a library file. A missing file yields an empty library.
func Load(path string) (*Library, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return Parse(nil)
	}
	if err != nil {
		return nil, fmt.Errorf("read snippet library: %w", err)
	}
	lib, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return lib, nil
}

// Parse builds a library from YAML. Ids must be unique and non-empty.
func Parse(data []byte) (*Library, error) {
	var file libraryFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse snippet library: %w", err)
	}
	lib := &Library{byID: make(map[string]Snippet, len(file.Snippets)), logger: logx.NewLogger("snippets")}
	for _, s := range file.Snippets {
		if s.ID == "" {
			return nil, fmt.Errorf("snippet %q has no id", s.Title)
		}
		if _, dup := lib.byID[s.ID]; dup {
			return nil, fmt.Errorf("duplicate snippet id %q", s.ID)
		}
		lib.byID[s.ID] = s
		lib.order = append(lib.order, s.ID)
	}
	return lib, nil
}

// Resolve returns the snippets for ids in request order. Unknown ids are skipped with a warning.
func (l *Library) Resolve(ids []string) ([]Snippet, error) {
	out := make([]Snippet, 0, len(ids))
	for _, id := range ids {
		s, ok := l.byID[id]
		if !ok {
			l.logger.Warn("unknown snippet %q skipped", id)
			continue
		}
		out = append(out, s)
	}
	return out, nil
}

// List returns all snippets in file order.
func (l *Library) List() []Snippet {
	out := make([]Snippet, 0, len(l.order))
	for _, id := range l.order {
		out = append(out, l.byID[id])
	}
	return out
}
