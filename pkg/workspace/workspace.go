// Package workspace serves project files to the context assembler and change queue.
//
// Reads see unsaved editor buffers first, then disk. Writes are atomic. File ids are
// slash-separated paths relative to the project root.
package workspace

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	ignore "github.com/sabhiram/go-gitignore"

	"patchmind/pkg/config"
	"patchmind/pkg/logx"
)

var (
	// ErrNotFound is returned when neither a buffer nor a file exists for an id.
	ErrNotFound = errors.New("file not found")
	// ErrOutsideRoot is returned for ids that resolve outside the project root.
	ErrOutsideRoot = errors.New("path is outside the workspace root")
	// ErrTooLarge is returned for files above the configured size limit.
	ErrTooLarge = errors.New("file exceeds size limit")
)

// cachedFile is disk content with the stat it was read under. A hit is only served while
// the file still has the same size and modification time.
type cachedFile struct {
	modTime time.Time
	text    string
	size    int64
}

func (c cachedFile) current(info fs.FileInfo) bool {
	return c.size == info.Size() && c.modTime.Equal(info.ModTime())
}

// Workspace is a file provider rooted at a project directory.
type Workspace struct {
	ignorer  *ignore.GitIgnore
	watcher  *fsnotify.Watcher
	buffers  map[string]string
	cache    map[string]cachedFile
	logger   *logx.Logger
	root     string
	cfg      config.ContextConfig
	mu       sync.RWMutex
	watching bool
}

// New opens a workspace at root. When cfg.RespectGitignore is set, root/.gitignore rules are
// applied during directory expansion.
func New(root string, cfg config.ContextConfig) (*Workspace, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve workspace root: %w", err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("open workspace root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("workspace root %s is not a directory", abs)
	}
	if cfg.MaxDepth <= 0 {
		cfg.MaxDepth = config.DefaultMaxDepth
	}
	if cfg.MaxFileBytes <= 0 {
		cfg.MaxFileBytes = config.DefaultMaxFileBytes
	}

	w := &Workspace{
		root:    abs,
		cfg:     cfg,
		buffers: make(map[string]string),
		cache:   make(map[string]cachedFile),
		logger:  logx.NewLogger("workspace"),
	}
	if cfg.RespectGitignore {
		w.ignorer = loadIgnoreRules(abs)
	}
	return w, nil
}

func loadIgnoreRules(root string) *ignore.GitIgnore {
	content, err := os.ReadFile(filepath.Join(root, ".gitignore"))
	if err != nil {
		return nil
	}
	var lines []string
	for _, line := range strings.Split(string(content), "\n") {
		line = strings.TrimSpace(line)
		if line != "" && !strings.HasPrefix(line, "#") {
			lines = append(lines, line)
		}
	}
	return ignore.CompileIgnoreLines(lines...)
}

// Root returns the absolute project root.
func (w *Workspace) Root() string {
	return w.root
}

// Normalize converts a relative or absolute path into a file id.
func (w *Workspace) Normalize(id string) (string, error) {
	if filepath.IsAbs(id) {
		rel, err := filepath.Rel(w.root, id)
		if err != nil {
			return "", fmt.Errorf("%s: %w", id, ErrOutsideRoot)
		}
		id = rel
	}
	clean := path.Clean(filepath.ToSlash(id))
	if clean == ".." || strings.HasPrefix(clean, "../") || path.IsAbs(clean) {
		return "", fmt.Errorf("%s: %w", id, ErrOutsideRoot)
	}
	return clean, nil
}

func (w *Workspace) abs(id string) string {
	return filepath.Join(w.root, filepath.FromSlash(id))
}

// SetBuffer records unsaved editor content for id. Reads return it until cleared.
func (w *Workspace) SetBuffer(id, text string) error {
	norm, err := w.Normalize(id)
	if err != nil {
		return err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.buffers[norm] = text
	return nil
}

// ClearBuffer drops the unsaved content for id.
func (w *Workspace) ClearBuffer(id string) {
	if norm, err := w.Normalize(id); err == nil {
		w.mu.Lock()
		delete(w.buffers, norm)
		w.mu.Unlock()
	}
}

// Read returns the buffer for id if one is set, otherwise the file on disk.
func (w *Workspace) Read(ctx context.Context, id string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err //nolint:wrapcheck // context errors pass through
	}
	norm, err := w.Normalize(id)
	if err != nil {
		return "", err
	}

	w.mu.RLock()
	if text, ok := w.buffers[norm]; ok {
		w.mu.RUnlock()
		return text, nil
	}
	cached, hit := w.cache[norm]
	hit = hit && w.watching
	w.mu.RUnlock()

	full := w.abs(norm)
	info, err := os.Stat(full)
	if errors.Is(err, fs.ErrNotExist) {
		return "", fmt.Errorf("%s: %w", norm, ErrNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("stat %s: %w", norm, err)
	}
	if info.IsDir() {
		return "", fmt.Errorf("%s is a directory", norm)
	}
	if info.Size() > w.cfg.MaxFileBytes {
		return "", fmt.Errorf("%s (%d bytes): %w", norm, info.Size(), ErrTooLarge)
	}
	if hit && cached.current(info) {
		return cached.text, nil
	}

	data, err := os.ReadFile(full)
	if err != nil {
		return "", fmt.Errorf("read %s: %w", norm, err)
	}
	text := string(data)

	w.mu.Lock()
	if w.watching {
		w.cache[norm] = cachedFile{text: text, size: info.Size(), modTime: info.ModTime()}
	}
	w.mu.Unlock()
	return text, nil
}

// Write stores text for id atomically (temp file plus rename), creating parent directories.
// An open buffer for id is updated to the written text.
func (w *Workspace) Write(ctx context.Context, id, text string) error {
	if err := ctx.Err(); err != nil {
		return err //nolint:wrapcheck // context errors pass through
	}
	norm, err := w.Normalize(id)
	if err != nil {
		return err
	}
	full := w.abs(norm)
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return fmt.Errorf("create directory for %s: %w", norm, err)
	}

	mode := os.FileMode(0o644)
	if info, statErr := os.Stat(full); statErr == nil {
		mode = info.Mode().Perm()
	}

	tmp, err := os.CreateTemp(filepath.Dir(full), "."+filepath.Base(full)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file for %s: %w", norm, err)
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }() // no-op after a successful rename

	if _, err := tmp.WriteString(text); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write %s: %w", norm, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file for %s: %w", norm, err)
	}
	if err := os.Chmod(tmpName, mode); err != nil {
		return fmt.Errorf("chmod %s: %w", norm, err)
	}
	if err := os.Rename(tmpName, full); err != nil {
		return fmt.Errorf("replace %s: %w", norm, err)
	}

	info, statErr := os.Stat(full)
	w.mu.Lock()
	if _, ok := w.buffers[norm]; ok {
		w.buffers[norm] = text
	}
	if w.watching && statErr == nil {
		w.cache[norm] = cachedFile{text: text, size: info.Size(), modTime: info.ModTime()}
	}
	w.mu.Unlock()
	w.logger.Debug("wrote %s (%d bytes)", norm, len(text))
	return nil
}

// Invalidate drops the cached disk content for id.
func (w *Workspace) Invalidate(id string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.cache, id)
}

// IsBinary reports whether more than 10% of the first 1024 bytes are control bytes other
// than common whitespace. Bytes >= 0x80 count as text so UTF-8 sources are not rejected.
func IsBinary(data []byte) bool {
	sample := data[:min(len(data), 1024)]
	if len(sample) == 0 {
		return false
	}
	var nonText int
	for _, b := range sample {
		switch {
		case b >= 32 && b != 127:
		case b == '\n', b == '\r', b == '\t', b == '\f', b == '\b':
		default:
			nonText++
		}
	}
	return nonText*10 > len(sample)
}
