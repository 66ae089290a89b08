package workspace

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// Watch enables read caching and keeps the cache coherent by watching the project tree.
// Directories created later are added as they appear. It returns once the watcher is set
// up; watching stops when ctx ends.
func (w *Workspace) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create file watcher: %w", err)
	}
	if err := w.addTree(watcher, w.root); err != nil {
		_ = watcher.Close()
		return fmt.Errorf("watch %s: %w", w.root, err)
	}

	w.mu.Lock()
	w.watching = true
	w.watcher = watcher
	w.mu.Unlock()

	go w.processEvents(ctx, watcher)
	return nil
}

// addTree watches dir and every directory below it that is within depth and not excluded.
func (w *Workspace) addTree(watcher *fsnotify.Watcher, dir string) error {
	return filepath.WalkDir(dir, func(full string, d fs.DirEntry, err error) error { //nolint:wrapcheck // caller wraps
		if err != nil || !d.IsDir() {
			return nil //nolint:nilerr // unreadable entries are skipped
		}
		rel, _ := filepath.Rel(w.root, full)
		id := filepath.ToSlash(rel)
		if id != "." && (depth(id) > w.cfg.MaxDepth || w.excluded(id, true)) {
			return filepath.SkipDir
		}
		if addErr := watcher.Add(full); addErr != nil {
			w.logger.Warn("cannot watch %s: %v", full, addErr)
		}
		return nil
	})
}

// watchList returns the directories currently watched.
func (w *Workspace) watchList() []string {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.watcher == nil {
		return nil
	}
	return w.watcher.WatchList()
}

func (w *Workspace) processEvents(ctx context.Context, watcher *fsnotify.Watcher) {
	defer func() {
		_ = watcher.Close()
		w.mu.Lock()
		w.watching = false
		w.watcher = nil
		clear(w.cache)
		w.mu.Unlock()
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			rel, err := filepath.Rel(w.root, event.Name)
			if err != nil {
				continue
			}
			id := filepath.ToSlash(rel)
			w.Invalidate(id)
			w.logger.Debug("invalidated %s (%s)", id, event.Op)

			if event.Has(fsnotify.Create) {
				if info, statErr := os.Stat(event.Name); statErr == nil && info.IsDir() {
					if err := w.addTree(watcher, event.Name); err != nil {
						w.logger.Warn("cannot watch new directory %s: %v", id, err)
					}
				}
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			// Events may have been lost; drop everything.
			w.logger.Warn("file watcher error: %v", err)
			w.mu.Lock()
			clear(w.cache)
			w.mu.Unlock()
		}
	}
}
