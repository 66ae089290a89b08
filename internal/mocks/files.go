package mocks

import (
	"context"
	"fmt"
	"sync"

	"patchmind/pkg/workspace"
)

// MemFiles is an in-memory file store with write-failure injection.
type MemFiles struct {
	files    map[string]string
	failures map[string]error
	writes   []string
	mu       sync.Mutex
}

// NewMemFiles creates a store seeded with files.
func NewMemFiles(files map[string]string) *MemFiles {
	m := &MemFiles{files: make(map[string]string), failures: make(map[string]error)}
	for id, text := range files {
		m.files[id] = text
	}
	return m
}

// Read returns the file text or workspace.ErrNotFound.
func (m *MemFiles) Read(_ context.Context, id string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	text, ok := m.files[id]
	if !ok {
		return "", fmt.Errorf("%s: %w", id, workspace.ErrNotFound)
	}
	return text, nil
}

// Write stores text, or returns the failure injected with FailWrites.
func (m *MemFiles) Write(_ context.Context, id, text string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failures[id]; err != nil {
		return err
	}
	m.files[id] = text
	m.writes = append(m.writes, id)
	return nil
}

// FailWrites makes every write to id fail with err.
func (m *MemFiles) FailWrites(id string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures[id] = err
}

// Get returns the current text of id.
func (m *MemFiles) Get(id string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	text, ok := m.files[id]
	return text, ok
}

// Writes returns the ids written so far, in order.
func (m *MemFiles) Writes() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.writes...)
}
