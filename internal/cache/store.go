// Package cache provides the durable verdict stores the pipeline consults
// before spending AI calls. One JSON file per stage, flat key→value map,
// written atomically. A store that cannot be read starts empty; a store
// that cannot be written fails the call that asked for persistence.
package cache

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"sync"

	"github.com/natefinch/atomic"
)

// Store is a single key→verdict file. V is the verdict type of the stage
// that owns it.
type Store[V any] struct {
	path    string
	mu      sync.RWMutex
	entries map[string]V
}

// NewStore opens the store at path, loading any previous state. A missing
// file is a normal first run. An unreadable or corrupt file degrades to an
// empty store with a warning; verdicts will be recomputed and rewritten.
func NewStore[V any](path string) *Store[V] {
	s := &Store[V]{
		path:    path,
		entries: make(map[string]V),
	}
	s.load()
	return s
}

func (s *Store[V]) load() {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return
	}
	if err != nil {
		slog.Warn("cache store unreadable, starting empty", "path", s.path, "error", err)
		return
	}
	if len(data) == 0 {
		return
	}

	if err := json.Unmarshal(data, &s.entries); err != nil {
		slog.Warn("cache store corrupt, starting empty", "path", s.path, "error", err)
		s.entries = make(map[string]V)
	}
}

func (s *Store[V]) save() error {
	data, err := json.MarshalIndent(s.entries, "", "  ")
	if err != nil {
		return err
	}

	return atomic.WriteFile(s.path, bytes.NewReader(data))
}

// Get returns the cached verdict for key.
func (s *Store[V]) Get(key string) (V, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	v, ok := s.entries[key]
	return v, ok
}

// Set records a verdict. With autoSave the store is flushed immediately and
// the write error, if any, is returned; without it the entry stays in memory
// until Save.
func (s *Store[V]) Set(key string, value V, autoSave bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries[key] = value
	if autoSave {
		return s.save()
	}
	return nil
}

// Save flushes the in-memory map to disk.
func (s *Store[V]) Save() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.save()
}

// Len reports how many verdicts the store holds.
func (s *Store[V]) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// Path returns the backing file location.
func (s *Store[V]) Path() string {
	return s.path
}
