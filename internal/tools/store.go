package tools

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Store persists resolved tool paths as a flat key-value JSON document keyed
// by "<kind>_path". A missing or corrupt document reads as empty.
type Store struct {
	path string
	mu   sync.Mutex
}

// NewStore returns a store backed by the document at path.
func NewStore(path string) *Store {
	return &Store{path: path}
}

// Path returns the backing document location.
func (s *Store) Path() string { return s.path }

func pathKey(kind Kind) string       { return string(kind) + "_path" }
func sourceKey(kind Kind) string     { return string(kind) + "_source" }
func discoveredKey(kind Kind) string { return string(kind) + "_discovered_at" }

// Get returns the persisted entry for kind without checking the filesystem.
func (s *Store) Get(kind Kind) (Resolved, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc := s.load()
	path := doc[pathKey(kind)]
	if path == "" {
		return Resolved{}, false
	}
	entry := Resolved{Kind: kind, Path: path, Source: Source(doc[sourceKey(kind)])}
	if ts, err := time.Parse(time.RFC3339, doc[discoveredKey(kind)]); err == nil {
		entry.DiscoveredAt = ts
	}
	return entry, true
}

// Put records entry, replacing the whole document atomically.
func (s *Store) Put(entry Resolved) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc := s.load()
	doc[pathKey(entry.Kind)] = entry.Path
	doc[sourceKey(entry.Kind)] = string(entry.Source)
	if !entry.DiscoveredAt.IsZero() {
		doc[discoveredKey(entry.Kind)] = entry.DiscoveredAt.UTC().Format(time.RFC3339)
	}
	return s.save(doc)
}

// Delete removes the entry for kind.
func (s *Store) Delete(kind Kind) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc := s.load()
	if _, ok := doc[pathKey(kind)]; !ok {
		return nil
	}
	delete(doc, pathKey(kind))
	delete(doc, sourceKey(kind))
	delete(doc, discoveredKey(kind))
	return s.save(doc)
}

func (s *Store) load() map[string]string {
	doc := map[string]string{}
	contents, err := os.ReadFile(s.path)
	if err != nil {
		return doc
	}
	if err := json.Unmarshal(contents, &doc); err != nil || doc == nil {
		return map[string]string{}
	}
	return doc
}

func (s *Store) save(doc map[string]string) error {
	if s.path == "" {
		return errors.New("tool store path not configured")
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("prepare tool store directory: %w", err)
	}

	buf, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal tool store: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.path), "tool_paths-*.json")
	if err != nil {
		return fmt.Errorf("create temp tool store: %w", err)
	}
	defer func() { _ = os.Remove(tmp.Name()) }()

	if _, err := tmp.Write(buf); err != nil {
		tmp.Close()
		return fmt.Errorf("write tool store temp: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close tool store temp: %w", err)
	}

	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("replace tool store: %w", err)
	}
	return nil
}
