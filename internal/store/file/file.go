// Package file persists port assignments as a small JSON object on disk.
package file

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// Store writes the whole mapping on every change. Writes go through a
// temp file plus rename so a crash mid-write never corrupts the file.
type Store struct {
	mu   sync.Mutex
	path string
}

// NewStore creates a store backed by the JSON file at path. The file is
// created on first Save; a missing file loads as an empty mapping.
func NewStore(path string) *Store {
	return &Store{path: path}
}

// Load reads the full name -> port mapping.
func (s *Store) Load(_ context.Context) (map[string]int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.readLocked()
}

// Save persists one assignment.
func (s *Store) Save(_ context.Context, name string, port int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, err := s.readLocked()
	if err != nil {
		return err
	}
	m[name] = port
	return s.writeLocked(m)
}

// Delete removes the assignment for name, if any.
func (s *Store) Delete(_ context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, err := s.readLocked()
	if err != nil {
		return err
	}
	if _, ok := m[name]; !ok {
		return nil
	}
	delete(m, name)
	return s.writeLocked(m)
}

func (s *Store) readLocked() (map[string]int, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return make(map[string]int), nil
		}
		return nil, fmt.Errorf("failed to read assignments file: %w", err)
	}

	m := make(map[string]int)
	if len(data) > 0 {
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, fmt.Errorf("failed to parse assignments file: %w", err)
		}
	}
	return m, nil
}

func (s *Store) writeLocked(m map[string]int) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal assignments: %w", err)
	}

	if dir := filepath.Dir(s.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create assignments dir: %w", err)
		}
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write assignments file: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("failed to replace assignments file: %w", err)
	}
	return nil
}
