// Package memory provides an in-process fileref display-state store backed
// by an LRU cache. Suitable for single-instance deployments and tests.
package memory

import (
	"context"
	"fmt"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/mcpauth/authgate/fileref"
)

// Store is an in-memory fileref.Store. Safe for concurrent use.
type Store struct {
	mu      sync.Mutex
	entries *lru.Cache[string, fileref.Entry]
}

// New creates a memory store holding up to maxEntries resolved references.
// Eviction drops the least recently used entry; a dropped entry simply
// forces the next resolution to consult the file service again.
func New(maxEntries int) (*Store, error) {
	cache, err := lru.New[string, fileref.Entry](maxEntries)
	if err != nil {
		return nil, fmt.Errorf("create entry cache: %w", err)
	}
	return &Store{entries: cache}, nil
}

func (s *Store) Get(_ context.Context, fileID string) (*fileref.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries.Get(fileID)
	if !ok {
		return nil, nil
	}
	return &e, nil
}

func (s *Store) PutIfNewer(_ context.Context, e fileref.Entry) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cur, ok := s.entries.Get(e.FileID); ok && cur.Revision >= e.Revision {
		return false, nil
	}
	s.entries.Add(e.FileID, e)
	return true, nil
}

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries.Purge()
	return nil
}
