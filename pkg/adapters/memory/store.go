// Package memory is a process-local session store. Sessions are lost on exit, so every
// new process asks for a fresh signature.
package memory

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/aretw0/scriptvault/pkg/core"
)

// Store implements core.SessionStore with a guarded map. Sessions are copied in and out,
// so callers never share slices with the cache.
type Store struct {
	mu   sync.RWMutex
	data map[string]core.DecryptionSession
}

// NewStore creates an empty in-memory store.
func NewStore() *Store {
	return &Store{data: make(map[string]core.DecryptionSession)}
}

func (s *Store) Initialize(ctx context.Context) error { return nil }

func (s *Store) Get(ctx context.Context, key string) (core.DecryptionSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.data[key]
	if !ok {
		return core.DecryptionSession{}, core.ErrSessionNotFound
	}
	return sess.Clone(), nil
}

func (s *Store) Put(ctx context.Context, key string, sess core.DecryptionSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[key] = sess.Clone()
	return nil
}

func (s *Store) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, key)
	return nil
}

func (s *Store) DeleteMatching(ctx context.Context, pattern string) (int, error) {
	if !doublestar.ValidatePattern(pattern) {
		return 0, fmt.Errorf("%w: bad pattern %q", core.ErrInvalidInput, pattern)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for key := range s.data {
		if ok, _ := doublestar.Match(pattern, key); ok {
			delete(s.data, key)
			n++
		}
	}
	return n, nil
}

func (s *Store) Keys(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := make([]string, 0, len(s.data))
	for key := range s.data {
		keys = append(keys, key)
	}
	slices.Sort(keys)
	return keys, nil
}

// ComponentType implements introspection.Component.
func (s *Store) ComponentType() string {
	return "memory-session-store"
}

var _ core.SessionStore = (*Store)(nil)
