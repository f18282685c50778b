// Package fs is the default session store: a single JSON index on local disk, written
// atomically, private keys sealed when a store secret is configured.
package fs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"sync"
	"time"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/aretw0/scriptvault/internal/vault"
	"github.com/aretw0/scriptvault/pkg/core"
)

// ErrReadOnly is returned by writes on a read-only store.
var ErrReadOnly = errors.New("session store is in read-only mode")

// Config holds the configuration for the filesystem session store.
type Config struct {
	Path      string
	MustExist bool
	ReadOnly  bool
	// Secret seals private keys at rest. Empty stores them hex-encoded.
	Secret       []byte
	Logger       *slog.Logger
	ErrorHandler func(error)
	// OnReload is called after the index was re-read because the file changed on disk.
	OnReload func()
}

// Store implements core.SessionStore on the filesystem.
type Store struct {
	Path   string
	config Config
	index  *indexFile
	sealer *vault.Sealer

	// mu serializes mutations with reloads so a reload never drops an unsaved write.
	mu            sync.RWMutex
	watcherActive bool
	lastReload    *time.Time
	reloads       int
}

// NewStore creates a filesystem-backed session store.
func NewStore(config Config) (*Store, error) {
	if config.Logger == nil {
		config.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	sealer, err := vault.NewSealer(config.Secret, "sessions")
	if err != nil {
		return nil, err
	}
	return &Store{
		Path:   config.Path,
		config: config,
		index:  newIndexFile(config.Path),
		sealer: sealer,
	}, nil
}

// Initialize creates the store directory and loads the index.
func (s *Store) Initialize(ctx context.Context) error {
	if s.config.MustExist || s.config.ReadOnly {
		info, err := os.Stat(s.Path)
		if os.IsNotExist(err) {
			if s.config.ReadOnly {
				return nil
			}
			return fmt.Errorf("store path does not exist: %s", s.Path)
		}
		if err != nil {
			return err
		}
		if !info.IsDir() {
			return fmt.Errorf("store path is not a directory: %s", s.Path)
		}
	} else if err := os.MkdirAll(s.Path, 0o700); err != nil {
		return fmt.Errorf("failed to create store directory: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.index.Load()
}

// Get returns the session stored under key.
// A record that cannot be unsealed (e.g. the secret changed) is reported as missing.
func (s *Store) Get(ctx context.Context, key string) (core.DecryptionSession, error) {
	s.mu.RLock()
	rec, ok := s.index.Get(key)
	s.mu.RUnlock()
	if !ok {
		return core.DecryptionSession{}, core.ErrSessionNotFound
	}
	sess, err := s.sealer.OpenSession(rec)
	if err != nil {
		s.config.Logger.Warn("unreadable session record, ignoring", "key", key, "error", err)
		return core.DecryptionSession{}, core.ErrSessionNotFound
	}
	return sess, nil
}

// Put stores a session under key.
func (s *Store) Put(ctx context.Context, key string, sess core.DecryptionSession) error {
	if s.config.ReadOnly {
		return ErrReadOnly
	}
	rec, err := s.sealer.SealSession(sess)
	if err != nil {
		return fmt.Errorf("seal session: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.index.Set(key, rec)
	return s.index.Save()
}

// Delete removes key. Missing keys are not an error.
func (s *Store) Delete(ctx context.Context, key string) error {
	if s.config.ReadOnly {
		return ErrReadOnly
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.index.Delete(key) {
		return nil
	}
	return s.index.Save()
}

// DeleteMatching removes every key matching pattern.
func (s *Store) DeleteMatching(ctx context.Context, pattern string) (int, error) {
	if !doublestar.ValidatePattern(pattern) {
		return 0, fmt.Errorf("%w: bad pattern %q", core.ErrInvalidInput, pattern)
	}
	if s.config.ReadOnly {
		return 0, ErrReadOnly
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var doomed []string
	s.index.Range(func(key string, _ vault.SessionRecord) bool {
		if ok, _ := doublestar.Match(pattern, key); ok {
			doomed = append(doomed, key)
		}
		return true
	})
	for _, key := range doomed {
		s.index.Delete(key)
	}
	if len(doomed) == 0 {
		return 0, nil
	}
	return len(doomed), s.index.Save()
}

// Keys lists the stored keys in lexical order.
func (s *Store) Keys(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	keys := make([]string, 0, s.index.Len())
	s.index.Range(func(key string, _ vault.SessionRecord) bool {
		keys = append(keys, key)
		return true
	})
	slices.Sort(keys)
	return keys, nil
}

// Reload re-reads the index from disk.
func (s *Store) Reload() error {
	s.mu.Lock()
	err := s.index.Load()
	now := time.Now()
	s.lastReload = &now
	s.reloads++
	s.mu.Unlock()

	if err == nil && s.config.OnReload != nil {
		s.config.OnReload()
	}
	return err
}

func (s *Store) reportError(err error) {
	if s.config.ErrorHandler != nil {
		s.config.ErrorHandler(err)
		return
	}
	s.config.Logger.Error("session store error", "error", err)
}

var _ core.SessionStore = (*Store)(nil)
