package fs

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/aretw0/scriptvault/internal/vault"
)

// IndexFile is the name of the session index inside the store directory.
const IndexFile = "sessions.json"

// index represents the persistent session state.
type index struct {
	Version  int                            `json:"version"`
	Sessions map[string]vault.SessionRecord `json:"sessions"` // Key is the session cache key
	dirty    bool
	mu       sync.RWMutex
}

// indexFile manages the loading, updating and saving of the index.
type indexFile struct {
	Path  string
	index *index
}

func newIndexFile(dir string) *indexFile {
	return &indexFile{
		Path: filepath.Join(dir, IndexFile),
		index: &index{
			Version:  1,
			Sessions: make(map[string]vault.SessionRecord),
		},
	}
}

// Load reads the index from disk. A missing or corrupted file yields an empty index.
func (c *indexFile) Load() error {
	c.index.mu.Lock()
	defer c.index.mu.Unlock()

	data, err := os.ReadFile(c.Path)
	if os.IsNotExist(err) {
		c.index.Sessions = make(map[string]vault.SessionRecord)
		c.index.dirty = false
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read session index: %w", err)
	}

	var loaded index
	if err := json.Unmarshal(data, &loaded); err != nil || loaded.Sessions == nil {
		// Self-heal: a corrupted index only costs a new signature.
		c.index.Sessions = make(map[string]vault.SessionRecord)
		c.index.dirty = false
		return nil
	}

	c.index.Sessions = loaded.Sessions
	c.index.dirty = false
	return nil
}

// Save persists the index if it changed since the last Load or Save.
func (c *indexFile) Save() error {
	c.index.mu.RLock()
	if !c.index.dirty {
		c.index.mu.RUnlock()
		return nil
	}
	data, err := json.MarshalIndent(c.index, "", "  ")
	c.index.mu.RUnlock()

	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(c.Path), 0o700); err != nil {
		return err
	}

	// Sessions carry signatures and keys, so the file is private to the user.
	if err := writeFileAtomic(c.Path, data, 0o600); err != nil {
		return err
	}

	c.index.mu.Lock()
	c.index.dirty = false
	c.index.mu.Unlock()

	return nil
}

func (c *indexFile) Get(key string) (vault.SessionRecord, bool) {
	c.index.mu.RLock()
	defer c.index.mu.RUnlock()

	rec, ok := c.index.Sessions[key]
	return rec, ok
}

func (c *indexFile) Set(key string, rec vault.SessionRecord) {
	c.index.mu.Lock()
	defer c.index.mu.Unlock()

	c.index.Sessions[key] = rec
	c.index.dirty = true
}

func (c *indexFile) Delete(key string) bool {
	c.index.mu.Lock()
	defer c.index.mu.Unlock()

	if _, ok := c.index.Sessions[key]; !ok {
		return false
	}
	delete(c.index.Sessions, key)
	c.index.dirty = true
	return true
}

// Range iterates over all entries. callback returns false to stop.
func (c *indexFile) Range(callback func(key string, rec vault.SessionRecord) bool) {
	c.index.mu.RLock()
	defer c.index.mu.RUnlock()

	for k, v := range c.index.Sessions {
		if !callback(k, v) {
			break
		}
	}
}

func (c *indexFile) Len() int {
	c.index.mu.RLock()
	defer c.index.mu.RUnlock()
	return len(c.index.Sessions)
}
