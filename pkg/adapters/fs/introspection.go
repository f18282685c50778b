package fs

import (
	"time"

	"github.com/aretw0/introspection"
)

// StoreState exposes internal state for observability. Keys and secrets are never included.
type StoreState struct {
	Path          string     `json:"path"`
	Sessions      int        `json:"sessions"`
	Sealed        bool       `json:"sealed"`
	ReadOnly      bool       `json:"read_only"`
	WatcherActive bool       `json:"watcher_active"`
	Reloads       int        `json:"reloads"`
	LastReload    *time.Time `json:"last_reload,omitempty"`
}

// State implements introspection.Introspectable.
func (s *Store) State() any {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return StoreState{
		Path:          s.Path,
		Sessions:      s.index.Len(),
		Sealed:        s.sealer.Enabled(),
		ReadOnly:      s.config.ReadOnly,
		WatcherActive: s.watcherActive,
		Reloads:       s.reloads,
		LastReload:    s.lastReload,
	}
}

// ComponentType implements introspection.Component.
func (s *Store) ComponentType() string {
	return "fs-session-store"
}

var _ introspection.Introspectable = (*Store)(nil)
var _ introspection.Component = (*Store)(nil)

func (s *Store) setWatcherActive(active bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.watcherActive = active
}
