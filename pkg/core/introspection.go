package core

import (
	"github.com/aretw0/introspection"
)

// SessionManagerState exposes session cache counters for observability.
type SessionManagerState struct {
	CacheHits          uint64 `json:"cache_hits"`
	CacheMisses        uint64 `json:"cache_misses"`
	SignatureRequests  uint64 `json:"signature_requests"`
	SessionDurationDay int    `json:"session_duration_days"`
	StoreType          string `json:"store_type"`
}

// State implements introspection.Introspectable.
func (m *SessionManager) State() any {
	m.mu.RLock()
	defer m.mu.RUnlock()

	storeType := "unknown"
	if comp, ok := m.store.(introspection.Component); ok {
		storeType = comp.ComponentType()
	}

	return SessionManagerState{
		CacheHits:          m.hits,
		CacheMisses:        m.misses,
		SignatureRequests:  m.signatures,
		SessionDurationDay: m.days,
		StoreType:          storeType,
	}
}

// ComponentType implements introspection.Component.
func (m *SessionManager) ComponentType() string {
	return "session-manager"
}

// ServiceState summarizes the wiring of a Service.
type ServiceState struct {
	Registry string `json:"registry"`
	Sessions any    `json:"sessions"`
	Ledger   string `json:"ledger"`
}

// State implements introspection.Introspectable.
func (s *Service) State() any {
	ledgerType := "ledger"
	if comp, ok := s.ledger.(introspection.Component); ok {
		ledgerType = comp.ComponentType()
	}
	return ServiceState{
		Registry: s.ledger.Address().Hex(),
		Sessions: s.sessions.State(),
		Ledger:   ledgerType,
	}
}

// ComponentType implements introspection.Component.
func (s *Service) ComponentType() string {
	return "service"
}

var _ introspection.Introspectable = (*Service)(nil)
var _ introspection.Component = (*Service)(nil)
var _ introspection.Introspectable = (*SessionManager)(nil)
var _ introspection.Component = (*SessionManager)(nil)
