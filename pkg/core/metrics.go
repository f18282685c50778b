package core

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	sessionCacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "scriptvault_session_cache_hits_total",
		Help: "Decryption sessions served from the local cache",
	})

	sessionCacheMisses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "scriptvault_session_cache_misses_total",
		Help: "Decryption session lookups that required a new signature",
	})

	signatureRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "scriptvault_signature_requests_total",
		Help: "Wallet signature requests by outcome",
	}, []string{"outcome"})

	decryptRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "scriptvault_decrypt_requests_total",
		Help: "Decrypt requests by outcome",
	}, []string{"outcome"})

	grantsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "scriptvault_grants_total",
		Help: "Access grants by trigger and outcome",
	}, []string{"trigger", "outcome"})
)

// Outcome reduces an error to a low-cardinality metric label.
func Outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrSignatureDenied):
		return "denied"
	case errors.Is(err, ErrUnauthorized), errors.Is(err, ErrNotAuthorized):
		return "unauthorized"
	case errors.Is(err, ErrHandleNotFound):
		return "not_found"
	case errors.Is(err, ErrTransactionTimeout):
		return "timeout"
	case errors.Is(err, ErrTransactionReverted):
		return "reverted"
	case errors.Is(err, ErrEncryptionUnavailable):
		return "unavailable"
	default:
		return "error"
	}
}
