package core

import "github.com/prometheus/client_golang/prometheus"

// SessionHitsCollector exposes the session cache hit counter to external tests.
func SessionHitsCollector() prometheus.Collector {
	return sessionCacheHits
}

// GrantsCollector exposes the grant counter to external tests.
func GrantsCollector(trigger, outcome string) prometheus.Collector {
	return grantsTotal.WithLabelValues(trigger, outcome)
}
