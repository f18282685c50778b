package sim

import (
	"log/slog"
	"sync"

	"github.com/aretw0/scriptvault/pkg/core"
)

const subscriptionBuffer = 64

type subscription struct {
	works  map[uint64]bool
	events chan core.LicenseSold
	errs   chan error
	closed chan struct{}
	remove func()
	once   sync.Once
	failed sync.Once
}

func newSubscription(works map[uint64]bool, remove func()) *subscription {
	return &subscription{
		works:  works,
		events: make(chan core.LicenseSold, subscriptionBuffer),
		errs:   make(chan error, 1),
		closed: make(chan struct{}),
		remove: remove,
	}
}

func (s *subscription) Events() <-chan core.LicenseSold { return s.events }
func (s *subscription) Err() <-chan error               { return s.errs }

func (s *subscription) Unsubscribe() {
	s.once.Do(func() {
		s.remove()
		close(s.closed)
	})
}

func (s *subscription) deliver(ev core.LicenseSold, logger *slog.Logger) {
	select {
	case <-s.closed:
	case s.events <- ev:
	default:
		logger.Warn("subscriber lagging, sale event dropped", "work", ev.WorkID, "license", ev.LicenseID)
	}
}

func (s *subscription) fail(err error) {
	s.failed.Do(func() { s.errs <- err })
	s.Unsubscribe()
}
