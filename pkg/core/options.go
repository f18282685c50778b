package core

import (
	"io"
	"log/slog"
	"time"
)

const (
	// DefaultSessionDays is the validity window of a fresh decryption session.
	DefaultSessionDays = 365
	// DefaultConfirmTimeout bounds every confirmation wait.
	DefaultConfirmTimeout = 2 * time.Minute
	// DefaultLicenseCacheTTL bounds how stale a cached license list may get.
	DefaultLicenseCacheTTL = 30 * time.Second
	// DefaultScopeLevel is the scope granted on a license sale.
	DefaultScopeLevel = 1
	// ScopeBits is the declared width of an access scope.
	ScopeBits = 32
)

type options struct {
	logger          *slog.Logger
	now             func() time.Time
	sessionDays     int
	confirmTimeout  time.Duration
	licenseCacheTTL time.Duration
	status          StatusFunc
}

// Option configures the core components.
type Option func(*options)

func defaultOptions() *options {
	return &options{
		now:             time.Now,
		sessionDays:     DefaultSessionDays,
		confirmTimeout:  DefaultConfirmTimeout,
		licenseCacheTTL: DefaultLicenseCacheTTL,
	}
}

func buildOptions(opts []Option) *options {
	o := defaultOptions()
	for _, opt := range opts {
		opt(o)
	}
	if o.logger == nil {
		o.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return o
}

// WithLogger sets the logger for the components.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithClock overrides the time source. Used by tests.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

// WithSessionDuration sets the validity window, in days, of new sessions.
func WithSessionDuration(days int) Option {
	return func(o *options) {
		if days > 0 {
			o.sessionDays = days
		}
	}
}

// WithConfirmTimeout bounds how long an operation waits for its transaction to be mined.
func WithConfirmTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.confirmTimeout = d
		}
	}
}

// WithLicenseCacheTTL sets how long a fetched license list is served from cache.
func WithLicenseCacheTTL(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.licenseCacheTTL = d
		}
	}
}

// WithStatus registers a callback for phase updates.
func WithStatus(fn StatusFunc) Option {
	return func(o *options) {
		o.status = fn
	}
}
