package platform

import (
	"log/slog"
	"time"

	"github.com/aretw0/scriptvault/pkg/adapters/eth"
	"github.com/aretw0/scriptvault/pkg/core"
)

// options holds the wiring overrides for Open.
type options struct {
	logger     *slog.Logger
	ledger     core.Ledger
	compute    core.Compute
	wallet     core.Wallet
	store      core.SessionStore
	approver   eth.Approver
	status     core.StatusFunc
	now        func() time.Time
	devSafety  *bool
	watchStore bool
	coreOpts   []core.Option
}

// Option configures Open.
type Option func(*options)

func defaultOptions() *options {
	return &options{}
}

// WithLogger sets the logger for every component.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithLedger injects a ledger; the RPC endpoint is then never dialed.
func WithLedger(l core.Ledger) Option {
	return func(o *options) {
		o.ledger = l
	}
}

// WithCompute injects the confidential-compute service.
func WithCompute(c core.Compute) Option {
	return func(o *options) {
		o.compute = c
	}
}

// WithWallet injects the wallet. It must also implement eth.TxSigner for a dialed ledger to write.
func WithWallet(w core.Wallet) Option {
	return func(o *options) {
		o.wallet = w
	}
}

// WithStore injects the session store, skipping the configured adapter.
func WithStore(s core.SessionStore) Option {
	return func(o *options) {
		o.store = s
	}
}

// WithApprover installs a signature prompt on the local wallet.
func WithApprover(a eth.Approver) Option {
	return func(o *options) {
		o.approver = a
	}
}

// WithStatus receives phase updates of long-running operations.
func WithStatus(fn core.StatusFunc) Option {
	return func(o *options) {
		o.status = fn
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		o.now = now
	}
}

// WithDevSafety controls the sandbox applied to file stores under `go run` and `go test`.
// It overrides store.dev_safety from the configuration.
//
// CAUTION: disabling it lets development runs write to the real session cache.
func WithDevSafety(enabled bool) Option {
	return func(o *options) {
		o.devSafety = &enabled
	}
}

// WithStoreWatch reloads a filesystem store when another process changes it.
func WithStoreWatch(enabled bool) Option {
	return func(o *options) {
		o.watchStore = enabled
	}
}

// WithCoreOptions passes options through to the core components.
func WithCoreOptions(opts ...core.Option) Option {
	return func(o *options) {
		o.coreOpts = append(o.coreOpts, opts...)
	}
}
