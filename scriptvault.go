package scriptvault

import (
	"context"
	"log/slog"
	"time"

	"github.com/aretw0/scriptvault/internal/platform"
	"github.com/aretw0/scriptvault/pkg/adapters/eth"
	"github.com/aretw0/scriptvault/pkg/core"
	"github.com/aretw0/scriptvault/pkg/reactor"
)

// --- Types ---

type (
	Service           = core.Service
	Deps              = core.Deps
	Receipt           = core.Receipt
	License           = core.License
	AccessGrant       = core.AccessGrant
	DecryptionSession = core.DecryptionSession
	LicenseSold       = core.LicenseSold
	VersionDraft      = core.VersionDraft
	Status            = core.Status
	StatusFunc        = core.StatusFunc

	// Config is the runtime configuration loaded from scriptvault.yaml and the environment.
	Config = platform.Config
	// Runtime is a wired Service plus the resources it owns. Close it when done.
	Runtime = platform.Runtime

	// Reactor grants access automatically on every license sale.
	Reactor        = reactor.Controller
	ReactorConfig  = reactor.Config
	ReactorOutcome = reactor.Outcome
	ReactorState   = reactor.ControllerState
)

// --- Configuration ---

// Option defines a functional option for Open.
type Option = platform.Option

// WithLogger sets the logger for every component.
func WithLogger(logger *slog.Logger) Option {
	return platform.WithLogger(logger)
}

// WithLedger injects a ledger instead of dialing the configured RPC endpoint.
func WithLedger(l core.Ledger) Option {
	return platform.WithLedger(l)
}

// WithCompute injects the confidential-compute service.
func WithCompute(c core.Compute) Option {
	return platform.WithCompute(c)
}

// WithWallet injects the wallet.
func WithWallet(w core.Wallet) Option {
	return platform.WithWallet(w)
}

// WithStore injects the session store.
func WithStore(s core.SessionStore) Option {
	return platform.WithStore(s)
}

// WithApprover asks for confirmation before the local wallet signs.
func WithApprover(a eth.Approver) Option {
	return platform.WithApprover(a)
}

// WithStatus receives phase updates of long-running operations.
func WithStatus(fn StatusFunc) Option {
	return platform.WithStatus(fn)
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return platform.WithClock(now)
}

// WithDevSafety controls the temp-dir sandbox applied to stores under `go run` and `go test`.
func WithDevSafety(enabled bool) Option {
	return platform.WithDevSafety(enabled)
}

// WithStoreWatch reloads a filesystem store changed by another process.
func WithStoreWatch(enabled bool) Option {
	return platform.WithStoreWatch(enabled)
}

// WithCoreOptions passes options to the core components.
func WithCoreOptions(opts ...core.Option) Option {
	return platform.WithCoreOptions(opts...)
}

// DefaultConfig returns the built-in configuration.
func DefaultConfig() Config {
	return platform.DefaultConfig()
}

// LoadConfig reads path, or the nearest scriptvault.yaml when empty, then the environment.
func LoadConfig(path string) (Config, error) {
	return platform.LoadConfig(path)
}

// --- Factory ---

// Open wires cfg into a Runtime.
func Open(ctx context.Context, cfg Config, opts ...Option) (*Runtime, error) {
	return platform.Open(ctx, cfg, opts...)
}

// NewService wires a Service over explicit ports.
func NewService(deps Deps, opts ...core.Option) (*Service, error) {
	return core.NewService(deps, opts...)
}

// NewReactor creates the auto-grant reactor over svc. Run it until its context ends.
func NewReactor(svc *Service, cfg ReactorConfig) *Reactor {
	return reactor.New(svc, cfg)
}

// --- Safety & Utils ---

// IsDevRun reports whether the process runs via `go run` or `go test`.
func IsDevRun() bool {
	return platform.IsDevRun()
}

// ResolveDataDir returns where a store may write, sandboxed when forceTemp is set.
func ResolveDataDir(userPath string, forceTemp bool) string {
	return platform.ResolveDataDir(userPath, forceTemp)
}

// FindRoot returns the nearest directory at or above startDir holding a scriptvault.yaml
// or a .scriptvault store.
func FindRoot(startDir string) (string, error) {
	return platform.FindRoot(startDir)
}
