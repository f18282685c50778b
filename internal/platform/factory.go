package platform

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"path/filepath"
	"time"

	"github.com/aretw0/scriptvault/pkg/adapters/eth"
	"github.com/aretw0/scriptvault/pkg/adapters/fs"
	"github.com/aretw0/scriptvault/pkg/adapters/memory"
	"github.com/aretw0/scriptvault/pkg/adapters/relayer"
	"github.com/aretw0/scriptvault/pkg/adapters/sqlite"
	"github.com/aretw0/scriptvault/pkg/core"
)

// sqliteFile is the database file inside the store directory.
const sqliteFile = "sessions.db"

// Runtime is a wired service plus the resources it owns.
type Runtime struct {
	Config  Config
	Service *core.Service
	Wallet  core.Wallet
	Store   core.SessionStore

	logger  *slog.Logger
	closers []func() error
}

// LocalWallet returns the wallet when it is the built-in key wallet.
func (r *Runtime) LocalWallet() (*eth.LocalWallet, bool) {
	w, ok := r.Wallet.(*eth.LocalWallet)
	return w, ok
}

// Close releases the store and the RPC connection, in reverse order of opening.
func (r *Runtime) Close() error {
	var errs []error
	for i := len(r.closers) - 1; i >= 0; i-- {
		if err := r.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	r.closers = nil
	return errors.Join(errs...)
}

func (r *Runtime) onClose(fn func() error) {
	r.closers = append(r.closers, fn)
}

// Open wires cfg into a Service. Injected ports replace the configured adapters.
//
//	rt, err := platform.Open(ctx, cfg, platform.WithLogger(logger))
//	defer rt.Close()
func Open(ctx context.Context, cfg Config, opts ...Option) (*Runtime, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(o)
	}
	if o.logger == nil {
		o.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if o.devSafety != nil {
		cfg.Store.DevSafety = o.devSafety
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	rt := &Runtime{Config: cfg, logger: o.logger}
	svc, err := rt.wire(ctx, o)
	if err != nil {
		if cerr := rt.Close(); cerr != nil {
			o.logger.Warn("failed to release resources", "error", cerr)
		}
		return nil, err
	}
	rt.Service = svc
	return rt, nil
}

func (rt *Runtime) wire(ctx context.Context, o *options) (*core.Service, error) {
	cfg := rt.Config

	wallet, err := openWallet(cfg, o)
	if err != nil {
		return nil, err
	}
	rt.Wallet = wallet

	store, err := rt.openStore(ctx, o)
	if err != nil {
		return nil, err
	}
	rt.Store = store

	ledger := o.ledger
	if ledger == nil {
		l, err := rt.dialLedger(ctx, wallet, o)
		if err != nil {
			return nil, err
		}
		ledger = l
	}

	compute := o.compute
	if compute == nil {
		if cfg.Relayer.URL == "" {
			return nil, fmt.Errorf("%w: relayer url is not configured (relayer.url or SCRIPTVAULT_RELAYER_URL)", core.ErrInvalidInput)
		}
		c, err := relayer.New(relayer.Config{URL: cfg.Relayer.URL, Logger: o.logger})
		if err != nil {
			return nil, err
		}
		compute = c
	}

	coreOpts := []core.Option{
		core.WithLogger(o.logger),
		core.WithSessionDuration(cfg.Session.DurationDays),
	}
	if cfg.Ledger.ConfirmTimeout > 0 {
		coreOpts = append(coreOpts, core.WithConfirmTimeout(cfg.Ledger.ConfirmTimeout))
	}
	if o.status != nil {
		coreOpts = append(coreOpts, core.WithStatus(o.status))
	}
	if o.now != nil {
		coreOpts = append(coreOpts, core.WithClock(o.now))
	}
	coreOpts = append(coreOpts, o.coreOpts...)

	return core.NewService(core.Deps{
		Ledger:  ledger,
		Compute: compute,
		Wallet:  wallet,
		Store:   store,
	}, coreOpts...)
}

func openWallet(cfg Config, o *options) (core.Wallet, error) {
	if o.wallet != nil {
		return o.wallet, nil
	}
	chainID, err := cfg.ChainID()
	if err != nil {
		return nil, err
	}
	w := eth.NewLocalWallet(new(big.Int).SetUint64(chainID))
	for i, key := range cfg.WalletKeys() {
		// The key itself never reaches an error message or a log line.
		if _, err := w.ImportHex(key); err != nil {
			return nil, fmt.Errorf("%w: key %d in %s is not a valid private key", core.ErrInvalidInput, i+1, cfg.Wallet.KeyEnv)
		}
	}
	if o.approver != nil {
		w.SetApprover(o.approver)
	}
	return w, nil
}

func (rt *Runtime) dialLedger(ctx context.Context, wallet core.Wallet, o *options) (*eth.Ledger, error) {
	cfg := rt.Config
	if cfg.Ledger.RPCURL == "" {
		return nil, fmt.Errorf("%w: ledger rpc url is not configured (ledger.rpc_url or SCRIPTVAULT_RPC_URL)", core.ErrInvalidInput)
	}
	registry, err := cfg.RegistryAddress()
	if err != nil {
		return nil, err
	}
	signer, _ := wallet.(eth.TxSigner)
	l, err := eth.Dial(ctx, cfg.Ledger.RPCURL, eth.Config{
		Address:      registry,
		Signer:       signer,
		PollInterval: cfg.Ledger.PollInterval,
		Logger:       o.logger,
	})
	if err != nil {
		return nil, err
	}
	rt.onClose(func() error {
		l.Close()
		return nil
	})
	if want, err := cfg.ChainID(); err == nil && l.ChainID().Uint64() != want {
		return nil, fmt.Errorf("%w: endpoint serves chain %s, configured %d", core.ErrInvalidInput, l.ChainID(), want)
	}
	o.logger.Debug("ledger bound", "registry", registry, "chain", l.ChainID())
	return l, nil
}

func (rt *Runtime) openStore(ctx context.Context, o *options) (core.SessionStore, error) {
	if o.store != nil {
		if err := o.store.Initialize(ctx); err != nil {
			return nil, err
		}
		return o.store, nil
	}

	cfg := rt.Config
	sandbox := cfg.DevSafety() && IsDevRun()
	dir := ResolveDataDir(cfg.StorePath(), sandbox)
	if sandbox && dir != cfg.StorePath() {
		o.logger.Warn("running in SAFE MODE (Dev/Test)", "original_path", cfg.StorePath(), "resolved_path", dir)
	}

	switch cfg.Store.Adapter {
	case "memory":
		return memory.NewStore(), nil

	case "fs":
		s, err := fs.NewStore(fs.Config{
			Path:   dir,
			Secret: cfg.StoreSecret(),
			Logger: o.logger,
			ErrorHandler: func(err error) {
				o.logger.Warn("session store watcher error", "error", err)
			},
		})
		if err != nil {
			return nil, err
		}
		if err := s.Initialize(ctx); err != nil {
			return nil, err
		}
		if o.watchStore {
			if err := s.Watch(ctx); err != nil {
				return nil, fmt.Errorf("watch session store: %w", err)
			}
		}
		return s, nil

	case "sqlite":
		s, err := sqlite.Open(sqlite.Config{
			Path:   filepath.Join(dir, sqliteFile),
			Secret: cfg.StoreSecret(),
			Logger: o.logger,
		})
		if err != nil {
			return nil, err
		}
		rt.onClose(s.Close)
		if err := s.Initialize(ctx); err != nil {
			return nil, err
		}
		now := time.Now
		if o.now != nil {
			now = o.now
		}
		if n, err := s.PurgeExpired(ctx, now()); err != nil {
			o.logger.Warn("failed to purge expired sessions", "error", err)
		} else if n > 0 {
			o.logger.Debug("purged expired sessions", "count", n)
		}
		return s, nil
	}
	return nil, fmt.Errorf("%w: unknown store adapter %q", core.ErrInvalidInput, cfg.Store.Adapter)
}
