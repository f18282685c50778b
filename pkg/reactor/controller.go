package reactor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/aretw0/introspection"
	"github.com/aretw0/lifecycle/pkg/core/supervisor"
	"github.com/aretw0/lifecycle/pkg/core/worker"
	"github.com/ethereum/go-ethereum/common"
	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/aretw0/scriptvault/pkg/core"
)

const (
	seenSize = 4096
	seenTTL  = 24 * time.Hour
	// stopTimeout bounds how long a retarget waits for the previous worker to exit.
	stopTimeout = 10 * time.Second
)

// DefaultBackoff restarts a failed subscription a few times before giving up.
var DefaultBackoff = supervisor.Backoff{
	InitialInterval: time.Second,
	MaxInterval:     30 * time.Second,
	Multiplier:      2,
	ResetDuration:   time.Minute,
	MaxRestarts:     5,
	MaxDuration:     5 * time.Minute,
}

// Config holds the reactor configuration.
type Config struct {
	// Works are the candidate works. Only those authored by the active identity are watched.
	Works []uint64
	// Scope is the level granted on every sale. Zero selects core.DefaultScopeLevel;
	// callers taking a user-supplied level reject zero before building the Config.
	Scope     uint64
	Backoff   supervisor.Backoff
	Logger    *slog.Logger
	OnOutcome func(Outcome)
}

// lifecycleRunner is the part of a supervisor the controller drives.
type lifecycleRunner interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// Controller keeps exactly one auto-grant worker bound to the current identity and
// registry. On an identity or registry change the old worker is stopped, and has
// exited, before a new one starts.
type Controller struct {
	cfg    Config
	logger *slog.Logger
	seen   *expirable.LRU[eventKey, struct{}]
	swap   chan *core.Service
	done   chan struct{}

	mu         sync.Mutex
	svc        *core.Service
	sup        lifecycleRunner
	current    *grantWorker
	identity   common.Address
	watching   []uint64
	generation int
	starts     int
	granted    int
	failed     int
}

// New creates a controller over svc.
func New(svc *core.Service, cfg Config) *Controller {
	if cfg.Scope == 0 {
		cfg.Scope = core.DefaultScopeLevel
	}
	if cfg.Backoff.InitialInterval <= 0 {
		cfg.Backoff = DefaultBackoff
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Controller{
		cfg:    cfg,
		logger: cfg.Logger,
		seen:   expirable.NewLRU[eventKey, struct{}](seenSize, nil, seenTTL),
		swap:   make(chan *core.Service),
		done:   make(chan struct{}),
		svc:    svc,
	}
}

// Run binds the reactor to the current identity and follows identity switches until
// ctx is done. The active worker is stopped before Run returns.
func (c *Controller) Run(ctx context.Context) error {
	defer close(c.done)

	watchCtx, stopWatch := context.WithCancel(ctx)
	changes := c.service().Wallet().WatchIdentity(watchCtx)
	c.retarget(ctx)

	for {
		select {
		case <-ctx.Done():
			stopWatch()
			return c.stop()

		case id, ok := <-changes:
			if !ok {
				changes = nil
				continue
			}
			c.logger.Info("identity changed", "identity", id)
			c.retarget(ctx)

		case svc := <-c.swap:
			stopWatch()
			c.mu.Lock()
			c.svc = svc
			c.mu.Unlock()
			c.logger.Info("registry changed", "registry", svc.Ledger().Address())
			watchCtx, stopWatch = context.WithCancel(ctx)
			changes = svc.Wallet().WatchIdentity(watchCtx)
			c.retarget(ctx)
		}
	}
}

// Retarget moves the reactor to another service, such as a different registry.
func (c *Controller) Retarget(ctx context.Context, svc *core.Service) error {
	select {
	case c.swap <- svc:
		return nil
	case <-c.done:
		return errors.New("reactor is not running")
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Controller) service() *core.Service {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.svc
}

// retarget tears down the current worker and starts one for the current identity if it
// authored any of the configured works.
func (c *Controller) retarget(ctx context.Context) {
	if err := c.stop(); err != nil {
		c.logger.Error("previous auto-grant did not stop", "error", err)
	}

	svc := c.service()
	id, err := svc.Identity(ctx)
	if err != nil {
		c.logger.Info("auto-grant idle: no identity", "error", err)
		return
	}
	works := svc.AuthoredWorks(ctx, id, c.cfg.Works)
	c.mu.Lock()
	c.identity = id
	c.watching = works
	c.mu.Unlock()
	if len(works) == 0 {
		c.logger.Info("auto-grant idle: identity authored none of the watched works", "identity", id)
		return
	}

	spec := supervisor.Spec{
		Name: "auto-grant",
		Type: string(worker.TypeGoroutine),
		Factory: func() (worker.Worker, error) {
			w := newGrantWorker(svc, id, works, c)
			c.mu.Lock()
			c.current = w
			c.starts++
			c.mu.Unlock()
			return w, nil
		},
		Backoff:       c.cfg.Backoff,
		RestartPolicy: supervisor.RestartOnFailure,
	}
	sup := supervisor.New("auto-grant-"+id.Hex(), supervisor.StrategyOneForOne, spec)
	if err := sup.Start(ctx); err != nil {
		c.logger.Error("failed to start auto-grant", "error", err)
		return
	}
	c.mu.Lock()
	c.sup = sup
	c.generation++
	c.mu.Unlock()
}

// stop halts the supervisor and waits for the last worker to exit.
func (c *Controller) stop() error {
	c.mu.Lock()
	sup, w := c.sup, c.current
	c.sup, c.current = nil, nil
	c.mu.Unlock()
	if sup == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), stopTimeout)
	defer cancel()
	err := sup.Stop(ctx)
	if w != nil {
		select {
		case <-w.exited:
		case <-ctx.Done():
			return fmt.Errorf("auto-grant worker still running after %s", stopTimeout)
		}
	}
	return err
}

func (c *Controller) record(o Outcome) {
	c.mu.Lock()
	if o.Err == nil {
		c.granted++
	} else {
		c.failed++
	}
	c.mu.Unlock()
	if c.cfg.OnOutcome != nil {
		c.cfg.OnOutcome(o)
	}
}

// ControllerState exposes the reactor's binding for observability.
type ControllerState struct {
	Identity   string   `json:"identity,omitempty"`
	Registry   string   `json:"registry"`
	Works      []uint64 `json:"works"`
	Active     bool     `json:"active"`
	Generation int      `json:"generation"`
	Starts     int      `json:"starts"`
	Granted    int      `json:"granted"`
	Failed     int      `json:"failed"`
	Worker     any      `json:"worker,omitempty"`
}

// State implements introspection.Introspectable.
func (c *Controller) State() any {
	c.mu.Lock()
	defer c.mu.Unlock()
	st := ControllerState{
		Registry:   c.svc.Ledger().Address().Hex(),
		Works:      slices.Clone(c.watching),
		Active:     c.sup != nil,
		Generation: c.generation,
		Starts:     c.starts,
		Granted:    c.granted,
		Failed:     c.failed,
	}
	if c.identity != (common.Address{}) {
		st.Identity = c.identity.Hex()
	}
	if c.current != nil {
		st.Worker = c.current.State()
	}
	return st
}

// ComponentType implements introspection.Component.
func (c *Controller) ComponentType() string {
	return "auto-grant-reactor"
}

var _ introspection.Introspectable = (*Controller)(nil)
var _ introspection.Component = (*Controller)(nil)
