// Package reactor grants access automatically when a license of the author's work is sold.
//
// Delivery is at most once: a sale is marked as handled before the grant is attempted,
// and a failed grant is reported but never retried. A manual grant is the recovery path.
package reactor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"

	"github.com/aretw0/lifecycle/pkg/core/worker"
	"github.com/ethereum/go-ethereum/common"
	"github.com/hashicorp/golang-lru/v2/expirable"

	saleevents "github.com/aretw0/scriptvault/pkg/adapters/lifecycle"
	"github.com/aretw0/scriptvault/pkg/core"
)

// Outcome is the result of one automatic grant.
type Outcome struct {
	Sale    core.LicenseSold
	Receipt core.Receipt
	Err     error
}

type eventKey struct {
	tx    common.Hash
	index uint
}

// grantWorker holds one sale subscription for one author identity.
type grantWorker struct {
	*worker.BaseWorker
	svc       *core.Service
	author    common.Address
	works     map[uint64]bool
	scope     uint64
	seen      *expirable.LRU[eventKey, struct{}]
	logger    *slog.Logger
	onOutcome func(Outcome)

	sub    core.Subscription
	cancel context.CancelFunc
	exited chan struct{}
	once   sync.Once
}

func newGrantWorker(svc *core.Service, author common.Address, works []uint64, c *Controller) *grantWorker {
	set := make(map[uint64]bool, len(works))
	for _, id := range works {
		set[id] = true
	}
	return &grantWorker{
		BaseWorker: worker.NewBaseWorker("auto-grant"),
		svc:        svc,
		author:     author,
		works:      set,
		scope:      c.cfg.Scope,
		seen:       c.seen,
		logger:     c.logger.With("author", author),
		onOutcome:  c.record,
		exited:     make(chan struct{}),
	}
}

func (w *grantWorker) Start(ctx context.Context) error {
	if ctx.Err() != nil {
		w.markExited()
		return ctx.Err()
	}

	status := w.State().Status
	if status != worker.StatusCreated && status != worker.StatusPending {
		return fmt.Errorf("auto-grant already started (status: %s)", status)
	}

	runCtx, cancel := context.WithCancel(ctx)
	ids := make([]uint64, 0, len(w.works))
	for id := range w.works {
		ids = append(ids, id)
	}
	sub, err := w.svc.Ledger().SubscribeLicenseSold(runCtx, ids)
	if err != nil {
		cancel()
		w.markExited()
		return fmt.Errorf("subscribe to sales: %w", err)
	}
	w.sub = sub
	w.cancel = cancel

	w.SetStatus(worker.StatusRunning)
	return w.StartFunc(runCtx, w.run)
}

func (w *grantWorker) Stop(ctx context.Context) error {
	if w.cancel != nil {
		w.StopRequested = true
		w.cancel()
	}
	return w.BaseWorker.Stop(ctx)
}

func (w *grantWorker) State() worker.State {
	return w.ExportState(func(s *worker.State) {
		s.Metadata = map[string]string{
			worker.MetadataType: string(worker.TypeGoroutine),
			"author":            w.author.Hex(),
		}
	})
}

func (w *grantWorker) markExited() {
	w.once.Do(func() { close(w.exited) })
}

func (w *grantWorker) run(ctx context.Context) (err error) {
	defer w.markExited()
	defer w.sub.Unsubscribe()
	defer func() {
		if recovered := recover(); recovered != nil {
			err = fmt.Errorf("auto-grant panic: %v", recovered)
			w.logger.Error("auto-grant panic", "error", err, "stack", string(debug.Stack()))
		}
	}()

	source := saleevents.NewSaleSource(w.sub.Events())
	if err := source.Start(ctx); err != nil {
		return err
	}
	w.logger.Info("auto-grant active", "works", len(w.works))

	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-source.Events():
			if !ok {
				if w.StopRequested || ctx.Err() != nil {
					return nil
				}
				return errors.New("sale stream closed")
			}
			sale, ok := ev.(core.LicenseSold)
			if !ok {
				continue
			}
			w.handle(ctx, sale)

		case subErr := <-w.sub.Err():
			if w.StopRequested || ctx.Err() != nil {
				return nil
			}
			w.logger.Warn("sale subscription lost", "error", subErr)
			return fmt.Errorf("sale subscription: %w", subErr)
		}
	}
}

func (w *grantWorker) handle(ctx context.Context, sale core.LicenseSold) {
	log := w.logger.With("work", sale.WorkID, "license", sale.LicenseID, "licensee", sale.Licensee)
	if !w.works[sale.WorkID] {
		log.Debug("ignoring sale of unwatched work")
		return
	}
	key := eventKey{tx: sale.TxHash, index: sale.LogIndex}
	if w.seen.Contains(key) {
		log.Debug("duplicate sale event ignored", "tx", sale.TxHash)
		return
	}
	w.seen.Add(key, struct{}{})

	// The identity may have switched while the event was in flight.
	if id, err := w.svc.Identity(ctx); err != nil || id != w.author {
		log.Warn("identity changed, sale left to manual grant")
		return
	}

	r, err := w.svc.Grants().GrantAccess(ctx, core.GrantRequest{
		WorkID:     sale.WorkID,
		Licensee:   sale.Licensee,
		Expiry:     0,
		ScopeLevel: w.scope,
		Caller:     w.author,
		Trigger:    core.TriggerAuto,
	})
	if err != nil {
		log.Error("automatic grant failed, use a manual grant to recover", "error", err)
	} else {
		log.Info("access granted automatically", "tx", r.TxHash)
	}
	if _, rerr := w.svc.LicenseService().Refresh(ctx, sale.WorkID); rerr != nil {
		log.Warn("failed to refresh licenses", "error", rerr)
	}
	if w.onOutcome != nil {
		w.onOutcome(Outcome{Sale: sale, Receipt: r, Err: err})
	}
}
