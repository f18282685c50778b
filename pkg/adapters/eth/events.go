package eth

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/event"
	"github.com/ethereum/go-ethereum/rpc"

	"github.com/aretw0/scriptvault/pkg/core"
)

// Field names follow abi.ToCamelCase of the event arguments.
type workCreated struct {
	WorkId *big.Int
	Author common.Address
}

type versionSubmitted struct {
	WorkId    *big.Int
	VersionId *big.Int
	Author    common.Address
}

type licenseCreated struct {
	WorkId    *big.Int
	LicenseId *big.Int
	Price     *big.Int
}

type licenseIssued struct {
	WorkId    *big.Int
	Licensee  common.Address
	LicenseId *big.Int
}

// decodeReceipt extracts the ids created by a transaction from the registry's logs.
func decodeReceipt(parsed abi.ABI, contract common.Address, r *types.Receipt) core.Receipt {
	out := core.Receipt{TxHash: r.TxHash}
	if r.BlockNumber != nil {
		out.BlockNumber = r.BlockNumber.Uint64()
	}
	bc := bind.NewBoundContract(contract, parsed, nil, nil, nil)
	for _, lg := range r.Logs {
		if lg == nil || lg.Address != contract || len(lg.Topics) == 0 {
			continue
		}
		ev, err := parsed.EventByID(lg.Topics[0])
		if err != nil {
			continue
		}
		switch ev.Name {
		case EventWorkCreated:
			var e workCreated
			if bc.UnpackLog(&e, ev.Name, *lg) == nil {
				out.WorkID = e.WorkId.Uint64()
			}
		case EventVersionSubmitted:
			var e versionSubmitted
			if bc.UnpackLog(&e, ev.Name, *lg) == nil {
				out.WorkID = e.WorkId.Uint64()
				out.VersionID = e.VersionId.Uint64()
			}
		case EventLicenseCreated:
			var e licenseCreated
			if bc.UnpackLog(&e, ev.Name, *lg) == nil {
				out.WorkID = e.WorkId.Uint64()
				out.LicenseID = e.LicenseId.Uint64()
			}
		case EventLicenseIssued:
			if sold, err := unpackSold(bc, *lg); err == nil {
				out.WorkID = sold.WorkID
				out.LicenseID = sold.LicenseID
				out.Sold = &sold
			}
		}
	}
	return out
}

func unpackSold(bc *bind.BoundContract, lg types.Log) (core.LicenseSold, error) {
	var e licenseIssued
	if err := bc.UnpackLog(&e, EventLicenseIssued, lg); err != nil {
		return core.LicenseSold{}, err
	}
	return core.LicenseSold{
		WorkID:    e.WorkId.Uint64(),
		Licensee:  e.Licensee,
		LicenseID: e.LicenseId.Uint64(),
		TxHash:    lg.TxHash,
		LogIndex:  lg.Index,
	}, nil
}

// soldSubscription feeds decoded LicenseIssued events until cancelled.
type soldSubscription struct {
	events chan core.LicenseSold
	errs   chan error
	cancel context.CancelFunc
	once   sync.Once
}

func newSoldSubscription(cancel context.CancelFunc) *soldSubscription {
	return &soldSubscription{
		events: make(chan core.LicenseSold, 16),
		errs:   make(chan error, 1),
		cancel: cancel,
	}
}

func (s *soldSubscription) Events() <-chan core.LicenseSold { return s.events }
func (s *soldSubscription) Err() <-chan error               { return s.errs }
func (s *soldSubscription) Unsubscribe()                    { s.cancel() }

func (s *soldSubscription) send(ctx context.Context, ev core.LicenseSold) bool {
	select {
	case s.events <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}

func (s *soldSubscription) fail(err error) {
	s.once.Do(func() { s.errs <- err })
}

// SubscribeLicenseSold streams sales of the given works. Endpoints without push
// notifications (plain HTTP) are polled instead.
func (l *Ledger) SubscribeLicenseSold(ctx context.Context, workIDs []uint64) (core.Subscription, error) {
	if len(workIDs) == 0 {
		return nil, fmt.Errorf("%w: no works to watch", core.ErrInvalidInput)
	}
	query := make([]interface{}, len(workIDs))
	for i, id := range workIDs {
		query[i] = bigID(id)
	}

	sctx, cancel := context.WithCancel(ctx)
	sub := newSoldSubscription(cancel)

	logs, esub, err := l.contract.WatchLogs(&bind.WatchOpts{Context: sctx}, EventLicenseIssued, query)
	if err != nil {
		if !errors.Is(err, rpc.ErrNotificationsUnsupported) {
			cancel()
			return nil, fmt.Errorf("subscribe to %s: %w", EventLicenseIssued, err)
		}
		l.logger.Debug("push subscriptions unsupported, polling logs", "interval", l.poll)
		go l.pollSold(sctx, sub, workIDs)
		return sub, nil
	}
	go l.pumpSold(sctx, sub, logs, esub)
	return sub, nil
}

func (l *Ledger) pumpSold(ctx context.Context, sub *soldSubscription, logs <-chan types.Log, esub event.Subscription) {
	defer esub.Unsubscribe()
	for {
		select {
		case lg := <-logs:
			if lg.Removed {
				continue
			}
			ev, err := unpackSold(l.contract, lg)
			if err != nil {
				l.logger.Warn("undecodable sale event", "tx", lg.TxHash, "error", err)
				continue
			}
			if !sub.send(ctx, ev) {
				return
			}
		case err := <-esub.Err():
			if err != nil {
				sub.fail(err)
			}
			return
		case <-ctx.Done():
			return
		}
	}
}

func (l *Ledger) pollSold(ctx context.Context, sub *soldSubscription, workIDs []uint64) {
	head, err := l.backend.HeaderByNumber(ctx, nil)
	if err != nil {
		sub.fail(fmt.Errorf("read head: %w", err))
		return
	}
	next := head.Number.Uint64() + 1

	topics := make([]common.Hash, len(workIDs))
	for i, id := range workIDs {
		topics[i] = common.BigToHash(bigID(id))
	}
	eventID := l.abi.Events[EventLicenseIssued].ID

	ticker := time.NewTicker(l.poll)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		head, err := l.backend.HeaderByNumber(ctx, nil)
		if err != nil {
			sub.fail(fmt.Errorf("read head: %w", err))
			return
		}
		last := head.Number.Uint64()
		if last < next {
			continue
		}
		found, err := l.backend.FilterLogs(ctx, ethereum.FilterQuery{
			FromBlock: new(big.Int).SetUint64(next),
			ToBlock:   new(big.Int).SetUint64(last),
			Addresses: []common.Address{l.address},
			Topics:    [][]common.Hash{{eventID}, topics},
		})
		if err != nil {
			sub.fail(fmt.Errorf("filter logs: %w", err))
			return
		}
		for _, lg := range found {
			ev, err := unpackSold(l.contract, lg)
			if err != nil {
				l.logger.Warn("undecodable sale event", "tx", lg.TxHash, "error", err)
				continue
			}
			if !sub.send(ctx, ev) {
				return
			}
		}
		next = last + 1
	}
}
