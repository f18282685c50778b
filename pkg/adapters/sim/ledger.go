package sim

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"math/big"
	"slices"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/aretw0/scriptvault/pkg/core"
)

type pendingTx struct {
	hash    common.Hash
	from    common.Address
	done    chan struct{}
	receipt core.Receipt
}

// call checks a contract call against current state and, when apply is set, executes it.
// It returns the revert reason, empty on success. Caller holds mu.
type call func(apply bool, r *core.Receipt) string

// submit rejects calls that would revert right away, like a node's gas estimation does,
// then mines the call after the confirmation delay.
func (n *Network) submit(ctx context.Context, from common.Address, method string, fn call) (core.PendingTx, error) {
	if err := ctx.Err(); err != nil {
		return core.PendingTx{}, err
	}
	if from == (common.Address{}) {
		return core.PendingTx{}, fmt.Errorf("%w: transaction without sender", core.ErrInvalidInput)
	}

	n.mu.Lock()
	var scratch core.Receipt
	if reason := fn(false, &scratch); reason != "" {
		n.mu.Unlock()
		return core.PendingTx{}, &core.RevertError{Reason: reason}
	}
	n.nonce++
	var nonce [8]byte
	binary.BigEndian.PutUint64(nonce[:], n.nonce)
	tx := &pendingTx{
		hash: crypto.Keccak256Hash(from.Bytes(), nonce[:], []byte(method)),
		from: from,
		done: make(chan struct{}),
	}
	n.txs[tx.hash] = tx
	stalled := n.stalled
	n.mu.Unlock()

	n.logger.Debug("transaction submitted", "method", method, "tx", tx.hash, "from", from)
	switch {
	case stalled:
	case n.delay <= 0:
		n.mine(tx, fn)
	default:
		time.AfterFunc(n.delay, func() { n.mine(tx, fn) })
	}
	return core.PendingTx{Hash: tx.hash, From: from}, nil
}

func (n *Network) mine(tx *pendingTx, fn call) {
	n.mu.Lock()
	n.block++
	r := core.Receipt{TxHash: tx.hash, BlockNumber: n.block}
	if n.failNext != "" {
		r.Reverted, r.RevertReason = true, n.failNext
		n.failNext = ""
	} else if reason := fn(true, &r); reason != "" {
		r = core.Receipt{TxHash: tx.hash, BlockNumber: n.block, Reverted: true, RevertReason: reason}
	}
	var targets []*subscription
	if r.Sold != nil {
		r.Sold.TxHash = tx.hash
		for _, s := range n.subs {
			if s.works[r.Sold.WorkID] {
				targets = append(targets, s)
			}
		}
	}
	tx.receipt = r
	n.mu.Unlock()

	if r.Reverted {
		n.logger.Debug("transaction reverted", "tx", tx.hash, "reason", r.RevertReason)
	}
	for _, s := range targets {
		s.deliver(*r.Sold, n.logger)
	}
	close(tx.done)
}

func (n *Network) Address() common.Address { return n.registry }

func (n *Network) Work(ctx context.Context, workID uint64) (core.WorkRecord, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	w, ok := n.works[workID]
	if !ok {
		return core.WorkRecord{}, fmt.Errorf("%w: work %d", core.ErrNotFound, workID)
	}
	return core.WorkRecord{ID: workID, Author: w.author}, nil
}

func (n *Network) WorkVersions(ctx context.Context, workID uint64) ([]uint64, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	w, ok := n.works[workID]
	if !ok {
		return nil, fmt.Errorf("%w: work %d", core.ErrNotFound, workID)
	}
	return slices.Clone(w.versions), nil
}

func (n *Network) Version(ctx context.Context, versionID uint64) (core.VersionRecord, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	v, ok := n.versions[versionID]
	if !ok {
		return core.VersionRecord{}, fmt.Errorf("%w: version %d", core.ErrNotFound, versionID)
	}
	return v, nil
}

func (n *Network) WorkLicenses(ctx context.Context, workID uint64) ([]uint64, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	w, ok := n.works[workID]
	if !ok {
		return nil, fmt.Errorf("%w: work %d", core.ErrNotFound, workID)
	}
	return slices.Clone(w.licenses), nil
}

func (n *Network) License(ctx context.Context, licenseID uint64) (core.License, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	l, ok := n.licenses[licenseID]
	if !ok {
		return core.License{}, fmt.Errorf("%w: license %d", core.ErrNotFound, licenseID)
	}
	out := *l
	out.PriceWei = new(big.Int).Set(l.PriceWei)
	return out, nil
}

// AccessGrant returns the stored grant, or a zero grant when none exists.
func (n *Network) AccessGrant(ctx context.Context, workID uint64, licensee common.Address) (core.AccessGrant, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if g, ok := n.grants[grantKey{workID, licensee}]; ok {
		return g, nil
	}
	return core.AccessGrant{WorkID: workID, Licensee: licensee}, nil
}

// EncryptedScope returns the user's scope handle, or zero when never granted or expired.
func (n *Network) EncryptedScope(ctx context.Context, workID uint64, user common.Address) (core.Handle, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	g, ok := n.grants[grantKey{workID, user}]
	if !ok || expired(g, n.unix()) {
		return core.Handle{}, nil
	}
	return g.EncryptedScope, nil
}

func expired(g core.AccessGrant, now int64) bool {
	return g.Expiry != 0 && now >= g.Expiry
}

func (n *Network) SubmitVersion(ctx context.Context, opts core.TxOpts, d core.VersionDraft) (core.PendingTx, error) {
	from := opts.From
	return n.submit(ctx, from, "submitVersion", func(apply bool, r *core.Receipt) string {
		workID := d.WorkID
		if workID != 0 {
			w, ok := n.works[workID]
			if !ok {
				return core.RevertWorkNotFound
			}
			if w.author != from {
				return core.RevertNotAuthor
			}
		}
		if d.ParentVersionID != 0 {
			if p, ok := n.versions[d.ParentVersionID]; !ok || p.WorkID != workID {
				return "parent version not found"
			}
		}
		if !apply {
			return ""
		}
		now := n.unix()
		if workID == 0 {
			n.nextWork++
			workID = n.nextWork
			n.works[workID] = &work{author: from, createdAt: now}
		}
		n.nextVersion++
		v := core.VersionRecord{
			ID:              n.nextVersion,
			WorkID:          workID,
			Title:           d.Title,
			ContentHash:     d.ContentHash,
			MetadataURI:     d.MetadataURI,
			ParentVersionID: d.ParentVersionID,
			Visibility:      d.Visibility,
			Category:        d.Category,
			Timestamp:       now,
		}
		n.versions[v.ID] = v
		w := n.works[workID]
		w.versions = append(w.versions, v.ID)
		r.WorkID, r.VersionID = workID, v.ID
		return ""
	})
}

func (n *Network) IssueLicense(ctx context.Context, opts core.TxOpts, workID uint64, terms string, priceWei *big.Int) (core.PendingTx, error) {
	from := opts.From
	return n.submit(ctx, from, "issueLicense", func(apply bool, r *core.Receipt) string {
		w, ok := n.works[workID]
		if !ok {
			return core.RevertWorkNotFound
		}
		if w.author != from {
			return core.RevertNotAuthor
		}
		if priceWei == nil || priceWei.Sign() < 0 {
			return "invalid price"
		}
		if !apply {
			return ""
		}
		n.nextLicense++
		n.licenses[n.nextLicense] = &core.License{
			ID:       n.nextLicense,
			WorkID:   workID,
			Terms:    terms,
			PriceWei: new(big.Int).Set(priceWei),
			Active:   true,
		}
		w.licenses = append(w.licenses, n.nextLicense)
		r.WorkID, r.LicenseID = workID, n.nextLicense
		return ""
	})
}

func (n *Network) BuyLicense(ctx context.Context, opts core.TxOpts, licenseID uint64) (core.PendingTx, error) {
	from := opts.From
	value := new(big.Int)
	if opts.Value != nil {
		value.Set(opts.Value)
	}
	return n.submit(ctx, from, "buyLicense", func(apply bool, r *core.Receipt) string {
		l, ok := n.licenses[licenseID]
		if !ok {
			return core.RevertLicenseNotFound
		}
		if !l.Active {
			return core.RevertLicenseNotActive
		}
		if value.Cmp(l.PriceWei) < 0 {
			return core.RevertInsufficientPayment
		}
		if !apply {
			return ""
		}
		l.Active = false
		l.Licensee = from
		author := n.works[l.WorkID].author
		if _, ok := n.proceeds[author]; !ok {
			n.proceeds[author] = new(big.Int)
		}
		n.proceeds[author].Add(n.proceeds[author], value)
		r.WorkID, r.LicenseID = l.WorkID, licenseID
		r.Sold = &core.LicenseSold{WorkID: l.WorkID, Licensee: from, LicenseID: licenseID}
		return ""
	})
}

func (n *Network) GrantAccess(ctx context.Context, opts core.TxOpts, workID uint64, licensee common.Address, expiry int64, scope core.Handle, proof []byte) (core.PendingTx, error) {
	from := opts.From
	return n.submit(ctx, from, "grantAccess", func(apply bool, r *core.Receipt) string {
		w, ok := n.works[workID]
		if !ok {
			return core.RevertWorkNotFound
		}
		if w.author != from {
			return core.RevertNotAuthor
		}
		ct, ok := n.ciphertexts[scope]
		if !ok || ct.contract != n.registry || ct.sender != from ||
			!bytes.Equal(proof, inputProof(n.registry, from, []core.Handle{scope})) {
			return core.RevertInvalidProof
		}
		if licensee == (common.Address{}) {
			return "invalid licensee"
		}
		if !apply {
			return ""
		}
		key := grantKey{workID, licensee}
		n.grants[key] = core.AccessGrant{WorkID: workID, Licensee: licensee, EncryptedScope: scope, Expiry: expiry}
		n.scopeGrant[scope] = key
		n.allow(scope, n.registry)
		n.allow(scope, from)
		n.allow(scope, licensee)
		r.WorkID = workID
		return ""
	})
}

// WaitReceipt blocks until tx is mined or ctx is done.
func (n *Network) WaitReceipt(ctx context.Context, tx core.PendingTx) (core.Receipt, error) {
	n.mu.Lock()
	p, ok := n.txs[tx.Hash]
	n.mu.Unlock()
	if !ok {
		return core.Receipt{}, fmt.Errorf("%w: transaction %s", core.ErrNotFound, tx.Hash)
	}
	select {
	case <-p.done:
		return p.receipt, nil
	case <-ctx.Done():
		return core.Receipt{}, ctx.Err()
	}
}

// SubscribeLicenseSold streams sales of workIDs until ctx ends or Unsubscribe is called.
func (n *Network) SubscribeLicenseSold(ctx context.Context, workIDs []uint64) (core.Subscription, error) {
	if len(workIDs) == 0 {
		return nil, fmt.Errorf("%w: no works to watch", core.ErrInvalidInput)
	}
	works := make(map[uint64]bool, len(workIDs))
	for _, id := range workIDs {
		works[id] = true
	}

	n.mu.Lock()
	id := n.nextSub
	n.nextSub++
	s := newSubscription(works, func() { n.removeSub(id) })
	n.subs[id] = s
	n.mu.Unlock()

	go func() {
		select {
		case <-ctx.Done():
			s.Unsubscribe()
		case <-s.closed:
		}
	}()
	return s, nil
}

// Subscribers returns how many sale subscriptions are open.
func (n *Network) Subscribers() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.subs)
}

// DropSubscriptions fails every open subscription with err, as a lost connection would.
func (n *Network) DropSubscriptions(err error) {
	n.mu.Lock()
	subs := make([]*subscription, 0, len(n.subs))
	for id, s := range n.subs {
		subs = append(subs, s)
		delete(n.subs, id)
	}
	n.mu.Unlock()
	for _, s := range subs {
		s.fail(err)
	}
}

func (n *Network) removeSub(id int) {
	n.mu.Lock()
	delete(n.subs, id)
	n.mu.Unlock()
}

var _ core.Ledger = (*Network)(nil)
