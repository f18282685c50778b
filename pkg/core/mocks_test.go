package core_test

import (
	"context"
	"encoding/binary"
	"fmt"
	"math/big"
	"sync"
	"sync/atomic"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"

	"github.com/aretw0/scriptvault/pkg/core"
)

var (
	registry = common.HexToAddress("0x00000000000000000000000000000000000000aa")
	author   = common.HexToAddress("0x1111111111111111111111111111111111111111")
	buyer    = common.HexToAddress("0x2222222222222222222222222222222222222222")
	stranger = common.HexToAddress("0x3333333333333333333333333333333333333333")
)

// MockStore implements core.SessionStore in memory.
type MockStore struct {
	mu   sync.Mutex
	data map[string]core.DecryptionSession
	puts int
}

func NewMockStore() *MockStore {
	return &MockStore{data: make(map[string]core.DecryptionSession)}
}

func (m *MockStore) Initialize(ctx context.Context) error { return nil }

func (m *MockStore) Get(ctx context.Context, key string) (core.DecryptionSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.data[key]
	if !ok {
		return core.DecryptionSession{}, core.ErrSessionNotFound
	}
	return s, nil
}

func (m *MockStore) Put(ctx context.Context, key string, s core.DecryptionSession) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = s
	m.puts++
	return nil
}

func (m *MockStore) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}

func (m *MockStore) DeleteMatching(ctx context.Context, pattern string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for k := range m.data {
		if ok, _ := doublestar.Match(pattern, k); ok {
			delete(m.data, k)
			n++
		}
	}
	return n, nil
}

func (m *MockStore) Keys(ctx context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	keys := make([]string, 0, len(m.data))
	for k := range m.data {
		keys = append(keys, k)
	}
	return keys, nil
}

// MockCompute encrypts by remembering plaintexts and decrypts by looking them up.
type MockCompute struct {
	mu          sync.Mutex
	plain       map[core.Handle]uint64
	encryptions atomic.Int32
	decrypts    atomic.Int32
	encryptErr  error
	decryptErr  error
	next        uint64
}

func NewMockCompute() *MockCompute {
	return &MockCompute{plain: make(map[core.Handle]uint64)}
}

func (c *MockCompute) Encrypt(ctx context.Context, req core.EncryptRequest) (core.EncryptedInput, error) {
	c.encryptions.Add(1)
	if c.encryptErr != nil {
		return core.EncryptedInput{}, c.encryptErr
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	out := core.EncryptedInput{Proof: append(req.Contract.Bytes(), req.Sender.Bytes()...)}
	for _, v := range req.Values {
		c.next++
		var h core.Handle
		binary.BigEndian.PutUint64(h[24:], c.next)
		c.plain[h] = v.Value
		out.Handles = append(out.Handles, h)
	}
	return out, nil
}

func (c *MockCompute) GenerateKeypair() (core.Keypair, error) {
	key, err := crypto.GenerateKey()
	if err != nil {
		return core.Keypair{}, err
	}
	return core.Keypair{PublicKey: crypto.FromECDSAPub(&key.PublicKey), PrivateKey: crypto.FromECDSA(key)}, nil
}

func (c *MockCompute) AuthorizationMessage(ctx context.Context, pub []byte, contracts []common.Address, validFrom int64, days int) (apitypes.TypedData, error) {
	return apitypes.TypedData{
		PrimaryType: "UserDecryptRequestVerification",
		Message: apitypes.TypedDataMessage{
			"publicKey":      fmt.Sprintf("%x", pub),
			"startTimestamp": fmt.Sprint(validFrom),
			"durationDays":   fmt.Sprint(days),
		},
	}, nil
}

func (c *MockCompute) UserDecrypt(ctx context.Context, req core.UserDecryptRequest) (map[core.Handle]uint64, error) {
	c.decrypts.Add(1)
	if c.decryptErr != nil {
		return nil, c.decryptErr
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[core.Handle]uint64)
	for _, p := range req.Pairs {
		v, ok := c.plain[p.Handle]
		if !ok {
			return nil, core.ErrHandleNotFound
		}
		out[p.Handle] = v
	}
	return out, nil
}

// MockWallet signs with a fixed identity and counts signature requests.
type MockWallet struct {
	mu       sync.Mutex
	identity common.Address
	deny     bool
	gate     chan struct{}
	signed   atomic.Int32
}

func NewMockWallet(id common.Address) *MockWallet {
	return &MockWallet{identity: id}
}

func (w *MockWallet) Use(id common.Address) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.identity = id
}

func (w *MockWallet) Identity(ctx context.Context) (common.Address, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.identity, nil
}

func (w *MockWallet) SignTypedData(ctx context.Context, data apitypes.TypedData) ([]byte, error) {
	w.signed.Add(1)
	if w.gate != nil {
		select {
		case <-w.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if w.deny {
		return nil, core.ErrSignatureDenied
	}
	return []byte(fmt.Sprintf("sig-%d", w.signed.Load())), nil
}

func (w *MockWallet) WatchIdentity(ctx context.Context) <-chan common.Address {
	ch := make(chan common.Address)
	go func() {
		<-ctx.Done()
		close(ch)
	}()
	return ch
}

// MockLedger is a tiny in-memory registry that records every write.
type MockLedger struct {
	mu       sync.Mutex
	works    map[uint64]core.WorkRecord
	versions map[uint64]core.VersionRecord
	licenses map[uint64]core.License
	grants   map[uint64]map[common.Address]core.AccessGrant
	receipts map[common.Hash]core.Receipt
	writes   atomic.Int32
	nextTx   uint64
	nextID   uint64

	// hang makes WaitReceipt block until ctx is done.
	hang bool
	// revertOnMine makes the next receipt come back reverted with this reason.
	revertOnMine string
}

func NewMockLedger() *MockLedger {
	return &MockLedger{
		works:    make(map[uint64]core.WorkRecord),
		versions: make(map[uint64]core.VersionRecord),
		licenses: make(map[uint64]core.License),
		grants:   make(map[uint64]map[common.Address]core.AccessGrant),
		receipts: make(map[common.Hash]core.Receipt),
	}
}

func (l *MockLedger) AddWork(id uint64, by common.Address) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.works[id] = core.WorkRecord{ID: id, Author: by}
}

func (l *MockLedger) Address() common.Address { return registry }

func (l *MockLedger) Work(ctx context.Context, id uint64) (core.WorkRecord, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	w, ok := l.works[id]
	if !ok {
		return core.WorkRecord{}, core.ErrNotFound
	}
	return w, nil
}

func (l *MockLedger) WorkVersions(ctx context.Context, id uint64) ([]uint64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	var ids []uint64
	for vid, v := range l.versions {
		if v.WorkID == id {
			ids = append(ids, vid)
		}
	}
	return ids, nil
}

func (l *MockLedger) Version(ctx context.Context, id uint64) (core.VersionRecord, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	v, ok := l.versions[id]
	if !ok {
		return core.VersionRecord{}, core.ErrNotFound
	}
	return v, nil
}

func (l *MockLedger) WorkLicenses(ctx context.Context, id uint64) ([]uint64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	var ids []uint64
	for lid, lic := range l.licenses {
		if lic.WorkID == id {
			ids = append(ids, lid)
		}
	}
	return ids, nil
}

func (l *MockLedger) License(ctx context.Context, id uint64) (core.License, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	lic, ok := l.licenses[id]
	if !ok {
		return core.License{}, core.ErrNotFound
	}
	return lic, nil
}

func (l *MockLedger) AccessGrant(ctx context.Context, workID uint64, who common.Address) (core.AccessGrant, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.grants[workID][who], nil
}

func (l *MockLedger) EncryptedScope(ctx context.Context, workID uint64, who common.Address) (core.Handle, error) {
	g, _ := l.AccessGrant(ctx, workID, who)
	return g.EncryptedScope, nil
}

func (l *MockLedger) submit(r core.Receipt) core.PendingTx {
	l.nextTx++
	var h common.Hash
	binary.BigEndian.PutUint64(h[24:], l.nextTx)
	r.TxHash = h
	if l.revertOnMine != "" {
		r = core.Receipt{TxHash: h, Reverted: true, RevertReason: l.revertOnMine}
		l.revertOnMine = ""
	}
	l.receipts[h] = r
	return core.PendingTx{Hash: h}
}

func (l *MockLedger) SubmitVersion(ctx context.Context, opts core.TxOpts, d core.VersionDraft) (core.PendingTx, error) {
	l.writes.Add(1)
	l.mu.Lock()
	defer l.mu.Unlock()
	workID := d.WorkID
	if workID == 0 {
		l.nextID++
		workID = 100 + l.nextID
		l.works[workID] = core.WorkRecord{ID: workID, Author: opts.From}
	}
	l.nextID++
	vid := l.nextID
	l.versions[vid] = core.VersionRecord{ID: vid, WorkID: workID, Title: d.Title, ContentHash: d.ContentHash,
		MetadataURI: d.MetadataURI, Category: d.Category, Visibility: d.Visibility, Timestamp: int64(vid)}
	return l.submit(core.Receipt{WorkID: workID, VersionID: vid}), nil
}

func (l *MockLedger) IssueLicense(ctx context.Context, opts core.TxOpts, workID uint64, terms string, price *big.Int) (core.PendingTx, error) {
	l.writes.Add(1)
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.works[workID].Author != opts.From {
		return core.PendingTx{}, &core.RevertError{Reason: core.RevertNotAuthor}
	}
	l.nextID++
	id := l.nextID
	l.licenses[id] = core.License{ID: id, WorkID: workID, Terms: terms, PriceWei: new(big.Int).Set(price), Active: true}
	return l.submit(core.Receipt{LicenseID: id}), nil
}

func (l *MockLedger) BuyLicense(ctx context.Context, opts core.TxOpts, id uint64) (core.PendingTx, error) {
	l.writes.Add(1)
	l.mu.Lock()
	defer l.mu.Unlock()
	lic, ok := l.licenses[id]
	if !ok {
		return core.PendingTx{}, &core.RevertError{Reason: core.RevertLicenseNotFound}
	}
	if !lic.Active {
		return core.PendingTx{}, &core.RevertError{Reason: core.RevertLicenseNotActive}
	}
	if opts.Value.Cmp(lic.PriceWei) < 0 {
		return core.PendingTx{}, &core.RevertError{Reason: core.RevertInsufficientPayment}
	}
	lic.Active = false
	lic.Licensee = opts.From
	l.licenses[id] = lic
	return l.submit(core.Receipt{Sold: &core.LicenseSold{WorkID: lic.WorkID, Licensee: opts.From, LicenseID: id}}), nil
}

func (l *MockLedger) GrantAccess(ctx context.Context, opts core.TxOpts, workID uint64, who common.Address, expiry int64, scope core.Handle, proof []byte) (core.PendingTx, error) {
	l.writes.Add(1)
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.works[workID].Author != opts.From {
		return core.PendingTx{}, &core.RevertError{Reason: core.RevertNotAuthor}
	}
	if l.grants[workID] == nil {
		l.grants[workID] = make(map[common.Address]core.AccessGrant)
	}
	l.grants[workID][who] = core.AccessGrant{WorkID: workID, Licensee: who, EncryptedScope: scope, Expiry: expiry}
	return l.submit(core.Receipt{}), nil
}

func (l *MockLedger) WaitReceipt(ctx context.Context, tx core.PendingTx) (core.Receipt, error) {
	if l.hang {
		<-ctx.Done()
		return core.Receipt{}, ctx.Err()
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	r, ok := l.receipts[tx.Hash]
	if !ok {
		return core.Receipt{}, core.ErrNotFound
	}
	return r, nil
}

func (l *MockLedger) SubscribeLicenseSold(ctx context.Context, workIDs []uint64) (core.Subscription, error) {
	return nil, fmt.Errorf("not supported")
}
