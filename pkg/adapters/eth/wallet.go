package eth

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"

	"github.com/aretw0/scriptvault/pkg/core"
	"github.com/aretw0/scriptvault/pkg/userdecrypt"
)

// ErrUnknownAccount is returned when the wallet does not hold the requested key.
var ErrUnknownAccount = errors.New("account not held by wallet")

// Approver decides whether a signature request may proceed. Returning false denies it.
type Approver func(ctx context.Context, signer common.Address, data apitypes.TypedData) bool

// LocalWallet holds ECDSA keys in memory. One of them is the active identity.
type LocalWallet struct {
	mu       sync.RWMutex
	keys     map[common.Address]*ecdsa.PrivateKey
	order    []common.Address
	active   common.Address
	chainID  *big.Int
	approve  Approver
	watchers map[int]chan common.Address
	nextID   int
}

// NewLocalWallet creates a wallet for chainID. The first key becomes the active identity.
func NewLocalWallet(chainID *big.Int, keys ...*ecdsa.PrivateKey) *LocalWallet {
	w := &LocalWallet{
		keys:     make(map[common.Address]*ecdsa.PrivateKey),
		chainID:  new(big.Int).Set(chainID),
		watchers: make(map[int]chan common.Address),
	}
	for _, k := range keys {
		w.Add(k)
	}
	return w
}

// Add imports key and returns its address. The first key added becomes active.
func (w *LocalWallet) Add(key *ecdsa.PrivateKey) common.Address {
	addr := crypto.PubkeyToAddress(key.PublicKey)
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, ok := w.keys[addr]; !ok {
		w.order = append(w.order, addr)
	}
	w.keys[addr] = key
	if w.active == (common.Address{}) {
		w.active = addr
	}
	return addr
}

// ImportHex imports a hex-encoded private key, with or without 0x prefix.
func (w *LocalWallet) ImportHex(hexKey string) (common.Address, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(strings.TrimSpace(hexKey), "0x"))
	if err != nil {
		return common.Address{}, fmt.Errorf("%w: private key: %w", core.ErrInvalidInput, err)
	}
	return w.Add(key), nil
}

// Accounts lists held addresses in import order.
func (w *LocalWallet) Accounts() []common.Address {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return append([]common.Address(nil), w.order...)
}

// SetApprover installs a hook consulted before every signature.
func (w *LocalWallet) SetApprover(a Approver) {
	w.mu.Lock()
	w.approve = a
	w.mu.Unlock()
}

// Use switches the active identity and notifies watchers.
func (w *LocalWallet) Use(addr common.Address) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, ok := w.keys[addr]; !ok {
		return fmt.Errorf("%w: %s", ErrUnknownAccount, addr)
	}
	if w.active == addr {
		return nil
	}
	w.active = addr
	// Sends never block, and holding the lock keeps them clear of close.
	for _, ch := range w.watchers {
		// Keep only the latest identity in each watcher's buffer.
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- addr:
		default:
		}
	}
	return nil
}

func (w *LocalWallet) Identity(ctx context.Context) (common.Address, error) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.active == (common.Address{}) {
		return common.Address{}, core.ErrNoIdentity
	}
	return w.active, nil
}

// WatchIdentity emits the new identity after each switch. The channel is closed when ctx ends.
func (w *LocalWallet) WatchIdentity(ctx context.Context) <-chan common.Address {
	ch := make(chan common.Address, 1)
	w.mu.Lock()
	id := w.nextID
	w.nextID++
	w.watchers[id] = ch
	w.mu.Unlock()

	go func() {
		<-ctx.Done()
		w.mu.Lock()
		delete(w.watchers, id)
		close(ch)
		w.mu.Unlock()
	}()
	return ch
}

// SignTypedData signs the EIP-712 digest of data with the active key. v is 27 or 28.
func (w *LocalWallet) SignTypedData(ctx context.Context, data apitypes.TypedData) ([]byte, error) {
	w.mu.RLock()
	addr, key, approve := w.active, w.keys[w.active], w.approve
	w.mu.RUnlock()
	if key == nil {
		return nil, core.ErrNoIdentity
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if approve != nil && !approve(ctx, addr, data) {
		return nil, core.ErrSignatureDenied
	}
	digest, err := userdecrypt.Hash(data)
	if err != nil {
		return nil, err
	}
	sig, err := crypto.Sign(digest, key)
	if err != nil {
		return nil, fmt.Errorf("sign typed data: %w", err)
	}
	sig[crypto.RecoveryIDOffset] += 27
	return sig, nil
}

// TransactOpts returns signing options for from, which must be held by the wallet.
func (w *LocalWallet) TransactOpts(ctx context.Context, from common.Address) (*bind.TransactOpts, error) {
	w.mu.RLock()
	key := w.keys[from]
	w.mu.RUnlock()
	if key == nil {
		return nil, fmt.Errorf("%w: %s", ErrUnknownAccount, from)
	}
	opts, err := bind.NewKeyedTransactorWithChainID(key, w.chainID)
	if err != nil {
		return nil, err
	}
	opts.Context = ctx
	return opts, nil
}

var (
	_ core.Wallet = (*LocalWallet)(nil)
	_ TxSigner    = (*LocalWallet)(nil)
)
