// Package sim is an in-memory registry contract and confidential-compute relayer sharing
// one access-control list. It enforces the same rules as the deployed system, which makes
// it suitable for end-to-end tests and the demo command.
package sim

import (
	"encoding/binary"
	"io"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/aretw0/scriptvault/pkg/core"
	"github.com/aretw0/scriptvault/pkg/userdecrypt"
)

// DefaultChainID is the chain id reported by a simulated network (a local dev chain).
const DefaultChainID = 31337

// DefaultRegistry is the address the simulated registry is deployed at.
var DefaultRegistry = common.HexToAddress("0x5FbDB2315678afecb367f032d93F642f64180aa3")

// Options configures a simulated network.
type Options struct {
	ChainID  uint64
	Registry common.Address
	// ConfirmDelay is how long a submitted transaction takes to be mined.
	ConfirmDelay time.Duration
	Clock        func() time.Time
	Logger       *slog.Logger
}

type work struct {
	author    common.Address
	createdAt int64
	versions  []uint64
	licenses  []uint64
}

type grantKey struct {
	workID   uint64
	licensee common.Address
}

type ciphertext struct {
	value    uint64
	bits     int
	contract common.Address
	sender   common.Address
}

// Network is the shared state of the simulated ledger and relayer.
type Network struct {
	mu       sync.Mutex
	chainID  uint64
	registry common.Address
	verifier common.Address
	delay    time.Duration
	now      func() time.Time
	logger   *slog.Logger

	relayerPub  []byte
	relayerPriv []byte

	works       map[uint64]*work
	versions    map[uint64]core.VersionRecord
	licenses    map[uint64]*core.License
	grants      map[grantKey]core.AccessGrant
	ciphertexts map[core.Handle]ciphertext
	acl         map[core.Handle]map[common.Address]bool
	scopeGrant  map[core.Handle]grantKey
	proceeds    map[common.Address]*big.Int

	nextWork    uint64
	nextVersion uint64
	nextLicense uint64
	nextHandle  uint64
	nonce       uint64
	block       uint64

	txs      map[common.Hash]*pendingTx
	stalled  bool
	failNext string

	subs    map[int]*subscription
	nextSub int
}

// New creates an empty network.
func New(opts Options) (*Network, error) {
	if opts.ChainID == 0 {
		opts.ChainID = DefaultChainID
	}
	if opts.Registry == (common.Address{}) {
		opts.Registry = DefaultRegistry
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	pub, priv, err := userdecrypt.GenerateKeypair()
	if err != nil {
		return nil, err
	}
	return &Network{
		chainID:     opts.ChainID,
		registry:    opts.Registry,
		verifier:    crypto.CreateAddress(opts.Registry, 1),
		delay:       opts.ConfirmDelay,
		now:         opts.Clock,
		logger:      opts.Logger,
		relayerPub:  pub,
		relayerPriv: priv,
		works:       make(map[uint64]*work),
		versions:    make(map[uint64]core.VersionRecord),
		licenses:    make(map[uint64]*core.License),
		grants:      make(map[grantKey]core.AccessGrant),
		ciphertexts: make(map[core.Handle]ciphertext),
		acl:         make(map[core.Handle]map[common.Address]bool),
		scopeGrant:  make(map[core.Handle]grantKey),
		proceeds:    make(map[common.Address]*big.Int),
		txs:         make(map[common.Hash]*pendingTx),
		subs:        make(map[int]*subscription),
	}, nil
}

// ChainID returns the simulated chain id.
func (n *Network) ChainID() uint64 { return n.chainID }

// Verifier is the verifying contract of decryption authorizations.
func (n *Network) Verifier() common.Address { return n.verifier }

// Stall makes every transaction submitted from now on wait forever to be mined.
func (n *Network) Stall(stalled bool) {
	n.mu.Lock()
	n.stalled = stalled
	n.mu.Unlock()
}

// FailNext makes the next mined transaction revert with reason.
func (n *Network) FailNext(reason string) {
	n.mu.Lock()
	n.failNext = reason
	n.mu.Unlock()
}

// Proceeds returns the wei collected by author from license sales.
func (n *Network) Proceeds(author common.Address) *big.Int {
	n.mu.Lock()
	defer n.mu.Unlock()
	if p, ok := n.proceeds[author]; ok {
		return new(big.Int).Set(p)
	}
	return new(big.Int)
}

// Grants returns every access grant recorded on the registry.
func (n *Network) Grants() []core.AccessGrant {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]core.AccessGrant, 0, len(n.grants))
	for _, g := range n.grants {
		out = append(out, g)
	}
	return out
}

// newHandle allocates an unguessable handle. Caller holds mu.
func (n *Network) newHandle(contract, sender common.Address) core.Handle {
	n.nextHandle++
	var seq [8]byte
	binary.BigEndian.PutUint64(seq[:], n.nextHandle)
	return crypto.Keccak256Hash(n.relayerPub, contract.Bytes(), sender.Bytes(), seq[:])
}

// inputProof binds handles to (contract, sender).
func inputProof(contract, sender common.Address, handles []core.Handle) []byte {
	parts := [][]byte{contract.Bytes(), sender.Bytes()}
	for _, h := range handles {
		parts = append(parts, h.Bytes())
	}
	return crypto.Keccak256(parts...)
}

// allow lets addr decrypt handle. Caller holds mu.
func (n *Network) allow(handle core.Handle, addr common.Address) {
	set, ok := n.acl[handle]
	if !ok {
		set = make(map[common.Address]bool)
		n.acl[handle] = set
	}
	set[addr] = true
}

func (n *Network) unix() int64 {
	return n.now().Unix()
}
