// Package eth implements the registry ledger over an Ethereum JSON-RPC endpoint and a
// local key wallet that signs on behalf of the user.
package eth

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/aretw0/scriptvault/pkg/core"
)

// DefaultPollInterval is how often receipts (and logs, without subscriptions) are polled.
const DefaultPollInterval = 2 * time.Second

// Backend is the RPC surface the ledger needs. *ethclient.Client satisfies it.
type Backend interface {
	bind.ContractBackend
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
	TransactionByHash(ctx context.Context, hash common.Hash) (*types.Transaction, bool, error)
	ChainID(ctx context.Context) (*big.Int, error)
}

// TxSigner produces transaction options for an identity it holds.
type TxSigner interface {
	TransactOpts(ctx context.Context, from common.Address) (*bind.TransactOpts, error)
}

// Config holds the ledger configuration.
type Config struct {
	// Address of the registry contract.
	Address common.Address
	// Signer is required for write methods. A nil signer yields a read-only ledger.
	Signer       TxSigner
	PollInterval time.Duration
	Logger       *slog.Logger
}

// Ledger implements core.Ledger against the deployed registry contract.
type Ledger struct {
	backend  Backend
	address  common.Address
	abi      abi.ABI
	contract *bind.BoundContract
	signer   TxSigner
	chainID  *big.Int
	poll     time.Duration
	logger   *slog.Logger
	closer   func()
}

// Dial connects to rpcURL and binds the registry at cfg.Address.
func Dial(ctx context.Context, rpcURL string, cfg Config) (*Ledger, error) {
	client, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", rpcURL, err)
	}
	l, err := NewLedger(ctx, client, cfg)
	if err != nil {
		client.Close()
		return nil, err
	}
	l.closer = client.Close
	return l, nil
}

// Close releases the RPC connection opened by Dial.
func (l *Ledger) Close() {
	if l.closer != nil {
		l.closer()
	}
}

// NewLedger binds the registry over an existing backend.
func NewLedger(ctx context.Context, backend Backend, cfg Config) (*Ledger, error) {
	if cfg.Address == (common.Address{}) {
		return nil, errors.New("registry address is required")
	}
	parsed, err := ParsedABI()
	if err != nil {
		return nil, fmt.Errorf("parse registry abi: %w", err)
	}
	chainID, err := backend.ChainID(ctx)
	if err != nil {
		return nil, fmt.Errorf("read chain id: %w", err)
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Ledger{
		backend:  backend,
		address:  cfg.Address,
		abi:      parsed,
		contract: bind.NewBoundContract(cfg.Address, parsed, backend, backend, backend),
		signer:   cfg.Signer,
		chainID:  chainID,
		poll:     cfg.PollInterval,
		logger:   cfg.Logger,
	}, nil
}

func (l *Ledger) Address() common.Address { return l.address }

// ChainID returns the chain the ledger is bound to.
func (l *Ledger) ChainID() *big.Int { return new(big.Int).Set(l.chainID) }

func (l *Ledger) call(ctx context.Context, method string, args ...interface{}) ([]interface{}, error) {
	var out []interface{}
	if err := l.contract.Call(&bind.CallOpts{Context: ctx}, &out, method, args...); err != nil {
		return nil, readError(err)
	}
	return out, nil
}

func (l *Ledger) Work(ctx context.Context, workID uint64) (core.WorkRecord, error) {
	out, err := l.call(ctx, "getWorkInfo", bigID(workID))
	if err != nil {
		return core.WorkRecord{}, err
	}
	author := *abi.ConvertType(out[0], new(common.Address)).(*common.Address)
	if author == (common.Address{}) {
		return core.WorkRecord{}, fmt.Errorf("%w: work %d", core.ErrNotFound, workID)
	}
	return core.WorkRecord{ID: workID, Author: author}, nil
}

func (l *Ledger) WorkVersions(ctx context.Context, workID uint64) ([]uint64, error) {
	out, err := l.call(ctx, "getWorkVersions", bigID(workID))
	if err != nil {
		return nil, err
	}
	return toIDs(out[0]), nil
}

func (l *Ledger) Version(ctx context.Context, versionID uint64) (core.VersionRecord, error) {
	out, err := l.call(ctx, "getVersion", bigID(versionID))
	if err != nil {
		return core.VersionRecord{}, err
	}
	workID := *abi.ConvertType(out[0], new(*big.Int)).(**big.Int)
	if workID.Sign() == 0 {
		return core.VersionRecord{}, fmt.Errorf("%w: version %d", core.ErrNotFound, versionID)
	}
	return core.VersionRecord{
		ID:              versionID,
		WorkID:          workID.Uint64(),
		Title:           *abi.ConvertType(out[1], new(string)).(*string),
		ContentHash:     common.Hash(*abi.ConvertType(out[2], new([32]byte)).(*[32]byte)),
		MetadataURI:     *abi.ConvertType(out[3], new(string)).(*string),
		ParentVersionID: (*abi.ConvertType(out[4], new(*big.Int)).(**big.Int)).Uint64(),
		Visibility:      core.Visibility(*abi.ConvertType(out[5], new(uint8)).(*uint8)),
		Category:        *abi.ConvertType(out[6], new(string)).(*string),
		Timestamp:       (*abi.ConvertType(out[7], new(*big.Int)).(**big.Int)).Int64(),
	}, nil
}

func (l *Ledger) WorkLicenses(ctx context.Context, workID uint64) ([]uint64, error) {
	out, err := l.call(ctx, "getWorkLicenses", bigID(workID))
	if err != nil {
		return nil, err
	}
	return toIDs(out[0]), nil
}

func (l *Ledger) License(ctx context.Context, licenseID uint64) (core.License, error) {
	out, err := l.call(ctx, "getLicense", bigID(licenseID))
	if err != nil {
		return core.License{}, err
	}
	workID := *abi.ConvertType(out[0], new(*big.Int)).(**big.Int)
	if workID.Sign() == 0 {
		return core.License{}, fmt.Errorf("%w: license %d", core.ErrNotFound, licenseID)
	}
	return core.License{
		ID:       licenseID,
		WorkID:   workID.Uint64(),
		Licensee: *abi.ConvertType(out[1], new(common.Address)).(*common.Address),
		Terms:    *abi.ConvertType(out[2], new(string)).(*string),
		PriceWei: *abi.ConvertType(out[3], new(*big.Int)).(**big.Int),
		Active:   *abi.ConvertType(out[4], new(bool)).(*bool),
	}, nil
}

func (l *Ledger) AccessGrant(ctx context.Context, workID uint64, licensee common.Address) (core.AccessGrant, error) {
	out, err := l.call(ctx, "getAccessGrant", bigID(workID), licensee)
	if err != nil {
		return core.AccessGrant{}, err
	}
	return core.AccessGrant{
		WorkID:         workID,
		Licensee:       licensee,
		EncryptedScope: common.Hash(*abi.ConvertType(out[0], new([32]byte)).(*[32]byte)),
		Expiry:         expiryFromChain(*abi.ConvertType(out[1], new(uint64)).(*uint64)),
	}, nil
}

// expiryFromChain converts an on-chain uint64 expiry to unix seconds. Values past
// math.MaxInt64 are clamped: they are far beyond any real deadline.
func expiryFromChain(v uint64) int64 {
	if v > math.MaxInt64 {
		return math.MaxInt64
	}
	return int64(v)
}

func (l *Ledger) EncryptedScope(ctx context.Context, workID uint64, user common.Address) (core.Handle, error) {
	out, err := l.call(ctx, "getEncryptedScope", bigID(workID), user)
	if err != nil {
		return core.Handle{}, err
	}
	return common.Hash(*abi.ConvertType(out[0], new([32]byte)).(*[32]byte)), nil
}

func (l *Ledger) SubmitVersion(ctx context.Context, opts core.TxOpts, d core.VersionDraft) (core.PendingTx, error) {
	return l.transact(ctx, opts, "submitVersion",
		bigID(d.WorkID), d.Title, [32]byte(d.ContentHash), d.MetadataURI,
		bigID(d.ParentVersionID), uint8(d.Visibility), d.Category)
}

func (l *Ledger) IssueLicense(ctx context.Context, opts core.TxOpts, workID uint64, terms string, priceWei *big.Int) (core.PendingTx, error) {
	return l.transact(ctx, opts, "issueLicense", bigID(workID), terms, priceWei)
}

func (l *Ledger) BuyLicense(ctx context.Context, opts core.TxOpts, licenseID uint64) (core.PendingTx, error) {
	return l.transact(ctx, opts, "buyLicense", bigID(licenseID))
}

func (l *Ledger) GrantAccess(ctx context.Context, opts core.TxOpts, workID uint64, licensee common.Address, expiry int64, scope core.Handle, proof []byte) (core.PendingTx, error) {
	return l.transact(ctx, opts, "grantAccess", bigID(workID), licensee, uint64(expiry), [32]byte(scope), proof)
}

// transact simulates the call first so a revert surfaces with its reason before
// anything is broadcast, then signs and sends it.
func (l *Ledger) transact(ctx context.Context, opts core.TxOpts, method string, args ...interface{}) (core.PendingTx, error) {
	if l.signer == nil {
		return core.PendingTx{}, errors.New("ledger is read-only: no transaction signer configured")
	}
	data, err := l.abi.Pack(method, args...)
	if err != nil {
		return core.PendingTx{}, fmt.Errorf("%w: pack %s: %w", core.ErrInvalidInput, method, err)
	}
	msg := ethereum.CallMsg{From: opts.From, To: &l.address, Value: opts.Value, Data: data}
	if _, err := l.backend.CallContract(ctx, msg, nil); err != nil {
		return core.PendingTx{}, asLedgerError(err)
	}

	txo, err := l.signer.TransactOpts(ctx, opts.From)
	if err != nil {
		return core.PendingTx{}, err
	}
	txo.Context = ctx
	if opts.Value != nil {
		txo.Value = opts.Value
	}
	tx, err := l.contract.RawTransact(txo, data)
	if err != nil {
		return core.PendingTx{}, asLedgerError(err)
	}
	l.logger.Debug("transaction submitted", "method", method, "tx", tx.Hash(), "from", opts.From)
	return core.PendingTx{Hash: tx.Hash(), From: opts.From}, nil
}

// WaitReceipt polls until tx is mined or ctx is done.
func (l *Ledger) WaitReceipt(ctx context.Context, tx core.PendingTx) (core.Receipt, error) {
	ticker := time.NewTicker(l.poll)
	defer ticker.Stop()

	for {
		r, err := l.backend.TransactionReceipt(ctx, tx.Hash)
		if err == nil {
			out := decodeReceipt(l.abi, l.address, r)
			if r.Status == types.ReceiptStatusFailed {
				out.Reverted = true
				out.RevertReason = l.replay(ctx, tx, r)
			}
			return out, nil
		}
		if !errors.Is(err, ethereum.NotFound) {
			return core.Receipt{}, err
		}
		select {
		case <-ctx.Done():
			return core.Receipt{}, ctx.Err()
		case <-ticker.C:
		}
	}
}

// replay re-executes a failed transaction on its parent block to recover the reason.
func (l *Ledger) replay(ctx context.Context, pending core.PendingTx, r *types.Receipt) string {
	tx, _, err := l.backend.TransactionByHash(ctx, pending.Hash)
	if err != nil {
		l.logger.Debug("cannot fetch reverted transaction", "tx", pending.Hash, "error", err)
		return ""
	}
	from := pending.From
	if from == (common.Address{}) {
		if from, err = types.Sender(types.LatestSignerForChainID(l.chainID), tx); err != nil {
			return ""
		}
	}
	var block *big.Int
	if r.BlockNumber != nil && r.BlockNumber.Sign() > 0 {
		block = new(big.Int).Sub(r.BlockNumber, big.NewInt(1))
	}
	msg := ethereum.CallMsg{From: from, To: tx.To(), Gas: tx.Gas(), Value: tx.Value(), Data: tx.Data()}
	_, err = l.backend.CallContract(ctx, msg, block)
	if re, ok := revertFromError(err); ok {
		return re.Reason
	}
	return ""
}

func bigID(id uint64) *big.Int {
	return new(big.Int).SetUint64(id)
}

func toIDs(v interface{}) []uint64 {
	raw := *abi.ConvertType(v, new([]*big.Int)).(*[]*big.Int)
	ids := make([]uint64, len(raw))
	for i, b := range raw {
		ids[i] = b.Uint64()
	}
	return ids
}

var _ core.Ledger = (*Ledger)(nil)
