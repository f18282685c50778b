package core

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
)

// PendingTx identifies a submitted, not yet confirmed, ledger transaction.
type PendingTx struct {
	Hash common.Hash
	From common.Address
}

// Receipt is the confirmed outcome of a transaction. Created ids are decoded from its events.
type Receipt struct {
	TxHash       common.Hash  `json:"txHash"`
	BlockNumber  uint64       `json:"blockNumber"`
	Reverted     bool         `json:"reverted"`
	RevertReason string       `json:"revertReason,omitempty"`
	WorkID       uint64       `json:"workId,omitempty"`
	VersionID    uint64       `json:"versionId,omitempty"`
	LicenseID    uint64       `json:"licenseId,omitempty"`
	Sold         *LicenseSold `json:"sold,omitempty"`
}

// TxOpts selects the sending identity and the attached value of a transaction.
type TxOpts struct {
	From  common.Address
	Value *big.Int
}

// Subscription is a live feed of license-sold events.
// Err delivers at most one error, after which Events is no longer fed.
type Subscription interface {
	Events() <-chan LicenseSold
	Err() <-chan error
	Unsubscribe()
}

// Ledger is the registry contract as seen by the client.
// Write methods return once the transaction is accepted; WaitReceipt blocks until it is mined.
// Submissions that would revert return a *RevertError.
type Ledger interface {
	Address() common.Address

	Work(ctx context.Context, workID uint64) (WorkRecord, error)
	WorkVersions(ctx context.Context, workID uint64) ([]uint64, error)
	Version(ctx context.Context, versionID uint64) (VersionRecord, error)
	WorkLicenses(ctx context.Context, workID uint64) ([]uint64, error)
	License(ctx context.Context, licenseID uint64) (License, error)
	AccessGrant(ctx context.Context, workID uint64, licensee common.Address) (AccessGrant, error)
	EncryptedScope(ctx context.Context, workID uint64, user common.Address) (Handle, error)

	SubmitVersion(ctx context.Context, opts TxOpts, draft VersionDraft) (PendingTx, error)
	IssueLicense(ctx context.Context, opts TxOpts, workID uint64, terms string, priceWei *big.Int) (PendingTx, error)
	BuyLicense(ctx context.Context, opts TxOpts, licenseID uint64) (PendingTx, error)
	GrantAccess(ctx context.Context, opts TxOpts, workID uint64, licensee common.Address, expiry int64, scope Handle, proof []byte) (PendingTx, error)

	WaitReceipt(ctx context.Context, tx PendingTx) (Receipt, error)
	SubscribeLicenseSold(ctx context.Context, workIDs []uint64) (Subscription, error)
}

// EncryptRequest asks the compute service to encrypt values bound to (Contract, Sender).
type EncryptRequest struct {
	Contract common.Address
	Sender   common.Address
	Values   []Scalar
}

// HandleContract pairs a handle with the contract that holds it.
type HandleContract struct {
	Handle   Handle
	Contract common.Address
}

// UserDecryptRequest carries a session's credentials for a batch of handles.
type UserDecryptRequest struct {
	Pairs        []HandleContract
	Keypair      Keypair
	Signature    []byte
	Contracts    []common.Address
	User         common.Address
	ValidFrom    int64
	DurationDays int
}

// Compute is the confidential-compute service (relayer and co-processor).
type Compute interface {
	Encrypt(ctx context.Context, req EncryptRequest) (EncryptedInput, error)
	GenerateKeypair() (Keypair, error)
	AuthorizationMessage(ctx context.Context, publicKey []byte, contracts []common.Address, validFrom int64, durationDays int) (apitypes.TypedData, error)
	UserDecrypt(ctx context.Context, req UserDecryptRequest) (map[Handle]uint64, error)
}

// Wallet holds the active identity and signs on its behalf.
type Wallet interface {
	Identity(ctx context.Context) (common.Address, error)
	// SignTypedData returns ErrSignatureDenied when the holder declines.
	SignTypedData(ctx context.Context, data apitypes.TypedData) ([]byte, error)
	// WatchIdentity emits the new identity on every switch until ctx is done.
	WatchIdentity(ctx context.Context) <-chan common.Address
}

// SessionStore is the durable key-value store for decryption sessions.
type SessionStore interface {
	Get(ctx context.Context, key string) (DecryptionSession, error)
	Put(ctx context.Context, key string, s DecryptionSession) error
	Delete(ctx context.Context, key string) error
	// DeleteMatching removes every key matching a doublestar pattern and returns how many were removed.
	DeleteMatching(ctx context.Context, pattern string) (int, error)
	Keys(ctx context.Context) ([]string, error)
	Initialize(ctx context.Context) error
}
