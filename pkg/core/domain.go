// Package core holds the domain of the ScriptVault access protocol: works, licenses,
// access grants and decryption sessions, plus the ports the protocol consumes.
package core

import (
	"fmt"
	"math/big"
	"slices"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// Handle is an opaque reference to a ciphertext held by the confidential-compute service.
// The zero handle means "no ciphertext".
type Handle = common.Hash

// Visibility of a version on the registry.
type Visibility uint8

const (
	VisibilityPublic     Visibility = 0
	VisibilityRestricted Visibility = 1
)

func (v Visibility) String() string {
	switch v {
	case VisibilityPublic:
		return "public"
	case VisibilityRestricted:
		return "restricted"
	default:
		return "unknown"
	}
}

// WorkRecord is a registered work. The author never changes once set.
type WorkRecord struct {
	ID     uint64         `json:"id"`
	Author common.Address `json:"author"`
}

// VersionRecord is an immutable snapshot of a work's content.
type VersionRecord struct {
	ID              uint64      `json:"id"`
	WorkID          uint64      `json:"workId"`
	Title           string      `json:"title"`
	ContentHash     common.Hash `json:"contentHash"`
	MetadataURI     string      `json:"metadataUri"`
	ParentVersionID uint64      `json:"parentVersionId"`
	Visibility      Visibility  `json:"visibility"`
	Category        string      `json:"category"`
	Timestamp       int64       `json:"timestamp"`
}

// License is an offer to license a work. It is sold at most once.
type License struct {
	ID       uint64         `json:"id"`
	WorkID   uint64         `json:"workId"`
	Licensee common.Address `json:"licensee"`
	Terms    string         `json:"terms"`
	PriceWei *big.Int       `json:"priceWei"`
	Active   bool           `json:"active"`
}

// Sold reports whether the license already has a licensee.
func (l License) Sold() bool {
	return !l.Active && l.Licensee != (common.Address{})
}

// AccessGrant binds an encrypted scope to a (work, licensee) pair. Expiry 0 means none.
type AccessGrant struct {
	WorkID         uint64         `json:"workId"`
	Licensee       common.Address `json:"licensee"`
	EncryptedScope Handle         `json:"encryptedScope"`
	Expiry         int64          `json:"expiry"`
}

// LicenseSold is the ledger event emitted when a license is bought.
type LicenseSold struct {
	WorkID    uint64         `json:"workId"`
	Licensee  common.Address `json:"licensee"`
	LicenseID uint64         `json:"licenseId"`
	TxHash    common.Hash    `json:"txHash"`
	LogIndex  uint           `json:"logIndex"`
}

func (e LicenseSold) String() string {
	return fmt.Sprintf("license %d of work %d sold to %s", e.LicenseID, e.WorkID, e.Licensee.Hex())
}

// DecryptionSession is a wallet-signed authorization to decrypt handles of a fixed contract
// set, valid in [ValidFrom, ValidFrom+DurationDays*86400).
type DecryptionSession struct {
	User         common.Address   `json:"user"`
	Contracts    []common.Address `json:"contracts"`
	PublicKey    hexutil.Bytes    `json:"publicKey"`
	PrivateKey   hexutil.Bytes    `json:"privateKey"`
	Signature    hexutil.Bytes    `json:"signature"`
	ValidFrom    int64            `json:"validFrom"`
	DurationDays int              `json:"durationDays"`
}

// ValidUntil is the first unix second at which the session is no longer valid.
func (s DecryptionSession) ValidUntil() int64 {
	return s.ValidFrom + int64(s.DurationDays)*secondsPerDay
}

// ValidAt reports whether unix time now falls inside the session window.
func (s DecryptionSession) ValidAt(now int64) bool {
	return now >= s.ValidFrom && now < s.ValidUntil()
}

// Covers reports whether the session was signed for contract.
func (s DecryptionSession) Covers(contract common.Address) bool {
	return slices.Contains(s.Contracts, contract)
}

// Matches reports whether the session belongs to user and exactly the given contract set.
func (s DecryptionSession) Matches(user common.Address, contracts []common.Address) bool {
	if s.User != user {
		return false
	}
	return slices.Equal(NormalizeContracts(s.Contracts), NormalizeContracts(contracts))
}

// Clone returns a copy that shares no backing arrays with s.
func (s DecryptionSession) Clone() DecryptionSession {
	s.Contracts = slices.Clone(s.Contracts)
	s.PublicKey = slices.Clone(s.PublicKey)
	s.PrivateKey = slices.Clone(s.PrivateKey)
	s.Signature = slices.Clone(s.Signature)
	return s
}

// Redacted returns a copy without the private key, safe to print.
func (s DecryptionSession) Redacted() DecryptionSession {
	s.PrivateKey = nil
	return s
}

// Keypair is an ephemeral key pair used to receive re-encrypted plaintexts.
type Keypair struct {
	PublicKey  []byte
	PrivateKey []byte
}

// Scalar is a plaintext value with its declared bit width.
type Scalar struct {
	Value uint64
	Bits  int
}

// Uint32 declares v as a 32-bit encrypted integer.
func Uint32(v uint64) Scalar {
	return Scalar{Value: v, Bits: 32}
}

// EncryptedInput is the output of the confidential-compute service for a batch of scalars.
type EncryptedInput struct {
	Handles []Handle
	Proof   []byte
}

// VersionDraft is the input of SubmitVersion. WorkID 0 registers a new work.
type VersionDraft struct {
	WorkID          uint64
	Title           string
	ContentHash     common.Hash
	MetadataURI     string
	ParentVersionID uint64
	Visibility      Visibility
	Category        string
}

const secondsPerDay = 86400
