// Package userdecrypt holds the pieces of the user-decryption handshake shared by the
// client and the relayer: the ephemeral keypair, the EIP-712 authorization message and
// the sealing of plaintexts to a session public key.
package userdecrypt

import (
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
	"golang.org/x/crypto/nacl/box"
)

// PrimaryType is the EIP-712 primary type of the authorization message.
const PrimaryType = "UserDecryptRequestVerification"

// KeySize is the length of both halves of a session keypair.
const KeySize = 32

var (
	ErrBadKey       = errors.New("malformed session key")
	ErrOpenFailed   = errors.New("sealed value cannot be opened with this keypair")
	ErrBadSignature = errors.New("signature does not recover to the user")
)

// Domain identifies the verifying contract of the authorization message.
type Domain struct {
	Name              string
	Version           string
	ChainID           uint64
	VerifyingContract common.Address
}

// DefaultDomain returns the domain used by the decryption verifier.
func DefaultDomain(chainID uint64, verifier common.Address) Domain {
	return Domain{Name: "Decryption", Version: "1", ChainID: chainID, VerifyingContract: verifier}
}

// GenerateKeypair creates a fresh session keypair.
func GenerateKeypair() (pub, priv []byte, err error) {
	p, s, err := box.GenerateKey(rand.Reader)
	if err != nil {
		return nil, nil, fmt.Errorf("generate session key: %w", err)
	}
	return p[:], s[:], nil
}

// TypedData builds the message a wallet signs to open a decryption session.
func TypedData(d Domain, publicKey []byte, contracts []common.Address, validFrom int64, durationDays int) apitypes.TypedData {
	addrs := make([]interface{}, len(contracts))
	for i, c := range contracts {
		addrs[i] = c.Hex()
	}
	return apitypes.TypedData{
		Types: apitypes.Types{
			"EIP712Domain": {
				{Name: "name", Type: "string"},
				{Name: "version", Type: "string"},
				{Name: "chainId", Type: "uint256"},
				{Name: "verifyingContract", Type: "address"},
			},
			PrimaryType: {
				{Name: "publicKey", Type: "bytes"},
				{Name: "contractAddresses", Type: "address[]"},
				{Name: "startTimestamp", Type: "uint256"},
				{Name: "durationDays", Type: "uint256"},
			},
		},
		PrimaryType: PrimaryType,
		Domain: apitypes.TypedDataDomain{
			Name:              d.Name,
			Version:           d.Version,
			ChainId:           math.NewHexOrDecimal256(int64(d.ChainID)),
			VerifyingContract: d.VerifyingContract.Hex(),
		},
		Message: apitypes.TypedDataMessage{
			"publicKey":         hexutil.Encode(publicKey),
			"contractAddresses": addrs,
			"startTimestamp":    strconv.FormatInt(validFrom, 10),
			"durationDays":      strconv.Itoa(durationDays),
		},
	}
}

// Hash returns the EIP-712 digest of data.
func Hash(data apitypes.TypedData) ([]byte, error) {
	h, _, err := apitypes.TypedDataAndHash(data)
	if err != nil {
		return nil, fmt.Errorf("hash typed data: %w", err)
	}
	return h, nil
}

// RecoverSigner returns the address that produced sig over data. Both v=0/1 and v=27/28 are accepted.
func RecoverSigner(data apitypes.TypedData, sig []byte) (common.Address, error) {
	if len(sig) != crypto.SignatureLength {
		return common.Address{}, fmt.Errorf("%w: signature length %d", ErrBadSignature, len(sig))
	}
	h, err := Hash(data)
	if err != nil {
		return common.Address{}, err
	}
	s := make([]byte, len(sig))
	copy(s, sig)
	if s[crypto.RecoveryIDOffset] >= 27 {
		s[crypto.RecoveryIDOffset] -= 27
	}
	pub, err := crypto.SigToPub(h, s)
	if err != nil {
		return common.Address{}, fmt.Errorf("%w: %w", ErrBadSignature, err)
	}
	return crypto.PubkeyToAddress(*pub), nil
}

// Verify checks that sig over data was produced by user.
func Verify(data apitypes.TypedData, sig []byte, user common.Address) error {
	signer, err := RecoverSigner(data, sig)
	if err != nil {
		return err
	}
	if signer != user {
		return fmt.Errorf("%w: recovered %s, want %s", ErrBadSignature, signer, user)
	}
	return nil
}

// SealValue encrypts v so only the holder of the private half of recipient can read it.
func SealValue(v uint64, recipient []byte) ([]byte, error) {
	pub, err := toKey(recipient)
	if err != nil {
		return nil, err
	}
	var msg [8]byte
	binary.BigEndian.PutUint64(msg[:], v)
	return box.SealAnonymous(nil, msg[:], pub, rand.Reader)
}

// OpenValue decrypts a value sealed with SealValue.
func OpenValue(sealed, publicKey, privateKey []byte) (uint64, error) {
	pub, err := toKey(publicKey)
	if err != nil {
		return 0, err
	}
	priv, err := toKey(privateKey)
	if err != nil {
		return 0, err
	}
	msg, ok := box.OpenAnonymous(nil, sealed, pub, priv)
	if !ok || len(msg) != 8 {
		return 0, ErrOpenFailed
	}
	return binary.BigEndian.Uint64(msg), nil
}

func toKey(b []byte) (*[KeySize]byte, error) {
	if len(b) != KeySize {
		return nil, fmt.Errorf("%w: length %d", ErrBadKey, len(b))
	}
	var k [KeySize]byte
	copy(k[:], b)
	return &k, nil
}
