package vault

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/aretw0/scriptvault/pkg/core"
)

// SessionRecord is the persisted form of a decryption session. Only the private key is sealed.
type SessionRecord struct {
	User         common.Address   `json:"user"`
	Contracts    []common.Address `json:"contracts"`
	PublicKey    hexutil.Bytes    `json:"publicKey"`
	PrivateKey   string           `json:"privateKey"`
	Signature    hexutil.Bytes    `json:"signature"`
	ValidFrom    int64            `json:"validFrom"`
	DurationDays int              `json:"durationDays"`
}

// SealSession converts s to its persisted form.
func (s *Sealer) SealSession(in core.DecryptionSession) (SessionRecord, error) {
	priv, err := s.Seal(in.PrivateKey)
	if err != nil {
		return SessionRecord{}, err
	}
	return SessionRecord{
		User:         in.User,
		Contracts:    in.Contracts,
		PublicKey:    in.PublicKey,
		PrivateKey:   priv,
		Signature:    in.Signature,
		ValidFrom:    in.ValidFrom,
		DurationDays: in.DurationDays,
	}, nil
}

// OpenSession converts a persisted record back to a session.
func (s *Sealer) OpenSession(r SessionRecord) (core.DecryptionSession, error) {
	priv, err := s.Open(r.PrivateKey)
	if err != nil {
		return core.DecryptionSession{}, err
	}
	return core.DecryptionSession{
		User:         r.User,
		Contracts:    r.Contracts,
		PublicKey:    r.PublicKey,
		PrivateKey:   priv,
		Signature:    r.Signature,
		ValidFrom:    r.ValidFrom,
		DurationDays: r.DurationDays,
	}, nil
}
