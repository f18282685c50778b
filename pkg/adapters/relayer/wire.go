package relayer

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// Routes served by a relayer.
const (
	PathKeys        = "/v1/keys"
	PathInputProof  = "/v1/input-proof"
	PathUserDecrypt = "/v1/user-decrypt"
)

// KeysResponse is the relayer's public configuration.
type KeysResponse struct {
	PublicKey         hexutil.Bytes  `json:"publicKey"`
	ChainID           uint64         `json:"chainId"`
	VerifyingContract common.Address `json:"verifyingContract"`
}

// SealedValue is a plaintext sealed to the relayer's public key.
type SealedValue struct {
	Bits   int           `json:"bits"`
	Sealed hexutil.Bytes `json:"sealed"`
}

type InputProofRequest struct {
	ContractAddress common.Address `json:"contractAddress"`
	UserAddress     common.Address `json:"userAddress"`
	Values          []SealedValue  `json:"values"`
}

type InputProofResponse struct {
	Handles    []common.Hash `json:"handles"`
	InputProof hexutil.Bytes `json:"inputProof"`
}

type HandleContractPair struct {
	Handle          common.Hash    `json:"handle"`
	ContractAddress common.Address `json:"contractAddress"`
}

type UserDecryptRequest struct {
	HandleContractPairs []HandleContractPair `json:"handleContractPairs"`
	PublicKey           hexutil.Bytes        `json:"publicKey"`
	Signature           hexutil.Bytes        `json:"signature"`
	ContractAddresses   []common.Address     `json:"contractAddresses"`
	UserAddress         common.Address       `json:"userAddress"`
	StartTimestamp      int64                `json:"startTimestamp"`
	DurationDays        int                  `json:"durationDays"`
}

// UserDecryptResponse maps each handle to its plaintext sealed to the request's public key.
type UserDecryptResponse struct {
	Values map[common.Hash]hexutil.Bytes `json:"values"`
}

// ErrorResponse is the body of every non-2xx reply.
type ErrorResponse struct {
	Error string `json:"error"`
}
