package core

import (
	"bytes"
	"slices"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// NormalizeContracts returns the contract set sorted and without duplicates.
func NormalizeContracts(contracts []common.Address) []common.Address {
	out := slices.Clone(contracts)
	slices.SortFunc(out, func(a, b common.Address) int {
		return bytes.Compare(a[:], b[:])
	})
	return slices.Compact(out)
}

// SessionKey is the cache key of a session: "<user>:<sorted contracts>", lower-case hex.
func SessionKey(user common.Address, contracts []common.Address) string {
	norm := NormalizeContracts(contracts)
	parts := make([]string, len(norm))
	for i, c := range norm {
		parts[i] = lowerHex(c)
	}
	return lowerHex(user) + ":" + strings.Join(parts, ",")
}

// UserPattern matches every session key of user.
func UserPattern(user common.Address) string {
	return lowerHex(user) + ":*"
}

func lowerHex(a common.Address) string {
	return strings.ToLower(a.Hex())
}
