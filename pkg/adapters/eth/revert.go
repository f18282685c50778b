package eth

import (
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/rpc"

	"github.com/aretw0/scriptvault/pkg/core"
)

const revertedMarker = "execution reverted"

// revertFromError recovers the revert reason carried by an RPC error, either from the
// encoded Error(string) payload or from the node's message.
func revertFromError(err error) (*core.RevertError, bool) {
	if err == nil {
		return nil, false
	}
	var de rpc.DataError
	if errors.As(err, &de) {
		if s, ok := de.ErrorData().(string); ok {
			if data, derr := hexutil.Decode(s); derr == nil {
				if reason, uerr := abi.UnpackRevert(data); uerr == nil {
					return &core.RevertError{Reason: reason}, true
				}
			}
		}
	}
	msg := err.Error()
	i := strings.Index(msg, revertedMarker)
	if i < 0 {
		return nil, false
	}
	reason := strings.TrimPrefix(msg[i+len(revertedMarker):], ":")
	return &core.RevertError{Reason: strings.TrimSpace(reason)}, true
}

// asLedgerError keeps reverts typed and passes everything else through.
func asLedgerError(err error) error {
	if re, ok := revertFromError(err); ok {
		return re
	}
	return err
}

// readError maps a failed view call. Missing records become core.ErrNotFound.
func readError(err error) error {
	re, ok := revertFromError(err)
	if !ok {
		return err
	}
	if strings.Contains(re.Reason, "not found") {
		return fmt.Errorf("%w: %w", core.ErrNotFound, re)
	}
	return re
}
