package core

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// confirm waits at most timeout for tx to be mined and maps reverts to the error taxonomy.
func confirm(ctx context.Context, ledger Ledger, tx PendingTx, timeout time.Duration) (Receipt, error) {
	wctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	r, err := ledger.WaitReceipt(wctx, tx)
	if err != nil {
		if ctx.Err() == nil && errors.Is(wctx.Err(), context.DeadlineExceeded) {
			return Receipt{}, fmt.Errorf("%w: %s after %s", ErrTransactionTimeout, tx.Hash, timeout)
		}
		return Receipt{}, fmt.Errorf("wait for %s: %w", tx.Hash, err)
	}
	if r.Reverted {
		return r, classifyRevert(r.RevertReason)
	}
	return r, nil
}
