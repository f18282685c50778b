package core

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
)

// Grant triggers, used as metric labels.
const (
	TriggerManual = "manual"
	TriggerAuto   = "auto"
)

// GrantRequest describes one access grant. Expiry 0 means the grant never expires.
type GrantRequest struct {
	WorkID     uint64
	Licensee   common.Address
	Expiry     int64
	ScopeLevel uint64
	Caller     common.Address
	Trigger    string
}

// GrantController issues on-chain access grants, encrypting the scope first.
type GrantController struct {
	ledger  Ledger
	inputs  *InputBuilder
	logger  *slog.Logger
	timeout time.Duration
	status  StatusFunc
}

// NewGrantController creates a GrantController.
func NewGrantController(ledger Ledger, inputs *InputBuilder, opts ...Option) *GrantController {
	o := buildOptions(opts)
	return &GrantController{
		ledger:  ledger,
		inputs:  inputs,
		logger:  o.logger,
		timeout: o.confirmTimeout,
		status:  o.status,
	}
}

// GrantAccess authorizes req.Licensee to decrypt req.ScopeLevel for req.WorkID.
// Authorship is checked before any encryption or ledger write.
func (g *GrantController) GrantAccess(ctx context.Context, req GrantRequest) (Receipt, error) {
	trigger := req.Trigger
	if trigger == "" {
		trigger = TriggerManual
	}
	r, err := g.grant(ctx, req)
	grantsTotal.WithLabelValues(trigger, Outcome(err)).Inc()
	return r, err
}

func (g *GrantController) grant(ctx context.Context, req GrantRequest) (Receipt, error) {
	op := fmt.Sprintf("grant work %d to %s", req.WorkID, req.Licensee)
	log := g.logger.With("op_id", uuid.NewString(), "work", req.WorkID, "licensee", req.Licensee)

	if req.Licensee == (common.Address{}) {
		return Receipt{}, g.status.fail(op, fmt.Errorf("%w: licensee address is zero", ErrInvalidInput))
	}
	if req.Expiry < 0 {
		return Receipt{}, g.status.fail(op, fmt.Errorf("%w: negative expiry", ErrInvalidInput))
	}
	if err := checkWidth(Uint32(req.ScopeLevel)); err != nil {
		return Receipt{}, g.status.fail(op, err)
	}

	g.status.report(op, PhaseCheckingAuthor)
	work, err := g.ledger.Work(ctx, req.WorkID)
	if err != nil {
		return Receipt{}, g.status.fail(op, fmt.Errorf("read work %d: %w", req.WorkID, err))
	}
	if work.Author != req.Caller {
		log.Warn("grant refused", "caller", req.Caller, "author", work.Author)
		return Receipt{}, g.status.fail(op, fmt.Errorf("%w: %s is not the author of work %d", ErrUnauthorized, req.Caller, req.WorkID))
	}

	g.status.report(op, PhaseEncrypting)
	handle, proof, err := g.inputs.EncryptScope(ctx, g.ledger.Address(), req.Caller, req.ScopeLevel)
	if err != nil {
		return Receipt{}, g.status.fail(op, err)
	}

	g.status.report(op, PhaseSubmitting)
	tx, err := g.ledger.GrantAccess(ctx, TxOpts{From: req.Caller}, req.WorkID, req.Licensee, req.Expiry, handle, proof)
	if err != nil {
		return Receipt{}, g.status.fail(op, classifySubmitError(err))
	}

	g.status.report(op, PhaseAwaitingConfirmation)
	receipt, err := confirm(ctx, g.ledger, tx, g.timeout)
	if err != nil {
		log.Error("grant failed", "tx", tx.Hash, "error", err)
		return receipt, g.status.fail(op, err)
	}

	g.status.report(op, PhaseGranted)
	log.Info("access granted", "tx", tx.Hash, "expiry", req.Expiry)
	return receipt, nil
}
