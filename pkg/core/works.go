package core

import (
	"cmp"
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// DefaultGateway resolves ipfs:// locators for display.
const DefaultGateway = "https://gateway.pinata.cloud/ipfs/"

// DefaultCategory is used when a version is submitted without one.
const DefaultCategory = "script"

// WorkService registers works and their versions.
type WorkService struct {
	ledger  Ledger
	logger  *slog.Logger
	timeout time.Duration
	status  StatusFunc
}

// NewWorkService creates a WorkService.
func NewWorkService(ledger Ledger, opts ...Option) *WorkService {
	o := buildOptions(opts)
	return &WorkService{ledger: ledger, logger: o.logger, timeout: o.confirmTimeout, status: o.status}
}

// ContentHash is the keccak256 digest recorded on-chain for a content summary.
func ContentHash(summary string) common.Hash {
	return crypto.Keccak256Hash([]byte(summary))
}

// MetadataLocator normalizes a bare content id to an ipfs:// locator.
func MetadataLocator(cid string) string {
	cid = strings.TrimSpace(cid)
	if cid == "" || strings.Contains(cid, "://") {
		return cid
	}
	return "ipfs://" + cid
}

// GatewayURL resolves an ipfs:// locator against gateway. Other locators are returned as-is.
func GatewayURL(gateway, locator string) string {
	cid, ok := strings.CutPrefix(locator, "ipfs://")
	if !ok {
		return locator
	}
	if gateway == "" {
		gateway = DefaultGateway
	}
	return strings.TrimSuffix(gateway, "/") + "/" + cid
}

// SubmitVersion records a new version. A zero WorkID registers a new work owned by caller.
func (w *WorkService) SubmitVersion(ctx context.Context, draft VersionDraft, caller common.Address) (Receipt, error) {
	op := "submit version"
	if strings.TrimSpace(draft.Title) == "" {
		return Receipt{}, w.status.fail(op, fmt.Errorf("%w: title is required", ErrInvalidInput))
	}
	if draft.Category == "" {
		draft.Category = DefaultCategory
	}
	draft.MetadataURI = MetadataLocator(draft.MetadataURI)

	if draft.WorkID != 0 {
		w.status.report(op, PhaseCheckingAuthor)
		work, err := w.ledger.Work(ctx, draft.WorkID)
		if err != nil {
			return Receipt{}, w.status.fail(op, fmt.Errorf("read work %d: %w", draft.WorkID, err))
		}
		if work.Author != caller {
			return Receipt{}, w.status.fail(op, fmt.Errorf("%w: %s is not the author of work %d", ErrUnauthorized, caller, draft.WorkID))
		}
	}

	w.status.report(op, PhaseSubmitting)
	tx, err := w.ledger.SubmitVersion(ctx, TxOpts{From: caller}, draft)
	if err != nil {
		return Receipt{}, w.status.fail(op, classifySubmitError(err))
	}

	w.status.report(op, PhaseAwaitingConfirmation)
	r, err := confirm(ctx, w.ledger, tx, w.timeout)
	if err != nil {
		return r, w.status.fail(op, err)
	}

	w.status.report(op, PhaseVersionSubmitted)
	w.logger.Info("version submitted", "work", r.WorkID, "version", r.VersionID, "tx", tx.Hash)
	return r, nil
}

// Work reads a work record.
func (w *WorkService) Work(ctx context.Context, workID uint64) (WorkRecord, error) {
	return w.ledger.Work(ctx, workID)
}

// Versions returns the versions of workID, newest first.
func (w *WorkService) Versions(ctx context.Context, workID uint64) ([]VersionRecord, error) {
	ids, err := w.ledger.WorkVersions(ctx, workID)
	if err != nil {
		return nil, fmt.Errorf("list versions of work %d: %w", workID, err)
	}
	out := make([]VersionRecord, 0, len(ids))
	for _, id := range ids {
		v, err := w.ledger.Version(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("read version %d: %w", id, err)
		}
		out = append(out, v)
	}
	slices.SortFunc(out, func(a, b VersionRecord) int {
		if c := cmp.Compare(b.Timestamp, a.Timestamp); c != 0 {
			return c
		}
		return cmp.Compare(b.ID, a.ID)
	})
	return out, nil
}
