package core

import (
	"cmp"
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"slices"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/hashicorp/golang-lru/v2/expirable"
)

const licenseCacheSize = 256

// LicenseService issues, sells and lists licenses. License lists are cached per work.
type LicenseService struct {
	ledger  Ledger
	logger  *slog.Logger
	timeout time.Duration
	status  StatusFunc
	cache   *expirable.LRU[uint64, []License]
}

// NewLicenseService creates a LicenseService.
func NewLicenseService(ledger Ledger, opts ...Option) *LicenseService {
	o := buildOptions(opts)
	return &LicenseService{
		ledger:  ledger,
		logger:  o.logger,
		timeout: o.confirmTimeout,
		status:  o.status,
		cache:   expirable.NewLRU[uint64, []License](licenseCacheSize, nil, o.licenseCacheTTL),
	}
}

// Issue offers a new license on workID. Only the work's author may issue.
func (s *LicenseService) Issue(ctx context.Context, workID uint64, terms string, priceWei *big.Int, caller common.Address) (uint64, error) {
	op := fmt.Sprintf("issue license on work %d", workID)
	log := s.logger.With("op_id", uuid.NewString(), "work", workID)

	if priceWei == nil || priceWei.Sign() < 0 {
		return 0, s.status.fail(op, fmt.Errorf("%w: price must be a non-negative amount of wei", ErrInvalidInput))
	}

	s.status.report(op, PhaseCheckingAuthor)
	work, err := s.ledger.Work(ctx, workID)
	if err != nil {
		return 0, s.status.fail(op, fmt.Errorf("read work %d: %w", workID, err))
	}
	if work.Author != caller {
		return 0, s.status.fail(op, fmt.Errorf("%w: %s is not the author of work %d", ErrUnauthorized, caller, workID))
	}

	s.status.report(op, PhaseSubmitting)
	tx, err := s.ledger.IssueLicense(ctx, TxOpts{From: caller}, workID, terms, priceWei)
	if err != nil {
		return 0, s.status.fail(op, classifySubmitError(err))
	}

	s.status.report(op, PhaseAwaitingConfirmation)
	r, err := confirm(ctx, s.ledger, tx, s.timeout)
	if err != nil {
		return 0, s.status.fail(op, err)
	}
	s.cache.Remove(workID)

	s.status.report(op, PhaseIssued)
	log.Info("license issued", "license", r.LicenseID, "price_wei", priceWei, "tx", tx.Hash)
	return r.LicenseID, nil
}

// Buy purchases licenseID with payment wei. Sold or underpaid licenses are rejected by the ledger.
func (s *LicenseService) Buy(ctx context.Context, licenseID uint64, payment *big.Int, caller common.Address) (Receipt, error) {
	op := fmt.Sprintf("buy license %d", licenseID)
	log := s.logger.With("op_id", uuid.NewString(), "license", licenseID)

	if payment == nil || payment.Sign() < 0 {
		return Receipt{}, s.status.fail(op, fmt.Errorf("%w: payment must be a non-negative amount of wei", ErrInvalidInput))
	}

	s.status.report(op, PhaseSubmitting)
	tx, err := s.ledger.BuyLicense(ctx, TxOpts{From: caller, Value: payment}, licenseID)
	if err != nil {
		return Receipt{}, s.status.fail(op, classifySubmitError(err))
	}

	s.status.report(op, PhaseAwaitingConfirmation)
	r, err := confirm(ctx, s.ledger, tx, s.timeout)
	if err != nil {
		return r, s.status.fail(op, err)
	}
	if r.Sold != nil {
		s.cache.Remove(r.Sold.WorkID)
	}

	s.status.report(op, PhasePurchased)
	log.Info("license purchased", "buyer", caller, "tx", tx.Hash)
	return r, nil
}

// Get reads a single license from the ledger.
func (s *LicenseService) Get(ctx context.Context, licenseID uint64) (License, error) {
	return s.ledger.License(ctx, licenseID)
}

// List returns the licenses of workID, served from cache while fresh.
func (s *LicenseService) List(ctx context.Context, workID uint64) ([]License, error) {
	if cached, ok := s.cache.Get(workID); ok {
		return slices.Clone(cached), nil
	}
	return s.Refresh(ctx, workID)
}

// Refresh re-reads the licenses of workID from the ledger and replaces the cached list.
func (s *LicenseService) Refresh(ctx context.Context, workID uint64) ([]License, error) {
	ids, err := s.ledger.WorkLicenses(ctx, workID)
	if err != nil {
		return nil, fmt.Errorf("list licenses of work %d: %w", workID, err)
	}
	out := make([]License, 0, len(ids))
	for _, id := range ids {
		l, err := s.ledger.License(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("read license %d: %w", id, err)
		}
		out = append(out, l)
	}
	slices.SortFunc(out, func(a, b License) int {
		return cmp.Compare(a.ID, b.ID)
	})
	s.cache.Add(workID, out)
	return slices.Clone(out), nil
}
