package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// Deps are the external collaborators of a Service.
type Deps struct {
	Ledger  Ledger
	Compute Compute
	Wallet  Wallet
	Store   SessionStore
}

// Service binds the protocol components to one ledger and one wallet.
// Every operation acts as the wallet's active identity.
type Service struct {
	ledger Ledger
	wallet Wallet
	store  SessionStore
	logger *slog.Logger

	inputs   *InputBuilder
	sessions *SessionManager
	grants   *GrantController
	licenses *LicenseService
	works    *WorkService
}

// NewService wires the components over deps.
func NewService(d Deps, opts ...Option) (*Service, error) {
	if d.Ledger == nil || d.Compute == nil || d.Wallet == nil || d.Store == nil {
		return nil, errors.New("ledger, compute, wallet and session store are required")
	}
	o := buildOptions(opts)
	opts = append(opts, WithLogger(o.logger))

	inputs := NewInputBuilder(d.Compute, opts...)
	return &Service{
		ledger:   d.Ledger,
		wallet:   d.Wallet,
		store:    d.Store,
		logger:   o.logger,
		inputs:   inputs,
		sessions: NewSessionManager(d.Store, d.Compute, d.Wallet, opts...),
		grants:   NewGrantController(d.Ledger, inputs, opts...),
		licenses: NewLicenseService(d.Ledger, opts...),
		works:    NewWorkService(d.Ledger, opts...),
	}, nil
}

func (s *Service) Ledger() Ledger                  { return s.ledger }
func (s *Service) Wallet() Wallet                  { return s.wallet }
func (s *Service) Inputs() *InputBuilder           { return s.inputs }
func (s *Service) Sessions() *SessionManager       { return s.sessions }
func (s *Service) Grants() *GrantController        { return s.grants }
func (s *Service) LicenseService() *LicenseService { return s.licenses }
func (s *Service) Works() *WorkService             { return s.works }

// Identity returns the wallet's active identity.
func (s *Service) Identity(ctx context.Context) (common.Address, error) {
	id, err := s.wallet.Identity(ctx)
	if err != nil {
		return common.Address{}, err
	}
	if id == (common.Address{}) {
		return common.Address{}, ErrNoIdentity
	}
	return id, nil
}

// Session returns the active identity's session for contracts, defaulting to the registry.
func (s *Service) Session(ctx context.Context, contracts ...common.Address) (DecryptionSession, error) {
	user, err := s.Identity(ctx)
	if err != nil {
		return DecryptionSession{}, err
	}
	if len(contracts) == 0 {
		contracts = []common.Address{s.ledger.Address()}
	}
	return s.sessions.GetOrCreate(ctx, user, contracts)
}

// InvalidateSessions drops the cached sessions of user, or of the active identity when user is zero.
func (s *Service) InvalidateSessions(ctx context.Context, user common.Address) (int, error) {
	if user == (common.Address{}) {
		id, err := s.Identity(ctx)
		if err != nil {
			return 0, err
		}
		user = id
	}
	return s.sessions.Invalidate(ctx, user)
}

// GrantAccess grants licensee the given scope on workID as the active identity.
func (s *Service) GrantAccess(ctx context.Context, workID uint64, licensee common.Address, expiry int64, scope uint64) (Receipt, error) {
	caller, err := s.Identity(ctx)
	if err != nil {
		return Receipt{}, err
	}
	return s.grants.GrantAccess(ctx, GrantRequest{
		WorkID:     workID,
		Licensee:   licensee,
		Expiry:     expiry,
		ScopeLevel: scope,
		Caller:     caller,
		Trigger:    TriggerManual,
	})
}

// IssueLicense offers a license on workID as the active identity.
func (s *Service) IssueLicense(ctx context.Context, workID uint64, terms string, priceWei *big.Int) (uint64, error) {
	caller, err := s.Identity(ctx)
	if err != nil {
		return 0, err
	}
	return s.licenses.Issue(ctx, workID, terms, priceWei, caller)
}

// BuyLicense buys licenseID as the active identity, paying payment wei.
func (s *Service) BuyLicense(ctx context.Context, licenseID uint64, payment *big.Int) (Receipt, error) {
	caller, err := s.Identity(ctx)
	if err != nil {
		return Receipt{}, err
	}
	return s.licenses.Buy(ctx, licenseID, payment, caller)
}

// Licenses lists the licenses of workID.
func (s *Service) Licenses(ctx context.Context, workID uint64) ([]License, error) {
	return s.licenses.List(ctx, workID)
}

// SubmitVersion records a version as the active identity.
func (s *Service) SubmitVersion(ctx context.Context, draft VersionDraft) (Receipt, error) {
	caller, err := s.Identity(ctx)
	if err != nil {
		return Receipt{}, err
	}
	return s.works.SubmitVersion(ctx, draft, caller)
}

// AccessGrant reads the grant of licensee on workID.
func (s *Service) AccessGrant(ctx context.Context, workID uint64, licensee common.Address) (AccessGrant, error) {
	return s.ledger.AccessGrant(ctx, workID, licensee)
}

// Versions lists the versions of workID, newest first.
func (s *Service) Versions(ctx context.Context, workID uint64) ([]VersionRecord, error) {
	return s.works.Versions(ctx, workID)
}

// AuthoredWorks keeps the ids in workIDs that author wrote. Unreadable works are skipped.
func (s *Service) AuthoredWorks(ctx context.Context, author common.Address, workIDs []uint64) []uint64 {
	var out []uint64
	for _, id := range workIDs {
		w, err := s.ledger.Work(ctx, id)
		if err != nil {
			s.logger.Debug("skipping unreadable work", "work", id, "error", err)
			continue
		}
		if w.Author == author {
			out = append(out, id)
		}
	}
	return out
}

// ReadScope decrypts the active identity's scope on workID.
// A zero handle on the ledger means access was never granted or has expired.
func (s *Service) ReadScope(ctx context.Context, workID uint64) (uint64, error) {
	user, err := s.Identity(ctx)
	if err != nil {
		return 0, err
	}
	registry := s.ledger.Address()
	handle, err := s.ledger.EncryptedScope(ctx, workID, user)
	if err != nil {
		return 0, fmt.Errorf("read encrypted scope of work %d: %w", workID, err)
	}
	if handle == (Handle{}) {
		return 0, fmt.Errorf("%w: no access granted on work %d (not granted or expired)", ErrHandleNotFound, workID)
	}
	session, err := s.sessions.GetOrCreate(ctx, user, []common.Address{registry})
	if err != nil {
		return 0, err
	}
	return s.sessions.Decrypt(ctx, handle, registry, session)
}
