package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/sync/singleflight"
)

// SessionManager obtains, caches and invalidates decryption sessions.
// Lookups for the same (user, contracts) key share one in-flight signature request.
type SessionManager struct {
	store   SessionStore
	compute Compute
	wallet  Wallet
	logger  *slog.Logger
	now     func() time.Time
	days    int
	status  StatusFunc

	group singleflight.Group

	// flights holds the context shared by the callers of one in-flight request. It is
	// cancelled only when every caller waiting on it has gone.
	flightMu sync.Mutex
	flights  map[string]*flight

	// generations counts invalidations per user. A session signed under an older
	// generation is handed to its callers but never persisted.
	genMu       sync.Mutex
	generations map[common.Address]uint64

	mu         sync.RWMutex
	hits       uint64
	misses     uint64
	signatures uint64
}

// NewSessionManager creates a SessionManager.
func NewSessionManager(store SessionStore, compute Compute, wallet Wallet, opts ...Option) *SessionManager {
	o := buildOptions(opts)
	return &SessionManager{
		store:   store,
		compute: compute,
		wallet:  wallet,
		logger:  o.logger,
		now:     o.now,
		days:    o.sessionDays,
		status:  o.status,

		flights:     make(map[string]*flight),
		generations: make(map[common.Address]uint64),
	}
}

type flight struct {
	ctx     context.Context
	cancel  context.CancelFunc
	waiters int
}

// GetOrCreate returns the cached session for (user, contracts) while it is valid, or signs a new one.
func (m *SessionManager) GetOrCreate(ctx context.Context, user common.Address, contracts []common.Address) (DecryptionSession, error) {
	if user == (common.Address{}) {
		return DecryptionSession{}, fmt.Errorf("%w: user address is zero", ErrInvalidInput)
	}
	norm := NormalizeContracts(contracts)
	if len(norm) == 0 {
		return DecryptionSession{}, fmt.Errorf("%w: empty contract set", ErrInvalidInput)
	}
	key := SessionKey(user, norm)

	if s, ok := m.lookup(ctx, key, user, norm); ok {
		return s, nil
	}

	for {
		gen := m.generation(user)
		fkey := fmt.Sprintf("%s#%d", key, gen)
		f := m.join(ctx, fkey)
		ch := m.group.DoChan(fkey, func() (any, error) {
			// A concurrent caller may have stored the session while we waited.
			if s, ok := m.lookup(f.ctx, key, user, norm); ok {
				return s, nil
			}
			return m.create(f.ctx, key, user, norm, gen)
		})

		select {
		case <-ctx.Done():
			m.leave(fkey, f)
			return DecryptionSession{}, ctx.Err()
		case res := <-ch:
			m.leave(fkey, f)
			if res.Err != nil {
				// Every other caller of that request left before it finished; ours has not.
				if errors.Is(res.Err, context.Canceled) && ctx.Err() == nil {
					continue
				}
				return DecryptionSession{}, res.Err
			}
			if res.Shared {
				m.logger.Debug("session request shared", "key", key)
			}
			return res.Val.(DecryptionSession), nil
		}
	}
}

// join registers the caller on the shared context of fkey, creating it if needed.
func (m *SessionManager) join(ctx context.Context, fkey string) *flight {
	m.flightMu.Lock()
	defer m.flightMu.Unlock()
	f := m.flights[fkey]
	if f == nil {
		fctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
		f = &flight{ctx: fctx, cancel: cancel}
		m.flights[fkey] = f
	}
	f.waiters++
	return f
}

func (m *SessionManager) leave(fkey string, f *flight) {
	m.flightMu.Lock()
	defer m.flightMu.Unlock()
	f.waiters--
	if f.waiters > 0 {
		return
	}
	f.cancel()
	if m.flights[fkey] == f {
		delete(m.flights, fkey)
	}
}

func (m *SessionManager) generation(user common.Address) uint64 {
	m.genMu.Lock()
	defer m.genMu.Unlock()
	return m.generations[user]
}

func (m *SessionManager) lookup(ctx context.Context, key string, user common.Address, contracts []common.Address) (DecryptionSession, bool) {
	s, err := m.store.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, ErrSessionNotFound) {
			m.logger.Warn("session store read failed", "key", key, "error", err)
		}
		return DecryptionSession{}, false
	}
	if !s.Matches(user, contracts) || !s.ValidAt(m.now().Unix()) {
		m.logger.Debug("cached session unusable", "key", key, "valid_until", s.ValidUntil())
		return DecryptionSession{}, false
	}
	sessionCacheHits.Inc()
	m.mu.Lock()
	m.hits++
	m.mu.Unlock()
	return s, true
}

func (m *SessionManager) create(ctx context.Context, key string, user common.Address, contracts []common.Address, gen uint64) (DecryptionSession, error) {
	const op = "decryption session"
	sessionCacheMisses.Inc()
	m.mu.Lock()
	m.misses++
	m.mu.Unlock()

	identity, err := m.wallet.Identity(ctx)
	if err != nil {
		return DecryptionSession{}, m.status.fail(op, err)
	}
	if identity != user {
		return DecryptionSession{}, m.status.fail(op, fmt.Errorf("%w: wallet identity %s cannot sign for %s", ErrUnauthorized, identity, user))
	}

	kp, err := m.compute.GenerateKeypair()
	if err != nil {
		return DecryptionSession{}, m.status.fail(op, fmt.Errorf("generate keypair: %w", err))
	}

	validFrom := m.now().Unix()
	msg, err := m.compute.AuthorizationMessage(ctx, kp.PublicKey, contracts, validFrom, m.days)
	if err != nil {
		return DecryptionSession{}, m.status.fail(op, fmt.Errorf("build authorization message: %w", err))
	}

	m.status.report(op, PhaseRequestingSignature)
	sig, err := m.wallet.SignTypedData(ctx, msg)
	signatureRequests.WithLabelValues(Outcome(err)).Inc()
	m.mu.Lock()
	m.signatures++
	m.mu.Unlock()
	if err != nil {
		return DecryptionSession{}, m.status.fail(op, err)
	}

	s := DecryptionSession{
		User:         user,
		Contracts:    contracts,
		PublicKey:    kp.PublicKey,
		PrivateKey:   kp.PrivateKey,
		Signature:    sig,
		ValidFrom:    validFrom,
		DurationDays: m.days,
	}
	if err := m.persist(ctx, key, s, gen); err != nil {
		// The session is still usable for this process.
		m.logger.Warn("failed to persist session", "key", key, "error", err)
	}
	m.logger.Info("decryption session created", "user", user, "contracts", len(contracts), "valid_until", time.Unix(s.ValidUntil(), 0).UTC())
	return s, nil
}

// persist stores s unless user was invalidated after the request for s started.
func (m *SessionManager) persist(ctx context.Context, key string, s DecryptionSession, gen uint64) error {
	m.genMu.Lock()
	defer m.genMu.Unlock()
	if m.generations[s.User] != gen {
		m.logger.Info("session invalidated while signing, not caching it", "key", key)
		return nil
	}
	return m.store.Put(ctx, key, s)
}

// Invalidate removes every cached session of user. Other users are untouched.
// Requests already in flight for user still return their session but do not cache it,
// and later lookups start a new signature request.
func (m *SessionManager) Invalidate(ctx context.Context, user common.Address) (int, error) {
	m.genMu.Lock()
	defer m.genMu.Unlock()
	m.generations[user]++
	n, err := m.store.DeleteMatching(ctx, UserPattern(user))
	if err != nil {
		return 0, fmt.Errorf("invalidate sessions of %s: %w", user, err)
	}
	m.logger.Info("sessions invalidated", "user", user, "count", n)
	return n, nil
}

// Decrypt reads back the plaintext of handle held by contract using session.
func (m *SessionManager) Decrypt(ctx context.Context, handle Handle, contract common.Address, session DecryptionSession) (uint64, error) {
	v, err := m.decrypt(ctx, handle, contract, session)
	decryptRequests.WithLabelValues(Outcome(err)).Inc()
	return v, err
}

func (m *SessionManager) decrypt(ctx context.Context, handle Handle, contract common.Address, session DecryptionSession) (uint64, error) {
	const op = "decrypt"
	if handle == (Handle{}) {
		return 0, m.status.fail(op, fmt.Errorf("%w: zero handle (not granted or expired)", ErrHandleNotFound))
	}
	if !session.Covers(contract) {
		return 0, m.status.fail(op, fmt.Errorf("%w: session does not cover contract %s", ErrNotAuthorized, contract))
	}
	if !session.ValidAt(m.now().Unix()) {
		return 0, m.status.fail(op, fmt.Errorf("%w: session expired", ErrNotAuthorized))
	}

	m.status.report(op, PhaseDecrypting)
	res, err := m.compute.UserDecrypt(ctx, UserDecryptRequest{
		Pairs:        []HandleContract{{Handle: handle, Contract: contract}},
		Keypair:      Keypair{PublicKey: session.PublicKey, PrivateKey: session.PrivateKey},
		Signature:    session.Signature,
		Contracts:    session.Contracts,
		User:         session.User,
		ValidFrom:    session.ValidFrom,
		DurationDays: session.DurationDays,
	})
	if err != nil {
		return 0, m.status.fail(op, err)
	}
	v, ok := res[handle]
	if !ok {
		return 0, m.status.fail(op, fmt.Errorf("%w: %s missing from response", ErrHandleNotFound, handle))
	}
	m.status.report(op, PhaseDecrypted)
	return v, nil
}

// Sessions lists the keys of all cached sessions.
func (m *SessionManager) Sessions(ctx context.Context) ([]string, error) {
	return m.store.Keys(ctx)
}
