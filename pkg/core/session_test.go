package core_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aretw0/scriptvault/pkg/core"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newSessionManager(t *testing.T, id common.Address) (*core.SessionManager, *MockStore, *MockCompute, *MockWallet, *fakeClock) {
	t.Helper()
	store := NewMockStore()
	compute := NewMockCompute()
	wallet := NewMockWallet(id)
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	m := core.NewSessionManager(store, compute, wallet, core.WithClock(clock.Now))
	return m, store, compute, wallet, clock
}

func TestSessionKey_SortsAndLowercases(t *testing.T) {
	a := common.HexToAddress("0xBBbbBBbbBBbbBBbbBBbbBBbbBBbbBBbbBBbbBBbb")
	b := common.HexToAddress("0xAaAaAaAaAaAaAaAaAaAaAaAaAaAaAaAaAaAaAaAa")

	k1 := core.SessionKey(author, []common.Address{a, b})
	k2 := core.SessionKey(author, []common.Address{b, a, b})

	assert.Equal(t, k1, k2)
	assert.Equal(t, "0x1111111111111111111111111111111111111111:0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa,0xbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb", k1)
}

func TestGetOrCreate_ReusesValidSession(t *testing.T) {
	m, store, _, wallet, clock := newSessionManager(t, buyer)
	ctx := context.Background()
	hitsBefore := testutil.ToFloat64(core.SessionHitsCollector())

	first, err := m.GetOrCreate(ctx, buyer, []common.Address{registry})
	require.NoError(t, err)

	clock.Advance(24 * time.Hour)
	second, err := m.GetOrCreate(ctx, buyer, []common.Address{registry})
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.EqualValues(t, 1, wallet.signed.Load(), "second lookup must not prompt for a signature")
	assert.Equal(t, 1, store.puts)
	assert.Equal(t, core.DefaultSessionDays, first.DurationDays)
	assert.Equal(t, clock.now.Add(-24*time.Hour).Unix(), first.ValidFrom)
	assert.InDelta(t, 1, testutil.ToFloat64(core.SessionHitsCollector())-hitsBefore, 0)
}

func TestGetOrCreate_ExpiredSessionIsReplaced(t *testing.T) {
	m, _, _, wallet, clock := newSessionManager(t, buyer)
	ctx := context.Background()

	first, err := m.GetOrCreate(ctx, buyer, []common.Address{registry})
	require.NoError(t, err)

	clock.Advance(time.Duration(core.DefaultSessionDays) * 24 * time.Hour)
	second, err := m.GetOrCreate(ctx, buyer, []common.Address{registry})
	require.NoError(t, err)

	assert.NotEqual(t, first.Signature, second.Signature)
	assert.EqualValues(t, 2, wallet.signed.Load())
	assert.True(t, second.ValidAt(clock.Now().Unix()))
}

func TestGetOrCreate_ContractSetIsPartOfTheKey(t *testing.T) {
	m, _, _, wallet, _ := newSessionManager(t, buyer)
	ctx := context.Background()
	other := common.HexToAddress("0x00000000000000000000000000000000000000bb")

	_, err := m.GetOrCreate(ctx, buyer, []common.Address{registry})
	require.NoError(t, err)
	s, err := m.GetOrCreate(ctx, buyer, []common.Address{registry, other})
	require.NoError(t, err)

	assert.EqualValues(t, 2, wallet.signed.Load())
	assert.Len(t, s.Contracts, 2)
}

func TestGetOrCreate_SignatureDenied(t *testing.T) {
	m, store, _, wallet, _ := newSessionManager(t, buyer)
	wallet.deny = true

	_, err := m.GetOrCreate(context.Background(), buyer, []common.Address{registry})
	require.ErrorIs(t, err, core.ErrSignatureDenied)

	keys, _ := store.Keys(context.Background())
	assert.Empty(t, keys, "a denied signature must not leave a session behind")
}

func TestGetOrCreate_RefusesForeignUser(t *testing.T) {
	m, _, _, wallet, _ := newSessionManager(t, buyer)

	_, err := m.GetOrCreate(context.Background(), author, []common.Address{registry})
	require.ErrorIs(t, err, core.ErrUnauthorized)
	assert.EqualValues(t, 0, wallet.signed.Load())
}

func TestGetOrCreate_ConcurrentCallsShareOneSignature(t *testing.T) {
	m, _, _, wallet, _ := newSessionManager(t, buyer)
	wallet.gate = make(chan struct{})

	const callers = 8
	var wg sync.WaitGroup
	results := make([]core.DecryptionSession, callers)
	errs := make([]error, callers)
	for i := range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i], errs[i] = m.GetOrCreate(context.Background(), buyer, []common.Address{registry})
		}()
	}

	// Let the goroutines pile up on the in-flight request before releasing the signature.
	time.Sleep(50 * time.Millisecond)
	close(wallet.gate)
	wg.Wait()

	for i := range callers {
		require.NoError(t, errs[i])
		assert.Equal(t, results[0], results[i])
	}
	assert.EqualValues(t, 1, wallet.signed.Load())
}

func TestGetOrCreate_CancelledCallerDoesNotFailOthers(t *testing.T) {
	m, store, _, wallet, _ := newSessionManager(t, buyer)
	wallet.gate = make(chan struct{})

	first, cancelFirst := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() {
		_, err := m.GetOrCreate(first, buyer, []common.Address{registry})
		firstErr <- err
	}()
	require.Eventually(t, func() bool { return wallet.signed.Load() == 1 }, time.Second, 5*time.Millisecond)

	type result struct {
		s   core.DecryptionSession
		err error
	}
	second := make(chan result, 1)
	go func() {
		s, err := m.GetOrCreate(context.Background(), buyer, []common.Address{registry})
		second <- result{s, err}
	}()
	time.Sleep(50 * time.Millisecond)

	cancelFirst()
	require.ErrorIs(t, <-firstErr, context.Canceled)

	close(wallet.gate)
	res := <-second
	require.NoError(t, res.err)
	assert.Equal(t, buyer, res.s.User)
	assert.EqualValues(t, 1, wallet.signed.Load(), "the surviving caller must reuse the pending signature")

	_, err := store.Get(context.Background(), core.SessionKey(buyer, []common.Address{registry}))
	assert.NoError(t, err)
}

func TestGetOrCreate_LastCallerLeavingCancelsSignature(t *testing.T) {
	m, store, _, wallet, _ := newSessionManager(t, buyer)
	wallet.gate = make(chan struct{})
	defer close(wallet.gate)

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() {
		_, err := m.GetOrCreate(ctx, buyer, []common.Address{registry})
		errc <- err
	}()
	require.Eventually(t, func() bool { return wallet.signed.Load() == 1 }, time.Second, 5*time.Millisecond)

	cancel()
	require.ErrorIs(t, <-errc, context.Canceled)

	// The abandoned request must not leave a session behind.
	time.Sleep(20 * time.Millisecond)
	keys, err := store.Keys(context.Background())
	require.NoError(t, err)
	assert.Empty(t, keys)
}

func TestInvalidate_DuringSignatureDropsTheSession(t *testing.T) {
	m, store, _, wallet, _ := newSessionManager(t, buyer)
	ctx := context.Background()
	wallet.gate = make(chan struct{})

	done := make(chan error, 1)
	go func() {
		_, err := m.GetOrCreate(ctx, buyer, []common.Address{registry})
		done <- err
	}()
	require.Eventually(t, func() bool { return wallet.signed.Load() == 1 }, time.Second, 5*time.Millisecond)

	n, err := m.Invalidate(ctx, buyer)
	require.NoError(t, err)
	assert.Zero(t, n)

	close(wallet.gate)
	require.NoError(t, <-done, "the caller that was signing still gets its session")

	keys, err := store.Keys(ctx)
	require.NoError(t, err)
	assert.Empty(t, keys, "an invalidated user must not be cached again by a late signature")

	_, err = m.GetOrCreate(ctx, buyer, []common.Address{registry})
	require.NoError(t, err)
	assert.EqualValues(t, 2, wallet.signed.Load())
}

func TestInvalidate_OnlyThatUser(t *testing.T) {
	m, store, _, wallet, _ := newSessionManager(t, buyer)
	ctx := context.Background()

	_, err := m.GetOrCreate(ctx, buyer, []common.Address{registry})
	require.NoError(t, err)
	wallet.Use(author)
	_, err = m.GetOrCreate(ctx, author, []common.Address{registry})
	require.NoError(t, err)

	n, err := m.Invalidate(ctx, buyer)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, err = store.Get(ctx, core.SessionKey(buyer, []common.Address{registry}))
	assert.ErrorIs(t, err, core.ErrSessionNotFound)
	_, err = store.Get(ctx, core.SessionKey(author, []common.Address{registry}))
	assert.NoError(t, err)

	n, err = m.Invalidate(ctx, stranger)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestDecrypt_ClientSideChecks(t *testing.T) {
	m, _, compute, _, clock := newSessionManager(t, buyer)
	ctx := context.Background()

	session, err := m.GetOrCreate(ctx, buyer, []common.Address{registry})
	require.NoError(t, err)

	in, err := core.NewInputBuilder(compute).Build(ctx, registry, author, core.Uint32(1))
	require.NoError(t, err)
	handle := in.Handles[0]

	t.Run("zero handle", func(t *testing.T) {
		_, err := m.Decrypt(ctx, core.Handle{}, registry, session)
		assert.ErrorIs(t, err, core.ErrHandleNotFound)
	})

	t.Run("contract not covered", func(t *testing.T) {
		other := common.HexToAddress("0x00000000000000000000000000000000000000cc")
		before := compute.decrypts.Load()
		_, err := m.Decrypt(ctx, handle, other, session)
		assert.ErrorIs(t, err, core.ErrNotAuthorized)
		assert.Equal(t, before, compute.decrypts.Load())
	})

	t.Run("valid", func(t *testing.T) {
		v, err := m.Decrypt(ctx, handle, registry, session)
		require.NoError(t, err)
		assert.EqualValues(t, 1, v)
	})

	t.Run("expired", func(t *testing.T) {
		clock.Advance(400 * 24 * time.Hour)
		_, err := m.Decrypt(ctx, handle, registry, session)
		assert.ErrorIs(t, err, core.ErrNotAuthorized)
	})
}

func TestDecrypt_ServiceErrorsPropagate(t *testing.T) {
	m, _, compute, _, _ := newSessionManager(t, buyer)
	ctx := context.Background()
	session, err := m.GetOrCreate(ctx, buyer, []common.Address{registry})
	require.NoError(t, err)

	compute.decryptErr = core.ErrNotAuthorized
	_, err = m.Decrypt(ctx, common.HexToHash("0x01"), registry, session)
	if !errors.Is(err, core.ErrNotAuthorized) {
		t.Fatalf("expected ErrNotAuthorized, got %v", err)
	}
}

func TestSessionManager_State(t *testing.T) {
	m, _, _, _, _ := newSessionManager(t, buyer)
	_, err := m.GetOrCreate(context.Background(), buyer, []common.Address{registry})
	require.NoError(t, err)
	_, err = m.GetOrCreate(context.Background(), buyer, []common.Address{registry})
	require.NoError(t, err)

	st, ok := m.State().(core.SessionManagerState)
	require.True(t, ok)
	assert.EqualValues(t, 1, st.CacheHits)
	assert.EqualValues(t, 1, st.CacheMisses)
	assert.EqualValues(t, 1, st.SignatureRequests)
	assert.Equal(t, "session-manager", m.ComponentType())
}
