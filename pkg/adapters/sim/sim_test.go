package sim

import (
	"context"
	"math/big"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aretw0/scriptvault/pkg/adapters/eth"
	"github.com/aretw0/scriptvault/pkg/adapters/memory"
	"github.com/aretw0/scriptvault/pkg/core"
)

var price = new(big.Int).Exp(big.NewInt(10), big.NewInt(16), nil)

type clock struct{ unix atomic.Int64 }

func newClock() *clock {
	c := &clock{}
	c.unix.Store(1_700_000_000)
	return c
}

func (c *clock) Now() time.Time          { return time.Unix(c.unix.Load(), 0) }
func (c *clock) Advance(d time.Duration) { c.unix.Add(int64(d / time.Second)) }

type fixture struct {
	stack  *Stack
	wallet *eth.LocalWallet
	svc    *core.Service
	clock  *clock

	author, buyer, other common.Address
}

func newFixture(t *testing.T, opts Options, coreOpts ...core.Option) *fixture {
	t.Helper()
	c := newClock()
	opts.Clock = c.Now
	stack, err := Start(opts)
	require.NoError(t, err)
	t.Cleanup(stack.Close)

	f := &fixture{stack: stack, clock: c, wallet: stack.Wallet()}
	for _, addr := range []*common.Address{&f.author, &f.buyer, &f.other} {
		key, err := crypto.GenerateKey()
		require.NoError(t, err)
		*addr = f.wallet.Add(key)
	}

	coreOpts = append([]core.Option{core.WithClock(c.Now)}, coreOpts...)
	f.svc, err = core.NewService(core.Deps{
		Ledger:  stack.Network,
		Compute: stack.Compute,
		Wallet:  f.wallet,
		Store:   memory.NewStore(),
	}, coreOpts...)
	require.NoError(t, err)
	return f
}

func (f *fixture) as(t *testing.T, addr common.Address) {
	t.Helper()
	require.NoError(t, f.wallet.Use(addr))
}

// publish registers a work by the author and offers one license at price.
func (f *fixture) publish(t *testing.T) (workID, licenseID uint64) {
	t.Helper()
	ctx := context.Background()
	f.as(t, f.author)
	r, err := f.svc.SubmitVersion(ctx, core.VersionDraft{Title: "Night Shift", MetadataURI: "bafyscript"})
	require.NoError(t, err)
	require.NotZero(t, r.WorkID)

	licenseID, err = f.svc.IssueLicense(ctx, r.WorkID, `{"use":"commercial"}`, price)
	require.NoError(t, err)
	return r.WorkID, licenseID
}

func TestBuyBelowPriceIsInsufficientPayment(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()
	_, licenseID := f.publish(t)

	f.as(t, f.buyer)
	_, err := f.svc.BuyLicense(ctx, licenseID, new(big.Int).Sub(price, big.NewInt(1)))
	require.ErrorIs(t, err, core.ErrInsufficientPayment)

	l, err := f.svc.LicenseService().Get(ctx, licenseID)
	require.NoError(t, err)
	assert.True(t, l.Active)
	assert.Equal(t, common.Address{}, l.Licensee)
}

func TestNonAuthorGrantIsUnauthorized(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()
	workID, _ := f.publish(t)

	f.as(t, f.other)
	_, err := f.svc.GrantAccess(ctx, workID, f.buyer, 0, 1)
	require.ErrorIs(t, err, core.ErrUnauthorized)
	assert.Empty(t, f.stack.Network.Grants())
}

func TestGrantThenLicenseeReadsScope(t *testing.T) {
	f := newFixture(t, Options{ConfirmDelay: 5 * time.Millisecond})
	ctx := context.Background()
	workID, licenseID := f.publish(t)

	f.as(t, f.buyer)
	r, err := f.svc.BuyLicense(ctx, licenseID, price)
	require.NoError(t, err)
	require.NotNil(t, r.Sold)
	assert.Equal(t, f.buyer, r.Sold.Licensee)
	assert.Equal(t, 0, price.Cmp(f.stack.Network.Proceeds(f.author)))

	_, err = f.svc.ReadScope(ctx, workID)
	require.ErrorIs(t, err, core.ErrHandleNotFound, "no grant yet")

	f.as(t, f.author)
	_, err = f.svc.GrantAccess(ctx, workID, f.buyer, 0, 2)
	require.NoError(t, err)

	f.as(t, f.buyer)
	scope, err := f.svc.ReadScope(ctx, workID)
	require.NoError(t, err)
	assert.EqualValues(t, 2, scope)

	// A second read reuses the session rather than asking for another signature.
	_, err = f.svc.ReadScope(ctx, workID)
	require.NoError(t, err)
	st := f.svc.Sessions().State().(core.SessionManagerState)
	assert.EqualValues(t, 1, st.SignatureRequests)
}

func TestOtherUserCannotDecryptLicenseeScope(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()
	workID, _ := f.publish(t)

	_, err := f.svc.GrantAccess(ctx, workID, f.buyer, 0, 1)
	require.NoError(t, err)
	grant, err := f.svc.AccessGrant(ctx, workID, f.buyer)
	require.NoError(t, err)

	f.as(t, f.other)
	session, err := f.svc.Session(ctx)
	require.NoError(t, err)
	_, err = f.svc.Sessions().Decrypt(ctx, grant.EncryptedScope, f.stack.Network.Address(), session)
	assert.ErrorIs(t, err, core.ErrNotAuthorized)
}

func TestExpiredGrantIsRefusedServerSide(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()
	workID, _ := f.publish(t)

	expiry := f.clock.Now().Add(time.Hour).Unix()
	_, err := f.svc.GrantAccess(ctx, workID, f.buyer, expiry, 1)
	require.NoError(t, err)
	grant, err := f.svc.AccessGrant(ctx, workID, f.buyer)
	require.NoError(t, err)

	f.as(t, f.buyer)
	session, err := f.svc.Session(ctx)
	require.NoError(t, err)
	v, err := f.svc.Sessions().Decrypt(ctx, grant.EncryptedScope, f.stack.Network.Address(), session)
	require.NoError(t, err)
	assert.EqualValues(t, 1, v)

	f.clock.Advance(2 * time.Hour)

	// The ledger no longer exposes the handle...
	_, err = f.svc.ReadScope(ctx, workID)
	assert.ErrorIs(t, err, core.ErrHandleNotFound)
	// ...and the relayer refuses the old handle even though the session is still valid.
	_, err = f.svc.Sessions().Decrypt(ctx, grant.EncryptedScope, f.stack.Network.Address(), session)
	assert.ErrorIs(t, err, core.ErrNotAuthorized)
}

func TestForgedSessionIsRefusedServerSide(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()
	workID, _ := f.publish(t)
	_, err := f.svc.GrantAccess(ctx, workID, f.buyer, 0, 1)
	require.NoError(t, err)
	grant, _ := f.svc.AccessGrant(ctx, workID, f.buyer)

	f.as(t, f.other)
	session, err := f.svc.Session(ctx)
	require.NoError(t, err)
	// Claiming to be the buyer with someone else's signature.
	session.User = f.buyer
	_, err = f.svc.Sessions().Decrypt(ctx, grant.EncryptedScope, f.stack.Network.Address(), session)
	assert.ErrorIs(t, err, core.ErrNotAuthorized)
}

func TestConcurrentBuyersOnlyOneWins(t *testing.T) {
	f := newFixture(t, Options{ConfirmDelay: 10 * time.Millisecond})
	ctx := context.Background()
	_, licenseID := f.publish(t)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i, buyer := range []common.Address{f.buyer, f.other} {
		wg.Add(1)
		go func(i int, buyer common.Address) {
			defer wg.Done()
			_, errs[i] = f.svc.LicenseService().Buy(ctx, licenseID, price, buyer)
		}(i, buyer)
	}
	wg.Wait()

	failures := 0
	for _, err := range errs {
		if err != nil {
			failures++
			assert.ErrorIs(t, err, core.ErrAlreadySold)
		}
	}
	assert.Equal(t, 1, failures)
}

func TestStalledTransactionTimesOut(t *testing.T) {
	f := newFixture(t, Options{}, core.WithConfirmTimeout(50*time.Millisecond))
	ctx := context.Background()
	workID, _ := f.publish(t)

	f.stack.Network.Stall(true)
	_, err := f.svc.GrantAccess(ctx, workID, f.buyer, 0, 1)
	assert.ErrorIs(t, err, core.ErrTransactionTimeout)
}

func TestMinedRevertCarriesReason(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()
	workID, _ := f.publish(t)

	f.stack.Network.FailNext("out of gas")
	r, err := f.svc.GrantAccess(ctx, workID, f.buyer, 0, 1)
	require.ErrorIs(t, err, core.ErrTransactionReverted)
	reason, ok := core.RevertReason(err)
	require.True(t, ok)
	assert.Equal(t, "out of gas", reason)
	assert.True(t, r.Reverted)
	assert.Empty(t, f.stack.Network.Grants())
}

func TestGrantRejectsProofForAnotherSender(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()
	workID, _ := f.publish(t)
	n := f.stack.Network

	// Scope encrypted by someone else cannot be replayed by the author.
	handle, proof, err := f.svc.Inputs().EncryptScope(ctx, n.Address(), f.other, 1)
	require.NoError(t, err)
	_, err = n.GrantAccess(ctx, core.TxOpts{From: f.author}, workID, f.buyer, 0, handle, proof)
	reason, ok := core.RevertReason(err)
	require.True(t, ok)
	assert.Equal(t, core.RevertInvalidProof, reason)
}

func TestSubscriptionDeliversOnlyWatchedWorks(t *testing.T) {
	f := newFixture(t, Options{})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	watched, watchedLicense := f.publish(t)
	_, otherLicense := f.publish(t)

	sub, err := f.stack.Network.SubscribeLicenseSold(ctx, []uint64{watched})
	require.NoError(t, err)
	assert.Equal(t, 1, f.stack.Network.Subscribers())

	f.as(t, f.buyer)
	_, err = f.svc.BuyLicense(ctx, otherLicense, price)
	require.NoError(t, err)
	_, err = f.svc.BuyLicense(ctx, watchedLicense, price)
	require.NoError(t, err)

	select {
	case ev := <-sub.Events():
		assert.Equal(t, watched, ev.WorkID)
		assert.Equal(t, f.buyer, ev.Licensee)
		assert.NotEqual(t, common.Hash{}, ev.TxHash)
	case <-time.After(time.Second):
		t.Fatalf("timeout waiting for sale event")
	}

	cancel()
	require.Eventually(t, func() bool { return f.stack.Network.Subscribers() == 0 }, time.Second, 5*time.Millisecond)
}
