package eth

import (
	"context"
	"errors"
	"math"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aretw0/scriptvault/pkg/core"
	"github.com/aretw0/scriptvault/pkg/userdecrypt"
)

var registry = common.HexToAddress("0x00000000000000000000000000000000000000aa")

type dataErr struct {
	msg  string
	data interface{}
}

func (e dataErr) Error() string          { return e.msg }
func (e dataErr) ErrorData() interface{} { return e.data }

func revertPayload(t *testing.T, reason string) string {
	t.Helper()
	strT, err := abi.NewType("string", "", nil)
	require.NoError(t, err)
	packed, err := abi.Arguments{{Type: strT}}.Pack(reason)
	require.NoError(t, err)
	selector := crypto.Keccak256([]byte("Error(string)"))[:4]
	return hexutil.Encode(append(selector, packed...))
}

func TestParsedABI(t *testing.T) {
	parsed, err := ParsedABI()
	require.NoError(t, err)
	for _, m := range []string{"getWorkInfo", "getEncryptedScope", "grantAccess", "buyLicense", "issueLicense", "submitVersion"} {
		_, ok := parsed.Methods[m]
		assert.True(t, ok, "missing method %s", m)
	}
	assert.True(t, parsed.Methods["buyLicense"].IsPayable())
	_, ok := parsed.Events[EventLicenseIssued]
	assert.True(t, ok)
}

func TestRevertFromError(t *testing.T) {
	t.Run("encoded data", func(t *testing.T) {
		err := dataErr{msg: "execution reverted", data: revertPayload(t, core.RevertLicenseNotActive)}
		re, ok := revertFromError(fmtWrap(err))
		require.True(t, ok)
		assert.Equal(t, core.RevertLicenseNotActive, re.Reason)
	})

	t.Run("message only", func(t *testing.T) {
		re, ok := revertFromError(errors.New("execution reverted: not author"))
		require.True(t, ok)
		assert.Equal(t, core.RevertNotAuthor, re.Reason)
	})

	t.Run("not a revert", func(t *testing.T) {
		_, ok := revertFromError(errors.New("connection refused"))
		assert.False(t, ok)
	})

	t.Run("missing record maps to not found", func(t *testing.T) {
		err := readError(errors.New("execution reverted: work not found"))
		assert.ErrorIs(t, err, core.ErrNotFound)
		assert.ErrorIs(t, err, core.ErrTransactionReverted)
	})
}

func fmtWrap(err error) error {
	return errors.Join(errors.New("call failed"), err)
}

func TestDecodeReceipt(t *testing.T) {
	parsed, err := ParsedABI()
	require.NoError(t, err)
	buyer := common.HexToAddress("0x2222222222222222222222222222222222222222")
	txHash := common.HexToHash("0xabc")

	ev := parsed.Events[EventLicenseIssued]
	data, err := ev.Inputs.NonIndexed().Pack(big.NewInt(7))
	require.NoError(t, err)

	r := &types.Receipt{
		Status:      types.ReceiptStatusSuccessful,
		TxHash:      txHash,
		BlockNumber: big.NewInt(42),
		Logs: []*types.Log{
			// A log from another contract is ignored.
			{Address: common.HexToAddress("0xdead"), Topics: []common.Hash{ev.ID}},
			{
				Address: registry,
				Topics:  []common.Hash{ev.ID, common.BigToHash(big.NewInt(3)), common.BytesToHash(buyer.Bytes())},
				Data:    data,
				TxHash:  txHash,
				Index:   2,
			},
		},
	}

	got := decodeReceipt(parsed, registry, r)
	assert.EqualValues(t, 42, got.BlockNumber)
	assert.EqualValues(t, 3, got.WorkID)
	assert.EqualValues(t, 7, got.LicenseID)
	require.NotNil(t, got.Sold)
	assert.Equal(t, core.LicenseSold{WorkID: 3, Licensee: buyer, LicenseID: 7, TxHash: txHash, LogIndex: 2}, *got.Sold)
}

func TestLocalWallet_SignTypedData(t *testing.T) {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	w := NewLocalWallet(big.NewInt(31337), key)
	ctx := context.Background()

	me, err := w.Identity(ctx)
	require.NoError(t, err)
	assert.Equal(t, crypto.PubkeyToAddress(key.PublicKey), me)

	pub, _, err := userdecrypt.GenerateKeypair()
	require.NoError(t, err)
	data := userdecrypt.TypedData(userdecrypt.DefaultDomain(31337, registry), pub, []common.Address{registry}, 1_700_000_000, 365)

	sig, err := w.SignTypedData(ctx, data)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, sig[crypto.RecoveryIDOffset], byte(27))
	require.NoError(t, userdecrypt.Verify(data, sig, me))

	w.SetApprover(func(context.Context, common.Address, apitypes.TypedData) bool { return false })
	_, err = w.SignTypedData(ctx, data)
	assert.ErrorIs(t, err, core.ErrSignatureDenied)
}

func TestLocalWallet_EmptyHasNoIdentity(t *testing.T) {
	w := NewLocalWallet(big.NewInt(1))
	_, err := w.Identity(context.Background())
	assert.ErrorIs(t, err, core.ErrNoIdentity)
}

func TestLocalWallet_UseNotifiesWatchers(t *testing.T) {
	k1, _ := crypto.GenerateKey()
	k2, _ := crypto.GenerateKey()
	w := NewLocalWallet(big.NewInt(1), k1, k2)
	second := crypto.PubkeyToAddress(k2.PublicKey)

	ctx, cancel := context.WithCancel(context.Background())
	changes := w.WatchIdentity(ctx)

	require.NoError(t, w.Use(second))
	select {
	case got := <-changes:
		assert.Equal(t, second, got)
	case <-time.After(time.Second):
		t.Fatalf("timeout waiting for identity change")
	}

	id, _ := w.Identity(ctx)
	assert.Equal(t, second, id)

	err := w.Use(common.HexToAddress("0x9999"))
	assert.ErrorIs(t, err, ErrUnknownAccount)

	cancel()
	select {
	case _, ok := <-changes:
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatalf("watcher channel not closed after cancel")
	}
}

func TestLocalWallet_TransactOpts(t *testing.T) {
	key, _ := crypto.GenerateKey()
	w := NewLocalWallet(big.NewInt(11155111))
	addr := w.Add(key)

	opts, err := w.TransactOpts(context.Background(), addr)
	require.NoError(t, err)
	assert.Equal(t, addr, opts.From)

	_, err = w.TransactOpts(context.Background(), common.HexToAddress("0x1"))
	assert.ErrorIs(t, err, ErrUnknownAccount)

	imported, err := w.ImportHex("0x" + common.Bytes2Hex(crypto.FromECDSA(key)))
	require.NoError(t, err)
	assert.Equal(t, addr, imported)
	assert.Len(t, w.Accounts(), 1)
}

func TestExpiryFromChain(t *testing.T) {
	assert.EqualValues(t, 0, expiryFromChain(0), "zero keeps meaning no expiry")
	assert.EqualValues(t, 1_800_000_000, expiryFromChain(1_800_000_000))
	assert.EqualValues(t, math.MaxInt64, expiryFromChain(math.MaxInt64))
	assert.EqualValues(t, math.MaxInt64, expiryFromChain(math.MaxUint64), "must not wrap to a past time")
	assert.Positive(t, expiryFromChain(1<<63))
}
